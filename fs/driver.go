// Package fs implements the filesystem core over an assembled disk set:
// the inode store, the bitmap allocators, directory machinery, the
// read/write path, and the formatter. A Driver is the mount context that
// the kernel-bridge binding and the command-line tools operate through.
package fs

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/luisylizaliturri/wfs"
	"github.com/luisylizaliturri/wfs/disk"
	"github.com/luisylizaliturri/wfs/raid"
)

// RootInode is the inode number of the root directory on every filesystem.
const RootInode = 0

// Driver is a mounted filesystem. It owns the disk set, the RAID array
// over its data region, and all allocation state. Operations are not safe
// for concurrent use; callers serialise.
type Driver struct {
	set *disk.Set
	sb  wfs.Superblock
	arr *raid.Array
	log *logrus.Entry
}

// New mounts an assembled disk set. The root inode must be allocated and be
// a directory; its ownership is re-stamped to the mounting user.
func New(set *disk.Set) (*Driver, error) {
	sb := set.Super()
	d := &Driver{
		set: set,
		sb:  sb,
		arr: raid.New(set),
		log: logrus.WithFields(logrus.Fields{
			"raid":  sb.Mode.String(),
			"disks": set.N(),
		}),
	}

	if !d.inodeBitmap(0).Get(RootInode) {
		return nil, wfs.ErrIO.WithMessage("root inode is not allocated; image set is corrupt")
	}
	root, err := d.Inode(RootInode)
	if err != nil {
		return nil, err
	}
	if !root.IsDir() {
		return nil, wfs.ErrIO.WithMessage("root inode is not a directory")
	}
	root.UID = uint32(os.Getuid())
	root.GID = uint32(os.Getgid())
	d.writeInode(&root)

	d.log.WithFields(logrus.Fields{
		"inodes":      sb.NumInodes,
		"data_blocks": sb.NumDataBlocks,
	}).Info("filesystem mounted")
	return d, nil
}

// Super returns the mount's authoritative superblock.
func (d *Driver) Super() wfs.Superblock {
	return d.sb
}

// Sync flushes the disk set to its backing files.
func (d *Driver) Sync() error {
	return d.set.Sync()
}

// Statfs reports whole-filesystem statistics.
func (d *Driver) Statfs() wfs.FSStat {
	return wfs.FSStat{
		BlockSize:     wfs.BlockSize,
		TotalBlocks:   d.arr.TotalBlocks(),
		FreeBlocks:    d.arr.FreeBlocks(),
		Inodes:        d.sb.NumInodes,
		FreeInodes:    d.freeInodes(),
		MaxNameLength: wfs.MaxNameLen,
	}
}

////////////////////////////////////////////////////////////////////////////////
// Inode-level operations (the surface the kernel bridge binds to)

// Lookup finds the named child of a directory inode.
func (d *Driver) Lookup(parent int32, name string) (Inode, error) {
	dir, err := d.Inode(parent)
	if err != nil {
		return Inode{}, err
	}
	if !dir.IsDir() {
		return Inode{}, wfs.ErrNotADirectory.WithMessage(name)
	}
	num, ok := d.lookup(&dir, name)
	if !ok {
		return Inode{}, wfs.ErrNotFound.WithMessage(name)
	}
	return d.Inode(num)
}

// Stat returns the attribute record of an inode.
func (d *Driver) Stat(num int32) (wfs.FileStat, error) {
	ino, err := d.Inode(num)
	if err != nil {
		return wfs.FileStat{}, err
	}
	return ino.Stat(), nil
}

// Create allocates a new inode with the given raw mode and links it into the
// parent directory under name. Creating an existing name fails with the
// exists condition and leaves the filesystem untouched.
func (d *Driver) Create(parent int32, name string, mode uint32) (Inode, error) {
	if err := checkName(name); err != nil {
		return Inode{}, err
	}
	dir, err := d.Inode(parent)
	if err != nil {
		return Inode{}, err
	}
	if !dir.IsDir() {
		return Inode{}, wfs.ErrNotADirectory.WithMessage(name)
	}
	if _, ok := d.lookup(&dir, name); ok {
		return Inode{}, wfs.ErrExists.WithMessage(name)
	}

	child, err := d.allocInode(mode)
	if err != nil {
		return Inode{}, err
	}
	if err := d.addDirent(&dir, name, child.Num); err != nil {
		d.freeInode(child.Num)
		return Inode{}, err
	}
	d.log.WithFields(logrus.Fields{"name": name, "inode": child.Num}).Debug("created")
	return child, nil
}

// RemoveFile unlinks a regular file from its parent directory and frees its
// inode and data blocks.
func (d *Driver) RemoveFile(parent int32, name string) error {
	dir, err := d.Inode(parent)
	if err != nil {
		return err
	}
	if !dir.IsDir() {
		return wfs.ErrNotADirectory.WithMessage(name)
	}
	num, ok := d.lookup(&dir, name)
	if !ok {
		return wfs.ErrNotFound.WithMessage(name)
	}
	target, err := d.Inode(num)
	if err != nil {
		return err
	}
	if target.IsDir() {
		return wfs.ErrIsADirectory.WithMessage(name)
	}

	if err := d.removeDirent(&dir, name); err != nil {
		return err
	}
	d.freeInodeBlocks(&target)
	d.freeInode(num)
	d.log.WithFields(logrus.Fields{"name": name, "inode": num}).Debug("unlinked")
	return nil
}

// RemoveDir removes an empty directory. The root cannot be removed and a
// directory still holding entries reports the not-empty condition.
func (d *Driver) RemoveDir(parent int32, name string) error {
	dir, err := d.Inode(parent)
	if err != nil {
		return err
	}
	if !dir.IsDir() {
		return wfs.ErrNotADirectory.WithMessage(name)
	}
	num, ok := d.lookup(&dir, name)
	if !ok {
		return wfs.ErrNotFound.WithMessage(name)
	}
	target, err := d.Inode(num)
	if err != nil {
		return err
	}
	if !target.IsDir() {
		return wfs.ErrNotADirectory.WithMessage(name)
	}
	if num == RootInode {
		return wfs.ErrBusy.WithMessage("cannot remove the root directory")
	}
	if target.Size != 0 {
		return wfs.ErrNotEmpty.WithMessage(name)
	}

	if err := d.removeDirent(&dir, name); err != nil {
		return err
	}
	d.freeInodeBlocks(&target)
	d.freeInode(num)
	d.log.WithFields(logrus.Fields{"name": name, "inode": num}).Debug("removed directory")
	return nil
}

// Dirents lists the live entries of a directory inode.
func (d *Driver) Dirents(num int32) ([]Dirent, error) {
	dir, err := d.Inode(num)
	if err != nil {
		return nil, err
	}
	if !dir.IsDir() {
		return nil, wfs.ErrNotADirectory
	}
	return d.dirents(&dir)
}

// AttrChange names the attribute fields a SetAttr call updates; nil fields
// are left alone.
type AttrChange struct {
	Size  *int64
	Mode  *uint32
	Uid   *uint32
	Gid   *uint32
	Atime *time.Time
	Mtime *time.Time
}

// SetAttr updates inode attributes in place. Size changes only move the
// size field: blocks are neither freed on shrink nor allocated on growth,
// and reads treat the uncovered range as holes.
func (d *Driver) SetAttr(num int32, change AttrChange) (Inode, error) {
	ino, err := d.Inode(num)
	if err != nil {
		return Inode{}, err
	}
	if change.Size != nil {
		if *change.Size > wfs.MaxFileSize {
			return Inode{}, wfs.ErrNoSpace.WithMessage("size beyond the addressable file range")
		}
		ino.Size = *change.Size
	}
	if change.Mode != nil {
		ino.Mode = ino.Mode&unix.S_IFMT | *change.Mode&^uint32(unix.S_IFMT)
	}
	if change.Uid != nil {
		ino.UID = *change.Uid
	}
	if change.Gid != nil {
		ino.GID = *change.Gid
	}
	if change.Atime != nil {
		ino.Atime = *change.Atime
	}
	if change.Mtime != nil {
		ino.Mtime = *change.Mtime
	}
	ino.Ctime = time.Now()
	d.writeInode(&ino)
	return ino, nil
}

////////////////////////////////////////////////////////////////////////////////
// Path-level operations

// GetAttr stats the inode a path resolves to.
func (d *Driver) GetAttr(path string) (wfs.FileStat, error) {
	num, err := d.Resolve(path)
	if err != nil {
		return wfs.FileStat{}, err
	}
	return d.Stat(num)
}

// ReadDir lists the directory a path resolves to.
func (d *Driver) ReadDir(path string) ([]Dirent, error) {
	num, err := d.Resolve(path)
	if err != nil {
		return nil, err
	}
	return d.Dirents(num)
}

// Mknod creates a non-directory node. A mode without type bits defaults to
// a regular file.
func (d *Driver) Mknod(path string, mode uint32) error {
	if mode&unix.S_IFMT == 0 {
		mode |= unix.S_IFREG
	}
	parentPath, leaf := splitParent(path)
	parent, err := d.Resolve(parentPath)
	if err != nil {
		return err
	}
	_, err = d.Create(parent, leaf, mode)
	return err
}

// Mkdir creates a directory.
func (d *Driver) Mkdir(path string, mode uint32) error {
	parentPath, leaf := splitParent(path)
	parent, err := d.Resolve(parentPath)
	if err != nil {
		return err
	}
	_, err = d.Create(parent, leaf, mode&^uint32(unix.S_IFMT)|unix.S_IFDIR)
	return err
}

// Unlink removes the regular file at path.
func (d *Driver) Unlink(path string) error {
	parentPath, leaf := splitParent(path)
	parent, err := d.Resolve(parentPath)
	if err != nil {
		return err
	}
	return d.RemoveFile(parent, leaf)
}

// Rmdir removes the empty directory at path. A path naming the root reports
// the busy condition.
func (d *Driver) Rmdir(path string) error {
	if num, err := d.Resolve(path); err == nil && num == RootInode {
		return wfs.ErrBusy.WithMessage("cannot remove the root directory")
	}
	parentPath, leaf := splitParent(path)
	parent, err := d.Resolve(parentPath)
	if err != nil {
		return err
	}
	return d.RemoveDir(parent, leaf)
}

// Read reads from the file at path; see ReadAt for hole semantics.
func (d *Driver) Read(path string, p []byte, off int64) (int, error) {
	num, err := d.Resolve(path)
	if err != nil {
		return 0, err
	}
	return d.ReadAt(num, p, off)
}

// Write writes to the file at path; see WriteAt.
func (d *Driver) Write(path string, p []byte, off int64) (int, error) {
	num, err := d.Resolve(path)
	if err != nil {
		return 0, err
	}
	return d.WriteAt(num, p, off)
}
