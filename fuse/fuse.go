// Package fuse binds a mounted filesystem driver to the kernel bridge's
// operation table. FUSE inode IDs are driver inode numbers shifted by one,
// so the bridge's fixed root ID maps to the on-disk root inode.
package fuse

import (
	"context"
	"sync"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/luisylizaliturri/wfs"
	"github.com/luisylizaliturri/wfs/fs"
)

// attrTTL bounds how long the kernel may cache entries and attributes. All
// mutations go through this mount, so a short positive TTL is safe.
const attrTTL = time.Second

type fileSystem struct {
	fuseutil.NotImplementedFileSystem

	drv *fs.Driver
	log *logrus.Entry

	// The core is single-threaded by contract; serialise every op even when
	// the bridge dispatches concurrently.
	mu sync.Mutex
}

// NewServer wraps a driver in a bridge server.
func NewServer(drv *fs.Driver) fuse.Server {
	return fuseutil.NewFileSystemServer(&fileSystem{
		drv: drv,
		log: logrus.WithField("component", "bridge"),
	})
}

// Mount attaches the driver at mountpoint and returns the mounted system
// for the caller to join on.
func Mount(drv *fs.Driver, mountpoint string, cfg *fuse.MountConfig) (*fuse.MountedFileSystem, error) {
	if cfg == nil {
		cfg = &fuse.MountConfig{}
	}
	if cfg.FSName == "" {
		cfg.FSName = "wfs"
	}
	return fuse.Mount(mountpoint, NewServer(drv), cfg)
}

func inodeID(num int32) fuseops.InodeID {
	return fuseops.InodeID(num) + 1
}

func inodeNum(id fuseops.InodeID) int32 {
	return int32(id) - 1
}

func errno(err error) error {
	if err == nil {
		return nil
	}
	return wfs.Errno(err)
}

func attributes(stat wfs.FileStat) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:   uint64(stat.Size),
		Nlink:  stat.Nlinks,
		Mode:   stat.FileMode(),
		Atime:  stat.LastAccessed,
		Mtime:  stat.LastModified,
		Ctime:  stat.LastChanged,
		Crtime: stat.LastChanged,
		Uid:    stat.Uid,
		Gid:    stat.Gid,
	}
}

func fillEntry(entry *fuseops.ChildInodeEntry, ino fs.Inode) {
	entry.Child = inodeID(ino.Num)
	entry.Attributes = attributes(ino.Stat())
	entry.AttributesExpiration = time.Now().Add(attrTTL)
	entry.EntryExpiration = entry.AttributesExpiration
}

func (f *fileSystem) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	stat := f.drv.Statfs()
	op.BlockSize = uint32(stat.BlockSize)
	op.Blocks = stat.TotalBlocks
	op.BlocksFree = stat.FreeBlocks
	op.BlocksAvailable = stat.FreeBlocks
	op.IoSize = uint32(stat.BlockSize)
	op.Inodes = stat.Inodes
	op.InodesFree = stat.FreeInodes
	return nil
}

func (f *fileSystem) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	child, err := f.drv.Lookup(inodeNum(op.Parent), op.Name)
	if err != nil {
		return errno(err)
	}
	fillEntry(&op.Entry, child)
	return nil
}

func (f *fileSystem) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	stat, err := f.drv.Stat(inodeNum(op.Inode))
	if err != nil {
		return errno(err)
	}
	op.Attributes = attributes(stat)
	op.AttributesExpiration = time.Now().Add(attrTTL)
	return nil
}

func (f *fileSystem) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var change fs.AttrChange
	if op.Size != nil {
		size := int64(*op.Size)
		change.Size = &size
	}
	if op.Mode != nil {
		mode := wfs.RawFileMode(*op.Mode)
		change.Mode = &mode
	}
	change.Atime = op.Atime
	change.Mtime = op.Mtime

	ino, err := f.drv.SetAttr(inodeNum(op.Inode), change)
	if err != nil {
		return errno(err)
	}
	op.Attributes = attributes(ino.Stat())
	op.AttributesExpiration = time.Now().Add(attrTTL)
	return nil
}

func (f *fileSystem) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	return nil
}

func (f *fileSystem) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	mode := wfs.RawFileMode(op.Mode)&^uint32(unix.S_IFMT) | unix.S_IFDIR
	child, err := f.drv.Create(inodeNum(op.Parent), op.Name, mode)
	if err != nil {
		return errno(err)
	}
	fillEntry(&op.Entry, child)
	return nil
}

func (f *fileSystem) MkNode(ctx context.Context, op *fuseops.MkNodeOp) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	child, err := f.drv.Create(inodeNum(op.Parent), op.Name, wfs.RawFileMode(op.Mode))
	if err != nil {
		return errno(err)
	}
	fillEntry(&op.Entry, child)
	return nil
}

func (f *fileSystem) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	child, err := f.drv.Create(inodeNum(op.Parent), op.Name, wfs.RawFileMode(op.Mode))
	if err != nil {
		return errno(err)
	}
	fillEntry(&op.Entry, child)
	return nil
}

func (f *fileSystem) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return errno(f.drv.RemoveDir(inodeNum(op.Parent), op.Name))
}

func (f *fileSystem) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return errno(f.drv.RemoveFile(inodeNum(op.Parent), op.Name))
}

func (f *fileSystem) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	stat, err := f.drv.Stat(inodeNum(op.Inode))
	if err != nil {
		return errno(err)
	}
	if !stat.IsDir() {
		return errno(wfs.ErrNotADirectory)
	}
	return nil
}

func (f *fileSystem) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	num := inodeNum(op.Inode)
	children, err := f.drv.Dirents(num)
	if err != nil {
		return errno(err)
	}

	entries := make([]fuseutil.Dirent, 0, len(children)+2)
	entries = append(entries,
		fuseutil.Dirent{Inode: op.Inode, Name: ".", Type: fuseutil.DT_Directory},
		fuseutil.Dirent{Inode: op.Inode, Name: "..", Type: fuseutil.DT_Directory},
	)
	for _, child := range children {
		kind := fuseutil.DT_File
		if child.Mode&unix.S_IFMT == unix.S_IFDIR {
			kind = fuseutil.DT_Directory
		}
		entries = append(entries, fuseutil.Dirent{
			Inode: inodeID(child.Num),
			Name:  child.Name,
			Type:  kind,
		})
	}
	for i := range entries {
		entries[i].Offset = fuseops.DirOffset(i + 1)
	}

	if op.Offset > fuseops.DirOffset(len(entries)) {
		return nil
	}
	for _, entry := range entries[op.Offset:] {
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], entry)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func (f *fileSystem) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	return nil
}

func (f *fileSystem) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	stat, err := f.drv.Stat(inodeNum(op.Inode))
	if err != nil {
		return errno(err)
	}
	if stat.IsDir() {
		return errno(wfs.ErrIsADirectory)
	}
	return nil
}

func (f *fileSystem) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.drv.ReadAt(inodeNum(op.Inode), op.Dst, op.Offset)
	op.BytesRead = n
	return errno(err)
}

func (f *fileSystem) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.drv.WriteAt(inodeNum(op.Inode), op.Data, op.Offset)
	if err != nil {
		return errno(err)
	}
	// The bridge requires complete writes; a truncated write means the
	// addressable range ran out.
	if n < len(op.Data) {
		return errno(wfs.ErrNoSpace)
	}
	return nil
}

func (f *fileSystem) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return errno(f.drv.Sync())
}

func (f *fileSystem) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	return nil
}

func (f *fileSystem) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	return nil
}

func (f *fileSystem) Destroy() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.drv.Sync(); err != nil {
		f.log.WithError(err).Error("final sync failed")
	}
}
