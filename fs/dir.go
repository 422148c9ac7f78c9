package fs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/luisylizaliturri/wfs"
)

// Dirent is one live directory entry, paired with the mode of the inode it
// names so listings can report entry types without a second lookup.
type Dirent struct {
	Name string
	Num  int32
	Mode uint32
}

// A dentry slot on disk is MaxNameLen+1 bytes of NUL-padded name followed
// by a 32-bit inode number; zero in the number field marks a free slot.

func direntName(slot []byte) string {
	name := slot[:wfs.MaxNameLen+1]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return string(name)
}

func direntNum(slot []byte) int32 {
	return int32(binary.LittleEndian.Uint32(slot[wfs.MaxNameLen+1:]))
}

func encodeDirent(dst []byte, name string, num int32) {
	for i := 0; i < wfs.MaxNameLen+1; i++ {
		dst[i] = 0
	}
	copy(dst, name)
	binary.LittleEndian.PutUint32(dst[wfs.MaxNameLen+1:], uint32(num))
}

func checkName(name string) error {
	if name == "" {
		return wfs.ErrInvalidArgument.WithMessage("empty entry name")
	}
	if len(name) > wfs.MaxNameLen {
		return wfs.ErrNameTooLong.WithMessage(
			fmt.Sprintf("%q exceeds %d bytes", name, wfs.MaxNameLen))
	}
	return nil
}

// lookup scans the directory's direct blocks for an exact name match and
// returns the entry's inode number. Directories keep entries in direct
// blocks only; the indirect slot is never consulted.
func (d *Driver) lookup(dir *Inode, name string) (int32, bool) {
	for k := 0; k < wfs.DirectBlockCount; k++ {
		ref := dir.Blocks[k]
		if !ref.Assigned() {
			continue
		}
		block := d.arr.ReadView(ref.Block())
		for s := 0; s < wfs.DirentsPerBlock; s++ {
			slot := block[s*wfs.DirentSize : (s+1)*wfs.DirentSize]
			if direntNum(slot) != 0 && direntName(slot) == name {
				return direntNum(slot), true
			}
		}
	}
	return 0, false
}

// addDirent writes a new entry into the first free slot, allocating and
// zeroing a fresh directory block when every populated block is full. The
// directory grows by one dentry in size and one link.
func (d *Driver) addDirent(dir *Inode, name string, num int32) error {
	var entry [wfs.DirentSize]byte
	encodeDirent(entry[:], name, num)

	commit := func(block int64, slot int) {
		d.arr.WriteAt(block, slot*wfs.DirentSize, entry[:])
		dir.Size += wfs.DirentSize
		dir.Nlinks++
		d.stamp(dir)
		d.writeInode(dir)
	}

	for k := 0; k < wfs.DirectBlockCount; k++ {
		ref := dir.Blocks[k]
		if !ref.Assigned() {
			block, err := d.arr.AllocateBlock()
			if err != nil {
				return err
			}
			d.arr.ZeroBlock(block)
			dir.Blocks[k] = RefTo(block)
			commit(block, 0)
			return nil
		}
		view := d.arr.ReadView(ref.Block())
		for s := 0; s < wfs.DirentsPerBlock; s++ {
			if direntNum(view[s*wfs.DirentSize:(s+1)*wfs.DirentSize]) == 0 {
				commit(ref.Block(), s)
				return nil
			}
		}
	}
	return wfs.ErrNoSpace.WithMessage("directory has no free entry slots")
}

// removeDirent zeroes the named entry and shrinks the directory by one
// dentry and one link. Blocks emptied by removals are kept; the directory
// does not compact.
func (d *Driver) removeDirent(dir *Inode, name string) error {
	for k := 0; k < wfs.DirectBlockCount; k++ {
		ref := dir.Blocks[k]
		if !ref.Assigned() {
			continue
		}
		view := d.arr.ReadView(ref.Block())
		for s := 0; s < wfs.DirentsPerBlock; s++ {
			slot := view[s*wfs.DirentSize : (s+1)*wfs.DirentSize]
			if direntNum(slot) == 0 || direntName(slot) != name {
				continue
			}
			var zero [wfs.DirentSize]byte
			d.arr.WriteAt(ref.Block(), s*wfs.DirentSize, zero[:])
			dir.Size -= wfs.DirentSize
			dir.Nlinks--
			d.stamp(dir)
			d.writeInode(dir)
			return nil
		}
	}
	return wfs.ErrNotFound.WithMessage(name)
}

// dirents collects every live entry of the directory.
func (d *Driver) dirents(dir *Inode) ([]Dirent, error) {
	var out []Dirent
	for k := 0; k < wfs.DirectBlockCount; k++ {
		ref := dir.Blocks[k]
		if !ref.Assigned() {
			continue
		}
		block := d.arr.ReadView(ref.Block())
		for s := 0; s < wfs.DirentsPerBlock; s++ {
			slot := block[s*wfs.DirentSize : (s+1)*wfs.DirentSize]
			num := direntNum(slot)
			if num == 0 {
				continue
			}
			child, err := d.Inode(num)
			if err != nil {
				return nil, err
			}
			out = append(out, Dirent{Name: direntName(slot), Num: num, Mode: child.Mode})
		}
	}
	return out, nil
}

// Resolve walks an absolute path from the root. Empty segments are ignored,
// so "/", "//" and "" all resolve to the root inode. Every segment is looked
// up inside the inode reached so far, which must be a directory.
func (d *Driver) Resolve(path string) (int32, error) {
	cur := int32(RootInode)
	for _, segment := range strings.Split(path, "/") {
		if segment == "" {
			continue
		}
		ino, err := d.Inode(cur)
		if err != nil {
			return 0, err
		}
		if !ino.IsDir() {
			return 0, wfs.ErrNotADirectory.WithMessage(path)
		}
		child, ok := d.lookup(&ino, segment)
		if !ok {
			return 0, wfs.ErrNotFound.WithMessage(path)
		}
		cur = child
	}
	return cur, nil
}

// splitParent cuts a path into its parent path and leaf name at the last
// slash.
func splitParent(path string) (parent, leaf string) {
	path = strings.TrimSuffix(path, "/")
	i := strings.LastIndex(path, "/")
	switch {
	case i < 0:
		return "/", path
	case i == 0:
		return "/", path[1:]
	}
	return path[:i], path[i+1:]
}
