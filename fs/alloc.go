package fs

import (
	"os"
	"time"

	"github.com/boljen/go-bitmap"
	"golang.org/x/sys/unix"

	"github.com/luisylizaliturri/wfs"
)

func (d *Driver) inodeBitmap(diskID int) bitmap.Bitmap {
	start := d.sb.InodeBitmapPtr
	return bitmap.Bitmap(d.set.Data(diskID)[start : start+d.sb.InodeBitmapSize()])
}

// allocInode reserves the lowest free inode number, marks it on every disk,
// and writes a fresh record owned by the calling process. Directories start
// with two links, everything else with one.
func (d *Driver) allocInode(mode uint32) (Inode, error) {
	bm := d.inodeBitmap(0)
	num := -1
	for i := 0; i < int(d.sb.NumInodes); i++ {
		if !bm.Get(i) {
			num = i
			break
		}
	}
	if num < 0 {
		return Inode{}, wfs.ErrNoSpace.WithMessage("inode bitmap is full")
	}

	for i := 0; i < d.set.N(); i++ {
		d.inodeBitmap(i).Set(num, true)
	}

	nlinks := int32(1)
	if mode&unix.S_IFMT == unix.S_IFDIR {
		nlinks = 2
	}
	now := time.Now()
	ino := Inode{
		Num:    int32(num),
		Mode:   mode,
		UID:    uint32(os.Getuid()),
		GID:    uint32(os.Getgid()),
		Nlinks: nlinks,
		Atime:  now,
		Mtime:  now,
		Ctime:  now,
	}
	d.writeInode(&ino)
	return ino, nil
}

// freeInode clears the inode's bitmap bit on every disk. The record itself
// is left in place; allocation rewrites the slot before reuse.
func (d *Driver) freeInode(num int32) {
	for i := 0; i < d.set.N(); i++ {
		d.inodeBitmap(i).Set(int(num), false)
	}
}

// freeInodeBlocks releases every data block the inode addresses: the direct
// blocks, the blocks listed in the indirect table, and the indirect table
// itself.
func (d *Driver) freeInodeBlocks(ino *Inode) {
	for k := 0; k < wfs.DirectBlockCount; k++ {
		if ref := ino.Blocks[k]; ref.Assigned() {
			d.arr.FreeBlock(ref.Block())
		}
	}
	ind := ino.Blocks[wfs.IndirectSlot]
	if !ind.Assigned() {
		return
	}
	for _, ref := range d.indirectRefs(ind.Block()) {
		if ref.Assigned() {
			d.arr.FreeBlock(ref.Block())
		}
	}
	d.arr.FreeBlock(ind.Block())
}

func (d *Driver) freeInodes() uint64 {
	bm := d.inodeBitmap(0)
	var free uint64
	for i := 0; i < int(d.sb.NumInodes); i++ {
		if !bm.Get(i) {
			free++
		}
	}
	return free
}
