package fs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/noxer/bytewriter"
	"golang.org/x/sys/unix"

	"github.com/luisylizaliturri/wfs"
)

// BlockRef is an inode's reference to a data block. The zero value means
// "no block"; on disk the reference is stored biased by one so that zero
// stays reserved for the empty state. Block gives the unbiased logical
// number used by the allocator and the RAID addressing.
type BlockRef int64

// RefTo builds the reference for a logical block number.
func RefTo(block int64) BlockRef {
	return BlockRef(block + 1)
}

// Assigned reports whether the reference points at a block.
func (r BlockRef) Assigned() bool {
	return r != 0
}

// Block returns the unbiased logical block number. Only valid when
// Assigned.
func (r BlockRef) Block() int64 {
	return int64(r) - 1
}

// RawInode is the on-disk inode record. Each record occupies the leading
// bytes of its full-block slot in the inode table; the remainder of the
// slot is zero.
type RawInode struct {
	Num    int32
	Mode   uint32
	UID    uint32
	GID    uint32
	Size   int64
	Nlinks int32
	_      int32
	Atim   int64
	Mtim   int64
	Ctim   int64
	Blocks [wfs.BlockSlotCount]int64
}

// Inode is the in-memory form of an inode record.
type Inode struct {
	Num    int32
	Mode   uint32
	UID    uint32
	GID    uint32
	Size   int64
	Nlinks int32
	Atime  time.Time
	Mtime  time.Time
	Ctime  time.Time
	Blocks [wfs.BlockSlotCount]BlockRef
}

func (ino *Inode) IsDir() bool {
	return ino.Mode&unix.S_IFMT == unix.S_IFDIR
}

func (ino *Inode) IsFile() bool {
	return ino.Mode&unix.S_IFMT == unix.S_IFREG
}

// PopulatedBlocks counts the assigned direct block pointers.
func (ino *Inode) PopulatedBlocks() int64 {
	var n int64
	for k := 0; k < wfs.DirectBlockCount; k++ {
		if ino.Blocks[k].Assigned() {
			n++
		}
	}
	return n
}

// Stat renders the inode as the attribute record reported to callers.
func (ino *Inode) Stat() wfs.FileStat {
	return wfs.FileStat{
		InodeNumber:  uint64(ino.Num),
		Nlinks:       uint32(ino.Nlinks),
		Mode:         ino.Mode,
		Uid:          ino.UID,
		Gid:          ino.GID,
		Size:         ino.Size,
		BlockSize:    wfs.BlockSize,
		NumBlocks:    ino.PopulatedBlocks(),
		LastAccessed: ino.Atime,
		LastModified: ino.Mtime,
		LastChanged:  ino.Ctime,
	}
}

func rawToInode(raw RawInode) Inode {
	ino := Inode{
		Num:    raw.Num,
		Mode:   raw.Mode,
		UID:    raw.UID,
		GID:    raw.GID,
		Size:   raw.Size,
		Nlinks: raw.Nlinks,
		Atime:  time.Unix(raw.Atim, 0),
		Mtime:  time.Unix(raw.Mtim, 0),
		Ctime:  time.Unix(raw.Ctim, 0),
	}
	for k, v := range raw.Blocks {
		ino.Blocks[k] = BlockRef(v)
	}
	return ino
}

func inodeToRaw(ino *Inode) RawInode {
	raw := RawInode{
		Num:    ino.Num,
		Mode:   ino.Mode,
		UID:    ino.UID,
		GID:    ino.GID,
		Size:   ino.Size,
		Nlinks: ino.Nlinks,
		Atim:   ino.Atime.Unix(),
		Mtim:   ino.Mtime.Unix(),
		Ctim:   ino.Ctime.Unix(),
	}
	for k, v := range ino.Blocks {
		raw.Blocks[k] = int64(v)
	}
	return raw
}

func (d *Driver) slotOffset(num int32) uint64 {
	return d.sb.InodeTablePtr + uint64(num)*wfs.BlockSize
}

// Inode fetches an inode record by number. Reads come from disk 0.
func (d *Driver) Inode(num int32) (Inode, error) {
	if num < 0 || uint64(num) >= d.sb.NumInodes {
		return Inode{}, wfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("inode %d outside table of %d", num, d.sb.NumInodes))
	}
	off := d.slotOffset(num)
	var raw RawInode
	reader := bytes.NewReader(d.set.Data(0)[off : off+wfs.BlockSize])
	binary.Read(reader, binary.LittleEndian, &raw)
	return rawToInode(raw), nil
}

// writeInode serialises the record into its slot on every disk, zero-padding
// the slot to a full block.
func (d *Driver) writeInode(ino *Inode) {
	raw := inodeToRaw(ino)
	var block [wfs.BlockSize]byte
	writer := bytewriter.New(block[:])
	binary.Write(writer, binary.LittleEndian, &raw)

	off := d.slotOffset(ino.Num)
	for i := 0; i < d.set.N(); i++ {
		copy(d.set.Data(i)[off:off+wfs.BlockSize], block[:])
	}
}

// stamp marks the inode as just mutated.
func (d *Driver) stamp(ino *Inode) {
	now := time.Now()
	ino.Mtime = now
	ino.Ctime = now
}
