// Package raid implements the redundancy policy of the data region: the
// translation from logical data-block numbers to (disk, offset) pairs, the
// write fan-out to every replica, the verified-read majority vote, and the
// data-block allocation bitmaps.
//
// Only data blocks are subject to the policy. The superblock, bitmaps and
// inode table are mirrored verbatim on every disk in every mode.
package raid

import (
	"bytes"

	"github.com/boljen/go-bitmap"

	"github.com/luisylizaliturri/wfs"
	"github.com/luisylizaliturri/wfs/disk"
)

// Array applies one RAID mode to the data region of a disk set.
//
// Logical block numbers are unbiased: block 0 is the first data block. In
// striping mode block b lives only on disk b mod N, at slot b div N of that
// disk's data region, so the logical space is N times one disk's slot count.
// In the mirrored modes block b lives at slot b on every disk.
type Array struct {
	mode wfs.RaidMode
	set  *disk.Set
	sb   wfs.Superblock

	// nextStripeDisk is the round-robin allocation cursor used in striping
	// mode: the disk whose bitmap the next allocation scans first.
	nextStripeDisk int
}

// New builds an array over an assembled set, taking the mode from the
// set's superblock.
func New(set *disk.Set) *Array {
	sb := set.Super()
	return &Array{mode: sb.Mode, set: set, sb: sb}
}

// Mode returns the array's RAID mode.
func (a *Array) Mode() wfs.RaidMode {
	return a.mode
}

// Locate translates a logical block number into its owning disk and byte
// offset. In the mirrored modes the offset is valid on every disk and the
// owner is disk 0.
func (a *Array) Locate(b int64) (diskID int, offset int64) {
	if a.mode == wfs.Raid0 {
		n := int64(a.set.N())
		return int(b % n), int64(a.sb.DataBlocksPtr) + (b/n)*wfs.BlockSize
	}
	return 0, int64(a.sb.DataBlocksPtr) + b*wfs.BlockSize
}

func (a *Array) slice(diskID int, offset int64) []byte {
	return a.set.Data(diskID)[offset : offset+wfs.BlockSize]
}

// Replicas returns the block's byte window on every disk that stores it:
// one window in striping mode, N windows in the mirrored modes.
func (a *Array) Replicas(b int64) [][]byte {
	owner, offset := a.Locate(b)
	if a.mode == wfs.Raid0 {
		return [][]byte{a.slice(owner, offset)}
	}
	out := make([][]byte, a.set.N())
	for i := range out {
		out[i] = a.slice(i, offset)
	}
	return out
}

// ReadView returns the block content reads should see. Striped blocks come
// from their owning disk and plain mirrors from disk 0; verified mirrors
// return the content held by the majority of disks, ties going to the
// lowest disk_id.
func (a *Array) ReadView(b int64) []byte {
	owner, offset := a.Locate(b)
	if a.mode != wfs.Raid1Verified {
		return a.slice(owner, offset)
	}

	n := a.set.N()
	best, bestCount := 0, 0
	for i := 0; i < n; i++ {
		count := 0
		for j := 0; j < n; j++ {
			if bytes.Equal(a.slice(i, offset), a.slice(j, offset)) {
				count++
			}
		}
		if count > bestCount {
			best, bestCount = i, count
		}
	}
	return a.slice(best, offset)
}

// WriteAt copies p into block b at the given in-block offset on every
// replica.
func (a *Array) WriteAt(b int64, offset int, p []byte) {
	for _, replica := range a.Replicas(b) {
		copy(replica[offset:], p)
	}
}

// ZeroBlock clears every replica of block b.
func (a *Array) ZeroBlock(b int64) {
	for _, replica := range a.Replicas(b) {
		for i := range replica {
			replica[i] = 0
		}
	}
}

func (a *Array) dataBitmap(diskID int) bitmap.Bitmap {
	start := a.sb.DataBitmapPtr
	return bitmap.Bitmap(a.set.Data(diskID)[start : start+a.sb.DataBitmapSize()])
}

// AllocateBlock reserves a free data block and returns its logical number.
//
// Striping scans one disk's bitmap at a time, starting at the round-robin
// cursor and setting the bit only on the owning disk. Mirroring scans disk
// 0's bitmap and sets the chosen bit on every disk.
func (a *Array) AllocateBlock() (int64, error) {
	if a.mode == wfs.Raid0 {
		n := a.set.N()
		for attempt := 0; attempt < n; attempt++ {
			d := (a.nextStripeDisk + attempt) % n
			bm := a.dataBitmap(d)
			for i := 0; i < int(a.sb.NumDataBlocks); i++ {
				if bm.Get(i) {
					continue
				}
				bm.Set(i, true)
				a.nextStripeDisk = (d + 1) % n
				return int64(i)*int64(n) + int64(d), nil
			}
		}
		return 0, wfs.ErrNoSpace.WithMessage("every disk's data bitmap is full")
	}

	bm0 := a.dataBitmap(0)
	for i := 0; i < int(a.sb.NumDataBlocks); i++ {
		if bm0.Get(i) {
			continue
		}
		for d := 0; d < a.set.N(); d++ {
			a.dataBitmap(d).Set(i, true)
		}
		return int64(i), nil
	}
	return 0, wfs.ErrNoSpace.WithMessage("data bitmap is full")
}

// FreeBlock releases a logical block: striping clears the bit on the owning
// disk only, mirroring clears it everywhere.
func (a *Array) FreeBlock(b int64) {
	if a.mode == wfs.Raid0 {
		n := int64(a.set.N())
		a.dataBitmap(int(b % n)).Set(int(b/n), false)
		return
	}
	for d := 0; d < a.set.N(); d++ {
		a.dataBitmap(d).Set(int(b), false)
	}
}

// TotalBlocks is the number of addressable data blocks across the array.
func (a *Array) TotalBlocks() uint64 {
	if a.mode == wfs.Raid0 {
		return a.sb.NumDataBlocks * uint64(a.set.N())
	}
	return a.sb.NumDataBlocks
}

// FreeBlocks counts the unallocated data blocks across the array.
func (a *Array) FreeBlocks() uint64 {
	disks := 1
	if a.mode == wfs.Raid0 {
		disks = a.set.N()
	}
	var free uint64
	for d := 0; d < disks; d++ {
		bm := a.dataBitmap(d)
		for i := 0; i < int(a.sb.NumDataBlocks); i++ {
			if !bm.Get(i) {
				free++
			}
		}
	}
	return free
}
