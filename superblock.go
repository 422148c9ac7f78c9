package wfs

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/noxer/bytewriter"
)

// Superblock mirrors the first block of every disk image. All fields except
// DiskID are identical across the set; DiskID orders the images into their
// positions regardless of the order they are opened in.
//
// The pointer fields are byte offsets from the start of the image:
//
//	         DataBitmapPtr      DataBlocksPtr
//	              v                  v
//	+----+--------+--------+--------+--------------------+
//	| SB | IBITMAP| DBITMAP| INODES |    DATA BLOCKS     |
//	+----+--------+--------+--------+--------------------+
//	0    ^                 ^
//	InodeBitmapPtr    InodeTablePtr
type Superblock struct {
	NumInodes      uint64
	NumDataBlocks  uint64
	InodeBitmapPtr uint64
	DataBitmapPtr  uint64
	InodeTablePtr  uint64
	DataBlocksPtr  uint64
	Mode           RaidMode
	DiskID         int32
}

// SuperblockSize is the encoded size of a Superblock: six 8-byte offsets
// and counts followed by two 4-byte fields. The remainder of the first
// block is unused.
const SuperblockSize = 56

// ComputeLayout derives the region offsets for a fresh filesystem. Both
// counts are rounded up to the next multiple of 32 so the bitmaps occupy a
// whole number of bytes; the inode table and data region start on block
// boundaries.
func ComputeLayout(numInodes, numDataBlocks uint64, mode RaidMode) Superblock {
	ni := roundUpTo32(numInodes)
	nb := roundUpTo32(numDataBlocks)

	sb := Superblock{
		NumInodes:     ni,
		NumDataBlocks: nb,
		Mode:          mode,
	}
	sb.InodeBitmapPtr = BlockSize
	sb.DataBitmapPtr = sb.InodeBitmapPtr + ni/8
	sb.InodeTablePtr = alignToBlock(sb.DataBitmapPtr + nb/8)
	sb.DataBlocksPtr = sb.InodeTablePtr + ni*BlockSize
	return sb
}

func roundUpTo32(n uint64) uint64 {
	if n%32 != 0 {
		return n - n%32 + 32
	}
	return n
}

func alignToBlock(off uint64) uint64 {
	return (off + BlockSize - 1) &^ (BlockSize - 1)
}

// RequiredImageSize is the minimum byte size of a backing image for this
// layout.
func (sb Superblock) RequiredImageSize() uint64 {
	return sb.DataBlocksPtr + sb.NumDataBlocks*BlockSize
}

// InodeBitmapSize returns the inode bitmap's size in bytes.
func (sb Superblock) InodeBitmapSize() uint64 {
	return sb.NumInodes / 8
}

// DataBitmapSize returns the data-block bitmap's size in bytes.
func (sb Superblock) DataBitmapSize() uint64 {
	return sb.NumDataBlocks / 8
}

// WithDiskID returns a copy of the superblock stamped for one image of the
// set.
func (sb Superblock) WithDiskID(id int32) Superblock {
	sb.DiskID = id
	return sb
}

// Encode serialises the superblock into dst, which must hold at least
// SuperblockSize bytes.
func (sb Superblock) Encode(dst []byte) error {
	writer := bytewriter.New(dst)
	if err := binary.Write(writer, binary.LittleEndian, &sb); err != nil {
		return ErrIO.Wrap(err)
	}
	return nil
}

// DecodeSuperblock reads a superblock from the start of an image and rejects
// records that cannot describe a formatted filesystem.
func DecodeSuperblock(data []byte) (Superblock, error) {
	var sb Superblock
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &sb); err != nil {
		return sb, ErrIO.Wrap(err)
	}
	if sb.NumInodes == 0 || sb.NumDataBlocks == 0 {
		return sb, ErrInvalidArgument.WithMessage("superblock has no geometry; image is not formatted")
	}
	if sb.Mode != Raid0 && sb.Mode != Raid1 && sb.Mode != Raid1Verified {
		return sb, ErrInvalidArgument.WithMessage(
			fmt.Sprintf("superblock has unknown RAID mode %d", int32(sb.Mode)))
	}
	return sb, nil
}
