package fs

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	bitmap "github.com/boljen/go-bitmap"
	"github.com/hashicorp/go-multierror"
	"github.com/noxer/bytewriter"
	"golang.org/x/sys/unix"

	"github.com/luisylizaliturri/wfs"
)

// FormatOptions selects the geometry of a fresh filesystem. Both counts are
// rounded up to the next multiple of 32.
type FormatOptions struct {
	Mode          wfs.RaidMode
	NumInodes     uint64
	NumDataBlocks uint64
}

// Format lays out a fresh filesystem across a set of preexisting images.
// Every image receives the superblock (stamped with its position in the
// set), zeroed bitmaps with the root inode reserved, the root directory
// inode in slot 0, and a zeroed data region. Inode slots past the root are
// left untouched; allocation rewrites a slot before first use.
//
// Images too small for the requested geometry are reported together with
// the volume-too-small condition, before anything is written.
func Format(images []io.ReadWriteSeeker, opts FormatOptions) (wfs.Superblock, error) {
	if len(images) < wfs.MinDisks {
		return wfs.Superblock{}, wfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("need at least %d disk images, got %d", wfs.MinDisks, len(images)))
	}
	if opts.NumInodes == 0 || opts.NumDataBlocks == 0 {
		return wfs.Superblock{}, wfs.ErrInvalidArgument.WithMessage(
			"inode and data block counts must be positive")
	}

	sb := wfs.ComputeLayout(opts.NumInodes, opts.NumDataBlocks, opts.Mode)
	required := sb.RequiredImageSize()

	var sizeErrs *multierror.Error
	for i, img := range images {
		size, err := img.Seek(0, io.SeekEnd)
		if err != nil {
			return wfs.Superblock{}, wfs.ErrIO.Wrap(err)
		}
		if uint64(size) < required {
			sizeErrs = multierror.Append(sizeErrs, wfs.ErrVolumeTooSmall.WithMessage(
				fmt.Sprintf("image %d is %d bytes, layout needs %d", i, size, required)))
		}
	}
	if err := sizeErrs.ErrorOrNil(); err != nil {
		return wfs.Superblock{}, err
	}

	now := time.Now().Unix()
	root := RawInode{
		Num:    RootInode,
		Mode:   unix.S_IFDIR | 0o755,
		UID:    uint32(os.Getuid()),
		GID:    uint32(os.Getgid()),
		Nlinks: 2,
		Atim:   now,
		Mtim:   now,
		Ctim:   now,
	}

	for i, img := range images {
		if err := formatImage(img, sb.WithDiskID(int32(i)), root); err != nil {
			return wfs.Superblock{}, err
		}
	}
	return sb, nil
}

func formatImage(img io.ReadWriteSeeker, sb wfs.Superblock, root RawInode) error {
	if _, err := img.Seek(0, io.SeekStart); err != nil {
		return wfs.ErrIO.Wrap(err)
	}

	// Superblock block, then both bitmaps; the three regions are contiguous.
	var block [wfs.BlockSize]byte
	if err := sb.Encode(block[:]); err != nil {
		return err
	}
	if _, err := img.Write(block[:]); err != nil {
		return wfs.ErrIO.Wrap(err)
	}

	inodeBits := bitmap.New(int(sb.NumInodes))
	inodeBits.Set(RootInode, true)
	if _, err := img.Write(inodeBits.Data(false)); err != nil {
		return wfs.ErrIO.Wrap(err)
	}
	if _, err := img.Write(make([]byte, sb.DataBitmapSize())); err != nil {
		return wfs.ErrIO.Wrap(err)
	}

	// Root inode at slot 0 of the block-aligned table.
	if _, err := img.Seek(int64(sb.InodeTablePtr), io.SeekStart); err != nil {
		return wfs.ErrIO.Wrap(err)
	}
	var slot [wfs.BlockSize]byte
	writer := bytewriter.New(slot[:])
	binary.Write(writer, binary.LittleEndian, &root)
	if _, err := img.Write(slot[:]); err != nil {
		return wfs.ErrIO.Wrap(err)
	}

	// Zero the whole data region.
	if _, err := img.Seek(int64(sb.DataBlocksPtr), io.SeekStart); err != nil {
		return wfs.ErrIO.Wrap(err)
	}
	zeros := make([]byte, 64*1024)
	remaining := sb.NumDataBlocks * wfs.BlockSize
	for remaining > 0 {
		chunk := uint64(len(zeros))
		if chunk > remaining {
			chunk = remaining
		}
		if _, err := img.Write(zeros[:chunk]); err != nil {
			return wfs.ErrIO.Wrap(err)
		}
		remaining -= chunk
	}
	return nil
}
