package fs_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
	"golang.org/x/sys/unix"

	"github.com/luisylizaliturri/wfs"
	"github.com/luisylizaliturri/wfs/fs"
	dt "github.com/luisylizaliturri/wfs/testing"
)

func TestFormatWritesEveryImage(t *testing.T) {
	buffers, streams := dt.BlankImages(t, 2, dt.DefaultImageSize)

	sb, err := fs.Format(streams, fs.FormatOptions{
		Mode:          wfs.Raid1,
		NumInodes:     32,
		NumDataBlocks: 32,
	})
	require.NoError(t, err)

	for id, buf := range buffers {
		decoded, err := wfs.DecodeSuperblock(buf[:wfs.BlockSize])
		require.NoError(t, err, "superblock on disk %d is invalid", id)
		assert.EqualValues(t, id, decoded.DiskID)
		assert.Equal(t, sb.WithDiskID(int32(id)), decoded)

		// Root inode reserved in the bitmap, nothing else.
		assert.EqualValues(t, 1, buf[sb.InodeBitmapPtr],
			"inode bitmap of disk %d", id)
		for i := uint64(1); i < sb.InodeBitmapSize(); i++ {
			assert.Zero(t, buf[sb.InodeBitmapPtr+i])
		}

		// Data bitmap fully clear.
		for i := uint64(0); i < sb.DataBitmapSize(); i++ {
			assert.Zero(t, buf[sb.DataBitmapPtr+i])
		}

		// Data region fully zeroed.
		region := buf[sb.DataBlocksPtr : sb.DataBlocksPtr+sb.NumDataBlocks*wfs.BlockSize]
		assert.Equal(t, -1, bytes.IndexFunc(region, func(r rune) bool { return r != 0 }),
			"data region of disk %d is not zeroed", id)
	}
}

func TestFormatRootInode(t *testing.T) {
	drv, _ := dt.MountedDriver(t, wfs.Raid1, 2, 32, 32)

	root, err := drv.Inode(fs.RootInode)
	require.NoError(t, err)
	assert.True(t, root.IsDir())
	assert.EqualValues(t, unix.S_IFDIR|0o755, root.Mode)
	assert.EqualValues(t, 2, root.Nlinks)
	assert.Zero(t, root.Size, "root starts empty; its first block is lazy")
	for _, ref := range root.Blocks {
		assert.False(t, ref.Assigned())
	}
}

func TestFormatRejectsUndersizedImage(t *testing.T) {
	// 32 inodes / 32 blocks need 33792 bytes per image.
	buffers := [][]byte{make([]byte, 16*1024), make([]byte, 64*1024)}
	streams := []io.ReadWriteSeeker{
		bytesextra.NewReadWriteSeeker(buffers[0]),
		bytesextra.NewReadWriteSeeker(buffers[1]),
	}

	_, err := fs.Format(streams, fs.FormatOptions{
		Mode:          wfs.Raid1,
		NumInodes:     32,
		NumDataBlocks: 32,
	})
	assert.ErrorIs(t, err, wfs.ErrVolumeTooSmall)

	// Nothing may have been written to either image.
	for i, buf := range buffers {
		assert.Equal(t, -1, bytes.IndexFunc(buf, func(r rune) bool { return r != 0 }),
			"image %d was touched", i)
	}
}

func TestFormatRejectsSingleImage(t *testing.T) {
	_, streams := dt.BlankImages(t, 1, dt.DefaultImageSize)
	_, err := fs.Format(streams, fs.FormatOptions{
		Mode:          wfs.Raid1,
		NumInodes:     32,
		NumDataBlocks: 32,
	})
	assert.ErrorIs(t, err, wfs.ErrInvalidArgument)
}

func TestFormatRoundsGeometryUp(t *testing.T) {
	_, streams := dt.BlankImages(t, 2, dt.DefaultImageSize)
	sb, err := fs.Format(streams, fs.FormatOptions{
		Mode:          wfs.Raid0,
		NumInodes:     20,
		NumDataBlocks: 50,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 32, sb.NumInodes)
	assert.EqualValues(t, 64, sb.NumDataBlocks)
}
