// Package testing provides in-memory disk-image fixtures shared by the
// package tests. Images live in plain byte slices: the formatter writes
// them through a stream view, and the same slices back the assembled disk
// set, so tests can inspect raw on-disk state after any operation.
package testing

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/luisylizaliturri/wfs"
	"github.com/luisylizaliturri/wfs/disk"
	"github.com/luisylizaliturri/wfs/fs"
)

// DefaultImageSize comfortably fits every geometry the tests use.
const DefaultImageSize = 1 << 20

// BlankImages returns n zeroed images of the given size, plus stream views
// over them suitable for the formatter.
func BlankImages(t *testing.T, n int, size int64) ([][]byte, []io.ReadWriteSeeker) {
	t.Helper()
	buffers := make([][]byte, n)
	streams := make([]io.ReadWriteSeeker, n)
	for i := range buffers {
		buffers[i] = make([]byte, size)
		streams[i] = bytesextra.NewReadWriteSeeker(buffers[i])
	}
	return buffers, streams
}

// FormatSet formats n fresh images and assembles them into a disk set. The
// returned buffers are the images themselves; mutations through the set are
// visible in them.
func FormatSet(
	t *testing.T, mode wfs.RaidMode, n int, inodes, blocks uint64,
) (*disk.Set, [][]byte) {
	t.Helper()
	buffers, streams := BlankImages(t, n, DefaultImageSize)

	_, err := fs.Format(streams, fs.FormatOptions{
		Mode:          mode,
		NumInodes:     inodes,
		NumDataBlocks: blocks,
	})
	require.NoError(t, err, "formatting failed")

	set, err := disk.FromBuffers(buffers)
	require.NoError(t, err, "assembling the disk set failed")
	return set, buffers
}

// MountedDriver formats and mounts a filesystem in one step.
func MountedDriver(
	t *testing.T, mode wfs.RaidMode, n int, inodes, blocks uint64,
) (*fs.Driver, [][]byte) {
	t.Helper()
	set, buffers := FormatSet(t, mode, n, inodes, blocks)
	drv, err := fs.New(set)
	require.NoError(t, err, "mounting failed")
	return drv, buffers
}
