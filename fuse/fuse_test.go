package fuse

import (
	"syscall"
	"testing"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"

	"github.com/luisylizaliturri/wfs"
)

func TestRootInodeMapping(t *testing.T) {
	assert.EqualValues(t, fuseops.RootInodeID, inodeID(0),
		"on-disk inode 0 must surface as the bridge's root ID")
	assert.EqualValues(t, 0, inodeNum(fuseops.RootInodeID))
}

func TestInodeIDRoundTrip(t *testing.T) {
	for _, num := range []int32{0, 1, 31, 1000} {
		assert.Equal(t, num, inodeNum(inodeID(num)))
	}
}

func TestAttributesConversion(t *testing.T) {
	when := time.Unix(1700000000, 0)
	stat := wfs.FileStat{
		InodeNumber:  4,
		Nlinks:       3,
		Mode:         unix.S_IFDIR | 0o750,
		Uid:          1000,
		Gid:          1000,
		Size:         96,
		LastAccessed: when,
		LastModified: when,
		LastChanged:  when,
	}

	attrs := attributes(stat)
	assert.EqualValues(t, 96, attrs.Size)
	assert.EqualValues(t, 3, attrs.Nlink)
	assert.True(t, attrs.Mode.IsDir())
	assert.EqualValues(t, 0o750, attrs.Mode.Perm())
	assert.Equal(t, when, attrs.Mtime)
	assert.EqualValues(t, 1000, attrs.Uid)
}

func TestErrnoTranslation(t *testing.T) {
	assert.NoError(t, errno(nil))
	assert.Equal(t, syscall.ENOENT, errno(wfs.ErrNotFound.WithMessage("x")))
	assert.Equal(t, syscall.ENOTEMPTY, errno(wfs.ErrNotEmpty))
	assert.Equal(t, syscall.ENOSPC, errno(wfs.ErrNoSpace))
}
