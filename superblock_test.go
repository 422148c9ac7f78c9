package wfs_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luisylizaliturri/wfs"
)

func TestComputeLayoutSmallGeometry(t *testing.T) {
	sb := wfs.ComputeLayout(32, 32, wfs.Raid1)

	assert.EqualValues(t, 32, sb.NumInodes)
	assert.EqualValues(t, 32, sb.NumDataBlocks)
	assert.EqualValues(t, 512, sb.InodeBitmapPtr, "inode bitmap must follow the superblock")
	assert.EqualValues(t, 516, sb.DataBitmapPtr)
	assert.EqualValues(t, 1024, sb.InodeTablePtr, "inode table must be block aligned")
	assert.EqualValues(t, 1024+32*512, sb.DataBlocksPtr)
	assert.EqualValues(t, 1024+32*512+32*512, sb.RequiredImageSize())
}

func TestComputeLayoutRoundsCountsUp(t *testing.T) {
	sb := wfs.ComputeLayout(30, 33, wfs.Raid0)
	assert.EqualValues(t, 32, sb.NumInodes)
	assert.EqualValues(t, 64, sb.NumDataBlocks)

	// Exact multiples stay put.
	sb = wfs.ComputeLayout(64, 96, wfs.Raid0)
	assert.EqualValues(t, 64, sb.NumInodes)
	assert.EqualValues(t, 96, sb.NumDataBlocks)
}

func TestSuperblockEncodedSize(t *testing.T) {
	var sb wfs.Superblock
	assert.Equal(t, wfs.SuperblockSize, binary.Size(&sb))
}

func TestSuperblockRoundTrip(t *testing.T) {
	original := wfs.ComputeLayout(224, 1792, wfs.Raid1Verified).WithDiskID(3)

	buf := make([]byte, wfs.BlockSize)
	require.NoError(t, original.Encode(buf))

	decoded, err := wfs.DecodeSuperblock(buf)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestDecodeSuperblockRejectsBlankImage(t *testing.T) {
	_, err := wfs.DecodeSuperblock(make([]byte, wfs.BlockSize))
	assert.ErrorIs(t, err, wfs.ErrInvalidArgument)
}

func TestDecodeSuperblockRejectsUnknownRaidMode(t *testing.T) {
	sb := wfs.ComputeLayout(32, 32, wfs.Raid1)
	sb.Mode = wfs.RaidMode(7)
	buf := make([]byte, wfs.BlockSize)
	require.NoError(t, sb.Encode(buf))

	_, err := wfs.DecodeSuperblock(buf)
	assert.ErrorIs(t, err, wfs.ErrInvalidArgument)
}

func TestParseRaidMode(t *testing.T) {
	mode, err := wfs.ParseRaidMode("0")
	require.NoError(t, err)
	assert.Equal(t, wfs.Raid0, mode)

	mode, err = wfs.ParseRaidMode("1")
	require.NoError(t, err)
	assert.Equal(t, wfs.Raid1, mode)

	mode, err = wfs.ParseRaidMode("1v")
	require.NoError(t, err)
	assert.Equal(t, wfs.Raid1Verified, mode)

	_, err = wfs.ParseRaidMode("5")
	assert.ErrorIs(t, err, wfs.ErrInvalidArgument)
}
