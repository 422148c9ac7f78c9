package raid_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luisylizaliturri/wfs"
	"github.com/luisylizaliturri/wfs/raid"
	dt "github.com/luisylizaliturri/wfs/testing"
)

func TestLocateStriping(t *testing.T) {
	set, _ := dt.FormatSet(t, wfs.Raid0, 3, 32, 96)
	arr := raid.New(set)
	base := int64(set.Super().DataBlocksPtr)

	diskID, offset := arr.Locate(0)
	assert.Equal(t, 0, diskID)
	assert.Equal(t, base, offset)

	diskID, offset = arr.Locate(4)
	assert.Equal(t, 1, diskID)
	assert.Equal(t, base+wfs.BlockSize, offset)

	diskID, offset = arr.Locate(8)
	assert.Equal(t, 2, diskID)
	assert.Equal(t, base+2*wfs.BlockSize, offset)
}

func TestLocateMirroring(t *testing.T) {
	set, _ := dt.FormatSet(t, wfs.Raid1, 2, 32, 32)
	arr := raid.New(set)
	base := int64(set.Super().DataBlocksPtr)

	diskID, offset := arr.Locate(5)
	assert.Equal(t, 0, diskID)
	assert.Equal(t, base+5*wfs.BlockSize, offset)
	assert.Len(t, arr.Replicas(5), 2, "mirrored blocks live on every disk")
}

func TestAllocateBlockRoundRobin(t *testing.T) {
	set, _ := dt.FormatSet(t, wfs.Raid0, 3, 32, 96)
	arr := raid.New(set)

	// The cursor starts at disk 0 and advances one disk per allocation, so
	// the logical numbers come out interleaved across the set.
	for i, want := range []int64{0, 1, 2, 3, 4, 5} {
		got, err := arr.AllocateBlock()
		require.NoError(t, err, "allocation %d failed", i)
		assert.Equal(t, want, got)
	}
}

func TestAllocateBlockMirroredSetsEveryBitmap(t *testing.T) {
	set, buffers := dt.FormatSet(t, wfs.Raid1, 2, 32, 32)
	arr := raid.New(set)

	b, err := arr.AllocateBlock()
	require.NoError(t, err)
	assert.EqualValues(t, 0, b)

	bitmapPtr := set.Super().DataBitmapPtr
	for i, buf := range buffers {
		assert.EqualValues(t, 1, buf[bitmapPtr]&1, "bit not set on disk %d", i)
	}

	arr.FreeBlock(b)
	for i, buf := range buffers {
		assert.EqualValues(t, 0, buf[bitmapPtr]&1, "bit not cleared on disk %d", i)
	}
}

func TestAllocateBlockStripedSetsOwnerBitmapOnly(t *testing.T) {
	set, buffers := dt.FormatSet(t, wfs.Raid0, 3, 32, 96)
	arr := raid.New(set)

	b, err := arr.AllocateBlock()
	require.NoError(t, err)
	require.EqualValues(t, 0, b, "first allocation is disk 0 slot 0")

	bitmapPtr := set.Super().DataBitmapPtr
	assert.EqualValues(t, 1, buffers[0][bitmapPtr]&1)
	assert.EqualValues(t, 0, buffers[1][bitmapPtr]&1)
	assert.EqualValues(t, 0, buffers[2][bitmapPtr]&1)
}

func TestAllocateBlockExhaustion(t *testing.T) {
	set, _ := dt.FormatSet(t, wfs.Raid1, 2, 32, 32)
	arr := raid.New(set)

	for i := 0; i < 32; i++ {
		_, err := arr.AllocateBlock()
		require.NoError(t, err)
	}
	_, err := arr.AllocateBlock()
	assert.ErrorIs(t, err, wfs.ErrNoSpace)
}

func TestWriteFansOutToEveryMirror(t *testing.T) {
	set, buffers := dt.FormatSet(t, wfs.Raid1, 3, 32, 32)
	arr := raid.New(set)

	b, err := arr.AllocateBlock()
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{0xAB}, wfs.BlockSize)
	arr.WriteAt(b, 0, payload)

	offset := set.Super().DataBlocksPtr
	for i, buf := range buffers {
		assert.True(t, bytes.Equal(payload, buf[offset:offset+wfs.BlockSize]),
			"replica on disk %d differs", i)
	}
}

func TestVerifiedReadOutvotesCorruptReplica(t *testing.T) {
	set, buffers := dt.FormatSet(t, wfs.Raid1Verified, 3, 32, 32)
	arr := raid.New(set)

	b, err := arr.AllocateBlock()
	require.NoError(t, err)
	payload := bytes.Repeat([]byte{0x5C}, wfs.BlockSize)
	arr.WriteAt(b, 0, payload)

	// Corrupt the replica on disk 1 behind the array's back.
	offset := set.Super().DataBlocksPtr
	for i := range buffers[1][offset : offset+wfs.BlockSize] {
		buffers[1][offset+uint64(i)] = 0xFF
	}

	assert.True(t, bytes.Equal(payload, arr.ReadView(b)),
		"majority must override the corrupt replica")
}

func TestVerifiedReadTieFavorsLowestDisk(t *testing.T) {
	set, buffers := dt.FormatSet(t, wfs.Raid1Verified, 2, 32, 32)
	arr := raid.New(set)

	b, err := arr.AllocateBlock()
	require.NoError(t, err)
	payload := bytes.Repeat([]byte{0x11}, wfs.BlockSize)
	arr.WriteAt(b, 0, payload)

	offset := set.Super().DataBlocksPtr
	for i := range buffers[1][offset : offset+wfs.BlockSize] {
		buffers[1][offset+uint64(i)] = 0x22
	}

	// One vote each; disk 0 must win.
	assert.True(t, bytes.Equal(payload, arr.ReadView(b)))
}
