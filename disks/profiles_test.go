package disks_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luisylizaliturri/wfs"
	"github.com/luisylizaliturri/wfs/disks"
)

func TestGetKnownProfile(t *testing.T) {
	profile, ok := disks.Get("standard")
	require.True(t, ok)
	assert.Equal(t, "Standard", profile.Name)
	assert.EqualValues(t, 224, profile.Inodes)
	assert.EqualValues(t, 1792, profile.DataBlocks)
}

func TestGetUnknownProfile(t *testing.T) {
	_, ok := disks.Get("does-not-exist")
	assert.False(t, ok)
}

func TestAllSortedBySlug(t *testing.T) {
	all := disks.All()
	require.NotEmpty(t, all)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Slug, all[i].Slug)
	}
}

func TestProfileSizeHintsMatchLayout(t *testing.T) {
	// Every profile's size hint must be exactly what the layout computes,
	// so images created from the hint always format successfully.
	for _, profile := range disks.All() {
		sb := wfs.ComputeLayout(profile.Inodes, profile.DataBlocks, wfs.Raid1)
		assert.Equal(t, profile.MinImageBytes, sb.RequiredImageSize(),
			"size hint for %q is stale", profile.Slug)
	}
}
