// Package disks holds the built-in formatting profiles: named inode and
// data-block geometries for common image sizes, so callers of the formatter
// don't have to pick raw counts by hand.
package disks

import (
	_ "embed"
	"sort"
	"strings"

	"github.com/gocarina/gocsv"
)

//go:embed profiles.csv
var profilesCSV string

// FormatProfile is one named geometry. Counts are pre-format values; the
// formatter still rounds them up to multiples of 32. MinImageBytes is the
// smallest backing image the profile fits in, as a sizing hint for users
// creating images.
type FormatProfile struct {
	Name          string `csv:"name"`
	Slug          string `csv:"slug"`
	Inodes        uint64 `csv:"inodes"`
	DataBlocks    uint64 `csv:"data_blocks"`
	MinImageBytes uint64 `csv:"min_image_bytes"`
	Notes         string `csv:"notes"`
}

var registry = map[string]FormatProfile{}

func init() {
	err := gocsv.UnmarshalToCallback(
		strings.NewReader(profilesCSV),
		func(profile FormatProfile) {
			registry[profile.Slug] = profile
		},
	)
	if err != nil {
		panic("disks: embedded profile table is invalid: " + err.Error())
	}
}

// Get looks a profile up by slug.
func Get(slug string) (FormatProfile, bool) {
	profile, ok := registry[slug]
	return profile, ok
}

// All returns every profile, ordered by slug.
func All() []FormatProfile {
	out := make([]FormatProfile, 0, len(registry))
	for _, profile := range registry {
		out = append(out, profile)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}
