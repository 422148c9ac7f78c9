// mkwfs lays a fresh filesystem out across a set of preexisting disk
// images. The images are not created or resized; each must already be at
// least as large as the requested geometry requires.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/luisylizaliturri/wfs"
	"github.com/luisylizaliturri/wfs/disks"
	"github.com/luisylizaliturri/wfs/fs"
)

func main() {
	app := &cli.App{
		Name:  "mkwfs",
		Usage: "Write a fresh WFS filesystem across a set of disk images",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "r",
				Aliases: []string{"raid"},
				Usage:   "RAID `MODE`: 0 (striping), 1 (mirroring) or 1v (mirroring with verified reads)",
			},
			&cli.StringSliceFlag{
				Name:    "d",
				Aliases: []string{"disk"},
				Usage:   "backing disk image `PATH`; repeat for every member of the set",
			},
			&cli.Uint64Flag{
				Name:    "i",
				Aliases: []string{"inodes"},
				Usage:   "number of inodes (rounded up to a multiple of 32)",
			},
			&cli.Uint64Flag{
				Name:    "b",
				Aliases: []string{"blocks"},
				Usage:   "number of data blocks (rounded up to a multiple of 32)",
			},
			&cli.StringFlag{
				Name:  "profile",
				Usage: "named geometry `SLUG` supplying inode and block counts; -i/-b override it",
			},
			&cli.BoolFlag{
				Name:  "list-profiles",
				Usage: "print the built-in geometry profiles and exit",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "enable debug output",
			},
		},
		Action: format,
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatalf("mkwfs: %s", err)
	}
}

func format(c *cli.Context) error {
	if c.Bool("verbose") {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if c.Bool("list-profiles") {
		for _, p := range disks.All() {
			fmt.Printf("%-10s %6d inodes %7d blocks  >= %d bytes  %s\n",
				p.Slug, p.Inodes, p.DataBlocks, p.MinImageBytes, p.Notes)
		}
		return nil
	}

	if c.String("r") == "" {
		return fmt.Errorf("the RAID mode is required (-r 0|1|1v)")
	}
	mode, err := wfs.ParseRaidMode(c.String("r"))
	if err != nil {
		return err
	}

	inodes := c.Uint64("i")
	blocks := c.Uint64("b")
	if slug := c.String("profile"); slug != "" {
		profile, ok := disks.Get(slug)
		if !ok {
			return fmt.Errorf("unknown profile %q; try --list-profiles", slug)
		}
		if inodes == 0 {
			inodes = profile.Inodes
		}
		if blocks == 0 {
			blocks = profile.DataBlocks
		}
	}
	if inodes == 0 || blocks == 0 {
		return fmt.Errorf("inode and data block counts are required (-i and -b, or --profile)")
	}

	paths := c.StringSlice("d")
	images := make([]io.ReadWriteSeeker, len(paths))
	for i, path := range paths {
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			return err
		}
		defer f.Close()
		images[i] = f
	}

	sb, err := fs.Format(images, fs.FormatOptions{
		Mode:          mode,
		NumInodes:     inodes,
		NumDataBlocks: blocks,
	})
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"raid":        mode.String(),
		"disks":       len(paths),
		"inodes":      sb.NumInodes,
		"data_blocks": sb.NumDataBlocks,
		"image_bytes": sb.RequiredImageSize(),
	}).Info("filesystem created")
	return nil
}
