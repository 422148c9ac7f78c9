// wfsd serves a formatted disk set through the kernel filesystem bridge.
//
// Usage: wfsd DISK DISK [DISK...] [-s] [-f] [-d] MOUNTPOINT
//
// Everything before the first -s or -f token is the image list (the order
// does not matter; images are sorted by the disk_id in their superblocks).
// The remaining tokens are bridge flags, with the mount point last. -s and
// -f are accepted for compatibility: the server always runs in the
// foreground and dispatches operations serially. -d enables bridge debug
// logging; it is recognised only after an -s or -f token, since without one
// every argument but the mount point is taken as an image.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jacobsa/fuse"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/luisylizaliturri/wfs/disk"
	"github.com/luisylizaliturri/wfs/fs"
	wfsfuse "github.com/luisylizaliturri/wfs/fuse"
)

func main() {
	app := &cli.App{
		Name:            "wfsd",
		Usage:           "Serve a formatted WFS disk set through the kernel filesystem bridge",
		ArgsUsage:       "DISK DISK [DISK...] [-s] [-f] [-d] MOUNTPOINT",
		SkipFlagParsing: true,
		Action:          serve,
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatalf("wfsd: %s", err)
	}
}

// splitArgs cuts the positional grammar into the image list, the bridge
// flags, and the mount point. The first -s or -f token ends the image list;
// without one, every argument but the last is an image.
func splitArgs(args []string) (paths, bridgeFlags []string, mountpoint string, err error) {
	boundary := -1
	for i, arg := range args {
		if arg == "-s" || arg == "-f" {
			boundary = i
			break
		}
	}

	if boundary < 0 {
		if len(args) < 2 {
			return nil, nil, "", fmt.Errorf("usage: wfsd DISK DISK [DISK...] [-s] [-f] MOUNTPOINT")
		}
		return args[:len(args)-1], nil, args[len(args)-1], nil
	}

	rest := args[boundary:]
	if len(rest) < 2 {
		return nil, nil, "", fmt.Errorf("mount point not specified")
	}
	return args[:boundary], rest[:len(rest)-1], rest[len(rest)-1], nil
}

func serve(c *cli.Context) error {
	paths, bridgeFlags, mountpoint, err := splitArgs(c.Args().Slice())
	if err != nil {
		return err
	}
	if len(paths) < 2 {
		return fmt.Errorf("at least two disk images are required, got %d", len(paths))
	}

	cfg := &fuse.MountConfig{FSName: "wfs"}
	for _, flag := range bridgeFlags {
		if flag == "-d" {
			logrus.SetLevel(logrus.DebugLevel)
			cfg.DebugLogger = log.New(os.Stderr, "fuse: ", 0)
		}
	}

	set, err := disk.Open(paths)
	if err != nil {
		return err
	}
	defer set.Close()

	drv, err := fs.New(set)
	if err != nil {
		return err
	}

	mfs, err := wfsfuse.Mount(drv, mountpoint, cfg)
	if err != nil {
		return err
	}
	logrus.WithField("mountpoint", mountpoint).Info("serving")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logrus.Info("unmounting")
		if err := fuse.Unmount(mountpoint); err != nil {
			logrus.WithError(err).Error("unmount failed")
		}
	}()

	if err := mfs.Join(context.Background()); err != nil {
		return err
	}
	if err := set.Sync(); err != nil {
		logrus.WithError(err).Warn("final sync failed")
	}
	return nil
}
