// Package disk owns the backing images of a mount: it maps each image into
// memory, orders the mappings by the disk_id recorded in each superblock,
// and hands out the raw byte windows the rest of the filesystem addresses.
package disk

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"

	"github.com/luisylizaliturri/wfs"
)

// Disk is a single backing image. Data is the whole image, either a shared
// memory mapping or a plain buffer for in-memory sets.
type Disk struct {
	Path   string
	Data   []byte
	mapped bool
}

// Set is the ordered collection of images behind one mount. Index i of the
// set is the image whose superblock carries disk_id i; the order the images
// were opened in does not matter.
type Set struct {
	disks []*Disk
	super wfs.Superblock
}

// Open maps every image read/write and assembles the set. The first disk's
// superblock is authoritative for the shared geometry. Fewer than MinDisks
// images, unreadable superblocks, or disk_ids that do not cover exactly
// 0..N-1 are errors.
func Open(paths []string) (*Set, error) {
	disks := make([]*Disk, 0, len(paths))
	fail := func(err error) (*Set, error) {
		for _, d := range disks {
			unix.Munmap(d.Data)
		}
		return nil, err
	}

	for _, path := range paths {
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			return fail(wfs.ErrIO.Wrap(err))
		}
		st, err := f.Stat()
		if err != nil {
			f.Close()
			return fail(wfs.ErrIO.Wrap(err))
		}
		data, err := unix.Mmap(
			int(f.Fd()), 0, int(st.Size()),
			unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		f.Close()
		if err != nil {
			return fail(wfs.ErrIO.WithMessage(
				fmt.Sprintf("mapping %s: %s", path, err)))
		}
		disks = append(disks, &Disk{Path: path, Data: data, mapped: true})
	}

	set, err := assemble(disks)
	if err != nil {
		return fail(err)
	}
	return set, nil
}

// FromBuffers assembles a set over in-memory images. Intended for tests and
// tools that operate on images without mapping files.
func FromBuffers(buffers [][]byte) (*Set, error) {
	disks := make([]*Disk, len(buffers))
	for i, buf := range buffers {
		disks[i] = &Disk{Path: fmt.Sprintf("buffer-%d", i), Data: buf}
	}
	return assemble(disks)
}

func assemble(disks []*Disk) (*Set, error) {
	if len(disks) < wfs.MinDisks {
		return nil, wfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("need at least %d disk images, got %d", wfs.MinDisks, len(disks)))
	}

	ordered := make([]*Disk, len(disks))
	var super wfs.Superblock
	for _, d := range disks {
		if len(d.Data) < wfs.BlockSize {
			return nil, wfs.ErrIO.WithMessage(
				fmt.Sprintf("%s is smaller than one block", d.Path))
		}
		sb, err := wfs.DecodeSuperblock(d.Data[:wfs.BlockSize])
		if err != nil {
			return nil, err
		}
		if sb.DiskID < 0 || int(sb.DiskID) >= len(disks) {
			return nil, wfs.ErrInvalidArgument.WithMessage(
				fmt.Sprintf("%s has disk_id %d, outside 0..%d", d.Path, sb.DiskID, len(disks)-1))
		}
		if ordered[sb.DiskID] != nil {
			return nil, wfs.ErrInvalidArgument.WithMessage(
				fmt.Sprintf("%s and %s both carry disk_id %d",
					ordered[sb.DiskID].Path, d.Path, sb.DiskID))
		}
		ordered[sb.DiskID] = d
		if sb.DiskID == 0 {
			super = sb
		}
	}
	return &Set{disks: ordered, super: super}, nil
}

// N is the number of disks in the set.
func (s *Set) N() int {
	return len(s.disks)
}

// Super returns the authoritative superblock (disk 0's).
func (s *Set) Super() wfs.Superblock {
	return s.super
}

// Data returns the full byte window of one disk, indexed by disk_id.
func (s *Set) Data(diskID int) []byte {
	return s.disks[diskID].Data
}

// Path returns the image path behind one disk_id.
func (s *Set) Path(diskID int) string {
	return s.disks[diskID].Path
}

// Sync flushes every mapping to its backing file.
func (s *Set) Sync() error {
	var result *multierror.Error
	for _, d := range s.disks {
		if !d.mapped {
			continue
		}
		if err := unix.Msync(d.Data, unix.MS_SYNC); err != nil {
			result = multierror.Append(result, wfs.ErrIO.WithMessage(
				fmt.Sprintf("syncing %s: %s", d.Path, err)))
		}
	}
	return result.ErrorOrNil()
}

// Close unmaps every image. The set must not be used afterwards.
func (s *Set) Close() error {
	var result *multierror.Error
	for _, d := range s.disks {
		if !d.mapped {
			continue
		}
		if err := unix.Munmap(d.Data); err != nil {
			result = multierror.Append(result, wfs.ErrIO.WithMessage(
				fmt.Sprintf("unmapping %s: %s", d.Path, err)))
		}
		d.mapped = false
		d.Data = nil
	}
	return result.ErrorOrNil()
}
