package fs

import (
	"encoding/binary"

	"github.com/luisylizaliturri/wfs"
)

// indirectRefs reads an indirect table block as its array of block
// references.
func (d *Driver) indirectRefs(block int64) [wfs.PointersPerBlock]BlockRef {
	var refs [wfs.PointersPerBlock]BlockRef
	view := d.arr.ReadView(block)
	for i := range refs {
		refs[i] = BlockRef(binary.LittleEndian.Uint64(view[i*8:]))
	}
	return refs
}

// refAt resolves the block reference behind logical file position pos
// (in blocks). Positions past the direct range go through the indirect
// table; a missing table means every indirect position is a hole.
func (d *Driver) refAt(ino *Inode, pos int) BlockRef {
	if pos < wfs.DirectBlockCount {
		return ino.Blocks[pos]
	}
	ind := ino.Blocks[wfs.IndirectSlot]
	if !ind.Assigned() {
		return 0
	}
	view := d.arr.ReadView(ind.Block())
	return BlockRef(binary.LittleEndian.Uint64(view[(pos-wfs.DirectBlockCount)*8:]))
}

// ensureBlock resolves the block for position pos, lazily allocating the
// data block, and the indirect table when pos needs one. New indirect
// tables are zeroed on every replica; new data blocks are not.
func (d *Driver) ensureBlock(ino *Inode, pos int) (BlockRef, error) {
	if pos < wfs.DirectBlockCount {
		if ino.Blocks[pos].Assigned() {
			return ino.Blocks[pos], nil
		}
		block, err := d.arr.AllocateBlock()
		if err != nil {
			return 0, err
		}
		ino.Blocks[pos] = RefTo(block)
		return ino.Blocks[pos], nil
	}

	ind := ino.Blocks[wfs.IndirectSlot]
	if !ind.Assigned() {
		block, err := d.arr.AllocateBlock()
		if err != nil {
			return 0, err
		}
		d.arr.ZeroBlock(block)
		ino.Blocks[wfs.IndirectSlot] = RefTo(block)
		ind = ino.Blocks[wfs.IndirectSlot]
	}

	idx := pos - wfs.DirectBlockCount
	view := d.arr.ReadView(ind.Block())
	if ref := BlockRef(binary.LittleEndian.Uint64(view[idx*8:])); ref.Assigned() {
		return ref, nil
	}

	block, err := d.arr.AllocateBlock()
	if err != nil {
		return 0, err
	}
	ref := RefTo(block)
	var entry [8]byte
	binary.LittleEndian.PutUint64(entry[:], uint64(ref))
	d.arr.WriteAt(ind.Block(), idx*8, entry[:])
	return ref, nil
}

// ReadAt copies up to len(p) bytes from the file at off.
//
// Unallocated positions inside the file are holes: the byte counter
// advances over them but the destination bytes are left untouched, so the
// caller sees whatever p already held there. The returned count includes
// the hole bytes.
func (d *Driver) ReadAt(num int32, p []byte, off int64) (int, error) {
	ino, err := d.Inode(num)
	if err != nil {
		return 0, err
	}
	if ino.IsDir() {
		return 0, wfs.ErrIsADirectory
	}
	if off < 0 {
		return 0, wfs.ErrInvalidArgument.WithMessage("negative read offset")
	}
	if off >= ino.Size || len(p) == 0 {
		return 0, nil
	}
	if rest := ino.Size - off; int64(len(p)) > rest {
		p = p[:rest]
	}

	end := off + int64(len(p))
	total := 0
	for pos := off / wfs.BlockSize; pos <= (end-1)/wfs.BlockSize; pos++ {
		lo := maxInt64(off, pos*wfs.BlockSize)
		hi := minInt64(end, (pos+1)*wfs.BlockSize)
		if ref := d.refAt(&ino, int(pos)); ref.Assigned() {
			block := d.arr.ReadView(ref.Block())
			copy(p[lo-off:hi-off], block[lo-pos*wfs.BlockSize:hi-pos*wfs.BlockSize])
		}
		total += int(hi - lo)
	}
	return total, nil
}

// WriteAt copies p into the file at off, allocating data blocks (and the
// indirect table) lazily. Writes beyond the addressable range are truncated
// at the boundary; a write that cannot place a single byte reports
// no-space. On allocation failure mid-write the bytes placed so far are
// counted and the error returned alongside them.
func (d *Driver) WriteAt(num int32, p []byte, off int64) (int, error) {
	ino, err := d.Inode(num)
	if err != nil {
		return 0, err
	}
	if ino.IsDir() {
		return 0, wfs.ErrIsADirectory
	}
	if off < 0 {
		return 0, wfs.ErrInvalidArgument.WithMessage("negative write offset")
	}
	if off >= wfs.MaxFileSize {
		return 0, wfs.ErrNoSpace.WithMessage("offset beyond the addressable file range")
	}
	if off+int64(len(p)) > wfs.MaxFileSize {
		p = p[:wfs.MaxFileSize-off]
	}
	if len(p) == 0 {
		return 0, nil
	}

	blocksBefore := ino.Blocks
	end := off + int64(len(p))
	total := 0
	var writeErr error
	for pos := off / wfs.BlockSize; pos <= (end-1)/wfs.BlockSize; pos++ {
		ref, err := d.ensureBlock(&ino, int(pos))
		if err != nil {
			writeErr = err
			break
		}
		lo := maxInt64(off, pos*wfs.BlockSize)
		hi := minInt64(end, (pos+1)*wfs.BlockSize)
		d.arr.WriteAt(ref.Block(), int(lo-pos*wfs.BlockSize), p[lo-off:hi-off])
		total += int(hi - lo)
	}

	if total > 0 || ino.Blocks != blocksBefore {
		if grown := off + int64(total); grown > ino.Size {
			ino.Size = grown
		}
		d.stamp(&ino)
		d.writeInode(&ino)
	}
	return total, writeErr
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
