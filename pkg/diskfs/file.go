package diskfs

import (
	"encoding/binary"
	"fmt"

	"github.com/reekid420/AegisFS/pkg/format"
)

var ErrFileTooLarge = fmt.Errorf("offset beyond maximum file size")

// fileBlock maps a logical block index within a file to an absolute block
// number, walking the indirect tiers as needed. Returns 0 for an unmapped
// (sparse) index.
func (fs *FS) fileBlock(in *format.Inode, idx uint64) (uint64, error) {
	p := fs.layout.PointersPerBlock()

	switch {
	case idx < format.NumDirect:
		return in.Ptr[idx], nil

	case idx < format.NumDirect+p:
		single := in.Ptr[format.SingleIndSlot]
		if single == 0 {
			return 0, nil
		}
		return fs.readPointer(single, idx-format.NumDirect)

	case idx < format.NumDirect+p+p*p:
		double := in.Ptr[format.DoubleIndSlot]
		if double == 0 {
			return 0, nil
		}
		rel := idx - format.NumDirect - p
		single, err := fs.readPointer(double, rel/p)
		if err != nil || single == 0 {
			return 0, err
		}
		return fs.readPointer(single, rel%p)

	default:
		return 0, fmt.Errorf("%w: logical block %d", ErrFileTooLarge, idx)
	}
}

// setFileBlock records blk as the mapping for logical index idx, allocating
// indirect blocks lazily. The inode is mutated in memory; the caller
// persists it.
func (fs *FS) setFileBlock(in *format.Inode, idx uint64, blk uint64) error {
	p := fs.layout.PointersPerBlock()

	switch {
	case idx < format.NumDirect:
		in.Ptr[idx] = blk
		return nil

	case idx < format.NumDirect+p:
		single := in.Ptr[format.SingleIndSlot]
		if single == 0 {
			var err error
			if single, err = fs.allocIndexBlock(); err != nil {
				return err
			}
			in.Ptr[format.SingleIndSlot] = single
			in.Blocks += uint64(fs.layout.BlockSize) / 512
		}
		return fs.writePointer(single, idx-format.NumDirect, blk)

	case idx < format.NumDirect+p+p*p:
		double := in.Ptr[format.DoubleIndSlot]
		if double == 0 {
			var err error
			if double, err = fs.allocIndexBlock(); err != nil {
				return err
			}
			in.Ptr[format.DoubleIndSlot] = double
			in.Blocks += uint64(fs.layout.BlockSize) / 512
		}
		rel := idx - format.NumDirect - p
		single, err := fs.readPointer(double, rel/p)
		if err != nil {
			return err
		}
		if single == 0 {
			if single, err = fs.allocIndexBlock(); err != nil {
				return err
			}
			if err := fs.writePointer(double, rel/p, single); err != nil {
				return err
			}
			in.Blocks += uint64(fs.layout.BlockSize) / 512
		}
		return fs.writePointer(single, rel%p, blk)

	default:
		return fmt.Errorf("%w: logical block %d", ErrFileTooLarge, idx)
	}
}

// allocIndexBlock allocates a zero-filled indirect block.
func (fs *FS) allocIndexBlock() (uint64, error) {
	blk, err := fs.dataBitmap.Allocate()
	if err != nil {
		return 0, err
	}
	zero := make([]byte, fs.layout.BlockSize)
	if err := fs.cache.WriteBlock(blk, zero); err != nil {
		fs.dataBitmap.Free(blk)
		return 0, err
	}
	return blk, nil
}

func (fs *FS) readPointer(indexBlock uint64, slot uint64) (uint64, error) {
	buf := make([]byte, fs.layout.BlockSize)
	if err := fs.cache.ReadBlock(indexBlock, buf); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[slot*8:]), nil
}

func (fs *FS) writePointer(indexBlock uint64, slot uint64, value uint64) error {
	buf := make([]byte, fs.layout.BlockSize)
	if err := fs.cache.ReadBlock(indexBlock, buf); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(buf[slot*8:], value)
	return fs.cache.WriteBlock(indexBlock, buf)
}

// ReadFileData returns up to length bytes of file content starting at
// offset, stopping at the inode's size. Sparse regions read as zeros.
func (fs *FS) ReadFileData(in *format.Inode, offset uint64, length uint32) ([]byte, error) {
	if offset >= in.Size {
		return nil, nil
	}
	if remain := in.Size - offset; uint64(length) > remain {
		length = uint32(remain)
	}

	bs := uint64(fs.layout.BlockSize)
	out := make([]byte, 0, length)
	buf := make([]byte, bs)
	pos := offset
	for uint32(len(out)) < length {
		idx := pos / bs
		within := pos % bs
		chunk := bs - within
		if left := uint64(length) - uint64(len(out)); chunk > left {
			chunk = left
		}

		blk, err := fs.fileBlock(in, idx)
		if err != nil {
			return nil, err
		}
		if blk == 0 {
			out = append(out, make([]byte, chunk)...)
		} else {
			if err := fs.cache.ReadBlock(blk, buf); err != nil {
				return nil, err
			}
			out = append(out, buf[within:within+chunk]...)
		}
		pos += chunk
	}
	return out, nil
}

// WriteFileData stores data at offset, allocating blocks for unmapped
// indices and growing the inode's size if the write extends past it. The
// updated inode is persisted before returning.
func (fs *FS) WriteFileData(ino uint64, in *format.Inode, offset uint64, data []byte) error {
	bs := uint64(fs.layout.BlockSize)
	buf := make([]byte, bs)
	pos := offset
	written := 0

	for written < len(data) {
		idx := pos / bs
		within := pos % bs
		chunk := bs - within
		if left := uint64(len(data) - written); chunk > left {
			chunk = left
		}

		blk, err := fs.fileBlock(in, idx)
		if err != nil {
			return err
		}
		partial := within != 0 || chunk != bs
		if blk == 0 {
			if blk, err = fs.dataBitmap.Allocate(); err != nil {
				return err
			}
			if err := fs.setFileBlock(in, idx, blk); err != nil {
				fs.dataBitmap.Free(blk)
				return err
			}
			in.Blocks += bs / 512
			// Fresh block: zero-fill around the payload instead of reading.
			clear(buf)
		} else if partial {
			if err := fs.cache.ReadBlock(blk, buf); err != nil {
				return err
			}
		}
		copy(buf[within:], data[written:written+int(chunk)])
		if err := fs.cache.WriteBlock(blk, buf); err != nil {
			return err
		}

		written += int(chunk)
		pos += chunk
	}

	if pos > in.Size {
		in.Size = pos
	}
	return fs.WriteInode(ino, in)
}

// Truncate shrinks or grows the file to size. Shrinking frees every block
// wholly past the new end, including index blocks that no longer cover any
// data; growth is a pure size change, with the hole reading as zeros.
func (fs *FS) Truncate(ino uint64, in *format.Inode, size uint64) error {
	if size >= in.Size {
		in.Size = size
		return fs.WriteInode(ino, in)
	}

	bs := uint64(fs.layout.BlockSize)
	keep := (size + bs - 1) / bs

	if err := fs.freeBlocksFrom(in, keep); err != nil {
		return err
	}
	// Zero the tail of the last kept block so a later growth reads zeros.
	if within := size % bs; within != 0 {
		blk, err := fs.fileBlock(in, size/bs)
		if err != nil {
			return err
		}
		if blk != 0 {
			buf := make([]byte, bs)
			if err := fs.cache.ReadBlock(blk, buf); err != nil {
				return err
			}
			clear(buf[within:])
			if err := fs.cache.WriteBlock(blk, buf); err != nil {
				return err
			}
		}
	}
	in.Size = size
	return fs.WriteInode(ino, in)
}

// FreeInode returns every block reachable from the inode to the data bitmap,
// clears the inode's bit, and zeroes its record.
func (fs *FS) FreeInode(ino uint64) error {
	in, err := fs.ReadInode(ino)
	if err != nil {
		return err
	}
	if err := fs.freeBlocksFrom(in, 0); err != nil {
		return err
	}
	if err := fs.WriteInode(ino, &format.Inode{}); err != nil {
		return err
	}
	if err := fs.inodeBitmap.Free(ino); err != nil {
		return err
	}
	fs.sbMu.Lock()
	fs.sb.FreeInodes = fs.inodeBitmap.FreeCount()
	fs.sb.FreeBlocks = fs.dataBitmap.FreeCount()
	fs.sbMu.Unlock()
	return nil
}

// freeBlocksFrom frees all mapped blocks with logical index >= keep, plus
// any index blocks left covering nothing.
func (fs *FS) freeBlocksFrom(in *format.Inode, keep uint64) error {
	bs := uint64(fs.layout.BlockSize)
	p := fs.layout.PointersPerBlock()

	freed := uint64(0)
	for i := keep; i < format.NumDirect; i++ {
		if in.Ptr[i] != 0 {
			if err := fs.dataBitmap.Free(in.Ptr[i]); err != nil {
				return err
			}
			in.Ptr[i] = 0
			freed++
		}
	}

	if single := in.Ptr[format.SingleIndSlot]; single != 0 {
		var keepRel uint64
		if keep > format.NumDirect {
			keepRel = keep - format.NumDirect
		}
		n, empty, err := fs.freeIndexBlock(single, keepRel)
		if err != nil {
			return err
		}
		freed += n
		if empty && keepRel == 0 {
			if err := fs.dataBitmap.Free(single); err != nil {
				return err
			}
			in.Ptr[format.SingleIndSlot] = 0
			freed++
		}
	}

	if double := in.Ptr[format.DoubleIndSlot]; double != 0 {
		var keepRel uint64
		if keep > format.NumDirect+p {
			keepRel = keep - format.NumDirect - p
		}
		buf := make([]byte, bs)
		if err := fs.cache.ReadBlock(double, buf); err != nil {
			return err
		}
		dirty := false
		allEmpty := true
		for slot := uint64(0); slot < p; slot++ {
			single := binary.LittleEndian.Uint64(buf[slot*8:])
			if single == 0 {
				continue
			}
			var singleKeep uint64
			if keepRel > slot*p {
				singleKeep = keepRel - slot*p
			}
			if singleKeep >= p {
				allEmpty = false
				continue
			}
			n, empty, err := fs.freeIndexBlock(single, singleKeep)
			if err != nil {
				return err
			}
			freed += n
			if empty && singleKeep == 0 {
				if err := fs.dataBitmap.Free(single); err != nil {
					return err
				}
				binary.LittleEndian.PutUint64(buf[slot*8:], 0)
				dirty = true
				freed++
			} else {
				allEmpty = false
			}
		}
		if allEmpty && keepRel == 0 {
			if err := fs.dataBitmap.Free(double); err != nil {
				return err
			}
			in.Ptr[format.DoubleIndSlot] = 0
			freed++
		} else if dirty {
			if err := fs.cache.WriteBlock(double, buf); err != nil {
				return err
			}
		}
	}

	if used := freed * (bs / 512); in.Blocks >= used {
		in.Blocks -= used
	} else {
		in.Blocks = 0
	}
	fs.sbMu.Lock()
	fs.sb.FreeBlocks = fs.dataBitmap.FreeCount()
	fs.sbMu.Unlock()
	return nil
}

// freeIndexBlock frees every pointer in an index block with slot >= keep.
// It reports how many data blocks were freed and whether the block now maps
// nothing at all.
func (fs *FS) freeIndexBlock(indexBlock uint64, keep uint64) (freed uint64, empty bool, err error) {
	p := fs.layout.PointersPerBlock()
	buf := make([]byte, fs.layout.BlockSize)
	if err := fs.cache.ReadBlock(indexBlock, buf); err != nil {
		return 0, false, err
	}
	dirty := false
	empty = true
	for slot := uint64(0); slot < p; slot++ {
		ptr := binary.LittleEndian.Uint64(buf[slot*8:])
		if ptr == 0 {
			continue
		}
		if slot < keep {
			empty = false
			continue
		}
		if err := fs.dataBitmap.Free(ptr); err != nil {
			return freed, false, err
		}
		binary.LittleEndian.PutUint64(buf[slot*8:], 0)
		freed++
		dirty = true
	}
	// Skip the write-back when the caller is about to free the whole block.
	if dirty && !(empty && keep == 0) {
		if err := fs.cache.WriteBlock(indexBlock, buf); err != nil {
			return freed, empty, err
		}
	}
	return freed, empty, nil
}

// ForEachFileBlock calls fn for every mapped block reachable from the inode,
// index blocks included. Scrub uses this to cross-check the data bitmap.
func (fs *FS) ForEachFileBlock(in *format.Inode, fn func(blk uint64, isIndex bool) error) error {
	p := fs.layout.PointersPerBlock()

	for i := 0; i < format.NumDirect; i++ {
		if in.Ptr[i] != 0 {
			if err := fn(in.Ptr[i], false); err != nil {
				return err
			}
		}
	}

	walkSingle := func(single uint64) error {
		if err := fn(single, true); err != nil {
			return err
		}
		buf := make([]byte, fs.layout.BlockSize)
		if err := fs.cache.ReadBlock(single, buf); err != nil {
			return err
		}
		for slot := uint64(0); slot < p; slot++ {
			if ptr := binary.LittleEndian.Uint64(buf[slot*8:]); ptr != 0 {
				if err := fn(ptr, false); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if single := in.Ptr[format.SingleIndSlot]; single != 0 {
		if err := walkSingle(single); err != nil {
			return err
		}
	}

	if double := in.Ptr[format.DoubleIndSlot]; double != 0 {
		if err := fn(double, true); err != nil {
			return err
		}
		buf := make([]byte, fs.layout.BlockSize)
		if err := fs.cache.ReadBlock(double, buf); err != nil {
			return err
		}
		for slot := uint64(0); slot < p; slot++ {
			if single := binary.LittleEndian.Uint64(buf[slot*8:]); single != 0 {
				if err := walkSingle(single); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
