// Region arithmetic for the on-disk layout. Compute is the only place the
// region offsets and the inode-count formula exist; format and mount both
// call it, so the two can never disagree.
package layout

import (
	"fmt"
	"math/bits"

	"github.com/reekid420/AegisFS/pkg/format"
)

var (
	ErrTooSmall     = fmt.Errorf("device too small for a filesystem")
	ErrBadBlockSize = fmt.Errorf("block size must be a power of two in [512, 65536]")
	ErrMismatch     = fmt.Errorf("superblock disagrees with computed layout")
)

// Layout records the starting block and extent of every region. Regions are
// contiguous and in order: superblock, inode bitmap, inode table, data
// bitmap, data blocks.
type Layout struct {
	BlockSize  uint32
	BlockCount uint64
	InodeCount uint64

	InodeBitmapStart  uint64
	InodeBitmapBlocks uint64
	InodeTableStart   uint64
	InodeTableBlocks  uint64
	DataBitmapStart   uint64
	DataBitmapBlocks  uint64
	DataStart         uint64
	DataBlocks        uint64
}

func ceilDiv(a, b uint64) uint64 { return (a + b - 1) / b }

// Compute derives the layout for a device of size bytes. The inode count is
// one inode per 32 KiB of device, the formula shared by format and mount.
func Compute(size uint64, blockSize uint32) (Layout, error) {
	if blockSize < format.MinBlockSize || blockSize > format.MaxBlockSize || bits.OnesCount32(blockSize) != 1 {
		return Layout{}, fmt.Errorf("%w: %d", ErrBadBlockSize, blockSize)
	}

	bs := uint64(blockSize)
	blockCount := size / bs
	inodeCount := size / format.InodeBytesRatio

	l := Layout{
		BlockSize:  blockSize,
		BlockCount: blockCount,
		InodeCount: inodeCount,
	}

	// Both bitmaps are sized from totals known before region placement, so
	// the arithmetic has a single fixed point. The data bitmap is sized at
	// one bit per device block; bit i tracks block DataStart+i, so its last
	// DataStart bits are never used.
	l.InodeBitmapStart = 1
	l.InodeBitmapBlocks = ceilDiv(ceilDiv(inodeCount, 8), bs)
	l.InodeTableStart = l.InodeBitmapStart + l.InodeBitmapBlocks
	// Inode records never straddle a block boundary, so the table is sized
	// by whole records per block, not by packed bytes.
	l.InodeTableBlocks = ceilDiv(inodeCount, bs/format.InodeSize)
	l.DataBitmapStart = l.InodeTableStart + l.InodeTableBlocks
	l.DataBitmapBlocks = ceilDiv(ceilDiv(blockCount, 8), bs)
	l.DataStart = l.DataBitmapStart + l.DataBitmapBlocks
	if l.DataStart >= blockCount || inodeCount < 2 {
		return Layout{}, fmt.Errorf("%w: %d bytes leaves no data blocks", ErrTooSmall, size)
	}
	l.DataBlocks = blockCount - l.DataStart

	return l, nil
}

// FromSuperblock recomputes the layout from a mounted superblock and fails
// with ErrMismatch if the recorded totals disagree with the formula. This is
// the guard against the historical format/mount inode-count drift.
func FromSuperblock(sb *format.Superblock) (Layout, error) {
	l, err := Compute(sb.Size, sb.BlockSize)
	if err != nil {
		return Layout{}, err
	}
	if l.BlockCount != sb.BlockCount || l.InodeCount != sb.InodeCount {
		return Layout{}, fmt.Errorf("%w: computed %d blocks/%d inodes, superblock says %d/%d",
			ErrMismatch, l.BlockCount, l.InodeCount, sb.BlockCount, sb.InodeCount)
	}
	return l, nil
}

// InodeLocation returns the block number and intra-block byte offset of an
// inode record.
func (l *Layout) InodeLocation(ino uint64) (block uint64, offset uint64) {
	perBlock := uint64(l.BlockSize) / format.InodeSize
	return l.InodeTableStart + ino/perBlock, (ino % perBlock) * format.InodeSize
}

// ValidInode reports whether ino addresses a real inode record.
func (l *Layout) ValidInode(ino uint64) bool {
	return ino >= 1 && ino < l.InodeCount
}

// ValidDataBlock reports whether num lies inside the data region.
func (l *Layout) ValidDataBlock(num uint64) bool {
	return num >= l.DataStart && num < l.BlockCount
}

// PointersPerBlock is the fan-out of an indirect block.
func (l *Layout) PointersPerBlock() uint64 {
	return uint64(l.BlockSize) / 8
}

// MaxFileBlocks returns the largest logical block count a single inode can
// map through its direct, single-indirect, and double-indirect tiers.
func (l *Layout) MaxFileBlocks() uint64 {
	p := l.PointersPerBlock()
	return format.NumDirect + p + p*p
}
