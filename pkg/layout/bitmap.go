package layout

import (
	"fmt"
	"sync"

	"github.com/reekid420/AegisFS/pkg/blockcache"
)

var (
	ErrNoFreeInodes = fmt.Errorf("no free inodes")
	ErrNoFreeBlocks = fmt.Errorf("no free blocks")
	ErrNotAllocated = fmt.Errorf("bit is not allocated")
	ErrBadIndex     = fmt.Errorf("index outside bitmap")
)

// Bitmap is an in-memory mirror of one on-disk allocation bitmap. Bit i
// tracks identifier base+i; Allocate hands out the lowest clear bit. The
// mutex covers only bit flips and the free counter, never I/O.
type Bitmap struct {
	mu   sync.Mutex
	bits []byte
	free uint64

	// base is added to bit indices to form identifiers: 0 for inodes (bit i
	// is inode i), DataStart for data blocks (bit i is block DataStart+i).
	base uint64
	// first is the lowest identifier Allocate may return; inode 0 is
	// reserved for "none".
	first uint64
	// count is the number of valid identifiers.
	count uint64

	// startBlock/blocks locate the on-disk mirror.
	startBlock uint64
	blocks     uint64
	blockSize  uint32

	errExhausted error
}

// NewInodeBitmap builds the bitmap for the inode region of l.
func NewInodeBitmap(l *Layout) *Bitmap {
	return &Bitmap{
		bits:         make([]byte, l.InodeBitmapBlocks*uint64(l.BlockSize)),
		free:         l.InodeCount - 1, // inode 0 is never allocatable
		base:         0,
		first:        1,
		count:        l.InodeCount,
		startBlock:   l.InodeBitmapStart,
		blocks:       l.InodeBitmapBlocks,
		blockSize:    l.BlockSize,
		errExhausted: ErrNoFreeInodes,
	}
}

// NewDataBitmap builds the bitmap for the data region of l. Allocate returns
// absolute block numbers; callers never do region arithmetic.
func NewDataBitmap(l *Layout) *Bitmap {
	return &Bitmap{
		bits:         make([]byte, l.DataBitmapBlocks*uint64(l.BlockSize)),
		free:         l.DataBlocks,
		base:         l.DataStart,
		first:        l.DataStart,
		count:        l.DataStart + l.DataBlocks,
		startBlock:   l.DataBitmapStart,
		blocks:       l.DataBitmapBlocks,
		blockSize:    l.BlockSize,
		errExhausted: ErrNoFreeBlocks,
	}
}

// Allocate finds the lowest clear bit, sets it, and returns its identifier.
func (b *Bitmap) Allocate() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.free == 0 {
		return 0, b.errExhausted
	}
	startByte := (b.first - b.base) / 8
	for i := startByte; i < uint64(len(b.bits)); i++ {
		if b.bits[i] == 0xff {
			continue
		}
		for bit := uint64(0); bit < 8; bit++ {
			if b.bits[i]&(1<<bit) != 0 {
				continue
			}
			id := b.base + i*8 + bit
			if id < b.first {
				continue
			}
			if id >= b.count {
				return 0, b.errExhausted
			}
			b.bits[i] |= 1 << bit
			b.free--
			return id, nil
		}
	}
	return 0, b.errExhausted
}

// Free clears the bit for id.
func (b *Bitmap) Free(id uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	i, bit, err := b.index(id)
	if err != nil {
		return err
	}
	if b.bits[i]&(1<<bit) == 0 {
		return fmt.Errorf("%w: %d", ErrNotAllocated, id)
	}
	b.bits[i] &^= 1 << bit
	b.free++
	return nil
}

// MarkAllocated sets the bit for id without the lowest-clear search; format
// and scrub repair use it.
func (b *Bitmap) MarkAllocated(id uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	i, bit, err := b.index(id)
	if err != nil {
		return err
	}
	if b.bits[i]&(1<<bit) == 0 {
		b.bits[i] |= 1 << bit
		b.free--
	}
	return nil
}

// IsAllocated reports whether id's bit is set.
func (b *Bitmap) IsAllocated(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	i, bit, err := b.index(id)
	if err != nil {
		return false
	}
	return b.bits[i]&(1<<bit) != 0
}

// FreeCount returns the number of clear, allocatable bits.
func (b *Bitmap) FreeCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.free
}

func (b *Bitmap) index(id uint64) (byteIdx uint64, bit uint64, err error) {
	if id < b.first || id >= b.count {
		return 0, 0, fmt.Errorf("%w: %d", ErrBadIndex, id)
	}
	off := id - b.base
	return off / 8, off % 8, nil
}

// Load replaces the in-memory bits with the on-disk mirror and recomputes
// the free counter by scanning, so a crash between bitmap and counter
// updates heals on mount.
func (b *Bitmap) Load(cache *blockcache.Cache) error {
	buf := make([]byte, b.blockSize)
	bits := make([]byte, len(b.bits))
	for i := uint64(0); i < b.blocks; i++ {
		if err := cache.ReadBlock(b.startBlock+i, buf); err != nil {
			return fmt.Errorf("load bitmap block %d: %w", b.startBlock+i, err)
		}
		copy(bits[i*uint64(b.blockSize):], buf)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.bits = bits
	b.free = 0
	for id := b.first; id < b.count; id++ {
		off := id - b.base
		if b.bits[off/8]&(1<<(off%8)) == 0 {
			b.free++
		}
	}
	return nil
}

// Save writes the in-memory bits back to the on-disk mirror. The snapshot is
// taken under the lock; the writes happen outside it.
func (b *Bitmap) Save(cache *blockcache.Cache) error {
	b.mu.Lock()
	snapshot := append([]byte(nil), b.bits...)
	b.mu.Unlock()

	for i := uint64(0); i < b.blocks; i++ {
		blk := snapshot[i*uint64(b.blockSize) : (i+1)*uint64(b.blockSize)]
		if err := cache.WriteBlock(b.startBlock+i, blk); err != nil {
			return fmt.Errorf("save bitmap block %d: %w", b.startBlock+i, err)
		}
	}
	return nil
}
