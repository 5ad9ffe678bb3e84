package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reekid420/AegisFS/pkg/blockcache"
	"github.com/reekid420/AegisFS/pkg/blockdev"
)

func testLayout(t *testing.T) *Layout {
	t.Helper()
	l, err := Compute(64<<20, 4096)
	require.NoError(t, err)
	return &l
}

func TestInodeBitmapAllocateLowestClear(t *testing.T) {
	l := testLayout(t)
	bm := NewInodeBitmap(l)

	first, err := bm.Allocate()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first, "inode 0 is reserved")

	second, err := bm.Allocate()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second)

	require.NoError(t, bm.Free(1))
	again, err := bm.Allocate()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), again, "freed bit is the lowest clear bit")
}

func TestInodeBitmapFreeCount(t *testing.T) {
	l := testLayout(t)
	bm := NewInodeBitmap(l)

	initial := bm.FreeCount()
	assert.Equal(t, l.InodeCount-1, initial)

	var ids []uint64
	for i := 0; i < 10; i++ {
		id, err := bm.Allocate()
		require.NoError(t, err)
		ids = append(ids, id)
	}
	assert.Equal(t, initial-10, bm.FreeCount())

	for _, id := range ids {
		require.NoError(t, bm.Free(id))
	}
	assert.Equal(t, initial, bm.FreeCount())
}

func TestDataBitmapReturnsAbsoluteBlocks(t *testing.T) {
	l := testLayout(t)
	bm := NewDataBitmap(l)

	blk, err := bm.Allocate()
	require.NoError(t, err)
	assert.Equal(t, l.DataStart, blk, "first data block is the region start")
	assert.True(t, l.ValidDataBlock(blk))
}

func TestBitmapExhaustion(t *testing.T) {
	l, err := Compute(16<<20, 4096)
	require.NoError(t, err)
	bm := NewInodeBitmap(&l)

	for i := uint64(1); i < l.InodeCount; i++ {
		_, err := bm.Allocate()
		require.NoError(t, err)
	}
	_, err = bm.Allocate()
	assert.ErrorIs(t, err, ErrNoFreeInodes)
}

func TestBitmapDoubleFree(t *testing.T) {
	l := testLayout(t)
	bm := NewInodeBitmap(l)

	id, err := bm.Allocate()
	require.NoError(t, err)
	require.NoError(t, bm.Free(id))
	assert.ErrorIs(t, bm.Free(id), ErrNotAllocated)
}

func TestBitmapPersistenceRoundtrip(t *testing.T) {
	l := testLayout(t)
	dev := blockdev.NewMemory(64<<20, 4096)
	cache := blockcache.New(dev, 64)

	bm := NewDataBitmap(l)
	var allocated []uint64
	for i := 0; i < 100; i++ {
		blk, err := bm.Allocate()
		require.NoError(t, err)
		allocated = append(allocated, blk)
	}
	require.NoError(t, bm.Free(allocated[50]))
	require.NoError(t, bm.Save(cache))

	reloaded := NewDataBitmap(l)
	require.NoError(t, reloaded.Load(cache))

	assert.Equal(t, bm.FreeCount(), reloaded.FreeCount(),
		"free count is recomputed from bits on load")
	for i, blk := range allocated {
		if i == 50 {
			assert.False(t, reloaded.IsAllocated(blk))
		} else {
			assert.True(t, reloaded.IsAllocated(blk))
		}
	}
}
