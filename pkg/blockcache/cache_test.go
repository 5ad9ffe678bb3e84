package blockcache

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reekid420/AegisFS/pkg/blockdev"
)

const bs = 4096

func fill(b byte) []byte {
	buf := make([]byte, bs)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func TestReadThroughPopulates(t *testing.T) {
	dev := blockdev.NewMemory(1<<20, bs)
	require.NoError(t, dev.WriteBlock(5, fill(0x5A)))

	c := New(dev, 16)
	buf := make([]byte, bs)
	require.NoError(t, c.ReadBlock(5, buf))
	assert.Equal(t, byte(0x5A), buf[0])
	assert.Equal(t, 1, c.Len())

	// Second read is a hit.
	require.NoError(t, c.ReadBlock(5, buf))
	hits, misses := c.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
}

func TestWriteThrough(t *testing.T) {
	dev := blockdev.NewMemory(1<<20, bs)
	c := New(dev, 16)

	require.NoError(t, c.WriteBlock(7, fill(0x77)))

	// The device sees the bytes immediately.
	direct := make([]byte, bs)
	require.NoError(t, dev.ReadBlock(7, direct))
	assert.Equal(t, byte(0x77), direct[0])

	// And the cached copy serves reads.
	cached := make([]byte, bs)
	require.NoError(t, c.ReadBlock(7, cached))
	assert.True(t, bytes.Equal(direct, cached))
}

func TestEvictionBounded(t *testing.T) {
	dev := blockdev.NewMemory(1<<20, bs)
	c := New(dev, 4)

	buf := make([]byte, bs)
	for i := uint64(0); i < 20; i++ {
		require.NoError(t, c.ReadBlock(i, buf))
	}
	assert.Equal(t, 4, c.Len(), "capacity bounds residency")
}

func TestLRUOrder(t *testing.T) {
	dev := blockdev.NewMemory(1<<20, bs)
	c := New(dev, 2)

	buf := make([]byte, bs)
	require.NoError(t, c.ReadBlock(1, buf))
	require.NoError(t, c.ReadBlock(2, buf))
	require.NoError(t, c.ReadBlock(1, buf)) // 1 becomes most recent
	require.NoError(t, c.ReadBlock(3, buf)) // evicts 2

	_, missesBefore := c.Stats()
	require.NoError(t, c.ReadBlock(1, buf))
	_, missesAfter := c.Stats()
	assert.Equal(t, missesBefore, missesAfter, "block 1 survived eviction")
}

func TestWriteFailureDropsEntry(t *testing.T) {
	dev := blockdev.NewMemory(1<<20, bs)
	c := New(dev, 16)

	require.NoError(t, c.WriteBlock(3, fill(0x11)))
	dev.FailWrites(true)
	assert.Error(t, c.WriteBlock(3, fill(0x22)))
	dev.FailWrites(false)

	// The stale entry is gone; the next read comes from the device, which
	// still holds the last successful write.
	buf := make([]byte, bs)
	require.NoError(t, c.ReadBlock(3, buf))
	assert.Equal(t, byte(0x11), buf[0])
}

func TestInvalidate(t *testing.T) {
	dev := blockdev.NewMemory(1<<20, bs)
	c := New(dev, 16)

	buf := make([]byte, bs)
	require.NoError(t, c.ReadBlock(9, buf))
	c.Invalidate(9)
	assert.Equal(t, 0, c.Len())
}

func TestConcurrentReaders(t *testing.T) {
	dev := blockdev.NewMemory(1<<20, bs)
	for i := uint64(0); i < 64; i++ {
		require.NoError(t, dev.WriteBlock(i, fill(byte(i))))
	}
	c := New(dev, 32)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]byte, bs)
			for i := uint64(0); i < 64; i++ {
				if err := c.ReadBlock(i, buf); err != nil {
					t.Error(err)
					return
				}
				if buf[0] != byte(i) {
					t.Errorf("block %d: got %x", i, buf[0])
					return
				}
			}
		}()
	}
	wg.Wait()
}
