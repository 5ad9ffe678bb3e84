package blockdev

import (
	"bytes"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBlockSize = 4096

func pattern(b byte) []byte {
	buf := make([]byte, testBlockSize)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func testDeviceKinds(t *testing.T) map[string]Device {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dev.img")
	fd, err := CreateFile(path, 1<<20, testBlockSize)
	require.NoError(t, err)
	t.Cleanup(func() { fd.Close() })

	md := NewMemory(1<<20, testBlockSize)
	return map[string]Device{"file": fd, "memory": md}
}

func TestReadObservesWrite(t *testing.T) {
	for name, dev := range testDeviceKinds(t) {
		t.Run(name, func(t *testing.T) {
			want := pattern(0xAB)
			require.NoError(t, dev.WriteBlock(3, want))

			got := make([]byte, testBlockSize)
			require.NoError(t, dev.ReadBlock(3, got))
			assert.True(t, bytes.Equal(want, got))

			// Overwrite is observed too.
			want2 := pattern(0xCD)
			require.NoError(t, dev.WriteBlock(3, want2))
			require.NoError(t, dev.ReadBlock(3, got))
			assert.True(t, bytes.Equal(want2, got))
		})
	}
}

func TestOutOfRange(t *testing.T) {
	for name, dev := range testDeviceKinds(t) {
		t.Run(name, func(t *testing.T) {
			buf := make([]byte, testBlockSize)
			assert.ErrorIs(t, dev.ReadBlock(dev.BlockCount(), buf), ErrOutOfRange)
			assert.ErrorIs(t, dev.WriteBlock(dev.BlockCount()+5, buf), ErrOutOfRange)
		})
	}
}

func TestWrongBufferSize(t *testing.T) {
	for name, dev := range testDeviceKinds(t) {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, dev.ReadBlock(0, make([]byte, 100)), ErrBlockSize)
			assert.ErrorIs(t, dev.WriteBlock(0, make([]byte, testBlockSize+1)), ErrBlockSize)
		})
	}
}

func TestSizeDiscovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sized.img")
	dev, err := CreateFile(path, 8<<20, testBlockSize)
	require.NoError(t, err)
	defer dev.Close()

	assert.Equal(t, uint64(8<<20), dev.Size())
	assert.Equal(t, uint64(8<<20)/testBlockSize, dev.BlockCount())

	// Reopening reads the size back from the file length.
	dev2, err := OpenFile(path, testBlockSize, true)
	require.NoError(t, err)
	defer dev2.Close()
	assert.Equal(t, dev.Size(), dev2.Size())
}

func TestReadOnlyRefusesWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ro.img")
	dev, err := CreateFile(path, 1<<20, testBlockSize)
	require.NoError(t, err)
	require.NoError(t, dev.Close())

	ro, err := OpenFile(path, testBlockSize, true)
	require.NoError(t, err)
	defer ro.Close()

	assert.ErrorIs(t, ro.WriteBlock(0, pattern(1)), ErrReadOnly)
}

func TestClosedDevice(t *testing.T) {
	dev := NewMemory(1<<20, testBlockSize)
	require.NoError(t, dev.Close())

	buf := make([]byte, testBlockSize)
	assert.ErrorIs(t, dev.ReadBlock(0, buf), ErrClosed)
	assert.ErrorIs(t, dev.WriteBlock(0, buf), ErrClosed)
}

func TestConcurrentDistinctBlocks(t *testing.T) {
	for name, dev := range testDeviceKinds(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 32; i++ {
				wg.Add(1)
				go func(n int) {
					defer wg.Done()
					want := pattern(byte(n))
					if err := dev.WriteBlock(uint64(n), want); err != nil {
						t.Error(err)
						return
					}
					got := make([]byte, testBlockSize)
					if err := dev.ReadBlock(uint64(n), got); err != nil {
						t.Error(err)
						return
					}
					if !bytes.Equal(want, got) {
						t.Errorf("block %d: readback mismatch", n)
					}
				}(i)
			}
			wg.Wait()
		})
	}
}
