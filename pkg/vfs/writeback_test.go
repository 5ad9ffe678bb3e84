package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoalesceMergesContiguousRuns(t *testing.T) {
	entries := []wbEntry{
		{ino: 1, offset: 0, data: []byte("aaaa")},
		{ino: 1, offset: 4, data: []byte("bbbb")},
		{ino: 2, offset: 0, data: []byte("cc")},
		{ino: 1, offset: 8, data: []byte("dd")},
		{ino: 1, offset: 100, data: []byte("ee")},
	}

	runs := coalesce(entries)
	require.Len(t, runs, 3)

	assert.Equal(t, uint64(1), runs[0].ino)
	assert.Equal(t, uint64(0), runs[0].offset)
	assert.Equal(t, []byte("aaaabbbbdd"), runs[0].data)

	assert.Equal(t, uint64(2), runs[1].ino)
	assert.Equal(t, []byte("cc"), runs[1].data)

	assert.Equal(t, uint64(100), runs[2].offset)
}

// Overlapping rewrites are not merged; they stay separate and apply in
// order, preserving last-writer-wins.
func TestCoalescePreservesOrderOnOverlap(t *testing.T) {
	entries := []wbEntry{
		{ino: 5, offset: 0, data: []byte("xxxx")},
		{ino: 5, offset: 2, data: []byte("yy")},
	}
	runs := coalesce(entries)
	require.Len(t, runs, 2)
	assert.Equal(t, uint64(0), runs[0].offset)
	assert.Equal(t, uint64(2), runs[1].offset)
}

func TestOverlayAppliesQueueInOrder(t *testing.T) {
	wb := newWriteback()
	wb.append(9, 0, []byte("AAAA"))
	wb.append(9, 2, []byte("BB"))
	wb.append(7, 0, []byte("ZZZZ")) // other inode, ignored

	buf := make([]byte, 6)
	wb.overlay(9, 0, buf)
	assert.Equal(t, []byte("AABB\x00\x00"), buf)

	// A window starting mid-entry sees the tail of it.
	buf = make([]byte, 3)
	wb.overlay(9, 1, buf)
	assert.Equal(t, []byte("ABB"), buf)
}

func TestDropForRemovesOnlyThatInode(t *testing.T) {
	wb := newWriteback()
	wb.append(1, 0, []byte("aa"))
	wb.append(2, 0, []byte("bb"))
	wb.append(1, 10, []byte("cc"))

	wb.dropFor(1)
	assert.False(t, wb.pendingFor(1))
	assert.True(t, wb.pendingFor(2))
	assert.Equal(t, int64(2), wb.bytes)
}

func TestRequeuePreservesOrder(t *testing.T) {
	wb := newWriteback()
	wb.append(1, 0, []byte("first"))

	taken := wb.take()
	assert.Zero(t, wb.bytes)

	wb.append(1, 5, []byte("second"))
	wb.requeue(taken)

	entries := wb.take()
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(0), entries[0].offset, "requeued entries go back to the front")
	assert.Equal(t, uint64(5), entries[1].offset)
}
