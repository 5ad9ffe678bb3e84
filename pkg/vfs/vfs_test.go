package vfs

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reekid420/AegisFS/pkg/blockdev"
	"github.com/reekid420/AegisFS/pkg/config"
	"github.com/reekid420/AegisFS/pkg/diskfs"
	"github.com/reekid420/AegisFS/pkg/format"
)

const testBS = 512

func testConfig() config.Config {
	cfg := config.Default()
	cfg.FlushInterval = 50 * time.Millisecond
	cfg.DeferredFlushDelay = time.Millisecond
	cfg.FlushRetryBackoff = time.Millisecond
	cfg.SmallFileLimit = 1024
	return cfg
}

func newEngine(t *testing.T) (*Engine, *blockdev.MemoryDevice) {
	t.Helper()
	dev := blockdev.NewMemory(16<<20, testBS)
	require.NoError(t, diskfs.Format(dev, diskfs.FormatOptions{BlockSize: testBS}))
	fs, err := diskfs.Open(dev, diskfs.OpenOptions{})
	require.NoError(t, err)
	e := New(fs, testConfig(), false)
	t.Cleanup(func() { e.Close() })
	return e, dev
}

// reopen closes the engine and mounts a fresh one over the same device.
func reopen(t *testing.T, e *Engine, dev *blockdev.MemoryDevice) *Engine {
	t.Helper()
	require.NoError(t, e.Close())
	dev.Reopen()
	fs, err := diskfs.Open(dev, diskfs.OpenOptions{})
	require.NoError(t, err)
	e2 := New(fs, testConfig(), false)
	t.Cleanup(func() { e2.Close() })
	return e2
}

func TestCreateLookupGetattr(t *testing.T) {
	e, _ := newEngine(t)

	a, err := e.Create(format.RootInode, "hello.txt", 0o644, 1000, 1000)
	require.NoError(t, err)
	assert.NotZero(t, a.Ino)
	assert.Equal(t, format.ModeRegular|0o644, a.Mode)
	assert.Equal(t, uint32(1000), a.UID)
	assert.Equal(t, uint64(0), a.Size)
	assert.Equal(t, uint32(1), a.Links)

	got, err := e.Lookup(format.RootInode, "hello.txt")
	require.NoError(t, err)
	assert.Equal(t, a.Ino, got.Ino)

	attr, err := e.GetAttr(a.Ino)
	require.NoError(t, err)
	assert.Equal(t, a.Ino, attr.Ino)

	_, err = e.Lookup(format.RootInode, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateDuplicate(t *testing.T) {
	e, _ := newEngine(t)
	_, err := e.Create(format.RootInode, "dup", 0o644, 0, 0)
	require.NoError(t, err)
	_, err = e.Create(format.RootInode, "dup", 0o644, 0, 0)
	assert.ErrorIs(t, err, ErrExists)
}

func TestBadNames(t *testing.T) {
	e, _ := newEngine(t)
	for _, name := range []string{"", ".", "..", "a/b", string(make([]byte, 300))} {
		_, err := e.Create(format.RootInode, name, 0o644, 0, 0)
		assert.ErrorIs(t, err, ErrInvalidName, "name %q", name)
	}
}

// Small-file round-trip, before and after a flush.
func TestSmallFileRoundtrip(t *testing.T) {
	e, _ := newEngine(t)

	a, err := e.Create(format.RootInode, "hello.txt", 0o644, 0, 0)
	require.NoError(t, err)

	payload := []byte("Hello AegisFS!")
	n, err := e.Write(a.Ino, 0, payload)
	require.NoError(t, err)
	assert.Equal(t, uint32(len(payload)), n)

	attr, err := e.GetAttr(a.Ino)
	require.NoError(t, err)
	assert.Equal(t, uint64(14), attr.Size)

	// Before any flush the inline cache serves the bytes.
	got, err := e.Read(a.Ino, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	require.NoError(t, e.Sync())

	got, err = e.Read(a.Ino, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

// Writes beyond the small-file limit are visible before the flusher runs:
// the queue overlays the disk contents.
func TestLargeFileReadsOwnWrites(t *testing.T) {
	e, _ := newEngine(t)

	a, err := e.Create(format.RootInode, "big.bin", 0o644, 0, 0)
	require.NoError(t, err)

	payload := make([]byte, 8192) // past the 1024-byte test limit
	for i := range payload {
		payload[i] = byte(i % 253)
	}
	_, err = e.Write(a.Ino, 0, payload)
	require.NoError(t, err)

	got, err := e.Read(a.Ino, 0, uint32(len(payload)))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, got), "queued writes visible before flush")

	// Still intact after the flusher drains.
	require.NoError(t, e.Sync())
	got, err = e.Read(a.Ino, 0, uint32(len(payload)))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, got))
}

// Property: after fsync returns, the bytes are durable on the device.
func TestFsyncDurability(t *testing.T) {
	e, _ := newEngine(t)

	a, err := e.Create(format.RootInode, "durable", 0o644, 0, 0)
	require.NoError(t, err)

	payload := make([]byte, 3000)
	for i := range payload {
		payload[i] = byte(i)
	}
	_, err = e.Write(a.Ino, 0, payload)
	require.NoError(t, err)
	require.NoError(t, e.Fsync(a.Ino))

	// Read straight from the disk layer, bypassing the engine cache.
	din, err := e.Disk().ReadInode(a.Ino)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(payload)), din.Size)
	got, err := e.Disk().ReadFileData(din, 0, uint32(len(payload)))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, got))
}

// Round-trip persistence: unmount, remount, identical attrs and contents.
func TestPersistenceAcrossRemount(t *testing.T) {
	e, dev := newEngine(t)

	a, err := e.Create(format.RootInode, "hello.txt", 0o644, 7, 8)
	require.NoError(t, err)
	payload := []byte("Hello AegisFS!")
	_, err = e.Write(a.Ino, 0, payload)
	require.NoError(t, err)

	e2 := reopen(t, e, dev)

	got, err := e2.Lookup(format.RootInode, "hello.txt")
	require.NoError(t, err)
	assert.Equal(t, a.Ino, got.Ino)
	assert.Equal(t, uint64(14), got.Size)
	assert.Equal(t, uint32(7), got.UID)
	assert.Equal(t, uint32(8), got.GID)

	data, err := e2.Read(got.Ino, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

// Scenario: mkdir /a; mkdir /a/b; create /a/b/c; remount; verify tree and
// readdir order.
func TestNestedTreePersists(t *testing.T) {
	e, dev := newEngine(t)

	a, err := e.Mkdir(format.RootInode, "a", 0o755, 0, 0)
	require.NoError(t, err)
	b, err := e.Mkdir(a.Ino, "b", 0o755, 0, 0)
	require.NoError(t, err)
	_, err = e.Create(b.Ino, "c", 0o644, 0, 0)
	require.NoError(t, err)

	e2 := reopen(t, e, dev)

	a2, err := e2.Lookup(format.RootInode, "a")
	require.NoError(t, err)
	ents, err := e2.Readdir(a2.Ino)
	require.NoError(t, err)
	require.Len(t, ents, 3)
	assert.Equal(t, ".", ents[0].Name)
	assert.Equal(t, "..", ents[1].Name)
	assert.Equal(t, "b", ents[2].Name)

	b2, err := e2.Lookup(a2.Ino, "b")
	require.NoError(t, err)
	ents, err = e2.Readdir(b2.Ino)
	require.NoError(t, err)
	require.Len(t, ents, 3)
	assert.Equal(t, "c", ents[2].Name)

	// ".." of /a/b points back at /a on disk.
	assert.Equal(t, a2.Ino, ents[1].Ino)
}

func TestReaddirOrderAndLinkCounts(t *testing.T) {
	e, _ := newEngine(t)

	root, err := e.GetAttr(format.RootInode)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), root.Links)

	_, err = e.Mkdir(format.RootInode, "d1", 0o755, 0, 0)
	require.NoError(t, err)
	root, err = e.GetAttr(format.RootInode)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), root.Links, "subdirectory bumps parent link count")

	for _, n := range []string{"f1", "f2", "f3"} {
		_, err := e.Create(format.RootInode, n, 0o644, 0, 0)
		require.NoError(t, err)
	}
	ents, err := e.Readdir(format.RootInode)
	require.NoError(t, err)
	var names []string
	for _, ent := range ents {
		names = append(names, ent.Name)
	}
	assert.Equal(t, []string{".", "..", "d1", "f1", "f2", "f3"}, names)
}

func TestUnlinkFreesInode(t *testing.T) {
	e, _ := newEngine(t)

	freeBefore := e.Disk().FreeInodes()
	a, err := e.Create(format.RootInode, "gone", 0o644, 0, 0)
	require.NoError(t, err)
	_, err = e.Write(a.Ino, 0, make([]byte, 4000))
	require.NoError(t, err)
	require.NoError(t, e.Fsync(a.Ino))

	blocksBefore := e.Disk().FreeBlocks()
	require.NoError(t, e.Unlink(format.RootInode, "gone"))

	assert.Equal(t, freeBefore, e.Disk().FreeInodes())
	assert.Greater(t, e.Disk().FreeBlocks(), blocksBefore, "data blocks returned")
	_, err = e.Lookup(format.RootInode, "gone")
	assert.ErrorIs(t, err, ErrNotFound)
}

// Unlink with an open handle parks the inode in pending-free; the last
// release frees it.
func TestUnlinkWhileOpen(t *testing.T) {
	e, _ := newEngine(t)

	a, err := e.Create(format.RootInode, "held", 0o644, 0, 0)
	require.NoError(t, err)
	require.NoError(t, e.Open(a.Ino))

	require.NoError(t, e.Unlink(format.RootInode, "held"))

	// Entry is gone but the inode survives while the handle is open.
	_, err = e.Lookup(format.RootInode, "held")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, e.Disk().InodeAllocated(a.Ino))

	require.NoError(t, e.Release(a.Ino))
	assert.False(t, e.Disk().InodeAllocated(a.Ino))
}

func TestRmdir(t *testing.T) {
	e, _ := newEngine(t)

	d, err := e.Mkdir(format.RootInode, "dir", 0o755, 0, 0)
	require.NoError(t, err)
	_, err = e.Create(d.Ino, "child", 0o644, 0, 0)
	require.NoError(t, err)

	assert.ErrorIs(t, e.Rmdir(format.RootInode, "dir"), ErrNotEmpty)
	require.NoError(t, e.Unlink(d.Ino, "child"))
	require.NoError(t, e.Rmdir(format.RootInode, "dir"))

	root, err := e.GetAttr(format.RootInode)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), root.Links)
	assert.False(t, e.Disk().InodeAllocated(d.Ino))
}

func TestRmdirOnFile(t *testing.T) {
	e, _ := newEngine(t)
	_, err := e.Create(format.RootInode, "f", 0o644, 0, 0)
	require.NoError(t, err)
	assert.ErrorIs(t, e.Rmdir(format.RootInode, "f"), ErrNotADirectory)
	assert.NoError(t, e.Unlink(format.RootInode, "f"))
}

func TestRenameSameDirectory(t *testing.T) {
	e, _ := newEngine(t)

	a, err := e.Create(format.RootInode, "old", 0o644, 0, 0)
	require.NoError(t, err)
	require.NoError(t, e.Rename(format.RootInode, "old", format.RootInode, "new"))

	_, err = e.Lookup(format.RootInode, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := e.Lookup(format.RootInode, "new")
	require.NoError(t, err)
	assert.Equal(t, a.Ino, got.Ino)
}

func TestRenameAcrossDirectories(t *testing.T) {
	e, dev := newEngine(t)

	d1, err := e.Mkdir(format.RootInode, "d1", 0o755, 0, 0)
	require.NoError(t, err)
	d2, err := e.Mkdir(format.RootInode, "d2", 0o755, 0, 0)
	require.NoError(t, err)
	sub, err := e.Mkdir(d1.Ino, "sub", 0o755, 0, 0)
	require.NoError(t, err)

	require.NoError(t, e.Rename(d1.Ino, "sub", d2.Ino, "moved"))

	got, err := e.Lookup(d2.Ino, "moved")
	require.NoError(t, err)
	assert.Equal(t, sub.Ino, got.Ino)

	// Parent link counts follow the move.
	a1, _ := e.GetAttr(d1.Ino)
	a2, _ := e.GetAttr(d2.Ino)
	assert.Equal(t, uint32(2), a1.Links)
	assert.Equal(t, uint32(3), a2.Links)

	// ".." of the moved directory points at its new parent, durably.
	e2 := reopen(t, e, dev)
	d22, err := e2.Lookup(format.RootInode, "d2")
	require.NoError(t, err)
	moved, err := e2.Lookup(d22.Ino, "moved")
	require.NoError(t, err)
	ents, err := e2.Readdir(moved.Ino)
	require.NoError(t, err)
	assert.Equal(t, d22.Ino, ents[1].Ino)
}

func TestRenameReplacesTarget(t *testing.T) {
	e, _ := newEngine(t)

	_, err := e.Create(format.RootInode, "src", 0o644, 0, 0)
	require.NoError(t, err)
	victim, err := e.Create(format.RootInode, "dst", 0o644, 0, 0)
	require.NoError(t, err)

	require.NoError(t, e.Rename(format.RootInode, "src", format.RootInode, "dst"))
	assert.False(t, e.Disk().InodeAllocated(victim.Ino), "displaced inode freed")

	ents, err := e.Readdir(format.RootInode)
	require.NoError(t, err)
	require.Len(t, ents, 3)
	assert.Equal(t, "dst", ents[2].Name)
}

func TestSetAttrTruncate(t *testing.T) {
	e, _ := newEngine(t)

	a, err := e.Create(format.RootInode, "t", 0o644, 0, 0)
	require.NoError(t, err)
	payload := make([]byte, 5000)
	for i := range payload {
		payload[i] = 0xEE
	}
	_, err = e.Write(a.Ino, 0, payload)
	require.NoError(t, err)
	require.NoError(t, e.Fsync(a.Ino))

	shrink := uint64(100)
	attr, err := e.SetAttr(a.Ino, SetAttrRequest{Size: &shrink})
	require.NoError(t, err)
	assert.Equal(t, shrink, attr.Size)

	got, err := e.Read(a.Ino, 0, 5000)
	require.NoError(t, err)
	require.Len(t, got, 100)

	// Growth zero-extends.
	grow := uint64(300)
	_, err = e.SetAttr(a.Ino, SetAttrRequest{Size: &grow})
	require.NoError(t, err)
	got, err = e.Read(a.Ino, 0, 5000)
	require.NoError(t, err)
	require.Len(t, got, 300)
	assert.Equal(t, byte(0xEE), got[50])
	assert.Equal(t, byte(0), got[200], "hole reads as zero")
}

func TestSetAttrChownChmod(t *testing.T) {
	e, _ := newEngine(t)

	a, err := e.Create(format.RootInode, "m", 0o644, 0, 0)
	require.NoError(t, err)

	mode := uint32(0o600)
	uid := uint32(1234)
	attr, err := e.SetAttr(a.Ino, SetAttrRequest{Mode: &mode, UID: &uid})
	require.NoError(t, err)
	assert.Equal(t, format.ModeRegular|0o600, attr.Mode, "type bits preserved")
	assert.Equal(t, uint32(1234), attr.UID)
}

// Scenario S5 scaled down: many files in one directory, each listed exactly
// once, and the free-inode counter drops by exactly that many.
func TestManyFilesInOneDirectory(t *testing.T) {
	e, _ := newEngine(t)

	const n = 300
	freeBefore := e.Disk().FreeInodes()

	for i := 0; i < n; i++ {
		_, err := e.Create(format.RootInode, fmt.Sprintf("file-%04d", i), 0o644, 0, 0)
		require.NoError(t, err)
	}

	ents, err := e.Readdir(format.RootInode)
	require.NoError(t, err)
	require.Len(t, ents, n+2)

	seen := make(map[string]bool, n)
	for _, ent := range ents[2:] {
		assert.False(t, seen[ent.Name], "duplicate entry %s", ent.Name)
		seen[ent.Name] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, freeBefore-n, e.Disk().FreeInodes())
}

// Persistent flush failure latches the engine read-only and mutations
// surface EROFS.
func TestReadOnlyLatch(t *testing.T) {
	e, dev := newEngine(t)

	a, err := e.Create(format.RootInode, "doomed", 0o644, 0, 0)
	require.NoError(t, err)
	_, err = e.Write(a.Ino, 0, make([]byte, 2048))
	require.NoError(t, err)

	dev.FailWrites(true)
	require.Eventually(t, func() bool {
		e.flushWrites()
		return e.ReadOnly()
	}, 2*time.Second, 10*time.Millisecond)
	_, err = e.Write(a.Ino, 0, []byte("nope"))
	assert.ErrorIs(t, err, ErrReadOnlyFS)
	_, err = e.Create(format.RootInode, "also-nope", 0o644, 0, 0)
	assert.ErrorIs(t, err, ErrReadOnlyFS)
}

func TestReadOnlyEngineRefusesMutations(t *testing.T) {
	dev := blockdev.NewMemory(16<<20, testBS)
	require.NoError(t, diskfs.Format(dev, diskfs.FormatOptions{BlockSize: testBS}))
	fs, err := diskfs.Open(dev, diskfs.OpenOptions{SkipMountStamp: true})
	require.NoError(t, err)
	e := New(fs, testConfig(), true)
	defer e.Close()

	_, err = e.Create(format.RootInode, "x", 0o644, 0, 0)
	assert.ErrorIs(t, err, ErrReadOnlyFS)

	// Reads still work.
	ents, err := e.Readdir(format.RootInode)
	require.NoError(t, err)
	assert.Len(t, ents, 2)
}

func TestStatFs(t *testing.T) {
	e, _ := newEngine(t)

	st := e.StatFs()
	assert.Equal(t, uint32(testBS), st.BlockSize)
	assert.Equal(t, uint64(16<<20)/testBS, st.Blocks)
	assert.Equal(t, uint64(16<<20)/format.InodeBytesRatio, st.Inodes)
	assert.NotZero(t, st.FreeBlocks)

	before := st.FreeInodes
	_, err := e.Create(format.RootInode, "one", 0o644, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, before-1, e.StatFs().FreeInodes)
}

// The background flusher drains the queue without explicit syncs.
func TestBackgroundFlusherDrains(t *testing.T) {
	e, _ := newEngine(t)

	a, err := e.Create(format.RootInode, "bg", 0o644, 0, 0)
	require.NoError(t, err)
	_, err = e.Write(a.Ino, 0, make([]byte, 2048))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return !e.wb.pendingFor(a.Ino)
	}, 2*time.Second, 10*time.Millisecond, "flusher drained the queue on its own")

	din, err := e.Disk().ReadInode(a.Ino)
	require.NoError(t, err)
	assert.Equal(t, uint64(2048), din.Size)
}
