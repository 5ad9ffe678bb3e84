package diskfs

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reekid420/AegisFS/pkg/blockdev"
	"github.com/reekid420/AegisFS/pkg/format"
	"github.com/reekid420/AegisFS/pkg/layout"
)

// A small block size keeps the double-indirect tier reachable without
// gigabytes of test data: 8 direct blocks plus 64 single-indirect slots
// means logical block 72 already needs the double-indirect tier.
const testBS = 512

func newDevice(t *testing.T, size uint64) *blockdev.MemoryDevice {
	t.Helper()
	return blockdev.NewMemory(size, testBS)
}

func newFS(t *testing.T) *FS {
	t.Helper()
	dev := newDevice(t, 16<<20)
	require.NoError(t, Format(dev, FormatOptions{VolumeName: "test", BlockSize: testBS}))
	fs, err := Open(dev, OpenOptions{})
	require.NoError(t, err)
	return fs
}

func TestFormatThenOpen(t *testing.T) {
	dev := newDevice(t, 16<<20)
	require.NoError(t, Format(dev, FormatOptions{VolumeName: "vol0", BlockSize: testBS, RootUID: 42, RootGID: 43}))

	fs, err := Open(dev, OpenOptions{})
	require.NoError(t, err)

	sb := fs.Superblock()
	assert.Equal(t, "vol0", sb.VolumeNameString())
	assert.Equal(t, uint32(testBS), sb.BlockSize)
	assert.Equal(t, uint64(16<<20)/testBS, sb.BlockCount)
	assert.Equal(t, uint64(16<<20)/format.InodeBytesRatio, sb.InodeCount)

	root, err := fs.ReadInode(format.RootInode)
	require.NoError(t, err)
	assert.True(t, root.IsDir())
	assert.Equal(t, uint16(2), root.Links)
	assert.Equal(t, uint32(42), root.UID)
	assert.Equal(t, uint32(43), root.GID)

	ents, err := fs.ReadDirEntries(root)
	require.NoError(t, err)
	require.Len(t, ents, 2)
	assert.Equal(t, ".", ents[0].Name)
	assert.Equal(t, "..", ents[1].Name)
	assert.Equal(t, format.RootInode, ents[0].Ino)
	assert.Equal(t, format.RootInode, ents[1].Ino)
}

func TestFormatRefusesWithoutForce(t *testing.T) {
	dev := newDevice(t, 16<<20)
	require.NoError(t, Format(dev, FormatOptions{BlockSize: testBS}))

	err := Format(dev, FormatOptions{BlockSize: testBS})
	assert.ErrorIs(t, err, ErrAlreadyFormatted)

	assert.NoError(t, Format(dev, FormatOptions{BlockSize: testBS, Force: true}))
}

func TestOpenUnformatted(t *testing.T) {
	dev := newDevice(t, 16<<20)
	_, err := Open(dev, OpenOptions{})
	assert.ErrorIs(t, err, ErrNotFormatted)
}

func TestWriteReadSmall(t *testing.T) {
	fs := newFS(t)

	ino, in := makeFile(t, fs)
	payload := []byte("Hello AegisFS!")
	require.NoError(t, fs.WriteFileData(ino, in, 0, payload))
	assert.Equal(t, uint64(len(payload)), in.Size)

	got, err := fs.ReadFileData(in, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// The write persisted through the inode table, not just in memory.
	reread, err := fs.ReadInode(ino)
	require.NoError(t, err)
	assert.Equal(t, in.Size, reread.Size)
	got, err = fs.ReadFileData(reread, 0, uint32(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestWriteCrossesBlocks(t *testing.T) {
	fs := newFS(t)
	ino, in := makeFile(t, fs)

	payload := make([]byte, testBS*3+17)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	require.NoError(t, fs.WriteFileData(ino, in, 5, payload))

	got, err := fs.ReadFileData(in, 5, uint32(len(payload)))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, got))

	// Partial overwrite in the middle preserves surroundings.
	patch := []byte("PATCH")
	require.NoError(t, fs.WriteFileData(ino, in, testBS+1, patch))
	got, err = fs.ReadFileData(in, testBS+1, uint32(len(patch)))
	require.NoError(t, err)
	assert.Equal(t, patch, got)
	before, err := fs.ReadFileData(in, 5, testBS-4)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload[:testBS-4], before))
}

func TestHolesReadAsZero(t *testing.T) {
	fs := newFS(t)
	ino, in := makeFile(t, fs)

	// Write one byte far into the file; everything before is a hole.
	require.NoError(t, fs.WriteFileData(ino, in, uint64(testBS)*10, []byte{0xFF}))
	assert.Equal(t, uint64(testBS)*10+1, in.Size)

	got, err := fs.ReadFileData(in, 0, testBS)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, testBS), got)

	got, err = fs.ReadFileData(in, uint64(testBS)*10, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF}, got)
}

// Logical block indices across all three tiers, including the
// double-indirect range.
func TestIndirectAddressing(t *testing.T) {
	fs := newFS(t)
	ino, in := makeFile(t, fs)

	lay := fs.Layout()
	p := lay.PointersPerBlock() // 64 at 512-byte blocks
	indices := []uint64{0, format.NumDirect - 1, format.NumDirect,
		format.NumDirect + p - 1, format.NumDirect + p,
		format.NumDirect + p + 5, format.NumDirect + p + p*3 + 7, 1000}

	stamp := func(k uint64) []byte {
		buf := make([]byte, testBS)
		for i := range buf {
			buf[i] = byte(k*31 + uint64(i)%127)
		}
		return buf
	}

	for _, k := range indices {
		require.NoError(t, fs.WriteFileData(ino, in, k*testBS, stamp(k)), "block %d", k)
	}
	for _, k := range indices {
		got, err := fs.ReadFileData(in, k*testBS, testBS)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(stamp(k), got), "block %d round-trip", k)
	}

	// All the written indices resolve to distinct physical blocks.
	seen := map[uint64]uint64{}
	for _, k := range indices {
		blk, err := fs.fileBlock(in, k)
		require.NoError(t, err)
		require.NotZero(t, blk)
		owner, dup := seen[blk]
		require.False(t, dup, "block %d shared by logical %d and %d", blk, owner, k)
		seen[blk] = k
	}
}

func TestTruncateFreesBlocks(t *testing.T) {
	fs := newFS(t)
	ino, in := makeFile(t, fs)

	before := fs.FreeBlocks()

	payload := make([]byte, testBS*100)
	require.NoError(t, fs.WriteFileData(ino, in, 0, payload))
	assert.Less(t, fs.FreeBlocks(), before)

	require.NoError(t, fs.Truncate(ino, in, 0))
	assert.Equal(t, before, fs.FreeBlocks(), "all data and index blocks returned")
	assert.Equal(t, uint64(0), in.Size)

	// The old contents are unreachable after re-extension.
	require.NoError(t, fs.Truncate(ino, in, testBS))
	got, err := fs.ReadFileData(in, 0, testBS)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, testBS), got)
}

func TestTruncatePartial(t *testing.T) {
	fs := newFS(t)
	ino, in := makeFile(t, fs)

	payload := make([]byte, testBS*20)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, fs.WriteFileData(ino, in, 0, payload))

	require.NoError(t, fs.Truncate(ino, in, testBS*5+7))
	assert.Equal(t, uint64(testBS*5+7), in.Size)

	got, err := fs.ReadFileData(in, 0, testBS*5+7)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload[:testBS*5+7], got))
}

func TestFreeInodeReleasesEverything(t *testing.T) {
	fs := newFS(t)

	freeInodes := fs.FreeInodes()
	freeBlocks := fs.FreeBlocks()

	ino, in := makeFile(t, fs)
	require.NoError(t, fs.WriteFileData(ino, in, 0, make([]byte, testBS*90)))

	require.NoError(t, fs.FreeInode(ino))
	assert.Equal(t, freeInodes, fs.FreeInodes())
	assert.Equal(t, freeBlocks, fs.FreeBlocks())
	assert.False(t, fs.InodeAllocated(ino))
}

func TestDirAppendRemove(t *testing.T) {
	fs := newFS(t)

	root, err := fs.ReadInode(format.RootInode)
	require.NoError(t, err)

	names := []string{"alpha", "beta", "gamma", "delta"}
	for i, name := range names {
		ent := format.DirEntry{Ino: uint64(10 + i), FileType: format.FileTypeRegular, Name: name}
		require.NoError(t, fs.AppendDirEntry(format.RootInode, root, ent))
	}

	ents, err := fs.ReadDirEntries(root)
	require.NoError(t, err)
	require.Len(t, ents, 2+len(names))
	for i, name := range names {
		assert.Equal(t, name, ents[2+i].Name)
	}

	err = fs.AppendDirEntry(format.RootInode, root,
		format.DirEntry{Ino: 99, Name: "beta"})
	assert.ErrorIs(t, err, ErrEntryExists)

	require.NoError(t, fs.RemoveDirEntry(format.RootInode, root, "beta"))
	ents, err = fs.ReadDirEntries(root)
	require.NoError(t, err)
	require.Len(t, ents, 1+len(names))
	for _, e := range ents {
		assert.NotEqual(t, "beta", e.Name)
	}

	assert.ErrorIs(t, fs.RemoveDirEntry(format.RootInode, root, "beta"), ErrEntryMissing)
}

func TestDirGrowsPastOneBlock(t *testing.T) {
	fs := newFS(t)
	root, err := fs.ReadInode(format.RootInode)
	require.NoError(t, err)

	// 512-byte blocks fill up after a handful of entries.
	var names []string
	for i := 0; i < 60; i++ {
		names = append(names, fmtName(i))
	}
	for i, name := range names {
		ent := format.DirEntry{Ino: uint64(100 + i), FileType: format.FileTypeRegular, Name: name}
		require.NoError(t, fs.AppendDirEntry(format.RootInode, root, ent))
	}
	assert.Greater(t, root.Size, uint64(testBS))

	ents, err := fs.ReadDirEntries(root)
	require.NoError(t, err)
	require.Len(t, ents, 2+len(names))
	for i, name := range names {
		assert.Equal(t, name, ents[2+i].Name)
		assert.Equal(t, uint64(100+i), ents[2+i].Ino)
	}
}

func fmtName(i int) string {
	return fmt.Sprintf("entry-%03d", i)
}

func TestPersistAcrossReopen(t *testing.T) {
	dev := newDevice(t, 16<<20)
	require.NoError(t, Format(dev, FormatOptions{BlockSize: testBS}))

	fs, err := Open(dev, OpenOptions{})
	require.NoError(t, err)

	ino, in := makeFile(t, fs)
	payload := []byte("survives remount")
	require.NoError(t, fs.WriteFileData(ino, in, 0, payload))
	root, err := fs.ReadInode(format.RootInode)
	require.NoError(t, err)
	require.NoError(t, fs.AppendDirEntry(format.RootInode, root,
		format.DirEntry{Ino: ino, FileType: format.FileTypeRegular, Name: "file.txt"}))
	require.NoError(t, fs.Sync())

	fs2, err := Open(dev, OpenOptions{})
	require.NoError(t, err)

	root2, err := fs2.ReadInode(format.RootInode)
	require.NoError(t, err)
	ents, err := fs2.ReadDirEntries(root2)
	require.NoError(t, err)
	require.Len(t, ents, 3)
	assert.Equal(t, "file.txt", ents[2].Name)
	assert.Equal(t, ino, ents[2].Ino)

	in2, err := fs2.ReadInode(ino)
	require.NoError(t, err)
	got, err := fs2.ReadFileData(in2, 0, uint32(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	assert.Equal(t, fs.FreeBlocks(), fs2.FreeBlocks())
	assert.Equal(t, fs.FreeInodes(), fs2.FreeInodes())
}

// Counters heal from the bitmaps when a crash left them stale.
func TestCounterHealingOnOpen(t *testing.T) {
	dev := newDevice(t, 16<<20)
	require.NoError(t, Format(dev, FormatOptions{BlockSize: testBS}))

	fs, err := Open(dev, OpenOptions{})
	require.NoError(t, err)
	ino, in := makeFile(t, fs)
	require.NoError(t, fs.WriteFileData(ino, in, 0, make([]byte, testBS*10)))
	require.NoError(t, fs.Sync())

	// Corrupt the persisted free counters, leaving the bitmaps intact.
	buf := make([]byte, testBS)
	require.NoError(t, dev.ReadBlock(0, buf))
	sb, err := format.DecodeSuperblock(buf)
	require.NoError(t, err)
	sb.FreeBlocks = 1
	sb.FreeInodes = 1
	require.NoError(t, sb.Encode(buf))
	require.NoError(t, dev.WriteBlock(0, buf))

	fs2, err := Open(dev, OpenOptions{})
	require.NoError(t, err)
	assert.Equal(t, fs.FreeBlocks(), fs2.FreeBlocks())
	assert.Equal(t, fs.FreeInodes(), fs2.FreeInodes())
}

func TestBitmapAccuracyInvariant(t *testing.T) {
	fs := newFS(t)

	var inos []uint64
	for i := 0; i < 50; i++ {
		ino, in := makeFile(t, fs)
		require.NoError(t, fs.WriteFileData(ino, in, 0, make([]byte, testBS*2)))
		inos = append(inos, ino)
	}
	for i := 0; i < 50; i += 2 {
		require.NoError(t, fs.FreeInode(inos[i]))
	}

	l := fs.Layout()
	assert.Equal(t, l.InodeCount-1-25-1, fs.FreeInodes(),
		"inode 0 reserved, root, plus 25 surviving files")
}

func TestNoFreeBlocksSurfaces(t *testing.T) {
	// A device just big enough to format but with a tiny data region.
	dev := blockdev.NewMemory(128<<10, testBS)
	require.NoError(t, Format(dev, FormatOptions{BlockSize: testBS}))
	fs, err := Open(dev, OpenOptions{})
	require.NoError(t, err)

	ino, in := makeFile(t, fs)
	err = fs.WriteFileData(ino, in, 0, make([]byte, 1<<20))
	assert.ErrorIs(t, err, layout.ErrNoFreeBlocks)
}

// makeFile allocates and persists an empty regular-file inode.
func makeFile(t *testing.T, fs *FS) (uint64, *format.Inode) {
	t.Helper()
	ino, err := fs.AllocateInode()
	require.NoError(t, err)
	now := uint64(time.Now().Unix())
	in := &format.Inode{
		Mode: format.ModeRegular | 0o644, Links: 1,
		Atime: now, Mtime: now, Ctime: now,
	}
	require.NoError(t, fs.WriteInode(ino, in))
	return ino, in
}

func BenchmarkFormat(b *testing.B) {
	for i := 0; i < b.N; i++ {
		dev := blockdev.NewMemory(8*1024*1024, 4096)

		if err := Format(dev, FormatOptions{BlockSize: 4096}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkWriteFileData(b *testing.B) {
	dev := blockdev.NewMemory(64<<20, 4096)
	if err := Format(dev, FormatOptions{BlockSize: 4096}); err != nil {
		b.Fatal(err)
	}
	fs, err := Open(dev, OpenOptions{})
	if err != nil {
		b.Fatal(err)
	}
	ino, err := fs.AllocateInode()
	if err != nil {
		b.Fatal(err)
	}
	in := &format.Inode{Mode: format.ModeRegular | 0o644, Links: 1}
	if err := fs.WriteInode(ino, in); err != nil {
		b.Fatal(err)
	}
	payload := make([]byte, 4096)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		off := uint64(i%1024) * 4096
		if err := fs.WriteFileData(ino, in, off, payload); err != nil {
			b.Fatal(err)
		}
	}
}
