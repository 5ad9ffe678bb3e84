package scrub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reekid420/AegisFS/pkg/blockdev"
	"github.com/reekid420/AegisFS/pkg/diskfs"
	"github.com/reekid420/AegisFS/pkg/format"
)

const testBS = 512

func freshFS(t *testing.T) (*diskfs.FS, *blockdev.MemoryDevice) {
	t.Helper()
	dev := blockdev.NewMemory(16<<20, testBS)
	require.NoError(t, diskfs.Format(dev, diskfs.FormatOptions{BlockSize: testBS}))
	fs, err := diskfs.Open(dev, diskfs.OpenOptions{SkipMountStamp: true})
	require.NoError(t, err)
	return fs, dev
}

func addFile(t *testing.T, fs *diskfs.FS, name string, size int) uint64 {
	t.Helper()
	ino, err := fs.AllocateInode()
	require.NoError(t, err)
	now := uint64(time.Now().Unix())
	in := &format.Inode{Mode: format.ModeRegular | 0o644, Links: 1, Atime: now, Mtime: now, Ctime: now}
	require.NoError(t, fs.WriteInode(ino, in))
	if size > 0 {
		require.NoError(t, fs.WriteFileData(ino, in, 0, make([]byte, size)))
	}
	root, err := fs.ReadInode(format.RootInode)
	require.NoError(t, err)
	require.NoError(t, fs.AppendDirEntry(format.RootInode, root,
		format.DirEntry{Ino: ino, FileType: format.FileTypeRegular, Name: name}))
	return ino
}

func TestCleanFilesystemScrubsClean(t *testing.T) {
	fs, _ := freshFS(t)
	addFile(t, fs, "a", testBS*3)
	addFile(t, fs, "b", testBS*80) // through the single-indirect tier
	require.NoError(t, fs.Sync())

	report, err := Run(fs, Options{Deep: true})
	require.NoError(t, err)
	assert.True(t, report.Clean(), "problems: %v", report.Problems)
	assert.Equal(t, uint64(3), report.InodesChecked, "root plus two files")
	assert.NotZero(t, report.BlocksChecked)
}

// Counters corrupted on disk are healed by Open, so a scrub right after a
// mount always sees them agreeing with the bitmaps.
func TestCountersHealOnOpen(t *testing.T) {
	fs, dev := freshFS(t)
	addFile(t, fs, "a", testBS)
	require.NoError(t, fs.Sync())

	buf := make([]byte, testBS)
	require.NoError(t, dev.ReadBlock(0, buf))
	sb, err := format.DecodeSuperblock(buf)
	require.NoError(t, err)
	sb.FreeBlocks = 7
	require.NoError(t, sb.Encode(buf))
	require.NoError(t, dev.WriteBlock(0, buf))

	fs2, err := diskfs.Open(dev, diskfs.OpenOptions{SkipMountStamp: true})
	require.NoError(t, err)

	report, err := Run(fs2, Options{})
	require.NoError(t, err)
	assert.True(t, report.Clean(), "problems: %v", report.Problems)
}

func TestDetectsLeakedBlock(t *testing.T) {
	fs, _ := freshFS(t)
	addFile(t, fs, "a", testBS)

	// Allocate a block that no inode references.
	leaked, err := fs.AllocateDataBlock()
	require.NoError(t, err)
	require.NoError(t, fs.Sync())

	report, err := Run(fs, Options{})
	require.NoError(t, err)
	assert.False(t, report.Clean())
	found := false
	for _, p := range report.Problems {
		if p.Kind == "leaked-block" {
			found = true
		}
	}
	assert.True(t, found, "leaked block %d reported: %v", leaked, report.Problems)
}

func TestFixRepairsLeak(t *testing.T) {
	fs, _ := freshFS(t)
	addFile(t, fs, "a", testBS)
	_, err := fs.AllocateDataBlock()
	require.NoError(t, err)
	require.NoError(t, fs.Sync())

	report, err := Run(fs, Options{Fix: true})
	require.NoError(t, err)
	assert.True(t, report.Clean(), "leak fixed in place")
	assert.NotZero(t, report.Fixed)

	// A second pass finds nothing.
	report, err = Run(fs, Options{})
	require.NoError(t, err)
	assert.True(t, report.Clean(), "problems after fix: %v", report.Problems)
}

func TestDetectsDanglingDirEntry(t *testing.T) {
	fs, _ := freshFS(t)
	ino := addFile(t, fs, "a", 0)

	// Free the inode but leave the directory entry behind.
	require.NoError(t, fs.FreeInode(ino))
	require.NoError(t, fs.Sync())

	report, err := Run(fs, Options{})
	require.NoError(t, err)
	found := false
	for _, p := range report.Problems {
		if p.Kind == "dangling-entry" {
			found = true
		}
	}
	assert.True(t, found, "problems: %v", report.Problems)
}

// No two inodes may share a data block (allocation exclusivity).
func TestSharedBlockDetected(t *testing.T) {
	fs, _ := freshFS(t)
	a := addFile(t, fs, "a", testBS)
	b := addFile(t, fs, "b", testBS)

	// Point b's first block at a's first block.
	ina, err := fs.ReadInode(a)
	require.NoError(t, err)
	inb, err := fs.ReadInode(b)
	require.NoError(t, err)
	stolen := ina.Ptr[0]
	orphaned := inb.Ptr[0]
	inb.Ptr[0] = stolen
	require.NoError(t, fs.WriteInode(b, inb))
	require.NoError(t, fs.Sync())

	report, err := Run(fs, Options{})
	require.NoError(t, err)
	var kinds []string
	for _, p := range report.Problems {
		kinds = append(kinds, p.Kind)
	}
	assert.Contains(t, kinds, "shared-block")
	assert.Contains(t, kinds, "leaked-block", "block %d no longer referenced", orphaned)
}
