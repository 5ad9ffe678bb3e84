package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuperblockRoundtrip(t *testing.T) {
	sb := NewSuperblock(1<<30, 4096, "testvol")
	sb.FreeBlocks = 1000
	sb.FreeInodes = 2000
	sb.LastMount = 1234
	sb.LastWrite = 5678

	buf := make([]byte, 4096)
	require.NoError(t, sb.Encode(buf))

	got, err := DecodeSuperblock(buf)
	require.NoError(t, err)

	assert.Equal(t, Version, got.Version)
	assert.Equal(t, uint64(1<<30), got.Size)
	assert.Equal(t, uint32(4096), got.BlockSize)
	assert.Equal(t, uint64(1<<30)/4096, got.BlockCount)
	assert.Equal(t, uint64(1000), got.FreeBlocks)
	assert.Equal(t, uint64(2000), got.FreeInodes)
	assert.Equal(t, uint64(1<<30)/InodeBytesRatio, got.InodeCount)
	assert.Equal(t, RootInode, got.RootInode)
	assert.Equal(t, uint64(1234), got.LastMount)
	assert.Equal(t, uint64(5678), got.LastWrite)
	assert.Equal(t, sb.UUID, got.UUID)
	assert.Equal(t, "testvol", got.VolumeNameString())
}

func TestSuperblockBadMagic(t *testing.T) {
	buf := make([]byte, 4096)
	_, err := DecodeSuperblock(buf)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestSuperblockBadVersion(t *testing.T) {
	sb := NewSuperblock(1<<30, 4096, "")
	sb.Version = 99
	buf := make([]byte, 4096)
	require.NoError(t, sb.Encode(buf))
	_, err := DecodeSuperblock(buf)
	assert.ErrorIs(t, err, ErrBadVersion)
}

func TestVolumeNameTruncated(t *testing.T) {
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'x'
	}
	sb := NewSuperblock(1<<30, 4096, string(long))
	assert.Len(t, sb.VolumeNameString(), 63)
}

func TestInodeRoundtrip(t *testing.T) {
	in := &Inode{
		Mode:   ModeRegular | 0o644,
		UID:    1000,
		GID:    1000,
		Size:   123456,
		Atime:  1,
		Mtime:  2,
		Ctime:  3,
		Links:  1,
		Blocks: 9,
		Flags:  0,
	}
	for i := range in.Ptr {
		in.Ptr[i] = uint64(100 + i)
	}

	buf := make([]byte, InodeSize)
	require.NoError(t, in.Encode(buf))

	got, err := DecodeInode(buf)
	require.NoError(t, err)
	assert.Equal(t, in, got)
	assert.True(t, got.IsRegular())
	assert.False(t, got.IsDir())
}

func TestInodeTypeBits(t *testing.T) {
	dir := &Inode{Mode: ModeDir | 0o755}
	assert.True(t, dir.IsDir())
	assert.Equal(t, FileTypeDir, dir.FileType())

	reg := &Inode{Mode: ModeRegular | 0o644}
	assert.Equal(t, FileTypeRegular, reg.FileType())
}

func TestDirEntryPackIterate(t *testing.T) {
	block := make([]byte, 4096)
	names := []string{".", "..", "a", "hello.txt", "a-much-longer-file-name"}

	off := 0
	for i, name := range names {
		e := DirEntry{Ino: uint64(i + 1), FileType: FileTypeRegular, Name: name}
		n, err := EncodeDirEntry(&e, block[off:])
		require.NoError(t, err)
		assert.Equal(t, 0, n%4, "record length must be 4-byte aligned")
		off += n
	}

	got, err := DecodeDirEntries(block)
	require.NoError(t, err)
	require.Len(t, got, len(names))
	for i, name := range names {
		assert.Equal(t, name, got[i].Name)
		assert.Equal(t, uint64(i+1), got[i].Ino)
	}
}

func TestDirEntryNameLimits(t *testing.T) {
	buf := make([]byte, 4096)

	_, err := EncodeDirEntry(&DirEntry{Ino: 1, Name: ""}, buf)
	assert.ErrorIs(t, err, ErrBadName)

	long := make([]byte, MaxNameLen+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = EncodeDirEntry(&DirEntry{Ino: 1, Name: string(long)}, buf)
	assert.ErrorIs(t, err, ErrBadName)

	_, err = EncodeDirEntry(&DirEntry{Ino: 1, Name: string(long[:MaxNameLen])}, buf)
	assert.NoError(t, err)
}

func TestDirEntriesStopAtTerminator(t *testing.T) {
	block := make([]byte, 4096)
	e := DirEntry{Ino: 7, FileType: FileTypeRegular, Name: "only"}
	_, err := EncodeDirEntry(&e, block)
	require.NoError(t, err)

	got, err := DecodeDirEntries(block)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(7), got[0].Ino)
}

func TestDirEntriesRejectCorruptRecLen(t *testing.T) {
	block := make([]byte, 64)
	e := DirEntry{Ino: 1, FileType: FileTypeRegular, Name: "x"}
	_, err := EncodeDirEntry(&e, block)
	require.NoError(t, err)
	block[8] = 3 // rec_len below the header size
	block[9] = 0

	_, err = DecodeDirEntries(block)
	assert.Error(t, err)
}
