package fuse

import (
	"fmt"
	"testing"

	gofuse "github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"

	"github.com/reekid420/AegisFS/pkg/layout"
	"github.com/reekid420/AegisFS/pkg/vfs"
)

func TestErrnoMapping(t *testing.T) {
	cases := []struct {
		err  error
		want gofuse.Status
	}{
		{nil, gofuse.OK},
		{vfs.ErrNotFound, gofuse.ENOENT},
		{fmt.Errorf("lookup: %w", vfs.ErrNotFound), gofuse.ENOENT},
		{vfs.ErrNotADirectory, gofuse.ENOTDIR},
		{vfs.ErrReadOnlyFS, gofuse.EROFS},
		{vfs.ErrInvalidName, gofuse.EINVAL},
		{layout.ErrNoFreeInodes, gofuse.Status(28)}, // ENOSPC
		{layout.ErrNoFreeBlocks, gofuse.Status(28)},
		{fmt.Errorf("some device explosion"), gofuse.EIO},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, errno(c.err), "error %v", c.err)
	}
}

func TestFillAttr(t *testing.T) {
	s := &Server{blockSize: 4096}
	var out gofuse.Attr
	s.fillAttr(vfs.Attr{
		Ino: 7, Mode: 0o100644, Size: 14, Blocks: 8,
		Atime: 1, Mtime: 2, Ctime: 3, Links: 1, UID: 10, GID: 20,
	}, &out)

	assert.Equal(t, uint64(7), out.Ino)
	assert.Equal(t, uint64(14), out.Size)
	assert.Equal(t, uint32(0o100644), out.Mode)
	assert.Equal(t, uint32(1), out.Nlink)
	assert.Equal(t, uint32(10), out.Owner.Uid)
	assert.Equal(t, uint32(4096), out.Blksize)
}
