package vfs

import (
	"time"

	"github.com/reekid420/AegisFS/pkg/format"
)

// cachedInode is the in-memory face of one inode. attr mirrors the on-disk
// record for metadata; data block pointers inside attr are not used by the
// engine (the disk layer owns the mapping).
//
// States: clean (dirty unset, agrees with disk), dirty (metadata changed,
// flusher will write it), pending-free (links hit zero while handles were
// open; freed on last release).
type cachedInode struct {
	ino  uint64
	attr format.Inode

	// children caches name->inode for directories; nil until loaded from
	// the on-disk entries, which stay authoritative.
	children map[string]uint64

	// inline holds the full contents of small files. Purely a cache: every
	// write is also queued for the flusher, so dropping inline loses
	// nothing.
	inline      []byte
	inlineValid bool

	dirty       bool
	pendingFree bool
	handles     int
	lastAccess  time.Time
}

func (ci *cachedInode) touch() { ci.lastAccess = time.Now() }

// markDirty also bumps ctime, which every metadata mutation implies.
func (ci *cachedInode) markDirty(now uint64) {
	ci.dirty = true
	ci.attr.Ctime = now
}

// Attr is the attribute set the kernel adapter consumes.
type Attr struct {
	Ino    uint64
	Mode   uint32
	UID    uint32
	GID    uint32
	Size   uint64
	Blocks uint64
	Atime  uint64
	Mtime  uint64
	Ctime  uint64
	Links  uint32
}

func (ci *cachedInode) attrView() Attr {
	return Attr{
		Ino:    ci.ino,
		Mode:   ci.attr.Mode,
		UID:    ci.attr.UID,
		GID:    ci.attr.GID,
		Size:   ci.attr.Size,
		Blocks: ci.attr.Blocks,
		Atime:  ci.attr.Atime,
		Mtime:  ci.attr.Mtime,
		Ctime:  ci.attr.Ctime,
		Links:  uint32(ci.attr.Links),
	}
}

// SetAttrRequest carries the optional fields of a setattr; nil means leave
// unchanged.
type SetAttrRequest struct {
	Mode  *uint32
	UID   *uint32
	GID   *uint32
	Size  *uint64
	Atime *uint64
	Mtime *uint64
}
