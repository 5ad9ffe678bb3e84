package diskfs

import (
	"fmt"

	"github.com/reekid420/AegisFS/pkg/format"
)

var (
	ErrNotADirectory = fmt.Errorf("not a directory")
	ErrEntryExists   = fmt.Errorf("directory entry already exists")
	ErrEntryMissing  = fmt.Errorf("directory entry not found")
)

// ReadDirEntries returns the live entries of a directory in on-disk order.
func (fs *FS) ReadDirEntries(in *format.Inode) ([]format.DirEntry, error) {
	if !in.IsDir() {
		return nil, ErrNotADirectory
	}

	bs := uint64(fs.layout.BlockSize)
	blocks := (in.Size + bs - 1) / bs
	var out []format.DirEntry
	for idx := uint64(0); idx < blocks; idx++ {
		blk, err := fs.fileBlock(in, idx)
		if err != nil {
			return nil, err
		}
		if blk == 0 {
			continue
		}
		buf := make([]byte, bs)
		if err := fs.cache.ReadBlock(blk, buf); err != nil {
			return nil, err
		}
		ents, err := format.DecodeDirEntries(buf)
		if err != nil {
			return nil, fmt.Errorf("directory block %d: %w", blk, err)
		}
		out = append(out, ents...)
	}
	return out, nil
}

// AppendDirEntry adds a binding to the directory, extending it by a block
// when the tail block has no room. Fails if the name is already bound.
func (fs *FS) AppendDirEntry(ino uint64, in *format.Inode, ent format.DirEntry) error {
	if !in.IsDir() {
		return ErrNotADirectory
	}

	existing, err := fs.ReadDirEntries(in)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e.Name == ent.Name {
			return fmt.Errorf("%w: %q", ErrEntryExists, ent.Name)
		}
	}

	bs := uint64(fs.layout.BlockSize)
	need := uint64(ent.RecLen())

	// The entries are packed from the start of each block; in.Size always
	// points one past the last record.
	tailUsed := in.Size % bs
	if in.Size > 0 && tailUsed == 0 {
		tailUsed = bs
	}

	if in.Size == 0 || tailUsed+need > bs {
		// Start a new block.
		idx := (in.Size + bs - 1) / bs
		blk, err := fs.dataBitmap.Allocate()
		if err != nil {
			return err
		}
		buf := make([]byte, bs)
		if _, err := format.EncodeDirEntry(&ent, buf); err != nil {
			fs.dataBitmap.Free(blk)
			return err
		}
		if err := fs.cache.WriteBlock(blk, buf); err != nil {
			fs.dataBitmap.Free(blk)
			return err
		}
		if err := fs.setFileBlock(in, idx, blk); err != nil {
			fs.dataBitmap.Free(blk)
			return err
		}
		in.Blocks += bs / 512
		in.Size = idx*bs + need
	} else {
		idx := (in.Size - 1) / bs
		blk, err := fs.fileBlock(in, idx)
		if err != nil {
			return err
		}
		buf := make([]byte, bs)
		if err := fs.cache.ReadBlock(blk, buf); err != nil {
			return err
		}
		if _, err := format.EncodeDirEntry(&ent, buf[tailUsed:]); err != nil {
			return err
		}
		if err := fs.cache.WriteBlock(blk, buf); err != nil {
			return err
		}
		in.Size += need
	}

	return fs.WriteInode(ino, in)
}

// RemoveDirEntry unbinds name from the directory by rewriting the surviving
// entries packed from the front and truncating the leftover blocks.
func (fs *FS) RemoveDirEntry(ino uint64, in *format.Inode, name string) error {
	if !in.IsDir() {
		return ErrNotADirectory
	}

	entries, err := fs.ReadDirEntries(in)
	if err != nil {
		return err
	}
	found := false
	kept := entries[:0]
	for _, e := range entries {
		if e.Name == name {
			found = true
			continue
		}
		kept = append(kept, e)
	}
	if !found {
		return fmt.Errorf("%w: %q", ErrEntryMissing, name)
	}

	return fs.RewriteDir(ino, in, kept)
}

// RewriteDir replaces the directory's contents with exactly the given
// entries, packed in order, freeing any blocks past the new end.
func (fs *FS) RewriteDir(ino uint64, in *format.Inode, entries []format.DirEntry) error {
	bs := uint64(fs.layout.BlockSize)

	buf := make([]byte, bs)
	blockIdx := uint64(0)
	off := 0
	size := uint64(0)

	flush := func() error {
		blk, err := fs.fileBlock(in, blockIdx)
		if err != nil {
			return err
		}
		if blk == 0 {
			if blk, err = fs.dataBitmap.Allocate(); err != nil {
				return err
			}
			if err := fs.setFileBlock(in, blockIdx, blk); err != nil {
				fs.dataBitmap.Free(blk)
				return err
			}
			in.Blocks += bs / 512
		}
		return fs.cache.WriteBlock(blk, buf)
	}

	for i := range entries {
		rl := entries[i].RecLen()
		if off+rl > int(bs) {
			if err := flush(); err != nil {
				return err
			}
			blockIdx++
			off = 0
			clear(buf)
			size = blockIdx * bs
		}
		n, err := format.EncodeDirEntry(&entries[i], buf[off:])
		if err != nil {
			return err
		}
		off += n
		size += uint64(n)
	}
	if off > 0 || blockIdx == 0 {
		// Zero the tail so iteration stops at the last record.
		for i := off; i < int(bs); i++ {
			buf[i] = 0
		}
		if err := flush(); err != nil {
			return err
		}
	}

	return fs.Truncate(ino, in, size)
}
