// Stateful on-disk filesystem: owns the device, the block cache, the live
// superblock, and both allocation bitmaps. Everything above this layer works
// in terms of inodes and file offsets; everything below it in blocks.
package diskfs

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/reekid420/AegisFS/pkg/blockcache"
	"github.com/reekid420/AegisFS/pkg/blockdev"
	"github.com/reekid420/AegisFS/pkg/format"
	"github.com/reekid420/AegisFS/pkg/layout"
)

var (
	ErrNotFormatted      = fmt.Errorf("device does not contain an AegisFS filesystem")
	ErrCorruptSuperblock = fmt.Errorf("superblock is corrupt")
	ErrInvalidInode      = fmt.Errorf("invalid inode number")
	ErrAlreadyFormatted  = fmt.Errorf("device already contains an AegisFS filesystem")
)

// FS is safe for concurrent use. The superblock mutex covers only counter
// and timestamp updates; bitmap state has its own locks inside Bitmap.
type FS struct {
	dev    blockdev.Device
	cache  *blockcache.Cache
	layout layout.Layout

	sbMu sync.Mutex
	sb   *format.Superblock

	inodeBitmap *layout.Bitmap
	dataBitmap  *layout.Bitmap
}

// FormatOptions tunes Format beyond the device itself.
type FormatOptions struct {
	VolumeName string
	BlockSize  uint32
	// Force overwrites an existing valid superblock.
	Force bool
	// RootUID/RootGID own the root directory.
	RootUID uint32
	RootGID uint32
	// CacheBlocks bounds the block cache used while formatting.
	CacheBlocks int
}

// Format writes a fresh filesystem across dev. It refuses a device whose
// first block already carries a valid superblock unless opts.Force is set.
func Format(dev blockdev.Device, opts FormatOptions) error {
	bs := opts.BlockSize
	if bs == 0 {
		bs = format.DefaultBlockSize
	}
	if bs != dev.BlockSize() {
		return fmt.Errorf("device opened with block size %d, format requested %d", dev.BlockSize(), bs)
	}

	l, err := layout.Compute(dev.Size(), bs)
	if err != nil {
		return err
	}

	first := make([]byte, bs)
	if err := dev.ReadBlock(0, first); err != nil {
		return fmt.Errorf("read first block: %w", err)
	}
	if format.HasValidMagic(first) && !opts.Force {
		return ErrAlreadyFormatted
	}

	slog.Info("formatting device",
		"size", dev.Size(), "blockSize", bs,
		"blocks", l.BlockCount, "inodes", l.InodeCount,
		"inodeTable", l.InodeTableStart, "dataStart", l.DataStart)

	cache := blockcache.New(dev, opts.CacheBlocks)
	sb := format.NewSuperblock(dev.Size(), bs, opts.VolumeName)
	now := uint64(time.Now().Unix())
	sb.LastMount = now
	sb.LastWrite = now

	inodeBitmap := layout.NewInodeBitmap(&l)
	dataBitmap := layout.NewDataBitmap(&l)

	fs := &FS{
		dev:         dev,
		cache:       cache,
		layout:      l,
		sb:          sb,
		inodeBitmap: inodeBitmap,
		dataBitmap:  dataBitmap,
	}

	// Zero the inode table so stale records from a previous life cannot be
	// misread as live inodes.
	zero := make([]byte, bs)
	for i := uint64(0); i < l.InodeTableBlocks; i++ {
		if err := cache.WriteBlock(l.InodeTableStart+i, zero); err != nil {
			return fmt.Errorf("clear inode table: %w", err)
		}
	}

	if err := fs.writeRootDirectory(opts.RootUID, opts.RootGID, now); err != nil {
		return err
	}

	if err := fs.PersistMetadata(); err != nil {
		return err
	}
	if err := dev.Sync(); err != nil {
		return fmt.Errorf("sync after format: %w", err)
	}

	slog.Info("format complete", "volume", sb.VolumeNameString(),
		"freeBlocks", fs.FreeBlocks(), "freeInodes", fs.FreeInodes())
	return nil
}

// writeRootDirectory allocates inode 1 plus one data block holding "." and
// "..".
func (fs *FS) writeRootDirectory(uid, gid uint32, now uint64) error {
	ino, err := fs.inodeBitmap.Allocate()
	if err != nil {
		return err
	}
	if ino != format.RootInode {
		return fmt.Errorf("expected root inode %d, allocator returned %d", format.RootInode, ino)
	}

	blk, err := fs.dataBitmap.Allocate()
	if err != nil {
		return err
	}

	dirBlock := make([]byte, fs.layout.BlockSize)
	off := 0
	for _, e := range []format.DirEntry{
		{Ino: format.RootInode, FileType: format.FileTypeDir, Name: "."},
		{Ino: format.RootInode, FileType: format.FileTypeDir, Name: ".."},
	} {
		n, err := format.EncodeDirEntry(&e, dirBlock[off:])
		if err != nil {
			return err
		}
		off += n
	}
	if err := fs.cache.WriteBlock(blk, dirBlock); err != nil {
		return fmt.Errorf("write root directory block: %w", err)
	}

	root := &format.Inode{
		Mode:   format.ModeDir | 0o755,
		UID:    uid,
		GID:    gid,
		Size:   uint64(off),
		Atime:  now,
		Mtime:  now,
		Ctime:  now,
		Links:  2,
		Blocks: uint64(fs.layout.BlockSize) / 512,
	}
	root.Ptr[0] = blk

	return fs.WriteInode(format.RootInode, root)
}

// OpenOptions tunes Open.
type OpenOptions struct {
	CacheBlocks int
	// SkipMountStamp leaves last_mount untouched (scrub, read-only mounts).
	SkipMountStamp bool
}

// Open mounts an existing filesystem: validates the superblock, recomputes
// the layout (failing on any drift from the recorded totals), loads both
// bitmaps, and heals the free counters from the bitmap contents.
func Open(dev blockdev.Device, opts OpenOptions) (*FS, error) {
	first := make([]byte, dev.BlockSize())
	if err := dev.ReadBlock(0, first); err != nil {
		return nil, fmt.Errorf("read superblock: %w", err)
	}
	sb, err := format.DecodeSuperblock(first)
	if err != nil {
		if err == format.ErrBadMagic {
			return nil, fmt.Errorf("%w: %v", ErrNotFormatted, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrCorruptSuperblock, err)
	}
	if sb.BlockSize != dev.BlockSize() {
		return nil, fmt.Errorf("%w: superblock block size %d, device opened with %d",
			ErrCorruptSuperblock, sb.BlockSize, dev.BlockSize())
	}
	if sb.RootInode != format.RootInode {
		return nil, fmt.Errorf("%w: root inode is %d", ErrCorruptSuperblock, sb.RootInode)
	}

	l, err := layout.FromSuperblock(sb)
	if err != nil {
		return nil, err
	}

	cache := blockcache.New(dev, opts.CacheBlocks)
	fs := &FS{
		dev:         dev,
		cache:       cache,
		layout:      l,
		sb:          sb,
		inodeBitmap: layout.NewInodeBitmap(&l),
		dataBitmap:  layout.NewDataBitmap(&l),
	}

	if err := fs.inodeBitmap.Load(cache); err != nil {
		return nil, err
	}
	if err := fs.dataBitmap.Load(cache); err != nil {
		return nil, err
	}

	// The bitmaps are authoritative; counters recorded before a crash may
	// lag behind them.
	fs.sbMu.Lock()
	if sb.FreeInodes != fs.inodeBitmap.FreeCount() || sb.FreeBlocks != fs.dataBitmap.FreeCount() {
		slog.Warn("superblock counters healed from bitmaps",
			"recordedFreeInodes", sb.FreeInodes, "actualFreeInodes", fs.inodeBitmap.FreeCount(),
			"recordedFreeBlocks", sb.FreeBlocks, "actualFreeBlocks", fs.dataBitmap.FreeCount())
	}
	sb.FreeInodes = fs.inodeBitmap.FreeCount()
	sb.FreeBlocks = fs.dataBitmap.FreeCount()
	if !opts.SkipMountStamp {
		sb.LastMount = uint64(time.Now().Unix())
	}
	fs.sbMu.Unlock()

	if !fs.inodeBitmap.IsAllocated(format.RootInode) {
		return nil, fmt.Errorf("%w: root inode is not allocated", ErrCorruptSuperblock)
	}

	slog.Debug("mounted filesystem", "volume", sb.VolumeNameString(),
		"blocks", l.BlockCount, "inodes", l.InodeCount,
		"freeBlocks", sb.FreeBlocks, "freeInodes", sb.FreeInodes)
	return fs, nil
}

// Layout returns the mounted layout.
func (fs *FS) Layout() layout.Layout { return fs.layout }

// Device returns the underlying block device.
func (fs *FS) Device() blockdev.Device { return fs.dev }

// Superblock returns a copy of the live superblock.
func (fs *FS) Superblock() format.Superblock {
	fs.sbMu.Lock()
	defer fs.sbMu.Unlock()
	return *fs.sb
}

// FreeBlocks returns the live free data-block count.
func (fs *FS) FreeBlocks() uint64 { return fs.dataBitmap.FreeCount() }

// FreeInodes returns the live free inode count.
func (fs *FS) FreeInodes() uint64 { return fs.inodeBitmap.FreeCount() }

// ReadInode loads one inode record.
func (fs *FS) ReadInode(ino uint64) (*format.Inode, error) {
	if !fs.layout.ValidInode(ino) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidInode, ino)
	}
	blk, off := fs.layout.InodeLocation(ino)
	buf := make([]byte, fs.layout.BlockSize)
	if err := fs.cache.ReadBlock(blk, buf); err != nil {
		return nil, err
	}
	return format.DecodeInode(buf[off : off+format.InodeSize])
}

// WriteInode stores one inode record with a read-modify-write of its table
// block.
func (fs *FS) WriteInode(ino uint64, in *format.Inode) error {
	if !fs.layout.ValidInode(ino) {
		return fmt.Errorf("%w: %d", ErrInvalidInode, ino)
	}
	blk, off := fs.layout.InodeLocation(ino)
	buf := make([]byte, fs.layout.BlockSize)
	if err := fs.cache.ReadBlock(blk, buf); err != nil {
		return err
	}
	if err := in.Encode(buf[off : off+format.InodeSize]); err != nil {
		return err
	}
	return fs.cache.WriteBlock(blk, buf)
}

// AllocateInode claims the lowest free inode id and mirrors the superblock
// counter.
func (fs *FS) AllocateInode() (uint64, error) {
	ino, err := fs.inodeBitmap.Allocate()
	if err != nil {
		return 0, err
	}
	fs.sbMu.Lock()
	fs.sb.FreeInodes = fs.inodeBitmap.FreeCount()
	fs.sbMu.Unlock()
	return ino, nil
}

// PersistMetadata writes both bitmaps and the superblock. Called by the
// flusher, by sync, and on unmount.
func (fs *FS) PersistMetadata() error {
	if err := fs.inodeBitmap.Save(fs.cache); err != nil {
		return err
	}
	if err := fs.dataBitmap.Save(fs.cache); err != nil {
		return err
	}

	fs.sbMu.Lock()
	fs.sb.FreeInodes = fs.inodeBitmap.FreeCount()
	fs.sb.FreeBlocks = fs.dataBitmap.FreeCount()
	fs.sb.LastWrite = uint64(time.Now().Unix())
	buf := make([]byte, fs.layout.BlockSize)
	err := fs.sb.Encode(buf)
	fs.sbMu.Unlock()
	if err != nil {
		return err
	}

	if err := fs.cache.WriteBlock(0, buf); err != nil {
		return fmt.Errorf("write superblock: %w", err)
	}
	return nil
}

// Sync persists metadata and flushes the device.
func (fs *FS) Sync() error {
	if err := fs.PersistMetadata(); err != nil {
		return err
	}
	return fs.dev.Sync()
}

// Close syncs and releases the device.
func (fs *FS) Close() error {
	if err := fs.Sync(); err != nil {
		fs.dev.Close()
		return err
	}
	return fs.dev.Close()
}

// InodeAllocated reports whether ino's bit is set in the inode bitmap.
func (fs *FS) InodeAllocated(ino uint64) bool {
	return fs.inodeBitmap.IsAllocated(ino)
}

// BlockAllocated reports whether a data block's bit is set.
func (fs *FS) BlockAllocated(num uint64) bool {
	return fs.dataBitmap.IsAllocated(num)
}

// ReadBlockRaw reads any block through the cache; scrub's deep pass uses it
// to surface latent I/O errors.
func (fs *FS) ReadBlockRaw(num uint64, buf []byte) error {
	return fs.cache.ReadBlock(num, buf)
}

// RebuildAllocation resets the data bitmap to exactly the referenced set,
// clearing leaked blocks and marking unmarked ones. Scrub repair only.
func (fs *FS) RebuildAllocation(referenced map[uint64]uint64) error {
	for blk := fs.layout.DataStart; blk < fs.layout.BlockCount; blk++ {
		_, want := referenced[blk]
		have := fs.dataBitmap.IsAllocated(blk)
		switch {
		case want && !have:
			if err := fs.dataBitmap.MarkAllocated(blk); err != nil {
				return err
			}
		case !want && have:
			if err := fs.dataBitmap.Free(blk); err != nil {
				return err
			}
		}
	}
	fs.sbMu.Lock()
	fs.sb.FreeBlocks = fs.dataBitmap.FreeCount()
	fs.sb.FreeInodes = fs.inodeBitmap.FreeCount()
	fs.sbMu.Unlock()
	return nil
}

// AllocateDataBlock claims one free data block and returns its absolute
// number.
func (fs *FS) AllocateDataBlock() (uint64, error) {
	blk, err := fs.dataBitmap.Allocate()
	if err != nil {
		return 0, err
	}
	fs.sbMu.Lock()
	fs.sb.FreeBlocks = fs.dataBitmap.FreeCount()
	fs.sbMu.Unlock()
	return blk, nil
}

// OpenDevice opens a device file sized to the block size its superblock
// records, probing with the minimum block size first. Mount and scrub use
// it so a volume formatted with any block size opens correctly.
func OpenDevice(path string, readOnly bool) (blockdev.Device, error) {
	probe, err := blockdev.OpenFile(path, format.MinBlockSize, readOnly)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, format.MinBlockSize)
	if err := probe.ReadBlock(0, buf); err != nil {
		probe.Close()
		return nil, fmt.Errorf("read superblock: %w", err)
	}
	sb, err := format.DecodeSuperblock(buf)
	if err != nil {
		probe.Close()
		if err == format.ErrBadMagic {
			return nil, fmt.Errorf("%w: %v", ErrNotFormatted, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrCorruptSuperblock, err)
	}
	if sb.BlockSize == format.MinBlockSize {
		return probe, nil
	}
	probe.Close()
	return blockdev.OpenFile(path, sb.BlockSize, readOnly)
}
