// Write-back caching VFS engine: the layer between the kernel adapter and
// the on-disk filesystem. It keeps an inode cache and a write-back queue in
// front of the disk layer and runs the background flusher that reconciles
// the two.
//
// Locking: e.mu guards the inode cache; the write-back queue has its own
// lock. Operations never flush inline while holding either one; they hand
// the flusher a deferred request instead (the historical deadlock this
// design exists to prevent).
package vfs

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reekid420/AegisFS/pkg/config"
	"github.com/reekid420/AegisFS/pkg/diskfs"
	"github.com/reekid420/AegisFS/pkg/format"
)

var (
	ErrNotFound      = fmt.Errorf("no such file or directory")
	ErrExists        = fmt.Errorf("file exists")
	ErrNotADirectory = fmt.Errorf("not a directory")
	ErrIsADirectory  = fmt.Errorf("is a directory")
	ErrNotEmpty      = fmt.Errorf("directory not empty")
	ErrReadOnlyFS    = fmt.Errorf("filesystem is read-only")
	ErrInvalidName   = fmt.Errorf("invalid name")
)

// Engine serves every filesystem operation the kernel adapter needs.
type Engine struct {
	disk *diskfs.FS
	cfg  config.Config

	mu     sync.RWMutex
	inodes map[uint64]*cachedInode

	wb        *writeback
	flushSoon chan struct{}
	flushing  atomic.Bool
	readOnly  atomic.Bool

	stopped chan struct{}
	wg      sync.WaitGroup
}

// New wraps a mounted disk filesystem. ReadOnly engines accept no
// mutations but still serve reads.
func New(disk *diskfs.FS, cfg config.Config, readOnly bool) *Engine {
	e := &Engine{
		disk:      disk,
		cfg:       cfg,
		inodes:    make(map[uint64]*cachedInode),
		wb:        newWriteback(),
		flushSoon: make(chan struct{}, 1),
		stopped:   make(chan struct{}),
	}
	e.readOnly.Store(readOnly)

	e.wg.Add(1)
	go e.runFlusher()
	return e
}

// Disk exposes the underlying disk filesystem (scrub, tests).
func (e *Engine) Disk() *diskfs.FS { return e.disk }

// ReadOnly reports whether mutations are refused.
func (e *Engine) ReadOnly() bool { return e.readOnly.Load() }

func now() uint64 { return uint64(time.Now().Unix()) }

// loadInodeLocked returns the cached entry for ino, reading it from disk on first
// access. Caller must hold e.mu for writing.
func (e *Engine) loadInodeLocked(ino uint64) (*cachedInode, error) {
	if ci, ok := e.inodes[ino]; ok {
		ci.touch()
		return ci, nil
	}
	if !e.disk.InodeAllocated(ino) {
		return nil, fmt.Errorf("%w: inode %d", ErrNotFound, ino)
	}
	din, err := e.disk.ReadInode(ino)
	if err != nil {
		return nil, err
	}
	ci := &cachedInode{ino: ino, attr: *din}
	ci.touch()
	e.inodes[ino] = ci
	return ci, nil
}

// childrenLocked returns the directory's name map, populating it lazily from the
// authoritative on-disk entries. Caller holds e.mu for writing.
func (e *Engine) childrenLocked(ci *cachedInode) (map[string]uint64, error) {
	if !ci.attr.IsDir() {
		return nil, ErrNotADirectory
	}
	if ci.children != nil {
		return ci.children, nil
	}
	din, err := e.disk.ReadInode(ci.ino)
	if err != nil {
		return nil, err
	}
	ents, err := e.disk.ReadDirEntries(din)
	if err != nil {
		return nil, err
	}
	m := make(map[string]uint64, len(ents))
	for _, ent := range ents {
		m[ent.Name] = ent.Ino
	}
	ci.children = m
	return m, nil
}

// Lookup resolves name within the parent directory.
func (e *Engine) Lookup(parent uint64, name string) (Attr, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pci, err := e.loadInodeLocked(parent)
	if err != nil {
		return Attr{}, err
	}
	kids, err := e.childrenLocked(pci)
	if err != nil {
		return Attr{}, err
	}
	ino, ok := kids[name]
	if !ok {
		return Attr{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	ci, err := e.loadInodeLocked(ino)
	if err != nil {
		return Attr{}, err
	}
	return ci.attrView(), nil
}

// GetAttr returns the cached attributes of ino.
func (e *Engine) GetAttr(ino uint64) (Attr, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ci, err := e.loadInodeLocked(ino)
	if err != nil {
		return Attr{}, err
	}
	return ci.attrView(), nil
}

// SetAttr applies the requested changes. A shrinking size truncates through
// the disk layer; growth zero-extends.
func (e *Engine) SetAttr(ino uint64, req SetAttrRequest) (Attr, error) {
	if e.readOnly.Load() {
		return Attr{}, ErrReadOnlyFS
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ci, err := e.loadInodeLocked(ino)
	if err != nil {
		return Attr{}, err
	}

	ts := now()
	if req.Mode != nil {
		ci.attr.Mode = ci.attr.Mode&format.ModeTypeMask | *req.Mode&^format.ModeTypeMask
	}
	if req.UID != nil {
		ci.attr.UID = *req.UID
	}
	if req.GID != nil {
		ci.attr.GID = *req.GID
	}
	if req.Atime != nil {
		ci.attr.Atime = *req.Atime
	}
	if req.Mtime != nil {
		ci.attr.Mtime = *req.Mtime
	}
	if req.Size != nil && *req.Size != ci.attr.Size {
		if ci.attr.IsDir() {
			return Attr{}, ErrIsADirectory
		}
		// Queued writes past the new end must not resurface after the
		// truncate lands.
		if *req.Size < ci.attr.Size {
			e.wb.dropFor(ino)
		}
		din, err := e.disk.ReadInode(ino)
		if err != nil {
			return Attr{}, err
		}
		if err := e.disk.Truncate(ino, din, *req.Size); err != nil {
			return Attr{}, err
		}
		ci.attr.Size = *req.Size
		ci.attr.Blocks = din.Blocks
		e.resizeInline(ci, *req.Size)
		ci.attr.Mtime = ts
	}
	ci.markDirty(ts)
	e.requestFlush()
	return ci.attrView(), nil
}

func (e *Engine) resizeInline(ci *cachedInode, size uint64) {
	if !ci.inlineValid {
		return
	}
	if size > e.cfg.SmallFileLimit {
		ci.inline = nil
		ci.inlineValid = false
		return
	}
	if size <= uint64(len(ci.inline)) {
		ci.inline = ci.inline[:size]
		return
	}
	grown := make([]byte, size)
	copy(grown, ci.inline)
	ci.inline = grown
}

// Create makes a regular file bound to name under parent. It registers no
// open handle; callers that keep the file open call Open.
func (e *Engine) Create(parent uint64, name string, mode uint32, uid, gid uint32) (Attr, error) {
	return e.makeNode(parent, name, format.ModeRegular|mode&^format.ModeTypeMask, uid, gid)
}

// Mkdir makes a directory bound to name under parent.
func (e *Engine) Mkdir(parent uint64, name string, mode uint32, uid, gid uint32) (Attr, error) {
	return e.makeNode(parent, name, format.ModeDir|mode&^format.ModeTypeMask, uid, gid)
}

func validName(name string) error {
	if name == "" || len(name) > format.MaxNameLen {
		return ErrInvalidName
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' || name[i] == 0 {
			return ErrInvalidName
		}
	}
	if name == "." || name == ".." {
		return ErrInvalidName
	}
	return nil
}

func (e *Engine) makeNode(parent uint64, name string, mode uint32, uid, gid uint32) (Attr, error) {
	if e.readOnly.Load() {
		return Attr{}, ErrReadOnlyFS
	}
	if err := validName(name); err != nil {
		return Attr{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	pci, err := e.loadInodeLocked(parent)
	if err != nil {
		return Attr{}, err
	}
	kids, err := e.childrenLocked(pci)
	if err != nil {
		return Attr{}, err
	}
	if _, ok := kids[name]; ok {
		return Attr{}, fmt.Errorf("%w: %q", ErrExists, name)
	}

	ino, err := e.disk.AllocateInode()
	if err != nil {
		return Attr{}, err
	}

	ts := now()
	isDir := mode&format.ModeTypeMask == format.ModeDir
	in := format.Inode{
		Mode:  mode,
		UID:   uid,
		GID:   gid,
		Atime: ts,
		Mtime: ts,
		Ctime: ts,
		Links: 1,
	}
	if isDir {
		in.Links = 2
	}
	if err := e.disk.WriteInode(ino, &in); err != nil {
		return Attr{}, err
	}

	if isDir {
		// Seed "." and ".." so the directory reads correctly from disk.
		din := in
		for _, ent := range []format.DirEntry{
			{Ino: ino, FileType: format.FileTypeDir, Name: "."},
			{Ino: parent, FileType: format.FileTypeDir, Name: ".."},
		} {
			if err := e.disk.AppendDirEntry(ino, &din, ent); err != nil {
				return Attr{}, err
			}
		}
		in = din
	}

	ent := format.DirEntry{Ino: ino, Name: name}
	if isDir {
		ent.FileType = format.FileTypeDir
	} else {
		ent.FileType = format.FileTypeRegular
	}
	pdin, err := e.disk.ReadInode(parent)
	if err != nil {
		return Attr{}, err
	}
	if err := e.disk.AppendDirEntry(parent, pdin, ent); err != nil {
		return Attr{}, err
	}

	kids[name] = ino
	pci.attr.Size = pdin.Size
	pci.attr.Blocks = pdin.Blocks
	pci.attr.Mtime = ts
	if isDir {
		pci.attr.Links++
	}
	pci.markDirty(ts)

	ci := &cachedInode{ino: ino, attr: in}
	if !isDir {
		ci.inline = []byte{}
		ci.inlineValid = true
	}
	ci.touch()
	e.inodes[ino] = ci

	e.requestFlush()
	slog.Debug("created node", "parent", parent, "name", name, "ino", ino, "dir", isDir)
	return ci.attrView(), nil
}

// Unlink removes a non-directory entry. The inode is freed once the link
// count is zero and no handles remain open.
func (e *Engine) Unlink(parent uint64, name string) error {
	return e.removeEntry(parent, name, false)
}

// Rmdir removes an empty directory.
func (e *Engine) Rmdir(parent uint64, name string) error {
	return e.removeEntry(parent, name, true)
}

func (e *Engine) removeEntry(parent uint64, name string, wantDir bool) error {
	if e.readOnly.Load() {
		return ErrReadOnlyFS
	}
	if name == "." || name == ".." {
		return ErrInvalidName
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	pci, err := e.loadInodeLocked(parent)
	if err != nil {
		return err
	}
	kids, err := e.childrenLocked(pci)
	if err != nil {
		return err
	}
	ino, ok := kids[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	ci, err := e.loadInodeLocked(ino)
	if err != nil {
		return err
	}

	if wantDir {
		if !ci.attr.IsDir() {
			return ErrNotADirectory
		}
		ckids, err := e.childrenLocked(ci)
		if err != nil {
			return err
		}
		for n := range ckids {
			if n != "." && n != ".." {
				return ErrNotEmpty
			}
		}
	} else if ci.attr.IsDir() {
		return ErrIsADirectory
	}

	pdin, err := e.disk.ReadInode(parent)
	if err != nil {
		return err
	}
	if err := e.disk.RemoveDirEntry(parent, pdin, name); err != nil {
		return err
	}

	ts := now()
	delete(kids, name)
	pci.attr.Size = pdin.Size
	pci.attr.Blocks = pdin.Blocks
	pci.attr.Mtime = ts
	if wantDir {
		pci.attr.Links--
	}
	pci.markDirty(ts)

	if wantDir {
		ci.attr.Links = 0
	} else if ci.attr.Links > 0 {
		ci.attr.Links--
	}
	ci.markDirty(ts)

	if ci.attr.Links == 0 {
		if ci.handles > 0 {
			ci.pendingFree = true
			slog.Debug("unlink deferred to last close", "ino", ino, "handles", ci.handles)
		} else {
			return e.freeLocked(ci)
		}
	}
	e.requestFlush()
	return nil
}

// freeLocked releases an inode whose last link (and handle) is gone.
func (e *Engine) freeLocked(ci *cachedInode) error {
	e.wb.dropFor(ci.ino)
	if err := e.disk.FreeInode(ci.ino); err != nil {
		return err
	}
	delete(e.inodes, ci.ino)
	e.requestFlush()
	return nil
}

// Rename re-binds an entry, replacing a compatible existing target the way
// rename(2) does. Cross-directory moves update both parents and the moved
// directory's "..".
func (e *Engine) Rename(oldParent uint64, oldName string, newParent uint64, newName string) error {
	if e.readOnly.Load() {
		return ErrReadOnlyFS
	}
	if err := validName(newName); err != nil {
		return err
	}
	if oldName == "." || oldName == ".." {
		return ErrInvalidName
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	opci, err := e.loadInodeLocked(oldParent)
	if err != nil {
		return err
	}
	okids, err := e.childrenLocked(opci)
	if err != nil {
		return err
	}
	ino, ok := okids[oldName]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, oldName)
	}
	ci, err := e.loadInodeLocked(ino)
	if err != nil {
		return err
	}

	npci := opci
	nkids := okids
	if newParent != oldParent {
		if npci, err = e.loadInodeLocked(newParent); err != nil {
			return err
		}
		if nkids, err = e.childrenLocked(npci); err != nil {
			return err
		}
	}

	ts := now()

	// Displace an existing target first.
	if targetIno, exists := nkids[newName]; exists {
		if targetIno == ino {
			return nil
		}
		tci, err := e.loadInodeLocked(targetIno)
		if err != nil {
			return err
		}
		if tci.attr.IsDir() {
			if !ci.attr.IsDir() {
				return ErrIsADirectory
			}
			tkids, err := e.childrenLocked(tci)
			if err != nil {
				return err
			}
			for n := range tkids {
				if n != "." && n != ".." {
					return ErrNotEmpty
				}
			}
		} else if ci.attr.IsDir() {
			return ErrNotADirectory
		}
		ndin, err := e.disk.ReadInode(newParent)
		if err != nil {
			return err
		}
		if err := e.disk.RemoveDirEntry(newParent, ndin, newName); err != nil {
			return err
		}
		npci.attr.Size = ndin.Size
		npci.attr.Blocks = ndin.Blocks
		delete(nkids, newName)
		if tci.attr.IsDir() {
			tci.attr.Links = 0
			npci.attr.Links--
		} else if tci.attr.Links > 0 {
			tci.attr.Links--
		}
		if tci.attr.Links == 0 {
			if tci.handles > 0 {
				tci.pendingFree = true
			} else if err := e.freeLocked(tci); err != nil {
				return err
			}
		}
	}

	odin, err := e.disk.ReadInode(oldParent)
	if err != nil {
		return err
	}
	if err := e.disk.RemoveDirEntry(oldParent, odin, oldName); err != nil {
		return err
	}
	delete(okids, oldName)
	opci.attr.Size = odin.Size
	opci.attr.Blocks = odin.Blocks
	opci.attr.Mtime = ts
	opci.markDirty(ts)

	ndin, err := e.disk.ReadInode(newParent)
	if err != nil {
		return err
	}
	ent := format.DirEntry{Ino: ino, FileType: ci.attr.FileType(), Name: newName}
	if err := e.disk.AppendDirEntry(newParent, ndin, ent); err != nil {
		return err
	}
	nkids[newName] = ino
	npci.attr.Size = ndin.Size
	npci.attr.Blocks = ndin.Blocks
	npci.attr.Mtime = ts
	npci.markDirty(ts)

	// A directory moving between parents re-points ".." and shifts the
	// parents' link counts.
	if ci.attr.IsDir() && newParent != oldParent {
		din, err := e.disk.ReadInode(ino)
		if err != nil {
			return err
		}
		ents, err := e.disk.ReadDirEntries(din)
		if err != nil {
			return err
		}
		for i := range ents {
			if ents[i].Name == ".." {
				ents[i].Ino = newParent
			}
		}
		if err := e.disk.RewriteDir(ino, din, ents); err != nil {
			return err
		}
		if ci.children != nil {
			ci.children[".."] = newParent
		}
		opci.attr.Links--
		npci.attr.Links++
	}

	ci.markDirty(ts)
	e.requestFlush()
	return nil
}

// DirEntry is one readdir row.
type DirEntry struct {
	Ino      uint64
	FileType uint8
	Name     string
}

// Readdir lists the directory in on-disk entry order; "." and ".." come
// first because creation writes them first.
func (e *Engine) Readdir(ino uint64) ([]DirEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ci, err := e.loadInodeLocked(ino)
	if err != nil {
		return nil, err
	}
	if !ci.attr.IsDir() {
		return nil, ErrNotADirectory
	}
	din, err := e.disk.ReadInode(ino)
	if err != nil {
		return nil, err
	}
	ents, err := e.disk.ReadDirEntries(din)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, len(ents))
	for i, ent := range ents {
		out[i] = DirEntry{Ino: ent.Ino, FileType: ent.FileType, Name: ent.Name}
	}
	ci.attr.Atime = now()
	return out, nil
}

// Open registers a handle on ino.
func (e *Engine) Open(ino uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ci, err := e.loadInodeLocked(ino)
	if err != nil {
		return err
	}
	ci.handles++
	return nil
}

// Release drops a handle; the last release of a pending-free inode frees
// it.
func (e *Engine) Release(ino uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ci, ok := e.inodes[ino]
	if !ok {
		return nil
	}
	if ci.handles > 0 {
		ci.handles--
	}
	if ci.pendingFree && ci.handles == 0 {
		return e.freeLocked(ci)
	}
	return nil
}

// Read returns up to length bytes at offset. The engine's own queued writes
// are always visible: small files come from the inline buffer, larger ones
// from disk with the pending queue overlaid.
func (e *Engine) Read(ino uint64, offset uint64, length uint32) ([]byte, error) {
	e.mu.Lock()
	ci, err := e.loadInodeLocked(ino)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if ci.attr.IsDir() {
		e.mu.Unlock()
		return nil, ErrIsADirectory
	}

	size := ci.attr.Size
	if offset >= size {
		e.mu.Unlock()
		return nil, nil
	}
	if remain := size - offset; uint64(length) > remain {
		length = uint32(remain)
	}

	if ci.inlineValid {
		out := make([]byte, length)
		if offset < uint64(len(ci.inline)) {
			copy(out, ci.inline[offset:])
		}
		ci.attr.Atime = now()
		e.mu.Unlock()
		return out, nil
	}
	ci.attr.Atime = now()
	e.mu.Unlock()

	din, err := e.disk.ReadInode(ino)
	if err != nil {
		return nil, err
	}
	out := make([]byte, length)
	diskData, err := e.disk.ReadFileData(din, offset, length)
	if err != nil {
		return nil, err
	}
	copy(out, diskData)
	e.wb.overlay(ino, offset, out)
	return out, nil
}

// Write queues data for the flusher and updates the cached size so the
// writer reads its own bytes back immediately. Above the high-water mark
// the call blocks until the queue drains below it.
func (e *Engine) Write(ino uint64, offset uint64, data []byte) (uint32, error) {
	if e.readOnly.Load() {
		return 0, ErrReadOnlyFS
	}

	e.mu.Lock()
	ci, err := e.loadInodeLocked(ino)
	if err != nil {
		e.mu.Unlock()
		return 0, err
	}
	if ci.attr.IsDir() {
		e.mu.Unlock()
		return 0, ErrIsADirectory
	}

	ts := now()
	end := offset + uint64(len(data))
	if end > ci.attr.Size {
		ci.attr.Size = end
	}
	ci.attr.Mtime = ts
	ci.markDirty(ts)

	if ci.inlineValid {
		if ci.attr.Size <= e.cfg.SmallFileLimit {
			if end > uint64(len(ci.inline)) {
				grown := make([]byte, end)
				copy(grown, ci.inline)
				ci.inline = grown
			}
			copy(ci.inline[offset:], data)
		} else {
			// The file outgrew the inline path; disk plus the queue is now
			// the source of truth.
			ci.inline = nil
			ci.inlineValid = false
		}
	}
	e.mu.Unlock()

	resident := e.wb.append(ino, offset, data)

	if resident > e.cfg.WritebackHighWater {
		if err := e.waitBelowHighWater(); err != nil {
			return 0, err
		}
	}
	return uint32(len(data)), nil
}

// Fsync makes every already-returned write to ino durable before
// returning.
func (e *Engine) Fsync(ino uint64) error {
	return e.waitDurable(ino)
}

// StatFs reports totals and free counts from the live superblock state.
type StatFs struct {
	BlockSize  uint32
	Blocks     uint64
	FreeBlocks uint64
	Inodes     uint64
	FreeInodes uint64
	MaxNameLen uint32
}

func (e *Engine) StatFs() StatFs {
	sb := e.disk.Superblock()
	return StatFs{
		BlockSize:  sb.BlockSize,
		Blocks:     sb.BlockCount,
		FreeBlocks: e.disk.FreeBlocks(),
		Inodes:     sb.InodeCount,
		FreeInodes: e.disk.FreeInodes(),
		MaxNameLen: format.MaxNameLen,
	}
}

// Sync flushes everything and waits for it.
func (e *Engine) Sync() error {
	for {
		e.flushWrites()
		e.wb.mu.Lock()
		for e.flushing.Load() {
			e.wb.cond.Wait()
		}
		done := len(e.wb.entries) == 0 || e.readOnly.Load()
		e.wb.mu.Unlock()
		if done {
			return nil
		}
	}
}

// Close stops the flusher, performs the final flush, and closes the disk.
// Always called on unmount; best-effort when latched read-only.
func (e *Engine) Close() error {
	select {
	case <-e.stopped:
		return nil
	default:
	}
	close(e.stopped)
	e.wg.Wait()

	e.flushWrites()
	err := e.disk.Close()
	if err != nil {
		slog.Error("close after final flush", "err", err)
	}
	return err
}
