// Kernel adapter: presents the VFS engine through the FUSE low-level
// protocol. Every callback answers exactly once; the engine's blocking
// methods run directly on the kernel-driven callback threads.
package fuse

import (
	"errors"
	"fmt"
	"log/slog"
	"syscall"

	gofuse "github.com/hanwen/go-fuse/v2/fuse"

	"github.com/reekid420/AegisFS/pkg/diskfs"
	"github.com/reekid420/AegisFS/pkg/format"
	"github.com/reekid420/AegisFS/pkg/layout"
	"github.com/reekid420/AegisFS/pkg/vfs"
)

// attrTTL is how long the kernel may cache attributes and entries.
const attrTTL = 1 // seconds

// Server wires an Engine to a FUSE mount.
type Server struct {
	gofuse.RawFileSystem

	engine    *vfs.Engine
	srv       *gofuse.Server
	blockSize uint32
}

// Mount attaches the engine at mountpoint and returns once the kernel
// connection is live.
func Mount(mountpoint string, engine *vfs.Engine, readOnly, debug bool) (*Server, error) {
	s := &Server{
		RawFileSystem: gofuse.NewDefaultRawFileSystem(),
		engine:        engine,
		blockSize:     engine.StatFs().BlockSize,
	}

	opts := &gofuse.MountOptions{
		FsName: "aegisfs",
		Name:   "aegisfs",
		Debug:  debug,
	}
	if readOnly {
		opts.Options = append(opts.Options, "ro")
	}

	srv, err := gofuse.NewServer(s, mountpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("mount %s: %w", mountpoint, err)
	}
	s.srv = srv
	return s, nil
}

// Serve blocks until the filesystem is unmounted.
func (s *Server) Serve() {
	s.srv.Serve()
}

// Unmount detaches the filesystem.
func (s *Server) Unmount() error {
	return s.srv.Unmount()
}

// errno maps engine errors onto POSIX codes for the kernel.
func errno(err error) gofuse.Status {
	switch {
	case err == nil:
		return gofuse.OK
	case errors.Is(err, vfs.ErrNotFound):
		return gofuse.ENOENT
	case errors.Is(err, vfs.ErrExists):
		return gofuse.Status(syscall.EEXIST)
	case errors.Is(err, vfs.ErrNotADirectory), errors.Is(err, diskfs.ErrNotADirectory):
		return gofuse.ENOTDIR
	case errors.Is(err, vfs.ErrIsADirectory):
		return gofuse.Status(syscall.EISDIR)
	case errors.Is(err, vfs.ErrNotEmpty):
		return gofuse.Status(syscall.ENOTEMPTY)
	case errors.Is(err, vfs.ErrReadOnlyFS):
		return gofuse.EROFS
	case errors.Is(err, vfs.ErrInvalidName):
		return gofuse.EINVAL
	case errors.Is(err, layout.ErrNoFreeInodes), errors.Is(err, layout.ErrNoFreeBlocks):
		return gofuse.Status(syscall.ENOSPC)
	case errors.Is(err, diskfs.ErrFileTooLarge):
		return gofuse.Status(syscall.EFBIG)
	default:
		slog.Error("filesystem operation failed", "err", err)
		return gofuse.EIO
	}
}

func (fs *Server) fillAttr(a vfs.Attr, out *gofuse.Attr) {
	out.Ino = a.Ino
	out.Size = a.Size
	out.Blocks = a.Blocks
	out.Atime = a.Atime
	out.Mtime = a.Mtime
	out.Ctime = a.Ctime
	out.Mode = a.Mode
	out.Nlink = a.Links
	out.Owner.Uid = a.UID
	out.Owner.Gid = a.GID
	out.Blksize = fs.blockSize
}

func (fs *Server) fillEntry(a vfs.Attr, out *gofuse.EntryOut) {
	out.NodeId = a.Ino
	out.AttrValid = attrTTL
	out.EntryValid = attrTTL
	fs.fillAttr(a, &out.Attr)
}

func (fs *Server) String() string { return "aegisfs" }

func (fs *Server) Lookup(cancel <-chan struct{}, header *gofuse.InHeader, name string, out *gofuse.EntryOut) gofuse.Status {
	a, err := fs.engine.Lookup(header.NodeId, name)
	if err != nil {
		return errno(err)
	}
	fs.fillEntry(a, out)
	return gofuse.OK
}

func (fs *Server) GetAttr(cancel <-chan struct{}, input *gofuse.GetAttrIn, out *gofuse.AttrOut) gofuse.Status {
	a, err := fs.engine.GetAttr(input.NodeId)
	if err != nil {
		return errno(err)
	}
	out.AttrValid = attrTTL
	fs.fillAttr(a, &out.Attr)
	return gofuse.OK
}

func (fs *Server) SetAttr(cancel <-chan struct{}, input *gofuse.SetAttrIn, out *gofuse.AttrOut) gofuse.Status {
	var req vfs.SetAttrRequest
	if mode, ok := input.GetMode(); ok {
		req.Mode = &mode
	}
	if uid, ok := input.GetUID(); ok {
		req.UID = &uid
	}
	if gid, ok := input.GetGID(); ok {
		req.GID = &gid
	}
	if size, ok := input.GetSize(); ok {
		req.Size = &size
	}
	if atime, ok := input.GetATime(); ok {
		sec := uint64(atime.Unix())
		req.Atime = &sec
	}
	if mtime, ok := input.GetMTime(); ok {
		sec := uint64(mtime.Unix())
		req.Mtime = &sec
	}

	a, err := fs.engine.SetAttr(input.NodeId, req)
	if err != nil {
		return errno(err)
	}
	out.AttrValid = attrTTL
	fs.fillAttr(a, &out.Attr)
	return gofuse.OK
}

func (fs *Server) Create(cancel <-chan struct{}, input *gofuse.CreateIn, name string, out *gofuse.CreateOut) gofuse.Status {
	a, err := fs.engine.Create(input.NodeId, name, input.Mode, input.Caller.Uid, input.Caller.Gid)
	if err != nil {
		return errno(err)
	}
	if err := fs.engine.Open(a.Ino); err != nil {
		return errno(err)
	}
	fs.fillEntry(a, &out.EntryOut)
	out.OpenOut.Fh = a.Ino
	return gofuse.OK
}

func (fs *Server) Mkdir(cancel <-chan struct{}, input *gofuse.MkdirIn, name string, out *gofuse.EntryOut) gofuse.Status {
	a, err := fs.engine.Mkdir(input.NodeId, name, input.Mode, input.Caller.Uid, input.Caller.Gid)
	if err != nil {
		return errno(err)
	}
	fs.fillEntry(a, out)
	return gofuse.OK
}

func (fs *Server) Mknod(cancel <-chan struct{}, input *gofuse.MknodIn, name string, out *gofuse.EntryOut) gofuse.Status {
	if input.Mode&format.ModeTypeMask != format.ModeRegular {
		return gofuse.ENOSYS
	}
	a, err := fs.engine.Create(input.NodeId, name, input.Mode, input.Caller.Uid, input.Caller.Gid)
	if err != nil {
		return errno(err)
	}
	fs.fillEntry(a, out)
	return gofuse.OK
}

func (fs *Server) Unlink(cancel <-chan struct{}, header *gofuse.InHeader, name string) gofuse.Status {
	return errno(fs.engine.Unlink(header.NodeId, name))
}

func (fs *Server) Rmdir(cancel <-chan struct{}, header *gofuse.InHeader, name string) gofuse.Status {
	return errno(fs.engine.Rmdir(header.NodeId, name))
}

func (fs *Server) Rename(cancel <-chan struct{}, input *gofuse.RenameIn, oldName string, newName string) gofuse.Status {
	return errno(fs.engine.Rename(input.NodeId, oldName, input.Newdir, newName))
}

func (fs *Server) Open(cancel <-chan struct{}, input *gofuse.OpenIn, out *gofuse.OpenOut) gofuse.Status {
	if err := fs.engine.Open(input.NodeId); err != nil {
		return errno(err)
	}
	out.Fh = input.NodeId
	return gofuse.OK
}

func (fs *Server) Release(cancel <-chan struct{}, input *gofuse.ReleaseIn) {
	if err := fs.engine.Release(input.NodeId); err != nil {
		slog.Error("release failed", "ino", input.NodeId, "err", err)
	}
}

func (fs *Server) Read(cancel <-chan struct{}, input *gofuse.ReadIn, buf []byte) (gofuse.ReadResult, gofuse.Status) {
	data, err := fs.engine.Read(input.NodeId, input.Offset, input.Size)
	if err != nil {
		return nil, errno(err)
	}
	return gofuse.ReadResultData(data), gofuse.OK
}

func (fs *Server) Write(cancel <-chan struct{}, input *gofuse.WriteIn, data []byte) (uint32, gofuse.Status) {
	n, err := fs.engine.Write(input.NodeId, input.Offset, data)
	if err != nil {
		return 0, errno(err)
	}
	return n, gofuse.OK
}

func (fs *Server) Flush(cancel <-chan struct{}, input *gofuse.FlushIn) gofuse.Status {
	return gofuse.OK
}

func (fs *Server) Fsync(cancel <-chan struct{}, input *gofuse.FsyncIn) gofuse.Status {
	return errno(fs.engine.Fsync(input.NodeId))
}

func (fs *Server) OpenDir(cancel <-chan struct{}, input *gofuse.OpenIn, out *gofuse.OpenOut) gofuse.Status {
	return gofuse.OK
}

func (fs *Server) ReadDir(cancel <-chan struct{}, input *gofuse.ReadIn, out *gofuse.DirEntryList) gofuse.Status {
	ents, err := fs.engine.Readdir(input.NodeId)
	if err != nil {
		return errno(err)
	}
	for i := int(input.Offset); i < len(ents); i++ {
		mode := uint32(syscall.S_IFREG)
		if ents[i].FileType == format.FileTypeDir {
			mode = syscall.S_IFDIR
		}
		if !out.AddDirEntry(gofuse.DirEntry{Ino: ents[i].Ino, Mode: mode, Name: ents[i].Name}) {
			break
		}
	}
	return gofuse.OK
}

func (fs *Server) ReadDirPlus(cancel <-chan struct{}, input *gofuse.ReadIn, out *gofuse.DirEntryList) gofuse.Status {
	ents, err := fs.engine.Readdir(input.NodeId)
	if err != nil {
		return errno(err)
	}
	for i := int(input.Offset); i < len(ents); i++ {
		mode := uint32(syscall.S_IFREG)
		if ents[i].FileType == format.FileTypeDir {
			mode = syscall.S_IFDIR
		}
		de := gofuse.DirEntry{Ino: ents[i].Ino, Mode: mode, Name: ents[i].Name}
		entryOut := out.AddDirLookupEntry(de)
		if entryOut == nil {
			break
		}
		// "." and ".." are listed but never looked up.
		if ents[i].Name == "." || ents[i].Name == ".." {
			continue
		}
		if a, err := fs.engine.Lookup(input.NodeId, ents[i].Name); err == nil {
			fs.fillEntry(a, entryOut)
		}
	}
	return gofuse.OK
}

func (fs *Server) ReleaseDir(input *gofuse.ReleaseIn) {}

func (fs *Server) FsyncDir(cancel <-chan struct{}, input *gofuse.FsyncIn) gofuse.Status {
	return errno(fs.engine.Fsync(input.NodeId))
}

func (fs *Server) StatFs(cancel <-chan struct{}, input *gofuse.InHeader, out *gofuse.StatfsOut) gofuse.Status {
	st := fs.engine.StatFs()
	out.Bsize = st.BlockSize
	out.Frsize = st.BlockSize
	out.Blocks = st.Blocks
	out.Bfree = st.FreeBlocks
	out.Bavail = st.FreeBlocks
	out.Files = st.Inodes
	out.Ffree = st.FreeInodes
	out.NameLen = st.MaxNameLen
	return gofuse.OK
}

func (fs *Server) Init(srv *gofuse.Server) {
	slog.Info("filesystem initialized")
}
