package blockdev

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// writeStripes bounds the number of per-block write locks; blocks hash onto
// a stripe so concurrent writers of the same block serialize.
const writeStripes = 64

// FileDevice is a Device over a regular file or a raw block device, using
// pread/pwrite so concurrent readers never share a file offset.
type FileDevice struct {
	fd        int
	path      string
	blockSize uint32
	size      uint64
	readOnly  bool
	closed    atomic.Bool

	stripes [writeStripes]sync.Mutex
}

var _ Device = (*FileDevice)(nil)

// OpenFile opens an existing file or raw device. For raw devices the size
// comes from the kernel's device-size ioctl; the file length is only trusted
// for regular files.
func OpenFile(path string, blockSize uint32, readOnly bool) (*FileDevice, error) {
	flags := unix.O_RDWR
	if readOnly {
		flags = unix.O_RDONLY
	}
	fd, err := unix.Open(path, flags|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	var size uint64
	if stat.Mode&unix.S_IFMT == unix.S_IFBLK {
		size, err = blockDeviceSize(fd)
		if err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("device size of %s: %w", path, err)
		}
	} else {
		size = uint64(stat.Size)
	}

	slog.Debug("opened block device", "path", path, "size", size, "blockSize", blockSize, "readOnly", readOnly)

	return &FileDevice{
		fd:        fd,
		path:      path,
		blockSize: blockSize,
		size:      size,
		readOnly:  readOnly,
	}, nil
}

// CreateFile creates (or truncates) a file-backed device of the given size.
func CreateFile(path string, size uint64, blockSize uint32) (*FileDevice, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_CLOEXEC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("truncate %s to %d: %w", path, size, err)
	}
	return &FileDevice{
		fd:        fd,
		path:      path,
		blockSize: blockSize,
		size:      size,
	}, nil
}

func (d *FileDevice) BlockSize() uint32  { return d.blockSize }
func (d *FileDevice) Size() uint64       { return d.size }
func (d *FileDevice) BlockCount() uint64 { return d.size / uint64(d.blockSize) }
func (d *FileDevice) Path() string       { return d.path }

func (d *FileDevice) ReadBlock(num uint64, buf []byte) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if err := checkBlock(d, num, buf); err != nil {
		return err
	}
	off := int64(num) * int64(d.blockSize)
	for done := 0; done < len(buf); {
		n, err := unix.Pread(d.fd, buf[done:], off+int64(done))
		if err != nil {
			return fmt.Errorf("pread block %d of %s: %w", num, d.path, err)
		}
		if n == 0 {
			return fmt.Errorf("pread block %d of %s: unexpected EOF", num, d.path)
		}
		done += n
	}
	return nil
}

func (d *FileDevice) WriteBlock(num uint64, buf []byte) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if d.readOnly {
		return ErrReadOnly
	}
	if err := checkBlock(d, num, buf); err != nil {
		return err
	}

	stripe := &d.stripes[num%writeStripes]
	stripe.Lock()
	defer stripe.Unlock()

	off := int64(num) * int64(d.blockSize)
	for done := 0; done < len(buf); {
		n, err := unix.Pwrite(d.fd, buf[done:], off+int64(done))
		if err != nil {
			return fmt.Errorf("pwrite block %d of %s: %w", num, d.path, err)
		}
		done += n
	}
	return nil
}

func (d *FileDevice) Sync() error {
	if d.closed.Load() {
		return ErrClosed
	}
	if d.readOnly {
		return nil
	}
	if err := unix.Fsync(d.fd); err != nil {
		return fmt.Errorf("fsync %s: %w", d.path, err)
	}
	return nil
}

func (d *FileDevice) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	return unix.Close(d.fd)
}
