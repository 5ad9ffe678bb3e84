package blockdev

import (
	"fmt"
	"sync/atomic"

	"github.com/tinyrange/vm"
)

// MemoryDevice is a Device over a paged virtual memory. Tests and
// benchmarks use it in place of real storage.
type MemoryDevice struct {
	mem       *vm.VirtualMemory
	blockSize uint32
	size      uint64
	readOnly  bool
	closed    atomic.Bool

	// failWrites, when set, makes every write fail. Tests use this to drive
	// the engine's read-only latch.
	failWrites atomic.Bool
}

var _ Device = (*MemoryDevice)(nil)

// NewMemory creates a zero-filled in-memory device.
func NewMemory(size uint64, blockSize uint32) *MemoryDevice {
	return &MemoryDevice{
		mem:       vm.NewVirtualMemory(int64(size), blockSize),
		blockSize: blockSize,
		size:      size,
	}
}

func (d *MemoryDevice) BlockSize() uint32  { return d.blockSize }
func (d *MemoryDevice) Size() uint64       { return d.size }
func (d *MemoryDevice) BlockCount() uint64 { return d.size / uint64(d.blockSize) }

// SetReadOnly flips the device between writable and read-only.
func (d *MemoryDevice) SetReadOnly(ro bool) { d.readOnly = ro }

// FailWrites makes subsequent writes return an I/O error.
func (d *MemoryDevice) FailWrites(fail bool) { d.failWrites.Store(fail) }

func (d *MemoryDevice) ReadBlock(num uint64, buf []byte) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if err := checkBlock(d, num, buf); err != nil {
		return err
	}
	_, err := d.mem.ReadAt(buf, int64(num)*int64(d.blockSize))
	return err
}

func (d *MemoryDevice) WriteBlock(num uint64, buf []byte) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if d.readOnly {
		return ErrReadOnly
	}
	if d.failWrites.Load() {
		return fmt.Errorf("write block %d: injected failure", num)
	}
	if err := checkBlock(d, num, buf); err != nil {
		return err
	}
	_, err := d.mem.WriteAt(buf, int64(num)*int64(d.blockSize))
	return err
}

func (d *MemoryDevice) Sync() error {
	if d.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (d *MemoryDevice) Close() error {
	d.closed.Store(true)
	return nil
}

// Reopen revives a closed device with its contents intact, the in-memory
// stand-in for closing and reopening a device file between mounts.
func (d *MemoryDevice) Reopen() {
	d.closed.Store(false)
}
