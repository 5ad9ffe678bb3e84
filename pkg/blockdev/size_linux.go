//go:build linux

package blockdev

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// blockDeviceSize asks the kernel for the byte size of a raw block device.
// The file length of a device node is meaningless, so there is no fallback.
func blockDeviceSize(fd int) (uint64, error) {
	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, errno
	}
	return size, nil
}
