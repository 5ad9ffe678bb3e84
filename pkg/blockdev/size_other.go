//go:build !linux

package blockdev

import "fmt"

func blockDeviceSize(fd int) (uint64, error) {
	return 0, fmt.Errorf("raw block devices are only supported on linux")
}
