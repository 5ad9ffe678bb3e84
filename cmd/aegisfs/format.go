package main

import (
	"errors"
	"fmt"
	"math/bits"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/reekid420/AegisFS/pkg/blockdev"
	"github.com/reekid420/AegisFS/pkg/diskfs"
	"github.com/reekid420/AegisFS/pkg/format"
)

var (
	formatForce      bool
	formatVolumeName string
	formatBlockSize  uint32
)

var formatCmd = &cobra.Command{
	Use:   "format <device-or-file> <size-gib>",
	Short: "Write a fresh AegisFS layout onto a device or image file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		sizeGiB, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil || sizeGiB == 0 {
			return exitf(exitParam, "size must be a positive number of GiB, got %q", args[1])
		}
		size := sizeGiB << 30

		bs := formatBlockSize
		if bs == 0 {
			bs = format.DefaultBlockSize
		}
		if bs < format.MinBlockSize || bs > format.MaxBlockSize || bits.OnesCount32(bs) != 1 {
			return exitf(exitParam, "block size must be a power of two in [%d, %d], got %d",
				format.MinBlockSize, format.MaxBlockSize, bs)
		}

		dev, err := openOrCreate(path, size, bs)
		if err != nil {
			return exitf(exitIO, "open device: %w", err)
		}
		defer dev.Close()

		err = diskfs.Format(dev, diskfs.FormatOptions{
			VolumeName: formatVolumeName,
			BlockSize:  bs,
			Force:      formatForce,
			RootUID:    uint32(os.Getuid()),
			RootGID:    uint32(os.Getgid()),
		})
		switch {
		case err == nil:
			fmt.Printf("formatted %s (%d GiB, block size %d)\n", path, sizeGiB, bs)
			return nil
		case errors.Is(err, diskfs.ErrAlreadyFormatted):
			return exitf(exitRefused, "%s already contains an AegisFS filesystem (use --force to overwrite)", path)
		default:
			return exitf(exitIO, "format %s: %w", path, err)
		}
	},
}

// openOrCreate opens an existing device or raw disk, or creates a sparse
// image file of the requested size. An existing path keeps its own size
// (the kernel-reported size for a raw device) and is refused if that is
// smaller than the requested one.
func openOrCreate(path string, size uint64, blockSize uint32) (blockdev.Device, error) {
	if _, err := os.Stat(path); err == nil {
		dev, err := blockdev.OpenFile(path, blockSize, false)
		if err != nil {
			return nil, err
		}
		if dev.Size() < size {
			dev.Close()
			return nil, fmt.Errorf("%s is %d bytes, smaller than the requested %d", path, dev.Size(), size)
		}
		return dev, nil
	}
	return blockdev.CreateFile(path, size, blockSize)
}

func init() {
	formatCmd.Flags().BoolVar(&formatForce, "force", false, "overwrite an existing AegisFS filesystem")
	formatCmd.Flags().StringVar(&formatVolumeName, "volume-name", "", "volume name stored in the superblock")
	formatCmd.Flags().Uint32Var(&formatBlockSize, "block-size", 0, "block size in bytes (default 4096)")
	rootCmd.AddCommand(formatCmd)
}
