package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/reekid420/AegisFS/pkg/diskfs"
	"github.com/reekid420/AegisFS/pkg/scrub"
)

var (
	scrubFix  bool
	scrubDeep bool
)

var scrubCmd = &cobra.Command{
	Use:   "scrub <device>",
	Short: "Verify filesystem consistency, optionally repairing metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		device := args[0]

		dev, err := diskfs.OpenDevice(device, !scrubFix)
		if err != nil {
			return exitf(exitIO, "open %s: %w", device, err)
		}
		defer dev.Close()

		fs, err := diskfs.Open(dev, diskfs.OpenOptions{SkipMountStamp: true})
		if err != nil {
			return exitf(exitIO, "open filesystem on %s: %w", device, err)
		}

		report, err := scrub.Run(fs, scrub.Options{
			Fix:      scrubFix,
			Deep:     scrubDeep,
			Progress: true,
		})
		if err != nil {
			return exitf(exitIO, "scrub %s: %w", device, err)
		}

		for _, p := range report.Problems {
			fmt.Fprintln(os.Stderr, p)
		}
		if report.Clean() {
			fmt.Printf("%s: clean (%d inodes, %d blocks checked)\n",
				device, report.InodesChecked, report.BlocksChecked)
			return nil
		}
		return exitf(exitScrubDirty, "%s: %d problems found, %d fixed",
			device, len(report.Problems), report.Fixed)
	},
}

func init() {
	scrubCmd.Flags().BoolVar(&scrubFix, "fix", false, "repair counters and bitmap drift")
	scrubCmd.Flags().BoolVar(&scrubDeep, "deep", false, "also read every referenced block")
	rootCmd.AddCommand(scrubCmd)
}
