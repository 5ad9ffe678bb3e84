package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/reekid420/AegisFS/pkg/config"
	"github.com/reekid420/AegisFS/pkg/diskfs"
	"github.com/reekid420/AegisFS/pkg/fuse"
	"github.com/reekid420/AegisFS/pkg/vfs"
)

var (
	mountReadOnly   bool
	mountConfigPath string
)

var mountCmd = &cobra.Command{
	Use:   "mount <device> <mountpoint>",
	Short: "Mount an AegisFS filesystem; blocks until unmounted",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		device, mountpoint := args[0], args[1]

		st, err := os.Stat(mountpoint)
		if err != nil {
			return exitf(exitParam, "mountpoint %s: %w", mountpoint, err)
		}
		if !st.IsDir() {
			return exitf(exitParam, "mountpoint %s is not a directory", mountpoint)
		}

		cfg := config.Default()
		if mountConfigPath != "" {
			if cfg, err = config.Load(mountConfigPath); err != nil {
				return exitf(exitParam, "config: %w", err)
			}
		}

		dev, err := diskfs.OpenDevice(device, mountReadOnly)
		if err != nil {
			return exitf(exitIO, "open %s: %w", device, err)
		}

		dfs, err := diskfs.Open(dev, diskfs.OpenOptions{
			CacheBlocks:    cfg.CacheBlocks,
			SkipMountStamp: mountReadOnly,
		})
		if err != nil {
			dev.Close()
			// NotFormatted, CorruptSuperblock, and LayoutMismatch all land
			// here: the device cannot be mounted as it stands.
			return exitf(exitIO, "mount %s: %w", device, err)
		}

		engine := vfs.New(dfs, cfg, mountReadOnly)

		srv, err := fuse.Mount(mountpoint, engine, mountReadOnly, rootDebug)
		if err != nil {
			engine.Close()
			return exitf(exitMountError, "mount refused: %w", err)
		}

		// SIGINT/SIGTERM unmount cleanly so the final flush runs.
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-sigs
			slog.Info("unmounting on signal", "signal", sig)
			if err := srv.Unmount(); err != nil {
				slog.Error("unmount failed", "err", err)
			}
		}()

		slog.Info("filesystem mounted", "device", device, "mountpoint", mountpoint, "readOnly", mountReadOnly)
		srv.Serve()

		if err := engine.Close(); err != nil {
			return exitf(exitIO, "final flush: %w", err)
		}
		slog.Info("unmounted cleanly")
		return nil
	},
}

func init() {
	mountCmd.Flags().BoolVar(&mountReadOnly, "read-only", false, "mount without allowing writes")
	mountCmd.Flags().StringVar(&mountConfigPath, "config", "", "YAML file of engine tunables")
	rootCmd.AddCommand(mountCmd)
}
