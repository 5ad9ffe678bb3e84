// aegisfs is the command-line interface for managing AegisFS volumes.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// Exit codes shared by the subcommands.
const (
	exitOK         = 0
	exitParam      = 1
	exitRefused    = 2
	exitIO         = 3
	exitMountError = 4
	exitScrubDirty = 5
)

// exitError carries a process exit code up through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitf(code int, format string, args ...any) error {
	return &exitError{code: code, err: fmt.Errorf(format, args...)}
}

var rootDebug bool

var rootCmd = &cobra.Command{
	Use:           "aegisfs",
	Short:         "AegisFS: a userspace filesystem over a single block device",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		w := os.Stderr
		level := slog.LevelInfo
		if rootDebug {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(
			tint.NewHandler(w, &tint.Options{
				Level:      level,
				TimeFormat: time.RFC3339,
				NoColor:    !isatty.IsTerminal(w.Fd()),
			}),
		))
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&rootDebug, "debug", false, "enable debug logging")
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		os.Exit(exitOK)
	}

	var ee *exitError
	if errors.As(err, &ee) {
		slog.Error("command failed", "err", ee.err)
		os.Exit(ee.code)
	}
	slog.Error("command failed", "err", err)
	os.Exit(exitParam)
}
