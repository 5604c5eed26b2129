package cli

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

// newLogger builds the CLI's text logger. --quiet wins over --verbose.
func newLogger(w io.Writer, verbose, quiet bool) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case quiet:
		level = slog.LevelError
	case verbose:
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func configureLogging(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	quiet, _ := cmd.Flags().GetBool("quiet")
	slog.SetDefault(newLogger(cmd.ErrOrStderr(), verbose, quiet))
	return nil
}
