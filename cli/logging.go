package cli

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

// NewLogger builds the process logger from the persistent --verbose and
// --quiet flags. Logs go to w as text; --quiet keeps errors only.
func NewLogger(cmd *cobra.Command, w io.Writer) *slog.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	quiet, _ := cmd.Flags().GetBool("quiet")

	level := slog.LevelInfo
	switch {
	case quiet:
		level = slog.LevelError
	case verbose:
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
