package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/petal-labs/nodeschema/cli"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "nodeschema",
	Short: "Node editor configuration CLI",
	Long:  "nodeschema validates, compiles and serves node editor configurations: port types, node types and their dynamic ports.",
	// SilenceUsage prevents printing usage on every error
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		slog.SetDefault(cli.NewLogger(cmd, os.Stderr))
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "", false, "Enable verbose/debug logging")
	rootCmd.PersistentFlags().BoolP("quiet", "", false, "Suppress all output except errors")

	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("nodeschema version %s\n", version))

	rootCmd.AddCommand(cli.NewValidateCmd())
	rootCmd.AddCommand(cli.NewCompileCmd())
	rootCmd.AddCommand(cli.NewResolveCmd())
	rootCmd.AddCommand(cli.NewServeCmd())
}
