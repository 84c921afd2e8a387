// Package cmd provides the command-line interface of memalloc.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/memalloc/config"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "memalloc",
	Short: "memalloc maps fresh pages into process address spaces.",
	Long: `memalloc runs allocation requests against a page-table engine. ` +
		`Requests come from scripts and go through the same command ` +
		`interface a device would expose.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringSlice("env", []string{".env"},
		"Files to load MEMALLOC_* settings from")
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) config.Config {
	files, _ := cmd.Flags().GetStringSlice("env")

	cfg, err := config.Load(files...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		atexit.Exit(1)
	}

	return cfg
}

func newLogger(cfg config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr,
		&slog.HandlerOptions{Level: cfg.LogLevel}))
}
