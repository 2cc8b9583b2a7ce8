// Package cli implements the gpures command-line interface.
//
// # Commands
//
//   - simulate: run a scene file for a number of frames and print a summary
//   - serve: run a scene continuously and inspect it over HTTP
//   - layout: print the WebGPU bind group layouts of a scene's global sets
//   - nodes: list the built-in render node types
//
// All commands support --verbose (-v) for debug-level logging. The library
// logs through the same charmbracelet logger.
package cli

import (
	"io"
	"log/slog"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/gogpu/gpures"
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger
}

// New creates a CLI logging to w at level.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "gpures",
		Short:        "gpures simulates GPU resource lifetimes",
		Long:         `gpures runs render node graph scenes on a headless GPU device and reports how handles, descriptor sets and deferred destruction evolve frame by frame.`,
		Version:      gpures.Version,
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			gpures.SetLogger(slog.New(c.Logger))
		},
	}

	root.AddCommand(c.simulateCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.layoutCommand())
	root.AddCommand(c.nodesCommand())

	return root
}
