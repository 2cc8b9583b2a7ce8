package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gogpu/gpures/config"
)

// simulateOpts holds the command-line flags for the simulate command.
type simulateOpts struct {
	frames uint64 // overrides the scene's frame count when non-zero
	json   bool   // print the final snapshot as JSON
}

func (c *CLI) simulateCommand() *cobra.Command {
	var opts simulateOpts

	cmd := &cobra.Command{
		Use:   "simulate [scene.toml]",
		Short: "Run a scene for a number of frames",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if opts.frames > 0 {
				cfg.Frames = opts.frames
			}
			return c.simulate(cmd, cfg, opts)
		},
	}

	cmd.Flags().Uint64VarP(&opts.frames, "frames", "n", 0, "number of frames (default from scene)")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print the final snapshot as JSON")
	return cmd
}

func (c *CLI) simulate(cmd *cobra.Command, cfg *config.Config, opts simulateOpts) error {
	s, err := newScene(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	start := time.Now()
	rows := make([]frameRow, 0, cfg.Frames)
	for !s.Done() {
		if err := cmd.Context().Err(); err != nil {
			return err
		}
		stats, err := s.Step()
		if err != nil {
			c.Logger.Warn("script step failed", "err", err)
		}
		rows = append(rows, frameRow{stats: stats, deferred: s.engine.Snapshot().Deferred})
	}
	c.Logger.Info("simulation finished", "frames", len(rows), "elapsed", time.Since(start).Round(time.Millisecond))

	snap := s.engine.Snapshot()
	out := cmd.OutOrStdout()
	if opts.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	fmt.Fprint(out, renderFrameTable(rows))
	fmt.Fprintln(out)
	fmt.Fprint(out, renderSnapshot(snap))
	return nil
}
