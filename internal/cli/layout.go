package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gogpu/gpures/config"
	"github.com/gogpu/gpures/descriptor"
	"github.com/gogpu/gputypes"
)

func (c *CLI) layoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "layout [scene.toml]",
		Short: "Print the bind group layouts of a scene's global sets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			layouts := make(map[string][]gputypes.BindGroupLayoutEntry, len(cfg.GlobalSets))
			for _, s := range cfg.GlobalSets {
				bindings, err := s.Layout()
				if err != nil {
					return err
				}
				layouts[s.Name] = descriptor.LayoutEntries(bindings)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(layouts)
		},
	}
}

func (c *CLI) nodesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "List the built-in render node types",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			r := builtinNodes(&nodeEnv{})
			for _, name := range r.Types() {
				backends, _ := r.TypeInfo(name)
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n",
					styleHeader.Render(fmt.Sprintf("%-8s", name)), styleDim.Render(backendList(backends)))
			}
		},
	}
}

// backendList names the backends in set, or "any" for the empty set.
func backendList(set gputypes.Backends) string {
	if set == gputypes.BackendsNone {
		return "any"
	}
	var names []string
	for b := gputypes.BackendEmpty; b <= gputypes.BackendBrowserWebGPU; b++ {
		if set.Contains(b) {
			names = append(names, b.String())
		}
	}
	return strings.Join(names, ", ")
}
