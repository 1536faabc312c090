package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"termclaw/pkg/termclaw/agent"
)

// newToolsCmd creates the `termclaw tools` command that lists discovered
// plugin tools with their descriptions.
func newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List installed plugin tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}

			host := agent.NewExecToolHost(cfg.Tools.Dir, logger)
			registry, err := agent.DiscoverTools(cmd.Context(), host, logger)
			if err != nil {
				return err
			}

			if registry.Len() == 0 {
				fmt.Printf("No tools installed. Drop executables into %s\n", cfg.Tools.Dir)
				return nil
			}

			for _, def := range registry.Definitions() {
				fmt.Printf("%-24s %s\n", def.Function.Name, def.Function.Description)
			}
			return nil
		},
	}
}
