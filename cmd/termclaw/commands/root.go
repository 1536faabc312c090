// Package commands implements the termclaw CLI using cobra.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"termclaw/pkg/termclaw/agent"
)

// NewRootCmd creates the root command. Zero or more words form the query;
// no arguments enters interactive mode.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "termclaw [query...]",
		Short: "termclaw - natural language to shell commands",
		Long: `termclaw translates natural-language requests into shell commands,
asks before running them, and can call user-installed tool plugins.

Examples:
  termclaw list all files modified today
  termclaw "why is my disk full?"
  termclaw              # interactive mode, type 'exit' to quit`,
		Version: version,
		Args:    cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}

			// The shell that runs proposed commands must exist.
			if _, err := exec.LookPath(cfg.Shell); err != nil {
				return fmt.Errorf("required shell %q not found in PATH", cfg.Shell)
			}

			agent.AuditSecrets(cfg, logger)
			agent.ResolveAPIKey(cfg, logger)
			if cfg.API.APIKey == "" || agent.IsEnvReference(cfg.API.APIKey) {
				return fmt.Errorf("no API key configured. Run: termclaw auth set")
			}

			ctx := cmd.Context()
			host := agent.NewExecToolHost(cfg.Tools.Dir, logger)
			registry, err := agent.DiscoverTools(ctx, host, logger)
			if err != nil {
				return err
			}

			store, err := agent.OpenHistory(cfg, logger)
			if err != nil {
				return err
			}

			client := agent.NewClient(cfg, logger)
			interactive := len(args) == 0
			session := agent.NewSession(cfg, client, registry, host, store, logger, interactive)
			return session.Run(ctx, strings.Join(args, " "))
		},
	}

	rootCmd.AddCommand(
		newAuthCmd(),
		newToolsCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logs")

	return rootCmd
}

// setup loads the config and builds the CLI logger.
func setup(cmd *cobra.Command) (*agent.Config, *slog.Logger, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := agent.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	level := slog.LevelError
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return cfg, logger, nil
}
