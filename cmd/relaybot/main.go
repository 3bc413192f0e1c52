package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/relaybot/relaybot/pkg/config"
	"github.com/relaybot/relaybot/pkg/logger"
	"github.com/relaybot/relaybot/pkg/storage"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "relaybot",
		Short:        "Menu and chat bot for WhatsApp and other messaging channels",
		SilenceUsage: true,
		// Without a subcommand the gateway runs.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(cmd.Context(), configPathFromCmd(cmd))
		},
	}
	cmd.PersistentFlags().String("config", "", "Config file path (defaults to $RELAYBOT_CONFIG or ~/.relaybot/config.json)")

	cmd.AddCommand(newGatewayCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newContactsCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newGatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Connect the channels and answer messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(cmd.Context(), configPathFromCmd(cmd))
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "relaybot %s\n", strings.TrimSpace(version))
			if c := strings.TrimSpace(commit); c != "" && c != "none" {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "commit: %s\n", c)
			}
			return nil
		},
	}
}

func configPathFromCmd(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("config"); strings.TrimSpace(p) != "" {
		return config.ExpandHome(p)
	}
	return config.DefaultConfigPath()
}

// loadConfig reads, completes and validates the config, then configures logging.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	config.ResolveSecrets(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.Configure(os.Stderr, cfg.Log.Level, cfg.Log.JSON)
	return cfg, nil
}

// storageConfigFrom maps the storage section onto a backend config. File and
// sqlite paths default to the workspace.
func storageConfigFrom(cfg *config.Config, storageType string) storage.Config {
	sc := storage.DefaultConfig(storageType)
	sc.Namespace = cfg.RecordNamespace()
	sc.DatabaseURL = cfg.Storage.DatabaseURL
	sc.SSLEnabled = cfg.Storage.SSLEnabled

	path := cfg.Storage.FilePath
	switch storageType {
	case "sqlite":
		if path == "" {
			path = "records.db"
		}
		sc.FilePath = cfg.ResolvePath(path)
	case "file", "":
		if path == "" {
			sc.FilePath = cfg.WorkspacePath()
		} else {
			sc.FilePath = cfg.ResolvePath(path)
		}
	}
	return sc
}
