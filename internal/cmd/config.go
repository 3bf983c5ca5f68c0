package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lnagent/lnagent/internal/config"
	"github.com/lnagent/lnagent/internal/observability"
)

var (
	configInitPath  string
	configInitForce bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and create configuration files",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	Long: `Write a YAML config file holding every setting with its current effective value
(defaults, then any config file and LNAGENT_* variables). Secrets are blanked.

The file goes to $XDG_CONFIG_HOME/lnagent/config.yaml unless --path is given;
use --path - to print it instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return invalidConfig(err)
		}
		body, err := config.StarterYAML(settings)
		if err != nil {
			return err
		}

		path := strings.TrimSpace(configInitPath)
		if path == "" {
			path = config.DefaultConfigPath()
		}
		if path == "" {
			return invalidConfig(errors.New("could not resolve a config directory; pass --path"))
		}
		if path == "-" {
			_, err := cmd.OutOrStdout().Write(body)
			return err
		}

		if _, err := os.Stat(path); err == nil && !configInitForce {
			return invalidConfig(fmt.Errorf("%s already exists (use --force to overwrite)", path))
		}
		// #nosec G301 -- config directories use 0755 for multi-user access compatibility
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		if err := os.WriteFile(path, body, 0o600); err != nil {
			return fmt.Errorf("write config: %w", err)
		}

		observability.CLILogger.Info("Wrote config file", zap.String("path", path))
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return invalidConfig(err)
		}
		if err := cfg.Validate(false); err != nil {
			return invalidConfig(err)
		}
		body, err := config.StarterYAML(settings)
		if err != nil {
			return err
		}
		if used := settings.ConfigFileUsed(); used != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", used)
		}
		_, err = cmd.OutOrStdout().Write(body)
		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd)

	configInitCmd.Flags().StringVar(&configInitPath, "path", "", "destination file (- for stdout)")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
}
