package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/marcsjourneys/hive-assistant/pkg/hive/config"
)

// newConfigCmd creates the `hive config` command — adapted from
// cmd/copilot/commands/config.go's newConfigCmd, narrowed to the fields
// pkg/hive/config.Config actually carries (no workspaces/plugins).
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage daemon configuration",
		Long: `Manage Hive's configuration.

Examples:
  hive config init
  hive config show
  hive config validate`,
	}
	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigValidateCmd(),
		newConfigSetKeyCmd(),
		newConfigDeleteKeyCmd(),
		newConfigKeyStatusCmd(),
	)
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a default config.yaml",
		RunE: func(_ *cobra.Command, _ []string) error {
			target := "config.yaml"
			if _, err := os.Stat(target); err == nil {
				return fmt.Errorf("config.yaml already exists, remove it first or edit it directly")
			}
			if err := config.SaveToFile(config.DefaultConfig(), target); err != nil {
				return err
			}
			fmt.Printf("Created %s with default configuration.\n", target)
			fmt.Println("\nNext steps:")
			fmt.Println("  1. Edit config.yaml and set your LLM provider and model tiers")
			fmt.Println("  2. Run: hive config set-key")
			fmt.Println("  3. Run: hive serve")
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			fmt.Printf("# Loaded from: %s\n\n", path)
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if _, err := cfg.Location(); err != nil {
				return fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
			}
			fmt.Printf("Config: %s\n", path)
			fmt.Printf("  Name:      %s\n", cfg.Name)
			fmt.Printf("  Provider:  %s\n", cfg.LLM.Provider)
			fmt.Printf("  Models:    haiku=%s sonnet=%s opus=%s\n", cfg.LLM.Models.Haiku, cfg.LLM.Models.Sonnet, cfg.LLM.Models.Opus)
			fmt.Printf("  Language:  %s\n", cfg.Language)
			fmt.Printf("  Timezone:  %s\n", cfg.Timezone)
			fmt.Printf("  Telegram:  enabled=%v\n", cfg.Channels.Telegram.Enabled)
			fmt.Printf("  WhatsApp:  enabled=%v session_dir=%s\n", cfg.Channels.WhatsApp.Enabled, cfg.Channels.WhatsApp.SessionDir)
			fmt.Println("\nConfiguration is valid.")
			return nil
		},
	}
}

// newConfigSetKeyCmd stores the LLM API key in the OS keyring.
func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key",
		Short: "Store the LLM API key in the OS keyring (encrypted)",
		Long: `Securely stores your LLM API key in the operating system's native
keyring. The key is encrypted by the OS and never stored as plaintext.

Examples:
  hive config set-key`,
		RunE: func(_ *cobra.Command, _ []string) error {
			if !config.KeyringAvailable() {
				fmt.Println("OS keyring is not available on this system.")
				return fmt.Errorf("keyring not available")
			}

			key := promptLine("Enter your LLM API key: ")
			if key == "" {
				return fmt.Errorf("no key provided")
			}

			if err := config.MigrateKeyToKeyring(key, slog.Default()); err != nil {
				return err
			}
			fmt.Println()
			fmt.Println("API key stored in OS keyring (encrypted).")
			fmt.Println("You can now remove it from .env or config.yaml — the keyring is checked first.")
			return nil
		},
	}
}

func newConfigDeleteKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-key",
		Short: "Remove the LLM API key from the OS keyring",
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := config.DeleteKeyring("api_key"); err != nil {
				return fmt.Errorf("deleting from keyring: %w", err)
			}
			fmt.Println("API key removed from OS keyring.")
			return nil
		},
	}
}

func newConfigKeyStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "key-status",
		Short: "Show where the LLM API key is loaded from",
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Println("API key resolution order:")
			fmt.Println()
			if config.KeyringAvailable() {
				if val := config.GetKeyring("api_key"); val != "" {
					fmt.Printf("  1. [OK] OS keyring:     %s\n", maskSecret(val))
				} else {
					fmt.Println("  1. [--] OS keyring:     (not set)")
				}
			} else {
				fmt.Println("  1. [!!] OS keyring:     (not available)")
			}
			if val := os.Getenv("HIVE_API_KEY"); val != "" {
				fmt.Printf("  2. [OK] HIVE_API_KEY:   %s\n", maskSecret(val))
			} else {
				fmt.Println("  2. [--] HIVE_API_KEY:   (not set)")
			}
			fmt.Println()
			fmt.Println("Recommendation: use 'hive config set-key' for maximum security.")
			return nil
		},
	}
}

func maskSecret(val string) string {
	return val[:min(4, len(val))] + "****" + val[max(0, len(val)-4):]
}

// loadConfig loads the config from the --config flag or auto-discovers it.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	if configPath == "" {
		configPath = config.FindFile()
	}
	if configPath == "" {
		return nil, "", fmt.Errorf("no config file found.\nRun 'hive config init' to create one, or use --config <path>")
	}
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, configPath, fmt.Errorf("loading config from %s: %w", configPath, err)
	}
	return cfg, configPath, nil
}
