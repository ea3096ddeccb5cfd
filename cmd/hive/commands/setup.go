package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/marcsjourneys/hive-assistant/pkg/hive/channels"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/config"
)

// newSetupCmd creates the `hive setup` command — adapted from
// cmd/copilot/commands/setup.go's numbered bufio wizard, rebuilt on
// charmbracelet/huh's form widgets (already a teacher dependency, never
// exercised in the retrieved pack) instead of hand-rolled readLine
// prompts.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard to create your initial config.yaml:
assistant name, LLM provider, model tiers, language, timezone, and
channel selection.

Examples:
  hive setup`,
		RunE: runSetup,
	}
}

func runSetup(_ *cobra.Command, _ []string) error {
	cfg := config.DefaultConfig()

	var provider = cfg.LLM.Provider
	var telegramEnabled bool
	var whatsappEnabled bool
	var telegramToken string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Assistant name").Value(&cfg.Name),
			huh.NewInput().Title("Response language (e.g. en, pt)").Value(&cfg.Language),
			huh.NewInput().Title("Timezone (IANA, e.g. America/Sao_Paulo)").Value(&cfg.Timezone),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("LLM provider").
				Options(
					huh.NewOption("Anthropic", "anthropic"),
					huh.NewOption("OpenAI-compatible", "openai_compat"),
				).
				Value(&provider),
			huh.NewInput().Title("Haiku-tier model id").Value(&cfg.LLM.Models.Haiku),
			huh.NewInput().Title("Sonnet-tier model id").Value(&cfg.LLM.Models.Sonnet),
			huh.NewInput().Title("Opus-tier model id").Value(&cfg.LLM.Models.Opus),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Enable Telegram?").Value(&telegramEnabled),
			huh.NewInput().Title("Telegram bot token (blank to configure later)").Value(&telegramToken),
			huh.NewConfirm().Title("Enable WhatsApp?").Value(&whatsappEnabled),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("running setup wizard: %w", err)
	}

	cfg.LLM.Provider = provider
	cfg.Channels.Telegram.Enabled = telegramEnabled
	cfg.Channels.Telegram.BotToken = strings.TrimSpace(telegramToken)
	cfg.Channels.WhatsApp.Enabled = whatsappEnabled

	target := "config.yaml"
	if _, err := os.Stat(target); err == nil {
		var overwrite bool
		confirm := huh.NewConfirm().Title(fmt.Sprintf("%s already exists. Overwrite?", target)).Value(&overwrite)
		if err := confirm.Run(); err != nil {
			return err
		}
		if !overwrite {
			fmt.Println("Setup cancelled. Existing file kept.")
			return nil
		}
	}

	if err := config.SaveToFile(cfg, target); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	fmt.Printf("\n%s created.\n", target)

	var apiKey string
	keyInput := huh.NewInput().
		Title("LLM API key (blank to set later with 'hive config set-key')").
		EchoMode(huh.EchoModePassword).
		Value(&apiKey)
	if err := keyInput.Run(); err != nil {
		return fmt.Errorf("running setup wizard: %w", err)
	}
	if apiKey = strings.TrimSpace(apiKey); apiKey != "" {
		if config.KeyringAvailable() {
			if err := config.StoreKeyring("api_key", apiKey); err == nil {
				fmt.Println("API key stored in OS keyring.")
			}
		}
	}

	if whatsappEnabled {
		fmt.Println()
		var pairNow bool
		confirm := huh.NewConfirm().Title("Pair WhatsApp now?").Value(&pairNow)
		if err := confirm.Run(); err == nil && pairNow {
			if err := channels.Pair(context.Background(), cfg.Channels.WhatsApp.SessionDir); err != nil {
				fmt.Printf("Pairing failed: %v\n", err)
				fmt.Println("Run 'hive setup' again, or pair manually before 'hive serve'.")
			}
		}
	}

	fmt.Println("\nNext steps:")
	fmt.Println("  1. Review config.yaml and adjust model ids/credentials as needed")
	fmt.Println("  2. Run: hive config set-key (if you skipped the API key above)")
	fmt.Println("  3. Run: hive serve")

	return nil
}

// promptLine prints prompt and reads a single trimmed line from stdin —
// used outside the setup wizard's form (config set-key) where a single
// ad hoc prompt doesn't warrant a full huh.Form.
func promptLine(prompt string) string {
	fmt.Print(prompt)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	return strings.TrimSpace(line)
}
