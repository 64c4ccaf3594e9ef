package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cityclaims/cityclaims/internal/clarity"
	"github.com/cityclaims/cityclaims/internal/config"
)

var configInitNonInteractive bool

// NewConfigCmd groups configuration subcommands
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long:  "Print the configuration after applying the file and CITYCLAIMS_* environment overrides.",
		RunE:  runConfigShow,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), configPath())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := LoadConfig(); err != nil {
				return err
			}
			Success(cmd.OutOrStdout(), "Configuration is valid")
			return nil
		},
	})

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file",
		Long: `Create the configuration file with a short guided form.

Use Shift+Tab to go back, Ctrl+C to cancel without changes. Without a
terminal, or with --non-interactive, the defaults are written.`,
		RunE: runConfigInit,
	}
	initCmd.Flags().BoolVar(&configInitNonInteractive, "non-interactive", false, "Write defaults without prompting")
	cmd.AddCommand(initCmd)

	return cmd
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	shown := *cfg
	if shown.Stacks.APIKey != "" {
		shown.Stacks.APIKey = "[REDACTED]"
	}

	out := cmd.OutOrStdout()
	if wantJSON() {
		return printJSON(out, shown)
	}
	data, err := yaml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	fmt.Fprint(out, string(data))
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configPath()
	cfg := config.DefaultConfig()

	if configInitNonInteractive || !interactive() {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s", path)
		}
		return writeConfig(cmd.OutOrStdout(), cfg, path)
	}

	_, statErr := os.Stat(path)
	hasExisting := statErr == nil

	var (
		address   string
		apiKey    string
		busMode   = config.BusNone
		redisURL  string
		overwrite bool
		confirm   bool
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Stacks address").
				Description("Principal whose claims are listed (optional)").
				Placeholder("SP...").
				Validate(func(s string) error {
					if s == "" {
						return nil
					}
					return clarity.ValidateAddress(strings.TrimSpace(s))
				}).
				Value(&address),
			huh.NewInput().
				Title("Stacks API key").
				Description("Raises the read-only request budget (optional)").
				EchoMode(huh.EchoModePassword).
				Value(&apiKey),
		),

		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Share verification results").
				Options(
					huh.NewOption("Not shared", config.BusNone),
					huh.NewOption("Within this process", config.BusMemory),
					huh.NewOption("Across processes via Redis", config.BusRedis),
				).
				Value(&busMode),
		),

		huh.NewGroup(
			huh.NewInput().
				Title("Redis URL").
				Placeholder("redis://localhost:6379/0").
				Validate(func(s string) error {
					if !strings.HasPrefix(s, "redis://") && !strings.HasPrefix(s, "rediss://") {
						return fmt.Errorf("must start with redis:// or rediss://")
					}
					return nil
				}).
				Value(&redisURL),
		).WithHideFunc(func() bool {
			return busMode != config.BusRedis
		}),

		huh.NewGroup(
			huh.NewConfirm().
				Title("Config file already exists. Overwrite?").
				Description(path).
				Affirmative("Overwrite").
				Negative("Keep existing").
				Value(&overwrite),
		).WithHideFunc(func() bool {
			return !hasExisting
		}),

		huh.NewGroup(
			huh.NewConfirm().
				Title("Write this configuration?").
				DescriptionFunc(func() string {
					lines := []string{fmt.Sprintf("Bus:     %s", busMode)}
					if address != "" {
						lines = append(lines, fmt.Sprintf("Address: %s", FormatAddress(address)))
					}
					lines = append(lines, fmt.Sprintf("Store:   %s", cfg.Storage.Path))
					return strings.Join(lines, "\n")
				}, &busMode).
				Affirmative("Confirm").
				Negative("Cancel").
				Value(&confirm),
		),
	).WithTheme(huh.ThemeBase())

	if err := form.Run(); err != nil {
		return err
	}
	if !confirm || (hasExisting && !overwrite) {
		Notice(cmd.OutOrStdout(), "No changes made")
		return nil
	}

	cfg.Address = strings.TrimSpace(address)
	cfg.Stacks.APIKey = apiKey
	cfg.Bus.Mode = busMode
	cfg.Bus.RedisURL = redisURL
	return writeConfig(cmd.OutOrStdout(), cfg, path)
}

func writeConfig(w io.Writer, cfg *config.Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Save(path); err != nil {
		return err
	}
	Success(w, fmt.Sprintf("Config written to %s", path))
	fmt.Fprintln(w, Hint("Next: cityclaims claims --history history.json"))
	return nil
}
