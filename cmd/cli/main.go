package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/cityclaims/cityclaims/cmd/cli/commands"
	"github.com/cityclaims/cityclaims/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "cityclaims",
	Short: "CityCoins claim reconciliation and verification",
	Long: `Find the CityCoins mining and stacking rewards an address can still claim.

Transaction history is reconciled into claim entries, unclaimed entries are
verified with read-only contract calls, and the parameters of the claim
transaction are computed for an external wallet.`,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&commands.ConfigPath, "config", "", "Config file (default: ~/.cityclaims/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&commands.OutputFormat, "output", "o", "", "Output format: json or plain")
	rootCmd.PersistentFlags().StringVar(&commands.LogLevel, "log-level", "", "Override the configured log level")
}

// setupLogging sends logs to stderr so JSON output stays parseable
func setupLogging(cmd *cobra.Command, args []string) error {
	level, format := "warn", "text"
	if cfg, err := commands.LoadConfig(); err == nil {
		level, format = cfg.Log.Level, cfg.Log.Format
	}
	if commands.LogLevel != "" {
		level = commands.LogLevel
	}
	return logging.Configure(os.Stderr, level, format)
}

func main() {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: reading .env: %v\n", err)
	}

	rootCmd.AddCommand(commands.NewClaimsCmd())
	rootCmd.AddCommand(commands.NewVerifyCmd())
	rootCmd.AddCommand(commands.NewClaimParamsCmd())
	rootCmd.AddCommand(commands.NewStorageCmd())
	rootCmd.AddCommand(commands.NewConfigCmd())
	rootCmd.AddCommand(commands.NewVersionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
