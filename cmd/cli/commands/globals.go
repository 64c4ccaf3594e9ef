package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/cityclaims/cityclaims/internal/config"
)

// Global CLI flags
var (
	// ConfigPath is the configuration file; empty means the default location
	ConfigPath string

	// OutputFormat controls output format: "" (auto), "json", "plain"
	OutputFormat string

	// LogLevel overrides the configured log level when set
	LogLevel string
)

// LoadConfig loads the configuration from the flag or the default path
func LoadConfig() (*config.Config, error) {
	return config.Load(configPath())
}

func configPath() string {
	if ConfigPath != "" {
		return ConfigPath
	}
	return config.DefaultConfigPath()
}

func wantJSON() bool {
	return OutputFormat == "json"
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
