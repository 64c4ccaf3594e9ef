package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var current atomic.Pointer[slog.Logger]

func init() {
	// Until Configure runs, log warnings and above to stderr so command
	// output on stdout stays clean
	current.Store(slog.New(NewRedactingHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))))
}

// SetLogger replaces the process-wide logger
func SetLogger(logger *slog.Logger) {
	current.Store(logger)
}

// Configure installs a redacting logger writing to w. format is "json" or
// "text"; level is any name accepted by slog ("debug", "info", "warn", "error").
func Configure(w io.Writer, level, format string) error {
	var lvl slog.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "", "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return fmt.Errorf("invalid log format %q", format)
	}

	SetLogger(slog.New(NewRedactingHandler(handler)))
	return nil
}

// Logger returns the process-wide logger
func Logger() *slog.Logger {
	return current.Load()
}

func Debug(msg string, args ...any) { Logger().Debug(msg, args...) }
func Info(msg string, args ...any)  { Logger().Info(msg, args...) }
func Warn(msg string, args ...any)  { Logger().Warn(msg, args...) }
func Error(msg string, args ...any) { Logger().Error(msg, args...) }

// Field helpers. Keys are shared across packages so a single city or
// transaction can be followed through decode, reconcile and verify.

func City(city string) slog.Attr {
	return slog.String("city", city)
}

func Version(version string) slog.Attr {
	return slog.String("version", version)
}

func TxID(id string) slog.Attr {
	return slog.String("tx_id", id)
}

func ContractID(id string) slog.Attr {
	return slog.String("contract_id", id)
}

func Address(addr string) slog.Attr {
	return slog.String("address", addr)
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
