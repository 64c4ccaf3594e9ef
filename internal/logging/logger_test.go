package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	custom := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	SetLogger(custom)
	if Logger() != custom {
		t.Error("Logger() did not return the logger set by SetLogger()")
	}
}

func TestConfigure_JSONLevels(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	if err := Configure(&buf, "debug", "json"); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	tests := []struct {
		logFunc func(string, ...any)
		level   string
	}{
		{Debug, "DEBUG"},
		{Info, "INFO"},
		{Warn, "WARN"},
		{Error, "ERROR"},
	}
	for _, tt := range tests {
		buf.Reset()
		tt.logFunc("decoded transaction", City("mia"), TxID("0xabc"))

		var rec map[string]any
		if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
			t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
		}
		if rec["level"] != tt.level || rec["city"] != "mia" || rec["tx_id"] != "0xabc" {
			t.Errorf("unexpected record: %v", rec)
		}
	}
}

func TestConfigure(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	if err := Configure(&buf, "warn", "text"); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	Info("quiet")
	Warn("loud", "api_key", "secret-value")

	output := buf.String()
	if strings.Contains(output, "quiet") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(output, "loud") {
		t.Errorf("expected warn message, got: %s", output)
	}
	if strings.Contains(output, "secret-value") {
		t.Errorf("configured logger should redact, got: %s", output)
	}
}

func TestConfigure_Invalid(t *testing.T) {
	var buf bytes.Buffer
	if err := Configure(&buf, "loud", "json"); err == nil {
		t.Error("expected error for invalid level")
	}
	if err := Configure(&buf, "info", "xml"); err == nil {
		t.Error("expected error for invalid format")
	}
}

func TestFieldHelpers(t *testing.T) {
	tests := []struct {
		attr slog.Attr
		key  string
		want string
	}{
		{City("mia"), "city", "mia"},
		{Version("daoV1"), "version", "daoV1"},
		{TxID("0xabc"), "tx_id", "0xabc"},
		{ContractID("SP1.core"), "contract_id", "SP1.core"},
		{Address("SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7"), "address", "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7"},
		{Component("cache"), "component", "cache"},
	}
	for _, tt := range tests {
		if tt.attr.Key != tt.key {
			t.Errorf("expected key %q, got %q", tt.key, tt.attr.Key)
		}
		if tt.attr.Value.String() != tt.want {
			t.Errorf("expected value %q, got %q", tt.want, tt.attr.Value.String())
		}
	}
}

func TestErrAttr(t *testing.T) {
	t.Run("with error", func(t *testing.T) {
		attr := Err(errors.New("something failed"))
		if attr.Key != "error" {
			t.Errorf("expected key 'error', got %s", attr.Key)
		}
		if attr.Value.String() != "something failed" {
			t.Errorf("expected 'something failed', got %s", attr.Value.String())
		}
	})

	t.Run("with nil error", func(t *testing.T) {
		if attr := Err(nil); attr.Value.String() != "" {
			t.Errorf("expected empty string for nil error, got %s", attr.Value.String())
		}
	})
}

func TestConcurrentLogging(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	if err := Configure(&buf, "info", "json"); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			Info("verified entry", "worker", n)
		}(i)
	}
	wg.Wait()

	if got := strings.Count(buf.String(), "verified entry"); got != 10 {
		t.Errorf("expected 10 records, got %d", got)
	}
}
