package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cityclaims/cityclaims/internal/config"
	"github.com/cityclaims/cityclaims/internal/metrics"
	"github.com/cityclaims/cityclaims/internal/registry"
	"github.com/cityclaims/cityclaims/internal/stacks"
)

func TestNewClaimsCmd(t *testing.T) {
	cmd := NewClaimsCmd()

	if cmd == nil {
		t.Fatal("NewClaimsCmd returned nil")
	}
	if cmd.Use != "claims [city]" {
		t.Errorf("Use mismatch: got %s, want claims [city]", cmd.Use)
	}
	for _, name := range []string{"address", "history"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("--%s flag should exist", name)
		}
	}
}

func TestNewVerifyCmd(t *testing.T) {
	cmd := NewVerifyCmd()

	if cmd == nil {
		t.Fatal("NewVerifyCmd returned nil")
	}
	if cmd.Use != "verify [city]" {
		t.Errorf("Use mismatch: got %s, want verify [city]", cmd.Use)
	}
	if cmd.Flags().Lookup("metrics-file") == nil {
		t.Error("--metrics-file flag should exist")
	}
}

func TestNewStorageCmd(t *testing.T) {
	cmd := NewStorageCmd()

	if cmd.Use != "storage" {
		t.Errorf("Use mismatch: got %s, want storage", cmd.Use)
	}
	prune, _, err := cmd.Find([]string{"prune"})
	if err != nil || prune.Use != "prune" {
		t.Fatalf("prune subcommand missing: %v", err)
	}
	if prune.Flags().Lookup("older-than") == nil {
		t.Error("--older-than flag should exist")
	}
}

func TestNewConfigCmd(t *testing.T) {
	cmd := NewConfigCmd()

	for _, sub := range []string{"show", "path", "validate", "init"} {
		if c, _, err := cmd.Find([]string{sub}); err != nil || c.Use != sub {
			t.Errorf("config %s subcommand missing", sub)
		}
	}
}

func TestClaimParamsCmd_JSON(t *testing.T) {
	OutputFormat = "json"
	t.Cleanup(func() { OutputFormat = "" })

	cmd := NewClaimParamsCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"mia", "daoV2", "mining", "150000"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var got struct {
		Contract     string `json:"contract"`
		FunctionName string `json:"functionName"`
		FunctionArgs []struct {
			Repr string `json:"repr"`
		} `json:"functionArgs"`
	}
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if got.Contract != registry.DAOMiningV2 {
		t.Errorf("contract = %s", got.Contract)
	}
	if len(got.FunctionArgs) != 2 || got.FunctionArgs[0].Repr != `"mia"` || got.FunctionArgs[1].Repr != "u150000" {
		t.Errorf("unexpected args %+v", got.FunctionArgs)
	}
}

func TestClaimParamsCmd_Plain(t *testing.T) {
	cmd := NewClaimParamsCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"nyc", "legacyV2", "stacking", "12"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	s := out.String()
	if !strings.Contains(s, registry.NYCCoreV2) || !strings.Contains(s, "claim-stacking-reward") || !strings.Contains(s, "u12") {
		t.Errorf("unexpected output:\n%s", s)
	}
}

func TestClaimParamsCmd_InvalidArgs(t *testing.T) {
	tests := [][]string{
		{"la", "daoV2", "mining", "1"},
		{"mia", "v9", "mining", "1"},
		{"mia", "daoV2", "transfer", "1"},
		{"mia", "daoV2", "mining", "abc"},
		{"mia", "daoV2", "mining"},
	}
	for _, args := range tests {
		cmd := NewClaimParamsCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(args)
		if err := cmd.Execute(); err == nil {
			t.Errorf("expected error for %v", args)
		}
	}
}

func TestStorageCmd_JSON(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Storage.Path = filepath.Join(dir, "cache.db")
	path := filepath.Join(dir, "config.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	ConfigPath, OutputFormat = path, "json"
	t.Cleanup(func() { ConfigPath, OutputFormat = "", "" })

	cmd := NewStorageCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var got struct {
		Entries int `json:"entries"`
		Info    struct {
			UsedBytes int64  `json:"usedBytes"`
			Level     string `json:"level"`
		} `json:"info"`
		Thresholds struct {
			CapBytes int64 `json:"capBytes"`
		} `json:"thresholds"`
	}
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if got.Info.Level != "normal" {
		t.Errorf("level = %s, want normal", got.Info.Level)
	}
	if got.Entries != 0 || got.Info.UsedBytes != 0 {
		t.Errorf("expected an empty store, got %+v", got)
	}
	if got.Thresholds.CapBytes != cfg.Storage.CapBytes {
		t.Errorf("cap = %d, want %d", got.Thresholds.CapBytes, cfg.Storage.CapBytes)
	}
	if _, err := os.Stat(cfg.Storage.Path); err != nil {
		t.Errorf("store should have been created: %v", err)
	}
}

func TestCitiesFromArgs(t *testing.T) {
	all, err := citiesFromArgs(nil)
	if err != nil || len(all) != 2 {
		t.Errorf("expected every city, got %v (%v)", all, err)
	}
	one, err := citiesFromArgs([]string{"NYC"})
	if err != nil || len(one) != 1 || one[0] != "nyc" {
		t.Errorf("expected nyc, got %v (%v)", one, err)
	}
	if _, err := citiesFromArgs([]string{"la"}); err == nil {
		t.Error("expected error for unknown city")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatCount(t *testing.T) {
	if got := FormatCount(150000); got != "150,000" {
		t.Errorf("FormatCount = %q", got)
	}
	if got := FormatCount(12); got != "12" {
		t.Errorf("FormatCount = %q", got)
	}
}

func TestFormatAddress(t *testing.T) {
	if got := FormatAddress("SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7"); got != "SP2J6Z...V9EJ7" {
		t.Errorf("FormatAddress = %q", got)
	}
	if got := FormatAddress("SP123"); got != "SP123" {
		t.Errorf("short address should be unchanged, got %q", got)
	}
}

func TestRenderTablePlain(t *testing.T) {
	s := renderTablePlain([]string{"Block", "Status"}, [][]string{{"58931", "claimable"}})
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header, separator and one row, got %q", s)
	}
	if !strings.HasPrefix(lines[1], "-----") || !strings.Contains(lines[2], "claimable") {
		t.Errorf("unexpected table:\n%s", s)
	}
}

func TestVersionCmd_JSON(t *testing.T) {
	OutputFormat = "json"
	t.Cleanup(func() { OutputFormat = "" })

	cmd := NewVersionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var got buildInfo
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if got.Version == "" || got.GoVersion == "" || !strings.Contains(got.Platform, "/") {
		t.Errorf("incomplete build info: %+v", got)
	}
}

func TestAbbreviate(t *testing.T) {
	if got := FormatTxID("0x1234567890abcdef1234"); got != "0x123456...1234" {
		t.Errorf("FormatTxID = %q", got)
	}
	if got := FormatTxID("0xabc"); got != "0xabc" {
		t.Errorf("short id should be unchanged, got %q", got)
	}
}

func TestServeMetrics(t *testing.T) {
	m := metrics.New()
	m.RecordVerification("mining", "claimable")

	stop, err := serveMetrics("127.0.0.1:0", m)
	if err != nil {
		t.Fatalf("serveMetrics: %v", err)
	}
	stop()

	if _, err := serveMetrics("not-an-address", m); err == nil {
		t.Error("expected error for invalid listen address")
	}
}

func TestEndpointViews(t *testing.T) {
	views := endpointViews([]stacks.EndpointHealth{
		{URL: "https://api.hiro.so", Healthy: true, Latency: 1500 * time.Microsecond},
		{URL: "https://backup.example", ConsecutiveErrs: 3},
	})
	if len(views) != 2 || views[0].LatencyMs != 1.5 || views[1].Healthy || views[1].Errors != 3 {
		t.Errorf("unexpected views: %+v", views)
	}
}
