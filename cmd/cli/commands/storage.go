package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cityclaims/cityclaims/internal/bus"
	"github.com/cityclaims/cityclaims/internal/cache"
	"github.com/cityclaims/cityclaims/internal/storage"
)

var pruneOlderThan time.Duration

// NewStorageCmd reports and maintains the local cache
func NewStorageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Show local cache usage",
		Long: `Show how much of the local storage budget the verification cache uses.

Levels: normal, warning, critical and exceeded. Writes are rejected once
the cap would be reached.`,
		RunE: runStorage,
	}

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Drop failed verification results",
		Long:  "Remove check-failed results older than --older-than so those entries are verified again.",
		RunE:  runStoragePrune,
	}
	prune.Flags().DurationVar(&pruneOlderThan, "older-than", 0, "Only prune results older than this")
	cmd.AddCommand(prune)

	return cmd
}

type storageReport struct {
	Path       string             `json:"path"`
	Entries    int                `json:"entries"`
	Info       storage.Info       `json:"info"`
	Thresholds storage.Thresholds `json:"thresholds"`
}

func runStorage(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	db, guard, err := openStore(cfg, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := db.Count(storage.BucketVerifications)
	if err != nil {
		return err
	}
	report := storageReport{
		Path:       db.Path(),
		Entries:    n,
		Info:       guard.Info(),
		Thresholds: guard.Thresholds(),
	}

	out := cmd.OutOrStdout()
	if wantJSON() {
		return printJSON(out, report)
	}

	pct := float64(report.Info.UsedBytes) / float64(report.Info.CapBytes) * 100
	fmt.Fprintln(out, StatusBox("Storage", [][2]string{
		{"Path", report.Path},
		{"Entries", fmt.Sprintf("%d", report.Entries)},
		{"Used", fmt.Sprintf("%s of %s (%.1f%%)", FormatBytes(report.Info.UsedBytes), FormatBytes(report.Info.CapBytes), pct)},
		{"Level", StatusBadge(report.Info.Level.String())},
		{"Warning at", FormatBytes(report.Thresholds.WarningBytes)},
		{"Critical at", FormatBytes(report.Thresholds.CriticalBytes)},
	}))
	if report.Info.Level >= storage.LevelCritical {
		fmt.Fprintln(out, Hint("Free space with: cityclaims storage prune"))
	}
	return nil
}

func runStoragePrune(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	db, guard, err := openStore(cfg, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	c, err := cache.New(guard, bus.NopBus{}, cache.Options{})
	if err != nil {
		return err
	}
	defer c.Close()

	n, err := c.Prune(pruneOlderThan)
	if err != nil {
		return err
	}

	if wantJSON() {
		return printJSON(cmd.OutOrStdout(), map[string]any{"pruned": n, "info": c.Info()})
	}
	Success(cmd.OutOrStdout(), fmt.Sprintf("Pruned %d failed results (%s used)", n, FormatBytes(c.Info().UsedBytes)))
	return nil
}
