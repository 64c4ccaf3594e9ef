package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/cityclaims/cityclaims/internal/claims"
	"github.com/cityclaims/cityclaims/internal/logging"
	"github.com/cityclaims/cityclaims/internal/metrics"
	"github.com/cityclaims/cityclaims/internal/stacks"
	"github.com/cityclaims/cityclaims/pkg/types"
)

var (
	verifyAddress     string
	verifyHistory     string
	verifyMetricsFile string
	verifyMetricsAddr string
)

// NewVerifyCmd verifies pending claim entries
func NewVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [city]",
		Short: "Check unverified entries against the chain",
		Long: `Verify every unverified claim entry with read-only contract calls.

Entries are checked in batches with a pause between batches; requests are
rate limited and retried with backoff. Results are cached locally and
shared with other processes on the configured bus, so later runs only
check new entries. Failed checks are retried once they are older than
verification.failed_ttl_mins.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runVerify,
	}

	addSourceFlags(cmd, &verifyAddress, &verifyHistory)
	cmd.Flags().StringVar(&verifyMetricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile when done")
	cmd.Flags().StringVar(&verifyMetricsAddr, "metrics-addr", "", "Serve /metrics on this address while verifying (e.g. :9464)")
	return cmd
}

func runVerify(cmd *cobra.Command, args []string) error {
	cities, err := citiesFromArgs(args)
	if err != nil {
		return err
	}
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context(), cfg, verifyAddress, verifyHistory)
	if err != nil {
		return err
	}
	defer a.Close()

	if verifyMetricsAddr != "" {
		stop, err := serveMetrics(verifyMetricsAddr, a.metrics)
		if err != nil {
			return err
		}
		defer stop()
	}

	defer func() {
		if verifyMetricsFile == "" {
			return
		}
		if err := a.metrics.WriteTextfile(verifyMetricsFile); err != nil {
			logging.Warn("writing metrics textfile", logging.Component("cli"), logging.Err(err))
		}
	}()

	reports := make(map[types.City]claims.Report, len(cities))
	for _, city := range cities {
		var report claims.Report
		err := WithSpinner(cmd.Context(), fmt.Sprintf("Verifying %s entries", city.Symbol()), func(ctx context.Context) error {
			var err error
			report, err = a.service.VerifyPending(ctx, city)
			return err
		})
		reports[city] = report
		if err != nil {
			if claims.IsStorageExceeded(err) {
				fmt.Fprintln(cmd.ErrOrStderr(), AlertBox(storageExceededMessage(report.Storage)))
			}
			return err
		}
	}

	endpoints := a.oracle.Endpoints().Snapshot()
	for _, ep := range endpoints {
		if !ep.Healthy {
			logging.Warn("oracle endpoint unhealthy",
				logging.Component("cli"),
				"endpoint", ep.URL,
				"consecutive_errors", ep.ConsecutiveErrs)
		}
	}

	out := cmd.OutOrStdout()
	if wantJSON() {
		return printJSON(out, verifyOutput{Reports: reports, Endpoints: endpointViews(endpoints)})
	}

	for _, city := range cities {
		r := reports[city]
		fields := [][2]string{
			{"Candidates", fmt.Sprintf("%d", r.Candidates)},
			{"Verified", fmt.Sprintf("%d", r.Verified)},
			{"Failed", fmt.Sprintf("%d", r.Failed)},
			{"Batches", fmt.Sprintf("%d", r.Batches)},
			{"Storage", fmt.Sprintf("%s (%s)", FormatBytes(r.Storage.UsedBytes), r.Storage.Level)},
		}
		fmt.Fprintln(out, StatusBox(city.Symbol()+" verification", fields))

		var claimable []types.ClaimEntry
		for _, o := range r.Outcomes {
			if o.Entry.Status == types.StatusClaimable {
				claimable = append(claimable, o.Entry)
			}
		}
		if len(claimable) > 0 {
			fmt.Fprint(out, RenderTable([]string{"Kind", "ID", "Version", "Status"}, outcomeRows(claimable)))
			fmt.Fprintln(out)
			fmt.Fprintln(out, Hint("Build a claim with: cityclaims claim-params <city> <version> <kind> <id>"))
		}
		if r.Failed > 0 {
			fmt.Fprintln(out, Hint(fmt.Sprintf("%d checks failed and will be retried later", r.Failed)))
		}
	}

	fmt.Fprintln(out, SectionHeader("Oracle endpoints"))
	rows := make([][]string, len(endpoints))
	for i, ep := range endpointViews(endpoints) {
		state := "healthy"
		if !ep.Healthy {
			state = "unhealthy"
		}
		rows[i] = []string{ep.URL, state, fmt.Sprintf("%.0f ms", ep.LatencyMs), fmt.Sprintf("%d", ep.Errors)}
	}
	fmt.Fprint(out, RenderTable([]string{"Endpoint", "State", "Latency", "Errors"}, rows))
	return nil
}

type endpointView struct {
	URL       string  `json:"url"`
	Healthy   bool    `json:"healthy"`
	LatencyMs float64 `json:"latencyMs"`
	Errors    int     `json:"consecutiveErrors"`
}

type verifyOutput struct {
	Reports   map[types.City]claims.Report `json:"reports"`
	Endpoints []endpointView               `json:"endpoints"`
}

func endpointViews(eps []stacks.EndpointHealth) []endpointView {
	out := make([]endpointView, len(eps))
	for i, ep := range eps {
		out[i] = endpointView{
			URL:       ep.URL,
			Healthy:   ep.Healthy,
			LatencyMs: float64(ep.Latency.Microseconds()) / 1000,
			Errors:    ep.ConsecutiveErrs,
		}
	}
	return out
}

// serveMetrics exposes the collector on addr until the returned stop
// function is called
func serveMetrics(addr string, m *metrics.Collector) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Warn("metrics server stopped", logging.Component("cli"), logging.Err(err))
		}
	}()
	logging.Info("serving metrics", logging.Component("cli"), "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func outcomeRows(entries []types.ClaimEntry) [][]string {
	rows := make([][]string, len(entries))
	for i, e := range entries {
		rows[i] = []string{string(e.Kind), FormatCount(e.ID), e.Version.String(), StatusBadge(string(e.Status))}
	}
	return rows
}
