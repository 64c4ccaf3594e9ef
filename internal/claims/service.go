// Package claims is the surface the UI layer talks to: it lists a user's
// claim entries with resolved statuses, verifies them against the chain and
// computes the parameters of claim transactions for an external signer.
package claims

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cityclaims/cityclaims/internal/cache"
	"github.com/cityclaims/cityclaims/internal/clarity"
	"github.com/cityclaims/cityclaims/internal/decode"
	"github.com/cityclaims/cityclaims/internal/logging"
	"github.com/cityclaims/cityclaims/internal/reconcile"
	"github.com/cityclaims/cityclaims/internal/registry"
	"github.com/cityclaims/cityclaims/internal/storage"
	"github.com/cityclaims/cityclaims/internal/verify"
	"github.com/cityclaims/cityclaims/internal/window"
	"github.com/cityclaims/cityclaims/pkg/types"
)

// Options tunes how pending entries are verified
type Options struct {
	BatchSize  int
	BatchDelay time.Duration
	// FailedTTL is how long a check-failed result is shown before the entry
	// is verified again. Zero retries failed entries on every pass.
	FailedTTL time.Duration
}

// DefaultOptions returns five entries per batch with a one second pause
func DefaultOptions() Options {
	return Options{
		BatchSize:  5,
		BatchDelay: time.Second,
		FailedTTL:  30 * time.Minute,
	}
}

// Service serves one address
type Service struct {
	address  string
	source   Source
	reg      *registry.Registry
	decoder  *decode.Decoder
	engine   *reconcile.Engine
	verifier *verify.Client
	cache    *cache.Cache
	opts     Options
}

// Outcome is the result of verifying one entry
type Outcome struct {
	Entry  types.ClaimEntry         `json:"entry"`
	Status types.VerificationStatus `json:"status"`
	Err    error                    `json:"-"`
}

// Report summarizes a VerifyPending pass
type Report struct {
	Candidates int          `json:"candidates"`
	Verified   int          `json:"verified"`
	Failed     int          `json:"failed"`
	Batches    int          `json:"batches"`
	Outcomes   []Outcome    `json:"outcomes"`
	Storage    storage.Info `json:"storage"`
}

// NewService wires the pipeline for address
func NewService(address string, src Source, reg *registry.Registry, dec *decode.Decoder, windows *window.Calculator,
	verifier *verify.Client, c *cache.Cache, opts Options) (*Service, error) {
	if err := clarity.ValidateAddress(address); err != nil {
		return nil, fmt.Errorf("claims: %w", err)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	return &Service{
		address:  address,
		source:   src,
		reg:      reg,
		decoder:  dec,
		engine:   reconcile.New(windows),
		verifier: verifier,
		cache:    c,
		opts:     opts,
	}, nil
}

// Address returns the principal the service reports on
func (s *Service) Address() string { return s.address }

// ListClaimEntries reconciles the history for city and resolves each
// entry's status against the verification cache
func (s *Service) ListClaimEntries(ctx context.Context, city types.City) (reconcile.Result, error) {
	res, err := s.reconcile(ctx, city)
	if err != nil {
		return reconcile.Result{}, err
	}
	res.Mining = s.cache.ResolveAll(res.Mining, s.address)
	res.Stacking = s.cache.ResolveAll(res.Stacking, s.address)
	return res, nil
}

func (s *Service) reconcile(ctx context.Context, city types.City) (reconcile.Result, error) {
	if !city.IsValid() {
		return reconcile.Result{}, fmt.Errorf("claims: unknown city %q", city)
	}
	txs, err := s.source.Transactions(ctx, s.address)
	if err != nil {
		return reconcile.Result{}, fmt.Errorf("claims: load history: %w", err)
	}
	return s.engine.Reconcile(s.decoder.DecodeAll(txs), city), nil
}

// VerifyEntry checks one entry against the chain and records the outcome.
// An entry already claimed on chain is not checked again. Verification
// failures are reported as check-failed; only storage errors are returned.
// A failed check never replaces an earlier definitive result, and the
// returned entry keeps showing that result.
func (s *Service) VerifyEntry(ctx context.Context, entry types.ClaimEntry) (Outcome, storage.Info, error) {
	if entry.Status == types.StatusClaimed {
		return Outcome{Entry: entry, Status: types.VerificationClaimed}, s.cache.Info(), nil
	}

	res := s.verifier.Verify(ctx, entry, s.address)
	out := Outcome{Entry: entry, Status: res.Status, Err: res.Err}

	// a completed check is kept even if the caller has gone away
	stored, info, err := s.cache.Put(context.WithoutCancel(ctx), entry.Key(s.address), res.Status)
	if err != nil {
		return out, info, fmt.Errorf("claims: record verification: %w", err)
	}
	out.Entry = stored.Apply(entry)
	return out, info, nil
}

// VerifyPending verifies every unresolved entry of city in batches with a
// pause between batches. Entries whose last check failed are skipped until
// that result is older than FailedTTL and pruned. Cancellation is honored
// between batches; a batch already issued runs to completion and its
// results are recorded.
func (s *Service) VerifyPending(ctx context.Context, city types.City) (Report, error) {
	if n, err := s.cache.Prune(s.opts.FailedTTL); err != nil {
		logging.Warn("pruning failed verifications", logging.Component("claims"), logging.Err(err))
	} else if n > 0 {
		logging.Debug("pruned failed verifications", logging.Component("claims"), "count", n)
	}

	res, err := s.ListClaimEntries(ctx, city)
	if err != nil {
		return Report{}, err
	}

	var pending []types.ClaimEntry
	for _, list := range [][]types.ClaimEntry{res.Mining, res.Stacking} {
		for _, e := range list {
			if e.Status == types.StatusUnverified && !e.Retryable {
				pending = append(pending, e)
			}
		}
	}

	report := Report{Candidates: len(pending), Storage: s.cache.Info()}
	batches := reconcile.Batches(pending, s.opts.BatchSize)

	for i, batch := range batches {
		if i > 0 {
			if err := sleep(ctx, s.opts.BatchDelay); err != nil {
				return report, err
			}
		} else if err := ctx.Err(); err != nil {
			return report, err
		}

		results := s.verifier.VerifyBatch(context.WithoutCancel(ctx), batch, s.address)
		report.Batches++

		for j, r := range results {
			entry := batch[j]
			stored, info, err := s.cache.Put(context.WithoutCancel(ctx), entry.Key(s.address), r.Status)
			report.Storage = info
			if err != nil {
				return report, fmt.Errorf("claims: record verification: %w", err)
			}
			entry = stored.Apply(entry)
			report.Outcomes = append(report.Outcomes, Outcome{Entry: entry, Status: r.Status, Err: r.Err})
			if r.Status.Retryable() {
				report.Failed++
			} else {
				report.Verified++
			}
		}
	}

	logging.Info("verification pass complete",
		logging.Component("claims"),
		logging.City(string(city)),
		"candidates", report.Candidates,
		"verified", report.Verified,
		"failed", report.Failed,
		"storage_level", report.Storage.Level)
	return report, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsStorageExceeded reports whether err was caused by the storage cap
func IsStorageExceeded(err error) bool {
	return errors.Is(err, storage.ErrStorageExceeded)
}
