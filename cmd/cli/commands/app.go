package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/cityclaims/cityclaims/internal/bus"
	"github.com/cityclaims/cityclaims/internal/cache"
	"github.com/cityclaims/cityclaims/internal/claims"
	"github.com/cityclaims/cityclaims/internal/config"
	"github.com/cityclaims/cityclaims/internal/decode"
	"github.com/cityclaims/cityclaims/internal/logging"
	"github.com/cityclaims/cityclaims/internal/metrics"
	"github.com/cityclaims/cityclaims/internal/registry"
	"github.com/cityclaims/cityclaims/internal/stacks"
	"github.com/cityclaims/cityclaims/internal/storage"
	"github.com/cityclaims/cityclaims/internal/verify"
	"github.com/cityclaims/cityclaims/internal/window"
)

// app holds the wired pipeline for one command invocation
type app struct {
	cfg     *config.Config
	reg     *registry.Registry
	metrics *metrics.Collector
	db      *storage.DB
	guard   *storage.Guard
	bus     bus.Bus
	cache   *cache.Cache
	oracle  *stacks.Client
	service *claims.Service
}

// openStore opens the cache database and its guard
func openStore(cfg *config.Config, m *metrics.Collector) (*storage.DB, *storage.Guard, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, nil, err
	}
	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return nil, nil, err
	}
	guard, err := storage.NewGuard(db, cfg.Thresholds(), m)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, guard, nil
}

func openBus(ctx context.Context, cfg *config.Config) (bus.Bus, error) {
	switch cfg.Bus.Mode {
	case config.BusRedis:
		return bus.NewRedisBus(ctx, cfg.Redis())
	case config.BusMemory:
		return bus.NewMemoryBus(), nil
	default:
		return bus.NopBus{}, nil
	}
}

// openApp wires every component. history may be empty when the command
// does not read transactions.
func openApp(ctx context.Context, cfg *config.Config, address, history string) (*app, error) {
	if address == "" {
		address = cfg.Address
	}
	if address == "" {
		return nil, errors.New("no address given: use --address or set address in the config")
	}

	a := &app{cfg: cfg, reg: registry.Mainnet(), metrics: metrics.New()}

	var err error
	a.db, a.guard, err = openStore(cfg, a.metrics)
	if err != nil {
		return nil, err
	}

	a.bus, err = openBus(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.cache, err = cache.New(a.guard, a.bus, cache.Options{Metrics: a.metrics})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.oracle, err = stacks.NewClient(cfg.StacksClient(), a.metrics)
	if err != nil {
		a.Close()
		return nil, err
	}
	verifier := verify.New(a.oracle, a.reg, cfg.Verifier(), a.metrics)

	var src claims.Source = claims.StaticSource(nil)
	if history != "" {
		src = claims.FileSource{Path: history}
	}

	a.service, err = claims.NewService(address, src, a.reg,
		decode.New(a.reg, a.metrics), window.New(a.reg, a.metrics), verifier, a.cache,
		claims.Options{
			BatchSize:  cfg.Verification.BatchSize,
			BatchDelay: cfg.BatchDelay(),
			FailedTTL:  cfg.FailedTTL(),
		})
	if err != nil {
		a.Close()
		return nil, err
	}

	logging.Debug("pipeline ready",
		logging.Component("cli"),
		logging.Address(address),
		"bus", cfg.Bus.Mode,
		"store", cfg.Storage.Path)
	return a, nil
}

// Close releases the cache, bus and store in reverse order
func (a *app) Close() {
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			logging.Debug("closing bus", logging.Component("cli"), logging.Err(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logging.Warn("closing store", logging.Component("cli"), logging.Err(err))
		}
	}
}

func storageExceededMessage(info storage.Info) string {
	return fmt.Sprintf("Local storage is full (%s of %s). Run `cityclaims storage prune` or raise storage.cap_bytes.",
		FormatBytes(info.UsedBytes), FormatBytes(info.CapBytes))
}
