// Package verify checks reconciliation candidates against read-only contract
// functions. Calls are throttled, retried on transient failures and
// coalesced so at most one request per verification key is in flight.
package verify

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/cityclaims/cityclaims/internal/clarity"
	"github.com/cityclaims/cityclaims/internal/logging"
	"github.com/cityclaims/cityclaims/internal/metrics"
	"github.com/cityclaims/cityclaims/internal/registry"
	"github.com/cityclaims/cityclaims/internal/stacks"
	"github.com/cityclaims/cityclaims/internal/util"
	"github.com/cityclaims/cityclaims/pkg/types"
)

// ErrUnexpectedResult is returned when a read-only function answers with a
// value of the wrong shape
var ErrUnexpectedResult = errors.New("verify: unexpected result shape")

// ErrNoContract is returned when no read-only check is registered for an entry
var ErrNoContract = errors.New("verify: no read-only check for entry")

// Oracle evaluates read-only contract functions
type Oracle interface {
	CallReadOnly(ctx context.Context, contractID, function string, args []clarity.Value) (clarity.Value, error)
}

// BudgetReporter is implemented by oracles that know how many requests the
// upstream API still allows
type BudgetReporter interface {
	Budget() stacks.Budget
}

// Config tunes throttling and retries
type Config struct {
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	// Concurrency bounds VerifyBatch fan-out
	Concurrency int
}

// DefaultConfig returns conservative defaults for the public API
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 2,
		Burst:             5,
		MaxRetries:        3,
		BaseDelay:         time.Second,
		MaxDelay:          time.Minute,
		Concurrency:       5,
	}
}

// Result is the outcome of one verification. Err is set when Status is
// check-failed.
type Result struct {
	Status types.VerificationStatus
	Err    error
}

type userKey struct {
	address string
	version types.Version
	city    types.City
}

// Client routes verification calls by contract generation
type Client struct {
	oracle      Oracle
	reg         *registry.Registry
	limiter     *rate.Limiter
	retry       util.RetryConfig
	maxPause    time.Duration
	concurrency int
	metrics     *metrics.Collector
	group       singleflight.Group

	mu      sync.RWMutex
	userIDs map[userKey]*big.Int
}

// New creates a verification client. m may be nil.
func New(oracle Oracle, reg *registry.Registry, cfg Config, m *metrics.Collector) *Client {
	def := DefaultConfig()
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}

	return &Client{
		oracle:  oracle,
		reg:     reg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		retry: util.RetryConfig{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.BaseDelay,
			MaxDelay:   cfg.MaxDelay,
			Multiplier: 2.0,
			Jitter:     0.1,
			RetryIf:    util.RetryIfMarked(),
		},
		maxPause:    cfg.MaxDelay,
		concurrency: cfg.Concurrency,
		metrics:     m,
		userIDs:     make(map[userKey]*big.Int),
	}
}

// Verify checks one entry for address. It never returns not-won for a
// failed call: failures become check-failed with the cause attached.
func (c *Client) Verify(ctx context.Context, entry types.ClaimEntry, address string) Result {
	key := entry.Key(address)
	if err := key.Validate(); err != nil {
		return c.failed(key, fmt.Errorf("verify: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return c.failed(key, err)
	}

	// the shared call outlives any one caller; each caller stops waiting
	// when its own context ends
	ch := c.group.DoChan(key.String(), func() (any, error) {
		return c.verify(context.WithoutCancel(ctx), entry, address)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return c.failed(key, ctx.Err())
	case res = <-ch:
	}
	if res.Shared {
		c.metrics.RecordCoalesced()
	}
	if res.Err != nil {
		return c.failed(key, res.Err)
	}

	status := res.Val.(types.VerificationStatus)
	c.metrics.RecordVerification(string(key.Kind), string(status))
	logging.Debug("verified claim entry",
		logging.Component("verify"),
		logging.City(string(key.City)),
		logging.Version(key.Version.String()),
		"kind", key.Kind,
		"id", key.ID,
		"status", status)
	return Result{Status: status}
}

func (c *Client) failed(key types.VerificationKey, err error) Result {
	c.metrics.RecordVerification(string(key.Kind), string(types.VerificationCheckFailed))
	logging.Warn("verification failed",
		logging.Component("verify"),
		logging.City(string(key.City)),
		logging.Version(key.Version.String()),
		"kind", key.Kind,
		"id", key.ID,
		logging.Err(err))
	return Result{Status: types.VerificationCheckFailed, Err: err}
}

// VerifyBatch verifies entries concurrently. A failure for one entry does
// not affect the others; results are index-aligned with entries.
func (c *Client) VerifyBatch(ctx context.Context, entries []types.ClaimEntry, address string) []Result {
	results := make([]Result, len(entries))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, entry := range entries {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results[i] = Result{
						Status: types.VerificationCheckFailed,
						Err:    fmt.Errorf("verify: panic: %v", r),
					}
				}
			}()
			results[i] = c.Verify(ctx, entry, address)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (c *Client) verify(ctx context.Context, entry types.ClaimEntry, address string) (types.VerificationStatus, error) {
	user, err := clarity.ParsePrincipal(address)
	if err != nil {
		return "", fmt.Errorf("verify: invalid address: %w", err)
	}

	contract, err := c.contractFor(entry)
	if err != nil {
		return "", err
	}

	switch entry.Kind {
	case types.ClaimKindMining:
		return c.verifyMining(ctx, contract, entry, user)
	case types.ClaimKindStacking:
		return c.verifyStacking(ctx, contract, entry, user)
	}
	return "", fmt.Errorf("verify: unknown claim kind %q", entry.Kind)
}

// contractFor prefers the contract the entry was reconciled against, so
// DaoV2 stacking entries land on the shared stacking contract.
func (c *Client) contractFor(entry types.ClaimEntry) (registry.Entry, error) {
	if entry.ContractID != "" {
		if e, ok := c.reg.Contract(entry.ContractID); ok {
			return e, nil
		}
	}
	module := types.ModuleMining
	if entry.Kind == types.ClaimKindStacking {
		module = types.ModuleStacking
	}
	if e, ok := c.reg.ForCity(entry.City, entry.Version, module); ok {
		return e, nil
	}
	if entry.Version == types.VersionDaoV2 && module == types.ModuleStacking {
		if e, ok := c.reg.ForCity(entry.City, types.VersionDaoV1, module); ok {
			return e, nil
		}
	}
	return registry.Entry{}, fmt.Errorf("%w: %s/%s/%s", ErrNoContract, entry.City, entry.Version, entry.Kind)
}

func (c *Client) verifyMining(ctx context.Context, contract registry.Entry, entry types.ClaimEntry, user clarity.Principal) (types.VerificationStatus, error) {
	principal := clarity.PrincipalValue(user)
	height := clarity.UintFrom64(entry.ID)

	switch entry.Version {
	case types.VersionLegacyV1, types.VersionLegacyV2:
		v, err := c.call(ctx, contract.ReadOnly.MiningCheck, principal, height)
		if err != nil {
			return "", err
		}
		canClaim, ok := v.AsBool()
		if !ok {
			return "", unexpected(contract.ReadOnly.MiningCheck, v)
		}
		if canClaim {
			return types.VerificationClaimable, nil
		}
		// not claimable: either already claimed or never won
		v, err = c.call(ctx, contract.ReadOnly.WinnerCheck, principal, height)
		if err != nil {
			return "", err
		}
		winner, ok := v.AsBool()
		if !ok {
			return "", unexpected(contract.ReadOnly.WinnerCheck, v)
		}
		if winner {
			return types.VerificationClaimed, nil
		}
		return types.VerificationNotWon, nil

	case types.VersionDaoV1, types.VersionDaoV2:
		cityID, err := c.cityID(entry.City)
		if err != nil {
			return "", err
		}
		v, err := c.call(ctx, contract.ReadOnly.MiningCheck, cityID, principal, height)
		if err != nil {
			return "", err
		}
		inner, isSome, ok := v.AsOptional()
		if !ok {
			return "", unexpected(contract.ReadOnly.MiningCheck, v)
		}
		if !isSome {
			return types.VerificationNotWon, nil
		}
		winnerField, ok1 := inner.Field("winner")
		claimedField, ok2 := inner.Field("claimed")
		winner, ok3 := winnerField.AsBool()
		claimed, ok4 := claimedField.AsBool()
		if !ok1 || !ok2 || !ok3 || !ok4 {
			return "", unexpected(contract.ReadOnly.MiningCheck, v)
		}
		switch {
		case !winner:
			return types.VerificationNotWon, nil
		case claimed:
			return types.VerificationClaimed, nil
		default:
			return types.VerificationClaimable, nil
		}
	}
	panic(fmt.Sprintf("verify: unhandled version %d", int(entry.Version)))
}

func (c *Client) verifyStacking(ctx context.Context, contract registry.Entry, entry types.ClaimEntry, user clarity.Principal) (types.VerificationStatus, error) {
	userID, found, err := c.userID(ctx, contract.ReadOnly.GetUserID, user, entry.Version, entry.City)
	if err != nil {
		return "", err
	}
	if !found {
		// never registered, so nothing was stacked under this address
		return types.VerificationStackedWithoutReward, nil
	}
	cycle := clarity.UintFrom64(entry.ID)

	var v clarity.Value
	switch entry.Version {
	case types.VersionLegacyV1, types.VersionLegacyV2:
		v, err = c.call(ctx, contract.ReadOnly.StackingCheck, clarity.Uint(userID), cycle)
	case types.VersionDaoV1, types.VersionDaoV2:
		var cityID clarity.Value
		if cityID, err = c.cityID(entry.City); err != nil {
			return "", err
		}
		v, err = c.call(ctx, contract.ReadOnly.StackingCheck, cityID, clarity.Uint(userID), cycle)
	default:
		panic(fmt.Sprintf("verify: unhandled version %d", int(entry.Version)))
	}
	if err != nil {
		return "", err
	}

	reward, ok := rewardAmount(v)
	if !ok {
		return "", unexpected(contract.ReadOnly.StackingCheck, v)
	}
	if reward.Sign() > 0 {
		return types.VerificationStackedWithReward, nil
	}
	return types.VerificationStackedWithoutReward, nil
}

// rewardAmount accepts a bare uint or an optional uint; none is zero
func rewardAmount(v clarity.Value) (*big.Int, bool) {
	if n, ok := v.AsUint(); ok {
		return n, true
	}
	inner, isSome, ok := v.AsOptional()
	if !ok {
		return nil, false
	}
	if !isSome {
		return new(big.Int), true
	}
	return inner.AsUint()
}

func (c *Client) cityID(city types.City) (clarity.Value, error) {
	id, ok := c.reg.CityID(city)
	if !ok {
		return clarity.Value{}, fmt.Errorf("verify: no city id for %q", city)
	}
	return clarity.UintFrom64(id), nil
}

// userID resolves the numeric user id once per address, version and city.
// Only found ids are cached so a later registration is picked up.
func (c *Client) userID(ctx context.Context, call registry.ReadOnlyCall, user clarity.Principal, version types.Version, city types.City) (*big.Int, bool, error) {
	k := userKey{address: user.String(), version: version, city: city}

	c.mu.RLock()
	id, ok := c.userIDs[k]
	c.mu.RUnlock()
	if ok {
		return id, true, nil
	}

	v, err, _ := c.group.Do("user-id/"+k.address+"/"+version.String()+"/"+string(city), func() (any, error) {
		return c.call(ctx, call, clarity.PrincipalValue(user))
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(clarity.Value)

	inner, isSome, ok := res.AsOptional()
	if !ok {
		// some legacy deployments answer with a bare uint
		if n, ok := res.AsUint(); ok {
			inner, isSome = &clarity.Value{Type: clarity.TypeUint, Int: n}, true
		} else {
			return nil, false, unexpected(call, res)
		}
	}
	if !isSome {
		return nil, false, nil
	}
	id, ok = inner.AsUint()
	if !ok {
		return nil, false, unexpected(call, res)
	}

	c.mu.Lock()
	c.userIDs[k] = id
	c.mu.Unlock()
	return id, true, nil
}

// call throttles, retries and unwraps one read-only call
func (c *Client) call(ctx context.Context, call registry.ReadOnlyCall, args ...clarity.Value) (clarity.Value, error) {
	if call.IsZero() {
		return clarity.Value{}, ErrNoContract
	}

	cfg := c.retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		var rl *stacks.RateLimitedError
		if errors.As(err, &rl) {
			logging.Info("oracle rate limited, backing off",
				logging.Component("verify"),
				"function", call.Function,
				"delay", delay)
			return
		}
		logging.Debug("retrying read-only call",
			logging.Component("verify"),
			"function", call.Function,
			"attempt", attempt,
			"delay", delay,
			logging.Err(err))
	}

	v, result := util.RetryWithValue(ctx, &cfg, func() (clarity.Value, error) {
		if err := c.waitBudget(ctx); err != nil {
			return clarity.Value{}, err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return clarity.Value{}, err
		}
		return c.oracle.CallReadOnly(ctx, call.ContractID, call.Function, args)
	})
	if result.LastError != nil {
		return clarity.Value{}, fmt.Errorf("verify: %s::%s: %w", call.ContractID, call.Function, result.LastError)
	}

	switch v.Type {
	case clarity.TypeResponseOk:
		return *v.Inner, nil
	case clarity.TypeResponseErr:
		return clarity.Value{}, fmt.Errorf("verify: %s::%s returned %s", call.ContractID, call.Function, v)
	}
	return v, nil
}

// waitBudget pauses until the reported reset when the upstream budget is
// exhausted. The pause is capped at the maximum retry delay.
func (c *Client) waitBudget(ctx context.Context) error {
	br, ok := c.oracle.(BudgetReporter)
	if !ok {
		return nil
	}
	b := br.Budget()
	if !b.Known || b.Remaining > 0 {
		return nil
	}
	wait := time.Until(b.Reset)
	if wait <= 0 {
		return nil
	}
	wait = min(wait, c.maxPause)

	c.metrics.RecordRateLimited()
	logging.Info("request budget exhausted, pausing",
		logging.Component("verify"),
		"wait", wait)

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func unexpected(call registry.ReadOnlyCall, v clarity.Value) error {
	return fmt.Errorf("%w: %s returned %s", ErrUnexpectedResult, call.Function, v)
}
