// Package window computes the block heights and reward cycles a commitment
// transaction can affect. Windows are all-or-nothing: a window that crosses a
// contract boundary is discarded, never clipped.
package window

import (
	"errors"
	"fmt"

	"github.com/cityclaims/cityclaims/internal/decode"
	"github.com/cityclaims/cityclaims/internal/logging"
	"github.com/cityclaims/cityclaims/internal/metrics"
	"github.com/cityclaims/cityclaims/internal/registry"
	"github.com/cityclaims/cityclaims/pkg/types"
)

// ErrWindowInvalid is returned when a commitment falls outside the bounds of
// its contract generation
var ErrWindowInvalid = errors.New("window: outside contract bounds")

// Calculator is pure apart from logging and metrics
type Calculator struct {
	registry *registry.Registry
	metrics  *metrics.Collector
}

// New creates a calculator. m may be nil.
func New(reg *registry.Registry, m *metrics.Collector) *Calculator {
	return &Calculator{registry: reg, metrics: m}
}

// MiningWindow returns the block heights tx competes for, or nil if the
// transaction failed or its window is invalid.
func (c *Calculator) MiningWindow(tx types.Transaction, args decode.Mining) []uint64 {
	ids, err := c.mining(tx, args)
	if err != nil {
		c.invalid(tx, types.ClaimKindMining, err)
		return nil
	}
	return ids
}

// StackingWindow returns the reward cycles tx locks tokens for, or nil if the
// transaction failed or its window is invalid.
func (c *Calculator) StackingWindow(tx types.Transaction, args decode.Stacking, city types.City, version types.Version) []uint64 {
	ids, err := c.stacking(tx, args, city, version)
	if err != nil {
		c.invalid(tx, types.ClaimKindStacking, err)
		return nil
	}
	return ids
}

// Window dispatches on the record's variant. ok is false for records that
// are not commitments.
func (c *Calculator) Window(rec decode.Record) (kind types.ClaimKind, ids []uint64, ok bool) {
	switch a := rec.Args.(type) {
	case decode.Mining:
		return types.ClaimKindMining, c.MiningWindow(rec.Tx, a), true
	case decode.Stacking:
		return types.ClaimKindStacking, c.StackingWindow(rec.Tx, a, a.City, a.Version), true
	}
	return "", nil, false
}

func (c *Calculator) invalid(tx types.Transaction, kind types.ClaimKind, err error) {
	if !errors.Is(err, ErrWindowInvalid) {
		return
	}
	c.metrics.RecordWindowInvalid(string(kind))
	logging.Warn("discarded commitment window",
		logging.Component("window"),
		logging.TxID(tx.TxID),
		"kind", kind,
		logging.Err(err))
}

// errFailedTx marks commitments that never settled; not a window error
var errFailedTx = errors.New("window: transaction did not succeed")

func (c *Calculator) mining(tx types.Transaction, args decode.Mining) ([]uint64, error) {
	if !tx.IsSuccess() {
		return nil, errFailedTx
	}
	if !args.Version.IsValid() {
		panic(fmt.Sprintf("window: unhandled version %s", args.Version))
	}
	sched, ok := c.registry.Schedule(args.City, args.Version)
	if !ok {
		return nil, fmt.Errorf("%w: no schedule for %s/%s", ErrWindowInvalid, args.City, args.Version)
	}

	n := uint64(len(args.AmountsUstx))
	if n == 0 {
		return nil, fmt.Errorf("%w: empty commitment", ErrWindowInvalid)
	}
	first := tx.BlockHeight + 1
	last := first + n - 1

	if first < sched.ActivationHeight {
		return nil, fmt.Errorf("%w: block %d before activation at %d", ErrWindowInvalid, first, sched.ActivationHeight)
	}
	if sched.Retired() && last > sched.ShutdownHeight {
		return nil, fmt.Errorf("%w: block %d after shutdown at %d", ErrWindowInvalid, last, sched.ShutdownHeight)
	}

	ids := make([]uint64, n)
	for i := range ids {
		ids[i] = first + uint64(i)
	}
	return ids, nil
}

func (c *Calculator) stacking(tx types.Transaction, args decode.Stacking, city types.City, version types.Version) ([]uint64, error) {
	if !tx.IsSuccess() {
		return nil, errFailedTx
	}
	sched, err := c.stackingSchedule(city, version)
	if err != nil {
		return nil, err
	}

	height := tx.BlockHeight
	if sched.UseBurnHeight {
		height = tx.BurnBlockHeight
	}
	cycle, ok := sched.CycleAt(height)
	if !ok {
		return nil, fmt.Errorf("%w: height %d before stacking genesis %d", ErrWindowInvalid, height, sched.GenesisHeight)
	}
	if args.LockPeriod == 0 {
		return nil, fmt.Errorf("%w: zero lock period", ErrWindowInvalid)
	}

	first := cycle + 1
	last := cycle + args.LockPeriod
	if !sched.InRange(first) || !sched.InRange(last) {
		return nil, fmt.Errorf("%w: cycles %d..%d outside %d..%d", ErrWindowInvalid, first, last, sched.StartCycle, sched.EndCycle)
	}

	ids := make([]uint64, 0, args.LockPeriod)
	for id := first; id <= last; id++ {
		ids = append(ids, id)
	}
	return ids, nil
}

// stackingSchedule picks the cycle numbering for a generation. DaoV2 did not
// deploy a stacking contract and keeps numbering cycles the DaoV1 way.
func (c *Calculator) stackingSchedule(city types.City, version types.Version) (*registry.StackingSchedule, error) {
	var lookup types.Version
	switch version {
	case types.VersionLegacyV1, types.VersionLegacyV2, types.VersionDaoV1:
		lookup = version
	case types.VersionDaoV2:
		lookup = types.VersionDaoV1
	default:
		panic(fmt.Sprintf("window: unhandled version %s", version))
	}

	sched, ok := c.registry.Schedule(city, lookup)
	if !ok || sched.Stacking == nil {
		return nil, fmt.Errorf("%w: no stacking schedule for %s/%s", ErrWindowInvalid, city, version)
	}
	return sched.Stacking, nil
}
