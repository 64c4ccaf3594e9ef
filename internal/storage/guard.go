package storage

import (
	"errors"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/cityclaims/cityclaims/internal/logging"
	"github.com/cityclaims/cityclaims/internal/metrics"
)

const (
	defaultWarningBytes  = 4 * 1024 * 1024
	defaultCriticalBytes = 4*1024*1024 + 512*1024
	defaultCapBytes      = 5 * 1024 * 1024
)

// ErrStorageExceeded is returned when a write would reach the hard cap
var ErrStorageExceeded = errors.New("storage: quota exceeded")

// ExceededError carries the numbers behind a rejected write
type ExceededError struct {
	UsedBytes    int64
	PendingBytes int64
	CapBytes     int64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("storage: quota exceeded: %d used + %d pending >= %d cap",
		e.UsedBytes, e.PendingBytes, e.CapBytes)
}

func (e *ExceededError) Unwrap() error { return ErrStorageExceeded }

// Level classifies the footprint
type Level int

const (
	LevelNormal Level = iota
	LevelWarning
	LevelCritical
	LevelExceeded
)

func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelExceeded:
		return "exceeded"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Thresholds are byte bounds. Warning < Critical < Cap.
type Thresholds struct {
	WarningBytes  int64 `yaml:"warning_bytes" json:"warningBytes"`
	CriticalBytes int64 `yaml:"critical_bytes" json:"criticalBytes"`
	CapBytes      int64 `yaml:"cap_bytes" json:"capBytes"`
}

// DefaultThresholds mirror a 5 MB browser-class quota
func DefaultThresholds() Thresholds {
	return Thresholds{
		WarningBytes:  defaultWarningBytes,
		CriticalBytes: defaultCriticalBytes,
		CapBytes:      defaultCapBytes,
	}
}

// Validate checks the ordering of the bounds
func (t Thresholds) Validate() error {
	if t.WarningBytes <= 0 || t.CriticalBytes <= 0 || t.CapBytes <= 0 {
		return fmt.Errorf("storage thresholds must be positive")
	}
	if t.WarningBytes >= t.CriticalBytes || t.CriticalBytes >= t.CapBytes {
		return fmt.Errorf("storage thresholds must satisfy warning < critical < cap")
	}
	return nil
}

func (t Thresholds) classify(total int64) Level {
	switch {
	case total >= t.CapBytes:
		return LevelExceeded
	case total >= t.CriticalBytes:
		return LevelCritical
	case total >= t.WarningBytes:
		return LevelWarning
	}
	return LevelNormal
}

// Info is a footprint measurement
type Info struct {
	UsedBytes int64 `json:"usedBytes"`
	CapBytes  int64 `json:"capBytes"`
	Level     Level `json:"level"`
}

// Guard is the only writer to the database
type Guard struct {
	db      *DB
	th      Thresholds
	metrics *metrics.Collector

	mu   sync.Mutex
	used int64
}

// NewGuard measures the current footprint of db. m may be nil.
func NewGuard(db *DB, th Thresholds, m *metrics.Collector) (*Guard, error) {
	if err := th.Validate(); err != nil {
		return nil, err
	}
	used, err := db.Usage()
	if err != nil {
		return nil, fmt.Errorf("storage: measure usage: %w", err)
	}
	g := &Guard{db: db, th: th, metrics: m, used: used}
	g.metrics.SetStorage(used, int(th.classify(used)))
	return g, nil
}

// DB returns the guarded database for reads
func (g *Guard) DB() *DB { return g.db }

// Thresholds returns the configured bounds
func (g *Guard) Thresholds() Thresholds { return g.th }

// Check classifies the footprint as it would be after writing pending more
// bytes. UsedBytes is the current footprint.
func (g *Guard) Check(pending int64) Info {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.info(pending)
}

// Info returns the current footprint
func (g *Guard) Info() Info {
	return g.Check(0)
}

func (g *Guard) info(pending int64) Info {
	return Info{
		UsedBytes: g.used,
		CapBytes:  g.th.CapBytes,
		Level:     g.th.classify(g.used + max(pending, 0)),
	}
}

// Put stores value under key. A write that would bring the footprint to or
// past the cap is rejected with an *ExceededError and nothing is changed.
func (g *Guard) Put(bucket, key, value []byte) (Info, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var delta int64
	err := g.db.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("%w: %s", ErrUnknownBucket, bucket)
		}
		delta = int64(len(key) + len(value))
		if old := b.Get(key); old != nil {
			delta -= int64(len(key) + len(old))
		}
		if delta > 0 && g.th.classify(g.used+delta) == LevelExceeded {
			return &ExceededError{UsedBytes: g.used, PendingBytes: delta, CapBytes: g.th.CapBytes}
		}
		return b.Put(key, value)
	})
	if err != nil {
		var exceeded *ExceededError
		if errors.As(err, &exceeded) {
			g.metrics.RecordStorageRejected()
			logging.Warn("storage write rejected",
				logging.Component("storage"),
				"used_bytes", exceeded.UsedBytes,
				"pending_bytes", exceeded.PendingBytes,
				"cap_bytes", exceeded.CapBytes)
		}
		return g.info(0), err
	}

	g.used += delta
	info := g.info(0)
	g.observe(info)
	return info, nil
}

// Delete removes keys from bucket in one transaction. Missing keys are
// ignored.
func (g *Guard) Delete(bucket []byte, keys ...[]byte) (Info, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var freed int64
	err := g.db.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("%w: %s", ErrUnknownBucket, bucket)
		}
		for _, k := range keys {
			v := b.Get(k)
			if v == nil {
				continue
			}
			size := int64(len(k) + len(v))
			if err := b.Delete(k); err != nil {
				return err
			}
			freed += size
		}
		return nil
	})
	if err != nil {
		return g.info(0), err
	}

	g.used -= freed
	info := g.info(0)
	g.observe(info)
	return info, nil
}

func (g *Guard) observe(info Info) {
	g.metrics.SetStorage(info.UsedBytes, int(info.Level))
	if info.Level >= LevelWarning {
		logging.Warn("storage usage high",
			logging.Component("storage"),
			"used_bytes", info.UsedBytes,
			"cap_bytes", info.CapBytes,
			"level", info.Level.String())
	}
}
