// Package cache persists verification outcomes and keeps processes that
// share them convergent. Updates from other processes are merged
// newest-wins with a deterministic tie break on the source tab id, so every
// process ends at the same value whatever order messages arrive in.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cityclaims/cityclaims/internal/bus"
	"github.com/cityclaims/cityclaims/internal/logging"
	"github.com/cityclaims/cityclaims/internal/metrics"
	"github.com/cityclaims/cityclaims/internal/storage"
	"github.com/cityclaims/cityclaims/pkg/types"
)

// ErrInvalidEntry is returned for an update that fails validation
var ErrInvalidEntry = errors.New("cache: invalid entry")

// Entry is one cached verification outcome
type Entry struct {
	Key         types.VerificationKey    `json:"key"`
	Result      types.VerificationStatus `json:"result"`
	ObservedAt  time.Time                `json:"observedAt"`
	SourceTabID string                   `json:"sourceTabId"`
}

// Supersedes reports whether e replaces cur. A definitive result always
// replaces a check-failed one and is never replaced by one. Otherwise
// strictly newer wins and equal timestamps go to the greater source tab id.
func (e Entry) Supersedes(cur Entry) bool {
	if e.Result.Retryable() != cur.Result.Retryable() {
		return !e.Result.Retryable()
	}
	if !e.ObservedAt.Equal(cur.ObservedAt) {
		return e.ObservedAt.After(cur.ObservedAt)
	}
	return e.SourceTabID > cur.SourceTabID
}

// Apply returns entry with e's result shown on it. A check-failed result
// leaves the entry's own status in place and marks it Retryable.
func (e Entry) Apply(entry types.ClaimEntry) types.ClaimEntry {
	if e.Result.Retryable() {
		if entry.Status == "" || entry.Status == types.StatusError {
			entry.Status = types.StatusUnverified
		}
		entry.Retryable = true
		return entry
	}
	entry.Status = e.Result.ClaimStatus()
	entry.Retryable = false
	return entry
}

func (e Entry) validate() error {
	if err := e.Key.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if !e.Result.IsValid() {
		return fmt.Errorf("%w: result %q", ErrInvalidEntry, e.Result)
	}
	if e.ObservedAt.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidEntry)
	}
	return nil
}

// Options configures a Cache
type Options struct {
	// TabID identifies this process on the bus; a random id is used if empty
	TabID   string
	Now     func() time.Time
	Metrics *metrics.Collector
}

// Cache is safe for concurrent use
type Cache struct {
	guard   *storage.Guard
	bus     bus.Bus
	tabID   string
	now     func() time.Time
	metrics *metrics.Collector

	mu          sync.RWMutex
	entries     map[types.VerificationKey]Entry
	unsubscribe func()
}

// New loads the persisted entries and subscribes to updates from other
// processes. A nil bus behaves like bus.NopBus.
func New(guard *storage.Guard, b bus.Bus, opts Options) (*Cache, error) {
	if b == nil {
		b = bus.NopBus{}
	}
	c := &Cache{
		guard:   guard,
		bus:     b,
		tabID:   opts.TabID,
		now:     opts.Now,
		metrics: opts.Metrics,
		entries: make(map[types.VerificationKey]Entry),
	}
	if c.tabID == "" {
		c.tabID = uuid.NewString()
	}
	if c.now == nil {
		c.now = time.Now
	}

	if err := c.load(); err != nil {
		return nil, err
	}

	unsub, err := b.Subscribe(c.tabID, c.handleMessage)
	if err != nil {
		return nil, fmt.Errorf("cache: subscribe: %w", err)
	}
	c.unsubscribe = unsub
	return c, nil
}

func (c *Cache) load() error {
	var skipped int
	err := c.guard.DB().ForEach(storage.BucketVerifications, func(k, v []byte) error {
		var e Entry
		if err := json.Unmarshal(v, &e); err != nil || e.validate() != nil {
			skipped++
			return nil
		}
		c.entries[e.Key] = e
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache: load: %w", err)
	}
	if skipped > 0 {
		logging.Warn("skipped unreadable cache entries",
			logging.Component("cache"),
			"count", skipped)
	}
	c.metrics.SetCacheEntries(len(c.entries))
	logging.Debug("verification cache loaded",
		logging.Component("cache"),
		"entries", len(c.entries),
		"tab_id", c.tabID)
	return nil
}

// TabID returns the identity this process publishes under
func (c *Cache) TabID() string { return c.tabID }

// Info reports the current storage usage
func (c *Cache) Info() storage.Info { return c.guard.Info() }

// Len returns the number of cached entries
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Get returns the cached outcome for key
func (c *Cache) Get(key types.VerificationKey) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

// Entries returns every cached entry in key order
func (c *Cache) Entries() []Entry {
	c.mu.RLock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	c.mu.RUnlock()
	slices.SortFunc(out, func(a, b Entry) int { return a.Key.Compare(b.Key) })
	return out
}

// Put records a local verification outcome, persists it through the
// storage guard and broadcasts it. A storage failure leaves both the store
// and the in-memory view unchanged. A failed broadcast is only logged.
//
// A check-failed result does not replace a definitive one; the stored
// entry is returned unchanged and nothing is written or broadcast.
func (c *Cache) Put(ctx context.Context, key types.VerificationKey, result types.VerificationStatus) (Entry, storage.Info, error) {
	e := Entry{Key: key, Result: result, ObservedAt: c.now().UTC().Round(0), SourceTabID: c.tabID}
	if err := e.validate(); err != nil {
		return Entry{}, c.guard.Info(), err
	}

	c.mu.Lock()
	if cur, ok := c.entries[key]; ok && result.Retryable() && !cur.Result.Retryable() {
		c.mu.Unlock()
		logging.Debug("kept definitive result over failed check",
			logging.Component("cache"),
			"key", key.String(),
			"result", string(cur.Result))
		return cur, c.guard.Info(), nil
	}
	// keep local writes monotonic per key even if a peer's clock runs ahead
	if cur, ok := c.entries[key]; ok && !e.Supersedes(cur) {
		e.ObservedAt = cur.ObservedAt.Add(time.Millisecond)
	}
	info, err := c.persist(e)
	if err != nil {
		c.mu.Unlock()
		return Entry{}, info, err
	}
	c.entries[key] = e
	n := len(c.entries)
	c.mu.Unlock()

	c.metrics.SetCacheEntries(n)
	c.broadcast(ctx, e)
	return e, info, nil
}

func (c *Cache) broadcast(ctx context.Context, e Entry) {
	payload, err := json.Marshal(e)
	if err != nil {
		logging.Warn("encode cache update", logging.Component("cache"), logging.Err(err))
		return
	}
	msg := bus.Message{SenderID: c.tabID, Payload: payload, Timestamp: e.ObservedAt}
	if err := c.bus.Publish(ctx, msg); err != nil {
		logging.Warn("broadcast cache update failed",
			logging.Component("cache"),
			"key", e.Key.String(),
			logging.Err(err))
	}
}

// persist writes e through the guard (must hold lock)
func (c *Cache) persist(e Entry) (storage.Info, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return c.guard.Info(), fmt.Errorf("cache: encode: %w", err)
	}
	return c.guard.Put(storage.BucketVerifications, []byte(e.Key.String()), data)
}

// MergeIncoming applies an update published by another process if it
// supersedes the local entry. It reports whether the update was applied.
func (c *Cache) MergeIncoming(msg bus.Message) (bool, error) {
	if msg.SenderID == c.tabID {
		return false, nil
	}
	var e Entry
	if err := json.Unmarshal(msg.Payload, &e); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if e.SourceTabID == "" {
		e.SourceTabID = msg.SenderID
	}
	if e.ObservedAt.IsZero() {
		e.ObservedAt = msg.Timestamp
	}
	e.ObservedAt = e.ObservedAt.UTC()
	if err := e.validate(); err != nil {
		return false, err
	}

	c.mu.Lock()
	if cur, ok := c.entries[e.Key]; ok && !e.Supersedes(cur) {
		c.mu.Unlock()
		c.metrics.RecordMerge("ignored")
		return false, nil
	}
	if _, err := c.persist(e); err != nil {
		c.mu.Unlock()
		return false, err
	}
	c.entries[e.Key] = e
	n := len(c.entries)
	c.mu.Unlock()

	c.metrics.RecordMerge("applied")
	c.metrics.SetCacheEntries(n)
	return true, nil
}

func (c *Cache) handleMessage(msg bus.Message) {
	applied, err := c.MergeIncoming(msg)
	if err != nil {
		logging.Warn("rejected cache update from peer",
			logging.Component("cache"),
			"sender", msg.SenderID,
			logging.Err(err))
		return
	}
	if applied {
		logging.Debug("merged cache update from peer",
			logging.Component("cache"),
			"sender", msg.SenderID)
	}
}

// Resolve returns the status to show for entry: a claim observed in the
// transaction history always wins, then a cached verification, then the
// entry's own status.
func (c *Cache) Resolve(entry types.ClaimEntry, address string) types.Status {
	return c.resolve(entry, address).Status
}

// ResolveAll returns copies of entries with resolved statuses. Entries
// whose last check failed keep their own status and are marked Retryable.
func (c *Cache) ResolveAll(entries []types.ClaimEntry, address string) []types.ClaimEntry {
	out := make([]types.ClaimEntry, len(entries))
	for i, e := range entries {
		out[i] = c.resolve(e, address)
	}
	return out
}

func (c *Cache) resolve(entry types.ClaimEntry, address string) types.ClaimEntry {
	if entry.Status == types.StatusClaimed {
		entry.Retryable = false
		return entry
	}
	if cached, ok := c.Get(entry.Key(address)); ok {
		return cached.Apply(entry)
	}
	if entry.Status == "" {
		entry.Status = types.StatusUnverified
	}
	return entry
}

// Prune drops check-failed results older than olderThan so they are checked
// again. Definitive results are kept.
func (c *Cache) Prune(olderThan time.Duration) (int, error) {
	cutoff := c.now().Add(-olderThan)

	c.mu.Lock()
	defer c.mu.Unlock()

	var stale []types.VerificationKey
	for k, e := range c.entries {
		if e.Result.Retryable() && e.ObservedAt.Before(cutoff) {
			stale = append(stale, k)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	keys := make([][]byte, len(stale))
	for i, k := range stale {
		keys[i] = []byte(k.String())
	}
	if _, err := c.guard.Delete(storage.BucketVerifications, keys...); err != nil {
		return 0, fmt.Errorf("cache: prune: %w", err)
	}
	for _, k := range stale {
		delete(c.entries, k)
	}
	c.metrics.SetCacheEntries(len(c.entries))
	return len(stale), nil
}

// Close stops receiving peer updates. The bus and store are owned by the
// caller.
func (c *Cache) Close() error {
	c.mu.Lock()
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	return nil
}
