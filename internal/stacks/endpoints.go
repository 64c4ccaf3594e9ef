package stacks

import (
	"sort"
	"sync"
	"time"
)

const (
	defaultMaxConsecutiveErrors = 3
	defaultRecoveryInterval     = 30 * time.Second
	ewmaAlpha                   = 0.3                    // weight for new latency samples
	defaultInitialLatency       = 100 * time.Millisecond // sentinel for unmeasured endpoints
)

// EndpointHealth tracks the health and rate-limit state of one API endpoint
type EndpointHealth struct {
	URL             string
	Latency         time.Duration // EWMA
	ConsecutiveErrs int
	LastSuccess     time.Time
	LastError       time.Time
	Healthy         bool
	// LimitedUntil is set when the endpoint answered 429 or reported an
	// exhausted budget; it is skipped until then.
	LimitedUntil   time.Time
	latencySamples int
}

// EndpointTracker orders API endpoints by health and latency
type EndpointTracker struct {
	mu        sync.RWMutex
	endpoints []*EndpointHealth
	maxErrors int
	recovery  time.Duration
	now       func() time.Time
}

// NewEndpointTracker creates a tracker from a list of base URLs.
// All endpoints start healthy.
func NewEndpointTracker(urls []string) *EndpointTracker {
	endpoints := make([]*EndpointHealth, len(urls))
	for i, u := range urls {
		endpoints[i] = &EndpointHealth{
			URL:     u,
			Healthy: true,
			Latency: defaultInitialLatency,
		}
	}
	return &EndpointTracker{
		endpoints: endpoints,
		maxErrors: defaultMaxConsecutiveErrors,
		recovery:  defaultRecoveryInterval,
		now:       time.Now,
	}
}

// RecordSuccess records a successful call to the endpoint
func (et *EndpointTracker) RecordSuccess(url string, latency time.Duration) {
	et.mu.Lock()
	defer et.mu.Unlock()

	ep := et.find(url)
	if ep == nil {
		return
	}

	ep.ConsecutiveErrs = 0
	ep.LastSuccess = et.now()
	ep.Healthy = true

	if ep.latencySamples == 0 {
		ep.Latency = latency
	} else {
		ep.Latency = time.Duration(ewmaAlpha*float64(latency) + (1-ewmaAlpha)*float64(ep.Latency))
	}
	ep.latencySamples++
}

// RecordError records a failed call to the endpoint
func (et *EndpointTracker) RecordError(url string) {
	et.mu.Lock()
	defer et.mu.Unlock()

	ep := et.find(url)
	if ep == nil {
		return
	}

	ep.ConsecutiveErrs++
	ep.LastError = et.now()
	if ep.ConsecutiveErrs >= et.maxErrors {
		ep.Healthy = false
	}
}

// RecordRateLimited parks the endpoint until the given time. A rate-limited
// endpoint is not unhealthy.
func (et *EndpointTracker) RecordRateLimited(url string, until time.Time) {
	et.mu.Lock()
	defer et.mu.Unlock()

	if ep := et.find(url); ep != nil && until.After(ep.LimitedUntil) {
		ep.LimitedUntil = until
	}
}

// GetHealthy returns usable endpoint URLs, healthy ones first sorted by
// latency. Endpoints unhealthy for longer than the recovery interval are
// appended as recovery probes. Rate-limited endpoints are left out.
func (et *EndpointTracker) GetHealthy() []string {
	et.mu.RLock()
	defer et.mu.RUnlock()

	now := et.now()

	type candidate struct {
		url     string
		latency time.Duration
		recover bool
	}

	var candidates []candidate
	for _, ep := range et.endpoints {
		if now.Before(ep.LimitedUntil) {
			continue
		}
		if ep.Healthy {
			candidates = append(candidates, candidate{url: ep.URL, latency: ep.Latency})
		} else if !ep.LastError.IsZero() && now.Sub(ep.LastError) >= et.recovery {
			candidates = append(candidates, candidate{url: ep.URL, latency: time.Hour, recover: true})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].recover != candidates[j].recover {
			return !candidates[i].recover
		}
		return candidates[i].latency < candidates[j].latency
	})

	urls := make([]string, len(candidates))
	for i, c := range candidates {
		urls[i] = c.url
	}
	return urls
}

// NextAvailable returns the earliest time a rate-limited endpoint frees up,
// or the zero time if none is currently parked.
func (et *EndpointTracker) NextAvailable() time.Time {
	et.mu.RLock()
	defer et.mu.RUnlock()

	now := et.now()
	var earliest time.Time
	for _, ep := range et.endpoints {
		if !ep.LimitedUntil.After(now) {
			continue
		}
		if earliest.IsZero() || ep.LimitedUntil.Before(earliest) {
			earliest = ep.LimitedUntil
		}
	}
	return earliest
}

// Snapshot returns a copy of every endpoint's state
func (et *EndpointTracker) Snapshot() []EndpointHealth {
	et.mu.RLock()
	defer et.mu.RUnlock()

	out := make([]EndpointHealth, len(et.endpoints))
	for i, ep := range et.endpoints {
		out[i] = *ep
	}
	return out
}

// Len returns the total number of tracked endpoints
func (et *EndpointTracker) Len() int {
	et.mu.RLock()
	defer et.mu.RUnlock()
	return len(et.endpoints)
}

// find returns the endpoint with the given URL (must hold lock)
func (et *EndpointTracker) find(url string) *EndpointHealth {
	for _, ep := range et.endpoints {
		if ep.URL == url {
			return ep
		}
	}
	return nil
}
