package stacks

import (
	"testing"
	"time"
)

const (
	ep1 = "https://api1.example.com"
	ep2 = "https://api2.example.com"
)

func TestEndpointTracker_NewTracker(t *testing.T) {
	et := NewEndpointTracker([]string{ep1, ep2})

	if et.Len() != 2 {
		t.Fatalf("expected 2 endpoints, got %d", et.Len())
	}
	if healthy := et.GetHealthy(); len(healthy) != 2 {
		t.Fatalf("expected 2 healthy endpoints, got %d", len(healthy))
	}
}

func TestEndpointTracker_RecordSuccessUpdatesLatency(t *testing.T) {
	et := NewEndpointTracker([]string{ep1})

	et.RecordSuccess(ep1, 100*time.Millisecond)
	et.RecordSuccess(ep1, 200*time.Millisecond)

	// first=100ms, second=0.3*200+0.7*100=130ms
	lat := et.Snapshot()[0].Latency
	if lat < 120*time.Millisecond || lat > 140*time.Millisecond {
		t.Errorf("expected EWMA latency ~130ms, got %v", lat)
	}
}

func TestEndpointTracker_ErrorMarksUnhealthy(t *testing.T) {
	et := NewEndpointTracker([]string{ep1, ep2})

	for i := 0; i < 3; i++ {
		et.RecordError(ep1)
	}

	healthy := et.GetHealthy()
	if len(healthy) != 1 || healthy[0] != ep2 {
		t.Fatalf("expected only %s healthy, got %v", ep2, healthy)
	}
}

func TestEndpointTracker_SuccessResetsErrors(t *testing.T) {
	et := NewEndpointTracker([]string{ep1})

	et.RecordError(ep1)
	et.RecordError(ep1)
	et.RecordSuccess(ep1, 50*time.Millisecond)
	et.RecordError(ep1)
	et.RecordError(ep1)

	if healthy := et.GetHealthy(); len(healthy) != 1 {
		t.Fatalf("expected endpoint still healthy after reset, got %d healthy", len(healthy))
	}
}

func TestEndpointTracker_SortsByLatency(t *testing.T) {
	et := NewEndpointTracker([]string{ep1, ep2})

	et.RecordSuccess(ep1, 200*time.Millisecond)
	et.RecordSuccess(ep2, 10*time.Millisecond)

	healthy := et.GetHealthy()
	if len(healthy) != 2 || healthy[0] != ep2 {
		t.Errorf("expected fast endpoint first, got %v", healthy)
	}
}

func TestEndpointTracker_RecoveryAfterInterval(t *testing.T) {
	et := NewEndpointTracker([]string{ep1, ep2})
	now := time.Now()
	et.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		et.RecordError(ep1)
	}
	if healthy := et.GetHealthy(); len(healthy) != 1 {
		t.Fatalf("expected 1 healthy endpoint, got %v", healthy)
	}

	now = now.Add(defaultRecoveryInterval)
	healthy := et.GetHealthy()
	if len(healthy) != 2 {
		t.Fatalf("expected recovery probe after interval, got %v", healthy)
	}
	if healthy[1] != ep1 {
		t.Errorf("expected recovering endpoint last, got %v", healthy)
	}
}

func TestEndpointTracker_RateLimitedParked(t *testing.T) {
	et := NewEndpointTracker([]string{ep1, ep2})
	now := time.Now()
	et.now = func() time.Time { return now }

	et.RecordRateLimited(ep1, now.Add(10*time.Second))

	healthy := et.GetHealthy()
	if len(healthy) != 1 || healthy[0] != ep2 {
		t.Fatalf("expected parked endpoint skipped, got %v", healthy)
	}
	if snap := et.Snapshot(); !snap[0].Healthy {
		t.Error("rate limiting must not mark the endpoint unhealthy")
	}

	// an earlier deadline never shortens the parking
	et.RecordRateLimited(ep1, now.Add(time.Second))
	if got := et.NextAvailable(); !got.Equal(now.Add(10 * time.Second)) {
		t.Errorf("expected next available in 10s, got %v", got.Sub(now))
	}

	now = now.Add(10 * time.Second)
	if healthy := et.GetHealthy(); len(healthy) != 2 {
		t.Errorf("expected endpoint back after parking, got %v", healthy)
	}
	if !et.NextAvailable().IsZero() {
		t.Error("expected no parked endpoints")
	}
}

func TestEndpointTracker_UnknownURLIgnored(t *testing.T) {
	et := NewEndpointTracker([]string{ep1})
	et.RecordError("https://other.example.com")
	et.RecordSuccess("https://other.example.com", time.Millisecond)
	et.RecordRateLimited("https://other.example.com", time.Now().Add(time.Hour))

	if healthy := et.GetHealthy(); len(healthy) != 1 {
		t.Errorf("unknown urls should not affect tracked endpoints, got %v", healthy)
	}
}
