package types

import (
	"cmp"
	"fmt"
)

// VerificationStatus is the outcome of a read-only eligibility check
type VerificationStatus string

const (
	VerificationClaimable            VerificationStatus = "claimable"
	VerificationClaimed              VerificationStatus = "claimed"
	VerificationNotWon               VerificationStatus = "not-won"
	VerificationStackedWithReward    VerificationStatus = "stacked-with-reward"
	VerificationStackedWithoutReward VerificationStatus = "stacked-without-reward"
	VerificationCheckFailed          VerificationStatus = "check-failed"
)

// IsValid returns true if the status is one of the known outcomes
func (s VerificationStatus) IsValid() bool {
	switch s {
	case VerificationClaimable, VerificationClaimed, VerificationNotWon,
		VerificationStackedWithReward, VerificationStackedWithoutReward, VerificationCheckFailed:
		return true
	}
	return false
}

// Retryable reports whether the outcome should be checked again later.
// A failed check says nothing about eligibility.
func (s VerificationStatus) Retryable() bool {
	return s == VerificationCheckFailed
}

// ClaimStatus maps the verification outcome onto the displayed status
func (s VerificationStatus) ClaimStatus() Status {
	switch s {
	case VerificationClaimable, VerificationStackedWithReward:
		return StatusClaimable
	case VerificationClaimed:
		return StatusClaimed
	case VerificationNotWon:
		return StatusNotWon
	case VerificationStackedWithoutReward:
		return StatusNoReward
	case VerificationCheckFailed:
		return StatusError
	}
	return StatusUnknown
}

// VerificationKey identifies one cached verification. It is comparable and
// used directly as a map key.
type VerificationKey struct {
	City    City      `json:"city"`
	Version Version   `json:"version"`
	Kind    ClaimKind `json:"kind"`
	ID      uint64    `json:"id"`
	Address string    `json:"address"`
}

// Compare orders keys by city, version, kind, id, then address
func (k VerificationKey) Compare(o VerificationKey) int {
	if c := cmp.Compare(k.City, o.City); c != 0 {
		return c
	}
	if c := cmp.Compare(k.Version, o.Version); c != 0 {
		return c
	}
	if c := cmp.Compare(k.Kind, o.Kind); c != 0 {
		return c
	}
	if c := cmp.Compare(k.ID, o.ID); c != 0 {
		return c
	}
	return cmp.Compare(k.Address, o.Address)
}

// Less reports whether k sorts before o
func (k VerificationKey) Less(o VerificationKey) bool {
	return k.Compare(o) < 0
}

// String returns the canonical form, also used as the storage key
func (k VerificationKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%d/%s", k.City, k.Version, k.Kind, k.ID, k.Address)
}

// Validate checks that every component is populated
func (k VerificationKey) Validate() error {
	if !k.City.IsValid() {
		return fmt.Errorf("invalid city %q", k.City)
	}
	if !k.Version.IsValid() {
		return fmt.Errorf("invalid version %d", int(k.Version))
	}
	if !k.Kind.IsValid() {
		return fmt.Errorf("invalid kind %q", k.Kind)
	}
	if k.Address == "" {
		return fmt.Errorf("address is required")
	}
	return nil
}
