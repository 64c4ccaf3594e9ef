package types

import (
	"fmt"
	"strings"
)

// City identifies an independently tracked CityCoin
type City string

const (
	CityMIA City = "mia"
	CityNYC City = "nyc"
)

// Cities lists every supported city in display order
var Cities = []City{CityMIA, CityNYC}

// IsValid returns true if the city is known
func (c City) IsValid() bool {
	return c == CityMIA || c == CityNYC
}

// Symbol returns the token ticker shown to users
func (c City) Symbol() string {
	return strings.ToUpper(string(c))
}

// ParseCity parses a city name case-insensitively
func ParseCity(s string) (City, error) {
	c := City(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("unknown city: %q", s)
	}
	return c, nil
}

// Version is one of the four contract generations. The set is closed: every
// switch over Version in this module is exhaustive and ends in a panic for
// values outside the enumeration.
type Version int

const (
	VersionLegacyV1 Version = iota + 1
	VersionLegacyV2
	VersionDaoV1
	VersionDaoV2
)

// Versions lists every generation in deployment order
var Versions = []Version{VersionLegacyV1, VersionLegacyV2, VersionDaoV1, VersionDaoV2}

func (v Version) String() string {
	switch v {
	case VersionLegacyV1:
		return "legacyV1"
	case VersionLegacyV2:
		return "legacyV2"
	case VersionDaoV1:
		return "daoV1"
	case VersionDaoV2:
		return "daoV2"
	}
	return fmt.Sprintf("version(%d)", int(v))
}

// IsValid returns true if the version is one of the known generations
func (v Version) IsValid() bool {
	return v >= VersionLegacyV1 && v <= VersionDaoV2
}

// IsLegacy reports whether the version predates the DAO contracts
func (v Version) IsLegacy() bool {
	return v == VersionLegacyV1 || v == VersionLegacyV2
}

// ParseVersion parses the canonical version name
func ParseVersion(s string) (Version, error) {
	for _, v := range Versions {
		if strings.EqualFold(v.String(), strings.TrimSpace(s)) {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unknown version: %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (v Version) MarshalText() ([]byte, error) {
	if !v.IsValid() {
		return nil, fmt.Errorf("invalid version %d", int(v))
	}
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (v *Version) UnmarshalText(b []byte) error {
	parsed, err := ParseVersion(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Module is the functional area a contract implements
type Module string

const (
	ModuleCore     Module = "core"
	ModuleMining   Module = "mining"
	ModuleStacking Module = "stacking"
	ModuleToken    Module = "token"
)

// Category is the semantic meaning of a contract call
type Category string

const (
	CategoryMining        Category = "Mining"
	CategoryStacking      Category = "Stacking"
	CategoryMiningClaim   Category = "Mining Claim"
	CategoryStackingClaim Category = "Stacking Claim"
	CategoryTransfer      Category = "Transfer"
	CategoryOther         Category = "Other"
)

// ClaimKind distinguishes block-height claims from cycle claims
type ClaimKind string

const (
	ClaimKindMining   ClaimKind = "mining"
	ClaimKindStacking ClaimKind = "stacking"
)

// IsValid returns true if the kind is known
func (k ClaimKind) IsValid() bool {
	return k == ClaimKindMining || k == ClaimKindStacking
}

// Status is the displayed state of a claim entry
type Status string

const (
	StatusClaimed    Status = "claimed"
	StatusClaimable  Status = "claimable"
	StatusUnverified Status = "unverified"
	StatusPending    Status = "pending"
	StatusNotWon     Status = "not-won"
	StatusNoReward   Status = "no-reward"
	StatusUnknown    Status = "unknown"
	StatusError      Status = "error"
)

// UnknownTxID is recorded when the commitment behind a claim was never observed
const UnknownTxID = "Unknown"

// ClaimEntry is one block height or reward cycle the user may redeem
type ClaimEntry struct {
	Kind         ClaimKind `json:"kind"`
	ID           uint64    `json:"id"`
	City         City      `json:"city"`
	Version      Version   `json:"version"`
	TxID         string    `json:"txId"`
	ClaimTxID    string    `json:"claimTxId,omitempty"`
	Status       Status    `json:"status"`
	ContractID   string    `json:"contractId"`
	FunctionName string    `json:"functionName"`

	// Retryable is set when the last chain check failed and Status is
	// still the reconciled candidate
	Retryable bool `json:"retryable,omitempty"`
}

// Key returns the verification cache key for the entry as seen by address
func (e ClaimEntry) Key(address string) VerificationKey {
	return VerificationKey{
		City:    e.City,
		Version: e.Version,
		Kind:    e.Kind,
		ID:      e.ID,
		Address: address,
	}
}
