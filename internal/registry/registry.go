// Package registry maps CityCoins contract calls to the city, contract
// generation and functional module they belong to.
package registry

import (
	"errors"
	"fmt"
	"sort"

	"github.com/cityclaims/cityclaims/pkg/types"
)

// ErrDuplicateContract is returned when two entries share a contract or a
// (contract, function) pair.
var ErrDuplicateContract = errors.New("registry: duplicate contract registration")

// ReadOnlyCall names a read-only function on a specific contract
type ReadOnlyCall struct {
	ContractID string
	Function   string
}

// IsZero returns true if no call is configured
func (c ReadOnlyCall) IsZero() bool {
	return c.ContractID == "" || c.Function == ""
}

// ReadOnlyChecks lists the read-only functions used to verify claims
type ReadOnlyChecks struct {
	// MiningCheck answers "can this user claim this block". Legacy contracts
	// return a bool, DAO contracts an optional {winner, claimed} tuple.
	MiningCheck ReadOnlyCall
	// WinnerCheck distinguishes claimed from not-won when MiningCheck is false.
	// Legacy only.
	WinnerCheck ReadOnlyCall
	// StackingCheck returns the reward for a user id and cycle
	StackingCheck ReadOnlyCall
	// GetUserID resolves a principal to the numeric user id
	GetUserID ReadOnlyCall
}

// Entry describes one deployed contract
type Entry struct {
	// City is empty for DAO contracts shared by every city; the city is then
	// carried in the call arguments.
	City       types.City
	Version    types.Version
	Module     types.Module
	ContractID string
	Functions  map[string]struct{}
	ReadOnly   ReadOnlyChecks
}

// Shared reports whether the contract serves every city
func (e Entry) Shared() bool {
	return e.City == ""
}

// HasFunction reports whether fn is a registered public function
func (e Entry) HasFunction(fn string) bool {
	_, ok := e.Functions[fn]
	return ok
}

// ServesCity reports whether a call on this contract can concern city
func (e Entry) ServesCity(city types.City) bool {
	return e.Shared() || e.City == city
}

type callKey struct {
	contractID string
	function   string
}

type moduleKey struct {
	city    types.City
	version types.Version
	module  types.Module
}

type scheduleKey struct {
	city    types.City
	version types.Version
}

// Registry is immutable after construction and safe for concurrent use
type Registry struct {
	entries    []Entry
	byCall     map[callKey]int
	byContract map[string]int
	byModule   map[moduleKey]int
	schedules  map[scheduleKey]Schedule
	cityIDs    map[types.City]uint64
}

// New builds the lookup indexes and fails fast if the uniqueness invariant
// does not hold.
func New(entries []Entry, schedules []Schedule, cityIDs map[types.City]uint64) (*Registry, error) {
	r := &Registry{
		entries:    make([]Entry, 0, len(entries)),
		byCall:     make(map[callKey]int),
		byContract: make(map[string]int),
		byModule:   make(map[moduleKey]int),
		schedules:  make(map[scheduleKey]Schedule),
		cityIDs:    make(map[types.City]uint64),
	}

	for _, e := range entries {
		if e.ContractID == "" {
			return nil, fmt.Errorf("registry: entry for %s/%s has no contract id", e.City, e.Version)
		}
		if !e.Version.IsValid() {
			return nil, fmt.Errorf("registry: %s has invalid version %d", e.ContractID, int(e.Version))
		}
		if e.City != "" && !e.City.IsValid() {
			return nil, fmt.Errorf("registry: %s has invalid city %q", e.ContractID, e.City)
		}
		if _, dup := r.byContract[e.ContractID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateContract, e.ContractID)
		}

		idx := len(r.entries)
		r.entries = append(r.entries, e)
		r.byContract[e.ContractID] = idx

		for fn := range e.Functions {
			k := callKey{contractID: e.ContractID, function: fn}
			if _, dup := r.byCall[k]; dup {
				return nil, fmt.Errorf("%w: %s::%s", ErrDuplicateContract, e.ContractID, fn)
			}
			r.byCall[k] = idx
		}

		cities := []types.City{e.City}
		if e.Shared() {
			cities = types.Cities
		}
		for _, city := range cities {
			mk := moduleKey{city: city, version: e.Version, module: e.Module}
			if _, dup := r.byModule[mk]; dup {
				return nil, fmt.Errorf("%w: %s/%s/%s", ErrDuplicateContract, city, e.Version, e.Module)
			}
			r.byModule[mk] = idx
		}
	}

	for _, s := range schedules {
		sk := scheduleKey{city: s.City, version: s.Version}
		if _, dup := r.schedules[sk]; dup {
			return nil, fmt.Errorf("registry: duplicate schedule for %s/%s", s.City, s.Version)
		}
		if err := s.validate(); err != nil {
			return nil, err
		}
		r.schedules[sk] = s
	}

	for city, id := range cityIDs {
		r.cityIDs[city] = id
	}

	return r, nil
}

// Resolve finds the entry that registers functionName on contractID.
// A miss means the call is unrelated to the protocol.
func (r *Registry) Resolve(contractID, functionName string) (Entry, bool) {
	idx, ok := r.byCall[callKey{contractID: contractID, function: functionName}]
	if !ok {
		return Entry{}, false
	}
	return r.entries[idx], true
}

// Contract finds an entry by contract id
func (r *Registry) Contract(contractID string) (Entry, bool) {
	idx, ok := r.byContract[contractID]
	if !ok {
		return Entry{}, false
	}
	return r.entries[idx], true
}

// ForCity finds the contract implementing module for a city and version.
// Legacy core contracts serve both mining and stacking.
func (r *Registry) ForCity(city types.City, version types.Version, module types.Module) (Entry, bool) {
	if idx, ok := r.byModule[moduleKey{city: city, version: version, module: module}]; ok {
		return r.entries[idx], true
	}
	if module == types.ModuleMining || module == types.ModuleStacking {
		if idx, ok := r.byModule[moduleKey{city: city, version: version, module: types.ModuleCore}]; ok {
			return r.entries[idx], true
		}
	}
	return Entry{}, false
}

// Schedule returns the activation and cycle parameters for a city and version
func (r *Registry) Schedule(city types.City, version types.Version) (Schedule, bool) {
	s, ok := r.schedules[scheduleKey{city: city, version: version}]
	return s, ok
}

// CityID returns the numeric id shared DAO contracts use for a city
func (r *Registry) CityID(city types.City) (uint64, bool) {
	id, ok := r.cityIDs[city]
	return id, ok
}

// Entries returns every entry ordered by contract id
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	sort.Slice(out, func(i, j int) bool { return out[i].ContractID < out[j].ContractID })
	return out
}

// CategoryOf derives the semantic category of a function name
func CategoryOf(functionName string) types.Category {
	switch functionName {
	case FnMineTokens, FnMineMany, FnMine:
		return types.CategoryMining
	case FnStackTokens, FnStack:
		return types.CategoryStacking
	case FnClaimMiningReward:
		return types.CategoryMiningClaim
	case FnClaimStackingReward:
		return types.CategoryStackingClaim
	case FnTransfer:
		return types.CategoryTransfer
	}
	return types.CategoryOther
}
