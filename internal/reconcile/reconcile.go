// Package reconcile combines decoded commitments and claims into claim
// entries. An id is claimed when a successful claim transaction for it was
// observed; otherwise every id inside a commitment window is a candidate
// for verification.
package reconcile

import (
	"cmp"
	"slices"

	"github.com/cityclaims/cityclaims/internal/decode"
	"github.com/cityclaims/cityclaims/internal/logging"
	"github.com/cityclaims/cityclaims/internal/window"
	"github.com/cityclaims/cityclaims/pkg/types"
)

// Result holds the reconciled entries of one city, each slice ascending by id
type Result struct {
	Mining   []types.ClaimEntry `json:"mining"`
	Stacking []types.ClaimEntry `json:"stacking"`
}

// Candidates returns the entries that still need verification
func (r Result) Candidates() []types.ClaimEntry {
	var out []types.ClaimEntry
	for _, entries := range [][]types.ClaimEntry{r.Mining, r.Stacking} {
		for _, e := range entries {
			if e.Status == types.StatusUnverified {
				out = append(out, e)
			}
		}
	}
	return out
}

// Engine reconciles decoded records. It holds no state between calls.
type Engine struct {
	windows *window.Calculator
}

// New creates an engine
func New(windows *window.Calculator) *Engine {
	return &Engine{windows: windows}
}

type slot struct {
	contractID string
	id         uint64
}

type observed struct {
	txID     string
	version  types.Version
	function string
}

type ledger struct {
	claimed    map[slot]observed
	candidates map[slot]observed
}

func newLedger() *ledger {
	return &ledger{
		claimed:    make(map[slot]observed),
		candidates: make(map[slot]observed),
	}
}

// first observation wins so the result does not depend on map iteration
func (l *ledger) addClaim(s slot, o observed) {
	if _, ok := l.claimed[s]; !ok {
		l.claimed[s] = o
	}
}

func (l *ledger) addCandidate(s slot, o observed) {
	if _, ok := l.candidates[s]; !ok {
		l.candidates[s] = o
	}
}

// Reconcile builds the claim entries for city. Records for other cities,
// transfers and failed claims are ignored. The output is a pure function of
// the input set.
func (e *Engine) Reconcile(records []decode.Record, city types.City) Result {
	mining := newLedger()
	stacking := newLedger()

	for _, rec := range records {
		meta := rec.Args.Common()
		if meta.City != city {
			continue
		}

		switch a := rec.Args.(type) {
		case decode.MiningClaim:
			if rec.Tx.IsSuccess() {
				mining.addClaim(slot{meta.ContractID, a.Height}, observed{rec.Tx.TxID, meta.Version, meta.FunctionName})
			}
		case decode.StackingClaim:
			if rec.Tx.IsSuccess() {
				stacking.addClaim(slot{meta.ContractID, a.Cycle}, observed{rec.Tx.TxID, meta.Version, meta.FunctionName})
			}
		case decode.Mining, decode.Stacking:
			kind, ids, _ := e.windows.Window(rec)
			l := mining
			if kind == types.ClaimKindStacking {
				l = stacking
			}
			for _, id := range ids {
				l.addCandidate(slot{meta.ContractID, id}, observed{rec.Tx.TxID, meta.Version, meta.FunctionName})
			}
		}
	}

	res := Result{
		Mining:   mining.entries(types.ClaimKindMining, city),
		Stacking: stacking.entries(types.ClaimKindStacking, city),
	}
	logging.Debug("reconciled claim entries",
		logging.Component("reconcile"),
		logging.City(string(city)),
		"mining", len(res.Mining),
		"stacking", len(res.Stacking))
	return res
}

func (l *ledger) entries(kind types.ClaimKind, city types.City) []types.ClaimEntry {
	out := make([]types.ClaimEntry, 0, len(l.claimed)+len(l.candidates))

	for s, claim := range l.claimed {
		entry := types.ClaimEntry{
			Kind:         kind,
			ID:           s.id,
			City:         city,
			Version:      claim.version,
			TxID:         types.UnknownTxID,
			ClaimTxID:    claim.txID,
			Status:       types.StatusClaimed,
			ContractID:   s.contractID,
			FunctionName: claim.function,
		}
		if commit, ok := l.candidates[s]; ok {
			entry.TxID = commit.txID
			entry.FunctionName = commit.function
		}
		out = append(out, entry)
	}

	for s, commit := range l.candidates {
		if _, ok := l.claimed[s]; ok {
			continue
		}
		out = append(out, types.ClaimEntry{
			Kind:         kind,
			ID:           s.id,
			City:         city,
			Version:      commit.version,
			TxID:         commit.txID,
			Status:       types.StatusUnverified,
			ContractID:   s.contractID,
			FunctionName: commit.function,
		})
	}

	slices.SortFunc(out, func(a, b types.ClaimEntry) int {
		if c := cmp.Compare(a.ID, b.ID); c != 0 {
			return c
		}
		return cmp.Compare(a.ContractID, b.ContractID)
	})
	return out
}

// Batches splits entries into consecutive groups of at most size
func Batches(entries []types.ClaimEntry, size int) [][]types.ClaimEntry {
	if size <= 0 {
		size = 1
	}
	var out [][]types.ClaimEntry
	for start := 0; start < len(entries); start += size {
		end := min(start+size, len(entries))
		out = append(out, entries[start:end])
	}
	return out
}
