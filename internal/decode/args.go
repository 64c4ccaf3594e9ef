// Package decode turns raw contract-call transactions into typed, version
// tagged argument records. Decoding is all-or-nothing: a transaction either
// yields a complete record or none at all.
package decode

import (
	"math/big"

	"github.com/cityclaims/cityclaims/internal/clarity"
	"github.com/cityclaims/cityclaims/pkg/types"
)

// Meta carries the registry-derived fields shared by every variant
type Meta struct {
	City         types.City
	Version      types.Version
	Module       types.Module
	Category     types.Category
	ContractID   string
	FunctionName string
}

// Common returns the shared fields
func (m Meta) Common() Meta { return m }

// Args is a closed union over Mining, Stacking, MiningClaim, StackingClaim
// and Transfer. Use a type switch to access the variant.
type Args interface {
	Common() Meta
	isArgs()
}

// Mining is a block-mining commitment. One amount per consecutive block.
type Mining struct {
	Meta
	AmountsUstx []*big.Int
}

// Stacking locks tokens for LockPeriod cycles
type Stacking struct {
	Meta
	AmountTokens *big.Int
	LockPeriod   uint64
}

// MiningClaim redeems the reward of one block
type MiningClaim struct {
	Meta
	Height uint64
}

// StackingClaim redeems the reward of one cycle
type StackingClaim struct {
	Meta
	Cycle uint64
}

// Transfer is a token transfer. Decoded for completeness, never reconciled.
type Transfer struct {
	Meta
	Amount    *big.Int
	Sender    clarity.Principal
	Recipient clarity.Principal
	Memo      []byte
}

func (Mining) isArgs()        {}
func (Stacking) isArgs()      {}
func (MiningClaim) isArgs()   {}
func (StackingClaim) isArgs() {}
func (Transfer) isArgs()      {}

// TotalUstx sums the committed amounts
func (m Mining) TotalUstx() *big.Int {
	total := new(big.Int)
	for _, a := range m.AmountsUstx {
		total.Add(total, a)
	}
	return total
}

// Record pairs a transaction with its decoded arguments
type Record struct {
	Tx   types.Transaction
	Args Args
}
