package decode

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/cityclaims/cityclaims/internal/clarity"
	"github.com/cityclaims/cityclaims/internal/logging"
	"github.com/cityclaims/cityclaims/internal/metrics"
	"github.com/cityclaims/cityclaims/internal/registry"
	"github.com/cityclaims/cityclaims/pkg/types"
)

const (
	// MaxLockPeriod is the longest stacking lock the contracts accept, in cycles
	MaxLockPeriod = 12
	// MaxMiningBlocks bounds the amounts list of a single mining commitment
	MaxMiningBlocks = 200
	// maxMemoLength is the largest memo buffer the token contracts accept
	maxMemoLength = 34
)

// Rejection reasons, also used as metric labels
const (
	ReasonNotContractCall = "not_contract_call"
	ReasonUnregistered    = "unregistered"
	ReasonArgDecode       = "arg_decode"
	ReasonArgCount        = "arg_count"
	ReasonArgType         = "arg_type"
	ReasonRange           = "range"
	ReasonLockPeriod      = "lock_period"
	ReasonCity            = "city"
)

// ErrRejected is the sentinel wrapped by every RejectError
var ErrRejected = errors.New("decode: transaction rejected")

// RejectError explains why a transaction produced no record
type RejectError struct {
	TxID   string
	Reason string
	Detail string
}

func (e *RejectError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("decode %s: %s", e.TxID, e.Reason)
	}
	return fmt.Sprintf("decode %s: %s: %s", e.TxID, e.Reason, e.Detail)
}

func (e *RejectError) Unwrap() error { return ErrRejected }

func reject(reason, format string, args ...any) error {
	return &RejectError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Decoder is stateless apart from its registry and safe for concurrent use
type Decoder struct {
	registry *registry.Registry
	metrics  *metrics.Collector
}

// New creates a decoder. m may be nil.
func New(reg *registry.Registry, m *metrics.Collector) *Decoder {
	return &Decoder{registry: reg, metrics: m}
}

// Decode returns the typed arguments of tx, or false if the transaction is
// unrelated to the protocol or malformed. Malformed calls on registered
// contracts are logged at warn level.
func (d *Decoder) Decode(tx types.Transaction) (Args, bool) {
	args, err := d.Explain(tx)
	if err == nil {
		d.metrics.RecordDecoded(string(args.Common().Category))
		return args, true
	}

	var rej *RejectError
	if errors.As(err, &rej) {
		d.metrics.RecordDecodeRejected(rej.Reason)
		switch rej.Reason {
		case ReasonNotContractCall, ReasonUnregistered:
			// irrelevant to the protocol
		default:
			logging.Warn("rejected malformed contract call",
				logging.Component("decode"),
				logging.TxID(tx.TxID),
				logging.ContractID(tx.ContractCall.ContractID),
				"function", tx.ContractCall.FunctionName,
				"reason", rej.Reason,
				logging.Err(err))
		}
	}
	return nil, false
}

// Explain decodes tx and reports the rejection cause as a *RejectError
func (d *Decoder) Explain(tx types.Transaction) (Args, error) {
	args, err := d.decode(tx)
	if err != nil {
		var rej *RejectError
		if errors.As(err, &rej) {
			rej.TxID = tx.TxID
		}
		return nil, err
	}
	return args, nil
}

// DecodeAll decodes every transaction, dropping the ones that yield nothing.
// Input order is preserved.
func (d *Decoder) DecodeAll(txs []types.Transaction) []Record {
	out := make([]Record, 0, len(txs))
	for _, tx := range txs {
		if args, ok := d.Decode(tx); ok {
			out = append(out, Record{Tx: tx, Args: args})
		}
	}
	return out
}

func (d *Decoder) decode(tx types.Transaction) (Args, error) {
	if !tx.IsContractCall() {
		return nil, reject(ReasonNotContractCall, "tx type %q", tx.TxType)
	}
	call := tx.ContractCall
	entry, ok := d.registry.Resolve(call.ContractID, call.FunctionName)
	if !ok {
		return nil, reject(ReasonUnregistered, "%s::%s", call.ContractID, call.FunctionName)
	}

	vals := make([]clarity.Value, len(call.FunctionArgs))
	for i, arg := range call.FunctionArgs {
		v, err := clarity.DecodeHex(arg.Hex)
		if err != nil {
			return nil, reject(ReasonArgDecode, "argument %d: %v", i, err)
		}
		vals[i] = v
	}

	meta := Meta{
		City:         entry.City,
		Version:      entry.Version,
		Module:       entry.Module,
		Category:     registry.CategoryOf(call.FunctionName),
		ContractID:   call.ContractID,
		FunctionName: call.FunctionName,
	}

	switch entry.Version {
	case types.VersionLegacyV1, types.VersionLegacyV2:
		return decodeLegacy(meta, vals)
	case types.VersionDaoV1, types.VersionDaoV2:
		return decodeDao(meta, entry, vals)
	default:
		panic(fmt.Sprintf("decode: unhandled version %s", entry.Version))
	}
}

func decodeLegacy(meta Meta, vals []clarity.Value) (Args, error) {
	switch meta.FunctionName {
	case registry.FnMineTokens:
		if err := expectArgs(vals, 2); err != nil {
			return nil, err
		}
		amount, err := positiveUint(vals[0], "amountUstx")
		if err != nil {
			return nil, err
		}
		if _, err := optionalBuffer(vals[1], "memo"); err != nil {
			return nil, err
		}
		return Mining{Meta: meta, AmountsUstx: []*big.Int{amount}}, nil

	case registry.FnMineMany:
		if err := expectArgs(vals, 1); err != nil {
			return nil, err
		}
		amounts, err := amountList(vals[0])
		if err != nil {
			return nil, err
		}
		return Mining{Meta: meta, AmountsUstx: amounts}, nil

	case registry.FnStackTokens:
		if err := expectArgs(vals, 2); err != nil {
			return nil, err
		}
		return stacking(meta, vals[0], vals[1])

	case registry.FnClaimMiningReward:
		if err := expectArgs(vals, 1); err != nil {
			return nil, err
		}
		height, err := uint64Arg(vals[0], "minerBlockHeight")
		if err != nil {
			return nil, err
		}
		return MiningClaim{Meta: meta, Height: height}, nil

	case registry.FnClaimStackingReward:
		if err := expectArgs(vals, 1); err != nil {
			return nil, err
		}
		cycle, err := uint64Arg(vals[0], "targetCycle")
		if err != nil {
			return nil, err
		}
		return StackingClaim{Meta: meta, Cycle: cycle}, nil

	case registry.FnTransfer:
		return transfer(meta, vals)
	}
	return nil, reject(ReasonUnregistered, "no decoder for %s", meta.FunctionName)
}

func decodeDao(meta Meta, entry registry.Entry, vals []clarity.Value) (Args, error) {
	if len(vals) == 0 {
		return nil, reject(ReasonArgCount, "missing city name")
	}
	city, err := cityArg(vals[0])
	if err != nil {
		return nil, err
	}
	if !entry.ServesCity(city) {
		return nil, reject(ReasonCity, "%s does not serve %s", meta.ContractID, city)
	}
	meta.City = city
	rest := vals[1:]

	switch meta.FunctionName {
	case registry.FnMine:
		if err := expectArgs(rest, 1); err != nil {
			return nil, err
		}
		amounts, err := amountList(rest[0])
		if err != nil {
			return nil, err
		}
		return Mining{Meta: meta, AmountsUstx: amounts}, nil

	case registry.FnStack:
		if err := expectArgs(rest, 2); err != nil {
			return nil, err
		}
		return stacking(meta, rest[0], rest[1])

	case registry.FnClaimMiningReward:
		if err := expectArgs(rest, 1); err != nil {
			return nil, err
		}
		height, err := uint64Arg(rest[0], "claimHeight")
		if err != nil {
			return nil, err
		}
		return MiningClaim{Meta: meta, Height: height}, nil

	case registry.FnClaimStackingReward:
		if err := expectArgs(rest, 1); err != nil {
			return nil, err
		}
		cycle, err := uint64Arg(rest[0], "targetCycle")
		if err != nil {
			return nil, err
		}
		return StackingClaim{Meta: meta, Cycle: cycle}, nil
	}
	return nil, reject(ReasonUnregistered, "no decoder for %s", meta.FunctionName)
}

func stacking(meta Meta, amountVal, lockVal clarity.Value) (Args, error) {
	amount, err := positiveUint(amountVal, "amountTokens")
	if err != nil {
		return nil, err
	}
	lock, err := uint64Arg(lockVal, "lockPeriod")
	if err != nil {
		return nil, err
	}
	if lock < 1 || lock > MaxLockPeriod {
		return nil, reject(ReasonLockPeriod, "lock period %d outside 1..%d", lock, MaxLockPeriod)
	}
	return Stacking{Meta: meta, AmountTokens: amount, LockPeriod: lock}, nil
}

func transfer(meta Meta, vals []clarity.Value) (Args, error) {
	if err := expectArgs(vals, 4); err != nil {
		return nil, err
	}
	amount, err := positiveUint(vals[0], "amount")
	if err != nil {
		return nil, err
	}
	from, ok := vals[1].AsPrincipal()
	if !ok {
		return nil, reject(ReasonArgType, "sender: expected principal, got %s", vals[1].Type)
	}
	to, ok := vals[2].AsPrincipal()
	if !ok {
		return nil, reject(ReasonArgType, "recipient: expected principal, got %s", vals[2].Type)
	}
	memo, err := optionalBuffer(vals[3], "memo")
	if err != nil {
		return nil, err
	}
	return Transfer{Meta: meta, Amount: amount, Sender: from, Recipient: to, Memo: memo}, nil
}

func expectArgs(vals []clarity.Value, n int) error {
	if len(vals) != n {
		return reject(ReasonArgCount, "expected %d arguments, got %d", n, len(vals))
	}
	return nil
}

func positiveUint(v clarity.Value, name string) (*big.Int, error) {
	n, ok := v.AsUint()
	if !ok {
		return nil, reject(ReasonArgType, "%s: expected uint, got %s", name, v.Type)
	}
	if n.Sign() <= 0 {
		return nil, reject(ReasonRange, "%s must be positive", name)
	}
	return n, nil
}

func uint64Arg(v clarity.Value, name string) (uint64, error) {
	if v.Type != clarity.TypeUint {
		return 0, reject(ReasonArgType, "%s: expected uint, got %s", name, v.Type)
	}
	n, ok := v.AsUint64()
	if !ok {
		return 0, reject(ReasonRange, "%s does not fit in 64 bits", name)
	}
	return n, nil
}

func amountList(v clarity.Value) ([]*big.Int, error) {
	items, ok := v.AsList()
	if !ok {
		return nil, reject(ReasonArgType, "amounts: expected list, got %s", v.Type)
	}
	if len(items) == 0 || len(items) > MaxMiningBlocks {
		return nil, reject(ReasonRange, "amounts: %d entries outside 1..%d", len(items), MaxMiningBlocks)
	}
	out := make([]*big.Int, len(items))
	for i, item := range items {
		n, err := positiveUint(item, fmt.Sprintf("amounts[%d]", i))
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func cityArg(v clarity.Value) (types.City, error) {
	s, ok := v.AsStringASCII()
	if !ok {
		return "", reject(ReasonArgType, "cityName: expected string-ascii, got %s", v.Type)
	}
	city := types.City(s)
	if !city.IsValid() {
		return "", reject(ReasonCity, "unknown city %q", s)
	}
	return city, nil
}

func optionalBuffer(v clarity.Value, name string) ([]byte, error) {
	inner, isSome, ok := v.AsOptional()
	if !ok {
		return nil, reject(ReasonArgType, "%s: expected optional, got %s", name, v.Type)
	}
	if !isSome {
		return nil, nil
	}
	if inner.Type != clarity.TypeBuffer {
		return nil, reject(ReasonArgType, "%s: expected buffer, got %s", name, inner.Type)
	}
	if len(inner.Bytes) > maxMemoLength {
		return nil, reject(ReasonRange, "%s longer than %d bytes", name, maxMemoLength)
	}
	return inner.Bytes, nil
}
