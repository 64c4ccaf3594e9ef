package claims

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cityclaims/cityclaims/internal/clarity"
	"github.com/cityclaims/cityclaims/internal/registry"
	"github.com/cityclaims/cityclaims/pkg/types"
)

// ErrNoClaimContract is returned when no contract accepts claims for the
// requested city, version and kind
var ErrNoClaimContract = errors.New("claims: no claim contract")

// TxParams is what an external signer needs to build a claim transaction
type TxParams struct {
	Contract     string          `json:"contract"`
	FunctionName string          `json:"functionName"`
	FunctionArgs []clarity.Value `json:"-"`
}

type txParamsJSON struct {
	Contract     string    `json:"contract"`
	FunctionName string    `json:"functionName"`
	FunctionArgs []argJSON `json:"functionArgs"`
}

type argJSON struct {
	Hex  string `json:"hex"`
	Repr string `json:"repr"`
}

// MarshalJSON renders each argument as its serialized hex and Clarity repr
func (p TxParams) MarshalJSON() ([]byte, error) {
	out := txParamsJSON{
		Contract:     p.Contract,
		FunctionName: p.FunctionName,
		FunctionArgs: make([]argJSON, len(p.FunctionArgs)),
	}
	for i, a := range p.FunctionArgs {
		h, err := clarity.EncodeHex(a)
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		out.FunctionArgs[i] = argJSON{Hex: h, Repr: a.String()}
	}
	return json.Marshal(out)
}

// BuildClaimTransactionParams returns the contract call that claims id.
// Legacy core contracts take the id alone; the shared DAO contracts take the
// city name first.
func BuildClaimTransactionParams(reg *registry.Registry, city types.City, version types.Version, kind types.ClaimKind, id uint64) (TxParams, error) {
	if !city.IsValid() {
		return TxParams{}, fmt.Errorf("claims: unknown city %q", city)
	}
	if !kind.IsValid() {
		return TxParams{}, fmt.Errorf("claims: unknown kind %q", kind)
	}
	if id == 0 {
		return TxParams{}, fmt.Errorf("claims: id must be positive")
	}

	module, fn := types.ModuleMining, registry.FnClaimMiningReward
	if kind == types.ClaimKindStacking {
		module, fn = types.ModuleStacking, registry.FnClaimStackingReward
	}

	contract, ok := reg.ForCity(city, version, module)
	if !ok && version == types.VersionDaoV2 && module == types.ModuleStacking {
		contract, ok = reg.ForCity(city, types.VersionDaoV1, module)
	}
	if !ok || !contract.HasFunction(fn) {
		return TxParams{}, fmt.Errorf("%w: %s/%s/%s", ErrNoClaimContract, city, version, kind)
	}

	var args []clarity.Value
	switch version {
	case types.VersionLegacyV1, types.VersionLegacyV2:
		args = []clarity.Value{clarity.UintFrom64(id)}
	case types.VersionDaoV1, types.VersionDaoV2:
		args = []clarity.Value{clarity.StringASCII(string(city)), clarity.UintFrom64(id)}
	default:
		panic(fmt.Sprintf("claims: unhandled version %d", int(version)))
	}

	return TxParams{
		Contract:     contract.ContractID,
		FunctionName: fn,
		FunctionArgs: args,
	}, nil
}

// ClaimParams builds the claim call for an entry
func (s *Service) ClaimParams(entry types.ClaimEntry) (TxParams, error) {
	return BuildClaimTransactionParams(s.reg, entry.City, entry.Version, entry.Kind, entry.ID)
}
