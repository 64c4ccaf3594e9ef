package decode

import (
	"errors"
	"math/big"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cityclaims/cityclaims/internal/clarity"
	"github.com/cityclaims/cityclaims/internal/registry"
	"github.com/cityclaims/cityclaims/pkg/types"
)

const testSender = "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7"

func hexArg(t *testing.T, v clarity.Value) types.FunctionArg {
	t.Helper()
	h, err := clarity.EncodeHex(v)
	if err != nil {
		t.Fatalf("EncodeHex(%s): %v", v, err)
	}
	return types.FunctionArg{Hex: h}
}

func callTx(t *testing.T, contractID, fn string, args ...clarity.Value) types.Transaction {
	t.Helper()
	fargs := make([]types.FunctionArg, len(args))
	for i, a := range args {
		fargs[i] = hexArg(t, a)
	}
	return types.Transaction{
		TxID:        "0x01",
		Sender:      testSender,
		Status:      types.TxStatusSuccess,
		TxType:      types.TxTypeContractCall,
		BlockHeight: 58930,
		ContractCall: &types.ContractCall{
			ContractID:   contractID,
			FunctionName: fn,
			FunctionArgs: fargs,
		},
	}
}

func u(n uint64) clarity.Value { return clarity.UintFrom64(n) }

func newDecoder() *Decoder { return New(registry.Mainnet(), nil) }

func TestDecode_LegacyMineMany(t *testing.T) {
	tx := callTx(t, registry.MIACoreV2, registry.FnMineMany,
		clarity.List(u(1000000), u(1000000), u(1000000)))

	args, ok := newDecoder().Decode(tx)
	if !ok {
		t.Fatal("expected decode to succeed")
	}
	m, isMining := args.(Mining)
	if !isMining {
		t.Fatalf("expected Mining, got %T", args)
	}

	wantMeta := Meta{
		City:         types.CityMIA,
		Version:      types.VersionLegacyV2,
		Module:       types.ModuleCore,
		Category:     types.CategoryMining,
		ContractID:   registry.MIACoreV2,
		FunctionName: registry.FnMineMany,
	}
	if diff := cmp.Diff(wantMeta, m.Common()); diff != "" {
		t.Errorf("meta mismatch (-want +got):\n%s", diff)
	}
	if len(m.AmountsUstx) != 3 {
		t.Fatalf("expected 3 amounts, got %d", len(m.AmountsUstx))
	}
	if m.TotalUstx().Cmp(big.NewInt(3000000)) != 0 {
		t.Errorf("expected total 3000000, got %s", m.TotalUstx())
	}
}

func TestDecode_LegacyMineTokens(t *testing.T) {
	tx := callTx(t, registry.NYCCoreV1, registry.FnMineTokens, u(250), clarity.None())
	args, ok := newDecoder().Decode(tx)
	if !ok {
		t.Fatal("expected decode to succeed")
	}
	m := args.(Mining)
	if m.City != types.CityNYC || len(m.AmountsUstx) != 1 || m.AmountsUstx[0].Int64() != 250 {
		t.Errorf("unexpected record %+v", m)
	}
}

func TestDecode_PreservesPrecision(t *testing.T) {
	huge, _ := new(big.Int).SetString("340282366920938463463374607431768211455", 10)
	tx := callTx(t, registry.MIACoreV1, registry.FnStackTokens, clarity.Uint(huge), u(3))

	args, ok := newDecoder().Decode(tx)
	if !ok {
		t.Fatal("expected decode to succeed")
	}
	s := args.(Stacking)
	if s.AmountTokens.Cmp(huge) != 0 {
		t.Errorf("expected %s, got %s", huge, s.AmountTokens)
	}
	if s.LockPeriod != 3 {
		t.Errorf("expected lock period 3, got %d", s.LockPeriod)
	}
}

func TestDecode_DaoStack(t *testing.T) {
	tx := callTx(t, registry.DAOStacking, registry.FnStack,
		clarity.StringASCII("nyc"), u(5000), u(2))

	args, ok := newDecoder().Decode(tx)
	if !ok {
		t.Fatal("expected decode to succeed")
	}
	s, isStacking := args.(Stacking)
	if !isStacking {
		t.Fatalf("expected Stacking, got %T", args)
	}
	if s.City != types.CityNYC || s.Version != types.VersionDaoV1 || s.Module != types.ModuleStacking {
		t.Errorf("unexpected meta %+v", s.Meta)
	}
	if s.LockPeriod != 2 {
		t.Errorf("expected lock period 2, got %d", s.LockPeriod)
	}
}

func TestDecode_Claims(t *testing.T) {
	tests := []struct {
		name string
		tx   types.Transaction
		want Args
	}{
		{
			name: "legacy mining claim",
			tx:   callTx(t, registry.MIACoreV1, registry.FnClaimMiningReward, u(30000)),
			want: MiningClaim{Meta: Meta{
				City: types.CityMIA, Version: types.VersionLegacyV1, Module: types.ModuleCore,
				Category: types.CategoryMiningClaim, ContractID: registry.MIACoreV1,
				FunctionName: registry.FnClaimMiningReward,
			}, Height: 30000},
		},
		{
			name: "dao mining claim",
			tx: callTx(t, registry.DAOMiningV2, registry.FnClaimMiningReward,
				clarity.StringASCII("mia"), u(150000)),
			want: MiningClaim{Meta: Meta{
				City: types.CityMIA, Version: types.VersionDaoV2, Module: types.ModuleMining,
				Category: types.CategoryMiningClaim, ContractID: registry.DAOMiningV2,
				FunctionName: registry.FnClaimMiningReward,
			}, Height: 150000},
		},
		{
			name: "dao stacking claim",
			tx: callTx(t, registry.DAOStacking, registry.FnClaimStackingReward,
				clarity.StringASCII("mia"), u(56)),
			want: StackingClaim{Meta: Meta{
				City: types.CityMIA, Version: types.VersionDaoV1, Module: types.ModuleStacking,
				Category: types.CategoryStackingClaim, ContractID: registry.DAOStacking,
				FunctionName: registry.FnClaimStackingReward,
			}, Cycle: 56},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := newDecoder().Decode(tt.tx)
			if !ok {
				t.Fatal("expected decode to succeed")
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecode_Transfer(t *testing.T) {
	from := clarity.MustParsePrincipal(testSender)
	to := clarity.MustParsePrincipal("SP000000000000000000002Q6VF78")
	tx := callTx(t, registry.MIATokenV2, registry.FnTransfer,
		u(42), clarity.PrincipalValue(from), clarity.PrincipalValue(to),
		clarity.Some(clarity.Buffer([]byte("gm"))))

	args, ok := newDecoder().Decode(tx)
	if !ok {
		t.Fatal("expected decode to succeed")
	}
	tr := args.(Transfer)
	if tr.Amount.Int64() != 42 || tr.Sender != from || tr.Recipient != to || string(tr.Memo) != "gm" {
		t.Errorf("unexpected transfer %+v", tr)
	}
	if tr.Category != types.CategoryTransfer {
		t.Errorf("expected Transfer category, got %s", tr.Category)
	}
}

func TestDecode_Rejects(t *testing.T) {
	tooMany := make([]clarity.Value, MaxMiningBlocks+1)
	for i := range tooMany {
		tooMany[i] = u(1)
	}

	tests := []struct {
		name   string
		tx     types.Transaction
		reason string
	}{
		{
			name:   "wrong argument count",
			tx:     callTx(t, registry.MIACoreV1, registry.FnStackTokens, u(100)),
			reason: ReasonArgCount,
		},
		{
			name:   "wrong argument type",
			tx:     callTx(t, registry.MIACoreV1, registry.FnClaimMiningReward, clarity.StringASCII("30000")),
			reason: ReasonArgType,
		},
		{
			name:   "lock period zero",
			tx:     callTx(t, registry.MIACoreV1, registry.FnStackTokens, u(100), u(0)),
			reason: ReasonLockPeriod,
		},
		{
			name:   "lock period above maximum",
			tx:     callTx(t, registry.DAOStacking, registry.FnStack, clarity.StringASCII("mia"), u(100), u(13)),
			reason: ReasonLockPeriod,
		},
		{
			name:   "unknown city",
			tx:     callTx(t, registry.DAOMiningV1, registry.FnMine, clarity.StringASCII("sf"), clarity.List(u(1))),
			reason: ReasonCity,
		},
		{
			name:   "city name in wrong case",
			tx:     callTx(t, registry.DAOMiningV1, registry.FnMine, clarity.StringASCII("MIA"), clarity.List(u(1))),
			reason: ReasonCity,
		},
		{
			name:   "city as utf8",
			tx:     callTx(t, registry.DAOMiningV1, registry.FnMine, clarity.StringUTF8("mia"), clarity.List(u(1))),
			reason: ReasonArgType,
		},
		{
			name:   "empty amounts",
			tx:     callTx(t, registry.MIACoreV2, registry.FnMineMany, clarity.List()),
			reason: ReasonRange,
		},
		{
			name:   "zero amount",
			tx:     callTx(t, registry.MIACoreV2, registry.FnMineMany, clarity.List(u(5), u(0))),
			reason: ReasonRange,
		},
		{
			name:   "too many blocks",
			tx:     callTx(t, registry.MIACoreV2, registry.FnMineMany, clarity.List(tooMany...)),
			reason: ReasonRange,
		},
		{
			name:   "signed amount",
			tx:     callTx(t, registry.MIACoreV2, registry.FnMineMany, clarity.List(clarity.Int(big.NewInt(5)))),
			reason: ReasonArgType,
		},
		{
			name: "claim id beyond 64 bits",
			tx: callTx(t, registry.MIACoreV1, registry.FnClaimStackingReward,
				clarity.Uint(new(big.Int).Lsh(big.NewInt(1), 70))),
			reason: ReasonRange,
		},
		{
			name:   "memo too long",
			tx:     callTx(t, registry.MIACoreV1, registry.FnMineTokens, u(1), clarity.Some(clarity.Buffer(make([]byte, 35)))),
			reason: ReasonRange,
		},
		{
			name:   "unregistered function",
			tx:     callTx(t, registry.MIACoreV1, "register-user", clarity.None()),
			reason: ReasonUnregistered,
		},
		{
			name:   "dao function on legacy contract",
			tx:     callTx(t, registry.MIACoreV1, registry.FnMine, clarity.StringASCII("mia"), clarity.List(u(1))),
			reason: ReasonUnregistered,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDecoder()
			if args, ok := d.Decode(tt.tx); ok {
				t.Fatalf("expected rejection, got %+v", args)
			}
			_, err := d.Explain(tt.tx)
			var rej *RejectError
			if !errors.As(err, &rej) {
				t.Fatalf("expected *RejectError, got %v", err)
			}
			if rej.Reason != tt.reason {
				t.Errorf("expected reason %s, got %s (%v)", tt.reason, rej.Reason, err)
			}
			if rej.TxID != tt.tx.TxID {
				t.Errorf("expected tx id %s on error, got %s", tt.tx.TxID, rej.TxID)
			}
			if !errors.Is(err, ErrRejected) {
				t.Error("expected error to wrap ErrRejected")
			}
		})
	}
}

func TestDecode_BadHexFailsWholeTransaction(t *testing.T) {
	tx := callTx(t, registry.MIACoreV1, registry.FnStackTokens, u(100), u(2))
	tx.ContractCall.FunctionArgs[1].Hex = "0x01ff"

	_, err := newDecoder().Explain(tx)
	var rej *RejectError
	if !errors.As(err, &rej) || rej.Reason != ReasonArgDecode {
		t.Fatalf("expected arg_decode rejection, got %v", err)
	}
}

func TestDecode_NotContractCall(t *testing.T) {
	tx := types.Transaction{TxID: "0x02", TxType: "token_transfer", Status: types.TxStatusSuccess}
	if _, ok := newDecoder().Decode(tx); ok {
		t.Error("expected non contract call to be skipped")
	}
}

func TestDecodeAll(t *testing.T) {
	good := callTx(t, registry.MIACoreV1, registry.FnClaimMiningReward, u(30000))
	bad := callTx(t, registry.MIACoreV1, registry.FnClaimMiningReward)
	other := types.Transaction{TxID: "0x03", TxType: "coinbase"}

	records := newDecoder().DecodeAll([]types.Transaction{other, bad, good})
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Tx.TxID != good.TxID {
		t.Errorf("unexpected record %+v", records[0])
	}
}
