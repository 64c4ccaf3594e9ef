package reconcile

import (
	"math/big"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cityclaims/cityclaims/internal/decode"
	"github.com/cityclaims/cityclaims/internal/registry"
	"github.com/cityclaims/cityclaims/internal/window"
	"github.com/cityclaims/cityclaims/pkg/types"
)

func newEngine() *Engine {
	return New(window.New(registry.Mainnet(), nil))
}

func tx(id string, height uint64, status types.TxStatus) types.Transaction {
	return types.Transaction{
		TxID:        id,
		Status:      status,
		TxType:      types.TxTypeContractCall,
		BlockHeight: height,
	}
}

func legacyMeta(fn string, category types.Category) decode.Meta {
	return decode.Meta{
		City:         types.CityMIA,
		Version:      types.VersionLegacyV2,
		Module:       types.ModuleCore,
		Category:     category,
		ContractID:   registry.MIACoreV2,
		FunctionName: fn,
	}
}

func mineMany(id string, height uint64, n int) decode.Record {
	amounts := make([]*big.Int, n)
	for i := range amounts {
		amounts[i] = big.NewInt(1000000)
	}
	return decode.Record{
		Tx:   tx(id, height, types.TxStatusSuccess),
		Args: decode.Mining{Meta: legacyMeta(registry.FnMineMany, types.CategoryMining), AmountsUstx: amounts},
	}
}

func miningClaim(id string, height, target uint64) decode.Record {
	return decode.Record{
		Tx:   tx(id, height, types.TxStatusSuccess),
		Args: decode.MiningClaim{Meta: legacyMeta(registry.FnClaimMiningReward, types.CategoryMiningClaim), Height: target},
	}
}

func TestReconcile_ScenarioAllUnverified(t *testing.T) {
	res := newEngine().Reconcile([]decode.Record{mineMany("0xaa", 58930, 3)}, types.CityMIA)

	want := []types.ClaimEntry{
		{Kind: types.ClaimKindMining, ID: 58931, City: types.CityMIA, Version: types.VersionLegacyV2, TxID: "0xaa",
			Status: types.StatusUnverified, ContractID: registry.MIACoreV2, FunctionName: registry.FnMineMany},
		{Kind: types.ClaimKindMining, ID: 58932, City: types.CityMIA, Version: types.VersionLegacyV2, TxID: "0xaa",
			Status: types.StatusUnverified, ContractID: registry.MIACoreV2, FunctionName: registry.FnMineMany},
		{Kind: types.ClaimKindMining, ID: 58933, City: types.CityMIA, Version: types.VersionLegacyV2, TxID: "0xaa",
			Status: types.StatusUnverified, ContractID: registry.MIACoreV2, FunctionName: registry.FnMineMany},
	}
	if diff := cmp.Diff(want, res.Mining); diff != "" {
		t.Errorf("mining entries mismatch (-want +got):\n%s", diff)
	}
	if len(res.Stacking) != 0 {
		t.Errorf("expected no stacking entries, got %d", len(res.Stacking))
	}
	if got := len(res.Candidates()); got != 3 {
		t.Errorf("expected 3 candidates, got %d", got)
	}
}

func TestReconcile_ClaimRemovesCandidate(t *testing.T) {
	records := []decode.Record{
		mineMany("0xaa", 58930, 3),
		miningClaim("0xbb", 59100, 58932),
	}
	res := newEngine().Reconcile(records, types.CityMIA)

	if len(res.Mining) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(res.Mining))
	}
	claimed := res.Mining[1]
	if claimed.ID != 58932 || claimed.Status != types.StatusClaimed {
		t.Fatalf("expected 58932 claimed, got %+v", claimed)
	}
	if claimed.TxID != "0xaa" || claimed.ClaimTxID != "0xbb" {
		t.Errorf("expected tx 0xaa claimed by 0xbb, got %s / %s", claimed.TxID, claimed.ClaimTxID)
	}
	for _, e := range []types.ClaimEntry{res.Mining[0], res.Mining[2]} {
		if e.Status != types.StatusUnverified {
			t.Errorf("expected %d unverified, got %s", e.ID, e.Status)
		}
	}
	if got := len(res.Candidates()); got != 2 {
		t.Errorf("expected 2 candidates, got %d", got)
	}
}

func TestReconcile_ClaimWithoutCommitment(t *testing.T) {
	res := newEngine().Reconcile([]decode.Record{miningClaim("0xbb", 60000, 59000)}, types.CityMIA)
	if len(res.Mining) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(res.Mining))
	}
	e := res.Mining[0]
	if e.Status != types.StatusClaimed || e.TxID != types.UnknownTxID || e.ClaimTxID != "0xbb" {
		t.Errorf("unexpected entry %+v", e)
	}
}

func TestReconcile_FailedClaimIgnored(t *testing.T) {
	failed := miningClaim("0xbb", 59100, 58931)
	failed.Tx.Status = types.TxStatusAbortByResponse

	res := newEngine().Reconcile([]decode.Record{mineMany("0xaa", 58930, 1), failed}, types.CityMIA)
	if len(res.Mining) != 1 || res.Mining[0].Status != types.StatusUnverified {
		t.Errorf("failed claim must not mark the id claimed: %+v", res.Mining)
	}
}

func TestReconcile_OverlappingCommitmentsDeduplicated(t *testing.T) {
	records := []decode.Record{
		mineMany("0xaa", 58930, 3),
		mineMany("0xcc", 58931, 3),
	}
	res := newEngine().Reconcile(records, types.CityMIA)

	ids := make([]uint64, len(res.Mining))
	for i, e := range res.Mining {
		ids[i] = e.ID
	}
	if diff := cmp.Diff([]uint64{58931, 58932, 58933, 58934}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	if res.Mining[1].TxID != "0xaa" {
		t.Errorf("first commitment should own a shared id, got %s", res.Mining[1].TxID)
	}
}

func TestReconcile_FiltersCity(t *testing.T) {
	rec := mineMany("0xaa", 58930, 2)
	res := newEngine().Reconcile([]decode.Record{rec}, types.CityNYC)
	if len(res.Mining) != 0 {
		t.Errorf("expected no NYC entries, got %d", len(res.Mining))
	}
}

func TestReconcile_DaoStacking(t *testing.T) {
	meta := decode.Meta{
		City: types.CityNYC, Version: types.VersionDaoV1, Module: types.ModuleStacking,
		ContractID: registry.DAOStacking,
	}
	stackMeta := meta
	stackMeta.FunctionName = registry.FnStack
	stackMeta.Category = types.CategoryStacking
	claimMeta := meta
	claimMeta.FunctionName = registry.FnClaimStackingReward
	claimMeta.Category = types.CategoryStackingClaim

	stackTx := tx("0xs1", 120000, types.TxStatusSuccess)
	stackTx.BurnBlockHeight = 666050 + 54*2100 + 1

	records := []decode.Record{
		{Tx: stackTx, Args: decode.Stacking{Meta: stackMeta, AmountTokens: big.NewInt(10), LockPeriod: 2}},
		{Tx: tx("0xs2", 125000, types.TxStatusSuccess), Args: decode.StackingClaim{Meta: claimMeta, Cycle: 55}},
	}
	res := newEngine().Reconcile(records, types.CityNYC)

	if len(res.Stacking) != 2 {
		t.Fatalf("expected 2 stacking entries, got %d", len(res.Stacking))
	}
	if res.Stacking[0].ID != 55 || res.Stacking[0].Status != types.StatusClaimed {
		t.Errorf("expected cycle 55 claimed, got %+v", res.Stacking[0])
	}
	if res.Stacking[1].ID != 56 || res.Stacking[1].Status != types.StatusUnverified {
		t.Errorf("expected cycle 56 unverified, got %+v", res.Stacking[1])
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	records := []decode.Record{
		mineMany("0xaa", 58930, 5),
		miningClaim("0xbb", 59100, 58932),
		miningClaim("0xdd", 59200, 40000),
		mineMany("0xcc", 58940, 2),
	}
	e := newEngine()
	first := e.Reconcile(records, types.CityMIA)
	for i := 0; i < 5; i++ {
		again := e.Reconcile(records, types.CityMIA)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("reconcile not idempotent (-first +again):\n%s", diff)
		}
	}
}

func TestBatches(t *testing.T) {
	entries := make([]types.ClaimEntry, 12)
	for i := range entries {
		entries[i].ID = uint64(i)
	}

	batches := Batches(entries, 5)
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	if len(batches[0]) != 5 || len(batches[1]) != 5 || len(batches[2]) != 2 {
		t.Errorf("unexpected batch sizes %d %d %d", len(batches[0]), len(batches[1]), len(batches[2]))
	}
	if batches[2][1].ID != 11 {
		t.Errorf("expected last id 11, got %d", batches[2][1].ID)
	}
	if Batches(nil, 5) != nil {
		t.Error("expected no batches for empty input")
	}
}
