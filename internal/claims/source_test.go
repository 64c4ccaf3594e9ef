package claims

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cityclaims/cityclaims/pkg/types"
)

const otherAddress = "SP3FBR2AGK5H9QBDH3EEN6DF8EK8JY7RX8QJ5SVTE"

func TestParseHistory(t *testing.T) {
	tests := []struct {
		name string
		data string
		want []string
	}{
		{"empty", "", nil},
		{"array", `[{"tx_id":"0x01","sender_address":"A"},{"tx_id":"0x02","sender_address":"B"}]`, []string{"0x01", "0x02"}},
		{"page", `{"limit":50,"offset":0,"total":1,"results":[{"tx_id":"0x03","tx_status":"success"}]}`, []string{"0x03"}},
		{"wrapped", `{"results":[{"tx":{"tx_id":"0x04"},"stx_sent":"0"}]}`, []string{"0x04"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txs, err := ParseHistory([]byte(tt.data))
			if err != nil {
				t.Fatalf("ParseHistory: %v", err)
			}
			var ids []string
			for _, tx := range txs {
				ids = append(ids, tx.TxID)
			}
			if diff := cmp.Diff(tt.want, ids); diff != "" {
				t.Errorf("tx ids mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if _, err := ParseHistory([]byte(`{"results":[1]}`)); err == nil {
		t.Error("expected error for a malformed result")
	}
}

func TestParseHistory_ContractCall(t *testing.T) {
	data := `[{
		"tx_id": "0xaa",
		"sender_address": "` + testAddress + `",
		"tx_status": "success",
		"tx_type": "contract_call",
		"block_height": 58930,
		"contract_call": {
			"contract_id": "SP1H1733V5MZ3SZ9XRW9FKYGEZT0JDGEB8Y634C7R.miamicoin-core-v2",
			"function_name": "claim-mining-reward",
			"function_args": [{"hex": "0x0100000000000000000000000000000005", "repr": "u5", "name": "minerBlockHeight", "type": "uint"}]
		}
	}]`
	txs, err := ParseHistory([]byte(data))
	if err != nil {
		t.Fatalf("ParseHistory: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("expected 1 tx, got %d", len(txs))
	}
	tx := txs[0]
	if !tx.IsSuccess() || !tx.IsContractCall() {
		t.Errorf("unexpected tx %+v", tx)
	}
	if tx.ContractCall.FunctionArgs[0].Hex != "0x0100000000000000000000000000000005" {
		t.Errorf("unexpected arg %+v", tx.ContractCall.FunctionArgs[0])
	}
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	data := `{"results":[
		{"tx_id":"0x01","sender_address":"` + testAddress + `"},
		{"tx_id":"0x02","sender_address":"` + otherAddress + `"},
		{"tx_id":"0x03","sender_address":"` + testAddress + `"}
	]}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	txs, err := FileSource{Path: path}.Transactions(context.Background(), testAddress)
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	if len(txs) != 2 || txs[0].TxID != "0x01" || txs[1].TxID != "0x03" {
		t.Errorf("expected only the address's transactions, got %+v", txs)
	}

	if _, err := (FileSource{Path: filepath.Join(t.TempDir(), "missing.json")}).Transactions(context.Background(), testAddress); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestStaticSource(t *testing.T) {
	src := StaticSource{
		{TxID: "0x01", Sender: otherAddress},
		{TxID: "0x02", Sender: testAddress},
	}
	txs, err := src.Transactions(context.Background(), testAddress)
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	if diff := cmp.Diff([]types.Transaction{{TxID: "0x02", Sender: testAddress}}, txs); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}
