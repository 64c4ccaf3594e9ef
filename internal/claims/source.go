package claims

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cityclaims/cityclaims/pkg/types"
)

// Source supplies the settled transaction history of an address
type Source interface {
	Transactions(ctx context.Context, address string) ([]types.Transaction, error)
}

// StaticSource serves a fixed transaction list
type StaticSource []types.Transaction

// Transactions returns the transactions sent by address
func (s StaticSource) Transactions(_ context.Context, address string) ([]types.Transaction, error) {
	return bySender(s, address), nil
}

// FileSource reads a history export from disk. Accepted shapes are a bare
// array of transactions, a Stacks API page ({"results": [...]}) and the
// transactions-with-transfers page whose results wrap each tx in {"tx": ...}.
type FileSource struct {
	Path string
}

type historyPage struct {
	Results []json.RawMessage `json:"results"`
}

type wrappedTx struct {
	Tx *types.Transaction `json:"tx"`
}

// Transactions loads the file and returns the transactions sent by address
func (f FileSource) Transactions(ctx context.Context, address string) ([]types.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read history file: %w", err)
	}
	txs, err := ParseHistory(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse history file %s: %w", f.Path, err)
	}
	return bySender(txs, address), nil
}

// ParseHistory decodes any of the history shapes FileSource accepts
func ParseHistory(data []byte) ([]types.Transaction, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var raw []json.RawMessage
	if data[0] == '[' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	} else {
		var page historyPage
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, err
		}
		raw = page.Results
	}

	txs := make([]types.Transaction, 0, len(raw))
	for i, r := range raw {
		var w wrappedTx
		if err := json.Unmarshal(r, &w); err == nil && w.Tx != nil {
			txs = append(txs, *w.Tx)
			continue
		}
		var tx types.Transaction
		if err := json.Unmarshal(r, &tx); err != nil {
			return nil, fmt.Errorf("result %d: %w", i, err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func bySender(txs []types.Transaction, address string) []types.Transaction {
	out := make([]types.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.Sender == address {
			out = append(out, tx)
		}
	}
	return out
}
