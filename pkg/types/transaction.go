package types

// TxStatus is the settlement status reported by the transaction source
type TxStatus string

const (
	TxStatusSuccess              TxStatus = "success"
	TxStatusAbortByResponse      TxStatus = "abort_by_response"
	TxStatusAbortByPostCondition TxStatus = "abort_by_post_condition"
	TxStatusPending              TxStatus = "pending"
)

// TxTypeContractCall is the only transaction type the decoder accepts
const TxTypeContractCall = "contract_call"

// Transaction is one settled transaction from the user's history. Field
// names follow the Stacks API JSON so a history export decodes directly.
type Transaction struct {
	TxID            string        `json:"tx_id"`
	Sender          string        `json:"sender_address"`
	Status          TxStatus      `json:"tx_status"`
	TxType          string        `json:"tx_type"`
	BlockHeight     uint64        `json:"block_height"`
	BurnBlockHeight uint64        `json:"burn_block_height"`
	ContractCall    *ContractCall `json:"contract_call,omitempty"`
}

// IsSuccess returns true if the transaction settled successfully
func (t Transaction) IsSuccess() bool {
	return t.Status == TxStatusSuccess
}

// IsContractCall returns true if the transaction carries a contract call
func (t Transaction) IsContractCall() bool {
	return t.TxType == TxTypeContractCall && t.ContractCall != nil
}

// ContractCall is the call payload of a contract-call transaction
type ContractCall struct {
	ContractID   string        `json:"contract_id"`
	FunctionName string        `json:"function_name"`
	FunctionArgs []FunctionArg `json:"function_args"`
}

// FunctionArg is one raw typed-value argument. Hex holds the serialized
// value; Repr and Type are informational only and never trusted.
type FunctionArg struct {
	Hex  string `json:"hex"`
	Repr string `json:"repr,omitempty"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
}
