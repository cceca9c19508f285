package chain

import (
	"encoding/json"
	"strconv"
)

// Transaction is the jsonParsed view of a ledger transaction, reduced to the
// fields payment verification needs. Differing node versions encode account
// keys and instructions in more than one shape; the types here absorb that.
type Transaction struct {
	Transaction struct {
		Message struct {
			AccountKeys  []AccountKey  `json:"accountKeys"`
			Instructions []Instruction `json:"instructions"`
		} `json:"message"`
	} `json:"transaction"`
	Meta *TransactionMeta `json:"meta"`
}

// TransactionMeta carries inner instructions and pre/post token balances.
type TransactionMeta struct {
	InnerInstructions []struct {
		Instructions []Instruction `json:"instructions"`
	} `json:"innerInstructions"`
	PreTokenBalances  []TokenBalance `json:"preTokenBalances"`
	PostTokenBalances []TokenBalance `json:"postTokenBalances"`
}

// AccountKey is either a bare base58 string or an object with a pubkey field
// depending on the node's encoding.
type AccountKey struct {
	Pubkey string
}

func (k *AccountKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		k.Pubkey = s
		return nil
	}
	var obj struct {
		Pubkey string `json:"pubkey"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	k.Pubkey = obj.Pubkey
	return nil
}

// Instruction keeps the parsed payload raw; not every program's instructions
// parse into the same shape, so consumers decode what they recognize.
type Instruction struct {
	Program   string          `json:"program"`
	ProgramID string          `json:"programId"`
	Parsed    json.RawMessage `json:"parsed"`
}

// TokenBalance is one account's token holding snapshot.
type TokenBalance struct {
	AccountIndex  int         `json:"accountIndex"`
	Mint          string      `json:"mint"`
	Owner         string      `json:"owner"`
	UITokenAmount TokenAmount `json:"uiTokenAmount"`
}

// TokenAmount mirrors the node's uiTokenAmount object.
type TokenAmount struct {
	Amount         string   `json:"amount"`
	Decimals       int      `json:"decimals"`
	UIAmount       *float64 `json:"uiAmount"`
	UIAmountString string   `json:"uiAmountString"`
}

// Value returns the decimal amount, preferring the string form since the
// float form loses precision on large balances.
func (t TokenAmount) Value() (float64, bool) {
	if t.UIAmountString != "" {
		if f, err := strconv.ParseFloat(t.UIAmountString, 64); err == nil {
			return f, true
		}
	}
	if t.UIAmount != nil {
		return *t.UIAmount, true
	}
	return 0, false
}
