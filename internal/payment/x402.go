// Package payment implements the x402 pay-per-access protocol: building
// machine-readable payment challenges and verifying claimed ledger
// transactions against the required mint/amount/recipient/payer policy.
package payment

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"echovault.org/internal/chain"
)

// Reason codes. Failures are expected outcomes carried as values; only the
// caller decides what to do with them.
const (
	ReasonVerified            = "verified"
	ReasonMissingTx           = "missing_tx"
	ReasonInvalidAmount       = "invalid_amount"
	ReasonRPCNotConfigured    = "rpc_not_configured"
	ReasonTxNotFound          = "tx_not_found"
	ReasonRecipientMismatch   = "recipient_mismatch"
	ReasonPayerMismatch       = "payer_mismatch"
	ReasonMintAmountMismatch  = "mint_amount_mismatch"
	ReasonRecipientMissing    = "recipient_missing"
	ReasonFeeRecipientMissing = "fee_recipient_missing"
	ReasonFeeMismatch         = "fee_mismatch"
	ReasonRPCError            = "rpc_error"
)

// DefaultMint is the token charged when no mint is configured.
const DefaultMint = "USDC"

// Matching tolerates float rounding in ui-amount encodings.
const epsilon = 1e-9

// FlexNumber accepts a JSON number or numeric string, preserving the raw
// text so a malformed amount is reported as invalid rather than dropped.
type FlexNumber string

func (n *FlexNumber) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*n = FlexNumber(s)
		return nil
	}
	*n = FlexNumber(strings.TrimSpace(string(data)))
	return nil
}

func (n FlexNumber) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(n))
}

// IsSet reports whether a value was supplied.
func (n FlexNumber) IsSet() bool { return n != "" }

// Float parses the value.
func (n FlexNumber) Float() (float64, error) {
	return strconv.ParseFloat(string(n), 64)
}

// Proof is caller-supplied evidence that a payment was made. Only the
// transaction signature is mandatory; everything else defaults from policy.
type Proof struct {
	TxSig        string     `json:"txSig"`
	Mint         string     `json:"mint,omitempty"`
	Amount       FlexNumber `json:"amount,omitempty"`
	Payer        string     `json:"payer,omitempty"`
	Recipient    string     `json:"recipient,omitempty"`
	FeeRecipient string     `json:"feeRecipient,omitempty"`
	FeeAmount    FlexNumber `json:"feeAmount,omitempty"`
}

// Challenge describes what payment would satisfy a pending request.
// Stateless; constructed on demand.
type Challenge struct {
	Status       int     `json:"status"`
	Required     bool    `json:"required"`
	Amount       float64 `json:"amount"`
	Mint         string  `json:"mint"`
	PaymentURL   string  `json:"paymentUrl"`
	FeeBps       int     `json:"feeBps,omitempty"`
	FeeRecipient string  `json:"feeRecipient,omitempty"`
}

// Result is the verification outcome.
type Result struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason"`
	Mint   string `json:"mint,omitempty"`
}

func fail(reason string) Result { return Result{Reason: reason} }

// Policy carries the deployment's payment defaults. Proof fields override
// per request.
type Policy struct {
	Mint         string
	Recipient    string
	Payer        string
	FeeBps       int
	FeeRecipient string
}

// Verifier checks payment proofs against the ledger. A nil RPC client means
// payment verification is not configured.
type Verifier struct {
	rpc    chain.RPCClient
	policy Policy
}

// NewVerifier builds a verifier. rpc may be nil.
func NewVerifier(rpc chain.RPCClient, policy Policy) *Verifier {
	if policy.Mint == "" {
		policy.Mint = DefaultMint
	}
	return &Verifier{rpc: rpc, policy: policy}
}

// BuildChallenge constructs the 402 descriptor. Pure; no I/O.
func (v *Verifier) BuildChallenge(amount float64, mint string) Challenge {
	if mint == "" {
		mint = v.policy.Mint
	}
	c := Challenge{
		Status:     402,
		Required:   true,
		Amount:     amount,
		Mint:       mint,
		PaymentURL: "/pay",
	}
	if v.policy.FeeBps > 0 {
		c.FeeBps = v.policy.FeeBps
		c.FeeRecipient = v.policy.FeeRecipient
	}
	return c
}

// transferInfo is the parsed-instruction view of one value movement.
type transferInfo struct {
	Mint        string
	Amount      float64
	HasAmount   bool
	Source      string
	Destination string
	Authority   string
}

// balanceDelta is the pre/post token-balance view of one account's change.
type balanceDelta struct {
	Account string
	Owner   string
	Mint    string
	Delta   float64
}

// Verify checks the proof per the declared policy. Two independent views of
// the transaction's value movement are built — parsed transfer instructions
// and token-balance deltas — and a match in either view is accepted. The
// views stay unioned deliberately: transaction encodings differ across node
// versions and tightening the shim would reject real payments.
func (v *Verifier) Verify(ctx context.Context, proof *Proof) Result {
	if proof == nil || strings.TrimSpace(proof.TxSig) == "" {
		return fail(ReasonMissingTx)
	}
	if v.rpc == nil {
		return fail(ReasonRPCNotConfigured)
	}

	mint := proof.Mint
	if mint == "" {
		mint = v.policy.Mint
	}
	var amount *float64
	if proof.Amount.IsSet() {
		f, err := proof.Amount.Float()
		if err != nil {
			return fail(ReasonInvalidAmount)
		}
		amount = &f
	}
	recipient := firstNonEmpty(proof.Recipient, v.policy.Recipient)
	payer := firstNonEmpty(proof.Payer, v.policy.Payer)

	known, err := v.rpc.GetSignatureStatus(ctx, proof.TxSig)
	if err != nil {
		return fail(ReasonRPCError)
	}
	if !known {
		return fail(ReasonTxNotFound)
	}
	tx, err := v.rpc.GetTransaction(ctx, proof.TxSig)
	if err != nil {
		return fail(ReasonRPCError)
	}
	if tx == nil {
		return fail(ReasonTxNotFound)
	}

	transfers := collectTransfers(tx)
	deltas := collectBalanceDeltas(tx)

	if v.feeConfigured() {
		if reason := v.verifyFeeSplit(proof, mint, amount, recipient, payer, transfers, deltas); reason != "" {
			return fail(reason)
		}
		return Result{OK: true, Reason: ReasonVerified, Mint: mint}
	}

	if matchAnyTransfer(transfers, mint, amount, recipient, payer) ||
		matchBalanceView(deltas, mint, amount, recipient, payer) {
		return Result{OK: true, Reason: ReasonVerified, Mint: mint}
	}
	return fail(diagnose(transfers, deltas, mint, amount, recipient, payer))
}

func (v *Verifier) feeConfigured() bool {
	return v.policy.FeeBps > 0 && v.policy.FeeRecipient != ""
}

func firstNonEmpty(values ...string) string {
	for _, s := range values {
		if s != "" {
			return s
		}
	}
	return ""
}

// tokenPrograms is the token-transfer program family recognized in parsed
// instructions.
var tokenPrograms = map[string]bool{
	"spl-token":      true,
	"token":          true,
	"spl-token-2022": true,
}

type parsedInstruction struct {
	Type string `json:"type"`
	Info struct {
		Mint        string            `json:"mint"`
		Source      string            `json:"source"`
		Destination string            `json:"destination"`
		Authority   string            `json:"authority"`
		Owner       string            `json:"owner"`
		TokenAmount chain.TokenAmount `json:"tokenAmount"`
	} `json:"info"`
}

// collectTransfers gathers transfer-type instructions from the top-level
// list and every inner-instruction group.
func collectTransfers(tx *chain.Transaction) []transferInfo {
	instructions := append([]chain.Instruction(nil), tx.Transaction.Message.Instructions...)
	if tx.Meta != nil {
		for _, group := range tx.Meta.InnerInstructions {
			instructions = append(instructions, group.Instructions...)
		}
	}

	var out []transferInfo
	for _, ix := range instructions {
		if !tokenPrograms[ix.Program] || len(ix.Parsed) == 0 {
			continue
		}
		var parsed parsedInstruction
		if err := json.Unmarshal(ix.Parsed, &parsed); err != nil {
			continue
		}
		if parsed.Type != "transfer" && parsed.Type != "transferChecked" {
			continue
		}
		t := transferInfo{
			Mint:        parsed.Info.Mint,
			Source:      parsed.Info.Source,
			Destination: parsed.Info.Destination,
			Authority:   firstNonEmpty(parsed.Info.Authority, parsed.Info.Owner),
		}
		if f, ok := parsed.Info.TokenAmount.Value(); ok {
			t.Amount = f
			t.HasAmount = true
		}
		out = append(out, t)
	}
	return out
}

// collectBalanceDeltas pairs post balances with their pre counterparts by
// account index and records each account's net change.
func collectBalanceDeltas(tx *chain.Transaction) []balanceDelta {
	if tx.Meta == nil {
		return nil
	}
	keys := tx.Transaction.Message.AccountKeys
	pre := make(map[int]float64, len(tx.Meta.PreTokenBalances))
	for _, b := range tx.Meta.PreTokenBalances {
		if f, ok := b.UITokenAmount.Value(); ok {
			pre[b.AccountIndex] = f
		}
	}
	var out []balanceDelta
	for _, b := range tx.Meta.PostTokenBalances {
		post, ok := b.UITokenAmount.Value()
		if !ok {
			continue
		}
		d := balanceDelta{
			Owner: b.Owner,
			Mint:  b.Mint,
			Delta: post - pre[b.AccountIndex],
		}
		if b.AccountIndex >= 0 && b.AccountIndex < len(keys) {
			d.Account = keys[b.AccountIndex].Pubkey
		}
		out = append(out, d)
	}
	return out
}

func mintMatches(got, want string) bool {
	return got == "" || want == "" || got == want
}

func amountSatisfied(got float64, hasAmount bool, want *float64) bool {
	if want == nil {
		return true
	}
	return hasAmount && got+epsilon >= *want
}

// matchAnyTransfer accepts when a single parsed transfer satisfies the whole
// policy: mint, amount, destination, and source/authority.
func matchAnyTransfer(transfers []transferInfo, mint string, amount *float64, recipient, payer string) bool {
	for _, t := range transfers {
		if !mintMatches(t.Mint, mint) {
			continue
		}
		if !amountSatisfied(t.Amount, t.HasAmount, amount) {
			continue
		}
		if recipient != "" && t.Destination != recipient {
			continue
		}
		if payer != "" && t.Source != payer && t.Authority != payer {
			continue
		}
		return true
	}
	return false
}

// matchBalanceView accepts when some account of the right mint gained at
// least the required amount into the expected recipient's hands, and (when
// a payer is expected) some account of the payer's shows up in the deltas.
func matchBalanceView(deltas []balanceDelta, mint string, amount *float64, recipient, payer string) bool {
	inflow := false
	for _, d := range deltas {
		if d.Mint != mint && mint != "" {
			continue
		}
		if d.Delta <= 0 {
			continue
		}
		if !amountSatisfied(d.Delta, true, amount) {
			continue
		}
		if recipient != "" && d.Account != recipient && d.Owner != recipient {
			continue
		}
		inflow = true
		break
	}
	if !inflow {
		return false
	}
	if payer == "" {
		return true
	}
	for _, d := range deltas {
		if d.Account == payer || d.Owner == payer {
			return true
		}
	}
	return false
}

// diagnose picks the most specific failure by relaxing one criterion at a
// time, in order: if the policy matches once the recipient constraint is
// dropped, the recipient is what failed; then the payer analogue; otherwise
// the mint or amount never lined up.
func diagnose(transfers []transferInfo, deltas []balanceDelta, mint string, amount *float64, recipient, payer string) string {
	if recipient != "" {
		if matchAnyTransfer(transfers, mint, amount, "", payer) ||
			matchBalanceView(deltas, mint, amount, "", payer) {
			return ReasonRecipientMismatch
		}
	}
	if payer != "" {
		if matchAnyTransfer(transfers, mint, amount, recipient, "") ||
			matchBalanceView(deltas, mint, amount, recipient, "") {
			return ReasonPayerMismatch
		}
	}
	return ReasonMintAmountMismatch
}

// verifyFeeSplit enforces the split-payment policy: the provider leg and the
// fee leg must each receive their share. Paid totals prefer the parsed
// transfer view and fall back to balance deltas per address. Returns "" on
// success.
func (v *Verifier) verifyFeeSplit(proof *Proof, mint string, amount *float64, recipient, payer string, transfers []transferInfo, deltas []balanceDelta) string {
	if recipient == "" {
		return ReasonRecipientMissing
	}
	feeRecipient := firstNonEmpty(proof.FeeRecipient, v.policy.FeeRecipient)
	if feeRecipient == "" {
		return ReasonFeeRecipientMissing
	}

	var expectedFee *float64
	if proof.FeeAmount.IsSet() {
		f, err := proof.FeeAmount.Float()
		if err != nil {
			return ReasonInvalidAmount
		}
		expectedFee = &f
	} else if amount != nil {
		f := *amount * float64(v.policy.FeeBps) / 10000
		expectedFee = &f
	}

	transferTotals := make(map[string]float64)
	for _, t := range transfers {
		if !mintMatches(t.Mint, mint) || !t.HasAmount || t.Destination == "" {
			continue
		}
		transferTotals[t.Destination] += t.Amount
	}
	balanceTotals := make(map[string]float64)
	for _, d := range deltas {
		if d.Mint != mint || d.Delta <= 0 || d.Account == "" {
			continue
		}
		balanceTotals[d.Account] += d.Delta
	}
	paid := func(addr string) float64 {
		if total, ok := transferTotals[addr]; ok {
			return total
		}
		return balanceTotals[addr]
	}

	paidToRecipient := paid(recipient)
	paidToFee := paid(feeRecipient)

	if amount != nil && paidToRecipient+paidToFee+epsilon < *amount {
		return ReasonMintAmountMismatch
	}
	if expectedFee != nil && paidToFee+epsilon < *expectedFee {
		return ReasonFeeMismatch
	}
	if amount != nil && expectedFee != nil && paidToRecipient+epsilon < *amount-*expectedFee {
		return ReasonRecipientMismatch
	}

	if payer != "" {
		found := false
		for _, t := range transfers {
			if t.Source == payer || t.Authority == payer {
				found = true
				break
			}
		}
		if !found {
			for _, d := range deltas {
				if d.Account == payer || d.Owner == payer || d.Delta < 0 {
					found = true
					break
				}
			}
		}
		if !found {
			return ReasonPayerMismatch
		}
	}
	return ""
}
