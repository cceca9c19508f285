// Package gateway orchestrates access decisions: on-chain or local grant
// validation, then payment enforcement, ending in a grant or a refusal with
// a specific reason.
package gateway

import (
	"context"
	"strings"
	"time"

	"echovault.org/internal/chain"
	"echovault.org/internal/obs"
	"echovault.org/internal/payment"
	"echovault.org/internal/vault"
)

// State of an access decision.
type State int

const (
	StateDenied State = iota
	StatePaymentRequired
	StateGranted
)

// Grant sources reported in decisions.
const (
	SourceOnchain = "onchain"
	SourceLocal   = "dev"
)

// Decision is the outcome of a content request.
type Decision struct {
	State     State
	Reason    string             // set when denied
	Challenge *payment.Challenge // set when payment is required
	Payment   *payment.Result    // set when granted or payment failed
	Source    string             // which authority validated the grant
}

// Gateway wires the verifiers and the grant repository together.
type Gateway struct {
	grants vault.Service
	chain  *chain.Verifier
	pay    *payment.Verifier
	strict bool
	price  float64
	mint   string
	now    func() time.Time
}

// Options configure a Gateway.
type Options struct {
	Grants  vault.Service
	Chain   *chain.Verifier
	Payment *payment.Verifier
	Strict  bool
	Price   float64
	Mint    string
}

// New builds a gateway. A nil chain verifier is treated as not configured.
func New(opts Options) *Gateway {
	cv := opts.Chain
	if cv == nil {
		cv = chain.NewVerifier(nil, chain.PublicKey{})
	}
	return &Gateway{
		grants: opts.Grants,
		chain:  cv,
		pay:    opts.Payment,
		strict: opts.Strict,
		price:  opts.Price,
		mint:   opts.Mint,
		now:    time.Now,
	}
}

// Check validates the grant only. It returns the validating source and an
// empty reason on success, or a denial reason. Strict mode never falls back
// to the local repository: an unavailable on-chain path fails closed.
func (g *Gateway) Check(ctx context.Context, owner, grantee, scopeHash string) (source, reason string) {
	onchain := g.chain.Validate(ctx, owner, grantee, scopeHash)
	if onchain.OK {
		return SourceOnchain, ""
	}
	if g.strict {
		return "", onchain.Reason
	}

	grant, err := g.grants.GetGrant(ctx, owner, grantee, scopeHash)
	if err != nil {
		return "", chain.ReasonGrantNotFound
	}
	switch grant.StatusAt(g.now()) {
	case vault.StatusRevoked:
		return "", chain.ReasonGrantRevoked
	case vault.StatusExpired:
		return "", chain.ReasonGrantExpired
	}
	return SourceLocal, ""
}

// Authorize runs the full state machine for a content request. The terminal
// states are Granted and Denied; PaymentRequired expects the caller to retry
// with a proof.
func (g *Gateway) Authorize(ctx context.Context, owner, grantee, scopeHash string, proof *payment.Proof) Decision {
	source, reason := g.Check(ctx, owner, grantee, scopeHash)
	if reason != "" {
		return g.observe(Decision{State: StateDenied, Reason: reason})
	}

	if proof == nil {
		challenge := g.pay.BuildChallenge(g.price, g.mint)
		return g.observe(Decision{State: StatePaymentRequired, Challenge: &challenge, Source: source})
	}
	if strings.TrimSpace(proof.TxSig) == "" {
		return g.observe(Decision{State: StateDenied, Reason: payment.ReasonMissingTx, Source: source})
	}
	if proof.Amount.IsSet() {
		if _, err := proof.Amount.Float(); err != nil {
			return g.observe(Decision{State: StateDenied, Reason: payment.ReasonInvalidAmount, Source: source})
		}
	}

	result := g.pay.Verify(ctx, proof)
	if !result.OK {
		return g.observe(Decision{State: StateDenied, Reason: result.Reason, Payment: &result, Source: source})
	}
	return g.observe(Decision{State: StateGranted, Payment: &result, Source: source})
}

func (g *Gateway) observe(d Decision) Decision {
	switch d.State {
	case StateGranted:
		obs.ObserveDecision("granted")
	case StatePaymentRequired:
		obs.ObserveDecision("payment_required")
	default:
		obs.ObserveDecision("denied")
	}
	return d
}
