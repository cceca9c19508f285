package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"echovault.org/internal/chain"
	"echovault.org/internal/payment"
	"echovault.org/internal/vault"
)

const (
	owner     = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"
	grantee   = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	scopeHash = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"
	mintUSDC  = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	payerATA  = "7UX2i7SucgLMQcfZ75s3VXmZZY4YRUyJN9X1RgfMoDUi"
)

type fakeRPC struct {
	statusKnown bool
	tx          *chain.Transaction
	err         error
}

func (f *fakeRPC) GetAccountInfo(ctx context.Context, addr chain.PublicKey) ([]byte, error) {
	return nil, errors.New("no accounts")
}

func (f *fakeRPC) GetSignatureStatus(ctx context.Context, sig string) (bool, error) {
	return f.statusKnown, f.err
}

func (f *fakeRPC) GetTransaction(ctx context.Context, sig string) (*chain.Transaction, error) {
	return f.tx, f.err
}

func transferTx(amount float64) *chain.Transaction {
	parsed := fmt.Sprintf(`{
		"type": "transferChecked",
		"info": {
			"mint": %q,
			"source": %q,
			"destination": %q,
			"authority": %q,
			"tokenAmount": {"uiAmountString": %q, "decimals": 6}
		}
	}`, mintUSDC, payerATA, grantee, owner, fmt.Sprintf("%g", amount))

	tx := &chain.Transaction{}
	tx.Transaction.Message.Instructions = []chain.Instruction{
		{Program: "spl-token", Parsed: json.RawMessage(parsed)},
	}
	tx.Meta = &chain.TransactionMeta{}
	return tx
}

type fixture struct {
	grants  *vault.InMemory
	gateway *Gateway
}

func newFixture(t *testing.T, strict bool, tx *chain.Transaction) fixture {
	t.Helper()
	grants := vault.NewInMemory()
	var rpc chain.RPCClient
	if tx != nil {
		rpc = &fakeRPC{statusKnown: true, tx: tx}
	}
	pay := payment.NewVerifier(rpc, payment.Policy{Mint: mintUSDC, Recipient: grantee})
	gw := New(Options{
		Grants:  grants,
		Payment: pay,
		Strict:  strict,
		Price:   0.001,
		Mint:    mintUSDC,
	})
	return fixture{grants: grants, gateway: gw}
}

func (f fixture) grant(t *testing.T, expiresAt int64) {
	t.Helper()
	_, err := f.grants.UpsertGrant(context.Background(), vault.Grant{
		Owner:     owner,
		Grantee:   grantee,
		ScopeHash: scopeHash,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		t.Fatalf("upsert grant: %v", err)
	}
}

func TestAuthorizeNoGrant(t *testing.T) {
	f := newFixture(t, false, nil)
	d := f.gateway.Authorize(context.Background(), owner, grantee, scopeHash, nil)
	if d.State != StateDenied || d.Reason != chain.ReasonGrantNotFound {
		t.Fatalf("decision: %+v", d)
	}
}

func TestAuthorizeChallenge(t *testing.T) {
	f := newFixture(t, false, nil)
	f.grant(t, 0)
	d := f.gateway.Authorize(context.Background(), owner, grantee, scopeHash, nil)
	if d.State != StatePaymentRequired {
		t.Fatalf("decision: %+v", d)
	}
	if d.Challenge == nil || d.Challenge.Amount != 0.001 || d.Challenge.Mint != mintUSDC {
		t.Fatalf("challenge: %+v", d.Challenge)
	}
	if d.Source != SourceLocal {
		t.Fatalf("source: %q", d.Source)
	}
}

func TestAuthorizeGranted(t *testing.T) {
	f := newFixture(t, false, transferTx(0.001))
	f.grant(t, 0)
	proof := &payment.Proof{TxSig: "5sig", Amount: "0.001", Recipient: grantee}
	d := f.gateway.Authorize(context.Background(), owner, grantee, scopeHash, proof)
	if d.State != StateGranted {
		t.Fatalf("decision: %+v", d)
	}
	if d.Payment == nil || !d.Payment.OK {
		t.Fatalf("payment: %+v", d.Payment)
	}
}

func TestAuthorizeRevoked(t *testing.T) {
	f := newFixture(t, false, nil)
	f.grant(t, 0)
	if err := f.grants.RevokeGrant(context.Background(), owner, grantee, scopeHash); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	d := f.gateway.Authorize(context.Background(), owner, grantee, scopeHash, nil)
	if d.State != StateDenied || d.Reason != chain.ReasonGrantRevoked {
		t.Fatalf("decision: %+v", d)
	}
}

func TestAuthorizeExpired(t *testing.T) {
	f := newFixture(t, false, nil)
	f.grant(t, time.Now().Add(-time.Hour).Unix())
	d := f.gateway.Authorize(context.Background(), owner, grantee, scopeHash, nil)
	if d.State != StateDenied || d.Reason != chain.ReasonGrantExpired {
		t.Fatalf("decision: %+v", d)
	}
}

func TestAuthorizeStrictFailsClosed(t *testing.T) {
	f := newFixture(t, true, nil)
	f.grant(t, 0)
	d := f.gateway.Authorize(context.Background(), owner, grantee, scopeHash, nil)
	if d.State != StateDenied || d.Reason != chain.ReasonNotConfigured {
		t.Fatalf("local grant must not satisfy strict mode: %+v", d)
	}
}

func TestAuthorizeMissingTxSig(t *testing.T) {
	f := newFixture(t, false, nil)
	f.grant(t, 0)
	d := f.gateway.Authorize(context.Background(), owner, grantee, scopeHash, &payment.Proof{})
	if d.State != StateDenied || d.Reason != payment.ReasonMissingTx {
		t.Fatalf("decision: %+v", d)
	}
}

func TestAuthorizeInvalidAmount(t *testing.T) {
	f := newFixture(t, false, nil)
	f.grant(t, 0)
	proof := &payment.Proof{TxSig: "5sig", Amount: "lots"}
	d := f.gateway.Authorize(context.Background(), owner, grantee, scopeHash, proof)
	if d.State != StateDenied || d.Reason != payment.ReasonInvalidAmount {
		t.Fatalf("decision: %+v", d)
	}
}

func TestAuthorizePaymentFailure(t *testing.T) {
	f := newFixture(t, false, transferTx(0.0001))
	f.grant(t, 0)
	proof := &payment.Proof{TxSig: "5sig", Amount: "0.001", Recipient: grantee}
	d := f.gateway.Authorize(context.Background(), owner, grantee, scopeHash, proof)
	if d.State != StateDenied {
		t.Fatalf("decision: %+v", d)
	}
	if d.Payment == nil || d.Payment.Reason != payment.ReasonMintAmountMismatch {
		t.Fatalf("payment: %+v", d.Payment)
	}
}
