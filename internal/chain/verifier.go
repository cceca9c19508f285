package chain

import (
	"context"
	"sync"
	"time"
)

// Reason codes surfaced by on-chain validation. These travel to the HTTP
// boundary unchanged.
const (
	ReasonNotConfigured = "onchain_not_configured"
	ReasonGrantNotFound = "grant_not_found"
	ReasonGrantRevoked  = "grant_revoked"
	ReasonGrantExpired  = "grant_expired"
	ReasonRPCError      = "rpc_error"
)

// DefaultProgramID is the placeholder vault program identity used until a
// real deployment id is configured.
const DefaultProgramID = "HY9VEGWs42Kj62ogo8j9y22fT8EnjL6U5eoWLPWXoWPk"

// ValidateResult is the outcome of an on-chain grant lookup.
type ValidateResult struct {
	OK     bool
	Reason string
	Grant  *GrantRecord
}

func failure(reason string) ValidateResult {
	return ValidateResult{Reason: reason}
}

// Verifier resolves grants against the ledger. A nil RPC client means the
// on-chain path is not configured; Validate then reports the distinguished
// soft failure instead of "not found".
type Verifier struct {
	rpc       RPCClient
	programID PublicKey
	now       func() time.Time
}

// NewVerifier builds a verifier. rpc may be nil.
func NewVerifier(rpc RPCClient, programID PublicKey) *Verifier {
	return &Verifier{rpc: rpc, programID: programID, now: time.Now}
}

// Configured reports whether an RPC endpoint was wired in.
func (v *Verifier) Configured() bool {
	return v != nil && v.rpc != nil
}

// Validate resolves the grant for (owner, grantee, scope) and applies the
// status rules. Both revocation signals are checked: the grant's own flag
// and the standalone revocation record; either one denies. The two account
// reads are independent and issued concurrently.
func (v *Verifier) Validate(ctx context.Context, owner, grantee, scope string) ValidateResult {
	if !v.Configured() {
		return failure(ReasonNotConfigured)
	}

	ownerKey, err := PublicKeyFromBase58(owner)
	if err != nil {
		return failure(ReasonGrantNotFound)
	}
	granteeKey, err := PublicKeyFromBase58(grantee)
	if err != nil {
		return failure(ReasonGrantNotFound)
	}
	scopeHash, ok := ParseScopeHash(scope)
	if !ok {
		// Derivation impossible; indistinguishable from an absent grant.
		return failure(ReasonGrantNotFound)
	}

	grantAddr, err := DeriveGrantAddress(v.programID, ownerKey, granteeKey, scopeHash)
	if err != nil {
		return failure(ReasonGrantNotFound)
	}
	revokeAddr, err := DeriveRevokeAddress(v.programID, grantAddr)
	if err != nil {
		return failure(ReasonGrantNotFound)
	}

	var (
		wg                    sync.WaitGroup
		grantData, revokeData []byte
		grantErr, revokeErr   error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		grantData, grantErr = v.rpc.GetAccountInfo(ctx, grantAddr)
	}()
	go func() {
		defer wg.Done()
		revokeData, revokeErr = v.rpc.GetAccountInfo(ctx, revokeAddr)
	}()
	wg.Wait()

	if grantErr != nil || revokeErr != nil {
		return failure(ReasonRPCError)
	}
	if grantData == nil {
		return failure(ReasonGrantNotFound)
	}

	grant, err := DecodeGrantRecord(grantData)
	if err != nil {
		return failure(ReasonRPCError)
	}
	if grant.Revoked {
		return failure(ReasonGrantRevoked)
	}
	if grant.ExpiresAt != 0 && grant.ExpiresAt <= v.now().Unix() {
		return failure(ReasonGrantExpired)
	}
	// The revocation registry denies independently of the grant's own flag.
	if revokeData != nil {
		if _, err := DecodeRevocationRecord(revokeData); err != nil {
			return failure(ReasonRPCError)
		}
		return failure(ReasonGrantRevoked)
	}
	return ValidateResult{OK: true, Grant: &grant}
}
