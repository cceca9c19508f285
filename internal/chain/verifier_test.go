package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"
)

// fakeRPC serves canned account data keyed by address.
type fakeRPC struct {
	accounts map[PublicKey][]byte
	err      error
}

func (f *fakeRPC) GetAccountInfo(ctx context.Context, address PublicKey) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.accounts[address], nil
}

func (f *fakeRPC) GetSignatureStatus(ctx context.Context, sig string) (bool, error) {
	return false, errors.New("not implemented")
}

func (f *fakeRPC) GetTransaction(ctx context.Context, sig string) (*Transaction, error) {
	return nil, errors.New("not implemented")
}

type grantFixture struct {
	programID  PublicKey
	owner      PublicKey
	grantee    PublicKey
	scope      []byte
	grantAddr  PublicKey
	revokeAddr PublicKey
}

func newGrantFixture(t *testing.T) grantFixture {
	t.Helper()
	f := grantFixture{
		programID: testProgramID(t),
		owner:     PublicKey{0x11},
		grantee:   PublicKey{0x22},
		scope:     make([]byte, 32),
	}
	for i := range f.scope {
		f.scope[i] = 0x33
	}
	var err error
	f.grantAddr, err = DeriveGrantAddress(f.programID, f.owner, f.grantee, f.scope)
	if err != nil {
		t.Fatalf("derive grant: %v", err)
	}
	f.revokeAddr, err = DeriveRevokeAddress(f.programID, f.grantAddr)
	if err != nil {
		t.Fatalf("derive revoke: %v", err)
	}
	return f
}

func (f grantFixture) record(expiresAt int64, revoked bool) []byte {
	var scope [32]byte
	copy(scope[:], f.scope)
	return encodeGrantRecord(GrantRecord{
		Owner:     f.owner,
		Grantee:   f.grantee,
		ScopeHash: scope,
		ExpiresAt: expiresAt,
		Revoked:   revoked,
		CreatedAt: 1_700_000_000,
	})
}

func (f grantFixture) validate(t *testing.T, rpc RPCClient) ValidateResult {
	t.Helper()
	v := NewVerifier(rpc, f.programID)
	v.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return v.Validate(context.Background(), f.owner.String(), f.grantee.String(), "0x"+hex.EncodeToString(f.scope))
}

func TestValidateNotConfigured(t *testing.T) {
	f := newGrantFixture(t)
	res := f.validate(t, nil)
	if res.OK || res.Reason != ReasonNotConfigured {
		t.Fatalf("result = %+v", res)
	}
}

func TestValidateGrantNotFound(t *testing.T) {
	f := newGrantFixture(t)
	res := f.validate(t, &fakeRPC{accounts: map[PublicKey][]byte{}})
	if res.OK || res.Reason != ReasonGrantNotFound {
		t.Fatalf("result = %+v", res)
	}
}

func TestValidateUnparsableScope(t *testing.T) {
	f := newGrantFixture(t)
	v := NewVerifier(&fakeRPC{}, f.programID)
	res := v.Validate(context.Background(), f.owner.String(), f.grantee.String(), "not-a-scope!")
	if res.OK || res.Reason != ReasonGrantNotFound {
		t.Fatalf("result = %+v", res)
	}
}

func TestValidateRevokedFlag(t *testing.T) {
	f := newGrantFixture(t)
	rpc := &fakeRPC{accounts: map[PublicKey][]byte{
		f.grantAddr: f.record(0, true),
	}}
	res := f.validate(t, rpc)
	if res.OK || res.Reason != ReasonGrantRevoked {
		t.Fatalf("result = %+v", res)
	}
}

func TestValidateExpired(t *testing.T) {
	f := newGrantFixture(t)
	rpc := &fakeRPC{accounts: map[PublicKey][]byte{
		f.grantAddr: f.record(1_600_000_000, false),
	}}
	res := f.validate(t, rpc)
	if res.OK || res.Reason != ReasonGrantExpired {
		t.Fatalf("result = %+v", res)
	}
}

func TestValidateRevocationRecordWinsOverCleanFlag(t *testing.T) {
	f := newGrantFixture(t)
	rpc := &fakeRPC{accounts: map[PublicKey][]byte{
		f.grantAddr:  f.record(0, false),
		f.revokeAddr: encodeRevocationRecord(RevocationRecord{Grant: f.grantAddr, RevokedAt: 1}),
	}}
	res := f.validate(t, rpc)
	if res.OK || res.Reason != ReasonGrantRevoked {
		t.Fatalf("result = %+v", res)
	}
}

func TestValidateSuccess(t *testing.T) {
	f := newGrantFixture(t)
	rpc := &fakeRPC{accounts: map[PublicKey][]byte{
		f.grantAddr: f.record(1_800_000_000, false),
	}}
	res := f.validate(t, rpc)
	if !res.OK {
		t.Fatalf("result = %+v", res)
	}
	if res.Grant == nil || res.Grant.Owner != f.owner || res.Grant.ExpiresAt != 1_800_000_000 {
		t.Fatalf("grant = %+v", res.Grant)
	}
}

func TestValidateRPCError(t *testing.T) {
	f := newGrantFixture(t)
	res := f.validate(t, &fakeRPC{err: errors.New("connection refused")})
	if res.OK || res.Reason != ReasonRPCError {
		t.Fatalf("result = %+v", res)
	}
}
