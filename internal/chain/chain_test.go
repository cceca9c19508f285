package chain

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"testing"
)

func testProgramID(t *testing.T) PublicKey {
	t.Helper()
	pk, err := PublicKeyFromBase58(DefaultProgramID)
	if err != nil {
		t.Fatalf("program id: %v", err)
	}
	return pk
}

func TestFindProgramAddressDeterministic(t *testing.T) {
	programID := testProgramID(t)
	owner := PublicKey{1, 2, 3}
	grantee := PublicKey{4, 5, 6}
	scope := bytes.Repeat([]byte{7}, 32)

	first, err := DeriveGrantAddress(programID, owner, grantee, scope)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := DeriveGrantAddress(programID, owner, grantee, scope)
		if err != nil {
			t.Fatalf("derive #%d: %v", i, err)
		}
		if again != first {
			t.Fatalf("derivation not deterministic: %s vs %s", again, first)
		}
	}
	if first.IsOnCurve() {
		t.Fatalf("derived address %s lies on the curve", first)
	}

	// Any seed change must move the address.
	other, err := DeriveGrantAddress(programID, owner, PublicKey{9}, scope)
	if err != nil {
		t.Fatalf("derive other: %v", err)
	}
	if other == first {
		t.Fatalf("different grantee produced the same address")
	}

	revoke, err := DeriveRevokeAddress(programID, first)
	if err != nil {
		t.Fatalf("derive revoke: %v", err)
	}
	if revoke == first {
		t.Fatalf("revoke address equals grant address")
	}
}

func TestParseScopeHashEncodings(t *testing.T) {
	raw := bytes.Repeat([]byte{0xab}, 32)
	hexForm := hex.EncodeToString(raw)

	fromHex, ok := ParseScopeHash(hexForm)
	if !ok {
		t.Fatalf("hex form rejected")
	}
	fromPrefixed, ok := ParseScopeHash("0x" + hexForm)
	if !ok {
		t.Fatalf("0x form rejected")
	}
	fromBytes, ok := ScopeHashFromBytes(raw)
	if !ok {
		t.Fatalf("raw form rejected")
	}
	if !bytes.Equal(fromHex, raw) || !bytes.Equal(fromPrefixed, raw) || !bytes.Equal(fromBytes, raw) {
		t.Fatalf("encodings disagree")
	}

	// Base58 identity strings decode to their raw bytes.
	key := PublicKey{0xab}
	fromB58, ok := ParseScopeHash(key.String())
	if !ok {
		t.Fatalf("base58 form rejected")
	}
	if !bytes.Equal(fromB58, key.Bytes()) {
		t.Fatalf("base58 normalization mismatch")
	}

	for _, bad := range []string{"", "zz", "0x1234", "not-a-scope!", hexForm[:62]} {
		if _, ok := ParseScopeHash(bad); ok {
			t.Fatalf("ParseScopeHash(%q) accepted", bad)
		}
	}
	if _, ok := ScopeHashFromBytes(raw[:31]); ok {
		t.Fatalf("31-byte scope accepted")
	}
}

func encodeGrantRecord(g GrantRecord) []byte {
	buf := make([]byte, 0, 121)
	buf = append(buf, bytes.Repeat([]byte{0xee}, 8)...) // discriminator
	buf = append(buf, g.Owner[:]...)
	buf = append(buf, g.Grantee[:]...)
	buf = append(buf, g.ScopeHash[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(g.ExpiresAt))
	if g.Revoked {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.LittleEndian.AppendUint64(buf, uint64(g.CreatedAt))
	return buf
}

func encodeRevocationRecord(r RevocationRecord) []byte {
	buf := make([]byte, 0, 48)
	buf = append(buf, bytes.Repeat([]byte{0xee}, 8)...)
	buf = append(buf, r.Grant[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(r.RevokedAt))
	return buf
}

func TestDecodeGrantRecord(t *testing.T) {
	want := GrantRecord{
		Owner:     PublicKey{1},
		Grantee:   PublicKey{2},
		ScopeHash: [32]byte{3},
		ExpiresAt: -42, // i64 is signed
		Revoked:   true,
		CreatedAt: 1_700_000_000,
	}
	got, err := DecodeGrantRecord(encodeGrantRecord(want))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Fatalf("decode mismatch:\n got %+v\nwant %+v", got, want)
	}

	if _, err := DecodeGrantRecord(encodeGrantRecord(want)[:50]); err == nil {
		t.Fatalf("truncated record decoded")
	}
}

func TestDecodeRevocationRecord(t *testing.T) {
	want := RevocationRecord{Grant: PublicKey{9, 9}, RevokedAt: 123456}
	got, err := DecodeRevocationRecord(encodeRevocationRecord(want))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Fatalf("decode mismatch: %+v", got)
	}
	if _, err := DecodeRevocationRecord([]byte{1, 2, 3}); err == nil {
		t.Fatalf("short record decoded")
	}
}
