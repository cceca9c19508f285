package chain

import (
	"encoding/binary"
	"fmt"
)

// Account records are fixed-offset little-endian layouts defined by the
// on-chain program. Each decoder declares its fields in order through a
// bounds-checked reader; offsets are never hand-computed so a layout change
// stays a one-line edit.

// GrantRecord mirrors the on-chain access grant account.
//
// Layout: 8-byte discriminator, owner (32), grantee (32), scope hash (32),
// expires_at (i64 LE), revoked (u8), created_at (i64 LE).
type GrantRecord struct {
	Owner     PublicKey
	Grantee   PublicKey
	ScopeHash [32]byte
	ExpiresAt int64
	Revoked   bool
	CreatedAt int64
}

// RevocationRecord mirrors the on-chain revocation registry account.
//
// Layout: 8-byte discriminator, grant address (32), revoked_at (i64 LE).
type RevocationRecord struct {
	Grant     PublicKey
	RevokedAt int64
}

const discriminatorLen = 8

type recordReader struct {
	buf []byte
	off int
	err error
}

func newRecordReader(buf []byte) *recordReader {
	return &recordReader{buf: buf}
}

func (r *recordReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = fmt.Errorf("chain: record truncated at offset %d (need %d bytes, have %d)", r.off, n, len(r.buf)-r.off)
		return nil
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out
}

func (r *recordReader) skip(n int) { r.take(n) }

func (r *recordReader) pubkey() PublicKey {
	var pk PublicKey
	copy(pk[:], r.take(32))
	return pk
}

func (r *recordReader) bytes32() [32]byte {
	var b [32]byte
	copy(b[:], r.take(32))
	return b
}

func (r *recordReader) i64() int64 {
	b := r.take(8)
	if r.err != nil {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(b))
}

func (r *recordReader) bool8() bool {
	b := r.take(1)
	if r.err != nil {
		return false
	}
	return b[0] != 0
}

// DecodeGrantRecord decodes a grant account's raw bytes.
func DecodeGrantRecord(data []byte) (GrantRecord, error) {
	r := newRecordReader(data)
	r.skip(discriminatorLen)
	rec := GrantRecord{
		Owner:     r.pubkey(),
		Grantee:   r.pubkey(),
		ScopeHash: r.bytes32(),
		ExpiresAt: r.i64(),
		Revoked:   r.bool8(),
		CreatedAt: r.i64(),
	}
	if r.err != nil {
		return GrantRecord{}, fmt.Errorf("decode grant record: %w", r.err)
	}
	return rec, nil
}

// DecodeRevocationRecord decodes a revocation registry account's raw bytes.
func DecodeRevocationRecord(data []byte) (RevocationRecord, error) {
	r := newRecordReader(data)
	r.skip(discriminatorLen)
	rec := RevocationRecord{
		Grant:     r.pubkey(),
		RevokedAt: r.i64(),
	}
	if r.err != nil {
		return RevocationRecord{}, fmt.Errorf("decode revocation record: %w", r.err)
	}
	return rec, nil
}
