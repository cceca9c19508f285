package chain

import (
	"encoding/hex"
	"strings"

	"github.com/mr-tron/base58"
)

const scopeHashLen = 32

// ParseScopeHash normalizes a scope identifier into its raw 32-byte value.
// Three encodings are accepted and normalize identically: a 64-character hex
// string (optionally 0x-prefixed), and a base58 identity string. Anything
// else is unparsable, which callers treat as "no address can be derived"
// rather than an error.
func ParseScopeHash(scope string) ([]byte, bool) {
	if scope == "" {
		return nil, false
	}
	h := strings.TrimPrefix(scope, "0x")
	if len(h) == 2*scopeHashLen {
		if raw, err := hex.DecodeString(h); err == nil {
			return raw, true
		}
	}
	if raw, err := base58.Decode(scope); err == nil && len(raw) == scopeHashLen {
		return raw, true
	}
	return nil, false
}

// ScopeHashFromBytes normalizes an already-raw scope value.
func ScopeHashFromBytes(b []byte) ([]byte, bool) {
	if len(b) != scopeHashLen {
		return nil, false
	}
	out := make([]byte, scopeHashLen)
	copy(out, b)
	return out, true
}
