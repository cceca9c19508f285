package vault

import (
	"encoding/json"
	"errors"
	"time"
)

// Status is computed from a grant's stored fields, never stored itself.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
	StatusExpired Status = "expired"

	// StatusAll is accepted as a list filter and matches every grant.
	StatusAll Status = "all"
)

// ParseStatus validates a status filter value. Empty input means "no filter".
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case "", StatusAll:
		return StatusAll, nil
	case StatusActive, StatusRevoked, StatusExpired:
		return Status(s), nil
	}
	return "", ErrInvalidStatus
}

// Grant permits a grantee to access an owner's scoped content until it is
// revoked or expires. Keyed by (owner, grantee, scope_hash).
type Grant struct {
	Owner     string `json:"owner"`
	Grantee   string `json:"grantee"`
	ScopeHash string `json:"scope_hash"`
	ExpiresAt int64  `json:"expires_at"` // unix seconds; 0 means never
	Revoked   bool   `json:"revoked"`
	CreatedAt int64  `json:"created_at"`
}

// StatusAt derives the grant's status at the given instant.
// Revocation wins over expiry.
func (g Grant) StatusAt(now time.Time) Status {
	if g.Revoked {
		return StatusRevoked
	}
	if g.ExpiresAt != 0 && now.Unix() > g.ExpiresAt {
		return StatusExpired
	}
	return StatusActive
}

// GrantWithStatus is a grant with its computed status attached for listings.
type GrantWithStatus struct {
	Grant
	Status Status `json:"status"`
}

// Vault holds an owner's encrypted context reference.
type Vault struct {
	Owner         string          `json:"owner"`
	ContextURI    string          `json:"context_uri"`
	EncryptedBlob json.RawMessage `json:"encrypted_blob"`
}

// StatusCounts summarizes grants by computed status.
type StatusCounts struct {
	Active  int `json:"active"`
	Revoked int `json:"revoked"`
	Expired int `json:"expired"`
}

// GrantFilter narrows ListGrants. Zero values match everything.
type GrantFilter struct {
	Owner   string
	Grantee string
	Status  Status
}

var (
	ErrGrantNotFound = errors.New("vault: grant not found")
	ErrVaultNotFound = errors.New("vault: vault not found")
	ErrInvalidStatus = errors.New("vault: invalid status")
	ErrInvalidInput  = errors.New("vault: invalid input")
)
