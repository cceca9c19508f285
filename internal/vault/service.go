package vault

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Service defines grant repository and vault store operations.
type Service interface {
	InitVault(ctx context.Context, v Vault) (Vault, error)
	GetVault(ctx context.Context, owner string) (Vault, error)
	ListVaults(ctx context.Context, owner string) ([]Vault, error)

	// UpsertGrant inserts or replaces the grant at its key and clears any
	// prior revocation marker: a fresh grant supersedes a past revocation.
	UpsertGrant(ctx context.Context, g Grant) (Grant, error)
	// RevokeGrant marks a grant revoked. Idempotent; ErrGrantNotFound when
	// no grant exists at the key.
	RevokeGrant(ctx context.Context, owner, grantee, scopeHash string) error
	GetGrant(ctx context.Context, owner, grantee, scopeHash string) (Grant, error)
	ListGrants(ctx context.Context, f GrantFilter) ([]GrantWithStatus, error)

	Reset(ctx context.Context) error
}

// SummarizeGrants counts grants by computed status.
func SummarizeGrants(grants []Grant, now time.Time) StatusCounts {
	var c StatusCounts
	for _, g := range grants {
		switch g.StatusAt(now) {
		case StatusRevoked:
			c.Revoked++
		case StatusExpired:
			c.Expired++
		default:
			c.Active++
		}
	}
	return c
}

func grantKey(owner, grantee, scopeHash string) string {
	return owner + ":" + grantee + ":" + scopeHash
}

// InMemory implements Service with in-process concurrency safety.
// Reads run concurrently; writes are serialized per store.
type InMemory struct {
	mu     sync.RWMutex
	vaults map[string]Vault
	grants map[string]Grant
	now    func() time.Time
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		vaults: make(map[string]Vault),
		grants: make(map[string]Grant),
		now:    time.Now,
	}
}

var _ Service = (*InMemory)(nil)

func (s *InMemory) InitVault(ctx context.Context, v Vault) (Vault, error) {
	if strings.TrimSpace(v.Owner) == "" || strings.TrimSpace(v.ContextURI) == "" {
		return Vault{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vaults[v.Owner] = v
	return v, nil
}

func (s *InMemory) GetVault(ctx context.Context, owner string) (Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vaults[owner]
	if !ok {
		return Vault{}, ErrVaultNotFound
	}
	return v, nil
}

func (s *InMemory) ListVaults(ctx context.Context, owner string) ([]Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Vault, 0, len(s.vaults))
	for _, v := range s.vaults {
		if owner != "" && v.Owner != owner {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Owner < out[j].Owner })
	return out, nil
}

func (s *InMemory) UpsertGrant(ctx context.Context, g Grant) (Grant, error) {
	if g.Owner == "" || g.Grantee == "" || g.ScopeHash == "" {
		return Grant{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g.Revoked = false
	if g.CreatedAt == 0 {
		g.CreatedAt = s.now().Unix()
	}
	s.grants[grantKey(g.Owner, g.Grantee, g.ScopeHash)] = g
	return g, nil
}

func (s *InMemory) RevokeGrant(ctx context.Context, owner, grantee, scopeHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := grantKey(owner, grantee, scopeHash)
	g, ok := s.grants[key]
	if !ok {
		return ErrGrantNotFound
	}
	g.Revoked = true
	s.grants[key] = g
	return nil
}

func (s *InMemory) GetGrant(ctx context.Context, owner, grantee, scopeHash string) (Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grants[grantKey(owner, grantee, scopeHash)]
	if !ok {
		return Grant{}, ErrGrantNotFound
	}
	return g, nil
}

func (s *InMemory) ListGrants(ctx context.Context, f GrantFilter) ([]GrantWithStatus, error) {
	status, err := ParseStatus(string(f.Status))
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	out := make([]GrantWithStatus, 0, len(s.grants))
	for _, g := range s.grants {
		if f.Owner != "" && g.Owner != f.Owner {
			continue
		}
		if f.Grantee != "" && g.Grantee != f.Grantee {
			continue
		}
		st := g.StatusAt(now)
		if status != StatusAll && st != status {
			continue
		}
		out = append(out, GrantWithStatus{Grant: g, Status: st})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Owner != out[j].Owner {
			return out[i].Owner < out[j].Owner
		}
		if out[i].Grantee != out[j].Grantee {
			return out[i].Grantee < out[j].Grantee
		}
		return out[i].ScopeHash < out[j].ScopeHash
	})
	return out, nil
}

func (s *InMemory) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vaults = make(map[string]Vault)
	s.grants = make(map[string]Grant)
	return nil
}
