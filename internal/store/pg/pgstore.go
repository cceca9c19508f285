// Package pg implements the vault service over PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"echovault.org/internal/vault"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ vault.Service = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewStore(db), nil
}

// NewStore wraps an existing connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) InitVault(ctx context.Context, v vault.Vault) (vault.Vault, error) {
	if strings.TrimSpace(v.Owner) == "" || strings.TrimSpace(v.ContextURI) == "" {
		return vault.Vault{}, vault.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		insert into vaults(owner, context_uri, encrypted_blob)
		values ($1,$2,$3)
		on conflict (owner) do update
		set context_uri = excluded.context_uri,
		    encrypted_blob = excluded.encrypted_blob
	`, v.Owner, v.ContextURI, []byte(v.EncryptedBlob))
	if err != nil {
		return vault.Vault{}, err
	}
	return v, nil
}

func (s *Store) GetVault(ctx context.Context, owner string) (vault.Vault, error) {
	var v vault.Vault
	var blob []byte
	err := s.db.QueryRowContext(ctx, `
		select owner, context_uri, encrypted_blob from vaults where owner=$1
	`, owner).Scan(&v.Owner, &v.ContextURI, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return vault.Vault{}, vault.ErrVaultNotFound
	}
	if err != nil {
		return vault.Vault{}, err
	}
	v.EncryptedBlob = json.RawMessage(blob)
	return v, nil
}

func (s *Store) ListVaults(ctx context.Context, owner string) ([]vault.Vault, error) {
	rows, err := s.db.QueryContext(ctx, `
		select owner, context_uri, encrypted_blob
		from vaults
		where $1 = '' or owner = $1
		order by owner asc
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]vault.Vault, 0)
	for rows.Next() {
		var v vault.Vault
		var blob []byte
		if err := rows.Scan(&v.Owner, &v.ContextURI, &blob); err != nil {
			return nil, err
		}
		v.EncryptedBlob = json.RawMessage(blob)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) UpsertGrant(ctx context.Context, g vault.Grant) (vault.Grant, error) {
	if g.Owner == "" || g.Grantee == "" || g.ScopeHash == "" {
		return vault.Grant{}, vault.ErrInvalidInput
	}
	g.Revoked = false
	if g.CreatedAt == 0 {
		g.CreatedAt = s.now().Unix()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into grants(owner, grantee, scope_hash, expires_at, revoked, created_at)
		values ($1,$2,$3,$4,false,$5)
		on conflict (owner, grantee, scope_hash) do update
		set expires_at = excluded.expires_at,
		    revoked = false,
		    created_at = excluded.created_at
	`, g.Owner, g.Grantee, g.ScopeHash, g.ExpiresAt, g.CreatedAt)
	if err != nil {
		return vault.Grant{}, err
	}
	return g, nil
}

func (s *Store) RevokeGrant(ctx context.Context, owner, grantee, scopeHash string) error {
	res, err := s.db.ExecContext(ctx, `
		update grants set revoked = true
		where owner=$1 and grantee=$2 and scope_hash=$3
	`, owner, grantee, scopeHash)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return vault.ErrGrantNotFound
	}
	return nil
}

func (s *Store) GetGrant(ctx context.Context, owner, grantee, scopeHash string) (vault.Grant, error) {
	var g vault.Grant
	err := s.db.QueryRowContext(ctx, `
		select owner, grantee, scope_hash, expires_at, revoked, created_at
		from grants
		where owner=$1 and grantee=$2 and scope_hash=$3
	`, owner, grantee, scopeHash).Scan(&g.Owner, &g.Grantee, &g.ScopeHash, &g.ExpiresAt, &g.Revoked, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return vault.Grant{}, vault.ErrGrantNotFound
	}
	if err != nil {
		return vault.Grant{}, err
	}
	return g, nil
}

func (s *Store) ListGrants(ctx context.Context, f vault.GrantFilter) ([]vault.GrantWithStatus, error) {
	status, err := vault.ParseStatus(string(f.Status))
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select owner, grantee, scope_hash, expires_at, revoked, created_at
		from grants
		where ($1 = '' or owner = $1)
		  and ($2 = '' or grantee = $2)
	`, f.Owner, f.Grantee)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	// Status is derived from revoked/expires_at at read time, not stored.
	now := s.now()
	out := make([]vault.GrantWithStatus, 0)
	for rows.Next() {
		var g vault.Grant
		if err := rows.Scan(&g.Owner, &g.Grantee, &g.ScopeHash, &g.ExpiresAt, &g.Revoked, &g.CreatedAt); err != nil {
			return nil, err
		}
		st := g.StatusAt(now)
		if status != vault.StatusAll && st != status {
			continue
		}
		out = append(out, vault.GrantWithStatus{Grant: g, Status: st})
	}
	if err := rows.Err(); err != nil {
		return nil, err
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

func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `delete from grants`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from vaults`); err != nil {
		return err
	}
	return tx.Commit()
}
