package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"echovault.org/internal/audit"
	"echovault.org/internal/obs"
	"echovault.org/internal/payment"
	"echovault.org/internal/vault"
)

type vaultInitRequest struct {
	Owner         string          `json:"owner"`
	ContextURI    string          `json:"context_uri"`
	EncryptedBlob json.RawMessage `json:"encrypted_blob"`
}

type vaultWithStorage struct {
	vault.Vault
	Storage *string `json:"storage"`
}

type grantRequest struct {
	Owner     string             `json:"owner"`
	Grantee   string             `json:"grantee"`
	ScopeHash string             `json:"scope_hash"`
	ExpiresAt payment.FlexNumber `json:"expires_at,omitempty"`
}

type revokeRequest struct {
	Owner     string `json:"owner"`
	Grantee   string `json:"grantee"`
	ScopeHash string `json:"scope_hash"`
}

func (a *API) handleVaultInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req vaultInitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeReason(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if strings.TrimSpace(req.Owner) == "" {
		writeReason(w, http.StatusBadRequest, "missing_owner")
		return
	}
	if strings.TrimSpace(req.ContextURI) == "" {
		writeReason(w, http.StatusBadRequest, "missing_context_uri")
		return
	}
	if len(req.EncryptedBlob) == 0 || string(req.EncryptedBlob) == "null" {
		writeReason(w, http.StatusBadRequest, "missing_encrypted_blob")
		return
	}

	v, err := a.grants.InitVault(r.Context(), vault.Vault{
		Owner:         req.Owner,
		ContextURI:    req.ContextURI,
		EncryptedBlob: req.EncryptedBlob,
	})
	if err != nil {
		writeReason(w, http.StatusBadRequest, "invalid_body")
		return
	}

	a.trail.Record(audit.ActionVaultInit, v.Owner, "", "", map[string]any{
		"context_uri": v.ContextURI,
	})

	resp := vaultWithStorage{Vault: v}
	if location, err := a.blobs.Store(v.Owner, v.ContextURI, v.EncryptedBlob); err != nil {
		obs.Log("blob_store_failed", map[string]any{"owner": v.Owner, "error": err.Error()})
	} else if location != "" {
		resp.Storage = &location
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "vault": resp})
}

func (a *API) handleVaultResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	owner := strings.TrimPrefix(r.URL.Path, "/vault/")
	if owner == "" || strings.Contains(owner, "/") {
		writeReason(w, http.StatusNotFound, "vault_not_found")
		return
	}
	v, err := a.grants.GetVault(r.Context(), owner)
	if err != nil {
		writeReason(w, http.StatusNotFound, "vault_not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "vault": v})
}

func (a *API) handleVaultList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	q := r.URL.Query()
	limit, offset, reason := parsePage(q)
	if reason != "" {
		writeReason(w, http.StatusBadRequest, reason)
		return
	}
	owner, _ := first(q, "owner")

	vaults, err := a.grants.ListVaults(r.Context(), owner)
	if err != nil {
		writeReason(w, http.StatusInternalServerError, "internal_error")
		return
	}
	total := len(vaults)
	lo, hi := slicePage(total, limit, offset)

	items := make([]map[string]any, 0, hi-lo)
	for _, v := range vaults[lo:hi] {
		grants, err := a.grants.ListGrants(r.Context(), vault.GrantFilter{Owner: v.Owner})
		if err != nil {
			writeReason(w, http.StatusInternalServerError, "internal_error")
			return
		}
		items = append(items, map[string]any{
			"owner":       v.Owner,
			"context_uri": v.ContextURI,
			"storage":     a.storageKind(),
			"grants": map[string]any{
				"total":  len(grants),
				"counts": summarize(grants),
			},
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"total":  total,
		"offset": offset,
		"limit":  limitOrNull(limit),
		"vaults": items,
	})
}

func (a *API) handleGrant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req grantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeReason(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if req.Owner == "" || req.Grantee == "" || req.ScopeHash == "" {
		writeReason(w, http.StatusBadRequest, "missing_fields")
		return
	}

	// Non-numeric expiry collapses to "never", matching the lenient intake.
	var expiresAt int64
	if req.ExpiresAt.IsSet() {
		if f, err := req.ExpiresAt.Float(); err == nil {
			expiresAt = int64(f)
		}
	}

	g, err := a.grants.UpsertGrant(r.Context(), vault.Grant{
		Owner:     req.Owner,
		Grantee:   req.Grantee,
		ScopeHash: req.ScopeHash,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		writeReason(w, http.StatusBadRequest, "missing_fields")
		return
	}

	a.trail.Record(audit.ActionGrant, g.Owner, g.Grantee, g.ScopeHash, map[string]any{
		"expires_at": g.ExpiresAt,
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "grant": g})
}

func (a *API) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req revokeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeReason(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if req.Owner == "" || req.Grantee == "" || req.ScopeHash == "" {
		writeReason(w, http.StatusBadRequest, "missing_fields")
		return
	}

	err := a.grants.RevokeGrant(r.Context(), req.Owner, req.Grantee, req.ScopeHash)
	if errors.Is(err, vault.ErrGrantNotFound) {
		writeReason(w, http.StatusNotFound, "grant_not_found")
		return
	}
	if err != nil {
		writeReason(w, http.StatusInternalServerError, "internal_error")
		return
	}

	a.trail.Record(audit.ActionRevoke, req.Owner, req.Grantee, req.ScopeHash, nil)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "revoked": true})
}

func (a *API) handleGrantList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	q := r.URL.Query()
	status, err := vault.ParseStatus(q.Get("status"))
	if err != nil {
		writeReason(w, http.StatusBadRequest, "invalid_status")
		return
	}
	limit, offset, reason := parsePage(q)
	if reason != "" {
		writeReason(w, http.StatusBadRequest, reason)
		return
	}

	grants, err := a.grants.ListGrants(r.Context(), vault.GrantFilter{
		Owner:   q.Get("owner"),
		Grantee: q.Get("grantee"),
		Status:  status,
	})
	if err != nil {
		writeReason(w, http.StatusInternalServerError, "internal_error")
		return
	}
	total := len(grants)
	lo, hi := slicePage(total, limit, offset)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"total":  total,
		"offset": offset,
		"limit":  limitOrNull(limit),
		"grants": grants[lo:hi],
	})
}

func (a *API) handleGrantSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	q := r.URL.Query()
	grants, err := a.grants.ListGrants(r.Context(), vault.GrantFilter{
		Owner:   q.Get("owner"),
		Grantee: q.Get("grantee"),
	})
	if err != nil {
		writeReason(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"total":  len(grants),
		"counts": summarize(grants),
	})
}

func summarize(grants []vault.GrantWithStatus) vault.StatusCounts {
	var c vault.StatusCounts
	for _, g := range grants {
		switch g.Status {
		case vault.StatusRevoked:
			c.Revoked++
		case vault.StatusExpired:
			c.Expired++
		default:
			c.Active++
		}
	}
	return c
}

func limitOrNull(limit int) any {
	if limit < 0 {
		return nil
	}
	return limit
}
