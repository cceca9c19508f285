package httpapi

import (
	"net/http"

	"echovault.org/internal/audit"
	"echovault.org/internal/gateway"
	"echovault.org/internal/obs"
	"echovault.org/internal/payment"
)

type contextRequestBody struct {
	Owner     string         `json:"owner"`
	Grantee   string         `json:"grantee"`
	ScopeHash string         `json:"scope_hash"`
	Payment   *payment.Proof `json:"payment,omitempty"`
}

// reasonStatus maps a denial reason to its HTTP status.
func reasonStatus(reason string) int {
	switch reason {
	case payment.ReasonMissingTx, payment.ReasonInvalidAmount:
		return http.StatusBadRequest
	default:
		return http.StatusForbidden
	}
}

func (a *API) handleContextPreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req contextRequestBody
	if err := decodeJSON(w, r, &req); err != nil {
		writeReason(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if req.Owner == "" || req.Grantee == "" || req.ScopeHash == "" {
		writeReason(w, http.StatusBadRequest, "missing_fields")
		return
	}

	source, reason := a.gw.Check(r.Context(), req.Owner, req.Grantee, req.ScopeHash)
	if reason != "" {
		writeReason(w, http.StatusForbidden, reason)
		return
	}

	preview := map[string]any{
		"owner":      req.Owner,
		"grantee":    req.Grantee,
		"scope_hash": req.ScopeHash,
		"source":     source,
	}
	if source == gateway.SourceOnchain {
		preview["context_uri"] = "onchain"
		preview["byte_length"] = 0
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "preview": preview})
		return
	}

	v, err := a.grants.GetVault(r.Context(), req.Owner)
	if err != nil {
		writeReason(w, http.StatusNotFound, "vault_not_found")
		return
	}
	blob := v.EncryptedBlob
	if stored, err := a.blobs.Fetch(v.Owner, v.ContextURI); err == nil && stored != nil {
		blob = stored
	}
	preview["context_uri"] = v.ContextURI
	preview["byte_length"] = len(blob)
	preview["storage"] = a.storageKind()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "preview": preview})
}

func (a *API) handleContextRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req contextRequestBody
	if err := decodeJSON(w, r, &req); err != nil {
		writeReason(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if req.Owner == "" || req.Grantee == "" || req.ScopeHash == "" {
		writeReason(w, http.StatusBadRequest, "missing_fields")
		return
	}

	d := a.gw.Authorize(r.Context(), req.Owner, req.Grantee, req.ScopeHash, req.Payment)
	switch d.State {
	case gateway.StatePaymentRequired:
		writeJSON(w, http.StatusPaymentRequired, d.Challenge)
		return
	case gateway.StateDenied:
		if d.Payment != nil {
			// Payment verification failed; return the verify result so the
			// caller can correct the proof and retry.
			writeJSON(w, http.StatusPaymentRequired, map[string]any{
				"ok":     false,
				"reason": d.Payment.Reason,
				"mint":   d.Payment.Mint,
				"code":   d.Payment.Reason,
			})
			return
		}
		writeReason(w, reasonStatus(d.Reason), d.Reason)
		return
	}

	v, err := a.grants.GetVault(r.Context(), req.Owner)
	if err != nil {
		writeReason(w, http.StatusNotFound, "vault_not_found")
		return
	}
	blob := v.EncryptedBlob
	if stored, err := a.blobs.Fetch(v.Owner, v.ContextURI); err != nil {
		obs.Log("blob_fetch_failed", map[string]any{"owner": v.Owner, "error": err.Error()})
	} else if stored != nil {
		blob = stored
	}

	a.trail.Record(audit.ActionContextRequest, req.Owner, req.Grantee, req.ScopeHash, map[string]any{
		"payment": d.Payment,
		"source":  d.Source,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":             true,
		"context_uri":    v.ContextURI,
		"encrypted_blob": blob,
		"meta": map[string]any{
			"owner":      req.Owner,
			"grantee":    req.Grantee,
			"scope_hash": req.ScopeHash,
			"payment":    d.Payment,
			"source":     d.Source,
		},
	})
}
