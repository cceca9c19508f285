package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"echovault.org/internal/auth"
	"echovault.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// handleDevReset clears every store. With an admin secret configured the
// caller must present a valid admin token; without one the endpoint is open
// for local development.
func (a *API) handleDevReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if len(a.adminSecret) > 0 {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeReason(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims, err := auth.ParseAndValidate(a.adminSecret, token)
		if err != nil {
			writeReason(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		if !claims.HasRole("admin") {
			writeReason(w, http.StatusForbidden, "forbidden")
			return
		}
	}

	if err := a.grants.Reset(r.Context()); err != nil {
		writeReason(w, http.StatusInternalServerError, "internal_error")
		return
	}
	a.trail.Reset()
	obs.Log("dev_reset", nil)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
