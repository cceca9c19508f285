// Package httpapi exposes the vault, access, and audit operations over HTTP.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"echovault.org/internal/audit"
	"echovault.org/internal/gateway"
	"echovault.org/internal/obs"
	"echovault.org/internal/vault"
)

// ReadyProbe reports whether backing stores are reachable.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options wires the API's collaborators.
type Options struct {
	Grants      vault.Service
	Blobs       *vault.BlobStore
	Audit       *audit.Log
	Gateway     *gateway.Gateway
	Ready       ReadyProbe
	Version     string
	AdminSecret string
}

// API is the HTTP layer.
type API struct {
	mux         *http.ServeMux
	grants      vault.Service
	blobs       *vault.BlobStore
	trail       *audit.Log
	gw          *gateway.Gateway
	readyProbe  ReadyProbe
	version     string
	adminSecret []byte

	rateBurst  int
	ratePerSec int
}

func New(opts Options) *API {
	a := &API{
		mux:        http.NewServeMux(),
		grants:     opts.Grants,
		blobs:      opts.Blobs,
		trail:      opts.Audit,
		gw:         opts.Gateway,
		readyProbe: opts.Ready,
		version:    opts.Version,
		rateBurst:  50,
		ratePerSec: 25,
	}
	if s := strings.TrimSpace(opts.AdminSecret); s != "" {
		a.adminSecret = []byte(s)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.HandleFunc("/status", a.Status)

	// vaults and grants
	a.mux.HandleFunc("/vault/init", a.handleVaultInit)
	a.mux.HandleFunc("/vault/grant", a.handleGrant)
	a.mux.HandleFunc("/vault/revoke", a.handleRevoke)
	a.mux.HandleFunc("/vault/grants", a.handleGrantList)
	a.mux.HandleFunc("/vault/grants/summary", a.handleGrantSummary)
	a.mux.HandleFunc("/vault/", a.handleVaultResource)
	a.mux.HandleFunc("/vaults", a.handleVaultList)

	// access
	a.mux.HandleFunc("/context/preview", a.handleContextPreview)
	a.mux.HandleFunc("/context/request", a.handleContextRequest)

	// audit trail
	a.mux.HandleFunc("/audit", a.handleAudit)
	a.mux.HandleFunc("/audit/summary", a.handleAuditSummary)

	// destructive; guarded by admin token when a secret is configured
	a.mux.HandleFunc("/dev/reset", a.handleDevReset)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the server handler with the full middleware chain applied.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = obs.Instrument(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, 1<<20)
	h = Logging(h)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = RequestID(h)
	return h
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "echovault-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "echovault-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// Status reports store counts for operators.
func (a *API) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	vaults, err := a.grants.ListVaults(r.Context(), "")
	if err != nil {
		writeReason(w, http.StatusInternalServerError, "internal_error")
		return
	}
	grants, err := a.grants.ListGrants(r.Context(), vault.GrantFilter{})
	if err != nil {
		writeReason(w, http.StatusInternalServerError, "internal_error")
		return
	}
	revoked := 0
	for _, g := range grants {
		if g.Revoked {
			revoked++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"counts": map[string]int{
			"vaults":  len(vaults),
			"grants":  len(grants),
			"revoked": revoked,
		},
		"storage": a.storageKind(),
	})
}

func (a *API) storageKind() string {
	if a.blobs.Enabled() {
		return "filesystem"
	}
	return "memory"
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeReason emits the service's uniform refusal body.
func writeReason(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]any{
		"ok":     false,
		"reason": reason,
		"code":   reason,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeReason(w, http.StatusMethodNotAllowed, "method_not_allowed")
}

// parsePage validates limit/offset query values. A limit above the cap is
// clamped; -1 means "no limit was supplied".
func parsePage(q map[string][]string) (limit, offset int, reason string) {
	limit = -1
	if raw, ok := first(q, "limit"); ok {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return 0, 0, "invalid_limit"
		}
		if v > 500 {
			v = 500
		}
		limit = v
	}
	if raw, ok := first(q, "offset"); ok {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return 0, 0, "invalid_offset"
		}
		offset = v
	}
	return limit, offset, ""
}

func first(q map[string][]string, key string) (string, bool) {
	vs, ok := q[key]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// slicePage applies offset/limit to a length and returns the [lo, hi) window.
func slicePage(total, limit, offset int) (int, int) {
	lo := offset
	if lo > total {
		lo = total
	}
	hi := total
	if limit >= 0 && lo+limit < hi {
		hi = lo + limit
	}
	return lo, hi
}
