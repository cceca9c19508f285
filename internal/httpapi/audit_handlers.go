package httpapi

import (
	"net/http"
	"net/url"
	"strconv"

	"echovault.org/internal/audit"
)

func auditFilter(q url.Values) (audit.Filter, string) {
	f := audit.Filter{
		Owner:   q.Get("owner"),
		Grantee: q.Get("grantee"),
		Action:  q.Get("action"),
	}
	if raw, ok := first(q, "since"); ok {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return audit.Filter{}, "invalid_since"
		}
		f.Since = &v
	}
	if raw, ok := first(q, "until"); ok {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return audit.Filter{}, "invalid_until"
		}
		f.Until = &v
	}
	return f, ""
}

func (a *API) handleAudit(w http.ResponseWriter, r *http.Request) {
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
	if limit < 0 {
		limit = 100
	}
	f, reason := auditFilter(q)
	if reason != "" {
		writeReason(w, http.StatusBadRequest, reason)
		return
	}

	events := a.trail.Query(f)
	total := len(events)
	lo, hi := slicePage(total, limit, offset)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"total":  total,
		"offset": offset,
		"limit":  limit,
		"events": events[lo:hi],
	})
}

func (a *API) handleAuditSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	f, reason := auditFilter(r.URL.Query())
	if reason != "" {
		writeReason(w, http.StatusBadRequest, reason)
		return
	}
	s := a.trail.Summarize(f)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"total":  s.Total,
		"counts": s.Counts,
		"latest": s.Latest,
	})
}
