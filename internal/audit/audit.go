// Package audit keeps an append-only trail of vault actions queryable by
// owner, grantee, action and time window. Every recorded event is also
// emitted as a structured JSON log line.
package audit

import (
	"sort"
	"sync"
	"time"

	"echovault.org/internal/ids"
	"echovault.org/internal/obs"
)

// Actions recorded by the service.
const (
	ActionVaultInit      = "vault_init"
	ActionGrant          = "grant"
	ActionRevoke         = "revoke"
	ActionContextRequest = "context_request"
)

// Event is one audit trail entry. Timestamps are unix milliseconds.
type Event struct {
	ID        string         `json:"id"`
	TS        int64          `json:"ts"`
	Action    string         `json:"action"`
	Owner     string         `json:"owner,omitempty"`
	Grantee   string         `json:"grantee,omitempty"`
	ScopeHash string         `json:"scope_hash,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Filter narrows queries. Zero values match everything.
type Filter struct {
	Owner   string
	Grantee string
	Action  string
	Since   *int64
	Until   *int64
}

func (f Filter) matches(e Event) bool {
	if f.Owner != "" && e.Owner != f.Owner {
		return false
	}
	if f.Grantee != "" && e.Grantee != f.Grantee {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Since != nil && e.TS < *f.Since {
		return false
	}
	if f.Until != nil && e.TS > *f.Until {
		return false
	}
	return true
}

// Summary aggregates a filtered slice of the trail.
type Summary struct {
	Total  int            `json:"total"`
	Counts map[string]int `json:"counts"`
	Latest *Event         `json:"latest"`
}

// Log is the in-memory audit trail. Reads run concurrently.
type Log struct {
	mu     sync.RWMutex
	events []Event
	now    func() time.Time
}

// NewLog creates an empty trail.
func NewLog() *Log {
	return &Log{now: time.Now}
}

// Record appends an event, assigning its id and timestamp.
func (l *Log) Record(action, owner, grantee, scopeHash string, meta map[string]any) Event {
	e := Event{
		ID:        ids.New(),
		TS:        l.now().UnixMilli(),
		Action:    action,
		Owner:     owner,
		Grantee:   grantee,
		ScopeHash: scopeHash,
		Meta:      meta,
	}
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()

	obs.Log("audit", map[string]any{
		"type":    "audit",
		"event":   action,
		"owner":   owner,
		"grantee": grantee,
	})
	return e
}

// Query returns matching events, newest first.
func (l *Log) Query(f Filter) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Event, 0, len(l.events))
	for _, e := range l.events {
		if f.matches(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TS != out[j].TS {
			return out[i].TS > out[j].TS
		}
		// ULIDs are monotonic within a millisecond.
		return out[i].ID > out[j].ID
	})
	return out
}

// Summarize counts matching events per action.
func (l *Log) Summarize(f Filter) Summary {
	events := l.Query(f)
	s := Summary{Total: len(events), Counts: make(map[string]int)}
	for _, e := range events {
		s.Counts[e.Action]++
	}
	if len(events) > 0 {
		latest := events[0]
		s.Latest = &latest
	}
	return s
}

// Reset clears the trail.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}
