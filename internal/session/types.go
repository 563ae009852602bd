package session

import (
	"maps"
	"slices"
	"time"
)

// Status is the position of a session in the relay state machine.
type Status string

// Status constants for the session state machine.
const (
	StatusPending    Status = "pending"
	StatusRedirected Status = "redirected"
	StatusCompleted  Status = "completed"
	StatusExpired    Status = "expired"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRedirected, StatusCompleted, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusExpired
}

func (s Status) String() string { return string(s) }

// Cookie is a single name/value pair forwarded on redirect.
type Cookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Payload is the creator-supplied part of a session.
type Payload struct {
	TargetURL string
	Cookies   []Cookie
	Metadata  map[string]string
}

// Session is a read-only snapshot of a relay session.
type Session struct {
	ID               string
	Status           Status
	CreatedAt        time.Time
	LastTransitionAt time.Time
	TargetURL        string
	Cookies          []Cookie
	Metadata         map[string]string
}

// Clone returns a deep copy so callers never share slices or maps with the
// store.
func (s Session) Clone() Session {
	s.Cookies = slices.Clone(s.Cookies)
	s.Metadata = maps.Clone(s.Metadata)
	return s
}

// Age returns how long ago the session was created relative to now.
func (s Session) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// Stats summarizes the sessions currently held by a store.
type Stats struct {
	Total      int
	ByStatus   map[Status]int
	PendingIDs []string
}

func newStats() Stats {
	return Stats{ByStatus: make(map[Status]int)}
}

func (st *Stats) add(s *Session) {
	st.Total++
	st.ByStatus[s.Status]++
	if s.Status == StatusPending {
		st.PendingIDs = append(st.PendingIDs, s.ID)
	}
}
