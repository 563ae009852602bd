package protocol

import "time"

// CreateSessionRequest is the body of POST /api/sessions. UserID,
// TransactionID and UserIP are folded into Metadata under the same names.
type CreateSessionRequest struct {
	TargetURL     string            `json:"target_url"`
	Cookies       []string          `json:"cookies"`
	Metadata      map[string]string `json:"metadata"`
	UserID        string            `json:"user_id,omitempty"`
	TransactionID string            `json:"transaction_id,omitempty"`
	UserIP        string            `json:"user_ip,omitempty"`
}

// MergedMetadata returns Metadata with the top-level identity fields added.
// Explicit metadata entries win.
func (r CreateSessionRequest) MergedMetadata() map[string]string {
	md := make(map[string]string, len(r.Metadata)+3)
	for k, v := range map[string]string{
		"user_id":        r.UserID,
		"transaction_id": r.TransactionID,
		"user_ip":        r.UserIP,
	} {
		if v != "" {
			md[k] = v
		}
	}
	for k, v := range r.Metadata {
		md[k] = v
	}
	return md
}

// CreateSessionResponse is returned with 201 Created.
type CreateSessionResponse struct {
	Success   bool      `json:"success"`
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// StatusResponse is returned by the status polling endpoint.
type StatusResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Completed bool   `json:"completed"`
}

// SessionResponse is the full session view returned by GET /api/sessions/{id}.
type SessionResponse struct {
	Success          bool              `json:"success"`
	SessionID        string            `json:"session_id"`
	Status           string            `json:"status"`
	Completed        bool              `json:"completed"`
	CreatedAt        time.Time         `json:"created_at"`
	LastTransitionAt time.Time         `json:"last_transition_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	TargetURL        string            `json:"target_url,omitempty"`
	CookieCount      int               `json:"cookie_count"`
	Metadata         map[string]string `json:"metadata"`
}

// Cookie is a forwarded cookie in JSON form.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
}

// ForwardResponse is the JSON form of a redirect.
type ForwardResponse struct {
	Success   bool     `json:"success"`
	SessionID string   `json:"session_id"`
	TargetURL string   `json:"target_url"`
	Cookies   []Cookie `json:"cookies"`
}

// CompleteResponse acknowledges MarkComplete.
type CompleteResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// ActiveSessionsResponse lists pending sessions and per-status counts.
type ActiveSessionsResponse struct {
	Success    bool           `json:"success"`
	Total      int            `json:"total"`
	Count      int            `json:"count"`
	PendingIDs []string       `json:"pending_ids"`
	ByStatus   map[string]int `json:"by_status"`
}

// InfoResponse is served at "/".
type InfoResponse struct {
	Service           string `json:"service"`
	Status            string `json:"status"`
	Version           string `json:"version"`
	ActiveSessions    int    `json:"active_sessions"`
	CompletedSessions int    `json:"completed_sessions"`
}

// HealthResponse is served at /health and /api/health.
type HealthResponse struct {
	Status        string    `json:"status"`
	Backend       string    `json:"backend"`
	Environment   string    `json:"environment,omitempty"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Time          time.Time `json:"time"`
	Error         string    `json:"error,omitempty"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}
