package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/handoff/relay/internal/protocol"
	"github.com/handoff/relay/internal/relay"
	"github.com/handoff/relay/internal/session"
)

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	st, err := s.gateway.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.InfoResponse{
		Service:           s.opts.Service,
		Status:            "running",
		Version:           s.opts.Version,
		ActiveSessions:    st.ByStatus[session.StatusPending] + st.ByStatus[session.StatusRedirected],
		CompletedSessions: st.ByStatus[session.StatusCompleted],
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := protocol.HealthResponse{
		Status:        "ok",
		Backend:       s.opts.Backend,
		Environment:   s.opts.Environment,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Time:          time.Now().UTC(),
	}

	if s.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ping(ctx); err != nil {
			resp.Status = "unavailable"
			resp.Error = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateSessionRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSONError(w, http.StatusBadRequest, codeValidation, "request body must be a JSON object")
		return
	}

	metadata := req.MergedMetadata()
	if _, ok := metadata["client_ip"]; !ok && len(metadata) < relay.MaxMetadataEntries {
		metadata["client_ip"] = clientIP(r)
	}

	sess, err := s.gateway.CreateSession(r.Context(), relay.CreateRequest{
		TargetURL: req.TargetURL,
		Cookies:   req.Cookies,
		Metadata:  metadata,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, protocol.CreateSessionResponse{
		Success:   true,
		SessionID: sess.ID,
		Status:    sess.Status.String(),
		CreatedAt: sess.CreatedAt.UTC(),
	})
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	st, err := s.gateway.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	byStatus := make(map[string]int, len(st.ByStatus))
	for status, n := range st.ByStatus {
		byStatus[status.String()] = n
	}
	pending := st.PendingIDs
	if pending == nil {
		pending = []string{}
	}
	writeJSON(w, http.StatusOK, protocol.ActiveSessionsResponse{
		Success:    true,
		Total:      st.Total,
		Count:      len(pending),
		PendingIDs: pending,
		ByStatus:   byStatus,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.gateway.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := protocol.SessionResponse{
		Success:          true,
		SessionID:        sess.ID,
		Status:           sess.Status.String(),
		Completed:        sess.Status == session.StatusCompleted,
		CreatedAt:        sess.CreatedAt.UTC(),
		LastTransitionAt: sess.LastTransitionAt.UTC(),
		TargetURL:        sess.TargetURL,
		CookieCount:      len(sess.Cookies),
		Metadata:         sess.Metadata,
	}
	if resp.Completed {
		at := sess.LastTransitionAt.UTC()
		resp.CompletedAt = &at
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, err := s.gateway.QueryStatus(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.StatusResponse{
		Success:   true,
		SessionID: id,
		Status:    status.String(),
		Completed: status == session.StatusCompleted,
	})
}

// handleForward returns the redirect payload as JSON for clients that apply
// it themselves.
func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	fwd, err := s.gateway.RequestRedirect(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	cookies := make([]protocol.Cookie, 0, len(fwd.Cookies))
	for _, c := range fwd.HTTPCookies() {
		cookies = append(cookies, protocol.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
		})
	}
	writeJSON(w, http.StatusOK, protocol.ForwardResponse{
		Success:   true,
		SessionID: fwd.SessionID,
		TargetURL: fwd.TargetURL,
		Cookies:   cookies,
	})
}

// handleRedirect is the browser entry point: 302 to the target with the
// forwarded cookies set.
func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	fwd, err := s.gateway.RequestRedirect(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fwd.Redirect(w, r)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.gateway.MarkComplete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.CompleteResponse{
		Success:   true,
		SessionID: id,
		Status:    session.StatusCompleted.String(),
	})
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		writeJSONError(w, http.StatusNotFound, codeNotFound, "status watch disabled")
		return
	}
	if err := s.watch.Watch(w, r, chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
	}
}
