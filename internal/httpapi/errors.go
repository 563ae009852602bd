package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/handoff/relay/internal/protocol"
	"github.com/handoff/relay/internal/relay"
	"github.com/handoff/relay/internal/ws"
)

const (
	codeNotFound          = protocol.CodeNotFound
	codeInvalidTransition = protocol.CodeInvalidTransition
	codeValidation        = protocol.CodeValidation
	codeRateLimited       = protocol.CodeRateLimited
	codeInternal          = protocol.CodeInternal
	codeUnavailable       = "unavailable"
)

// writeError maps a gateway error to its HTTP status and error code.
// Internal errors are logged and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *relay.ValidationError
	switch {
	case errors.Is(err, relay.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, codeNotFound, "session not found")
	case errors.Is(err, relay.ErrInvalidTransition):
		writeJSONError(w, http.StatusConflict, codeInvalidTransition, err.Error())
	case errors.As(err, &verr):
		writeJSONError(w, http.StatusBadRequest, codeValidation, verr.Error())
	case errors.Is(err, relay.ErrValidation):
		writeJSONError(w, http.StatusBadRequest, codeValidation, err.Error())
	case errors.Is(err, ws.ErrTooManyWatchers), errors.Is(err, ws.ErrShuttingDown):
		writeJSONError(w, http.StatusServiceUnavailable, codeUnavailable, err.Error())
	default:
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("internal error")
		writeJSONError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, protocol.ErrorResponse{Success: false, Code: code, Error: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
