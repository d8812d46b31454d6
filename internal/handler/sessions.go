package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/consultwise/session-server-go/internal/errors"
	"github.com/consultwise/session-server-go/internal/middleware"
	"github.com/consultwise/session-server-go/internal/model"
	"github.com/consultwise/session-server-go/internal/service"
)

type SessionHandler struct {
	sessionService *service.SessionService
}

func NewSessionHandler(sessionService *service.SessionService) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
	}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/history", h.History)

	r.Route("/{sessionId}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Post("/join", h.Join)
		r.Post("/heartbeat", h.Heartbeat)
		r.Post("/pause", h.TogglePause)
		r.Post("/stop", h.Stop)
		r.Post("/leave", h.Leave)
	})

	return r
}

// caller resolves the authenticated participant and checks the token is bound
// to the session in the path. A token for another session is a forged or
// misrouted request, never a legitimate client.
func (h *SessionHandler) caller(w http.ResponseWriter, r *http.Request) (*middleware.Caller, string, bool) {
	sessionID := chi.URLParam(r, "sessionId")
	if sessionID == "" {
		writeError(w, apperrors.ValidationError("session id is required"))
		return nil, "", false
	}

	caller := middleware.GetCaller(r.Context())
	if caller == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return nil, "", false
	}
	if caller.SessionID != sessionID {
		log.Warn().
			Str("sessionId", sessionID).
			Str("tokenSessionId", caller.SessionID).
			Str("participantId", caller.ParticipantID).
			Msg("token bound to a different session")
		writeError(w, apperrors.NotAuthorized("token is not valid for this session"))
		return nil, "", false
	}

	return caller, sessionID, true
}

// POST /v1/sessions/{sessionId}/join
func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	caller, sessionID, ok := h.caller(w, r)
	if !ok {
		return
	}

	view, err := h.sessionService.StartSession(r.Context(), sessionID, model.Participant{
		ID:        caller.ParticipantID,
		AccountID: caller.AccountID,
		Role:      caller.Role,
	}, caller.RateUnitsPerHour)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// POST /v1/sessions/{sessionId}/heartbeat
func (h *SessionHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	caller, sessionID, ok := h.caller(w, r)
	if !ok {
		return
	}

	view, err := h.sessionService.Heartbeat(r.Context(), sessionID, caller.ParticipantID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// POST /v1/sessions/{sessionId}/pause
func (h *SessionHandler) TogglePause(w http.ResponseWriter, r *http.Request) {
	caller, sessionID, ok := h.caller(w, r)
	if !ok {
		return
	}

	view, err := h.sessionService.TogglePause(r.Context(), sessionID, caller.ParticipantID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// POST /v1/sessions/{sessionId}/stop
func (h *SessionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	caller, sessionID, ok := h.caller(w, r)
	if !ok {
		return
	}

	result, err := h.sessionService.StopSession(r.Context(), sessionID, caller.ParticipantID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// POST /v1/sessions/{sessionId}/leave
func (h *SessionHandler) Leave(w http.ResponseWriter, r *http.Request) {
	caller, sessionID, ok := h.caller(w, r)
	if !ok {
		return
	}

	h.sessionService.Leave(r.Context(), sessionID, caller.ParticipantID)
	writeJSON(w, http.StatusOK, map[string]bool{"left": true})
}

// GET /v1/sessions/{sessionId}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	_, sessionID, ok := h.caller(w, r)
	if !ok {
		return
	}

	view, err := h.sessionService.Get(sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// GET /v1/sessions/history
func (h *SessionHandler) History(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r.Context())
	if caller == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	limit, offset := paginationParams(r, 50)

	records, err := h.sessionService.History(r.Context(), caller.ParticipantID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"limit":   limit,
		"offset":  offset,
	})
}

func paginationParams(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
