package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/consultwise/session-server-go/internal/errors"
	"github.com/consultwise/session-server-go/internal/middleware"
	"github.com/consultwise/session-server-go/internal/model"
	"github.com/consultwise/session-server-go/internal/service"
)

type SignalHandler struct {
	signalService *service.SignalService
}

func NewSignalHandler(signalService *service.SignalService) *SignalHandler {
	return &SignalHandler{
		signalService: signalService,
	}
}

type signalRequest struct {
	To      string           `json:"to,omitempty"`
	Kind    model.SignalKind `json:"kind"`
	Payload json.RawMessage  `json:"payload"`
}

type signalResponse struct {
	Accepted bool `json:"accepted"`
}

// POST /v1/sessions/{sessionId}/signal
//
// Handshake traffic is fire-and-forget: an envelope dropped because a peer
// already left is answered 202 accepted=false, not an error, so late
// retransmissions never surface failures in the client.
func (h *SignalHandler) Send(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	caller := middleware.GetCaller(r.Context())
	if caller == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}
	if caller.SessionID != sessionID {
		writeError(w, apperrors.NotAuthorized("token is not valid for this session"))
		return
	}

	var req signalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("invalid request body"))
		return
	}

	err := h.signalService.Route(r.Context(), model.SignalEnvelope{
		SessionID: sessionID,
		From:      caller.ParticipantID,
		To:        req.To,
		Kind:      req.Kind,
		Payload:   req.Payload,
	})
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeNotAMember) {
			writeJSON(w, http.StatusAccepted, signalResponse{Accepted: false})
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, signalResponse{Accepted: true})
}
