package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/consultwise/session-server-go/internal/broker"
	apperrors "github.com/consultwise/session-server-go/internal/errors"
	"github.com/consultwise/session-server-go/internal/middleware"
	redisclient "github.com/consultwise/session-server-go/internal/redis"
	"github.com/consultwise/session-server-go/internal/service"
)

type EventsHandler struct {
	broker         *broker.Broker
	sessionService *service.SessionService
}

func NewEventsHandler(b *broker.Broker, sessionService *service.SessionService) *EventsHandler {
	return &EventsHandler{
		broker:         b,
		sessionService: sessionService,
	}
}

// GET /v1/sessions/{sessionId}/events
//
// One SSE stream carries both the shared session channel (presence, meter,
// closed) and the caller's private signal channel, so a browser client needs a
// single EventSource.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sessionClient := h.broker.Subscribe(redisclient.SessionChannel(sessionID))
	defer h.broker.Unsubscribe(sessionClient)

	signalClient := h.broker.Subscribe(redisclient.SignalChannel(sessionID, caller.ParticipantID))
	defer h.broker.Unsubscribe(signalClient)

	log.Info().
		Str("sessionId", sessionID).
		Str("participantId", caller.ParticipantID).
		Msg("sse connection established")

	ctx := r.Context()

	// Snapshot first: the event stream is a delta feed, clients always start
	// from the authoritative view.
	if view, err := h.sessionService.Get(sessionID); err == nil {
		if err := h.sendEvent(w, flusher, "connected", view); err != nil {
			return
		}
	} else {
		if err := h.sendEvent(w, flusher, "connected", map[string]string{"sessionId": sessionID}); err != nil {
			return
		}
	}

	ping := time.NewTicker(broker.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("sessionId", sessionID).
				Str("participantId", caller.ParticipantID).
				Msg("sse connection closed by client")
			return

		case <-sessionClient.Done:
			return

		case <-signalClient.Done:
			return

		case event := <-sessionClient.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send session event")
				return
			}

		case event := <-signalClient.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send signal event")
				return
			}

		case <-ping.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().
					Str("sessionId", sessionID).
					Msg("ping failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return h.sendRawEvent(w, flusher, broker.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event broker.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
