package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/consultwise/session-server-go/internal/broker"
	apperrors "github.com/consultwise/session-server-go/internal/errors"
	"github.com/consultwise/session-server-go/internal/middleware"
	"github.com/consultwise/session-server-go/internal/model"
	redisclient "github.com/consultwise/session-server-go/internal/redis"
	"github.com/consultwise/session-server-go/internal/service"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsSendBuffer   = 32
)

var upgrader = websocket.Upgrader{
	// Token auth carries the trust; the origin check would only exclude
	// non-browser clients we want to support.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type WSHandler struct {
	broker         *broker.Broker
	sessionService *service.SessionService
	signalService  *service.SignalService
}

func NewWSHandler(b *broker.Broker, sessionService *service.SessionService, signalService *service.SignalService) *WSHandler {
	return &WSHandler{
		broker:         b,
		sessionService: sessionService,
		signalService:  signalService,
	}
}

type wsConn struct {
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.Mutex
	closed bool
}

// trySend holds the lock while enqueueing so a concurrent close cannot close
// the send channel mid-send: frames racing a disconnect are dropped, not a
// panic in the forwarding goroutine.
func (c *wsConn) trySend(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		// Slow consumer; the client resynchronizes from the next snapshot.
		log.Warn().Msg("websocket send buffer full, dropping frame")
	}
}

func (c *wsConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

// wsFrame is the single inbound message shape. The op selects the session
// operation; to, kind and payload only apply to op "signal".
type wsFrame struct {
	Op      string           `json:"op"`
	To      string           `json:"to,omitempty"`
	Kind    model.SignalKind `json:"kind,omitempty"`
	Payload json.RawMessage  `json:"payload,omitempty"`
}

// GET /v1/sessions/{sessionId}/ws
//
// The websocket multiplexes control operations, outbound session events and
// signal delivery over one connection. A dropped socket does not leave the
// session: the liveness window pauses the meter instead, so a flaky network
// never silently forfeits the booking.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Msg("websocket upgrade failed")
		return
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan []byte, wsSendBuffer),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessionClient := h.broker.Subscribe(redisclient.SessionChannel(sessionID))
	defer h.broker.Unsubscribe(sessionClient)

	signalClient := h.broker.Subscribe(redisclient.SignalChannel(sessionID, caller.ParticipantID))
	defer h.broker.Unsubscribe(signalClient)

	log.Info().
		Str("sessionId", sessionID).
		Str("participantId", caller.ParticipantID).
		Msg("websocket connection established")

	go h.writePump(ctx, conn)
	go h.forwardEvents(ctx, conn, sessionClient, signalClient)

	h.readPump(ctx, conn, caller)
}

func (h *WSHandler) writePump(ctx context.Context, c *wsConn) {
	ping := time.NewTicker(broker.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				return
			}

		case <-ping.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) forwardEvents(ctx context.Context, c *wsConn, sessionClient, signalClient *broker.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sessionClient.Done:
			return
		case <-signalClient.Done:
			return
		case event := <-sessionClient.Events:
			h.sendEvent(c, event)
		case event := <-signalClient.Events:
			h.sendEvent(c, event)
		}
	}
}

func (h *WSHandler) sendEvent(c *wsConn, event broker.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal websocket event")
		return
	}
	c.trySend(data)
}

func (h *WSHandler) readPump(ctx context.Context, c *wsConn, caller *middleware.Caller) {
	defer func() {
		log.Info().
			Str("sessionId", caller.SessionID).
			Str("participantId", caller.ParticipantID).
			Msg("websocket connection closed")
		c.close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.sendError(c, apperrors.ValidationError("invalid frame"))
			continue
		}

		h.handleFrame(ctx, c, caller, frame)
	}
}

func (h *WSHandler) handleFrame(ctx context.Context, c *wsConn, caller *middleware.Caller, frame wsFrame) {
	switch frame.Op {
	case "join":
		view, err := h.sessionService.StartSession(ctx, caller.SessionID, model.Participant{
			ID:        caller.ParticipantID,
			AccountID: caller.AccountID,
			Role:      caller.Role,
		}, caller.RateUnitsPerHour)
		h.reply(c, "state", view, err)

	case "heartbeat":
		view, err := h.sessionService.Heartbeat(ctx, caller.SessionID, caller.ParticipantID)
		h.reply(c, "state", view, err)

	case "pause":
		view, err := h.sessionService.TogglePause(ctx, caller.SessionID, caller.ParticipantID)
		h.reply(c, "state", view, err)

	case "stop":
		result, err := h.sessionService.StopSession(ctx, caller.SessionID, caller.ParticipantID)
		h.reply(c, "close_result", result, err)

	case "leave":
		h.sessionService.Leave(ctx, caller.SessionID, caller.ParticipantID)
		h.reply(c, "left", map[string]bool{"left": true}, nil)

	case "signal":
		err := h.signalService.Route(ctx, model.SignalEnvelope{
			SessionID: caller.SessionID,
			From:      caller.ParticipantID,
			To:        frame.To,
			Kind:      frame.Kind,
			Payload:   frame.Payload,
		})
		if err != nil && apperrors.HasCode(err, apperrors.ErrCodeNotAMember) {
			// Stray late signal; acknowledged but not delivered.
			h.reply(c, "signal_ack", map[string]bool{"accepted": false}, nil)
			return
		}
		h.reply(c, "signal_ack", map[string]bool{"accepted": err == nil}, err)

	default:
		h.sendError(c, apperrors.InvalidInput("op", frame.Op))
	}
}

func (h *WSHandler) reply(c *wsConn, frameType string, data any, err error) {
	if err != nil {
		h.sendError(c, err)
		return
	}

	raw, merr := json.Marshal(data)
	if merr != nil {
		log.Error().Err(merr).Msg("failed to marshal websocket reply")
		return
	}
	h.sendEventRaw(c, frameType, raw)
}

func (h *WSHandler) sendError(c *wsConn, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		appErr = apperrors.Internal("An unexpected error occurred")
	}
	raw, merr := json.Marshal(map[string]any{
		"code":  appErr.Code,
		"error": appErr.Message,
	})
	if merr != nil {
		return
	}
	h.sendEventRaw(c, "error", raw)
}

func (h *WSHandler) sendEventRaw(c *wsConn, frameType string, data json.RawMessage) {
	raw, err := json.Marshal(broker.Event{Type: frameType, Data: data})
	if err != nil {
		return
	}
	c.trySend(raw)
}
