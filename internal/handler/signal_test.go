package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultwise/session-server-go/internal/middleware"
	"github.com/consultwise/session-server-go/internal/model"
	"github.com/consultwise/session-server-go/internal/relay"
	"github.com/consultwise/session-server-go/internal/service"
)

type staticMemberships struct {
	members map[string]model.Participant
}

func (s *staticMemberships) Member(sessionID, participantID string) (model.Participant, bool) {
	p, ok := s.members[participantID]
	return p, ok
}

func (s *staticMemberships) Counterpart(sessionID, participantID string) (model.Participant, bool) {
	for id, p := range s.members {
		if id != participantID {
			return p, true
		}
	}
	return model.Participant{}, false
}

type capturingSender struct {
	envelopes []model.SignalEnvelope
}

func (c *capturingSender) SendSignal(ctx context.Context, env model.SignalEnvelope) error {
	c.envelopes = append(c.envelopes, env)
	return nil
}

func signalRouter(caller *middleware.Caller, members relay.Memberships, sender relay.Sender) http.Handler {
	h := NewSignalHandler(service.NewSignalService(relay.New(members, sender)))
	r := chi.NewRouter()
	r.Route("/v1/sessions", func(r chi.Router) {
		r.Use(injectCaller(caller))
		r.Post("/{sessionId}/signal", h.Send)
	})
	return r
}

func postSignal(t *testing.T, router http.Handler, sessionID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+sessionID+"/signal", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSendSignal(t *testing.T) {
	members := func() *staticMemberships {
		return &staticMemberships{members: map[string]model.Participant{
			"op-1": {ID: "op-1", Role: model.RoleOperator},
			"cp-1": {ID: "cp-1", Role: model.RoleCounterpart},
		}}
	}

	t.Run("routes an offer to the counterpart", func(t *testing.T) {
		sender := &capturingSender{}
		router := signalRouter(operatorCaller("s1"), members(), sender)

		rec := postSignal(t, router, "s1", map[string]any{
			"kind":    "offer",
			"payload": map[string]string{"sdp": "v=0"},
		})

		require.Equal(t, http.StatusAccepted, rec.Code)

		var resp signalResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Accepted)

		require.Len(t, sender.envelopes, 1)
		assert.Equal(t, "op-1", sender.envelopes[0].From)
		assert.Equal(t, "cp-1", sender.envelopes[0].To)
		assert.Equal(t, model.SignalOffer, sender.envelopes[0].Kind)
	})

	t.Run("non-member envelope is acknowledged but not delivered", func(t *testing.T) {
		sender := &capturingSender{}
		lone := &staticMemberships{members: map[string]model.Participant{}}
		router := signalRouter(operatorCaller("s1"), lone, sender)

		rec := postSignal(t, router, "s1", map[string]any{"kind": "candidate"})

		require.Equal(t, http.StatusAccepted, rec.Code)

		var resp signalResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.Accepted)
		assert.Empty(t, sender.envelopes)
	})

	t.Run("unknown kind is a bad request", func(t *testing.T) {
		router := signalRouter(operatorCaller("s1"), members(), &capturingSender{})

		rec := postSignal(t, router, "s1", map[string]any{"kind": "telepathy"})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("token for another session is forbidden", func(t *testing.T) {
		router := signalRouter(operatorCaller("other"), members(), &capturingSender{})

		rec := postSignal(t, router, "s1", map[string]any{"kind": "offer"})

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}
