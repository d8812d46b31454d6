package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultwise/session-server-go/internal/broker"
	"github.com/consultwise/session-server-go/internal/middleware"
	"github.com/consultwise/session-server-go/internal/model"
	"github.com/consultwise/session-server-go/internal/registry"
	"github.com/consultwise/session-server-go/internal/repository"
	"github.com/consultwise/session-server-go/internal/service"
)

type nullPublisher struct{}

func (nullPublisher) PublishSession(ctx context.Context, sessionID string, event broker.Event) error {
	return nil
}

type countingSettler struct {
	mu    sync.Mutex
	calls int
}

func (s *countingSettler) Settle(ctx context.Context, charge model.Charge) model.ChargeOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return model.ChargeOutcomeCharged
}

type nullRecorder struct{}

func (nullRecorder) RecordClose(ctx context.Context, params model.CreateSessionRecordParams) {}

type mockRecordRepo struct {
	records []model.SessionRecord
}

func (m *mockRecordRepo) FindBySessionID(ctx context.Context, sessionID string) (*model.SessionRecord, error) {
	return nil, nil
}

func (m *mockRecordRepo) FindByParticipantID(ctx context.Context, participantID string, limit, offset int) ([]model.SessionRecord, error) {
	return m.records, nil
}

func (m *mockRecordRepo) Create(ctx context.Context, params model.CreateSessionRecordParams) (*model.SessionRecord, error) {
	return &model.SessionRecord{SessionID: params.SessionID}, nil
}

func (m *mockRecordRepo) DeleteClosedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (m *mockRecordRepo) WithTx(tx *sqlx.Tx) repository.SessionRecordRepository { return m }

// injectCaller stands in for the auth middleware in handler tests.
func injectCaller(caller *middleware.Caller) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.WithCaller(r.Context(), caller)))
		})
	}
}

func operatorCaller(sessionID string) *middleware.Caller {
	return &middleware.Caller{
		ParticipantID:    "op-1",
		AccountID:        "acct-op",
		SessionID:        sessionID,
		Role:             model.RoleOperator,
		RateUnitsPerHour: 60,
	}
}

func counterpartCaller(sessionID string) *middleware.Caller {
	return &middleware.Caller{
		ParticipantID:    "cp-1",
		AccountID:        "acct-cp",
		SessionID:        sessionID,
		Role:             model.RoleCounterpart,
		RateUnitsPerHour: 60,
	}
}

type testEnv struct {
	registry *registry.Registry
	service  *service.SessionService
	settler  *countingSettler
}

func newTestEnv() *testEnv {
	settler := &countingSettler{}
	reg := registry.New(systemClock{}, nullPublisher{}, settler, nullRecorder{}, registry.Options{
		LivenessWindow:  30 * time.Second,
		IdleGrace:       2 * time.Minute,
		EvictionGrace:   time.Minute,
		AbsoluteTimeout: 30 * time.Minute,
	})
	return &testEnv{
		registry: reg,
		service:  service.NewSessionService(reg, &mockRecordRepo{}),
		settler:  settler,
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (e *testEnv) router(caller *middleware.Caller) http.Handler {
	h := NewSessionHandler(e.service)
	r := chi.NewRouter()
	r.Route("/v1/sessions", func(r chi.Router) {
		r.Use(injectCaller(caller))
		r.Mount("/", h.Routes())
	})
	return r
}

func doRequest(t *testing.T, router http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSessionEndpoints(t *testing.T) {
	t.Run("join returns the session view", func(t *testing.T) {
		env := newTestEnv()
		rec := doRequest(t, env.router(operatorCaller("s1")), http.MethodPost, "/v1/sessions/s1/join")

		require.Equal(t, http.StatusOK, rec.Code)

		var view model.SessionView
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
		assert.Equal(t, "s1", view.SessionID)
		assert.Equal(t, model.SessionStatusIdle, view.Status)
		assert.Equal(t, int64(60), view.RateUnitsHour)
	})

	t.Run("token for another session is forbidden", func(t *testing.T) {
		env := newTestEnv()
		rec := doRequest(t, env.router(operatorCaller("other")), http.MethodPost, "/v1/sessions/s1/join")

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("second join starts the meter", func(t *testing.T) {
		env := newTestEnv()
		doRequest(t, env.router(operatorCaller("s1")), http.MethodPost, "/v1/sessions/s1/join")
		rec := doRequest(t, env.router(counterpartCaller("s1")), http.MethodPost, "/v1/sessions/s1/join")

		require.Equal(t, http.StatusOK, rec.Code)

		var view model.SessionView
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
		assert.Equal(t, model.SessionStatusRunning, view.Status)
	})

	t.Run("heartbeat from a non-member is forbidden", func(t *testing.T) {
		env := newTestEnv()
		doRequest(t, env.router(operatorCaller("s1")), http.MethodPost, "/v1/sessions/s1/join")

		stranger := &middleware.Caller{
			ParticipantID: "ghost",
			SessionID:     "s1",
			Role:          model.RoleCounterpart,
		}
		rec := doRequest(t, env.router(stranger), http.MethodPost, "/v1/sessions/s1/heartbeat")

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("pause by the counterpart is forbidden", func(t *testing.T) {
		env := newTestEnv()
		doRequest(t, env.router(operatorCaller("s1")), http.MethodPost, "/v1/sessions/s1/join")
		doRequest(t, env.router(counterpartCaller("s1")), http.MethodPost, "/v1/sessions/s1/join")

		rec := doRequest(t, env.router(counterpartCaller("s1")), http.MethodPost, "/v1/sessions/s1/pause")
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = doRequest(t, env.router(operatorCaller("s1")), http.MethodPost, "/v1/sessions/s1/pause")
		require.Equal(t, http.StatusOK, rec.Code)

		var view model.SessionView
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
		assert.True(t, view.Paused)
	})

	t.Run("stop settles and reports the close figures", func(t *testing.T) {
		env := newTestEnv()
		doRequest(t, env.router(operatorCaller("s1")), http.MethodPost, "/v1/sessions/s1/join")
		doRequest(t, env.router(counterpartCaller("s1")), http.MethodPost, "/v1/sessions/s1/join")

		rec := doRequest(t, env.router(operatorCaller("s1")), http.MethodPost, "/v1/sessions/s1/stop")
		require.Equal(t, http.StatusOK, rec.Code)

		var result registry.CloseResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, "s1", result.SessionID)
		assert.Equal(t, model.ChargeOutcomeCharged, result.ChargeOutcome)
		assert.Equal(t, 1, env.settler.calls)
	})

	t.Run("join after close is gone", func(t *testing.T) {
		env := newTestEnv()
		doRequest(t, env.router(operatorCaller("s1")), http.MethodPost, "/v1/sessions/s1/join")
		doRequest(t, env.router(counterpartCaller("s1")), http.MethodPost, "/v1/sessions/s1/join")
		doRequest(t, env.router(operatorCaller("s1")), http.MethodPost, "/v1/sessions/s1/stop")

		rec := doRequest(t, env.router(operatorCaller("s1")), http.MethodPost, "/v1/sessions/s1/join")
		assert.Equal(t, http.StatusGone, rec.Code)
	})

	t.Run("get unknown session is not found", func(t *testing.T) {
		env := newTestEnv()
		rec := doRequest(t, env.router(operatorCaller("nope")), http.MethodGet, "/v1/sessions/nope/")

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("history lists archived sessions", func(t *testing.T) {
		env := newTestEnv()
		rec := doRequest(t, env.router(operatorCaller("s1")), http.MethodGet, "/v1/sessions/history?limit=10")

		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Records []model.SessionRecord `json:"records"`
			Limit   int                   `json:"limit"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, 10, body.Limit)
	})
}
