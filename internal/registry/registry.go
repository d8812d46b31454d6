// Package registry is the single source of truth for live sessions: the
// in-memory map of session state plus the meter state machine that advances
// billable time. Same-session operations serialize on a per-session lock;
// cross-session operations proceed in parallel.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/consultwise/session-server-go/internal/broker"
	"github.com/consultwise/session-server-go/internal/clock"
	apperrors "github.com/consultwise/session-server-go/internal/errors"
	"github.com/consultwise/session-server-go/internal/meter"
	"github.com/consultwise/session-server-go/internal/model"
)

// Settler charges the payer exactly once per closed session.
type Settler interface {
	Settle(ctx context.Context, charge model.Charge) model.ChargeOutcome
}

// Recorder archives the final figures of a closed session.
type Recorder interface {
	RecordClose(ctx context.Context, params model.CreateSessionRecordParams)
}

// Publisher fans session events out to every subscribed member.
type Publisher interface {
	PublishSession(ctx context.Context, sessionID string, event broker.Event) error
}

type Options struct {
	// LivenessWindow is the maximum tolerated heartbeat silence before a
	// running session is auto-paused.
	LivenessWindow time.Duration
	// IdleGrace evicts sessions that never started and sit empty or silent.
	IdleGrace time.Duration
	// EvictionGrace keeps closed sessions around so late duplicate leave
	// messages are ignored instead of resurrecting state.
	EvictionGrace time.Duration
	// AbsoluteTimeout force-closes a started session with no heartbeat at
	// all for this long.
	AbsoluteTimeout time.Duration
}

type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session

	clock     clock.Clock
	publisher Publisher
	settler   Settler
	recorder  Recorder
	opts      Options
}

func New(clk clock.Clock, publisher Publisher, settler Settler, recorder Recorder, opts Options) *Registry {
	return &Registry{
		sessions:  make(map[string]*session),
		clock:     clk,
		publisher: publisher,
		settler:   settler,
		recorder:  recorder,
		opts:      opts,
	}
}

func (r *Registry) get(sessionID string) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

func (r *Registry) getOrCreate(sessionID string, rateUnitsHour int64, now time.Time) *session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		return s
	}
	s := newSession(sessionID, rateUnitsHour, now)
	r.sessions[sessionID] = s
	log.Debug().Str("sessionId", sessionID).Msg("session created")
	return s
}

// Join registers a participant, creating the session lazily on first join.
// Re-joining with the same identity in the same role is idempotent. The meter
// starts the moment the second participant arrives; a lone participant never
// accrues billable time.
func (r *Registry) Join(ctx context.Context, sessionID string, p model.Participant, rateUnitsHour int64) (model.SessionView, error) {
	now := r.clock.Now()
	s := r.getOrCreate(sessionID, rateUnitsHour, now)

	s.mu.Lock()

	if s.status == model.SessionStatusClosed {
		view := s.viewLocked(now, r.opts.LivenessWindow)
		s.mu.Unlock()
		return view, apperrors.AlreadyClosed(sessionID)
	}

	if existing, ok := s.participants[p.Role]; ok {
		if existing.ID == p.ID {
			// Idempotent re-join: refresh liveness and hand back the view.
			s.lastHeartbeatAt = now
			view := s.viewLocked(now, r.opts.LivenessWindow)
			s.mu.Unlock()
			return view, nil
		}
		view := s.viewLocked(now, r.opts.LivenessWindow)
		s.mu.Unlock()
		return view, apperrors.SessionFull(sessionID)
	}

	if _, ok := s.memberLocked(p.ID); ok {
		s.mu.Unlock()
		return model.SessionView{}, apperrors.InvalidInput("role", "participant already joined in the other role")
	}

	p.JoinedAt = now
	s.participants[p.Role] = &p
	s.lastHeartbeatAt = now
	s.emptySince = time.Time{}

	events := []broker.Event{mustEvent(broker.EventPresence, broker.PresenceEventData{
		ParticipantID: p.ID,
		Role:          p.Role,
		Present:       true,
		Count:         len(s.participants),
	})}

	if len(s.participants) == 2 && s.status == model.SessionStatusIdle {
		s.status = model.SessionStatusRunning
		s.started = true
		s.lastAccrualAt = now
		events = append(events, mustEvent(broker.EventMeter, broker.MeterEventData{
			Status:         model.SessionStatusRunning,
			Paused:         false,
			ElapsedSeconds: int64(s.accrued / time.Second),
		}))
		log.Info().
			Str("sessionId", sessionID).
			Int64("rateUnitsPerHour", rateUnitsHour).
			Msg("both participants present, meter running")
	}

	view := s.viewLocked(now, r.opts.LivenessWindow)
	s.mu.Unlock()

	r.publish(ctx, sessionID, events...)
	return view, nil
}

// Heartbeat refreshes liveness and, while running, banks the wall-clock delta
// since the last accrual point. Heartbeats on a closed session are ignored,
// not errored, so client retries stay harmless. A system pause (liveness
// loss) lifts here; an operator pause does not.
func (r *Registry) Heartbeat(ctx context.Context, sessionID, participantID string) (model.SessionView, error) {
	s, ok := r.get(sessionID)
	if !ok {
		return model.SessionView{}, apperrors.SessionNotFound(sessionID)
	}

	now := r.clock.Now()
	s.mu.Lock()

	if s.status == model.SessionStatusClosed {
		view := s.viewLocked(now, r.opts.LivenessWindow)
		s.mu.Unlock()
		return view, nil
	}

	if _, ok := s.memberLocked(participantID); !ok {
		s.mu.Unlock()
		return model.SessionView{}, apperrors.NotAMember(sessionID, participantID)
	}

	s.lastHeartbeatAt = now

	var events []broker.Event
	switch s.status {
	case model.SessionStatusRunning:
		s.accrueLocked(now, r.opts.LivenessWindow)
	case model.SessionStatusPaused:
		if s.pausedBy == model.PausedBySystem {
			s.status = model.SessionStatusRunning
			s.pausedBy = ""
			s.lastAccrualAt = now
			events = append(events, mustEvent(broker.EventMeter, broker.MeterEventData{
				Status:         model.SessionStatusRunning,
				Paused:         false,
				ElapsedSeconds: int64(s.accrued / time.Second),
			}))
			log.Info().Str("sessionId", sessionID).Msg("heartbeats resumed, lifting system pause")
		}
	}

	view := s.viewLocked(now, r.opts.LivenessWindow)
	s.mu.Unlock()

	r.publish(ctx, sessionID, events...)
	return view, nil
}

// TogglePause flips the shared pause flag. Only the operator may toggle; the
// resulting state is broadcast so both UIs agree without trusting either
// side's local clock. Toggling a closed session is a no-op.
func (r *Registry) TogglePause(ctx context.Context, sessionID, participantID string) (model.SessionView, error) {
	s, ok := r.get(sessionID)
	if !ok {
		return model.SessionView{}, apperrors.SessionNotFound(sessionID)
	}

	now := r.clock.Now()
	s.mu.Lock()

	if s.status == model.SessionStatusClosed {
		view := s.viewLocked(now, r.opts.LivenessWindow)
		s.mu.Unlock()
		return view, nil
	}

	p, ok := s.memberLocked(participantID)
	if !ok {
		s.mu.Unlock()
		return model.SessionView{}, apperrors.NotAMember(sessionID, participantID)
	}
	if p.Role != model.RoleOperator {
		s.mu.Unlock()
		return model.SessionView{}, apperrors.NotAuthorized("only the operator may pause or resume")
	}
	if s.status == model.SessionStatusIdle {
		s.mu.Unlock()
		return model.SessionView{}, apperrors.ValidationError("session has not started")
	}

	s.lastHeartbeatAt = now

	if s.status == model.SessionStatusRunning {
		s.accrueLocked(now, r.opts.LivenessWindow)
		s.status = model.SessionStatusPaused
		s.pausedBy = model.PausedByOperator
	} else {
		s.status = model.SessionStatusRunning
		s.pausedBy = ""
		s.lastAccrualAt = now
	}

	event := mustEvent(broker.EventMeter, broker.MeterEventData{
		Status:         s.status,
		Paused:         s.status == model.SessionStatusPaused,
		PausedBy:       s.pausedBy,
		ElapsedSeconds: int64(s.accrued / time.Second),
	})

	view := s.viewLocked(now, r.opts.LivenessWindow)
	s.mu.Unlock()

	log.Info().
		Str("sessionId", sessionID).
		Bool("paused", view.Paused).
		Msg("pause toggled")

	r.publish(ctx, sessionID, event)
	return view, nil
}

// Stop closes the session and settles the charge. Closing is idempotent: the
// first caller drives the debit, any concurrent or later caller waits for the
// same result. Exactly one debit reaches the ledger per session.
func (r *Registry) Stop(ctx context.Context, sessionID, participantID string) (CloseResult, error) {
	s, ok := r.get(sessionID)
	if !ok {
		return CloseResult{}, apperrors.SessionNotFound(sessionID)
	}

	now := r.clock.Now()
	s.mu.Lock()

	if _, ok := s.memberLocked(participantID); !ok {
		s.mu.Unlock()
		return CloseResult{}, apperrors.NotAMember(sessionID, participantID)
	}

	if s.status == model.SessionStatusClosed {
		s.mu.Unlock()
		return r.awaitClose(ctx, s), nil
	}

	charge, events := r.closeLocked(s, now, "stop")
	s.mu.Unlock()

	r.publish(ctx, sessionID, events...)
	r.finalize(ctx, s, charge)

	return r.awaitClose(ctx, s), nil
}

// Leave removes a participant. Leaving is idempotent and never fails: late
// duplicate leaves on closed or unknown sessions are ignored. Leaving a
// started session closes it.
func (r *Registry) Leave(ctx context.Context, sessionID, participantID string) {
	s, ok := r.get(sessionID)
	if !ok {
		return
	}

	now := r.clock.Now()
	s.mu.Lock()

	if s.status == model.SessionStatusClosed {
		s.mu.Unlock()
		return
	}

	p, ok := s.memberLocked(participantID)
	if !ok {
		s.mu.Unlock()
		return
	}

	if s.started {
		charge, events := r.closeLocked(s, now, "leave")
		s.mu.Unlock()
		r.publish(ctx, sessionID, events...)
		go r.finalize(context.Background(), s, charge)
		return
	}

	delete(s.participants, p.Role)
	if len(s.participants) == 0 {
		s.emptySince = now
	}
	event := mustEvent(broker.EventPresence, broker.PresenceEventData{
		ParticipantID: p.ID,
		Role:          p.Role,
		Present:       false,
		Count:         len(s.participants),
	})
	s.mu.Unlock()

	r.publish(ctx, sessionID, event)
}

// Get returns the current view of a session.
func (r *Registry) Get(sessionID string) (model.SessionView, error) {
	s, ok := r.get(sessionID)
	if !ok {
		return model.SessionView{}, apperrors.SessionNotFound(sessionID)
	}
	now := r.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked(now, r.opts.LivenessWindow), nil
}

// Member reports whether the participant is a current member. Members of a
// closed session no longer count, which makes the relay drop stray late
// signaling traffic.
func (r *Registry) Member(sessionID, participantID string) (model.Participant, bool) {
	s, ok := r.get(sessionID)
	if !ok {
		return model.Participant{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == model.SessionStatusClosed {
		return model.Participant{}, false
	}
	p, ok := s.memberLocked(participantID)
	if !ok {
		return model.Participant{}, false
	}
	return *p, true
}

// Counterpart returns the other member of a two-party session.
func (r *Registry) Counterpart(sessionID, participantID string) (model.Participant, bool) {
	s, ok := r.get(sessionID)
	if !ok {
		return model.Participant{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == model.SessionStatusClosed {
		return model.Participant{}, false
	}
	for _, p := range s.participants {
		if p.ID != participantID {
			return *p, true
		}
	}
	return model.Participant{}, false
}

// closeLocked performs the state transition and computes the final figures.
// It must be called with s.mu held and at most once per session; the status
// guard makes concurrent closers fall through to awaitClose instead.
func (r *Registry) closeLocked(s *session, now time.Time, reason string) (model.Charge, []broker.Event) {
	s.accrueLocked(now, r.opts.LivenessWindow)
	s.status = model.SessionStatusClosed
	s.pausedBy = ""
	s.closedAt = now

	elapsedSeconds := int64(s.accrued / time.Second)
	billedMinutes := meter.BilledMinutes(elapsedSeconds)
	billedUnits := meter.BilledUnits(elapsedSeconds, s.rateUnitsHour)

	payerAccount := ""
	if counterpart, ok := s.participants[model.RoleCounterpart]; ok {
		payerAccount = counterpart.AccountID
	}

	s.closeResult = &CloseResult{
		SessionID:      s.id,
		ElapsedSeconds: elapsedSeconds,
		BilledMinutes:  billedMinutes,
		BilledUnits:    billedUnits,
		ChargeOutcome:  model.ChargeOutcomePending,
	}

	log.Info().
		Str("sessionId", s.id).
		Str("reason", reason).
		Int64("elapsedSeconds", elapsedSeconds).
		Int64("billedUnits", billedUnits).
		Msg("session closed")

	events := []broker.Event{mustEvent(broker.EventClosed, broker.ClosedEventData{
		ElapsedSeconds: elapsedSeconds,
		BilledUnits:    billedUnits,
		ChargeOutcome:  model.ChargeOutcomePending,
	})}

	return model.Charge{
		ReferenceID: s.id,
		AccountID:   payerAccount,
		Units:       billedUnits,
	}, events
}

// finalize settles the charge and archives the session. It runs without the
// session lock so a slow ledger never blocks heartbeats of other callers.
func (r *Registry) finalize(ctx context.Context, s *session, charge model.Charge) {
	outcome := r.settler.Settle(ctx, charge)

	s.mu.Lock()
	s.closeResult.ChargeOutcome = outcome
	result := *s.closeResult

	var operatorID, counterpartID string
	if p, ok := s.participants[model.RoleOperator]; ok {
		operatorID = p.ID
	}
	if p, ok := s.participants[model.RoleCounterpart]; ok {
		counterpartID = p.ID
	}
	close(s.closeDone)
	s.mu.Unlock()

	if s.started {
		r.recorder.RecordClose(ctx, model.CreateSessionRecordParams{
			SessionID:      result.SessionID,
			OperatorID:     operatorID,
			CounterpartID:  counterpartID,
			ElapsedSeconds: result.ElapsedSeconds,
			BilledMinutes:  result.BilledMinutes,
			BilledUnits:    result.BilledUnits,
			ChargeOutcome:  result.ChargeOutcome,
		})
	}
}

// awaitClose waits for the in-flight finalize and returns the settled result.
func (r *Registry) awaitClose(ctx context.Context, s *session) CloseResult {
	select {
	case <-s.closeDone:
	case <-ctx.Done():
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.closeResult
}

// Sweep drives the time-based transitions: auto-pause on liveness loss,
// force-close on absolute timeout, and eviction of never-started or
// already-closed sessions past their grace windows. Called periodically by
// the sweep job.
func (r *Registry) Sweep(ctx context.Context) {
	now := r.clock.Now()

	r.mu.RLock()
	snapshot := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()

	var evict []string

	for _, s := range snapshot {
		s.mu.Lock()

		switch {
		case s.status == model.SessionStatusClosed:
			if now.Sub(s.closedAt) > r.opts.EvictionGrace {
				evict = append(evict, s.id)
			}
			s.mu.Unlock()

		case !s.started:
			empty := !s.emptySince.IsZero() && now.Sub(s.emptySince) > r.opts.IdleGrace
			silent := !s.lastHeartbeatAt.IsZero() && now.Sub(s.lastHeartbeatAt) > r.opts.AbsoluteTimeout
			if empty || silent {
				evict = append(evict, s.id)
				log.Debug().Str("sessionId", s.id).Msg("evicting never-started session")
			}
			s.mu.Unlock()

		case now.Sub(s.lastHeartbeatAt) > r.opts.AbsoluteTimeout:
			charge, events := r.closeLocked(s, now, "timeout")
			s.mu.Unlock()
			r.publish(ctx, s.id, events...)
			go r.finalize(context.Background(), s, charge)

		case s.status == model.SessionStatusRunning && now.Sub(s.lastHeartbeatAt) > r.opts.LivenessWindow:
			// No time is billed for the silent gap: accrual stopped at the
			// last successful heartbeat.
			s.status = model.SessionStatusPaused
			s.pausedBy = model.PausedBySystem
			event := mustEvent(broker.EventMeter, broker.MeterEventData{
				Status:         model.SessionStatusPaused,
				Paused:         true,
				PausedBy:       model.PausedBySystem,
				ElapsedSeconds: int64(s.accrued / time.Second),
			})
			s.mu.Unlock()
			log.Warn().Str("sessionId", s.id).Msg("heartbeat silence, auto-pausing session")
			r.publish(ctx, s.id, event)

		default:
			s.mu.Unlock()
		}
	}

	if len(evict) > 0 {
		r.mu.Lock()
		for _, id := range evict {
			delete(r.sessions, id)
		}
		r.mu.Unlock()
		log.Info().Int("count", len(evict)).Msg("evicted sessions")
	}
}

// SessionCount reports the number of live registry entries.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) publish(ctx context.Context, sessionID string, events ...broker.Event) {
	for _, event := range events {
		if err := r.publisher.PublishSession(ctx, sessionID, event); err != nil {
			log.Warn().
				Err(err).
				Str("sessionId", sessionID).
				Str("eventType", event.Type).
				Msg("failed to publish session event")
		}
	}
}

func mustEvent(eventType string, data any) broker.Event {
	event, err := broker.NewEvent(eventType, data)
	if err != nil {
		// Event payloads are plain structs; marshal failure is a
		// programming error.
		panic(err)
	}
	return event
}
