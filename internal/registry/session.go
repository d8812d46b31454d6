package registry

import (
	"sync"
	"time"

	"github.com/consultwise/session-server-go/internal/model"
)

// session is one live entry in the registry. All fields are guarded by mu;
// the registry never touches them without holding it. The meter state machine
// (idle -> running -> paused -> closed) lives here.
type session struct {
	mu sync.Mutex

	id            string
	rateUnitsHour int64

	status   model.SessionStatus
	pausedBy model.PauseSource

	participants map[model.ParticipantRole]*model.Participant

	// accrued is the billable time bank. It only grows, and only while the
	// status is running; growth happens on heartbeat receipt from the
	// server clock, never from a client-submitted duration.
	accrued         time.Duration
	lastAccrualAt   time.Time
	lastHeartbeatAt time.Time

	createdAt  time.Time
	emptySince time.Time
	closedAt   time.Time

	// started records whether the session ever reached running. A session
	// that never started is evicted silently with nothing billed.
	started bool

	closeResult *CloseResult
	closeDone   chan struct{}
}

// CloseResult carries the final figures of a closed session.
type CloseResult struct {
	SessionID      string              `json:"sessionId"`
	ElapsedSeconds int64               `json:"elapsedSeconds"`
	BilledMinutes  int64               `json:"billedMinutes"`
	BilledUnits    int64               `json:"billedUnits"`
	ChargeOutcome  model.ChargeOutcome `json:"chargeOutcome"`
}

func newSession(id string, rateUnitsHour int64, now time.Time) *session {
	return &session{
		id:            id,
		rateUnitsHour: rateUnitsHour,
		status:        model.SessionStatusIdle,
		participants:  make(map[model.ParticipantRole]*model.Participant),
		createdAt:     now,
		emptySince:    now,
		closeDone:     make(chan struct{}),
	}
}

// memberLocked returns the participant with the given id, in either role.
func (s *session) memberLocked(participantID string) (*model.Participant, bool) {
	for _, p := range s.participants {
		if p.ID == participantID {
			return p, true
		}
	}
	return nil, false
}

// accrueLocked banks the wall-clock delta since the last accrual point.
// The delta is capped at the liveness window so a heartbeat arriving after a
// long silence (before the sweep auto-paused) cannot bill the whole gap.
func (s *session) accrueLocked(now time.Time, limit time.Duration) {
	if s.status != model.SessionStatusRunning {
		return
	}
	delta := now.Sub(s.lastAccrualAt)
	if delta <= 0 {
		return
	}
	if delta > limit {
		delta = limit
	}
	s.accrued += delta
	s.lastAccrualAt = now
}

func (s *session) viewLocked(now time.Time, livenessWindow time.Duration) model.SessionView {
	elapsed := s.accrued
	if s.status == model.SessionStatusRunning {
		delta := now.Sub(s.lastAccrualAt)
		if delta > livenessWindow {
			delta = livenessWindow
		}
		if delta > 0 {
			elapsed += delta
		}
	}

	participants := make([]model.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		participants = append(participants, *p)
	}

	return model.SessionView{
		SessionID:      s.id,
		Status:         s.status,
		Paused:         s.status == model.SessionStatusPaused,
		ElapsedSeconds: int64(elapsed / time.Second),
		RateUnitsHour:  s.rateUnitsHour,
		RatePerMinute:  float64(s.rateUnitsHour) / 60,
		Participants:   participants,
	}
}
