package service

import (
	"context"

	"github.com/consultwise/session-server-go/internal/audit"
	"github.com/consultwise/session-server-go/internal/model"
	"github.com/consultwise/session-server-go/internal/registry"
	"github.com/consultwise/session-server-go/internal/repository"
)

// SessionService fronts the registry for the transport handlers and adds the
// billing audit trail.
type SessionService struct {
	registry *registry.Registry
	records  repository.SessionRecordRepository
}

func NewSessionService(reg *registry.Registry, records repository.SessionRecordRepository) *SessionService {
	return &SessionService{
		registry: reg,
		records:  records,
	}
}

func (s *SessionService) StartSession(ctx context.Context, sessionID string, p model.Participant, rateUnitsHour int64) (model.SessionView, error) {
	view, err := s.registry.Join(ctx, sessionID, p, rateUnitsHour)
	if err != nil {
		return view, err
	}

	audit.Log(ctx, audit.Event{
		Type:          audit.EventSessionStarted,
		SessionID:     sessionID,
		ParticipantID: p.ID,
		AccountID:     p.AccountID,
		Details: map[string]interface{}{
			"role":   p.Role,
			"status": view.Status,
		},
	})
	return view, nil
}

func (s *SessionService) Heartbeat(ctx context.Context, sessionID, participantID string) (model.SessionView, error) {
	return s.registry.Heartbeat(ctx, sessionID, participantID)
}

func (s *SessionService) TogglePause(ctx context.Context, sessionID, participantID string) (model.SessionView, error) {
	view, err := s.registry.TogglePause(ctx, sessionID, participantID)
	if err != nil {
		return view, err
	}

	audit.Log(ctx, audit.Event{
		Type:          audit.EventPauseToggled,
		SessionID:     sessionID,
		ParticipantID: participantID,
		Details: map[string]interface{}{
			"paused":         view.Paused,
			"elapsedSeconds": view.ElapsedSeconds,
		},
	})
	return view, nil
}

func (s *SessionService) StopSession(ctx context.Context, sessionID, participantID string) (registry.CloseResult, error) {
	result, err := s.registry.Stop(ctx, sessionID, participantID)
	if err != nil {
		return result, err
	}

	audit.Log(ctx, audit.Event{
		Type:          audit.EventSessionClosed,
		SessionID:     sessionID,
		ParticipantID: participantID,
		Details: map[string]interface{}{
			"elapsedSeconds": result.ElapsedSeconds,
			"billedUnits":    result.BilledUnits,
			"chargeOutcome":  result.ChargeOutcome,
		},
	})
	return result, nil
}

func (s *SessionService) Leave(ctx context.Context, sessionID, participantID string) {
	s.registry.Leave(ctx, sessionID, participantID)
}

func (s *SessionService) Get(sessionID string) (model.SessionView, error) {
	return s.registry.Get(sessionID)
}

// History lists archived sessions a participant took part in.
func (s *SessionService) History(ctx context.Context, participantID string, limit, offset int) ([]model.SessionRecord, error) {
	return s.records.FindByParticipantID(ctx, participantID, limit, offset)
}
