package broker

import (
	"context"
	"encoding/json"

	"github.com/consultwise/session-server-go/internal/model"
	redisclient "github.com/consultwise/session-server-go/internal/redis"
)

// Event types fanned out on a session channel. Every member receives them,
// including the one who triggered the change, so all UIs update from the same
// authoritative broadcast.
const (
	EventPresence = "presence"
	EventMeter    = "meter"
	EventClosed   = "closed"
	EventSignal   = "signal"
)

type PresenceEventData struct {
	ParticipantID string                `json:"participantId"`
	Role          model.ParticipantRole `json:"role"`
	Present       bool                  `json:"present"`
	Count         int                   `json:"count"`
}

type MeterEventData struct {
	Status         model.SessionStatus `json:"status"`
	Paused         bool                `json:"paused"`
	PausedBy       model.PauseSource   `json:"pausedBy,omitempty"`
	ElapsedSeconds int64               `json:"elapsedSeconds"`
}

type ClosedEventData struct {
	ElapsedSeconds int64               `json:"elapsedSeconds"`
	BilledUnits    int64               `json:"billedUnits"`
	ChargeOutcome  model.ChargeOutcome `json:"chargeOutcome"`
}

func NewEvent(eventType string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Data: raw}, nil
}

// SessionPublisher adapts the broker to the registry's Publisher contract,
// mapping session ids onto redis channel keys.
type SessionPublisher struct {
	broker *Broker
}

func NewSessionPublisher(b *Broker) *SessionPublisher {
	return &SessionPublisher{broker: b}
}

func (p *SessionPublisher) PublishSession(ctx context.Context, sessionID string, event Event) error {
	return p.broker.Publish(ctx, redisclient.SessionChannel(sessionID), event)
}

// SignalSender adapts the broker to the relay's delivery contract.
type SignalSender struct {
	broker *Broker
}

func NewSignalSender(b *Broker) *SignalSender {
	return &SignalSender{broker: b}
}

func (s *SignalSender) SendSignal(ctx context.Context, env model.SignalEnvelope) error {
	event, err := NewEvent(EventSignal, env)
	if err != nil {
		return err
	}
	return s.broker.Publish(ctx, redisclient.SignalChannel(env.SessionID, env.To), event)
}
