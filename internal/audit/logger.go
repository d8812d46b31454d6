package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Billing-relevant events get a dedicated audit line so disputes can be
// reconstructed from logs alone, independent of the archive table.

type EventType string

const (
	EventSessionStarted   EventType = "session_started"
	EventSessionClosed    EventType = "session_closed"
	EventPauseToggled     EventType = "pause_toggled"
	EventChargeSettled    EventType = "charge_settled"
	EventChargeParked     EventType = "charge_parked"
	EventChargeReconciled EventType = "charge_reconciled"
)

type Event struct {
	Type          EventType
	SessionID     string
	ParticipantID string
	AccountID     string
	Details       map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "billing").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.SessionID != "" {
		logger = logger.With().Str("session_id", event.SessionID).Logger()
	}
	if event.ParticipantID != "" {
		logger = logger.With().Str("participant_id", event.ParticipantID).Logger()
	}
	if event.AccountID != "" {
		logger = logger.With().Str("account_id", event.AccountID).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = logEvent.Interface(k, v)
	}
	logEvent.Msg("audit event")
}
