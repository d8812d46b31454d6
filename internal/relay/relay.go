// Package relay routes opaque handshake envelopes between the members of one
// session. It never interprets payloads, so it stays correct for any media
// dialect a client speaks; it only reads session membership to authorize
// routing.
package relay

import (
	"context"

	"github.com/rs/zerolog/log"

	apperrors "github.com/consultwise/session-server-go/internal/errors"
	"github.com/consultwise/session-server-go/internal/model"
)

// Memberships answers who currently belongs to a session.
type Memberships interface {
	Member(sessionID, participantID string) (model.Participant, bool)
	Counterpart(sessionID, participantID string) (model.Participant, bool)
}

// Sender delivers an envelope to the destination's open channel, if any.
// Envelopes are not queued: a missed handshake step times out and retries at
// a higher layer.
type Sender interface {
	SendSignal(ctx context.Context, env model.SignalEnvelope) error
}

type Relay struct {
	members Memberships
	sender  Sender
}

func New(members Memberships, sender Sender) *Relay {
	return &Relay{members: members, sender: sender}
}

// Route delivers the envelope to its destination. Envelopes from or to a
// non-member are dropped with a warn log; stray late messages after a peer
// has left are expected, so the caller should treat the error as advisory.
func (r *Relay) Route(ctx context.Context, env model.SignalEnvelope) error {
	if env.SessionID == "" || env.From == "" {
		return apperrors.ValidationError("sessionId and from are required")
	}
	if !env.Kind.Valid() {
		return apperrors.InvalidInput("kind", string(env.Kind))
	}

	if _, ok := r.members.Member(env.SessionID, env.From); !ok {
		log.Warn().
			Str("sessionId", env.SessionID).
			Str("from", env.From).
			Str("kind", string(env.Kind)).
			Msg("dropping signal from non-member")
		return apperrors.NotAMember(env.SessionID, env.From)
	}

	// The destination defaults to the other party of the two-party session.
	if env.To == "" {
		counterpart, ok := r.members.Counterpart(env.SessionID, env.From)
		if !ok {
			log.Debug().
				Str("sessionId", env.SessionID).
				Str("from", env.From).
				Msg("dropping signal, no counterpart present")
			return apperrors.NotAMember(env.SessionID, "")
		}
		env.To = counterpart.ID
	} else if _, ok := r.members.Member(env.SessionID, env.To); !ok {
		log.Warn().
			Str("sessionId", env.SessionID).
			Str("to", env.To).
			Str("kind", string(env.Kind)).
			Msg("dropping signal to non-member")
		return apperrors.NotAMember(env.SessionID, env.To)
	}

	if err := r.sender.SendSignal(ctx, env); err != nil {
		// Delivery failures are logged and swallowed upstream; the
		// handshake retries on its own cadence.
		log.Error().
			Err(err).
			Str("sessionId", env.SessionID).
			Str("kind", string(env.Kind)).
			Msg("signal delivery failed")
		return apperrors.Internal("signal delivery failed")
	}

	log.Debug().
		Str("sessionId", env.SessionID).
		Str("from", env.From).
		Str("to", env.To).
		Str("kind", string(env.Kind)).
		Msg("signal routed")
	return nil
}
