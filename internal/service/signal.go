package service

import (
	"context"

	"github.com/consultwise/session-server-go/internal/model"
	"github.com/consultwise/session-server-go/internal/relay"
)

// SignalService fronts the relay for the transport handlers.
type SignalService struct {
	relay *relay.Relay
}

func NewSignalService(r *relay.Relay) *SignalService {
	return &SignalService{relay: r}
}

func (s *SignalService) Route(ctx context.Context, env model.SignalEnvelope) error {
	return s.relay.Route(ctx, env)
}
