package relay

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/consultwise/session-server-go/internal/errors"
	"github.com/consultwise/session-server-go/internal/model"
)

type fakeMemberships struct {
	members map[string]model.Participant // participantID -> participant
}

func (f *fakeMemberships) Member(sessionID, participantID string) (model.Participant, bool) {
	p, ok := f.members[participantID]
	return p, ok
}

func (f *fakeMemberships) Counterpart(sessionID, participantID string) (model.Participant, bool) {
	for id, p := range f.members {
		if id != participantID {
			return p, true
		}
	}
	return model.Participant{}, false
}

type fakeSender struct {
	mu        sync.Mutex
	delivered []model.SignalEnvelope
	err       error
}

func (f *fakeSender) SendSignal(ctx context.Context, env model.SignalEnvelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.delivered = append(f.delivered, env)
	return nil
}

func twoMembers() *fakeMemberships {
	return &fakeMemberships{members: map[string]model.Participant{
		"op-1": {ID: "op-1", Role: model.RoleOperator},
		"cp-1": {ID: "cp-1", Role: model.RoleCounterpart},
	}}
}

func TestRoute(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers to the named destination", func(t *testing.T) {
		sender := &fakeSender{}
		r := New(twoMembers(), sender)

		err := r.Route(ctx, model.SignalEnvelope{
			SessionID: "s1",
			From:      "op-1",
			To:        "cp-1",
			Kind:      model.SignalOffer,
		})

		require.NoError(t, err)
		require.Len(t, sender.delivered, 1)
		assert.Equal(t, "cp-1", sender.delivered[0].To)
	})

	t.Run("empty destination defaults to the counterpart", func(t *testing.T) {
		sender := &fakeSender{}
		r := New(twoMembers(), sender)

		err := r.Route(ctx, model.SignalEnvelope{
			SessionID: "s1",
			From:      "cp-1",
			Kind:      model.SignalAnswer,
		})

		require.NoError(t, err)
		require.Len(t, sender.delivered, 1)
		assert.Equal(t, "op-1", sender.delivered[0].To)
	})

	t.Run("drops envelopes from non-members", func(t *testing.T) {
		sender := &fakeSender{}
		r := New(twoMembers(), sender)

		err := r.Route(ctx, model.SignalEnvelope{
			SessionID: "s1",
			From:      "stranger",
			Kind:      model.SignalCandidate,
		})

		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotAMember))
		assert.Empty(t, sender.delivered)
	})

	t.Run("drops envelopes to non-members", func(t *testing.T) {
		sender := &fakeSender{}
		r := New(twoMembers(), sender)

		err := r.Route(ctx, model.SignalEnvelope{
			SessionID: "s1",
			From:      "op-1",
			To:        "stranger",
			Kind:      model.SignalCandidate,
		})

		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotAMember))
		assert.Empty(t, sender.delivered)
	})

	t.Run("drops when no counterpart is present", func(t *testing.T) {
		members := &fakeMemberships{members: map[string]model.Participant{
			"op-1": {ID: "op-1", Role: model.RoleOperator},
		}}
		sender := &fakeSender{}
		r := New(members, sender)

		err := r.Route(ctx, model.SignalEnvelope{
			SessionID: "s1",
			From:      "op-1",
			Kind:      model.SignalOffer,
		})

		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotAMember))
		assert.Empty(t, sender.delivered)
	})

	t.Run("rejects unknown kinds", func(t *testing.T) {
		sender := &fakeSender{}
		r := New(twoMembers(), sender)

		err := r.Route(ctx, model.SignalEnvelope{
			SessionID: "s1",
			From:      "op-1",
			Kind:      "telepathy",
		})

		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
	})

	t.Run("rejects missing session or sender", func(t *testing.T) {
		r := New(twoMembers(), &fakeSender{})

		err := r.Route(ctx, model.SignalEnvelope{From: "op-1", Kind: model.SignalOffer})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))

		err = r.Route(ctx, model.SignalEnvelope{SessionID: "s1", Kind: model.SignalOffer})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	})

	t.Run("delivery failure surfaces as internal", func(t *testing.T) {
		sender := &fakeSender{err: errors.New("redis down")}
		r := New(twoMembers(), sender)

		err := r.Route(ctx, model.SignalEnvelope{
			SessionID: "s1",
			From:      "op-1",
			To:        "cp-1",
			Kind:      model.SignalChatSync,
		})

		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInternal))
	})
}
