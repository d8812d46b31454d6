package meter

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/consultwise/session-server-go/internal/audit"
	"github.com/consultwise/session-server-go/internal/config"
	"github.com/consultwise/session-server-go/internal/ledger"
	"github.com/consultwise/session-server-go/internal/model"
	"github.com/consultwise/session-server-go/internal/repository"
)

// Engine settles charges at session close. The ledger is retried with
// exponential backoff; once attempts are exhausted the charge is parked as a
// pending-charge row so teardown never blocks on billing.
type Engine struct {
	ledger      ledger.Ledger
	pending     repository.PendingChargeRepository
	maxAttempts int
	backoff     time.Duration
}

func NewEngine(l ledger.Ledger, pending repository.PendingChargeRepository) *Engine {
	return &Engine{
		ledger:      l,
		pending:     pending,
		maxAttempts: config.DebitMaxAttempts,
		backoff:     config.DebitInitialBackoff,
	}
}

func (e *Engine) Settle(ctx context.Context, charge model.Charge) model.ChargeOutcome {
	if charge.Units <= 0 {
		return model.ChargeOutcomeNone
	}

	backoff := e.backoff
	var lastErr error

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		outcome, err := e.ledger.Debit(ctx, charge.AccountID, charge.Units, charge.ReferenceID)
		if err == nil {
			result := model.ChargeOutcomeCharged
			if outcome == ledger.OutcomeInsufficientBalance {
				result = model.ChargeOutcomeInsufficientBalance
			}
			audit.Log(ctx, audit.Event{
				Type:      audit.EventChargeSettled,
				SessionID: charge.ReferenceID,
				AccountID: charge.AccountID,
				Details: map[string]interface{}{
					"units":   charge.Units,
					"outcome": result,
				},
			})
			return result
		}

		lastErr = err
		log.Warn().
			Err(err).
			Str("referenceId", charge.ReferenceID).
			Int("attempt", attempt).
			Msg("debit attempt failed")

		if attempt < e.maxAttempts {
			select {
			case <-ctx.Done():
				return e.park(charge, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	return e.park(charge, lastErr)
}

// park records the failed charge for the reconcile job. Parking uses a fresh
// context: the caller's request may already be gone.
func (e *Engine) park(charge model.Charge, cause error) model.ChargeOutcome {
	ctx, cancel := context.WithTimeout(context.Background(), config.DebitCallTimeout)
	defer cancel()

	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}

	if _, err := e.pending.Create(ctx, model.CreatePendingChargeParams{
		ReferenceID: charge.ReferenceID,
		AccountID:   charge.AccountID,
		Units:       charge.Units,
		LastError:   errMsg,
	}); err != nil {
		// Worst case: the charge exists only in logs. Loud enough for an
		// operator to reconcile by hand.
		log.Error().
			Err(err).
			Str("referenceId", charge.ReferenceID).
			Str("accountId", charge.AccountID).
			Int64("units", charge.Units).
			Msg("failed to park pending charge after debit failure")
		return model.ChargeOutcomePending
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventChargeParked,
		SessionID: charge.ReferenceID,
		AccountID: charge.AccountID,
		Details: map[string]interface{}{
			"units":     charge.Units,
			"lastError": errMsg,
		},
	})
	return model.ChargeOutcomePending
}
