package ledger

import (
	"context"

	"github.com/rs/zerolog/log"
)

// NoopLedger approves every debit. Used when no ledger service is configured,
// so local development does not need the marketplace backend running.
type NoopLedger struct{}

func NewNoopLedger() *NoopLedger {
	return &NoopLedger{}
}

func (l *NoopLedger) Debit(_ context.Context, accountID string, units int64, referenceID string) (Outcome, error) {
	log.Info().
		Str("accountId", accountID).
		Str("referenceId", referenceID).
		Int64("units", units).
		Msg("noop ledger debit approved")
	return OutcomeCharged, nil
}
