// Package ledger is the boundary to the marketplace's balance service. The
// core never touches balance storage; it only issues idempotent debits keyed
// by the session id.
package ledger

import "context"

type Outcome string

const (
	OutcomeCharged             Outcome = "charged"
	OutcomeInsufficientBalance Outcome = "insufficient_balance"
)

// Ledger debits a pre-purchased balance. Implementations must be idempotent
// for a given referenceID, since the meter retries on transient failure.
type Ledger interface {
	Debit(ctx context.Context, accountID string, units int64, referenceID string) (Outcome, error)
}
