package model

import "time"

type ChargeOutcome string

const (
	// ChargeOutcomeNone means nothing was billable (zero units).
	ChargeOutcomeNone                ChargeOutcome = "none"
	ChargeOutcomeCharged             ChargeOutcome = "charged"
	ChargeOutcomeInsufficientBalance ChargeOutcome = "insufficient_balance"
	// ChargeOutcomePending means the ledger could not be reached and the
	// charge was parked for out-of-band reconciliation.
	ChargeOutcomePending ChargeOutcome = "pending"
)

// Charge is the debit request produced exactly once per closed session.
// ReferenceID is the session id, which the ledger uses for idempotency.
type Charge struct {
	ReferenceID string
	AccountID   string
	Units       int64
}

type CreatePendingChargeParams struct {
	ReferenceID string
	AccountID   string
	Units       int64
	LastError   string
}

// PendingCharge is a parked debit awaiting reconciliation against the ledger.
type PendingCharge struct {
	ID          string     `db:"id" json:"id"`
	ReferenceID string     `db:"reference_id" json:"referenceId"`
	AccountID   string     `db:"account_id" json:"accountId"`
	Units       int64      `db:"units" json:"units"`
	Attempts    int        `db:"attempts" json:"attempts"`
	LastError   string     `db:"last_error" json:"lastError"`
	SettledAt   *time.Time `db:"settled_at" json:"settledAt,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updatedAt"`
}
