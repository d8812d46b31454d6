package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/consultwise/session-server-go/internal/model"
)

type PendingChargeRepository interface {
	FindByID(ctx context.Context, id string) (*model.PendingCharge, error)
	FindByReferenceID(ctx context.Context, referenceID string) (*model.PendingCharge, error)
	FindUnsettled(ctx context.Context, limit int) ([]model.PendingCharge, error)
	Create(ctx context.Context, params model.CreatePendingChargeParams) (*model.PendingCharge, error)
	MarkSettled(ctx context.Context, id string) error
	RecordAttempt(ctx context.Context, id string, lastError string) error
	DeleteSettledBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) PendingChargeRepository
}

// chargeDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type chargeDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type pendingChargeRepo struct {
	db chargeDB
}

func NewPendingChargeRepository(db *sqlx.DB) PendingChargeRepository {
	return &pendingChargeRepo{db: db}
}

func (r *pendingChargeRepo) WithTx(tx *sqlx.Tx) PendingChargeRepository {
	return &pendingChargeRepo{db: tx}
}

func (r *pendingChargeRepo) FindByID(ctx context.Context, id string) (*model.PendingCharge, error) {
	var charge model.PendingCharge
	err := r.db.GetContext(ctx, &charge, `
		SELECT * FROM pending_charges WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &charge, nil
}

func (r *pendingChargeRepo) FindByReferenceID(ctx context.Context, referenceID string) (*model.PendingCharge, error) {
	var charge model.PendingCharge
	err := r.db.GetContext(ctx, &charge, `
		SELECT * FROM pending_charges WHERE reference_id = $1
	`, referenceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &charge, nil
}

func (r *pendingChargeRepo) FindUnsettled(ctx context.Context, limit int) ([]model.PendingCharge, error) {
	var charges []model.PendingCharge
	err := r.db.SelectContext(ctx, &charges, `
		SELECT * FROM pending_charges
		WHERE settled_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return charges, nil
}

func (r *pendingChargeRepo) Create(ctx context.Context, params model.CreatePendingChargeParams) (*model.PendingCharge, error) {
	var charge model.PendingCharge
	err := r.db.GetContext(ctx, &charge, `
		INSERT INTO pending_charges (reference_id, account_id, units, attempts, last_error)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (reference_id) DO UPDATE SET
			attempts = pending_charges.attempts + 1,
			last_error = EXCLUDED.last_error,
			updated_at = NOW()
		RETURNING *
	`, params.ReferenceID, params.AccountID, params.Units, params.LastError)
	if err != nil {
		return nil, err
	}
	return &charge, nil
}

func (r *pendingChargeRepo) MarkSettled(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE pending_charges SET
			settled_at = $2,
			updated_at = $2
		WHERE id = $1 AND settled_at IS NULL
	`, id, time.Now())
	return err
}

func (r *pendingChargeRepo) RecordAttempt(ctx context.Context, id string, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE pending_charges SET
			attempts = attempts + 1,
			last_error = $2,
			updated_at = $3
		WHERE id = $1
	`, id, lastError, time.Now())
	return err
}

func (r *pendingChargeRepo) DeleteSettledBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM pending_charges
		WHERE settled_at IS NOT NULL AND settled_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
