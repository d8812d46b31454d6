package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/consultwise/session-server-go/internal/model"
)

type SessionRecordRepository interface {
	FindBySessionID(ctx context.Context, sessionID string) (*model.SessionRecord, error)
	FindByParticipantID(ctx context.Context, participantID string, limit, offset int) ([]model.SessionRecord, error)
	Create(ctx context.Context, params model.CreateSessionRecordParams) (*model.SessionRecord, error)
	DeleteClosedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) SessionRecordRepository
}

type recordDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type sessionRecordRepo struct {
	db recordDB
}

func NewSessionRecordRepository(db *sqlx.DB) SessionRecordRepository {
	return &sessionRecordRepo{db: db}
}

func (r *sessionRecordRepo) WithTx(tx *sqlx.Tx) SessionRecordRepository {
	return &sessionRecordRepo{db: tx}
}

func (r *sessionRecordRepo) FindBySessionID(ctx context.Context, sessionID string) (*model.SessionRecord, error) {
	var record model.SessionRecord
	err := r.db.GetContext(ctx, &record, `
		SELECT * FROM session_records WHERE session_id = $1
	`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *sessionRecordRepo) FindByParticipantID(ctx context.Context, participantID string, limit, offset int) ([]model.SessionRecord, error) {
	var records []model.SessionRecord
	err := r.db.SelectContext(ctx, &records, `
		SELECT sr.* FROM session_records sr
		WHERE sr.operator_id = $1 OR sr.counterpart_id = $1
		ORDER BY sr.closed_at DESC
		LIMIT $2 OFFSET $3
	`, participantID, limit, offset)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *sessionRecordRepo) Create(ctx context.Context, params model.CreateSessionRecordParams) (*model.SessionRecord, error) {
	var record model.SessionRecord
	err := r.db.GetContext(ctx, &record, `
		INSERT INTO session_records
			(id, session_id, operator_id, counterpart_id, elapsed_seconds, billed_minutes, billed_units, charge_outcome)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id) DO NOTHING
		RETURNING *
	`, uuid.NewString(), params.SessionID, params.OperatorID, params.CounterpartID,
		params.ElapsedSeconds, params.BilledMinutes, params.BilledUnits, params.ChargeOutcome)
	if errors.Is(err, sql.ErrNoRows) {
		// Conflict path: the session was already archived.
		return r.FindBySessionID(ctx, params.SessionID)
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *sessionRecordRepo) DeleteClosedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM session_records WHERE closed_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
