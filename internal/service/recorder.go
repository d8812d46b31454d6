package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/consultwise/session-server-go/internal/model"
	"github.com/consultwise/session-server-go/internal/repository"
)

const recordTimeout = 10 * time.Second

// CloseRecorder archives closed sessions. It satisfies the registry's
// Recorder contract; archive failures are logged, never propagated, since the
// session is already torn down.
type CloseRecorder struct {
	records repository.SessionRecordRepository
}

func NewCloseRecorder(records repository.SessionRecordRepository) *CloseRecorder {
	return &CloseRecorder{records: records}
}

func (r *CloseRecorder) RecordClose(_ context.Context, params model.CreateSessionRecordParams) {
	// The caller's request context may be gone; archive with a fresh one.
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if _, err := r.records.Create(ctx, params); err != nil {
		log.Error().
			Err(err).
			Str("sessionId", params.SessionID).
			Int64("billedUnits", params.BilledUnits).
			Msg("failed to archive closed session")
		return
	}

	log.Debug().Str("sessionId", params.SessionID).Msg("session archived")
}
