package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/consultwise/session-server-go/internal/audit"
	"github.com/consultwise/session-server-go/internal/config"
	"github.com/consultwise/session-server-go/internal/ledger"
	"github.com/consultwise/session-server-go/internal/repository"
)

const reconcileBatchSize = 50

// ReconcileJob retries parked charges against the ledger until they settle.
// The debit is idempotent per reference id, so re-running a charge the ledger
// already applied is harmless. It also prunes settled charges and expired
// session archive rows.
type ReconcileJob struct {
	charges  repository.PendingChargeRepository
	records  repository.SessionRecordRepository
	ledger   ledger.Ledger
	interval time.Duration
	done     chan struct{}
}

func NewReconcileJob(
	charges repository.PendingChargeRepository,
	records repository.SessionRecordRepository,
	ldgr ledger.Ledger,
	interval time.Duration,
) *ReconcileJob {
	return &ReconcileJob{
		charges:  charges,
		records:  records,
		ledger:   ldgr,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *ReconcileJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("reconcile job started")
}

func (j *ReconcileJob) Stop() {
	close(j.done)
	log.Info().Msg("reconcile job stopped")
}

func (j *ReconcileJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.reconcile()
		}
	}
}

func (j *ReconcileJob) reconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	charges, err := j.charges.FindUnsettled(ctx, reconcileBatchSize)
	if err != nil {
		log.Error().Err(err).Msg("failed to load unsettled charges")
		return
	}

	settled := 0
	for _, charge := range charges {
		if j.settleOne(ctx, charge.ID, charge.ReferenceID, charge.AccountID, charge.Units) {
			settled++
		}
	}

	if len(charges) > 0 {
		log.Info().
			Int("attempted", len(charges)).
			Int("settled", settled).
			Msg("reconciled pending charges")
	}

	j.prune(ctx)
}

func (j *ReconcileJob) settleOne(ctx context.Context, id, referenceID, accountID string, units int64) bool {
	callCtx, cancel := context.WithTimeout(ctx, config.DebitCallTimeout)
	defer cancel()

	outcome, err := j.ledger.Debit(callCtx, accountID, units, referenceID)
	if err != nil {
		if rerr := j.charges.RecordAttempt(ctx, id, err.Error()); rerr != nil {
			log.Error().Err(rerr).Str("chargeId", id).Msg("failed to record debit attempt")
		}
		log.Warn().
			Err(err).
			Str("referenceId", referenceID).
			Int64("units", units).
			Msg("pending charge debit failed")
		return false
	}

	if err := j.charges.MarkSettled(ctx, id); err != nil {
		log.Error().Err(err).Str("chargeId", id).Msg("failed to mark charge settled")
		return false
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventChargeReconciled,
		SessionID: referenceID,
		AccountID: accountID,
		Details: map[string]interface{}{
			"units":   units,
			"outcome": outcome,
		},
	})
	return true
}

func (j *ReconcileJob) prune(ctx context.Context) {
	now := time.Now()

	if count, err := j.charges.DeleteSettledBefore(ctx, now.Add(-config.SettledChargeRetention)); err != nil {
		log.Error().Err(err).Msg("failed to prune settled charges")
	} else if count > 0 {
		log.Info().Int64("count", count).Msg("pruned settled charges")
	}

	if count, err := j.records.DeleteClosedBefore(ctx, now.Add(-config.SessionRecordRetention)); err != nil {
		log.Error().Err(err).Msg("failed to prune session records")
	} else if count > 0 {
		log.Info().Int64("count", count).Msg("pruned session records")
	}
}
