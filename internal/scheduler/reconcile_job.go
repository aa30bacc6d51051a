package scheduler

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"compengine/internal/domain"
	"compengine/internal/modules/wallet"
)

// ReconcileJob cross-checks every wallet against its ledger sum once a day.
// A mismatch is a fatal ledger invariant violation and is surfaced loudly.
type ReconcileJob struct {
	wallets *wallet.Repository
	log     zerolog.Logger
}

// NewReconcileJob creates the daily reconciliation job
func NewReconcileJob(wallets *wallet.Repository, log zerolog.Logger) *ReconcileJob {
	return &ReconcileJob{
		wallets: wallets,
		log:     log.With().Str("job", "reconcile").Logger(),
	}
}

// Name returns the job name
func (j *ReconcileJob) Name() string {
	return "reconcile"
}

// Run reconciles all wallets.
func (j *ReconcileJob) Run() error {
	mismatched, err := j.wallets.ReconcileAll()
	if err != nil && !errors.Is(err, domain.ErrLedgerInvariant) {
		return err
	}
	if len(mismatched) > 0 {
		j.log.Error().Strs("user_ids", mismatched).Msg("Ledger reconciliation mismatch")
		return fmt.Errorf("ledger reconciliation found %d mismatched wallets", len(mismatched))
	}

	j.log.Debug().Msg("All wallets reconciled")
	return nil
}
