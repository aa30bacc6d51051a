package binary

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"compengine/internal/database"
	"compengine/internal/domain"
	"compengine/internal/events"
	"compengine/internal/modules/rank"
	"compengine/internal/modules/users"
	"compengine/internal/modules/wallet"
	"compengine/internal/plan"
)

// Engine runs one compensation session: match red PV pairs per package,
// credit pair income, advance ranks and unlock pending incomes.
type Engine struct {
	db       *sql.DB
	pv       *PVRepository
	sessions *SessionRepository
	pending  *PendingRepository
	users    *users.Repository
	wallets  *wallet.Repository
	ranks    *rank.Service
	events   *events.Manager
	log      zerolog.Logger
}

// NewEngine creates a new session engine
func NewEngine(db *sql.DB, pv *PVRepository, sessions *SessionRepository, pending *PendingRepository,
	userRepo *users.Repository, wallets *wallet.Repository, ranks *rank.Service,
	eventManager *events.Manager, log zerolog.Logger) *Engine {
	return &Engine{
		db:       db,
		pv:       pv,
		sessions: sessions,
		pending:  pending,
		users:    userRepo,
		wallets:  wallets,
		ranks:    ranks,
		events:   eventManager,
		log:      log.With().Str("engine", "binary").Logger(),
	}
}

// RunResult summarizes one RunSession call.
type RunResult struct {
	Run        *domain.SessionRun
	PairsPaid  int
	AlreadyRan bool
	Failures   []string
}

// pairOutcome carries what one committed pair transaction did, for event
// emission after the commit.
type pairOutcome struct {
	userID       string
	packageCode  string
	amount       float64
	leftEntryID  int64
	rightEntryID int64
	skipped      bool
	rankStep     *rank.StepResult
}

// RunSession executes the session identified by (dateKey, sessionIndex).
// The run row insert is the at-most-once gate: a slot that already ran comes
// back as a no-op result, never an error. Individual user failures are
// recorded on the run and do not abort the session.
func (e *Engine) RunSession(dateKey string, sessionIndex int) (*RunResult, error) {
	if sessionIndex < 1 || sessionIndex > plan.SessionCount {
		return nil, fmt.Errorf("%w: session index %d out of range", domain.ErrValidation, sessionIndex)
	}

	run, err := e.sessions.InsertRun(dateKey, sessionIndex)
	if errors.Is(err, domain.ErrAlreadyProcessed) {
		existing, getErr := e.sessions.GetRun(dateKey, sessionIndex)
		if getErr != nil {
			return nil, getErr
		}
		e.log.Debug().Str("date_key", dateKey).Int("session", sessionIndex).Msg("Session already ran, skipping")
		return &RunResult{Run: existing, AlreadyRan: true, PairsPaid: existing.ProcessedPairs}, nil
	}
	if err != nil {
		return nil, err
	}

	e.log.Info().Str("date_key", dateKey).Int("session", sessionIndex).Str("run_id", run.ID).Msg("Session started")

	result := &RunResult{Run: run}

	for _, pkgCode := range plan.PackageOrder {
		pkg, err := plan.Lookup(pkgCode)
		if err != nil {
			return nil, err
		}

		candidates, err := e.pv.Candidates(pkgCode)
		if err != nil {
			return nil, err
		}

		for _, userID := range candidates {
			outcome, err := e.processPair(run, userID, pkg)
			if err != nil {
				// One user's failure never takes the session down.
				result.Failures = append(result.Failures, fmt.Sprintf("%s/%s: %v", userID, pkgCode, err))
				e.log.Warn().Err(err).Str("user_id", userID).Str("package", pkgCode).Msg("Pair processing failed")
				continue
			}
			if outcome.skipped {
				continue
			}

			result.PairsPaid++
			e.emitPairEvents(run, outcome)
		}
	}

	if err := e.sessions.FinalizeRun(run.ID, strings.Join(result.Failures, "; ")); err != nil {
		return nil, err
	}

	run.ProcessedPairs = result.PairsPaid
	run.Finalized = true

	e.events.EmitTyped("binary", &events.SessionCompletedData{
		SessionRunID:   run.ID,
		DateKey:        dateKey,
		SessionIndex:   sessionIndex,
		ProcessedPairs: result.PairsPaid,
	})

	e.log.Info().
		Str("run_id", run.ID).
		Int("pairs_paid", result.PairsPaid).
		Int("failures", len(result.Failures)).
		Msg("Session finalized")

	return result, nil
}

// processPair matches and pays at most one pair for (user, package) in one
// short transaction. Flip, credit and pair record commit together or not at
// all.
func (e *Engine) processPair(run *domain.SessionRun, userID string, pkg plan.PackagePlan) (*pairOutcome, error) {
	outcome := &pairOutcome{userID: userID, packageCode: pkg.Code, amount: pkg.PairIncome}

	err := database.WithTransaction(e.db, func(tx *sql.Tx) error {
		user, err := e.users.GetByIDTx(tx, userID)
		if err != nil {
			return err
		}
		if !plan.Owns(user.ActivePackage, pkg.Code) {
			outcome.skipped = true
			return nil
		}

		paid, err := e.sessions.PairCountTx(tx, run.ID, userID, pkg.Code)
		if err != nil {
			return err
		}
		if paid >= pkg.CapPerSession {
			outcome.skipped = true
			return nil
		}

		token := uuid.NewString()

		leftID, err := e.pv.EarliestRedTx(tx, userID, pkg.Code, domain.SideLeft)
		if err != nil {
			return err
		}
		rightID, err := e.pv.EarliestRedTx(tx, userID, pkg.Code, domain.SideRight)
		if err != nil {
			return err
		}

		if err := e.pv.ReserveTx(tx, leftID, token); err != nil {
			return err
		}
		if err := e.pv.ReserveTx(tx, rightID, token); err != nil {
			return err
		}

		if err := e.pv.FlipPairTx(tx, leftID, rightID, run.ID, token); err != nil {
			return err
		}

		refs := fmt.Sprintf("session:%s", run.ID)
		if _, err := e.wallets.CreditTx(tx, userID, pkg.PairIncome, domain.CategoryBinary, refs,
			fmt.Sprintf("pair income %s", pkg.Code)); err != nil {
			return err
		}

		if err := e.sessions.AddPairTx(tx, run.ID, userID, pkg.Code, leftID, rightID, pkg.PairIncome); err != nil {
			return err
		}

		step, err := e.ranks.OnPairPaidTx(tx, userID, pkg.Code)
		if err != nil {
			return err
		}

		// A silver pair unlocks the matching gold and ruby incomes. Owned
		// upgrade packages pay out now; the rest sit as pending rows.
		if pkg.Code == plan.PackageSilver {
			if err := e.unlockUpgradeIncomes(tx, user, leftID); err != nil {
				return err
			}
		}

		outcome.leftEntryID = leftID
		outcome.rightEntryID = rightID
		outcome.rankStep = step
		return nil
	})
	if err != nil {
		return nil, err
	}

	return outcome, nil
}

// unlockUpgradeIncomes writes one pending income row per upgrade package and
// immediately materializes rows for packages the user already owns.
func (e *Engine) unlockUpgradeIncomes(tx *sql.Tx, user *domain.User, sourceEntryID int64) error {
	for _, upgrade := range []string{plan.PackageGold, plan.PackageRuby} {
		pkg, err := plan.Lookup(upgrade)
		if err != nil {
			return err
		}
		if err := e.pending.AddTx(tx, user.ID, upgrade, pkg.PairIncome, sourceEntryID); err != nil {
			return err
		}
		if plan.Owns(user.ActivePackage, upgrade) {
			if err := e.materializePendingTx(tx, user.ID, upgrade); err != nil {
				return err
			}
		}
	}
	return nil
}

// MaterializePending pays out all unmaterialized pending incomes of (user,
// package). Activation calls this when a user upgrades into a package that
// already has unlocked income waiting.
func (e *Engine) MaterializePending(userID, packageCode string) (float64, error) {
	var total float64
	err := database.WithTransaction(e.db, func(tx *sql.Tx) error {
		var err error
		total, err = e.materializePendingAmountTx(tx, userID, packageCode)
		return err
	})
	return total, err
}

// MaterializePendingTx is MaterializePending inside a caller-owned
// transaction.
func (e *Engine) MaterializePendingTx(tx *sql.Tx, userID, packageCode string) (float64, error) {
	return e.materializePendingAmountTx(tx, userID, packageCode)
}

func (e *Engine) materializePendingTx(tx *sql.Tx, userID, packageCode string) error {
	_, err := e.materializePendingAmountTx(tx, userID, packageCode)
	return err
}

func (e *Engine) materializePendingAmountTx(tx *sql.Tx, userID, packageCode string) (float64, error) {
	rows, err := e.pending.ListUnmaterializedTx(tx, userID, packageCode)
	if err != nil {
		return 0, err
	}

	var total float64
	for _, row := range rows {
		flipped, err := e.pending.MarkMaterializedTx(tx, row.ID)
		if err != nil {
			return 0, err
		}
		if !flipped {
			continue
		}

		refs := fmt.Sprintf("pending:%d", row.ID)
		if _, err := e.wallets.CreditTx(tx, userID, row.Amount, domain.CategoryBinary, refs,
			fmt.Sprintf("unlocked pair income %s", packageCode)); err != nil {
			return 0, err
		}
		total += row.Amount
	}

	if total > 0 {
		e.log.Info().
			Str("user_id", userID).
			Str("package", packageCode).
			Float64("amount", total).
			Msg("Pending incomes materialized")
	}

	return total, nil
}

func (e *Engine) emitPairEvents(run *domain.SessionRun, outcome *pairOutcome) {
	e.events.EmitTyped("binary", &events.PairPaidData{
		UserID:       outcome.userID,
		PackageCode:  outcome.packageCode,
		Amount:       outcome.amount,
		SessionRunID: run.ID,
		LeftEntryID:  outcome.leftEntryID,
		RightEntryID: outcome.rightEntryID,
	})

	if outcome.rankStep != nil && outcome.rankStep.Advanced {
		e.events.EmitTyped("binary", &events.RankAdvancedData{
			UserID:      outcome.userID,
			PackageCode: outcome.packageCode,
			RankIndex:   outcome.rankStep.RankIndex,
			Income:      outcome.rankStep.RankIncome,
		})
	}
}
