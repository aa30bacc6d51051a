// Package activation implements package activation: EPIN or payment intake,
// the user's package switch, PV propagation up the placement tree and the
// activation BV credit, all in one transaction.
package activation

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"compengine/internal/database"
	"compengine/internal/domain"
	"compengine/internal/events"
	"compengine/internal/modules/binary"
	"compengine/internal/modules/bv"
	"compengine/internal/modules/epin"
	"compengine/internal/modules/users"
	"compengine/internal/plan"
)

// Service performs package activations
type Service struct {
	db          *sql.DB
	epinEnabled bool
	users       *users.Repository
	epins       *epin.Repository
	pv          *binary.PVRepository
	bv          *bv.Repository
	engine      *binary.Engine
	events      *events.Manager
	log         zerolog.Logger
}

// NewService creates a new activation service. epinEnabled gates the EPIN
// path; with the gate off every activation needs a payment reference.
func NewService(db *sql.DB, epinEnabled bool, userRepo *users.Repository, epins *epin.Repository,
	pv *binary.PVRepository, bvRepo *bv.Repository, engine *binary.Engine,
	eventManager *events.Manager, log zerolog.Logger) *Service {
	return &Service{
		db:          db,
		epinEnabled: epinEnabled,
		users:       userRepo,
		epins:       epins,
		pv:          pv,
		bv:          bvRepo,
		engine:      engine,
		events:      eventManager,
		log:         log.With().Str("service", "activation").Logger(),
	}
}

// Params is one activation request. Exactly one of EPINCode and PaymentRef
// funds the activation.
type Params struct {
	UserID      string
	PackageCode string
	EPINCode    string
	PaymentRef  string
}

// Result reports what an activation did.
type Result struct {
	UserID      string
	PackageCode string
	PV          float64
	BV          float64
	PVEntries   int
	Unlocked    float64 // pending pair income materialized by the upgrade
	ActivatedAt time.Time
}

// Activate switches the user onto a package. All side effects commit
// together; a failure anywhere rolls back the EPIN consumption and the
// package fields.
func (s *Service) Activate(p Params) (*Result, error) {
	pkg, err := plan.Lookup(p.PackageCode)
	if err != nil {
		return nil, fmt.Errorf("%w: package %q", err, p.PackageCode)
	}

	now := time.Now()
	result := &Result{UserID: p.UserID, PackageCode: pkg.Code, PV: pkg.PV, BV: pkg.BV, ActivatedAt: now}

	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		user, err := s.users.GetByIDTx(tx, p.UserID)
		if err != nil {
			return err
		}

		// Packages only move up: silver -> gold -> ruby.
		if plan.PackageIndex(pkg.Code) <= plan.PackageIndex(user.ActivePackage) {
			return fmt.Errorf("%w: user %s already holds %s", domain.ErrAlreadyProcessed, user.ID, user.ActivePackage)
		}

		switch {
		case p.EPINCode != "" && s.epinEnabled:
			pin, err := s.epins.ConsumeTx(tx, p.EPINCode, p.UserID)
			if err != nil {
				return err
			}
			if pin.PackageCode != pkg.Code {
				return fmt.Errorf("%w: EPIN %s is for package %s", domain.ErrConflict, pin.Code, pin.PackageCode)
			}
		case p.PaymentRef == "":
			return fmt.Errorf("%w: activation needs an EPIN or a payment reference", domain.ErrPaymentRequired)
		}

		if err := s.users.SetActivePackageTx(tx, p.UserID, pkg.Code, now); err != nil {
			return err
		}

		// The activation volume lands on every placement ancestor, on the
		// leg containing this user. A root user produces no PV entries.
		chain, err := s.users.PlacementChainTx(tx, p.UserID)
		if err != nil {
			return err
		}
		for _, ancestor := range chain {
			if _, err := s.pv.CreditPVTx(tx, ancestor.AncestorID, pkg.Code, pkg.PV, ancestor.Side); err != nil {
				return err
			}
		}
		result.PVEntries = len(chain)

		ref := p.EPINCode
		if ref == "" {
			ref = p.PaymentRef
		}
		if err := s.bv.CreditBVTx(tx, p.UserID, pkg.BV, "activation", ref); err != nil {
			return err
		}

		// Pair income already unlocked by silver pairs pays out the moment
		// the user owns the upgrade package.
		unlocked, err := s.engine.MaterializePendingTx(tx, p.UserID, pkg.Code)
		if err != nil {
			return err
		}
		result.Unlocked = unlocked

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.EmitTyped("activation", &events.PackageActivatedData{
		UserID:      p.UserID,
		PackageCode: pkg.Code,
		PV:          pkg.PV,
		BV:          pkg.BV,
		EPINCode:    p.EPINCode,
		PaymentRef:  p.PaymentRef,
	})
	s.events.EmitTyped("activation", &events.BVCreditedData{
		UserID: p.UserID,
		Amount: pkg.BV,
		Source: "activation",
	})

	s.log.Info().
		Str("user_id", p.UserID).
		Str("package", pkg.Code).
		Int("pv_entries", result.PVEntries).
		Float64("unlocked", result.Unlocked).
		Msg("Package activated")

	return result, nil
}
