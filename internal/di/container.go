// Package di wires the application: database, repositories, services and
// jobs, in that order. The Container is the single source of truth for all
// instances.
package di

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"compengine/internal/config"
	"compengine/internal/database"
	"compengine/internal/events"
	"compengine/internal/modules/activation"
	"compengine/internal/modules/binary"
	"compengine/internal/modules/bv"
	"compengine/internal/modules/distribution"
	"compengine/internal/modules/epin"
	"compengine/internal/modules/franchise"
	"compengine/internal/modules/funds"
	"compengine/internal/modules/placement"
	"compengine/internal/modules/rank"
	"compengine/internal/modules/settings"
	"compengine/internal/modules/users"
	"compengine/internal/modules/wallet"
	"compengine/internal/scheduler"
)

// Container holds all application dependencies.
type Container struct {
	CoreDB *database.DB

	EventManager *events.Manager

	// Repositories
	Users    *users.Repository
	Wallets  *wallet.Repository
	BV       *bv.Repository
	EPINs    *epin.Repository
	PV       *binary.PVRepository
	Sessions *binary.SessionRepository
	Pending  *binary.PendingRepository
	Settings *settings.Repository

	// Services
	Placement    *placement.Allocator
	Ranks        *rank.Service
	Engine       *binary.Engine
	Activation   *activation.Service
	Distribution *distribution.Service
	Funds        *funds.Service
	Franchise    *franchise.Service

	// Jobs
	Scheduler    *scheduler.Scheduler
	SessionJob   *scheduler.SessionJob
	FundsJob     *scheduler.FundsJob
	RoyaltyJob   *scheduler.RoyaltyJob
	ReconcileJob *scheduler.ReconcileJob
}

// Wire initializes all dependencies. Order: database, repositories,
// services, listeners, jobs.
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	c := &Container{}

	coreDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "core.db"),
		Profile: database.ProfileLedger,
		Name:    "core",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open core database: %w", err)
	}
	if err := coreDB.Migrate(); err != nil {
		coreDB.Close()
		return nil, fmt.Errorf("failed to migrate core database: %w", err)
	}
	c.CoreDB = coreDB
	db := coreDB.Conn()

	c.EventManager = events.NewManager(events.NewBus(log), log)

	// Stored settings override env-derived percents and the EPIN gate.
	c.Settings = settings.NewRepository(db, log)
	if err := cfg.UpdateFromSettings(c.Settings); err != nil {
		coreDB.Close()
		return nil, fmt.Errorf("failed to apply settings overrides: %w", err)
	}

	c.Users = users.NewRepository(db, log)
	c.Wallets = wallet.NewRepository(db, log)
	c.BV = bv.NewRepository(db, cfg.CarPoolPercent, cfg.HousePoolPercent, log)
	c.EPINs = epin.NewRepository(db, log)
	c.PV = binary.NewPVRepository(db, log)
	c.Sessions = binary.NewSessionRepository(db, log)
	c.Pending = binary.NewPendingRepository(db, log)

	c.Placement = placement.NewAllocator(db, log)
	c.Ranks = rank.NewService(db, c.Wallets, log)
	c.Engine = binary.NewEngine(db, c.PV, c.Sessions, c.Pending, c.Users, c.Wallets, c.Ranks, c.EventManager, log)
	c.Activation = activation.NewService(db, cfg.EPINToken, c.Users, c.EPINs, c.PV, c.BV, c.Engine, c.EventManager, log)
	c.Distribution = distribution.NewService(db, cfg.RoyaltyPoolPercent, c.Users, c.Wallets, c.BV, log)
	c.Funds = funds.NewService(db, c.Wallets, log)
	c.Franchise = franchise.NewService(db, c.Wallets, c.BV, c.EventManager, log)

	// BV fan-out listens on the bus; every CreditBV emitter reaches it.
	c.Distribution.Register(c.EventManager.Bus())

	c.Scheduler = scheduler.New(cfg.Location(), log)
	c.SessionJob = scheduler.NewSessionJob(c.Engine, cfg.Location(), log)
	c.FundsJob = scheduler.NewFundsJob(c.Funds, cfg.Location(), log)
	c.RoyaltyJob = scheduler.NewRoyaltyJob(c.Distribution, c.BV, log)
	c.ReconcileJob = scheduler.NewReconcileJob(c.Wallets, log)

	log.Info().Msg("Dependency wiring completed")
	return c, nil
}

// RegisterJobs puts the jobs on their schedules. Cron expressions carry a
// seconds field.
func (c *Container) RegisterJobs() error {
	// Session trigger every minute; the unique run key absorbs re-fires.
	if err := c.Scheduler.AddJob("0 * * * * *", c.SessionJob); err != nil {
		return err
	}
	// Monthly pools on the 1st at 01:00, the royalty cycle at 01:30.
	if err := c.Scheduler.AddJob("0 0 1 1 * *", c.FundsJob); err != nil {
		return err
	}
	if err := c.Scheduler.AddJob("0 30 1 1 * *", c.RoyaltyJob); err != nil {
		return err
	}
	// Ledger reconciliation daily at 04:30, outside every session window.
	if err := c.Scheduler.AddJob("0 30 4 * * *", c.ReconcileJob); err != nil {
		return err
	}
	return nil
}

// Close releases all resources.
func (c *Container) Close() {
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.CoreDB != nil {
		c.CoreDB.Close()
	}
}
