package activation

import (
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compengine/internal/domain"
	"compengine/internal/events"
	"compengine/internal/modules/binary"
	"compengine/internal/modules/bv"
	"compengine/internal/modules/distribution"
	"compengine/internal/modules/epin"
	"compengine/internal/modules/rank"
	"compengine/internal/modules/users"
	"compengine/internal/modules/wallet"
	"compengine/internal/plan"
	testdb "compengine/internal/testing"
)

type testEnv struct {
	db      *sql.DB
	svc     *Service
	epins   *epin.Repository
	wallets *wallet.Repository
	engine  *binary.Engine
}

// newTestEnv wires the full activation path: EPINs, PV, BV, the binary
// engine and the distributor listening on the bus.
func newTestEnv(t *testing.T, epinEnabled bool) (*testEnv, func()) {
	t.Helper()
	db, cleanup := testdb.NewTestDB(t)
	nop := zerolog.Nop()

	userRepo := users.NewRepository(db, nop)
	wallets := wallet.NewRepository(db, nop)
	bvRepo := bv.NewRepository(db, 2, 2, nop)
	epins := epin.NewRepository(db, nop)
	pv := binary.NewPVRepository(db, nop)

	engine := binary.NewEngine(db, pv, binary.NewSessionRepository(db, nop),
		binary.NewPendingRepository(db, nop), userRepo, wallets,
		rank.NewService(db, wallets, nop), events.NewManager(events.NewBus(nop), nop), nop)

	bus := events.NewBus(nop)
	manager := events.NewManager(bus, nop)
	distribution.NewService(db, 3, userRepo, wallets, bvRepo, nop).Register(bus)

	svc := NewService(db, epinEnabled, userRepo, epins, pv, bvRepo, engine, manager, nop)
	return &testEnv{db: db, svc: svc, epins: epins, wallets: wallets, engine: engine}, cleanup
}

func grantEPIN(t *testing.T, env *testEnv, pkg, userID string) string {
	t.Helper()
	codes, err := env.epins.Generate(1, pkg, "admin")
	require.NoError(t, err)
	require.NoError(t, env.epins.Transfer(codes[0], "", userID))
	return codes[0]
}

func TestActivateWithEPINFansOutLevelIncome(t *testing.T) {
	env, cleanup := newTestEnv(t, true)
	defer cleanup()

	// Sponsor chain s3 -> s2 -> s1 -> buyer; placement chain s2 -> s1 ->
	// buyer with the buyer hanging on left legs all the way up.
	testdb.SeedUser(t, env.db, "s3", "", plan.PackageSilver)
	testdb.SeedUser(t, env.db, "s2", "s3", plan.PackageSilver)
	testdb.SeedPlacedUser(t, env.db, "s1", "s2", "s2", "L", plan.PackageSilver)
	testdb.SeedPlacedUser(t, env.db, "buyer", "s1", "s1", "L", "")

	code := grantEPIN(t, env, plan.PackageGold, "buyer")

	result, err := env.svc.Activate(Params{UserID: "buyer", PackageCode: plan.PackageGold, EPINCode: code})
	require.NoError(t, err)
	assert.Equal(t, 155.0, result.BV)
	assert.Equal(t, 2, result.PVEntries)

	// One red gold entry per placement ancestor, on the buyer's leg.
	assert.Equal(t, 1, testdb.CountRows(t, env.db, "pv_entries",
		"user_id = 's1' AND package_code = 'gold' AND side = 'L' AND state = 'red'"))
	assert.Equal(t, 1, testdb.CountRows(t, env.db, "pv_entries",
		"user_id = 's2' AND package_code = 'gold' AND side = 'L' AND state = 'red'"))

	// 0.5% of 155 BV to each of the three sponsors, via the bus.
	assert.Equal(t, 0.775, testdb.WalletBalance(t, env.db, "s1"))
	assert.Equal(t, 0.775, testdb.WalletBalance(t, env.db, "s2"))
	assert.Equal(t, 0.775, testdb.WalletBalance(t, env.db, "s3"))

	pin, err := env.epins.GetByCode(code)
	require.NoError(t, err)
	assert.True(t, pin.IsUsed)
	assert.Equal(t, "buyer", pin.UsedBy)

	var active string
	require.NoError(t, env.db.QueryRow(`SELECT active_package FROM users WHERE id = 'buyer'`).Scan(&active))
	assert.Equal(t, "gold", active)

	assert.Equal(t, 1, testdb.CountRows(t, env.db, "bv_ledger", "user_id = 'buyer' AND amount = 155"))
}

func TestActivateRequiresEPINOrPayment(t *testing.T) {
	env, cleanup := newTestEnv(t, true)
	defer cleanup()

	testdb.SeedUser(t, env.db, "u1", "", "")

	_, err := env.svc.Activate(Params{UserID: "u1", PackageCode: plan.PackageSilver})
	assert.ErrorIs(t, err, domain.ErrPaymentRequired)

	_, err = env.svc.Activate(Params{UserID: "u1", PackageCode: plan.PackageSilver, PaymentRef: "pay:1"})
	require.NoError(t, err)
}

func TestActivateIgnoresEPINWhenGateOff(t *testing.T) {
	env, cleanup := newTestEnv(t, false)
	defer cleanup()

	testdb.SeedUser(t, env.db, "u1", "", "")
	code := grantEPIN(t, env, plan.PackageSilver, "u1")

	// EPIN path disabled: the code alone is not enough.
	_, err := env.svc.Activate(Params{UserID: "u1", PackageCode: plan.PackageSilver, EPINCode: code})
	assert.ErrorIs(t, err, domain.ErrPaymentRequired)

	pin, err := env.epins.GetByCode(code)
	require.NoError(t, err)
	assert.False(t, pin.IsUsed)
}

func TestActivateUnknownPackage(t *testing.T) {
	env, cleanup := newTestEnv(t, true)
	defer cleanup()

	_, err := env.svc.Activate(Params{UserID: "u1", PackageCode: "platinum", PaymentRef: "pay:1"})
	assert.ErrorIs(t, err, domain.ErrUnknownPackage)
}

func TestActivateRejectsDowngradeAndRepeat(t *testing.T) {
	env, cleanup := newTestEnv(t, true)
	defer cleanup()

	testdb.SeedUser(t, env.db, "u1", "", plan.PackageGold)

	_, err := env.svc.Activate(Params{UserID: "u1", PackageCode: plan.PackageSilver, PaymentRef: "pay:1"})
	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)

	_, err = env.svc.Activate(Params{UserID: "u1", PackageCode: plan.PackageGold, PaymentRef: "pay:2"})
	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)

	_, err = env.svc.Activate(Params{UserID: "u1", PackageCode: plan.PackageRuby, PaymentRef: "pay:3"})
	require.NoError(t, err)
}

func TestActivateWrongPackageEPINRollsBack(t *testing.T) {
	env, cleanup := newTestEnv(t, true)
	defer cleanup()

	testdb.SeedUser(t, env.db, "u1", "", "")
	code := grantEPIN(t, env, plan.PackageSilver, "u1")

	_, err := env.svc.Activate(Params{UserID: "u1", PackageCode: plan.PackageGold, EPINCode: code})
	assert.ErrorIs(t, err, domain.ErrConflict)

	// Everything rolled back: EPIN unused, package untouched, no BV.
	pin, err := env.epins.GetByCode(code)
	require.NoError(t, err)
	assert.False(t, pin.IsUsed)

	var active string
	require.NoError(t, env.db.QueryRow(`SELECT active_package FROM users WHERE id = 'u1'`).Scan(&active))
	assert.Equal(t, "", active)
	assert.Equal(t, 0, testdb.CountRows(t, env.db, "bv_ledger", "user_id = 'u1'"))
}

func TestUpgradeMaterializesPendingIncome(t *testing.T) {
	env, cleanup := newTestEnv(t, true)
	defer cleanup()

	// A silver pair already ran and left the gold income pending.
	testdb.SeedUser(t, env.db, "u1", "", plan.PackageSilver)
	testdb.SeedPVEntry(t, env.db, "u1", plan.PackageSilver, "L", 35)
	testdb.SeedPVEntry(t, env.db, "u1", plan.PackageSilver, "R", 35)
	_, err := env.engine.RunSession("2026-01-05", 1)
	require.NoError(t, err)
	require.Equal(t, 10.0, testdb.WalletBalance(t, env.db, "u1"))

	result, err := env.svc.Activate(Params{UserID: "u1", PackageCode: plan.PackageGold, PaymentRef: "pay:9"})
	require.NoError(t, err)
	assert.Equal(t, 50.0, result.Unlocked)
	assert.Equal(t, 60.0, testdb.WalletBalance(t, env.db, "u1"))

	// The ruby income is still waiting for its own upgrade.
	assert.Equal(t, 1, testdb.CountRows(t, env.db, "pending_incomes",
		"user_id = 'u1' AND package_code = 'ruby' AND materialized = 0"))
}
