package franchise

import (
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compengine/internal/domain"
	"compengine/internal/events"
	"compengine/internal/modules/bv"
	"compengine/internal/modules/distribution"
	"compengine/internal/modules/users"
	"compengine/internal/modules/wallet"
	"compengine/internal/plan"
	testdb "compengine/internal/testing"
)

// newTestService wires the franchise service with the distributor on the bus
// so sales fan out level and referrer income like production does.
func newTestService(t *testing.T) (*Service, *sql.DB, func()) {
	t.Helper()
	db, cleanup := testdb.NewTestDB(t)
	nop := zerolog.Nop()

	wallets := wallet.NewRepository(db, nop)
	bvRepo := bv.NewRepository(db, 2, 2, nop)

	bus := events.NewBus(nop)
	distribution.NewService(db, 3, users.NewRepository(db, nop), wallets, bvRepo, nop).Register(bus)

	svc := NewService(db, wallets, bvRepo, events.NewManager(bus, nop), nop)
	return svc, db, cleanup
}

func seedFranchiseWithProduct(t *testing.T, svc *Service, holderPercent, price, bvAmount float64, stock int) (*domain.Franchise, *domain.FranchiseProduct) {
	t.Helper()
	f, err := svc.Create("holder", holderPercent)
	require.NoError(t, err)
	p, err := svc.AddProduct(f.ID, "starter kit", price, bvAmount, stock)
	require.NoError(t, err)
	return f, p
}

func TestRecordSalePaysHolderAndCreditsBV(t *testing.T) {
	svc, db, cleanup := newTestService(t)
	defer cleanup()

	testdb.SeedUser(t, db, "holder", "", plan.PackageSilver)
	testdb.SeedUser(t, db, "sponsor", "", plan.PackageSilver)
	testdb.SeedUser(t, db, "buyer", "sponsor", plan.PackageSilver)

	f, p := seedFranchiseWithProduct(t, svc, 8, 500, 200, 10)

	sale, err := svc.RecordSale(SaleParams{
		FranchiseID: f.ID,
		ProductID:   p.ID,
		BuyerUserID: "buyer",
		Quantity:    2,
	})
	require.NoError(t, err)
	assert.Equal(t, 1000.0, sale.SalePrice)
	assert.Equal(t, 400.0, sale.BVAmount)
	assert.Equal(t, 80.0, sale.HolderCommission) // 8% of 1000
	assert.Equal(t, 0.0, sale.ReferrerIncome)

	assert.Equal(t, 80.0, testdb.WalletBalance(t, db, "holder"))

	// Sale BV lands on the buyer and fans 0.5% out to the sponsor.
	var bvSum float64
	require.NoError(t, db.QueryRow(`
		SELECT COALESCE(SUM(amount), 0) FROM bv_ledger WHERE user_id = 'buyer'
	`).Scan(&bvSum))
	assert.Equal(t, 400.0, bvSum)
	assert.InDelta(t, 2.0, testdb.WalletBalance(t, db, "sponsor"), 1e-9)

	stock, err := svc.Stock(p.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, stock)

	loaded, err := svc.GetSale(sale.ID)
	require.NoError(t, err)
	assert.Equal(t, sale.BVAmount, loaded.BVAmount)
}

func TestRecordSalePaysReferrerThroughBus(t *testing.T) {
	svc, db, cleanup := newTestService(t)
	defer cleanup()

	testdb.SeedUser(t, db, "holder", "", plan.PackageSilver)
	testdb.SeedUser(t, db, "buyer", "", plan.PackageSilver)
	testdb.SeedUser(t, db, "ref", "", plan.PackageSilver)

	f, p := seedFranchiseWithProduct(t, svc, 5, 100, 300, 5)

	sale, err := svc.RecordSale(SaleParams{
		FranchiseID:    f.ID,
		ProductID:      p.ID,
		BuyerUserID:    "buyer",
		ReferrerUserID: "ref",
		Quantity:       1,
	})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, sale.ReferrerIncome, 1e-9) // 1% of 300 BV

	// The referrer is paid once, by the distributor reacting to the BV
	// event, matching the amount recorded on the sale.
	assert.InDelta(t, 3.0, testdb.WalletBalance(t, db, "ref"), 1e-9)
	assert.Equal(t, 1, testdb.CountRows(t, db, "wallet_ledger", "user_id = 'ref'"))
}

func TestHolderPercentFloorsAtPlanMinimum(t *testing.T) {
	svc, db, cleanup := newTestService(t)
	defer cleanup()

	testdb.SeedUser(t, db, "holder", "", plan.PackageSilver)
	testdb.SeedUser(t, db, "buyer", "", plan.PackageSilver)

	f, err := svc.Create("holder", 1)
	require.NoError(t, err)
	assert.Equal(t, plan.FranchiseHolderMinPercent, f.HolderPercent)

	p, err := svc.AddProduct(f.ID, "kit", 200, 0, 1)
	require.NoError(t, err)

	sale, err := svc.RecordSale(SaleParams{FranchiseID: f.ID, ProductID: p.ID, BuyerUserID: "buyer", Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, 10.0, sale.HolderCommission) // 5% of 200
	// Zero-BV product: no BV ledger row, no fan-out.
	assert.Equal(t, 0, testdb.CountRows(t, db, "bv_ledger", "user_id = 'buyer'"))
}

func TestRecordSaleInsufficientStockRollsBack(t *testing.T) {
	svc, db, cleanup := newTestService(t)
	defer cleanup()

	testdb.SeedUser(t, db, "holder", "", plan.PackageSilver)
	testdb.SeedUser(t, db, "buyer", "", plan.PackageSilver)

	f, p := seedFranchiseWithProduct(t, svc, 5, 100, 50, 1)

	_, err := svc.RecordSale(SaleParams{FranchiseID: f.ID, ProductID: p.ID, BuyerUserID: "buyer", Quantity: 2})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	stock, err := svc.Stock(p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stock)
	assert.Equal(t, 0.0, testdb.WalletBalance(t, db, "holder"))
	assert.Equal(t, 0, testdb.CountRows(t, db, "franchise_sales", "1=1"))
}

func TestRestock(t *testing.T) {
	svc, _, cleanup := newTestService(t)
	defer cleanup()

	_, p := seedFranchiseWithProduct(t, svc, 5, 100, 50, 1)
	require.NoError(t, svc.Restock(p.ID, 4))

	stock, err := svc.Stock(p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stock)

	err = svc.Restock(9999, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecordSaleUnknownFranchise(t *testing.T) {
	svc, _, cleanup := newTestService(t)
	defer cleanup()

	_, err := svc.RecordSale(SaleParams{FranchiseID: "nope", ProductID: 1, BuyerUserID: "b", Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
