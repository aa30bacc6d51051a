// Package franchise implements franchise stock and sales. A sale atomically
// decrements stock, pays the holder commission and credits the sale BV,
// which fans out to level and referrer income through the BV event.
package franchise

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"compengine/internal/database"
	"compengine/internal/domain"
	"compengine/internal/events"
	"compengine/internal/modules/bv"
	"compengine/internal/modules/wallet"
	"compengine/internal/plan"
)

// Service handles franchise operations
type Service struct {
	db      *sql.DB
	wallets *wallet.Repository
	bv      *bv.Repository
	events  *events.Manager
	log     zerolog.Logger
}

// NewService creates a new franchise service
func NewService(db *sql.DB, wallets *wallet.Repository, bvRepo *bv.Repository,
	eventManager *events.Manager, log zerolog.Logger) *Service {
	return &Service{
		db:      db,
		wallets: wallets,
		bv:      bvRepo,
		events:  eventManager,
		log:     log.With().Str("service", "franchise").Logger(),
	}
}

// Create registers a new franchise. The holder percent floors at the plan
// minimum.
func (s *Service) Create(ownerUserID string, holderPercent float64) (*domain.Franchise, error) {
	if ownerUserID == "" {
		return nil, fmt.Errorf("%w: franchise owner required", domain.ErrValidation)
	}
	if holderPercent < plan.FranchiseHolderMinPercent {
		holderPercent = plan.FranchiseHolderMinPercent
	}

	f := &domain.Franchise{
		ID:            uuid.NewString(),
		OwnerUserID:   ownerUserID,
		HolderPercent: holderPercent,
		CreatedAt:     time.Now(),
	}

	_, err := s.db.Exec(`
		INSERT INTO franchises (id, owner_user_id, holder_percent, created_at)
		VALUES (?, ?, ?, ?)
	`, f.ID, f.OwnerUserID, f.HolderPercent, f.CreatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to create franchise: %w", err)
	}

	return f, nil
}

// AddProduct stocks a product under a franchise.
func (s *Service) AddProduct(franchiseID, name string, price, bvAmount float64, stock int) (*domain.FranchiseProduct, error) {
	if price <= 0 || bvAmount < 0 || stock < 0 {
		return nil, fmt.Errorf("%w: invalid product parameters", domain.ErrValidation)
	}

	p := &domain.FranchiseProduct{
		FranchiseID: franchiseID,
		Name:        name,
		Price:       price,
		BV:          bvAmount,
		Stock:       stock,
		CreatedAt:   time.Now(),
	}

	res, err := s.db.Exec(`
		INSERT INTO franchise_products (franchise_id, name, price, bv, stock, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.FranchiseID, p.Name, p.Price, p.BV, p.Stock, p.CreatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to add product: %w", err)
	}

	p.ID, _ = res.LastInsertId()
	return p, nil
}

// Restock adds stock to a product.
func (s *Service) Restock(productID int64, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: restock quantity must be positive", domain.ErrValidation)
	}
	res, err := s.db.Exec(`
		UPDATE franchise_products SET stock = stock + ? WHERE id = ?
	`, qty, productID)
	if err != nil {
		return fmt.Errorf("failed to restock product: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: product %d", domain.ErrNotFound, productID)
	}
	return nil
}

// SaleParams is one sale request.
type SaleParams struct {
	FranchiseID    string
	ProductID      int64
	BuyerUserID    string
	ReferrerUserID string
	Quantity       int
}

// RecordSale executes a sale: decrement stock, persist the record, pay the
// holder commission and credit the sale BV to the buyer. Referrer and level
// income follow from the emitted BV event.
func (s *Service) RecordSale(p SaleParams) (*domain.FranchiseSale, error) {
	if p.Quantity <= 0 {
		return nil, fmt.Errorf("%w: sale quantity must be positive", domain.ErrValidation)
	}

	sale := &domain.FranchiseSale{
		ID:             uuid.NewString(),
		FranchiseID:    p.FranchiseID,
		ProductID:      p.ProductID,
		BuyerUserID:    p.BuyerUserID,
		ReferrerUserID: p.ReferrerUserID,
		Quantity:       p.Quantity,
		CreatedAt:      time.Now(),
	}

	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		var holderPercent float64
		var ownerUserID string
		err := tx.QueryRow(`
			SELECT owner_user_id, holder_percent FROM franchises WHERE id = ?
		`, p.FranchiseID).Scan(&ownerUserID, &holderPercent)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: franchise %s", domain.ErrNotFound, p.FranchiseID)
		}
		if err != nil {
			return fmt.Errorf("failed to load franchise: %w", err)
		}
		if holderPercent < plan.FranchiseHolderMinPercent {
			holderPercent = plan.FranchiseHolderMinPercent
		}

		var price, bvPerUnit float64
		err = tx.QueryRow(`
			SELECT price, bv FROM franchise_products WHERE id = ? AND franchise_id = ?
		`, p.ProductID, p.FranchiseID).Scan(&price, &bvPerUnit)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: product %d", domain.ErrNotFound, p.ProductID)
		}
		if err != nil {
			return fmt.Errorf("failed to load product: %w", err)
		}

		res, err := tx.Exec(`
			UPDATE franchise_products SET stock = stock - ? WHERE id = ? AND stock >= ?
		`, p.Quantity, p.ProductID, p.Quantity)
		if err != nil {
			return fmt.Errorf("failed to decrement stock: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return fmt.Errorf("%w: product %d has less than %d in stock", domain.ErrInsufficientStock, p.ProductID, p.Quantity)
		}

		sale.SalePrice = price * float64(p.Quantity)
		sale.BVAmount = bvPerUnit * float64(p.Quantity)
		sale.HolderCommission = sale.SalePrice * holderPercent / 100
		if p.ReferrerUserID != "" {
			sale.ReferrerIncome = sale.BVAmount * plan.FranchiseReferrerRate
		}

		_, err = tx.Exec(`
			INSERT INTO franchise_sales (id, franchise_id, product_id, buyer_user_id, referrer_user_id,
				quantity, sale_price, bv_amount, holder_commission, referrer_income, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, sale.ID, sale.FranchiseID, sale.ProductID, sale.BuyerUserID, nullString(sale.ReferrerUserID),
			sale.Quantity, sale.SalePrice, sale.BVAmount, sale.HolderCommission, sale.ReferrerIncome,
			sale.CreatedAt.Unix())
		if err != nil {
			return fmt.Errorf("failed to record sale: %w", err)
		}

		refs := fmt.Sprintf("sale:%s", sale.ID)
		if _, err := s.wallets.CreditTx(tx, ownerUserID, sale.HolderCommission, domain.CategoryFranchiseHolder, refs, "holder commission"); err != nil {
			return err
		}

		if sale.BVAmount > 0 {
			if err := s.bv.CreditBVTx(tx, p.BuyerUserID, sale.BVAmount, "franchise", sale.ID); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.EmitTyped("franchise", &events.FranchiseSaleData{
		SaleID:      sale.ID,
		FranchiseID: sale.FranchiseID,
		BuyerID:     sale.BuyerUserID,
		BVAmount:    sale.BVAmount,
	})
	if sale.BVAmount > 0 {
		s.events.EmitTyped("franchise", &events.BVCreditedData{
			UserID:       sale.BuyerUserID,
			Amount:       sale.BVAmount,
			Source:       "franchise",
			FranchiseRef: sale.ID,
			ReferrerID:   sale.ReferrerUserID,
		})
	}

	s.log.Info().
		Str("sale_id", sale.ID).
		Str("franchise_id", sale.FranchiseID).
		Float64("price", sale.SalePrice).
		Float64("bv", sale.BVAmount).
		Msg("Franchise sale recorded")

	return sale, nil
}

// GetSale loads one sale record.
func (s *Service) GetSale(saleID string) (*domain.FranchiseSale, error) {
	row := s.db.QueryRow(`
		SELECT id, franchise_id, product_id, buyer_user_id, referrer_user_id,
			quantity, sale_price, bv_amount, holder_commission, referrer_income, created_at
		FROM franchise_sales WHERE id = ?
	`, saleID)

	var sale domain.FranchiseSale
	var referrer sql.NullString
	var createdAt int64
	err := row.Scan(&sale.ID, &sale.FranchiseID, &sale.ProductID, &sale.BuyerUserID, &referrer,
		&sale.Quantity, &sale.SalePrice, &sale.BVAmount, &sale.HolderCommission, &sale.ReferrerIncome, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: sale %s", domain.ErrNotFound, saleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sale: %w", err)
	}

	sale.ReferrerUserID = referrer.String
	sale.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &sale, nil
}

// Stock returns a product's current stock.
func (s *Service) Stock(productID int64) (int, error) {
	var stock int
	err := s.db.QueryRow(`SELECT stock FROM franchise_products WHERE id = ?`, productID).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: product %d", domain.ErrNotFound, productID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read stock: %w", err)
	}
	return stock, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
