// Package epin implements the EPIN lifecycle: generate, transfer, reserve,
// consume. EPINs never expire and transfer any number of times; consumption
// is a one-way CAS on is_used.
package epin

import (
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"compengine/internal/database"
	"compengine/internal/domain"
)

const (
	codeLength  = 12
	codeCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // URL-safe, no ambiguous glyphs
)

// Repository handles EPIN database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new EPIN repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "epin").Logger(),
	}
}

// Generate creates qty new EPINs for a package in one batch insert and
// returns the codes.
func (r *Repository) Generate(qty int, packageCode, createdBy string) ([]string, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive, got %d", domain.ErrValidation, qty)
	}

	codes := make([]string, 0, qty)
	now := time.Now().Unix()

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO epins (code, package_code, created_by, created_at)
			VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare EPIN insert: %w", err)
		}
		defer stmt.Close()

		for i := 0; i < qty; i++ {
			code, err := randomCode()
			if err != nil {
				return err
			}
			if _, err := stmt.Exec(code, packageCode, createdBy, now); err != nil {
				return fmt.Errorf("failed to insert EPIN: %w", err)
			}
			codes = append(codes, code)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.log.Info().Int("qty", qty).Str("package", packageCode).Str("created_by", createdBy).Msg("EPINs generated")
	return codes, nil
}

// GetByCode loads an EPIN.
func (r *Repository) GetByCode(code string) (*domain.EPIN, error) {
	row := r.db.QueryRow(`
		SELECT code, package_code, owner_user_id, is_used, used_by, used_at,
		       reserved_by, transfer_count, created_by, created_at
		FROM epins WHERE code = ?
	`, code)

	var e domain.EPIN
	var owner, usedBy, reservedBy sql.NullString
	var usedAt sql.NullInt64
	var createdAt int64

	err := row.Scan(&e.Code, &e.PackageCode, &owner, &e.IsUsed, &usedBy, &usedAt,
		&reservedBy, &e.TransferCount, &e.CreatedBy, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: EPIN %s", domain.ErrNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get EPIN: %w", err)
	}

	e.OwnerUserID = owner.String
	e.UsedBy = usedBy.String
	e.ReservedBy = reservedBy.String
	e.CreatedAt = time.Unix(createdAt, 0).UTC()
	if usedAt.Valid {
		t := time.Unix(usedAt.Int64, 0).UTC()
		e.UsedAt = &t
	}

	return &e, nil
}

// Transfer reassigns ownership. Unlimited transfers are permitted; the only
// terminal state is is_used.
func (r *Repository) Transfer(code, fromUserID, toUserID string) error {
	if toUserID == "" {
		return fmt.Errorf("%w: transfer target required", domain.ErrValidation)
	}

	var res sql.Result
	var err error
	if fromUserID == "" {
		// Unassigned pin (e.g. freshly generated by admin)
		res, err = r.db.Exec(`
			UPDATE epins SET owner_user_id = ?, transfer_count = transfer_count + 1
			WHERE code = ? AND is_used = 0 AND owner_user_id IS NULL
		`, toUserID, code)
	} else {
		res, err = r.db.Exec(`
			UPDATE epins SET owner_user_id = ?, transfer_count = transfer_count + 1
			WHERE code = ? AND is_used = 0 AND owner_user_id = ?
		`, toUserID, code, fromUserID)
	}
	if err != nil {
		return fmt.Errorf("failed to transfer EPIN: %w", err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		pin, getErr := r.GetByCode(code)
		if getErr != nil {
			return getErr
		}
		if pin.IsUsed {
			return fmt.Errorf("%w: EPIN %s is already used", domain.ErrAlreadyProcessed, code)
		}
		return fmt.Errorf("%w: EPIN %s is not owned by %s", domain.ErrConflict, code, fromUserID)
	}

	return nil
}

// Reserve marks the pin as held by a user during an in-flight order.
func (r *Repository) Reserve(code, userID string) error {
	res, err := r.db.Exec(`
		UPDATE epins SET reserved_by = ? WHERE code = ? AND is_used = 0
	`, userID, code)
	if err != nil {
		return fmt.Errorf("failed to reserve EPIN: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: EPIN %s cannot be reserved", domain.ErrConflict, code)
	}
	return nil
}

// ConsumeTx marks the pin used by userID inside the activation transaction.
// The single-writer guarantee is the CAS on is_used; a pin assigned to a
// different owner cannot be consumed.
func (r *Repository) ConsumeTx(tx *sql.Tx, code, userID string) (*domain.EPIN, error) {
	row := tx.QueryRow(`
		SELECT code, package_code, owner_user_id, is_used FROM epins WHERE code = ?
	`, code)

	var e domain.EPIN
	var owner sql.NullString
	err := row.Scan(&e.Code, &e.PackageCode, &owner, &e.IsUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: EPIN %s", domain.ErrNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load EPIN for consumption: %w", err)
	}

	if e.IsUsed {
		return nil, fmt.Errorf("%w: EPIN %s is already used", domain.ErrAlreadyProcessed, code)
	}
	e.OwnerUserID = owner.String
	if e.OwnerUserID != "" && e.OwnerUserID != userID {
		return nil, fmt.Errorf("%w: EPIN %s belongs to another user", domain.ErrConflict, code)
	}

	now := time.Now().Unix()
	res, err := tx.Exec(`
		UPDATE epins SET is_used = 1, used_by = ?, used_at = ?, reserved_by = NULL
		WHERE code = ? AND is_used = 0
	`, userID, now, code)
	if err != nil {
		return nil, fmt.Errorf("failed to consume EPIN: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, fmt.Errorf("%w: EPIN %s was consumed concurrently", domain.ErrConflict, code)
	}

	e.IsUsed = true
	e.UsedBy = userID
	return &e, nil
}

// randomCode builds one fixed-length URL-safe code.
func randomCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate EPIN code: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeCharset[int(b)%len(codeCharset)]
	}
	return string(buf), nil
}
