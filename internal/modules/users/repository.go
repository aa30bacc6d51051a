// Package users provides the user read/write model: identity, sponsor chain
// and placement pointers. Genealogy child pointers are mutated only by the
// placement allocator.
package users

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"compengine/internal/domain"
)

const userColumns = `id, display_code, sponsor_id, placement_parent_id, placement_side,
	left_child_id, right_child_id, active_package, package_activated_at, total_royalty_received, created_at`

// Repository handles user database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new user repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "users").Logger(),
	}
}

// Create inserts a new user. Signup validation happens outside the core;
// this only persists the record.
func (r *Repository) Create(u *domain.User) error {
	if u.ID == "" || u.DisplayCode == "" {
		return fmt.Errorf("%w: user id and display code are required", domain.ErrValidation)
	}

	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := r.db.Exec(`
		INSERT INTO users (id, display_code, sponsor_id, placement_parent_id, placement_side,
			left_child_id, right_child_id, active_package, package_activated_at, total_royalty_received, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		u.ID,
		u.DisplayCode,
		nullString(u.SponsorID),
		nullString(u.PlacementParentID),
		string(u.PlacementSide),
		nullString(u.LeftChildID),
		nullString(u.RightChildID),
		u.ActivePackage,
		nullTime(u.PackageActivatedAt),
		u.TotalRoyalty,
		createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetByID loads a user by id.
func (r *Repository) GetByID(id string) (*domain.User, error) {
	row := r.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetByIDTx loads a user inside a caller-owned transaction.
func (r *Repository) GetByIDTx(tx *sql.Tx, id string) (*domain.User, error) {
	row := tx.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// SetActivePackageTx records a package activation on the user row.
func (r *Repository) SetActivePackageTx(tx *sql.Tx, userID, packageCode string, at time.Time) error {
	res, err := tx.Exec(`
		UPDATE users SET active_package = ?, package_activated_at = ? WHERE id = ?
	`, packageCode, at.Unix(), userID)
	if err != nil {
		return fmt.Errorf("failed to set active package: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: user %s", domain.ErrNotFound, userID)
	}
	return nil
}

// PlacementAncestor is one step of the upward placement walk: the ancestor
// and which of its legs the walk came through.
type PlacementAncestor struct {
	AncestorID string
	Side       domain.Side
}

// PlacementChainTx walks the placement tree upward from userID. For each
// ancestor it reports the leg containing the user, which is where activation
// PV lands. The walk stops at the root.
func (r *Repository) PlacementChainTx(tx *sql.Tx, userID string) ([]PlacementAncestor, error) {
	var chain []PlacementAncestor
	visited := map[string]bool{}
	current := userID

	for !visited[current] {
		visited[current] = true

		var parent sql.NullString
		var side string
		err := tx.QueryRow(`
			SELECT placement_parent_id, placement_side FROM users WHERE id = ?
		`, current).Scan(&parent, &side)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to walk placement chain: %w", err)
		}
		if !parent.Valid || parent.String == "" {
			break
		}

		chain = append(chain, PlacementAncestor{AncestorID: parent.String, Side: domain.Side(side)})
		current = parent.String
	}

	return chain, nil
}

// SponsorChain walks up the sponsor chain (not the placement tree) starting
// at the user's direct sponsor, returning at most maxLevels ancestors in
// upline order. Stops early when the chain terminates.
func (r *Repository) SponsorChain(userID string, maxLevels int) ([]string, error) {
	chain := make([]string, 0, maxLevels)
	current := userID

	for i := 0; i < maxLevels; i++ {
		var sponsor sql.NullString
		err := r.db.QueryRow(`SELECT sponsor_id FROM users WHERE id = ?`, current).Scan(&sponsor)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to walk sponsor chain: %w", err)
		}
		if !sponsor.Valid || sponsor.String == "" {
			break
		}
		chain = append(chain, sponsor.String)
		current = sponsor.String
	}

	return chain, nil
}

// DownlineCount counts sponsorees at exactly the given depth below the user
// (depth 1 = direct sponsorees). Used by the level-star bonus.
func (r *Repository) DownlineCount(userID string, depth int) (int, error) {
	if depth < 1 {
		return 0, fmt.Errorf("%w: depth must be >= 1", domain.ErrValidation)
	}

	frontier := []string{userID}
	for level := 0; level < depth; level++ {
		next, err := r.directSponsorees(frontier)
		if err != nil {
			return 0, err
		}
		if len(next) == 0 {
			return 0, nil
		}
		frontier = next
	}

	return len(frontier), nil
}

func (r *Repository) directSponsorees(sponsorIDs []string) ([]string, error) {
	var out []string
	for _, sponsorID := range sponsorIDs {
		rows, err := r.db.Query(`SELECT id FROM users WHERE sponsor_id = ? ORDER BY created_at`, sponsorID)
		if err != nil {
			return nil, fmt.Errorf("failed to list sponsorees: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan sponsoree: %w", err)
			}
			out = append(out, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("error iterating sponsorees: %w", err)
		}
		rows.Close()
	}
	return out, nil
}

// AddRoyaltyTx bumps the user's lifetime royalty received.
func (r *Repository) AddRoyaltyTx(tx *sql.Tx, userID string, amount float64) error {
	_, err := tx.Exec(`
		UPDATE users SET total_royalty_received = total_royalty_received + ? WHERE id = ?
	`, amount, userID)
	if err != nil {
		return fmt.Errorf("failed to add royalty received: %w", err)
	}
	return nil
}

// Helper functions

func scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	var sponsorID, parentID, leftChild, rightChild sql.NullString
	var side string
	var activatedAt sql.NullInt64
	var createdAt int64

	err := row.Scan(
		&u.ID,
		&u.DisplayCode,
		&sponsorID,
		&parentID,
		&side,
		&leftChild,
		&rightChild,
		&u.ActivePackage,
		&activatedAt,
		&u.TotalRoyalty,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	u.SponsorID = sponsorID.String
	u.PlacementParentID = parentID.String
	u.PlacementSide = domain.Side(side)
	u.LeftChildID = leftChild.String
	u.RightChildID = rightChild.String
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	if activatedAt.Valid {
		t := time.Unix(activatedAt.Int64, 0).UTC()
		u.PackageActivatedAt = &t
	}

	return &u, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
