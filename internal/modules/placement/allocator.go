// Package placement implements the binary tree read model and the BFS slot
// allocator. Slots are taken with an atomic "set child pointer if currently
// empty"; concurrent placements race on the same slot and losers keep
// walking.
package placement

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"compengine/internal/database"
	"compengine/internal/domain"
)

// Result reports where a user was placed.
type Result struct {
	PlacedUnderID string
	Side          domain.Side
}

// Allocator finds and reserves placement slots
type Allocator struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewAllocator creates a new placement allocator
func NewAllocator(db *sql.DB, log zerolog.Logger) *Allocator {
	return &Allocator{
		db:  db,
		log: log.With().Str("component", "placement").Logger(),
	}
}

// PlaceUser places newUserID under the subtree rooted at placementID (or the
// sponsor when no placement id is given). The preferred side is tried first
// at every candidate; the search proceeds level by level with children in
// insertion order. The first atomically reserved empty slot wins.
func (a *Allocator) PlaceUser(newUserID, sponsorID, placementID string, preferredSide domain.Side) (*Result, error) {
	root := placementID
	if root == "" {
		root = sponsorID
	}
	if root == "" {
		return nil, domain.ErrNoPlacementRoot
	}
	if preferredSide != domain.SideLeft && preferredSide != domain.SideRight {
		preferredSide = domain.SideLeft
	}

	// A user already hanging in the tree must not be placed twice; a second
	// placement would risk a cycle.
	placed, err := a.isPlaced(newUserID)
	if err != nil {
		return nil, err
	}
	if placed {
		return nil, fmt.Errorf("%w: user %s is already placed", domain.ErrAlreadyProcessed, newUserID)
	}

	queue := []string{root}
	visited := map[string]bool{newUserID: true}

	for len(queue) > 0 {
		candidate := queue[0]
		queue = queue[1:]
		if visited[candidate] {
			continue
		}
		visited[candidate] = true

		for _, side := range []domain.Side{preferredSide, preferredSide.Other()} {
			won, err := a.tryReserveSlot(candidate, newUserID, side)
			if err != nil {
				return nil, err
			}
			if won {
				a.log.Info().
					Str("user_id", newUserID).
					Str("under", candidate).
					Str("side", string(side)).
					Msg("User placed")
				return &Result{PlacedUnderID: candidate, Side: side}, nil
			}
		}

		children, err := a.childrenInInsertionOrder(candidate)
		if err != nil {
			return nil, err
		}
		queue = append(queue, children...)
	}

	// Unreachable for a growing binary tree; kept for completeness.
	return nil, domain.ErrNoSlot
}

// tryReserveSlot is one CAS attempt: set the parent's child pointer if it is
// empty and, in the same transaction, record parent and side on the new user.
func (a *Allocator) tryReserveSlot(parentID, childID string, side domain.Side) (bool, error) {
	column := "left_child_id"
	if side == domain.SideRight {
		column = "right_child_id"
	}

	won := false
	err := database.WithTransaction(a.db, func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE users SET `+column+` = ? WHERE id = ? AND `+column+` IS NULL
		`, childID, parentID)
		if err != nil {
			return fmt.Errorf("failed to reserve placement slot: %w", err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			// Slot occupied or taken by a concurrent placement; not an error.
			return nil
		}

		_, err = tx.Exec(`
			UPDATE users SET placement_parent_id = ?, placement_side = ? WHERE id = ?
		`, parentID, string(side), childID)
		if err != nil {
			return fmt.Errorf("failed to record placement on user: %w", err)
		}

		won = true
		return nil
	})
	return won, err
}

// childrenInInsertionOrder returns the candidate's existing children ordered
// by their creation time. This is the BFS tiebreak within a level.
func (a *Allocator) childrenInInsertionOrder(parentID string) ([]string, error) {
	rows, err := a.db.Query(`
		SELECT id FROM users WHERE placement_parent_id = ? ORDER BY created_at, id
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}
	defer rows.Close()

	var children []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan child: %w", err)
		}
		children = append(children, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating children: %w", err)
	}

	return children, nil
}

func (a *Allocator) isPlaced(userID string) (bool, error) {
	var parent sql.NullString
	err := a.db.QueryRow(`SELECT placement_parent_id FROM users WHERE id = ?`, userID).Scan(&parent)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: user %s", domain.ErrNotFound, userID)
	}
	if err != nil {
		return false, fmt.Errorf("failed to check placement: %w", err)
	}
	return parent.Valid && parent.String != "", nil
}
