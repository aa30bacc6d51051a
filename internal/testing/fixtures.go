package testing

import (
	"database/sql"
	"errors"
	"testing"
	"time"
)

// fixtureClock hands out strictly increasing timestamps so FIFO orderings
// are deterministic in tests.
var fixtureClock = time.Now().Add(-24 * time.Hour).Unix()

func nextTimestamp() int64 {
	fixtureClock++
	return fixtureClock
}

// SeedUser inserts a bare user row.
func SeedUser(t *testing.T, db *sql.DB, id, sponsorID, activePackage string) {
	t.Helper()
	var sponsor interface{}
	if sponsorID != "" {
		sponsor = sponsorID
	}
	MustExec(t, db, `
		INSERT INTO users (id, display_code, sponsor_id, placement_side, active_package, created_at)
		VALUES (?, ?, ?, '', ?, ?)
	`, id, "DC-"+id, sponsor, activePackage, nextTimestamp())
}

// SeedPlacedUser inserts a user already hanging in the placement tree and
// links the parent's child pointer.
func SeedPlacedUser(t *testing.T, db *sql.DB, id, sponsorID, parentID, side, activePackage string) {
	t.Helper()
	var sponsor interface{}
	if sponsorID != "" {
		sponsor = sponsorID
	}
	MustExec(t, db, `
		INSERT INTO users (id, display_code, sponsor_id, placement_parent_id, placement_side, active_package, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, "DC-"+id, sponsor, parentID, side, activePackage, nextTimestamp())

	column := "left_child_id"
	if side == "R" {
		column = "right_child_id"
	}
	MustExec(t, db, `UPDATE users SET `+column+` = ? WHERE id = ?`, id, parentID)
}

// SeedPVEntry inserts a red PV entry with a strictly increasing timestamp.
func SeedPVEntry(t *testing.T, db *sql.DB, userID, packageCode, side string, pv float64) int64 {
	t.Helper()
	res, err := db.Exec(`
		INSERT INTO pv_entries (user_id, package_code, side, pv, state, created_at)
		VALUES (?, ?, ?, ?, 'red', ?)
	`, userID, packageCode, side, pv, nextTimestamp())
	if err != nil {
		t.Fatalf("Failed to seed PV entry: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

// SeedRank inserts a rank state row.
func SeedRank(t *testing.T, db *sql.DB, userID, packageCode string, rankIndex, incomePairs, cutoffPairs int) {
	t.Helper()
	MustExec(t, db, `
		INSERT INTO user_ranks (user_id, package_code, rank_index, income_pairs, cutoff_pairs, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, userID, packageCode, rankIndex, incomePairs, cutoffPairs, nextTimestamp())
}

// WalletBalance reads a user's wallet balance, 0 when the wallet does not
// exist yet.
func WalletBalance(t *testing.T, db *sql.DB, userID string) float64 {
	t.Helper()
	var balance float64
	err := db.QueryRow(`SELECT balance FROM wallets WHERE user_id = ?`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0
	}
	if err != nil {
		t.Fatalf("Failed to read wallet balance: %v", err)
	}
	return balance
}
