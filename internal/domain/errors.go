package domain

import "errors"

// Error kinds surfaced by the engines. Callers distinguish them with
// errors.Is; everything else is wrapped infrastructure failure.
var (
	// ErrValidation - bad input, surfaced to the caller
	ErrValidation = errors.New("validation failed")

	// ErrNotFound - user, package, EPIN or franchise missing
	ErrNotFound = errors.New("not found")

	// ErrAlreadyProcessed - duplicate session run, used EPIN, credited rank.
	// Treated as a successful no-op at engine boundaries.
	ErrAlreadyProcessed = errors.New("already processed")

	// ErrInsufficientBalance - debit or hold larger than the wallet balance
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientStock - franchise sale exceeds product stock
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInsufficientPool - distribution exceeds the available pool
	ErrInsufficientPool = errors.New("insufficient pool")

	// ErrConflict - lost a compare-and-set race (placement slot, PV lock,
	// wallet update). Retried internally; surfaced when retries run out.
	ErrConflict = errors.New("conflict")

	// ErrNoPlacementRoot - placement requested without sponsor or placement id
	ErrNoPlacementRoot = errors.New("no placement root")

	// ErrNoSlot - exhaustive BFS found no empty slot
	ErrNoSlot = errors.New("no placement slot available")

	// ErrPaymentRequired - activation without EPIN needs a payment reference
	ErrPaymentRequired = errors.New("payment reference required")

	// ErrUnknownPackage - package code not in the plan tables
	ErrUnknownPackage = errors.New("unknown package")

	// ErrLedgerInvariant - ledger sum does not match the wallet. Fatal:
	// requires operator intervention, never retried.
	ErrLedgerInvariant = errors.New("ledger invariant violation")
)
