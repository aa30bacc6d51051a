// Package events provides the internal event bus of the compensation core.
package events

// EventType identifies a kind of system event
type EventType string

// Event types emitted by the engines
const (
	// PackageActivated - a user activated a package (EPIN or payment)
	PackageActivated EventType = "PackageActivated"
	// BVCredited - BV entered the system; triggers distribution fan-out
	BVCredited EventType = "BVCredited"
	// PairPaid - the binary engine flipped and paid one pair
	PairPaid EventType = "PairPaid"
	// RankAdvanced - a user crossed an 8-pair rank step
	RankAdvanced EventType = "RankAdvanced"
	// SessionCompleted - one session run was finalized
	SessionCompleted EventType = "SessionCompleted"
	// FranchiseSaleRecorded - a franchise sale completed
	FranchiseSaleRecorded EventType = "FranchiseSaleRecorded"
	// ErrorOccurred - a non-fatal engine error, recorded in run summaries
	ErrorOccurred EventType = "ErrorOccurred"
)
