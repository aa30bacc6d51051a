// Package domain defines the entities shared across the compensation engine.
package domain

import "time"

// Side is a binary tree leg.
type Side string

const (
	SideLeft  Side = "L"
	SideRight Side = "R"
)

// Other returns the opposite leg.
func (s Side) Other() Side {
	if s == SideLeft {
		return SideRight
	}
	return SideLeft
}

// PVState is the lifecycle state of a PV entry. The only transition is
// red -> green; green is terminal.
type PVState string

const (
	PVRed   PVState = "red"
	PVGreen PVState = "green"
)

// LedgerDirection tags a wallet ledger row.
type LedgerDirection string

const (
	DirectionCredit   LedgerDirection = "credit"
	DirectionDebit    LedgerDirection = "debit"
	DirectionHold     LedgerDirection = "hold"
	DirectionRelease  LedgerDirection = "release"
	DirectionFinalize LedgerDirection = "finalize"
)

// LedgerCategory classifies the income or expense stream of a ledger row.
type LedgerCategory string

const (
	CategoryBinary            LedgerCategory = "binary"
	CategoryRank              LedgerCategory = "rank"
	CategoryRoyalty           LedgerCategory = "royalty"
	CategoryLevel             LedgerCategory = "level"
	CategoryFundCar           LedgerCategory = "fund-car"
	CategoryFundHouse         LedgerCategory = "fund-house"
	CategoryFundTravel        LedgerCategory = "fund-travel"
	CategoryFranchiseHolder   LedgerCategory = "franchise-holder"
	CategoryFranchiseReferrer LedgerCategory = "franchise-referrer"
	CategoryWithdraw          LedgerCategory = "withdraw"
	CategoryDeposit           LedgerCategory = "deposit"
	CategoryAdmin             LedgerCategory = "admin"
	CategoryReversal          LedgerCategory = "reversal"
)

// User is a distributor: identity plus position in both trees.
// Sponsor chain (sponsor_id) drives level income; the placement tree
// (placement_parent_id + child pointers) drives pair matching.
type User struct {
	ID                 string
	DisplayCode        string
	SponsorID          string
	PlacementParentID  string
	PlacementSide      Side
	LeftChildID        string
	RightChildID       string
	ActivePackage      string // "" means none
	PackageActivatedAt *time.Time
	TotalRoyalty       float64
	CreatedAt          time.Time
}

// HasActivePackage reports whether the user owns the given package.
func (u *User) HasActivePackage(pkg string) bool {
	return u.ActivePackage == pkg && u.ActivePackage != ""
}

// RankState is the per (user, package) rank progression state.
// RankIndex -1 means unranked.
type RankState struct {
	UserID      string
	PackageCode string
	RankIndex   int
	IncomePairs int
	CutoffPairs int
}

// PVEntry is one binary node placed on a user's leg. Immutable until matched.
type PVEntry struct {
	ID           int64
	UserID       string
	PackageCode  string
	Side         Side
	PV           float64
	State        PVState
	MatchedWith  *int64
	SessionRunID string
	MatchedAt    *time.Time
	CreatedAt    time.Time
}

// Wallet is the mutable money position of one user.
// Invariant: Balance >= 0 and Pending >= 0 at all times.
type Wallet struct {
	UserID        string
	Balance       float64
	Pending       float64
	TotalCredited float64
	TotalDebited  float64
}

// LedgerEntry is one append-only wallet ledger row.
type LedgerEntry struct {
	TxID         string
	UserID       string
	Direction    LedgerDirection
	Amount       float64
	Category     LedgerCategory
	BalanceAfter float64
	Refs         string
	Note         string
	CreatedAt    time.Time
}

// SignedAmount is the contribution of this row to balance + pending.
// Holds and releases move money between the two buckets without changing
// the sum, so they contribute zero.
func (e *LedgerEntry) SignedAmount() float64 {
	switch e.Direction {
	case DirectionCredit:
		return e.Amount
	case DirectionDebit, DirectionFinalize:
		return -e.Amount
	default:
		return 0
	}
}

// BVEntry is one BV ledger row. Amount is signed: credits positive,
// consumptions negative.
type BVEntry struct {
	ID        int64
	UserID    string
	Amount    float64
	Source    string
	Ref       string
	CreatedAt time.Time
}

// SessionRun identifies one execution of the binary engine.
// (DateKey, SessionIndex) is the idempotency key.
type SessionRun struct {
	ID             string
	DateKey        string
	SessionIndex   int
	StartedAt      time.Time
	FinishedAt     *time.Time
	Finalized      bool
	ProcessedPairs int
	Failures       string
}

// ProcessedPair is one pair credited inside a session run.
type ProcessedPair struct {
	ID           int64
	SessionRunID string
	UserID       string
	PackageCode  string
	LeftEntryID  int64
	RightEntryID int64
	Amount       float64
	CreditedAt   time.Time
}

// RankHistory records a one-shot rank income credit.
type RankHistory struct {
	UserID      string
	PackageCode string
	RankIndex   int
	Income      float64
	CreatedAt   time.Time
}

// PendingIncome is pair income owed for a package the user does not own yet
// (the silver pair unlock rule). Materialized once the package is activated.
type PendingIncome struct {
	ID            int64
	UserID        string
	PackageCode   string
	Amount        float64
	SourceEntryID int64
	Materialized  bool
	CreatedAt     time.Time
}

// FundPool is the company-wide singleton of BV-derived buckets.
type FundPool struct {
	TotalCTOBV       float64
	CarPoolMonthly   float64
	HousePoolMonthly float64
	TravelFund       float64
}

// TravelAllocation records one yearly travel fund split.
type TravelAllocation struct {
	ID           int64
	Year         int
	Scope        string // "national" or "international"
	Amount       float64
	MinRankIndex int
	CreatedAt    time.Time
}

// EPIN is a single-use activation token. Transferable any number of times
// before use; is_used true is terminal.
type EPIN struct {
	Code          string
	PackageCode   string
	OwnerUserID   string
	IsUsed        bool
	UsedBy        string
	UsedAt        *time.Time
	ReservedBy    string
	TransferCount int
	CreatedBy     string
	CreatedAt     time.Time
}

// Franchise is a physical outlet owned by a user.
type Franchise struct {
	ID            string
	OwnerUserID   string
	HolderPercent float64
	CreatedAt     time.Time
}

// FranchiseProduct is a stocked product row of one franchise.
type FranchiseProduct struct {
	ID          int64
	FranchiseID string
	Name        string
	Price       float64
	BV          float64
	Stock       int
	CreatedAt   time.Time
}

// FranchiseSale records one completed sale.
type FranchiseSale struct {
	ID               string
	FranchiseID      string
	ProductID        int64
	BuyerUserID      string
	ReferrerUserID   string
	Quantity         int
	SalePrice        float64
	BVAmount         float64
	HolderCommission float64
	ReferrerIncome   float64
	CreatedAt        time.Time
}

// RoyaltyLog records one user's share of one royalty distribution.
type RoyaltyLog struct {
	ID        int64
	UserID    string
	CTOBV     float64
	Rate      float64
	Desired   float64
	Paid      float64
	CreatedAt time.Time
}

// WithdrawRequest is a pending withdrawal backed by a ledger hold.
type WithdrawRequest struct {
	TxID        string
	UserID      string
	Amount      float64
	Status      string // pending, approved, rejected
	RequestedAt time.Time
	ResolvedAt  *time.Time
}
