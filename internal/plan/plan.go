// Package plan holds the fixed compensation plan tables. These are the
// authoritative constants of the business plan; nothing here is configurable
// at runtime except the pool percents, which live in config.
package plan

import "compengine/internal/domain"

// Package codes, in processing order. The binary engine observes rank
// upgrades and unlocks across packages in exactly this order.
const (
	PackageSilver = "silver"
	PackageGold   = "gold"
	PackageRuby   = "ruby"
)

// PackageOrder is the per-session processing order: silver -> gold -> ruby.
var PackageOrder = []string{PackageSilver, PackageGold, PackageRuby}

// PackagePlan is one row of the package plan table.
type PackagePlan struct {
	Code          string
	PV            float64
	BV            float64
	PairIncome    float64
	CapPerSession int
}

var packages = map[string]PackagePlan{
	PackageSilver: {Code: PackageSilver, PV: 35, BV: 35, PairIncome: 10, CapPerSession: 1},
	PackageGold:   {Code: PackageGold, PV: 155, BV: 155, PairIncome: 50, CapPerSession: 1},
	PackageRuby:   {Code: PackageRuby, PV: 1250, BV: 1250, PairIncome: 500, CapPerSession: 1},
}

// Lookup returns the plan for a package code.
func Lookup(code string) (PackagePlan, error) {
	p, ok := packages[code]
	if !ok {
		return PackagePlan{}, domain.ErrUnknownPackage
	}
	return p, nil
}

// PackageIndex returns a package's position in PackageOrder, -1 when unknown.
func PackageIndex(code string) int {
	for i, c := range PackageOrder {
		if c == code {
			return i
		}
	}
	return -1
}

// Owns reports whether a holder of activePackage owns pkg. Packages are
// cumulative: a gold holder owns silver and gold.
func Owns(activePackage, pkg string) bool {
	active := PackageIndex(activePackage)
	want := PackageIndex(pkg)
	return active >= 0 && want >= 0 && want <= active
}

// Rank indices. -1 is unranked; 8 (Company Star) is the ceiling.
const (
	RankStar = iota
	RankSilverStar
	RankGoldStar
	RankRubyStar
	RankEmeraldStar
	RankDiamondStar
	RankCrownStar
	RankAmbassadorStar
	RankCompanyStar

	MaxRankIndex = RankCompanyStar
)

// RankNames maps rank index to display name.
var RankNames = []string{
	"Star", "Silver Star", "Gold Star", "Ruby Star", "Emerald Star",
	"Diamond Star", "Crown Star", "Ambassador Star", "Company Star",
}

// PairsPerRankStep is the pair count per rank step: 4 income + 4 cutoff.
const (
	PairsPerRankStep = 8
	MaxIncomePairs   = 4
	MaxCutoffPairs   = 4
)

// rankIncome[pkg][rankIndex] is the one-shot income for reaching a rank.
var rankIncome = map[string][]float64{
	PackageSilver: {10, 20, 40, 80, 160, 320, 640, 1280, 2560},
	PackageGold:   {50, 100, 200, 400, 800, 1600, 3200, 6400, 12800},
	PackageRuby:   {500, 1000, 2000, 4000, 8000, 16000, 32000, 64000, 128000},
}

// RankIncome returns the one-shot income for (package, rank index).
func RankIncome(pkg string, rankIndex int) (float64, error) {
	table, ok := rankIncome[pkg]
	if !ok {
		return 0, domain.ErrUnknownPackage
	}
	if rankIndex < 0 || rankIndex >= len(table) {
		return 0, domain.ErrValidation
	}
	return table[rankIndex], nil
}

// Royalty: below the star cap every eligible user earns the cap-phase rate;
// after crossing it the rank table applies.
const (
	RoyaltyStarCapINR   = 35
	RoyaltyCapPhaseRate = 0.03
)

// royaltyRateByRank[rankIndex] applies once TotalRoyalty >= RoyaltyStarCapINR.
// Star itself keeps earning only during the cap phase.
var royaltyRateByRank = []float64{0.03, 0.01, 0.02, 0.03, 0.04, 0.05, 0.06, 0.07, 0.08}

// RoyaltyRate returns the royalty rate for a silver rank holder given the
// royalty already received.
func RoyaltyRate(rankIndex int, totalRoyaltyReceived float64) float64 {
	if totalRoyaltyReceived < RoyaltyStarCapINR {
		return RoyaltyCapPhaseRate
	}
	if rankIndex < 0 {
		return 0
	}
	if rankIndex > MaxRankIndex {
		rankIndex = MaxRankIndex
	}
	return royaltyRateByRank[rankIndex]
}

// Level income: 0.5% of BV for each of the first 10 sponsors.
const (
	LevelCount      = 10
	LevelIncomeRate = 0.005
)

// LevelStarTier is one tier of the level-star bonus. Each tier fires
// independently when the downline count at its depth meets the threshold.
type LevelStarTier struct {
	Depth     int
	Threshold int
	Rate      float64 // applied to cycle CTO BV
}

// LevelStarTiers: 10 directs -> 1.0%, 70 second-level -> 1.1%,
// 200 third-level -> 1.2%.
var LevelStarTiers = []LevelStarTier{
	{Depth: 1, Threshold: 10, Rate: 0.010},
	{Depth: 2, Threshold: 70, Rate: 0.011},
	{Depth: 3, Threshold: 200, Rate: 0.012},
}

// Fund eligibility ranks.
const (
	CarFundMinRank   = RankRubyStar
	HouseFundMinRank = RankDiamondStar

	TravelNationalMinRank      = RankRubyStar
	TravelInternationalMinRank = RankDiamondStar

	TravelNationalShare      = 0.60
	TravelInternationalShare = 0.40
)

// Franchise splits.
const (
	FranchiseHolderMinPercent = 5.0  // of sale price
	FranchiseReferrerRate     = 0.01 // of sale BV
)
