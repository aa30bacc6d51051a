package events

// EventData is the interface that all event data types must implement.
// This allows for type-safe event data while maintaining flexibility.
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// PackageActivatedData contains data for PackageActivated events
type PackageActivatedData struct {
	UserID      string  `json:"user_id"`
	PackageCode string  `json:"package_code"`
	PV          float64 `json:"pv"`
	BV          float64 `json:"bv"`
	EPINCode    string  `json:"epin_code,omitempty"`
	PaymentRef  string  `json:"payment_ref,omitempty"`
}

// EventType returns the event type for PackageActivatedData
func (d *PackageActivatedData) EventType() EventType {
	return PackageActivated
}

// BVCreditedData contains data for BVCredited events
type BVCreditedData struct {
	UserID       string  `json:"user_id"`
	Amount       float64 `json:"amount"`
	Source       string  `json:"source"` // "activation", "franchise", ...
	FranchiseRef string  `json:"franchise_ref,omitempty"`
	ReferrerID   string  `json:"referrer_id,omitempty"`
}

// EventType returns the event type for BVCreditedData
func (d *BVCreditedData) EventType() EventType {
	return BVCredited
}

// PairPaidData contains data for PairPaid events
type PairPaidData struct {
	UserID       string  `json:"user_id"`
	PackageCode  string  `json:"package_code"`
	Amount       float64 `json:"amount"`
	SessionRunID string  `json:"session_run_id"`
	LeftEntryID  int64   `json:"left_entry_id"`
	RightEntryID int64   `json:"right_entry_id"`
}

// EventType returns the event type for PairPaidData
func (d *PairPaidData) EventType() EventType {
	return PairPaid
}

// RankAdvancedData contains data for RankAdvanced events
type RankAdvancedData struct {
	UserID      string  `json:"user_id"`
	PackageCode string  `json:"package_code"`
	RankIndex   int     `json:"rank_index"`
	Income      float64 `json:"income"`
}

// EventType returns the event type for RankAdvancedData
func (d *RankAdvancedData) EventType() EventType {
	return RankAdvanced
}

// SessionCompletedData contains data for SessionCompleted events
type SessionCompletedData struct {
	SessionRunID   string `json:"session_run_id"`
	DateKey        string `json:"date_key"`
	SessionIndex   int    `json:"session_index"`
	ProcessedPairs int    `json:"processed_pairs"`
}

// EventType returns the event type for SessionCompletedData
func (d *SessionCompletedData) EventType() EventType {
	return SessionCompleted
}

// FranchiseSaleData contains data for FranchiseSaleRecorded events
type FranchiseSaleData struct {
	SaleID      string  `json:"sale_id"`
	FranchiseID string  `json:"franchise_id"`
	BuyerID     string  `json:"buyer_id"`
	BVAmount    float64 `json:"bv_amount"`
}

// EventType returns the event type for FranchiseSaleData
func (d *FranchiseSaleData) EventType() EventType {
	return FranchiseSaleRecorded
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}
