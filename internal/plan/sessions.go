package plan

import "time"

// SessionCount is the number of fixed daily matching windows.
const SessionCount = 8

// SessionWindow is one daily window. Start and End are minutes since
// midnight in the configured timezone; window 8 ends at midnight (1440).
type SessionWindow struct {
	Index int
	Start int
	End   int
}

// SessionWindows are the 8 fixed daily windows.
var SessionWindows = []SessionWindow{
	{Index: 1, Start: 6 * 60, End: 8*60 + 15},
	{Index: 2, Start: 8*60 + 15, End: 10*60 + 30},
	{Index: 3, Start: 10*60 + 30, End: 12*60 + 45},
	{Index: 4, Start: 12*60 + 45, End: 15 * 60},
	{Index: 5, Start: 15 * 60, End: 17*60 + 15},
	{Index: 6, Start: 17*60 + 15, End: 19*60 + 30},
	{Index: 7, Start: 19*60 + 30, End: 21*60 + 45},
	{Index: 8, Start: 21*60 + 45, End: 24 * 60},
}

// CurrentSession returns the session window containing t (in t's location),
// or 0 if t falls outside every window (00:00-06:00).
func CurrentSession(t time.Time) int {
	minutes := t.Hour()*60 + t.Minute()
	for _, w := range SessionWindows {
		if minutes >= w.Start && minutes < w.End {
			return w.Index
		}
	}
	return 0
}

// DateKey formats t as the YYYY-MM-DD idempotency key component.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
