package credits

import "time"

const (
	periodKeyLayout = "2006-01"
	// minResetInterval is the shortest time after the start of a stored
	// period before it may roll over.
	minResetInterval = 30 * 24 * time.Hour
)

// PeriodKey returns the UTC year-month of t, e.g. "2026-10".
func PeriodKey(t time.Time) string {
	return t.UTC().Format(periodKeyLayout)
}

// PeriodStart returns the first instant of the period named by key.
func PeriodStart(key string) (time.Time, error) {
	return time.ParseInLocation(periodKeyLayout, key, time.UTC)
}

// NextPeriodStart returns when the period after key begins.
func NextPeriodStart(key string) (time.Time, error) {
	start, err := PeriodStart(key)
	if err != nil {
		return time.Time{}, err
	}
	return start.AddDate(0, 1, 0), nil
}

// CheckMonthlyReset rolls s over to the period containing now when its
// period key differs and at least 30 days have passed since the stored
// period began. Usage counters are zeroed; tier and payment fields are never
// touched. An unparseable period key is treated as due.
func CheckMonthlyReset(s CreditState, now time.Time) (CreditState, bool) {
	current := PeriodKey(now)
	if s.PeriodKey == current {
		return s, false
	}
	start, err := PeriodStart(s.PeriodKey)
	if err == nil && now.Sub(start) < minResetInterval {
		return s, false
	}
	return s.clearUsage(now), true
}
