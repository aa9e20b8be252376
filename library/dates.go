package library

import (
	"fmt"
	"time"
)

// DateLayout is the on-disk format of every ledger date. Dates in this
// layout compare correctly as plain strings.
const DateLayout = "2006-01-02"

func formatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// addDays shifts a stored date by whole calendar days. The arithmetic runs
// in UTC so daylight saving transitions never skip or repeat a day.
func addDays(date string, days int) (string, error) {
	t, err := time.ParseInLocation(DateLayout, date, time.UTC)
	if err != nil {
		return "", fmt.Errorf("parse date %q: %w", date, err)
	}
	return formatDate(t.AddDate(0, 0, days)), nil
}
