package tile

import "time"

// DateFormat is the calendar-date layout used throughout the tile API.
const DateFormat = "2006-01-02"

// minImageryDate is the start of useful Sentinel-2 coverage.
var minImageryDate = time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)

// ClampDate normalizes a requested imagery date to the serviceable range,
// 2017-01-01 through today. Unparseable input resolves to today, the
// freshest imagery available.
func ClampDate(date string, now time.Time) string {
	parsed, err := time.Parse(DateFormat, date)
	if err != nil {
		return now.Format(DateFormat)
	}

	if parsed.Before(minImageryDate) {
		return minImageryDate.Format(DateFormat)
	}
	if parsed.After(now) {
		return now.Format(DateFormat)
	}

	return parsed.Format(DateFormat)
}
