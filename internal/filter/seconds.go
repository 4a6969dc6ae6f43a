package filter

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// isoLayout matches the millisecond ISO form browsers produce for dates.
const isoLayout = "2006-01-02T15:04:05.000Z"

// Zone-less layouts are interpreted as UTC.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ToSeconds normalizes a date-ish value to fractional epoch seconds.
// nil and "" yield false. Numbers and numeric strings are returned as-is.
// time.Time values and ISO date strings are converted. NaN, infinities and
// anything else yield false.
func ToSeconds(v any) (float64, bool) {
	f, ok := toSeconds(v)
	if !ok || !finite(f) {
		return 0, false
	}
	return f, true
}

func toSeconds(v any) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case time.Time:
		if x.IsZero() {
			return 0, false
		}
		return float64(x.Unix()) + float64(x.Nanosecond())/1e9, true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return toSeconds(t)
			}
		}
		return 0, false
	default:
		return 0, false
	}
}

// FromSeconds renders epoch seconds as a UTC ISO string with millisecond
// precision, e.g. "2025-03-02T00:00:00.000Z".
func FromSeconds(sec float64) string {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(math.Round(frac*1e9))).UTC().Format(isoLayout)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
