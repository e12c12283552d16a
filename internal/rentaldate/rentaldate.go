// Package rentaldate does the calendar arithmetic for rental periods.
package rentaldate

import (
	"time"

	"github.com/ariefcatur/camrent-orders/internal/orders"
)

// ExtensionGrace is the fixed allowance after an extended end date before the
// item counts as late.
const ExtensionGrace = time.Hour

// EndDate adds value units to start. Months are calendar months; a start day
// that does not exist in the target month is clamped to that month's last day
// (Jan 31 + 1 month = Feb 28/29). Returns nil for a nil start or unknown unit.
func EndDate(start *time.Time, value int, unit orders.DurationUnit) *time.Time {
	if start == nil {
		return nil
	}
	var end time.Time
	switch unit {
	case orders.UnitHour:
		end = start.Add(time.Duration(value) * time.Hour)
	case orders.UnitDay:
		end = start.AddDate(0, 0, value)
	case orders.UnitWeek:
		end = start.AddDate(0, 0, 7*value)
	case orders.UnitMonth:
		end = addMonths(*start, value)
	default:
		return nil
	}
	return &end
}

// ExtensionReturnDate is end plus the grace period, nil for a nil end.
func ExtensionReturnDate(end *time.Time) *time.Time {
	if end == nil {
		return nil
	}
	t := end.Add(ExtensionGrace)
	return &t
}

func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	// day 1 never overflows, so this lands in the target month
	first := time.Date(y, m, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location()).AddDate(0, n, 0)
	if last := daysIn(first.Year(), first.Month(), t.Location()); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func daysIn(y int, m time.Month, loc *time.Location) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, loc).Day()
}
