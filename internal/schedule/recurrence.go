package schedule

import "time"

// Next computes the next occurrence of the descriptor strictly after
// reference, in UTC.
//
// The calendar walk happens in the tenant's timezone (defaultLoc when the
// descriptor has none) so wall-clock hour:minute stays stable across DST
// transitions; the result is normalized to UTC for comparison/persistence.
//
// Next is pure: same inputs, same output.
func Next(d Descriptor, reference time.Time, defaultLoc *time.Location) (time.Time, error) {
	if err := d.Validate(); err != nil {
		return time.Time{}, err
	}
	loc, err := d.Location(defaultLoc)
	if err != nil {
		return time.Time{}, err
	}
	ref := reference.In(loc)

	var next time.Time
	switch d.Interval {
	case IntervalDaily:
		next = nextDaily(d, ref, loc)
	case IntervalWeekly:
		next = nextWeekly(d, ref, loc)
	case IntervalMonthly:
		next = nextMonthly(d, ref, loc)
	}
	return next.UTC(), nil
}

func nextDaily(d Descriptor, ref time.Time, loc *time.Location) time.Time {
	cand := atTime(ref.Year(), ref.Month(), ref.Day(), d, loc)
	if !cand.After(ref) {
		y, m, day := ref.AddDate(0, 0, 1).Date()
		cand = atTime(y, m, day, d, loc)
	}
	return cand
}

func nextWeekly(d Descriptor, ref time.Time, loc *time.Location) time.Time {
	// Descriptor weekday: 0 = Monday. Go weekday: 0 = Sunday.
	want := time.Weekday((*d.DayOfWeek + 1) % 7)
	delta := (int(want) - int(ref.Weekday()) + 7) % 7

	day := ref.AddDate(0, 0, delta)
	cand := atTime(day.Year(), day.Month(), day.Day(), d, loc)
	if !cand.After(ref) {
		day = day.AddDate(0, 0, 7)
		cand = atTime(day.Year(), day.Month(), day.Day(), d, loc)
	}
	return cand
}

func nextMonthly(d Descriptor, ref time.Time, loc *time.Location) time.Time {
	cand := monthlyOccurrence(ref.Year(), ref.Month(), d, loc)
	if !cand.After(ref) {
		y, m := ref.Year(), ref.Month()
		if m == time.December {
			y, m = y+1, time.January
		} else {
			m++
		}
		cand = monthlyOccurrence(y, m, d, loc)
	}
	return cand
}

// monthlyOccurrence clamps schedule_day_of_month to the last day of short
// months (day 31 in April fires on the 30th, in February on the 28th/29th).
func monthlyOccurrence(year int, month time.Month, d Descriptor, loc *time.Location) time.Time {
	day := *d.DayOfMonth
	if last := daysIn(year, month); day > last {
		day = last
	}
	return atTime(year, month, day, d, loc)
}

func atTime(year int, month time.Month, day int, d Descriptor, loc *time.Location) time.Time {
	return time.Date(year, month, day, d.Hour, d.Minute, 0, 0, loc)
}

func daysIn(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this month.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
