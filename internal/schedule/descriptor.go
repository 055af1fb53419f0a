package schedule

import (
	"fmt"
	"strings"
	"time"
)

// Interval is the recurrence class of a snapshot schedule.
type Interval string

const (
	IntervalDaily   Interval = "daily"
	IntervalWeekly  Interval = "weekly"
	IntervalMonthly Interval = "monthly"
)

// AllStores is the target_stores sentinel meaning "every store of the tenant".
const AllStores = "*"

// Descriptor declares one tenant's snapshot policy.
//
// Exactly one descriptor exists per tenant (the store enforces uniqueness).
// Times are kept in UTC; Hour/Minute are interpreted in the tenant's
// Timezone (process default when empty).
type Descriptor struct {
	TenantID string
	Enabled  bool

	Interval Interval
	Hour     int // 0..23, tenant timezone
	Minute   int // 0..59

	// DayOfWeek is required for weekly schedules. 0 = Monday .. 6 = Sunday.
	DayOfWeek *int
	// DayOfMonth is required for monthly schedules. 1..31; short months clamp
	// to their last day.
	DayOfMonth *int

	RetentionDays int

	// TargetStores is either the AllStores sentinel alone, or a non-empty
	// set of store codes.
	TargetStores []string

	Timezone string // IANA TZ, e.g. "Asia/Jakarta"; empty = process default

	LastExecutedAt  *time.Time // UTC; set after a successful run
	NextExecutionAt *time.Time // UTC; cached next-due time

	// Failures counts consecutive failed attempts for the current occurrence.
	// Reset on success or skip.
	Failures int

	CreatedBy string
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// InvalidScheduleError marks a descriptor that cannot be evaluated until an
// operator corrects it. It is fatal per tenant, never to the loop.
type InvalidScheduleError struct {
	TenantID string
	Field    string
	Reason   string
}

func (e *InvalidScheduleError) Error() string {
	if e.TenantID == "" {
		return fmt.Sprintf("invalid schedule: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid schedule for tenant %s: %s: %s", e.TenantID, e.Field, e.Reason)
}

func (d Descriptor) invalidf(field, format string, args ...any) error {
	return &InvalidScheduleError{TenantID: d.TenantID, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks every structural invariant of the descriptor.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.TenantID) == "" {
		return d.invalidf("tenant_id", "must not be empty")
	}
	if d.Hour < 0 || d.Hour > 23 {
		return d.invalidf("schedule_hour", "must be in [0,23], got %d", d.Hour)
	}
	if d.Minute < 0 || d.Minute > 59 {
		return d.invalidf("schedule_minute", "must be in [0,59], got %d", d.Minute)
	}

	switch d.Interval {
	case IntervalDaily:
		if d.DayOfWeek != nil {
			return d.invalidf("schedule_day_of_week", "must be unset for daily schedules")
		}
		if d.DayOfMonth != nil {
			return d.invalidf("schedule_day_of_month", "must be unset for daily schedules")
		}
	case IntervalWeekly:
		if d.DayOfWeek == nil {
			return d.invalidf("schedule_day_of_week", "required for weekly schedules")
		}
		if *d.DayOfWeek < 0 || *d.DayOfWeek > 6 {
			return d.invalidf("schedule_day_of_week", "must be in [0,6], got %d", *d.DayOfWeek)
		}
		if d.DayOfMonth != nil {
			return d.invalidf("schedule_day_of_month", "must be unset for weekly schedules")
		}
	case IntervalMonthly:
		if d.DayOfMonth == nil {
			return d.invalidf("schedule_day_of_month", "required for monthly schedules")
		}
		if *d.DayOfMonth < 1 || *d.DayOfMonth > 31 {
			return d.invalidf("schedule_day_of_month", "must be in [1,31], got %d", *d.DayOfMonth)
		}
		if d.DayOfWeek != nil {
			return d.invalidf("schedule_day_of_week", "must be unset for monthly schedules")
		}
	default:
		return d.invalidf("schedule_interval", "unknown interval %q", string(d.Interval))
	}

	if d.RetentionDays < 0 {
		return d.invalidf("retention_days", "must be >= 0, got %d", d.RetentionDays)
	}

	if len(d.TargetStores) == 0 {
		return d.invalidf("target_stores", "must not be empty")
	}
	for _, code := range d.TargetStores {
		if strings.TrimSpace(code) == "" {
			return d.invalidf("target_stores", "store code must not be blank")
		}
		if code == AllStores && len(d.TargetStores) > 1 {
			return d.invalidf("target_stores", "the all-stores sentinel must stand alone")
		}
	}

	return nil
}

// TargetsAll reports whether the descriptor uses the all-stores sentinel.
func (d Descriptor) TargetsAll() bool {
	return len(d.TargetStores) == 1 && d.TargetStores[0] == AllStores
}

// Location resolves the tenant timezone, falling back to def (then UTC).
func (d Descriptor) Location(def *time.Location) (*time.Location, error) {
	tz := strings.TrimSpace(d.Timezone)
	if tz == "" {
		if def != nil {
			return def, nil
		}
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, d.invalidf("timezone", "unknown timezone %q", tz)
	}
	return loc, nil
}

// Clone returns a deep copy so callers can mutate bookkeeping fields safely.
func (d Descriptor) Clone() Descriptor {
	cp := d
	if d.DayOfWeek != nil {
		v := *d.DayOfWeek
		cp.DayOfWeek = &v
	}
	if d.DayOfMonth != nil {
		v := *d.DayOfMonth
		cp.DayOfMonth = &v
	}
	if d.LastExecutedAt != nil {
		v := *d.LastExecutedAt
		cp.LastExecutedAt = &v
	}
	if d.NextExecutionAt != nil {
		v := *d.NextExecutionAt
		cp.NextExecutionAt = &v
	}
	cp.TargetStores = append([]string(nil), d.TargetStores...)
	return cp
}
