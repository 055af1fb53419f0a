package schedule

import (
	"errors"
	"testing"
	"time"
)

func intp(v int) *int { return &v }

func daily(hour, minute int) Descriptor {
	return Descriptor{
		TenantID:     "t1",
		Enabled:      true,
		Interval:     IntervalDaily,
		Hour:         hour,
		Minute:       minute,
		TargetStores: []string{AllStores},
	}
}

func TestNextDaily(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		d    Descriptor
		ref  time.Time
		want time.Time
	}{
		{
			name: "later today",
			d:    daily(23, 0),
			ref:  time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC),
			want: time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC),
		},
		{
			name: "already passed rolls to tomorrow",
			d:    daily(2, 30),
			ref:  time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC),
			want: time.Date(2026, 3, 11, 2, 30, 0, 0, time.UTC),
		},
		{
			name: "exact match is not strictly after",
			d:    daily(8, 0),
			ref:  time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC),
			want: time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := Next(tt.d, tt.ref, time.UTC)
			if err != nil {
				t.Fatalf("Next error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("Next = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextWeekly(t *testing.T) {
	t.Parallel()
	d := daily(2, 0)
	d.Interval = IntervalWeekly
	d.DayOfWeek = intp(0) // Monday

	// Wednesday 2026-03-11 10:00 -> Monday 2026-03-16 02:00.
	ref := time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC)
	want := time.Date(2026, 3, 16, 2, 0, 0, 0, time.UTC)
	got, err := Next(d, ref, time.UTC)
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	if !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
	if got.Weekday() != time.Monday {
		t.Fatalf("Weekday = %v, want Monday", got.Weekday())
	}

	// Same Monday earlier in the day still fires that day.
	ref = time.Date(2026, 3, 16, 1, 0, 0, 0, time.UTC)
	got, err = Next(d, ref, time.UTC)
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	if !got.Equal(want) {
		t.Fatalf("same-day Next = %v, want %v", got, want)
	}

	// Monday after the slot rolls a full week.
	ref = time.Date(2026, 3, 16, 3, 0, 0, 0, time.UTC)
	want = time.Date(2026, 3, 23, 2, 0, 0, 0, time.UTC)
	got, err = Next(d, ref, time.UTC)
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	if !got.Equal(want) {
		t.Fatalf("rolled Next = %v, want %v", got, want)
	}
}

func TestNextMonthlyClamping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		day  int
		ref  time.Time
		want time.Time
	}{
		{
			name: "day 31 clamps to april 30",
			day:  31,
			ref:  time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
			want: time.Date(2026, 4, 30, 1, 0, 0, 0, time.UTC),
		},
		{
			name: "day 31 clamps to feb 28",
			day:  31,
			ref:  time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			want: time.Date(2026, 2, 28, 1, 0, 0, 0, time.UTC),
		},
		{
			name: "day 30 clamps to feb 29 in leap year",
			day:  30,
			ref:  time.Date(2028, 2, 1, 0, 0, 0, 0, time.UTC),
			want: time.Date(2028, 2, 29, 1, 0, 0, 0, time.UTC),
		},
		{
			name: "passed this month rolls into next",
			day:  15,
			ref:  time.Date(2026, 4, 20, 0, 0, 0, 0, time.UTC),
			want: time.Date(2026, 5, 15, 1, 0, 0, 0, time.UTC),
		},
		{
			name: "december rolls into january",
			day:  10,
			ref:  time.Date(2026, 12, 20, 0, 0, 0, 0, time.UTC),
			want: time.Date(2027, 1, 10, 1, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			d := daily(1, 0)
			d.Interval = IntervalMonthly
			d.DayOfMonth = intp(tt.day)
			got, err := Next(d, tt.ref, time.UTC)
			if err != nil {
				t.Fatalf("Next error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("Next = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextUsesTenantTimezone(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Asia/Jakarta")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	d := daily(2, 0)
	d.Timezone = "Asia/Jakarta"

	// 02:00 WIB == 19:00 UTC the previous day.
	ref := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	got, err := Next(d, ref, time.UTC)
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	if got.Location() != time.UTC {
		t.Fatalf("result not normalized to UTC: %v", got.Location())
	}
	local := got.In(loc)
	if local.Hour() != 2 || local.Minute() != 0 {
		t.Fatalf("local wall clock = %02d:%02d, want 02:00", local.Hour(), local.Minute())
	}
	if want := time.Date(2026, 3, 10, 19, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
}

func TestNextIsPure(t *testing.T) {
	t.Parallel()
	d := daily(6, 15)
	ref := time.Date(2026, 7, 1, 3, 0, 0, 0, time.UTC)
	first, err := Next(d, ref, time.UTC)
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Next(d, ref, time.UTC)
		if err != nil {
			t.Fatalf("Next error: %v", err)
		}
		if !again.Equal(first) {
			t.Fatalf("Next not deterministic: %v vs %v", again, first)
		}
	}
}

func TestNextRejectsInvalidDescriptor(t *testing.T) {
	t.Parallel()
	d := daily(25, 0)
	_, err := Next(d, time.Now(), time.UTC)
	var ise *InvalidScheduleError
	if !errors.As(err, &ise) {
		t.Fatalf("expected InvalidScheduleError, got %v", err)
	}
	if ise.Field != "schedule_hour" {
		t.Fatalf("Field = %s, want schedule_hour", ise.Field)
	}
}
