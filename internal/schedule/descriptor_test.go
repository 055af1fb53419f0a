package schedule

import (
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		mutate    func(*Descriptor)
		wantField string
	}{
		{name: "valid daily", mutate: func(*Descriptor) {}},
		{
			name: "valid weekly",
			mutate: func(d *Descriptor) {
				d.Interval = IntervalWeekly
				d.DayOfWeek = intp(6)
			},
		},
		{
			name: "valid monthly",
			mutate: func(d *Descriptor) {
				d.Interval = IntervalMonthly
				d.DayOfMonth = intp(31)
			},
		},
		{
			name:      "empty tenant",
			mutate:    func(d *Descriptor) { d.TenantID = "  " },
			wantField: "tenant_id",
		},
		{
			name:      "hour out of range",
			mutate:    func(d *Descriptor) { d.Hour = 24 },
			wantField: "schedule_hour",
		},
		{
			name:      "minute out of range",
			mutate:    func(d *Descriptor) { d.Minute = 60 },
			wantField: "schedule_minute",
		},
		{
			name:      "unknown interval",
			mutate:    func(d *Descriptor) { d.Interval = "hourly" },
			wantField: "schedule_interval",
		},
		{
			name:      "daily with day_of_week",
			mutate:    func(d *Descriptor) { d.DayOfWeek = intp(0) },
			wantField: "schedule_day_of_week",
		},
		{
			name: "weekly without day_of_week",
			mutate: func(d *Descriptor) {
				d.Interval = IntervalWeekly
			},
			wantField: "schedule_day_of_week",
		},
		{
			name: "weekly day out of range",
			mutate: func(d *Descriptor) {
				d.Interval = IntervalWeekly
				d.DayOfWeek = intp(7)
			},
			wantField: "schedule_day_of_week",
		},
		{
			name: "monthly without day_of_month",
			mutate: func(d *Descriptor) {
				d.Interval = IntervalMonthly
			},
			wantField: "schedule_day_of_month",
		},
		{
			name: "monthly day out of range",
			mutate: func(d *Descriptor) {
				d.Interval = IntervalMonthly
				d.DayOfMonth = intp(0)
			},
			wantField: "schedule_day_of_month",
		},
		{
			name:      "negative retention",
			mutate:    func(d *Descriptor) { d.RetentionDays = -1 },
			wantField: "retention_days",
		},
		{
			name:      "empty target stores",
			mutate:    func(d *Descriptor) { d.TargetStores = nil },
			wantField: "target_stores",
		},
		{
			name:      "blank store code",
			mutate:    func(d *Descriptor) { d.TargetStores = []string{"s1", " "} },
			wantField: "target_stores",
		},
		{
			name:      "sentinel mixed with codes",
			mutate:    func(d *Descriptor) { d.TargetStores = []string{AllStores, "s1"} },
			wantField: "target_stores",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			d := daily(3, 0)
			tt.mutate(&d)
			err := d.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate error: %v", err)
				}
				return
			}
			ise, ok := err.(*InvalidScheduleError)
			if !ok {
				t.Fatalf("expected InvalidScheduleError, got %v", err)
			}
			if ise.Field != tt.wantField {
				t.Fatalf("Field = %s, want %s", ise.Field, tt.wantField)
			}
		})
	}
}

func TestTargetsAll(t *testing.T) {
	t.Parallel()
	d := daily(3, 0)
	if !d.TargetsAll() {
		t.Fatal("sentinel descriptor should target all stores")
	}
	d.TargetStores = []string{"s1", "s2"}
	if d.TargetsAll() {
		t.Fatal("explicit store list should not target all stores")
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()
	d := daily(3, 0)
	d.Interval = IntervalWeekly
	d.DayOfWeek = intp(2)
	d.NextExecutionAt = &now
	d.TargetStores = []string{"s1", "s2"}

	cp := d.Clone()
	*cp.DayOfWeek = 5
	*cp.NextExecutionAt = now.Add(time.Hour)
	cp.TargetStores[0] = "other"

	if *d.DayOfWeek != 2 {
		t.Fatalf("DayOfWeek mutated through clone: %d", *d.DayOfWeek)
	}
	if !d.NextExecutionAt.Equal(now) {
		t.Fatalf("NextExecutionAt mutated through clone: %v", d.NextExecutionAt)
	}
	if d.TargetStores[0] != "s1" {
		t.Fatalf("TargetStores mutated through clone: %v", d.TargetStores)
	}
}
