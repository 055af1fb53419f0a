package runtime

import (
	"testing"

	"possnap/internal/alert"
	"possnap/internal/scheduler"
	"possnap/internal/storage"
	logx "possnap/pkg/logx"
)

func TestHandlesReportNotConfigured(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	if _, ok := Scheduler(); ok {
		t.Fatal("Scheduler should report ok=false before Set")
	}
	if _, ok := Alerter(); ok {
		t.Fatal("Alerter should report ok=false before Set")
	}
}

func TestHandlesRoundTrip(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	sched := scheduler.New(scheduler.Config{}, storage.NewMemory(), nil, logx.Nop(), nil)
	SetScheduler(sched)
	got, ok := Scheduler()
	if !ok || got != sched {
		t.Fatal("Scheduler handle round trip failed")
	}

	alrt := alert.New(alert.Config{}, nil, logx.Nop(), nil)
	SetAlerter(alrt)
	gotA, ok := Alerter()
	if !ok || gotA != alrt {
		t.Fatal("Alerter handle round trip failed")
	}

	Reset()
	if _, ok := Scheduler(); ok {
		t.Fatal("Reset did not clear scheduler handle")
	}
}
