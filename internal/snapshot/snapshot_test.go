package snapshot

import (
	"context"
	"testing"
	"time"

	"possnap/internal/schedule"
	"possnap/internal/storage"
	logx "possnap/pkg/logx"
)

func TestStockRunCaptures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()

	if err := st.UpsertStock(ctx, []storage.StockLevel{
		{TenantID: "t1", StoreCode: "s1", SKU: "sku-1", Qty: 5},
		{TenantID: "t1", StoreCode: "s2", SKU: "sku-1", Qty: 3},
		{TenantID: "t2", StoreCode: "s9", SKU: "sku-9", Qty: 7},
	}); err != nil {
		t.Fatalf("UpsertStock: %v", err)
	}

	runner := NewStock(st, logx.Nop())
	res, err := runner.Run(ctx, "t1", []string{schedule.AllStores})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.RunID == "" {
		t.Fatal("RunID is empty")
	}
	if res.Stores != 2 || res.Rows != 2 {
		t.Fatalf("Result = %+v, want 2 stores, 2 rows", res)
	}
	if res.Pruned != 0 {
		t.Fatalf("Pruned = %d, want 0 without a descriptor", res.Pruned)
	}
}

func TestStockRunPrunesPastRetention(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()

	d := schedule.Descriptor{
		TenantID:      "t1",
		Enabled:       true,
		Interval:      schedule.IntervalDaily,
		Hour:          2,
		Minute:        0,
		RetentionDays: 7,
		TargetStores:  []string{schedule.AllStores},
	}
	if err := st.Put(ctx, d); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := st.UpsertStock(ctx, []storage.StockLevel{
		{TenantID: "t1", StoreCode: "s1", SKU: "sku-1", Qty: 5},
	}); err != nil {
		t.Fatalf("UpsertStock: %v", err)
	}

	now := time.Date(2026, 5, 20, 2, 0, 0, 0, time.UTC)

	// A snapshot older than the retention window.
	if _, _, err := st.CaptureStock(ctx, "old-run", "t1", nil, now.AddDate(0, 0, -10)); err != nil {
		t.Fatalf("CaptureStock old: %v", err)
	}

	runner := NewStock(st, logx.Nop())
	runner.now = func() time.Time { return now }

	res, err := runner.Run(ctx, "t1", []string{schedule.AllStores})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Rows != 1 {
		t.Fatalf("Rows = %d, want 1", res.Rows)
	}
	if res.Pruned != 1 {
		t.Fatalf("Pruned = %d, want the out-of-retention row", res.Pruned)
	}

	// The fresh snapshot survives an immediate re-run.
	res2, err := runner.Run(ctx, "t1", []string{schedule.AllStores})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if res2.Pruned != 0 {
		t.Fatalf("second Pruned = %d, want 0", res2.Pruned)
	}
}
