package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"possnap/internal/schedule"
	logx "possnap/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const descriptorColumns = `tenant_id, enabled, interval, hour, minute, day_of_week, day_of_month,
	retention_days, target_stores, timezone, last_executed_at, next_execution_at,
	failures, created_by, updated_by, created_at, updated_at`

func (s *sqliteStore) ListEnabled(ctx context.Context) ([]schedule.Descriptor, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+descriptorColumns+` FROM schedules WHERE enabled = 1 ORDER BY tenant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schedule.Descriptor
	for rows.Next() {
		d, err := scanDescriptor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Get(ctx context.Context, tenantID string) (schedule.Descriptor, error) {
	if s == nil || s.db == nil {
		return schedule.Descriptor{}, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+descriptorColumns+` FROM schedules WHERE tenant_id = ?`, tenantID)
	d, err := scanDescriptor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Descriptor{}, ErrNotFound
	}
	return d, err
}

func (s *sqliteStore) Put(ctx context.Context, d schedule.Descriptor) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if err := d.Validate(); err != nil {
		return err
	}
	stores, err := json.Marshal(d.TargetStores)
	if err != nil {
		return err
	}
	now := time.Now()
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO schedules(`+descriptorColumns+`)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(tenant_id) DO UPDATE SET
		   enabled=excluded.enabled, interval=excluded.interval,
		   hour=excluded.hour, minute=excluded.minute,
		   day_of_week=excluded.day_of_week, day_of_month=excluded.day_of_month,
		   retention_days=excluded.retention_days,
		   target_stores=excluded.target_stores, timezone=excluded.timezone,
		   last_executed_at=excluded.last_executed_at,
		   next_execution_at=excluded.next_execution_at,
		   failures=excluded.failures,
		   updated_by=excluded.updated_by, updated_at=excluded.updated_at`,
		d.TenantID, boolInt(d.Enabled), string(d.Interval), d.Hour, d.Minute,
		nullInt(d.DayOfWeek), nullInt(d.DayOfMonth), d.RetentionDays,
		string(stores), d.Timezone, nullMs(d.LastExecutedAt), nullMs(d.NextExecutionAt),
		d.Failures, d.CreatedBy, d.UpdatedBy, createdAt.UnixMilli(), now.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) Claim(ctx context.Context, tenantID string, due time.Time, token string, staleBefore time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET claim_token = ?, claimed_at = ?
		 WHERE tenant_id = ? AND enabled = 1 AND next_execution_at = ?
		   AND (claim_token IS NULL OR claimed_at < ?)`,
		token, time.Now().UnixMilli(), tenantID, due.UnixMilli(), staleBefore.UnixMilli(),
	)
	if err != nil {
		return err
	}
	return oneRowOrConflict(res)
}

func (s *sqliteStore) Complete(ctx context.Context, tenantID, token string, ranAt, next time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET last_executed_at = ?, next_execution_at = ?, failures = 0,
		   claim_token = NULL, claimed_at = NULL, updated_at = ?
		 WHERE tenant_id = ? AND claim_token = ?`,
		ranAt.UnixMilli(), next.UnixMilli(), time.Now().UnixMilli(), tenantID, token,
	)
	if err != nil {
		return err
	}
	return oneRowOrConflict(res)
}

func (s *sqliteStore) Release(ctx context.Context, tenantID, token string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET failures = failures + 1,
		   claim_token = NULL, claimed_at = NULL, updated_at = ?
		 WHERE tenant_id = ? AND claim_token = ?`,
		time.Now().UnixMilli(), tenantID, token,
	)
	if err != nil {
		return err
	}
	return oneRowOrConflict(res)
}

func (s *sqliteStore) Skip(ctx context.Context, tenantID, token string, next time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET next_execution_at = ?, failures = 0,
		   claim_token = NULL, claimed_at = NULL, updated_at = ?
		 WHERE tenant_id = ? AND claim_token = ?`,
		next.UnixMilli(), time.Now().UnixMilli(), tenantID, token,
	)
	if err != nil {
		return err
	}
	return oneRowOrConflict(res)
}

func (s *sqliteStore) AppendRun(ctx context.Context, r Run) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshot_runs(id, tenant_id, due, started_at, duration_ms, status, stores, row_count, err)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		r.ID, r.TenantID, r.Due.UnixMilli(), r.StartedAt.UnixMilli(),
		r.Duration.Milliseconds(), string(r.Status), r.Stores, r.Rows, nullStr(r.Error),
	)
	return err
}

func (s *sqliteStore) ListRuns(ctx context.Context, tenantID string, limit int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, due, started_at, duration_ms, status, stores, row_count, err
		 FROM snapshot_runs WHERE tenant_id = ? ORDER BY started_at DESC LIMIT ?`,
		tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var due, started, durMS int64
		var status string
		var errStr sql.NullString
		if err := rows.Scan(&r.ID, &r.TenantID, &due, &started, &durMS, &status, &r.Stores, &r.Rows, &errStr); err != nil {
			return nil, err
		}
		r.Due = time.UnixMilli(due).UTC()
		r.StartedAt = time.UnixMilli(started).UTC()
		r.Duration = time.Duration(durMS) * time.Millisecond
		r.Status = RunStatus(status)
		r.Error = errStr.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpsertStock(ctx context.Context, levels []StockLevel) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	for _, l := range levels {
		at := l.UpdatedAt
		if at.IsZero() {
			at = time.Now()
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO stock_levels(tenant_id, store_code, sku, qty, updated_at)
			 VALUES(?,?,?,?,?)
			 ON CONFLICT(tenant_id, store_code, sku) DO UPDATE SET
			   qty=excluded.qty, updated_at=excluded.updated_at`,
			l.TenantID, l.StoreCode, l.SKU, l.Qty, at.UnixMilli(),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) CaptureStock(ctx context.Context, runID, tenantID string, stores []string, at time.Time) (int, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, ErrDisabled
	}
	all := len(stores) == 0 || (len(stores) == 1 && stores[0] == schedule.AllStores)

	q := `INSERT INTO stock_snapshots(run_id, tenant_id, store_code, sku, qty, captured_at)
	      SELECT ?, tenant_id, store_code, sku, qty, ? FROM stock_levels WHERE tenant_id = ?`
	args := []any{runID, at.UnixMilli(), tenantID}
	if !all {
		q += ` AND store_code IN (?` + strings.Repeat(",?", len(stores)-1) + `)`
		for _, code := range stores {
			args = append(args, code)
		}
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return 0, 0, err
	}

	var storeCount, rowCount int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT store_code), COUNT(*) FROM stock_snapshots WHERE run_id = ?`,
		runID).Scan(&storeCount, &rowCount)
	return storeCount, rowCount, err
}

func (s *sqliteStore) PruneSnapshots(ctx context.Context, tenantID string, before time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM stock_snapshots WHERE tenant_id = ? AND captured_at < ?`,
		tenantID, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ---- scan helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDescriptor(row rowScanner) (schedule.Descriptor, error) {
	var d schedule.Descriptor
	var enabled int
	var interval, storesJSON string
	var dow, dom, lastMs, nextMs sql.NullInt64
	var createdAt, updatedAt int64
	err := row.Scan(&d.TenantID, &enabled, &interval, &d.Hour, &d.Minute, &dow, &dom,
		&d.RetentionDays, &storesJSON, &d.Timezone, &lastMs, &nextMs,
		&d.Failures, &d.CreatedBy, &d.UpdatedBy, &createdAt, &updatedAt)
	if err != nil {
		return schedule.Descriptor{}, err
	}
	d.Enabled = enabled != 0
	d.Interval = schedule.Interval(interval)
	d.DayOfWeek = intPtr(dow)
	d.DayOfMonth = intPtr(dom)
	d.LastExecutedAt = timePtr(lastMs)
	d.NextExecutionAt = timePtr(nextMs)
	d.CreatedAt = time.UnixMilli(createdAt).UTC()
	d.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if err := json.Unmarshal([]byte(storesJSON), &d.TargetStores); err != nil {
		return schedule.Descriptor{}, fmt.Errorf("target_stores for tenant %s: %w", d.TenantID, err)
	}
	return d, nil
}

func oneRowOrConflict(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrClaimConflict
	}
	return nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullMs(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
