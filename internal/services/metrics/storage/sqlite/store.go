// Package sqlite provides a SQLite-backed metrics storage implementation.
//
// All operations share one connection. A mutex serializes individual
// statements; multi-statement sequences such as a write batch or the
// apply/record pair of a migration are interleavable at statement boundaries.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/metrics.space/internal/platform/storage/migrate"
	"github.com/louisbranch/metrics.space/internal/services/metrics/storage"
	"github.com/louisbranch/metrics.space/internal/services/metrics/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// timeLayout serializes UTC instants in a fixed-width form so that lexical
// order on the stored text equals chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store persists metrics in SQLite.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	conn *sql.Conn
}

// Open opens a SQLite metrics store. Call Setup before using it.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	conn, err := sqlDB.Conn(context.Background())
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("acquire sqlite connection: %w", err)
	}
	return &Store{db: sqlDB, conn: conn}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	return s.db.Close()
}

// Setup applies the embedded migration set to this store.
func (s *Store) Setup(ctx context.Context) error {
	if s == nil || s.conn == nil {
		return fmt.Errorf("storage is not configured")
	}
	set, err := migrate.Load(migrations.FS)
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	if err := migrate.Run(ctx, set, &applier{store: s}); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// WriteMetric inserts one metric row. The unused payload column is written as
// a zero/empty sentinel, never NULL.
func (s *Store) WriteMetric(ctx context.Context, metric storage.Metric) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.conn == nil {
		return fmt.Errorf("storage is not configured")
	}
	var (
		valueType string
		dvalue    float64
		tvalue    string
	)
	switch metric.Value.Kind {
	case storage.ValueDouble:
		valueType = string(storage.ValueDouble)
		dvalue = metric.Value.Double
	case storage.ValueString:
		valueType = string(storage.ValueString)
		tvalue = metric.Value.Str
	default:
		return fmt.Errorf("write metric %s: %w", metric.Name, storage.ErrUnknownValueType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.ExecContext(
		ctx,
		`INSERT INTO Metrics (name, time, value_type, dvalue, tvalue)
		 VALUES (?, ?, ?, ?, ?)`,
		metric.Name,
		metric.When.UTC().Format(timeLayout),
		valueType,
		dvalue,
		tvalue,
	)
	if err != nil {
		return fmt.Errorf("write metric: %w", err)
	}
	return nil
}

// ReadMetrics returns rows whose name starts with prefix, restricted to the
// strictly exclusive time bounds of the filter. LIKE metacharacters in the
// prefix are not escaped.
func (s *Store) ReadMetrics(ctx context.Context, prefix string, filter storage.ReadFilter) ([]storage.Metric, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.conn == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	query := `SELECT name, time, value_type, dvalue, tvalue
	            FROM Metrics
	           WHERE name LIKE ?`
	args := []any{prefix + "%"}
	if filter.Start != nil {
		query += ` AND time > ?`
		args = append(args, filter.Start.UTC().Format(timeLayout))
	}
	if filter.Stop != nil {
		query += ` AND time < ?`
		args = append(args, filter.Stop.UTC().Format(timeLayout))
	}
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read metrics: %w", err)
	}
	defer rows.Close()

	var metrics []storage.Metric
	for rows.Next() {
		var (
			metric    storage.Metric
			when      string
			valueType string
			dvalue    float64
			tvalue    string
		)
		if err := rows.Scan(&metric.Name, &when, &valueType, &dvalue, &tvalue); err != nil {
			return nil, fmt.Errorf("read metrics: %w", err)
		}
		metric.When, err = parseStoredTime(when)
		if err != nil {
			return nil, err
		}
		switch storage.ValueKind(valueType) {
		case storage.ValueDouble:
			metric.Value = storage.DoubleValue(dvalue)
		case storage.ValueString:
			metric.Value = storage.StringValue(tvalue)
		default:
			return nil, fmt.Errorf("metric %s value type %q: %w",
				metric.Name, valueType, storage.ErrUnknownValueType)
		}
		metrics = append(metrics, metric)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read metrics: %w", err)
	}
	return metrics, nil
}

// ListMetrics returns every distinct name matching prefix with the maximum
// timestamp observed for it.
func (s *Store) ListMetrics(ctx context.Context, prefix string) ([]storage.MetricInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.conn == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.conn.QueryContext(
		ctx,
		`SELECT name, MAX(time)
		   FROM Metrics
		  WHERE name LIKE ?
		  GROUP BY name`,
		prefix+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	defer rows.Close()

	var infos []storage.MetricInfo
	for rows.Next() {
		var (
			info storage.MetricInfo
			when string
		)
		if err := rows.Scan(&info.Name, &when); err != nil {
			return nil, fmt.Errorf("list metrics: %w", err)
		}
		info.LastSeen, err = parseStoredTime(when)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	return infos, nil
}

func parseStoredTime(value string) (time.Time, error) {
	when, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", value, err)
	}
	return when.UTC(), nil
}

// applier exposes the store's connection as the narrow migration capability.
// Each call takes the statement lock for its own duration only.
type applier struct {
	store *Store
}

// Setup creates the migration ledger table. Safe to call repeatedly.
func (a *applier) Setup(ctx context.Context) error {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	_, err := a.store.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS SchemaMigrations (
			name TEXT PRIMARY KEY
		);
	`)
	if err != nil {
		return fmt.Errorf("create migration ledger: %w", err)
	}
	return nil
}

// Apply executes one schema-changing SQL script.
func (a *applier) Apply(ctx context.Context, script string) error {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	if _, err := a.store.conn.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("exec schema change: %w", err)
	}
	return nil
}

// MarkApplied records a migration name in the ledger.
func (a *applier) MarkApplied(ctx context.Context, name string) error {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	_, err := a.store.conn.ExecContext(
		ctx,
		`INSERT INTO SchemaMigrations (name) VALUES (?)`,
		name,
	)
	if err != nil {
		if isPrimaryKeyViolation(err) {
			return fmt.Errorf("migration %q is already recorded: %w", name, err)
		}
		return fmt.Errorf("record applied migration: %w", err)
	}
	return nil
}

// Applied lists the recorded migration names.
func (a *applier) Applied(ctx context.Context) ([]string, error) {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	rows, err := a.store.conn.QueryContext(ctx, `SELECT name FROM SchemaMigrations`)
	if err != nil {
		return nil, fmt.Errorf("list recorded migrations: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan recorded migration: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list recorded migrations: %w", err)
	}
	return names, nil
}

func isPrimaryKeyViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}

var (
	_ storage.Database = (*Store)(nil)
	_ migrate.Applier  = (*applier)(nil)
)
