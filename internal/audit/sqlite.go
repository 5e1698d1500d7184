package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sync_log (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    issue_id TEXT NOT NULL,
    ts TEXT NOT NULL,
    status TEXT NOT NULL,
    entry TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sync_log_issue_ts ON sync_log (issue_id, ts);
CREATE INDEX IF NOT EXISTS idx_sync_log_ts ON sync_log (ts)
`

// tsLayout sorts lexically in time order.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteSink indexes sync-log entries in a SQLite database so that queries
// by issue and time range do not scan the whole history.
type SQLiteSink struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

var _ Sink = (*SQLiteSink)(nil)

// NewSQLite opens (creating if needed) a SQLite sync-log index at path.
func NewSQLite(path string) (*SQLiteSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create sync log index dir: %w", err)
	}
	db, err := sql.Open("sqlite3", indexDSN(path, busyTimeout()))
	if err != nil {
		return nil, fmt.Errorf("open sync log index: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sync log index: %w", err)
	}
	s := &SQLiteSink{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sync log schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteSink) initSchema() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range strings.Split(sqliteSchema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w\nSQL: %s", err, stmt)
		}
	}
	return tx.Commit()
}

// Append inserts one entry.
func (s *SQLiteSink) Append(ctx context.Context, e *Entry) (string, error) {
	prepare(e)
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encoding sync log entry: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sync_log (id, run_id, issue_id, ts, status, entry) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.RunID, e.IssueID, e.Timestamp.UTC().Format(tsLayout), e.Status, string(data))
	if err != nil {
		return "", fmt.Errorf("insert sync log entry: %w", err)
	}
	return e.ID, nil
}

// Query selects entries by issue and time range, oldest first.
func (s *SQLiteSink) Query(ctx context.Context, f Filter) ([]*Entry, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.IssueID != "" {
		where = append(where, "issue_id = ? COLLATE NOCASE")
		args = append(args, f.IssueID)
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.Since.UTC().Format(tsLayout))
	}
	if !f.Until.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, f.Until.UTC().Format(tsLayout))
	}
	q := "SELECT entry FROM sync_log"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ts DESC"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query sync log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Entry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan sync log row: %w", err)
		}
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode sync log row: %w", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return finish(out, Filter{}), nil
}

// Prune deletes entries older than cutoff and returns how many were removed.
func (s *SQLiteSink) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_log WHERE ts < ?`, cutoff.UTC().Format(tsLayout))
	if err != nil {
		return 0, fmt.Errorf("prune sync log: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// busyTimeout is how long a writer waits on a locked index before giving
// up. BDSYNC_LOCK_TIMEOUT overrides the default of 10s.
func busyTimeout() time.Duration {
	if v := strings.TrimSpace(os.Getenv("BDSYNC_LOCK_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			return d
		}
	}
	return 10 * time.Second
}

// indexDSN opens the index in WAL mode so "bdsync log" can read while a
// sync run appends.
func indexDSN(path string, busy time.Duration) string {
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_time_format=sqlite",
		path, busy.Milliseconds())
}
