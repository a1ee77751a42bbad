package dlq

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/acteon-dev/acteon/internal/action"
)

// MySQLSink persists dead-lettered actions to a MySQL table and adds a
// retention reaper (§ Open Questions: DLQ retention), unlike MemorySink
// which grows without bound.
type MySQLSink struct {
	db        *sql.DB
	retention time.Duration
}

// NewMySQLSink wraps db (an already-opened *sql.DB configured with the
// go-sql-driver/mysql DSN) and ensures the backing table exists.
func NewMySQLSink(ctx context.Context, db *sql.DB, retention time.Duration) (*MySQLSink, error) {
	const ddl = `CREATE TABLE IF NOT EXISTS acteon_dead_letters (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		action_id VARCHAR(64) NOT NULL,
		provider VARCHAR(128) NOT NULL,
		payload JSON NOT NULL,
		failure_error TEXT NOT NULL,
		attempts INT NOT NULL,
		first_fail_at DATETIME NOT NULL,
		last_fail_at DATETIME NOT NULL,
		INDEX idx_last_fail_at (last_fail_at)
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create dead letter table: %w", err)
	}
	return &MySQLSink{db: db, retention: retention}, nil
}

func (s *MySQLSink) Push(ctx context.Context, entry Entry) error {
	act, err := json.Marshal(entry.Action)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO acteon_dead_letters (action_id, provider, payload, failure_error, attempts, first_fail_at, last_fail_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Action.ID, entry.Provider, act, entry.FailureError, entry.Attempts, entry.FirstFailAt, entry.LastFailAt,
	)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

func (s *MySQLSink) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload, provider, failure_error, attempts, first_fail_at, last_fail_at
		 FROM acteon_dead_letters ORDER BY last_fail_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var payload []byte
		var e Entry
		e.Action = &action.Action{}
		if err := rows.Scan(&payload, &e.Provider, &e.FailureError, &e.Attempts, &e.FirstFailAt, &e.LastFailAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		if err := json.Unmarshal(payload, e.Action); err != nil {
			return nil, fmt.Errorf("unmarshal action: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *MySQLSink) Depth(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM acteon_dead_letters`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return n, nil
}

// Reap deletes entries older than the configured retention, returning
// the number of rows removed.
func (s *MySQLSink) Reap(ctx context.Context) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-s.retention)
	res, err := s.db.ExecContext(ctx, `DELETE FROM acteon_dead_letters WHERE last_fail_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reap dead letters: %w", err)
	}
	return res.RowsAffected()
}

func (s *MySQLSink) Close() error {
	return s.db.Close()
}
