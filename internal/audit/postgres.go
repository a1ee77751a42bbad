package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSink persists audit records to PostgreSQL via pgx, adapted
// from the teacher pack's pgxpool connection wrapper.
type PostgresSink struct {
	pool *pgxpool.Pool
}

func NewPostgresSink(ctx context.Context, connString string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	const ddl = `CREATE TABLE IF NOT EXISTS acteon_audit_log (
		id BIGSERIAL PRIMARY KEY,
		action_id TEXT NOT NULL,
		namespace TEXT NOT NULL,
		tenant TEXT NOT NULL,
		provider TEXT NOT NULL,
		rule_name TEXT NOT NULL,
		verdict TEXT NOT NULL,
		outcome TEXT NOT NULL,
		detail TEXT,
		recorded_at TIMESTAMPTZ NOT NULL
	)`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create audit table: %w", err)
	}
	return &PostgresSink{pool: pool}, nil
}

func (s *PostgresSink) Record(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO acteon_audit_log (action_id, namespace, tenant, provider, rule_name, verdict, outcome, detail, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ActionID, rec.Namespace, rec.Tenant, rec.Provider, rec.RuleName, rec.Verdict, rec.Outcome, rec.Detail, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (s *PostgresSink) Query(ctx context.Context, namespace, tenant string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT action_id, namespace, tenant, provider, rule_name, verdict, outcome, detail, recorded_at
		 FROM acteon_audit_log
		 WHERE ($1 = '' OR namespace = $1) AND ($2 = '' OR tenant = $2)
		 ORDER BY recorded_at DESC LIMIT $3`,
		namespace, tenant, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ActionID, &r.Namespace, &r.Tenant, &r.Provider, &r.RuleName, &r.Verdict, &r.Outcome, &r.Detail, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
