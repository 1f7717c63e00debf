package state

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultPostgresTable holds one row per loaded execution.
const DefaultPostgresTable = "billing_loader_state"

type pgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore keeps state as (state_key, billing_month, execution_id)
// rows.
type PostgresStore struct {
	conn  pgxConn
	table string
}

// NewPostgresStore connects to databaseURL and creates the state table if
// needed.
func NewPostgresStore(ctx context.Context, databaseURL, table string) (*PostgresStore, func(), error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, err
	}
	s, err := NewPostgresStoreWithConn(ctx, pool, table)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// NewPostgresStoreWithConn reuses an existing pool or connection.
func NewPostgresStoreWithConn(ctx context.Context, conn pgxConn, table string) (*PostgresStore, error) {
	if table == "" {
		table = DefaultPostgresTable
	}
	s := &PostgresStore{conn: conn, table: table}
	if err := s.ensureTable(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ident() string {
	return pgx.Identifier{s.table}.Sanitize()
}

func (s *PostgresStore) ensureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  state_key text NOT NULL,
  billing_month text NOT NULL,
  execution_id text NOT NULL,
  position integer NOT NULL,
  updated_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (state_key, billing_month, execution_id)
)`, s.ident())
	_, err := s.conn.Exec(ctx, ddl)
	return err
}

func (s *PostgresStore) Load(ctx context.Context, key string) (State, error) {
	rows, err := s.conn.Query(ctx,
		fmt.Sprintf(`SELECT billing_month, execution_id FROM %s WHERE state_key = $1 ORDER BY billing_month, position`, s.ident()),
		key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	st := State{}
	for rows.Next() {
		var month, id string
		if err := rows.Scan(&month, &id); err != nil {
			return nil, err
		}
		st.Add(month, id)
	}
	return st, rows.Err()
}

// Save replaces every row of key in one transaction.
func (s *PostgresStore) Save(ctx context.Context, key string, st State) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE state_key = $1`, s.ident()), key); err != nil {
		return err
	}
	var rows [][]any
	for month, ids := range st {
		for i, id := range ids {
			rows = append(rows, []any{key, month, id, i})
		}
	}
	if len(rows) > 0 {
		_, err := tx.CopyFrom(ctx, pgx.Identifier{s.table},
			[]string{"state_key", "billing_month", "execution_id", "position"},
			pgx.CopyFromRows(rows))
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
