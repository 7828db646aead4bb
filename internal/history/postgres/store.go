// Package postgres stores search history in Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/medprice/internal/history"
)

const defaultTable = "search_history"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var columns = []string{
	"search_id",
	"keyword",
	"source",
	"ok",
	"kind",
	"error",
	"products",
	"total_found",
	"best_price",
	"started_at",
	"duration_ms",
}

// Config controls the Postgres connection pool used for history rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// Store writes history rows into Postgres.
type Store struct {
	pool  pool
	table string
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p, table: table}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p, table: table}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Insert writes rows in a single statement.
func (s *Store) Insert(ctx context.Context, rows []history.Row) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("history store is not configured")
	}
	if len(rows) == 0 {
		return nil
	}
	tuples := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*len(columns))
	for i, r := range rows {
		if r.SearchID == "" {
			return fmt.Errorf("row %d: search id is required", i)
		}
		placeholders := make([]string, len(columns))
		for j := range columns {
			placeholders[j] = fmt.Sprintf("$%d", i*len(columns)+j+1)
		}
		tuples = append(tuples, "("+strings.Join(placeholders, ",")+")")
		args = append(args,
			r.SearchID,
			r.Keyword,
			r.Source,
			r.OK,
			r.Kind,
			r.Error,
			r.Products,
			r.TotalFound,
			r.BestPrice,
			r.StartedAt,
			r.DurationMs,
		)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		s.table, strings.Join(columns, ", "), strings.Join(tuples, ", "))
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// Recent returns up to limit rows, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]history.Row, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("history store is not configured")
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY started_at DESC, search_id, source LIMIT $1",
		strings.Join(columns, ", "), s.table)
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []history.Row
	for rows.Next() {
		var r history.Row
		if err := rows.Scan(
			&r.SearchID,
			&r.Keyword,
			&r.Source,
			&r.OK,
			&r.Kind,
			&r.Error,
			&r.Products,
			&r.TotalFound,
			&r.BestPrice,
			&r.StartedAt,
			&r.DurationMs,
		); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return out, nil
}
