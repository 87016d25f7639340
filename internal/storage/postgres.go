package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend implements Backend directly against PostgreSQL
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN         string
	Password    string // overrides the DSN password when set
	MaxConns    int32
	MinConns    int32
	MaxLifetime time.Duration
}

// NewPostgresBackend creates a pooled PostgreSQL backend
func NewPostgresBackend(ctx context.Context, cfg PostgresConfig) (*PostgresBackend, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	if cfg.Password != "" {
		poolConfig.ConnConfig.Password = cfg.Password
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	} else {
		poolConfig.MaxConns = 10
	}

	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}

	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxLifetime
	} else {
		poolConfig.MaxConnLifetime = 30 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresBackend{pool: pool}, nil
}

// Pool exposes the connection pool for migrations
func (b *PostgresBackend) Pool() *pgxpool.Pool {
	return b.pool
}

// Ping checks database connectivity
func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

// Close closes the database connection pool
func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}

// Select runs a row selection and returns the rows as a JSON array
func (b *PostgresBackend) Select(ctx context.Context, q Query) ([]byte, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	query, args := buildSelectSQL(q)
	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select from %s: %w", q.Table, err)
	}

	return collectJSON(rows)
}

// Call invokes a set-returning database function with named arguments
func (b *PostgresBackend) Call(ctx context.Context, fn string, args map[string]any) ([]byte, error) {
	if err := validFunction(fn); err != nil {
		return nil, err
	}

	query, values, err := buildCallSQL(fn, args)
	if err != nil {
		return nil, err
	}

	rows, err := b.pool.Query(ctx, query, values...)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", fn, err)
	}

	out, err := collectJSON(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", fn, err)
	}
	return out, nil
}

func collectJSON(rows pgx.Rows) ([]byte, error) {
	records, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("failed to scan rows: %w", err)
	}
	if records == nil {
		records = []map[string]any{}
	}
	return json.Marshal(records)
}

func buildSelectSQL(q Query) (string, []any) {
	cols := make([]string, len(q.Columns))
	for i, c := range q.Columns {
		cols[i] = pgx.Identifier{c}.Sanitize()
	}

	var sb strings.Builder
	args := make([]any, 0, 2)

	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(pgx.Identifier{q.Table}.Sanitize())

	if q.Filter != nil {
		args = append(args, q.Filter.Value)
		fmt.Fprintf(&sb, " WHERE %s = $%d", pgx.Identifier{q.Filter.Column}.Sanitize(), len(args))
	}

	if len(q.Orders) > 0 {
		keys := make([]string, len(q.Orders))
		for i, o := range q.Orders {
			dir := "ASC"
			if o.Descending {
				dir = "DESC"
			}
			keys[i] = pgx.Identifier{o.Column}.Sanitize() + " " + dir
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(keys, ", "))
	}

	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	return sb.String(), args
}

func buildCallSQL(fn string, args map[string]any) (string, []any, error) {
	names := make([]string, 0, len(args))
	for name := range args {
		if !identPattern.MatchString(name) {
			return "", nil, fmt.Errorf("%w: argument %q", ErrInvalidQuery, name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]string, len(names))
	values := make([]any, len(names))
	for i, name := range names {
		params[i] = fmt.Sprintf("%s => $%d", pgx.Identifier{name}.Sanitize(), i+1)
		values[i] = args[name]
	}

	query := fmt.Sprintf("SELECT * FROM %s(%s)", pgx.Identifier{fn}.Sanitize(), strings.Join(params, ", "))
	return query, values, nil
}
