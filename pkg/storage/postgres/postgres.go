// Package postgres provides a PostgreSQL implementation of storage.Store.
// It uses pgx/v5 for connection pooling and JSONB for the canonical response.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/weiche/pkg/api"
	"github.com/rhuss/weiche/pkg/storage"
)

// uniqueViolation is the SQLSTATE for a duplicate primary key.
const uniqueViolation = "23505"

// Store is a PostgreSQL-backed run store.
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements storage.Store at compile time.
var _ storage.Store = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	if _, set := poolCfg.ConnConfig.RuntimeParams["application_name"]; !set {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// SaveRun persists a finished dispatch.
func (s *Store) SaveRun(ctx context.Context, run *storage.Run) error {
	respJSON, err := json.Marshal(run.Response)
	if err != nil {
		return fmt.Errorf("marshaling response: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO runs (
			id, request_id, owner, vendor, model,
			success, error_kind, response, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		run.ID, run.RequestID, run.Owner, string(run.Vendor), run.Model,
		run.Success, nullString(string(run.ErrorKind)), respJSON, run.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID, scoped by the context owner if set.
func (s *Store) GetRun(ctx context.Context, id string) (*storage.Run, error) {
	query := selectRuns + " WHERE id = $1"
	args := []any{id}

	if owner := storage.Owner(ctx); owner != "" {
		query += " AND owner = $2"
		args = append(args, owner)
	}

	run, err := scanRun(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first, filtered by owner and vendor.
func (s *Store) ListRuns(ctx context.Context, opts storage.ListOptions) ([]*storage.Run, error) {
	opts = opts.Normalize()

	query := selectRuns + " WHERE TRUE"
	var args []any

	if owner := storage.Owner(ctx); owner != "" {
		args = append(args, owner)
		query += fmt.Sprintf(" AND owner = $%d", len(args))
	}
	if opts.Vendor != "" {
		args = append(args, string(opts.Vendor))
		query += fmt.Sprintf(" AND vendor = $%d", len(args))
	}
	args = append(args, opts.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	runs := []*storage.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const selectRuns = `
	SELECT id, request_id, owner, vendor, model,
	       success, error_kind, response, created_at
	FROM runs`

func scanRun(row pgx.Row) (*storage.Run, error) {
	var (
		run       storage.Run
		vendor    string
		errorKind *string
		respJSON  []byte
	)
	err := row.Scan(
		&run.ID, &run.RequestID, &run.Owner, &vendor, &run.Model,
		&run.Success, &errorKind, &respJSON, &run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Vendor = api.Vendor(vendor)
	if errorKind != nil {
		run.ErrorKind = api.ErrorKind(*errorKind)
	}

	var resp api.CanonicalResponse
	if err := json.Unmarshal(respJSON, &resp); err != nil {
		return nil, fmt.Errorf("unmarshaling response: %w", err)
	}
	run.Response = &resp
	return &run, nil
}

// nullString converts an empty string to nil for nullable TEXT columns.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
