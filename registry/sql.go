package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/ruteri/tee-signing-gateway/interfaces"
	_ "modernc.org/sqlite"
)

// Supported SQL drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// SQLStore persists the worker registry and allowlist in SQLite or PostgreSQL.
type SQLStore struct {
	db  *sqlx.DB
	log *slog.Logger
	now func() time.Time
}

// NewSQLStore opens the database at dsn and creates the tables if needed.
func NewSQLStore(driver, dsn string, log *slog.Logger) (*SQLStore, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported sql driver: %s", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if driver == DriverSQLite {
		// A single connection keeps in-memory databases shared and avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}

	s := &SQLStore{db: db, log: log, now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Debug("Opened trust store", slog.String("driver", driver))
	return s, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS workers (
			identity TEXT PRIMARY KEY,
			checksum TEXT NOT NULL,
			codehash TEXT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS approved_codehashes (
			codehash TEXT PRIMARY KEY,
			approved_at BIGINT NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

type workerRow struct {
	Checksum string `db:"checksum"`
	Codehash string `db:"codehash"`
}

func (s *SQLStore) GetWorker(ctx context.Context, identity interfaces.Identity) (*interfaces.Worker, error) {
	var row workerRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT checksum, codehash FROM workers WHERE identity = ?`), identity.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrWorkerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get worker: %w", err)
	}
	return &interfaces.Worker{Checksum: row.Checksum, Codehash: interfaces.CodeIdentity(row.Codehash)}, nil
}

func (s *SQLStore) PutWorker(ctx context.Context, identity interfaces.Identity, worker interfaces.Worker) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO workers (identity, checksum, codehash, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (identity) DO UPDATE SET checksum = excluded.checksum, codehash = excluded.codehash, updated_at = excluded.updated_at`),
		identity.String(), worker.Checksum, worker.Codehash.String(), s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("put worker: %w", err)
	}
	return nil
}

func (s *SQLStore) Approve(ctx context.Context, code interfaces.CodeIdentity) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO approved_codehashes (codehash, approved_at) VALUES (?, ?) ON CONFLICT (codehash) DO NOTHING`),
		code.String(), s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("approve codehash: %w", err)
	}
	return nil
}

func (s *SQLStore) Revoke(ctx context.Context, code interfaces.CodeIdentity) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM approved_codehashes WHERE codehash = ?`), code.String()); err != nil {
		return fmt.Errorf("revoke codehash: %w", err)
	}
	return nil
}

func (s *SQLStore) IsApproved(ctx context.Context, code interfaces.CodeIdentity) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, s.db.Rebind(`SELECT COUNT(*) FROM approved_codehashes WHERE codehash = ?`), code.String()); err != nil {
		return false, fmt.Errorf("check codehash: %w", err)
	}
	return count > 0, nil
}

func (s *SQLStore) List(ctx context.Context) ([]interfaces.CodeIdentity, error) {
	var codes []string
	if err := s.db.SelectContext(ctx, &codes, `SELECT codehash FROM approved_codehashes ORDER BY codehash`); err != nil {
		return nil, fmt.Errorf("list codehashes: %w", err)
	}

	out := make([]interfaces.CodeIdentity, len(codes))
	for i, c := range codes {
		out[i] = interfaces.CodeIdentity(c)
	}
	return out, nil
}
