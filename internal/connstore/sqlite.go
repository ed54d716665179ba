package connstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore is a Store backed by SQLite, used where connection state has
// to survive process restarts (the dev server across hot reloads, or a
// single-node deployment).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the registry database and brings its
// schema up to date through the embedded migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open connection registry: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping connection registry: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to initialize migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to initialize migrate: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, _, _ := m.Version()
	logrus.WithField("version", version).Debug("Connection registry schema up to date")
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, conn Connection) error {
	if conn.ConnectedAt.IsZero() {
		conn.ConnectedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO connections (id, user_id, connected_at) VALUES (?, ?, ?)`,
		conn.ID, conn.UserID, conn.ConnectedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to store connection %s: %w", conn.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, connID string) (*Connection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, connected_at FROM connections WHERE id = ?`, connID)

	var conn Connection
	if err := row.Scan(&conn.ID, &conn.UserID, &conn.ConnectedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load connection %s: %w", connID, err)
	}
	return &conn, nil
}

func (s *SQLiteStore) BindUser(ctx context.Context, connID, userID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE connections SET user_id = ? WHERE id = ?`, userID, connID)
	if err != nil {
		return fmt.Errorf("failed to bind user to connection %s: %w", connID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, connID string) (*Connection, error) {
	conn, err := s.Get(ctx, connID)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE id = ?`, connID); err != nil {
		return nil, fmt.Errorf("failed to remove connection %s: %w", connID, err)
	}
	return conn, nil
}

func (s *SQLiteStore) CountForUser(ctx context.Context, userID string) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM connections WHERE user_id = ?`, userID)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count connections for user %s: %w", userID, err)
	}
	return count, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
