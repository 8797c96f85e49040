package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"trainhub/internal/models"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

const memoryPath = ":memory:"

type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger

	mu         sync.RWMutex
	usersCache map[int64]*models.User
}

// NewDB opens (and migrates) the SQLite database at path. Write transactions
// take the database lock up front so a conflict check and the write that
// depends on it cannot interleave with another writer.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != memoryPath {
		// Создаем директорию для БД, если её нет
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == memoryPath {
		// каждое соединение получает свою in-memory базу
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{
		DB:         conn,
		path:       path,
		logger:     logger,
		usersCache: make(map[int64]*models.User),
	}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return db, nil
}

func dsn(path string) string {
	params := "_txlock=immediate&_busy_timeout=5000&_foreign_keys=on"
	if path == memoryPath {
		return path + "?" + params
	}
	return path + "?" + params + "&_journal_mode=WAL"
}

// Path returns the on-disk location, used by backups.
func (db *DB) Path() string { return db.path }

func (db *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            email TEXT NOT NULL DEFAULT '',
            role TEXT NOT NULL CHECK (role IN ('client', 'trainer', 'admin')),
            is_approved BOOLEAN NOT NULL DEFAULT 0,
            hourly_rate REAL,
            availability TEXT,
            rating_sum INTEGER NOT NULL DEFAULT 0,
            rating_count INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            client_id INTEGER NOT NULL REFERENCES users(id),
            trainer_id INTEGER NOT NULL REFERENCES users(id),
            status TEXT NOT NULL DEFAULT 'pending'
                CHECK (status IN ('pending', 'approved', 'rejected', 'cancelled', 'completed')),
            session_date TEXT NOT NULL,
            start_time TEXT NOT NULL,
            end_time TEXT NOT NULL,
            duration INTEGER NOT NULL CHECK (duration > 0),
            session_type TEXT NOT NULL,
            location TEXT NOT NULL DEFAULT '',
            meeting_link TEXT NOT NULL DEFAULT '',
            goals TEXT NOT NULL DEFAULT '[]',
            client_notes TEXT NOT NULL DEFAULT '',
            trainer_notes TEXT NOT NULL DEFAULT '',
            payment_amount REAL NOT NULL CHECK (payment_amount > 0),
            payment_currency TEXT NOT NULL,
            payment_status TEXT NOT NULL DEFAULT 'pending',
            paid_at DATETIME,
            responses TEXT NOT NULL DEFAULT '[]',
            cancellation TEXT,
            completion TEXT,
            client_rating INTEGER CHECK (client_rating BETWEEN 1 AND 5),
            is_deleted BOOLEAN NOT NULL DEFAULT 0,
            deleted_at DATETIME,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS notification_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            task_type TEXT NOT NULL,
            booking_id INTEGER NOT NULL,
            payload TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,

		`CREATE INDEX IF NOT EXISTS idx_users_role ON users(role)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_trainer_date ON bookings(trainer_id, session_date)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_client_date ON bookings(client_id, session_date)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_notification_queue_status ON notification_queue(status, next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}

	// колонки, появившиеся после первого релиза
	if err := db.ensureColumn("bookings", "version", "INTEGER NOT NULL DEFAULT 1"); err != nil {
		return err
	}
	if err := db.ensureColumn("users", "telegram_chat_id", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return err
	}

	// At most one active booking per party and start time. The buffered
	// overlap rule is checked in the write transaction; these indexes catch
	// anything that slips past it.
	uniques := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_bookings_trainer_slot
            ON bookings(trainer_id, session_date, start_time)
            WHERE status IN ('pending', 'approved') AND is_deleted = 0`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_bookings_client_slot
            ON bookings(client_id, session_date, start_time)
            WHERE status IN ('pending', 'approved') AND is_deleted = 0`,
	}
	for _, query := range uniques {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}

	return nil
}

// ensureColumn adds a column to an existing table, ignoring the error when
// it is already there.
func (db *DB) ensureColumn(table, column, definition string) error {
	_, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition))
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (db *DB) invalidateUser(id int64) {
	db.mu.Lock()
	delete(db.usersCache, id)
	db.mu.Unlock()
}
