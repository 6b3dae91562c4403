// Package store is the authoritative persistence layer: a single SQLite
// file holding users, followups and their schedule rules, delivery logs,
// notifications, templates, and settings. All scheduling state lives here;
// nothing in memory survives a restart.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// TimeFormat is the storage format for instants (RFC3339 UTC). Uniform "Z"
// suffixed strings compare chronologically as text, which the due query
// relies on.
const TimeFormat = time.RFC3339

// FormatTime renders t for storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// ParseTime is the inverse of FormatTime.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeFormat, s)
}

var (
	// ErrNotFound is returned when a row does not exist or is not visible
	// to the requesting user.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyFinalized is returned when a schedule write targets a
	// followup that is finalized or has already been sent at least once.
	ErrAlreadyFinalized = errors.New("followup already finalized")
)

// Store wraps the SQLite handle. All goroutines serialize through one
// connection (SetMaxOpenConns(1)), which eliminates SQLITE_BUSY from
// concurrent writers.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database file at path and applies the
// connection pragmas. Call Init before first use.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	// journal_mode returns a row, so it goes through QueryRow.
	var mode string
	if err := db.QueryRow(`PRAGMA journal_mode=WAL`).Scan(&mode); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal_mode: %w", err)
	}
	for _, pragma := range []string{
		`PRAGMA foreign_keys=ON`,
		`PRAGMA busy_timeout=5000`,
		`PRAGMA synchronous=NORMAL`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return &Store{db: db}, nil
}

// Init creates the schema and applies column upgrades from older databases.
func (s *Store) Init(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			gmail_token TEXT,
			created_at TEXT DEFAULT CURRENT_TIMESTAMP,
			trial_start TEXT,
			trial_end TEXT,
			is_subscribed INTEGER DEFAULT 0,
			brand_logo TEXT,
			brand_color TEXT DEFAULT '#36A2EB',
			company_name TEXT,
			support_email TEXT,
			email_footer TEXT,
			email_verified INTEGER DEFAULT 0,
			verification_code TEXT,
			verification_expires_at TEXT,
			verification_last_sent_at TEXT,
			reset_token TEXT,
			reset_expires_at TEXT,
			subscription_status TEXT DEFAULT 'none',
			stripe_customer_id TEXT,
			stripe_subscription_id TEXT,
			plan TEXT,
			current_period_end TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS followups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			client_name TEXT NOT NULL,
			phone TEXT,
			email TEXT,
			followup_type TEXT,
			description TEXT,
			due_date TEXT,
			status TEXT DEFAULT 'pending',
			created_at TEXT DEFAULT CURRENT_TIMESTAMP,
			message_override TEXT,
			preferred_channel TEXT DEFAULT 'whatsapp',
			last_error TEXT,
			last_attempt_at TEXT,
			sent_count INTEGER DEFAULT 0,
			last_sent_at TEXT,
			replied_at TEXT,
			schedule_enabled INTEGER DEFAULT 0,
			schedule_repeat TEXT,
			schedule_start_date TEXT,
			schedule_end_date TEXT,
			schedule_send_time TEXT DEFAULT '09:00',
			schedule_send_time_2 TEXT,
			schedule_interval INTEGER DEFAULT 1,
			schedule_byweekday TEXT,
			schedule_rel_value INTEGER,
			schedule_rel_unit TEXT,
			next_send_at TEXT,
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE TABLE IF NOT EXISTS whatsapp_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			followup_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			message TEXT,
			sent_at TEXT DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (followup_id) REFERENCES followups(id),
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			message TEXT NOT NULL,
			read INTEGER DEFAULT 0,
			created_at TEXT DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE TABLE IF NOT EXISTS email_templates (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			subject TEXT,
			html_content TEXT,
			created_at TEXT DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(user_id, name),
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER UNIQUE NOT NULL,
			daily_limit INTEGER DEFAULT 20,
			default_country TEXT DEFAULT 'US',
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE TABLE IF NOT EXISTS scheduler_settings (
			user_id INTEGER PRIMARY KEY,
			enabled INTEGER DEFAULT 0,
			start_date TEXT,
			end_date TEXT,
			send_time TEXT DEFAULT '09:00',
			mode TEXT DEFAULT 'both',
			last_bulk_run_date TEXT,
			created_at TEXT DEFAULT CURRENT_TIMESTAMP,
			updated_at TEXT DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE TABLE IF NOT EXISTS activity_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			followup_id INTEGER,
			action TEXT NOT NULL,
			message TEXT,
			created_at TEXT DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
	}

	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	// Column upgrades for databases created before these fields existed.
	// Best-effort: the ALTER fails harmlessly when the column is present.
	upgrades := []string{
		"ALTER TABLE followups ADD COLUMN message_override TEXT",
		"ALTER TABLE followups ADD COLUMN preferred_channel TEXT DEFAULT 'whatsapp'",
		"ALTER TABLE followups ADD COLUMN last_error TEXT",
		"ALTER TABLE followups ADD COLUMN last_attempt_at TEXT",
		"ALTER TABLE followups ADD COLUMN sent_count INTEGER DEFAULT 0",
		"ALTER TABLE followups ADD COLUMN last_sent_at TEXT",
		"ALTER TABLE followups ADD COLUMN replied_at TEXT",
		"ALTER TABLE followups ADD COLUMN schedule_send_time_2 TEXT",
		"ALTER TABLE followups ADD COLUMN schedule_rel_value INTEGER",
		"ALTER TABLE followups ADD COLUMN schedule_rel_unit TEXT",
		"ALTER TABLE users ADD COLUMN brand_logo TEXT",
		"ALTER TABLE users ADD COLUMN brand_color TEXT DEFAULT '#36A2EB'",
		"ALTER TABLE users ADD COLUMN company_name TEXT",
		"ALTER TABLE users ADD COLUMN support_email TEXT",
		"ALTER TABLE users ADD COLUMN email_footer TEXT",
		"ALTER TABLE users ADD COLUMN email_verified INTEGER DEFAULT 0",
		"ALTER TABLE users ADD COLUMN verification_code TEXT",
		"ALTER TABLE users ADD COLUMN verification_expires_at TEXT",
		"ALTER TABLE users ADD COLUMN verification_last_sent_at TEXT",
		"ALTER TABLE users ADD COLUMN reset_token TEXT",
		"ALTER TABLE users ADD COLUMN reset_expires_at TEXT",
		"ALTER TABLE users ADD COLUMN subscription_status TEXT DEFAULT 'none'",
		"ALTER TABLE users ADD COLUMN stripe_customer_id TEXT",
		"ALTER TABLE users ADD COLUMN stripe_subscription_id TEXT",
		"ALTER TABLE users ADD COLUMN plan TEXT",
		"ALTER TABLE users ADD COLUMN current_period_end TEXT",
	}
	for _, stmt := range upgrades {
		_, _ = s.db.ExecContext(ctx, stmt)
	}

	// Backfill for rows written before subscription_status existed.
	_, _ = s.db.ExecContext(ctx, `UPDATE users SET subscription_status='none' WHERE subscription_status IS NULL`)

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_followups_user_status_due ON followups(user_id, status, due_date)`,
		`CREATE INDEX IF NOT EXISTS idx_followups_user_sched ON followups(user_id, schedule_enabled, next_send_at)`,
		`CREATE INDEX IF NOT EXISTS idx_whatsapp_logs_user_followup ON whatsapp_logs(user_id, followup_id)`,
		`CREATE INDEX IF NOT EXISTS idx_email_templates_user ON email_templates(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_logs_user_created ON activity_logs(user_id, created_at)`,
	}
	for _, ddl := range indexes {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	return nil
}

// DB exposes the underlying handle for callers that need raw access
// (the scheduler's sweeps and tests).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
