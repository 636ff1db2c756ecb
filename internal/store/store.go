// Package store persists ShopBot users, billing state, promo codes and chat
// history in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const dbFileName = "shopbot.db"

var (
	// ErrDuplicate is returned when a unique column already holds the value.
	ErrDuplicate = errors.New("store: duplicate record")
	// ErrLimitReached is returned when a promo code has no redemptions left.
	ErrLimitReached = errors.New("store: usage limit reached")
	// ErrNotFound is returned by updates that matched no row.
	ErrNotFound = errors.New("store: record not found")
)

// DB provides CRUD operations backed by SQLite.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database file in dir.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, dbFileName)
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(ON)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open shopbot db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &DB{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id                TEXT PRIMARY KEY,
		email             TEXT NOT NULL UNIQUE,
		password_hash     TEXT NOT NULL,
		full_name         TEXT NOT NULL DEFAULT '',
		company_name      TEXT NOT NULL DEFAULT '',
		shopify_store_url TEXT NOT NULL DEFAULT '',
		is_active         INTEGER NOT NULL DEFAULT 1,
		is_verified       INTEGER NOT NULL DEFAULT 0,
		created_at        INTEGER NOT NULL,
		updated_at        INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS promo_codes (
		id               TEXT PRIMARY KEY,
		code             TEXT NOT NULL UNIQUE,
		discount_type    TEXT NOT NULL DEFAULT 'percent',
		discount_value   REAL NOT NULL,
		max_uses         INTEGER,
		times_used       INTEGER NOT NULL DEFAULT 0,
		is_active        INTEGER NOT NULL DEFAULT 1,
		valid_from       INTEGER NOT NULL,
		valid_until      INTEGER,
		first_month_only INTEGER NOT NULL DEFAULT 0,
		duration_months  INTEGER,
		description      TEXT NOT NULL DEFAULT '',
		created_at       INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS subscriptions (
		id                       TEXT PRIMARY KEY,
		user_id                  TEXT NOT NULL UNIQUE REFERENCES users(id),
		stripe_customer_id       TEXT,
		stripe_subscription_id   TEXT,
		stripe_price_id          TEXT NOT NULL DEFAULT '',
		status                   TEXT NOT NULL DEFAULT 'trialing',
		plan_name                TEXT NOT NULL DEFAULT 'basic',
		monthly_price            REAL NOT NULL DEFAULT 79.0,
		promo_code_id            TEXT REFERENCES promo_codes(id),
		discount_percent         REAL NOT NULL DEFAULT 0,
		monthly_message_limit    INTEGER NOT NULL DEFAULT 999999,
		messages_used_this_month INTEGER NOT NULL DEFAULT 0,
		usage_period_start       INTEGER,
		trial_ends_at            INTEGER,
		current_period_start     INTEGER,
		current_period_end       INTEGER,
		canceled_at              INTEGER,
		past_due_since           INTEGER,
		created_at               INTEGER NOT NULL,
		updated_at               INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_customer ON subscriptions(stripe_customer_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_stripe_sub ON subscriptions(stripe_subscription_id);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_status ON subscriptions(status);

	CREATE TABLE IF NOT EXISTS stores (
		id                TEXT PRIMARY KEY,
		user_id           TEXT NOT NULL REFERENCES users(id),
		shopify_store_url TEXT NOT NULL DEFAULT '',
		shopify_shop_id   TEXT NOT NULL DEFAULT '',
		store_name        TEXT NOT NULL DEFAULT '',
		store_domain      TEXT NOT NULL DEFAULT '',
		business_info     TEXT NOT NULL DEFAULT '{}',
		widget_settings   TEXT NOT NULL DEFAULT '{}',
		is_active         INTEGER NOT NULL DEFAULT 1,
		created_at        INTEGER NOT NULL,
		updated_at        INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_stores_user ON stores(user_id);

	CREATE TABLE IF NOT EXISTS conversations (
		id             TEXT PRIMARY KEY,
		user_id        TEXT NOT NULL REFERENCES users(id),
		store_id       TEXT NOT NULL REFERENCES stores(id),
		customer_email TEXT NOT NULL DEFAULT '',
		customer_name  TEXT NOT NULL DEFAULT '',
		customer_ip    TEXT NOT NULL DEFAULT '',
		status         TEXT NOT NULL DEFAULT 'active',
		rating         INTEGER,
		extra_data     TEXT NOT NULL DEFAULT '{}',
		started_at     INTEGER NOT NULL,
		ended_at       INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_store ON conversations(store_id);

	CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		model_used      TEXT NOT NULL DEFAULT '',
		tokens_used     INTEGER NOT NULL DEFAULT 0,
		timestamp       INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);

	CREATE TABLE IF NOT EXISTS webhook_events (
		event_id     TEXT PRIMARY KEY,
		type         TEXT NOT NULL,
		status       TEXT NOT NULL DEFAULT 'processed',
		processed_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init shopbot schema: %w", err)
	}
	return s.addMissingColumns()
}

// addMissingColumns upgrades databases created before a column existed.
func (s *DB) addMissingColumns() error {
	columns := []struct {
		table, name, ddl string
	}{
		{"subscriptions", "past_due_since", "past_due_since INTEGER"},
		{"webhook_events", "status", "status TEXT NOT NULL DEFAULT 'processed'"},
	}
	for _, c := range columns {
		exists, err := s.hasColumn(c.table, c.name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := s.db.Exec(`ALTER TABLE ` + c.table + ` ADD COLUMN ` + c.ddl); err != nil {
			return fmt.Errorf("add column %s.%s: %w", c.table, c.name, err)
		}
	}
	return nil
}

func (s *DB) hasColumn(table, column string) (bool, error) {
	rows, err := s.db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return false, fmt.Errorf("inspect table %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, fmt.Errorf("scan column of %s: %w", table, err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Ping checks database connectivity (used for readiness probes).
func (s *DB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *DB) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func newID() string {
	return uuid.NewString()
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullableTimeUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func timeFromNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	ts := time.Unix(v.Int64, 0).UTC()
	return &ts
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func intFromNull(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

// nullableString stores empty strings as NULL so optional unique columns
// do not collide on ''.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
