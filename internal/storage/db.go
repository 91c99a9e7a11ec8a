package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"chatdesk/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLStore is the relational Provider. Every entity family maps to one table.
type SQLStore struct {
	db     *sql.DB
	driver string
	sql    sq.StatementBuilderType
}

var _ Provider = (*SQLStore)(nil)

// runner is satisfied by both *sql.DB and *sql.Tx.
type runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func OpenSQL(ctx context.Context, driver, dsn string, autoMigrate bool) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is empty")
	}
	resolved, err := config.ResolveDriver(driver, dsn)
	if err != nil {
		return nil, err
	}

	driverName := "pgx"
	if resolved == config.DriverSQLite {
		driverName = "sqlite"
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if resolved == config.DriverSQLite {
		// sqlite allows a single writer; one connection avoids SQLITE_BUSY inside transactions.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if autoMigrate {
		switch resolved {
		case config.DriverPostgres:
			goose.SetBaseFS(migrationsFS)
			if err := goose.SetDialect("postgres"); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("set goose dialect: %w", err)
			}
			if err := goose.UpContext(ctx, db, "migrations"); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		case config.DriverSQLite:
			if err := initSQLiteSchema(ctx, db); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("init sqlite schema: %w", err)
			}
		}
	}

	var placeholder sq.PlaceholderFormat = sq.Question
	if resolved == config.DriverPostgres {
		placeholder = sq.Dollar
	}

	return &SQLStore{
		db:     db,
		driver: resolved,
		sql:    sq.StatementBuilder.PlaceholderFormat(placeholder),
	}, nil
}

func (s *SQLStore) Backend() string {
	if s.driver == config.DriverPostgres {
		return BackendPostgres
	}
	return BackendSQLite
}

func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// withTx runs fn in a transaction, committing on success and rolling back otherwise.
func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func initSQLiteSchema(ctx context.Context, db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    username TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    name TEXT NOT NULL,
    role TEXT NOT NULL DEFAULT 'admin',
    avatar TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    customer_name TEXT NOT NULL,
    customer_phone TEXT NOT NULL,
    customer_avatar TEXT,
    last_message TEXT,
    last_message_time DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    status TEXT NOT NULL DEFAULT 'active',
    is_active INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT,
    content TEXT NOT NULL,
    is_bot INTEGER NOT NULL DEFAULT 0,
    is_user INTEGER NOT NULL DEFAULT 1,
    timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    message_type TEXT NOT NULL DEFAULT 'text',
    metadata_json TEXT
);
CREATE TABLE IF NOT EXISTS bot_config (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT 'Customer Support Bot',
    welcome_message TEXT NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1,
    auto_respond INTEGER NOT NULL DEFAULT 1,
    response_delay INTEGER NOT NULL DEFAULT 1000,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS message_templates (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    content TEXT NOT NULL,
    keywords_json TEXT,
    category TEXT DEFAULT 'general',
    is_active INTEGER NOT NULL DEFAULT 1,
    usage_count INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS analytics (
    id TEXT PRIMARY KEY,
    date DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    total_messages INTEGER NOT NULL DEFAULT 0,
    active_users INTEGER NOT NULL DEFAULT 0,
    bot_responses INTEGER NOT NULL DEFAULT 0,
    response_rate INTEGER NOT NULL DEFAULT 0,
    avg_response_time INTEGER NOT NULL DEFAULT 0,
    user_satisfaction INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_conversations_last_message_time ON conversations(last_message_time DESC);
CREATE INDEX IF NOT EXISTS idx_messages_conversation_id_timestamp ON messages(conversation_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_analytics_date ON analytics(date DESC);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}
