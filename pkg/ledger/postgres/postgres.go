// Package postgres provides a PostgreSQL-backed ledger.
//
// Each kind gets its own table with the index columns broken out and the
// entity body in a JSONB column:
//
//	id TEXT PRIMARY KEY, owner_id TEXT, card_id TEXT,
//	created_at TIMESTAMPTZ, body JSONB
//
// Window scans use the (card_id, created_at) index.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"cardctl/pkg/ledger"

	_ "github.com/lib/pq"
)

// PostgresStore wraps a PostgreSQL connection pool and satisfies ledger.Store.
type PostgresStore struct {
	db   *sql.DB
	name string
}

// Config holds PostgreSQL connection configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns default PostgreSQL configuration.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Password:        "postgres",
		Database:        "cardctl",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DSN renders the lib/pq connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// NewPostgresStore opens a pool, pings the server and creates missing tables.
func NewPostgresStore(cfg Config) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	store := &PostgresStore{db: db, name: "postgres"}
	if err := store.initTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init tables: %w", err)
	}

	return store, nil
}

func (p *PostgresStore) initTables(ctx context.Context) error {
	for _, kind := range ledger.Kinds {
		queries := []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL,
				card_id TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				body JSONB NOT NULL
			)`, kind),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_owner ON %s(owner_id)`, kind, kind),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_card_created ON %s(card_id, created_at)`, kind, kind),
		}
		for _, query := range queries {
			if _, err := p.db.ExecContext(ctx, query); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, kind ledger.Kind, id string) (*ledger.Record, error) {
	if err := validate(kind, id); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id, owner_id, card_id, created_at, body FROM %s WHERE id = $1`, kind)

	rec := &ledger.Record{Kind: kind}
	err := p.db.QueryRowContext(ctx, query, id).Scan(&rec.ID, &rec.OwnerID, &rec.CardID, &rec.CreatedAt, &rec.Body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("postgres get: %w", err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

// Put upserts the record. created_at is excluded from the update set so the
// first write wins.
func (p *PostgresStore) Put(ctx context.Context, rec *ledger.Record) error {
	if err := validate(rec.Kind, rec.ID); err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, owner_id, card_id, created_at, body)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			card_id = EXCLUDED.card_id,
			body = EXCLUDED.body
	`, rec.Kind)

	_, err := p.db.ExecContext(ctx, query, rec.ID, rec.OwnerID, rec.CardID, rec.CreatedAt, string(rec.Body))
	if err != nil {
		return fmt.Errorf("postgres put: %w", err)
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, kind ledger.Kind, id string) error {
	if err := validate(kind, id); err != nil {
		return err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, kind)
	if _, err := p.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("postgres delete: %w", err)
	}
	return nil
}

func (p *PostgresStore) Scan(ctx context.Context, kind ledger.Kind, filter ledger.Filter) ([]*ledger.Record, error) {
	if !kind.Valid() {
		return nil, ledger.ErrInvalidKey
	}

	query, args := buildScanQuery(kind, filter)
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres scan: %w", err)
	}
	defer rows.Close()

	out := make([]*ledger.Record, 0)
	for rows.Next() {
		rec := &ledger.Record{Kind: kind}
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.CardID, &rec.CreatedAt, &rec.Body); err != nil {
			return nil, fmt.Errorf("postgres scan: %w", err)
		}
		rec.CreatedAt = rec.CreatedAt.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres scan: %w", err)
	}
	return out, nil
}

// buildScanQuery renders the SELECT for filter with positional parameters.
func buildScanQuery(kind ledger.Kind, filter ledger.Filter) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if filter.OwnerID != "" {
		add("owner_id = $%d", filter.OwnerID)
	}
	if filter.CardID != "" {
		add("card_id = $%d", filter.CardID)
	}
	if !filter.Since.IsZero() {
		add("created_at >= $%d", filter.Since)
	}
	if !filter.Until.IsZero() {
		add("created_at <= $%d", filter.Until)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT id, owner_id, card_id, created_at, body FROM %s", kind)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at, id")
	return b.String(), args
}

func (p *PostgresStore) Name() string {
	return p.name
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

// Ping checks the connection pool.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Truncate empties every table. Tests only.
func (p *PostgresStore) Truncate(ctx context.Context) error {
	for _, kind := range ledger.Kinds {
		if _, err := p.db.ExecContext(ctx, fmt.Sprintf(`TRUNCATE %s`, kind)); err != nil {
			return fmt.Errorf("postgres truncate %s: %w", kind, err)
		}
	}
	return nil
}

func validate(kind ledger.Kind, id string) error {
	if !kind.Valid() {
		return ledger.ErrInvalidKey
	}
	return ledger.ValidateID(id)
}
