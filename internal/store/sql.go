package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

const createSettings = `CREATE TABLE IF NOT EXISTS settings (
	name  TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

var sqliteSchema = []string{createSettings, `CREATE TABLE IF NOT EXISTS data (
	id                     INTEGER PRIMARY KEY AUTOINCREMENT,
	inlet_pressure         REAL,
	inlet_temperature      REAL,
	outlet_pressure        REAL,
	outlet_pressure_target REAL NOT NULL DEFAULT 0,
	working_hours          INTEGER NOT NULL DEFAULT 0,
	working_minutes        INTEGER NOT NULL DEFAULT 0,
	anti_drip              INTEGER NOT NULL DEFAULT 0,
	alarms                 TEXT NOT NULL DEFAULT '',
	tl_service             INTEGER NOT NULL DEFAULT 0,
	bk_service             INTEGER NOT NULL DEFAULT 0,
	rb_service             INTEGER NOT NULL DEFAULT 0,
	run                    INTEGER NOT NULL DEFAULT 0,
	running                INTEGER NOT NULL DEFAULT 0,
	created_at             INTEGER NOT NULL
)`}

var postgresSchema = []string{createSettings, `CREATE TABLE IF NOT EXISTS data (
	id                     BIGSERIAL PRIMARY KEY,
	inlet_pressure         DOUBLE PRECISION,
	inlet_temperature      DOUBLE PRECISION,
	outlet_pressure        DOUBLE PRECISION,
	outlet_pressure_target DOUBLE PRECISION NOT NULL DEFAULT 0,
	working_hours          INTEGER NOT NULL DEFAULT 0,
	working_minutes        INTEGER NOT NULL DEFAULT 0,
	anti_drip              BOOLEAN NOT NULL DEFAULT FALSE,
	alarms                 TEXT NOT NULL DEFAULT '',
	tl_service             BOOLEAN NOT NULL DEFAULT FALSE,
	bk_service             BOOLEAN NOT NULL DEFAULT FALSE,
	rb_service             BOOLEAN NOT NULL DEFAULT FALSE,
	run                    BOOLEAN NOT NULL DEFAULT FALSE,
	running                BOOLEAN NOT NULL DEFAULT FALSE,
	created_at             BIGINT NOT NULL
)`}

const (
	selectSetting = `SELECT value FROM settings WHERE name = ?`
	upsertSetting = `INSERT INTO settings (name, value) VALUES (?, ?) ON CONFLICT (name) DO UPDATE SET value = excluded.value`
	seedSetting   = `INSERT INTO settings (name, value) VALUES (?, ?) ON CONFLICT (name) DO NOTHING`

	dataColumns = `inlet_pressure, inlet_temperature, outlet_pressure, outlet_pressure_target,
	working_hours, working_minutes, anti_drip, alarms, tl_service, bk_service, rb_service,
	run, running, created_at`

	insertData = `INSERT INTO data (` + dataColumns + `) VALUES (
	:inlet_pressure, :inlet_temperature, :outlet_pressure, :outlet_pressure_target,
	:working_hours, :working_minutes, :anti_drip, :alarms, :tl_service, :bk_service, :rb_service,
	:run, :running, :created_at)`

	selectLastData = `SELECT id, ` + dataColumns + ` FROM data ORDER BY id DESC LIMIT 1`
)

// SQLStore implements Store over sqlite or PostgreSQL.
type SQLStore struct {
	db *sqlx.DB
}

// Open connects with driver "sqlite" or "pgx".
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// One writer; also keeps an in-memory database alive across calls.
		db.SetMaxOpenConns(1)
	}
	return New(db), nil
}

// New wraps an open database.
func New(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Migrate creates the tables if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	schema := sqliteSchema
	if s.db.DriverName() != "sqlite" {
		schema = postgresSchema
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// Seed inserts each pair whose key is not already present.
func (s *SQLStore) Seed(ctx context.Context, defaults map[string]string) error {
	return s.inTx(ctx, seedSetting, defaults)
}

func (s *SQLStore) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.GetContext(ctx, &v, s.db.Rebind(selectSetting), key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("store: get %s: %w", key, err)
	}
	return v, nil
}

func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(upsertSetting), key, value); err != nil {
		return fmt.Errorf("store: set %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) SetMany(ctx context.Context, kv map[string]string) error {
	return s.inTx(ctx, upsertSetting, kv)
}

func (s *SQLStore) InsertDataRow(ctx context.Context, row DataRow) error {
	if _, err := s.db.NamedExecContext(ctx, insertData, row); err != nil {
		return fmt.Errorf("store: insert data: %w", err)
	}
	return nil
}

func (s *SQLStore) LastDataRow(ctx context.Context) (*DataRow, error) {
	var row DataRow
	err := s.db.GetContext(ctx, &row, selectLastData)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: last data: %w", err)
	}
	return &row, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// inTx runs query once per pair, in key order, in one transaction.
func (s *SQLStore) inTx(ctx context.Context, query string, kv map[string]string) error {
	if len(kv) == 0 {
		return nil
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	q := tx.Rebind(query)
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, q, k, kv[k]); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: write %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}
