package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	pq "github.com/lib/pq"

	"webmirror/internal/config"
	"webmirror/pkg/types"
)

// Recorder receives one Capture per retrieved resource.
type Recorder interface {
	Record(ctx context.Context, c types.Capture) error
}

// SQLLedger records captures into a relational database.
type SQLLedger struct {
	db          *sql.DB
	autoMigrate bool
}

// OpenSQLLedger connects using the configured driver and DSN. With
// CreateIfMissing a missing Postgres database is created first.
func OpenSQLLedger(cfg config.SQLConfig) (*SQLLedger, error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, errors.New("sql config missing driver or dsn")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		if !cfg.CreateIfMissing || !shouldAttemptCreateDatabase(cfg.Driver, err) {
			return nil, fmt.Errorf("ping sql connection: %w", err)
		}
		if err := createDatabase(ctx, cfg); err != nil {
			return nil, err
		}
		if db, err = sql.Open(cfg.Driver, cfg.DSN); err != nil {
			return nil, fmt.Errorf("open sql connection: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping sql connection: %w", err)
		}
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}
	return NewSQLLedger(ctx, db, cfg.AutoMigrate)
}

// NewSQLLedger wraps an open database handle.
func NewSQLLedger(ctx context.Context, db *sql.DB, autoMigrate bool) (*SQLLedger, error) {
	ledger := &SQLLedger{db: db, autoMigrate: autoMigrate}
	if autoMigrate {
		if err := ledger.ensureSchema(ctx); err != nil {
			return nil, err
		}
	}
	return ledger, nil
}

// Record inserts or refreshes the capture row for (run, url).
func (l *SQLLedger) Record(ctx context.Context, c types.Capture) error {
	if l == nil || l.db == nil {
		return nil
	}
	if err := l.insert(ctx, c); err != nil {
		if l.autoMigrate && isUndefinedTableErr(err) {
			if schemaErr := l.ensureSchema(ctx); schemaErr != nil {
				return fmt.Errorf("ensure schema: %w", schemaErr)
			}
			if retryErr := l.insert(ctx, c); retryErr != nil {
				return fmt.Errorf("insert capture: %w", retryErr)
			}
			return nil
		}
		return fmt.Errorf("insert capture: %w", err)
	}
	return nil
}

func (l *SQLLedger) insert(ctx context.Context, c types.Capture) error {
	query := `
        INSERT INTO captures (run_id, url, final_url, path, status_code, content_type, kind, captured_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (run_id, url) DO UPDATE SET
            final_url = EXCLUDED.final_url,
            path = EXCLUDED.path,
            status_code = EXCLUDED.status_code,
            content_type = EXCLUDED.content_type,
            kind = EXCLUDED.kind,
            captured_at = EXCLUDED.captured_at
    `
	_, err := l.db.ExecContext(ctx, query,
		c.RunID,
		c.URL,
		c.FinalURL,
		c.Path,
		c.StatusCode,
		c.ContentType,
		c.Kind,
		c.CapturedAt,
	)
	return err
}

// Close closes the underlying DB connection.
func (l *SQLLedger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *SQLLedger) ensureSchema(ctx context.Context) error {
	schemaCtx := ctx
	if schemaCtx == nil || schemaCtx.Err() != nil {
		schemaCtx = context.Background()
	}
	schemaCtx, cancel := context.WithTimeout(schemaCtx, 10*time.Second)
	defer cancel()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS captures (
		    run_id TEXT NOT NULL,
		    url TEXT NOT NULL,
		    final_url TEXT,
		    path TEXT,
		    status_code INT,
		    content_type TEXT,
		    kind TEXT,
		    captured_at TIMESTAMPTZ,
		    PRIMARY KEY (run_id, url)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_captures_captured_at ON captures (captured_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := l.db.ExecContext(schemaCtx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func shouldAttemptCreateDatabase(driver string, err error) bool {
	if !strings.EqualFold(driver, "postgres") {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "3D000"
	}
	return strings.Contains(strings.ToLower(err.Error()), "does not exist")
}

// createDatabase connects to the maintenance database named by the DSN's
// host and issues CREATE DATABASE for the DSN's path.
func createDatabase(ctx context.Context, cfg config.SQLConfig) error {
	parsed, err := url.Parse(cfg.DSN)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	dbName := strings.TrimPrefix(parsed.Path, "/")
	if dbName == "" {
		return errors.New("dsn missing database name")
	}
	if strings.EqualFold(dbName, "postgres") {
		return fmt.Errorf("target database %q cannot be auto-created", dbName)
	}
	parsed.Path = "/postgres"
	adminDB, err := sql.Open(cfg.Driver, parsed.String())
	if err != nil {
		return fmt.Errorf("connect admin database: %w", err)
	}
	defer adminDB.Close()
	stmt := fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName))
	if _, err := adminDB.ExecContext(ctx, stmt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "42P04" {
			return nil
		}
		return fmt.Errorf("create database %q: %w", dbName, err)
	}
	return nil
}

func isUndefinedTableErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "relation") && strings.Contains(lower, "does not exist")
}
