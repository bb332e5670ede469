// Package mysql implements the storage interface against a MySQL-protocol
// server.
//
// The store relies on three server-side behaviors the pipeline is built
// around: FOR UPDATE SKIP LOCKED for the analysis claim query, unique
// constraints for ingest merge keys, and ON DUPLICATE KEY UPDATE for
// aggregation upserts. Any MySQL 8 compatible server provides all three.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	mysqldriver "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/mediapulse/pulse/internal/storage"
)

// Store implements storage.Storage over a MySQL connection pool.
type Store struct {
	db     *sql.DB
	closed atomic.Bool
	log    *zap.Logger
}

// Config holds store configuration.
type Config struct {
	DSN          string // go-sql-driver DSN; parseTime is forced on
	MaxOpenConns int
	MaxIdleConns int
	Logger       *zap.Logger
}

const retryMaxElapsed = 30 * time.Second

func newRetryBackoff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = retryMaxElapsed
	return bo
}

// Open connects to the server, verifies the connection, and initializes the
// schema when it is not current.
func Open(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("mysql: DSN is required")
	}
	parsed, err := mysqldriver.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mysql: parse DSN: %w", err)
	}
	// DATETIME columns must scan into time.Time, and timestamps are stored
	// in UTC regardless of server zone.
	parsed.ParseTime = true
	parsed.Loc = time.UTC

	db, err := sql.Open("mysql", parsed.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{db: db, log: log.Named("store")}

	// The server may still be coming up when the daemon starts; ping with
	// backoff before declaring failure.
	if err := s.withRetry(ctx, func() error { return db.PingContext(ctx) }); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}

	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql: init schema: %w", err)
	}
	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.closed.Store(true)
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// isRetryableError returns true if the error is a transient connection error
// worth retrying.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "driver: bad connection") {
		return true
	}
	if strings.Contains(errStr, "invalid connection") {
		return true
	}
	if strings.Contains(errStr, "broken pipe") {
		return true
	}
	if strings.Contains(errStr, "connection reset") {
		return true
	}
	// Server restart: the server may come back within the backoff window.
	if strings.Contains(errStr, "connection refused") {
		return true
	}
	// MySQL error 2013: mid-query disconnect
	if strings.Contains(errStr, "lost connection") {
		return true
	}
	// MySQL error 2006: idle connection timeout
	if strings.Contains(errStr, "gone away") {
		return true
	}
	if strings.Contains(errStr, "i/o timeout") {
		return true
	}
	return false
}

// isDuplicateKeyError reports a unique-constraint violation (MySQL 1062).
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	var me *mysqldriver.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	return strings.Contains(err.Error(), "Duplicate entry")
}

// isSerializationError reports a conflict that makes the whole transaction
// worth replaying: deadlock (1213) or lock wait timeout (1205).
func isSerializationError(err error) bool {
	if err == nil {
		return false
	}
	var me *mysqldriver.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1213 || me.Number == 1205
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "deadlock") ||
		strings.Contains(errStr, "try restarting transaction")
}

// withRetry executes an operation with retry for transient connection errors.
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	bo := newRetryBackoff()
	return backoff.Retry(func() error {
		err := op()
		if err != nil && isRetryableError(err) {
			return err // Retryable - backoff will retry
		}
		if err != nil {
			return backoff.Permanent(err) // Non-retryable - stop immediately
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}

// execContext wraps s.db.ExecContext with retry for transient errors.
func (s *Store) execContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := s.withRetry(ctx, func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return result, err
}

// queryContext wraps s.db.QueryContext with retry for transient errors.
func (s *Store) queryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	err := s.withRetry(ctx, func() error {
		var queryErr error
		rows, queryErr = s.db.QueryContext(ctx, query, args...)
		return queryErr
	})
	return rows, err
}

// queryRowContext wraps s.db.QueryRowContext with retry for transient errors.
// The scan function receives the *sql.Row and should call .Scan() on it.
func (s *Store) queryRowContext(ctx context.Context, scan func(*sql.Row) error, query string, args ...any) error {
	return s.withRetry(ctx, func() error {
		row := s.db.QueryRowContext(ctx, query, args...)
		return scan(row)
	})
}

// initSchema creates tables when the stored schema version is behind.
func (s *Store) initSchema(ctx context.Context) error {
	// Fast path: skip the DDL statements when the schema is already current.
	var version int
	err := s.db.QueryRowContext(ctx,
		"SELECT `value` FROM kv WHERE `key` = 'schema_version'").Scan(&version)
	if err == nil && version >= currentSchemaVersion {
		return nil
	}

	for _, stmt := range splitStatements(schema) {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" || isOnlyComments(stmt) {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w\nStatement: %s", err, truncateForError(stmt))
		}
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO kv (`key`, `value`) VALUES ('schema_version', ?) "+
			"ON DUPLICATE KEY UPDATE `value` = ?",
		currentSchemaVersion, currentSchemaVersion)
	if err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}

// splitStatements splits a SQL script into individual statements.
func splitStatements(script string) []string {
	var statements []string
	var current strings.Builder
	inString := false
	stringChar := byte(0)

	for i := 0; i < len(script); i++ {
		c := script[i]

		if inString {
			current.WriteByte(c)
			if c == stringChar && (i == 0 || script[i-1] != '\\') {
				inString = false
			}
			continue
		}

		if c == '\'' || c == '"' || c == '`' {
			inString = true
			stringChar = c
			current.WriteByte(c)
			continue
		}

		if c == ';' {
			stmt := strings.TrimSpace(current.String())
			if stmt != "" {
				statements = append(statements, stmt)
			}
			current.Reset()
			continue
		}

		current.WriteByte(c)
	}

	stmt := strings.TrimSpace(current.String())
	if stmt != "" {
		statements = append(statements, stmt)
	}
	return statements
}

// isOnlyComments returns true if the statement contains only SQL comments.
func isOnlyComments(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		return false
	}
	return true
}

// truncateForError truncates a statement for use in error messages.
func truncateForError(s string) string {
	if len(s) > 100 {
		return s[:100] + "..."
	}
	return s
}

// inPlaceholders builds a "?, ?, ?" list for IN clauses.
func inPlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// compile-time interface check
var _ storage.Storage = (*Store)(nil)
