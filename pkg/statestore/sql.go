package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kadirpekel/sage/pkg/config"
)

// SQLStore persists sessions in a relational database. Commits use
// optimistic concurrency on a version column: a racing commit observes a
// stale version, loses the update, and reports ErrConflict.
type SQLStore struct {
	db        *sql.DB
	dialect   string
	retention time.Duration
}

const createSessionsTableSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id VARCHAR(255) PRIMARY KEY,
    payload TEXT NOT NULL,
    version BIGINT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at);
`

// NewSQLStore creates a SQL-backed store over an existing connection.
func NewSQLStore(db *sql.DB, dialect string, retention time.Duration) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect, retention: retention}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// NewSQLStoreFromConfig opens a connection per the config and verifies it.
func NewSQLStoreFromConfig(cfg *config.StateStoreConfig) (*SQLStore, error) {
	if cfg == nil || cfg.Database == nil {
		return nil, fmt.Errorf("database configuration is required")
	}

	dbCfg := cfg.Database
	dbCfg.SetDefaults()
	if err := dbCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	db, err := sql.Open(dbCfg.DriverName(), dbCfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(dbCfg.MaxConns)
	db.SetMaxIdleConns(dbCfg.MaxIdle)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to connect to %s database %q: %v",
			ErrUnavailable, dbCfg.Driver, dbCfg.Database, err)
	}

	return NewSQLStore(db, dbCfg.Dialect(), cfg.RetentionDuration())
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	schema := createSessionsTableSQL
	if s.dialect == "mysql" {
		// MySQL has no CREATE INDEX IF NOT EXISTS; the index is incidental.
		schema = strings.Split(schema, "CREATE INDEX")[0]
	}

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind converts ? placeholders to $1..$n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Get loads the session, returning a fresh default when the row is absent
// or past the retention window. Store-level failures wrap ErrUnavailable.
func (s *SQLStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	sess, _, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return NewSession(sessionID), nil
	}
	return sess, nil
}

func (s *SQLStore) load(ctx context.Context, sessionID string) (*Session, int64, error) {
	query := s.rebind(`SELECT payload, version, updated_at FROM sessions WHERE id = ?`)

	var payload string
	var version int64
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&payload, &version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Lazy expiry: a stale row reads as absent. Deletion is left to the
	// sweep so reads stay cheap; the version survives so a commit can
	// overwrite the stale row in place.
	if s.retention > 0 && time.Since(updatedAt) > s.retention {
		return nil, version, nil
	}

	var sess Session
	if err := json.Unmarshal([]byte(payload), &sess); err != nil {
		return nil, 0, fmt.Errorf("failed to decode session %s: %w", sessionID, err)
	}
	return &sess, version, nil
}

// Commit applies the mutation atomically. A concurrent commit that
// invalidates the observed version yields ErrConflict; nothing is written.
func (s *SQLStore) Commit(ctx context.Context, sessionID string, mutate Mutation) error {
	current, version, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}

	fresh := current == nil
	if fresh {
		current = NewSession(sessionID)
	}

	if err := mutate(current); err != nil {
		return err
	}
	current.UpdatedAt = time.Now()

	payload, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", sessionID, err)
	}

	if fresh && version == 0 {
		insert := s.rebind(`INSERT INTO sessions (id, payload, version, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`)
		_, err = s.db.ExecContext(ctx, insert, sessionID, string(payload), int64(1), current.CreatedAt, current.UpdatedAt)
		if err != nil {
			if isDuplicateKey(err) {
				return ErrConflict
			}
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil
	}

	if fresh {
		// The row exists but is past retention: replace it wholesale,
		// gated on the observed version against a racing commit or sweep.
		overwrite := s.rebind(`UPDATE sessions SET payload = ?, version = ?, created_at = ?, updated_at = ? WHERE id = ? AND version = ?`)
		res, err := s.db.ExecContext(ctx, overwrite, string(payload), version+1, current.CreatedAt, current.UpdatedAt, sessionID, version)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if affected == 0 {
			return ErrConflict
		}
		return nil
	}

	update := s.rebind(`UPDATE sessions SET payload = ?, version = ?, updated_at = ? WHERE id = ? AND version = ?`)
	res, err := s.db.ExecContext(ctx, update, string(payload), version+1, current.UpdatedAt, sessionID, version)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if affected == 0 {
		return ErrConflict
	}
	return nil
}

// SweepExpired deletes sessions idle past the retention window.
func (s *SQLStore) SweepExpired(ctx context.Context) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	query := s.rebind(`DELETE FROM sessions WHERE updated_at < ?`)
	res, err := s.db.ExecContext(ctx, query, time.Now().Add(-s.retention))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return res.RowsAffected()
}

// Close closes the underlying connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "unique failed")
}
