package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	// Drivers for the two supported DSN schemes.
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const createTableStmt = `
CREATE TABLE IF NOT EXISTS audit_events (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	timestamp   TIMESTAMP NOT NULL,
	tool        TEXT,
	action      TEXT,
	fingerprint TEXT,
	cached      BOOLEAN NOT NULL DEFAULT FALSE,
	reason      TEXT,
	metadata    TEXT
)`

const insertStmt = `
INSERT INTO audit_events
	(id, kind, timestamp, tool, action, fingerprint, cached, reason, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// SQLSink appends events to a relational table. It works against sqlite
// for single-node deployments and postgres for shared ones.
type SQLSink struct {
	db *sql.DB
}

// NewSQLSink ensures the audit table exists on db.
func NewSQLSink(db *sql.DB) (*SQLSink, error) {
	if _, err := db.Exec(createTableStmt); err != nil {
		return nil, fmt.Errorf("audit: create table: %w", err)
	}
	return &SQLSink{db: db}, nil
}

// OpenSQLSink opens a database by driver name ("sqlite" or "postgres")
// and DSN, then prepares the sink on it.
func OpenSQLSink(driver, dsn string) (*SQLSink, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", driver, err)
	}
	sink, err := NewSQLSink(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

// Record implements Sink.
func (s *SQLSink) Record(ctx context.Context, event Event) error {
	stamp(&event)

	var metadata any
	if event.Metadata != nil {
		encoded, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("audit: encode metadata: %w", err)
		}
		metadata = string(encoded)
	}

	_, err := s.db.ExecContext(ctx, insertStmt,
		event.ID, string(event.Kind), event.Timestamp,
		event.Tool, event.Action, event.Fingerprint,
		event.Cached, event.Reason, metadata,
	)
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}

// Close implements Sink.
func (s *SQLSink) Close() error {
	return s.db.Close()
}
