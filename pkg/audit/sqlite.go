package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jllopis/warden/pkg/config"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists audit events in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed audit store and ensures schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Record stores a single audit event.
func (s *SQLiteStore) Record(ctx context.Context, event Event) error {
	event = normalize(event)
	violations, err := encodeJSON(event.Violations)
	if err != nil {
		return err
	}
	data, err := encodeJSON(event.Data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO warden_audit_events (
			id, kind, subject, digest, detail, violations_json, data_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID,
		string(event.Kind),
		event.Subject,
		event.Digest,
		event.Detail,
		violations,
		data,
		event.CreatedAt,
	)
	return err
}

// List returns audit events matching the filter, oldest first.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]Event, error) {
	query := `
		SELECT id, kind, subject, digest, detail, violations_json, data_json, created_at
		FROM warden_audit_events
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.Kind != "" {
		addFilter("kind = ?", string(filter.Kind))
	}
	if filter.Subject != "" {
		addFilter("subject = ?", filter.Subject)
	}
	if !filter.Since.IsZero() {
		addFilter("created_at >= ?", filter.Since.UTC())
	}
	query += where + " ORDER BY created_at ASC, rowid ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event          Event
			kind           string
			violationsJSON string
			dataJSON       string
			created        sql.NullTime
		)
		if err := rows.Scan(
			&event.ID,
			&kind,
			&event.Subject,
			&event.Digest,
			&event.Detail,
			&violationsJSON,
			&dataJSON,
			&created,
		); err != nil {
			return nil, err
		}
		event.Kind = Kind(kind)
		if violationsJSON != "" {
			if err := json.Unmarshal([]byte(violationsJSON), &event.Violations); err != nil {
				return nil, fmt.Errorf("decode violations of %s: %w", event.ID, err)
			}
		}
		if dataJSON != "" {
			if err := json.Unmarshal([]byte(dataJSON), &event.Data); err != nil {
				return nil, fmt.Errorf("decode data of %s: %w", event.ID, err)
			}
		}
		if created.Valid {
			event.CreatedAt = created.Time.UTC()
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS warden_audit_events (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			subject TEXT NOT NULL,
			digest TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			violations_json TEXT NOT NULL DEFAULT '',
			data_json TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_warden_audit_kind ON warden_audit_events(kind);
		CREATE INDEX IF NOT EXISTS idx_warden_audit_subject ON warden_audit_events(subject);
	`)
	return err
}

// Open returns the store selected by cfg and a function releasing it.
func Open(cfg config.AuditConfig) (Store, func() error, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), func() error { return nil }, nil
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit db: %w", err)
		}
		store, err := NewSQLiteStore(db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown audit backend %q", cfg.Backend)
	}
}
