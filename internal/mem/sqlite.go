// ABOUTME: SQLite implementation of the memory mirror using modernc.org/sqlite
// ABOUTME: Provides event persistence with automatic schema creation

package mem

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteMirror implements Mirror using SQLite.
type SQLiteMirror struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteMirror creates a new SQLite mirror at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. Use ":memory:" for tests.
func NewSQLiteMirror(path string) (*SQLiteMirror, error) {
	logger := slog.Default().With("component", "mem")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating mirror directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening mirror database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	m := &SQLiteMirror{db: db, logger: logger}

	if err := m.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating mirror schema: %w", err)
	}

	logger.Info("SQLite memory mirror initialized", "path", path)
	return m, nil
}

// createSchema creates the event table if it doesn't exist
func (m *SQLiteMirror) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS memory_events (
			ref TEXT PRIMARY KEY,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			subject TEXT NOT NULL,
			session_id TEXT NOT NULL,
			task_id TEXT,
			timestamp DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_memory_events_session
			ON memory_events(session_id, timestamp);

		CREATE INDEX IF NOT EXISTS idx_memory_events_task
			ON memory_events(task_id, timestamp);
	`

	_, err := m.db.Exec(schema)
	return err
}

// Write persists an event. Events are append-only; a duplicate ref is a bug
// in the caller and surfaces as an error rather than an overwrite.
func (m *SQLiteMirror) Write(ctx context.Context, event *Event) (string, error) {
	if event.Ref == "" {
		event.Ref = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO memory_events (ref, role, content, subject, session_id, task_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := m.db.ExecContext(ctx, query,
		event.Ref,
		event.Role,
		event.Content,
		event.Subject,
		event.SessionID,
		nullString(event.TaskID),
		event.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("%w: inserting event: %v", ErrMirrorUnavailable, err)
	}

	m.logger.Debug("mirrored event",
		"ref", event.Ref,
		"role", event.Role,
		"session_id", event.SessionID,
		"task_id", event.TaskID,
	)
	return event.Ref, nil
}

// Read fetches a single event by ref.
func (m *SQLiteMirror) Read(ctx context.Context, ref string) (*Event, error) {
	query := `
		SELECT ref, role, content, subject, session_id, task_id, timestamp
		FROM memory_events WHERE ref = ?
	`

	event, err := scanEvent(m.db.QueryRowContext(ctx, query, ref))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading event: %v", ErrMirrorUnavailable, err)
	}
	return event, nil
}

// List returns events matching the filter in timestamp order, oldest first.
func (m *SQLiteMirror) List(ctx context.Context, filter Filter) ([]*Event, error) {
	query := `
		SELECT ref, role, content, subject, session_id, task_id, timestamp
		FROM memory_events
		WHERE (? = '' OR subject = ?)
		  AND (? = '' OR session_id = ?)
		  AND (? = '' OR task_id = ?)
		ORDER BY timestamp ASC, ref ASC
		LIMIT ?
	`

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := m.db.QueryContext(ctx, query,
		filter.Subject, filter.Subject,
		filter.SessionID, filter.SessionID,
		filter.TaskID, filter.TaskID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: listing events: %v", ErrMirrorUnavailable, err)
	}
	defer rows.Close()

	events := make([]*Event, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning event: %v", ErrMirrorUnavailable, err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating events: %v", ErrMirrorUnavailable, err)
	}
	return events, nil
}

// Close closes the underlying database.
func (m *SQLiteMirror) Close() error {
	return m.db.Close()
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*Event, error) {
	var event Event
	var taskID sql.NullString
	var ts string

	if err := row.Scan(&event.Ref, &event.Role, &event.Content, &event.Subject, &event.SessionID, &taskID, &ts); err != nil {
		return nil, err
	}

	event.TaskID = taskID.String
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp %q: %w", ts, err)
	}
	event.Timestamp = parsed
	return &event, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
