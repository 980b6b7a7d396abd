package artifacts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const calendarSchema = `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		sessionId TEXT NOT NULL,
		caseId TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		startsAt TEXT NOT NULL,
		endsAt TEXT NOT NULL,
		attendees TEXT NOT NULL,
		createdAt TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_case ON events(caseId, startsAt);
`

// SQLiteCalendar keeps scheduled hearings in a local SQLite database.
type SQLiteCalendar struct {
	db *sql.DB
}

// OpenSQLiteCalendar opens (or creates) the calendar database at path.
// ":memory:" gives a throwaway calendar.
func OpenSQLiteCalendar(path string) (*SQLiteCalendar, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create calendar dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open calendar: %w", err)
	}
	// one writer; also keeps ":memory:" on a single connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(calendarSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create calendar schema: %w", err)
	}
	return &SQLiteCalendar{db: db}, nil
}

func (c *SQLiteCalendar) Close() error {
	return c.db.Close()
}

func (c *SQLiteCalendar) Schedule(ctx context.Context, event Event) (string, error) {
	if event.Start.IsZero() {
		return "", calendarError(fmt.Errorf("event has no start time"))
	}
	attendees, err := json.Marshal(event.Attendees)
	if err != nil {
		return "", calendarError(err)
	}
	length := event.Duration
	if length <= 0 {
		length = defaultHearingLength
	}

	id := uuid.New().String()
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO events (id, sessionId, caseId, title, description, startsAt, endsAt, attendees, createdAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, event.SessionID, event.CaseID, event.Title, event.Description,
		event.Start.UTC().Format(time.RFC3339), event.Start.Add(length).UTC().Format(time.RFC3339),
		string(attendees), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", calendarError(fmt.Errorf("insert event: %w", err))
	}
	return id, nil
}

// EventsForCase returns the scheduled hearings of a case ordered by start.
func (c *SQLiteCalendar) EventsForCase(ctx context.Context, caseID string) ([]Event, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT sessionId, caseId, title, description, startsAt, endsAt, attendees
		FROM events
		WHERE caseId = ?
		ORDER BY startsAt ASC
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var startsAt, endsAt, attendees string
		if err := rows.Scan(&e.SessionID, &e.CaseID, &e.Title, &e.Description, &startsAt, &endsAt, &attendees); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if e.Start, err = time.Parse(time.RFC3339, startsAt); err != nil {
			return nil, fmt.Errorf("parse start: %w", err)
		}
		end, err := time.Parse(time.RFC3339, endsAt)
		if err != nil {
			return nil, fmt.Errorf("parse end: %w", err)
		}
		e.Duration = end.Sub(e.Start)
		if err := json.Unmarshal([]byte(attendees), &e.Attendees); err != nil {
			return nil, fmt.Errorf("decode attendees: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
