// Package store manages the SQLite database holding synced calendar events,
// calendar membership, and the participant side-table.
//
// Only this package may open or query the database. All other packages
// receive a [*Store] and call its methods.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/jotkit/calsync/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS calendars (
    id          TEXT PRIMARY KEY,
    tracking_id TEXT NOT NULL UNIQUE,
    name        TEXT NOT NULL DEFAULT '',
    enabled     INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS events (
    id           TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL DEFAULT '',
    calendar_id  TEXT NOT NULL DEFAULT '',
    tracking_id  TEXT NOT NULL DEFAULT '',
    series_id    TEXT NOT NULL DEFAULT '',
    title        TEXT NOT NULL DEFAULT '',
    location     TEXT NOT NULL DEFAULT '',
    meeting_link TEXT NOT NULL DEFAULT '',
    description  TEXT NOT NULL DEFAULT '',
    note         TEXT NOT NULL DEFAULT '',
    starts_at    TEXT NOT NULL DEFAULT '',
    ends_at      TEXT NOT NULL DEFAULT '',
    all_day      INTEGER NOT NULL DEFAULT 0,
    recurrence   INTEGER,
    created_at   TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_events_starts_at ON events (starts_at);
CREATE INDEX IF NOT EXISTS idx_events_calendar  ON events (calendar_id);

CREATE TABLE IF NOT EXISTS event_participants (
    match_key    TEXT    NOT NULL,
    position     INTEGER NOT NULL,
    name         TEXT    NOT NULL DEFAULT '',
    email        TEXT    NOT NULL DEFAULT '',
    organizer    INTEGER NOT NULL DEFAULT 0,
    current_user INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (match_key, position)
);
`

// Calendar is a locally tracked calendar row. TrackingID is the provider's
// opaque calendar identifier; Enabled marks it as selected for sync.
type Calendar struct {
	ID         string
	TrackingID string
	Name       string
	Enabled    bool
}

// Store is the SQLite-backed event repository.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default path for the events database:
// ~/.local/share/calsync/events.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "calsync", "events.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema,
// and configures WAL mode for better concurrent read performance.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies the schema DDL idempotently (CREATE IF NOT EXISTS).
func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// --- calendars ---------------------------------------------------------------

// UpsertCalendar inserts or updates a calendar row keyed by its provider
// tracking id, preserving the local row id on update.
func (s *Store) UpsertCalendar(ctx context.Context, cal Calendar) error {
	const q = `
		INSERT INTO calendars (id, tracking_id, name, enabled)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tracking_id) DO UPDATE SET
		    name    = excluded.name,
		    enabled = excluded.enabled`
	if _, err := s.db.ExecContext(ctx, q, cal.ID, cal.TrackingID, cal.Name, cal.Enabled); err != nil {
		return fmt.Errorf("upserting calendar %q: %w", cal.TrackingID, err)
	}
	return nil
}

// SetCalendarEnabled flips the enabled flag for the calendar with the given
// provider tracking id.
func (s *Store) SetCalendarEnabled(ctx context.Context, trackingID string, enabled bool) error {
	const q = `UPDATE calendars SET enabled = ? WHERE tracking_id = ?`
	if _, err := s.db.ExecContext(ctx, q, enabled, trackingID); err != nil {
		return fmt.Errorf("setting enabled=%t on calendar %q: %w", enabled, trackingID, err)
	}
	return nil
}

// EnabledCalendars returns all calendars currently selected for sync.
func (s *Store) EnabledCalendars(ctx context.Context) ([]Calendar, error) {
	const q = `SELECT id, tracking_id, name, enabled FROM calendars WHERE enabled = 1`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying enabled calendars: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cals []Calendar
	for rows.Next() {
		var c Calendar
		if err := rows.Scan(&c.ID, &c.TrackingID, &c.Name, &c.Enabled); err != nil {
			return nil, fmt.Errorf("scanning calendar row: %w", err)
		}
		cals = append(cals, c)
	}
	return cals, rows.Err()
}

// --- events ------------------------------------------------------------------

// EventsOverlapping returns all event rows whose [starts_at, ends_at] interval
// overlaps [from, to], both bounds inclusive. Rows missing a calendar id or a
// start time are data-integrity anomalies: they are skipped, never returned,
// and never deleted by a sync pass. A missing end time counts as the start.
func (s *Store) EventsOverlapping(ctx context.Context, from, to time.Time) ([]model.Event, error) {
	const q = `
		SELECT id, user_id, calendar_id, tracking_id, series_id,
		       title, location, meeting_link, description, note,
		       starts_at, ends_at, all_day, recurrence, created_at
		FROM events`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		if ev.CalendarID == "" || ev.StartsAt.IsZero() {
			continue
		}
		end := ev.EndsAt
		if end.IsZero() {
			end = ev.StartsAt
		}
		if !ev.StartsAt.After(to) && !end.Before(from) {
			events = append(events, ev)
		}
	}
	return events, rows.Err()
}

// ApplyDiff applies a reconciliation diff in a single transaction: deletions
// first, then full-row updates, then inserts. A crash mid-apply therefore
// cannot leave the store with duplicate or half-updated events.
func (s *Store) ApplyDiff(ctx context.Context, deleteIDs []string, updates, inserts []model.Event) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning diff transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, id := range deleteIDs {
		if _, err = tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deleting event id=%s: %w", id, err)
		}
	}

	const update = `
		UPDATE events SET
		    user_id = ?, calendar_id = ?, tracking_id = ?, series_id = ?,
		    title = ?, location = ?, meeting_link = ?, description = ?, note = ?,
		    starts_at = ?, ends_at = ?, all_day = ?, recurrence = ?, created_at = ?
		WHERE id = ?`
	for _, ev := range updates {
		if _, err = tx.ExecContext(ctx, update,
			ev.UserID, ev.CalendarID, ev.TrackingID, ev.SeriesID,
			ev.Title, ev.Location, ev.MeetingLink, ev.Description, ev.Note,
			formatTime(ev.StartsAt), formatTime(ev.EndsAt), ev.AllDay,
			recurrenceValue(ev.Recurrence), formatTime(ev.CreatedAt),
			ev.ID,
		); err != nil {
			return fmt.Errorf("updating event id=%s: %w", ev.ID, err)
		}
	}

	const insert = `
		INSERT INTO events
		    (id, user_id, calendar_id, tracking_id, series_id,
		     title, location, meeting_link, description, note,
		     starts_at, ends_at, all_day, recurrence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, ev := range inserts {
		if _, err = tx.ExecContext(ctx, insert,
			ev.ID, ev.UserID, ev.CalendarID, ev.TrackingID, ev.SeriesID,
			ev.Title, ev.Location, ev.MeetingLink, ev.Description, ev.Note,
			formatTime(ev.StartsAt), formatTime(ev.EndsAt), ev.AllDay,
			recurrenceValue(ev.Recurrence), formatTime(ev.CreatedAt),
		); err != nil {
			return fmt.Errorf("inserting event %q: %w", ev.TrackingID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing diff transaction: %w", err)
	}
	return nil
}

// GetEvent returns the event with the given local row id, or (nil, nil) if
// no such row exists.
func (s *Store) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	const q = `
		SELECT id, user_id, calendar_id, tracking_id, series_id,
		       title, location, meeting_link, description, note,
		       starts_at, ends_at, all_day, recurrence, created_at
		FROM events WHERE id = ?`
	ev, err := scanEvent(s.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// CountEvents reports the number of rows in the events table.
func (s *Store) CountEvents(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return n, nil
}

// --- participants ------------------------------------------------------------

// ReplaceParticipants replaces the participant rows for every match key in
// the map, in one transaction. Keys absent from the map keep their rows.
func (s *Store) ReplaceParticipants(ctx context.Context, byKey map[string][]model.Participant) (err error) {
	if len(byKey) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning participants transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insert = `
		INSERT INTO event_participants (match_key, position, name, email, organizer, current_user)
		VALUES (?, ?, ?, ?, ?, ?)`
	for key, parts := range byKey {
		if _, err = tx.ExecContext(ctx, `DELETE FROM event_participants WHERE match_key = ?`, key); err != nil {
			return fmt.Errorf("clearing participants for key %q: %w", key, err)
		}
		for i, p := range parts {
			if _, err = tx.ExecContext(ctx, insert, key, i, p.Name, p.Email, p.Organizer, p.CurrentUser); err != nil {
				return fmt.Errorf("inserting participant %q for key %q: %w", p.Email, key, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing participants transaction: %w", err)
	}
	return nil
}

// ParticipantsForKey returns the participants associated with a match key in
// insertion order (organizer first, per the fetcher's normalisation).
func (s *Store) ParticipantsForKey(ctx context.Context, key string) ([]model.Participant, error) {
	const q = `
		SELECT name, email, organizer, current_user
		FROM event_participants WHERE match_key = ? ORDER BY position`
	rows, err := s.db.QueryContext(ctx, q, key)
	if err != nil {
		return nil, fmt.Errorf("querying participants for key %q: %w", key, err)
	}
	defer func() { _ = rows.Close() }()

	var parts []model.Participant
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.Name, &p.Email, &p.Organizer, &p.CurrentUser); err != nil {
			return nil, fmt.Errorf("scanning participant row: %w", err)
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

// --- helpers -----------------------------------------------------------------

// scanner matches both *sql.Row and *sql.Rows so scanEvent can be reused.
type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(sc scanner) (model.Event, error) {
	var ev model.Event
	var startsAt, endsAt, createdAt string
	var recurrence sql.NullInt64

	err := sc.Scan(
		&ev.ID,
		&ev.UserID,
		&ev.CalendarID,
		&ev.TrackingID,
		&ev.SeriesID,
		&ev.Title,
		&ev.Location,
		&ev.MeetingLink,
		&ev.Description,
		&ev.Note,
		&startsAt,
		&endsAt,
		&ev.AllDay,
		&recurrence,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return ev, err
	}
	if err != nil {
		return ev, fmt.Errorf("scanning event row: %w", err)
	}

	ev.StartsAt, _ = parseTime(startsAt)
	ev.EndsAt, _ = parseTime(endsAt)
	ev.CreatedAt, _ = parseTime(createdAt)
	ev.Recurrence = recurrenceFromValue(recurrence)

	return ev, nil
}

// recurrenceValue maps the tri-state to its column value: NULL for unknown,
// 0 for single, 1 for recurring.
func recurrenceValue(r model.Recurrence) any {
	switch r {
	case model.RecurrenceSingle:
		return 0
	case model.RecurrenceRecurring:
		return 1
	default:
		return nil
	}
}

func recurrenceFromValue(v sql.NullInt64) model.Recurrence {
	if !v.Valid {
		return model.RecurrenceUnknown
	}
	if v.Int64 == 1 {
		return model.RecurrenceRecurring
	}
	return model.RecurrenceSingle
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
