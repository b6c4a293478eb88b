package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jotkit/calsync/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-events.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleEvent(id string, startsAt time.Time) model.Event {
	return model.Event{
		ID:         id,
		UserID:     "u1",
		CalendarID: "cal-1",
		TrackingID: "E-" + id,
		Title:      "Standup",
		StartsAt:   startsAt,
		EndsAt:     startsAt.Add(30 * time.Minute),
		Recurrence: model.RecurrenceSingle,
		CreatedAt:  startsAt.Add(-time.Hour),
	}
}

func TestOpen_CreatesSchema(t *testing.T) {
	s := openTestStore(t)
	n, err := s.CountEvents(context.Background())
	if err != nil {
		t.Fatalf("CountEvents after open: %v", err)
	}
	if n != 0 {
		t.Errorf("expected empty store after open, got %d rows", n)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("s1.Close: %v", err)
	}

	// Re-opening the same file must not fail or wipe data.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	if err := s2.Close(); err != nil {
		t.Fatalf("s2.Close: %v", err)
	}
}

func TestUpsertCalendar_AndEnabledCalendars(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cals := []Calendar{
		{ID: "cal-1", TrackingID: "/calendars/jdoe/work/", Name: "Work", Enabled: true},
		{ID: "cal-2", TrackingID: "/calendars/jdoe/personal/", Name: "Personal", Enabled: false},
	}
	for _, c := range cals {
		if err := s.UpsertCalendar(ctx, c); err != nil {
			t.Fatalf("UpsertCalendar %q: %v", c.TrackingID, err)
		}
	}

	enabled, err := s.EnabledCalendars(ctx)
	if err != nil {
		t.Fatalf("EnabledCalendars: %v", err)
	}
	if len(enabled) != 1 {
		t.Fatalf("enabled calendars = %d, want 1", len(enabled))
	}
	if enabled[0].ID != "cal-1" {
		t.Errorf("enabled calendar id = %q, want cal-1", enabled[0].ID)
	}
}

func TestUpsertCalendar_PreservesLocalIDOnUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	orig := Calendar{ID: "cal-1", TrackingID: "/calendars/jdoe/work/", Name: "Work", Enabled: true}
	if err := s.UpsertCalendar(ctx, orig); err != nil {
		t.Fatalf("UpsertCalendar: %v", err)
	}

	// Second upsert with a different candidate id must keep cal-1.
	update := Calendar{ID: "cal-other", TrackingID: "/calendars/jdoe/work/", Name: "Work (renamed)", Enabled: true}
	if err := s.UpsertCalendar(ctx, update); err != nil {
		t.Fatalf("UpsertCalendar update: %v", err)
	}

	enabled, err := s.EnabledCalendars(ctx)
	if err != nil {
		t.Fatalf("EnabledCalendars: %v", err)
	}
	if len(enabled) != 1 {
		t.Fatalf("calendars = %d, want 1", len(enabled))
	}
	if enabled[0].ID != "cal-1" {
		t.Errorf("local id = %q, want original cal-1", enabled[0].ID)
	}
	if enabled[0].Name != "Work (renamed)" {
		t.Errorf("name = %q, want updated name", enabled[0].Name)
	}
}

func TestSetCalendarEnabled(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertCalendar(ctx, Calendar{ID: "cal-1", TrackingID: "tid", Enabled: true}); err != nil {
		t.Fatalf("UpsertCalendar: %v", err)
	}
	if err := s.SetCalendarEnabled(ctx, "tid", false); err != nil {
		t.Fatalf("SetCalendarEnabled: %v", err)
	}

	enabled, err := s.EnabledCalendars(ctx)
	if err != nil {
		t.Fatalf("EnabledCalendars: %v", err)
	}
	if len(enabled) != 0 {
		t.Errorf("enabled calendars = %d, want 0 after disabling", len(enabled))
	}
}

func TestApplyDiff_InsertUpdateDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	// Insert two rows.
	e1 := sampleEvent("r1", base)
	e2 := sampleEvent("r2", base.Add(time.Hour))
	if err := s.ApplyDiff(ctx, nil, nil, []model.Event{e1, e2}); err != nil {
		t.Fatalf("ApplyDiff insert: %v", err)
	}

	// Update one, delete the other.
	e1.Title = "Standup (moved)"
	e1.Note = "bring agenda"
	if err := s.ApplyDiff(ctx, []string{"r2"}, []model.Event{e1}, nil); err != nil {
		t.Fatalf("ApplyDiff update+delete: %v", err)
	}

	got, err := s.GetEvent(ctx, "r1")
	if err != nil {
		t.Fatalf("GetEvent r1: %v", err)
	}
	if got == nil {
		t.Fatal("GetEvent r1 returned nil")
	}
	if got.Title != "Standup (moved)" {
		t.Errorf("Title = %q, want updated title", got.Title)
	}
	if got.Note != "bring agenda" {
		t.Errorf("Note = %q, want %q", got.Note, "bring agenda")
	}

	gone, err := s.GetEvent(ctx, "r2")
	if err != nil {
		t.Fatalf("GetEvent r2: %v", err)
	}
	if gone != nil {
		t.Error("expected r2 to be deleted")
	}

	n, err := s.CountEvents(ctx)
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	if n != 1 {
		t.Errorf("events = %d, want 1", n)
	}
}

func TestEventsOverlapping_WindowBounds(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	inside := sampleEvent("inside", from.Add(24*time.Hour))
	before := sampleEvent("before", from.Add(-48*time.Hour))
	after := sampleEvent("after", to.Add(48*time.Hour))
	// Starts before the window but ends inside it.
	straddling := sampleEvent("straddling", from.Add(-time.Hour))
	straddling.EndsAt = from.Add(time.Hour)
	// Starts exactly at the upper bound: inclusive, so included.
	atBound := sampleEvent("at-bound", to)
	atBound.EndsAt = time.Time{}

	if err := s.ApplyDiff(ctx, nil, nil, []model.Event{inside, before, after, straddling, atBound}); err != nil {
		t.Fatalf("ApplyDiff: %v", err)
	}

	events, err := s.EventsOverlapping(ctx, from, to)
	if err != nil {
		t.Fatalf("EventsOverlapping: %v", err)
	}

	ids := make(map[string]bool, len(events))
	for _, ev := range events {
		ids[ev.ID] = true
	}
	for _, want := range []string{"inside", "straddling", "at-bound"} {
		if !ids[want] {
			t.Errorf("expected %q in window results", want)
		}
	}
	for _, wantAbsent := range []string{"before", "after"} {
		if ids[wantAbsent] {
			t.Errorf("did not expect %q in window results", wantAbsent)
		}
	}
}

func TestEventsOverlapping_SkipsIntegrityAnomalies(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	noCalendar := sampleEvent("no-cal", base)
	noCalendar.CalendarID = ""
	noStart := sampleEvent("no-start", base)
	noStart.StartsAt = time.Time{}
	noStart.EndsAt = time.Time{}
	ok := sampleEvent("ok", base)

	if err := s.ApplyDiff(ctx, nil, nil, []model.Event{noCalendar, noStart, ok}); err != nil {
		t.Fatalf("ApplyDiff: %v", err)
	}

	events, err := s.EventsOverlapping(ctx, base.Add(-time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("EventsOverlapping: %v", err)
	}
	if len(events) != 1 || events[0].ID != "ok" {
		t.Errorf("expected only the intact row, got %d rows", len(events))
	}

	// Anomalous rows are inert, not deleted.
	n, err := s.CountEvents(ctx)
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	if n != 3 {
		t.Errorf("events = %d, want 3 (anomalies untouched)", n)
	}
}

func TestRecurrenceTriState_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	states := map[string]model.Recurrence{
		"unknown":   model.RecurrenceUnknown,
		"single":    model.RecurrenceSingle,
		"recurring": model.RecurrenceRecurring,
	}
	var inserts []model.Event
	for id, r := range states {
		ev := sampleEvent(id, base)
		ev.Recurrence = r
		inserts = append(inserts, ev)
	}
	if err := s.ApplyDiff(ctx, nil, nil, inserts); err != nil {
		t.Fatalf("ApplyDiff: %v", err)
	}

	for id, want := range states {
		got, err := s.GetEvent(ctx, id)
		if err != nil {
			t.Fatalf("GetEvent %q: %v", id, err)
		}
		if got.Recurrence != want {
			t.Errorf("event %q: Recurrence = %v, want %v", id, got.Recurrence, want)
		}
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Sub-millisecond precision exercises RFC3339Nano.
	ts := time.Date(2026, 2, 17, 14, 30, 0, 123456789, time.UTC)
	ev := sampleEvent("ts", ts)
	ev.EndsAt = ts.Add(45 * time.Minute)

	if err := s.ApplyDiff(ctx, nil, nil, []model.Event{ev}); err != nil {
		t.Fatalf("ApplyDiff: %v", err)
	}

	got, err := s.GetEvent(ctx, "ts")
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if !got.StartsAt.Equal(ts) {
		t.Errorf("StartsAt = %v, want %v", got.StartsAt, ts)
	}
	if !got.EndsAt.Equal(ts.Add(45 * time.Minute)) {
		t.Errorf("EndsAt = %v, want %v", got.EndsAt, ts.Add(45*time.Minute))
	}
}

func TestReplaceParticipants(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	key := "E1\x1f1700000000000\x1ffalse"
	parts := []model.Participant{
		{Name: "Alice", Email: "alice@example.com", Organizer: true},
		{Name: "Bob", Email: "bob@example.com", CurrentUser: true},
	}
	if err := s.ReplaceParticipants(ctx, map[string][]model.Participant{key: parts}); err != nil {
		t.Fatalf("ReplaceParticipants: %v", err)
	}

	got, err := s.ParticipantsForKey(ctx, key)
	if err != nil {
		t.Fatalf("ParticipantsForKey: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("participants = %d, want 2", len(got))
	}
	if !got[0].Organizer || got[0].Email != "alice@example.com" {
		t.Errorf("first participant should be the organizer, got %+v", got[0])
	}
	if !got[1].CurrentUser {
		t.Error("second participant should carry the current-user flag")
	}

	// Replacing shrinks the set rather than appending.
	if err := s.ReplaceParticipants(ctx, map[string][]model.Participant{
		key: {{Name: "Carol", Email: "carol@example.com"}},
	}); err != nil {
		t.Fatalf("ReplaceParticipants (second): %v", err)
	}
	got, err = s.ParticipantsForKey(ctx, key)
	if err != nil {
		t.Fatalf("ParticipantsForKey: %v", err)
	}
	if len(got) != 1 || got[0].Email != "carol@example.com" {
		t.Errorf("expected replacement set of 1, got %+v", got)
	}
}

func TestDefaultDBPath(t *testing.T) {
	path, err := DefaultDBPath()
	if err != nil {
		t.Fatalf("DefaultDBPath: %v", err)
	}
	if path == "" {
		t.Error("DefaultDBPath returned empty string")
	}
}
