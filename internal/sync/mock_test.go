package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jotkit/calsync/internal/caldav"
	"github.com/jotkit/calsync/internal/model"
	"github.com/jotkit/calsync/internal/store"
)

// --- Mock Calendar Source ----------------------------------------------------

type mockSource struct {
	mu        sync.Mutex
	calendars []caldav.Calendar
	events    map[string][]model.RawEvent // calendar tracking id → raw events
	fail      map[string]error            // calendar tracking id → forced error
	block     map[string]bool             // calendar tracking id → block until ctx done
	calls     int
}

func newMockSource() *mockSource {
	return &mockSource{
		events: make(map[string][]model.RawEvent),
		fail:   make(map[string]error),
		block:  make(map[string]bool),
	}
}

func (m *mockSource) addEvents(calendarTrackingID string, events ...model.RawEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[calendarTrackingID] = append(m.events[calendarTrackingID], events...)
}

func (m *mockSource) failCalendar(calendarTrackingID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[calendarTrackingID] = err
}

func (m *mockSource) blockCalendar(calendarTrackingID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block[calendarTrackingID] = true
}

func (m *mockSource) ListEvents(ctx context.Context, calendarTrackingID string, from, to time.Time) ([]model.RawEvent, error) {
	m.mu.Lock()
	m.calls++
	err := m.fail[calendarTrackingID]
	blocked := m.block[calendarTrackingID]
	events := m.events[calendarTrackingID]
	m.mu.Unlock()

	if blocked {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}

	result := make([]model.RawEvent, len(events))
	copy(result, events)
	return result, nil
}

func (m *mockSource) Calendars(_ context.Context) ([]caldav.Calendar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]caldav.Calendar, len(m.calendars))
	copy(result, m.calendars)
	return result, nil
}

func (m *mockSource) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// --- Mock Event Store --------------------------------------------------------

type mockEventStore struct {
	mu           sync.Mutex
	calendars    map[string]store.Calendar // tracking id → calendar
	events       map[string]model.Event    // local id → event
	participants map[string][]model.Participant
}

func newMockEventStore() *mockEventStore {
	return &mockEventStore{
		calendars:    make(map[string]store.Calendar),
		events:       make(map[string]model.Event),
		participants: make(map[string][]model.Participant),
	}
}

func (m *mockEventStore) seedCalendar(cal store.Calendar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calendars[cal.TrackingID] = cal
}

func (m *mockEventStore) seedEvent(ev model.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[ev.ID] = ev
}

func (m *mockEventStore) UpsertCalendar(_ context.Context, cal store.Calendar) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.calendars[cal.TrackingID]; ok {
		cal.ID = existing.ID
	}
	m.calendars[cal.TrackingID] = cal
	return nil
}

func (m *mockEventStore) EnabledCalendars(_ context.Context) ([]store.Calendar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []store.Calendar
	for _, cal := range m.calendars {
		if cal.Enabled {
			result = append(result, cal)
		}
	}
	return result, nil
}

func (m *mockEventStore) EventsOverlapping(_ context.Context, from, to time.Time) ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.Event
	for _, ev := range m.events {
		if ev.CalendarID == "" || ev.StartsAt.IsZero() {
			continue
		}
		end := ev.EndsAt
		if end.IsZero() {
			end = ev.StartsAt
		}
		if !ev.StartsAt.After(to) && !end.Before(from) {
			result = append(result, ev)
		}
	}
	return result, nil
}

func (m *mockEventStore) ApplyDiff(_ context.Context, deleteIDs []string, updates, inserts []model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range deleteIDs {
		delete(m.events, id)
	}
	for _, ev := range updates {
		if _, ok := m.events[ev.ID]; !ok {
			return fmt.Errorf("update for unknown event %q", ev.ID)
		}
		m.events[ev.ID] = ev
	}
	for _, ev := range inserts {
		if _, ok := m.events[ev.ID]; ok {
			return fmt.Errorf("insert collides with existing event %q", ev.ID)
		}
		m.events[ev.ID] = ev
	}
	return nil
}

func (m *mockEventStore) ReplaceParticipants(_ context.Context, byKey map[string][]model.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, parts := range byKey {
		m.participants[key] = parts
	}
	return nil
}

func (m *mockEventStore) eventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockEventStore) allEvents() []model.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.Event
	for _, ev := range m.events {
		result = append(result, ev)
	}
	return result
}

func (m *mockEventStore) eventByTrackingID(trackingID string) (model.Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.events {
		if ev.TrackingID == trackingID {
			return ev, true
		}
	}
	return model.Event{}, false
}

func (m *mockEventStore) calendarByName(name string) (store.Calendar, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cal := range m.calendars {
		if cal.Name == name {
			return cal, true
		}
	}
	return store.Calendar{}, false
}
