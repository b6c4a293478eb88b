// Package sync implements the reconciliation core for calsync. Each pass
// snapshots the local event store, fetches fresh provider events for every
// enabled calendar, and computes the minimal set of inserts, updates, and
// deletions that brings the store in line with the provider.
//
// The package contains three main components:
//
//   - [Fetcher] fans out one provider request per enabled calendar and
//     normalises the raw records.
//   - [Reconcile] is the pure diff over existing rows and incoming events.
//   - [Engine] orchestrates passes, applies diffs transactionally, and runs
//     the scheduled daemon loop.
package sync

import (
	"context"
	"time"

	"github.com/jotkit/calsync/internal/model"
	"github.com/jotkit/calsync/internal/store"
)

// CalendarSource lists raw provider events for one calendar over a time
// window. Implemented by [caldav.Source].
type CalendarSource interface {
	ListEvents(ctx context.Context, calendarTrackingID string, from, to time.Time) ([]model.RawEvent, error)
}

// EventStore provides access to the local event database.
// Implemented by [store.Store].
type EventStore interface {
	EnabledCalendars(ctx context.Context) ([]store.Calendar, error)
	EventsOverlapping(ctx context.Context, from, to time.Time) ([]model.Event, error)
	ApplyDiff(ctx context.Context, deleteIDs []string, updates, inserts []model.Event) error
	ReplaceParticipants(ctx context.Context, byKey map[string][]model.Participant) error
}
