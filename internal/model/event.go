// Package model defines shared types used across the sync engine, the store,
// and the calendar source adapter.
package model

import "time"

// Recurrence classifies how an event relates to a recurring series.
// Rows persisted before the flag existed carry RecurrenceUnknown and are
// resolved by the reconciler's dual probe on their first successful match.
type Recurrence int

const (
	// RecurrenceUnknown means the row predates recurrence tracking.
	RecurrenceUnknown Recurrence = iota
	// RecurrenceSingle is a plain, non-recurring event.
	RecurrenceSingle
	// RecurrenceRecurring is one occurrence of a recurring series.
	RecurrenceRecurring
)

// String returns the human-readable label for the recurrence state.
func (r Recurrence) String() string {
	switch r {
	case RecurrenceSingle:
		return "single"
	case RecurrenceRecurring:
		return "recurring"
	default:
		return "unknown"
	}
}

// RecurrenceOf maps a provider's boolean recurrence flag to the tri-state.
func RecurrenceOf(recurring bool) Recurrence {
	if recurring {
		return RecurrenceRecurring
	}
	return RecurrenceSingle
}

// Event is a locally stored calendar event row. Provider-origin fields are
// overwritten wholesale on every matched sync; identity and note fields are
// owned locally and never come from the provider.
type Event struct {
	// ID is the local row id, assigned once on insert.
	ID string

	// UserID identifies the local account the row belongs to.
	UserID string

	// CalendarID is the local calendar row id. Required; rows without it are
	// inert and never considered for matching.
	CalendarID string

	// TrackingID is the provider's opaque event identifier. Recurring events
	// carry the per-occurrence composite id here; SeriesID holds the stable
	// series anchor.
	TrackingID string

	// SeriesID is the recurring-series anchor id, empty for single events.
	SeriesID string

	Title       string
	Location    string
	MeetingLink string
	Description string

	// Note is local-only free text attached by the user. Preserved across
	// provider updates.
	Note string

	StartsAt time.Time
	// EndsAt may be zero when the provider omitted it; interval logic treats
	// such events as instantaneous.
	EndsAt time.Time

	AllDay     bool
	Recurrence Recurrence

	CreatedAt time.Time
}

// IncomingEvent is a freshly normalised provider record for the current sync
// window. It is never persisted directly; the reconciler decides whether it
// becomes an insert or an update first.
type IncomingEvent struct {
	// TrackingID is the full provider event id as needed for matching. For
	// occurrence-expanded recurring events this is the composite
	// "seriesID:start" form, not the stripped series id.
	TrackingID string

	// CalendarTrackingID is the provider's calendar identifier, resolved to a
	// local calendar row id only when the diff is applied.
	CalendarTrackingID string

	// SeriesID is the stable recurring-series id recovered during
	// normalisation, empty for single events.
	SeriesID string

	Title       string
	Location    string
	MeetingLink string
	Description string

	StartsAt time.Time
	EndsAt   time.Time

	AllDay    bool
	Recurring bool
}

// Participant is a person attached to an event, keyed by the event's
// MatchKey rather than its row id so participants fetched alongside a new
// event can be associated before the row exists.
type Participant struct {
	Name        string
	Email       string
	Organizer   bool
	CurrentUser bool
}
