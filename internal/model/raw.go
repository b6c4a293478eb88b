package model

import "time"

// RawEvent is the provider-shaped event record as returned by a calendar
// source, before normalisation. For recurring events the source delivers one
// RawEvent per occurrence, with the composite per-occurrence id in ID and the
// series anchor in RecurringEventID.
type RawEvent struct {
	ID         string
	CalendarID string // provider calendar tracking id

	Title       string
	Location    string
	MeetingLink string
	Description string

	StartsAt time.Time
	EndsAt   time.Time

	AllDay             bool
	HasRecurrenceRules bool
	RecurringEventID   string

	Organizer *RawAttendee
	Attendees []RawAttendee
}

// RawAttendee is a provider-shaped participant record.
type RawAttendee struct {
	Name        string
	Email       string
	CurrentUser bool
}
