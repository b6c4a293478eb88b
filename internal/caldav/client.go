// Package caldav adapts a CalDAV server into the calendar source contract
// consumed by the sync engine. It speaks WebDAV via emersion/go-webdav,
// parses iCalendar payloads with emersion/go-ical, and expands recurring
// events into per-occurrence records within the requested window.
package caldav

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"github.com/jotkit/calsync/internal/model"
)

// Calendar is a calendar collection discovered on the server. Path doubles
// as the provider tracking id used throughout the sync engine.
type Calendar struct {
	Path string
	Name string
}

// Source is a CalDAV-backed calendar source. Create one with [NewSource].
type Source struct {
	client    *caldav.Client
	userEmail string
	loc       *time.Location
	log       *slog.Logger
}

// NewSource connects to the CalDAV server at serverURL using HTTP basic
// auth. userEmail marks the matching organizer/attendee as the current user;
// loc is the zone recurring events are expanded in.
func NewSource(serverURL, username, password, userEmail string, loc *time.Location, logger *slog.Logger) (*Source, error) {
	httpClient := webdav.HTTPClientWithBasicAuth(&http.Client{}, username, password)
	client, err := caldav.NewClient(httpClient, serverURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to CalDAV server %q: %w", serverURL, err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Source{client: client, userEmail: userEmail, loc: loc, log: logger}, nil
}

// Calendars discovers all calendar collections for the authenticated user.
func (s *Source) Calendars(ctx context.Context) ([]Calendar, error) {
	principal, err := s.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("finding principal: %w", err)
	}

	homeSet, err := s.client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("finding calendar home set: %w", err)
	}

	cals, err := s.client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("listing calendars: %w", err)
	}

	result := make([]Calendar, 0, len(cals))
	for _, cal := range cals {
		result = append(result, Calendar{Path: cal.Path, Name: cal.Name})
	}
	return result, nil
}

// ListEvents fetches all events on one calendar overlapping [from, to] and
// returns them as provider-shaped records, one per occurrence for recurring
// events.
func (s *Source) ListEvents(ctx context.Context, calendarTrackingID string, from, to time.Time) ([]model.RawEvent, error) {
	query := &caldav.CalendarQuery{
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{
				{
					Name:  "VEVENT",
					Start: from,
					End:   to,
				},
			},
		},
	}

	objects, err := s.client.QueryCalendar(ctx, calendarTrackingID, query)
	if err != nil {
		return nil, fmt.Errorf("querying calendar %q: %w", calendarTrackingID, err)
	}

	var events []model.RawEvent
	for i := range objects {
		raws, err := s.objectToRawEvents(&objects[i], calendarTrackingID, from, to)
		if err != nil {
			// One malformed object must not sink the whole calendar.
			s.log.Warn("skipping unparseable calendar object",
				"calendar", calendarTrackingID,
				"path", objects[i].Path,
				"error", err,
			)
			continue
		}
		events = append(events, raws...)
	}

	s.log.Debug("listed events", "calendar", calendarTrackingID, "count", len(events))
	return events, nil
}
