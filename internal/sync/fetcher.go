package sync

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jotkit/calsync/internal/meetlink"
	"github.com/jotkit/calsync/internal/model"
)

// FetchResult is the normalised output of one fetch pass: the incoming events
// for the window plus their participants, keyed by each event's match key.
type FetchResult struct {
	Events       []model.IncomingEvent
	Participants map[string][]model.Participant
}

// Fetcher retrieves provider events for all enabled calendars concurrently
// and normalises them. It is stateless between calls.
type Fetcher struct {
	source  CalendarSource
	timeout time.Duration
	log     *slog.Logger
}

// NewFetcher creates a Fetcher. timeout bounds each per-calendar provider
// call.
func NewFetcher(source CalendarSource, timeout time.Duration, logger *slog.Logger) *Fetcher {
	return &Fetcher{source: source, timeout: timeout, log: logger}
}

// Fetch issues one list-events call per enabled calendar, all in flight
// simultaneously, over [sc.From, sc.To]. Any single calendar's failure aborts
// the whole fetch with a [*FetchError]; partial results are never returned.
func (f *Fetcher) Fetch(ctx context.Context, sc Ctx) (*FetchResult, error) {
	trackingIDs := make([]string, 0, len(sc.CalendarsByTrackingID))
	for id := range sc.CalendarsByTrackingID {
		trackingIDs = append(trackingIDs, id)
	}

	raws := make([][]model.RawEvent, len(trackingIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, trackingID := range trackingIDs {
		g.Go(func() error {
			callCtx := gctx
			if f.timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(gctx, f.timeout)
				defer cancel()
			}

			events, err := f.source.ListEvents(callCtx, trackingID, sc.From, sc.To)
			if err != nil {
				return &FetchError{CalendarTrackingID: trackingID, Cause: err}
			}
			raws[i] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &FetchResult{Participants: make(map[string][]model.Participant)}
	for _, calEvents := range raws {
		for _, raw := range calEvents {
			ev, participants := normalize(raw)
			result.Events = append(result.Events, ev)

			if len(participants) == 0 {
				continue
			}
			// Keyed by the normalised event's match key so participants can
			// be attached before the event has a local row id.
			if key, ok := ev.Key(); ok {
				result.Participants[key] = participants
			}
		}
	}

	f.log.Debug("fetch complete",
		"calendars", len(trackingIDs),
		"events", len(result.Events),
	)
	return result, nil
}

// normalize converts a raw provider record into an IncomingEvent plus its
// participant list, organizer first.
func normalize(raw model.RawEvent) (model.IncomingEvent, []model.Participant) {
	link := raw.MeetingLink
	if link == "" {
		link = meetlink.Extract(raw.Description)
	}
	if link == "" {
		link = meetlink.Extract(raw.Location)
	}

	var seriesID string
	if raw.HasRecurrenceRules {
		seriesID = raw.RecurringEventID
		if seriesID == "" {
			seriesID = stripOccurrenceSuffix(raw.ID, raw.StartsAt)
		}
	}

	ev := model.IncomingEvent{
		TrackingID:         raw.ID,
		CalendarTrackingID: raw.CalendarID,
		SeriesID:           seriesID,
		Title:              raw.Title,
		Location:           raw.Location,
		MeetingLink:        link,
		Description:        raw.Description,
		StartsAt:           raw.StartsAt,
		EndsAt:             raw.EndsAt,
		AllDay:             raw.AllDay,
		Recurring:          raw.HasRecurrenceRules,
	}

	var participants []model.Participant
	if raw.Organizer != nil {
		participants = append(participants, model.Participant{
			Name:        raw.Organizer.Name,
			Email:       raw.Organizer.Email,
			Organizer:   true,
			CurrentUser: raw.Organizer.CurrentUser,
		})
	}
	for _, att := range raw.Attendees {
		participants = append(participants, model.Participant{
			Name:        att.Name,
			Email:       att.Email,
			CurrentUser: att.CurrentUser,
		})
	}

	return ev, participants
}

// stripOccurrenceSuffix recovers the stable series id from a composite
// "seriesID:start" occurrence id. Returns the id unchanged when the suffix
// does not match the occurrence's start.
func stripOccurrenceSuffix(id string, startsAt time.Time) string {
	if stripped, ok := strings.CutSuffix(id, ":"+startsAt.UTC().Format(time.RFC3339)); ok {
		return stripped
	}
	return id
}
