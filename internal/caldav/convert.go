package caldav

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
	"github.com/teambition/rrule-go"

	"github.com/jotkit/calsync/internal/model"
)

// maxOccurrencesPerEvent caps recurrence expansion so a runaway RRULE cannot
// flood one sync window.
const maxOccurrencesPerEvent = 1000

// xGoogleConference carries the conference URL on events imported from
// Google Calendar.
const xGoogleConference = "X-GOOGLE-CONFERENCE"

// objectToRawEvents converts one CalDAV object into provider records. A
// non-recurring VEVENT yields one record; a recurring one yields a record
// per occurrence inside [from, to], each with a composite "uid:start" id and
// the series anchor in RecurringEventID. VEVENTs carrying a RECURRENCE-ID
// are overrides and replace the matching expanded occurrence.
func (s *Source) objectToRawEvents(obj *caldav.CalendarObject, calendarID string, from, to time.Time) ([]model.RawEvent, error) {
	if obj.Data == nil {
		return nil, fmt.Errorf("calendar object %q has no data", obj.Path)
	}

	var bases []parsedEvent
	var overrides []parsedEvent
	for _, ev := range obj.Data.Events() {
		pe, err := s.parseEvent(ev)
		if err != nil {
			return nil, err
		}
		if pe.recurrenceID != nil {
			overrides = append(overrides, pe)
		} else {
			bases = append(bases, pe)
		}
	}

	var out []model.RawEvent
	for _, base := range bases {
		if base.rrule == nil {
			if overlaps(base.start, base.endOr(base.start), from, to) {
				out = append(out, s.rawEvent(base, calendarID, base.uid, "", false, base.start, base.end))
			}
			continue
		}

		occStarts := base.rrule.Between(from.In(base.start.Location()), to.In(base.start.Location()), true)
		if len(occStarts) > maxOccurrencesPerEvent {
			s.log.Warn("recurrence expansion truncated",
				"uid", base.uid,
				"cap", maxOccurrencesPerEvent,
			)
			occStarts = occStarts[:maxOccurrencesPerEvent]
		}

		duration := base.endOr(base.start).Sub(base.start)
		for _, occStart := range occStarts {
			occ := base
			occEnd := occStart.Add(duration)
			if occ.allDay {
				day := time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
				occStart = day
				occEnd = day.Add(24 * time.Hour)
			}
			if ov, ok := overrideForStart(overrides, base.uid, occStart); ok {
				occ = ov
				occStart = ov.start
				occEnd = ov.endOr(ov.start)
			}
			id := base.uid + ":" + occStart.UTC().Format(time.RFC3339)
			out = append(out, s.rawEvent(occ, calendarID, id, base.uid, true, occStart, occEnd))
		}
	}

	return out, nil
}

// parsedEvent is the intermediate VEVENT shape shared by base events and
// RECURRENCE-ID overrides.
type parsedEvent struct {
	uid          string
	title        string
	location     string
	description  string
	meetingLink  string
	start        time.Time
	end          time.Time
	allDay       bool
	rrule        *rrule.Set
	recurrenceID *time.Time
	organizer    *model.RawAttendee
	attendees    []model.RawAttendee
}

func (p parsedEvent) endOr(fallback time.Time) time.Time {
	if p.end.IsZero() {
		return fallback
	}
	return p.end
}

func (s *Source) parseEvent(ev ical.Event) (parsedEvent, error) {
	var pe parsedEvent

	uid := ev.Props.Get(ical.PropUID)
	if uid == nil || uid.Value == "" {
		return pe, fmt.Errorf("VEVENT missing UID")
	}
	pe.uid = uid.Value

	if p := ev.Props.Get(ical.PropSummary); p != nil {
		pe.title = p.Value
	}
	if p := ev.Props.Get(ical.PropLocation); p != nil {
		pe.location = p.Value
	}
	if p := ev.Props.Get(ical.PropDescription); p != nil {
		pe.description = p.Value
	}
	pe.meetingLink = conferenceLink(ev)

	start := ev.Props.Get(ical.PropDateTimeStart)
	if start == nil {
		return pe, fmt.Errorf("VEVENT %q missing DTSTART", pe.uid)
	}
	t, err := start.DateTime(s.loc)
	if err != nil {
		return pe, fmt.Errorf("VEVENT %q: parsing DTSTART: %w", pe.uid, err)
	}
	pe.start = t
	if start.Params.Get(ical.ParamValue) == string(ical.ValueDate) {
		pe.allDay = true
	}

	if end := ev.Props.Get(ical.PropDateTimeEnd); end != nil {
		if t, err := end.DateTime(s.loc); err == nil {
			pe.end = t
		}
	}

	if rid := ev.Props.Get(ical.PropRecurrenceID); rid != nil {
		if t, err := rid.DateTime(s.loc); err == nil {
			pe.recurrenceID = &t
		}
	}

	if rr := ev.Props.Get(ical.PropRecurrenceRule); rr != nil {
		set, err := ev.RecurrenceSet(s.loc)
		if err != nil {
			return pe, fmt.Errorf("VEVENT %q: parsing recurrence rule: %w", pe.uid, err)
		}
		pe.rrule = set
	}

	if org := ev.Props.Get(ical.PropOrganizer); org != nil {
		a := s.attendee(org)
		pe.organizer = &a
	}
	for _, att := range ev.Props.Values(ical.PropAttendee) {
		pe.attendees = append(pe.attendees, s.attendee(&att))
	}

	return pe, nil
}

// attendee converts an ORGANIZER/ATTENDEE property ("mailto:a@b" plus an
// optional CN param) into a RawAttendee, flagging the configured account.
func (s *Source) attendee(p *ical.Prop) model.RawAttendee {
	email := strings.TrimPrefix(strings.TrimPrefix(p.Value, "mailto:"), "MAILTO:")
	return model.RawAttendee{
		Name:        p.Params.Get(ical.ParamCommonName),
		Email:       email,
		CurrentUser: s.userEmail != "" && strings.EqualFold(email, s.userEmail),
	}
}

// conferenceLink returns the provider-supplied conference URL, preferring
// the Google extension property over a generic URL prop.
func conferenceLink(ev ical.Event) string {
	if p := ev.Props.Get(xGoogleConference); p != nil && p.Value != "" {
		return p.Value
	}
	if p := ev.Props.Get(ical.PropURL); p != nil {
		if u, err := url.Parse(p.Value); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
			return p.Value
		}
	}
	return ""
}

func (s *Source) rawEvent(pe parsedEvent, calendarID, id, seriesID string, recurring bool, start, end time.Time) model.RawEvent {
	return model.RawEvent{
		ID:                 id,
		CalendarID:         calendarID,
		Title:              pe.title,
		Location:           pe.location,
		MeetingLink:        pe.meetingLink,
		Description:        pe.description,
		StartsAt:           start,
		EndsAt:             end,
		AllDay:             pe.allDay,
		HasRecurrenceRules: recurring,
		RecurringEventID:   seriesID,
		Organizer:          pe.organizer,
		Attendees:          pe.attendees,
	}
}

func overrideForStart(overrides []parsedEvent, uid string, start time.Time) (parsedEvent, bool) {
	for _, ov := range overrides {
		if ov.uid == uid && ov.recurrenceID != nil && ov.recurrenceID.Equal(start) {
			return ov, true
		}
	}
	return parsedEvent{}, false
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aStart.After(bEnd) && !aEnd.Before(bStart)
}
