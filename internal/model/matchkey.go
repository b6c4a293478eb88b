package model

import (
	"strconv"
	"strings"
	"time"
)

// matchKeySep joins the key components. The unit separator cannot appear in
// provider ids (which are URL-safe tokens) or in a formatted integer.
const matchKeySep = "\x1f"

// MatchKey derives the identity string that correlates one event occurrence
// across sync runs. Two records refer to the same real-world occurrence if
// and only if their keys are equal.
//
// The key folds in the start instant and the recurrence flag because a single
// provider tracking id can appear both as a series anchor (legacy rows,
// non-recurring-flagged) and inside per-occurrence composite ids. The start
// component is the canonical epoch-millisecond instant, so two
// representations of the same moment that merely differ in offset notation
// still match.
//
// ok is false when no tracking id is present: such records can never be
// matched, and callers must not fold them onto a shared placeholder key.
func MatchKey(trackingID string, startsAt time.Time, recurring bool) (key string, ok bool) {
	if trackingID == "" {
		return "", false
	}
	var b strings.Builder
	b.WriteString(trackingID)
	b.WriteString(matchKeySep)
	b.WriteString(strconv.FormatInt(startsAt.UnixMilli(), 10))
	b.WriteString(matchKeySep)
	b.WriteString(strconv.FormatBool(recurring))
	return b.String(), true
}

// Key returns the incoming event's match key. The full (pre-strip) tracking
// id is used, never SeriesID.
func (e IncomingEvent) Key() (string, bool) {
	return MatchKey(e.TrackingID, e.StartsAt, e.Recurring)
}

// KeyAssuming computes the stored event's match key under an explicit
// recurrence assumption. The reconciler uses it to probe both possibilities
// for rows whose recurrence state is still RecurrenceUnknown.
func (e Event) KeyAssuming(recurring bool) (string, bool) {
	return MatchKey(e.TrackingID, e.StartsAt, recurring)
}
