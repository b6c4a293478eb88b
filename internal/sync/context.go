package sync

import (
	"time"

	"github.com/jotkit/calsync/internal/store"
)

// Ctx carries everything one reconciliation pass needs to know about its
// surroundings: the time window under consideration and which calendars are
// currently selected for sync. It is a plain value and safe to copy.
type Ctx struct {
	// From and To bound the sync window, both inclusive.
	From time.Time
	To   time.Time

	// CalendarIDs is the set of enabled local calendar row ids. Existing
	// rows outside this set are purged.
	CalendarIDs map[string]struct{}

	// CalendarsByTrackingID resolves a provider calendar tracking id to the
	// local calendar row id. Only enabled calendars appear here.
	CalendarsByTrackingID map[string]string
}

// NewCtx builds a Ctx for the given window from the enabled calendar rows.
func NewCtx(from, to time.Time, calendars []store.Calendar) Ctx {
	c := Ctx{
		From:                  from,
		To:                    to,
		CalendarIDs:           make(map[string]struct{}, len(calendars)),
		CalendarsByTrackingID: make(map[string]string, len(calendars)),
	}
	for _, cal := range calendars {
		c.CalendarIDs[cal.ID] = struct{}{}
		c.CalendarsByTrackingID[cal.TrackingID] = cal.ID
	}
	return c
}

// Enabled reports whether the local calendar id is selected for sync.
func (c Ctx) Enabled(calendarID string) bool {
	_, ok := c.CalendarIDs[calendarID]
	return ok
}
