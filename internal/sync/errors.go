package sync

import "fmt"

// FetchError reports that the provider call for one calendar failed. A single
// failing calendar aborts the whole fetch; no partial results are returned.
type FetchError struct {
	// CalendarTrackingID is the provider id of the calendar that failed.
	CalendarTrackingID string
	Cause              error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching events for calendar %q: %v", e.CalendarTrackingID, e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}
