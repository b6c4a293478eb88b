package sync

import "github.com/jotkit/calsync/internal/model"

// Diff is the outcome of one reconciliation pass: the minimal set of
// mutations that brings the store in line with the provider snapshot.
// Applying a Diff and re-reconciling against the same incoming set yields an
// empty Diff.
type Diff struct {
	// ToAdd holds incoming events with no matching store row.
	ToAdd []model.IncomingEvent
	// ToUpdate holds store rows merged with their matched incoming event.
	ToUpdate []model.Event
	// ToDelete holds local row ids that can no longer be matched or whose
	// calendar was disabled.
	ToDelete []string
}

// Empty reports whether the diff contains no mutations.
func (d Diff) Empty() bool {
	return len(d.ToAdd) == 0 && len(d.ToUpdate) == 0 && len(d.ToDelete) == 0
}

// Reconcile computes the diff between the store snapshot and the freshly
// fetched provider events. It is pure and order-insensitive: each existing
// row independently resolves to update or delete, and any incoming event not
// claimed by an existing row is new.
//
// Matching is by match key. A key is claimed at most once per pass; rows in
// disabled calendars and rows without a tracking id are always deleted. Rows
// whose recurrence state is unknown probe both classifications so legacy
// rows self-heal on their first successful match.
func Reconcile(sc Ctx, existing []model.Event, incoming []model.IncomingEvent) Diff {
	incomingByKey := make(map[string]model.IncomingEvent, len(incoming))
	for _, in := range incoming {
		// Last write wins on duplicate keys; the fetcher should not produce
		// them but a duplicate is not fatal.
		if key, ok := in.Key(); ok {
			incomingByKey[key] = in
		}
	}

	handled := make(map[string]struct{}, len(existing))
	var diff Diff

	for _, row := range existing {
		if !sc.Enabled(row.CalendarID) {
			diff.ToDelete = append(diff.ToDelete, row.ID)
			continue
		}
		if row.TrackingID == "" {
			// No key can ever be formed for this row; it is orphaned.
			diff.ToDelete = append(diff.ToDelete, row.ID)
			continue
		}

		in, key, ok := claim(incomingByKey, handled, row)
		if !ok {
			diff.ToDelete = append(diff.ToDelete, row.ID)
			continue
		}
		handled[key] = struct{}{}
		if merged := merge(row, in); changed(row, merged) {
			diff.ToUpdate = append(diff.ToUpdate, merged)
		}
	}

	for _, in := range incoming {
		key, ok := in.Key()
		if !ok {
			// Unmatchable by definition, and a row stored without a tracking
			// id would be purged as an orphan on the next pass. Never persist.
			continue
		}
		if _, claimed := handled[key]; claimed {
			continue
		}
		diff.ToAdd = append(diff.ToAdd, in)
	}

	return diff
}

// claim finds the incoming event matching a store row, probing both
// recurrence classifications when the row's state is unknown. Keys already
// claimed by another row are skipped.
func claim(incomingByKey map[string]model.IncomingEvent, handled map[string]struct{}, row model.Event) (model.IncomingEvent, string, bool) {
	var probes []bool
	switch row.Recurrence {
	case model.RecurrenceSingle:
		probes = []bool{false}
	case model.RecurrenceRecurring:
		probes = []bool{true}
	default:
		probes = []bool{false, true}
	}

	for _, recurring := range probes {
		key, ok := row.KeyAssuming(recurring)
		if !ok {
			continue
		}
		if _, taken := handled[key]; taken {
			continue
		}
		if in, found := incomingByKey[key]; found {
			return in, key, true
		}
	}
	return model.IncomingEvent{}, "", false
}

// changed reports whether any provider-origin field differs between the
// stored row and its merged replacement. Unchanged rows are left out of the
// diff so that re-reconciling an already-applied snapshot is a no-op.
func changed(row, merged model.Event) bool {
	return row.TrackingID != merged.TrackingID ||
		row.SeriesID != merged.SeriesID ||
		row.Title != merged.Title ||
		row.Location != merged.Location ||
		row.MeetingLink != merged.MeetingLink ||
		row.Description != merged.Description ||
		!row.StartsAt.Equal(merged.StartsAt) ||
		!row.EndsAt.Equal(merged.EndsAt) ||
		row.AllDay != merged.AllDay ||
		row.Recurrence != merged.Recurrence
}

// merge builds the updated row: provider-origin fields come from the
// incoming event, identity and local-only fields stay with the store row.
// The recurrence state always comes from the incoming side, which is how an
// unknown classification gets resolved going forward.
func merge(row model.Event, in model.IncomingEvent) model.Event {
	return model.Event{
		ID:         row.ID,
		UserID:     row.UserID,
		CalendarID: row.CalendarID,
		CreatedAt:  row.CreatedAt,
		Note:       row.Note,

		TrackingID:  in.TrackingID,
		SeriesID:    in.SeriesID,
		Title:       in.Title,
		Location:    in.Location,
		MeetingLink: in.MeetingLink,
		Description: in.Description,
		StartsAt:    in.StartsAt,
		EndsAt:      in.EndsAt,
		AllDay:      in.AllDay,
		Recurrence:  model.RecurrenceOf(in.Recurring),
	}
}
