package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/jotkit/calsync/internal/caldav"
	"github.com/jotkit/calsync/internal/store"
)

// CalendarDirectory discovers the calendars available on the provider
// account. Implemented by [caldav.Source].
type CalendarDirectory interface {
	Calendars(ctx context.Context) ([]caldav.Calendar, error)
}

// CalendarStore persists locally tracked calendar rows.
// Implemented by [store.Store].
type CalendarStore interface {
	UpsertCalendar(ctx context.Context, cal store.Calendar) error
	EnabledCalendars(ctx context.Context) ([]store.Calendar, error)
}

// Bootstrap seeds the local calendar table from the provider account: it
// discovers the calendars the account can see, matches them by name against
// the configured selection, and enables exactly the selected ones. Run it
// before the first sync pass and after every config change.
type Bootstrap struct {
	source   CalendarDirectory
	store    CalendarStore
	selected []string
	log      *slog.Logger
	writer   io.Writer // for summary output (os.Stdout in production)
}

// NewBootstrap creates a Bootstrap. selected is the list of calendar names
// from the config; matching is case-insensitive.
func NewBootstrap(source CalendarDirectory, store CalendarStore, selected []string, logger *slog.Logger, writer io.Writer) *Bootstrap {
	return &Bootstrap{
		source:   source,
		store:    store,
		selected: selected,
		log:      logger,
		writer:   writer,
	}
}

// Run discovers the provider calendars and writes the calendar table. Every
// discovered calendar gets a row; only the configured ones are enabled. A
// configured name with no matching provider calendar is an error, reported
// together with the names that are available.
func (b *Bootstrap) Run(ctx context.Context) error {
	discovered, err := b.source.Calendars(ctx)
	if err != nil {
		return fmt.Errorf("discovering calendars: %w", err)
	}
	b.log.Info("discovered provider calendars", "count", len(discovered))

	selectedSet := make(map[string]bool, len(b.selected))
	for _, name := range b.selected {
		selectedSet[strings.ToLower(name)] = false
	}

	var enabled, disabled []string
	for _, cal := range discovered {
		key := strings.ToLower(cal.Name)
		_, selected := selectedSet[key]
		if selected {
			selectedSet[key] = true
			enabled = append(enabled, cal.Name)
		} else {
			disabled = append(disabled, cal.Name)
		}

		row := store.Calendar{
			ID:         uuid.NewString(),
			TrackingID: cal.Path,
			Name:       cal.Name,
			Enabled:    selected,
		}
		if err := b.store.UpsertCalendar(ctx, row); err != nil {
			return fmt.Errorf("writing calendar %q: %w", cal.Name, err)
		}
	}

	b.printSummary(enabled, disabled)

	var missing []string
	for _, name := range b.selected {
		if !selectedSet[strings.ToLower(name)] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		available := make([]string, 0, len(discovered))
		for _, cal := range discovered {
			available = append(available, cal.Name)
		}
		return fmt.Errorf("configured calendars not found on server: %s (available: %s)",
			strings.Join(missing, ", "), strings.Join(available, ", "))
	}

	return nil
}

// printSummary writes a human-readable summary of the calendar selection.
func (b *Bootstrap) printSummary(enabled, disabled []string) {
	_, _ = fmt.Fprintf(b.writer, "\n--- Calendar Selection ---\n\n")
	_, _ = fmt.Fprintf(b.writer, "Enabled for sync: %d\n", len(enabled))
	for _, name := range enabled {
		_, _ = fmt.Fprintf(b.writer, "  ✓ %s\n", name)
	}
	if len(disabled) > 0 {
		_, _ = fmt.Fprintf(b.writer, "Available but not selected: %d\n", len(disabled))
		for _, name := range disabled {
			_, _ = fmt.Fprintf(b.writer, "  - %s\n", name)
		}
	}
	_, _ = fmt.Fprintln(b.writer)
}
