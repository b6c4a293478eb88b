package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/jotkit/calsync/internal/model"
)

const (
	otelScope     = "calsync/sync"
	spanSyncPass  = "sync.pass"
	metricAdded   = "calsync.sync.events.added"
	metricUpdated = "calsync.sync.events.updated"
	metricDeleted = "calsync.sync.events.deleted"
	metricErrors  = "calsync.sync.errors"
)

// Stats tracks the mutations applied in a single sync pass.
type Stats struct {
	Added   int
	Updated int
	Deleted int
}

// Window bounds each pass relative to its start: [now-Past, now+Future].
type Window struct {
	Past   time.Duration
	Future time.Duration
}

// Engine orchestrates sync passes: it builds the pass context from the
// store, runs the fetcher and the reconciler, and applies the diff plus the
// participant associations transactionally. Create one with [NewEngine] and
// run it via [Engine.RunOnce] or the scheduled [Engine.Run] loop.
type Engine struct {
	fetcher *Fetcher
	store   EventStore
	window  Window
	userID  string
	loc     *time.Location
	log     *slog.Logger

	// OTel instruments — always non-nil (no-op when telemetry is disabled).
	tracer     trace.Tracer
	cntAdded   metric.Int64Counter
	cntUpdated metric.Int64Counter
	cntDeleted metric.Int64Counter
	cntErrors  metric.Int64Counter
}

// NewEngine creates an Engine. userID is stamped onto every inserted row;
// loc is the timezone the daemon schedule is evaluated in.
func NewEngine(fetcher *Fetcher, store EventStore, window Window, userID string, loc *time.Location, logger *slog.Logger) *Engine {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		fetcher: fetcher,
		store:   store,
		window:  window,
		userID:  userID,
		loc:     loc,
		log:     logger,

		tracer:     tracer,
		cntAdded:   mustCounter(metricAdded, "Number of events inserted during sync"),
		cntUpdated: mustCounter(metricUpdated, "Number of events updated during sync"),
		cntDeleted: mustCounter(metricDeleted, "Number of events deleted during sync"),
		cntErrors:  mustCounter(metricErrors, "Number of failed sync passes"),
	}
}

// RunOnce performs a single sync pass and returns.
func (e *Engine) RunOnce(ctx context.Context) (Stats, error) {
	return e.syncPass(ctx)
}

// syncPass runs one full pass, recording a trace span and metrics.
func (e *Engine) syncPass(ctx context.Context) (Stats, error) {
	ctx, span := e.tracer.Start(ctx, spanSyncPass)
	defer span.End()

	stats, err := e.pass(ctx)

	if stats.Added > 0 {
		e.cntAdded.Add(ctx, int64(stats.Added))
	}
	if stats.Updated > 0 {
		e.cntUpdated.Add(ctx, int64(stats.Updated))
	}
	if stats.Deleted > 0 {
		e.cntDeleted.Add(ctx, int64(stats.Deleted))
	}
	if err != nil {
		e.cntErrors.Add(ctx, 1)
		span.RecordError(err)
	}

	span.SetAttributes(
		attribute.Int("sync.added", stats.Added),
		attribute.Int("sync.updated", stats.Updated),
		attribute.Int("sync.deleted", stats.Deleted),
	)
	return stats, err
}

func (e *Engine) pass(ctx context.Context) (Stats, error) {
	var stats Stats
	now := time.Now()

	calendars, err := e.store.EnabledCalendars(ctx)
	if err != nil {
		return stats, fmt.Errorf("loading enabled calendars: %w", err)
	}
	if len(calendars) == 0 {
		e.log.Warn("no calendars enabled, nothing to sync")
		return stats, nil
	}

	sc := NewCtx(now.Add(-e.window.Past), now.Add(e.window.Future), calendars)

	// The store read is a synchronous snapshot; the fetch is the only
	// concurrency-bearing stage.
	existing, err := e.store.EventsOverlapping(ctx, sc.From, sc.To)
	if err != nil {
		return stats, fmt.Errorf("reading existing events: %w", err)
	}

	fetched, err := e.fetcher.Fetch(ctx, sc)
	if err != nil {
		return stats, err
	}

	diff := Reconcile(sc, existing, fetched.Events)
	inserts := e.rowsToInsert(sc, diff.ToAdd, now)

	if err := e.store.ApplyDiff(ctx, diff.ToDelete, diff.ToUpdate, inserts); err != nil {
		return stats, fmt.Errorf("applying diff: %w", err)
	}
	if err := e.store.ReplaceParticipants(ctx, fetched.Participants); err != nil {
		return stats, fmt.Errorf("storing participants: %w", err)
	}

	stats = Stats{Added: len(inserts), Updated: len(diff.ToUpdate), Deleted: len(diff.ToDelete)}
	e.log.Info("sync pass complete",
		"added", stats.Added,
		"updated", stats.Updated,
		"deleted", stats.Deleted,
		"window_from", sc.From,
		"window_to", sc.To,
	)
	return stats, nil
}

// rowsToInsert converts the diff's additions into store rows: each gets a
// fresh local id, the owning user, and its calendar tracking id resolved to
// the local calendar row id.
func (e *Engine) rowsToInsert(sc Ctx, toAdd []model.IncomingEvent, now time.Time) []model.Event {
	rows := make([]model.Event, 0, len(toAdd))
	for _, in := range toAdd {
		calendarID, ok := sc.CalendarsByTrackingID[in.CalendarTrackingID]
		if !ok {
			// Cannot happen for events the fetcher produced, but an
			// unresolvable calendar must not become a permanently inert row.
			e.log.Warn("dropping event for unknown calendar",
				"calendar_tracking_id", in.CalendarTrackingID,
				"title", in.Title,
			)
			continue
		}
		rows = append(rows, model.Event{
			ID:          uuid.NewString(),
			UserID:      e.userID,
			CalendarID:  calendarID,
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
			CreatedAt:   now.UTC(),
		})
	}
	return rows
}

// Run starts the scheduled daemon loop: an immediate first pass, then one
// pass per cron schedule tick. It blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, schedule string) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("parsing sync schedule %q: %w", schedule, err)
	}

	if _, err := e.syncPass(ctx); err != nil {
		e.log.Error("initial sync pass failed", "error", err)
	}

	c := cron.New(cron.WithLocation(e.loc))
	if _, err := c.AddFunc(schedule, func() {
		if _, err := e.syncPass(ctx); err != nil {
			e.log.Error("sync pass failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("scheduling sync: %w", err)
	}
	c.Start()

	<-ctx.Done()
	e.log.Info("sync engine shutting down")
	stopCtx := c.Stop()
	<-stopCtx.Done()
	return ctx.Err()
}
