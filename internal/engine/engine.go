package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"github.com/tartampluch/go-untis-sync/internal/config"
)

// CalendarProvider is the capability set every calendar backend offers to the sync run.
// Implementations must be safe for concurrent use.
type CalendarProvider interface {
	Name() string
	// Authenticate obtains push credentials or resolves the target calendar.
	Authenticate(ctx context.Context) error
	// FindExisting returns the remote event written for id near w, or nil when absent.
	FindExisting(ctx context.Context, w Window, id string) (*RemoteEvent, error)
	Create(ctx context.Context, ev CalendarEvent) (RemoteEvent, error)
	Update(ctx context.Context, remoteID string, ev CalendarEvent) (RemoteEvent, error)
	Delete(ctx context.Context, remoteID string) error
	// ListManaged returns every event in w that this tool created.
	ListManaged(ctx context.Context, w Window) ([]RemoteEvent, error)
}

// ProviderFactory builds the provider selected by the settings.
type ProviderFactory func(config.Settings) (CalendarProvider, error)

// Syncer is the core service running the fetch, transform and reconcile pipeline.
type Syncer struct {
	Clock     Clock            // Interface for time mocking.
	Fetcher   TimetableFetcher // Interface for network abstraction.
	Providers ProviderFactory

	// Phrases renders localized event text. Nil falls back to English.
	Phrases Phrasebook
}

// Result reports the outcome of one run.
type Result struct {
	RunID   string
	Lessons []Lesson
	Events  []CalendarEvent
	Pushed  int
	Failed  int
	Pruned  int
}

// Run executes one synchronization with the given settings snapshot.
// When push is false (or disabled in the settings) the calendar is never contacted.
// Errors wrap ErrConfiguration, ErrSourceFetch, ErrProviderAuth or ErrEventUpsert.
func (s *Syncer) Run(ctx context.Context, settings config.Settings, push bool) (Result, error) {
	started := time.Now()
	res := Result{RunID: uuid.NewString()}
	push = push && settings.Push

	log := slog.With(
		config.LogKeyComponent, config.CompEngine,
		config.LogKeyRunID, res.RunID,
		config.LogKeyMode, settings.Mode,
	)
	log.InfoContext(ctx, config.MsgSyncStarted, config.LogKeyPush, push)

	// 1. Validate
	loc, err := s.validate(settings, push)
	if err != nil {
		log.ErrorContext(ctx, config.MsgSyncFailed, config.LogKeyError, err)
		return res, err
	}

	// 2. Fetch
	clock := s.Clock
	if clock == nil {
		clock = RealClock{}
	}
	from := startOfDay(clock.Now(), loc)
	window := Window{From: from, To: endOfDay(from.AddDate(0, 0, settings.FutureDays), loc)}

	log.DebugContext(ctx, config.MsgFetchStarted,
		config.LogKeyFrom, window.From.Format(time.RFC3339),
		config.LogKeyTo, window.To.Format(time.RFC3339))
	lessons, err := s.Fetcher.Fetch(ctx, FetchRequest{
		Untis:    settings.Untis,
		From:     window.From,
		To:       window.To,
		Location: loc,
	})
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrSourceFetch, err)
		log.ErrorContext(ctx, config.MsgSyncFailed, config.LogKeyError, err)
		return res, err
	}
	res.Lessons = lessons

	// 3. Transform
	res.Events = BuildCalendarEvents(lessons, EventOptions{
		Mode:             settings.Mode,
		GapMinutes:       settings.GapMinutes,
		IncludeCancelled: settings.IncludeCancelled,
	}, s.Phrases)

	// 4. Reconcile gate
	if !push {
		log.InfoContext(ctx, config.MsgPushSkipped,
			config.LogKeyLessons, len(res.Lessons),
			config.LogKeyEvents, len(res.Events))
		return res, nil
	}

	// 5. Authenticate
	provider, err := s.Providers(settings)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrConfiguration, err)
		log.ErrorContext(ctx, config.MsgSyncFailed, config.LogKeyError, err)
		return res, err
	}
	log = log.With(config.LogKeyProvider, provider.Name())
	if err := provider.Authenticate(ctx); err != nil {
		err = fmt.Errorf("%w: %w", ErrProviderAuth, err)
		log.ErrorContext(ctx, config.MsgSyncFailed, config.LogKeyError, err)
		return res, err
	}

	// 6. Upsert (and prune)
	pushed, upsertErr := s.upsertAll(ctx, log, provider, res.Events, settings.Concurrency)
	res.Pushed = pushed
	res.Failed = len(res.Events) - pushed

	var pruneErr error
	if settings.Prune {
		res.Pruned, pruneErr = s.prune(ctx, log, provider, window, res.Events, settings.Concurrency)
	}

	// 7. Report
	err = errors.Join(upsertErr, pruneErr)
	if err != nil {
		log.WarnContext(ctx, config.MsgSyncPartial,
			config.LogKeyPushed, res.Pushed,
			config.LogKeyFailed, res.Failed,
			config.LogKeyError, err)
	}
	log.InfoContext(ctx, config.MsgSyncFinished,
		config.LogKeyLessons, len(res.Lessons),
		config.LogKeyEvents, len(res.Events),
		config.LogKeyPushed, res.Pushed,
		config.LogKeyFailed, res.Failed,
		config.LogKeyPruned, res.Pruned,
		config.LogKeyDuration, time.Since(started).Milliseconds())
	return res, err
}

// validate rejects incomplete settings before any network call and returns the sync zone.
func (s *Syncer) validate(settings config.Settings, push bool) (*time.Location, error) {
	fail := func(msg string) (*time.Location, error) {
		return nil, fmt.Errorf("%w: %s", ErrConfiguration, msg)
	}

	u := settings.Untis
	switch {
	case u.Password == "":
		return fail(config.ErrUntisPasswordMissing)
	case u.School == "" || u.Username == "" || u.ElementID == 0:
		return fail(config.ErrUntisIncomplete)
	case s.Fetcher == nil:
		return fail(config.ErrFetcherMissing)
	}

	loc, err := settings.Location()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if !push {
		return loc, nil
	}

	if s.Providers == nil {
		return fail(config.ErrProviderMissing)
	}
	switch settings.Provider {
	case config.ProviderGoogle:
		g := settings.Google
		if g.ClientID == "" || g.RefreshToken == "" {
			return fail(config.ErrGoogleIncomplete)
		}
		if g.CalendarID == "" {
			return fail(config.ErrGoogleCalendarID)
		}
	case config.ProviderLocal:
		if settings.Local.Path == "" {
			return fail(config.ErrLocalPathEmpty)
		}
	default:
		return fail(fmt.Sprintf("%s: %q", config.ErrProviderUnknown, settings.Provider))
	}
	return loc, nil
}

// newPool returns an error pool bounded to limit goroutines; limit <= 0 means unbounded.
func newPool(limit int) *pool.ErrorPool {
	p := pool.New().WithErrors()
	if limit > 0 {
		p = p.WithMaxGoroutines(limit)
	}
	return p
}

// upsertAll pushes every event independently. A failing event never cancels its siblings.
func (s *Syncer) upsertAll(ctx context.Context, log *slog.Logger, provider CalendarProvider, events []CalendarEvent, limit int) (int, error) {
	var pushed atomic.Int64
	p := newPool(limit)

	for _, ev := range events {
		p.Go(func() error {
			if err := upsert(ctx, log, provider, ev); err != nil {
				var op string
				var ue *UpsertError
				if errors.As(err, &ue) {
					op = ue.Op
				}
				log.WarnContext(ctx, config.MsgUpsertFailed,
					config.LogKeyEventID, ev.ID,
					config.LogKeyOp, op,
					config.LogKeyError, err)
				return err
			}
			pushed.Add(1)
			return nil
		})
	}

	err := p.Wait()
	return int(pushed.Load()), err
}

// upsert updates the remote event carrying ev.ID or creates it when absent.
func upsert(ctx context.Context, log *slog.Logger, provider CalendarProvider, ev CalendarEvent) error {
	existing, err := provider.FindExisting(ctx, Window{From: ev.Start, To: ev.End}, ev.ID)
	if err != nil {
		return &UpsertError{Op: OpFind, EventID: ev.ID, Err: err}
	}

	if existing != nil {
		if _, err := provider.Update(ctx, existing.RemoteID, ev); err != nil {
			return &UpsertError{Op: OpUpdate, EventID: ev.ID, Err: err}
		}
		log.DebugContext(ctx, config.MsgEventUpdated,
			config.LogKeyEventID, ev.ID,
			config.LogKeyRemoteID, existing.RemoteID)
		return nil
	}

	created, err := provider.Create(ctx, ev)
	if err != nil {
		return &UpsertError{Op: OpCreate, EventID: ev.ID, Err: err}
	}
	log.DebugContext(ctx, config.MsgEventCreated,
		config.LogKeyEventID, ev.ID,
		config.LogKeyRemoteID, created.RemoteID)
	return nil
}

// prune deletes managed remote events in w that are no longer part of the desired set.
func (s *Syncer) prune(ctx context.Context, log *slog.Logger, provider CalendarProvider, w Window, events []CalendarEvent, limit int) (int, error) {
	managed, err := provider.ListManaged(ctx, w)
	if err != nil {
		log.WarnContext(ctx, config.MsgPruneFailed, config.LogKeyError, err)
		return 0, &UpsertError{Op: OpList, Err: err}
	}

	desired := make(map[string]struct{}, len(events))
	for _, ev := range events {
		desired[ev.ID] = struct{}{}
	}

	var pruned atomic.Int64
	p := newPool(limit)
	for _, remote := range managed {
		if _, ok := desired[remote.SyncID]; ok {
			continue
		}
		p.Go(func() error {
			if err := provider.Delete(ctx, remote.RemoteID); err != nil {
				log.WarnContext(ctx, config.MsgPruneFailed,
					config.LogKeyEventID, remote.SyncID,
					config.LogKeyRemoteID, remote.RemoteID,
					config.LogKeyError, err)
				return &UpsertError{Op: OpDelete, EventID: remote.SyncID, Err: err}
			}
			log.DebugContext(ctx, config.MsgEventDeleted,
				config.LogKeyEventID, remote.SyncID,
				config.LogKeyRemoteID, remote.RemoteID)
			pruned.Add(1)
			return nil
		})
	}

	err = p.Wait()
	return int(pruned.Load()), err
}
