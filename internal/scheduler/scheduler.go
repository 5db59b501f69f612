// Package scheduler triggers the daily automatic synchronization.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tartampluch/go-untis-sync/internal/config"
	"github.com/tartampluch/go-untis-sync/internal/engine"
	"github.com/tartampluch/go-untis-sync/internal/state"
)

// RunFunc performs one pushing sync run.
type RunFunc func(ctx context.Context) (engine.Result, error)

// Scheduler checks every CheckInterval whether today's automatic sync is due and runs it.
type Scheduler struct {
	Settings config.Settings
	Clock    engine.Clock
	Store    *state.Store
	Run      RunFunc
	// OnResult, if set, receives every finished run (the daemon publishes the feed from it).
	OnResult func(engine.Result, error)

	mu      sync.Mutex
	cron    *cron.Cron
	running sync.Mutex
	wg      sync.WaitGroup
}

// ShouldRunNow reports whether the automatic sync is due at now: auto sync is enabled,
// it has not succeeded today yet and the configured time of day has passed.
func ShouldRunNow(s config.Settings, st state.State, now time.Time, loc *time.Location) bool {
	if !s.AutoSync {
		return false
	}
	now = now.In(loc)
	if st.LastRunDate == now.Format(config.DateKeyLayout) {
		return false
	}
	at, err := time.Parse(config.ClockLayout, s.AutoSyncTime)
	if err != nil {
		return false
	}
	due := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, loc)
	return !now.Before(due)
}

// Tick runs the sync when it is due. It reports whether a run happened.
// Overlapping ticks are skipped.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if !s.running.TryLock() {
		return false
	}
	defer s.running.Unlock()

	logger := slog.With(config.LogKeyComponent, config.CompScheduler)

	loc, err := s.Settings.Location()
	if err != nil {
		logger.Error(config.MsgSyncFailed, config.LogKeyError, err)
		return false
	}
	st, err := s.Store.Load()
	if err != nil {
		logger.Warn(config.MsgStateFailed, config.LogKeyError, err)
	}

	now := s.clock().Now()
	if !ShouldRunNow(s.Settings, st, now, loc) {
		logger.Debug(config.MsgSchedulerSkip,
			config.LogKeyLastRun, st.LastRunDate,
			config.LogKeyDue, s.Settings.AutoSyncTime,
		)
		return false
	}

	res, runErr := s.Run(ctx)
	if err := s.Store.Record(s.clock().Now().In(loc), res.Pushed, runErr, true); err != nil {
		logger.Error(config.MsgStateFailed, config.LogKeyError, err)
	}
	if s.OnResult != nil {
		s.OnResult(res, runErr)
	}
	return true
}

// Start registers the periodic check and runs a first check immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	spec := fmt.Sprintf("@every %s", s.Settings.CheckInterval)
	if _, err := c.AddFunc(spec, func() { s.Tick(ctx) }); err != nil {
		return fmt.Errorf("%s: %w", config.ErrSchedule, err)
	}
	c.Start()
	s.cron = c

	slog.Info(config.MsgSchedulerStart,
		config.LogKeyComponent, config.CompScheduler,
		config.LogKeyInterval, s.Settings.CheckInterval.String(),
		config.LogKeyDue, s.Settings.AutoSyncTime,
	)

	s.wg.Go(func() { s.Tick(ctx) })
	return nil
}

// Stop halts the schedule and waits for a running sync to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	slog.Info(config.MsgSchedulerStop, config.LogKeyComponent, config.CompScheduler)
	done := make(chan struct{})
	go func() {
		<-c.Stop().Done()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (s *Scheduler) clock() engine.Clock {
	if s.Clock == nil {
		return engine.RealClock{}
	}
	return s.Clock
}
