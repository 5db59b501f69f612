package scheduler_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tartampluch/go-untis-sync/internal/config"
	"github.com/tartampluch/go-untis-sync/internal/engine"
	"github.com/tartampluch/go-untis-sync/internal/scheduler"
	"github.com/tartampluch/go-untis-sync/internal/state"
)

// MockClock allows manipulating time for tests.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

func berlin(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	return loc
}

func settings() config.Settings {
	return config.Settings{
		Timezone:      "Europe/Berlin",
		AutoSync:      true,
		AutoSyncTime:  "06:00",
		CheckInterval: time.Hour,
	}
}

func TestShouldRunNow(t *testing.T) {
	loc := berlin(t)
	day := func(hh, mm int) time.Time { return time.Date(2025, 3, 10, hh, mm, 0, 0, loc) }

	disabled := settings()
	disabled.AutoSync = false
	badTime := settings()
	badTime.AutoSyncTime = "6 Uhr"

	tests := []struct {
		name string
		s    config.Settings
		st   state.State
		now  time.Time
		want bool
	}{
		{"before time", settings(), state.State{}, day(5, 59), false},
		{"at time", settings(), state.State{}, day(6, 0), true},
		{"later never run", settings(), state.State{}, day(22, 15), true},
		{"already ran today", settings(), state.State{LastRunDate: "2025-03-10"}, day(7, 0), false},
		{"ran yesterday", settings(), state.State{LastRunDate: "2025-03-09"}, day(7, 0), true},
		{"auto disabled", disabled, state.State{}, day(7, 0), false},
		{"invalid time", badTime, state.State{}, day(7, 0), false},
		// 04:30 UTC is 05:30 in Berlin: not yet due.
		{"evaluated in zone", settings(), state.State{}, time.Date(2025, 3, 10, 4, 30, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scheduler.ShouldRunNow(tt.s, tt.st, tt.now, loc))
		})
	}
}

func newScheduler(t *testing.T, clock *MockClock, run scheduler.RunFunc) (*scheduler.Scheduler, *state.Store) {
	t.Helper()
	store := state.NewStore(filepath.Join(t.TempDir(), "state.yaml"))
	return &scheduler.Scheduler{
		Settings: settings(),
		Clock:    clock,
		Store:    store,
		Run:      run,
	}, store
}

func TestTick_RunsOncePerDay(t *testing.T) {
	loc := berlin(t)
	clock := &MockClock{now: time.Date(2025, 3, 10, 5, 0, 0, 0, loc)}
	var runs atomic.Int32
	s, store := newScheduler(t, clock, func(context.Context) (engine.Result, error) {
		runs.Add(1)
		return engine.Result{Pushed: 4}, nil
	})
	ctx := context.Background()

	assert.False(t, s.Tick(ctx), "not due before 06:00")

	clock.Set(time.Date(2025, 3, 10, 6, 30, 0, 0, loc))
	assert.True(t, s.Tick(ctx))
	assert.False(t, s.Tick(ctx), "already ran today")
	assert.Equal(t, int32(1), runs.Load())

	st, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "2025-03-10", st.LastRunDate)
	assert.Equal(t, config.StatusSuccess, st.LastStatus)
	assert.Equal(t, 4, st.LastPushed)

	clock.Set(time.Date(2025, 3, 11, 6, 0, 0, 0, loc))
	assert.True(t, s.Tick(ctx))
	assert.Equal(t, int32(2), runs.Load())
}

func TestTick_FailureRetries(t *testing.T) {
	loc := berlin(t)
	clock := &MockClock{now: time.Date(2025, 3, 10, 7, 0, 0, 0, loc)}
	fail := true
	var results []error
	s, store := newScheduler(t, clock, func(context.Context) (engine.Result, error) {
		if fail {
			return engine.Result{}, errors.New("WebUntis authentication failed")
		}
		return engine.Result{Pushed: 1}, nil
	})
	s.OnResult = func(_ engine.Result, err error) { results = append(results, err) }
	ctx := context.Background()

	assert.True(t, s.Tick(ctx))
	st, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, st.LastRunDate)
	assert.Equal(t, config.StatusError, st.LastStatus)

	fail = false
	assert.True(t, s.Tick(ctx), "failed run is retried on the next tick")
	st, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, "2025-03-10", st.LastRunDate)

	require.Len(t, results, 2)
	assert.Error(t, results[0])
	assert.NoError(t, results[1])
}

func TestStartStop(t *testing.T) {
	loc := berlin(t)
	clock := &MockClock{now: time.Date(2025, 3, 10, 7, 0, 0, 0, loc)}
	var runs atomic.Int32
	s, _ := newScheduler(t, clock, func(context.Context) (engine.Result, error) {
		runs.Add(1)
		return engine.Result{}, nil
	})

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond,
		"first check runs immediately")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	s.Stop(ctx)
}
