package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tartampluch/go-untis-sync/internal/config"
	"github.com/tartampluch/go-untis-sync/internal/engine"
	"github.com/tartampluch/go-untis-sync/internal/provider"
	"github.com/tartampluch/go-untis-sync/internal/secrets"
	"github.com/tartampluch/go-untis-sync/internal/state"
	"github.com/zalando/go-keyring"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type staticFetcher []engine.Lesson

func (f staticFetcher) Fetch(context.Context, engine.FetchRequest) ([]engine.Lesson, error) {
	return f, nil
}

func testApp(t *testing.T, stdin string) (*app, *bytes.Buffer) {
	t.Helper()
	keyring.MockInit()
	dir := t.TempDir()

	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, berlin)
	at := func(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

	s := config.Settings{
		Mode:          config.ModeBlocks,
		GapMinutes:    10,
		IncludeBreaks: true,
		FutureDays:    1,
		Timezone:      "Europe/Berlin",
		AutoSyncTime:  "06:00",
		StateFile:     filepath.Join(dir, "state.yaml"),
		Untis:         config.UntisSettings{School: "demo", Username: "anna", Password: "pw", ElementID: 7},
		Push:          true,
		Provider:      config.ProviderLocal,
		Local:         config.LocalSettings{Path: filepath.Join(dir, "calendar.ics"), Name: "WebUntis Stundenplan"},
	}
	clock := fixedClock{t: at(6, 0)}
	out := &bytes.Buffer{}
	return &app{
		settings: s,
		syncer: &engine.Syncer{
			Clock: clock,
			Fetcher: staticFetcher{
				{ID: "1-20250310", Start: at(8, 0), End: at(8, 45), DateKey: "2025-03-10", Subject: "MA", Rooms: []string{"A1"}},
				{ID: "2-20250310", Start: at(8, 50), End: at(9, 35), DateKey: "2025-03-10", Subject: "PH", Rooms: []string{"A1"}},
				{ID: "3-20250310", Start: at(10, 0), End: at(10, 45), DateKey: "2025-03-10", Subject: "DE"},
			},
			Providers: provider.New,
		},
		store:  state.NewStore(s.StateFile),
		clock:  clock,
		stdin:  strings.NewReader(stdin),
		stdout: out,
		stderr: &bytes.Buffer{},
	}, out
}

func TestRun_Usage(t *testing.T) {
	a, _ := testApp(t, "")
	ctx := context.Background()

	assert.ErrorIs(t, a.run(ctx, nil), errUsage)
	assert.ErrorIs(t, a.run(ctx, []string{"frobnicate"}), errUsage)
	assert.ErrorIs(t, a.run(ctx, []string{config.CmdExport}), errUsage)
	assert.ErrorIs(t, a.run(ctx, []string{config.CmdSync, "-bogus"}), errUsage)
	assert.ErrorIs(t, a.run(ctx, []string{config.CmdSecret, "set"}), errUsage)
	assert.ErrorIs(t, a.run(ctx, []string{config.CmdSecret, "set", "carddav"}), errUsage)
}

func TestShow_Text(t *testing.T) {
	a, out := testApp(t, "")
	require.NoError(t, a.run(context.Background(), []string{config.CmdShow}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "2025-03-10 08:00-09:35  block    MA / PH (A1)", lines[0])
	assert.Equal(t, "2025-03-10 09:35-10:00  break    25 min", lines[1])
	assert.Equal(t, "2025-03-10 10:00-10:45  block    DE", lines[2])
}

func TestShow_JSON(t *testing.T) {
	a, out := testApp(t, "")
	require.NoError(t, a.run(context.Background(), []string{config.CmdShow, "-" + config.FlagJSON}))
	assert.Contains(t, out.String(), `"kind": "block"`)
	assert.Contains(t, out.String(), `"kind": "break"`)
}

func TestSync_PushesAndRecordsState(t *testing.T) {
	a, out := testApp(t, "")
	require.NoError(t, a.run(context.Background(), []string{config.CmdSync}))
	assert.Equal(t, "3 lessons fetched, 2 of 2 events pushed, 0 failed, 0 stale removed\n", out.String())

	st, err := a.store.Load()
	require.NoError(t, err)
	assert.Equal(t, config.StatusSuccess, st.LastStatus)
	assert.Equal(t, 2, st.LastPushed)
	assert.Empty(t, st.LastRunDate, "manual runs leave the daily slot to the scheduler")

	data, err := os.ReadFile(a.settings.Local.Path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "BEGIN:VEVENT"))
}

func TestSync_NoPush(t *testing.T) {
	a, out := testApp(t, "")
	require.NoError(t, a.run(context.Background(), []string{config.CmdSync, "-" + config.FlagNoPush}))
	assert.Contains(t, out.String(), "0 of 2 events pushed")

	_, err := os.Stat(a.settings.Local.Path)
	assert.True(t, os.IsNotExist(err), "calendar untouched")
}

func TestExport(t *testing.T) {
	a, out := testApp(t, "")
	target := filepath.Join(t.TempDir(), "out", "timetable.ics")
	require.NoError(t, a.run(context.Background(), []string{config.CmdExport, "-o", target}))
	assert.Equal(t, "2 events written to "+target+"\n", out.String())

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "BEGIN:VEVENT"))
	assert.Contains(t, string(data), "X-WR-CALNAME:WebUntis Stundenplan")
}

func TestSecret_SetDelete(t *testing.T) {
	a, out := testApp(t, "  s3cret \n")
	require.NoError(t, a.run(context.Background(), []string{config.CmdSecret, config.SecretActionSet, config.SecretUntis}))
	assert.Equal(t, config.MsgSecretStored+"\n", out.String())

	s := a.settings
	s.Untis.Password = ""
	assert.Equal(t, "s3cret", secrets.Resolve(s).Untis.Password)

	require.NoError(t, a.run(context.Background(), []string{config.CmdSecret, config.SecretActionDelete, config.SecretUntis}))
	assert.Empty(t, secrets.Resolve(s).Untis.Password)
}

func TestSecret_EmptyInput(t *testing.T) {
	a, _ := testApp(t, "\n")
	err := a.run(context.Background(), []string{config.CmdSecret, config.SecretActionSet, config.SecretUntis})
	assert.EqualError(t, err, config.ErrSecretEmpty)
}
