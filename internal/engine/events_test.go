package engine_test

import (
	"math/rand"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tartampluch/go-untis-sync/internal/config"
	"github.com/tartampluch/go-untis-sync/internal/engine"
)

var sanitizedPattern = regexp.MustCompile(`^[a-z0-9-]*$`)

func TestSanitizeEventID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"block-12345-20250310", "block-12345-20250310"},
		{"Summary_2025.03.10", "summary-2025-03-10"},
		{"break-1741593600000-1741594200000", "break-1741593600000-1741594200000"},
		{"A  //  B", "a-b"},
		{"Ünterricht", "-nterricht"},
		{"", ""},
		{strings.Repeat("x", 80), strings.Repeat("x", 50)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, engine.SanitizeEventID(tt.in), "input %q", tt.in)
	}
}

func TestSanitizeEventID_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	alphabet := []rune("abcXYZ0189-_ .:/äß€")
	for range 500 {
		n := r.Intn(120)
		var b strings.Builder
		for range n {
			b.WriteRune(alphabet[r.Intn(len(alphabet))])
		}
		in := b.String()

		out := engine.SanitizeEventID(in)

		assert.Equal(t, out, engine.SanitizeEventID(in), "deterministic")
		assert.LessOrEqual(t, len(out), config.MaxEventIDLength)
		assert.Regexp(t, sanitizedPattern, out)
		assert.NotContains(t, out, "--", "separator runs must be collapsed")
	}
}

func mappingFixture() []engine.Lesson {
	return []engine.Lesson{
		lesson("101-20250310", at(0, 8, 0), at(0, 8, 45), "Math",
			withRooms("A1"), withTeachers("MUE"), withClasses("5a")),
		lesson("102-20250310", at(0, 8, 50), at(0, 9, 35), "Physics",
			withRooms("Lab"), withTeachers("SCH", "MUE"), withClasses("5a")),
		lesson("103-20250310", at(0, 10, 30), at(0, 11, 15), "English"),
		lesson("104-20250311", at(1, 8, 0), at(1, 8, 45), "Art", cancelled()),
		lesson("105-20250311", at(1, 9, 0), at(1, 9, 45), "Music", withRooms("M1")),
	}
}

func TestBuildCalendarEvents_Blocks(t *testing.T) {
	events := engine.BuildCalendarEvents(mappingFixture(), engine.EventOptions{
		Mode:       config.ModeBlocks,
		GapMinutes: 10,
	}, nil)

	require.Len(t, events, 3)

	first := events[0]
	assert.Equal(t, "block-101-20250310", first.ID)
	assert.Equal(t, "Math / Physics", first.Title)
	assert.Equal(t, "A1, Lab", first.Location)
	assert.Equal(t, "Teachers: MUE, SCH\nRooms: A1, Lab", first.Description)
	assert.Equal(t, at(0, 8, 0), first.Start)
	assert.Equal(t, at(0, 9, 35), first.End)

	// Empty label sets fall back to the placeholder.
	assert.Equal(t, "Teachers: n/a\nRooms: n/a", events[1].Description)
	assert.Empty(t, events[1].Location)

	// The cancelled lesson is not mapped.
	assert.Equal(t, "block-105-20250311", events[2].ID)
}

func TestBuildCalendarEvents_Single(t *testing.T) {
	events := engine.BuildCalendarEvents(mappingFixture(), engine.EventOptions{
		Mode:             config.ModeSingle,
		GapMinutes:       10,
		IncludeCancelled: true,
	}, nil)

	require.Len(t, events, 5)
	assert.Equal(t, "101-20250310", events[0].ID)
	assert.Equal(t, "Math", events[0].Title)
	assert.Equal(t, "Teachers: MUE\nClasses: 5a", events[0].Description)
	assert.Equal(t, "A1", events[0].Location)
	assert.Equal(t, "Art", events[3].Title)
}

func TestBuildCalendarEvents_Summary(t *testing.T) {
	events := engine.BuildCalendarEvents(mappingFixture(), engine.EventOptions{
		Mode:       config.ModeSummary,
		GapMinutes: 10,
	}, nil)

	require.Len(t, events, 2)
	assert.Equal(t, "summary-2025-03-10", events[0].ID)
	assert.Equal(t, "Lessons 2025-03-10", events[0].Title)
	assert.Equal(t, "Total lessons: 3\nBreaks: 60 minutes", events[0].Description)
	assert.Equal(t, at(0, 8, 0), events[0].Start)
	assert.Equal(t, at(0, 11, 15), events[0].End)

	assert.Equal(t, "summary-2025-03-11", events[1].ID)
	assert.Equal(t, "Total lessons: 1\nBreaks: 0 minutes", events[1].Description)
}

func TestBuildCalendarEvents_NeverEmitsBreaks(t *testing.T) {
	for _, mode := range []string{config.ModeSingle, config.ModeBlocks, config.ModeSummary} {
		events := engine.BuildCalendarEvents(mappingFixture(), engine.EventOptions{Mode: mode, GapMinutes: 1}, nil)
		for _, ev := range events {
			assert.False(t, strings.HasPrefix(ev.ID, config.IDPrefixBreak), "mode %s emitted %s", mode, ev.ID)
		}
	}
}

type upperPhrases struct{ engine.FallbackPhrasebook }

func (upperPhrases) DayTitle(day time.Time) string { return "DAY " + day.Format("02.01.") }

func TestBuildCalendarEvents_UsesPhrasebook(t *testing.T) {
	events := engine.BuildCalendarEvents(mappingFixture(), engine.EventOptions{Mode: config.ModeSummary}, upperPhrases{})
	require.NotEmpty(t, events)
	assert.Equal(t, "DAY 10.03.", events[0].Title)
}

func TestEncodeICS(t *testing.T) {
	stamp := time.Date(2025, 3, 10, 5, 0, 0, 0, time.UTC)
	events := engine.BuildCalendarEvents(mappingFixture(), engine.EventOptions{Mode: config.ModeBlocks, GapMinutes: 10}, nil)

	data, err := engine.EncodeICS(events, "Timetable", stamp)
	require.NoError(t, err)

	ics := string(data)
	assert.Contains(t, ics, "BEGIN:VCALENDAR")
	assert.Contains(t, ics, "X-WR-CALNAME:Timetable")
	assert.Contains(t, ics, "UID:block-101-20250310@untis-sync")
	assert.Contains(t, ics, "SUMMARY:Math / Physics")
	// 08:00 Berlin (CET) is 07:00 UTC.
	assert.Contains(t, ics, "DTSTART:20250310T070000Z")
	assert.Equal(t, 3, strings.Count(ics, "BEGIN:VEVENT"))
}

func TestEncodeICS_Empty(t *testing.T) {
	data, err := engine.EncodeICS(nil, "Timetable", time.Now())
	require.NoError(t, err)
	assert.Contains(t, string(data), "BEGIN:VCALENDAR")
	assert.Contains(t, string(data), "END:VCALENDAR")
	assert.NotContains(t, string(data), "VEVENT")
}
