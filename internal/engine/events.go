package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/tartampluch/go-untis-sync/internal/config"
)

// EventOptions selects the projection used for calendar events.
// Breaks are display only and are never mapped.
type EventOptions struct {
	Mode             string
	GapMinutes       int
	IncludeCancelled bool
}

// Phrasebook renders the human readable parts of calendar events.
// The locale package provides a translated implementation.
type Phrasebook interface {
	DayTitle(day time.Time) string
	DayDescription(lessons, breakMinutes int) string
	BlockDetails(teachers, rooms []string) string
	LessonDetails(teachers, classes []string) string
}

// FallbackPhrasebook renders untranslated English text.
type FallbackPhrasebook struct{}

func (FallbackPhrasebook) DayTitle(day time.Time) string {
	return fmt.Sprintf(config.FallbackDayTitle, day.Format(config.FallbackDateLayout))
}

func (FallbackPhrasebook) DayDescription(lessons, breakMinutes int) string {
	return fmt.Sprintf(config.FallbackDayDesc, lessons, breakMinutes)
}

func (FallbackPhrasebook) BlockDetails(teachers, rooms []string) string {
	return fmt.Sprintf(config.FallbackTeachersRooms,
		JoinLabels(teachers, config.FallbackNone), JoinLabels(rooms, config.FallbackNone))
}

func (FallbackPhrasebook) LessonDetails(teachers, classes []string) string {
	return fmt.Sprintf(config.FallbackTeachersClass,
		JoinLabels(teachers, config.FallbackNone), JoinLabels(classes, config.FallbackNone))
}

// JoinLabels joins labels for display, returning placeholder for an empty list.
func JoinLabels(labels []string, placeholder string) string {
	if len(labels) == 0 {
		return placeholder
	}
	return strings.Join(labels, config.LabelJoin)
}

// BuildCalendarEvents projects lessons into provider payloads using the same filtering,
// ordering and mode dispatch as BuildViewModel. A nil phrasebook falls back to English.
func BuildCalendarEvents(lessons []Lesson, opts EventOptions, phrases Phrasebook) []CalendarEvent {
	if phrases == nil {
		phrases = FallbackPhrasebook{}
	}
	entries := BuildViewModel(lessons, ViewOptions{
		Mode:             opts.Mode,
		GapMinutes:       opts.GapMinutes,
		IncludeCancelled: opts.IncludeCancelled,
	})

	events := make([]CalendarEvent, 0, len(entries))
	for _, entry := range entries {
		switch entry.Kind {
		case KindSummary:
			s := entry.Summary
			events = append(events, CalendarEvent{
				ID:          SanitizeEventID(s.ID),
				Title:       phrases.DayTitle(s.Start),
				Description: phrases.DayDescription(s.LessonCount, s.BreakMinutes),
				Start:       s.Start,
				End:         s.End,
			})
		case KindBlock:
			b := entry.Block
			events = append(events, CalendarEvent{
				ID:          SanitizeEventID(b.ID),
				Title:       strings.Join(b.Subjects, config.SubjectJoin),
				Description: phrases.BlockDetails(b.Teachers, b.Rooms),
				Location:    strings.Join(b.Rooms, config.LabelJoin),
				Start:       b.Start,
				End:         b.End,
			})
		case KindLesson:
			l := entry.Lesson
			events = append(events, CalendarEvent{
				ID:          SanitizeEventID(l.ID),
				Title:       l.Subject,
				Description: phrases.LessonDetails(l.Teachers, l.Classes),
				Location:    strings.Join(l.Rooms, config.LabelJoin),
				Start:       l.Start,
				End:         l.End,
			})
		case KindBreak:
			// never requested above
		}
	}
	return events
}

// SanitizeEventID lower-cases id, collapses every run of characters outside [a-z0-9]
// into a single separator and caps the result at config.MaxEventIDLength bytes.
func SanitizeEventID(id string) string {
	var b strings.Builder
	b.Grow(len(id))

	inRun := false
	for _, r := range strings.ToLower(id) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			inRun = false
			continue
		}
		if !inRun {
			b.WriteString(config.EventIDSeparator)
			inRun = true
		}
	}

	out := b.String()
	if len(out) > config.MaxEventIDLength {
		out = out[:config.MaxEventIDLength]
	}
	return out
}
