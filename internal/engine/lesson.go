package engine

import "time"

// Lesson is one scheduled teaching period as delivered by the timetable source.
type Lesson struct {
	// ID combines the source lesson number and its date so it stays unique across days.
	ID        string    `json:"id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	DateKey   string    `json:"date_key"` // yyyy-mm-dd of Start in the configured zone
	Subject   string    `json:"subject"`
	Teachers  []string  `json:"teachers"`
	Rooms     []string  `json:"rooms"`
	Classes   []string  `json:"classes"`
	Cancelled bool      `json:"cancelled"`
}

// Block is a maximal run of lessons whose gaps stay within the merge tolerance.
type Block struct {
	ID          string    `json:"id"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Subjects    []string  `json:"subjects"`
	Rooms       []string  `json:"rooms"`
	Teachers    []string  `json:"teachers"`
	LessonCount int       `json:"lesson_count"`
}

// DaySummary aggregates all lessons sharing a date key.
type DaySummary struct {
	ID           string    `json:"id"`
	DateKey      string    `json:"date_key"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	LessonCount  int       `json:"lesson_count"`
	BreakMinutes int       `json:"break_minutes"`
}

// Break is idle time between two consecutive view entries. Display only.
type Break struct {
	ID      string    `json:"id"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Minutes int       `json:"minutes"`
}

// EntryKind tags the payload of a ViewEntry.
type EntryKind string

const (
	KindLesson  EntryKind = "lesson"
	KindBlock   EntryKind = "block"
	KindSummary EntryKind = "summary"
	KindBreak   EntryKind = "break"
)

// ViewEntry is one element of the ordered view model.
// Exactly one payload pointer matching Kind is set.
type ViewEntry struct {
	Kind    EntryKind   `json:"kind"`
	Lesson  *Lesson     `json:"lesson,omitempty"`
	Block   *Block      `json:"block,omitempty"`
	Summary *DaySummary `json:"summary,omitempty"`
	Break   *Break      `json:"break,omitempty"`
}

// ID returns the identity of the wrapped payload.
func (e ViewEntry) ID() string {
	switch e.Kind {
	case KindLesson:
		return e.Lesson.ID
	case KindBlock:
		return e.Block.ID
	case KindSummary:
		return e.Summary.ID
	case KindBreak:
		return e.Break.ID
	}
	panic("engine: unknown view entry kind " + string(e.Kind))
}

// Start returns the start instant of the wrapped payload.
func (e ViewEntry) Start() time.Time {
	switch e.Kind {
	case KindLesson:
		return e.Lesson.Start
	case KindBlock:
		return e.Block.Start
	case KindSummary:
		return e.Summary.Start
	case KindBreak:
		return e.Break.Start
	}
	panic("engine: unknown view entry kind " + string(e.Kind))
}

// End returns the end instant of the wrapped payload.
func (e ViewEntry) End() time.Time {
	switch e.Kind {
	case KindLesson:
		return e.Lesson.End
	case KindBlock:
		return e.Block.End
	case KindSummary:
		return e.Summary.End
	case KindBreak:
		return e.Break.End
	}
	panic("engine: unknown view entry kind " + string(e.Kind))
}

// CalendarEvent describes the desired state of one remote calendar event.
// It is rebuilt on every run and never mutated afterwards.
type CalendarEvent struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// RemoteEvent is the provider-side view of an event managed by this tool.
type RemoteEvent struct {
	RemoteID string
	SyncID   string // Sanitized CalendarEvent.ID the remote event was written for.
	Title    string
	Start    time.Time
	End      time.Time
}

// Window is a closed time range.
type Window struct {
	From time.Time
	To   time.Time
}
