package engine

import (
	"fmt"
	"slices"
	"time"

	"github.com/tartampluch/go-untis-sync/internal/config"
)

// ViewOptions selects how lessons are presented.
type ViewOptions struct {
	Mode             string // config.ModeSingle, config.ModeBlocks or config.ModeSummary
	GapMinutes       int    // Merge tolerance for blocks and threshold for breaks.
	IncludeCancelled bool
	IncludeBreaks    bool
}

// BuildViewModel filters, orders and reshapes lessons into the sequence shown to the user.
// Summary mode never receives break entries: summaries already carry their idle time.
func BuildViewModel(lessons []Lesson, opts ViewOptions) []ViewEntry {
	filtered := prepareLessons(lessons, opts.IncludeCancelled)

	var entries []ViewEntry
	switch opts.Mode {
	case config.ModeSummary:
		summaries := SummarizeDays(filtered)
		entries = make([]ViewEntry, 0, len(summaries))
		for i := range summaries {
			entries = append(entries, ViewEntry{Kind: KindSummary, Summary: &summaries[i]})
		}
		return entries

	case config.ModeSingle:
		entries = make([]ViewEntry, 0, len(filtered))
		for i := range filtered {
			entries = append(entries, ViewEntry{Kind: KindLesson, Lesson: &filtered[i]})
		}

	default:
		blocks := GroupIntoBlocks(filtered, opts.GapMinutes)
		entries = make([]ViewEntry, 0, len(blocks))
		for i := range blocks {
			entries = append(entries, ViewEntry{Kind: KindBlock, Block: &blocks[i]})
		}
	}

	if opts.IncludeBreaks {
		return InjectBreaks(entries, opts.GapMinutes)
	}
	return entries
}

// prepareLessons drops cancelled lessons (unless requested) and sorts by start.
// The input slice is never reordered.
func prepareLessons(lessons []Lesson, includeCancelled bool) []Lesson {
	out := make([]Lesson, 0, len(lessons))
	for _, l := range lessons {
		if l.Cancelled && !includeCancelled {
			continue
		}
		out = append(out, l)
	}
	slices.SortStableFunc(out, func(a, b Lesson) int {
		return a.Start.Compare(b.Start)
	})
	return out
}

// GroupIntoBlocks merges time-ascending lessons into contiguous blocks.
// A lesson joins the current block when it starts at most gapMinutes after the block ends
// (overlapping and nested lessons always join). gapMinutes is clamped to at least 1.
func GroupIntoBlocks(lessons []Lesson, gapMinutes int) []Block {
	if len(lessons) == 0 {
		return []Block{}
	}
	maxGap := max(gapMinutes, 1)

	blocks := []Block{newBlock(lessons[0])}
	for _, lesson := range lessons[1:] {
		current := &blocks[len(blocks)-1]
		if minutesBetween(current.End, lesson.Start) <= maxGap {
			if lesson.End.After(current.End) {
				current.End = lesson.End
			}
			current.Subjects = appendUnique(current.Subjects, lesson.Subject)
			current.Rooms = appendUnique(current.Rooms, lesson.Rooms...)
			current.Teachers = appendUnique(current.Teachers, lesson.Teachers...)
			current.LessonCount++
			continue
		}
		blocks = append(blocks, newBlock(lesson))
	}
	return blocks
}

func newBlock(lesson Lesson) Block {
	return Block{
		ID:          config.IDPrefixBlock + lesson.ID,
		Start:       lesson.Start,
		End:         lesson.End,
		Subjects:    []string{lesson.Subject},
		Rooms:       appendUnique(nil, lesson.Rooms...),
		Teachers:    appendUnique(nil, lesson.Teachers...),
		LessonCount: 1,
	}
}

// SummarizeDays collapses lessons into one summary per date key, ordered by start.
// Break minutes only count positive gaps between a lesson and the span seen so far,
// so overlapping or nested lessons add no idle time.
func SummarizeDays(lessons []Lesson) []DaySummary {
	summaries := make([]DaySummary, 0)
	index := make(map[string]int)

	for _, lesson := range lessons {
		i, ok := index[lesson.DateKey]
		if !ok {
			index[lesson.DateKey] = len(summaries)
			summaries = append(summaries, DaySummary{
				ID:          config.IDPrefixSummary + lesson.DateKey,
				DateKey:     lesson.DateKey,
				Start:       lesson.Start,
				End:         lesson.End,
				LessonCount: 1,
			})
			continue
		}

		s := &summaries[i]
		if gap := minutesBetween(s.End, lesson.Start); gap > 0 {
			s.BreakMinutes += gap
		}
		if lesson.End.After(s.End) {
			s.End = lesson.End
		}
		s.LessonCount++
	}

	slices.SortStableFunc(summaries, func(a, b DaySummary) int {
		return a.Start.Compare(b.Start)
	})
	return summaries
}

// InjectBreaks returns a copy of entries with a Break spliced between every adjacent pair
// whose gap exceeds minGap minutes (clamped to at least 1).
func InjectBreaks(entries []ViewEntry, minGap int) []ViewEntry {
	if len(entries) <= 1 {
		return entries
	}
	threshold := max(minGap, 1)

	out := make([]ViewEntry, 0, len(entries)*2-1)
	for i, current := range entries {
		out = append(out, current)
		if i == len(entries)-1 {
			break
		}
		next := entries[i+1]
		end, start := current.End(), next.Start()
		if gap := minutesBetween(end, start); gap > threshold {
			out = append(out, ViewEntry{Kind: KindBreak, Break: &Break{
				ID:      fmt.Sprintf("%s%d-%d", config.IDPrefixBreak, end.UnixMilli(), start.UnixMilli()),
				Start:   end,
				End:     start,
				Minutes: gap,
			}})
		}
	}
	return out
}

// minutesBetween returns whole minutes from a to b, truncated toward zero.
func minutesBetween(a, b time.Time) int {
	return int(b.Sub(a) / time.Minute)
}

// appendUnique appends the values not already present in dst, keeping first-seen order.
func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		if !slices.Contains(dst, v) {
			dst = append(dst, v)
		}
	}
	return dst
}
