package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
	"github.com/tartampluch/go-untis-sync/internal/atomicfile"
	"github.com/tartampluch/go-untis-sync/internal/config"
	"github.com/tartampluch/go-untis-sync/internal/engine"
)

// LocalProvider keeps the timetable in an iCalendar file on disk.
// Like a device calendar it has no native id addressing: managed events are recognized by a
// marker line appended to their description.
type LocalProvider struct {
	Path  string
	Title string
	Clock engine.Clock

	mu  sync.Mutex
	cal *ical.Calendar
}

// NewLocalProvider creates a provider for the configured calendar file.
func NewLocalProvider(cfg config.LocalSettings) *LocalProvider {
	return &LocalProvider{Path: cfg.Path, Title: cfg.Name, Clock: engine.RealClock{}}
}

func (p *LocalProvider) Name() string { return config.ProviderLocal }

// Authenticate resolves the calendar file, creating an empty calendar when it does not exist yet.
func (p *LocalProvider) Authenticate(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.load(ctx)
}

// FindExisting searches events starting within w widened by config.MarkerSearchPadding
// for the marker of id.
func (p *LocalProvider) FindExisting(ctx context.Context, w engine.Window, id string) (*engine.RemoteEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.load(ctx); err != nil {
		return nil, err
	}

	padded := engine.Window{
		From: w.From.Add(-config.MarkerSearchPadding),
		To:   w.To.Add(config.MarkerSearchPadding),
	}
	for _, remote := range p.managed(padded) {
		if remote.SyncID == id {
			return &remote, nil
		}
	}
	return nil, nil
}

// Create appends a new event with a random UID.
func (p *LocalProvider) Create(ctx context.Context, ev engine.CalendarEvent) (engine.RemoteEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.load(ctx); err != nil {
		return engine.RemoteEvent{}, err
	}

	uid := uuid.NewString()
	children := append(slices.Clone(p.cal.Children), p.toComponent(uid, ev))
	if err := p.commit(children); err != nil {
		return engine.RemoteEvent{}, err
	}
	return remoteFrom(uid, ev), nil
}

// Update replaces the event with the given UID in place.
func (p *LocalProvider) Update(ctx context.Context, remoteID string, ev engine.CalendarEvent) (engine.RemoteEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.load(ctx); err != nil {
		return engine.RemoteEvent{}, err
	}

	i := p.indexOf(remoteID)
	if i < 0 {
		return engine.RemoteEvent{}, fmt.Errorf("%s: %s", config.ErrEventNotFound, remoteID)
	}
	children := slices.Clone(p.cal.Children)
	children[i] = p.toComponent(remoteID, ev)
	if err := p.commit(children); err != nil {
		return engine.RemoteEvent{}, err
	}
	return remoteFrom(remoteID, ev), nil
}

// Delete removes the event with the given UID. Unknown UIDs are ignored.
func (p *LocalProvider) Delete(ctx context.Context, remoteID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.load(ctx); err != nil {
		return err
	}

	i := p.indexOf(remoteID)
	if i < 0 {
		return nil
	}
	return p.commit(slices.Delete(slices.Clone(p.cal.Children), i, i+1))
}

// ListManaged returns every marked event starting within w.
func (p *LocalProvider) ListManaged(ctx context.Context, w engine.Window) ([]engine.RemoteEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.load(ctx); err != nil {
		return nil, err
	}
	return p.managed(w), nil
}

// load reads the calendar file once. Callers must hold p.mu.
func (p *LocalProvider) load(ctx context.Context) error {
	if p.cal != nil {
		return nil
	}
	if p.Path == "" {
		return errors.New(config.ErrLocalPathEmpty)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.Open(p.Path)
	if errors.Is(err, fs.ErrNotExist) {
		p.cal = engine.NewCalendar(p.Title)
		if err := p.save(); err != nil {
			p.cal = nil
			return err
		}
		slog.Info(config.MsgCalendarCreated,
			config.LogKeyComponent, config.CompProvider,
			config.LogKeyFile, p.Path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", config.ErrCalendarLoad, err)
	}
	defer func() { _ = f.Close() }()

	cal, err := ical.NewDecoder(f).Decode()
	if errors.Is(err, io.EOF) {
		p.cal = engine.NewCalendar(p.Title)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", config.ErrCalendarLoad, err)
	}
	p.cal = cal
	return nil
}

// commit installs children and saves. A failed save restores the previous children so the
// cache never holds events that are not on disk. Callers must hold p.mu.
func (p *LocalProvider) commit(children []*ical.Component) error {
	prev := p.cal.Children
	p.cal.Children = children
	if err := p.save(); err != nil {
		p.cal.Children = prev
		return err
	}
	return nil
}

// save writes the calendar atomically. Callers must hold p.mu.
func (p *LocalProvider) save() error {
	data, err := engine.EncodeCalendar(p.cal)
	if err != nil {
		return fmt.Errorf("%s: %w", config.ErrCalendarSave, err)
	}
	if err := atomicfile.Write(p.Path, data, config.FilePermUserRW, config.DirPermUserRWX); err != nil {
		return fmt.Errorf("%s: %w", config.ErrCalendarSave, err)
	}
	return nil
}

func (p *LocalProvider) toComponent(uid string, ev engine.CalendarEvent) *ical.Component {
	var clock engine.Clock = engine.RealClock{}
	if p.Clock != nil {
		clock = p.Clock
	}
	ev.Description = withMarker(ev.Description, ev.ID)
	return engine.NewEvent(uid, ev, clock.Now()).Component
}

func (p *LocalProvider) indexOf(uid string) int {
	for i, child := range p.cal.Children {
		if child.Name != ical.CompEvent {
			continue
		}
		if v, err := child.Props.Text(config.PropUID); err == nil && v == uid {
			return i
		}
	}
	return -1
}

// managed lists marked events whose start lies within w.
func (p *LocalProvider) managed(w engine.Window) []engine.RemoteEvent {
	var out []engine.RemoteEvent
	for _, event := range p.cal.Events() {
		desc, _ := event.Props.Text(config.PropDescription)
		id, ok := markerID(desc)
		if !ok {
			continue
		}
		start, err := event.DateTimeStart(time.UTC)
		if err != nil || start.Before(w.From) || start.After(w.To) {
			continue
		}
		end, _ := event.DateTimeEnd(time.UTC)
		uid, _ := event.Props.Text(config.PropUID)
		title, _ := event.Props.Text(config.PropSummary)
		out = append(out, engine.RemoteEvent{
			RemoteID: uid,
			SyncID:   id,
			Title:    title,
			Start:    start,
			End:      end,
		})
	}
	return out
}

func remoteFrom(uid string, ev engine.CalendarEvent) engine.RemoteEvent {
	return engine.RemoteEvent{RemoteID: uid, SyncID: ev.ID, Title: ev.Title, Start: ev.Start, End: ev.End}
}

// withMarker appends the sync marker line to desc.
func withMarker(desc, id string) string {
	marker := config.SyncMarkerPrefix + id
	if desc == "" {
		return marker
	}
	return desc + "\n\n" + marker
}

// markerID extracts the sync id from the last marker line of desc.
func markerID(desc string) (string, bool) {
	i := strings.LastIndex(desc, config.SyncMarkerPrefix)
	if i < 0 {
		return "", false
	}
	id := strings.TrimSpace(desc[i+len(config.SyncMarkerPrefix):])
	if j := strings.IndexAny(id, "\r\n"); j >= 0 {
		id = id[:j]
	}
	return id, id != ""
}
