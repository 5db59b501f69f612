package engine

import (
	"bytes"
	"fmt"
	"time"

	"github.com/emersion/go-ical"
	"github.com/tartampluch/go-untis-sync/internal/config"
)

// NewCalendar returns an empty VCALENDAR carrying the standard headers.
func NewCalendar(name string) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(config.PropVersion, config.ICalVersion)
	cal.Props.SetText(config.PropProdid, config.ICalProdid)
	cal.Props.SetText(config.PropXWRCalName, name)
	cal.Props.SetText(config.PropCalScale, config.ICalScale)
	cal.Props.SetText(config.PropMethod, config.ICalMethod)

	// RFC 7986
	refresh := ical.NewProp(config.PropRefresh)
	refresh.SetDuration(config.DefaultICalRefresh)
	cal.Props.Set(refresh)
	return cal
}

// EncodeCalendar serializes cal. A calendar without components is written as a minimal
// stub so clients never see an invalid feed.
func EncodeCalendar(cal *ical.Calendar) ([]byte, error) {
	var buf bytes.Buffer
	if len(cal.Children) == 0 {
		name, _ := cal.Props.Text(config.PropXWRCalName)
		fmt.Fprintf(&buf, config.StubVCalendarFormat, name)
		return buf.Bytes(), nil
	}
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("%s: %w", config.ErrICalEncode, err)
	}
	return buf.Bytes(), nil
}

// NewEvent converts a calendar event into a VEVENT with the given UID.
// All instants are written in UTC.
func NewEvent(uid string, ev CalendarEvent, stamp time.Time) *ical.Event {
	event := ical.NewEvent()
	event.Props.SetText(config.PropUID, uid)
	event.Props.SetDateTime(config.PropDTStamp, stamp.UTC())
	event.Props.SetDateTime(config.PropDTStart, ev.Start.UTC())
	event.Props.SetDateTime(config.PropDTEnd, ev.End.UTC())
	event.Props.SetText(config.PropSummary, ev.Title)
	if ev.Description != "" {
		event.Props.SetText(config.PropDescription, ev.Description)
	}
	if ev.Location != "" {
		event.Props.SetText(config.PropLocation, ev.Location)
	}
	return event
}

// EncodeICS renders events as a published iCalendar feed.
func EncodeICS(events []CalendarEvent, name string, stamp time.Time) ([]byte, error) {
	cal := NewCalendar(name)
	for _, ev := range events {
		uid := fmt.Sprintf(config.ICalUIDFormat, ev.ID)
		cal.Children = append(cal.Children, NewEvent(uid, ev, stamp).Component)
	}
	return EncodeCalendar(cal)
}
