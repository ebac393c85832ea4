// Package ics renders stored events as an iCalendar feed. Weekly series are
// written once with an RRULE and their exception days as EXDATE, so calendar
// clients expand them the same way the API does.
package ics

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"

	models "github.com/phillip/shared-calendar/models"
	"github.com/phillip/shared-calendar/recurrence"
)

const (
	defaultProductID = "-//shared-calendar//feed//EN"
	uidDomain        = "shared-calendar"
)

type Exporter struct {
	Location  *time.Location
	ProductID string
	Name      string
	Logger    *slog.Logger
}

func (x Exporter) location() *time.Location {
	if x.Location == nil {
		return time.Local
	}
	return x.Location
}

// Calendar builds a VCALENDAR holding one VEVENT per valid record.
func (x Exporter) Calendar(events []models.Event) *ical.Calendar {
	cal := ical.NewCalendar()
	productID := x.ProductID
	if productID == "" {
		productID = defaultProductID
	}
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Props.SetText(ical.PropVersion, "2.0")
	if x.Name != "" {
		cal.Props.SetText(ical.PropName, x.Name)
	}

	stamp := time.Now().UTC()
	for i := range events {
		if err := recurrence.Validate(&events[i]); err != nil {
			if x.Logger != nil {
				x.Logger.Warn("skipping event in feed", "id", events[i].ID.Hex(), "error", err)
			}
			continue
		}
		cal.Children = append(cal.Children, x.event(events[i], stamp).Component)
	}
	return cal
}

// Write encodes the calendar for events to w.
func (x Exporter) Write(w io.Writer, events []models.Event) error {
	if err := ical.NewEncoder(w).Encode(x.Calendar(events)); err != nil {
		return fmt.Errorf("encode ics: %w", err)
	}
	return nil
}

func (x Exporter) event(ev models.Event, stamp time.Time) *ical.Event {
	loc := x.location()
	anchor := recurrence.DayOf(ev.Date, loc)

	out := ical.NewEvent()
	out.Props.SetText(ical.PropUID, ev.ID.Hex()+"@"+uidDomain)
	out.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
	out.Props.SetText(ical.PropSummary, ev.Title)
	if ev.Location != "" {
		out.Props.SetText(ical.PropLocation, ev.Location)
	}
	if ev.Description != "" {
		out.Props.SetText(ical.PropDescription, ev.Description)
	}
	if ev.Visibility == models.VisibilityPrivate {
		out.Props.SetText(ical.PropClass, "PRIVATE")
	} else {
		out.Props.SetText(ical.PropClass, "PUBLIC")
	}
	if !ev.UpdatedAt.IsZero() {
		out.Props.SetDateTime(ical.PropLastModified, ev.UpdatedAt.UTC())
	}

	startMinute, timed := ev.Time.StartMinute()
	if timed {
		out.Props.SetDateTime(ical.PropDateTimeStart, at(anchor, startMinute, loc))
		if end, ok := endMinute(ev.Time); ok {
			endAt := at(anchor, end, loc)
			if end < startMinute {
				endAt = at(anchor.AddDays(1), end, loc)
			}
			out.Props.SetDateTime(ical.PropDateTimeEnd, endAt)
		}
	} else {
		out.Props.SetDate(ical.PropDateTimeStart, anchor.Time(time.UTC))
		out.Props.SetDate(ical.PropDateTimeEnd, anchor.AddDays(1).Time(time.UTC))
	}

	if !ev.RecursWeekly {
		return out
	}

	rule := &rrule.ROption{Freq: rrule.WEEKLY}
	if end := ev.RecursionDetails.EndDate; end != nil {
		rule.Until = recurrence.DayOf(*end, loc).EndOfDay(loc).UTC()
	}
	out.Props.SetRecurrenceRule(rule)

	for _, ex := range ev.RecursionDetails.Exceptions {
		day := recurrence.DayOf(ex, loc)
		prop := ical.NewProp(ical.PropExceptionDates)
		if timed {
			prop.SetDateTime(at(day, startMinute, loc))
		} else {
			prop.SetDate(day.Time(time.UTC))
		}
		out.Props.Add(prop)
	}
	return out
}

func endMinute(t *models.EventTime) (int, bool) {
	if t == nil || len(t.End) != 2 {
		return 0, false
	}
	return t.End[0]*60 + t.End[1], true
}

// at is the UTC instant of a clock time on day in loc.
func at(day recurrence.Day, minute int, loc *time.Location) time.Time {
	midnight := day.Time(loc)
	return time.Date(midnight.Year(), midnight.Month(), midnight.Day(), minute/60, minute%60, 0, 0, loc).UTC()
}
