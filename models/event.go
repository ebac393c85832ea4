package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// EventTime holds optional start/end clock times as [hour, minute] pairs.
type EventTime struct {
	Start []int `bson:"start,omitempty" json:"start,omitempty"`
	End   []int `bson:"end,omitempty" json:"end,omitempty"`
}

// StartMinute returns the start as minutes after midnight. ok is false when
// no start time is set.
func (t *EventTime) StartMinute() (minute int, ok bool) {
	if t == nil || len(t.Start) == 0 {
		return 0, false
	}
	return t.Start[0]*60 + t.Start[1], true
}

// RecursionDetails is only meaningful when the owning event recurs weekly.
type RecursionDetails struct {
	EndDate    *time.Time  `bson:"endDate,omitempty" json:"endDate,omitempty"`
	Exceptions []time.Time `bson:"exceptions,omitempty" json:"exceptions,omitempty"`
}

// Event is the persisted base record: a one-off event or a whole weekly series.
type Event struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Title            string             `bson:"title" json:"title"`
	Date             time.Time          `bson:"date" json:"date"`
	Time             *EventTime         `bson:"time,omitempty" json:"time,omitempty"`
	Visibility       Visibility         `bson:"visibility" json:"visibility"`
	RecursWeekly     bool               `bson:"recursWeekly" json:"recursWeekly"`
	RecursionDetails RecursionDetails   `bson:"recursionDetails" json:"recursionDetails"`
	Location         string             `bson:"location,omitempty" json:"location,omitempty"`
	Description      string             `bson:"description,omitempty" json:"description,omitempty"`
	Images           []string           `bson:"images,omitempty" json:"images,omitempty"`
	CreatedAt        time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// Clone returns a deep copy so callers can hand events out without sharing
// slices or pointers with the original.
func (e Event) Clone() Event {
	out := e
	if e.Time != nil {
		t := EventTime{
			Start: append([]int(nil), e.Time.Start...),
			End:   append([]int(nil), e.Time.End...),
		}
		out.Time = &t
	}
	if e.RecursionDetails.EndDate != nil {
		end := *e.RecursionDetails.EndDate
		out.RecursionDetails.EndDate = &end
	}
	out.RecursionDetails.Exceptions = append([]time.Time(nil), e.RecursionDetails.Exceptions...)
	out.Images = append([]string(nil), e.Images...)
	return out
}

// Occurrence is one calendar appearance of an event. It is computed on every
// read and never stored.
type Occurrence struct {
	ID               string           `json:"id"`
	BaseEventID      string           `json:"baseEventId,omitempty"`
	IsRecurrence     bool             `json:"isRecurrence,omitempty"`
	Date             time.Time        `json:"date"`
	Time             *EventTime       `json:"time,omitempty"`
	Title            string           `json:"title"`
	Visibility       Visibility       `json:"visibility"`
	RecursWeekly     bool             `json:"recursWeekly"`
	RecursionDetails RecursionDetails `json:"recursionDetails"`
	Location         string           `json:"location,omitempty"`
	Description      string           `json:"description,omitempty"`
	Images           []string         `json:"images,omitempty"`
	CreatedAt        time.Time        `json:"createdAt,omitempty"`
	UpdatedAt        time.Time        `json:"updatedAt,omitempty"`

	// BaseEvent is a read-only copy of the series record, set on synthetic
	// occurrences only.
	BaseEvent *Event `json:"baseEvent,omitempty"`
}
