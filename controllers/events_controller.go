package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/mo"
	"go.mongodb.org/mongo-driver/bson/primitive"

	models "github.com/phillip/shared-calendar/models"
	"github.com/phillip/shared-calendar/recurrence"
	"github.com/phillip/shared-calendar/services"
	utils "github.com/phillip/shared-calendar/utils"
)

// maxWindowDays bounds how much a single list request may expand.
const maxWindowDays = 400

// ---------------- CREATE ----------------
func CreateEvent(svc *services.CalendarService, images utils.ImageStore, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		loc := svc.Location()

		// --- Bind JSON or form fields ---
		var input createEventInput
		if err := c.ShouldBind(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		event, err := input.toEvent(loc)
		if err != nil {
			respondError(c, log, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
		defer cancel()

		// --- Handle file uploads ---
		form, err := c.MultipartForm()
		if err != nil && !errors.Is(err, http.ErrNotMultipart) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid form data"})
			return
		}
		if form != nil && len(form.File["images"]) > 0 {
			if images == nil {
				respondError(c, log, utils.ErrImagesDisabled)
				return
			}
			for _, fileHeader := range form.File["images"] {
				file, err := fileHeader.Open()
				if err != nil {
					c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open file"})
					return
				}
				url, err := images.Upload(ctx, file, fileHeader.Filename)
				file.Close()
				if err != nil {
					log.Error("image upload failed", "file", fileHeader.Filename, "error", err)
					c.JSON(http.StatusInternalServerError, gin.H{
						"error": "image upload failed",
						"file":  fileHeader.Filename,
					})
					return
				}
				event.Images = append(event.Images, url)
			}
		}

		// --- Save event ---
		if err := svc.Create(ctx, &event); err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"event": event})
	}
}

// ---------------- LIST ----------------
func ListEvents(svc *services.CalendarService, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		window, err := parseWindow(c, svc.Location())
		if err != nil {
			respondError(c, log, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()

		viewer := viewerFrom(c)
		occs, err := svc.Occurrences(ctx, viewer, window)
		if err != nil {
			respondError(c, log, err)
			return
		}
		if occs == nil {
			occs = []models.Occurrence{}
		}

		// --- ETag over the expanded window ---
		etag := utils.WindowETag(window.String()+"|"+string(viewer.Role), occs)
		if match := c.GetHeader("If-None-Match"); match != "" && match == etag {
			c.Status(http.StatusNotModified)
			return
		}
		c.Header("ETag", etag)
		if latest := utils.LastModified(occs); !latest.IsZero() {
			c.Header("Last-Modified", latest.UTC().Format(http.TimeFormat))
		}

		c.JSON(http.StatusOK, gin.H{"events": occs})
	}
}

// ---------------- GET ----------------
func GetEvent(svc *services.CalendarService, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		occ, err := svc.Occurrence(ctx, viewerFrom(c), c.Param("id"))
		if err != nil {
			respondError(c, log, err)
			return
		}

		// --- Stored records get a per-record ETag ---
		if id, err := primitive.ObjectIDFromHex(occ.ID); err == nil {
			etag := utils.GenerateETag(id, occ.UpdatedAt)
			if match := c.GetHeader("If-None-Match"); match != "" && match == etag {
				c.Status(http.StatusNotModified)
				return
			}
			c.Header("ETag", etag)
		}

		c.JSON(http.StatusOK, gin.H{"event": occ})
	}
}

// ---------------- UPDATE ----------------
func UpdateEvent(svc *services.CalendarService, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input updateEventInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		changes, err := input.toChanges(svc.Location())
		if err != nil {
			respondError(c, log, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()

		result, err := svc.Edit(ctx, c.Param("id"), c.Query("choice"), changes)
		if err != nil {
			respondError(c, log, err)
			return
		}

		event := result.Created
		if event == nil {
			event = result.Updated
		}
		c.JSON(http.StatusOK, gin.H{
			"event":   event,
			"updated": result.Updated,
			"created": result.Created,
		})
	}
}

// ---------------- DELETE ----------------
func DeleteEvent(svc *services.CalendarService, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()

		if _, err := svc.Delete(ctx, c.Param("id"), c.Query("choice")); err != nil {
			respondError(c, log, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// ---------------- INPUT ----------------

type createEventInput struct {
	Title        string            `json:"title" form:"title" binding:"required"`
	Date         string            `json:"date" form:"date" binding:"required"`
	Time         *models.EventTime `json:"time" form:"-"`
	StartTime    string            `json:"-" form:"startTime"`
	EndTime      string            `json:"-" form:"endTime"`
	Visibility   models.Visibility `json:"visibility" form:"visibility"`
	RecursWeekly bool              `json:"recursWeekly" form:"recursWeekly"`
	Recursion    struct {
		EndDate    string   `json:"endDate"`
		Exceptions []string `json:"exceptions"`
	} `json:"recursionDetails" form:"-"`
	EndDate     string   `json:"-" form:"endDate"`
	Location    string   `json:"location" form:"location"`
	Description string   `json:"description" form:"description"`
	Images      []string `json:"images" form:"-"`
}

func (in createEventInput) toEvent(loc *time.Location) (models.Event, error) {
	day, err := parseDayValue(in.Date, loc)
	if err != nil {
		return models.Event{}, err
	}
	event := models.Event{
		Title:        strings.TrimSpace(in.Title),
		Date:         day.Time(loc),
		Time:         in.Time,
		Visibility:   in.Visibility,
		RecursWeekly: in.RecursWeekly,
		Location:     in.Location,
		Description:  in.Description,
		Images:       in.Images,
	}

	if in.StartTime != "" || in.EndTime != "" {
		t := models.EventTime{}
		if t.Start, err = parseClock(in.StartTime); err != nil {
			return models.Event{}, err
		}
		if t.End, err = parseClock(in.EndTime); err != nil {
			return models.Event{}, err
		}
		event.Time = &t
	}

	endDate := in.Recursion.EndDate
	if endDate == "" {
		endDate = in.EndDate
	}
	if endDate != "" {
		d, err := parseDayValue(endDate, loc)
		if err != nil {
			return models.Event{}, err
		}
		end := d.EndOfDay(loc)
		event.RecursionDetails.EndDate = &end
	}
	for _, raw := range in.Recursion.Exceptions {
		d, err := parseDayValue(raw, loc)
		if err != nil {
			return models.Event{}, err
		}
		event.RecursionDetails.Exceptions = append(event.RecursionDetails.Exceptions, d.Time(loc))
	}
	return event, nil
}

// updateEventInput tells "absent" from "null": a null time or end date clears it.
type updateEventInput struct {
	Title        *string            `json:"title"`
	Date         *string            `json:"date"`
	Time         json.RawMessage    `json:"time"`
	Visibility   *models.Visibility `json:"visibility"`
	RecursWeekly *bool              `json:"recursWeekly"`
	Recursion    *struct {
		EndDate json.RawMessage `json:"endDate"`
	} `json:"recursionDetails"`
	Location        *string   `json:"location"`
	Description     *string   `json:"description"`
	Images          *[]string `json:"images"`
	CarryExceptions bool      `json:"carryExceptions"`
}

var jsonNull = []byte("null")

func (in updateEventInput) toChanges(loc *time.Location) (recurrence.EventChanges, error) {
	changes := recurrence.EventChanges{
		Title:           mo.PointerToOption(in.Title),
		Visibility:      mo.PointerToOption(in.Visibility),
		RecursWeekly:    mo.PointerToOption(in.RecursWeekly),
		Location:        mo.PointerToOption(in.Location),
		Description:     mo.PointerToOption(in.Description),
		Images:          mo.PointerToOption(in.Images),
		CarryExceptions: in.CarryExceptions,
	}
	if in.Date != nil {
		d, err := parseDayValue(*in.Date, loc)
		if err != nil {
			return changes, err
		}
		changes.Date = mo.Some(d)
	}

	switch {
	case len(in.Time) == 0:
	case bytes.Equal(in.Time, jsonNull):
		changes.ClearTime = true
	default:
		var t models.EventTime
		if err := json.Unmarshal(in.Time, &t); err != nil {
			return changes, fmt.Errorf("%w: time: %v", services.ErrInvalidInput, err)
		}
		changes.Time = mo.Some(t)
	}

	if in.Recursion != nil {
		switch raw := in.Recursion.EndDate; {
		case len(raw) == 0:
		case bytes.Equal(raw, jsonNull):
			changes.ClearEndDate = true
		default:
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return changes, fmt.Errorf("%w: endDate: %v", services.ErrInvalidInput, err)
			}
			d, err := parseDayValue(s, loc)
			if err != nil {
				return changes, err
			}
			changes.EndDate = mo.Some(d)
		}
	}
	return changes, nil
}

// ---------------- HELPERS ----------------

// parseDayValue accepts YYYY-MM-DD or an RFC 3339 timestamp, whose calendar
// day is taken in loc.
func parseDayValue(s string, loc *time.Location) (recurrence.Day, error) {
	s = strings.TrimSpace(s)
	if d, err := recurrence.ParseDay(s); err == nil {
		return d, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return recurrence.DayOf(t, loc), nil
	}
	return 0, fmt.Errorf("%w: invalid date %q, use YYYY-MM-DD or RFC3339", services.ErrInvalidInput, s)
}

// parseClock turns "HH:MM" into an [hour, minute] pair.
func parseClock(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid time %q, use HH:MM", services.ErrInvalidInput, s)
	}
	return []int{t.Hour(), t.Minute()}, nil
}

func parseWindow(c *gin.Context, loc *time.Location) (services.Window, error) {
	if start, end := c.Query("start"), c.Query("end"); start != "" || end != "" {
		from, err := parseDayValue(start, loc)
		if err != nil {
			return services.Window{}, err
		}
		to, err := parseDayValue(end, loc)
		if err != nil {
			return services.Window{}, err
		}
		if to < from {
			return services.Window{}, fmt.Errorf("%w: %s > %s", recurrence.ErrInvalidWindow, from, to)
		}
		if int(to-from) > maxWindowDays {
			return services.Window{}, fmt.Errorf("%w: window longer than %d days", services.ErrInvalidInput, maxWindowDays)
		}
		return services.Window{Start: from, End: to}, nil
	}

	now := time.Now().In(loc)
	year, month := now.Year(), int(now.Month())
	var err error
	if raw := c.Query("year"); raw != "" {
		if year, err = strconv.Atoi(raw); err != nil {
			return services.Window{}, fmt.Errorf("%w: year must be a number", services.ErrInvalidInput)
		}
	}
	if raw := c.Query("month"); raw != "" {
		if month, err = strconv.Atoi(raw); err != nil {
			return services.Window{}, fmt.Errorf("%w: month must be a number", services.ErrInvalidInput)
		}
	}
	return services.MonthWindow(year, month)
}
