package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	models "github.com/phillip/shared-calendar/models"
	"github.com/phillip/shared-calendar/recurrence"
	"github.com/phillip/shared-calendar/repository"
	utils "github.com/phillip/shared-calendar/utils"
)

var (
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidInput = errors.New("invalid input")
)

// Viewer is the caller on whose behalf events are read.
type Viewer struct {
	UserID string
	Role   models.Role
}

func (v Viewer) IsAdmin() bool { return v.Role == models.RoleAdmin }

// Window is an inclusive range of calendar days.
type Window struct {
	Start recurrence.Day
	End   recurrence.Day
}

// MonthWindow covers every day of the given month.
func MonthWindow(year, month int) (Window, error) {
	if year < 1970 || year > 9999 || month < 1 || month > 12 {
		return Window{}, fmt.Errorf("%w: year %d month %d", ErrInvalidInput, year, month)
	}
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return Window{
		Start: recurrence.DayOf(first, time.UTC),
		End:   recurrence.DayOf(last, time.UTC),
	}, nil
}

func (w Window) String() string { return w.Start.String() + "/" + w.End.String() }

// MutationResult describes what a mutation wrote.
type MutationResult struct {
	Updated *models.Event `json:"updated,omitempty"`
	Created *models.Event `json:"created,omitempty"`
	Deleted bool          `json:"deleted"`
}

// CalendarService reads expanded windows and runs one/future mutations
// against the event repository.
type CalendarService struct {
	events   repository.EventRepository
	journal  repository.RepairJournal
	images   utils.ImageStore
	expander recurrence.Expander
	mutator  recurrence.Mutator
	loc      *time.Location
	log      *slog.Logger
}

// NewCalendarService wires the service. images may be nil when uploads are
// not configured.
func NewCalendarService(events repository.EventRepository, journal repository.RepairJournal, images utils.ImageStore, loc *time.Location, log *slog.Logger) *CalendarService {
	if loc == nil {
		loc = time.Local
	}
	return &CalendarService{
		events:   events,
		journal:  journal,
		images:   images,
		expander: recurrence.Expander{Location: loc, Logger: log},
		mutator:  recurrence.Mutator{Location: loc},
		loc:      loc,
		log:      log,
	}
}

func (s *CalendarService) Location() *time.Location { return s.loc }

// BaseEvents returns the stored records that can appear in w.
func (s *CalendarService) BaseEvents(ctx context.Context, viewer Viewer, w Window) ([]models.Event, error) {
	if w.End < w.Start {
		return nil, fmt.Errorf("%w: %s", recurrence.ErrInvalidWindow, w)
	}
	return s.events.FindInWindow(ctx, w.Start.Time(s.loc), w.End.EndOfDay(s.loc), viewer.IsAdmin())
}

// Occurrences returns the expanded, ordered occurrences visible to viewer in w.
func (s *CalendarService) Occurrences(ctx context.Context, viewer Viewer, w Window) ([]models.Occurrence, error) {
	events, err := s.BaseEvents(ctx, viewer, w)
	if err != nil {
		return nil, err
	}
	return s.expander.Expand(events, w.Start.Time(s.loc), w.End.EndOfDay(s.loc))
}

// Occurrence returns a base record or one synthesized occurrence by id.
func (s *CalendarService) Occurrence(ctx context.Context, viewer Viewer, id string) (*models.Occurrence, error) {
	baseID, day, synthetic, err := parseID(id)
	if err != nil {
		return nil, err
	}
	base, err := s.events.FindByID(ctx, baseID)
	if err != nil {
		return nil, err
	}
	if base.Visibility == models.VisibilityPrivate && !viewer.IsAdmin() {
		return nil, ErrForbidden
	}
	if !synthetic {
		occ := recurrence.BaseOccurrence(*base)
		return &occ, nil
	}

	occs, err := s.expander.Expand([]models.Event{*base}, day.Time(s.loc), day.EndOfDay(s.loc))
	if err != nil {
		return nil, err
	}
	// On the anchor day the series is emitted under its own id.
	anchor := base.RecursWeekly && day == recurrence.DayOf(base.Date, s.loc)
	for i := range occs {
		if occs[i].ID == id || (anchor && occs[i].ID == baseID.Hex()) {
			return &occs[i], nil
		}
	}
	return nil, repository.ErrNotFound
}

// Create validates and stores a new base record.
func (s *CalendarService) Create(ctx context.Context, ev *models.Event) error {
	if ev.Visibility == "" {
		ev.Visibility = models.VisibilityPublic
	}
	if ev.ID.IsZero() {
		ev.ID = primitive.NewObjectID()
	}
	if err := s.checkRecord(ev); err != nil {
		return err
	}
	ev.Date = recurrence.DayOf(ev.Date, s.loc).Time(s.loc)
	if !ev.RecursWeekly {
		ev.RecursionDetails = models.RecursionDetails{}
	}
	if err := s.events.Create(ctx, ev); err != nil {
		return err
	}
	s.log.Info("event created", "id", ev.ID.Hex(), "title", ev.Title, "recurs", ev.RecursWeekly)
	return nil
}

// Edit applies changes to the record or occurrence named by id. An empty
// choice edits the stored record directly.
func (s *CalendarService) Edit(ctx context.Context, id, choice string, changes recurrence.EventChanges) (*MutationResult, error) {
	if changes.Empty() {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidInput)
	}
	if v, ok := changes.Visibility.Get(); ok && !v.Valid() {
		return nil, fmt.Errorf("%w: unknown visibility %q", ErrInvalidInput, v)
	}
	plan, base, err := s.plan(ctx, id, choice,
		func(t recurrence.Target, c recurrence.Choice) (recurrence.Plan, error) {
			return s.mutator.PlanEdit(t, c, changes)
		},
		func(ev models.Event) recurrence.Plan {
			return s.mutator.PlanDirectEdit(ev, changes)
		})
	if err != nil {
		return nil, err
	}
	if err := s.checkEdit(plan, base); err != nil {
		return nil, err
	}
	return s.execute(ctx, plan, base)
}

// checkEdit rejects an edit when any record it would write could not be
// expanded afterwards.
func (s *CalendarService) checkEdit(plan recurrence.Plan, base *models.Event) error {
	if plan.Patch != nil && plan.Patch.Changes != nil {
		patched := base.Clone()
		plan.Patch.Changes.ApplyTo(&patched, s.loc)
		if err := s.checkRecord(&patched); err != nil {
			return err
		}
	}
	if plan.Create != nil {
		created := plan.Create.Clone()
		created.ID = primitive.NewObjectID()
		if err := s.checkRecord(&created); err != nil {
			return err
		}
	}
	return nil
}

func (s *CalendarService) checkRecord(ev *models.Event) error {
	if strings.TrimSpace(ev.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if err := recurrence.Validate(ev); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if end := ev.RecursionDetails.EndDate; ev.RecursWeekly && end != nil &&
		recurrence.DayOf(*end, s.loc) < recurrence.DayOf(ev.Date, s.loc) {
		return fmt.Errorf("%w: %w", ErrInvalidInput, recurrence.ErrEndBeforeStart)
	}
	return nil
}

// Delete removes the record or occurrence named by id. An empty choice
// deletes the stored record, and with it the whole series.
func (s *CalendarService) Delete(ctx context.Context, id, choice string) (*MutationResult, error) {
	plan, base, err := s.plan(ctx, id, choice, s.mutator.PlanDelete, s.mutator.PlanDirectDelete)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, plan, base)
}

func parseID(id string) (primitive.ObjectID, recurrence.Day, bool, error) {
	hex, day, synthetic, err := recurrence.ParseOccurrenceID(id)
	if err != nil {
		return primitive.NilObjectID, 0, false, err
	}
	objID, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, 0, false, fmt.Errorf("%w: %q", recurrence.ErrInvalidOccurrenceID, id)
	}
	return objID, day, synthetic, nil
}

func (s *CalendarService) plan(
	ctx context.Context,
	id, rawChoice string,
	split func(recurrence.Target, recurrence.Choice) (recurrence.Plan, error),
	direct func(models.Event) recurrence.Plan,
) (recurrence.Plan, *models.Event, error) {
	baseID, day, synthetic, err := parseID(id)
	if err != nil {
		return recurrence.Plan{}, nil, err
	}

	var choice recurrence.Choice
	if rawChoice != "" {
		if choice, err = recurrence.ParseChoice(rawChoice); err != nil {
			return recurrence.Plan{}, nil, err
		}
	} else if synthetic {
		return recurrence.Plan{}, nil, fmt.Errorf("%w: a choice is required for occurrence %s", recurrence.ErrUnknownMutationChoice, id)
	}

	base, err := s.events.FindByID(ctx, baseID)
	if err != nil {
		return recurrence.Plan{}, nil, err
	}

	if !synthetic {
		if choice == "" || !base.RecursWeekly {
			return direct(*base), base, nil
		}
		day = recurrence.DayOf(base.Date, s.loc)
	}

	target, err := recurrence.NewTarget(*base, day, s.loc)
	if err != nil {
		return recurrence.Plan{}, nil, err
	}
	plan, err := split(target, choice)
	if err != nil {
		return recurrence.Plan{}, nil, err
	}
	return plan, base, nil
}

func (s *CalendarService) execute(ctx context.Context, plan recurrence.Plan, base *models.Event) (*MutationResult, error) {
	switch {
	case plan.DeleteBase:
		if err := s.events.Delete(ctx, plan.BaseID); err != nil {
			return nil, err
		}
		s.log.Info("event deleted", "id", plan.BaseID.Hex(), "recurs", base.RecursWeekly)
		s.cleanupImages(ctx, base)
		return &MutationResult{Deleted: true}, nil

	case plan.Splits():
		return s.split(ctx, plan, base)

	case plan.Patch != nil:
		updated, err := s.events.PatchSeries(ctx, plan.BaseID, *plan.Patch)
		if err != nil {
			return nil, err
		}
		s.log.Info("event patched", "id", plan.BaseID.Hex())
		return &MutationResult{Updated: updated}, nil

	default:
		return &MutationResult{}, nil
	}
}

// split writes the base patch and the new record together. A transaction is
// used when the repository has one; otherwise the patch is undone when the
// create fails, and the create is journaled when even that fails.
func (s *CalendarService) split(ctx context.Context, plan recurrence.Plan, base *models.Event) (*MutationResult, error) {
	created := plan.Create.Clone()
	created.ID = primitive.NewObjectID()

	result := &MutationResult{}
	err := s.events.WithTransaction(ctx, func(txCtx context.Context) error {
		updated, err := s.events.PatchSeries(txCtx, plan.BaseID, *plan.Patch)
		if err != nil {
			return err
		}
		if err := s.events.Create(txCtx, &created); err != nil {
			return err
		}
		result.Updated = updated
		result.Created = &created
		return nil
	})
	switch {
	case err == nil:
		s.log.Info("series split", "base", plan.BaseID.Hex(), "created", created.ID.Hex(), "mode", "transaction")
		return result, nil
	case !errors.Is(err, repository.ErrTransactionsUnsupported):
		return nil, fmt.Errorf("split series %s: %w", plan.BaseID.Hex(), err)
	}

	snapshot := base.Clone().RecursionDetails
	updated, err := s.events.PatchSeries(ctx, plan.BaseID, *plan.Patch)
	if err != nil {
		return nil, fmt.Errorf("split series %s: %w", plan.BaseID.Hex(), err)
	}

	createErr := s.events.Create(ctx, &created)
	if createErr == nil {
		s.log.Info("series split", "base", plan.BaseID.Hex(), "created", created.ID.Hex(), "mode", "saga")
		return &MutationResult{Updated: updated, Created: &created}, nil
	}

	failure := &recurrence.PartialSplitFailure{PatchApplied: true, Err: createErr}
	restoreErr := s.events.RestoreRecursion(ctx, plan.BaseID, snapshot)
	if restoreErr == nil {
		failure.RolledBack = true
		s.log.Warn("split create failed, base patch rolled back",
			"base", plan.BaseID.Hex(), "error", createErr)
		return nil, failure
	}

	failure.Err = errors.Join(createErr, restoreErr)
	journalErr := s.journal.Add(ctx, repository.PendingCreate{BaseID: plan.BaseID, Event: created})
	if journalErr == nil {
		failure.Journaled = true
	} else {
		failure.Err = errors.Join(failure.Err, journalErr)
	}
	s.log.Error("split left half-applied",
		"base", plan.BaseID.Hex(),
		"pending_id", created.ID.Hex(),
		"journaled", failure.Journaled,
		"error", failure.Err,
	)
	return nil, failure
}

// cleanupImages drops the images of a deleted record that no other record
// still points at. Failures are logged, never returned.
func (s *CalendarService) cleanupImages(ctx context.Context, deleted *models.Event) {
	if s.images == nil || deleted == nil {
		return
	}
	for _, url := range deleted.Images {
		inUse, err := s.events.ImageReferenced(ctx, url, deleted.ID)
		if err != nil {
			s.log.Warn("could not check image references", "url", url, "error", err)
			continue
		}
		if inUse {
			continue
		}
		if err := s.images.Delete(ctx, url); err != nil {
			s.log.Warn("failed to delete image", "url", url, "error", err)
		}
	}
}
