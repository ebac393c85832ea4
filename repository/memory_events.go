package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	models "github.com/phillip/shared-calendar/models"
	"github.com/phillip/shared-calendar/recurrence"
)

// MemoryEventRepository keeps events in a map. It backs STORAGE=memory and
// the tests.
type MemoryEventRepository struct {
	mu     sync.RWMutex
	txMu   sync.Mutex
	events map[primitive.ObjectID]models.Event
	loc    *time.Location
	noTx   bool
}

type MemoryOption func(*MemoryEventRepository)

// WithoutTransactions makes WithTransaction return ErrTransactionsUnsupported,
// like a standalone mongod.
func WithoutTransactions() MemoryOption {
	return func(r *MemoryEventRepository) { r.noTx = true }
}

func NewMemoryEventRepository(loc *time.Location, opts ...MemoryOption) *MemoryEventRepository {
	if loc == nil {
		loc = time.Local
	}
	r := &MemoryEventRepository{
		events: make(map[primitive.ObjectID]models.Event),
		loc:    loc,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *MemoryEventRepository) FindInWindow(_ context.Context, start, end time.Time, includePrivate bool) ([]models.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []models.Event{}
	for _, ev := range r.events {
		if !includePrivate && ev.Visibility == models.VisibilityPrivate {
			continue
		}
		if inWindow(ev, start, end) {
			out = append(out, ev.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID.Hex() < out[j].ID.Hex()
	})
	return out, nil
}

// inWindow mirrors the Mongo window filter.
func inWindow(ev models.Event, start, end time.Time) bool {
	if !ev.Date.Before(start) && !ev.Date.After(end) {
		return true
	}
	if !ev.RecursWeekly || !ev.Date.Before(start) {
		return false
	}
	endDate := ev.RecursionDetails.EndDate
	return endDate == nil || !endDate.Before(start)
}

func (r *MemoryEventRepository) FindByID(_ context.Context, id primitive.ObjectID) (*models.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ev, ok := r.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := ev.Clone()
	return &out, nil
}

func (r *MemoryEventRepository) Create(_ context.Context, ev *models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !ev.ID.IsZero() {
		if _, exists := r.events[ev.ID]; exists {
			return fmt.Errorf("insert event %s: %w", ev.ID.Hex(), ErrDuplicate)
		}
	}
	prepareForInsert(ev)
	r.events[ev.ID] = ev.Clone()
	return nil
}

func (r *MemoryEventRepository) PatchSeries(_ context.Context, id primitive.ObjectID, patch recurrence.SeriesPatch) (*models.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	ev := stored.Clone()
	if patch.Changes != nil {
		patch.Changes.ApplyTo(&ev, r.loc)
	}
	if day, ok := patch.EndDate.Get(); ok {
		end := day.EndOfDay(r.loc)
		ev.RecursionDetails.EndDate = &end
	}
	if day, ok := patch.AddException.Get(); ok {
		exception := day.Time(r.loc)
		present := false
		for _, ex := range ev.RecursionDetails.Exceptions {
			if ex.Equal(exception) {
				present = true
				break
			}
		}
		if !present {
			ev.RecursionDetails.Exceptions = append(ev.RecursionDetails.Exceptions, exception)
		}
	}
	ev.UpdatedAt = time.Now().UTC()
	r.events[id] = ev

	out := ev.Clone()
	return &out, nil
}

func (r *MemoryEventRepository) RestoreRecursion(_ context.Context, id primitive.ObjectID, details models.RecursionDetails) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev, ok := r.events[id]
	if !ok {
		return ErrNotFound
	}
	restored := models.Event{RecursionDetails: details}.Clone()
	ev.RecursionDetails = restored.RecursionDetails
	ev.UpdatedAt = time.Now().UTC()
	r.events[id] = ev
	return nil
}

func (r *MemoryEventRepository) Delete(_ context.Context, id primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.events[id]; !ok {
		return ErrNotFound
	}
	delete(r.events, id)
	return nil
}

func (r *MemoryEventRepository) ImageReferenced(_ context.Context, url string, exclude primitive.ObjectID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, ev := range r.events {
		if id == exclude {
			continue
		}
		for _, img := range ev.Images {
			if img == url {
				return true, nil
			}
		}
	}
	return false, nil
}

// WithTransaction serializes transactions and restores a snapshot of the
// whole store when fn fails. Writes made outside a transaction while one is
// running are lost on rollback.
func (r *MemoryEventRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.noTx {
		return ErrTransactionsUnsupported
	}
	r.txMu.Lock()
	defer r.txMu.Unlock()

	snapshot := r.snapshot()
	if err := fn(ctx); err != nil {
		r.mu.Lock()
		r.events = snapshot
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *MemoryEventRepository) snapshot() map[primitive.ObjectID]models.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[primitive.ObjectID]models.Event, len(r.events))
	for id, ev := range r.events {
		out[id] = ev.Clone()
	}
	return out
}

// Len reports how many records are stored.
func (r *MemoryEventRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}
