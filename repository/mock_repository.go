package repository

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"

	models "github.com/phillip/shared-calendar/models"
	"github.com/phillip/shared-calendar/recurrence"
)

// MockEventRepository implements EventRepository for testing
type MockEventRepository struct {
	mock.Mock
}

func (m *MockEventRepository) FindInWindow(ctx context.Context, start, end time.Time, includePrivate bool) ([]models.Event, error) {
	args := m.Called(ctx, start, end, includePrivate)
	return args.Get(0).([]models.Event), args.Error(1)
}

func (m *MockEventRepository) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Event, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Event), args.Error(1)
}

func (m *MockEventRepository) Create(ctx context.Context, ev *models.Event) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func (m *MockEventRepository) PatchSeries(ctx context.Context, id primitive.ObjectID, patch recurrence.SeriesPatch) (*models.Event, error) {
	args := m.Called(ctx, id, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Event), args.Error(1)
}

func (m *MockEventRepository) RestoreRecursion(ctx context.Context, id primitive.ObjectID, details models.RecursionDetails) error {
	args := m.Called(ctx, id, details)
	return args.Error(0)
}

func (m *MockEventRepository) Delete(ctx context.Context, id primitive.ObjectID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockEventRepository) ImageReferenced(ctx context.Context, url string, exclude primitive.ObjectID) (bool, error) {
	args := m.Called(ctx, url, exclude)
	return args.Bool(0), args.Error(1)
}

// WithTransaction runs fn when the expectation returns nil, so the calls made
// inside it are checked too.
func (m *MockEventRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	args := m.Called(ctx)
	if err := args.Error(0); err != nil {
		return err
	}
	return fn(ctx)
}

// MockRepairJournal implements RepairJournal for testing
type MockRepairJournal struct {
	mock.Mock
}

func (m *MockRepairJournal) Add(ctx context.Context, p PendingCreate) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockRepairJournal) Pending(ctx context.Context) ([]PendingCreate, error) {
	args := m.Called(ctx)
	return args.Get(0).([]PendingCreate), args.Error(1)
}

func (m *MockRepairJournal) RecordAttempt(ctx context.Context, id primitive.ObjectID, cause error) error {
	args := m.Called(ctx, id, cause)
	return args.Error(0)
}

func (m *MockRepairJournal) Resolve(ctx context.Context, id primitive.ObjectID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
