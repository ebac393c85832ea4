package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/phillip/shared-calendar/logger"
	models "github.com/phillip/shared-calendar/models"
	"github.com/phillip/shared-calendar/repository"
)

func pendingFor(title string) repository.PendingCreate {
	return repository.PendingCreate{
		BaseID: primitive.NewObjectID(),
		Event: models.Event{
			ID:    primitive.NewObjectID(),
			Title: title,
			Date:  time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		},
	}
}

func TestSplitRepairer_RunOnceCreatesAndResolves(t *testing.T) {
	ctx := context.Background()
	events := repository.NewMemoryEventRepository(time.UTC)
	journal := repository.NewMemoryRepairJournal()
	p := pendingFor("split")
	require.NoError(t, journal.Add(ctx, p))

	r := NewSplitRepairer(events, journal, logger.Discard())
	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := events.FindByID(ctx, p.Event.ID)
	require.NoError(t, err)
	assert.Equal(t, "split", got.Title)

	left, err := journal.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, left)

	// Running again is a no-op.
	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, events.Len())
}

func TestSplitRepairer_DuplicateCountsAsRepaired(t *testing.T) {
	ctx := context.Background()
	events := repository.NewMemoryEventRepository(time.UTC)
	journal := repository.NewMemoryRepairJournal()
	p := pendingFor("already there")

	landed := p.Event.Clone()
	require.NoError(t, events.Create(ctx, &landed))
	require.NoError(t, journal.Add(ctx, p))

	n, err := NewSplitRepairer(events, journal, logger.Discard()).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, events.Len())
}

func TestSplitRepairer_RecordsFailedAttempts(t *testing.T) {
	ctx := context.Background()
	events := new(repository.MockEventRepository)
	journal := repository.NewMemoryRepairJournal()
	p := pendingFor("stuck")
	require.NoError(t, journal.Add(ctx, p))

	events.On("Create", mock.Anything, mock.Anything).Return(errors.New("db down"))

	r := NewSplitRepairer(events, journal, logger.Discard())
	for i := 0; i < 3; i++ {
		n, err := r.RunOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	}

	left, err := journal.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, 3, left[0].Attempts)
	assert.Equal(t, "db down", left[0].LastError)
}

func TestSplitRepairer_StartRejectsBadSchedule(t *testing.T) {
	r := NewSplitRepairer(repository.NewMemoryEventRepository(time.UTC), repository.NewMemoryRepairJournal(), logger.Discard())
	assert.Error(t, r.Start("not a schedule"))

	require.NoError(t, r.Start("@every 1h"))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r.Stop(ctx)
}
