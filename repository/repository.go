package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	models "github.com/phillip/shared-calendar/models"
	"github.com/phillip/shared-calendar/recurrence"
)

const (
	eventsCollection  = "events"
	usersCollection   = "users"
	repairsCollection = "split_repairs"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate key")
	// ErrTransactionsUnsupported is returned by WithTransaction when the
	// backend cannot run multi-document transactions.
	ErrTransactionsUnsupported = errors.New("transactions not supported")
)

// EventRepository persists base event records.
type EventRepository interface {
	// FindInWindow returns every record that can produce an occurrence in
	// [start, end]: records dated inside the window plus weekly series
	// anchored earlier whose end date is unset or not before start.
	FindInWindow(ctx context.Context, start, end time.Time, includePrivate bool) ([]models.Event, error)
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Event, error)
	// Create inserts ev, assigning an id when ev.ID is zero. Inserting an id
	// that already exists returns ErrDuplicate.
	Create(ctx context.Context, ev *models.Event) error
	// PatchSeries applies patch in place and returns the updated record.
	PatchSeries(ctx context.Context, id primitive.ObjectID, patch recurrence.SeriesPatch) (*models.Event, error)
	// RestoreRecursion overwrites the recursion details; used to undo a patch.
	RestoreRecursion(ctx context.Context, id primitive.ObjectID, details models.RecursionDetails) error
	Delete(ctx context.Context, id primitive.ObjectID) error
	// ImageReferenced reports whether any record other than exclude uses url.
	ImageReferenced(ctx context.Context, url string, exclude primitive.ObjectID) (bool, error)
	// WithTransaction runs fn atomically. Repository calls made with the
	// context passed to fn take part in the transaction.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// UserRepository stores login accounts.
type UserRepository interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdatePassword(ctx context.Context, id primitive.ObjectID, hash string) error
	EnsureIndexes(ctx context.Context) error
}

// PendingCreate is a split-off record whose insert failed after its base
// patch could not be rolled back.
type PendingCreate struct {
	ID        primitive.ObjectID `bson:"_id" json:"id"`
	BaseID    primitive.ObjectID `bson:"baseId" json:"baseId"`
	Event     models.Event       `bson:"event" json:"event"`
	Attempts  int                `bson:"attempts" json:"attempts"`
	LastError string             `bson:"lastError,omitempty" json:"lastError,omitempty"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// RepairJournal queues pending creates for the split-repair job.
type RepairJournal interface {
	Add(ctx context.Context, p PendingCreate) error
	Pending(ctx context.Context) ([]PendingCreate, error)
	RecordAttempt(ctx context.Context, id primitive.ObjectID, cause error) error
	Resolve(ctx context.Context, id primitive.ObjectID) error
}
