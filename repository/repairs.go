package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoRepairJournal struct {
	client *mongo.Client
	dbName string
}

func NewMongoRepairJournal(client *mongo.Client, dbName string) *MongoRepairJournal {
	return &MongoRepairJournal{client: client, dbName: dbName}
}

func (j *MongoRepairJournal) col() *mongo.Collection {
	return j.client.Database(j.dbName).Collection(repairsCollection)
}

func (j *MongoRepairJournal) Add(ctx context.Context, p PendingCreate) error {
	preparePending(&p)
	if _, err := j.col().InsertOne(ctx, p); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("journal repair %s: %w", p.ID.Hex(), ErrDuplicate)
		}
		return fmt.Errorf("journal repair: %w", err)
	}
	return nil
}

func (j *MongoRepairJournal) Pending(ctx context.Context) ([]PendingCreate, error) {
	cursor, err := j.col().Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find repairs: %w", err)
	}
	defer cursor.Close(ctx)

	pending := []PendingCreate{}
	if err := cursor.All(ctx, &pending); err != nil {
		return nil, fmt.Errorf("decode repairs: %w", err)
	}
	return pending, nil
}

func (j *MongoRepairJournal) RecordAttempt(ctx context.Context, id primitive.ObjectID, cause error) error {
	set := bson.M{"updatedAt": time.Now().UTC()}
	if cause != nil {
		set["lastError"] = cause.Error()
	}
	res, err := j.col().UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$inc": bson.M{"attempts": 1},
		"$set": set,
	})
	if err != nil {
		return fmt.Errorf("record repair attempt: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (j *MongoRepairJournal) Resolve(ctx context.Context, id primitive.ObjectID) error {
	if _, err := j.col().DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("resolve repair %s: %w", id.Hex(), err)
	}
	return nil
}

func preparePending(p *PendingCreate) {
	now := time.Now().UTC()
	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
}

type MemoryRepairJournal struct {
	mu      sync.Mutex
	pending map[primitive.ObjectID]PendingCreate
}

func NewMemoryRepairJournal() *MemoryRepairJournal {
	return &MemoryRepairJournal{pending: make(map[primitive.ObjectID]PendingCreate)}
}

func (j *MemoryRepairJournal) Add(_ context.Context, p PendingCreate) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	preparePending(&p)
	if _, exists := j.pending[p.ID]; exists {
		return fmt.Errorf("journal repair %s: %w", p.ID.Hex(), ErrDuplicate)
	}
	p.Event = p.Event.Clone()
	j.pending[p.ID] = p
	return nil
}

func (j *MemoryRepairJournal) Pending(context.Context) ([]PendingCreate, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]PendingCreate, 0, len(j.pending))
	for _, p := range j.pending {
		p.Event = p.Event.Clone()
		out = append(out, p)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

func (j *MemoryRepairJournal) RecordAttempt(_ context.Context, id primitive.ObjectID, cause error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	p, ok := j.pending[id]
	if !ok {
		return ErrNotFound
	}
	p.Attempts++
	if cause != nil {
		p.LastError = cause.Error()
	}
	p.UpdatedAt = time.Now().UTC()
	j.pending[id] = p
	return nil
}

func (j *MemoryRepairJournal) Resolve(_ context.Context, id primitive.ObjectID) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.pending, id)
	return nil
}
