package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	models "github.com/phillip/shared-calendar/models"
	"github.com/phillip/shared-calendar/recurrence"
)

type MongoEventRepository struct {
	client       *mongo.Client
	dbName       string
	loc          *time.Location
	transactions bool
	log          *slog.Logger
}

// NewMongoEventRepository stores events in the "events" collection. Set
// transactions to false for standalone servers, which cannot run them.
func NewMongoEventRepository(client *mongo.Client, dbName string, loc *time.Location, transactions bool, log *slog.Logger) *MongoEventRepository {
	return &MongoEventRepository{
		client:       client,
		dbName:       dbName,
		loc:          loc,
		transactions: transactions,
		log:          log,
	}
}

func (r *MongoEventRepository) col() *mongo.Collection {
	return r.client.Database(r.dbName).Collection(eventsCollection)
}

func windowFilter(start, end time.Time, includePrivate bool) bson.M {
	filter := bson.M{
		"$or": bson.A{
			bson.M{"date": bson.M{"$gte": start, "$lte": end}},
			bson.M{
				"recursWeekly": true,
				"date":         bson.M{"$lt": start},
				"$or": bson.A{
					bson.M{"recursionDetails.endDate": bson.M{"$exists": false}},
					bson.M{"recursionDetails.endDate": nil},
					bson.M{"recursionDetails.endDate": bson.M{"$gte": start}},
				},
			},
		},
	}
	if !includePrivate {
		filter["visibility"] = bson.M{"$ne": models.VisibilityPrivate}
	}
	return filter
}

func (r *MongoEventRepository) FindInWindow(ctx context.Context, start, end time.Time, includePrivate bool) ([]models.Event, error) {
	cursor, err := r.col().Find(ctx, windowFilter(start, end, includePrivate),
		options.Find().SetSort(bson.D{{Key: "date", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find events: %w", err)
	}
	defer cursor.Close(ctx)

	events := []models.Event{}
	for cursor.Next(ctx) {
		var ev models.Event
		if err := cursor.Decode(&ev); err != nil {
			// One bad document must not hide the rest of the month.
			r.log.Warn("skipping undecodable event document",
				"id", cursor.Current.Lookup("_id").String(),
				"error", err,
			)
			continue
		}
		events = append(events, ev)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func (r *MongoEventRepository) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Event, error) {
	var ev models.Event
	err := r.col().FindOne(ctx, bson.M{"_id": id}).Decode(&ev)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find event %s: %w", id.Hex(), err)
	}
	return &ev, nil
}

func (r *MongoEventRepository) Create(ctx context.Context, ev *models.Event) error {
	prepareForInsert(ev)
	if _, err := r.col().InsertOne(ctx, ev); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("insert event %s: %w", ev.ID.Hex(), ErrDuplicate)
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (r *MongoEventRepository) PatchSeries(ctx context.Context, id primitive.ObjectID, patch recurrence.SeriesPatch) (*models.Event, error) {
	set := bson.M{"updatedAt": time.Now().UTC()}
	unset := bson.M{}
	if patch.Changes != nil {
		changesToUpdate(*patch.Changes, r.loc, set, unset)
	}
	if day, ok := patch.EndDate.Get(); ok {
		set["recursionDetails.endDate"] = day.EndOfDay(r.loc)
		delete(unset, "recursionDetails.endDate")
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	if day, ok := patch.AddException.Get(); ok {
		update["$addToSet"] = bson.M{"recursionDetails.exceptions": day.Time(r.loc)}
	}

	var updated models.Event
	err := r.col().FindOneAndUpdate(ctx, bson.M{"_id": id}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&updated)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("patch event %s: %w", id.Hex(), err)
	}
	return &updated, nil
}

func (r *MongoEventRepository) RestoreRecursion(ctx context.Context, id primitive.ObjectID, details models.RecursionDetails) error {
	res, err := r.col().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"recursionDetails": details,
		"updatedAt":        time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("restore recursion of %s: %w", id.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoEventRepository) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := r.col().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete event %s: %w", id.Hex(), err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoEventRepository) ImageReferenced(ctx context.Context, url string, exclude primitive.ObjectID) (bool, error) {
	n, err := r.col().CountDocuments(ctx,
		bson.M{"images": url, "_id": bson.M{"$ne": exclude}},
		options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("count image references: %w", err)
	}
	return n > 0, nil
}

func (r *MongoEventRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if !r.transactions {
		return ErrTransactionsUnsupported
	}
	session, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	if isTransactionsUnsupported(err) {
		r.log.Warn("mongo deployment cannot run transactions, falling back", "error", err)
		return fmt.Errorf("%w: %v", ErrTransactionsUnsupported, err)
	}
	return err
}

// isTransactionsUnsupported matches the IllegalOperation error a standalone
// mongod returns for transaction numbers.
func isTransactionsUnsupported(err error) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code == 20 || cmdErr.HasErrorMessage("Transaction numbers are only allowed")
	}
	return false
}

// prepareForInsert fills the id, timestamps and default visibility.
func prepareForInsert(ev *models.Event) {
	now := time.Now().UTC()
	if ev.ID.IsZero() {
		ev.ID = primitive.NewObjectID()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	ev.UpdatedAt = now
	if ev.Visibility == "" {
		ev.Visibility = models.VisibilityPublic
	}
}

func changesToUpdate(c recurrence.EventChanges, loc *time.Location, set, unset bson.M) {
	if v, ok := c.Title.Get(); ok {
		set["title"] = v
	}
	if d, ok := c.Date.Get(); ok {
		set["date"] = d.Time(loc)
	}
	if c.ClearTime {
		unset["time"] = ""
	}
	if v, ok := c.Time.Get(); ok {
		set["time"] = v
		delete(unset, "time")
	}
	if v, ok := c.Visibility.Get(); ok {
		set["visibility"] = v
	}
	if v, ok := c.RecursWeekly.Get(); ok {
		set["recursWeekly"] = v
	}
	if c.ClearEndDate {
		unset["recursionDetails.endDate"] = ""
	}
	if d, ok := c.EndDate.Get(); ok {
		set["recursionDetails.endDate"] = d.EndOfDay(loc)
		delete(unset, "recursionDetails.endDate")
	}
	if v, ok := c.Location.Get(); ok {
		set["location"] = v
	}
	if v, ok := c.Description.Get(); ok {
		set["description"] = v
	}
	if v, ok := c.Images.Get(); ok {
		set["images"] = v
	}
}
