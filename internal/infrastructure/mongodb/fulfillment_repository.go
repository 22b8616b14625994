package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bluepicking/fulfillment-service/internal/domain"
)

type FulfillmentRecordRepository struct {
	collection *mongo.Collection
}

func NewFulfillmentRecordRepository(db *mongo.Database) *FulfillmentRecordRepository {
	repo := &FulfillmentRecordRepository{collection: db.Collection("fulfillment_records")}
	repo.ensureIndexes(context.Background())
	return repo
}

func (r *FulfillmentRecordRepository) ensureIndexes(ctx context.Context) {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "remoteId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "origin", Value: 1}}},
		{Keys: bson.D{{Key: "state", Value: 1}}},
		{Keys: bson.D{{Key: "scheduledAt", Value: -1}}},
	}
	r.collection.Indexes().CreateMany(ctx, indexes)
}

// Upsert mirrors a remote shipment document, keyed by its remote id.
func (r *FulfillmentRecordRepository) Upsert(ctx context.Context, record *domain.FulfillmentRecord) error {
	now := time.Now()
	record.SyncedAt = now
	// UpdatedAt carries the remote write_date when the payload had one.
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}

	update := bson.M{
		"$set": bson.M{
			"name":        record.Name,
			"origin":      record.Origin,
			"state":       record.State,
			"scheduledAt": record.ScheduledAt,
			"snapshot":    record.Snapshot,
			"syncedAt":    record.SyncedAt,
			"updatedAt":   record.UpdatedAt,
		},
	}

	opts := options.Update().SetUpsert(true)
	if _, err := r.collection.UpdateOne(ctx, bson.M{"remoteId": record.RemoteID}, update, opts); err != nil {
		return fmt.Errorf("failed to upsert fulfillment record: %w", err)
	}
	return nil
}

func (r *FulfillmentRecordRepository) FindByOrigin(ctx context.Context, refs []string) ([]*domain.FulfillmentRecord, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	opts := options.Find().SetSort(bson.D{{Key: "scheduledAt", Value: -1}})
	cursor, err := r.collection.Find(ctx, bson.M{"origin": bson.M{"$in": refs}}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []*domain.FulfillmentRecord
	err = cursor.All(ctx, &records)
	return records, err
}

func (r *FulfillmentRecordRepository) List(ctx context.Context, state domain.PickingState, limit, offset int64) ([]*domain.FulfillmentRecord, error) {
	filter := bson.M{}
	if state != "" {
		filter["state"] = state
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "scheduledAt", Value: -1}}).
		SetSkip(offset).
		SetLimit(limit)
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []*domain.FulfillmentRecord
	err = cursor.All(ctx, &records)
	return records, err
}
