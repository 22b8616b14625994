package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bluepicking/fulfillment-service/internal/domain"
	apperrors "github.com/bluepicking/fulfillment-service/pkg/errors"
)

type OrderRepository struct {
	collection *mongo.Collection
}

func NewOrderRepository(db *mongo.Database) *OrderRepository {
	repo := &OrderRepository{collection: db.Collection("orders")}
	repo.ensureIndexes(context.Background())
	return repo
}

func (r *OrderRepository) ensureIndexes(ctx context.Context) {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "remoteId", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
		{Keys: bson.D{{Key: "externalRef", Value: 1}}},
		{Keys: bson.D{{Key: "remoteName", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "syncedAt", Value: -1}}},
	}
	r.collection.Indexes().CreateMany(ctx, indexes)
}

// Upsert stores a freshly synced order. When a document already exists
// for the same remote id or external reference, the incoming order
// replaces it but keeps the local id, the prepared quantities recorded
// on matching lines and the validation lock.
func (r *OrderRepository) Upsert(ctx context.Context, order *domain.Order) (string, error) {
	existing, err := r.findMatch(ctx, order)
	if err != nil {
		return "", err
	}

	now := time.Now()
	order.SyncedAt = now
	order.UpdatedAt = now

	if existing == nil {
		if order.ID.IsZero() {
			order.ID = primitive.NewObjectID()
		}
		if _, err := r.collection.InsertOne(ctx, order); err != nil {
			return "", fmt.Errorf("failed to insert order: %w", err)
		}
		return order.ID.Hex(), nil
	}

	order.ID = existing.ID
	if order.ExternalRef == "" {
		order.ExternalRef = existing.ExternalRef
	}
	if existing.PickingValidatedAt != nil {
		order.PickingValidatedAt = existing.PickingValidatedAt
	}
	order.CarryPreparedFrom(existing.Lines)

	if _, err := r.collection.ReplaceOne(ctx, bson.M{"_id": existing.ID}, order); err != nil {
		return "", fmt.Errorf("failed to replace order: %w", err)
	}
	return order.ID.Hex(), nil
}

func (r *OrderRepository) findMatch(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	clauses := make([]bson.M, 0, 2)
	if order.RemoteID != 0 {
		clauses = append(clauses, bson.M{"remoteId": order.RemoteID})
	}
	if order.ExternalRef != "" {
		clauses = append(clauses, bson.M{"externalRef": order.ExternalRef})
	}
	if len(clauses) == 0 {
		return nil, nil
	}

	var existing domain.Order
	err := r.collection.FindOne(ctx, bson.M{"$or": clauses}).Decode(&existing)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to match order: %w", err)
	}
	return &existing, nil
}

// Save replaces an already stored order after a local mutation.
func (r *OrderRepository) Save(ctx context.Context, order *domain.Order) error {
	if order.ID.IsZero() {
		return apperrors.ErrValidation("order has no local id")
	}
	order.UpdatedAt = time.Now()

	result, err := r.collection.ReplaceOne(ctx, bson.M{"_id": order.ID}, order)
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	if result.MatchedCount == 0 {
		return apperrors.ErrNotFound("order " + order.ID.Hex())
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, apperrors.ErrValidation("invalid order id")
	}

	var order domain.Order
	err = r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&order)
	if err == mongo.ErrNoDocuments {
		return nil, apperrors.ErrNotFound("order " + id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// FindByRef matches the external reference first, then the remote
// display name.
func (r *OrderRepository) FindByRef(ctx context.Context, ref string) (*domain.Order, error) {
	var order domain.Order
	err := r.collection.FindOne(ctx, bson.M{"$or": []bson.M{
		{"externalRef": ref},
		{"remoteName": ref},
	}}).Decode(&order)
	if err == mongo.ErrNoDocuments {
		return nil, apperrors.ErrNotFound("order " + ref)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepository) FindByRemoteID(ctx context.Context, remoteID int64) (*domain.Order, error) {
	var order domain.Order
	err := r.collection.FindOne(ctx, bson.M{"remoteId": remoteID}).Decode(&order)
	if err == mongo.ErrNoDocuments {
		return nil, apperrors.ErrNotFound(fmt.Sprintf("order remote id %d", remoteID))
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}
