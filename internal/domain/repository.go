package domain

import (
	"context"
)

// OrderRepository defines the interface for order persistence
type OrderRepository interface {
	// Upsert persists a freshly synced order, matching an existing
	// document by remote id or external reference. Prepared quantities
	// on existing lines survive the replacement. Returns the local id.
	Upsert(ctx context.Context, order *Order) (string, error)

	// Save replaces an already stored order after a local mutation
	Save(ctx context.Context, order *Order) error

	// FindByID retrieves an order by its local id
	FindByID(ctx context.Context, id string) (*Order, error)

	// FindByRef retrieves an order matching the reference against the
	// external reference or the remote display name
	FindByRef(ctx context.Context, ref string) (*Order, error)

	// FindByRemoteID retrieves an order by its remote system id
	FindByRemoteID(ctx context.Context, remoteID int64) (*Order, error)
}

// FulfillmentRecordRepository defines the interface for the shipment
// document mirror
type FulfillmentRecordRepository interface {
	// Upsert persists a mirrored shipment document by remote id
	Upsert(ctx context.Context, record *FulfillmentRecord) error

	// FindByOrigin retrieves records whose origin matches any of the
	// given order references
	FindByOrigin(ctx context.Context, refs []string) ([]*FulfillmentRecord, error)

	// List retrieves mirrored records, optionally filtered by state
	List(ctx context.Context, state PickingState, limit, offset int64) ([]*FulfillmentRecord, error)
}
