package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PickingState mirrors the remote shipment document status.
type PickingState string

const (
	StateDraft     PickingState = "draft"
	StateWaiting   PickingState = "waiting"
	StateConfirmed PickingState = "confirmed"
	StateAssigned  PickingState = "assigned"
	StateDone      PickingState = "done"
	StateCancel    PickingState = "cancel"
)

// IsValid checks if the state is one the remote system emits
func (s PickingState) IsValid() bool {
	switch s {
	case StateDraft, StateWaiting, StateConfirmed, StateAssigned, StateDone, StateCancel:
		return true
	default:
		return false
	}
}

// IsOpen reports whether the shipment still accepts allocations.
func (s PickingState) IsOpen() bool {
	return s != StateDone && s != StateCancel
}

// FulfillmentRecord is the local mirror of one remote shipment/delivery
// document. It is linked to an Order only by string-matching Origin
// against the order's references, resolved at query time.
type FulfillmentRecord struct {
	ID          primitive.ObjectID     `bson:"_id,omitempty" json:"id"`
	RemoteID    int64                  `bson:"remoteId" json:"remoteId"`
	Name        string                 `bson:"name" json:"name"`
	Origin      string                 `bson:"origin,omitempty" json:"origin,omitempty"`
	State       PickingState           `bson:"state" json:"state"`
	ScheduledAt *time.Time             `bson:"scheduledAt,omitempty" json:"scheduledAt,omitempty"`
	Snapshot    map[string]interface{} `bson:"snapshot,omitempty" json:"-"`
	SyncedAt    time.Time              `bson:"syncedAt" json:"syncedAt"`
	UpdatedAt   time.Time              `bson:"updatedAt" json:"updatedAt"`
}

// PickingSummary is the slim shipment view embedded in an order's
// remote payload snapshot.
type PickingSummary struct {
	RemoteID int64        `bson:"remoteId" json:"remoteId"`
	Name     string       `bson:"name" json:"name"`
	State    PickingState `bson:"state" json:"state"`
}

// Movement is one product-level demand entry inside a remote shipment
// document. Done is sourced either from the aggregate field or from a
// sum over move lines, depending on the remote schema variant.
type Movement struct {
	MoveID    int64   `json:"moveId"`
	ProductID int64   `json:"productId"`
	Demanded  float64 `json:"demanded"`
	Done      float64 `json:"done"`
}

// Remaining is the movement's unfulfilled demand, floored at zero.
func (m Movement) Remaining() float64 {
	r := m.Demanded - m.Done
	if r < 0 {
		return 0
	}
	return r
}
