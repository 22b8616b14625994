package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event types raised by the Order aggregate.
const (
	EventOrderSynced       = "fulfillment.order.synced"
	EventShipmentValidated = "fulfillment.shipment.validated"
	EventBackorderCreated  = "fulfillment.backorder.created"
)

// DomainEvent represents a domain event
type DomainEvent interface {
	EventType() string
	OccurredAt() time.Time
	AggregateID() string
}

// BaseDomainEvent contains common event fields
type BaseDomainEvent struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	AggregateId string    `json:"aggregateId"`
	Timestamp   time.Time `json:"timestamp"`
}

func (e BaseDomainEvent) EventType() string     { return e.Type }
func (e BaseDomainEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseDomainEvent) AggregateID() string   { return e.AggregateId }

// OrderSyncedEvent is raised when a remote order has been mirrored
// into local storage.
type OrderSyncedEvent struct {
	BaseDomainEvent
	ExternalRef string `json:"externalRef"`
	RemoteID    int64  `json:"remoteId"`
	Status      string `json:"status"`
	LineCount   int    `json:"lineCount"`
}

// NewOrderSyncedEvent creates a new OrderSyncedEvent
func NewOrderSyncedEvent(order *Order) *OrderSyncedEvent {
	return &OrderSyncedEvent{
		BaseDomainEvent: BaseDomainEvent{
			ID:          uuid.New().String(),
			Type:        EventOrderSynced,
			AggregateId: order.ExternalRef,
			Timestamp:   time.Now().UTC(),
		},
		ExternalRef: order.ExternalRef,
		RemoteID:    order.RemoteID,
		Status:      order.Status,
		LineCount:   len(order.Lines),
	}
}

// ShipmentValidatedEvent is raised when a remote shipment has been
// validated after a quantity push.
type ShipmentValidatedEvent struct {
	BaseDomainEvent
	ExternalRef     string `json:"externalRef"`
	PickingRemoteID int64  `json:"pickingRemoteId"`
	Partial         bool   `json:"partial"`
}

// NewShipmentValidatedEvent creates a new ShipmentValidatedEvent
func NewShipmentValidatedEvent(order *Order, pickingRemoteID int64, partial bool) *ShipmentValidatedEvent {
	return &ShipmentValidatedEvent{
		BaseDomainEvent: BaseDomainEvent{
			ID:          uuid.New().String(),
			Type:        EventShipmentValidated,
			AggregateId: order.ExternalRef,
			Timestamp:   time.Now().UTC(),
		},
		ExternalRef:     order.ExternalRef,
		PickingRemoteID: pickingRemoteID,
		Partial:         partial,
	}
}

// BackorderCreatedEvent is raised when the remainder of a partial
// shipment was accepted as a new backorder document.
type BackorderCreatedEvent struct {
	BaseDomainEvent
	ExternalRef     string `json:"externalRef"`
	PickingRemoteID int64  `json:"pickingRemoteId"`
}

// NewBackorderCreatedEvent creates a new BackorderCreatedEvent
func NewBackorderCreatedEvent(order *Order, pickingRemoteID int64) *BackorderCreatedEvent {
	return &BackorderCreatedEvent{
		BaseDomainEvent: BaseDomainEvent{
			ID:          uuid.New().String(),
			Type:        EventBackorderCreated,
			AggregateId: order.ExternalRef,
			Timestamp:   time.Now().UTC(),
		},
		ExternalRef:     order.ExternalRef,
		PickingRemoteID: pickingRemoteID,
	}
}
