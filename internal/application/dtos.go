package application

import "time"

// OrderDTO represents a mirrored sale order in responses
type OrderDTO struct {
	ID              string         `json:"id"`
	ExternalRef     string         `json:"externalRef"`
	RemoteID        int64          `json:"remoteId,omitempty"`
	RemoteName      string         `json:"remoteName"`
	Status          string         `json:"status"`
	CustomerName    string         `json:"customerName,omitempty"`
	ShippingAddress *AddressDTO    `json:"shippingAddress,omitempty"`
	Lines           []OrderLineDTO `json:"lines"`
	Locked          bool           `json:"locked"`
	PlacedAt        *time.Time     `json:"placedAt,omitempty"`
	SyncedAt        time.Time      `json:"syncedAt"`
	ValidatedAt     *time.Time     `json:"validatedAt,omitempty"`
}

// OrderLineDTO represents one order line
type OrderLineDTO struct {
	RemoteLineID int64    `json:"remoteLineId"`
	ProductID    int64    `json:"productId"`
	Name         string   `json:"name"`
	OrderedQty   float64  `json:"orderedQty"`
	PreparedQty  *float64 `json:"preparedQty,omitempty"`
	StockOnHand  *float64 `json:"stockOnHand,omitempty"`
}

// AddressDTO represents a shipping address
type AddressDTO struct {
	Name    string `json:"name,omitempty"`
	Street  string `json:"street,omitempty"`
	Street2 string `json:"street2,omitempty"`
	City    string `json:"city,omitempty"`
	Zip     string `json:"zip,omitempty"`
	Country string `json:"country,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

// BatchResultDTO reports a batch import with per-item error counting
type BatchResultDTO struct {
	Imported int      `json:"imported"`
	Failed   int      `json:"failed"`
	LastRef  string   `json:"lastRef,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// RemainingDTO reports outstanding demand for an order's open shipments
type RemainingDTO struct {
	OrderID   string            `json:"orderId"`
	Pickings  []PickingDTO      `json:"pickings"`
	ByProduct map[int64]float64 `json:"byProduct"`
}

// PickingDTO summarizes one remote delivery document
type PickingDTO struct {
	RemoteID    int64      `json:"remoteId"`
	Name        string     `json:"name"`
	State       string     `json:"state"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
}

// PushResultDTO reports the outcome of a push-and-validate run
type PushResultDTO struct {
	OrderID          string `json:"orderId"`
	PickingRemoteID  int64  `json:"pickingRemoteId"`
	Outcome          string `json:"outcome"`
	MovementWrites   int    `json:"movementWrites"`
	Shortfall        bool   `json:"shortfall"`
	BackorderCreated bool   `json:"backorderCreated"`
}

// DeliveryStateDTO reports the order's best delivery state
type DeliveryStateDTO struct {
	OrderID string  `json:"orderId"`
	State   *string `json:"state"`
}

// DeliveryDTO represents one mirrored delivery document
type DeliveryDTO struct {
	ID          string     `json:"id"`
	RemoteID    int64      `json:"remoteId"`
	Name        string     `json:"name"`
	Origin      string     `json:"origin,omitempty"`
	State       string     `json:"state"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
	SyncedAt    time.Time  `json:"syncedAt"`
}

// LabelDTO reports a carrier shipment created for an order
type LabelDTO struct {
	OrderID        string `json:"orderId"`
	TrackingNumber string `json:"trackingNumber"`
	Label          []byte `json:"label,omitempty"`
	MIME           string `json:"mime,omitempty"`
}
