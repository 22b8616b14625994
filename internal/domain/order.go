package domain

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Errors for the Order aggregate
var (
	ErrMissingRemoteID  = errors.New("remote payload carries no id")
	ErrMissingReference = errors.New("remote payload carries no reference name")
	ErrLineNotFound     = errors.New("line not found in order")
	ErrOrderLocked      = errors.New("order already validated, no further pushes accepted")
	ErrNegativeQuantity = errors.New("prepared quantity must not be negative")
)

// Order is the local mirror of a remote sale order. RemoteID and
// ExternalRef are alternate keys: an upsert must match on either.
type Order struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ExternalRef string             `bson:"externalRef" json:"externalRef"`
	RemoteID    int64              `bson:"remoteId,omitempty" json:"remoteId,omitempty"`
	RemoteName  string             `bson:"remoteName" json:"remoteName"`
	Status      string             `bson:"status" json:"status"`

	CustomerName    string  `bson:"customerName,omitempty" json:"customerName,omitempty"`
	ShippingAddress Address `bson:"shippingAddress,omitempty" json:"shippingAddress,omitempty"`

	Lines []OrderLine `bson:"lines" json:"lines"`

	// Snapshot is a compact copy of the full remote payload, kept as a
	// fallback data source when the remote system is unreachable.
	Snapshot map[string]interface{} `bson:"snapshot,omitempty" json:"-"`

	// SnapshotPickings holds the shipment summaries embedded in the
	// remote payload at sync time. The delivery-state ranker reads
	// these before falling back to the live picking mirror.
	SnapshotPickings []PickingSummary `bson:"snapshotPickings,omitempty" json:"snapshotPickings,omitempty"`

	PlacedAt  *time.Time `bson:"placedAt,omitempty" json:"placedAt,omitempty"`
	SyncedAt  time.Time  `bson:"syncedAt" json:"syncedAt"`
	UpdatedAt time.Time  `bson:"updatedAt" json:"updatedAt"`

	// PickingValidatedAt is stamped once a shipment has been validated
	// remotely. A set value locks the order against further pushes.
	PickingValidatedAt *time.Time `bson:"pickingValidatedAt,omitempty" json:"pickingValidatedAt,omitempty"`

	domainEvents []DomainEvent `bson:"-" json:"-"`
}

// OrderLine is one sale order line mirrored from the remote system.
// PreparedQty is the only locally owned field: it is entered by a
// warehouse operator and must survive every refresh of the line set.
type OrderLine struct {
	RemoteLineID int64    `bson:"remoteLineId" json:"remoteLineId"`
	ProductID    int64    `bson:"productId" json:"productId"`
	Name         string   `bson:"name" json:"name"`
	OrderedQty   float64  `bson:"orderedQty" json:"orderedQty"`
	PreparedQty  *float64 `bson:"preparedQty,omitempty" json:"preparedQty,omitempty"`
	StockOnHand  *float64 `bson:"stockOnHand,omitempty" json:"stockOnHand,omitempty"`
}

// Address is the shipping address resolved from the remote partner.
type Address struct {
	Street  string `bson:"street,omitempty" json:"street,omitempty"`
	Street2 string `bson:"street2,omitempty" json:"street2,omitempty"`
	City    string `bson:"city,omitempty" json:"city,omitempty"`
	Zip     string `bson:"zip,omitempty" json:"zip,omitempty"`
	Country string `bson:"country,omitempty" json:"country,omitempty"`
	Phone   string `bson:"phone,omitempty" json:"phone,omitempty"`
	Name    string `bson:"name,omitempty" json:"name,omitempty"`
}

// NewOrder creates a new local Order mirror from remote header data.
func NewOrder(remoteID int64, remoteName string) (*Order, error) {
	if remoteID == 0 {
		return nil, ErrMissingRemoteID
	}
	if remoteName == "" {
		return nil, ErrMissingReference
	}

	now := time.Now().UTC()
	return &Order{
		ID:           primitive.NewObjectID(),
		ExternalRef:  remoteName,
		RemoteID:     remoteID,
		RemoteName:   remoteName,
		Lines:        make([]OrderLine, 0),
		SyncedAt:     now,
		UpdatedAt:    now,
		domainEvents: make([]DomainEvent, 0),
	}, nil
}

// CarryPreparedFrom re-applies prepared quantities from a previous line
// set onto the current one, matched by remote line id. Lines are purged
// and reinserted wholesale on every refresh; this is what keeps the
// operator's progress intact across that replacement.
func (o *Order) CarryPreparedFrom(previous []OrderLine) {
	if len(previous) == 0 || len(o.Lines) == 0 {
		return
	}

	prepared := make(map[int64]*float64, len(previous))
	for _, line := range previous {
		if line.PreparedQty != nil {
			prepared[line.RemoteLineID] = line.PreparedQty
		}
	}

	for i := range o.Lines {
		if qty, ok := prepared[o.Lines[i].RemoteLineID]; ok {
			o.Lines[i].PreparedQty = qty
		}
	}
}

// ReplaceLines swaps the line set for a freshly synced one, carrying
// prepared quantities forward by remote line id.
func (o *Order) ReplaceLines(lines []OrderLine) {
	previous := o.Lines
	o.Lines = lines
	o.CarryPreparedFrom(previous)
	o.UpdatedAt = time.Now().UTC()
}

// SetPrepared records the quantity an operator has picked for one line.
func (o *Order) SetPrepared(remoteLineID int64, qty float64) error {
	if o.IsLocked() {
		return ErrOrderLocked
	}
	if qty < 0 {
		return ErrNegativeQuantity
	}

	for i := range o.Lines {
		if o.Lines[i].RemoteLineID == remoteLineID {
			q := qty
			o.Lines[i].PreparedQty = &q
			o.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return ErrLineNotFound
}

// PreparedByProduct aggregates prepared quantities per product id,
// skipping lines the operator has not touched.
func (o *Order) PreparedByProduct() map[int64]float64 {
	out := make(map[int64]float64)
	for _, line := range o.Lines {
		if line.PreparedQty == nil {
			continue
		}
		out[line.ProductID] += *line.PreparedQty
	}
	return out
}

// IsLocked reports whether a shipment has already been validated for
// this order.
func (o *Order) IsLocked() bool {
	return o.PickingValidatedAt != nil
}

// MarkSynced notes a completed mirror refresh on the aggregate.
func (o *Order) MarkSynced() {
	o.AddDomainEvent(NewOrderSyncedEvent(o))
}

// MarkValidated locks the order after a successful remote validation.
func (o *Order) MarkValidated(pickingRemoteID int64, partial bool) {
	now := time.Now().UTC()
	o.PickingValidatedAt = &now
	o.UpdatedAt = now
	o.AddDomainEvent(NewShipmentValidatedEvent(o, pickingRemoteID, partial))
}

// AcceptBackorder notes that the unfulfilled remainder was kept as a
// new open shipment document.
func (o *Order) AcceptBackorder(pickingRemoteID int64) {
	o.AddDomainEvent(NewBackorderCreatedEvent(o, pickingRemoteID))
}

// OriginRefs returns the reference strings a FulfillmentRecord's origin
// may carry for this order. There is no stronger foreign key.
func (o *Order) OriginRefs() []string {
	refs := make([]string, 0, 2)
	if o.ExternalRef != "" {
		refs = append(refs, o.ExternalRef)
	}
	if o.RemoteName != "" && o.RemoteName != o.ExternalRef {
		refs = append(refs, o.RemoteName)
	}
	return refs
}

// AddDomainEvent records a domain event on the aggregate
func (o *Order) AddDomainEvent(event DomainEvent) {
	o.domainEvents = append(o.domainEvents, event)
}

// DomainEvents returns the recorded domain events
func (o *Order) DomainEvents() []DomainEvent {
	return o.domainEvents
}

// ClearDomainEvents clears the recorded domain events
func (o *Order) ClearDomainEvents() {
	o.domainEvents = make([]DomainEvent, 0)
}
