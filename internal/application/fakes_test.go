package application

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/bluepicking/fulfillment-service/internal/domain"
	"github.com/bluepicking/fulfillment-service/internal/infrastructure/odoo"
	apperrors "github.com/bluepicking/fulfillment-service/pkg/errors"
	"github.com/bluepicking/fulfillment-service/pkg/logging"
)

func testLogger() *logging.Logger {
	return logging.New(logging.DefaultConfig("test"))
}

// memOrderRepo mimics the storage upsert semantics in memory.
type memOrderRepo struct {
	orders map[string]*domain.Order
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: make(map[string]*domain.Order)}
}

func (r *memOrderRepo) Upsert(ctx context.Context, order *domain.Order) (string, error) {
	for _, existing := range r.orders {
		if (order.RemoteID != 0 && existing.RemoteID == order.RemoteID) ||
			(order.ExternalRef != "" && existing.ExternalRef == order.ExternalRef) {
			order.ID = existing.ID
			if existing.PickingValidatedAt != nil {
				order.PickingValidatedAt = existing.PickingValidatedAt
			}
			order.CarryPreparedFrom(existing.Lines)
			r.orders[order.ID.Hex()] = order
			return order.ID.Hex(), nil
		}
	}
	order.ID = primitive.NewObjectID()
	r.orders[order.ID.Hex()] = order
	return order.ID.Hex(), nil
}

func (r *memOrderRepo) Save(ctx context.Context, order *domain.Order) error {
	if _, ok := r.orders[order.ID.Hex()]; !ok {
		return apperrors.ErrNotFound("order " + order.ID.Hex())
	}
	r.orders[order.ID.Hex()] = order
	return nil
}

func (r *memOrderRepo) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	order, ok := r.orders[id]
	if !ok {
		return nil, apperrors.ErrNotFound("order " + id)
	}
	return order, nil
}

func (r *memOrderRepo) FindByRef(ctx context.Context, ref string) (*domain.Order, error) {
	for _, o := range r.orders {
		if o.ExternalRef == ref || o.RemoteName == ref {
			return o, nil
		}
	}
	return nil, apperrors.ErrNotFound("order " + ref)
}

func (r *memOrderRepo) FindByRemoteID(ctx context.Context, remoteID int64) (*domain.Order, error) {
	for _, o := range r.orders {
		if o.RemoteID == remoteID {
			return o, nil
		}
	}
	return nil, apperrors.ErrNotFound(fmt.Sprintf("order remote id %d", remoteID))
}

type memRecordRepo struct {
	records map[int64]*domain.FulfillmentRecord
}

func newMemRecordRepo() *memRecordRepo {
	return &memRecordRepo{records: make(map[int64]*domain.FulfillmentRecord)}
}

func (r *memRecordRepo) Upsert(ctx context.Context, record *domain.FulfillmentRecord) error {
	if existing, ok := r.records[record.RemoteID]; ok {
		record.ID = existing.ID
	} else if record.ID.IsZero() {
		record.ID = primitive.NewObjectID()
	}
	r.records[record.RemoteID] = record
	return nil
}

func (r *memRecordRepo) FindByOrigin(ctx context.Context, refs []string) ([]*domain.FulfillmentRecord, error) {
	var out []*domain.FulfillmentRecord
	for _, rec := range r.records {
		for _, ref := range refs {
			if rec.Origin == ref {
				out = append(out, rec)
				break
			}
		}
	}
	return out, nil
}

func (r *memRecordRepo) List(ctx context.Context, state domain.PickingState, limit, offset int64) ([]*domain.FulfillmentRecord, error) {
	var out []*domain.FulfillmentRecord
	for _, rec := range r.records {
		if state == "" || rec.State == state {
			out = append(out, rec)
		}
	}
	return out, nil
}

// fakeRemote scripts order fetches for the sync service.
type fakeRemote struct {
	payloads map[string]*odoo.OrderPayload
	failing  map[string]error
	refs     []odoo.OrderRef
	pickings []odoo.PickingPayload
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		payloads: make(map[string]*odoo.OrderPayload),
		failing:  make(map[string]error),
	}
}

func (f *fakeRemote) FetchOrder(ctx context.Context, ref string) (*odoo.OrderPayload, error) {
	if err, ok := f.failing[ref]; ok {
		return nil, err
	}
	payload, ok := f.payloads[ref]
	if !ok {
		return nil, apperrors.ErrNotFound("sale.order " + ref)
	}
	return payload, nil
}

func (f *fakeRemote) ListOrderRefs(ctx context.Context, states []string, since, until string, limit, offset int) ([]odoo.OrderRef, error) {
	return f.refs, nil
}

func (f *fakeRemote) SearchPickings(ctx context.Context, states []string, since string, limit, offset int) ([]odoo.PickingPayload, error) {
	return f.pickings, nil
}

type backorderCall struct {
	wizardID  int64
	pickingID int64
	accept    bool
}

type movementWrite struct {
	moveID    int64
	productID int64
	qty       float64
}

// fakeGateway scripts the remote fulfillment surface.
type fakeGateway struct {
	orderState string
	pickings   []odoo.PickingPayload
	movements  map[int64][]domain.Movement
	lines      []odoo.LinePayload
	stock      map[int64]float64

	validateErr     error
	validateOutcome *odoo.ValidateOutcome

	confirmCalls    int
	cancelCalls     int
	reserveCalls    int
	writes          []movementWrite
	writeErr        error
	wizardsCreated  int
	backorderCalls  []backorderCall
	transfersCalled []int64
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		orderState:      "sale",
		movements:       make(map[int64][]domain.Movement),
		stock:           make(map[int64]float64),
		validateOutcome: &odoo.ValidateOutcome{Kind: odoo.OutcomeSuccess},
	}
}

func (g *fakeGateway) OrderHeader(ctx context.Context, orderID int64) (string, string, []int64, error) {
	ids := make([]int64, 0, len(g.pickings))
	for _, p := range g.pickings {
		ids = append(ids, p.RemoteID)
	}
	return g.orderState, fmt.Sprintf("SO-%d", orderID), ids, nil
}

func (g *fakeGateway) ConfirmOrder(ctx context.Context, orderID int64) error {
	g.confirmCalls++
	g.orderState = "sale"
	return nil
}

func (g *fakeGateway) CancelOrder(ctx context.Context, orderID int64) error {
	g.cancelCalls++
	g.orderState = "cancel"
	return nil
}

func (g *fakeGateway) Reserve(ctx context.Context, pickingID int64) error {
	g.reserveCalls++
	return nil
}

func (g *fakeGateway) Movements(ctx context.Context, pickingID int64) ([]domain.Movement, error) {
	return g.movements[pickingID], nil
}

func (g *fakeGateway) WriteMovementDone(ctx context.Context, moveID, productID int64, qty float64) error {
	if g.writeErr != nil {
		return g.writeErr
	}
	g.writes = append(g.writes, movementWrite{moveID: moveID, productID: productID, qty: qty})
	// Reflect the write so a second run sees consumed capacity.
	for pid, ms := range g.movements {
		for i := range ms {
			if ms[i].MoveID == moveID {
				g.movements[pid][i].Done = qty
			}
		}
	}
	return nil
}

func (g *fakeGateway) Validate(ctx context.Context, pickingID int64) (*odoo.ValidateOutcome, error) {
	if g.validateErr != nil {
		err := g.validateErr
		g.validateErr = nil
		return nil, err
	}
	return g.validateOutcome, nil
}

func (g *fakeGateway) ProcessImmediateTransfer(ctx context.Context, wizardID, pickingID int64) error {
	g.transfersCalled = append(g.transfersCalled, wizardID)
	return nil
}

func (g *fakeGateway) CreateBackorderWizard(ctx context.Context, pickingID int64) (int64, error) {
	g.wizardsCreated++
	return int64(9000 + g.wizardsCreated), nil
}

func (g *fakeGateway) ProcessBackorder(ctx context.Context, wizardID, pickingID int64, accept bool) error {
	g.backorderCalls = append(g.backorderCalls, backorderCall{wizardID: wizardID, pickingID: pickingID, accept: accept})
	return nil
}

func (g *fakeGateway) PickingsByOrigin(ctx context.Context, origins []string) ([]odoo.PickingPayload, error) {
	return g.pickings, nil
}

func (g *fakeGateway) FetchLines(ctx context.Context, orderID int64) ([]odoo.LinePayload, error) {
	return g.lines, nil
}

func (g *fakeGateway) StockByProduct(ctx context.Context, productIDs []int64) (map[int64]float64, error) {
	return g.stock, nil
}

func orderPayload(remoteID int64, name string) *odoo.OrderPayload {
	return &odoo.OrderPayload{
		RemoteID: remoteID,
		Name:     name,
		State:    "sale",
		Partner:  &odoo.PartnerPayload{Name: "Jean Dupont", City: "Bruxelles", CountryCode: "BE"},
		Lines: []odoo.LinePayload{
			{RemoteLineID: 41, ProductID: 100, Name: "Beef rib", OrderedQty: 10},
			{RemoteLineID: 42, ProductID: 200, Name: "Pork loin", OrderedQty: 5},
		},
		Pickings: []odoo.PickingPayload{
			{RemoteID: 77, Name: "WH/OUT/77", Origin: name, State: "assigned"},
		},
		Raw: map[string]interface{}{"so": map[string]interface{}{"id": remoteID}},
	}
}
