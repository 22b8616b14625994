package odoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/bluepicking/fulfillment-service/internal/domain"
	apperrors "github.com/bluepicking/fulfillment-service/pkg/errors"
	"github.com/bluepicking/fulfillment-service/pkg/logging"
)

// RPC is the remote call surface the gateway consumes.
type RPC interface {
	ExecuteKW(ctx context.Context, model, method string, args []interface{}, kwargs map[string]interface{}) (json.RawMessage, error)
	SearchRead(ctx context.Context, model string, domain []interface{}, fields []string, limit, offset int, order string) ([]map[string]interface{}, error)
	Read(ctx context.Context, model string, ids []int64, fields []string) ([]map[string]interface{}, error)
}

// OutcomeKind tags the polymorphic result of a shipment validation.
type OutcomeKind string

const (
	OutcomeSuccess           OutcomeKind = "success"
	OutcomeImmediateTransfer OutcomeKind = "immediate_transfer"
	OutcomeBackorder         OutcomeKind = "backorder"
)

// ValidateOutcome is the decoded result of the remote validate action.
// WizardID may be zero even when a confirmation is requested; the
// processing helpers recreate the wizard in that case.
type ValidateOutcome struct {
	Kind     OutcomeKind
	WizardID int64
}

// Gateway reads and writes sale orders, shipment documents and stock
// movements on the remote system.
type Gateway struct {
	rpc    RPC
	logger *logging.Logger

	// field capability cache, probed once per model/field per session
	probeMu sync.Mutex
	fields  map[string]bool
}

// NewGateway creates a new Gateway
func NewGateway(rpc RPC, logger *logging.Logger) *Gateway {
	return &Gateway{
		rpc:    rpc,
		logger: logger.WithComponent("odoo_gateway"),
		fields: make(map[string]bool),
	}
}

// hasField probes the remote schema for a field via fields_get. The
// answer is cached for the session; probe failures count as absent.
func (g *Gateway) hasField(ctx context.Context, model, field string) bool {
	key := model + "." + field

	g.probeMu.Lock()
	cached, ok := g.fields[key]
	g.probeMu.Unlock()
	if ok {
		return cached
	}

	present := false
	raw, err := g.rpc.ExecuteKW(ctx, model, "fields_get", []interface{}{[]interface{}{}}, map[string]interface{}{
		"attributes": []string{},
	})
	if err == nil {
		var defs map[string]interface{}
		if err := json.Unmarshal(raw, &defs); err == nil {
			_, present = defs[field]
		}
	}

	g.probeMu.Lock()
	g.fields[key] = present
	g.probeMu.Unlock()
	return present
}

// orderDomain builds the search domain for an order reference that may
// be a remote id or a display name.
func orderDomain(ref string) []interface{} {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return []interface{}{[]interface{}{"id", "=", id}}
	}
	return []interface{}{[]interface{}{"name", "=", ref}}
}

// FetchOrder reads one sale order with its shipping partner, lines and
// shipment summaries.
func (g *Gateway) FetchOrder(ctx context.Context, ref string) (*OrderPayload, error) {
	headers, err := g.rpc.SearchRead(ctx, "sale.order", orderDomain(ref), []string{
		"id", "name", "state", "date_order",
		"partner_id", "partner_shipping_id",
		"picking_ids", "note",
		"amount_total", "currency_id", "delivery_status",
	}, 1, 0, "")
	if err != nil {
		return nil, err
	}
	if len(headers) == 0 {
		return nil, apperrors.ErrNotFound("sale.order " + ref)
	}
	header := headers[0]

	payload := &OrderPayload{
		RemoteID:       asInt64(header["id"]),
		Name:           asString(header["name"]),
		State:          asString(header["state"]),
		DeliveryStatus: asString(header["delivery_status"]),
		AmountTotal:    asFloat(header["amount_total"]),
		Currency:       many2oneLabel(header["currency_id"]),
		PlacedAt:       asTime(header["date_order"]),
	}
	if payload.RemoteID == 0 || payload.Name == "" {
		return nil, apperrors.ErrInvalidPayload("sale.order header misses id or name")
	}

	partner, partnerRaw := g.fetchShippingPartner(ctx, header["partner_shipping_id"])
	payload.Partner = partner

	lines, linesRaw, err := g.fetchLines(ctx, payload.RemoteID)
	if err != nil {
		return nil, err
	}
	payload.Lines = lines

	pickings, pickingsRaw, err := g.fetchOrderPickings(ctx, asIDList(header["picking_ids"]), payload.Name)
	if err != nil {
		return nil, err
	}
	payload.Pickings = pickings

	payload.Raw = map[string]interface{}{
		"so":       header,
		"partner":  partnerRaw,
		"lines":    linesRaw,
		"pickings": pickingsRaw,
	}

	return payload, nil
}

// fetchShippingPartner resolves the delivery partner; failures only
// lose the address, never the order.
func (g *Gateway) fetchShippingPartner(ctx context.Context, shippingField interface{}) (*PartnerPayload, map[string]interface{}) {
	partnerID := many2oneID(shippingField)
	if partnerID == 0 {
		return nil, nil
	}

	records, err := g.rpc.Read(ctx, "res.partner", []int64{partnerID}, []string{
		"name", "street", "street2", "zip", "city", "country_id", "phone", "email",
	})
	if err != nil || len(records) == 0 {
		if err != nil {
			g.logger.WithError(err).Warn("Failed to read shipping partner", "partnerId", partnerID)
		}
		return nil, nil
	}
	raw := records[0]

	partner := &PartnerPayload{
		Name:    asString(raw["name"]),
		Street:  asString(raw["street"]),
		Street2: asString(raw["street2"]),
		Zip:     asString(raw["zip"]),
		City:    asString(raw["city"]),
		Phone:   asString(raw["phone"]),
		Email:   asString(raw["email"]),
	}

	if countryID := many2oneID(raw["country_id"]); countryID > 0 {
		if countries, err := g.rpc.Read(ctx, "res.country", []int64{countryID}, []string{"code"}); err == nil && len(countries) > 0 {
			partner.CountryCode = asString(countries[0]["code"])
			raw["country_code"] = partner.CountryCode
		}
	}

	return partner, raw
}

func (g *Gateway) fetchLines(ctx context.Context, orderID int64) ([]LinePayload, []map[string]interface{}, error) {
	records, err := g.rpc.SearchRead(ctx, "sale.order.line", []interface{}{
		[]interface{}{"order_id", "=", orderID},
		[]interface{}{"display_type", "=", false},
	}, []string{"id", "product_id", "product_uom_qty", "name"}, 1000, 0, "")
	if err != nil {
		return nil, nil, err
	}

	lines := make([]LinePayload, 0, len(records))
	for _, r := range records {
		name := many2oneLabel(r["product_id"])
		if name == "" {
			name = asString(r["name"])
		}
		lines = append(lines, LinePayload{
			RemoteLineID: asInt64(r["id"]),
			ProductID:    many2oneID(r["product_id"]),
			Name:         name,
			OrderedQty:   asFloat(r["product_uom_qty"]),
		})
	}
	return lines, records, nil
}

// FetchLines re-reads the order's lines, used for a line refresh.
func (g *Gateway) FetchLines(ctx context.Context, orderID int64) ([]LinePayload, error) {
	lines, _, err := g.fetchLines(ctx, orderID)
	return lines, err
}

var pickingFields = []string{"id", "name", "origin", "state", "scheduled_date", "write_date"}

func pickingFromRecord(r map[string]interface{}) PickingPayload {
	return PickingPayload{
		RemoteID:    asInt64(r["id"]),
		Name:        asString(r["name"]),
		Origin:      asString(r["origin"]),
		State:       asString(r["state"]),
		ScheduledAt: asTime(r["scheduled_date"]),
		UpdatedAt:   asTime(r["write_date"]),
		Raw:         r,
	}
}

// fetchOrderPickings reads the shipment documents linked to an order,
// preferring the header's id list, falling back to an origin match.
func (g *Gateway) fetchOrderPickings(ctx context.Context, pickingIDs []int64, orderName string) ([]PickingPayload, []map[string]interface{}, error) {
	var records []map[string]interface{}
	var err error

	if len(pickingIDs) > 0 {
		records, err = g.rpc.Read(ctx, "stock.picking", pickingIDs, pickingFields)
	} else {
		records, err = g.rpc.SearchRead(ctx, "stock.picking", []interface{}{
			[]interface{}{"origin", "=", orderName},
		}, pickingFields, 100, 0, "")
	}
	if err != nil {
		return nil, nil, err
	}

	pickings := make([]PickingPayload, 0, len(records))
	for _, r := range records {
		pickings = append(pickings, pickingFromRecord(r))
	}
	return pickings, records, nil
}

// PickingsByOrigin searches shipment documents by origin reference.
func (g *Gateway) PickingsByOrigin(ctx context.Context, origins []string) ([]PickingPayload, error) {
	if len(origins) == 0 {
		return nil, nil
	}

	refs := make([]interface{}, 0, len(origins))
	for _, o := range origins {
		refs = append(refs, o)
	}

	records, err := g.rpc.SearchRead(ctx, "stock.picking", []interface{}{
		[]interface{}{"origin", "in", refs},
	}, pickingFields, 100, 0, "")
	if err != nil {
		return nil, err
	}

	pickings := make([]PickingPayload, 0, len(records))
	for _, r := range records {
		pickings = append(pickings, pickingFromRecord(r))
	}
	return pickings, nil
}

// ListOrderRefs lists sale orders matching the given states and date
// window, minimal fields for batch imports.
func (g *Gateway) ListOrderRefs(ctx context.Context, states []string, since, until string, limit, offset int) ([]OrderRef, error) {
	filter := make([]interface{}, 0, 3)
	if len(states) > 0 {
		filter = append(filter, []interface{}{"state", "in", states})
	}
	if since != "" {
		filter = append(filter, []interface{}{"date_order", ">=", since})
	}
	if until != "" {
		filter = append(filter, []interface{}{"date_order", "<=", until})
	}

	records, err := g.rpc.SearchRead(ctx, "sale.order", filter, []string{"id", "name"}, limit, offset, "id asc")
	if err != nil {
		return nil, err
	}

	refs := make([]OrderRef, 0, len(records))
	for _, r := range records {
		refs = append(refs, OrderRef{ID: asInt64(r["id"]), Name: asString(r["name"])})
	}
	return refs, nil
}

// SearchPickings lists shipment documents for the mirror sync.
func (g *Gateway) SearchPickings(ctx context.Context, states []string, since string, limit, offset int) ([]PickingPayload, error) {
	filter := make([]interface{}, 0, 2)
	if len(states) > 0 {
		filter = append(filter, []interface{}{"state", "in", states})
	}
	if since != "" {
		filter = append(filter, []interface{}{"scheduled_date", ">=", since})
	}

	records, err := g.rpc.SearchRead(ctx, "stock.picking", filter, pickingFields, limit, offset, "scheduled_date desc")
	if err != nil {
		return nil, err
	}

	pickings := make([]PickingPayload, 0, len(records))
	for _, r := range records {
		pickings = append(pickings, pickingFromRecord(r))
	}
	return pickings, nil
}

// OrderHeader reads the order's current state and linked picking ids.
func (g *Gateway) OrderHeader(ctx context.Context, orderID int64) (state string, name string, pickingIDs []int64, err error) {
	records, err := g.rpc.Read(ctx, "sale.order", []int64{orderID}, []string{"state", "picking_ids", "name"})
	if err != nil {
		return "", "", nil, err
	}
	if len(records) == 0 {
		return "", "", nil, apperrors.ErrNotFound(fmt.Sprintf("sale.order %d", orderID))
	}
	r := records[0]
	return asString(r["state"]), asString(r["name"]), asIDList(r["picking_ids"]), nil
}

// OrderState reads the order's lifecycle state.
func (g *Gateway) OrderState(ctx context.Context, orderID int64) (string, error) {
	state, _, _, err := g.OrderHeader(ctx, orderID)
	return state, err
}

// ConfirmOrder triggers action_confirm on the sale order.
func (g *Gateway) ConfirmOrder(ctx context.Context, orderID int64) error {
	_, err := g.rpc.ExecuteKW(ctx, "sale.order", "action_confirm", []interface{}{[]int64{orderID}}, nil)
	return err
}

// CancelOrder triggers action_cancel on the sale order.
func (g *Gateway) CancelOrder(ctx context.Context, orderID int64) error {
	_, err := g.rpc.ExecuteKW(ctx, "sale.order", "action_cancel", []interface{}{[]int64{orderID}}, nil)
	return err
}

// Reserve asks the remote system to reserve stock for the shipment.
func (g *Gateway) Reserve(ctx context.Context, pickingID int64) error {
	_, err := g.rpc.ExecuteKW(ctx, "stock.picking", "action_assign", []interface{}{[]int64{pickingID}}, nil)
	return err
}

// Movements reads the demand lines of a shipment document. The done
// figure comes from the aggregate field when the schema exposes it,
// otherwise from a sum over the movement's own move lines.
func (g *Gateway) Movements(ctx context.Context, pickingID int64) ([]domain.Movement, error) {
	hasAggregate := g.hasField(ctx, "stock.move", "quantity_done")

	fields := []string{"id", "product_id", "product_uom_qty", "move_line_ids"}
	if hasAggregate {
		fields = append(fields, "quantity_done")
	}

	records, err := g.rpc.SearchRead(ctx, "stock.move", []interface{}{
		[]interface{}{"picking_id", "=", pickingID},
	}, fields, 2000, 0, "")
	if err != nil {
		return nil, err
	}

	var doneByLine map[int64]float64
	if !hasAggregate {
		allLineIDs := make([]int64, 0)
		for _, r := range records {
			allLineIDs = append(allLineIDs, asIDList(r["move_line_ids"])...)
		}
		doneByLine = g.readMoveLineDone(ctx, allLineIDs)
	}

	movements := make([]domain.Movement, 0, len(records))
	for _, r := range records {
		m := domain.Movement{
			MoveID:    asInt64(r["id"]),
			ProductID: many2oneID(r["product_id"]),
			Demanded:  asFloat(r["product_uom_qty"]),
		}
		if hasAggregate {
			m.Done = asFloat(r["quantity_done"])
		} else {
			for _, lineID := range asIDList(r["move_line_ids"]) {
				m.Done += doneByLine[lineID]
			}
		}
		movements = append(movements, m)
	}
	return movements, nil
}

// readMoveLineDone reads done quantities per move line, tolerating the
// two field names the concept goes by across remote versions.
func (g *Gateway) readMoveLineDone(ctx context.Context, lineIDs []int64) map[int64]float64 {
	out := make(map[int64]float64)
	if len(lineIDs) == 0 {
		return out
	}

	records, err := g.rpc.Read(ctx, "stock.move.line", lineIDs, []string{"id", "product_id", "qty_done"})
	if err != nil {
		records, err = g.rpc.Read(ctx, "stock.move.line", lineIDs, []string{"id", "product_id", "quantity_done"})
	}
	if err != nil {
		g.logger.WithError(err).Warn("Failed to read move lines")
		return out
	}

	for _, r := range records {
		val := 0.0
		if v, ok := r["qty_done"]; ok {
			val = asFloat(v)
		} else if v, ok := r["quantity_done"]; ok {
			val = asFloat(v)
		}
		out[asInt64(r["id"])] = val
	}
	return out
}

// moveLineDoneField picks the writable done field on move lines.
func (g *Gateway) moveLineDoneField(ctx context.Context) string {
	if g.hasField(ctx, "stock.move.line", "qty_done") {
		return "qty_done"
	}
	return "quantity_done"
}

// WriteMovementDone writes an absolute done quantity onto a movement.
// It prefers the aggregate field; when the schema rejects that write it
// goes through the move-line sub-records, creating one if none exists.
func (g *Gateway) WriteMovementDone(ctx context.Context, moveID, productID int64, qty float64) error {
	if g.hasField(ctx, "stock.move", "quantity_done") {
		_, err := g.rpc.ExecuteKW(ctx, "stock.move", "write", []interface{}{
			[]int64{moveID},
			map[string]interface{}{"quantity_done": qty},
		}, nil)
		if err == nil {
			return nil
		}

		var rpcErr *RPCError
		if !errors.As(err, &rpcErr) {
			return err
		}
		g.logger.WithError(err).Warn("Aggregate done write rejected, using move lines", "moveId", moveID)
	}

	return g.writeMoveLineDone(ctx, moveID, productID, qty)
}

func (g *Gateway) writeMoveLineDone(ctx context.Context, moveID, productID int64, qty float64) error {
	field := g.moveLineDoneField(ctx)

	records, err := g.rpc.SearchRead(ctx, "stock.move.line", []interface{}{
		[]interface{}{"move_id", "=", moveID},
	}, []string{"id"}, 100, 0, "")
	if err != nil {
		return err
	}

	if len(records) == 0 {
		_, err := g.rpc.ExecuteKW(ctx, "stock.move.line", "create", []interface{}{
			map[string]interface{}{
				"move_id":    moveID,
				"product_id": productID,
				field:        qty,
			},
		}, nil)
		return err
	}

	// The sum over the movement's lines must equal the target, so the
	// full quantity goes on the first line and the others are zeroed.
	first := asInt64(records[0]["id"])
	if _, err := g.rpc.ExecuteKW(ctx, "stock.move.line", "write", []interface{}{
		[]int64{first},
		map[string]interface{}{field: qty},
	}, nil); err != nil {
		return err
	}

	rest := make([]int64, 0, len(records)-1)
	for _, r := range records[1:] {
		rest = append(rest, asInt64(r["id"]))
	}
	if len(rest) > 0 {
		if _, err := g.rpc.ExecuteKW(ctx, "stock.move.line", "write", []interface{}{
			rest,
			map[string]interface{}{field: 0.0},
		}, nil); err != nil {
			return err
		}
	}
	return nil
}

// Validate triggers button_validate and decodes its polymorphic result.
func (g *Gateway) Validate(ctx context.Context, pickingID int64) (*ValidateOutcome, error) {
	raw, err := g.rpc.ExecuteKW(ctx, "stock.picking", "button_validate", []interface{}{[]int64{pickingID}}, nil)
	if err != nil {
		return nil, err
	}

	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, apperrors.ErrInvalidPayload(fmt.Sprintf("button_validate result: %v", err))
	}

	action, ok := decoded.(map[string]interface{})
	if !ok {
		return &ValidateOutcome{Kind: OutcomeSuccess}, nil
	}

	switch asString(action["res_model"]) {
	case "stock.immediate.transfer":
		return &ValidateOutcome{Kind: OutcomeImmediateTransfer, WizardID: asInt64(action["res_id"])}, nil
	case "stock.backorder.confirmation":
		return &ValidateOutcome{Kind: OutcomeBackorder, WizardID: asInt64(action["res_id"])}, nil
	default:
		return &ValidateOutcome{Kind: OutcomeSuccess}, nil
	}
}

// ProcessImmediateTransfer completes an immediate-transfer wizard,
// recreating it against the picking when the action carried no id.
func (g *Gateway) ProcessImmediateTransfer(ctx context.Context, wizardID, pickingID int64) error {
	if wizardID == 0 {
		raw, err := g.rpc.ExecuteKW(ctx, "stock.immediate.transfer", "create", []interface{}{
			map[string]interface{}{"pick_ids": []int64{pickingID}},
		}, nil)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, &wizardID); err != nil {
			return apperrors.ErrInvalidPayload(fmt.Sprintf("immediate transfer wizard id: %v", err))
		}
	}

	_, err := g.rpc.ExecuteKW(ctx, "stock.immediate.transfer", "process", []interface{}{[]int64{wizardID}}, nil)
	return err
}

func backorderContext(pickingID int64) map[string]interface{} {
	return map[string]interface{}{
		"context": map[string]interface{}{
			"active_model": "stock.picking",
			"active_ids":   []int64{pickingID},
			"active_id":    pickingID,
		},
	}
}

// CreateBackorderWizard creates a backorder confirmation wizard bound
// to the picking, used when the validate action did not hand one back.
func (g *Gateway) CreateBackorderWizard(ctx context.Context, pickingID int64) (int64, error) {
	raw, err := g.rpc.ExecuteKW(ctx, "stock.backorder.confirmation", "create",
		[]interface{}{map[string]interface{}{}}, backorderContext(pickingID))
	if err != nil {
		return 0, err
	}

	var wizardID int64
	if err := json.Unmarshal(raw, &wizardID); err != nil {
		return 0, apperrors.ErrInvalidPayload(fmt.Sprintf("backorder wizard id: %v", err))
	}
	return wizardID, nil
}

// ProcessBackorder resolves a backorder confirmation. accept keeps the
// unfulfilled remainder as a new open shipment; refusing drops it from
// demand through process_cancel_backorder.
func (g *Gateway) ProcessBackorder(ctx context.Context, wizardID, pickingID int64, accept bool) error {
	method := "process"
	if !accept {
		method = "process_cancel_backorder"
	}

	if wizardID == 0 {
		var err error
		wizardID, err = g.CreateBackorderWizard(ctx, pickingID)
		if err != nil {
			return err
		}
	}

	_, err := g.rpc.ExecuteKW(ctx, "stock.backorder.confirmation", method,
		[]interface{}{[]int64{wizardID}}, backorderContext(pickingID))
	return err
}

// StockByProduct reads on-hand quantities for a set of products.
func (g *Gateway) StockByProduct(ctx context.Context, productIDs []int64) (map[int64]float64, error) {
	out := make(map[int64]float64)
	if len(productIDs) == 0 {
		return out, nil
	}

	records, err := g.rpc.Read(ctx, "product.product", productIDs, []string{"qty_available"})
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		out[asInt64(r["id"])] = asFloat(r["qty_available"])
	}
	return out, nil
}

// ambiguousQuantitySignature is the fragment of the remote error raised
// when a partial validation cannot decide between completing and
// backordering. Matching on the message text is fragile but the remote
// system offers nothing more structured.
const ambiguousQuantitySignature = "less products than the initial demand"

// IsAmbiguousQuantityError reports whether a validate failure matches
// the known ambiguous-quantity signature.
func IsAmbiguousQuantityError(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	text := strings.ToLower(rpcErr.Message + " " + rpcErr.Detail)
	return strings.Contains(text, ambiguousQuantitySignature)
}
