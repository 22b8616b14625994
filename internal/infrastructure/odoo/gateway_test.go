package odoo

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bluepicking/fulfillment-service/pkg/logging"
)

// fakeRPC scripts responses per model.method and records every call.
type fakeRPC struct {
	t        *testing.T
	handlers map[string]func(args []interface{}, kwargs map[string]interface{}) (interface{}, error)
	calls    []string
}

func newFakeRPC(t *testing.T) *fakeRPC {
	return &fakeRPC{
		t:        t,
		handlers: make(map[string]func(args []interface{}, kwargs map[string]interface{}) (interface{}, error)),
	}
}

func (f *fakeRPC) on(modelMethod string, fn func(args []interface{}, kwargs map[string]interface{}) (interface{}, error)) {
	f.handlers[modelMethod] = fn
}

func (f *fakeRPC) returns(modelMethod string, result interface{}) {
	f.on(modelMethod, func([]interface{}, map[string]interface{}) (interface{}, error) {
		return result, nil
	})
}

func (f *fakeRPC) countCalls(modelMethod string) int {
	n := 0
	for _, c := range f.calls {
		if c == modelMethod {
			n++
		}
	}
	return n
}

func (f *fakeRPC) ExecuteKW(ctx context.Context, model, method string, args []interface{}, kwargs map[string]interface{}) (json.RawMessage, error) {
	key := model + "." + method
	f.calls = append(f.calls, key)

	handler, ok := f.handlers[key]
	if !ok {
		f.t.Fatalf("unexpected rpc call %s", key)
	}
	result, err := handler(args, kwargs)
	if err != nil {
		return nil, err
	}
	raw, marshalErr := json.Marshal(result)
	require.NoError(f.t, marshalErr)
	return raw, nil
}

func (f *fakeRPC) SearchRead(ctx context.Context, model string, domain []interface{}, fields []string, limit, offset int, order string) ([]map[string]interface{}, error) {
	raw, err := f.ExecuteKW(ctx, model, "search_read", []interface{}{domain}, map[string]interface{}{"fields": fields})
	if err != nil {
		return nil, err
	}
	var records []map[string]interface{}
	require.NoError(f.t, json.Unmarshal(raw, &records))
	return records, nil
}

func (f *fakeRPC) Read(ctx context.Context, model string, ids []int64, fields []string) ([]map[string]interface{}, error) {
	raw, err := f.ExecuteKW(ctx, model, "read", []interface{}{ids}, map[string]interface{}{"fields": fields})
	if err != nil {
		return nil, err
	}
	var records []map[string]interface{}
	require.NoError(f.t, json.Unmarshal(raw, &records))
	return records, nil
}

func testGateway(t *testing.T, rpc RPC) *Gateway {
	return NewGateway(rpc, logging.New(logging.DefaultConfig("test")))
}

func fieldsOf(names ...string) map[string]interface{} {
	out := make(map[string]interface{}, len(names))
	for _, n := range names {
		out[n] = map[string]interface{}{}
	}
	return out
}

func TestMovementsWithAggregateField(t *testing.T) {
	rpc := newFakeRPC(t)
	rpc.returns("stock.move.fields_get", fieldsOf("quantity_done", "product_uom_qty"))
	rpc.returns("stock.move.search_read", []map[string]interface{}{
		{"id": 11, "product_id": []interface{}{100, "Beef rib"}, "product_uom_qty": 10.0, "quantity_done": 4.0, "move_line_ids": []interface{}{}},
		{"id": 12, "product_id": []interface{}{200, "Pork loin"}, "product_uom_qty": 5.0, "quantity_done": 0.0, "move_line_ids": []interface{}{}},
	})
	gw := testGateway(t, rpc)

	movements, err := gw.Movements(context.Background(), 77)

	require.NoError(t, err)
	require.Len(t, movements, 2)
	assert.Equal(t, int64(11), movements[0].MoveID)
	assert.Equal(t, int64(100), movements[0].ProductID)
	assert.Equal(t, 10.0, movements[0].Demanded)
	assert.Equal(t, 4.0, movements[0].Done)
}

func TestMovementsFallsBackToMoveLineSum(t *testing.T) {
	rpc := newFakeRPC(t)
	rpc.returns("stock.move.fields_get", fieldsOf("product_uom_qty"))
	rpc.returns("stock.move.search_read", []map[string]interface{}{
		{"id": 11, "product_id": []interface{}{100, "Beef rib"}, "product_uom_qty": 10.0, "move_line_ids": []interface{}{1, 2}},
	})
	rpc.returns("stock.move.line.read", []map[string]interface{}{
		{"id": 1, "product_id": []interface{}{100, "Beef rib"}, "qty_done": 3.0},
		{"id": 2, "product_id": []interface{}{100, "Beef rib"}, "qty_done": 2.0},
	})
	gw := testGateway(t, rpc)

	movements, err := gw.Movements(context.Background(), 77)

	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, 5.0, movements[0].Done)
}

func TestMovementsToleratesAlternateLineFieldName(t *testing.T) {
	rpc := newFakeRPC(t)
	rpc.returns("stock.move.fields_get", fieldsOf("product_uom_qty"))
	rpc.returns("stock.move.search_read", []map[string]interface{}{
		{"id": 11, "product_id": []interface{}{100, "Beef rib"}, "product_uom_qty": 10.0, "move_line_ids": []interface{}{1}},
	})
	first := true
	rpc.on("stock.move.line.read", func([]interface{}, map[string]interface{}) (interface{}, error) {
		if first {
			first = false
			return nil, &RPCError{Message: "Invalid field qty_done"}
		}
		return []map[string]interface{}{
			{"id": 1, "product_id": []interface{}{100, "Beef rib"}, "quantity_done": 6.0},
		}, nil
	})
	gw := testGateway(t, rpc)

	movements, err := gw.Movements(context.Background(), 77)

	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, 6.0, movements[0].Done)
}

func TestFieldProbeCachedForSession(t *testing.T) {
	rpc := newFakeRPC(t)
	rpc.returns("stock.move.fields_get", fieldsOf("quantity_done"))
	rpc.returns("stock.move.search_read", []map[string]interface{}{})
	gw := testGateway(t, rpc)

	_, err := gw.Movements(context.Background(), 77)
	require.NoError(t, err)
	_, err = gw.Movements(context.Background(), 78)
	require.NoError(t, err)

	assert.Equal(t, 1, rpc.countCalls("stock.move.fields_get"))
}

func TestWriteMovementDoneAggregate(t *testing.T) {
	rpc := newFakeRPC(t)
	rpc.returns("stock.move.fields_get", fieldsOf("quantity_done"))
	var written float64
	rpc.on("stock.move.write", func(args []interface{}, _ map[string]interface{}) (interface{}, error) {
		values := args[1].(map[string]interface{})
		written = values["quantity_done"].(float64)
		return true, nil
	})
	gw := testGateway(t, rpc)

	require.NoError(t, gw.WriteMovementDone(context.Background(), 11, 100, 7.5))
	assert.Equal(t, 7.5, written)
}

func TestWriteMovementDoneFallsBackToMoveLines(t *testing.T) {
	rpc := newFakeRPC(t)
	rpc.returns("stock.move.fields_get", fieldsOf("quantity_done"))
	rpc.returns("stock.move.line.fields_get", fieldsOf("qty_done"))
	rpc.on("stock.move.write", func([]interface{}, map[string]interface{}) (interface{}, error) {
		return nil, &RPCError{Message: "quantity_done is not writable"}
	})
	rpc.returns("stock.move.line.search_read", []map[string]interface{}{
		{"id": 201}, {"id": 202},
	})
	writes := map[string]float64{}
	rpc.on("stock.move.line.write", func(args []interface{}, _ map[string]interface{}) (interface{}, error) {
		ids := args[0].([]int64)
		values := args[1].(map[string]interface{})
		writes[fmt.Sprint(ids)] = values["qty_done"].(float64)
		return true, nil
	})
	gw := testGateway(t, rpc)

	require.NoError(t, gw.WriteMovementDone(context.Background(), 11, 100, 4.0))

	assert.Equal(t, 4.0, writes["[201]"])
	assert.Equal(t, 0.0, writes["[202]"])
}

func TestWriteMovementDoneCreatesMissingMoveLine(t *testing.T) {
	rpc := newFakeRPC(t)
	rpc.returns("stock.move.fields_get", fieldsOf())
	rpc.returns("stock.move.line.fields_get", fieldsOf("qty_done"))
	rpc.returns("stock.move.line.search_read", []map[string]interface{}{})
	var created map[string]interface{}
	rpc.on("stock.move.line.create", func(args []interface{}, _ map[string]interface{}) (interface{}, error) {
		created = args[0].(map[string]interface{})
		return 999, nil
	})
	gw := testGateway(t, rpc)

	require.NoError(t, gw.WriteMovementDone(context.Background(), 11, 100, 2.0))

	require.NotNil(t, created)
	assert.Equal(t, int64(11), created["move_id"])
	assert.Equal(t, int64(100), created["product_id"])
	assert.Equal(t, 2.0, created["qty_done"])
}

func TestValidateOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		result   interface{}
		expected ValidateOutcome
	}{
		{
			name:     "Plain success",
			result:   true,
			expected: ValidateOutcome{Kind: OutcomeSuccess},
		},
		{
			name:     "Immediate transfer wizard",
			result:   map[string]interface{}{"res_model": "stock.immediate.transfer", "res_id": 31},
			expected: ValidateOutcome{Kind: OutcomeImmediateTransfer, WizardID: 31},
		},
		{
			name:     "Backorder wizard",
			result:   map[string]interface{}{"res_model": "stock.backorder.confirmation", "res_id": 32},
			expected: ValidateOutcome{Kind: OutcomeBackorder, WizardID: 32},
		},
		{
			name:     "Backorder wizard without id",
			result:   map[string]interface{}{"res_model": "stock.backorder.confirmation"},
			expected: ValidateOutcome{Kind: OutcomeBackorder, WizardID: 0},
		},
		{
			name:     "Unrelated action dict",
			result:   map[string]interface{}{"res_model": "ir.ui.view"},
			expected: ValidateOutcome{Kind: OutcomeSuccess},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rpc := newFakeRPC(t)
			rpc.returns("stock.picking.button_validate", tt.result)
			gw := testGateway(t, rpc)

			outcome, err := gw.Validate(context.Background(), 77)

			require.NoError(t, err)
			assert.Equal(t, tt.expected, *outcome)
		})
	}
}

func TestProcessBackorderPolicies(t *testing.T) {
	t.Run("Accept uses process", func(t *testing.T) {
		rpc := newFakeRPC(t)
		rpc.returns("stock.backorder.confirmation.process", true)
		gw := testGateway(t, rpc)

		require.NoError(t, gw.ProcessBackorder(context.Background(), 32, 77, true))
		assert.Equal(t, 1, rpc.countCalls("stock.backorder.confirmation.process"))
	})

	t.Run("Refuse cancels the remainder", func(t *testing.T) {
		rpc := newFakeRPC(t)
		rpc.returns("stock.backorder.confirmation.process_cancel_backorder", true)
		gw := testGateway(t, rpc)

		require.NoError(t, gw.ProcessBackorder(context.Background(), 32, 77, false))
		assert.Equal(t, 1, rpc.countCalls("stock.backorder.confirmation.process_cancel_backorder"))
	})

	t.Run("Missing wizard id recreates the wizard", func(t *testing.T) {
		rpc := newFakeRPC(t)
		var createCtx map[string]interface{}
		rpc.on("stock.backorder.confirmation.create", func(_ []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			createCtx = kwargs["context"].(map[string]interface{})
			return 55, nil
		})
		var processed []int64
		rpc.on("stock.backorder.confirmation.process", func(args []interface{}, _ map[string]interface{}) (interface{}, error) {
			processed = args[0].([]int64)
			return true, nil
		})
		gw := testGateway(t, rpc)

		require.NoError(t, gw.ProcessBackorder(context.Background(), 0, 77, true))

		assert.Equal(t, []int64{55}, processed)
		assert.Equal(t, "stock.picking", createCtx["active_model"])
		assert.Equal(t, int64(77), createCtx["active_id"])
	})
}

func TestProcessImmediateTransferRecreatesWizard(t *testing.T) {
	rpc := newFakeRPC(t)
	rpc.on("stock.immediate.transfer.create", func(args []interface{}, _ map[string]interface{}) (interface{}, error) {
		values := args[0].(map[string]interface{})
		assert.Equal(t, []int64{77}, values["pick_ids"])
		return 44, nil
	})
	var processed []int64
	rpc.on("stock.immediate.transfer.process", func(args []interface{}, _ map[string]interface{}) (interface{}, error) {
		processed = args[0].([]int64)
		return true, nil
	})
	gw := testGateway(t, rpc)

	require.NoError(t, gw.ProcessImmediateTransfer(context.Background(), 0, 77))
	assert.Equal(t, []int64{44}, processed)
}

func TestFetchOrder(t *testing.T) {
	rpc := newFakeRPC(t)
	rpc.returns("sale.order.search_read", []map[string]interface{}{{
		"id":                  17,
		"name":                "SO-0017",
		"state":               "sale",
		"date_order":          "2026-08-01 10:30:00",
		"partner_shipping_id": []interface{}{5, "Jean Dupont"},
		"picking_ids":         []interface{}{77},
		"amount_total":        120.5,
		"currency_id":         []interface{}{1, "EUR"},
		"delivery_status":     "pending",
	}})
	rpc.returns("res.partner.read", []map[string]interface{}{{
		"id": 5, "name": "Jean Dupont", "street": "Rue Haute 12", "zip": "1000",
		"city": "Bruxelles", "country_id": []interface{}{20, "Belgium"},
		"phone": "+32 2 000 00 00", "email": "jean@example.com",
	}})
	rpc.returns("res.country.read", []map[string]interface{}{{"id": 20, "code": "BE"}})
	rpc.returns("sale.order.line.search_read", []map[string]interface{}{
		{"id": 41, "product_id": []interface{}{100, "Beef rib"}, "product_uom_qty": 3.0, "name": "Beef rib"},
	})
	rpc.returns("stock.picking.read", []map[string]interface{}{
		{"id": 77, "name": "WH/OUT/77", "origin": "SO-0017", "state": "assigned", "scheduled_date": "2026-08-02 08:00:00"},
	})
	gw := testGateway(t, rpc)

	payload, err := gw.FetchOrder(context.Background(), "SO-0017")

	require.NoError(t, err)
	assert.Equal(t, int64(17), payload.RemoteID)
	assert.Equal(t, "SO-0017", payload.Name)
	assert.Equal(t, "sale", payload.State)
	assert.Equal(t, "EUR", payload.Currency)
	require.NotNil(t, payload.PlacedAt)

	require.NotNil(t, payload.Partner)
	assert.Equal(t, "BE", payload.Partner.CountryCode)

	require.Len(t, payload.Lines, 1)
	assert.Equal(t, int64(41), payload.Lines[0].RemoteLineID)
	assert.Equal(t, int64(100), payload.Lines[0].ProductID)

	require.Len(t, payload.Pickings, 1)
	assert.Equal(t, "assigned", payload.Pickings[0].State)
	assert.Contains(t, payload.Raw, "so")
}

func TestFetchOrderMissingHeaderFields(t *testing.T) {
	rpc := newFakeRPC(t)
	rpc.returns("sale.order.search_read", []map[string]interface{}{{"id": 17, "name": false}})
	gw := testGateway(t, rpc)

	_, err := gw.FetchOrder(context.Background(), "17")

	require.Error(t, err)
}

func TestIsAmbiguousQuantityError(t *testing.T) {
	assert.True(t, IsAmbiguousQuantityError(&RPCError{
		Message: "UserError",
		Detail:  "You have processed less products than the initial demand.",
	}))
	assert.False(t, IsAmbiguousQuantityError(&RPCError{Message: "ValidationError"}))
	assert.False(t, IsAmbiguousQuantityError(fmt.Errorf("network down")))
}
