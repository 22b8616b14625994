package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestLines() []OrderLine {
	return []OrderLine{
		{RemoteLineID: 41, ProductID: 100, Name: "Beef rib", OrderedQty: 3},
		{RemoteLineID: 42, ProductID: 200, Name: "Pork loin", OrderedQty: 8},
	}
}

func TestNewOrder(t *testing.T) {
	tests := []struct {
		name        string
		remoteID    int64
		remoteName  string
		expectError error
	}{
		{
			name:       "Valid header",
			remoteID:   17,
			remoteName: "SO-0017",
		},
		{
			name:        "Missing remote id",
			remoteID:    0,
			remoteName:  "SO-0017",
			expectError: ErrMissingRemoteID,
		},
		{
			name:        "Missing reference",
			remoteID:    17,
			remoteName:  "",
			expectError: ErrMissingReference,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, err := NewOrder(tt.remoteID, tt.remoteName)
			if tt.expectError != nil {
				assert.ErrorIs(t, err, tt.expectError)
				assert.Nil(t, order)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.remoteID, order.RemoteID)
			assert.Equal(t, tt.remoteName, order.ExternalRef)
			assert.False(t, order.IsLocked())
		})
	}
}

func TestReplaceLinesCarriesPreparedQty(t *testing.T) {
	order, err := NewOrder(17, "SO-0017")
	require.NoError(t, err)
	order.Lines = createTestLines()

	require.NoError(t, order.SetPrepared(42, 5))

	// Refresh with a changed ordered quantity on line 42 and a brand
	// new line 43. Prepared progress on 42 must survive.
	order.ReplaceLines([]OrderLine{
		{RemoteLineID: 42, ProductID: 200, Name: "Pork loin", OrderedQty: 12},
		{RemoteLineID: 43, ProductID: 300, Name: "Lamb shank", OrderedQty: 2},
	})

	require.Len(t, order.Lines, 2)
	require.NotNil(t, order.Lines[0].PreparedQty)
	assert.Equal(t, 5.0, *order.Lines[0].PreparedQty)
	assert.Equal(t, 12.0, order.Lines[0].OrderedQty)
	assert.Nil(t, order.Lines[1].PreparedQty)
}

func TestReplaceLinesDropsVanishedLines(t *testing.T) {
	order, err := NewOrder(17, "SO-0017")
	require.NoError(t, err)
	order.Lines = createTestLines()
	require.NoError(t, order.SetPrepared(41, 1))

	order.ReplaceLines([]OrderLine{
		{RemoteLineID: 99, ProductID: 900, Name: "New product", OrderedQty: 1},
	})

	require.Len(t, order.Lines, 1)
	assert.Nil(t, order.Lines[0].PreparedQty)
}

func TestSetPrepared(t *testing.T) {
	order, err := NewOrder(17, "SO-0017")
	require.NoError(t, err)
	order.Lines = createTestLines()

	t.Run("Unknown line", func(t *testing.T) {
		assert.ErrorIs(t, order.SetPrepared(999, 1), ErrLineNotFound)
	})

	t.Run("Negative quantity", func(t *testing.T) {
		assert.ErrorIs(t, order.SetPrepared(41, -1), ErrNegativeQuantity)
	})

	t.Run("Locked order refuses input", func(t *testing.T) {
		locked, err := NewOrder(18, "SO-0018")
		require.NoError(t, err)
		locked.Lines = createTestLines()
		locked.MarkValidated(77, false)
		assert.ErrorIs(t, locked.SetPrepared(41, 1), ErrOrderLocked)
	})

	t.Run("Valid input", func(t *testing.T) {
		require.NoError(t, order.SetPrepared(41, 2.5))
		require.NotNil(t, order.Lines[0].PreparedQty)
		assert.Equal(t, 2.5, *order.Lines[0].PreparedQty)
	})
}

func TestPreparedByProduct(t *testing.T) {
	order, err := NewOrder(17, "SO-0017")
	require.NoError(t, err)
	order.Lines = []OrderLine{
		{RemoteLineID: 1, ProductID: 100, OrderedQty: 3},
		{RemoteLineID: 2, ProductID: 100, OrderedQty: 4},
		{RemoteLineID: 3, ProductID: 200, OrderedQty: 5},
	}
	require.NoError(t, order.SetPrepared(1, 2))
	require.NoError(t, order.SetPrepared(2, 3))

	prepared := order.PreparedByProduct()

	assert.Equal(t, map[int64]float64{100: 5}, prepared)
}

func TestOriginRefs(t *testing.T) {
	order := &Order{ExternalRef: "BP-17", RemoteName: "SO-0017"}
	assert.Equal(t, []string{"BP-17", "SO-0017"}, order.OriginRefs())

	same := &Order{ExternalRef: "SO-0017", RemoteName: "SO-0017"}
	assert.Equal(t, []string{"SO-0017"}, same.OriginRefs())
}

func TestMarkValidatedLocksOrder(t *testing.T) {
	order, err := NewOrder(17, "SO-0017")
	require.NoError(t, err)

	before := time.Now().UTC()
	order.MarkValidated(77, true)

	require.NotNil(t, order.PickingValidatedAt)
	assert.True(t, order.IsLocked())
	assert.False(t, order.PickingValidatedAt.Before(before))
}

func TestAggregateRecordsAndDrainsEvents(t *testing.T) {
	order, err := NewOrder(17, "SO-0017")
	require.NoError(t, err)

	order.MarkSynced()
	order.MarkValidated(77, true)
	order.AcceptBackorder(77)

	events := order.DomainEvents()
	require.Len(t, events, 3)
	assert.Equal(t, EventOrderSynced, events[0].EventType())
	assert.Equal(t, EventShipmentValidated, events[1].EventType())
	assert.Equal(t, EventBackorderCreated, events[2].EventType())

	validated, ok := events[1].(*ShipmentValidatedEvent)
	require.True(t, ok)
	assert.Equal(t, int64(77), validated.PickingRemoteID)
	assert.True(t, validated.Partial)
	assert.Equal(t, "SO-0017", validated.AggregateID())

	order.ClearDomainEvents()
	assert.Empty(t, order.DomainEvents())
}
