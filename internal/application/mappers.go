package application

import (
	"github.com/bluepicking/fulfillment-service/internal/domain"
	"github.com/bluepicking/fulfillment-service/internal/infrastructure/odoo"
)

// OrderFromPayload maps a fetched remote order onto the local model.
func OrderFromPayload(payload *odoo.OrderPayload) (*domain.Order, error) {
	order, err := domain.NewOrder(payload.RemoteID, payload.Name)
	if err != nil {
		return nil, err
	}

	order.ExternalRef = payload.Name
	order.Status = payload.State
	order.PlacedAt = payload.PlacedAt
	order.Snapshot = payload.Raw

	if payload.Partner != nil {
		order.CustomerName = payload.Partner.Name
		order.ShippingAddress = domain.Address{
			Name:    payload.Partner.Name,
			Street:  payload.Partner.Street,
			Street2: payload.Partner.Street2,
			City:    payload.Partner.City,
			Zip:     payload.Partner.Zip,
			Country: payload.Partner.CountryCode,
			Phone:   payload.Partner.Phone,
		}
	}

	order.ReplaceLines(LinesFromPayload(payload.Lines))

	summaries := make([]domain.PickingSummary, 0, len(payload.Pickings))
	for _, p := range payload.Pickings {
		summaries = append(summaries, domain.PickingSummary{
			RemoteID: p.RemoteID,
			Name:     p.Name,
			State:    domain.PickingState(p.State),
		})
	}
	order.SnapshotPickings = summaries

	return order, nil
}

// LinesFromPayload maps remote order lines onto the local line model.
func LinesFromPayload(lines []odoo.LinePayload) []domain.OrderLine {
	out := make([]domain.OrderLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, domain.OrderLine{
			RemoteLineID: l.RemoteLineID,
			ProductID:    l.ProductID,
			Name:         l.Name,
			OrderedQty:   l.OrderedQty,
		})
	}
	return out
}

// RecordFromPayload maps a remote delivery document onto the mirror model.
func RecordFromPayload(payload odoo.PickingPayload) *domain.FulfillmentRecord {
	record := &domain.FulfillmentRecord{
		RemoteID:    payload.RemoteID,
		Name:        payload.Name,
		Origin:      payload.Origin,
		State:       domain.PickingState(payload.State),
		ScheduledAt: payload.ScheduledAt,
		Snapshot:    payload.Raw,
	}
	if payload.UpdatedAt != nil {
		record.UpdatedAt = *payload.UpdatedAt
	}
	return record
}

// ToOrderDTO converts a domain Order to OrderDTO
func ToOrderDTO(order *domain.Order) *OrderDTO {
	if order == nil {
		return nil
	}

	lines := make([]OrderLineDTO, 0, len(order.Lines))
	for _, l := range order.Lines {
		lines = append(lines, OrderLineDTO{
			RemoteLineID: l.RemoteLineID,
			ProductID:    l.ProductID,
			Name:         l.Name,
			OrderedQty:   l.OrderedQty,
			PreparedQty:  l.PreparedQty,
			StockOnHand:  l.StockOnHand,
		})
	}

	dto := &OrderDTO{
		ID:          order.ID.Hex(),
		ExternalRef: order.ExternalRef,
		RemoteID:    order.RemoteID,
		RemoteName:  order.RemoteName,
		Status:      order.Status,
		Lines:       lines,
		Locked:      order.IsLocked(),
		PlacedAt:    order.PlacedAt,
		SyncedAt:    order.SyncedAt,
		ValidatedAt: order.PickingValidatedAt,
	}

	if order.CustomerName != "" {
		dto.CustomerName = order.CustomerName
	}
	if order.ShippingAddress != (domain.Address{}) {
		a := order.ShippingAddress
		dto.ShippingAddress = &AddressDTO{
			Name:    a.Name,
			Street:  a.Street,
			Street2: a.Street2,
			City:    a.City,
			Zip:     a.Zip,
			Country: a.Country,
			Phone:   a.Phone,
		}
	}
	return dto
}

// ToPickingDTO converts a remote delivery payload to PickingDTO
func ToPickingDTO(payload odoo.PickingPayload) PickingDTO {
	return PickingDTO{
		RemoteID:    payload.RemoteID,
		Name:        payload.Name,
		State:       payload.State,
		ScheduledAt: payload.ScheduledAt,
	}
}

// ToDeliveryDTO converts a mirrored record to DeliveryDTO
func ToDeliveryDTO(record *domain.FulfillmentRecord) DeliveryDTO {
	return DeliveryDTO{
		ID:          record.ID.Hex(),
		RemoteID:    record.RemoteID,
		Name:        record.Name,
		Origin:      record.Origin,
		State:       string(record.State),
		ScheduledAt: record.ScheduledAt,
		SyncedAt:    record.SyncedAt,
	}
}
