package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/bluepicking/fulfillment-service/internal/domain"
	"github.com/bluepicking/fulfillment-service/internal/infrastructure/odoo"
	apperrors "github.com/bluepicking/fulfillment-service/pkg/errors"
	"github.com/bluepicking/fulfillment-service/pkg/kafka"
	"github.com/bluepicking/fulfillment-service/pkg/logging"
	"github.com/bluepicking/fulfillment-service/pkg/metrics"
)

// allocationTolerance absorbs float noise when comparing requested
// quantities against remaining capacity.
const allocationTolerance = 1e-6

// FulfillmentGateway is the remote surface the fulfillment service
// consumes.
type FulfillmentGateway interface {
	OrderHeader(ctx context.Context, orderID int64) (state string, name string, pickingIDs []int64, err error)
	ConfirmOrder(ctx context.Context, orderID int64) error
	CancelOrder(ctx context.Context, orderID int64) error
	Reserve(ctx context.Context, pickingID int64) error
	Movements(ctx context.Context, pickingID int64) ([]domain.Movement, error)
	WriteMovementDone(ctx context.Context, moveID, productID int64, qty float64) error
	Validate(ctx context.Context, pickingID int64) (*odoo.ValidateOutcome, error)
	ProcessImmediateTransfer(ctx context.Context, wizardID, pickingID int64) error
	CreateBackorderWizard(ctx context.Context, pickingID int64) (int64, error)
	ProcessBackorder(ctx context.Context, wizardID, pickingID int64, accept bool) error
	PickingsByOrigin(ctx context.Context, origins []string) ([]odoo.PickingPayload, error)
	FetchLines(ctx context.Context, orderID int64) ([]odoo.LinePayload, error)
	StockByProduct(ctx context.Context, productIDs []int64) (map[int64]float64, error)
}

// OrderResyncer re-imports an order after a remote-side mutation.
type OrderResyncer interface {
	SyncOrder(ctx context.Context, cmd SyncOrderCommand) (*OrderDTO, error)
}

// ShipmentLabeler creates a carrier shipment for an order. The engine
// carries no carrier integration of its own; implementations live
// behind this boundary.
type ShipmentLabeler interface {
	CreateShipment(ctx context.Context, order *domain.Order, format string) (*ShipmentLabel, error)
}

// ShipmentLabel is the carrier's answer to a shipment request.
type ShipmentLabel struct {
	TrackingNumber string
	Label          []byte
	MIME           string
}

// EngineSettings are the explicit knobs of the push engine.
type EngineSettings struct {
	AutoConfirmOnPush      bool
	CreateBackorderDefault bool
	DefaultLabelFormat     string
}

// FulfillmentService handles prepared-quantity recording, the push and
// validate flow, and order-level remote actions.
type FulfillmentService struct {
	orders   domain.OrderRepository
	records  domain.FulfillmentRecordRepository
	gateway  FulfillmentGateway
	resync   OrderResyncer
	producer *kafka.Producer
	labeler  ShipmentLabeler
	settings EngineSettings
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// NewFulfillmentService creates a new FulfillmentService. producer,
// resync and labeler may be nil.
func NewFulfillmentService(
	orders domain.OrderRepository,
	records domain.FulfillmentRecordRepository,
	gateway FulfillmentGateway,
	resync OrderResyncer,
	producer *kafka.Producer,
	labeler ShipmentLabeler,
	settings EngineSettings,
	logger *logging.Logger,
	m *metrics.Metrics,
) *FulfillmentService {
	return &FulfillmentService{
		orders:   orders,
		records:  records,
		gateway:  gateway,
		resync:   resync,
		producer: producer,
		labeler:  labeler,
		settings: settings,
		logger:   logger.WithComponent("fulfillment_service"),
		metrics:  m,
	}
}

// GetOrder retrieves a mirrored order by its local id.
func (s *FulfillmentService) GetOrder(ctx context.Context, orderID string) (*OrderDTO, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return ToOrderDTO(order), nil
}

// GetRemaining reports the outstanding demand on the order's open
// shipment documents, read live from the remote system.
func (s *FulfillmentService) GetRemaining(ctx context.Context, orderID string) (*RemainingDTO, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	pickings, err := s.gateway.PickingsByOrigin(ctx, order.OriginRefs())
	if err != nil {
		return nil, err
	}

	dto := &RemainingDTO{OrderID: orderID, Pickings: make([]PickingDTO, 0, len(pickings))}

	var movements []domain.Movement
	for _, p := range pickings {
		dto.Pickings = append(dto.Pickings, ToPickingDTO(p))
		if !domain.PickingState(p.State).IsOpen() {
			continue
		}
		ms, err := s.gateway.Movements(ctx, p.RemoteID)
		if err != nil {
			return nil, err
		}
		movements = append(movements, ms...)
	}

	dto.ByProduct = domain.RemainingByProduct(movements)
	return dto, nil
}

// RecordPrepared stores operator-entered prepared quantities. Negative
// values are clamped to zero.
func (s *FulfillmentService) RecordPrepared(ctx context.Context, cmd RecordPreparedCommand) (*OrderDTO, error) {
	if len(cmd.Quantities) == 0 {
		return nil, apperrors.ErrValidation("no quantities provided")
	}

	order, err := s.orders.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}

	for lineID, qty := range cmd.Quantities {
		if qty < 0 {
			qty = 0
		}
		if err := order.SetPrepared(lineID, qty); err != nil {
			switch {
			case errors.Is(err, domain.ErrOrderLocked):
				return nil, apperrors.ErrConflict("order has already been validated")
			case errors.Is(err, domain.ErrLineNotFound):
				return nil, apperrors.ErrValidation(fmt.Sprintf("unknown line %d", lineID))
			default:
				return nil, apperrors.ErrValidation(err.Error())
			}
		}
	}

	if err := s.orders.Save(ctx, order); err != nil {
		s.logger.WithError(err).Error("Failed to save prepared quantities", "orderId", cmd.OrderID)
		return nil, fmt.Errorf("failed to save prepared quantities: %w", err)
	}

	s.logger.Info("Recorded prepared quantities", "orderId", cmd.OrderID, "lines", len(cmd.Quantities))
	return ToOrderDTO(order), nil
}

// PushAndValidate pushes the recorded prepared quantities onto the
// order's open shipment and validates it, resolving whatever
// confirmation the remote system asks for along the way.
func (s *FulfillmentService) PushAndValidate(ctx context.Context, cmd PushCommand) (*PushResultDTO, error) {
	order, err := s.orders.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if order.IsLocked() {
		return nil, apperrors.ErrConflict("order has already been validated")
	}
	if order.RemoteID == 0 {
		return nil, apperrors.ErrValidation("order has no remote id")
	}

	prepared := order.PreparedByProduct()
	if len(prepared) == 0 {
		return nil, apperrors.ErrValidation("no prepared quantities recorded")
	}

	state, _, _, err := s.gateway.OrderHeader(ctx, order.RemoteID)
	if err != nil {
		return nil, err
	}

	if state == "draft" || state == "sent" {
		if !s.settings.AutoConfirmOnPush {
			return nil, apperrors.ErrNoOpenFulfillment(state)
		}
		if err := s.gateway.ConfirmOrder(ctx, order.RemoteID); err != nil {
			return nil, err
		}
		if state, _, _, err = s.gateway.OrderHeader(ctx, order.RemoteID); err != nil {
			return nil, err
		}
		s.logger.Info("Auto-confirmed order before push", "orderId", cmd.OrderID, "state", state)
	}

	picking, err := s.openPicking(ctx, order)
	if err != nil {
		return nil, err
	}
	if picking == nil {
		return nil, apperrors.ErrNoOpenFulfillment(state)
	}

	// Reservation is best effort; a picking without available stock can
	// still take manual done quantities.
	if err := s.gateway.Reserve(ctx, picking.RemoteID); err != nil {
		s.logger.WithError(err).Warn("Stock reservation failed", "pickingId", picking.RemoteID)
	}

	movements, err := s.gateway.Movements(ctx, picking.RemoteID)
	if err != nil {
		return nil, err
	}

	remaining := domain.RemainingByProduct(movements)
	for productID, qty := range prepared {
		if qty > remaining[productID]+allocationTolerance {
			return nil, apperrors.ErrOverAllocation(productID, qty, remaining[productID])
		}
	}

	plan := domain.PlanAllocation(movements, prepared)
	if len(plan.Writes) == 0 {
		return nil, apperrors.ErrValidation("nothing to push")
	}

	for _, write := range plan.Writes {
		if err := s.gateway.WriteMovementDone(ctx, write.MoveID, write.ProductID, write.NewDone); err != nil {
			s.observePush(false)
			return nil, err
		}
	}
	s.observePush(true)

	result := &PushResultDTO{
		OrderID:         cmd.OrderID,
		PickingRemoteID: picking.RemoteID,
		MovementWrites:  len(plan.Writes),
		Shortfall:       plan.Shortfall,
	}

	outcome, err := s.gateway.Validate(ctx, picking.RemoteID)
	backorderProcessed := false
	if err != nil {
		if !odoo.IsAmbiguousQuantityError(err) {
			return nil, validationError(err)
		}
		// The remote refuses to decide between completing and
		// backordering on its own; force the choice through the wizard.
		wizardID, wizErr := s.gateway.CreateBackorderWizard(ctx, picking.RemoteID)
		if wizErr != nil {
			return nil, validationError(wizErr)
		}
		if err := s.gateway.ProcessBackorder(ctx, wizardID, picking.RemoteID, cmd.CreateBackorder); err != nil {
			return nil, validationError(err)
		}
		outcome = &odoo.ValidateOutcome{Kind: odoo.OutcomeBackorder, WizardID: wizardID}
		backorderProcessed = true
	}

	switch outcome.Kind {
	case odoo.OutcomeImmediateTransfer:
		if err := s.gateway.ProcessImmediateTransfer(ctx, outcome.WizardID, picking.RemoteID); err != nil {
			return nil, validationError(err)
		}
		result.Outcome = "immediate_transfer"
	case odoo.OutcomeBackorder:
		// The gateway recreates the wizard when the validate response
		// carried no res_id, so a zero wizard id still gets processed.
		if !backorderProcessed {
			if err := s.gateway.ProcessBackorder(ctx, outcome.WizardID, picking.RemoteID, cmd.CreateBackorder); err != nil {
				return nil, validationError(err)
			}
		}
		result.Outcome = "backorder"
		result.BackorderCreated = cmd.CreateBackorder
		s.observeBackorder(cmd.CreateBackorder)
	default:
		result.Outcome = "validated"
	}

	partial := result.Shortfall || result.Outcome == "backorder"
	order.MarkValidated(picking.RemoteID, partial)
	if result.BackorderCreated {
		order.AcceptBackorder(picking.RemoteID)
	}
	if err := s.orders.Save(ctx, order); err != nil {
		s.logger.WithError(err).Error("Failed to lock order after validation", "orderId", cmd.OrderID)
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}

	s.observeValidation(result.Outcome)
	s.publishEvents(ctx, order)

	// Refresh the mirror so the stored header reflects the validation.
	// A failure here only leaves the mirror stale.
	if s.resync != nil {
		if _, err := s.resync.SyncOrder(ctx, SyncOrderCommand{Ref: order.RemoteName}); err != nil {
			s.logger.WithError(err).Warn("Post-validation resync failed", "orderId", cmd.OrderID)
		}
	}

	s.logger.LogBusinessEvent(ctx, logging.BusinessEvent{
		EventType:  "shipment.validated",
		EntityType: "order",
		EntityID:   cmd.OrderID,
		Action:     result.Outcome,
		RelatedIDs: map[string]string{"pickingId": fmt.Sprintf("%d", picking.RemoteID)},
	})

	return result, nil
}

// openPickingPreference orders the states an open shipment may be in,
// most actionable first.
var openPickingPreference = []domain.PickingState{
	domain.StateAssigned,
	domain.StateConfirmed,
	domain.StateWaiting,
	domain.StateDraft,
}

func (s *FulfillmentService) openPicking(ctx context.Context, order *domain.Order) (*odoo.PickingPayload, error) {
	pickings, err := s.gateway.PickingsByOrigin(ctx, order.OriginRefs())
	if err != nil {
		return nil, err
	}

	for _, state := range openPickingPreference {
		for i := range pickings {
			if domain.PickingState(pickings[i].State) == state {
				return &pickings[i], nil
			}
		}
	}
	return nil, nil
}

// GetBestDeliveryState reports the most advanced delivery state across
// the order's shipment documents, from the stored snapshot first and
// the local mirror as fallback.
func (s *FulfillmentService) GetBestDeliveryState(ctx context.Context, orderID string) (*DeliveryStateDTO, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	records, err := s.records.FindByOrigin(ctx, order.OriginRefs())
	if err != nil {
		return nil, err
	}

	dto := &DeliveryStateDTO{OrderID: orderID}
	if state := domain.BestDeliveryState(order, records); state != nil {
		value := string(*state)
		dto.State = &value
	}
	return dto, nil
}

// ConfirmOrder triggers the remote confirmation. Orders already
// confirmed, done or cancelled are left alone.
func (s *FulfillmentService) ConfirmOrder(ctx context.Context, orderID string) (*OrderDTO, error) {
	return s.orderAction(ctx, orderID, "confirm", []string{"sale", "done", "cancel"}, s.gateway.ConfirmOrder)
}

// CancelOrder triggers the remote cancellation. Already cancelled
// orders are left alone.
func (s *FulfillmentService) CancelOrder(ctx context.Context, orderID string) (*OrderDTO, error) {
	return s.orderAction(ctx, orderID, "cancel", []string{"cancel"}, s.gateway.CancelOrder)
}

func (s *FulfillmentService) orderAction(
	ctx context.Context,
	orderID, action string,
	noopStates []string,
	fn func(ctx context.Context, remoteID int64) error,
) (*OrderDTO, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.RemoteID == 0 {
		return nil, apperrors.ErrValidation("order has no remote id")
	}

	for _, state := range noopStates {
		if order.Status == state {
			s.logger.Info("Order action skipped", "orderId", orderID, "action", action, "state", order.Status)
			return ToOrderDTO(order), nil
		}
	}

	if err := fn(ctx, order.RemoteID); err != nil {
		return nil, err
	}

	if s.resync != nil {
		if dto, err := s.resync.SyncOrder(ctx, SyncOrderCommand{Ref: order.RemoteName}); err == nil {
			return dto, nil
		} else {
			s.logger.WithError(err).Warn("Resync after order action failed", "orderId", orderID)
		}
	}

	order, err = s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return ToOrderDTO(order), nil
}

// RefreshLines re-pulls the order's remote lines and per-product stock
// on hand. Prepared quantities recorded on surviving lines are kept.
func (s *FulfillmentService) RefreshLines(ctx context.Context, orderID string) (*OrderDTO, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.RemoteID == 0 {
		return nil, apperrors.ErrValidation("order has no remote id")
	}

	payloadLines, err := s.gateway.FetchLines(ctx, order.RemoteID)
	if err != nil {
		return nil, err
	}

	lines := LinesFromPayload(payloadLines)
	productIDs := make([]int64, 0, len(lines))
	for _, l := range lines {
		productIDs = append(productIDs, l.ProductID)
	}

	stock, err := s.gateway.StockByProduct(ctx, productIDs)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to read stock on hand", "orderId", orderID)
	} else {
		for i := range lines {
			if qty, ok := stock[lines[i].ProductID]; ok {
				value := qty
				lines[i].StockOnHand = &value
			}
		}
	}

	order.ReplaceLines(lines)
	if err := s.orders.Save(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to save refreshed lines: %w", err)
	}

	return ToOrderDTO(order), nil
}

// ListDeliveries lists mirrored delivery documents.
func (s *FulfillmentService) ListDeliveries(ctx context.Context, query ListDeliveriesQuery) ([]DeliveryDTO, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 50
	}

	records, err := s.records.List(ctx, domain.PickingState(query.State), limit, query.Offset)
	if err != nil {
		return nil, err
	}

	out := make([]DeliveryDTO, 0, len(records))
	for _, r := range records {
		out = append(out, ToDeliveryDTO(r))
	}
	return out, nil
}

// CreateLabel asks the configured carrier for a shipment and label.
// A missing label document is not an error as long as the carrier
// handed back a tracking number.
func (s *FulfillmentService) CreateLabel(ctx context.Context, orderID string) (*LabelDTO, error) {
	if s.labeler == nil {
		return nil, apperrors.ErrValidation("no carrier integration configured")
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	label, err := s.labeler.CreateShipment(ctx, order, s.settings.DefaultLabelFormat)
	if err != nil {
		return nil, err
	}
	if len(label.Label) == 0 {
		s.logger.Warn("Carrier returned no label document", "orderId", orderID, "tracking", label.TrackingNumber)
	}

	return &LabelDTO{
		OrderID:        orderID,
		TrackingNumber: label.TrackingNumber,
		Label:          label.Label,
		MIME:           label.MIME,
	}, nil
}

func validationError(err error) error {
	var rpcErr *odoo.RPCError
	if errors.As(err, &rpcErr) {
		return apperrors.ErrValidationFailed(rpcErr.Message, err)
	}
	return err
}

func (s *FulfillmentService) observePush(ok bool) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	s.metrics.QuantitiesPushed.WithLabelValues(s.metrics.ServiceName(), result).Inc()
}

func (s *FulfillmentService) observeValidation(outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.ShipmentsValidated.WithLabelValues(s.metrics.ServiceName(), outcome).Inc()
}

func (s *FulfillmentService) observeBackorder(accepted bool) {
	if s.metrics == nil {
		return
	}
	policy := "accept"
	if !accepted {
		policy = "cancel"
	}
	s.metrics.BackordersProcessed.WithLabelValues(s.metrics.ServiceName(), policy).Inc()
}

// publishEvents drains the events recorded on the aggregate.
func (s *FulfillmentService) publishEvents(ctx context.Context, order *domain.Order) {
	for _, event := range order.DomainEvents() {
		publishEvent(ctx, s.producer, s.logger, event)
	}
	order.ClearDomainEvents()
}
