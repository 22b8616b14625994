package application

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bluepicking/fulfillment-service/internal/domain"
	"github.com/bluepicking/fulfillment-service/internal/infrastructure/odoo"
	apperrors "github.com/bluepicking/fulfillment-service/pkg/errors"
	"github.com/bluepicking/fulfillment-service/pkg/kafka"
	"github.com/bluepicking/fulfillment-service/pkg/logging"
	"github.com/bluepicking/fulfillment-service/pkg/metrics"
)

// RemoteOrderSource is the remote read surface the sync service consumes.
type RemoteOrderSource interface {
	FetchOrder(ctx context.Context, ref string) (*odoo.OrderPayload, error)
	ListOrderRefs(ctx context.Context, states []string, since, until string, limit, offset int) ([]odoo.OrderRef, error)
	SearchPickings(ctx context.Context, states []string, since string, limit, offset int) ([]odoo.PickingPayload, error)
}

// SyncService mirrors remote sale orders and delivery documents into
// local storage.
type SyncService struct {
	orders   domain.OrderRepository
	records  domain.FulfillmentRecordRepository
	remote   RemoteOrderSource
	producer *kafka.Producer
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// NewSyncService creates a new SyncService. The producer may be nil
// when event publishing is disabled.
func NewSyncService(
	orders domain.OrderRepository,
	records domain.FulfillmentRecordRepository,
	remote RemoteOrderSource,
	producer *kafka.Producer,
	logger *logging.Logger,
	m *metrics.Metrics,
) *SyncService {
	return &SyncService{
		orders:   orders,
		records:  records,
		remote:   remote,
		producer: producer,
		logger:   logger.WithComponent("sync_service"),
		metrics:  m,
	}
}

// SyncOrder imports one remote order, replacing the local mirror while
// keeping recorded prepared quantities. The order's delivery documents
// are mirrored in the same pass.
func (s *SyncService) SyncOrder(ctx context.Context, cmd SyncOrderCommand) (*OrderDTO, error) {
	ref := strings.TrimSpace(cmd.Ref)
	if ref == "" {
		return nil, apperrors.ErrValidation("order reference is required")
	}

	payload, err := s.remote.FetchOrder(ctx, ref)
	if err != nil {
		s.observeOrderSync(false)
		return nil, err
	}

	order, err := OrderFromPayload(payload)
	if err != nil {
		s.observeOrderSync(false)
		return nil, apperrors.ErrInvalidPayload(err.Error())
	}

	if _, err := s.orders.Upsert(ctx, order); err != nil {
		s.observeOrderSync(false)
		s.logger.WithError(err).Error("Failed to store order", "ref", ref)
		return nil, fmt.Errorf("failed to store order: %w", err)
	}

	for _, p := range payload.Pickings {
		record := RecordFromPayload(p)
		if record.Origin == "" {
			record.Origin = order.RemoteName
		}
		if err := s.records.Upsert(ctx, record); err != nil {
			s.logger.WithError(err).Warn("Failed to mirror delivery document", "pickingId", p.RemoteID)
		}
	}

	s.observeOrderSync(true)
	order.MarkSynced()
	s.publishEvents(ctx, order)
	s.logger.Info("Synced order", "ref", ref, "remoteId", order.RemoteID, "lines", len(order.Lines))

	return ToOrderDTO(order), nil
}

// SyncBatch imports all remote orders matching the window, counting
// failures per item instead of aborting the run.
func (s *SyncService) SyncBatch(ctx context.Context, cmd SyncBatchCommand) (*BatchResultDTO, error) {
	limit := cmd.Limit
	if limit <= 0 {
		limit = 100
	}

	refs, err := s.remote.ListOrderRefs(ctx, cmd.States, cmd.Since, cmd.Until, limit, cmd.Offset)
	if err != nil {
		return nil, err
	}

	result := &BatchResultDTO{}
	for _, ref := range refs {
		if _, err := s.SyncOrder(ctx, SyncOrderCommand{Ref: ref.Name}); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", ref.Name, err))
			continue
		}
		result.Imported++
		result.LastRef = ref.Name
	}

	if result.Failed > 0 {
		return result, apperrors.ErrPartialSync(result.Imported, result.Failed)
	}
	return result, nil
}

// SyncPickings refreshes the local delivery-document mirror.
func (s *SyncService) SyncPickings(ctx context.Context, cmd SyncPickingsCommand) (int, error) {
	limit := cmd.Limit
	if limit <= 0 {
		limit = 200
	}

	pickings, err := s.remote.SearchPickings(ctx, cmd.States, cmd.Since, limit, cmd.Offset)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, p := range pickings {
		if err := s.records.Upsert(ctx, RecordFromPayload(p)); err != nil {
			s.logger.WithError(err).Warn("Failed to mirror delivery document", "pickingId", p.RemoteID)
			continue
		}
		count++
		if s.metrics != nil {
			s.metrics.PickingsSynced.Inc()
		}
	}

	s.logger.Info("Mirrored delivery documents", "count", count)
	return count, nil
}

// SyncWebhook extracts order references from a remote notification and
// syncs each one, counting failures per item.
func (s *SyncService) SyncWebhook(ctx context.Context, body map[string]interface{}) (*BatchResultDTO, error) {
	targets := ExtractWebhookTargets(body)
	if len(targets) == 0 {
		return nil, apperrors.ErrInvalidPayload("no sale order reference in notification")
	}

	result := &BatchResultDTO{}
	for _, ref := range targets {
		if _, err := s.SyncOrder(ctx, SyncOrderCommand{Ref: ref}); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", ref, err))
			continue
		}
		result.Imported++
		result.LastRef = ref
	}

	if result.Failed > 0 {
		return result, apperrors.ErrPartialSync(result.Imported, result.Failed)
	}
	return result, nil
}

func (s *SyncService) observeOrderSync(ok bool) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	s.metrics.OrdersSynced.WithLabelValues(s.metrics.ServiceName(), result).Inc()
}

// publishEvents drains the events recorded on the aggregate.
func (s *SyncService) publishEvents(ctx context.Context, order *domain.Order) {
	for _, event := range order.DomainEvents() {
		publishEvent(ctx, s.producer, s.logger, event)
	}
	order.ClearDomainEvents()
}

// eventTopic routes a domain event type onto its topic.
func eventTopic(eventType string) string {
	switch eventType {
	case domain.EventShipmentValidated:
		return kafka.Topics.ShipmentsEvents
	case domain.EventBackorderCreated:
		return kafka.Topics.BackordersEvents
	default:
		return kafka.Topics.OrdersEvents
	}
}

func publishEvent(ctx context.Context, producer *kafka.Producer, logger *logging.Logger, event domain.DomainEvent) {
	if producer == nil {
		return
	}
	kafkaEvent := kafka.NewEvent(event.EventType(), "fulfillment-service", event.AggregateID(), event)
	if err := producer.PublishEvent(ctx, eventTopic(event.EventType()), kafkaEvent); err != nil {
		logger.WithError(err).Warn("Failed to publish event", "type", event.EventType())
	}
}

// ExtractWebhookTargets pulls sale order references out of the remote
// system's notification payloads. Senders wrap the subject in several
// shapes; all of them are accepted:
//
//	{"model": "sale.order", "id": 5}
//	{"model": "sale.order,write", "ids": [5, 6]}
//	{"model": "sale.order", "records": [{"id": 5}, {"name": "SO-6"}]}
//	{"resource": "sale.order", "payload": {"id": 5}}
//	{"data": {"model": "sale.order", "name": "SO-5"}}
func ExtractWebhookTargets(body map[string]interface{}) []string {
	model, node := webhookModelNode(body)
	if !strings.HasPrefix(model, "sale.order") {
		return nil
	}

	var targets []string
	add := func(ref string) {
		if ref == "" {
			return
		}
		for _, t := range targets {
			if t == ref {
				return
			}
		}
		targets = append(targets, ref)
	}

	add(refString(node["id"]))
	add(refString(node["name"]))
	if ids, ok := node["ids"].([]interface{}); ok {
		for _, id := range ids {
			add(refString(id))
		}
	}
	if records, ok := node["records"].([]interface{}); ok {
		for _, r := range records {
			rec, ok := r.(map[string]interface{})
			if !ok {
				continue
			}
			if name := refString(rec["name"]); name != "" {
				add(name)
				continue
			}
			add(refString(rec["id"]))
		}
	}
	return targets
}

func webhookModelNode(body map[string]interface{}) (string, map[string]interface{}) {
	if model, ok := body["model"].(string); ok {
		return model, body
	}

	if resource, ok := body["resource"].(string); ok {
		if inner, ok := body["payload"].(map[string]interface{}); ok {
			return resource, inner
		}
		if inner, ok := body["data"].(map[string]interface{}); ok {
			return resource, inner
		}
		return resource, body
	}

	if inner, ok := body["data"].(map[string]interface{}); ok {
		if model, ok := inner["model"].(string); ok {
			return model, inner
		}
	}
	return "", nil
}

func refString(v interface{}) string {
	switch value := v.(type) {
	case string:
		return strings.TrimSpace(value)
	case float64:
		return strconv.FormatInt(int64(value), 10)
	case int:
		return strconv.Itoa(value)
	case int64:
		return strconv.FormatInt(value, 10)
	default:
		return ""
	}
}
