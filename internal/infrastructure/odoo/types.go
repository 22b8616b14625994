package odoo

import (
	"time"
)

// The remote system serializes empty relational and char fields as the
// JSON literal false, and many2one fields as [id, label] pairs. The
// helpers below absorb those shapes.

func many2oneID(v interface{}) int64 {
	switch t := v.(type) {
	case []interface{}:
		if len(t) > 0 {
			return asInt64(t[0])
		}
	case float64:
		return int64(t)
	}
	return 0
}

func many2oneLabel(v interface{}) string {
	if pair, ok := v.([]interface{}); ok && len(pair) > 1 {
		if label, ok := pair[1].(string); ok {
			return label
		}
	}
	return ""
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int64:
		return t
	case int:
		return int64(t)
	}
	return 0
}

func asFloat(v interface{}) float64 {
	if f, ok := v.(float64); ok {
		return f
	}
	return 0
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asIDList(v interface{}) []int64 {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	ids := make([]int64, 0, len(list))
	for _, item := range list {
		if id := asInt64(item); id > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// remoteTimeLayout is the datetime format the remote system uses.
const remoteTimeLayout = "2006-01-02 15:04:05"

func asTime(v interface{}) *time.Time {
	s := asString(v)
	if s == "" {
		return nil
	}
	t, err := time.Parse(remoteTimeLayout, s)
	if err != nil {
		return nil
	}
	return &t
}

// OrderRef identifies one remote sale order in a search result.
type OrderRef struct {
	ID   int64
	Name string
}

// LinePayload is one sale order line read from the remote system.
type LinePayload struct {
	RemoteLineID int64
	ProductID    int64
	Name         string
	OrderedQty   float64
}

// PickingPayload is one shipment document read from the remote system.
type PickingPayload struct {
	RemoteID    int64
	Name        string
	Origin      string
	State       string
	ScheduledAt *time.Time
	UpdatedAt   *time.Time
	Raw         map[string]interface{}
}

// PartnerPayload is the shipping partner resolved for an order.
type PartnerPayload struct {
	Name        string
	Street      string
	Street2     string
	Zip         string
	City        string
	CountryCode string
	Phone       string
	Email       string
}

// OrderPayload is the structured remote sale order a sync consumes:
// header, shipping partner, lines and shipment summaries, plus the raw
// header fields kept as the local snapshot.
type OrderPayload struct {
	RemoteID       int64
	Name           string
	State          string
	DeliveryStatus string
	AmountTotal    float64
	Currency       string
	PlacedAt       *time.Time
	Partner        *PartnerPayload
	Lines          []LinePayload
	Pickings       []PickingPayload
	Raw            map[string]interface{}
}
