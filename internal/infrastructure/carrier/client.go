package carrier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bluepicking/fulfillment-service/internal/application"
	"github.com/bluepicking/fulfillment-service/internal/domain"
	apperrors "github.com/bluepicking/fulfillment-service/pkg/errors"
)

// Config holds the carrier API settings.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Client asks an external carrier API to create a shipment for an
// order. Implements application.ShipmentLabeler.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new carrier Client
func NewClient(config Config) *Client {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    config.URL,
		apiKey:     config.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type shipmentRequest struct {
	Reference string                 `json:"reference"`
	Format    string                 `json:"format,omitempty"`
	Recipient map[string]interface{} `json:"recipient"`
}

type shipmentResponse struct {
	TrackingNumber string `json:"trackingNumber"`
	Label          string `json:"label,omitempty"`
	MIME           string `json:"mime,omitempty"`
}

// CreateShipment posts the order's shipping details to the carrier and
// decodes the tracking number and optional base64 label document.
func (c *Client) CreateShipment(ctx context.Context, order *domain.Order, format string) (*application.ShipmentLabel, error) {
	payload := shipmentRequest{
		Reference: order.RemoteName,
		Format:    format,
		Recipient: map[string]interface{}{
			"name":    order.ShippingAddress.Name,
			"street":  order.ShippingAddress.Street,
			"street2": order.ShippingAddress.Street2,
			"city":    order.ShippingAddress.City,
			"zip":     order.ShippingAddress.Zip,
			"country": order.ShippingAddress.Country,
			"phone":   order.ShippingAddress.Phone,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode shipment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/shipments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.ErrRemoteUnavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("carrier returned status %d", resp.StatusCode)
	}

	var decoded shipmentResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, apperrors.ErrInvalidPayload(fmt.Sprintf("carrier response: %v", err))
	}
	if decoded.TrackingNumber == "" {
		return nil, apperrors.ErrInvalidPayload("carrier response misses tracking number")
	}

	label := &application.ShipmentLabel{TrackingNumber: decoded.TrackingNumber, MIME: decoded.MIME}
	if decoded.Label != "" {
		raw, err := base64.StdEncoding.DecodeString(decoded.Label)
		if err != nil {
			return nil, apperrors.ErrInvalidPayload("carrier label is not valid base64")
		}
		label.Label = raw
	}
	return label, nil
}
