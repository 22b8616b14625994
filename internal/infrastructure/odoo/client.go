package odoo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	apperrors "github.com/bluepicking/fulfillment-service/pkg/errors"
	"github.com/bluepicking/fulfillment-service/pkg/logging"
	"github.com/bluepicking/fulfillment-service/pkg/metrics"
	"github.com/bluepicking/fulfillment-service/pkg/resilience"
)

// Config holds the remote endpoint configuration
type Config struct {
	URL     string
	DB      string
	Login   string
	APIKey  string
	Timeout time.Duration
}

// Validate checks the required fields
func (c *Config) Validate() error {
	if c.URL == "" || c.DB == "" || c.Login == "" || c.APIKey == "" {
		return fmt.Errorf("odoo: URL, DB, Login and APIKey are all required")
	}
	return nil
}

// RPCError is a business error returned by the remote system.
type RPCError struct {
	Message string
	Detail  string
}

func (e *RPCError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("odoo rpc: %s %s", e.Message, e.Detail)
	}
	return fmt.Sprintf("odoo rpc: %s", e.Message)
}

// IsSessionExpired reports whether the error means the cached session
// is no longer valid and a re-login is worth attempting.
func (e *RPCError) IsSessionExpired() bool {
	text := strings.ToLower(e.Message + " " + e.Detail)
	return strings.Contains(text, "session expired") ||
		strings.Contains(text, "sessionexpired") ||
		strings.Contains(text, "access denied")
}

// Client is a JSON-RPC 2.0 client for the remote ERP endpoint.
// Authentication is session based: the first call logs in and caches
// the uid for the process lifetime; a call failing with an auth error
// re-logs in once transparently and retries.
type Client struct {
	httpClient *http.Client
	url        string
	db         string
	login      string
	apiKey     string

	mu  sync.Mutex
	uid int64

	breaker *resilience.CircuitBreaker
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewClient creates a new Client
func NewClient(config *Config, logger *logging.Logger, m *metrics.Metrics) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		url:        strings.TrimRight(config.URL, "/") + "/jsonrpc",
		db:         config.DB,
		login:      config.Login,
		apiKey:     config.APIKey,
		breaker:    resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("odoo"), logger.Logger),
		logger:     logger.WithComponent("odoo_client"),
		metrics:    m,
	}, nil
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      int64     `json:"id"`
}

type rpcParams struct {
	Service string        `json:"service"`
	Method  string        `json:"method"`
	Args    []interface{} `json:"args"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
		Data    struct {
			Message string `json:"message"`
		} `json:"data"`
	} `json:"error"`
}

// call performs one raw JSON-RPC round trip.
func (c *Client) call(ctx context.Context, service, method string, args []interface{}) (json.RawMessage, error) {
	payload := rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  rpcParams{Service: service, Method: method, Args: args},
		ID:      rand.Int63(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rpc request: %w", err)
	}

	start := time.Now()
	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, apperrors.ErrRemoteUnavailable(err)
		}
		defer resp.Body.Close()

		var decoded rpcResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return nil, apperrors.ErrRemoteUnavailable(fmt.Errorf("invalid rpc response: %w", err))
		}

		if decoded.Error != nil {
			return nil, &RPCError{
				Message: decoded.Error.Message,
				Detail:  decoded.Error.Data.Message,
			}
		}
		return decoded.Result, nil
	})

	duration := time.Since(start)
	if c.metrics != nil {
		c.metrics.ObserveRemoteCall(service, method, err == nil, duration)
	}
	if c.logger != nil {
		c.logger.RemoteCall(ctx, service, method, duration, err == nil)
	}

	if err != nil {
		return nil, err
	}
	return result.(json.RawMessage), nil
}

// ensureLogin logs in and caches the uid if not already cached.
func (c *Client) ensureLogin(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.uid > 0 {
		return c.uid, nil
	}

	raw, err := c.call(ctx, "common", "login", []interface{}{c.db, c.login, c.apiKey})
	if err != nil {
		return 0, err
	}

	var uid int64
	if err := json.Unmarshal(raw, &uid); err != nil || uid <= 0 {
		return 0, apperrors.ErrAuthExpired(fmt.Errorf("login returned no valid uid"))
	}

	c.uid = uid
	c.logger.Info("Remote login succeeded", "uid", uid)
	return uid, nil
}

// resetSession drops the cached uid so the next call logs in again.
func (c *Client) resetSession() {
	c.mu.Lock()
	c.uid = 0
	c.mu.Unlock()
}

// ExecuteKW invokes a model method through execute_kw.
func (c *Client) ExecuteKW(ctx context.Context, model, method string, args []interface{}, kwargs map[string]interface{}) (json.RawMessage, error) {
	if kwargs == nil {
		kwargs = map[string]interface{}{}
	}

	uid, err := c.ensureLogin(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := c.call(ctx, "object", "execute_kw", []interface{}{
		c.db, uid, c.apiKey, model, method, args, kwargs,
	})

	var rpcErr *RPCError
	if err != nil && errors.As(err, &rpcErr) && rpcErr.IsSessionExpired() {
		// One transparent re-login, then retry the call once.
		c.resetSession()
		if c.metrics != nil {
			c.metrics.RemoteRelogins.Inc()
		}
		c.logger.Warn("Remote session expired, re-logging in", "model", model, "method", method)

		uid, err = c.ensureLogin(ctx)
		if err != nil {
			return nil, apperrors.ErrAuthExpired(err)
		}
		raw, err = c.call(ctx, "object", "execute_kw", []interface{}{
			c.db, uid, c.apiKey, model, method, args, kwargs,
		})
	}

	if err != nil {
		return nil, err
	}
	return raw, nil
}

// SearchRead is a typed helper around the search_read method.
func (c *Client) SearchRead(ctx context.Context, model string, domain []interface{}, fields []string, limit, offset int, order string) ([]map[string]interface{}, error) {
	kwargs := map[string]interface{}{
		"fields": fields,
		"limit":  limit,
		"offset": offset,
	}
	if order != "" {
		kwargs["order"] = order
	}

	raw, err := c.ExecuteKW(ctx, model, "search_read", []interface{}{domain}, kwargs)
	if err != nil {
		return nil, err
	}

	var records []map[string]interface{}
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, apperrors.ErrInvalidPayload(fmt.Sprintf("%s search_read: %v", model, err))
	}
	return records, nil
}

// Read is a typed helper around the read method.
func (c *Client) Read(ctx context.Context, model string, ids []int64, fields []string) ([]map[string]interface{}, error) {
	kwargs := map[string]interface{}{}
	if len(fields) > 0 {
		kwargs["fields"] = fields
	}

	raw, err := c.ExecuteKW(ctx, model, "read", []interface{}{ids}, kwargs)
	if err != nil {
		return nil, err
	}

	var records []map[string]interface{}
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, apperrors.ErrInvalidPayload(fmt.Sprintf("%s read: %v", model, err))
	}
	return records, nil
}
