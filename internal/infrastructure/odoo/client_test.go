package odoo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/bluepicking/fulfillment-service/pkg/errors"
	"github.com/bluepicking/fulfillment-service/pkg/logging"
)

type rpcCall struct {
	Service string
	Method  string
	Args    []interface{}
}

// newRPCServer fakes the remote JSON-RPC endpoint. The handler decides
// the response per decoded call.
func newRPCServer(t *testing.T, handle func(call rpcCall) (interface{}, map[string]interface{})) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Params struct {
				Service string        `json:"service"`
				Method  string        `json:"method"`
				Args    []interface{} `json:"args"`
			} `json:"params"`
			ID int64 `json:"id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		result, rpcErr := handle(rpcCall{
			Service: req.Params.Service,
			Method:  req.Params.Method,
			Args:    req.Params.Args,
		})

		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func testClient(t *testing.T, url string) *Client {
	t.Helper()
	client, err := NewClient(&Config{
		URL:     url,
		DB:      "warehouse",
		Login:   "api@example.com",
		APIKey:  "secret",
		Timeout: 5 * time.Second,
	}, logging.New(logging.DefaultConfig("test")), nil)
	require.NoError(t, err)
	return client
}

func TestClientLoginCachedAcrossCalls(t *testing.T) {
	var logins, executes int64
	server := newRPCServer(t, func(call rpcCall) (interface{}, map[string]interface{}) {
		switch {
		case call.Service == "common" && call.Method == "login":
			atomic.AddInt64(&logins, 1)
			return 7, nil
		case call.Service == "object" && call.Method == "execute_kw":
			atomic.AddInt64(&executes, 1)
			return []map[string]interface{}{}, nil
		}
		t.Fatalf("unexpected call %s.%s", call.Service, call.Method)
		return nil, nil
	})
	defer server.Close()

	client := testClient(t, server.URL)
	ctx := context.Background()

	_, err := client.ExecuteKW(ctx, "sale.order", "search_read", []interface{}{}, nil)
	require.NoError(t, err)
	_, err = client.ExecuteKW(ctx, "sale.order", "search_read", []interface{}{}, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(1), atomic.LoadInt64(&logins))
	assert.Equal(t, int64(2), atomic.LoadInt64(&executes))
}

func TestClientReloginOnceOnSessionExpired(t *testing.T) {
	var logins, executes int64
	server := newRPCServer(t, func(call rpcCall) (interface{}, map[string]interface{}) {
		switch {
		case call.Service == "common" && call.Method == "login":
			atomic.AddInt64(&logins, 1)
			return 7, nil
		case call.Service == "object" && call.Method == "execute_kw":
			n := atomic.AddInt64(&executes, 1)
			if n == 1 {
				return nil, map[string]interface{}{
					"message": "Odoo Server Error",
					"data":    map[string]interface{}{"message": "Session expired"},
				}
			}
			return true, nil
		}
		return nil, nil
	})
	defer server.Close()

	client := testClient(t, server.URL)

	_, err := client.ExecuteKW(context.Background(), "sale.order", "action_confirm", []interface{}{[]int64{1}}, nil)

	require.NoError(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(&logins))
	assert.Equal(t, int64(2), atomic.LoadInt64(&executes))
}

func TestClientSurfacesRemoteBusinessError(t *testing.T) {
	server := newRPCServer(t, func(call rpcCall) (interface{}, map[string]interface{}) {
		if call.Service == "common" {
			return 7, nil
		}
		return nil, map[string]interface{}{
			"message": "Odoo Server Error",
			"data":    map[string]interface{}{"message": "You can not confirm a cancelled order."},
		}
	})
	defer server.Close()

	client := testClient(t, server.URL)

	_, err := client.ExecuteKW(context.Background(), "sale.order", "action_confirm", []interface{}{[]int64{1}}, nil)

	require.Error(t, err)
	rpcErr, ok := err.(*RPCError)
	require.True(t, ok)
	assert.Contains(t, rpcErr.Detail, "cancelled order")
}

func TestClientUnreachableEndpointIsRemoteUnavailable(t *testing.T) {
	server := newRPCServer(t, func(call rpcCall) (interface{}, map[string]interface{}) {
		return 7, nil
	})
	server.Close()

	client := testClient(t, server.URL)

	_, err := client.ExecuteKW(context.Background(), "sale.order", "read", []interface{}{[]int64{1}}, nil)

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeRemoteUnavailable))
}

func TestClientInvalidLoginResult(t *testing.T) {
	server := newRPCServer(t, func(call rpcCall) (interface{}, map[string]interface{}) {
		return false, nil
	})
	defer server.Close()

	client := testClient(t, server.URL)

	_, err := client.ExecuteKW(context.Background(), "sale.order", "read", []interface{}{[]int64{1}}, nil)

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeAuthExpired))
}

func TestRPCErrorSessionDetection(t *testing.T) {
	assert.True(t, (&RPCError{Message: "Session expired"}).IsSessionExpired())
	assert.True(t, (&RPCError{Message: "odoo.exceptions.AccessDenied", Detail: "Access Denied"}).IsSessionExpired())
	assert.False(t, (&RPCError{Message: "ValidationError", Detail: "bad input"}).IsSessionExpired())
}
