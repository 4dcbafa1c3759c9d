package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"jito-bundler-sol/internal/config"
	"jito-bundler-sol/internal/consts"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcHandler func(method string, params json.RawMessage) (any, *RPCError)

func newRelayServer(t *testing.T, h rpcHandler) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/bundles":
			var req struct {
				ID     uint64          `json:"id"`
				Method string          `json:"method"`
				Params json.RawMessage `json:"params"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			result, rpcErr := h(req.Method, req.Params)
			resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
			if rpcErr != nil {
				resp["error"] = rpcErr
			} else {
				resp["result"] = result
			}
			_ = json.NewEncoder(w).Encode(resp)
		case "/api/v1/bundles/tip_floor":
			_, _ = w.Write([]byte(`[{"time":"2025-01-01T00:00:00Z","landed_tips_25th_percentile":0.000001,
				"landed_tips_50th_percentile":0.00001,"landed_tips_75th_percentile":0.0000123456,
				"landed_tips_95th_percentile":0.001,"landed_tips_99th_percentile":0.01,
				"ema_landed_tips_50th_percentile":0.00002}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestClient(srv *httptest.Server) *Client {
	c := config.Default().Relay
	c.BlockEngineURL = srv.URL + "/api/v1"
	c.BundlesURL = srv.URL + "/api/v1"
	c.TimeoutMs = 2000
	c.RetryCount = 0
	return NewClient(c)
}

func TestSendBundle(t *testing.T) {
	srv, _ := newRelayServer(t, func(method string, params json.RawMessage) (any, *RPCError) {
		assert.Equal(t, "sendBundle", method)
		var p []json.RawMessage
		require.NoError(t, json.Unmarshal(params, &p))
		require.Len(t, p, 2)
		assert.JSONEq(t, `["AQ==","Ag=="]`, string(p[0]))
		assert.JSONEq(t, `{"encoding":"base64"}`, string(p[1]))
		return "bundle-1", nil
	})
	id, err := newTestClient(srv).SendBundle(context.Background(), []string{"AQ==", "Ag=="})
	require.NoError(t, err)
	assert.Equal(t, "bundle-1", id)
}

func TestSendBundle_RPCError(t *testing.T) {
	srv, _ := newRelayServer(t, func(string, json.RawMessage) (any, *RPCError) {
		return nil, &RPCError{Code: -32602, Message: "bundle contains an already processed transaction"}
	})
	_, err := newTestClient(srv).SendBundle(context.Background(), []string{"AQ=="})
	require.Error(t, err)
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, -32602, rpcErr.Code)
}

func TestSendBundle_EmptyResult(t *testing.T) {
	srv, _ := newRelayServer(t, func(string, json.RawMessage) (any, *RPCError) {
		return "", nil
	})
	id, err := newTestClient(srv).SendBundle(context.Background(), []string{"AQ=="})
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestGetInflightBundleStatuses(t *testing.T) {
	srv, _ := newRelayServer(t, func(method string, params json.RawMessage) (any, *RPCError) {
		assert.Equal(t, "getInflightBundleStatuses", method)
		assert.JSONEq(t, `[["b1","b2"]]`, string(params))
		return json.RawMessage(`{"context":{"slot":10},"value":[
			{"bundle_id":"b1","status":"Landed","landed_slot":9},
			null]}`), nil
	})
	out, err := newTestClient(srv).GetInflightBundleStatuses(context.Background(), []string{"b1", "b2"})
	require.NoError(t, err)
	require.Len(t, out.Value, 2)
	assert.Equal(t, "Landed", out.Value[0].Status)
	require.NotNil(t, out.Value[0].LandedSlot)
	assert.Equal(t, uint64(9), *out.Value[0].LandedSlot)
	assert.Nil(t, out.Value[1])
}

func TestGetInflightBundleStatuses_UnknownStatus(t *testing.T) {
	srv, _ := newRelayServer(t, func(string, json.RawMessage) (any, *RPCError) {
		return json.RawMessage(`{"context":{"slot":10},"value":[{"bundle_id":"b1","status":"Weird"}]}`), nil
	})
	_, err := newTestClient(srv).GetInflightBundleStatuses(context.Background(), []string{"b1"})
	require.Error(t, err)
}

func TestGetBundleStatuses(t *testing.T) {
	srv, _ := newRelayServer(t, func(method string, _ json.RawMessage) (any, *RPCError) {
		assert.Equal(t, "getBundleStatuses", method)
		return json.RawMessage(`{"context":{"slot":10},"value":[
			{"bundle_id":"b1","transactions":["sig1","sig2"],"slot":9,"confirmation_status":"confirmed","err":{"Ok":null}}]}`), nil
	})
	out, err := newTestClient(srv).GetBundleStatuses(context.Background(), []string{"b1"})
	require.NoError(t, err)
	require.Len(t, out.Value, 1)
	assert.Equal(t, []string{"sig1", "sig2"}, out.Value[0].Transactions)
	assert.False(t, out.Value[0].Failed())
}

func TestGetBundleStatuses_TooManyIDs(t *testing.T) {
	srv, calls := newRelayServer(t, func(string, json.RawMessage) (any, *RPCError) { return nil, nil })
	ids := make([]string, consts.MaxBundleStatusQuery+1)
	_, err := newTestClient(srv).GetBundleStatuses(context.Background(), ids)
	require.Error(t, err)
	assert.Zero(t, calls.Load())
}

func TestBundleStatusDetail_Failed(t *testing.T) {
	cases := map[string]bool{
		``:                   false,
		`null`:               false,
		`{"Ok":null}`:        false,
		`{"Err":"oops"}`:     true,
		`"InstructionError"`: true,
	}
	for raw, want := range cases {
		d := BundleStatusDetail{Err: json.RawMessage(raw)}
		assert.Equal(t, want, d.Failed(), raw)
	}
}

func TestGetTipAccounts(t *testing.T) {
	srv, _ := newRelayServer(t, func(method string, params json.RawMessage) (any, *RPCError) {
		assert.Equal(t, "getTipAccounts", method)
		assert.JSONEq(t, `[]`, string(params))
		return consts.JitoTipAccountStrs[:2], nil
	})
	out, err := newTestClient(srv).GetTipAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, consts.JitoTipAccountStrs[:2], out)
}

func TestGetTipAccounts_Invalid(t *testing.T) {
	srv, _ := newRelayServer(t, func(string, json.RawMessage) (any, *RPCError) {
		return []string{"not-base58-0OIl"}, nil
	})
	_, err := newTestClient(srv).GetTipAccounts(context.Background())
	require.Error(t, err)
}

func TestGetTipFloor(t *testing.T) {
	srv, _ := newRelayServer(t, nil)
	floor, err := newTestClient(srv).GetTipFloor(context.Background())
	require.NoError(t, err)
	p75, ok := floor.Percentile(75)
	require.True(t, ok)
	assert.InDelta(t, 0.0000123456, p75, 1e-12)
	_, ok = floor.Percentile(80)
	assert.False(t, ok)
}

func TestHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("overloaded"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).SendBundle(context.Background(), []string{"AQ=="})
	require.Error(t, err)
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
}
