package pluginsupervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// HTTPTransport speaks JSON-RPC to a plugin over HTTP, POSTing every
// request/notification to "<base>/rpc". Unlike the MCP HTTP/SSE
// transport it grounds on, plugins never push notifications over
// this transport — the execute/initialize/health/shutdown protocol is
// purely request/response, so no SSE listener is needed.
type HTTPTransport struct {
	runtime RuntimeInfo
	logger  *slog.Logger
	client  *http.Client
	url     string

	notifs    chan *RPCNotification
	connected atomic.Bool
}

// NewHTTPTransport constructs an HTTP transport pointed at
// runtime.http_url, with <base>/rpc as the single endpoint.
func NewHTTPTransport(runtime RuntimeInfo, logger *slog.Logger) *HTTPTransport {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := runtime.Timeout
	if timeout <= 0 {
		timeout = DefaultExecuteTimeout
	}
	base := strings.TrimRight(runtime.HTTPURL, "/")
	return &HTTPTransport{
		runtime: runtime,
		logger:  logger.With("transport", "http"),
		client:  &http.Client{Timeout: timeout},
		url:     base + "/rpc",
		notifs:  make(chan *RPCNotification),
	}
}

// Connect validates configuration; the HTTP transport has no
// persistent connection to establish.
func (t *HTTPTransport) Connect(ctx context.Context) error {
	if t.runtime.HTTPURL == "" {
		return fmt.Errorf("http transport: runtime.http_url is required")
	}
	t.connected.Store(true)
	t.logger.Info("http transport ready", "url", t.url)
	return nil
}

// Close marks the transport disconnected and releases the (unused)
// notification channel so relays observing it can exit.
func (t *HTTPTransport) Close() error {
	if t.connected.CompareAndSwap(true, false) {
		close(t.notifs)
	}
	return nil
}

// Call POSTs a JSON-RPC request and parses the response body. Per the
// external interface, the server answers 2xx regardless of whether
// the RPC body carries an error object.
func (t *HTTPTransport) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("plugin not running")
	}
	if timeout <= 0 {
		timeout = DefaultExecuteTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := RPCRequest{JSONRPC: "2.0", Method: method}
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = encoded
	}
	body, err := json.Marshal(struct {
		RPCRequest
		ID string `json:"id"`
	}{RPCRequest: req, ID: uuid.New().String()})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("plugin error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

// Notifications returns a channel that never receives a value: the
// HTTP transport has no server-push path in this protocol.
func (t *HTTPTransport) Notifications() <-chan *RPCNotification { return t.notifs }

// Connected reports whether Connect succeeded and Close has not run.
func (t *HTTPTransport) Connected() bool { return t.connected.Load() }
