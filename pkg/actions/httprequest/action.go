// Package httprequest provides the HTTP request action.
package httprequest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vanyastaff/nebulav2/pkg/models"
	"github.com/vanyastaff/nebulav2/pkg/protocol"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseBody = 10 << 20
)

var (
	// ErrHTTPRequestURLInvalid is returned when the url parameter is missing or empty.
	ErrHTTPRequestURLInvalid = errors.New("invalid HTTP request url")
	// ErrHTTPClientError is returned for 4xx responses; retrying will not help.
	ErrHTTPClientError = errors.New("client error during HTTP request")
	// ErrHTTPServerError is returned for 5xx responses.
	ErrHTTPServerError = errors.New("server error during HTTP request")
)

// Action performs one HTTP request per attempt. Retries are left to the node's retry policy.
type Action struct {
	client  *http.Client
	URL     string
	Method  string
	Headers map[string]string
	Body    any
	Timeout time.Duration
}

// NewAction creates an Action from resolved parameters.
func NewAction(client *http.Client, params map[string]any) (*Action, error) {
	url, _ := params["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("missing or invalid 'url' in parameters: %w", ErrHTTPRequestURLInvalid)
	}

	method, _ := params["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	headers := make(map[string]string)

	if headersMap, ok := params["headers"].(map[string]any); ok {
		for k, v := range headersMap {
			headers[k] = fmt.Sprint(v)
		}
	}

	timeout := defaultTimeout
	if seconds, ok := params["timeout_seconds"].(float64); ok && seconds > 0 {
		timeout = time.Duration(seconds * float64(time.Second))
	}

	return &Action{
		client:  client,
		URL:     url,
		Method:  strings.ToUpper(method),
		Headers: headers,
		Body:    params["body"],
		Timeout: timeout,
	}, nil
}

// Execute sends the request and produces the response on the main port.
// 4xx responses fail permanently; 5xx and transport errors are retryable.
func (a *Action) Execute(ctx context.Context, actionCtx protocol.ActionContext) (map[string]any, error) {
	logger := actionCtx.Log().With("module", "http_request_action")

	ctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	req, err := a.buildRequest(ctx)
	if err != nil {
		return nil, protocol.Permanent(err)
	}

	logger.DebugContext(ctx, "Sending HTTP request", "method", a.Method, "url", a.URL)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var body any

	err = json.Unmarshal(bodyBytes, &body)
	if err != nil {
		body = string(bodyBytes)
	}

	headers := make(map[string]any, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	logger.InfoContext(ctx, "HTTP request completed", "status", resp.StatusCode, "bytes", len(bodyBytes))

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%s %s returned %d: %w", a.Method, a.URL, resp.StatusCode, ErrHTTPServerError)
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, protocol.Permanent(
			fmt.Errorf("%s %s returned %d: %w", a.Method, a.URL, resp.StatusCode, ErrHTTPClientError))
	}

	return map[string]any{
		models.DefaultPort: map[string]any{
			"status_code": resp.StatusCode,
			"body":        body,
			"headers":     headers,
		},
	}, nil
}

func (a *Action) buildRequest(ctx context.Context) (*http.Request, error) {
	var (
		reader      io.Reader
		contentType string
	)

	switch body := a.Body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(body)
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}

		reader = bytes.NewReader(encoded)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, a.Method, a.URL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	for key, value := range a.Headers {
		req.Header.Set(key, value)
	}

	return req, nil
}
