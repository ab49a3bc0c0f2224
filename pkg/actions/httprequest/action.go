// Package httprequest provides the HTTP request action.
package httprequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/autoflow/pkg/actions"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/template"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseBody = 1 << 20
)

var (
	// ErrHTTPMethodInvalid is returned when the HTTP method is invalid.
	ErrHTTPMethodInvalid = errors.New("invalid HTTP method")
	// ErrHTTPRequestURLInvalid is returned when the URL is missing.
	ErrHTTPRequestURLInvalid = errors.New("invalid HTTP request url")
	// ErrHTTPClientError is returned for 4xx responses.
	ErrHTTPClientError = errors.New("client error during HTTP request")
	// ErrHTTPServerError is returned when the server returns an error status code.
	ErrHTTPServerError = errors.New("server error during HTTP request")
)

var allowedMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
	http.MethodPatch:   true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// Action performs an HTTP request.
type Action struct {
	URL        string
	Method     string
	Headers    map[string]string
	Body       string
	Timeout    time.Duration
	Idempotent bool
	Client     *http.Client
}

// NewAction creates a new Action from configuration.
func NewAction(config map[string]any) (*Action, error) {
	url := actions.String(config, "url", "")
	if url == "" {
		return nil, fmt.Errorf("missing 'url' in configuration: %w", ErrHTTPRequestURLInvalid)
	}

	method := strings.ToUpper(actions.String(config, "method", http.MethodGet))
	if !allowedMethods[method] {
		return nil, fmt.Errorf("%w: %s", ErrHTTPMethodInvalid, method)
	}

	timeout, err := actions.Duration(config, "timeout", defaultTimeout)
	if err != nil {
		return nil, err
	}

	action := &Action{
		URL:        url,
		Method:     method,
		Headers:    actions.StringMap(config, "headers"),
		Body:       actions.String(config, "body", ""),
		Timeout:    timeout,
		Idempotent: actions.Bool(config, "idempotent", method != http.MethodPost && method != http.MethodPatch),
	}

	if err := action.Validate(); err != nil {
		return nil, err
	}

	return action, nil
}

// Validate checks that every templated field parses.
func (a *Action) Validate() error {
	if _, err := template.Parse(a.URL); err != nil {
		return fmt.Errorf("invalid url template: %w", err)
	}

	if _, err := template.Parse(a.Body); err != nil {
		return fmt.Errorf("invalid body template: %w", err)
	}

	for key, value := range a.Headers {
		if _, err := template.Parse(value); err != nil {
			return fmt.Errorf("invalid header '%s' template: %w", key, err)
		}
	}

	return nil
}

// Execute performs the HTTP request and returns status, headers and decoded body.
func (a *Action) Execute(ctx context.Context, run models.RunContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("action_type", "http_request")

	req, err := a.buildRequest(ctx, run)
	if err != nil {
		return nil, actions.Permanent(err)
	}

	logger.DebugContext(ctx, "Sending HTTP request", "method", a.Method, "url", req.URL.String())

	client := a.Client
	if client == nil {
		client = &http.Client{Timeout: a.Timeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, a.classify(fmt.Errorf("http request failed: %w", err))
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	output, err := a.processResponse(resp)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "HTTP request completed", "status_code", resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests:
		return output, a.classify(fmt.Errorf("%w: status %d", ErrHTTPClientError, resp.StatusCode))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return output, actions.Permanent(fmt.Errorf("%w: status %d", ErrHTTPClientError, resp.StatusCode))
	case resp.StatusCode >= 500:
		return output, a.classify(fmt.Errorf("%w: status %d", ErrHTTPServerError, resp.StatusCode))
	}

	return output, nil
}

func (a *Action) classify(err error) error {
	if a.Idempotent {
		return err
	}

	return actions.Permanent(err)
}

func (a *Action) buildRequest(ctx context.Context, run models.RunContext) (*http.Request, error) {
	url, err := template.RenderStringWithContext(a.URL, run)
	if err != nil {
		return nil, fmt.Errorf("failed to render url template: %w", err)
	}

	var body io.Reader

	if a.Body != "" {
		rendered, err := template.RenderStringWithContext(a.Body, run)
		if err != nil {
			return nil, fmt.Errorf("failed to render body template: %w", err)
		}

		body = strings.NewReader(rendered)
	}

	req, err := http.NewRequestWithContext(ctx, a.Method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	for key, value := range a.Headers {
		headerValue, err := template.RenderStringWithContext(value, run)
		if err != nil {
			return nil, fmt.Errorf("failed to render header '%s' template: %w", key, err)
		}

		req.Header.Set(key, headerValue)
	}

	return req, nil
}

func (a *Action) processResponse(resp *http.Response) (map[string]any, error) {
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, a.classify(fmt.Errorf("failed to read response body: %w", err))
	}

	var body any
	if err := json.Unmarshal(bodyBytes, &body); err != nil {
		body = string(bodyBytes)
	}

	headers := make(map[string]any, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
		"headers":     headers,
	}, nil
}
