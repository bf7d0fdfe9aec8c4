// Package httptransport sends step messages as HTTP requests.
package httptransport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/callchain/pkg/transport"
)

const defaultTimeout = 30 * time.Second

var (
	// ErrBaseURLInvalid is returned when the transport has no base URL.
	ErrBaseURLInvalid = errors.New("invalid HTTP transport base URL")
	// ErrServerError is returned when the server keeps answering with a 5xx status.
	ErrServerError = errors.New("server error during HTTP request")
)

// Config describes an HTTP transport. Message properties "method", "path" and
// "headers" override the defaults per message.
type Config struct {
	Name    string            `json:"name"              validate:"required"`
	BaseURL string            `json:"base_url"          validate:"required,url"`
	Method  string            `json:"method,omitempty"`
	Path    string            `json:"path,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Timeout time.Duration     `json:"timeout,omitempty"`
	Retry   RetryConfig       `json:"retry"`
}

// RetryConfig defines retry behavior for 5xx answers and network errors.
type RetryConfig struct {
	Attempts int           `json:"attempts"`
	Delay    time.Duration `json:"delay"`
}

type Transport struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

func New(config Config, logger *slog.Logger) (*Transport, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("%w: transport %s", ErrBaseURLInvalid, config.Name)
	}

	if config.Method == "" {
		config.Method = http.MethodPost
	}

	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}

	if config.Retry.Attempts < 1 {
		config.Retry.Attempts = 1
	}

	return &Transport{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger.With("module", "http_transport", "transport", config.Name),
	}, nil
}

func (t *Transport) Name() string {
	return t.config.Name
}

func (t *Transport) Send(ctx context.Context, msg transport.Message) (*transport.Reply, error) {
	var (
		lastErr error
		resp    *http.Response
	)

	for attempt := 1; attempt <= t.config.Retry.Attempts; attempt++ {
		if attempt > 1 {
			t.logger.InfoContext(ctx, "Retrying HTTP request", "attempt", attempt, "attempts", t.config.Retry.Attempts)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(t.config.Retry.Delay):
			}
		}

		req, err := t.buildRequest(ctx, msg)
		if err != nil {
			return nil, err
		}

		resp, err = t.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request failed: %w", err)
			resp = nil

			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError && attempt < t.config.Retry.Attempts {
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("status %d: %w", resp.StatusCode, ErrServerError)
			resp = nil

			continue
		}

		break
	}

	if resp == nil {
		return nil, fmt.Errorf("all retry attempts failed, last error: %w", lastErr)
	}

	return t.processResponse(ctx, resp)
}

func (t *Transport) Close() error {
	t.client.CloseIdleConnections()

	return nil
}

func (t *Transport) buildRequest(ctx context.Context, msg transport.Message) (*http.Request, error) {
	method := t.config.Method
	if m, ok := msg.Properties["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}

	path := t.config.Path
	if p, ok := msg.Properties["path"].(string); ok && p != "" {
		path = p
	}

	url := strings.TrimRight(t.config.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")

	t.logger.DebugContext(ctx, "Creating HTTP request", "method", method, "url", url)

	req, err := http.NewRequestWithContext(ctx, method, url, strings.NewReader(msg.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	for key, value := range t.config.Headers {
		req.Header.Set(key, value)
	}

	if headers, ok := msg.Properties["headers"].(map[string]any); ok {
		for key, value := range headers {
			req.Header.Set(key, fmt.Sprintf("%v", value))
		}
	}

	for key, value := range msg.Headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

func (t *Transport) processResponse(ctx context.Context, resp *http.Response) (*transport.Reply, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	t.logger.InfoContext(ctx, "HTTP request completed", "status_code", resp.StatusCode, "body_length", len(bodyBytes))

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("status %d: %w", resp.StatusCode, ErrServerError)
	}

	return &transport.Reply{
		Body:       string(bodyBytes),
		StatusCode: resp.StatusCode,
		Headers:    headers,
	}, nil
}
