package enso

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Enso server (e.g. "http://localhost:8080").
	BaseURL string

	// APIKey is the secret used to obtain a JWT token. Leave empty when
	// the server runs with authentication disabled.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default
	// client with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	// Streaming runs are exempt; their lifetime is the request context.
	Timeout time.Duration
}

// Client is an HTTP client for the Enso program-execution API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL  string
	client   *http.Client
	tokenMgr *tokenManager
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("enso: BaseURL is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &Client{
		baseURL: baseURL,
		client:  httpClient,
	}
	if cfg.APIKey != "" {
		c.tokenMgr = newTokenManager(baseURL, cfg.APIKey, httpClient)
	}
	return c, nil
}

// Run executes a program and waits for its result.
//
// When the program routine itself fails, the server still returns the
// full result document; Run returns it alongside an *Error for which
// IsExecutionFailure reports true.
func (c *Client) Run(ctx context.Context, program string, inputs map[string]any) (*Result, error) {
	if inputs == nil {
		inputs = map[string]any{}
	}
	encoded, err := json.Marshal(inputs)
	if err != nil {
		return nil, fmt.Errorf("enso: marshal inputs: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/programs/"+program, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("enso: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(ctx, req); err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("enso: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("enso: read response body: %w", err)
	}

	var result Result
	if resp.StatusCode == http.StatusOK {
		if err := unwrapData(body, &result); err != nil {
			return nil, err
		}
		return &result, nil
	}

	// A 500 whose body carries a request id is a completed-but-failed
	// execution, not a transport error.
	if resp.StatusCode == http.StatusInternalServerError {
		if err := unwrapData(body, &result); err == nil && result.RequestID != uuid.Nil {
			return &result, &Error{
				StatusCode: resp.StatusCode,
				Code:       "execution_error",
				Message:    result.Error,
			}
		}
	}

	return nil, parseErrorResponse(resp, body)
}

// StreamHandler receives each live execution event of a streaming run.
type StreamHandler func(Event)

// RunStream executes a program and invokes handler for every execution
// event as it happens, returning the final result. handler may be nil.
func (c *Client) RunStream(ctx context.Context, program string, inputs map[string]any, handler StreamHandler) (*Result, error) {
	if inputs == nil {
		inputs = map[string]any{}
	}
	encoded, err := json.Marshal(inputs)
	if err != nil {
		return nil, fmt.Errorf("enso: marshal inputs: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/programs/"+program+"/stream", bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("enso: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if err := c.authorize(ctx, req); err != nil {
		return nil, err
	}

	// The client-wide timeout would kill long streams.
	streamClient := &http.Client{Transport: c.client.Transport}

	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("enso: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, parseErrorResponse(resp, body)
	}

	return readEventStream(resp.Body, handler)
}

// readEventStream consumes SSE frames until the terminal complete or
// error event, which carries the result.
func readEventStream(r io.Reader, handler StreamHandler) (*Result, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var eventName string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, ":"):
			// Keepalive comment.
		case strings.HasPrefix(line, "event: "):
			eventName = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			switch eventName {
			case "trace":
				if handler != nil {
					var ev Event
					if err := json.Unmarshal([]byte(data), &ev); err != nil {
						return nil, fmt.Errorf("enso: decode stream event: %w", err)
					}
					handler(ev)
				}
			case "complete", "error":
				var result Result
				if err := json.Unmarshal([]byte(data), &result); err != nil {
					return nil, fmt.Errorf("enso: decode stream result: %w", err)
				}
				if eventName == "error" {
					return &result, &Error{
						StatusCode: http.StatusInternalServerError,
						Code:       "execution_error",
						Message:    result.Error,
					}
				}
				return &result, nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("enso: read stream: %w", err)
	}
	return nil, fmt.Errorf("enso: stream ended without a result")
}

// Programs lists the registered programs.
func (c *Client) Programs(ctx context.Context) ([]ProgramInfo, error) {
	var resp struct {
		Programs []ProgramInfo `json:"programs"`
	}
	if err := c.get(ctx, "/v1/programs", &resp); err != nil {
		return nil, err
	}
	return resp.Programs, nil
}

// Trace retrieves the stored execution trace for a request.
func (c *Client) Trace(ctx context.Context, requestID uuid.UUID) (*Trace, error) {
	var resp Trace
	if err := c.get(ctx, "/v1/traces/"+requestID.String(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Metrics retrieves aggregated metrics for all programs, busiest first.
func (c *Client) Metrics(ctx context.Context) ([]ProgramMetrics, error) {
	var resp struct {
		Metrics []ProgramMetrics `json:"metrics"`
	}
	if err := c.get(ctx, "/v1/metrics", &resp); err != nil {
		return nil, err
	}
	return resp.Metrics, nil
}

// ProgramMetrics retrieves aggregated metrics for one program.
func (c *Client) ProgramMetrics(ctx context.Context, program string) (*ProgramMetrics, error) {
	var resp ProgramMetrics
	if err := c.get(ctx, "/v1/metrics/"+program, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health checks the server's liveness. This endpoint does not require
// authentication and works even with invalid credentials.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health/live", nil)
	if err != nil {
		return nil, fmt.Errorf("enso: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("enso: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var status HealthStatus
	if err := handleResponse(resp, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if c.tokenMgr == nil {
		return nil
	}
	token, err := c.tokenMgr.getToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("enso: create request: %w", err)
	}
	if err := c.authorize(ctx, req); err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("enso: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("enso: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp, body)
	}
	if dest == nil {
		return nil
	}
	return unwrapData(body, dest)
}

// unwrapData unwraps the server's { "data": ... } envelope.
func unwrapData(body []byte, dest any) error {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("enso: decode response envelope: %w", err)
	}
	if envelope.Data == nil {
		return json.Unmarshal(body, dest)
	}
	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(resp *http.Response, body []byte) *Error {
	apiErr := &Error{StatusCode: resp.StatusCode}

	var envelope struct {
		Error struct {
			Code              string `json:"code"`
			Message           string `json:"message"`
			RetryAfterSeconds int64  `json:"retry_after_seconds"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.RetryAfterSeconds = envelope.Error.RetryAfterSeconds
	} else {
		apiErr.Code = http.StatusText(resp.StatusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
