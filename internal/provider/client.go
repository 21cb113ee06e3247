package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pelicanone/backend/internal/presets"
)

// Name identifies this gateway in job records.
const Name = "genapi"

// backoffCap limits the linear poll backoff to 5x the base interval.
const backoffCap = 5

// Status is one poll response. Raw carries the full provider payload.
type Status struct {
	Status string          `json:"status"`
	Raw    json.RawMessage `json:"-"`
}

var successStatuses = map[string]bool{
	"done": true, "success": true, "succeeded": true, "completed": true,
}

var errorStatuses = map[string]bool{
	"error": true, "failed": true, "canceled": true, "cancelled": true,
}

// Succeeded reports whether the request finished in the success set.
func (s *Status) Succeeded() bool { return successStatuses[s.Status] }

// Failed reports whether the request finished in the error set.
func (s *Status) Failed() bool { return errorStatuses[s.Status] }

// Done reports whether the request reached any terminal status. Anything
// outside the success and error sets is still in progress.
func (s *Status) Done() bool { return s.Succeeded() || s.Failed() }

// ErrorMessage extracts the provider error detail from a failed response.
func (s *Status) ErrorMessage() string {
	var body struct {
		Error  string `json:"error"`
		Result any    `json:"result"`
	}
	if err := json.Unmarshal(s.Raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return "genapi_error"
}

// Options configures the GenAPI client.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// Client is a stateless HTTP wrapper around the GenAPI generation service:
// submit a network request, poll it to completion.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		httpClient: client,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
	}
}

// Submit posts params to the given network and returns the provider request
// id. Transport errors and 429/5xx map to RetryableError, other 4xx are
// fatal.
func (c *Client) Submit(ctx context.Context, networkID string, params map[string]any) (string, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return "", fatal("marshal submit params: %v", err)
	}
	raw, err := c.do(ctx, http.MethodPost, "/networks/"+networkID, body)
	if err != nil {
		return "", err
	}
	var resp struct {
		RequestID string      `json:"request_id"`
		ID        json.Number `json:"id"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fatal("malformed submit response: %v", err)
	}
	requestID := resp.RequestID
	if requestID == "" {
		requestID = resp.ID.String()
	}
	if requestID == "" || requestID == "0" {
		return "", fatal("missing_request_id")
	}
	return requestID, nil
}

// Poll fetches the current status of a submitted request.
func (c *Client) Poll(ctx context.Context, requestID string) (*Status, error) {
	raw, err := c.do(ctx, http.MethodGet, "/request/get/"+requestID, nil)
	if err != nil {
		return nil, err
	}
	var s Status
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fatal("malformed poll response: %v", err)
	}
	s.Raw = raw
	return &s, nil
}

// PollUntilDone polls until the request reaches a terminal status or the
// timeout elapses. The sleep between polls grows linearly from the base
// interval, capped at 5x. Exceeding the timeout yields a timeout-classified
// retryable error; the worker treats that as an immediate job failure.
func (c *Client) PollUntilDone(ctx context.Context, requestID string, settings presets.PollingSettings) (*Status, error) {
	deadline := time.Now().Add(settings.Timeout)
	for attempt := 1; ; attempt++ {
		if time.Now().After(deadline) {
			return nil, retryable(ReasonTimeout, nil)
		}
		status, err := c.Poll(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if status.Done() {
			return status, nil
		}
		sleep := settings.Interval * time.Duration(attempt)
		if max := settings.Interval * backoffCap; sleep > max {
			sleep = max
		}
		select {
		case <-ctx.Done():
			return nil, retryable(ReasonNetworkError, ctx.Err())
		case <-time.After(sleep):
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fatal("create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, retryable(ReasonNetworkError, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable:
		return nil, retryable(ReasonRetryableStatus, nil)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retryable(ReasonNetworkError, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fatal("genapi returned status %d", resp.StatusCode)
	}
	return raw, nil
}
