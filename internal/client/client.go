// Package client is the Go client for the objectos HTTP API. The admin CLI
// is built on it; any Go program that talks to a running kernel can use it
// directly.
//
// Server-side typed errors survive the round trip: a 403 comes back as an
// apierr.PermissionDeniedError, a 404 as a NotFoundError, a 400 as the
// original field-level ValidationErrors. Callers branch with the same
// apierr.Is* helpers they would use in-process.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"objectos/internal/apierr"
)

// Options configure a Client.
type Options struct {
	// BaseURL is the server root, e.g. "http://localhost:8080".
	BaseURL string

	// Token is sent as a bearer token when set.
	Token string

	// Timeout bounds each request. Zero means 30s.
	Timeout time.Duration
}

// Client talks to one objectos server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client. No connection is made until the first call.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		http:    &http.Client{Timeout: timeout},
	}
}

// envelope mirrors the server's response wrapper. Data stays raw until the
// caller-provided destination type is known.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
}

// roundTrip performs one HTTP exchange and returns the status and raw body
// without interpreting either.
func (c *Client) roundTrip(ctx context.Context, method, path string, body interface{}) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("calling %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

// request performs one HTTP round trip and returns the raw body. Responses
// with an error status are translated into typed errors and never reach the
// caller as bytes.
func (c *Client) request(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	status, raw, err := c.roundTrip(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if status >= http.StatusBadRequest {
		return nil, decodeError(status, raw)
	}
	return raw, nil
}

// bare performs a request whose success body is a plain JSON document (the
// data endpoints).
func (c *Client) bare(ctx context.Context, method, path string, body, out interface{}) error {
	raw, err := c.request(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// enveloped performs a request whose success body is wrapped in the
// {success, data} envelope and unwraps data into out.
func (c *Client) enveloped(ctx context.Context, method, path string, body, out interface{}) error {
	raw, err := c.request(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decoding response data: %w", err)
	}
	return nil
}

// decodeError rebuilds the server's typed error from an error envelope.
func decodeError(status int, raw []byte) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Error == "" {
		return fmt.Errorf("server returned %d: %s", status, strings.TrimSpace(string(raw)))
	}

	switch env.Error {
	case "VALIDATION_ERROR":
		verr := &apierr.ValidationErrors{}
		if len(env.Details) > 0 {
			_ = json.Unmarshal(env.Details, &verr.Errors)
		}
		if !verr.HasErrors() {
			verr.Add("request", "%s", env.Message)
		}
		return verr
	case "PERMISSION_DENIED", "UNAUTHORIZED":
		return &apierr.PermissionDeniedError{Reason: env.Message}
	case "NOT_FOUND":
		return apierr.NewNotFoundErrorWithMessage("resource", "", env.Message)
	case "CONFLICT":
		return &apierr.ConflictError{Message: env.Message}
	default:
		return fmt.Errorf("server error %s (%d): %s", env.Error, status, env.Message)
	}
}
