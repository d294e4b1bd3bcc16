// Package client is a small Go client for the inferd HTTP API. It mirrors
// the server's wire types from pkg/types; streaming responses are delivered
// line by line through a callback.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"inferd/pkg/types"
)

// DefaultBase is used when New is called with an empty base URL.
const DefaultBase = "http://127.0.0.1:8080"

// APIError is a non-2xx response decoded from the server's error payload.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

// Client talks to one inferd server.
type Client struct {
	base *url.URL
	http *http.Client
}

// New builds a client for the server at base, e.g. "http://127.0.0.1:8080".
// A bare host:port is accepted and defaults to http.
func New(base string) (*Client, error) {
	if strings.TrimSpace(base) == "" {
		base = DefaultBase
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("server url %q has no host", base)
	}
	return &Client{base: u, http: http.DefaultClient}, nil
}

// SetHTTPClient replaces the underlying HTTP client, e.g. to set timeouts.
func (c *Client) SetHTTPClient(h *http.Client) {
	if h != nil {
		c.http = h
	}
}

// Models lists the registry with states and memory accounting.
func (c *Client) Models(ctx context.Context) (types.ModelsResponse, error) {
	var out types.ModelsResponse
	err := c.doJSON(ctx, http.MethodGet, "/models", nil, &out)
	return out, err
}

// State reports the lifecycle state of one model.
func (c *Client) State(ctx context.Context, id string) (types.ModelStateResponse, error) {
	var out types.ModelStateResponse
	err := c.doJSON(ctx, http.MethodGet, "/models/"+url.PathEscape(id), nil, &out)
	return out, err
}

// Load requests a blocking load of the named model.
func (c *Client) Load(ctx context.Context, name string) (types.ModelStateResponse, error) {
	var out types.ModelStateResponse
	err := c.doJSON(ctx, http.MethodPost, "/load_model", types.ModelRequest{Name: name}, &out)
	return out, err
}

// Unload removes the named model from memory.
func (c *Client) Unload(ctx context.Context, name string) (types.ModelStateResponse, error) {
	var out types.ModelStateResponse
	err := c.doJSON(ctx, http.MethodPost, "/unload_model", types.ModelRequest{Name: name}, &out)
	return out, err
}

// SetActive marks a loaded model as the generation target.
func (c *Client) SetActive(ctx context.Context, name string) (types.ModelStateResponse, error) {
	var out types.ModelStateResponse
	err := c.doJSON(ctx, http.MethodPost, "/set_model", types.ModelRequest{Name: name}, &out)
	return out, err
}

// Generate runs one buffered generation against the active model.
func (c *Client) Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResponse, error) {
	var out types.GenerateResponse
	err := c.doJSON(ctx, http.MethodPost, "/infer", req, &out)
	return out, err
}

// Health fetches the liveness summary.
func (c *Client) Health(ctx context.Context) (types.HealthResponse, error) {
	var out types.HealthResponse
	err := c.doJSON(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

// Status fetches the operational snapshot.
func (c *Client) Status(ctx context.Context) (types.ServerStatus, error) {
	var out types.ServerStatus
	err := c.doJSON(ctx, http.MethodGet, "/status", nil, &out)
	return out, err
}

// StreamFunc receives each event of a streaming generation: token events
// first, then the terminal done event. Returning an error stops consumption.
type StreamFunc func(types.StreamEvent) error

// Stream runs a streaming generation. In-band error terminals are converted
// to an *APIError return instead of being delivered to fn.
func (c *Client) Stream(ctx context.Context, req types.GenerateRequest, fn StreamFunc) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.JoinPath("/infer_stream").String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	r.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev types.StreamEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return fmt.Errorf("decode stream event: %w", err)
		}
		if ev.Error != "" {
			return &APIError{StatusCode: ev.Code, Message: ev.Error}
		}
		if err := fn(ev); err != nil {
			return err
		}
		if ev.Terminal() {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return fmt.Errorf("stream ended without a terminal event")
}

// doJSON performs one request with optional JSON body and decodes the JSON
// response into out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	r, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), body)
	if err != nil {
		return err
	}
	if in != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeError turns a non-2xx response into an *APIError, falling back to
// the raw body when it is not the standard error payload.
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var er types.ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error != "" {
		code := er.Code
		if code == 0 {
			code = resp.StatusCode
		}
		return &APIError{StatusCode: code, Message: er.Error}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = resp.Status
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
