package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// RESTBackend implements Backend against a PostgREST-compatible HTTP API
type RESTBackend struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// RESTOption configures the REST backend
type RESTOption func(*RESTBackend)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) RESTOption {
	return func(b *RESTBackend) {
		b.httpClient = client
	}
}

// NewRESTBackend creates a REST backend. Requests carry no client-side
// timeout; cancellation comes from the caller's context.
func NewRESTBackend(baseURL, apiKey string, opts ...RESTOption) *RESTBackend {
	b := &RESTBackend{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// restError is the error body returned by PostgREST
type restError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

// Select runs a row selection over HTTP
func (b *RESTBackend) Select(ctx context.Context, q Query) ([]byte, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return b.doRequest(ctx, http.MethodGet, "/rest/v1/"+q.Table+"?"+encodeQuery(q), nil)
}

// Call invokes a remote procedure
func (b *RESTBackend) Call(ctx context.Context, fn string, args map[string]any) ([]byte, error) {
	if err := validFunction(fn); err != nil {
		return nil, err
	}

	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s arguments: %w", fn, err)
	}

	return b.doRequest(ctx, http.MethodPost, "/rest/v1/rpc/"+fn, bytes.NewReader(body))
}

// Ping checks that the API answers
func (b *RESTBackend) Ping(ctx context.Context) error {
	_, err := b.doRequest(ctx, http.MethodGet, "/rest/v1/", nil)
	return err
}

// Close is a no-op for the HTTP backend
func (b *RESTBackend) Close() error {
	return nil
}

func encodeQuery(q Query) string {
	v := url.Values{}
	v.Set("select", strings.Join(q.Columns, ","))

	if q.Filter != nil {
		v.Set(q.Filter.Column, "eq."+fmt.Sprint(q.Filter.Value))
	}

	if len(q.Orders) > 0 {
		keys := make([]string, len(q.Orders))
		for i, o := range q.Orders {
			dir := "asc"
			if o.Descending {
				dir = "desc"
			}
			keys[i] = o.Column + "." + dir
		}
		v.Set("order", strings.Join(keys, ","))
	}

	if q.Limit > 0 {
		v.Set("limit", fmt.Sprint(q.Limit))
	}

	return v.Encode()
}

func (b *RESTBackend) doRequest(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("apikey", b.apiKey)
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr restError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error %d: %s - %s", resp.StatusCode, apiErr.Code, apiErr.Message)
		}
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	return respBody, nil
}
