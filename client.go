// Package storefront is the offline resource cache and background
// synchronization worker of the storefront.
//
// The worker intercepts outgoing requests, serves them from one of four cache
// partitions, the network, or a blend of both, and replays mutations queued
// while offline once connectivity returns.
//
// Example:
//
//	cfg, _ := storefront.DefaultConfig().Validate()
//	w, _ := storefront.NewWorker(cfg,
//		storefront.WithCacheStorage(storefront.NewMemoryCacheStorage()),
//		storefront.WithStore(storefront.NewMemoryStore()),
//	)
//	defer w.Close()
//	if _, err := w.Install(ctx); err != nil {
//		log.Fatal(err)
//	}
//	resp := w.Fetch(ctx, storefront.NewRequest("GET", "/products"))
package storefront

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Fetcher performs network requests. A returned error is a network failure;
// any HTTP status, including 5xx, is a resolved response.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req *Request) (*Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// ============================================================================
// Client
// ============================================================================

// Client fetches requests from the storefront origin.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithAPIKey sets the backend API key sent with every request that does not
// already carry credentials.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

// NewClient creates a client for the given origin.
func NewClient(origin string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(origin, "/"),
		httpClient: &http.Client{
			Timeout: DefaultFetchTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch sends req to the network. Relative URLs resolve against the origin.
func (c *Client) Fetch(ctx context.Context, req *Request) (*Response, error) {
	u := req.URL
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		if !strings.HasPrefix(u, "/") {
			u = "/" + u
		}
		u = c.baseURL + u
	}

	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if c.apiKey != "" && httpReq.Header.Get("Authorization") == "" {
		httpReq.Header.Set("apikey", c.apiKey)
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header.Clone(), Body: body}, nil
}

var _ Fetcher = (*Client)(nil)
