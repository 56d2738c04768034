// Package search is the HTTP client for the search/content-extraction
// backend.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

// EmbedFunc computes a query embedding. When configured, the embedding
// sub-call runs before the primary search call; its failure short-circuits
// the search entirely.
type EmbedFunc func(ctx context.Context, text string) ([]float64, error)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithEmbedder enables vector lookup via the given embedding function.
func WithEmbedder(embed EmbedFunc) ClientOption {
	return func(c *Client) {
		c.embed = embed
	}
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// Client is the search backend HTTP client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	embed      EmbedFunc
	timeout    time.Duration
}

// NewClient creates a client for the search backend at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: http.DefaultClient,
		timeout:    defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResultItem is one ranked search result.
type ResultItem struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// Result is the outcome of one search call.
type Result struct {
	Query   string       `json:"query"`
	Results []ResultItem `json:"results"`
}

type vectorSearchRequest struct {
	Query  string    `json:"query"`
	Vector []float64 `json:"vector"`
	Count  int       `json:"count"`
}

// Search runs a query against the backend, returning ranked results. With
// an embedder configured, the query embedding is computed first and the
// primary call carries the vector.
func (c *Client) Search(ctx context.Context, query string, count int) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var req *http.Request
	var err error

	if c.embed != nil {
		vector, embedErr := c.embed(ctx, query)
		if embedErr != nil {
			// Short-circuit: the primary call is never issued.
			return nil, fmt.Errorf("query embedding failed: %w", embedErr)
		}
		payload, marshalErr := json.Marshal(vectorSearchRequest{Query: query, Vector: vector, Count: count})
		if marshalErr != nil {
			return nil, fmt.Errorf("failed to marshal search request: %w", marshalErr)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(payload))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		params := url.Values{}
		params.Set("q", query)
		params.Set("count", strconv.Itoa(count))
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search backend returned status %d", resp.StatusCode)
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	if result.Query == "" {
		result.Query = query
	}
	if result.Results == nil {
		result.Results = []ResultItem{}
	}
	return &result, nil
}
