// Package ollama is the HTTP client for the inference backend (text
// generation, embeddings, model listing).
//
// The backend sits behind a proxy that requires an internal trust token;
// the token comes from deployment configuration and is never derived from
// client input.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/efremov-platform/llm-edge-gateway/internal/domain"
	"github.com/efremov-platform/llm-edge-gateway/internal/tokens"
)

// InternalTokenHeader carries the trust token toward the backend.
const InternalTokenHeader = "X-Internal-Token"

const (
	// Generation and embedding calls can run for a while.
	defaultGenerateTimeout = 30 * time.Second

	// Metadata calls (model listing) should return promptly.
	defaultMetadataTimeout = 5 * time.Second
)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeouts overrides the per-call timeouts.
func WithTimeouts(generate, metadata time.Duration) ClientOption {
	return func(c *Client) {
		c.generateTimeout = generate
		c.metadataTimeout = metadata
	}
}

// Client is the inference backend HTTP client.
type Client struct {
	baseURL         string
	internalToken   string
	httpClient      *http.Client
	generateTimeout time.Duration
	metadataTimeout time.Duration
	estimator       *tokens.Estimator
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL, internalToken string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:         strings.TrimSuffix(baseURL, "/"),
		internalToken:   internalToken,
		httpClient:      http.DefaultClient,
		generateTimeout: defaultGenerateTimeout,
		metadataTimeout: defaultMetadataTimeout,
		estimator:       tokens.NewEstimator(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GenerateResult is the normalized outcome of one generation call.
type GenerateResult struct {
	Response  string
	Model     string
	Usage     domain.TokenUsage
	LatencyMs int64
}

type generateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Generate runs one completion. Latency covers the outbound call through
// the fully read body. Token usage is normalized from the backend's
// counters, estimated locally when the backend omits them.
func (c *Client) Generate(ctx context.Context, model, prompt string, options map[string]interface{}) (*GenerateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.generateTimeout)
	defer cancel()

	body, status, latency, err := c.do(ctx, http.MethodPost, "/api/generate", generateRequest{
		Model:   model,
		Prompt:  prompt,
		Stream:  false,
		Options: options,
	})
	if err != nil {
		return nil, domain.ErrBackendUnavailable(err)
	}
	if status != http.StatusOK {
		return nil, domain.ErrBackendUnavailable(fmt.Errorf("inference backend returned status %d", status))
	}

	var resp generateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, domain.ErrBackendUnavailable(fmt.Errorf("failed to decode generate response: %w", err))
	}
	if resp.Response == "" {
		return nil, domain.ErrBackendUnavailable(fmt.Errorf("generate response missing response field"))
	}

	usage := domain.TokenUsage{
		Prompt:     resp.PromptEvalCount,
		Completion: resp.EvalCount,
		Total:      resp.PromptEvalCount + resp.EvalCount,
	}
	if usage.Total == 0 {
		usage = c.estimator.EstimateUsage(prompt, resp.Response)
	}

	servedModel := resp.Model
	if servedModel == "" {
		servedModel = model
	}

	return &GenerateResult{
		Response:  resp.Response,
		Model:     servedModel,
		Usage:     usage,
		LatencyMs: latency.Milliseconds(),
	}, nil
}

// EmbeddingsResult is the outcome of one embedding call.
type EmbeddingsResult struct {
	Embedding []float64
	LatencyMs int64
}

type embeddingsRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingsResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embeddings computes the embedding vector for text. An empty or absent
// embedding in a 2xx response is treated as a backend failure.
func (c *Client) Embeddings(ctx context.Context, model, text string) (*EmbeddingsResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.generateTimeout)
	defer cancel()

	body, status, latency, err := c.do(ctx, http.MethodPost, "/api/embeddings", embeddingsRequest{
		Model:  model,
		Prompt: text,
	})
	if err != nil {
		return nil, domain.ErrBackendUnavailable(err)
	}
	if status != http.StatusOK {
		return nil, domain.ErrBackendUnavailable(fmt.Errorf("inference backend returned status %d", status))
	}

	var resp embeddingsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, domain.ErrBackendUnavailable(fmt.Errorf("failed to decode embeddings response: %w", err))
	}
	if len(resp.Embedding) == 0 {
		return nil, domain.ErrBackendUnavailable(fmt.Errorf("embeddings response missing embedding field"))
	}

	return &EmbeddingsResult{
		Embedding: resp.Embedding,
		LatencyMs: latency.Milliseconds(),
	}, nil
}

// Model describes one installed backend model.
type Model struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Modified string `json:"modified"`
}

type tagsResponse struct {
	Models []struct {
		Name       string `json:"name"`
		Size       int64  `json:"size"`
		ModifiedAt string `json:"modified_at"`
	} `json:"models"`
}

// ListModels lists the models installed on the backend.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	ctx, cancel := context.WithTimeout(ctx, c.metadataTimeout)
	defer cancel()

	body, status, _, err := c.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, domain.ErrBackendUnavailable(err)
	}
	if status != http.StatusOK {
		return nil, domain.ErrBackendUnavailable(fmt.Errorf("inference backend returned status %d", status))
	}

	var resp tagsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, domain.ErrBackendUnavailable(fmt.Errorf("failed to decode tags response: %w", err))
	}

	models := make([]Model, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, Model{Name: m.Name, Size: m.Size, Modified: m.ModifiedAt})
	}
	return models, nil
}

// do performs one backend call and returns the body, status and elapsed
// time. Transport errors (including timeouts) are returned as-is for the
// caller to classify.
func (c *Client) do(ctx context.Context, method, path string, payload interface{}) ([]byte, int, time.Duration, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.internalToken != "" {
		req.Header.Set(InternalTokenHeader, c.internalToken)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, time.Since(start), fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	if err != nil {
		return nil, resp.StatusCode, elapsed, fmt.Errorf("failed to read response: %w", err)
	}

	return body, resp.StatusCode, elapsed, nil
}
