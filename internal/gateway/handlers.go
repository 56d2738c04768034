package gateway

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/efremov-platform/llm-edge-gateway/internal/auth"
	"github.com/efremov-platform/llm-edge-gateway/internal/domain"
)

type chatRequest struct {
	Message string                 `json:"message"`
	Prompt  string                 `json:"prompt"`
	Model   string                 `json:"model"`
	Options map[string]interface{} `json:"options"`
}

type chatResponse struct {
	Response  string            `json:"response"`
	Model     string            `json:"model"`
	Tokens    domain.TokenUsage `json:"tokens"`
	LatencyMs int64             `json:"latency_ms"`
}

// handleChat validates the payload before any backend call is attempted.
func (g *Gateway) handleChat(r *http.Request) (interface{}, error) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}

	prompt := req.Message
	if prompt == "" {
		prompt = req.Prompt
	}
	if prompt == "" {
		return nil, domain.ErrValidation("Missing required field: message")
	}

	model := req.Model
	if model == "" {
		model = defaultChatModel
	}

	res, err := g.ollama.Generate(r.Context(), model, prompt, req.Options)
	if err != nil {
		return nil, err
	}
	g.metrics.BackendLatency.WithLabelValues("chat").Observe(float64(res.LatencyMs) / 1000)

	return chatResponse{
		Response:  res.Response,
		Model:     res.Model,
		Tokens:    res.Usage,
		LatencyMs: res.LatencyMs,
	}, nil
}

type modelsResponse struct {
	Models []modelItem `json:"models"`
}

type modelItem struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Modified string `json:"modified"`
}

func (g *Gateway) handleModels(r *http.Request) (interface{}, error) {
	models, err := g.ollama.ListModels(r.Context())
	if err != nil {
		return nil, err
	}

	items := make([]modelItem, 0, len(models))
	for _, m := range models {
		items = append(items, modelItem{Name: m.Name, Size: m.Size, Modified: m.Modified})
	}
	return modelsResponse{Models: items}, nil
}

type embeddingsRequest struct {
	Text  string `json:"text"`
	Input string `json:"input"`
	Model string `json:"model"`
}

type embeddingsResponse struct {
	Embedding  []float64 `json:"embedding"`
	Dimensions int       `json:"dimensions"`
}

func (g *Gateway) handleEmbeddings(r *http.Request) (interface{}, error) {
	var req embeddingsRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}

	text := req.Text
	if text == "" {
		text = req.Input
	}
	if text == "" {
		return nil, domain.ErrValidation("Missing required field: text")
	}

	model := req.Model
	if model == "" {
		model = defaultEmbedModel
	}

	res, err := g.ollama.Embeddings(r.Context(), model, text)
	if err != nil {
		return nil, err
	}
	g.metrics.BackendLatency.WithLabelValues("embeddings").Observe(float64(res.LatencyMs) / 1000)

	return embeddingsResponse{
		Embedding:  res.Embedding,
		Dimensions: len(res.Embedding),
	}, nil
}

type searchRequest struct {
	Query string `json:"query"`
}

func (g *Gateway) handleSearch(r *http.Request) (interface{}, error) {
	var query string
	if r.Method == http.MethodGet {
		query = r.URL.Query().Get("q")
	} else {
		var req searchRequest
		if err := decodeBody(r, &req); err != nil {
			return nil, err
		}
		query = req.Query
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.ErrValidation("Missing required field: query")
	}

	res, err := g.search.Search(r.Context(), query, searchResultCount)
	if err != nil {
		return nil, domain.ErrBackendUnavailable(err)
	}

	return res, nil
}

type createKeyRequest struct {
	Name string `json:"name"`
}

type createKeyResponse struct {
	APIKey  string `json:"api_key"`
	Name    string `json:"name"`
	Limit   int    `json:"limit"`
	Expires string `json:"expires"`
}

// handleCreateKey issues a fresh identity and API key. Only the key hash
// is stored; the raw key is shown exactly once.
func (g *Gateway) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	// An empty or absent body is fine; name is optional.
	_ = decodeBody(r, &req)
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "default"
	}

	apiKey := "llm_" + strings.ReplaceAll(uuid.New().String(), "-", "")

	userID, err := g.store.CreateUser(r.Context())
	if err == nil {
		err = g.store.CreateAPIKey(r.Context(), userID, name, auth.HashAPIKey(apiKey))
	}
	if err != nil {
		g.logger.Error("key issuance failed", slog.String("error", err.Error()))
		g.metrics.RequestsTotal.WithLabelValues("key_issue", "500").Inc()
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal server error"})
		return
	}

	g.audit(r, domain.AuditEntry{
		UserID:   userID,
		Action:   domain.ActionKeyCreated,
		Resource: r.URL.Path,
		Detail:   fmt.Sprintf(`{"name":%q}`, name),
	})
	g.metrics.RequestsTotal.WithLabelValues("key_issue", "200").Inc()
	writeJSON(w, http.StatusOK, createKeyResponse{
		APIKey:  apiKey,
		Name:    name,
		Limit:   g.cfg.RateLimit.Limit,
		Expires: "never",
	})
}
