package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efremov-platform/llm-edge-gateway/internal/config"
	"github.com/efremov-platform/llm-edge-gateway/internal/domain"
	"github.com/efremov-platform/llm-edge-gateway/internal/ratelimit"
	"github.com/efremov-platform/llm-edge-gateway/internal/store/sqlite"
)

type testEnv struct {
	gw           *Gateway
	store        *sqlite.Store
	backendCalls *int32
}

// fakeInference emulates the inference backend's generate/embeddings/tags
// contract and counts calls.
func fakeInference(t *testing.T, calls *int32, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if r.Header.Get("X-Internal-Token") != "internal-secret" {
			http.Error(w, "missing trust token", http.StatusForbidden)
			return
		}
		if status != http.StatusOK {
			http.Error(w, "upstream stack trace detail", status)
			return
		}
		switch r.URL.Path {
		case "/api/generate":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"model":             "llama3",
				"response":          "Hello there!",
				"done":              true,
				"prompt_eval_count": 5,
				"eval_count":        3,
			})
		case "/api/embeddings":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"embedding": []float64{0.1, 0.2},
			})
		case "/api/tags":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"models": []map[string]interface{}{
					{"name": "llama3:8b", "size": 100, "modified_at": "2025-06-01T10:00:00Z"},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestEnv(t *testing.T, limit int, backendStatus int) *testEnv {
	t.Helper()

	var calls int32
	backend := fakeInference(t, &calls, backendStatus)
	t.Cleanup(backend.Close)

	searchSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"query":   r.URL.Query().Get("q"),
			"results": []map[string]string{{"title": "t", "url": "https://example.com", "description": "d"}},
		})
	}))
	t.Cleanup(searchSrv.Close)

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{}
	cfg.Server.Service = "llm-api-gateway"
	cfg.Server.Version = "test"
	cfg.RateLimit.Window = time.Minute
	cfg.RateLimit.Limit = limit
	cfg.Backend.OllamaURL = backend.URL
	cfg.Backend.SearchURL = searchSrv.URL
	cfg.Backend.InternalToken = "internal-secret"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw, err := New(cfg, store, ratelimit.NewMemoryCounter(), logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		gw.Close(ctx)
	})

	return &testEnv{gw: gw, store: store, backendCalls: &calls}
}

func (env *testEnv) do(method, path, apiKey, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	env.gw.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) createKey(t *testing.T) string {
	t.Helper()
	rec := env.do("POST", "/api/keys/create", "", `{"name":"test"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		APIKey string `json:"api_key"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, strings.HasPrefix(resp.APIKey, "llm_"))
	return resp.APIKey
}

// waitAudit polls for the async audit write.
func (env *testEnv) waitAudit(t *testing.T, action domain.AuditAction, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, err := env.store.CountAudit(context.Background(), action)
		require.NoError(t, err)
		if n >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("audit record %s did not appear", action)
}

func TestOptionsPreflightShortCircuits(t *testing.T) {
	env := newTestEnv(t, 10, http.StatusOK)

	rec := env.do("OPTIONS", "/api/chat", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Body.String())
	assert.Zero(t, atomic.LoadInt32(env.backendCalls))
}

func TestHealthNeedsNoCredential(t *testing.T) {
	env := newTestEnv(t, 2, http.StatusOK)

	for i := 0; i < 5; i++ {
		rec := env.do("GET", "/health", "", "")
		require.Equal(t, http.StatusOK, rec.Code)
	}

	var resp map[string]interface{}
	rec := env.do("GET", "/health", "", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "llm-api-gateway", resp["service"])

	// Health must not consume the caller's rate budget: a fresh key still
	// has the full window available.
	key := env.createKey(t)
	chatRec := env.do("POST", "/api/chat", key, `{"message":"hi"}`)
	require.Equal(t, http.StatusOK, chatRec.Code)
	assert.Equal(t, "1", chatRec.Header().Get("X-RateLimit-Remaining"))
}

func TestMissingCredentialIs401(t *testing.T) {
	env := newTestEnv(t, 10, http.StatusOK)

	rec := env.do("POST", "/api/chat", "", `{"message":"hi"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Invalid authentication", resp["error"])
	assert.Zero(t, atomic.LoadInt32(env.backendCalls))

	env.waitAudit(t, domain.ActionAuthFailed, 1)
}

func TestChatHappyPath(t *testing.T) {
	env := newTestEnv(t, 10, http.StatusOK)
	key := env.createKey(t)

	rec := env.do("POST", "/api/chat", key, `{"message":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Hello there!", resp.Response)
	assert.Equal(t, "llama3", resp.Model)
	assert.Equal(t, resp.Tokens.Prompt+resp.Tokens.Completion, resp.Tokens.Total)
	assert.GreaterOrEqual(t, resp.LatencyMs, int64(0))

	env.waitAudit(t, domain.ActionAPICall, 1)
}

func TestChatMissingMessageIs400BeforeBackend(t *testing.T) {
	env := newTestEnv(t, 10, http.StatusOK)
	key := env.createKey(t)

	rec := env.do("POST", "/api/chat", key, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, atomic.LoadInt32(env.backendCalls),
		"validation must reject before any backend call")
}

func TestRateLimitExhaustion(t *testing.T) {
	env := newTestEnv(t, 2, http.StatusOK)
	key := env.createKey(t)

	rec := env.do("POST", "/api/chat", key, `{"message":"1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))

	rec = env.do("POST", "/api/chat", key, `{"message":"2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = env.do("POST", "/api/chat", key, `{"message":"3"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var resp rateLimitBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Limit)
	assert.Greater(t, resp.ResetAt, time.Now().Unix())

	env.waitAudit(t, domain.ActionRateLimited, 1)
}

func TestUnknownPathIs404WithAudit(t *testing.T) {
	env := newTestEnv(t, 10, http.StatusOK)
	key := env.createKey(t)

	rec := env.do("GET", "/api/unknown", key, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.waitAudit(t, domain.ActionNotFound, 1)
}

func TestBackendFailureIs503WithoutLeak(t *testing.T) {
	env := newTestEnv(t, 10, http.StatusInternalServerError)
	key := env.createKey(t)

	rec := env.do("POST", "/api/chat", key, `{"message":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "stack trace",
		"upstream body must not leak to the client")

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Backend unavailable", resp["error"])
}

func TestEmbeddings(t *testing.T) {
	env := newTestEnv(t, 10, http.StatusOK)
	key := env.createKey(t)

	rec := env.do("POST", "/api/embeddings", key, `{"text":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp embeddingsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Dimensions)
	assert.Len(t, resp.Embedding, 2)

	rec = env.do("POST", "/api/embeddings", key, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestModels(t *testing.T) {
	env := newTestEnv(t, 10, http.StatusOK)
	key := env.createKey(t)

	rec := env.do("GET", "/api/models", key, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp modelsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Models, 1)
	assert.Equal(t, "llama3:8b", resp.Models[0].Name)
}

func TestSearchBodyAndQueryParam(t *testing.T) {
	env := newTestEnv(t, 10, http.StatusOK)
	key := env.createKey(t)

	rec := env.do("POST", "/api/search", key, `{"query":"golang"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "golang", resp["query"])

	rec = env.do("GET", "/api/search?q=golang", key, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do("POST", "/api/search", key, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDocumentsRoutedButUnbacked(t *testing.T) {
	env := newTestEnv(t, 10, http.StatusOK)
	key := env.createKey(t)

	rec := env.do("POST", "/api/documents/upload", key, `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSessionTokenAuth(t *testing.T) {
	env := newTestEnv(t, 10, http.StatusOK)
	ctx := context.Background()

	userID, err := env.store.CreateUser(ctx)
	require.NoError(t, err)
	require.NoError(t, env.store.CreateSession(ctx, userID, "tok-123", time.Now().Add(time.Hour)))

	req := httptest.NewRequest("GET", "/api/models", nil)
	req.Header.Set("Authorization", "Bearer tok-123")
	rec := httptest.NewRecorder()
	env.gw.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Expired sessions fail closed.
	require.NoError(t, env.store.CreateSession(ctx, userID, "tok-old", time.Now().Add(-time.Hour)))
	req = httptest.NewRequest("GET", "/api/models", nil)
	req.Header.Set("Authorization", "Bearer tok-old")
	rec = httptest.NewRecorder()
	env.gw.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
