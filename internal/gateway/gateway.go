// Package gateway sequences the request admission and dispatch pipeline:
// authentication, rate limiting, routing, backend proxying and audit
// recording, with a uniform response envelope for every terminal branch.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/efremov-platform/llm-edge-gateway/internal/audit"
	"github.com/efremov-platform/llm-edge-gateway/internal/auth"
	"github.com/efremov-platform/llm-edge-gateway/internal/backend/ollama"
	"github.com/efremov-platform/llm-edge-gateway/internal/backend/search"
	"github.com/efremov-platform/llm-edge-gateway/internal/config"
	"github.com/efremov-platform/llm-edge-gateway/internal/domain"
	"github.com/efremov-platform/llm-edge-gateway/internal/metrics"
	"github.com/efremov-platform/llm-edge-gateway/internal/ratelimit"
	"github.com/efremov-platform/llm-edge-gateway/internal/router"
	"github.com/efremov-platform/llm-edge-gateway/internal/server"
	"github.com/efremov-platform/llm-edge-gateway/internal/store/sqlite"
)

const (
	defaultChatModel  = "llama3"
	defaultEmbedModel = "nomic-embed-text"
	searchResultCount = 10
)

// Gateway is the request orchestrator. All cross-request state lives in
// the external stores; the gateway itself only holds read-only wiring.
type Gateway struct {
	cfg      *config.Config
	resolver *auth.Resolver
	limiter  *ratelimit.Limiter
	routes   *router.Table
	ollama   *ollama.Client
	search   *search.Client
	store    *sqlite.Store
	recorder *audit.Recorder
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New wires the pipeline components together.
func New(cfg *config.Config, store *sqlite.Store, counter ratelimit.Counter, logger *slog.Logger) (*Gateway, error) {
	routes, err := router.Default()
	if err != nil {
		return nil, fmt.Errorf("invalid route table: %w", err)
	}

	m := metrics.New()

	inference := ollama.NewClient(cfg.Backend.OllamaURL, cfg.Backend.InternalToken)

	var searchOpts []search.ClientOption
	if cfg.Backend.SearchVector {
		searchOpts = append(searchOpts, search.WithEmbedder(func(ctx context.Context, text string) ([]float64, error) {
			res, err := inference.Embeddings(ctx, defaultEmbedModel, text)
			if err != nil {
				return nil, err
			}
			return res.Embedding, nil
		}))
	}

	return &Gateway{
		cfg:      cfg,
		resolver: auth.NewResolver(store, logger),
		limiter:  ratelimit.New(counter, cfg.RateLimit.Window, cfg.RateLimit.Limit),
		routes:   routes,
		ollama:   inference,
		search:   search.NewClient(cfg.Backend.SearchURL, searchOpts...),
		store:    store,
		recorder: audit.NewRecorder(store, logger, audit.WithDropHook(m.AuditDropped.Inc)),
		metrics:  m,
		logger:   logger,
	}, nil
}

// Close drains the audit queue.
func (g *Gateway) Close(ctx context.Context) error {
	return g.recorder.Close(ctx)
}

// Mount registers the gateway on the server router.
func (g *Gateway) Mount(srv *server.Server) {
	srv.Router.Handle("/*", g)
}

// ServeHTTP runs the pipeline for one request. Stage order is fixed:
// auth, rate limit, route, backend, audit. Public routes skip the first
// two stages.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	applyCORS(w.Header())

	// Preflight short-circuits everything else.
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	route, matched := g.routes.Match(r.Method, r.URL.Path)
	if matched && route.Public {
		g.servePublic(w, r, route)
		return
	}

	identity, err := g.resolver.Resolve(r.Context(), r.Header)
	if err != nil {
		g.reject(w, r, err, domain.AuditEntry{
			Action:   domain.ActionAuthFailed,
			Resource: r.URL.Path,
			Detail:   "Invalid authentication",
		})
		g.metrics.RejectionsTotal.WithLabelValues("auth").Inc()
		return
	}
	server.AddLogField(r.Context(), "user_id", identity.UserID)

	decision, err := g.limiter.Admit(r.Context(), identity.Key())
	if err != nil {
		server.AddError(r.Context(), err)
		g.logger.Error("rate limiter unavailable", slog.String("error", err.Error()))
		g.reject(w, r, domain.ErrInternal(err), domain.AuditEntry{
			UserID:   identity.UserID,
			Action:   domain.ActionAPICall,
			Resource: r.URL.Path,
			Detail:   `{"error":"rate limiter unavailable"}`,
		})
		return
	}
	setRateLimitHeaders(w.Header(), decision.Limit, decision.Remaining, decision.ResetAt)
	if !decision.Allowed {
		g.audit(r, domain.AuditEntry{
			UserID:   identity.UserID,
			Action:   domain.ActionRateLimited,
			Resource: r.URL.Path,
		})
		g.metrics.RejectionsTotal.WithLabelValues("rate_limit").Inc()
		g.metrics.RequestsTotal.WithLabelValues("", "429").Inc()
		writeJSON(w, http.StatusTooManyRequests, rateLimitBody{
			Error:   "Rate limit exceeded",
			Limit:   decision.Limit,
			ResetAt: decision.ResetAt,
		})
		return
	}

	if !matched {
		g.audit(r, domain.AuditEntry{
			UserID:   identity.UserID,
			Action:   domain.ActionNotFound,
			Resource: r.URL.Path,
		})
		g.metrics.RejectionsTotal.WithLabelValues("not_found").Inc()
		g.metrics.RequestsTotal.WithLabelValues("", "404").Inc()
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Not found"})
		return
	}

	payload, err := g.dispatch(r, route.Capability)
	if err != nil {
		ge := domain.AsGatewayError(err)
		server.AddError(r.Context(), err)
		if ge.Kind == domain.ErrorKindInternal || ge.Kind == domain.ErrorKindBackendUnavailable {
			g.logger.Error("backend call failed",
				slog.String("capability", string(route.Capability)),
				slog.String("error", err.Error()))
		}
		status := ge.HTTPStatusCode()
		g.audit(r, domain.AuditEntry{
			UserID:   identity.UserID,
			Action:   domain.ActionAPICall,
			Resource: r.URL.Path,
			Detail:   fmt.Sprintf(`{"method":%q,"status":%d}`, r.Method, status),
		})
		if ge.Kind == domain.ErrorKindValidation {
			g.metrics.RejectionsTotal.WithLabelValues("validation").Inc()
		}
		g.metrics.RequestsTotal.WithLabelValues(string(route.Capability), strconv.Itoa(status)).Inc()
		writeJSON(w, status, errorBody{Error: ge.Message})
		return
	}

	g.audit(r, domain.AuditEntry{
		UserID:   identity.UserID,
		Action:   domain.ActionAPICall,
		Resource: r.URL.Path,
		Detail:   fmt.Sprintf(`{"method":%q,"status":200}`, r.Method),
	})
	g.metrics.RequestsTotal.WithLabelValues(string(route.Capability), "200").Inc()
	writeJSON(w, http.StatusOK, payload)
}

// servePublic handles the routes that bypass authentication and rate
// limiting entirely.
func (g *Gateway) servePublic(w http.ResponseWriter, r *http.Request, route router.Route) {
	switch route.Capability {
	case router.CapabilityHealth:
		g.metrics.RequestsTotal.WithLabelValues(string(route.Capability), "200").Inc()
		writeJSON(w, http.StatusOK, g.healthPayload())
	case router.CapabilityMetrics:
		g.metrics.Handler().ServeHTTP(w, r)
	case router.CapabilityKeyIssue:
		g.handleCreateKey(w, r)
	default:
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Not found"})
	}
}

// reject writes an error response and audits the terminal branch.
func (g *Gateway) reject(w http.ResponseWriter, r *http.Request, err error, entry domain.AuditEntry) {
	ge := domain.AsGatewayError(err)
	status := ge.HTTPStatusCode()
	g.audit(r, entry)
	g.metrics.RequestsTotal.WithLabelValues("", strconv.Itoa(status)).Inc()
	writeJSON(w, status, errorBody{Error: ge.Message})
}

// audit fills in request attribution and enqueues the record. The
// recorder never blocks and never fails the response.
func (g *Gateway) audit(r *http.Request, entry domain.AuditEntry) {
	entry.ClientIP = clientIP(r)
	entry.UserAgent = r.UserAgent()
	g.recorder.Record(entry)
}

func (g *Gateway) dispatch(r *http.Request, capability router.Capability) (interface{}, error) {
	switch capability {
	case router.CapabilityChat:
		return g.handleChat(r)
	case router.CapabilityModels:
		return g.handleModels(r)
	case router.CapabilityEmbeddings:
		return g.handleEmbeddings(r)
	case router.CapabilitySearch:
		return g.handleSearch(r)
	case router.CapabilityDocuments, router.CapabilityAgents:
		// Routed but not yet backed by a configured service.
		return nil, domain.ErrBackendUnavailable(fmt.Errorf("no backend configured for %s", capability))
	default:
		return nil, domain.ErrInternal(fmt.Errorf("unhandled capability %q", capability))
	}
}

func (g *Gateway) healthPayload() map[string]interface{} {
	return map[string]interface{}{
		"status":  "ok",
		"service": g.cfg.Server.Service,
		"version": g.cfg.Server.Version,
		"endpoints": []string{
			"/health",
			"/api/keys/create",
			"/api/chat",
			"/api/models",
			"/api/embeddings",
			"/api/search",
		},
	}
}

// clientIP prefers the edge platform's connecting-IP header, falling back
// to X-Forwarded-For and finally the socket address.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		if idx := strings.IndexByte(ip, ','); idx > 0 {
			return strings.TrimSpace(ip[:idx])
		}
		return ip
	}
	host := r.RemoteAddr
	if idx := strings.LastIndexByte(host, ':'); idx > 0 {
		host = host[:idx]
	}
	if host == "" {
		return "unknown"
	}
	return host
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrValidation("Invalid JSON body")
	}
	return nil
}
