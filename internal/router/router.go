// Package router maps request paths onto backend capabilities.
package router

import (
	"fmt"
	"sort"
	"strings"
)

// Capability is a backend-facing function category a route maps onto.
type Capability string

const (
	CapabilityHealth     Capability = "health"
	CapabilityKeyIssue   Capability = "key_issue"
	CapabilityMetrics    Capability = "metrics"
	CapabilityChat       Capability = "chat"
	CapabilityModels     Capability = "models"
	CapabilityEmbeddings Capability = "embeddings"
	CapabilitySearch     Capability = "search"
	CapabilityDocuments  Capability = "documents"
	CapabilityAgents     Capability = "agents"
)

// Route describes one entry of the static route table.
type Route struct {
	// Path is the exact path or, when Prefix is set, the path prefix.
	Path string

	// Prefix selects prefix matching for capability groups.
	Prefix bool

	// Methods is the allowed method set; empty means any method.
	Methods []string

	// Capability is the backend capability this route dispatches to.
	Capability Capability

	// Public routes bypass authentication and rate limiting.
	Public bool
}

// Table is the compiled, immutable route table. Matching is
// first-match-wins over the configured order.
type Table struct {
	routes []Route
}

// New validates and compiles a route table. Ambiguous entries (duplicate
// exact paths, or overlapping prefixes) are rejected so misconfiguration
// fails at startup rather than at dispatch time.
func New(routes []Route) (*Table, error) {
	seen := make(map[string]bool)
	var prefixes []string

	for _, rt := range routes {
		if rt.Path == "" {
			return nil, fmt.Errorf("route with empty path for capability %q", rt.Capability)
		}
		key := rt.Path
		if rt.Prefix {
			key += "*"
		}
		if seen[key] {
			return nil, fmt.Errorf("duplicate route %q", key)
		}
		seen[key] = true
		if rt.Prefix {
			prefixes = append(prefixes, rt.Path)
		}
	}

	// A prefix that is itself a prefix of another makes one of the two
	// unreachable depending on order.
	sorted := append([]string(nil), prefixes...)
	sort.Strings(sorted)
	for i := 1; i < len(sorted); i++ {
		if strings.HasPrefix(sorted[i], sorted[i-1]) {
			return nil, fmt.Errorf("overlapping route prefixes %q and %q", sorted[i-1], sorted[i])
		}
	}

	return &Table{routes: append([]Route(nil), routes...)}, nil
}

// Match returns the first route matching method and path.
func (t *Table) Match(method, path string) (Route, bool) {
	for _, rt := range t.routes {
		if rt.Prefix {
			if !strings.HasPrefix(path, rt.Path) {
				continue
			}
		} else if path != rt.Path {
			continue
		}
		if !methodAllowed(rt.Methods, method) {
			continue
		}
		return rt, true
	}
	return Route{}, false
}

func methodAllowed(methods []string, method string) bool {
	if len(methods) == 0 {
		return true
	}
	for _, m := range methods {
		if m == method {
			return true
		}
	}
	return false
}

// Default returns the gateway's route table.
func Default() (*Table, error) {
	return New([]Route{
		{Path: "/", Methods: []string{"GET"}, Capability: CapabilityHealth, Public: true},
		{Path: "/health", Methods: []string{"GET"}, Capability: CapabilityHealth, Public: true},
		{Path: "/metrics", Methods: []string{"GET"}, Capability: CapabilityMetrics, Public: true},
		{Path: "/api/keys/create", Methods: []string{"POST"}, Capability: CapabilityKeyIssue, Public: true},
		{Path: "/api/chat", Prefix: true, Methods: []string{"POST"}, Capability: CapabilityChat},
		{Path: "/api/models", Prefix: true, Methods: []string{"GET"}, Capability: CapabilityModels},
		{Path: "/api/embeddings", Prefix: true, Methods: []string{"POST"}, Capability: CapabilityEmbeddings},
		{Path: "/api/search", Prefix: true, Methods: []string{"GET", "POST"}, Capability: CapabilitySearch},
		{Path: "/api/documents", Prefix: true, Capability: CapabilityDocuments},
		{Path: "/api/agents", Prefix: true, Capability: CapabilityAgents},
	})
}
