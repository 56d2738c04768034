// Package auth resolves request credentials into identities.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/efremov-platform/llm-edge-gateway/internal/domain"
	"github.com/efremov-platform/llm-edge-gateway/internal/store/sqlite"
)

// APIKeyHeader carries the raw API key.
const APIKeyHeader = "X-API-Key"

// CredentialStore is the keyed lookup store the resolver reads from.
type CredentialStore interface {
	LookupAPIKey(ctx context.Context, keyHash string) (string, error)
	TouchAPIKey(ctx context.Context, keyHash string) error
	LookupSession(ctx context.Context, token string, now time.Time) (string, error)
}

// Resolver resolves an identity from request headers. API keys are tried
// first; a miss falls through to bearer session tokens.
type Resolver struct {
	store  CredentialStore
	logger *slog.Logger
	now    func() time.Time
}

// NewResolver creates a resolver backed by the given credential store.
func NewResolver(store CredentialStore, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Resolve produces the identity for a request, or an invalid_auth error.
// Malformed headers are treated as "no credential presented", never as a
// fault.
func (r *Resolver) Resolve(ctx context.Context, headers http.Header) (domain.Identity, error) {
	if apiKey := headers.Get(APIKeyHeader); apiKey != "" {
		keyHash := HashAPIKey(apiKey)
		userID, err := r.store.LookupAPIKey(ctx, keyHash)
		switch {
		case err == nil:
			r.touchAsync(keyHash)
			return domain.Identity{UserID: userID, Kind: domain.CredentialAPIKey}, nil
		case !errors.Is(err, sqlite.ErrNotFound):
			r.logger.Warn("api key lookup failed", slog.String("error", err.Error()))
		}
		// Miss falls through to the next method.
	}

	if token := bearerToken(headers.Get("Authorization")); token != "" {
		userID, err := r.store.LookupSession(ctx, token, r.now())
		switch {
		case err == nil:
			return domain.Identity{UserID: userID, Kind: domain.CredentialSession}, nil
		case !errors.Is(err, sqlite.ErrNotFound):
			r.logger.Warn("session lookup failed", slog.String("error", err.Error()))
		}
	}

	return domain.Identity{}, domain.ErrInvalidAuth("Invalid authentication")
}

// touchAsync updates the key's last-used timestamp without blocking the
// request. Failures are logged and otherwise ignored.
func (r *Resolver) touchAsync(keyHash string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.store.TouchAPIKey(ctx, keyHash); err != nil {
			r.logger.Warn("failed to update key last-used timestamp",
				slog.String("error", err.Error()))
		}
	}()
}

// bearerToken extracts the token from an Authorization header, returning
// "" for anything that is not a well-formed bearer credential.
func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// HashAPIKey returns the SHA-256 hex digest of an API key. Only hashes are
// ever stored or compared.
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}
