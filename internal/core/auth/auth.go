// Package auth provides HMAC-based API key authentication for gRPC services.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/solatis/rowkeeper/internal/core/db"
	"github.com/solatis/rowkeeper/internal/types"
)

// contextKey is a typed key for context values to avoid collisions.
type contextKey string

const principalKey = contextKey("principal")

// lastUsedThrottle bounds last_used_at writes per key.
const lastUsedThrottle = time.Minute

// KeyStore looks up stored API keys. Implemented by *db.Queries.
type KeyStore interface {
	GetAPIKeyByHash(ctx context.Context, keyHash []byte) (*db.APIKey, error)
	TouchAPIKey(ctx context.Context, keyID string) error
}

// Principal is the authenticated caller. Decision requests carry it as the
// policy input's user and tenant.
type Principal struct {
	KeyID    string
	TenantID types.TenantID
	UserID   string
}

// Authenticator validates API keys using HMAC-SHA256 signatures.
type Authenticator struct {
	secrets map[string][]byte
	keys    KeyStore
	logger  *slog.Logger
}

// NewAuthenticator creates an authenticator with HMAC secrets and a key store.
func NewAuthenticator(secrets map[string][]byte, keys KeyStore, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		secrets: secrets,
		keys:    keys,
		logger:  logger,
	}
}

// Authenticate validates an API key and returns the principal it belongs to.
func (a *Authenticator) Authenticate(ctx context.Context, apiKey string) (*Principal, error) {
	secretID, _, err := ParseAPIKey(apiKey)
	if err != nil {
		return nil, err
	}

	secret, ok := a.secrets[secretID]
	if !ok {
		return nil, ErrUnknownKey
	}

	key, err := a.keys.GetAPIKeyByHash(ctx, ComputeHMAC(secret, apiKey))
	if errors.Is(err, db.ErrAPIKeyNotFound) {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if key.RevokedAt.Valid {
		return nil, ErrKeyRevoked
	}

	if !key.LastUsedAt.Valid || time.Since(key.LastUsedAt.Time) > lastUsedThrottle {
		if err := a.keys.TouchAPIKey(ctx, key.ID); err != nil {
			a.logger.Warn("failed to update api key last use", "key_id", key.ID, "error", err)
		}
	}

	return &Principal{
		KeyID:    key.ID,
		TenantID: types.TenantID(key.TenantID),
		UserID:   key.UserID,
	}, nil
}

// UnaryInterceptor returns gRPC interceptor that authenticates requests.
// Methods listed in skip (full method names) pass through unauthenticated.
func (a *Authenticator) UnaryInterceptor(skip ...string) grpc.UnaryServerInterceptor {
	open := make(map[string]bool, len(skip))
	for _, m := range skip {
		open[m] = true
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if open[info.FullMethod] {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		apiKeys := md.Get("x-api-key")
		if len(apiKeys) == 0 {
			return nil, status.Error(codes.Unauthenticated, ErrMissingKey.Error())
		}

		principal, err := a.Authenticate(ctx, apiKeys[0])
		switch {
		case err == nil:
		case errors.Is(err, ErrKeyRevoked):
			return nil, status.Error(codes.PermissionDenied, err.Error())
		case errors.Is(err, ErrStoreUnavailable):
			a.logger.Error("authentication failed", "method", info.FullMethod, "error", err)
			return nil, status.Error(codes.Unavailable, ErrStoreUnavailable.Error())
		default:
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}

		return handler(WithPrincipal(ctx, principal), req)
	}
}

// WithPrincipal returns ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext extracts the authenticated caller.
// Returns nil if not found.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}

// TenantIDFromContext extracts tenant ID from context.
// Returns empty string if not found.
func TenantIDFromContext(ctx context.Context) types.TenantID {
	if p := PrincipalFromContext(ctx); p != nil {
		return p.TenantID
	}
	return ""
}
