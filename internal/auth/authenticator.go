// ABOUTME: Resolves bearer credentials to an auth Context
// ABOUTME: API keys (cached, with last-used cooldown) take priority over OAuth tokens

package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ravediamond/mcph-gateway/internal/store"
)

// Authentication errors
var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrKeyInactive       = errors.New("api key inactive")
	ErrKeyExpired        = errors.New("api key expired")
)

// touchCooldown bounds write amplification on the key last-used timestamp.
const touchCooldown = 5 * time.Minute

// cacheEntry is a cached API key resolution.
type cacheEntry struct {
	authCtx   *Context
	keyID     string
	expiresAt time.Time
}

// Authenticator resolves a raw bearer credential to an auth Context.
// Resolution order: API key (hash lookup, cached), then OAuth exchange
// token, then failure. Anonymous access is granted by callers, not here.
type Authenticator struct {
	keys     store.KeyStore
	verifier TokenVerifier
	cacheTTL time.Duration
	logger   *slog.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry // key hash -> resolution
}

// NewAuthenticator creates an authenticator with the given key store and
// exchange token verifier. cacheTTL bounds how long a successful API key
// validation is reused without a store lookup.
func NewAuthenticator(keys store.KeyStore, verifier TokenVerifier, cacheTTL time.Duration, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		keys:     keys,
		verifier: verifier,
		cacheTTL: cacheTTL,
		logger:   logger.With("component", "auth"),
		cache:    make(map[string]cacheEntry),
	}
}

// HashKey returns the hex SHA-256 of a raw API key, the form stored at rest.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Resolve maps a raw bearer credential to an auth Context.
// Returns ErrInvalidCredential (or a more specific key error) on failure.
func (a *Authenticator) Resolve(ctx context.Context, credential string) (*Context, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, ErrMissingCredential
	}

	// API keys first: cheap hash lookup against the store, cached.
	authCtx, err := a.resolveAPIKey(ctx, credential)
	if err == nil {
		return authCtx, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	// Fall back to OAuth exchange tokens.
	claims, err := a.verifier.Verify(credential)
	if err != nil {
		return nil, ErrInvalidCredential
	}

	return &Context{
		CallerID:   claims.CallerID,
		AuthMethod: MethodOAuthToken,
		Scopes:     strings.Fields(claims.Scope),
		ClientName: claims.ClientName,
	}, nil
}

// resolveAPIKey looks up the credential as an API key.
// Returns store.ErrNotFound when the credential is not a known key.
func (a *Authenticator) resolveAPIKey(ctx context.Context, credential string) (*Context, error) {
	hash := HashKey(credential)
	now := time.Now()

	a.mu.RLock()
	entry, ok := a.cache[hash]
	a.mu.RUnlock()
	if ok && now.Before(entry.expiresAt) {
		// Still touch the last-used timestamp; the store applies its own
		// cooldown so this stays cheap.
		a.touch(ctx, entry.keyID, now)
		return entry.authCtx, nil
	}

	key, err := a.keys.GetKeyByHash(ctx, hash)
	if err != nil {
		return nil, err
	}

	if !key.Active {
		return nil, ErrKeyInactive
	}
	if key.Expired(now) {
		return nil, ErrKeyExpired
	}

	authCtx := &Context{
		CallerID:   key.OwnerID,
		AuthMethod: MethodAPIKey,
		Scopes:     key.Scopes,
		ClientName: key.Name,
	}

	a.mu.Lock()
	a.cache[hash] = cacheEntry{authCtx: authCtx, keyID: key.ID, expiresAt: now.Add(a.cacheTTL)}
	a.mu.Unlock()

	a.touch(ctx, key.ID, now)
	return authCtx, nil
}

// touch updates the key's last-used timestamp; failures are logged, not fatal.
func (a *Authenticator) touch(ctx context.Context, keyID string, now time.Time) {
	if err := a.keys.TouchKey(ctx, keyID, now, touchCooldown); err != nil {
		a.logger.Warn("failed to update key last-used", "key_id", keyID, "error", err)
	}
}

// InvalidateCache clears cached key resolutions. Called after key
// deactivation so revocation takes effect within the request, not the TTL.
func (a *Authenticator) InvalidateCache() {
	a.mu.Lock()
	a.cache = make(map[string]cacheEntry)
	a.mu.Unlock()
}
