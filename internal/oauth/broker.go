// ABOUTME: OAuth session broker implementing the authorization-code grant
// ABOUTME: One-time codes live in memory; registered clients are durable

package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ravediamond/mcph-gateway/internal/auth"
	"github.com/ravediamond/mcph-gateway/internal/store"
)

// Grant errors surfaced to clients as OAuth error codes
var (
	ErrInvalidRequest      = errors.New("invalid_request")
	ErrInvalidGrant        = errors.New("invalid_grant")
	ErrUnsupportedGrant    = errors.New("unsupported_grant_type")
	ErrAccessDenied        = errors.New("access_denied")
	ErrUnknownClient       = errors.New("unknown client")
	ErrRedirectURIMismatch = errors.New("redirect URI not registered for client")
	ErrClientAuthFailed    = errors.New("client authentication failed")
)

const (
	defaultSessionTTL = 5 * time.Minute
	sweepInterval     = 5 * time.Minute
	accessTokenTTL    = time.Hour
	accessTokenScope  = "mcp"
)

// Session is a pending one-time authorization code. It exists only between
// the upstream callback and the token exchange, and is lost on restart;
// clients simply re-authorize.
type Session struct {
	Code          string
	ExchangeToken string
	State         string
	ClientID      string
	RedirectURI   string
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// TokenResponse is the successful token-endpoint payload.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// upstreamState is what we pack into the provider's state parameter so the
// callback can recover the original authorize request.
type upstreamState struct {
	State       string `json:"state"`
	ClientID    string `json:"client_id"`
	RedirectURI string `json:"redirect_uri"`
	Nonce       string `json:"nonce"`
}

// Broker implements the authorization-code grant. Authorization codes are
// single-use: consumption and existence-check are one atomic operation under
// the broker's mutex, so two concurrent exchanges of the same code yield
// exactly one success.
type Broker struct {
	issuer     string
	clients    store.ClientStore
	exchanger  Exchanger
	tokens     *auth.JWTVerifier
	sessionTTL time.Duration
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session // code -> session

	sweepStop chan struct{}
	sweepOnce sync.Once
}

// NewBroker creates a session broker. issuer is the externally visible base
// URL of this gateway, used in discovery metadata. sessionTTL bounds how
// long an unexchanged authorization code stays valid; zero means the
// default of five minutes.
func NewBroker(issuer string, clients store.ClientStore, exchanger Exchanger, tokens *auth.JWTVerifier, sessionTTL time.Duration, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTTL
	}
	b := &Broker{
		issuer:     issuer,
		clients:    clients,
		exchanger:  exchanger,
		tokens:     tokens,
		sessionTTL: sessionTTL,
		logger:     logger.With("component", "oauth"),
		sessions:   make(map[string]*Session),
		sweepStop:  make(chan struct{}),
	}
	go b.sweepLoop()
	return b
}

// Close stops the background session sweep.
func (b *Broker) Close() {
	b.sweepOnce.Do(func() { close(b.sweepStop) })
}

// Authorize validates an authorization request and returns the upstream
// provider URL to redirect the caller to.
func (b *Broker) Authorize(ctx context.Context, clientID, redirectURI, responseType, state string) (string, error) {
	if responseType != "code" {
		return "", fmt.Errorf("%w: response_type must be code", ErrInvalidRequest)
	}
	if clientID == "" || redirectURI == "" {
		return "", fmt.Errorf("%w: client_id and redirect_uri are required", ErrInvalidRequest)
	}

	client, err := b.clients.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrUnknownClient
		}
		return "", fmt.Errorf("failed to look up client: %w", err)
	}
	if !client.HasRedirectURI(redirectURI) {
		return "", ErrRedirectURIMismatch
	}

	packed, err := packState(upstreamState{
		State:       state,
		ClientID:    clientID,
		RedirectURI: redirectURI,
		Nonce:       uuid.New().String(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode state: %w", err)
	}

	return b.exchanger.AuthURL(packed), nil
}

// Callback handles the upstream provider's redirect. It exchanges the
// upstream code for an identity, mints a one-time authorization code, and
// returns the client redirect URL carrying that code and the original state.
func (b *Broker) Callback(ctx context.Context, upstreamCode, packedState, upstreamErr string) (string, error) {
	if upstreamErr != "" {
		return "", fmt.Errorf("%w: upstream returned %s", ErrAccessDenied, upstreamErr)
	}
	st, err := unpackState(packedState)
	if err != nil {
		return "", fmt.Errorf("%w: bad state", ErrInvalidRequest)
	}

	identity, err := b.exchanger.Exchange(ctx, upstreamCode)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}

	exchangeToken, err := b.tokens.Generate(identity.Subject, accessTokenScope, identity.Name, accessTokenTTL)
	if err != nil {
		return "", fmt.Errorf("failed to mint exchange token: %w", err)
	}

	code, err := randomCode()
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}

	now := time.Now()
	b.mu.Lock()
	b.sessions[code] = &Session{
		Code:          code,
		ExchangeToken: exchangeToken,
		State:         st.State,
		ClientID:      st.ClientID,
		RedirectURI:   st.RedirectURI,
		CreatedAt:     now,
		ExpiresAt:     now.Add(b.sessionTTL),
	}
	b.mu.Unlock()

	b.logger.Info("authorization code issued", "client_id", st.ClientID, "caller_id", identity.Subject)

	redirect, err := url.Parse(st.RedirectURI)
	if err != nil {
		return "", fmt.Errorf("%w: bad redirect_uri", ErrInvalidRequest)
	}
	q := redirect.Query()
	q.Set("code", code)
	if st.State != "" {
		q.Set("state", st.State)
	}
	redirect.RawQuery = q.Encode()
	return redirect.String(), nil
}

// ExchangeCode consumes a one-time authorization code and returns the access
// token. The code is deleted before any validation result is returned, so a
// second exchange of the same code always fails with invalid_grant. The
// client's secret must match the hash recorded at registration.
func (b *Broker) ExchangeCode(ctx context.Context, grantType, code, redirectURI, clientID, clientSecret string) (*TokenResponse, error) {
	if grantType != "authorization_code" {
		return nil, ErrUnsupportedGrant
	}
	if code == "" {
		return nil, fmt.Errorf("%w: code is required", ErrInvalidRequest)
	}

	b.mu.Lock()
	session, ok := b.sessions[code]
	if ok {
		delete(b.sessions, code)
	}
	b.mu.Unlock()

	if !ok {
		return nil, ErrInvalidGrant
	}
	if time.Now().After(session.ExpiresAt) {
		return nil, ErrInvalidGrant
	}
	if session.ClientID != clientID || session.RedirectURI != redirectURI {
		return nil, ErrInvalidGrant
	}

	client, err := b.clients.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrClientAuthFailed
		}
		return nil, fmt.Errorf("failed to look up client: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(clientSecret)); err != nil {
		b.logger.Warn("client secret rejected", "client_id", clientID)
		return nil, ErrClientAuthFailed
	}

	return &TokenResponse{
		AccessToken: session.ExchangeToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(accessTokenTTL.Seconds()),
		Scope:       accessTokenScope,
	}, nil
}

// RegisterClient durably registers an OAuth client and returns the generated
// credentials. The plaintext secret is returned once and never stored.
func (b *Broker) RegisterClient(ctx context.Context, name string, redirectURIs []string) (*store.Client, string, error) {
	if name == "" || len(redirectURIs) == 0 {
		return nil, "", fmt.Errorf("%w: client_name and redirect_uris are required", ErrInvalidRequest)
	}

	secret, err := randomCode()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate secret: %w", err)
	}
	secretHash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash secret: %w", err)
	}

	client := &store.Client{
		ClientID:      uuid.New().String(),
		SecretHash:    string(secretHash),
		Name:          name,
		RedirectURIs:  redirectURIs,
		GrantTypes:    []string{"authorization_code"},
		ResponseTypes: []string{"code"},
		Scope:         accessTokenScope,
		CreatedAt:     time.Now(),
	}
	if err := b.clients.CreateClient(ctx, client); err != nil {
		return nil, "", fmt.Errorf("failed to store client: %w", err)
	}

	b.logger.Info("client registered", "client_id", client.ClientID, "name", name)
	return client, secret, nil
}

// SessionCount returns the number of pending authorization codes.
func (b *Broker) SessionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

func (b *Broker) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.sweep(time.Now())
		case <-b.sweepStop:
			return
		}
	}
}

// sweep removes sessions whose code was never exchanged before expiry.
func (b *Broker) sweep(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for code, session := range b.sessions {
		if now.After(session.ExpiresAt) {
			delete(b.sessions, code)
		}
	}
}

func packState(st upstreamState) (string, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func unpackState(packed string) (*upstreamState, error) {
	data, err := base64.RawURLEncoding.DecodeString(packed)
	if err != nil {
		return nil, err
	}
	var st upstreamState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	if st.ClientID == "" || st.RedirectURI == "" {
		return nil, errors.New("incomplete state")
	}
	return &st, nil
}

func randomCode() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
