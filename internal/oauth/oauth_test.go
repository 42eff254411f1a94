// ABOUTME: Tests for the OAuth broker and token endpoint
// ABOUTME: Covers the full authorize/callback/token round trip and code atomicity

package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ravediamond/mcph-gateway/internal/auth"
	"github.com/ravediamond/mcph-gateway/internal/store"
)

// testClientSecret is the plaintext secret registered for client-1.
const testClientSecret = "client-secret-1"

// fakeClientStore is an in-memory ClientStore.
type fakeClientStore struct {
	mu      sync.Mutex
	clients map[string]*store.Client
}

func newFakeClientStore() *fakeClientStore {
	return &fakeClientStore{clients: make(map[string]*store.Client)}
}

func (f *fakeClientStore) CreateClient(_ context.Context, client *store.Client) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[client.ClientID]; ok {
		return store.ErrDuplicateClient
	}
	f.clients[client.ClientID] = client
	return nil
}

func (f *fakeClientStore) GetClient(_ context.Context, clientID string) (*store.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	client, ok := f.clients[clientID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return client, nil
}

func (f *fakeClientStore) ListClients(_ context.Context) ([]*store.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*store.Client, 0, len(f.clients))
	for _, c := range f.clients {
		out = append(out, c)
	}
	return out, nil
}

func newTestBroker(t *testing.T) (*Broker, *fakeClientStore) {
	t.Helper()
	clients := newFakeClientStore()
	exchanger := &StaticExchanger{
		CallbackURL: "http://localhost:8080/auth/callback",
		Identity:    Identity{Subject: "user-7", Name: "Dev User"},
	}
	tokens := auth.NewJWTVerifier([]byte("test-secret-for-oauth"))
	b := NewBroker("http://localhost:8080", clients, exchanger, tokens, 0, nil)
	t.Cleanup(b.Close)
	return b, clients
}

func registerTestClient(t *testing.T, clients *fakeClientStore) *store.Client {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testClientSecret), bcrypt.MinCost)
	require.NoError(t, err)
	client := &store.Client{
		ClientID:     "client-1",
		SecretHash:   string(hash),
		Name:         "test client",
		RedirectURIs: []string{"http://localhost:9000/cb"},
		CreatedAt:    time.Now(),
	}
	require.NoError(t, clients.CreateClient(context.Background(), client))
	return client
}

// issueCode runs authorize + callback and returns the one-time code.
func issueCode(t *testing.T, b *Broker) string {
	t.Helper()
	authURL, err := b.Authorize(context.Background(), "client-1", "http://localhost:9000/cb", "code", "xyz")
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	packedState := parsed.Query().Get("state")
	require.NotEmpty(t, packedState)

	redirect, err := b.Callback(context.Background(), "dev", packedState, "")
	require.NoError(t, err)

	parsed, err = url.Parse(redirect)
	require.NoError(t, err)
	assert.Equal(t, "xyz", parsed.Query().Get("state"))
	code := parsed.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

func TestAuthorizeCallbackTokenRoundTrip(t *testing.T) {
	b, clients := newTestBroker(t)
	registerTestClient(t, clients)

	code := issueCode(t, b)

	resp, err := b.ExchangeCode(context.Background(), "authorization_code", code, "http://localhost:9000/cb", "client-1", testClientSecret)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, 3600, resp.ExpiresIn)
	assert.Equal(t, "mcp", resp.Scope)

	// The access token is a valid exchange token carrying the upstream identity.
	claims, err := auth.NewJWTVerifier([]byte("test-secret-for-oauth")).Verify(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-7", claims.CallerID)
	assert.Equal(t, "mcp", claims.Scope)
}

func TestAuthorizeRejectsUnknownClient(t *testing.T) {
	b, _ := newTestBroker(t)
	_, err := b.Authorize(context.Background(), "nope", "http://localhost:9000/cb", "code", "s")
	assert.ErrorIs(t, err, ErrUnknownClient)
}

func TestAuthorizeRejectsUnregisteredRedirect(t *testing.T) {
	b, clients := newTestBroker(t)
	registerTestClient(t, clients)
	_, err := b.Authorize(context.Background(), "client-1", "http://evil.example/cb", "code", "s")
	assert.ErrorIs(t, err, ErrRedirectURIMismatch)
}

func TestAuthorizeRejectsBadResponseType(t *testing.T) {
	b, clients := newTestBroker(t)
	registerTestClient(t, clients)
	_, err := b.Authorize(context.Background(), "client-1", "http://localhost:9000/cb", "token", "s")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCallbackUpstreamError(t *testing.T) {
	b, _ := newTestBroker(t)
	_, err := b.Callback(context.Background(), "", "whatever", "access_denied")
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestExchangeCodeSingleUse(t *testing.T) {
	b, clients := newTestBroker(t)
	registerTestClient(t, clients)
	code := issueCode(t, b)

	_, err := b.ExchangeCode(context.Background(), "authorization_code", code, "http://localhost:9000/cb", "client-1", testClientSecret)
	require.NoError(t, err)

	_, err = b.ExchangeCode(context.Background(), "authorization_code", code, "http://localhost:9000/cb", "client-1", testClientSecret)
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestExchangeCodeConcurrent(t *testing.T) {
	b, clients := newTestBroker(t)
	registerTestClient(t, clients)
	code := issueCode(t, b)

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan error, workers)
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := b.ExchangeCode(context.Background(), "authorization_code", code, "http://localhost:9000/cb", "client-1", testClientSecret)
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, ErrInvalidGrant)
		}
	}
	assert.Equal(t, 1, successes, "a code must exchange exactly once")
}

func TestExchangeCodeClientMismatch(t *testing.T) {
	b, clients := newTestBroker(t)
	registerTestClient(t, clients)

	code := issueCode(t, b)
	_, err := b.ExchangeCode(context.Background(), "authorization_code", code, "http://localhost:9000/cb", "other-client", testClientSecret)
	assert.ErrorIs(t, err, ErrInvalidGrant)

	// Mismatch still consumes the code.
	code = issueCode(t, b)
	_, err = b.ExchangeCode(context.Background(), "authorization_code", code, "http://localhost:9000/other", "client-1", testClientSecret)
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestExchangeCodeUnsupportedGrant(t *testing.T) {
	b, _ := newTestBroker(t)
	_, err := b.ExchangeCode(context.Background(), "client_credentials", "c", "u", "id", "s")
	assert.ErrorIs(t, err, ErrUnsupportedGrant)
}

func TestExchangeCodeWrongSecret(t *testing.T) {
	b, clients := newTestBroker(t)
	registerTestClient(t, clients)
	code := issueCode(t, b)

	_, err := b.ExchangeCode(context.Background(), "authorization_code", code, "http://localhost:9000/cb", "client-1", "wrong-secret")
	assert.ErrorIs(t, err, ErrClientAuthFailed)

	// The wrong-secret attempt consumed the code.
	_, err = b.ExchangeCode(context.Background(), "authorization_code", code, "http://localhost:9000/cb", "client-1", testClientSecret)
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestHandleTokenWrongSecretUnauthorized(t *testing.T) {
	b, clients := newTestBroker(t)
	registerTestClient(t, clients)
	code := issueCode(t, b)
	h := NewHandler(b, nil)

	body := `{"grant_type":"authorization_code","code":"` + code + `","redirect_uri":"http://localhost:9000/cb","client_id":"client-1","client_secret":"wrong"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.HandleToken(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_client", resp["error"])
}

func TestConfiguredSessionTTL(t *testing.T) {
	clients := newFakeClientStore()
	exchanger := &StaticExchanger{
		CallbackURL: "http://localhost:8080/auth/callback",
		Identity:    Identity{Subject: "user-7", Name: "Dev User"},
	}
	tokens := auth.NewJWTVerifier([]byte("test-secret-for-oauth"))
	b := NewBroker("http://localhost:8080", clients, exchanger, tokens, 30*time.Second, nil)
	t.Cleanup(b.Close)
	registerTestClient(t, clients)

	issueCode(t, b)
	require.Equal(t, 1, b.SessionCount())

	// A minute later the code is past its configured 30s lifetime.
	b.sweep(time.Now().Add(time.Minute))
	assert.Equal(t, 0, b.SessionCount())
}

func TestSweepRemovesExpiredSessions(t *testing.T) {
	b, clients := newTestBroker(t)
	registerTestClient(t, clients)
	issueCode(t, b)
	require.Equal(t, 1, b.SessionCount())

	b.sweep(time.Now().Add(defaultSessionTTL + time.Minute))
	assert.Equal(t, 0, b.SessionCount())
}

func TestRegisterClient(t *testing.T) {
	b, clients := newTestBroker(t)

	client, secret, err := b.RegisterClient(context.Background(), "my app", []string{"http://localhost:9000/cb"})
	require.NoError(t, err)
	assert.NotEmpty(t, client.ClientID)
	assert.NotEmpty(t, secret)
	assert.NotEqual(t, secret, client.SecretHash)

	stored, err := clients.GetClient(context.Background(), client.ClientID)
	require.NoError(t, err)
	assert.Equal(t, "my app", stored.Name)
}

func TestHandleTokenFormEncoded(t *testing.T) {
	b, clients := newTestBroker(t)
	registerTestClient(t, clients)
	code := issueCode(t, b)
	h := NewHandler(b, nil)

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", "http://localhost:9000/cb")
	form.Set("client_id", "client-1")
	form.Set("client_secret", testClientSecret)

	req := httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.HandleToken(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Bearer", resp.TokenType)
}

func TestHandleTokenJSON(t *testing.T) {
	b, clients := newTestBroker(t)
	registerTestClient(t, clients)
	code := issueCode(t, b)
	h := NewHandler(b, nil)

	body := `{"grant_type":"authorization_code","code":"` + code + `","redirect_uri":"http://localhost:9000/cb","client_id":"client-1","client_secret":"` + testClientSecret + `"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.HandleToken(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleTokenInvalidGrantResponse(t *testing.T) {
	b, _ := newTestBroker(t)
	h := NewHandler(b, nil)

	body := `{"grant_type":"authorization_code","code":"nope","redirect_uri":"u","client_id":"c"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.HandleToken(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_grant", resp["error"])
}

func TestHandleDiscovery(t *testing.T) {
	b, _ := newTestBroker(t)
	h := NewHandler(b, nil)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil)
	rec := httptest.NewRecorder()
	h.HandleDiscovery(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var meta DiscoveryMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	assert.Equal(t, "http://localhost:8080", meta.Issuer)
	assert.Equal(t, "http://localhost:8080/auth/token", meta.TokenEndpoint)
	assert.Equal(t, []string{"authorization_code"}, meta.GrantTypesSupported)
	assert.Contains(t, meta.CodeChallengeMethodsSupported, "S256")
}

func TestHandleAuthorizeRedirects(t *testing.T) {
	b, clients := newTestBroker(t)
	registerTestClient(t, clients)
	h := NewHandler(b, nil)

	req := httptest.NewRequest(http.MethodGet,
		"/auth/authorize?client_id=client-1&redirect_uri=http%3A%2F%2Flocalhost%3A9000%2Fcb&response_type=code&state=abc", nil)
	rec := httptest.NewRecorder()
	h.HandleAuthorize(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	location := rec.Header().Get("Location")
	assert.Contains(t, location, "http://localhost:8080/auth/callback")
}
