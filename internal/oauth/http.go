// ABOUTME: HTTP handlers for the authorization-code flow and discovery
// ABOUTME: Maps broker errors to RFC 6749 error responses

package oauth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// Handler exposes the broker over HTTP.
type Handler struct {
	broker *Broker
	logger *slog.Logger
}

func NewHandler(broker *Broker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{broker: broker, logger: logger.With("component", "oauth")}
}

// DiscoveryMetadata is the /.well-known/oauth-authorization-server document.
type DiscoveryMetadata struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	RegistrationEndpoint          string   `json:"registration_endpoint"`
	ResponseTypesSupported        []string `json:"response_types_supported"`
	GrantTypesSupported           []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
	ScopesSupported               []string `json:"scopes_supported"`
}

// HandleDiscovery serves GET /.well-known/oauth-authorization-server.
func (h *Handler) HandleDiscovery(w http.ResponseWriter, r *http.Request) {
	issuer := strings.TrimSuffix(h.broker.issuer, "/")
	writeJSON(w, http.StatusOK, DiscoveryMetadata{
		Issuer:                        issuer,
		AuthorizationEndpoint:         issuer + "/auth/authorize",
		TokenEndpoint:                 issuer + "/auth/token",
		RegistrationEndpoint:          issuer + "/auth/register",
		ResponseTypesSupported:        []string{"code"},
		GrantTypesSupported:           []string{"authorization_code"},
		CodeChallengeMethodsSupported: []string{"plain", "S256"},
		ScopesSupported:               []string{accessTokenScope},
	})
}

// HandleAuthorize serves GET /auth/authorize.
func (h *Handler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirect, err := h.broker.Authorize(r.Context(),
		q.Get("client_id"), q.Get("redirect_uri"), q.Get("response_type"), q.Get("state"))
	if err != nil {
		h.writeOAuthError(w, err)
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

// HandleCallback serves GET /auth/callback from the upstream provider.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirect, err := h.broker.Callback(r.Context(), q.Get("code"), q.Get("state"), q.Get("error"))
	if err != nil {
		h.writeOAuthError(w, err)
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

// tokenRequest accepts both form-encoded and JSON token requests.
type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// HandleToken serves POST /auth/token.
func (h *Handler) HandleToken(w http.ResponseWriter, r *http.Request) {
	req, err := parseTokenRequest(r)
	if err != nil {
		h.writeOAuthError(w, ErrInvalidRequest)
		return
	}

	resp, err := h.broker.ExchangeCode(r.Context(), req.GrantType, req.Code, req.RedirectURI, req.ClientID, req.ClientSecret)
	if err != nil {
		h.writeOAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// registerRequest is a minimal dynamic client registration payload.
type registerRequest struct {
	ClientName   string   `json:"client_name"`
	RedirectURIs []string `json:"redirect_uris"`
}

type registerResponse struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	ClientName   string   `json:"client_name"`
	RedirectURIs []string `json:"redirect_uris"`
}

// HandleRegister serves POST /auth/register.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeOAuthError(w, ErrInvalidRequest)
		return
	}

	client, secret, err := h.broker.RegisterClient(r.Context(), req.ClientName, req.RedirectURIs)
	if err != nil {
		h.writeOAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{
		ClientID:     client.ClientID,
		ClientSecret: secret,
		ClientName:   client.Name,
		RedirectURIs: client.RedirectURIs,
	})
}

func parseTokenRequest(r *http.Request) (*tokenRequest, error) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		var req tokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, err
		}
		return &req, nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	return &tokenRequest{
		GrantType:    r.PostFormValue("grant_type"),
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		ClientID:     r.PostFormValue("client_id"),
		ClientSecret: r.PostFormValue("client_secret"),
	}, nil
}

// writeOAuthError maps broker errors to RFC 6749 error responses.
func (h *Handler) writeOAuthError(w http.ResponseWriter, err error) {
	code := "server_error"
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, ErrInvalidGrant):
		code, status = "invalid_grant", http.StatusBadRequest
	case errors.Is(err, ErrUnsupportedGrant):
		code, status = "unsupported_grant_type", http.StatusBadRequest
	case errors.Is(err, ErrInvalidRequest):
		code, status = "invalid_request", http.StatusBadRequest
	case errors.Is(err, ErrAccessDenied):
		code, status = "access_denied", http.StatusForbidden
	case errors.Is(err, ErrClientAuthFailed):
		code, status = "invalid_client", http.StatusUnauthorized
	case errors.Is(err, ErrUnknownClient), errors.Is(err, ErrRedirectURIMismatch):
		code, status = "invalid_client", http.StatusBadRequest
	default:
		h.logger.Error("oauth flow failed", "error", err)
	}

	writeJSON(w, status, map[string]string{"error": code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}
