// ABOUTME: Upstream identity-provider exchange abstraction
// ABOUTME: Production uses an oauth2.Config; development uses a static identity

package oauth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// Identity is what the upstream provider tells us about the authenticated user.
type Identity struct {
	Subject string // stable caller ID
	Name    string // display name, may be empty
}

// Exchanger abstracts the upstream identity provider. AuthURL builds the
// provider's authorization redirect carrying our opaque state; Exchange
// trades the provider's callback code for the caller's identity.
type Exchanger interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*Identity, error)
}

// UserInfoFunc resolves an upstream token to a caller identity. The shape of
// this lookup is provider-specific, so it is injected rather than assumed.
type UserInfoFunc func(ctx context.Context, token *oauth2.Token) (*Identity, error)

// OAuth2Exchanger performs a real authorization-code exchange against an
// upstream provider via golang.org/x/oauth2.
type OAuth2Exchanger struct {
	config   *oauth2.Config
	userInfo UserInfoFunc
}

// NewOAuth2Exchanger wraps an oauth2.Config and a provider-specific identity
// lookup. userInfo must not be nil.
func NewOAuth2Exchanger(config *oauth2.Config, userInfo UserInfoFunc) *OAuth2Exchanger {
	return &OAuth2Exchanger{config: config, userInfo: userInfo}
}

func (e *OAuth2Exchanger) AuthURL(state string) string {
	return e.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (e *OAuth2Exchanger) Exchange(ctx context.Context, code string) (*Identity, error) {
	token, err := e.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("upstream token exchange failed: %w", err)
	}
	identity, err := e.userInfo(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("upstream identity lookup failed: %w", err)
	}
	if identity.Subject == "" {
		return nil, errors.New("upstream identity has empty subject")
	}
	return identity, nil
}

// StaticExchanger returns a fixed identity without contacting any provider.
// Intended for local development and tests only.
type StaticExchanger struct {
	CallbackURL string
	Identity    Identity
}

func (e *StaticExchanger) AuthURL(state string) string {
	return e.CallbackURL + "?code=dev&state=" + state
}

func (e *StaticExchanger) Exchange(_ context.Context, code string) (*Identity, error) {
	if code == "" {
		return nil, errors.New("empty code")
	}
	id := e.Identity
	return &id, nil
}
