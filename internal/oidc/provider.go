// Package oidc builds the implicit-flow login link for the configured
// identity provider.
package oidc

import (
	"context"
	"fmt"
	"sort"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/al-bashkir/implicit-session/internal/config"
)

// ResponseTypeToken asks the provider to return tokens in the redirect fragment.
const ResponseTypeToken = "token"

// Provider holds the OAuth2 client settings for the implicit flow.
type Provider struct {
	oauth2Config *oauth2.Config
	authParams   map[string]string
}

// NewProvider creates a Provider from cfg. When cfg.AuthorizeURL is empty
// the authorization endpoint is discovered from cfg.Issuer via
// /.well-known/openid-configuration.
func NewProvider(ctx context.Context, cfg *config.OIDCConfig) (*Provider, error) {
	endpoint := oauth2.Endpoint{AuthURL: cfg.AuthorizeURL}

	if endpoint.AuthURL == "" {
		// Discover OIDC configuration from issuer
		provider, err := oidc.NewProvider(ctx, cfg.Issuer)
		if err != nil {
			return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
		}
		endpoint = provider.Endpoint()
		if endpoint.AuthURL == "" {
			return nil, fmt.Errorf("issuer %s does not advertise an authorization endpoint", cfg.Issuer)
		}
	}

	return &Provider{
		oauth2Config: &oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.RedirectURI,
			Endpoint:    endpoint,
			Scopes:      cfg.Scopes,
		},
		authParams: cfg.AuthParams,
	}, nil
}

// LoginURL returns the authorization URL that starts an implicit-flow login.
// Extra parameters are applied in key order and may override the defaults.
func (p *Provider) LoginURL() string {
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("response_type", ResponseTypeToken),
	}

	keys := make([]string, 0, len(p.authParams))
	for k := range p.authParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		opts = append(opts, oauth2.SetAuthURLParam(k, p.authParams[k]))
	}

	return p.oauth2Config.AuthCodeURL("", opts...)
}

// AuthorizeEndpoint returns the authorization endpoint in use.
func (p *Provider) AuthorizeEndpoint() string {
	return p.oauth2Config.Endpoint.AuthURL
}
