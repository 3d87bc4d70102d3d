package providers

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Auth describes how to authenticate against a provider's discovery and
// health endpoints. Type "none" needs no fields, "bearer" needs Token, and
// "oauth2" performs a client-credentials flow against TokenURL.
type Auth struct {
	Type         string   `json:"type" yaml:"type"` // "none" | "bearer" | "oauth2"
	Token        string   `json:"token,omitempty" yaml:"token,omitempty"`
	ClientID     string   `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	ClientSecret string   `json:"client_secret,omitempty" yaml:"client_secret,omitempty"`
	TokenURL     string   `json:"token_url,omitempty" yaml:"token_url,omitempty"`
	Scopes       []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
}

// HTTPClient returns an *http.Client that attaches the configured credentials
// to every request. The zero Auth value returns a plain client.
func (a Auth) HTTPClient(ctx context.Context) *http.Client {
	switch a.Type {
	case "bearer":
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: a.Token, TokenType: "Bearer"})
		return oauth2.NewClient(ctx, src)
	case "oauth2":
		cfg := clientcredentials.Config{
			ClientID:     a.ClientID,
			ClientSecret: a.ClientSecret,
			TokenURL:     a.TokenURL,
			Scopes:       a.Scopes,
		}
		return cfg.Client(ctx)
	default:
		return &http.Client{Timeout: 10 * time.Second}
	}
}
