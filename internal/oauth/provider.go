// Package oauth implements the consent-flow half of third-party sign-in:
// building authorization URLs, exchanging codes and fetching the provider
// profile. Account resolution happens in the accounts package.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jmerrifield20/photogallery/internal/accounts"
	"golang.org/x/oauth2"
)

var (
	ErrInvalidCode     = errors.New("oauth: invalid authorization code")
	ErrNoEmail         = errors.New("oauth: provider returned no email")
	ErrUnverifiedEmail = errors.New("oauth: provider email is not verified")
)

// Config holds OAuth client credentials for a single provider.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Enabled reports whether enough credentials are present to run the flow.
func (c Config) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// profileDecoder turns a provider's userinfo body into a ProviderProfile.
type profileDecoder func(body []byte) (accounts.ProviderProfile, error)

// Provider runs the authorization-code flow against one identity provider.
type Provider struct {
	kind        accounts.MethodKind
	conf        *oauth2.Config
	userInfoURL string
	decode      profileDecoder
	timeout     time.Duration
}

func newProvider(kind accounts.MethodKind, cfg Config, endpoint oauth2.Endpoint, scopes []string, userInfoURL string, decode profileDecoder) *Provider {
	return &Provider{
		kind: kind,
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		userInfoURL: userInfoURL,
		decode:      decode,
		timeout:     10 * time.Second,
	}
}

// Kind returns the method kind this provider links.
func (p *Provider) Kind() accounts.MethodKind { return p.kind }

// SetEndpoint overrides the authorization and token URLs.
func (p *Provider) SetEndpoint(ep oauth2.Endpoint) { p.conf.Endpoint = ep }

// SetUserInfoURL overrides the profile URL.
func (p *Provider) SetUserInfoURL(url string) { p.userInfoURL = url }

// AuthURL builds the consent-page URL carrying state.
func (p *Provider) AuthURL(state string) string {
	return p.conf.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades an authorization code for the provider's profile of the
// signed-in user.
func (p *Provider) Exchange(ctx context.Context, code string) (accounts.ProviderProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	tok, err := p.conf.Exchange(ctx, code)
	if err != nil {
		return accounts.ProviderProfile{}, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}

	body, err := p.fetchUserInfo(ctx, tok)
	if err != nil {
		return accounts.ProviderProfile{}, err
	}
	profile, err := p.decode(body)
	if err != nil {
		return accounts.ProviderProfile{}, err
	}
	profile.Kind = p.kind
	if profile.ExternalID == "" {
		return accounts.ProviderProfile{}, fmt.Errorf("oauth: %s profile has no id", p.kind)
	}
	if profile.Email == "" {
		return accounts.ProviderProfile{}, ErrNoEmail
	}
	return profile, nil
}

func (p *Provider) fetchUserInfo(ctx context.Context, tok *oauth2.Token) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.conf.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s profile: %w", p.kind, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("read %s profile: %w", p.kind, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s profile api returned %d", p.kind, resp.StatusCode)
	}
	return body, nil
}

// Registry holds the configured providers by kind.
type Registry map[accounts.MethodKind]*Provider

// NewRegistry builds providers for every enabled config.
func NewRegistry(google, discord Config) Registry {
	r := make(Registry)
	if google.Enabled() {
		r[accounts.MethodGoogle] = NewGoogle(google)
	}
	if discord.Enabled() {
		r[accounts.MethodDiscord] = NewDiscord(discord)
	}
	return r
}

func decodeJSON(kind accounts.MethodKind, body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("parse %s profile: %w", kind, err)
	}
	return nil
}
