package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// ErrSessionCheckUnavailable is returned when the provider does not expose a
// usable session-check endpoint or actively refuses the probe. Callers treat
// this as "no existing session" rather than a failure.
var ErrSessionCheckUnavailable = errors.New("session check unavailable")

// DefaultHTTPTimeout is the default timeout for requests to the provider.
const DefaultHTTPTimeout = 30 * time.Second

// metadataCacheTTL bounds how long discovered provider metadata is reused.
const metadataCacheTTL = 1 * time.Hour

// Metadata is the subset of OIDC discovery metadata the gateway needs.
type Metadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	EndSessionEndpoint    string `json:"end_session_endpoint,omitempty"`
	CheckSessionIframe    string `json:"check_session_iframe,omitempty"`
	UserinfoEndpoint      string `json:"userinfo_endpoint,omitempty"`
	JwksURI               string `json:"jwks_uri,omitempty"`
}

// Config configures the provider client.
type Config struct {
	// BaseURL is the provider's root URL, e.g. https://id.example.com
	BaseURL string

	// Realm is the provider realm/tenant identifier.
	Realm string

	// ClientID is this application's registered client identifier.
	ClientID string

	// RedirectURL is where the provider sends the browser back after login.
	RedirectURL string

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client
}

// Client talks to a Keycloak-compatible OIDC provider. It owns metadata
// discovery, the authorization-code-with-PKCE exchange, the refresh grant
// and end-session URL construction.
type Client struct {
	cfg        Config
	httpClient *http.Client

	mu           sync.Mutex
	metadata     *Metadata
	discoveredAt time.Time
}

// New creates a provider client.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
	}
}

// IssuerURL returns the realm-scoped issuer URL.
func (c *Client) IssuerURL() string {
	return fmt.Sprintf("%s/realms/%s", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.Realm)
}

// ClientID returns the configured client identifier.
func (c *Client) ClientID() string {
	return c.cfg.ClientID
}

// Discover fetches the provider's OIDC metadata, caching the result.
func (c *Client) Discover(ctx context.Context) (*Metadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.metadata != nil && time.Since(c.discoveredAt) < metadataCacheTTL {
		return c.metadata, nil
	}

	wellKnown := c.IssuerURL() + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch provider metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("provider metadata fetch failed (status %d): %s", resp.StatusCode, string(body))
	}

	var metadata Metadata
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to decode provider metadata: %w", err)
	}

	c.metadata = &metadata
	c.discoveredAt = time.Now()
	return c.metadata, nil
}

// oauth2Config builds the oauth2 configuration from discovered metadata.
func (c *Client) oauth2Config(metadata *Metadata) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    c.cfg.ClientID,
		RedirectURL: c.cfg.RedirectURL,
		Scopes:      []string{"openid", "profile", "email"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  metadata.AuthorizationEndpoint,
			TokenURL: metadata.TokenEndpoint,
		},
	}
}

// AuthCodeURL builds the interactive authorization URL for the given state
// and PKCE challenge.
func (c *Client) AuthCodeURL(ctx context.Context, state string, pkce *PKCEChallenge) (string, error) {
	metadata, err := c.Discover(ctx)
	if err != nil {
		return "", err
	}

	return c.oauth2Config(metadata).AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", pkce.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", pkce.CodeChallengeMethod),
	), nil
}

// Exchange swaps an authorization code for tokens, proving possession of the
// PKCE verifier.
func (c *Client) Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	metadata, err := c.Discover(ctx)
	if err != nil {
		return nil, err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	token, err := c.oauth2Config(metadata).Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", verifier),
	)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	return token, nil
}

// Refresh exchanges a refresh token for a new token set.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	metadata, err := c.Discover(ctx)
	if err != nil {
		return nil, err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	source := c.oauth2Config(metadata).TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	return token, nil
}

// EndSessionURL builds the provider logout URL, returning the browser to
// postLogoutRedirect afterwards.
func (c *Client) EndSessionURL(ctx context.Context, idToken, postLogoutRedirect string) (string, error) {
	metadata, err := c.Discover(ctx)
	if err != nil {
		return "", err
	}
	if metadata.EndSessionEndpoint == "" {
		return "", fmt.Errorf("provider does not advertise an end-session endpoint")
	}

	endSession, err := url.Parse(metadata.EndSessionEndpoint)
	if err != nil {
		return "", fmt.Errorf("invalid end-session endpoint: %w", err)
	}

	params := url.Values{
		"client_id":                {c.cfg.ClientID},
		"post_logout_redirect_uri": {postLogoutRedirect},
	}
	if idToken != "" {
		params.Set("id_token_hint", idToken)
	}

	endSession.RawQuery = params.Encode()
	return endSession.String(), nil
}

// CheckSession probes the provider's session-check endpoint. The probe is
// best-effort only: without the browser's cookies no existing session can be
// confirmed, so a reachable endpoint still means "no session detected". A
// missing or refusing endpoint yields ErrSessionCheckUnavailable.
func (c *Client) CheckSession(ctx context.Context) error {
	metadata, err := c.Discover(ctx)
	if err != nil {
		return err
	}
	if metadata.CheckSessionIframe == "" {
		return ErrSessionCheckUnavailable
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadata.CheckSessionIframe, nil)
	if err != nil {
		return fmt.Errorf("failed to create session check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("session check request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusMethodNotAllowed:
		return ErrSessionCheckUnavailable
	default:
		return fmt.Errorf("session check failed with status %d", resp.StatusCode)
	}
}
