package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/paperrnint/advent-calendar-be/core"

	"golang.org/x/oauth2"
)

// Config is the per-provider client registration. Endpoint URLs are
// optional and default to the provider's production endpoints.
type Config struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURI  string   `yaml:"redirect_uri"`
	Scopes       []string `yaml:"scopes,omitempty"`
	AuthURL      string   `yaml:"auth_url,omitempty"`
	TokenURL     string   `yaml:"token_url,omitempty"`
	UserInfoURL  string   `yaml:"userinfo_url,omitempty"`
}

type Option func(*oauthClient)

// WithHTTPClient sets the client used for both the token exchange and the profile request
func WithHTTPClient(c *http.Client) Option {
	return func(o *oauthClient) {
		o.httpClient = c
	}
}

// oauthClient is the authorization-code flow shared by all providers
type oauthClient struct {
	oauth       *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

func newOAuthClient(cfg *Config, defaults Config, opts ...Option) *oauthClient {
	authURL := firstNonEmpty(cfg.AuthURL, defaults.AuthURL)
	tokenURL := firstNonEmpty(cfg.TokenURL, defaults.TokenURL)
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaults.Scopes
	}

	c := &oauthClient{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userInfoURL: firstNonEmpty(cfg.UserInfoURL, defaults.UserInfoURL),
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *oauthClient) authCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

func (c *oauthClient) exchange(ctx context.Context, code, state string) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	var opts []oauth2.AuthCodeOption
	if state != "" {
		opts = append(opts, oauth2.SetAuthURLParam("state", state))
	}

	token, err := c.oauth.Exchange(ctx, code, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrFederationToken, err)
	}

	if token.AccessToken == "" {
		return "", fmt.Errorf("%w: response has no access_token", core.ErrFederationToken)
	}

	return token.AccessToken, nil
}

// fetchProfile GETs the userinfo endpoint with the bearer token and decodes into dest
func (c *oauthClient) fetchProfile(ctx context.Context, accessToken string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrFederationProfile, err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrFederationProfile, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", core.ErrFederationProfile, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("%w: %v", core.ErrFederationProfile, err)
	}

	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
