package providers

import (
	"context"
	"fmt"

	"github.com/paperrnint/advent-calendar-be/core"
)

var googleDefaults = Config{
	Scopes:      []string{"openid", "email", "profile"},
	AuthURL:     "https://accounts.google.com/o/oauth2/auth",
	TokenURL:    "https://oauth2.googleapis.com/token",
	UserInfoURL: "https://www.googleapis.com/oauth2/v2/userinfo",
}

type GoogleProvider struct {
	client *oauthClient
}

func NewGoogleProvider(config *Config, opts ...Option) *GoogleProvider {
	return &GoogleProvider{
		client: newOAuthClient(config, googleDefaults, opts...),
	}
}

type googleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func (g *GoogleProvider) AuthCodeURL(state string) string {
	return g.client.authCodeURL(state)
}

func (g *GoogleProvider) ExchangeCode(ctx context.Context, code, state string) (string, error) {
	return g.client.exchange(ctx, code, "")
}

func (g *GoogleProvider) FetchProfile(ctx context.Context, accessToken string) (*core.FederatedProfile, error) {
	var info googleUserInfo
	if err := g.client.fetchProfile(ctx, accessToken, &info); err != nil {
		return nil, err
	}

	if info.ID == "" {
		return nil, fmt.Errorf("%w: google response has no id", core.ErrFederationProfile)
	}

	email := info.Email
	if !info.VerifiedEmail {
		email = ""
	}

	return &core.FederatedProfile{
		ProviderID:  info.ID,
		Email:       email,
		DisplayName: info.Name,
		AvatarURL:   info.Picture,
	}, nil
}

func (g *GoogleProvider) Provider() core.Provider {
	return core.ProviderGoogle
}
