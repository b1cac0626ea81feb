package providers

import (
	"context"
	"fmt"

	"github.com/paperrnint/advent-calendar-be/core"
)

var naverDefaults = Config{
	AuthURL:     "https://nid.naver.com/oauth2.0/authorize",
	TokenURL:    "https://nid.naver.com/oauth2.0/token",
	UserInfoURL: "https://openapi.naver.com/v1/nid/me",
}

type NaverProvider struct {
	client *oauthClient
}

func NewNaverProvider(config *Config, opts ...Option) *NaverProvider {
	return &NaverProvider{
		client: newOAuthClient(config, naverDefaults, opts...),
	}
}

// Naver wraps the profile in a "response" envelope
type naverUserInfo struct {
	ResultCode string `json:"resultcode"`
	Message    string `json:"message"`
	Response   *struct {
		ID           string `json:"id"`
		Email        string `json:"email"`
		Name         string `json:"name"`
		Nickname     string `json:"nickname"`
		ProfileImage string `json:"profile_image"`
	} `json:"response"`
}

func (n *NaverProvider) AuthCodeURL(state string) string {
	return n.client.authCodeURL(state)
}

// ExchangeCode passes state along; Naver rejects token requests without it
func (n *NaverProvider) ExchangeCode(ctx context.Context, code, state string) (string, error) {
	return n.client.exchange(ctx, code, state)
}

func (n *NaverProvider) FetchProfile(ctx context.Context, accessToken string) (*core.FederatedProfile, error) {
	var info naverUserInfo
	if err := n.client.fetchProfile(ctx, accessToken, &info); err != nil {
		return nil, err
	}

	if info.Response == nil || info.Response.ID == "" {
		return nil, fmt.Errorf("%w: naver response has no id (resultcode %q)", core.ErrFederationProfile, info.ResultCode)
	}

	name := info.Response.Name
	if name == "" {
		name = info.Response.Nickname
	}

	return &core.FederatedProfile{
		ProviderID:  info.Response.ID,
		Email:       info.Response.Email,
		DisplayName: name,
		AvatarURL:   info.Response.ProfileImage,
	}, nil
}

func (n *NaverProvider) Provider() core.Provider {
	return core.ProviderNaver
}
