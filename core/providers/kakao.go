package providers

import (
	"context"
	"fmt"
	"strconv"

	"github.com/paperrnint/advent-calendar-be/core"
)

var kakaoDefaults = Config{
	AuthURL:     "https://kauth.kakao.com/oauth/authorize",
	TokenURL:    "https://kauth.kakao.com/oauth/token",
	UserInfoURL: "https://kapi.kakao.com/v2/user/me",
}

type KakaoProvider struct {
	client *oauthClient
}

func NewKakaoProvider(config *Config, opts ...Option) *KakaoProvider {
	return &KakaoProvider{
		client: newOAuthClient(config, kakaoDefaults, opts...),
	}
}

type kakaoUserInfo struct {
	ID           int64 `json:"id"`
	KakaoAccount struct {
		Email   string `json:"email"`
		Profile struct {
			Nickname        string `json:"nickname"`
			ProfileImageURL string `json:"profile_image_url"`
		} `json:"profile"`
	} `json:"kakao_account"`
}

func (k *KakaoProvider) AuthCodeURL(state string) string {
	return k.client.authCodeURL(state)
}

func (k *KakaoProvider) ExchangeCode(ctx context.Context, code, state string) (string, error) {
	return k.client.exchange(ctx, code, state)
}

func (k *KakaoProvider) FetchProfile(ctx context.Context, accessToken string) (*core.FederatedProfile, error) {
	var info kakaoUserInfo
	if err := k.client.fetchProfile(ctx, accessToken, &info); err != nil {
		return nil, err
	}

	if info.ID == 0 {
		return nil, fmt.Errorf("%w: kakao response has no id", core.ErrFederationProfile)
	}

	return &core.FederatedProfile{
		ProviderID:  strconv.FormatInt(info.ID, 10),
		Email:       info.KakaoAccount.Email,
		DisplayName: info.KakaoAccount.Profile.Nickname,
		AvatarURL:   info.KakaoAccount.Profile.ProfileImageURL,
	}, nil
}

func (k *KakaoProvider) Provider() core.Provider {
	return core.ProviderKakao
}
