package core

import (
	"context"
	"fmt"
)

var (
	ErrFederationToken   = fmt.Errorf("%w: provider token exchange", ErrFederation)
	ErrFederationProfile = fmt.Errorf("%w: provider profile request", ErrFederation)
)

// FederatedProfile is the provider's view of the user, normalized across providers
type FederatedProfile struct {
	ProviderID  string `json:"provider_id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

type AuthProvider interface {
	// AuthCodeURL builds the provider consent URL carrying state
	AuthCodeURL(state string) string

	// ExchangeCode trades an authorization code for a provider access token
	ExchangeCode(ctx context.Context, code, state string) (string, error)

	FetchProfile(ctx context.Context, accessToken string) (*FederatedProfile, error)

	Provider() Provider
}
