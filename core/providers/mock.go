package providers

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/paperrnint/advent-calendar-be/core"
)

const (
	ProviderMock core.Provider = "mock"
)

// Predefined test authorization codes
const (
	ValidCode1 = "mock_auth_code_1"
	ValidCode2 = "mock_auth_code_2"
	ValidCode3 = "mock_auth_code_3"
)

// Predefined provider access tokens
const (
	AccessToken1 = "mock_access_token_1"
	AccessToken2 = "mock_access_token_2"
	AccessToken3 = "mock_access_token_3"
)

// Predefined federated profiles
var (
	Profile1 = &core.FederatedProfile{
		ProviderID:  "mock_user_1",
		Email:       "user1@mock.test",
		DisplayName: "Mock One",
		AvatarURL:   "https://mock.test/avatar1.jpg",
	}

	Profile2 = &core.FederatedProfile{
		ProviderID:  "mock_user_2",
		Email:       "user2@mock.test",
		DisplayName: "Mock Two",
		AvatarURL:   "https://mock.test/avatar2.jpg",
	}

	Profile3 = &core.FederatedProfile{
		ProviderID:  "mock_user_3",
		Email:       "user3@mock.test",
		DisplayName: "Mock Three",
	}
)

// MockProvider is a test implementation of AuthProvider. It is safe for
// concurrent use.
type MockProvider struct {
	name core.Provider

	mu             sync.RWMutex
	codeToToken    map[string]string
	tokenToProfile map[string]*core.FederatedProfile
	lastState      string

	// track method calls for verification
	ExchangeCodeCalls atomic.Int32
	FetchProfileCalls atomic.Int32
}

func NewMockProvider() *MockProvider {
	return NewNamedMockProvider(ProviderMock)
}

// NewNamedMockProvider reports itself as name, so tests can stand in for a real provider
func NewNamedMockProvider(name core.Provider) *MockProvider {
	return &MockProvider{
		name: name,
		codeToToken: map[string]string{
			ValidCode1: AccessToken1,
			ValidCode2: AccessToken2,
			ValidCode3: AccessToken3,
		},
		tokenToProfile: map[string]*core.FederatedProfile{
			AccessToken1: Profile1,
			AccessToken2: Profile2,
			AccessToken3: Profile3,
		},
	}
}

// AddUser registers a code that federates as profile
func (m *MockProvider) AddUser(code string, profile *core.FederatedProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()

	token := "mock_access_token_" + code
	m.codeToToken[code] = token
	m.tokenToProfile[token] = profile
}

// LastState returns the state passed to the most recent ExchangeCode call
func (m *MockProvider) LastState() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastState
}

func (m *MockProvider) AuthCodeURL(state string) string {
	return "https://mock.test/authorize?state=" + url.QueryEscape(state)
}

func (m *MockProvider) ExchangeCode(ctx context.Context, code, state string) (string, error) {
	m.ExchangeCodeCalls.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastState = state
	token, ok := m.codeToToken[code]
	if !ok {
		return "", fmt.Errorf("%w: unknown code", core.ErrFederationToken)
	}

	return token, nil
}

func (m *MockProvider) FetchProfile(ctx context.Context, accessToken string) (*core.FederatedProfile, error) {
	m.FetchProfileCalls.Add(1)

	m.mu.RLock()
	defer m.mu.RUnlock()

	profile, ok := m.tokenToProfile[accessToken]
	if !ok {
		return nil, fmt.Errorf("%w: unknown access token", core.ErrFederationProfile)
	}

	p := *profile
	return &p, nil
}

func (m *MockProvider) Provider() core.Provider {
	return m.name
}
