package core_test

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paperrnint/advent-calendar-be/core"
	"github.com/paperrnint/advent-calendar-be/core/providers"
	"github.com/paperrnint/advent-calendar-be/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEncryptionKey = "0123456789abcdef0123456789abcdef"

type testEnv struct {
	clock   *testClock
	config  *core.Config
	repo    *storage.MemoryRepository
	kakao   *providers.MockProvider
	naver   *providers.MockProvider
	codec   *core.TokenCodec
	service *core.AuthService
}

type envOption func(*core.Config, *[]core.ServiceOption)

func withRotation() envOption {
	return func(c *core.Config, _ *[]core.ServiceOption) {
		c.JWT.RotateRefreshTokens = true
	}
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	clock := newTestClock()
	config := &core.Config{}
	config.ApplyDefaults()

	var serviceOpts []core.ServiceOption
	for _, opt := range opts {
		opt(config, &serviceOpts)
	}
	serviceOpts = append(serviceOpts, core.WithClock(clock.Now))

	crypto, err := core.NewCryptoService(testEncryptionKey)
	require.NoError(t, err)

	env := &testEnv{
		clock:  clock,
		config: config,
		repo:   storage.NewMemoryRepository(),
		kakao:  providers.NewNamedMockProvider(core.ProviderKakao),
		naver:  providers.NewNamedMockProvider(core.ProviderNaver),
		codec:  newTestCodec(t, clock),
	}

	env.service = core.NewAuthService(env.repo, config, env.codec, map[core.Provider]core.AuthProvider{
		core.ProviderKakao: env.kakao,
		core.ProviderNaver: env.naver,
	}, crypto, serviceOpts...)

	return env
}

// beginLogin returns the state embedded in the consent URL
func (e *testEnv) beginLogin(t *testing.T, provider core.Provider) string {
	t.Helper()

	authURL, err := e.service.BeginLogin(context.Background(), provider)
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func (e *testEnv) login(t *testing.T, provider core.Provider, code string) (*core.LoginResult, error) {
	t.Helper()
	state := e.beginLogin(t, provider)
	return e.service.HandleCallback(context.Background(), provider, code, state)
}

// register takes a fresh code through login and registration completion
func (e *testEnv) register(t *testing.T, code, name string) *core.RegistrationResult {
	t.Helper()

	login, err := e.login(t, core.ProviderKakao, code)
	require.NoError(t, err)
	require.False(t, login.IsExistingActiveUser)

	result, err := e.service.CompleteRegistration(context.Background(), login.Identity.ID, name, "green")
	require.NoError(t, err)
	return result
}

func TestAuthService_Providers(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, []core.Provider{core.ProviderKakao, core.ProviderNaver}, env.service.Providers())
}

func TestAuthService_HandleCallback_NewUser(t *testing.T) {
	env := newTestEnv(t)
	state := env.beginLogin(t, core.ProviderKakao)

	result, err := env.service.HandleCallback(context.Background(), core.ProviderKakao, providers.ValidCode1, state)
	require.NoError(t, err)

	assert.False(t, result.IsExistingActiveUser)
	assert.Empty(t, result.AccessToken)
	assert.Empty(t, result.RefreshToken)
	require.NotEmpty(t, result.TempToken)

	assert.Equal(t, core.StatePending, result.Identity.State)
	assert.Nil(t, result.Identity.ShareID)
	assert.Equal(t, providers.Profile1.ProviderID, result.Identity.ProviderID)
	assert.Equal(t, providers.Profile1.Email, result.Identity.Email)
	assert.Equal(t, state, env.kakao.LastState())
	assert.Equal(t, 1, env.repo.CreatePendingCalls)

	claims, err := env.codec.Parse(result.TempToken)
	require.NoError(t, err)
	temp, ok := claims.(*core.TempClaims)
	require.True(t, ok)

	assert.Equal(t, result.Identity.ID, temp.Subject)
	assert.Equal(t, 300*time.Second, temp.ExpiresAt.Sub(temp.IssuedAt))
	assert.Equal(t, core.ProviderKakao, temp.Provider)
	require.NotNil(t, temp.Profile)
	assert.Equal(t, providers.Profile1.DisplayName, temp.Profile.DisplayName)

	assert.Zero(t, env.repo.RefreshTokenCount(result.Identity.ID))
}

func TestAuthService_HandleCallback_PendingUserReturns(t *testing.T) {
	env := newTestEnv(t)

	first, err := env.login(t, core.ProviderKakao, providers.ValidCode1)
	require.NoError(t, err)

	second, err := env.login(t, core.ProviderKakao, providers.ValidCode1)
	require.NoError(t, err)

	assert.Equal(t, first.Identity.ID, second.Identity.ID)
	assert.False(t, second.IsExistingActiveUser)
	assert.NotEmpty(t, second.TempToken)
	assert.Equal(t, 1, env.repo.CreatePendingCalls)
}

func TestAuthService_HandleCallback_ActiveUser(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, providers.ValidCode1, "Kim")

	result, err := env.login(t, core.ProviderKakao, providers.ValidCode1)
	require.NoError(t, err)

	assert.True(t, result.IsExistingActiveUser)
	assert.Empty(t, result.TempToken)
	assert.Equal(t, registered.Identity.ID, result.Identity.ID)
	assert.True(t, env.codec.Verify(result.AccessToken))
	assert.True(t, env.codec.Verify(result.RefreshToken))

	// the login replaced the session created at registration
	assert.Equal(t, 1, env.repo.RefreshTokenCount(result.Identity.ID))
	_, err = env.service.Refresh(context.Background(), registered.RefreshToken)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAuthService_HandleCallback_LoginStateFailures(t *testing.T) {
	tests := []struct {
		name  string
		state func(t *testing.T, env *testEnv) string
	}{
		{
			name:  "empty state",
			state: func(t *testing.T, env *testEnv) string { return "" },
		},
		{
			name:  "unknown state",
			state: func(t *testing.T, env *testEnv) string { return "never-issued" },
		},
		{
			name: "state already consumed",
			state: func(t *testing.T, env *testEnv) string {
				state := env.beginLogin(t, core.ProviderKakao)
				_, err := env.service.HandleCallback(context.Background(), core.ProviderKakao, "bad-code", state)
				require.Error(t, err)
				env.kakao.ExchangeCodeCalls.Store(0)
				return state
			},
		},
		{
			name: "expired state",
			state: func(t *testing.T, env *testEnv) string {
				state := env.beginLogin(t, core.ProviderKakao)
				env.clock.Advance(env.config.LoginStateWindow())
				return state
			},
		},
		{
			name: "state issued for another provider",
			state: func(t *testing.T, env *testEnv) string {
				return env.beginLogin(t, core.ProviderNaver)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			state := tt.state(t, env)

			_, err := env.service.HandleCallback(context.Background(), core.ProviderKakao, providers.ValidCode1, state)
			assert.ErrorIs(t, err, core.ErrInvalidLoginState)
			assert.ErrorIs(t, err, core.ErrUnauthorized)

			assert.Zero(t, env.kakao.ExchangeCodeCalls.Load())
			assert.Zero(t, env.repo.CreatePendingCalls)
		})
	}
}

func TestAuthService_HandleCallback_FederationFailure(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.login(t, core.ProviderKakao, "unknown-code")
	assert.ErrorIs(t, err, core.ErrFederation)
	assert.ErrorIs(t, err, core.ErrFederationToken)
	assert.Zero(t, env.kakao.FetchProfileCalls.Load())
	assert.Zero(t, env.repo.CreatePendingCalls)
}

func TestAuthService_HandleCallback_BadInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.BeginLogin(ctx, core.Provider("github"))
	assert.ErrorIs(t, err, core.ErrUnsupportedProvider)

	_, err = env.service.HandleCallback(ctx, core.ProviderGoogle, providers.ValidCode1, "state")
	assert.ErrorIs(t, err, core.ErrUnsupportedProvider)

	state := env.beginLogin(t, core.ProviderKakao)
	_, err = env.service.HandleCallback(ctx, core.ProviderKakao, "", state)
	assert.ErrorIs(t, err, core.ErrInvalidRequest)
}

func TestAuthService_HandleCallback_ConcurrentFirstLogin(t *testing.T) {
	env := newTestEnv(t)

	const n = 10
	states := make([]string, n)
	for i := range states {
		states[i] = env.beginLogin(t, core.ProviderKakao)
	}

	ids := make([]uuid.UUID, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := env.service.HandleCallback(context.Background(), core.ProviderKakao, providers.ValidCode2, states[i])
			errs[i] = err
			if err == nil {
				ids[i] = result.Identity.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	identity, err := env.repo.FindIdentityByFederation(context.Background(), core.ProviderKakao, providers.Profile2.ProviderID)
	require.NoError(t, err)
	assert.Equal(t, ids[0], identity.ID)
}

func TestAuthService_HandleCallback_ConcurrentActiveLogins(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, providers.ValidCode1, "Kim")

	const n = 10
	states := make([]string, n)
	for i := range states {
		states[i] = env.beginLogin(t, core.ProviderKakao)
	}

	tokens := make([]string, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := env.service.HandleCallback(context.Background(), core.ProviderKakao, providers.ValidCode1, states[i])
			errs[i] = err
			if err == nil {
				tokens[i] = result.RefreshToken
			}
		}(i)
	}
	wg.Wait()

	live := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		if _, err := env.repo.FindRefreshToken(context.Background(), core.DigestToken(tokens[i])); err == nil {
			live++
		}
	}
	assert.Equal(t, 1, live)
	assert.Equal(t, 1, env.repo.RefreshTokenCount(registered.Identity.ID))
}

func TestAuthService_CompleteRegistration(t *testing.T) {
	env := newTestEnv(t)

	login, err := env.login(t, core.ProviderKakao, providers.ValidCode1)
	require.NoError(t, err)

	result, err := env.service.CompleteRegistration(context.Background(), login.Identity.ID, "  Kim  ", "violet")
	require.NoError(t, err)

	identity := result.Identity
	assert.Equal(t, core.StateActive, identity.State)
	require.NotNil(t, identity.ShareID)
	assert.Equal(t, "Kim", identity.DisplayName)
	assert.Equal(t, core.Color("violet"), identity.Color)
	assert.Equal(t, providers.Profile1.Email, identity.Email)

	claims, err := env.codec.Parse(result.AccessToken)
	require.NoError(t, err)
	access, ok := claims.(*core.AccessClaims)
	require.True(t, ok)
	assert.Equal(t, identity.ID, access.Subject)
	assert.Equal(t, providers.Profile1.Email, access.Email)
	assert.Equal(t, core.ProviderKakao, access.Provider)

	refreshClaims, err := env.codec.Parse(result.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, core.KindRefresh, refreshClaims.Kind())
	assert.Equal(t, 1, env.repo.RefreshTokenCount(identity.ID))
}

func TestAuthService_CompleteRegistration_Twice(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, providers.ValidCode1, "Kim")

	_, err := env.service.CompleteRegistration(context.Background(), registered.Identity.ID, "Lee", "red")
	assert.ErrorIs(t, err, core.ErrConflict)
	assert.ErrorIs(t, err, core.ErrInvalidState)

	identity, err := env.service.CurrentUser(context.Background(), registered.Identity.ID)
	require.NoError(t, err)
	assert.Equal(t, "Kim", identity.DisplayName)
	assert.Equal(t, registered.Identity.ShareID, identity.ShareID)
}

func TestAuthService_CompleteRegistration_Validation(t *testing.T) {
	tests := []struct {
		name        string
		displayName string
		color       core.Color
		wantErr     bool
		wantName    string
	}{
		{name: "empty name", displayName: "", color: "red", wantErr: true},
		{name: "whitespace name", displayName: "   ", color: "red", wantErr: true},
		{name: "markup only", displayName: "<b></b>", color: "red", wantErr: true},
		{name: "too long", displayName: "abcdefghijk", color: "red", wantErr: true},
		{name: "unknown color", displayName: "Kim", color: "purple", wantErr: true},
		{name: "empty color", displayName: "Kim", color: "", wantErr: true},
		{name: "ten runes", displayName: "가나다라마바사아자차", color: "lightGreen", wantName: "가나다라마바사아자차"},
		{name: "markup stripped", displayName: "<script>x</script>Kim", color: "navy", wantName: "Kim"},
		{name: "entities kept readable", displayName: "Tom & Jo", color: "navy", wantName: "Tom & Jo"},
		{name: "encoded markup stripped", displayName: "&lt;b&gt;x", color: "navy", wantName: "x"},
		{name: "encoded element stripped", displayName: "&lt;i&gt;Kim&lt;/i&gt;", color: "red", wantName: "Kim"},
		{name: "double encoded script stripped", displayName: "&amp;lt;script&amp;gt;hi&amp;lt;/script&amp;gt;Kim", color: "red", wantName: "Kim"},
		{name: "double encoded markup only", displayName: "&amp;lt;b&amp;gt;", color: "red", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			login, err := env.login(t, core.ProviderKakao, providers.ValidCode1)
			require.NoError(t, err)

			result, err := env.service.CompleteRegistration(context.Background(), login.Identity.ID, tt.displayName, tt.color)
			if tt.wantErr {
				assert.ErrorIs(t, err, core.ErrInvalidRequest)
				assert.Zero(t, env.repo.CompleteRegistrationCalls)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantName, result.Identity.DisplayName)
			assert.NotContains(t, result.Identity.DisplayName, "<")
		})
	}
}

func TestAuthService_CompleteRegistration_UnknownUser(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.CompleteRegistration(context.Background(), uuid.New(), "Kim", "red")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAuthService_CompleteRegistration_Race(t *testing.T) {
	env := newTestEnv(t)

	login, err := env.login(t, core.ProviderKakao, providers.ValidCode1)
	require.NoError(t, err)

	const n = 8
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.service.CompleteRegistration(context.Background(), login.Identity.ID, "Racer", "blue")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, core.ErrConflict)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, env.repo.RefreshTokenCount(login.Identity.ID))
}

func TestAuthService_Refresh(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, providers.ValidCode1, "Kim")

	env.clock.Advance(time.Minute)

	result, err := env.service.Refresh(context.Background(), registered.RefreshToken)
	require.NoError(t, err)
	assert.Empty(t, result.RefreshToken)

	claims, err := env.codec.Parse(result.AccessToken)
	require.NoError(t, err)
	access, ok := claims.(*core.AccessClaims)
	require.True(t, ok)
	assert.Equal(t, registered.Identity.ID, access.Subject)
	assert.Equal(t, providers.Profile1.Email, access.Email)
	assert.Equal(t, env.clock.Now().Unix(), access.IssuedAt.Unix())

	// without rotation the same refresh token keeps working
	_, err = env.service.Refresh(context.Background(), registered.RefreshToken)
	assert.NoError(t, err)
	assert.Equal(t, 1, env.repo.RefreshTokenCount(registered.Identity.ID))
}

func TestAuthService_Refresh_Rejected(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, providers.ValidCode1, "Kim")

	for name, token := range map[string]string{
		"access token": registered.AccessToken,
		"garbage":      "not-a-token",
		"empty":        "",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := env.service.Refresh(context.Background(), token)
			assert.ErrorIs(t, err, core.ErrUnauthorized)
		})
	}

	assert.Equal(t, 1, env.repo.RefreshTokenCount(registered.Identity.ID))
}

func TestAuthService_Refresh_UnknownToken(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, providers.ValidCode1, "Kim")

	forged, err := env.codec.Issue(core.KindRefresh, registered.Identity.ID, core.ExtraClaims{}, time.Hour)
	require.NoError(t, err)

	_, err = env.service.Refresh(context.Background(), forged)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAuthService_Refresh_Expired(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, providers.ValidCode1, "Kim")
	userID := registered.Identity.ID

	// the expiry instant itself is still inside the window
	env.clock.Advance(env.config.RefreshTTL())
	_, err := env.service.Refresh(context.Background(), registered.RefreshToken)
	require.NoError(t, err)

	env.clock.Advance(time.Second)

	_, err = env.service.Refresh(context.Background(), registered.RefreshToken)
	assert.ErrorIs(t, err, core.ErrExpiredToken)
	assert.Zero(t, env.repo.RefreshTokenCount(userID))

	// the record is gone, so a second attempt no longer reports expiry
	_, err = env.service.Refresh(context.Background(), registered.RefreshToken)
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestAuthService_Refresh_RecordExpiresBeforeToken(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, providers.ValidCode1, "Kim")
	userID := registered.Identity.ID

	token, err := env.codec.Issue(core.KindRefresh, userID, core.ExtraClaims{}, time.Hour)
	require.NoError(t, err)
	require.NoError(t, env.repo.SaveRefreshToken(context.Background(), &core.RefreshRecord{
		TokenDigest: core.DigestToken(token),
		UserID:      userID,
		CreatedAt:   env.clock.Now(),
		ExpiresAt:   env.clock.Now().Add(10 * time.Second),
	}))

	env.clock.Advance(10 * time.Second)
	_, err = env.service.Refresh(context.Background(), token)
	require.NoError(t, err)

	env.clock.Advance(time.Second)
	require.True(t, env.codec.Verify(token))

	_, err = env.service.Refresh(context.Background(), token)
	assert.ErrorIs(t, err, core.ErrExpiredToken)

	_, err = env.repo.FindRefreshToken(context.Background(), core.DigestToken(token))
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAuthService_Refresh_SubjectMismatch(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, providers.ValidCode1, "Kim")

	token, err := env.codec.Issue(core.KindRefresh, uuid.New(), core.ExtraClaims{}, time.Hour)
	require.NoError(t, err)
	require.NoError(t, env.repo.SaveRefreshToken(context.Background(), &core.RefreshRecord{
		TokenDigest: core.DigestToken(token),
		UserID:      registered.Identity.ID,
		CreatedAt:   env.clock.Now(),
		ExpiresAt:   env.clock.Now().Add(time.Hour),
	}))

	_, err = env.service.Refresh(context.Background(), token)
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestAuthService_Refresh_Rotation(t *testing.T) {
	env := newTestEnv(t, withRotation())
	registered := env.register(t, providers.ValidCode1, "Kim")
	userID := registered.Identity.ID

	result, err := env.service.Refresh(context.Background(), registered.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, result.RefreshToken)
	assert.NotEqual(t, registered.RefreshToken, result.RefreshToken)
	assert.Equal(t, 1, env.repo.RefreshTokenCount(userID))

	_, err = env.service.Refresh(context.Background(), registered.RefreshToken)
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = env.service.Refresh(context.Background(), result.RefreshToken)
	assert.NoError(t, err)
}

func TestAuthService_Refresh_ConcurrentRotation(t *testing.T) {
	env := newTestEnv(t, withRotation())
	registered := env.register(t, providers.ValidCode1, "Kim")

	const n = 8
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.service.Refresh(context.Background(), registered.RefreshToken)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, core.ErrNotFound)
		}
	}
	assert.Equal(t, 1, env.repo.RefreshTokenCount(registered.Identity.ID))
}

func TestAuthService_Logout(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, providers.ValidCode1, "Kim")
	ctx := context.Background()

	env.service.Logout(ctx, "")
	env.service.Logout(ctx, "bogus")
	assert.Equal(t, 1, env.repo.RefreshTokenCount(registered.Identity.ID))

	env.service.Logout(ctx, registered.RefreshToken)
	assert.Zero(t, env.repo.RefreshTokenCount(registered.Identity.ID))

	_, err := env.service.Refresh(ctx, registered.RefreshToken)
	assert.ErrorIs(t, err, core.ErrNotFound)

	// logging out twice is fine
	env.service.Logout(ctx, registered.RefreshToken)
}

func TestAuthService_LogoutAll(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, providers.ValidCode1, "Kim")
	other := env.register(t, providers.ValidCode2, "Lee")
	ctx := context.Background()

	require.NoError(t, env.service.LogoutAll(ctx, registered.Identity.ID))

	assert.Zero(t, env.repo.RefreshTokenCount(registered.Identity.ID))
	assert.Equal(t, 1, env.repo.RefreshTokenCount(other.Identity.ID))

	_, err := env.service.Refresh(ctx, registered.RefreshToken)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAuthService_CurrentUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	registered := env.register(t, providers.ValidCode1, "Kim")

	identity, err := env.service.CurrentUser(ctx, registered.Identity.ID)
	require.NoError(t, err)
	assert.Equal(t, providers.Profile1.Email, identity.Email)
	assert.Equal(t, "Kim", identity.DisplayName)

	pending, err := env.login(t, core.ProviderKakao, providers.ValidCode2)
	require.NoError(t, err)

	_, err = env.service.CurrentUser(ctx, pending.Identity.ID)
	assert.ErrorIs(t, err, core.ErrInvalidState)
	assert.NotErrorIs(t, err, core.ErrConflict)

	_, err = env.service.CurrentUser(ctx, uuid.New())
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAuthService_SharedProfile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	registered := env.register(t, providers.ValidCode1, "Kim")

	identity, err := env.service.SharedProfile(ctx, *registered.Identity.ShareID)
	require.NoError(t, err)
	assert.Equal(t, registered.Identity.ID, identity.ID)
	assert.Equal(t, "Kim", identity.DisplayName)

	_, err = env.service.SharedProfile(ctx, uuid.New())
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAuthService_EmailEncryptedAtRest(t *testing.T) {
	env := newTestEnv(t)

	login, err := env.login(t, core.ProviderKakao, providers.ValidCode1)
	require.NoError(t, err)
	assert.Equal(t, providers.Profile1.Email, login.Identity.Email)

	stored, err := env.repo.FindIdentityByID(context.Background(), login.Identity.ID)
	require.NoError(t, err)
	assert.NotEqual(t, providers.Profile1.Email, stored.Email)
	assert.False(t, strings.Contains(stored.Email, "@"))

	again, err := env.login(t, core.ProviderKakao, providers.ValidCode1)
	require.NoError(t, err)
	assert.Equal(t, providers.Profile1.Email, again.Identity.Email)
}

func TestAuthService_PurgeExpired(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, providers.ValidCode1, "Kim")
	env.beginLogin(t, core.ProviderKakao)
	env.beginLogin(t, core.ProviderNaver)

	stats, err := env.service.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.PurgeStats{}, stats)

	env.clock.Advance(env.config.RefreshTTL() + time.Second)

	stats, err = env.service.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.PurgeStats{RefreshTokens: 1, LoginStates: 2}, stats)
	assert.Zero(t, env.repo.RefreshTokenCount(registered.Identity.ID))
}
