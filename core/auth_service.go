package core

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
)

const (
	MaxDisplayNameLength = 10

	maxSanitizePasses = 8
)

// LoginResult is the outcome of a federation callback. Active users get an
// access/refresh pair, everyone else a temp token for completing registration.
type LoginResult struct {
	Identity             *Identity
	IsExistingActiveUser bool
	TempToken            string
	AccessToken          string
	RefreshToken         string
}

type RegistrationResult struct {
	Identity     *Identity
	AccessToken  string
	RefreshToken string
}

// RefreshResult carries a new refresh token only when rotation is enabled
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
}

type PurgeStats struct {
	RefreshTokens int64
	LoginStates   int64
}

type AuthService struct {
	repo      Repository
	config    *Config
	codec     *TokenCodec
	crypto    *CryptoService
	providers map[Provider]AuthProvider
	sanitizer *bluemonday.Policy
	logger    *slog.Logger
	metrics   Metrics
	now       func() time.Time
}

type ServiceOption func(*AuthService)

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *AuthService) {
		s.logger = logger
	}
}

func WithMetrics(m Metrics) ServiceOption {
	return func(s *AuthService) {
		s.metrics = m
	}
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *AuthService) {
		s.now = now
	}
}

// NewAuthService wires the orchestrator. crypto may be nil, in which case
// emails are stored in plain text.
func NewAuthService(repo Repository, config *Config, codec *TokenCodec, providers map[Provider]AuthProvider, crypto *CryptoService, opts ...ServiceOption) *AuthService {
	s := &AuthService{
		repo:      repo,
		config:    config,
		codec:     codec,
		crypto:    crypto,
		providers: providers,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    slog.Default(),
		metrics:   noopMetrics{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Providers lists the configured providers in name order
func (s *AuthService) Providers() []Provider {
	names := make([]Provider, 0, len(s.providers))
	for p := range s.providers {
		names = append(names, p)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

func (s *AuthService) provider(p Provider) (AuthProvider, error) {
	authProvider, ok := s.providers[p]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, p)
	}
	return authProvider, nil
}

// BeginLogin records a fresh state value and returns the provider consent URL
func (s *AuthService) BeginLogin(ctx context.Context, provider Provider) (string, error) {
	authProvider, err := s.provider(provider)
	if err != nil {
		return "", err
	}

	state, err := randomState()
	if err != nil {
		return "", err
	}

	record := &LoginState{
		State:     state,
		Provider:  provider,
		ExpiresAt: s.now().UTC().Add(s.config.LoginStateWindow()),
	}
	if err := s.repo.SaveLoginState(ctx, record); err != nil {
		return "", fmt.Errorf("failed to save login state: %w", err)
	}

	return authProvider.AuthCodeURL(state), nil
}

func (s *AuthService) HandleCallback(ctx context.Context, provider Provider, code, state string) (*LoginResult, error) {
	// 1. Get the provider implementation
	authProvider, err := s.provider(provider)
	if err != nil {
		return nil, err
	}

	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrInvalidRequest)
	}

	// 2. The state must match a live record issued by BeginLogin for this provider
	if err := s.consumeLoginState(ctx, provider, state); err != nil {
		s.metrics.RecordLogin(provider, OutcomeRejected)
		return nil, err
	}

	// 3. Federate
	accessToken, err := authProvider.ExchangeCode(ctx, code, state)
	if err != nil {
		s.metrics.RecordLogin(provider, OutcomeFailure)
		return nil, federationError(ErrFederationToken, err)
	}

	profile, err := authProvider.FetchProfile(ctx, accessToken)
	if err != nil {
		s.metrics.RecordLogin(provider, OutcomeFailure)
		return nil, federationError(ErrFederationProfile, err)
	}
	if profile == nil || profile.ProviderID == "" {
		s.metrics.RecordLogin(provider, OutcomeFailure)
		return nil, fmt.Errorf("%w: profile has no provider id", ErrFederationProfile)
	}

	// 4. Find or create the local identity
	identity, created, err := s.findOrCreate(ctx, provider, profile)
	if err != nil {
		return nil, err
	}

	// 5. Active users get a session, everyone else a temp token
	if identity.IsActive() {
		accessToken, refreshToken, err := s.issueSession(ctx, identity)
		if err != nil {
			return nil, err
		}

		s.metrics.RecordLogin(provider, OutcomeActive)
		s.logger.InfoContext(ctx, "login completed",
			slog.String("provider", string(provider)),
			slog.String("user_id", identity.ID.String()),
			slog.String("outcome", OutcomeActive),
		)

		return &LoginResult{
			Identity:             identity,
			IsExistingActiveUser: true,
			AccessToken:          accessToken,
			RefreshToken:         refreshToken,
		}, nil
	}

	tempToken, err := s.codec.Issue(KindTemp, identity.ID, ExtraClaims{
		Email:    identity.Email,
		Provider: provider,
		Profile:  profile,
	}, s.config.TempTTL())
	if err != nil {
		return nil, fmt.Errorf("failed to issue temp token: %w", err)
	}

	outcome := OutcomePending
	if created {
		outcome = OutcomeNewUser
	}
	s.metrics.RecordLogin(provider, outcome)
	s.logger.InfoContext(ctx, "login requires registration",
		slog.String("provider", string(provider)),
		slog.String("user_id", identity.ID.String()),
		slog.String("outcome", outcome),
	)

	return &LoginResult{
		Identity:  identity,
		TempToken: tempToken,
	}, nil
}

func (s *AuthService) consumeLoginState(ctx context.Context, provider Provider, state string) error {
	if state == "" {
		return ErrInvalidLoginState
	}

	record, err := s.repo.ConsumeLoginState(ctx, state)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidLoginState
		}
		return fmt.Errorf("failed to consume login state: %w", err)
	}

	if record.Provider != provider || !s.now().Before(record.ExpiresAt) {
		return ErrInvalidLoginState
	}

	return nil
}

// findOrCreate resolves the identity for a federated profile. A lost
// insert race resolves to the row the winner created.
func (s *AuthService) findOrCreate(ctx context.Context, provider Provider, profile *FederatedProfile) (*Identity, bool, error) {
	identity, err := s.repo.FindIdentityByFederation(ctx, provider, profile.ProviderID)
	if err == nil {
		identity, err = s.reveal(identity)
		return identity, false, err
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("failed to find identity: %w", err)
	}

	email, err := s.crypto.Encrypt(profile.Email)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encrypt email: %w", err)
	}

	now := s.now().UTC()
	identity = &Identity{
		ID:          uuid.New(),
		Provider:    provider,
		ProviderID:  profile.ProviderID,
		Email:       email,
		DisplayName: s.cleanName(profile.DisplayName),
		AvatarURL:   profile.AvatarURL,
		State:       StatePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.CreatePendingIdentity(ctx, identity); err != nil {
		if !errors.Is(err, ErrConflict) {
			return nil, false, fmt.Errorf("failed to create identity: %w", err)
		}

		s.logger.InfoContext(ctx, "identity created concurrently, using existing row",
			slog.String("provider", string(provider)),
		)
		winner, err := s.repo.FindIdentityByFederation(ctx, provider, profile.ProviderID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to find identity: %w", err)
		}
		winner, err = s.reveal(winner)
		return winner, false, err
	}

	identity.Email = profile.Email
	return identity, true, nil
}

// CompleteRegistration flips a PENDING identity to ACTIVE and starts its first
// session. The caller must have authenticated userID with a temp token.
func (s *AuthService) CompleteRegistration(ctx context.Context, userID uuid.UUID, displayName string, color Color) (*RegistrationResult, error) {
	name := s.cleanName(displayName)
	if n := utf8.RuneCountInString(name); n == 0 || n > MaxDisplayNameLength {
		return nil, fmt.Errorf("%w: display name must be 1 to %d characters", ErrInvalidRegistration, MaxDisplayNameLength)
	}
	if !color.Valid() {
		return nil, fmt.Errorf("%w: unknown color %q", ErrInvalidRegistration, color)
	}

	identity, err := s.repo.CompleteRegistration(ctx, userID, name, color)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			s.metrics.RecordRegistration(OutcomeConflict)
		} else {
			s.metrics.RecordRegistration(OutcomeFailure)
		}
		return nil, fmt.Errorf("failed to complete registration: %w", err)
	}

	identity, err = s.reveal(identity)
	if err != nil {
		return nil, err
	}

	accessToken, refreshToken, err := s.issueSession(ctx, identity)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordRegistration(OutcomeSuccess)
	s.logger.InfoContext(ctx, "registration completed",
		slog.String("user_id", identity.ID.String()),
		slog.String("provider", string(identity.Provider)),
	)

	return &RegistrationResult{
		Identity:     identity,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// Refresh exchanges a refresh token for a new access token. A token whose
// record has expired fails with ErrExpiredToken and its record is removed.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	claims, parseErr := s.codec.Parse(refreshToken)
	jwtExpired := errors.Is(parseErr, ErrExpiredToken)
	if parseErr != nil && !jwtExpired {
		s.metrics.RecordRefresh(OutcomeRejected)
		return nil, ErrUnauthorized
	}
	if parseErr == nil && claims.Kind() != KindRefresh {
		s.metrics.RecordRefresh(OutcomeRejected)
		return nil, ErrUnauthorized
	}

	// An expired signature-valid token is only honoured far enough to drop its record
	digest := DigestToken(refreshToken)
	record, err := s.repo.FindRefreshToken(ctx, digest)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if jwtExpired {
				s.metrics.RecordRefresh(OutcomeRejected)
				return nil, ErrUnauthorized
			}
			s.metrics.RecordRefresh(OutcomeNotFound)
			return nil, fmt.Errorf("%w: refresh token not recognised", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find refresh token: %w", err)
	}

	if jwtExpired || s.now().UTC().Truncate(time.Second).After(record.ExpiresAt) {
		if err := s.repo.DeleteRefreshToken(ctx, digest); err != nil {
			s.logger.WarnContext(ctx, "failed to delete expired refresh token",
				slog.String("user_id", record.UserID.String()),
				slog.Any("error", err),
			)
		}
		s.metrics.RecordRefresh(OutcomeExpired)
		return nil, ErrExpiredToken
	}

	if claims.Metadata().Subject != record.UserID {
		s.metrics.RecordRefresh(OutcomeRejected)
		return nil, ErrUnauthorized
	}

	identity, err := s.repo.FindIdentityByID(ctx, record.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	identity, err = s.reveal(identity)
	if err != nil {
		return nil, err
	}

	accessToken, err := s.codec.Issue(KindAccess, identity.ID, ExtraClaims{
		Email:    identity.Email,
		Provider: identity.Provider,
	}, s.config.AccessTTL())
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	result := &RefreshResult{AccessToken: accessToken}

	if s.config.JWT.RotateRefreshTokens {
		rotated, err := s.codec.Issue(KindRefresh, identity.ID, ExtraClaims{}, s.config.RefreshTTL())
		if err != nil {
			return nil, fmt.Errorf("failed to issue refresh token: %w", err)
		}
		if err := s.replaceRefreshToken(ctx, identity.ID, rotated); err != nil {
			return nil, err
		}
		result.RefreshToken = rotated
	}

	s.metrics.RecordRefresh(OutcomeSuccess)
	return result, nil
}

// Logout revokes the refresh token if it is known. It never fails; an empty
// or unknown token is a no-op.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) {
	s.metrics.RecordLogout()
	if refreshToken == "" {
		return
	}

	if err := s.repo.DeleteRefreshToken(ctx, DigestToken(refreshToken)); err != nil {
		s.logger.WarnContext(ctx, "failed to delete refresh token on logout", slog.Any("error", err))
	}
}

func (s *AuthService) LogoutAll(ctx context.Context, userID uuid.UUID) error {
	if err := s.repo.DeleteUserRefreshTokens(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete user refresh tokens: %w", err)
	}
	s.logger.InfoContext(ctx, "all sessions revoked", slog.String("user_id", userID.String()))
	return nil
}

// CurrentUser returns the caller's identity. Only ACTIVE identities qualify.
func (s *AuthService) CurrentUser(ctx context.Context, userID uuid.UUID) (*Identity, error) {
	identity, err := s.repo.FindIdentityByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if !identity.IsActive() {
		return nil, &StateError{ID: identity.ID, State: identity.State}
	}
	return s.reveal(identity)
}

// SharedProfile looks an ACTIVE identity up by its public share id
func (s *AuthService) SharedProfile(ctx context.Context, shareID uuid.UUID) (*Identity, error) {
	identity, err := s.repo.FindIdentityByShareID(ctx, shareID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	return s.reveal(identity)
}

// PurgeExpired removes refresh records and login states that have expired
func (s *AuthService) PurgeExpired(ctx context.Context) (PurgeStats, error) {
	var stats PurgeStats
	now := s.now().UTC()

	n, err := s.repo.PurgeExpiredRefreshTokens(ctx, now)
	if err != nil {
		return stats, fmt.Errorf("failed to purge refresh tokens: %w", err)
	}
	stats.RefreshTokens = n

	n, err = s.repo.PurgeExpiredLoginStates(ctx, now)
	if err != nil {
		return stats, fmt.Errorf("failed to purge login states: %w", err)
	}
	stats.LoginStates = n

	s.metrics.RecordPurge(stats.RefreshTokens, stats.LoginStates)
	return stats, nil
}

// issueSession issues an access/refresh pair and replaces any refresh
// records the identity already had. One refresh token per user.
func (s *AuthService) issueSession(ctx context.Context, identity *Identity) (string, string, error) {
	accessToken, err := s.codec.Issue(KindAccess, identity.ID, ExtraClaims{
		Email:    identity.Email,
		Provider: identity.Provider,
	}, s.config.AccessTTL())
	if err != nil {
		return "", "", fmt.Errorf("failed to issue access token: %w", err)
	}

	refreshToken, err := s.codec.Issue(KindRefresh, identity.ID, ExtraClaims{}, s.config.RefreshTTL())
	if err != nil {
		return "", "", fmt.Errorf("failed to issue refresh token: %w", err)
	}

	if err := s.replaceRefreshToken(ctx, identity.ID, refreshToken); err != nil {
		return "", "", err
	}

	return accessToken, refreshToken, nil
}

// replaceRefreshToken makes token the only refresh record of userID
func (s *AuthService) replaceRefreshToken(ctx context.Context, userID uuid.UUID, token string) error {
	now := s.now().UTC().Truncate(time.Second)
	record := &RefreshRecord{
		TokenDigest: DigestToken(token),
		UserID:      userID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.config.RefreshTTL()),
	}
	if err := s.repo.ReplaceUserRefreshTokens(ctx, record); err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}
	return nil
}

// reveal returns a copy of identity with the email decrypted
func (s *AuthService) reveal(identity *Identity) (*Identity, error) {
	out := *identity
	email, err := s.crypto.Decrypt(identity.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt email: %w", err)
	}
	out.Email = email
	return &out, nil
}

// cleanName strips markup and surrounding whitespace from a display name.
// Entity-encoded markup is decoded and stripped again until nothing
// changes; a name that never settles is dropped.
func (s *AuthService) cleanName(name string) string {
	for i := 0; i < maxSanitizePasses; i++ {
		cleaned := html.UnescapeString(s.sanitizer.Sanitize(name))
		if cleaned == name {
			return strings.TrimSpace(name)
		}
		name = cleaned
	}
	return ""
}

func federationError(kind error, err error) error {
	if errors.Is(err, ErrFederation) {
		return err
	}
	return fmt.Errorf("%w: %v", kind, err)
}
