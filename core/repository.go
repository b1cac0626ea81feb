package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// IdentityStore owns Identity records and the PENDING -> ACTIVE transition
type IdentityStore interface {
	FindIdentityByID(ctx context.Context, id uuid.UUID) (*Identity, error)

	FindIdentityByFederation(ctx context.Context, provider Provider, providerID string) (*Identity, error)

	FindIdentityByShareID(ctx context.Context, shareID uuid.UUID) (*Identity, error)

	// CreatePendingIdentity inserts identity with State PENDING and no share id.
	// Returns ErrConflict if (provider, providerID) is already taken.
	CreatePendingIdentity(ctx context.Context, identity *Identity) error

	// CompleteRegistration atomically flips a PENDING identity to ACTIVE,
	// assigning a fresh share id. Returns *StateError if the identity is not PENDING.
	CompleteRegistration(ctx context.Context, id uuid.UUID, displayName string, color Color) (*Identity, error)
}

type RefreshTokenStore interface {
	SaveRefreshToken(ctx context.Context, record *RefreshRecord) error

	FindRefreshToken(ctx context.Context, tokenDigest string) (*RefreshRecord, error)

	DeleteRefreshToken(ctx context.Context, tokenDigest string) error

	DeleteUserRefreshTokens(ctx context.Context, userID uuid.UUID) error

	// ReplaceUserRefreshTokens deletes every record of record.UserID and
	// saves record in one step. Concurrent replaces for the same user leave
	// exactly one record.
	ReplaceUserRefreshTokens(ctx context.Context, record *RefreshRecord) error

	PurgeExpiredRefreshTokens(ctx context.Context, asOf time.Time) (int64, error)
}

type LoginStateStore interface {
	SaveLoginState(ctx context.Context, state *LoginState) error

	// ConsumeLoginState returns and deletes the record in one step
	ConsumeLoginState(ctx context.Context, state string) (*LoginState, error)

	PurgeExpiredLoginStates(ctx context.Context, asOf time.Time) (int64, error)
}

type Repository interface {
	IdentityStore
	RefreshTokenStore
	LoginStateStore
}
