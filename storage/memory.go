package storage

import (
	"context"
	"sync"
	"time"

	"github.com/paperrnint/advent-calendar-be/core"

	"github.com/google/uuid"
)

type federationKey struct {
	provider   core.Provider
	providerID string
}

// MemoryRepository is an in-process Repository. Records are copied on the
// way in and out so callers never share memory with the store.
type MemoryRepository struct {
	mu sync.Mutex

	identities    map[uuid.UUID]*core.Identity
	byFederation  map[federationKey]uuid.UUID
	byShareID     map[uuid.UUID]uuid.UUID
	refreshTokens map[string]*core.RefreshRecord
	loginStates   map[string]*core.LoginState

	// Track method calls for verification
	CreatePendingCalls        int
	CompleteRegistrationCalls int
	SaveRefreshTokenCalls     int
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		identities:    make(map[uuid.UUID]*core.Identity),
		byFederation:  make(map[federationKey]uuid.UUID),
		byShareID:     make(map[uuid.UUID]uuid.UUID),
		refreshTokens: make(map[string]*core.RefreshRecord),
		loginStates:   make(map[string]*core.LoginState),
	}
}

func (m *MemoryRepository) FindIdentityByID(ctx context.Context, id uuid.UUID) (*core.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	identity, ok := m.identities[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return copyIdentity(identity), nil
}

func (m *MemoryRepository) FindIdentityByFederation(ctx context.Context, provider core.Provider, providerID string) (*core.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byFederation[federationKey{provider, providerID}]
	if !ok {
		return nil, core.ErrNotFound
	}
	return copyIdentity(m.identities[id]), nil
}

func (m *MemoryRepository) FindIdentityByShareID(ctx context.Context, shareID uuid.UUID) (*core.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byShareID[shareID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return copyIdentity(m.identities[id]), nil
}

func (m *MemoryRepository) CreatePendingIdentity(ctx context.Context, identity *core.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreatePendingCalls++

	key := federationKey{identity.Provider, identity.ProviderID}
	if _, exists := m.byFederation[key]; exists {
		return core.ErrConflict
	}
	if _, exists := m.identities[identity.ID]; exists {
		return core.ErrConflict
	}

	stored := copyIdentity(identity)
	stored.State = core.StatePending
	stored.ShareID = nil
	stored.Color = ""

	m.identities[stored.ID] = stored
	m.byFederation[key] = stored.ID
	return nil
}

func (m *MemoryRepository) CompleteRegistration(ctx context.Context, id uuid.UUID, displayName string, color core.Color) (*core.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CompleteRegistrationCalls++

	identity, ok := m.identities[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	if identity.State != core.StatePending {
		return nil, &core.StateError{ID: id, State: identity.State}
	}

	shareID := uuid.New()
	identity.State = core.StateActive
	identity.ShareID = &shareID
	identity.DisplayName = displayName
	identity.Color = color
	identity.UpdatedAt = time.Now().UTC()
	m.byShareID[shareID] = id

	return copyIdentity(identity), nil
}

func (m *MemoryRepository) SaveRefreshToken(ctx context.Context, record *core.RefreshRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SaveRefreshTokenCalls++

	if _, exists := m.refreshTokens[record.TokenDigest]; exists {
		return core.ErrConflict
	}

	stored := *record
	m.refreshTokens[record.TokenDigest] = &stored
	return nil
}

func (m *MemoryRepository) FindRefreshToken(ctx context.Context, tokenDigest string) (*core.RefreshRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.refreshTokens[tokenDigest]
	if !ok {
		return nil, core.ErrNotFound
	}
	out := *record
	return &out, nil
}

// DeleteRefreshToken is a no-op for unknown digests
func (m *MemoryRepository) DeleteRefreshToken(ctx context.Context, tokenDigest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.refreshTokens, tokenDigest)
	return nil
}

func (m *MemoryRepository) DeleteUserRefreshTokens(ctx context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for digest, record := range m.refreshTokens {
		if record.UserID == userID {
			delete(m.refreshTokens, digest)
		}
	}
	return nil
}

func (m *MemoryRepository) ReplaceUserRefreshTokens(ctx context.Context, record *core.RefreshRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SaveRefreshTokenCalls++

	if existing, ok := m.refreshTokens[record.TokenDigest]; ok && existing.UserID != record.UserID {
		return core.ErrConflict
	}
	for digest, existing := range m.refreshTokens {
		if existing.UserID == record.UserID {
			delete(m.refreshTokens, digest)
		}
	}

	stored := *record
	m.refreshTokens[record.TokenDigest] = &stored
	return nil
}

func (m *MemoryRepository) PurgeExpiredRefreshTokens(ctx context.Context, asOf time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for digest, record := range m.refreshTokens {
		if record.ExpiresAt.Before(asOf) {
			delete(m.refreshTokens, digest)
			count++
		}
	}
	return count, nil
}

func (m *MemoryRepository) SaveLoginState(ctx context.Context, state *core.LoginState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.loginStates[state.State]; exists {
		return core.ErrConflict
	}

	stored := *state
	m.loginStates[state.State] = &stored
	return nil
}

func (m *MemoryRepository) ConsumeLoginState(ctx context.Context, state string) (*core.LoginState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.loginStates[state]
	if !ok {
		return nil, core.ErrNotFound
	}
	delete(m.loginStates, state)
	return record, nil
}

func (m *MemoryRepository) PurgeExpiredLoginStates(ctx context.Context, asOf time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, record := range m.loginStates {
		if record.ExpiresAt.Before(asOf) {
			delete(m.loginStates, key)
			count++
		}
	}
	return count, nil
}

// RefreshTokenCount returns how many refresh records userID has
func (m *MemoryRepository) RefreshTokenCount(userID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, record := range m.refreshTokens {
		if record.UserID == userID {
			n++
		}
	}
	return n
}

func copyIdentity(identity *core.Identity) *core.Identity {
	out := *identity
	if identity.ShareID != nil {
		shareID := *identity.ShareID
		out.ShareID = &shareID
	}
	return &out
}
