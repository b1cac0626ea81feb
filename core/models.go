package core

import (
	"time"

	"github.com/google/uuid"
)

// Provider represents an OAuth identity provider
type Provider string

const (
	ProviderKakao  Provider = "kakao"
	ProviderNaver  Provider = "naver"
	ProviderGoogle Provider = "google"
)

// IdentityState is the registration state of an Identity.
// The only transition is PENDING -> ACTIVE.
type IdentityState string

const (
	StatePending IdentityState = "PENDING"
	StateActive  IdentityState = "ACTIVE"
)

// Color is the calendar color picked when registration completes
type Color string

var validColors = map[Color]struct{}{
	"brown":      {},
	"red":        {},
	"orange":     {},
	"yellow":     {},
	"pink":       {},
	"lightGreen": {},
	"green":      {},
	"blue":       {},
	"navy":       {},
	"violet":     {},
}

func (c Color) Valid() bool {
	_, ok := validColors[c]
	return ok
}

// Identity is a local user record linked to exactly one federated account.
// ShareID is set if and only if State is ACTIVE.
type Identity struct {
	ID          uuid.UUID
	Provider    Provider
	ProviderID  string
	Email       string
	DisplayName string
	AvatarURL   string
	Color       Color
	ShareID     *uuid.UUID
	State       IdentityState
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (i *Identity) IsActive() bool {
	return i.State == StateActive
}

// RefreshRecord is a persisted refresh token. Only the SHA-256 digest of
// the token string is stored.
type RefreshRecord struct {
	TokenDigest string
	UserID      uuid.UUID
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// LoginState is the server-side half of the OAuth state parameter
type LoginState struct {
	State     string
	Provider  Provider
	ExpiresAt time.Time
}
