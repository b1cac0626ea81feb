package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMalformedToken = errors.New("malformed token")
	ErrExpiredToken   = errors.New("token expired")
)

// TokenKind is the mandatory "type" claim of every token
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
	KindTemp    TokenKind = "temp"
)

func (k TokenKind) valid() bool {
	switch k {
	case KindAccess, KindRefresh, KindTemp:
		return true
	}
	return false
}

// Meta holds the claims shared by every token kind
type Meta struct {
	Subject   uuid.UUID
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (m Meta) Metadata() Meta {
	return m
}

// TokenClaims is one of *AccessClaims, *TempClaims or *RefreshClaims
type TokenClaims interface {
	Kind() TokenKind
	Metadata() Meta
}

type AccessClaims struct {
	Meta
	Email    string
	Provider Provider
}

func (*AccessClaims) Kind() TokenKind { return KindAccess }

// TempClaims authorizes registration completion only. Profile is set for
// tokens issued on a first login.
type TempClaims struct {
	Meta
	Email    string
	Provider Provider
	Profile  *FederatedProfile
}

func (*TempClaims) Kind() TokenKind { return KindTemp }

type RefreshClaims struct {
	Meta
}

func (*RefreshClaims) Kind() TokenKind { return KindRefresh }

// ExtraClaims are the kind-dependent inputs to Issue. Refresh tokens ignore them.
type ExtraClaims struct {
	Email    string
	Provider Provider
	Profile  *FederatedProfile
}

type wireClaims struct {
	Type     TokenKind         `json:"type"`
	Email    string            `json:"email,omitempty"`
	Provider Provider          `json:"provider,omitempty"`
	Profile  *FederatedProfile `json:"profile,omitempty"`
	jwt.RegisteredClaims
}

// Verdict is the outcome of Inspect
type Verdict int

const (
	VerdictInvalid Verdict = iota
	VerdictValid
	VerdictWrongKind
)

func (v Verdict) String() string {
	switch v {
	case VerdictValid:
		return "valid"
	case VerdictWrongKind:
		return "wrong-kind"
	default:
		return "invalid"
	}
}

// TokenCodec issues and verifies HS512 signed tokens. It holds no mutable
// state and is safe for concurrent use.
type TokenCodec struct {
	key    *SigningKey
	issuer string
	now    func() time.Time
	parser *jwt.Parser
}

type CodecOption func(*TokenCodec)

// WithCodecClock replaces the wall clock used for iat/exp and for validation
func WithCodecClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) {
		c.now = now
	}
}

func NewTokenCodec(key *SigningKey, issuer string, opts ...CodecOption) *TokenCodec {
	c := &TokenCodec{
		key:    key,
		issuer: issuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		// a token is still valid in its expiry second; it expires once
		// the clock, truncated to seconds, is past exp
		jwt.WithLeeway(time.Second),
		jwt.WithTimeFunc(func() time.Time { return c.now().Truncate(time.Second) }),
	}
	if issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(issuer))
	}
	c.parser = jwt.NewParser(parserOpts...)

	return c
}

func (c *TokenCodec) Issue(kind TokenKind, subject uuid.UUID, extra ExtraClaims, ttl time.Duration) (string, error) {
	if !kind.valid() {
		return "", fmt.Errorf("unknown token kind %q", kind)
	}
	if subject == uuid.Nil {
		return "", errors.New("token subject is required")
	}
	if ttl < time.Second {
		return "", fmt.Errorf("token ttl must be at least one second (got %s)", ttl)
	}

	now := c.now().UTC().Truncate(time.Second)

	claims := &wireClaims{
		Type: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subject.String(),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl.Truncate(time.Second))),
		},
	}
	if kind != KindRefresh {
		claims.Email = extra.Email
		claims.Provider = extra.Provider
	}
	if kind == KindTemp {
		claims.Profile = extra.Profile
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	signed, err := token.SignedString(c.key.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

// Verify reports whether the token is well formed, correctly signed,
// unexpired and of a known kind. It does not say which check failed.
func (c *TokenCodec) Verify(tokenString string) bool {
	_, err := c.Parse(tokenString)
	return err == nil
}

// Parse validates the token and decodes it into its typed claims.
// Errors are ErrExpiredToken or ErrMalformedToken.
func (c *TokenCodec) Parse(tokenString string) (TokenClaims, error) {
	var wc wireClaims
	_, err := c.parser.ParseWithClaims(tokenString, &wc, c.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	return wc.decode()
}

// Inspect parses the token and checks its kind against accepted
func (c *TokenCodec) Inspect(tokenString string, accepted ...TokenKind) (TokenClaims, Verdict) {
	claims, err := c.Parse(tokenString)
	if err != nil {
		return nil, VerdictInvalid
	}

	for _, kind := range accepted {
		if claims.Kind() == kind {
			return claims, VerdictValid
		}
	}

	return nil, VerdictWrongKind
}

func (c *TokenCodec) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, ErrMalformedToken
	}
	return c.key.secret, nil
}

func (wc *wireClaims) decode() (TokenClaims, error) {
	subject, err := uuid.Parse(wc.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: bad subject", ErrMalformedToken)
	}
	if wc.IssuedAt == nil || wc.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing timestamps", ErrMalformedToken)
	}

	meta := Meta{
		Subject:   subject,
		ID:        wc.ID,
		IssuedAt:  wc.IssuedAt.Time.UTC(),
		ExpiresAt: wc.ExpiresAt.Time.UTC(),
	}

	switch wc.Type {
	case KindAccess:
		return &AccessClaims{Meta: meta, Email: wc.Email, Provider: wc.Provider}, nil
	case KindTemp:
		return &TempClaims{Meta: meta, Email: wc.Email, Provider: wc.Provider, Profile: wc.Profile}, nil
	case KindRefresh:
		return &RefreshClaims{Meta: meta}, nil
	default:
		return nil, fmt.Errorf("%w: missing or unknown type claim", ErrMalformedToken)
	}
}
