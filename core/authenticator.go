package core

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	AccessTokenCookie  = "accessToken"
	TempTokenCookie    = "tempToken"
	RefreshTokenCookie = "refreshToken"
)

// Principal is the authenticated caller attached to a request context
type Principal struct {
	UserID   uuid.UUID
	Kind     TokenKind
	Email    string
	Provider Provider
}

type contextKey string

var principalContextKey = contextKey("principal")

// PrincipalFromContext returns the principal set by Authenticator.Middleware,
// or false for anonymous requests.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*Principal)
	return p, ok && p != nil
}

func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// Authenticator resolves the request principal from a bearer header or
// token cookie. Refresh tokens are never accepted as request credentials.
type Authenticator struct {
	codec   *TokenCodec
	logger  *slog.Logger
	metrics Metrics
}

func NewAuthenticator(codec *TokenCodec, logger *slog.Logger, metrics Metrics) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Authenticator{
		codec:   codec,
		logger:  logger,
		metrics: metrics,
	}
}

// ExtractToken looks at a Bearer Authorization header, then the accessToken
// cookie, then the tempToken cookie. The first one present wins. The scheme
// is matched case-insensitively; any other scheme is ignored.
func ExtractToken(r *http.Request) string {
	if scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " "); ok && strings.EqualFold(scheme, "Bearer") {
		if token = strings.TrimSpace(token); token != "" {
			return token
		}
	}

	for _, name := range []string{AccessTokenCookie, TempTokenCookie} {
		if cookie, err := r.Cookie(name); err == nil && cookie.Value != "" {
			return cookie.Value
		}
	}

	return ""
}

// Authenticate returns the principal for the request, or nil
func (a *Authenticator) Authenticate(r *http.Request) *Principal {
	token := ExtractToken(r)
	if token == "" {
		return nil
	}

	claims, verdict := a.codec.Inspect(token, KindAccess, KindTemp)
	a.metrics.RecordAuthDecision(verdict)

	if verdict == VerdictWrongKind {
		a.logger.DebugContext(r.Context(), "rejected token of wrong kind",
			slog.String("path", r.URL.Path),
		)
	}
	if verdict != VerdictValid {
		return nil
	}

	switch c := claims.(type) {
	case *AccessClaims:
		return &Principal{UserID: c.Subject, Kind: KindAccess, Email: c.Email, Provider: c.Provider}
	case *TempClaims:
		return &Principal{UserID: c.Subject, Kind: KindTemp, Email: c.Email, Provider: c.Provider}
	}
	return nil
}

// Middleware attaches the principal when there is one. It never rejects a request.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p := a.Authenticate(r); p != nil {
			r = r.WithContext(ContextWithPrincipal(r.Context(), p))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireKind rejects requests whose principal is missing or not one of kinds
func RequireKind(kinds ...TokenKind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				respondError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
				return
			}
			for _, kind := range kinds {
				if p.Kind == kind {
					next.ServeHTTP(w, r)
					return
				}
			}
			respondError(w, http.StatusUnauthorized, "unauthorized", "Token not accepted for this endpoint")
		})
	}
}
