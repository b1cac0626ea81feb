package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Server struct {
	authService    *AuthService
	authenticator  *Authenticator
	config         *Config
	limiter        *RateLimiter
	metricsHandler http.Handler
	logger         *slog.Logger
}

type ServerOption func(*Server)

// WithRateLimiter throttles the /auth routes per client address
func WithRateLimiter(rl *RateLimiter) ServerOption {
	return func(s *Server) {
		s.limiter = rl
	}
}

// WithMetricsHandler mounts h at GET /metrics
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metricsHandler = h
	}
}

func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(authService *AuthService, authenticator *Authenticator, config *Config, opts ...ServerOption) *Server {
	s := &Server{
		authService:   authService,
		authenticator: authenticator,
		config:        config,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(NewRecoveryMiddleware(s.logger))
	r.Use(s.authenticator.Middleware)
	r.Use(NewLoggingMiddleware(s.logger))

	r.Get("/health", s.HandleHealth)
	if s.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.metricsHandler)
	}

	r.Route("/auth", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}

		r.With(RequireKind(KindAccess)).Get("/me", s.HandleMe)
		r.With(RequireKind(KindTemp)).Post("/users", s.HandleCompleteRegistration)
		r.Post("/refresh", s.HandleRefresh)
		r.Post("/logout", s.HandleLogout)
		r.With(RequireKind(KindAccess)).Post("/logout-all", s.HandleLogoutAll)

		r.Get("/{provider}", s.HandleBeginLogin)
		r.Get("/{provider}/callback", s.HandleCallback)
	})

	r.Get("/users/{shareId}", s.HandleSharedProfile)

	return r
}

type userResponse struct {
	ID          uuid.UUID     `json:"id"`
	ShareID     *uuid.UUID    `json:"share_id,omitempty"`
	Provider    Provider      `json:"provider"`
	Email       string        `json:"email,omitempty"`
	DisplayName string        `json:"display_name"`
	AvatarURL   string        `json:"avatar_url,omitempty"`
	Color       Color         `json:"color,omitempty"`
	State       IdentityState `json:"state"`
}

func newUserResponse(identity *Identity) *userResponse {
	return &userResponse{
		ID:          identity.ID,
		ShareID:     identity.ShareID,
		Provider:    identity.Provider,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		AvatarURL:   identity.AvatarURL,
		Color:       identity.Color,
		State:       identity.State,
	}
}

type loginResponse struct {
	IsExistingActiveUser bool          `json:"is_existing_active_user"`
	User                 *userResponse `json:"user"`
	TempToken            string        `json:"temp_token,omitempty"`
	AccessToken          string        `json:"access_token,omitempty"`
	RefreshToken         string        `json:"refresh_token,omitempty"`
}

func (s *Server) HandleBeginLogin(w http.ResponseWriter, r *http.Request) {
	provider := Provider(chi.URLParam(r, "provider"))

	redirectURL, err := s.authService.BeginLogin(r.Context(), provider)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	http.Redirect(w, r, redirectURL, http.StatusFound)
}

func (s *Server) HandleCallback(w http.ResponseWriter, r *http.Request) {
	provider := Provider(chi.URLParam(r, "provider"))
	query := r.URL.Query()

	if denied := query.Get("error"); denied != "" {
		s.callbackError(w, r, fmt.Errorf("%w: provider returned %s", ErrFederation, denied))
		return
	}

	result, err := s.authService.HandleCallback(r.Context(), provider, query.Get("code"), query.Get("state"))
	if err != nil {
		s.callbackError(w, r, err)
		return
	}

	resp := &loginResponse{
		IsExistingActiveUser: result.IsExistingActiveUser,
		User:                 newUserResponse(result.Identity),
	}

	redirectPath := "/new"
	if result.IsExistingActiveUser {
		s.setCookie(w, AccessTokenCookie, result.AccessToken, s.config.AccessTTL())
		s.setCookie(w, RefreshTokenCookie, result.RefreshToken, s.config.RefreshTTL())
		s.clearCookie(w, TempTokenCookie)
		resp.AccessToken = result.AccessToken
		resp.RefreshToken = result.RefreshToken
		redirectPath = "/" + result.Identity.ShareID.String()
	} else {
		s.setCookie(w, TempTokenCookie, result.TempToken, s.config.TempTTL())
		resp.TempToken = result.TempToken
	}

	if s.config.FrontendURL != "" {
		http.Redirect(w, r, s.config.FrontendURL+redirectPath, http.StatusFound)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) callbackError(w http.ResponseWriter, r *http.Request, err error) {
	if s.config.FrontendURL == "" {
		s.writeError(w, r, err)
		return
	}

	status, code, _ := classifyError(err)
	s.logError(r, status, err)
	http.Redirect(w, r, s.config.FrontendURL+"/auth/error?code="+url.QueryEscape(code), http.StatusFound)
}

func (s *Server) HandleCompleteRegistration(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	var req struct {
		Name  string `json:"name"`
		Color Color  `json:"color"`
	}

	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := s.authService.CompleteRegistration(r.Context(), principal.UserID, req.Name, req.Color)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.setCookie(w, AccessTokenCookie, result.AccessToken, s.config.AccessTTL())
	s.setCookie(w, RefreshTokenCookie, result.RefreshToken, s.config.RefreshTTL())
	s.clearCookie(w, TempTokenCookie)

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"user":          newUserResponse(result.Identity),
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
	})
}

func (s *Server) HandleMe(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	identity, err := s.authService.CurrentUser(r.Context(), principal.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, newUserResponse(identity))
}

func (s *Server) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	token, ok := refreshTokenFromRequest(w, r)
	if !ok {
		return
	}
	if token == "" {
		s.writeError(w, r, fmt.Errorf("%w: refresh token is required", ErrUnauthorized))
		return
	}

	result, err := s.authService.Refresh(r.Context(), token)
	if err != nil {
		if errors.Is(err, ErrExpiredToken) || errors.Is(err, ErrNotFound) {
			s.clearCookie(w, RefreshTokenCookie)
		}
		s.writeError(w, r, err)
		return
	}

	s.setCookie(w, AccessTokenCookie, result.AccessToken, s.config.AccessTTL())
	resp := map[string]string{
		"access_token": result.AccessToken,
	}
	if result.RefreshToken != "" {
		s.setCookie(w, RefreshTokenCookie, result.RefreshToken, s.config.RefreshTTL())
		resp["refresh_token"] = result.RefreshToken
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) HandleLogout(w http.ResponseWriter, r *http.Request) {
	token, ok := refreshTokenFromRequest(w, r)
	if !ok {
		return
	}

	s.authService.Logout(r.Context(), token)
	s.clearSessionCookies(w)

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "logged_out",
	})
}

func (s *Server) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	if err := s.authService.LogoutAll(r.Context(), principal.UserID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.clearSessionCookies(w)

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "logged_out_all_devices",
	})
}

func (s *Server) HandleSharedProfile(w http.ResponseWriter, r *http.Request) {
	shareID, err := uuid.Parse(chi.URLParam(r, "shareId"))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: malformed share id", ErrNotFound))
		return
	}

	identity, err := s.authService.SharedProfile(r.Context(), shareID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"share_id":     identity.ShareID,
		"display_name": identity.DisplayName,
		"color":        identity.Color,
	})
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"providers": s.authService.Providers(),
	})
}

// Helper functions

// refreshTokenFromRequest reads the refreshToken cookie, falling back to a
// {"refresh_token": "..."} body. It reports false once it has written an error.
func refreshTokenFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	if cookie, err := r.Cookie(RefreshTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return "", false
	}

	return req.RefreshToken, true
}

func (s *Server) setCookie(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   s.config.Cookie.Domain,
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   s.config.SecureCookies(),
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   s.config.Cookie.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.config.SecureCookies(),
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookies(w http.ResponseWriter) {
	s.clearCookie(w, AccessTokenCookie)
	s.clearCookie(w, RefreshTokenCookie)
	s.clearCookie(w, TempTokenCookie)
}

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

// Order matters: ErrExpiredToken before ErrUnauthorized, ErrConflict before ErrInvalidState.
var errorMappings = []errorMapping{
	{ErrUnsupportedProvider, http.StatusBadRequest, "invalid_provider", "Unsupported provider"},
	{ErrInvalidRequest, http.StatusBadRequest, "invalid_request", ""},
	{ErrExpiredToken, http.StatusUnauthorized, "token_expired", "Token expired"},
	{ErrUnauthorized, http.StatusUnauthorized, "unauthorized", "Authentication failed"},
	{ErrNotFound, http.StatusNotFound, "not_found", "Not found"},
	{ErrConflict, http.StatusConflict, "conflict", "Registration already completed"},
	{ErrInvalidState, http.StatusUnprocessableEntity, "invalid_state", "Registration is not in the required state"},
	{ErrFederation, http.StatusBadGateway, "federation_failed", "Identity provider request failed"},
}

func classifyError(err error) (int, string, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			message := m.message
			if message == "" {
				message = err.Error()
			}
			return m.status, m.code, message
		}
	}
	return http.StatusInternalServerError, "internal_error", "Internal server error"
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classifyError(err)
	s.logError(r, status, err)
	respondError(w, status, code, message)
}

func (s *Server) logError(r *http.Request, status int, err error) {
	level := slog.LevelDebug
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.Log(r.Context(), level, "request failed",
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	respondJSON(w, statusCode, map[string]string{
		"error":   errorCode,
		"message": message,
	})
}
