package integration_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
)

type mockUser struct {
	ID       string
	Email    string
	Nickname string
	Picture  string
}

var mockUsers = map[string]mockUser{
	"valid_code_1": {
		ID:       "1001",
		Email:    "user1@example.com",
		Nickname: "First",
		Picture:  "https://example.com/avatar1.jpg",
	},
	"valid_code_2": {
		ID:       "1002",
		Email:    "user2@example.com",
		Nickname: "Second",
		Picture:  "https://example.com/avatar2.jpg",
	},
}

const (
	mockClientID     = "integration-client"
	mockClientSecret = "integration-secret"
)

// MockOAuthServer plays both Kakao and Naver: a consent endpoint that
// redirects straight back with a code, a token endpoint and a userinfo
// endpoint per provider.
type MockOAuthServer struct {
	server *httptest.Server

	mu       sync.Mutex
	nextCode string
	denied   bool

	TokenCalls atomic.Int32
}

func NewMockOAuthServer() *MockOAuthServer {
	m := &MockOAuthServer{}

	mux := http.NewServeMux()
	mux.HandleFunc("/authorize", m.handleAuthorize)
	mux.HandleFunc("/kakao/token", m.handleToken(false))
	mux.HandleFunc("/naver/token", m.handleToken(true))
	mux.HandleFunc("/kakao/userinfo", m.handleKakaoUserInfo)
	mux.HandleFunc("/naver/userinfo", m.handleNaverUserInfo)

	m.server = httptest.NewServer(mux)
	return m
}

func (m *MockOAuthServer) URL() string {
	return m.server.URL
}

func (m *MockOAuthServer) Close() {
	m.server.Close()
}

// Consent makes the next /authorize visit return code, or an access_denied
// error when denied is true
func (m *MockOAuthServer) Consent(code string, denied bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextCode = code
	m.denied = denied
}

func (m *MockOAuthServer) Reset() {
	m.Consent("", false)
	m.TokenCalls.Store(0)
}

func (m *MockOAuthServer) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	redirect, err := url.Parse(query.Get("redirect_uri"))
	if err != nil || query.Get("client_id") != mockClientID {
		http.Error(w, "bad client", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	code, denied := m.nextCode, m.denied
	m.mu.Unlock()

	params := url.Values{"state": {query.Get("state")}}
	if denied {
		params.Set("error", "access_denied")
	} else {
		params.Set("code", code)
	}
	redirect.RawQuery = params.Encode()

	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

func (m *MockOAuthServer) handleToken(requireState bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.TokenCalls.Add(1)

		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseForm(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
			return
		}

		if r.PostForm.Get("client_id") != mockClientID || r.PostForm.Get("client_secret") != mockClientSecret {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
			return
		}
		if requireState && r.PostForm.Get("state") == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
			return
		}

		code := r.PostForm.Get("code")
		if r.PostForm.Get("grant_type") != "authorization_code" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
			return
		}
		if _, ok := mockUsers[code]; !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token":  "access_" + code,
			"refresh_token": "provider_refresh_" + code,
			"expires_in":    3600,
			"token_type":    "bearer",
		})
	}
}

func (m *MockOAuthServer) userFromRequest(r *http.Request) (mockUser, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return mockUser{}, false
	}
	user, ok := mockUsers[strings.TrimPrefix(token, "access_")]
	return user, ok
}

func (m *MockOAuthServer) handleKakaoUserInfo(w http.ResponseWriter, r *http.Request) {
	user, ok := m.userFromRequest(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"code": -401, "msg": "this access token does not exist"})
		return
	}

	// kakao ids are numeric
	writeJSON(w, http.StatusOK, json.RawMessage(`{
		"id": `+user.ID+`,
		"kakao_account": {
			"email": "`+user.Email+`",
			"profile": {"nickname": "`+user.Nickname+`", "profile_image_url": "`+user.Picture+`"}
		}
	}`))
}

func (m *MockOAuthServer) handleNaverUserInfo(w http.ResponseWriter, r *http.Request) {
	user, ok := m.userFromRequest(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"resultcode": "024", "message": "Authentication failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"resultcode": "00",
		"message":    "success",
		"response": map[string]string{
			"id":            "naver-" + user.ID,
			"email":         user.Email,
			"nickname":      user.Nickname,
			"profile_image": user.Picture,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
