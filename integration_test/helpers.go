package integration_test

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"

	_ "modernc.org/sqlite"
)

type UserResponse struct {
	ID          string `json:"id"`
	ShareID     string `json:"share_id"`
	Provider    string `json:"provider"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	Color       string `json:"color"`
	State       string `json:"state"`
}

type LoginResponse struct {
	IsExistingActiveUser bool         `json:"is_existing_active_user"`
	User                 UserResponse `json:"user"`
	TempToken            string       `json:"temp_token"`
	AccessToken          string       `json:"access_token"`
	RefreshToken         string       `json:"refresh_token"`
}

type RefreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// login starts at GET /auth/{provider}; the client follows the consent
// redirect back into the callback
func login(client *http.Client, baseURL, provider string) (*http.Response, error) {
	return client.Get(baseURL + "/auth/" + provider)
}

func completeRegistration(client *http.Client, baseURL, tempToken, name, color string) (*http.Response, error) {
	body, _ := json.Marshal(map[string]string{"name": name, "color": color})

	req, _ := http.NewRequest(http.MethodPost, baseURL+"/auth/users", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if tempToken != "" {
		req.Header.Set("Authorization", "Bearer "+tempToken)
	}
	return client.Do(req)
}

func getMe(client *http.Client, baseURL, accessToken string) (*http.Response, error) {
	req, _ := http.NewRequest(http.MethodGet, baseURL+"/auth/me", nil)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return client.Do(req)
}

func refreshToken(client *http.Client, baseURL, refreshToken string) (*http.Response, error) {
	var body []byte
	if refreshToken != "" {
		body, _ = json.Marshal(map[string]string{"refresh_token": refreshToken})
	}
	return client.Post(baseURL+"/auth/refresh", "application/json", bytes.NewReader(body))
}

func logout(client *http.Client, baseURL, refreshToken string) (*http.Response, error) {
	var body []byte
	if refreshToken != "" {
		body, _ = json.Marshal(map[string]string{"refresh_token": refreshToken})
	}
	return client.Post(baseURL+"/auth/logout", "application/json", bytes.NewReader(body))
}

func logoutAll(client *http.Client, baseURL, accessToken string) (*http.Response, error) {
	req, _ := http.NewRequest(http.MethodPost, baseURL+"/auth/logout-all", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return client.Do(req)
}

func getSharedProfile(client *http.Client, baseURL, shareID string) (*http.Response, error) {
	return client.Get(baseURL + "/users/" + shareID)
}

func countRows(dbPath, table string) (int, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count)
	return count, err
}

func countSessions(dbPath string) (int, error) {
	return countRows(dbPath, "refresh_tokens")
}

func countIdentities(dbPath string) (int, error) {
	return countRows(dbPath, "identities")
}

func storedEmail(dbPath, userID string) (string, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return "", err
	}
	defer db.Close()

	var email string
	err = db.QueryRow("SELECT email FROM identities WHERE id = ?", userID).Scan(&email)
	return email, err
}

func cleanDatabase(dbPath string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, table := range []string{"refresh_tokens", "login_states", "identities"} {
		if _, err := db.Exec("DELETE FROM " + table); err != nil {
			return err
		}
	}
	return nil
}

func decode[T any](resp *http.Response) (*T, error) {
	defer resp.Body.Close()

	var result T
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
