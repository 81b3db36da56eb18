// Package gen3 talks to the data-commons submission system: API-key token
// exchange and per-node-type export of the raw graph records.
package gen3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// expirySlack is how long before token expiry a new access token is
// requested.
const expirySlack = 60 * time.Second

// Credentials is the downloaded API-key file.
type Credentials struct {
	APIKey string `json:"api_key"`
	KeyID  string `json:"key_id"`
}

// Auth exchanges a long-lived API key for short-lived access tokens and
// caches the current token until shortly before it expires.
type Auth struct {
	baseURL string
	creds   Credentials
	client  *http.Client
	log     zerolog.Logger
	now     func() time.Time

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// NewAuth builds an Auth from already-loaded credentials.
func NewAuth(baseURL string, creds Credentials, log zerolog.Logger) *Auth {
	return &Auth{
		baseURL: baseURL,
		creds:   creds,
		client:  &http.Client{Timeout: 60 * time.Second},
		log:     log,
		now:     time.Now,
	}
}

// NewAuthFromFile builds an Auth from a credentials JSON file.
func NewAuthFromFile(baseURL, path string, log zerolog.Logger) (*Auth, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parsing credentials file: %w", err)
	}
	if creds.APIKey == "" {
		return nil, fmt.Errorf("credentials file %s has no api_key", path)
	}
	return NewAuth(baseURL, creds, log), nil
}

// AccessToken returns a valid access token, requesting a fresh one when the
// cached token is absent or near expiry.
func (a *Auth) AccessToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.accessToken != "" && a.now().Add(expirySlack).Before(a.expiresAt) {
		return a.accessToken, nil
	}

	body, err := json.Marshal(map[string]string{"api_key": a.creds.APIKey})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/user/credentials/cdis/access_token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting access token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("requesting access token: unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decoding access token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("access token response carried no token")
	}

	a.accessToken = payload.AccessToken
	a.expiresAt = tokenExpiry(payload.AccessToken, a.now())
	a.log.Debug().Time("expires_at", a.expiresAt).Msg("refreshed access token")
	return a.accessToken, nil
}

// tokenExpiry reads the exp claim without verifying the signature; the
// token is only inspected to schedule renewal, never trusted locally.
func tokenExpiry(token string, now time.Time) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return now
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return now
	}
	return exp.Time
}
