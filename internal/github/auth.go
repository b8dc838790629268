package github

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenExpiryMargin is subtracted from a token's expiry so it is never
// used within the last minute of its lifetime.
const tokenExpiryMargin = time.Minute

// appJWTLifetime is the lifetime of the signed app JWT. GitHub rejects
// JWTs valid longer than 10 minutes.
const appJWTLifetime = 9 * time.Minute

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// AppTokenSource mints installation access tokens from a GitHub App's
// private key. Tokens are cached per installation until close to expiry;
// refresh is serialized per installation so concurrent callers never
// stampede the token endpoint.
type AppTokenSource struct {
	appID      string
	privateKey *rsa.PrivateKey
	baseURL    string
	httpClient *http.Client

	mu     sync.Mutex
	tokens map[int64]*cachedToken
	locks  map[int64]*sync.Mutex
}

// NewAppTokenSource parses the PEM-encoded RSA private key and returns a
// token source for the app.
func NewAppTokenSource(appID string, privateKeyPEM []byte) (*AppTokenSource, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse app private key: %w", err)
	}
	return &AppTokenSource{
		appID:      appID,
		privateKey: key,
		baseURL:    DefaultAPIEndpoint,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		tokens:     make(map[int64]*cachedToken),
		locks:      make(map[int64]*sync.Mutex),
	}, nil
}

// WithBaseURL overrides the API endpoint (testing, GitHub Enterprise).
func (s *AppTokenSource) WithBaseURL(baseURL string) *AppTokenSource {
	s.baseURL = baseURL
	return s
}

// WithHTTPClient overrides the HTTP client.
func (s *AppTokenSource) WithHTTPClient(httpClient *http.Client) *AppTokenSource {
	s.httpClient = httpClient
	return s
}

// Token returns a valid installation access token, fetching a new one if
// the cached token is absent or near expiry.
func (s *AppTokenSource) Token(ctx context.Context, installationID int64) (string, error) {
	lock := s.installationLock(installationID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	cached := s.tokens[installationID]
	s.mu.Unlock()
	if cached != nil && time.Until(cached.expiresAt) > tokenExpiryMargin {
		return cached.token, nil
	}

	token, expiresAt, err := s.fetchToken(ctx, installationID)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.tokens[installationID] = &cachedToken{token: token, expiresAt: expiresAt}
	s.mu.Unlock()
	return token, nil
}

// Invalidate drops the cached token for the installation.
func (s *AppTokenSource) Invalidate(installationID int64) {
	s.mu.Lock()
	delete(s.tokens, installationID)
	s.mu.Unlock()
}

func (s *AppTokenSource) installationLock(installationID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[installationID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[installationID] = lock
	}
	return lock
}

// signJWT creates the short-lived app JWT used to mint installation
// tokens. Issued-at is backdated 60s to tolerate clock drift.
func (s *AppTokenSource) signJWT(now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    s.appID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(appJWTLifetime)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign app JWT: %w", err)
	}
	return signed, nil
}

func (s *AppTokenSource) fetchToken(ctx context.Context, installationID int64) (string, time.Time, error) {
	signed, err := s.signJWT(time.Now())
	if err != nil {
		return "", time.Time{}, err
	}

	urlStr := s.baseURL + "/app/installations/" + strconv.FormatInt(installationID, 10) + "/access_tokens"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, urlStr, nil)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+signed)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated {
		return "", time.Time{}, &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			RetryHint:  parseRetryAfter(resp.Header),
		}
	}

	var payload struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to parse token response: %w", err)
	}
	return payload.Token, payload.ExpiresAt, nil
}
