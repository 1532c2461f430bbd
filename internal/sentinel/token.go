package sentinel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lankasat/sentinel-bridge/internal/cache"
	"github.com/lankasat/sentinel-bridge/internal/config"
)

// tokenCacheKey is the single key the token store holds per credential set.
const tokenCacheKey = "sentinel/access-token"

// AuthenticationError reports a failed credential exchange with the
// provider. Unlike imagery failures it propagates to the caller: a broken
// credential set cannot be served around.
type AuthenticationError struct {
	StatusCode int
	Err        error
}

func (e AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sentinel hub authentication failed: %v", e.Err)
	}
	return fmt.Sprintf("sentinel hub authentication failed: status %d", e.StatusCode)
}

func (e AuthenticationError) Unwrap() error {
	return e.Err
}

func (e AuthenticationError) Status() (int, string) {
	return http.StatusBadGateway, "imagery provider authentication failed"
}

// TokenSource exchanges OAuth client credentials for Process API bearer
// tokens, caching them so a token is fetched once per expiry window rather
// than once per tile.
type TokenSource struct {
	authURL      string
	clientID     string
	clientSecret string
	store        cache.Cache[string]
	client       *http.Client
}

// NewTokenSource creates a token source backed by the given store. The
// store's TTL must undercut the provider's token lifetime so a cached token
// is never served stale.
func NewTokenSource(cfg config.SentinelConfig, store cache.Cache[string]) *TokenSource {
	return &TokenSource{
		authURL:      cfg.AuthURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		store:        store,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// Token returns a bearer token for the Process API, from cache when a live
// one is held. Concurrent callers may race a refresh; each receives a valid
// token and the last write wins. Nothing is cached on failure, so the next
// caller retries.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	if token, ok := s.store.Get(ctx, tokenCacheKey); ok {
		return token, nil
	}

	token, err := s.refresh(ctx)
	if err != nil {
		return "", err
	}

	s.store.Set(ctx, tokenCacheKey, token)
	return token, nil
}

func (s *TokenSource) refresh(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", s.clientID)
	form.Set("client_secret", s.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", AuthenticationError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", AuthenticationError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", AuthenticationError{StatusCode: resp.StatusCode}
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", AuthenticationError{Err: fmt.Errorf("token response parsing failed: %w", err)}
	}
	if payload.AccessToken == "" {
		return "", AuthenticationError{Err: errors.New("token response missing access_token")}
	}

	log.Info().Msg("sentinel hub access token refreshed")

	return payload.AccessToken, nil
}
