package sentinel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lankasat/sentinel-bridge/internal/cache"
	"github.com/lankasat/sentinel-bridge/internal/config"
	"github.com/lankasat/sentinel-bridge/internal/testhelpers"
)

// fakeClock lets token expiry tests advance time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func sentinelConfig(mock *testhelpers.MockSentinelServer) config.SentinelConfig {
	return config.SentinelConfig{
		ClientID:       "test-client",
		ClientSecret:   "test-secret",
		AuthURL:        mock.AuthURL(),
		ProcessURL:     mock.ProcessURL(),
		TimeoutSeconds: 5,
	}
}

func TestToken_ExchangesAndCaches(t *testing.T) {
	testhelpers.SetupLogger(t)

	mock := testhelpers.SetupMockSentinelServer(t)
	defer mock.Close()

	store, err := cache.NewMemory[string](10, time.Hour)
	require.NoError(t, err)

	source := NewTokenSource(sentinelConfig(mock), store)

	token, err := source.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-sentinel-token", token)
	assert.Equal(t, 1, mock.AuthRequests)

	assert.Equal(t, "client_credentials", mock.LastAuthForm.Get("grant_type"))
	assert.Equal(t, "test-client", mock.LastAuthForm.Get("client_id"))
	assert.Equal(t, "test-secret", mock.LastAuthForm.Get("client_secret"))

	// a second call reuses the cached token
	token, err = source.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-sentinel-token", token)
	assert.Equal(t, 1, mock.AuthRequests)
}

func TestToken_RefreshesAfterExpiry(t *testing.T) {
	testhelpers.SetupLogger(t)

	mock := testhelpers.SetupMockSentinelServer(t)
	defer mock.Close()

	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	store, err := cache.NewMemory[string](10, 3500*time.Second, cache.WithClock(clock))
	require.NoError(t, err)

	source := NewTokenSource(sentinelConfig(mock), store)

	_, err = source.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, mock.AuthRequests)

	// still fresh just inside the expiry window
	clock.Advance(3499 * time.Second)
	_, err = source.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, mock.AuthRequests)

	clock.Advance(time.Second)
	_, err = source.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, mock.AuthRequests)
}

func TestToken_FailurePropagatesAndIsNotCached(t *testing.T) {
	testhelpers.SetupLogger(t)

	mock := testhelpers.SetupMockSentinelServer(t)
	defer mock.Close()
	mock.AuthStatusCode = 401

	store, err := cache.NewMemory[string](10, time.Hour)
	require.NoError(t, err)

	source := NewTokenSource(sentinelConfig(mock), store)

	_, err = source.Token(context.Background())
	require.Error(t, err)

	var authErr AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, 401, authErr.StatusCode)

	code, message := authErr.Status()
	assert.Equal(t, 502, code)
	assert.Equal(t, "imagery provider authentication failed", message)

	// nothing was cached, recovery reaches the provider again
	mock.AuthStatusCode = 200
	token, err := source.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-sentinel-token", token)
	assert.Equal(t, 2, mock.AuthRequests)
}

func TestToken_EmptyAccessTokenRejected(t *testing.T) {
	testhelpers.SetupLogger(t)

	mock := testhelpers.SetupMockSentinelServer(t)
	defer mock.Close()
	mock.Token = ""

	store, err := cache.NewMemory[string](10, time.Hour)
	require.NoError(t, err)

	source := NewTokenSource(sentinelConfig(mock), store)

	_, err = source.Token(context.Background())

	var authErr AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.ErrorContains(t, err, "missing access_token")
}
