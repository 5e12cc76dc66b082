package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/market-research-crawler/internal/pipeline"
)

type fakeClient struct {
	mu      sync.Mutex
	values  map[string][]byte
	ttls    map[string]time.Duration
	failErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{values: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (f *fakeClient) Get(_ context.Context, key string) *goredis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return goredis.NewStringResult("", f.failErr)
	}
	v, ok := f.values[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(string(v), nil)
}

func (f *fakeClient) Set(_ context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return goredis.NewStatusResult("", f.failErr)
	}
	f.values[key] = value.([]byte)
	f.ttls[key] = expiration
	return goredis.NewStatusResult("OK", nil)
}

func TestCacheRoundTrip(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	cache := New(client, Config{TTL: time.Hour})

	report := &pipeline.Report{
		RunID:         "run-1",
		Domain:        "x.com",
		Profile:       "light",
		PagesAnalyzed: 2,
		ScrapedAt:     time.Date(2024, 3, 4, 5, 6, 7, 8*int(time.Millisecond), time.UTC),
		Provider:      "gemini",
		Model:         "gemini-1.5-flash",
		Fields:        map[string]any{"summary": "bakery"},
	}
	require.NoError(t, cache.Set(context.Background(), "https://x.com", report))

	got, ok, err := cache.Get(context.Background(), "https://x.com", "light")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, report.RunID, got.RunID)
	assert.Equal(t, report.Profile, got.Profile)
	assert.Equal(t, report.Provider, got.Provider)
	assert.Equal(t, report.Model, got.Model)
	assert.Equal(t, report.Domain, got.Domain)
	assert.Equal(t, report.PagesAnalyzed, got.PagesAnalyzed)
	assert.Equal(t, report.ScrapedAt, got.ScrapedAt)
	assert.Equal(t, map[string]any{"summary": "bakery"}, got.Fields)

	for key, ttl := range client.ttls {
		assert.Contains(t, key, defaultPrefix)
		assert.Equal(t, time.Hour, ttl)
	}
}

func TestCacheMissAndProfileIsolation(t *testing.T) {
	t.Parallel()

	cache := New(newFakeClient(), Config{})
	require.NoError(t, cache.Set(context.Background(), "https://x.com", &pipeline.Report{Profile: "light"}))

	_, ok, err := cache.Get(context.Background(), "https://x.com", "deep")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = cache.Get(context.Background(), "https://y.com", "light")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheSurfacesClientErrors(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	client.failErr = errors.New("connection refused")
	cache := New(client, Config{})

	_, _, err := cache.Get(context.Background(), "https://x.com", "light")
	require.Error(t, err)
	err = cache.Set(context.Background(), "https://x.com", &pipeline.Report{Profile: "light"})
	require.Error(t, err)
}

func TestCacheRejectsCorruptEntries(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	cache := New(client, Config{KeyPrefix: "t:"})
	client.values[cache.key("https://x.com", "light")] = []byte("not json")

	_, ok, err := cache.Get(context.Background(), "https://x.com", "light")
	require.Error(t, err)
	assert.False(t, ok)
}
