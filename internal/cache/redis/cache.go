// Package redis caches pipeline reports in Redis, keyed by start URL and
// profile.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/market-research-crawler/internal/hash/sha256"
	"github.com/JakeFAU/market-research-crawler/internal/pipeline"
)

const defaultPrefix = "marketscout:report:"

// Config controls the cache connection and expiry.
type Config struct {
	Addr      string
	Password  string
	DB        int
	TTL       time.Duration
	KeyPrefix string
}

type client interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
}

// Cache implements pipeline.Cache.
type Cache struct {
	client client
	ttl    time.Duration
	prefix string
	hasher *sha256.Hasher
}

// entry carries run metadata that the report's wire form omits.
type entry struct {
	RunID    string          `json:"runId"`
	Profile  string          `json:"profile"`
	Provider string          `json:"provider"`
	Model    string          `json:"model"`
	Report   json.RawMessage `json:"report"`
}

// Dial connects to Redis and verifies the connection with PING.
func Dial(ctx context.Context, cfg Config) (*Cache, *goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return New(rdb, cfg), rdb, nil
}

// New wraps an existing client.
func New(c client, cfg Config) *Cache {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &Cache{client: c, ttl: ttl, prefix: prefix, hasher: sha256.New()}
}

func (c *Cache) key(startURL, profile string) string {
	return c.prefix + c.hasher.Key(startURL, profile)
}

// Get returns the cached report, if any.
func (c *Cache) Get(ctx context.Context, startURL, profile string) (*pipeline.Report, bool, error) {
	raw, err := c.client.Get(ctx, c.key(startURL, profile)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("decode cache entry: %w", err)
	}
	var report pipeline.Report
	if err := json.Unmarshal(e.Report, &report); err != nil {
		return nil, false, fmt.Errorf("decode cached report: %w", err)
	}
	report.RunID = e.RunID
	report.Profile = e.Profile
	report.Provider = e.Provider
	report.Model = e.Model
	return &report, true, nil
}

// Set stores report under its start URL and profile for the configured TTL.
func (c *Cache) Set(ctx context.Context, startURL string, report *pipeline.Report) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	payload, err := json.Marshal(entry{
		RunID:    report.RunID,
		Profile:  report.Profile,
		Provider: report.Provider,
		Model:    report.Model,
		Report:   body,
	})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := c.client.Set(ctx, c.key(startURL, report.Profile), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
