// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/market-research-crawler/internal/crawler"
)

// EnvPrefix namespaces environment overrides, e.g. MARKETSCOUT_SERVER_PORT.
const EnvPrefix = "MARKETSCOUT"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	// TrustedProxies lists proxy addresses or CIDRs whose X-Forwarded-For
	// header is believed. Empty means the peer address is always the client.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// TrustedProxyPrefixes parses TrustedProxies. Bare addresses become
// single-host prefixes.
func (c ServerConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			prefix, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("server.trusted_proxies: %w", err)
			}
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("server.trusted_proxies: %w", err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// RateLimitConfig bounds how often one client may start an analysis.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// CrawlerConfig governs fetching and the named crawl profiles.
type CrawlerConfig struct {
	DefaultProfile string                   `mapstructure:"default_profile"`
	UserAgents     []string                 `mapstructure:"user_agents"`
	MaxBodyBytes   int                      `mapstructure:"max_body_bytes"`
	BlockedDomains []string                 `mapstructure:"blocked_domains"`
	Profiles       map[string]ProfileConfig `mapstructure:"profiles"`
}

// ProfileConfig describes one crawl profile. Rules names an extraction
// preset: "light" or "deep".
type ProfileConfig struct {
	PageBudget       int           `mapstructure:"page_budget"`
	QueueFactor      int           `mapstructure:"queue_factor"`
	Strategy         string        `mapstructure:"strategy"`
	FanoutCandidates int           `mapstructure:"fanout_candidates"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxRedirects     int           `mapstructure:"max_redirects"`
	PriorityPaths    []string      `mapstructure:"priority_paths"`
	Rules            string        `mapstructure:"rules"`
}

// ProvidersConfig orders the language model providers.
type ProvidersConfig struct {
	Primary   ProviderConfig `mapstructure:"primary"`
	Secondary ProviderConfig `mapstructure:"secondary"`
}

// Provider kinds.
const (
	ProviderGemini = "gemini"
	ProviderChat   = "chat"
)

// ProviderConfig configures one provider. A provider without an API key is
// skipped.
type ProviderConfig struct {
	Kind        string        `mapstructure:"kind"`
	Name        string        `mapstructure:"name"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Models      []string      `mapstructure:"models"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
}

// CacheConfig controls the Redis report cache.
type CacheConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	TTL       time.Duration `mapstructure:"ttl"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

// Archive kinds.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// ArchiveConfig selects where serialized reports are archived.
type ArchiveConfig struct {
	Kind      string `mapstructure:"kind"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// DBConfig controls the Postgres run index. An empty DSN disables it.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	MaxConns     int32  `mapstructure:"max_conns"`
	EnsureSchema bool   `mapstructure:"ensure_schema"`
}

// Publisher kinds.
const (
	PublisherNone   = "none"
	PublisherMemory = "memory"
	PublisherGCP    = "gcp"
)

// PubSubConfig controls run completion events.
type PubSubConfig struct {
	Kind      string `mapstructure:"kind"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// TracingConfig controls OpenTelemetry spans around pipeline runs.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// DotEnvFiles are loaded by LoadDotEnv in order; earlier files win.
var DotEnvFiles = []string{".env.development", ".env"}

// LoadDotEnv exports variables from the given files, or DotEnvFiles when none
// are given. Missing files are ignored and existing variables are kept.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = DotEnvFiles
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load builds a Config from defaults, an optional file, and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindCompatEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// bindCompatEnv accepts the unprefixed variable names used by existing
// deployments alongside the prefixed ones.
func bindCompatEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"providers.primary.api_key":   "GEMINI_API_KEY",
		"providers.secondary.api_key": "GROQ_API_KEY",
		"server.port":                 "PORT",
	}
	for key, legacy := range bindings {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.request_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.rps", 2.0)
	v.SetDefault("rate_limit.burst", 5)

	v.SetDefault("crawler.default_profile", "light")
	v.SetDefault("crawler.user_agents", []string{})
	v.SetDefault("crawler.max_body_bytes", 5<<20)
	v.SetDefault("crawler.blocked_domains", []string{
		"localhost",
		"*.localhost",
		"*.internal",
		"*.local",
		"127.0.0.1",
		"0.0.0.0",
		"::1",
		"169.254.169.254",
		"metadata.google.internal",
	})

	v.SetDefault("crawler.profiles.light.page_budget", 3)
	v.SetDefault("crawler.profiles.light.queue_factor", 3)
	v.SetDefault("crawler.profiles.light.strategy", string(crawler.StrategyFanout))
	v.SetDefault("crawler.profiles.light.fanout_candidates", 6)
	v.SetDefault("crawler.profiles.light.timeout", 5*time.Second)
	v.SetDefault("crawler.profiles.light.max_redirects", 3)
	v.SetDefault("crawler.profiles.light.priority_paths",
		[]string{"/about", "/products", "/services", "/reviews", "/pricing"})
	v.SetDefault("crawler.profiles.light.rules", "light")

	v.SetDefault("crawler.profiles.deep.page_budget", 10)
	v.SetDefault("crawler.profiles.deep.queue_factor", 3)
	v.SetDefault("crawler.profiles.deep.strategy", string(crawler.StrategyBFS))
	v.SetDefault("crawler.profiles.deep.fanout_candidates", 0)
	v.SetDefault("crawler.profiles.deep.timeout", 10*time.Second)
	v.SetDefault("crawler.profiles.deep.max_redirects", 5)
	v.SetDefault("crawler.profiles.deep.priority_paths", []string{
		"/about", "/about-us", "/products", "/services", "/reviews",
		"/testimonials", "/faq", "/blog", "/pricing", "/contact",
	})
	v.SetDefault("crawler.profiles.deep.rules", "deep")

	v.SetDefault("providers.primary.kind", ProviderGemini)
	v.SetDefault("providers.primary.name", "gemini")
	v.SetDefault("providers.primary.api_key", "")
	v.SetDefault("providers.primary.models", []string{
		"gemini-1.5-flash",
		"gemini-1.5-flash-8b",
		"gemini-2.0-flash-lite",
		"gemini-2.0-flash",
	})
	v.SetDefault("providers.primary.timeout", 30*time.Second)
	v.SetDefault("providers.secondary.kind", ProviderChat)
	v.SetDefault("providers.secondary.name", "groq")
	v.SetDefault("providers.secondary.api_key", "")
	v.SetDefault("providers.secondary.models", []string{"llama-3.3-70b-versatile"})
	v.SetDefault("providers.secondary.timeout", 10*time.Second)
	v.SetDefault("providers.secondary.temperature", 0.2)
	v.SetDefault("providers.secondary.max_tokens", 4096)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.ttl", 6*time.Hour)
	v.SetDefault("cache.key_prefix", "marketscout:report:")

	v.SetDefault("archive.kind", ArchiveNone)
	v.SetDefault("archive.prefix", "reports")
	v.SetDefault("archive.local_dir", "./data/reports")

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "analysis_runs")
	v.SetDefault("db.ensure_schema", false)

	v.SetDefault("pubsub.kind", PublisherNone)
	v.SetDefault("pubsub.topic_name", "analysis-runs")

	v.SetDefault("tracing.enabled", true)
	v.SetDefault("tracing.service_name", "marketscout")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be > 0")
	}
	if _, err := c.Server.TrustedProxyPrefixes(); err != nil {
		return err
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate_limit.rps and rate_limit.burst must be > 0 when rate limiting is enabled")
	}
	if err := c.Crawler.validate(); err != nil {
		return err
	}
	for _, p := range []struct {
		key string
		cfg ProviderConfig
	}{{"providers.primary", c.Providers.Primary}, {"providers.secondary", c.Providers.Secondary}} {
		if p.cfg.Kind != ProviderGemini && p.cfg.Kind != ProviderChat {
			return fmt.Errorf("%s.kind must be %q or %q", p.key, ProviderGemini, ProviderChat)
		}
		if p.cfg.APIKey != "" && len(p.cfg.Models) == 0 {
			return fmt.Errorf("%s.models must not be empty", p.key)
		}
	}
	if c.Cache.Enabled && c.Cache.Addr == "" {
		return fmt.Errorf("cache.addr must be set when the cache is enabled")
	}
	switch c.Archive.Kind {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir must be set for the local archive")
		}
	case ArchiveGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set for the gcs archive")
		}
	default:
		return fmt.Errorf("archive.kind %q is not one of none, memory, local, gcs", c.Archive.Kind)
	}
	switch c.PubSub.Kind {
	case PublisherNone:
	case PublisherMemory, PublisherGCP:
		if c.PubSub.TopicName == "" {
			return fmt.Errorf("pubsub.topic_name must be set when publishing is enabled")
		}
		if c.PubSub.Kind == PublisherGCP && c.PubSub.ProjectID == "" {
			return fmt.Errorf("pubsub.project_id must be set for gcp publishing")
		}
	default:
		return fmt.Errorf("pubsub.kind %q is not one of none, memory, gcp", c.PubSub.Kind)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	return nil
}

func (c CrawlerConfig) validate() error {
	if len(c.Profiles) == 0 {
		return fmt.Errorf("crawler.profiles must define at least one profile")
	}
	if _, ok := c.Profiles[c.DefaultProfile]; !ok {
		return fmt.Errorf("crawler.default_profile %q is not a configured profile", c.DefaultProfile)
	}
	for _, name := range c.ProfileNames() {
		p := c.Profiles[name]
		key := "crawler.profiles." + name
		if p.PageBudget <= 0 {
			return fmt.Errorf("%s.page_budget must be > 0", key)
		}
		if p.Timeout <= 0 {
			return fmt.Errorf("%s.timeout must be > 0", key)
		}
		if p.MaxRedirects < 0 {
			return fmt.Errorf("%s.max_redirects must be >= 0", key)
		}
		if !slices.Contains([]string{string(crawler.StrategyBFS), string(crawler.StrategyFanout)}, p.Strategy) {
			return fmt.Errorf("%s.strategy %q is not one of bfs, fanout", key, p.Strategy)
		}
		if _, err := rulePreset(p.Rules); err != nil {
			return fmt.Errorf("%s.rules: %w", key, err)
		}
	}
	return nil
}

// ProfileNames returns the configured profile names in sorted order.
func (c CrawlerConfig) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CrawlProfile converts p into the crawler's profile type.
func (p ProfileConfig) CrawlProfile(name string) (crawler.Profile, error) {
	rules, err := rulePreset(p.Rules)
	if err != nil {
		return crawler.Profile{}, err
	}
	return crawler.Profile{
		Name:             name,
		PageBudget:       p.PageBudget,
		QueueFactor:      p.QueueFactor,
		Strategy:         crawler.Strategy(p.Strategy),
		FanoutCandidates: p.FanoutCandidates,
		PriorityPaths:    append([]string(nil), p.PriorityPaths...),
		Rules:            rules,
	}, nil
}

func rulePreset(name string) (crawler.ExtractionRules, error) {
	switch name {
	case "light":
		return crawler.LightRules(), nil
	case "deep":
		return crawler.DeepRules(), nil
	default:
		return crawler.ExtractionRules{}, fmt.Errorf("unknown extraction preset %q", name)
	}
}
