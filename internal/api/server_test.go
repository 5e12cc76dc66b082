package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/market-research-crawler/internal/analysis"
	"github.com/JakeFAU/market-research-crawler/internal/config"
	"github.com/JakeFAU/market-research-crawler/internal/pipeline"
	"github.com/JakeFAU/market-research-crawler/internal/policy/ratelimit"
)

type fakeRunner struct {
	mu     sync.Mutex
	calls  []pipeline.Request
	report *pipeline.Report
	err    error
	panic  bool
}

func (f *fakeRunner) Run(_ context.Context, req pipeline.Request) (*pipeline.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.panic {
		panic("boom")
	}
	return f.report, f.err
}

type fakeIDs struct{}

func (fakeIDs) NewRequestID() string { return "req-1" }

type fakeClock struct {
	now time.Time
}

func (f fakeClock) Now() time.Time { return f.now }

var testNow = time.Date(2024, 5, 6, 7, 8, 9, 123*int(time.Millisecond), time.UTC)

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 3001, RequestTimeout: 5 * time.Second},
	}
}

func newTestServer(runner Runner, cfg config.Config, opts ...Option) *Server {
	return NewServer(runner, fakeIDs{}, fakeClock{now: testNow}, cfg, zap.NewNop(), opts...)
}

func postScrape(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/scrape", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestScrapeReturnsMergedReport(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{report: &pipeline.Report{
		RunID:         "run-1",
		Domain:        "x.com",
		Profile:       "deep",
		PagesAnalyzed: 4,
		ScrapedAt:     testNow,
		Fields:        map[string]any{"summary": "A bakery", "domain": "model-says"},
	}}
	server := newTestServer(runner, testConfig())

	rec := postScrape(t, server.Handler(), `{"domain":" x.com ","profile":"deep"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decodeBody(t, rec)
	assert.Equal(t, "x.com", body["domain"])
	assert.Equal(t, "A bakery", body["summary"])
	assert.InDelta(t, 4, body["pagesAnalyzed"], 0)
	assert.Equal(t, "2024-05-06T07:08:09.123Z", body["scrapedAt"])
	require.Len(t, runner.calls, 1)
	assert.Equal(t, pipeline.Request{Domain: " x.com ", Profile: "deep"}, runner.calls[0])
}

func TestScrapeRejectsBadDomainBodies(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"invalid json": `{invalid`,
		"missing":      `{}`,
		"empty":        `{"domain":""}`,
		"number":       `{"domain":42}`,
		"null":         `{"domain":null}`,
		"array":        `{"domain":["x.com"]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			runner := &fakeRunner{}
			server := newTestServer(runner, testConfig())

			rec := postScrape(t, server.Handler(), body)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "Please provide a valid domain.", decodeBody(t, rec)["error"])
			assert.Empty(t, runner.calls)
		})
	}
}

func TestScrapeMapsPipelineErrors(t *testing.T) {
	t.Parallel()

	recovery := &analysis.RecoveryError{Excerpt: "I cannot help", Err: errors.New("no JSON object found")}
	exhausted := &analysis.ExhaustedError{Attempts: 5, Last: errors.New("quota")}

	cases := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"invalid domain", fmt.Errorf("%w: %w", pipeline.ErrInvalidDomain, errors.New("bad host")), http.StatusBadRequest, msgInvalidDomain},
		{"blocked", pipeline.ErrBlockedDomain, http.StatusBadRequest, msgInvalidDomain},
		{"unknown profile", pipeline.ErrUnknownProfile, http.StatusBadRequest, msgInvalidDomain},
		{"nothing found", pipeline.ErrNothingFound, http.StatusUnprocessableEntity, msgNothingFound},
		{"recovery", recovery, http.StatusInternalServerError, "failed to parse AI response as JSON: I cannot help"},
		{"exhausted", exhausted, http.StatusInternalServerError, "all 5 analysis providers failed"},
		{"no providers", analysis.ErrNoProviders, http.StatusInternalServerError, analysis.ErrNoProviders.Error()},
		{"deadline", fmt.Errorf("crawl canceled: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, msgTimeout},
		{"unexpected", errors.New("dial tcp 10.0.0.1: refused"), http.StatusInternalServerError, msgUnexpected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			server := newTestServer(&fakeRunner{err: tc.err}, testConfig())

			rec := postScrape(t, server.Handler(), `{"domain":"x.com"}`)

			require.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.msg, decodeBody(t, rec)["error"])
		})
	}
}

func TestScrapeRequiresPost(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeRunner{}, testConfig())
	req := httptest.NewRequest(http.MethodGet, "/api/scrape", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "Method not allowed", decodeBody(t, rec)["error"])
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeRunner{}, testConfig())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "2024-05-06T07:08:09.123Z", body["timestamp"])

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReportsFailingCheck(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeRunner{}, testConfig(), WithReadinessCheck(func(context.Context) error {
		return errors.New("redis down")
	}))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "redis")
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeRunner{}, testConfig())
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# HELP")
}

func TestAPIKeyGuardsScrapeOnly(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	runner := &fakeRunner{report: &pipeline.Report{Domain: "x.com", ScrapedAt: testNow}}
	server := newTestServer(runner, cfg)

	rec := postScrape(t, server.Handler(), `{"domain":"x.com"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/scrape", bytes.NewBufferString(`{"domain":"x.com"}`))
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/scrape?api_key=secret", bytes.NewBufferString(`{"domain":"x.com"}`))
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRateLimitPerClient(t *testing.T) {
	t.Parallel()

	limiter := ratelimit.New(ratelimit.Config{RPS: 0.001, Burst: 1})
	runner := &fakeRunner{report: &pipeline.Report{Domain: "x.com", ScrapedAt: testNow}}
	server := newTestServer(runner, testConfig(), WithLimiter(limiter))

	send := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/scrape", bytes.NewBufferString(`{"domain":"x.com"}`))
		req.RemoteAddr = ip + ":4000"
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1"))
	assert.Equal(t, http.StatusOK, send("10.0.0.2"))
	assert.Len(t, runner.calls, 2)
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", clientIP(req, nil))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "192.0.2.1", clientIP(req, nil))

	proxies := []netip.Prefix{netip.MustParsePrefix("192.0.2.0/24"), netip.MustParsePrefix("10.0.0.0/8")}
	assert.Equal(t, "203.0.113.9", clientIP(req, proxies))

	req.Header.Set("X-Forwarded-For", "198.51.100.4, 203.0.113.9")
	assert.Equal(t, "203.0.113.9", clientIP(req, proxies))

	req.Header.Del("X-Forwarded-For")
	assert.Equal(t, "192.0.2.1", clientIP(req, proxies))
}

func TestRateLimitIgnoresForwardedForFromUntrustedPeers(t *testing.T) {
	t.Parallel()

	limiter := ratelimit.New(ratelimit.Config{RPS: 0.001, Burst: 1})
	runner := &fakeRunner{report: &pipeline.Report{Domain: "x.com", ScrapedAt: testNow}}
	server := newTestServer(runner, testConfig(), WithLimiter(limiter))

	send := func(forwarded string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/scrape", bytes.NewBufferString(`{"domain":"x.com"}`))
		req.RemoteAddr = "198.51.100.7:4000"
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.2"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.3"))
	assert.Len(t, runner.calls, 1)
}

func TestRateLimitTrustsConfiguredProxy(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.TrustedProxies = []string{"10.0.0.0/8"}
	limiter := ratelimit.New(ratelimit.Config{RPS: 0.001, Burst: 1})
	runner := &fakeRunner{report: &pipeline.Report{Domain: "x.com", ScrapedAt: testNow}}
	server := newTestServer(runner, cfg, WithLimiter(limiter))

	send := func(forwarded string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/scrape", bytes.NewBufferString(`{"domain":"x.com"}`))
		req.RemoteAddr = "10.1.2.3:4000"
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.1"))
	assert.Equal(t, http.StatusOK, send("203.0.113.2"))
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.CORSOrigins = []string{"https://app.example"}
	server := newTestServer(&fakeRunner{}, cfg)

	req := httptest.NewRequest(http.MethodOptions, "/api/scrape", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type, X-API-Key")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Headers"))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSAllowsAnyOriginByDefault(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeRunner{}, testConfig())
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

type blockingRunner struct{}

func (blockingRunner) Run(ctx context.Context, _ pipeline.Request) (*pipeline.Report, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("crawl canceled: %w", ctx.Err())
}

func TestScrapeTimeoutIsJSONGatewayTimeout(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.RequestTimeout = 20 * time.Millisecond
	server := newTestServer(blockingRunner{}, cfg)

	rec := postScrape(t, server.Handler(), `{"domain":"x.com"}`)
	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, msgTimeout, decodeBody(t, rec)["error"])
}

func TestRequestIDAndPanicRecovery(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeRunner{panic: true}, testConfig())

	rec := postScrape(t, server.Handler(), `{"domain":"x.com"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, msgUnexpected, decodeBody(t, rec)["error"])

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-id")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "caller-id", rec.Header().Get("X-Request-ID"))
}
