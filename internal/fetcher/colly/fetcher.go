// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gocolly/colly/v2"
	"golang.org/x/net/html/charset"

	"github.com/JakeFAU/market-research-crawler/internal/crawler"
)

var (
	// ErrNotText is returned when a response body is not HTML or another textual type.
	ErrNotText = errors.New("response is not textual")
	// ErrTooManyRedirects is returned when a fetch exceeds the redirect cap.
	ErrTooManyRedirects = errors.New("too many redirects")
	// ErrBlockedHost is returned when a request or redirect targets a blocked host.
	ErrBlockedHost = errors.New("blocked host")
)

// DefaultUserAgents is the browser identity pool rotated across requests.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 Chrome/119.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 Chrome/118.0 Safari/537.36",
}

const (
	acceptHeader         = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptLanguageHeader = "en-US,en;q=0.5"
	acceptEncodingHeader = "gzip, deflate"
)

// Config controls collector behavior.
type Config struct {
	UserAgents   []string
	Timeout      time.Duration
	MaxRedirects int
	MaxBodyBytes int
	// Blocklist is consulted for the first request and every redirect hop.
	Blocklist *crawler.Blocklist
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	pickAgent     func() string
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = DefaultUserAgents
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRedirects < 0 {
		cfg.MaxRedirects = 0
	}

	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}
	c.WithTransport(newHTTPTransport())
	// Clones share the HTTP client, so client-level settings are applied once here.
	c.SetRequestTimeout(cfg.Timeout)
	c.SetRedirectHandler(redirectLimiter(cfg.MaxRedirects, cfg.Blocklist))

	agents := append([]string(nil), cfg.UserAgents...)
	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		pickAgent: func() string {
			return agents[rand.IntN(len(agents))]
		},
	}
}

// Fetch executes a single HTTP GET using Colly.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	var (
		result   crawler.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return crawler.FetchResponse{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.UserAgent = f.pickAgent()

	f.configureCollectorHooks(collector, request, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		if r.URL != nil && f.cfg.Blocklist.IsBlocked(r.URL.Hostname()) {
			*fetchErr = fmt.Errorf("%w: %s", ErrBlockedHost, r.URL.Hostname())
			r.Abort()
			return
		}
		setBrowserHeaders(r.Headers)
		copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		if r.StatusCode >= http.StatusBadRequest {
			*fetchErr = fmt.Errorf("status %d", r.StatusCode)
			return
		}
		contentType := r.Headers.Get("Content-Type")
		if !isTextual(contentType) {
			*fetchErr = fmt.Errorf("%w: %q", ErrNotText, contentType)
			return
		}
		body, err := decodeBody(r.Body, contentType, r.Headers.Get("Content-Encoding"))
		if err != nil {
			*fetchErr = err
			return
		}
		*result = crawler.FetchResponse{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: contentType,
			Headers:     r.Headers.Clone(),
			Body:        body,
			Duration:    time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func setBrowserHeaders(h *http.Header) {
	h.Set("Accept", acceptHeader)
	h.Set("Accept-Language", acceptLanguageHeader)
	h.Set("Accept-Encoding", acceptEncodingHeader)
	h.Set("Connection", "keep-alive")
}

func copyHeaders(request crawler.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func redirectLimiter(maxRedirects int, blocklist *crawler.Blocklist) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) > maxRedirects {
			return fmt.Errorf("%w: more than %d", ErrTooManyRedirects, maxRedirects)
		}
		if host := req.URL.Hostname(); blocklist.IsBlocked(host) {
			return fmt.Errorf("%w: redirect to %s", ErrBlockedHost, host)
		}
		return nil
	}
}

// isTextual accepts text/* plus the XML-flavored HTML types. A missing
// Content-Type is treated as text.
func isTextual(contentType string) bool {
	if strings.TrimSpace(contentType) == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch {
	case strings.HasPrefix(mediaType, "text/"):
		return true
	case mediaType == "application/xhtml+xml", mediaType == "application/xml":
		return true
	default:
		return false
	}
}

// decodeBody inflates deflate-encoded bodies (colly only handles gzip) and
// converts bodies without a declared charset to UTF-8 by sniffing BOMs and
// <meta charset> tags. Colly already converts bodies whose Content-Type names
// a charset.
func decodeBody(body []byte, contentType, contentEncoding string) ([]byte, error) {
	if strings.Contains(strings.ToLower(contentEncoding), "deflate") {
		inflated, err := inflate(body)
		if err != nil {
			return nil, err
		}
		body = inflated
	}
	if strings.Contains(strings.ToLower(contentType), "charset=") {
		return append([]byte(nil), body...), nil
	}
	enc, name, certain := charset.DetermineEncoding(body, "text/html")
	if name == "utf-8" || (!certain && utf8.Valid(body)) {
		return append([]byte(nil), body...), nil
	}
	decoded, err := io.ReadAll(enc.NewDecoder().Reader(bytes.NewReader(body)))
	if err != nil {
		return nil, fmt.Errorf("decode %s body: %w", name, err)
	}
	return decoded, nil
}

// inflate accepts both zlib-wrapped and raw deflate streams; servers send either.
func inflate(body []byte) ([]byte, error) {
	if zr, err := zlib.NewReader(bytes.NewReader(body)); err == nil {
		defer zr.Close() //nolint:errcheck // reader over memory
		if out, err := io.ReadAll(zr); err == nil {
			return out, nil
		}
	}
	fr := flate.NewReader(bytes.NewReader(body))
	defer fr.Close() //nolint:errcheck // reader over memory
	out, err := io.ReadAll(fr)
	if err != nil {
		return nil, fmt.Errorf("inflate body: %w", err)
	}
	return out, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
