package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrEmptyDomain is returned when a domain is blank after trimming.
var ErrEmptyDomain = errors.New("domain is empty")

// NormalizeDomain turns user input such as "example.com/" into a start URL.
// It trims whitespace, prepends https:// unless the input already starts with
// "http", and strips a single trailing slash.
func NormalizeDomain(domain string) (string, error) {
	d := strings.TrimSpace(domain)
	if d == "" {
		return "", ErrEmptyDomain
	}
	if !strings.HasPrefix(d, "http") {
		d = "https://" + d
	}
	d = strings.TrimSuffix(d, "/")
	u, err := url.Parse(d)
	if err != nil {
		return "", fmt.Errorf("parse domain: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("domain %q has no host", domain)
	}
	return d, nil
}

// Hostname returns the lowercase host of rawURL, or "" when it cannot be parsed.
func Hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports and the fragment,
// and sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}

// visitKey is the identity used by a crawl session: "https://x.com" and
// "https://x.com/" are the same page.
func visitKey(rawURL string) string {
	key, err := NormalizeURL(rawURL)
	if err != nil {
		key = rawURL
	}
	return strings.TrimSuffix(key, "/")
}
