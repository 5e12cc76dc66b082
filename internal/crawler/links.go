package crawler

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var assetExtension = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|gif|svg|pdf|zip|mp4|mp3|css|js|ico|woff|woff2|ttf|eot)$`)

// ExtractLinks returns the crawlable same-origin links in html, deduplicated in
// first-seen order. A link is kept only when its resolved form shares the
// host of baseURL and starts with baseURL, carries no fragment or query, and
// does not point at a static asset. Malformed hrefs are skipped.
func ExtractLinks(html string, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	baseHost := strings.ToLower(base.Host)

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		abs := resolved.String()
		if strings.ToLower(resolved.Host) != baseHost || !strings.HasPrefix(abs, baseURL) {
			return
		}
		if strings.ContainsAny(abs, "#?") || assetExtension.MatchString(abs) {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})
	return links
}
