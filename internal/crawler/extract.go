package crawler

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// noiseSelector lists elements stripped before any text is collected.
const noiseSelector = "script, style, noscript, nav, footer, header, iframe, svg, aside, .cookie-banner, #cookie"

// CategoryRule selects, filters, and caps one category of text fragments.
// MinLen and MaxLen are inclusive rune counts; MaxLen 0 means unbounded.
// A Limit of 0 disables the category.
type CategoryRule struct {
	Matcher Matcher `mapstructure:"matcher"`
	MinLen  int     `mapstructure:"min_len"`
	MaxLen  int     `mapstructure:"max_len"`
	Limit   int     `mapstructure:"limit"`
}

// ExtractionRules configures every category the Extractor collects.
type ExtractionRules struct {
	Headings   CategoryRule `mapstructure:"headings"`
	Paragraphs CategoryRule `mapstructure:"paragraphs"`
	Reviews    CategoryRule `mapstructure:"reviews"`
	FAQs       CategoryRule `mapstructure:"faqs"`
	Products   CategoryRule `mapstructure:"products"`
}

// LightRules returns the extraction rules used by the quick three-page crawl.
func LightRules() ExtractionRules {
	return ExtractionRules{
		Headings: CategoryRule{Matcher: Matcher{Tags: []string{"h1", "h2", "h3"}}, MinLen: 4, Limit: 20},
		Paragraphs: CategoryRule{
			Matcher: Matcher{Tags: []string{"p", "li", "blockquote"}},
			MinLen:  30,
			Limit:   15,
		},
		Reviews: CategoryRule{
			Matcher: Matcher{ClassPatterns: []string{"review", "testimonial"}, ItemProps: []string{"reviewBody"}},
			MinLen:  21,
			Limit:   8,
		},
		Products: CategoryRule{
			Matcher: Matcher{ClassPatterns: []string{"product", "plan", "price"}},
			MinLen:  11,
			MaxLen:  299,
			Limit:   15,
		},
	}
}

// DeepRules returns the extraction rules used by the ten-page breadth-first crawl.
func DeepRules() ExtractionRules {
	return ExtractionRules{
		Headings: CategoryRule{Matcher: Matcher{Tags: []string{"h1", "h2", "h3"}}, MinLen: 4, Limit: 20},
		Paragraphs: CategoryRule{
			Matcher: Matcher{Tags: []string{"p", "li", "blockquote", "td", "th"}},
			MinLen:  30,
			Limit:   40,
		},
		Reviews: CategoryRule{
			Matcher: Matcher{
				ClassPatterns: []string{"review", "testimonial", "comment", "feedback"},
				ItemProps:     []string{"reviewBody"},
			},
			MinLen: 21,
			Limit:  20,
		},
		FAQs: CategoryRule{
			Matcher: Matcher{Tags: []string{"details"}, ClassPatterns: []string{"faq", "accordion"}},
			MinLen:  21,
			Limit:   10,
		},
		Products: CategoryRule{
			Matcher: Matcher{ClassPatterns: []string{"product", "item", "price", "plan"}},
			MinLen:  11,
			MaxLen:  299,
			Limit:   20,
		},
	}
}

// Extractor turns raw HTML into a PageRecord. It holds no mutable state and is
// safe for concurrent use.
type Extractor struct {
	rules ExtractionRules
}

// NewExtractor builds an Extractor for rules.
func NewExtractor(rules ExtractionRules) *Extractor {
	return &Extractor{rules: rules}
}

// Extract parses html and collects the configured categories. Unparseable
// input yields a record with empty fields, never an error.
func (e *Extractor) Extract(html string, pageURL string) PageRecord {
	record := PageRecord{
		URL:        pageURL,
		Headings:   []string{},
		Paragraphs: []string{},
		Reviews:    []string{},
		FAQs:       []string{},
		Products:   []string{},
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return record
	}
	doc.Find(noiseSelector).Remove()

	record.Title = normalizeSpace(doc.Find("title").First().Text())
	if content, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		record.MetaDescription = normalizeSpace(content)
	}

	all := doc.Find("*")
	record.Headings = collect(all, e.rules.Headings)
	record.Paragraphs = collect(all, e.rules.Paragraphs)
	record.Reviews = collect(all, e.rules.Reviews)
	record.FAQs = collect(all, e.rules.FAQs)
	record.Products = collect(all, e.rules.Products)
	return record
}

// collect walks candidates in document order and keeps the normalized text of
// matching elements whose length falls inside the rule's band.
func collect(candidates *goquery.Selection, rule CategoryRule) []string {
	out := []string{}
	if rule.Limit <= 0 || rule.Matcher.Empty() {
		return out
	}
	candidates.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !rule.Matcher.Match(s) {
			return true
		}
		text := normalizeSpace(s.Text())
		n := utf8.RuneCountInString(text)
		if n == 0 || n < rule.MinLen || (rule.MaxLen > 0 && n > rule.MaxLen) {
			return true
		}
		out = append(out, text)
		return len(out) < rule.Limit
	})
	return out
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
