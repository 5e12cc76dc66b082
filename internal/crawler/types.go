package crawler

import (
	"net/http"
	"time"
)

// PageRecord holds the text fragments extracted from one successfully fetched page.
// All strings are whitespace-normalized and every slice is non-nil.
type PageRecord struct {
	URL             string   `json:"url"`
	Title           string   `json:"title"`
	MetaDescription string   `json:"metaDescription"`
	Headings        []string `json:"headings"`
	Paragraphs      []string `json:"paragraphs"`
	Reviews         []string `json:"reviews"`
	FAQs            []string `json:"faqs"`
	Products        []string `json:"products"`
}

// FetchRequest describes a single page retrieval.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse captures the decoded body and metadata of a fetched page.
type FetchResponse struct {
	URL         string
	StatusCode  int
	ContentType string
	Headers     http.Header
	Body        []byte
	Duration    time.Duration
}

// Strategy selects how a crawl walks the site.
type Strategy string

const (
	// StrategyBFS walks the queue one page at a time, following discovered links.
	StrategyBFS Strategy = "bfs"
	// StrategyFanout fetches the seed URLs concurrently and never follows links.
	StrategyFanout Strategy = "fanout"
)

// Profile bundles the budget and extraction settings for one crawl flavor.
type Profile struct {
	Name             string
	PageBudget       int
	QueueFactor      int
	Strategy         Strategy
	FanoutCandidates int
	PriorityPaths    []string
	Rules            ExtractionRules
}
