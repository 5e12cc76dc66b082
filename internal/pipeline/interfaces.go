package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/JakeFAU/market-research-crawler/internal/analysis"
	"github.com/JakeFAU/market-research-crawler/internal/crawler"
)

// Crawler collects pages for a domain under one profile.
type Crawler interface {
	Crawl(ctx context.Context, domain string) []crawler.PageRecord
}

// Analyzer turns pages into a structured report.
type Analyzer interface {
	Analyze(ctx context.Context, pages []crawler.PageRecord, domain string) (analysis.Analysis, error)
}

// Cache stores recent reports keyed by start URL and profile.
type Cache interface {
	Get(ctx context.Context, startURL, profile string) (*Report, bool, error)
	Set(ctx context.Context, startURL string, report *Report) error
}

// BlobStore archives serialized reports.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// RunStore indexes completed runs.
type RunStore interface {
	RecordRun(ctx context.Context, run RunRecord) error
}

// Publisher announces completed runs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock supplies report timestamps.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
