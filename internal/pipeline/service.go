// Package pipeline runs one crawl-and-analyze request end to end: it resolves
// the profile, consults the report cache, crawls, analyzes, and hands the
// result to the optional sinks.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/market-research-crawler/internal/crawler"
	"github.com/JakeFAU/market-research-crawler/internal/metrics"
)

var (
	// ErrInvalidDomain is returned when the domain cannot be turned into a URL.
	ErrInvalidDomain = errors.New("invalid domain")
	// ErrBlockedDomain is returned when the domain's host is on the blocklist.
	ErrBlockedDomain = errors.New("domain is not allowed")
	// ErrUnknownProfile is returned when the requested profile is not configured.
	ErrUnknownProfile = errors.New("unknown crawl profile")
	// ErrNothingFound is returned when the crawl produced no pages.
	ErrNothingFound = errors.New("could not fetch any pages from this domain")
)

// Request is one analysis request.
type Request struct {
	Domain  string
	Profile string
}

// Config holds pipeline settings.
type Config struct {
	DefaultProfile string
	// ArchivePrefix is prepended to archived report object names.
	ArchivePrefix string
	// Topic is the completion event topic; events are skipped when empty.
	Topic     string
	Blocklist *crawler.Blocklist
}

// Deps are the collaborators of a Service. Cache, Archive, Runs and
// Publisher are optional.
type Deps struct {
	Crawlers  map[string]Crawler
	Analyzer  Analyzer
	Cache     Cache
	Archive   BlobStore
	Runs      RunStore
	Publisher Publisher
	Clock     Clock
	IDs       IDGenerator
	Logger    *zap.Logger
	// Tracer defaults to the global provider's tracer.
	Tracer trace.Tracer
}

// Service executes pipeline runs. It is safe for concurrent use.
type Service struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
}

// NewService validates deps and builds a Service.
func NewService(cfg Config, deps Deps) (*Service, error) {
	if len(deps.Crawlers) == 0 {
		return nil, errors.New("at least one crawl profile is required")
	}
	if deps.Analyzer == nil {
		return nil, errors.New("analyzer is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("clock is required")
	}
	if deps.IDs == nil {
		return nil, errors.New("id generator is required")
	}
	if _, ok := deps.Crawlers[cfg.DefaultProfile]; !ok {
		return nil, fmt.Errorf("%w: default %q", ErrUnknownProfile, cfg.DefaultProfile)
	}
	cfg.ArchivePrefix = strings.Trim(cfg.ArchivePrefix, "/")
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	return &Service{cfg: cfg, deps: deps, log: deps.Logger.Named("pipeline")}, nil
}

// Profiles lists the configured profile names in sorted order.
func (s *Service) Profiles() []string {
	names := make([]string, 0, len(s.deps.Crawlers))
	for name := range s.deps.Crawlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const tracerName = "github.com/JakeFAU/market-research-crawler/internal/pipeline"

// Run crawls and analyzes req.Domain inside a "pipeline.Run" span.
func (s *Service) Run(ctx context.Context, req Request) (*Report, error) {
	ctx, span := s.deps.Tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.String("marketscout.domain", strings.TrimSpace(req.Domain)),
		attribute.String("marketscout.profile", req.Profile),
	))
	defer span.End()

	report, err := s.run(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("marketscout.run_id", report.RunID),
		attribute.String("marketscout.provider", report.Provider),
		attribute.String("marketscout.model", report.Model),
		attribute.Int("marketscout.pages", report.PagesAnalyzed),
	)
	return report, nil
}

func (s *Service) run(ctx context.Context, req Request) (*Report, error) {
	profile := strings.TrimSpace(req.Profile)
	if profile == "" {
		profile = s.cfg.DefaultProfile
	}
	engine, ok := s.deps.Crawlers[profile]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, profile)
	}

	domain := strings.TrimSpace(req.Domain)
	start, err := crawler.NormalizeDomain(domain)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDomain, err)
	}
	if !s.cfg.Blocklist.AllowsURL(start) {
		return nil, fmt.Errorf("%w: %s", ErrBlockedDomain, crawler.Hostname(start))
	}

	logger := s.log.With(zap.String("domain", domain), zap.String("profile", profile))

	if cached := s.lookup(ctx, logger, start, profile); cached != nil {
		metrics.ObservePipelineRun(profile, "cached")
		return cached, nil
	}

	began := time.Now()
	pages := engine.Crawl(ctx, start)
	if err := ctx.Err(); err != nil {
		metrics.ObservePipelineRun(profile, "canceled")
		return nil, fmt.Errorf("crawl canceled: %w", err)
	}
	if len(pages) == 0 {
		metrics.ObservePipelineRun(profile, "empty")
		logger.Info("crawl found no pages")
		return nil, ErrNothingFound
	}
	logger.Info("crawl finished", zap.Int("pages", len(pages)), zap.Duration("elapsed", time.Since(began)))

	result, err := s.deps.Analyzer.Analyze(ctx, pages, domain)
	if err != nil {
		metrics.ObservePipelineRun(profile, "failed")
		logger.Error("analysis failed", zap.Error(err), zap.NamedError("cause", errors.Unwrap(err)))
		return nil, err
	}

	runID, err := s.deps.IDs.NewID()
	if err != nil {
		metrics.ObservePipelineRun(profile, "failed")
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	report := &Report{
		RunID:         runID,
		Domain:        domain,
		Profile:       profile,
		PagesAnalyzed: len(pages),
		ScrapedAt:     s.deps.Clock.Now().UTC(),
		Provider:      result.Provider,
		Model:         result.Model,
		Fields:        result.Fields,
		Violations:    result.Violations,
	}

	s.deliver(ctx, logger, start, report)
	metrics.ObservePipelineRun(profile, "ok")
	logger.Info("analysis complete",
		zap.String("run_id", runID),
		zap.String("provider", report.Provider),
		zap.String("model", report.Model),
		zap.Int("violations", len(report.Violations)),
	)
	return report, nil
}

func (s *Service) lookup(ctx context.Context, logger *zap.Logger, start, profile string) *Report {
	if s.deps.Cache == nil {
		return nil
	}
	cached, ok, err := s.deps.Cache.Get(ctx, start, profile)
	if err != nil {
		metrics.ObserveSinkFailure("cache")
		logger.Warn("report cache lookup failed", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	logger.Info("serving cached report", zap.String("run_id", cached.RunID))
	return cached
}

// deliver hands report to every configured sink. Sink failures are logged
// and counted but never surface to the caller.
func (s *Service) deliver(ctx context.Context, logger *zap.Logger, start string, report *Report) {
	if s.deps.Cache != nil {
		if err := s.deps.Cache.Set(ctx, start, report); err != nil {
			metrics.ObserveSinkFailure("cache")
			logger.Warn("report cache store failed", zap.Error(err))
		}
	}

	var archiveURI string
	if s.deps.Archive != nil {
		uri, err := s.archive(ctx, start, report)
		if err != nil {
			metrics.ObserveSinkFailure("archive")
			logger.Warn("report archive failed", zap.Error(err))
		}
		archiveURI = uri
	}

	record := report.record(archiveURI)
	if s.deps.Runs != nil {
		if err := s.deps.Runs.RecordRun(ctx, record); err != nil {
			metrics.ObserveSinkFailure("runs")
			logger.Warn("run index write failed", zap.Error(err))
		}
	}
	if s.deps.Publisher != nil && s.cfg.Topic != "" {
		if _, err := s.deps.Publisher.Publish(ctx, s.cfg.Topic, record); err != nil {
			metrics.ObserveSinkFailure("publisher")
			logger.Warn("completion event failed", zap.Error(err))
		}
	}
}

func (s *Service) archive(ctx context.Context, start string, report *Report) (string, error) {
	body, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	path := ArchivePath(s.cfg.ArchivePrefix, crawler.Hostname(start), report)
	uri, err := s.deps.Archive.PutObject(ctx, path, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("put %s: %w", path, err)
	}
	return uri, nil
}

// ArchivePath returns prefix/host/YYYY/MM/DD/runID.json.
func ArchivePath(prefix, host string, report *Report) string {
	parts := make([]string, 0, 3)
	if prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts,
		host,
		report.ScrapedAt.UTC().Format("2006/01/02"),
		report.RunID+".json",
	)
	return strings.Join(parts, "/")
}
