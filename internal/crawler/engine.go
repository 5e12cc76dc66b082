package crawler

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/market-research-crawler/internal/metrics"
)

// Engine runs bounded crawls for a single Profile.
type Engine struct {
	profile   Profile
	fetcher   Fetcher
	extractor *Extractor
	logger    *zap.Logger
}

// NewEngine validates profile and builds an Engine around fetcher.
func NewEngine(profile Profile, fetcher Fetcher, logger *zap.Logger) (*Engine, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if profile.PageBudget <= 0 {
		return nil, fmt.Errorf("profile %q: page budget must be > 0", profile.Name)
	}
	if profile.QueueFactor <= 0 {
		profile.QueueFactor = 3
	}
	switch profile.Strategy {
	case StrategyBFS:
	case StrategyFanout:
		if profile.FanoutCandidates <= 0 {
			profile.FanoutCandidates = 2 * profile.PageBudget
		}
	default:
		return nil, fmt.Errorf("profile %q: unknown strategy %q", profile.Name, profile.Strategy)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		profile:   profile,
		fetcher:   fetcher,
		extractor: NewExtractor(profile.Rules),
		logger:    logger,
	}, nil
}

// Profile returns the profile the engine was built with.
func (e *Engine) Profile() Profile {
	return e.profile
}

// Crawl collects up to the profile's page budget of records for domain. Pages
// that cannot be fetched are skipped; a domain that yields nothing returns an
// empty slice.
func (e *Engine) Crawl(ctx context.Context, domain string) []PageRecord {
	start, err := NormalizeDomain(domain)
	if err != nil {
		e.logger.Debug("domain rejected", zap.String("domain", domain), zap.Error(err))
		return []PageRecord{}
	}
	seeds := seedURLs(start, e.profile.PriorityPaths)

	var pages []PageRecord
	if e.profile.Strategy == StrategyFanout {
		pages = e.crawlFanout(ctx, seeds)
	} else {
		pages = e.crawlBFS(ctx, start, seeds)
	}
	e.logger.Info("crawl finished",
		zap.String("start_url", start),
		zap.String("profile", e.profile.Name),
		zap.Int("pages", len(pages)),
	)
	return pages
}

func (e *Engine) crawlBFS(ctx context.Context, start string, seeds []string) []PageRecord {
	s := newSession(e.profile.PageBudget, e.profile.QueueFactor)
	for _, seed := range seeds {
		s.seed(seed)
	}
	for !s.full() {
		if ctx.Err() != nil {
			e.logger.Debug("crawl interrupted", zap.String("start_url", start), zap.Error(ctx.Err()))
			break
		}
		next, ok := s.next()
		if !ok {
			break
		}
		page, body, ok := e.fetchPage(ctx, next)
		if !ok {
			continue
		}
		s.pages = append(s.pages, page)
		for _, link := range ExtractLinks(body, start) {
			s.enqueue(link)
		}
	}
	return s.pages
}

func (e *Engine) crawlFanout(ctx context.Context, seeds []string) []PageRecord {
	candidates := dedupe(seeds)
	if len(candidates) > e.profile.FanoutCandidates {
		candidates = candidates[:e.profile.FanoutCandidates]
	}
	results := make([]*PageRecord, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(candidates))
	for i, target := range candidates {
		g.Go(func() error {
			if page, _, ok := e.fetchPage(gctx, target); ok {
				results[i] = &page
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never return errors

	pages := make([]PageRecord, 0, e.profile.PageBudget)
	for _, page := range results {
		if page == nil {
			continue
		}
		pages = append(pages, *page)
		if len(pages) == e.profile.PageBudget {
			break
		}
	}
	return pages
}

// fetchPage converts every fetch failure into absence.
func (e *Engine) fetchPage(ctx context.Context, target string) (PageRecord, string, bool) {
	resp, err := e.fetcher.Fetch(ctx, FetchRequest{URL: target})
	if err != nil {
		e.logger.Debug("page skipped", zap.String("url", target), zap.Error(err))
		metrics.ObserveCrawl(target, "absent", 0)
		return PageRecord{}, "", false
	}
	body := string(resp.Body)
	metrics.ObserveCrawl(target, "ok", len(resp.Body))
	return e.extractor.Extract(body, target), body, true
}

// seedURLs returns the start URL followed by each priority path.
func seedURLs(start string, paths []string) []string {
	seeds := make([]string, 0, len(paths)+1)
	seeds = append(seeds, start)
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		seeds = append(seeds, start+p)
	}
	return seeds
}

func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		key := visitKey(u)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, u)
	}
	return out
}

// session is the mutable state of one breadth-first crawl.
type session struct {
	budget  int
	ceiling int
	visited map[string]struct{}
	queued  map[string]struct{}
	queue   []string
	pages   []PageRecord
}

func newSession(budget, queueFactor int) *session {
	return &session{
		budget:  budget,
		ceiling: budget * queueFactor,
		visited: make(map[string]struct{}),
		queued:  make(map[string]struct{}),
		pages:   make([]PageRecord, 0, budget),
	}
}

func (s *session) full() bool {
	return len(s.pages) >= s.budget
}

// seed enqueues without the queue ceiling so every priority path gets a turn.
func (s *session) seed(target string) {
	key := visitKey(target)
	if _, ok := s.queued[key]; ok {
		return
	}
	s.queued[key] = struct{}{}
	s.queue = append(s.queue, target)
}

func (s *session) enqueue(target string) {
	if len(s.pages)+len(s.queue) >= s.ceiling {
		return
	}
	key := visitKey(target)
	if _, ok := s.visited[key]; ok {
		return
	}
	if _, ok := s.queued[key]; ok {
		return
	}
	s.queued[key] = struct{}{}
	s.queue = append(s.queue, target)
}

// next pops the oldest unvisited URL and marks it visited.
func (s *session) next() (string, bool) {
	for len(s.queue) > 0 {
		target := s.queue[0]
		s.queue = s.queue[1:]
		key := visitKey(target)
		delete(s.queued, key)
		if _, ok := s.visited[key]; ok {
			continue
		}
		s.visited[key] = struct{}{}
		return target, true
	}
	return "", false
}
