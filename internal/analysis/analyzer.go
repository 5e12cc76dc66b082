package analysis

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/market-research-crawler/internal/crawler"
	"github.com/JakeFAU/market-research-crawler/internal/metrics"
)

// Analysis is the outcome of one successful analysis.
type Analysis struct {
	Fields     map[string]any
	Provider   string
	Model      string
	Violations []Violation
}

// Analyzer builds the prompt, runs the chain, and validates the result.
type Analyzer struct {
	chain  *Chain
	logger *zap.Logger
}

// NewAnalyzer wraps chain.
func NewAnalyzer(chain *Chain, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{chain: chain, logger: logger.Named("analyzer")}
}

// Analyze produces a structured report for pages crawled from domain.
func (a *Analyzer) Analyze(ctx context.Context, pages []crawler.PageRecord, domain string) (Analysis, error) {
	prompt := BuildPrompt(pages, domain)
	result, err := a.chain.Run(ctx, prompt)
	if err != nil {
		return Analysis{}, err
	}

	violations := Validate(result.Fields)
	for _, v := range violations {
		metrics.ObserveSchemaViolation(v.Field)
	}
	if len(violations) > 0 {
		a.logger.Warn("analysis deviates from schema",
			zap.String("domain", domain),
			zap.String("provider", result.Provider),
			zap.String("model", result.Model),
			zap.Stringers("violations", violations),
		)
	}
	return Analysis{
		Fields:     result.Fields,
		Provider:   result.Provider,
		Model:      result.Model,
		Violations: violations,
	}, nil
}
