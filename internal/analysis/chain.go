package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/market-research-crawler/internal/metrics"
)

// ErrNoProviders is returned when no attempt is configured, usually because
// no provider credential is set.
var ErrNoProviders = errors.New("no analysis provider is configured")

// ExhaustedError is returned when every attempt in the chain failed. Its
// message is deliberately generic; the last cause is available via Unwrap.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d analysis providers failed", e.Attempts)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Attempt is one (provider, model) pair in the fallback order.
type Attempt struct {
	Provider string
	Model    string
	Invoke   func(ctx context.Context, prompt string) (string, error)
}

// AttemptsFor returns one attempt per model on p, in the given order.
func AttemptsFor(p Provider, models ...string) []Attempt {
	out := make([]Attempt, 0, len(models))
	for _, model := range models {
		out = append(out, Attempt{
			Provider: p.Name(),
			Model:    model,
			Invoke: func(ctx context.Context, prompt string) (string, error) {
				return p.Generate(ctx, model, prompt)
			},
		})
	}
	return out
}

// Result is the recovered object plus the attempt that produced it.
type Result struct {
	Fields   map[string]any
	Provider string
	Model    string
}

// Chain tries attempts strictly in order until one returns text.
type Chain struct {
	attempts []Attempt
	logger   *zap.Logger
}

// NewChain builds a chain over attempts.
func NewChain(logger *zap.Logger, attempts ...Attempt) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{
		attempts: append([]Attempt(nil), attempts...),
		logger:   logger.Named("chain"),
	}
}

// Attempts returns a copy of the configured order.
func (c *Chain) Attempts() []Attempt {
	return append([]Attempt(nil), c.attempts...)
}

// Run sends prompt to each attempt in turn. The first reply is handed to
// Recover and ends the chain; a recovery failure is returned as is and later
// attempts are not tried.
func (c *Chain) Run(ctx context.Context, prompt string) (Result, error) {
	if len(c.attempts) == 0 {
		return Result{}, ErrNoProviders
	}

	var last error
	for i, attempt := range c.attempts {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("analysis canceled: %w", err)
		}

		start := time.Now()
		text, err := attempt.Invoke(ctx, prompt)
		if err != nil {
			metrics.ObserveProviderAttempt(attempt.Provider, attempt.Model, "error", time.Since(start))
			c.logger.Warn("provider attempt failed",
				zap.String("provider", attempt.Provider),
				zap.String("model", attempt.Model),
				zap.Int("attempt", i+1),
				zap.Error(err),
			)
			last = err
			continue
		}
		metrics.ObserveProviderAttempt(attempt.Provider, attempt.Model, "ok", time.Since(start))
		c.logger.Info("provider attempt succeeded",
			zap.String("provider", attempt.Provider),
			zap.String("model", attempt.Model),
		)

		fields, err := Recover(text)
		if err != nil {
			return Result{}, err
		}
		return Result{Fields: fields, Provider: attempt.Provider, Model: attempt.Model}, nil
	}
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("analysis canceled: %w", err)
	}
	return Result{}, &ExhaustedError{Attempts: len(c.attempts), Last: last}
}
