package analysis

import (
	"context"
	"fmt"
)

// Provider sends a prompt to one hosted language model service.
type Provider interface {
	Name() string
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// ProviderError is returned when a provider answers with an error status or
// an unusable reply.
type ProviderError struct {
	Provider string
	Model    string
	Status   int
	Message  string
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: status %d: %s", e.Provider, e.Model, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Model, e.Message)
}
