package videos

import (
	"context"
	"errors"
	"fmt"

	"github.com/posterwall/backend/internal/logging"
	"github.com/posterwall/backend/internal/metrics"
)

// Named pairs a provider with the label used in logs and metrics.
type Named struct {
	Name     string
	Provider Provider
}

// Chain tries providers in order and returns the first resolved result.
type Chain struct {
	providers []Named
}

// NewChain builds a fallback chain, skipping nil providers.
func NewChain(providers ...Named) *Chain {
	c := &Chain{}
	for _, p := range providers {
		if p.Provider != nil {
			c.providers = append(c.providers, p)
		}
	}
	return c
}

// Len reports how many providers are configured.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.providers)
}

// Lookup walks the chain. Results that are neither an error nor resolved
// fall through to the next provider.
func (c *Chain) Lookup(ctx context.Context, url string) (Metadata, error) {
	if c.Len() == 0 {
		return Metadata{}, ErrProviderUnavailable
	}

	logger := logging.WithComponent(ctx, "resolver")
	var errs []error
	for _, p := range c.providers {
		meta, err := p.Provider.Lookup(ctx, url)
		if err == nil && meta.Resolved() {
			metrics.IncResolution(p.Name, true)
			return meta, nil
		}
		metrics.IncResolution(p.Name, false)
		if err == nil {
			err = errors.New("no id or playable url")
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Metadata{}, ctxErr
		}
		logger.Warn().Err(err).Str("provider", p.Name).Str("url", url).Msg("resolver failed")
		errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
	}
	return Metadata{}, fmt.Errorf("%w: %w", ErrResolution, errors.Join(errs...))
}
