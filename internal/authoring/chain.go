package authoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// DefaultAttemptTimeout bounds one provider attempt.
const DefaultAttemptTimeout = 30 * time.Second

// Chain tries providers in order and returns the first answer. Each attempt
// runs under its own timeout so a hanging provider leaves time for the next.
type Chain struct {
	providers []Provider
	timeout   time.Duration
	logger    log.Logger
}

// NewChain builds a fallback chain. A non-positive timeout uses
// DefaultAttemptTimeout.
func NewChain(logger log.Logger, timeout time.Duration, providers ...Provider) *Chain {
	if logger == nil {
		logger = log.Nop()
	}
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	return &Chain{providers: providers, timeout: timeout, logger: logger}
}

// Name lists the chained providers.
func (c *Chain) Name() string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return strings.Join(names, ",")
}

// Len is the number of chained providers.
func (c *Chain) Len() int { return len(c.providers) }

func (c *Chain) Send(ctx context.Context, req *LLMRequest) (*LLMResponse, error) {
	if len(c.providers) == 0 {
		return nil, ErrNoProvider
	}

	var errs []error
	for _, p := range c.providers {
		resp, err := c.attempt(ctx, p, req)
		if err == nil {
			if resp.Provider == "" {
				resp.Provider = p.Name()
			}
			return resp, nil
		}
		c.logger.Warn(ctx, "collaborator provider failed", "provider", p.Name(), "err", err)
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))

		// caller canceled or deadline passed
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}

func (c *Chain) attempt(ctx context.Context, p Provider, req *LLMRequest) (*LLMResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return p.Send(ctx, req)
}
