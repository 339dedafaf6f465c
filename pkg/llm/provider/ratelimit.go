package provider

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited throttles calls to an underlying provider
type RateLimited struct {
	provider Provider
	limiter  *rate.Limiter
}

// NewRateLimited wraps p so that at most rps requests per second are issued,
// with the given burst (at least 1).
func NewRateLimited(p Provider, rps float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		provider: p,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Name returns the underlying provider name
func (r *RateLimited) Name() string {
	return r.provider.Name()
}

// CreateCompletion waits for a token then delegates
func (r *RateLimited) CreateCompletion(ctx context.Context, request CompletionRequest) (*CompletionResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s rate limit: %w", r.provider.Name(), err)
	}
	return r.provider.CreateCompletion(ctx, request)
}

// CreateStreaming waits for a token then delegates
func (r *RateLimited) CreateStreaming(ctx context.Context, request CompletionRequest) (Stream, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s rate limit: %w", r.provider.Name(), err)
	}
	return r.provider.CreateStreaming(ctx, request)
}

// ListModels delegates when the underlying provider supports it
func (r *RateLimited) ListModels(ctx context.Context) ([]string, error) {
	lister, ok := r.provider.(ModelLister)
	if !ok {
		return nil, fmt.Errorf("provider %s does not list models", r.provider.Name())
	}
	return lister.ListModels(ctx)
}
