package providers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/time/rate"
)

// ErrNoProvider is returned when no provider matches a name.
var ErrNoProvider = errors.New("no decision provider configured")

// Registry holds the configured providers by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces a provider under its Name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the named provider.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoProvider, name)
	}
	return p, nil
}

// List returns the registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RateLimited wraps a provider with a token-bucket limiter shared by all callers.
type RateLimited struct {
	Provider
	limiter *rate.Limiter
}

// WithRateLimit returns p limited to perSec calls per second with the given burst.
// perSec <= 0 returns p unchanged.
func WithRateLimit(p Provider, perSec float64, burst int) Provider {
	if perSec <= 0 {
		return p
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{Provider: p, limiter: rate.NewLimiter(rate.Limit(perSec), burst)}
}

// Chat waits for a token, then delegates. A cancelled ctx fails fast.
func (r *RateLimited) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limit: %w", r.Name(), err)
	}
	return r.Provider.Chat(ctx, req)
}
