package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"alphatrader/internal/adapters/exchanges"
	"alphatrader/pkg/errors"
)

// Class distinguishes request budgets within one exchange.
type Class string

const (
	// ClassGeneral covers market data, account state and admin calls.
	ClassGeneral Class = "general"
	// ClassOrders covers order placement and cancellation.
	ClassOrders Class = "orders"
)

// Limiter is a token-bucket limiter for a single request class. Waiting
// is bounded: a request that cannot be admitted within maxWait fails
// with exchanges.ErrRateLimited instead of queueing forever.
type Limiter struct {
	limiter *rate.Limiter
	name    string
	maxWait time.Duration
}

// NewLimiter creates a limiter admitting requestsPerMinute requests with
// a burst of 10% of the per-minute budget (at least 1).
func NewLimiter(name string, requestsPerMinute int, maxWait time.Duration) *Limiter {
	rps := float64(requestsPerMinute) / 60.0

	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		name:    name,
		maxWait: maxWait,
	}
}

// Wait blocks until a token is available, the context is cancelled or
// the wait ceiling is hit.
func (l *Limiter) Wait(ctx context.Context) error {
	waitCtx := ctx
	if l.maxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.maxWait)
		defer cancel()
	}

	if err := l.limiter.Wait(waitCtx); err != nil {
		// The caller giving up while queued is a cancellation, not a
		// rate limit failure.
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), "rate limit wait interrupted")
		}
		return errors.Wrapf(exchanges.ErrRateLimited, "limiter %s: %v", l.name, err)
	}
	return nil
}

// Allow reports whether a request may proceed right now without blocking.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// Gate holds the per-class limiters of one exchange. Each exchange gets
// its own Gate so saturation on one venue never throttles another.
type Gate struct {
	exchange string
	limiters map[Class]*Limiter
	mu       sync.RWMutex
}

// GateConfig sizes the per-class budgets of a Gate.
type GateConfig struct {
	RequestsPerMinute int
	OrdersPerMinute   int
	MaxWait           time.Duration
}

// NewGate builds a Gate with "general" and "orders" limiters. An order
// budget of zero shares the general budget.
func NewGate(exchange string, cfg GateConfig) *Gate {
	g := &Gate{
		exchange: exchange,
		limiters: make(map[Class]*Limiter),
	}

	general := NewLimiter(exchange+"-general", cfg.RequestsPerMinute, cfg.MaxWait)
	g.limiters[ClassGeneral] = general

	if cfg.OrdersPerMinute > 0 {
		g.limiters[ClassOrders] = NewLimiter(exchange+"-orders", cfg.OrdersPerMinute, cfg.MaxWait)
	} else {
		g.limiters[ClassOrders] = general
	}

	return g
}

// Exchange returns the exchange this gate belongs to.
func (g *Gate) Exchange() string {
	return g.exchange
}

// Acquire consumes a token from the class limiter. Order-class requests
// also consume from the general budget since every order call is still
// an API request.
func (g *Gate) Acquire(ctx context.Context, class Class) error {
	g.mu.RLock()
	limiter, ok := g.limiters[class]
	general := g.limiters[ClassGeneral]
	g.mu.RUnlock()

	if !ok {
		limiter = general
	}

	if class == ClassOrders && limiter != general {
		if err := general.Wait(ctx); err != nil {
			return err
		}
	}
	return limiter.Wait(ctx)
}

// Set replaces the limiter for a class. Used by tests and by adapters
// that learn tighter limits from exchange response headers.
func (g *Gate) Set(class Class, limiter *Limiter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limiters[class] = limiter
}
