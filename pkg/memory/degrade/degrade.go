// Package degrade isolates store failures from the live chat path. Each store
// sits behind a circuit breaker and a per-call timeout; callers translate a
// failed call into a degraded branch instead of an error.
package degrade

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Store identifies a guarded backend.
type Store string

const (
	StoreSemantic    Store = "semantic"
	StoreAssociative Store = "associative"
)

// ErrUnavailable is returned when the breaker for a store is open.
var ErrUnavailable = errors.New("store circuit open")

// Config tunes the breaker and timeout policy shared by both stores.
type Config struct {
	// CallTimeout bounds a single store call. A failed first attempt gets one
	// retry at half this timeout.
	CallTimeout time.Duration
	// MaxRequests allowed through a half-open breaker.
	MaxRequests uint32
	// Interval before the breaker resets its failure counts.
	Interval time.Duration
	// Timeout before an open breaker moves to half-open.
	Timeout time.Duration
	// FailureThreshold is the failure ratio that trips the breaker.
	FailureThreshold float64
	// MinRequests before the failure ratio is evaluated at all.
	MinRequests uint32
}

func (c Config) withDefaults() Config {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 2 * time.Second
	}
	if c.MaxRequests == 0 {
		c.MaxRequests = 5
	}
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 0.8
	}
	if c.MinRequests == 0 {
		c.MinRequests = 5
	}
	return c
}

// Controller wraps store calls with timeout, retry and a per-store breaker.
type Controller struct {
	cfg      Config
	logger   *zap.Logger
	breakers map[Store]*gobreaker.CircuitBreaker
}

// NewController builds a controller guarding the semantic and associative
// stores independently.
func NewController(cfg Config, logger *zap.Logger) *Controller {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[Store]*gobreaker.CircuitBreaker, 2),
	}
	for _, store := range []Store{StoreSemantic, StoreAssociative} {
		c.breakers[store] = c.newBreaker(store)
	}
	return c
}

func (c *Controller) newBreaker(store Store) *gobreaker.CircuitBreaker {
	logger := c.logger
	cfg := c.cfg
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(store),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("store breaker state changed",
				zap.String("store", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})
}

// Call runs fn against the named store with the configured timeout. A failure
// on the first attempt earns one retry at half the timeout, unless the parent
// context is already done. Breaker rejections come back as ErrUnavailable.
func (c *Controller) Call(ctx context.Context, store Store, fn func(ctx context.Context) error) error {
	return c.CallWithTimeout(ctx, store, c.cfg.CallTimeout, fn)
}

// CallWithTimeout is Call with a caller-chosen first-attempt timeout, for
// stores whose branch budgets differ from the shared default.
func (c *Controller) CallWithTimeout(ctx context.Context, store Store, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		timeout = c.cfg.CallTimeout
	}
	err := c.attempt(ctx, store, timeout, fn)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	c.logger.Debug("retrying store call",
		zap.String("store", string(store)),
		zap.Error(err))
	return c.attempt(ctx, store, timeout/2, fn)
}

func (c *Controller) attempt(ctx context.Context, store Store, timeout time.Duration, fn func(ctx context.Context) error) error {
	breaker, ok := c.breakers[store]
	if !ok {
		return fn(ctx)
	}
	_, err := breaker.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return nil, fn(callCtx)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return ErrUnavailable
	default:
		return err
	}
}

// Healthy reports whether the breaker for the store would let a call through.
func (c *Controller) Healthy(store Store) bool {
	breaker, ok := c.breakers[store]
	if !ok {
		return true
	}
	return breaker.State() != gobreaker.StateOpen
}
