package decorators

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/justineapere-tech/KabSulit-main-sub000/application/ports"
	"github.com/justineapere-tech/KabSulit-main-sub000/domain/core/entities"
	"github.com/justineapere-tech/KabSulit-main-sub000/pkg/errors"
)

// CircuitBreakerConfig holds configuration for the remote client breaker
type CircuitBreakerConfig struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// FailureThreshold is the failure ratio that trips the breaker once MinRequests were seen
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultCircuitBreakerConfig returns a default configuration for circuit breaker
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// CircuitBreakerClient fails fast with an UnavailableError while the remote store keeps
// failing. Caller errors (validation, not found) and cancellations do not count as failures.
type CircuitBreakerClient struct {
	inner  ports.RemoteCollectionClient
	cb     *gobreaker.CircuitBreaker
	name   string
	logger *zap.Logger
}

// NewCircuitBreakerClient wraps inner with a breaker.
func NewCircuitBreakerClient(inner ports.RemoteCollectionClient, config CircuitBreakerConfig, logger *zap.Logger) *CircuitBreakerClient {
	c := &CircuitBreakerClient{inner: inner, name: config.Name, logger: logger}
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < config.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= config.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: isBreakerSuccess,
	})
	return c
}

func isBreakerSuccess(err error) bool {
	return err == nil ||
		errors.IsValidation(err) ||
		errors.IsNotFound(err) ||
		stderrors.Is(err, context.Canceled)
}

// State exposes the breaker state for health reporting.
func (c *CircuitBreakerClient) State() gobreaker.State {
	return c.cb.State()
}

func (c *CircuitBreakerClient) execute(fn func() (any, error)) (any, error) {
	out, err := c.cb.Execute(fn)
	switch {
	case stderrors.Is(err, gobreaker.ErrOpenState):
		return nil, errors.NewUnavailableError(c.name).WithCause(err)
	case stderrors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, errors.NewUnavailableError(c.name).WithCause(err)
	}
	return out, err
}

func (c *CircuitBreakerClient) Fetch(ctx context.Context, q ports.Query) ([]entities.Record, error) {
	out, err := c.execute(func() (any, error) {
		return c.inner.Fetch(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	return out.([]entities.Record), nil
}

func (c *CircuitBreakerClient) Insert(ctx context.Context, table string, rec entities.Record) (entities.Record, error) {
	out, err := c.execute(func() (any, error) {
		return c.inner.Insert(ctx, table, rec)
	})
	if err != nil {
		return entities.Record{}, err
	}
	return out.(entities.Record), nil
}

func (c *CircuitBreakerClient) Update(ctx context.Context, table string, filters []ports.Filter, patch map[string]any) error {
	_, err := c.execute(func() (any, error) {
		return nil, c.inner.Update(ctx, table, filters, patch)
	})
	return err
}

func (c *CircuitBreakerClient) Delete(ctx context.Context, table string, filters []ports.Filter) error {
	_, err := c.execute(func() (any, error) {
		return nil, c.inner.Delete(ctx, table, filters)
	})
	return err
}
