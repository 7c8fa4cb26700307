// Package guard governs request volume and trips a breaker on high error or
// slow-call ratios before any pipeline work is done.
package guard

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/turtacn/apigateway/internal/config"
	"github.com/turtacn/apigateway/pkg/constants"
	"github.com/turtacn/apigateway/pkg/errors"
	"github.com/turtacn/apigateway/pkg/logger"
)

// MetricsRecorder counts guard rejections.
type MetricsRecorder interface {
	RecordGuardRejection(reason string)
}

type noopMetrics struct{}

func (noopMetrics) RecordGuardRejection(string) {}

// Done reports the outcome of an admitted request back to the guard.
type Done func(failed bool, elapsed time.Duration)

// Guard combines a QPS limiter with an error-ratio breaker and a slow-call
// ratio breaker, all scoped to the gateway filter as a single resource.
type Guard struct {
	limiter       *rate.Limiter
	errorBreaker  *gobreaker.TwoStepCircuitBreaker
	slowBreaker   *gobreaker.TwoStepCircuitBreaker
	slowThreshold time.Duration
	metrics       MetricsRecorder
	log           logger.Logger
}

// New creates a new Guard from cfg.
func New(cfg config.GuardConfig, log logger.Logger, metrics MetricsRecorder) *Guard {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	g := &Guard{
		slowThreshold: cfg.SlowCallThreshold,
		metrics:       metrics,
		log:           log.WithComponent("guard"),
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = int(cfg.QPS)
	}
	g.limiter = rate.NewLimiter(rate.Limit(cfg.QPS), burst)
	g.errorBreaker = gobreaker.NewTwoStepCircuitBreaker(g.settings(constants.GuardResourceName+":error", cfg, cfg.ErrorRatio))
	g.slowBreaker = gobreaker.NewTwoStepCircuitBreaker(g.settings(constants.GuardResourceName+":slow", cfg, cfg.SlowCallRatio))
	return g
}

func (g *Guard) settings(name string, cfg config.GuardConfig, ratio float64) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    cfg.StatInterval,
		Timeout:     cfg.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.log.Warn(context.Background(), "Breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
	}
}

// Acquire admits a request or rejects it with ErrRateLimited or
// ErrServiceDegraded. The returned Done must be called exactly once.
func (g *Guard) Acquire() (Done, error) {
	if !g.limiter.Allow() {
		g.metrics.RecordGuardRejection(string(errors.KindRateLimited))
		return nil, errors.ErrRateLimited
	}

	errDone, err := g.errorBreaker.Allow()
	if err != nil {
		g.metrics.RecordGuardRejection(string(errors.KindServiceDegraded))
		return nil, errors.ErrServiceDegraded.WithCause(err)
	}
	slowDone, err := g.slowBreaker.Allow()
	if err != nil {
		errDone(true)
		g.metrics.RecordGuardRejection(string(errors.KindServiceDegraded))
		return nil, errors.ErrServiceDegraded.WithCause(err)
	}

	return func(failed bool, elapsed time.Duration) {
		errDone(!failed)
		slowDone(g.slowThreshold <= 0 || elapsed < g.slowThreshold)
	}, nil
}

// State returns the worst breaker state.
func (g *Guard) State() gobreaker.State {
	e, s := g.errorBreaker.State(), g.slowBreaker.State()
	if e == gobreaker.StateOpen || s == gobreaker.StateOpen {
		return gobreaker.StateOpen
	}
	if e == gobreaker.StateHalfOpen || s == gobreaker.StateHalfOpen {
		return gobreaker.StateHalfOpen
	}
	return gobreaker.StateClosed
}
