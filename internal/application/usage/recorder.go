// Package usage triggers post-response usage accounting against the origin.
package usage

import (
	"context"
	"sync"
	"time"

	"github.com/turtacn/apigateway/internal/domain/models"
	"github.com/turtacn/apigateway/internal/domain/service"
	"github.com/turtacn/apigateway/pkg/errors"
	"github.com/turtacn/apigateway/pkg/logger"
)

// MetricsRecorder counts accounting results by outcome.
type MetricsRecorder interface {
	RecordUsage(outcome string)
}

type noopMetrics struct{}

func (noopMetrics) RecordUsage(string) {}

// Recorder issues the accounting call for completed requests. Calls run in
// the background, are never retried, and only log their failures.
type Recorder struct {
	origin  service.OriginClient
	log     logger.Logger
	metrics MetricsRecorder
	timeout time.Duration
	wg      sync.WaitGroup
}

// Option customizes a Recorder.
type Option func(*Recorder)

// WithTimeout bounds each accounting call.
func WithTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithMetrics sets the outcome counter.
func WithMetrics(m MetricsRecorder) Option {
	return func(r *Recorder) {
		if m != nil {
			r.metrics = m
		}
	}
}

// NewRecorder creates a new Recorder.
func NewRecorder(origin service.OriginClient, log logger.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		origin:  origin,
		log:     log.WithComponent("usage"),
		metrics: noopMetrics{},
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Trigger returns a function that records ev the first time it is called and
// does nothing afterwards. The accounting call keeps ctx's values but not its
// cancellation, so a client that hangs up does not cancel it.
func (r *Recorder) Trigger(ctx context.Context, ev models.UsageEvent) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			r.Record(ctx, ev)
		})
	}
}

// Record starts one accounting call in the background.
func (r *Recorder) Record(ctx context.Context, ev models.UsageEvent) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	ctx = context.WithoutCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.record(ctx, ev)
	}()
}

func (r *Recorder) record(ctx context.Context, ev models.UsageEvent) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	fields := logger.Fields{
		"request_id":   ev.RequestID,
		"interface_id": ev.InterfaceID,
		"user_id":      ev.UserID,
	}

	err := r.origin.RecordInvocation(ctx, ev.InterfaceID, ev.UserID)
	outcome := outcomeOf(err)
	r.metrics.RecordUsage(outcome)

	if err != nil {
		r.log.Error(ctx, "Usage accounting failed", err, fields, logger.String("outcome", outcome))
		return
	}
	r.log.Debug(ctx, "Usage recorded", fields)
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	if ge, ok := errors.AsGatewayError(err); ok {
		return string(ge.Kind)
	}
	return string(errors.KindSystem)
}

// Wait blocks until in-flight accounting calls finish or ctx is done.
func (r *Recorder) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
