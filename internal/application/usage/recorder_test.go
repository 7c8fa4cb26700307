package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/apigateway/internal/domain/models"
	"github.com/turtacn/apigateway/internal/domain/service/mocks"
	"github.com/turtacn/apigateway/pkg/errors"
	"github.com/turtacn/apigateway/pkg/logger"
)

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *outcomeRecorder) RecordUsage(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *outcomeRecorder) snapshot() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.outcomes...)
}

func waitDrained(t *testing.T, r *Recorder) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Wait(ctx))
}

func TestRecorder_TriggerFiresOnce(t *testing.T) {
	origin := new(mocks.MockOriginClient)
	origin.On("RecordInvocation", mock.Anything, int64(5), int64(1)).Return(nil).Once()
	metrics := &outcomeRecorder{}
	r := NewRecorder(origin, logger.NewNoopLogger(), WithMetrics(metrics))

	fire := r.Trigger(context.Background(), models.UsageEvent{InterfaceID: 5, UserID: 1})
	fire()
	fire()
	fire()

	waitDrained(t, r)
	origin.AssertExpectations(t)
	assert.Equal(t, []string{"ok"}, metrics.snapshot())
}

func TestRecorder_SurvivesCallerCancellation(t *testing.T) {
	origin := new(mocks.MockOriginClient)
	origin.On("RecordInvocation", mock.MatchedBy(func(ctx context.Context) bool {
		return ctx.Err() == nil
	}), int64(5), int64(1)).Return(nil).Once()
	r := NewRecorder(origin, logger.NewNoopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Record(ctx, models.UsageEvent{InterfaceID: 5, UserID: 1})

	waitDrained(t, r)
	origin.AssertExpectations(t)
}

func TestRecorder_FailuresAreOnlyCounted(t *testing.T) {
	tests := []struct {
		err     error
		outcome string
	}{
		{errors.ErrQuotaExhausted, "quota_exhausted"},
		{errors.ErrNoGrant.WithCause(assert.AnError), "no_grant"},
		{errors.ErrNotFound, "not_found"},
		{assert.AnError, "system_error"},
	}
	for _, tt := range tests {
		t.Run(tt.outcome, func(t *testing.T) {
			origin := new(mocks.MockOriginClient)
			origin.On("RecordInvocation", mock.Anything, int64(2), int64(3)).Return(tt.err).Once()
			metrics := &outcomeRecorder{}
			r := NewRecorder(origin, logger.NewNoopLogger(), WithMetrics(metrics))

			r.Record(context.Background(), models.UsageEvent{InterfaceID: 2, UserID: 3})
			waitDrained(t, r)

			origin.AssertExpectations(t)
			assert.Equal(t, []string{tt.outcome}, metrics.snapshot())
		})
	}
}

func TestRecorder_WaitHonorsContext(t *testing.T) {
	release := make(chan struct{})
	origin := new(mocks.MockOriginClient)
	origin.On("RecordInvocation", mock.Anything, int64(1), int64(1)).
		Run(func(mock.Arguments) { <-release }).Return(nil).Once()
	r := NewRecorder(origin, logger.NewNoopLogger())

	r.Record(context.Background(), models.UsageEvent{InterfaceID: 1, UserID: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Wait(ctx), context.DeadlineExceeded)

	close(release)
	waitDrained(t, r)
}
