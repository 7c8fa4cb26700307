package kafka

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/apigateway/internal/domain/models"
	"github.com/turtacn/apigateway/internal/domain/service/mocks"
	"github.com/turtacn/apigateway/pkg/constants"
	"github.com/turtacn/apigateway/pkg/errors"
	"github.com/turtacn/apigateway/pkg/logger"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type fakeReader struct {
	msgs      chan kafkago.Message
	mu        sync.Mutex
	committed []kafkago.Message
}

func newFakeReader(msgs ...kafkago.Message) *fakeReader {
	r := &fakeReader{msgs: make(chan kafkago.Message, len(msgs))}
	for _, m := range msgs {
		r.msgs <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafkago.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) committedOffsets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	offsets := make([]int64, 0, len(r.committed))
	for _, m := range r.committed {
		offsets = append(offsets, m.Offset)
	}
	return offsets
}

func TestUsageProducer_PublishesEvent(t *testing.T) {
	origin := new(mocks.MockOriginClient)
	w := &fakeWriter{}
	p := NewUsageProducerWithWriter(w, origin, logger.NewNoopLogger())
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	ctx := context.WithValue(context.Background(), constants.ContextKeyRequestID, "req-42")
	require.NoError(t, p.RecordInvocation(ctx, 3, 7))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "7:3", string(w.msgs[0].Key))

	var ev models.UsageEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, models.UsageEvent{RequestID: "req-42", InterfaceID: 3, UserID: 7, OccurredAt: fixed}, ev)

	// Accounting never reaches the origin directly.
	origin.AssertNotCalled(t, "RecordInvocation", mock.Anything, mock.Anything, mock.Anything)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestUsageProducer_GeneratesRequestID(t *testing.T) {
	w := &fakeWriter{}
	p := NewUsageProducerWithWriter(w, new(mocks.MockOriginClient), logger.NewNoopLogger())

	require.NoError(t, p.RecordInvocation(context.Background(), 1, 2))

	var ev models.UsageEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.NotEmpty(t, ev.RequestID)
}

func TestUsageProducer_DelegatesLookups(t *testing.T) {
	origin := new(mocks.MockOriginClient)
	origin.On("ResolveUserByAccessKey", mock.Anything, "ak-1").Return(&models.Principal{ID: 7}, nil)
	p := NewUsageProducerWithWriter(&fakeWriter{}, origin, logger.NewNoopLogger())

	user, err := p.ResolveUserByAccessKey(context.Background(), "ak-1")
	require.NoError(t, err)
	assert.EqualValues(t, 7, user.ID)
	origin.AssertExpectations(t)
}

func TestUsageProducer_WriteFailure(t *testing.T) {
	w := &fakeWriter{err: stderrors.New("broker down")}
	p := NewUsageProducerWithWriter(w, new(mocks.MockOriginClient), logger.NewNoopLogger())

	assert.ErrorIs(t, p.RecordInvocation(context.Background(), 1, 2), errors.ErrSystem)
}

func encode(t *testing.T, offset int64, ev models.UsageEvent) kafkago.Message {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return kafkago.Message{Offset: offset, Value: b}
}

func TestUsageConsumer_AppliesEvents(t *testing.T) {
	var applied atomic.Int32
	count := func(mock.Arguments) { applied.Add(1) }
	accountant := new(mocks.MockOriginClient)
	accountant.On("RecordInvocation", mock.Anything, int64(3), int64(7)).Return(nil).Run(count).Once()
	accountant.On("RecordInvocation", mock.Anything, int64(4), int64(7)).Return(errors.ErrQuotaExhausted).Run(count).Once()
	accountant.On("RecordInvocation", mock.Anything, int64(5), int64(7)).Return(errors.ErrSystem).Run(count).Once()
	accountant.On("RecordInvocation", mock.Anything, int64(5), int64(7)).Return(nil).Run(count).Once()

	reader := newFakeReader(
		encode(t, 1, models.UsageEvent{RequestID: "a", InterfaceID: 3, UserID: 7}),
		kafkago.Message{Offset: 2, Value: []byte("{not json")},
		encode(t, 3, models.UsageEvent{RequestID: "b", InterfaceID: 4, UserID: 7}),
		encode(t, 4, models.UsageEvent{RequestID: "c", InterfaceID: 5, UserID: 7}),
	)
	c := NewUsageConsumerWithReader(reader, accountant, logger.NewNoopLogger())
	c.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(reader.committedOffsets()) == 4
	}, time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []int64{1, 2, 3, 4}, reader.committedOffsets())
	assert.EqualValues(t, 4, applied.Load())
	accountant.AssertExpectations(t)
}

func TestUsageConsumer_DropsAfterRetries(t *testing.T) {
	accountant := new(mocks.MockOriginClient)
	accountant.On("RecordInvocation", mock.Anything, int64(5), int64(7)).Return(errors.ErrSystem).Times(applyAttempts)

	reader := newFakeReader(encode(t, 9, models.UsageEvent{RequestID: "d", InterfaceID: 5, UserID: 7}))
	c := NewUsageConsumerWithReader(reader, accountant, logger.NewNoopLogger())
	c.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(reader.committedOffsets()) == 1
	}, time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []int64{9}, reader.committedOffsets())
	accountant.AssertNumberOfCalls(t, "RecordInvocation", applyAttempts)
}

func TestUsageConsumer_Stop(t *testing.T) {
	c := NewUsageConsumerWithReader(newFakeReader(), new(mocks.MockOriginClient), logger.NewNoopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()

	c.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}
