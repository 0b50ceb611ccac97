package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	mu     sync.Mutex
	events []OutboxEvent
	err    error // returned once events are exhausted; nil blocks until ctx ends
	closed bool
}

func (f *fakeStream) Next(ctx context.Context) (OutboxEvent, error) {
	f.mu.Lock()
	if len(f.events) > 0 {
		ev := f.events[0]
		f.events = f.events[1:]
		f.mu.Unlock()
		return ev, nil
	}
	err := f.err
	f.mu.Unlock()

	if err != nil {
		return OutboxEvent{}, err
	}
	<-ctx.Done()
	return OutboxEvent{}, ctx.Err()
}

func (f *fakeStream) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeStream) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeDispatcher struct {
	mu     sync.Mutex
	seen   []int64
	failOn map[int64]error
	skipOn map[int64]bool
	notify chan int64
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		failOn: make(map[int64]error),
		skipOn: make(map[int64]bool),
		notify: make(chan int64, 64),
	}
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, event OutboxEvent) (Outcome, error) {
	d.mu.Lock()
	d.seen = append(d.seen, event.ID)
	d.mu.Unlock()
	d.notify <- event.ID

	if err, ok := d.failOn[event.ID]; ok {
		return Handled, err
	}
	if d.skipOn[event.ID] {
		return Skipped, nil
	}
	return Handled, nil
}

func (d *fakeDispatcher) seenIDs() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.seen...)
}

func waitForEvents(t *testing.T, d *fakeDispatcher, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-d.notify:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for event %d of %d", i+1, n)
		}
	}
}

type countingMetrics struct {
	mu        sync.Mutex
	processed int
	skipped   int
	restarts  int
}

func (m *countingMetrics) RecordEventProcessed(eventType string, success bool, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed++
}

func (m *countingMetrics) RecordEventSkipped(eventType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipped++
}

func (m *countingMetrics) RecordStreamRestart() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restarts++
}

func testEvent(id int64) OutboxEvent {
	return OutboxEvent{ID: id, EventType: "DocumentCreated", Payload: []byte(`{}`)}
}

func singleStreamFactory(stream EventStream) StreamFactory {
	return func(ctx context.Context) (EventStream, error) {
		return stream, nil
	}
}

func TestSupervisorDispatchesEventsInOrder(t *testing.T) {
	stream := &fakeStream{events: []OutboxEvent{testEvent(1), testEvent(2), testEvent(3)}}
	dispatcher := newFakeDispatcher()

	s := NewSupervisor(singleStreamFactory(stream), dispatcher, DefaultSupervisorConfig())
	require.NoError(t, s.Start(context.Background()))

	waitForEvents(t, dispatcher, 3)
	require.NoError(t, s.Stop())

	assert.Equal(t, []int64{1, 2, 3}, dispatcher.seenIDs())
	assert.True(t, stream.isClosed())
}

func TestSupervisorContinuesAfterHandlerError(t *testing.T) {
	stream := &fakeStream{events: []OutboxEvent{testEvent(1), testEvent(2), testEvent(3)}}
	dispatcher := newFakeDispatcher()
	dispatcher.failOn[2] = errors.New("document not found")

	s := NewSupervisor(singleStreamFactory(stream), dispatcher, DefaultSupervisorConfig())
	require.NoError(t, s.Start(context.Background()))

	waitForEvents(t, dispatcher, 3)
	require.NoError(t, s.Stop())

	assert.Equal(t, []int64{1, 2, 3}, dispatcher.seenIDs())
}

func TestSupervisorReconnectsAfterStreamFailure(t *testing.T) {
	clock := clockwork.NewFakeClock()
	first := &fakeStream{
		events: []OutboxEvent{testEvent(1), testEvent(2)},
		err:    errors.New("connection reset"),
	}
	second := &fakeStream{events: []OutboxEvent{testEvent(3)}}

	var mu sync.Mutex
	attempts := 0
	factory := func(ctx context.Context) (EventStream, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return first, nil
		}
		return second, nil
	}

	dispatcher := newFakeDispatcher()
	metrics := &countingMetrics{}
	cfg := SupervisorConfig{ReconnectDelay: 30 * time.Second}

	s := NewSupervisor(factory, dispatcher, cfg, WithClock(clock), WithMetrics(metrics))
	require.NoError(t, s.Start(context.Background()))

	waitForEvents(t, dispatcher, 2)

	// The stream fails after event 2; the supervisor must wait out the
	// fixed delay before building a fresh stream.
	clock.BlockUntil(1)
	clock.Advance(cfg.ReconnectDelay)

	waitForEvents(t, dispatcher, 1)
	require.NoError(t, s.Stop())

	assert.Equal(t, []int64{1, 2, 3}, dispatcher.seenIDs())
	assert.True(t, first.isClosed())

	mu.Lock()
	assert.Equal(t, 2, attempts)
	mu.Unlock()

	metrics.mu.Lock()
	assert.Equal(t, 1, metrics.restarts)
	metrics.mu.Unlock()
}

func TestSupervisorRetriesFailedConnect(t *testing.T) {
	clock := clockwork.NewFakeClock()
	stream := &fakeStream{events: []OutboxEvent{testEvent(1)}}

	var mu sync.Mutex
	attempts := 0
	factory := func(ctx context.Context) (EventStream, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return nil, errors.New("replication slot is active for PID 4711")
		}
		return stream, nil
	}

	dispatcher := newFakeDispatcher()
	cfg := SupervisorConfig{ReconnectDelay: 30 * time.Second}

	s := NewSupervisor(factory, dispatcher, cfg, WithClock(clock))
	require.NoError(t, s.Start(context.Background()))

	clock.BlockUntil(1)
	clock.Advance(cfg.ReconnectDelay)

	waitForEvents(t, dispatcher, 1)
	require.NoError(t, s.Stop())

	assert.Equal(t, []int64{1}, dispatcher.seenIDs())
}

func TestSupervisorRecordsSkippedEvents(t *testing.T) {
	stream := &fakeStream{events: []OutboxEvent{testEvent(1), testEvent(2)}}
	dispatcher := newFakeDispatcher()
	dispatcher.skipOn[1] = true
	metrics := &countingMetrics{}

	s := NewSupervisor(singleStreamFactory(stream), dispatcher, DefaultSupervisorConfig(), WithMetrics(metrics))
	require.NoError(t, s.Start(context.Background()))

	waitForEvents(t, dispatcher, 2)
	require.NoError(t, s.Stop())

	metrics.mu.Lock()
	assert.Equal(t, 1, metrics.skipped)
	assert.Equal(t, 1, metrics.processed)
	metrics.mu.Unlock()
}

func TestSupervisorStatsFollowInjectedClock(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	s := NewSupervisor(singleStreamFactory(&fakeStream{}), newFakeDispatcher(), DefaultSupervisorConfig(), WithClock(clock))

	s.handleEvent(context.Background(), testEvent(1))

	processed, last := s.Stats()
	assert.Equal(t, uint64(1), processed)
	assert.True(t, last.Equal(clock.Now()))
}

func TestSupervisorStartTwice(t *testing.T) {
	stream := &fakeStream{}
	s := NewSupervisor(singleStreamFactory(stream), newFakeDispatcher(), DefaultSupervisorConfig())
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
}
