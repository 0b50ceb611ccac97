package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Outcome reports what the dispatcher did with an event.
type Outcome int

const (
	Handled Outcome = iota
	Skipped
)

// EventDispatcher routes one outbox event to its handler.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event OutboxEvent) (Outcome, error)
}

// StreamFactory constructs a fresh event stream. The supervisor calls it on
// every (re)connect; stream state is never reused across restarts.
type StreamFactory func(ctx context.Context) (EventStream, error)

// SupervisorConfig holds the restart behavior of the stream supervisor.
type SupervisorConfig struct {
	// ReconnectDelay is the fixed wait between a stream-level failure and
	// the next connection attempt.
	ReconnectDelay time.Duration
}

// DefaultSupervisorConfig returns the reference configuration.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		ReconnectDelay: 30 * time.Second,
	}
}

// Supervisor owns the subscriber lifecycle. It keeps a stream attached for
// the life of the process: handler errors are contained per event, stream
// errors tear the stream down and rebuild it after a fixed delay. The slot
// resumes from its last confirmed position, so no committed event is lost.
type Supervisor struct {
	newStream  StreamFactory
	dispatcher EventDispatcher
	cfg        SupervisorConfig
	clock      clockwork.Clock
	metrics    MetricsCollector

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	statsMu         sync.Mutex
	eventsProcessed uint64
	lastEventTime   time.Time
}

func NewSupervisor(newStream StreamFactory, dispatcher EventDispatcher, cfg SupervisorConfig, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		newStream:  newStream,
		dispatcher: dispatcher,
		cfg:        cfg,
		clock:      clockwork.NewRealClock(),
		metrics:    &NoOpMetricsCollector{},
		stopChan:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SupervisorOption customizes a Supervisor.
type SupervisorOption func(*Supervisor)

// WithClock injects the clock used for the reconnect delay.
func WithClock(clock clockwork.Clock) SupervisorOption {
	return func(s *Supervisor) { s.clock = clock }
}

// WithMetrics injects a metrics collector.
func WithMetrics(metrics MetricsCollector) SupervisorOption {
	return func(s *Supervisor) { s.metrics = metrics }
}

func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("stream supervisor already running")
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx)

	log.Info().
		Dur("reconnect_delay", s.cfg.ReconnectDelay).
		Msg("stream supervisor started")

	return nil
}

func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("stream supervisor not running")
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()

	log.Info().Msg("stream supervisor stopped")
	return nil
}

// Running reports whether the supervisor loop is alive.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stats returns the number of processed events and the time of the last one.
func (s *Supervisor) Stats() (uint64, time.Time) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.eventsProcessed, s.lastEventTime
}

func (s *Supervisor) run(ctx context.Context) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-s.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		err := s.streamOnce(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}

		log.Error().
			Err(err).
			Dur("reconnect_delay", s.cfg.ReconnectDelay).
			Msg("event stream failed, reconnecting after delay")
		s.metrics.RecordStreamRestart()

		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.cfg.ReconnectDelay):
		}
	}
}

// streamOnce runs one stream attempt to completion. It returns nil only on
// shutdown; any stream-level error is handed back for the restart path.
func (s *Supervisor) streamOnce(ctx context.Context) error {
	stream, err := s.newStream(ctx)
	if err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := stream.Close(closeCtx); err != nil {
			log.Warn().Err(err).Msg("failed to close event stream")
		}
		closeCancel()
	}()

	log.Info().Msg("event stream attached")

	for {
		event, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read event stream: %w", err)
		}

		s.handleEvent(ctx, event)
	}
}

// handleEvent contains the per-event error boundary: one unprocessable event
// must never stop the flow of later events.
func (s *Supervisor) handleEvent(ctx context.Context, event OutboxEvent) {
	start := s.clock.Now()

	outcome, err := s.dispatcher.Dispatch(ctx, event)
	if err != nil {
		log.Error().
			Err(err).
			Int64("event_id", event.ID).
			Str("event_type", event.EventType).
			Str("lsn", event.LSN.String()).
			Msg("failed to handle event, continuing with next")
		s.metrics.RecordEventProcessed(event.EventType, false, s.clock.Since(start))
		return
	}

	if outcome == Skipped {
		s.metrics.RecordEventSkipped(event.EventType)
	} else {
		s.metrics.RecordEventProcessed(event.EventType, true, s.clock.Since(start))
	}

	s.statsMu.Lock()
	s.eventsProcessed++
	s.lastEventTime = s.clock.Now()
	s.statsMu.Unlock()

	log.Debug().
		Int64("event_id", event.ID).
		Str("event_type", event.EventType).
		Str("lsn", event.LSN.String()).
		Msg("event processed")
}
