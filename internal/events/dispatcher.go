package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"depot/pkg/backoff"
	"depot/pkg/circuitbreaker"
	"depot/pkg/cloudevent"
)

// Dispatcher is an in-memory async event dispatcher.
// Events are queued in a bounded channel and published by a worker pool.
// If the buffer is full, events are dropped (logged + metric incremented).
type Dispatcher struct {
	queue     chan *Event
	publisher cloudevent.Publisher
	breakers  *circuitbreaker.Registry
	backoff   backoff.Config
	config    Config
	logger    *slog.Logger
	metrics   MetricsRecorder

	// Internal counters (for Stats())
	queued       atomic.Int64
	delivered    atomic.Int64
	failed       atomic.Int64
	dropped      atomic.Int64
	requeued     atomic.Int64
	retriesTotal atomic.Int64

	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

// MetricsRecorder is an optional interface for recording dispatcher metrics.
type MetricsRecorder interface {
	RecordDispatcherDelivered(ctx context.Context, durationSeconds float64)
	RecordDispatcherFailed(ctx context.Context)
	RecordDispatcherDropped(ctx context.Context)
	RecordDispatcherRequeued(ctx context.Context)
	RecordDispatcherQueueSize(ctx context.Context, size int64)
}

// NewDispatcher creates a dispatcher publishing through publisher.
func NewDispatcher(cfg Config, publisher cloudevent.Publisher, metrics MetricsRecorder) *Dispatcher {
	cfg = cfg.withDefaults()

	d := &Dispatcher{
		queue:     make(chan *Event, cfg.BufferSize),
		publisher: publisher,
		breakers: circuitbreaker.NewRegistry(circuitbreaker.Config{
			Threshold: defaultBreakerThreshold,
			Cooldown:  defaultBreakerCooldown,
		}),
		backoff: backoff.Config{
			Initial: defaultInitialBackoff,
			Max:     defaultMaxBackoff,
			Jitter:  0.2,
		},
		config:   cfg,
		logger:   slog.With("component", "events"),
		metrics:  metrics,
		shutdown: make(chan struct{}),
	}

	d.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go d.worker()
	}

	if metrics != nil {
		go d.reportQueueSize()
	}

	d.logger.Info("Event dispatcher started", "workers", cfg.Workers, "buffer", cfg.BufferSize)
	return d
}

// reportQueueSize periodically reports the queue size metric.
func (d *Dispatcher) reportQueueSize() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.shutdown:
			return
		case <-ticker.C:
			d.metrics.RecordDispatcherQueueSize(context.Background(), int64(len(d.queue)))
		}
	}
}

// Dispatch queues an event for async publishing. It never blocks.
func (d *Dispatcher) Dispatch(event *Event) error {
	if d.closed.Load() {
		return ErrClosed
	}

	select {
	case d.queue <- event:
		d.queued.Add(1)
		return nil
	default:
		d.drop(event, "Event dropped, buffer full")
		return ErrBufferFull
	}
}

// Stats returns current dispatcher statistics.
func (d *Dispatcher) Stats() Stats {
	breakerStats := d.breakers.Stats()
	return Stats{
		QueueDepth:    len(d.queue),
		Queued:        d.queued.Load(),
		Delivered:     d.delivered.Load(),
		Failed:        d.failed.Load(),
		Dropped:       d.dropped.Load(),
		Requeued:      d.requeued.Load(),
		RetriesTotal:  d.retriesTotal.Load(),
		BreakersTotal: breakerStats.Total,
		BreakersOpen:  breakerStats.Open(),
		OpenSubjects:  breakerStats.OpenSubjects,
	}
}

// Close stops accepting events and publishes what is already queued.
// The context deadline controls how long to wait for the drain.
func (d *Dispatcher) Close(ctx context.Context) error {
	if d.closed.Swap(true) {
		return nil
	}

	d.logger.Info("Event dispatcher shutting down", "queued", len(d.queue))
	close(d.shutdown)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Event dispatcher shutdown complete",
			"delivered", d.delivered.Load(),
			"failed", d.failed.Load(),
			"dropped", d.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		d.logger.Warn("Event dispatcher shutdown timed out", "remaining", len(d.queue))
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.shutdown:
			d.drainQueue()
			return
		case event := <-d.queue:
			d.deliver(event)
		}
	}
}

// drainQueue publishes remaining events after the shutdown signal.
func (d *Dispatcher) drainQueue() {
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		default:
			return
		}
	}
}

// deliver publishes an event with retry behind the subject's circuit breaker.
func (d *Dispatcher) deliver(event *Event) {
	breaker := d.breakers.For(event.Subject)
	if !breaker.Allow() {
		d.requeue(event)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.config.PublishTimeout)
	defer cancel()

	start := time.Now()
	if err := d.publishWithRetry(ctx, event); err != nil {
		breaker.RecordFailure()
		d.failed.Add(1)
		if d.metrics != nil {
			d.metrics.RecordDispatcherFailed(ctx)
		}
		d.logger.Warn("Event publish failed", "subject", event.Subject, "type", event.Payload.Type, "error", err)
		return
	}

	breaker.RecordSuccess()
	d.delivered.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherDelivered(ctx, time.Since(start).Seconds())
	}
}

// requeue puts an event back in the queue after a delay when the circuit is open.
func (d *Dispatcher) requeue(event *Event) {
	if event.Requeues >= defaultMaxRequeues {
		d.drop(event, "Event dropped, max requeues reached")
		return
	}

	event.Requeues++
	d.requeued.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherRequeued(context.Background())
	}

	go func() {
		timer := time.NewTimer(d.config.RequeueDelay)
		defer timer.Stop()
		select {
		case <-d.shutdown:
			return
		case <-timer.C:
		}

		select {
		case d.queue <- event:
		case <-d.shutdown:
		default:
			d.drop(event, "Event dropped on requeue, buffer full")
		}
	}()
}

func (d *Dispatcher) drop(event *Event, reason string) {
	d.dropped.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherDropped(context.Background())
	}
	d.logger.Warn(reason, "subject", event.Subject, "type", event.Payload.Type, "requeues", event.Requeues)
}

func (d *Dispatcher) publishWithRetry(ctx context.Context, event *Event) error {
	var lastErr error
	for attempt := range defaultMaxRetries + 1 {
		if attempt > 0 {
			d.retriesTotal.Add(1)
			if err := backoff.Wait(ctx, attempt, &d.backoff); err != nil {
				return err
			}
		}

		lastErr = d.publisher.Publish(ctx, event.Subject, event.Payload)
		if lastErr == nil || cloudevent.IsPermanent(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
