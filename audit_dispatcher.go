package authgate

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// auditDispatcher moves audit delivery off request paths: events queue in a
// bounded channel and one worker feeds the sink. A nil dispatcher (audit
// disabled) accepts and discards everything.
type auditDispatcher struct {
	cfg    AuditConfig
	sink   AuditSink
	logger *slog.Logger
	queue  chan AuditEvent
	stop   chan struct{}
	worker sync.WaitGroup

	dropped  atomic.Uint64
	stopped  atomic.Bool
	stopOnce sync.Once

	// lastDropped is the EventType of the most recent dropped event.
	lastDropped atomic.Value
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink, logger *slog.Logger) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &auditDispatcher{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		queue:  make(chan AuditEvent, cfg.BufferSize),
		stop:   make(chan struct{}),
	}
	d.worker.Add(1)
	go d.loop()
	return d
}

func (d *auditDispatcher) loop() {
	defer d.worker.Done()

	ctx := context.Background()
	for {
		select {
		case event := <-d.queue:
			d.deliver(ctx, event)
		case <-d.stop:
			for {
				select {
				case event := <-d.queue:
					d.deliver(ctx, event)
				default:
					return
				}
			}
		}
	}
}

// deliver hands one event to the sink. A panicking sink loses that event,
// which counts as dropped, and the worker keeps draining.
func (d *auditDispatcher) deliver(ctx context.Context, event AuditEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.dropped.Add(1)
			d.logger.Error("audit sink panicked", "event_type", event.EventType, "panic", r)
		}
	}()
	d.sink.Emit(ctx, event)
}

// Emit queues event. With DropIfFull a full queue discards the event and
// records its type; otherwise Emit waits for room, ctx or Close.
func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil || d.stopped.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if !d.cfg.DropIfFull {
		select {
		case d.queue <- event:
		case <-ctx.Done():
		case <-d.stop:
		}
		return
	}

	select {
	case d.queue <- event:
	case <-d.stop:
	default:
		n := d.dropped.Add(1)
		// Repeated drops of one event type are counted, not logged.
		if d.lastDropped.Swap(event.EventType) != event.EventType {
			d.logger.Warn("audit queue full, dropping event", "event_type", event.EventType, "dropped_total", n)
		}
	}
}

// Close stops accepting events, flushes what is queued and waits for the
// worker. Safe to call more than once.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		d.stopped.Store(true)
		close(d.stop)
		d.worker.Wait()
	})
}

func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
