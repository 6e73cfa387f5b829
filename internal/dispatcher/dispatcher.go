package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/OCAP2/breakage/pkg/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrQueueFull is returned when a non-blocking buffered lane drops an event.
	ErrQueueFull = errors.New("queue full")
	ErrNoHandler = errors.New("no handler registered")
	ErrClosed    = errors.New("dispatcher closed")
)

// HandlerFunc processes a physics callback. The returned veto is only
// meaningful for immediate callbacks.
type HandlerFunc func(context.Context, core.PhysicsEvent) (veto bool, err error)

// Logger is satisfied by logging.DispatcherLogger and test doubles.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type Option func(*lane)

// Buffered queues logged callbacks of the kind for a background goroutine.
// Immediate callbacks always run inline so their veto reaches the engine.
func Buffered(size int) Option {
	return func(l *lane) { l.size = size }
}

// Blocking makes a full queue wait for room instead of dropping.
func Blocking() Option {
	return func(l *lane) { l.block = true }
}

// Logged traces each call at debug level and failures at error level.
func Logged() Option {
	return func(l *lane) { l.traced = true }
}

// lane is the registered handling of one event kind.
type lane struct {
	kind   core.EventKind
	handle HandlerFunc
	attrs  metric.MeasurementOption

	size   int
	block  bool
	traced bool
	queue  chan queued
}

type queued struct {
	ctx context.Context
	ev  core.PhysicsEvent
}

// Dispatcher routes physics callbacks to one handler per kind.
type Dispatcher struct {
	log Logger

	mu      sync.RWMutex
	lanes   map[core.EventKind]*lane
	retired []*lane // replaced buffered lanes, drained at Close
	closed  bool
	wg      sync.WaitGroup

	processed metric.Int64Counter
	dropped   metric.Int64Counter
	vetoed    metric.Int64Counter
}

// New uses the global OTel meter, which is a no-op unless one is installed.
func New(log Logger) (*Dispatcher, error) {
	d := &Dispatcher{log: log, lanes: make(map[core.EventKind]*lane)}
	if err := d.instrument(); err != nil {
		return nil, fmt.Errorf("dispatcher metrics: %w", err)
	}
	return d, nil
}

func (d *Dispatcher) instrument() error {
	m := meter()
	var errs [4]error
	d.processed, errs[0] = m.Int64Counter("dispatcher.events.processed",
		metric.WithDescription("Queued callbacks handled"))
	d.dropped, errs[1] = m.Int64Counter("dispatcher.events.dropped",
		metric.WithDescription("Callbacks dropped on a full queue"))
	d.vetoed, errs[2] = m.Int64Counter("dispatcher.events.vetoed",
		metric.WithDescription("Immediate callbacks vetoed"))
	_, errs[3] = m.Int64ObservableGauge("dispatcher.queue.size",
		metric.WithDescription("Callbacks waiting per kind"),
		metric.WithInt64Callback(d.observeQueues))
	return errors.Join(errs[:]...)
}

func (d *Dispatcher) observeQueues(_ context.Context, o metric.Int64Observer) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, l := range d.lanes {
		if l.queue != nil {
			o.Observe(int64(len(l.queue)), l.attrs)
		}
	}
	return nil
}

// Register installs h for kind, replacing any earlier handler.
func (d *Dispatcher) Register(kind core.EventKind, h HandlerFunc, opts ...Option) {
	l := &lane{kind: kind, handle: h, attrs: metric.WithAttributes(attribute.String("kind", kind.String()))}
	for _, opt := range opts {
		opt(l)
	}
	if l.traced {
		l.handle = d.trace(kind, l.handle)
	}
	if l.size > 0 {
		l.queue = make(chan queued, l.size)
		d.wg.Add(1)
		go d.drain(l)
	}

	d.mu.Lock()
	if old, ok := d.lanes[kind]; ok && old.queue != nil {
		d.retired = append(d.retired, old)
	}
	d.lanes[kind] = l
	d.mu.Unlock()
}

func (d *Dispatcher) HasHandler(kind core.EventKind) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.lanes[kind]
	return ok
}

// Dispatch stamps e and hands it to the kind's handler. Immediate events
// run inline and return the handler's veto; logged events on a buffered
// lane are queued and never veto.
func (d *Dispatcher) Dispatch(ctx context.Context, e core.PhysicsEvent) (bool, error) {
	d.mu.RLock()
	l, ok := d.lanes[e.Kind]
	d.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNoHandler, e.Kind)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	switch {
	case e.Mode == core.Immediate:
		veto, err := l.handle(ctx, e)
		if veto {
			d.vetoed.Add(ctx, 1, l.attrs)
		}
		return veto, err
	case l.queue == nil:
		return l.handle(ctx, e)
	default:
		return false, d.enqueue(ctx, l, e)
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, l *lane, e core.PhysicsEvent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return fmt.Errorf("%w: %s", ErrClosed, l.kind)
	}

	q := queued{ctx: context.WithoutCancel(ctx), ev: e}
	if l.block {
		l.queue <- q
		return nil
	}
	select {
	case l.queue <- q:
		return nil
	default:
		d.dropped.Add(ctx, 1, l.attrs)
		return fmt.Errorf("%w: %s", ErrQueueFull, l.kind)
	}
}

func (d *Dispatcher) drain(l *lane) {
	defer d.wg.Done()
	for q := range l.queue {
		if _, err := l.handle(q.ctx, q.ev); err != nil && !l.traced {
			d.log.Error("buffered handler failed", "kind", l.kind, "error", err)
		}
		d.processed.Add(context.Background(), 1, l.attrs)
	}
}

// Close rejects further queued callbacks and waits for the queues to empty.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, l := range d.retired {
		close(l.queue)
	}
	for _, l := range d.lanes {
		if l.queue != nil {
			close(l.queue)
		}
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) trace(kind core.EventKind, h HandlerFunc) HandlerFunc {
	return func(ctx context.Context, e core.PhysicsEvent) (bool, error) {
		start := time.Now()
		veto, err := h(ctx, e)
		if err != nil {
			d.log.Error("event failed", "kind", kind, "mode", e.Mode, "took", time.Since(start), "error", err)
			return veto, err
		}
		d.log.Debug("event handled", "kind", kind, "mode", e.Mode, "veto", veto, "took", time.Since(start))
		return veto, nil
	}
}
