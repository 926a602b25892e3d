package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	// Enabled selects async delivery. When false, events are written inline
	// and sink errors are still swallowed.
	Enabled      bool
	BufferSize   int
	DropIfFull   bool
	WriteTimeout time.Duration
}

// Dispatcher forwards audit events to a sink without ever failing the caller.
type Dispatcher struct {
	cfg       Config
	sink      Sink
	logger    *slog.Logger
	now       func() time.Time
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts the background writer when cfg.Enabled is set.
// logger and now may be nil.
func NewDispatcher(cfg Config, sink Sink, logger *slog.Logger, now func() time.Time) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if now == nil {
		now = time.Now
	}

	d := &Dispatcher{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		now:    now,
		done:   make(chan struct{}),
	}

	if cfg.Enabled {
		d.ch = make(chan Event, cfg.BufferSize)
		d.wg.Add(1)
		go d.run()
	}

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.write(context.Background(), event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.write(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) write(ctx context.Context, event Event) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.WriteTimeout)
	defer cancel()

	if err := d.sink.Emit(ctx, event); err != nil {
		d.failed.Add(1)
		d.logger.Error("audit write failed",
			slog.String("kind", string(event.Kind)),
			slog.String("id", event.ID),
			slog.Any("error", err),
		)
	}
}

// Emit stamps the event with a server-side timestamp and ID and delivers it.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	event.Timestamp = d.now().UTC()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	if d.ch == nil {
		d.write(context.WithoutCancel(ctx), event)
		return
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.dropped.Add(1)
			d.logger.Warn("audit event dropped", slog.String("kind", string(event.Kind)))
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.done:
	}
}

// Close drains buffered events and stops the writer.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed counts events whose sink write returned an error.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
