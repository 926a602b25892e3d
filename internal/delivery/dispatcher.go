package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrQueueFull indicates the async queue had no room for the message.
	ErrQueueFull = errors.New("delivery queue full")
	// ErrClosed indicates the dispatcher has been closed.
	ErrClosed = errors.New("delivery dispatcher closed")
)

// Message is one passcode mail.
type Message struct {
	Email   string
	Code    string
	Purpose string
}

// SendFunc performs the actual delivery.
type SendFunc func(ctx context.Context, email, code, purpose string) error

// Config controls dispatcher buffering behavior.
type Config struct {
	// Async selects queued delivery. When false, Enqueue sends inline.
	Async       bool
	BufferSize  int
	Workers     int
	SendTimeout time.Duration
}

// Dispatcher hands passcode mail to a SendFunc.
type Dispatcher struct {
	cfg       Config
	send      SendFunc
	logger    *slog.Logger
	ch        chan Message
	done      chan struct{}
	wg        sync.WaitGroup
	sent      atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts the worker pool when cfg.Async is set. logger may be nil.
func NewDispatcher(cfg Config, send SendFunc, logger *slog.Logger) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	d := &Dispatcher{
		cfg:    cfg,
		send:   send,
		logger: logger,
		done:   make(chan struct{}),
	}

	if cfg.Async {
		d.ch = make(chan Message, cfg.BufferSize)
		d.wg.Add(cfg.Workers)
		for i := 0; i < cfg.Workers; i++ {
			go d.run()
		}
	}
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case msg := <-d.ch:
			_ = d.deliver(context.Background(), msg)
		case <-d.done:
			for {
				select {
				case msg := <-d.ch:
					_ = d.deliver(context.Background(), msg)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	if err := d.send(ctx, msg.Email, msg.Code, msg.Purpose); err != nil {
		d.failed.Add(1)
		d.logger.Error("passcode delivery failed",
			slog.String("purpose", msg.Purpose),
			slog.Any("error", err),
		)
		return err
	}
	d.sent.Add(1)
	return nil
}

// Enqueue delivers msg. In async mode it returns once the message is queued;
// delivery errors are only logged and counted.
func (d *Dispatcher) Enqueue(ctx context.Context, msg Message) error {
	if d == nil || d.send == nil {
		return ErrClosed
	}
	if d.closed.Load() {
		return ErrClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.ch == nil {
		return d.deliver(context.WithoutCancel(ctx), msg)
	}

	select {
	case d.ch <- msg:
		return nil
	case <-d.done:
		return ErrClosed
	default:
		d.rejected.Add(1)
		d.logger.Warn("passcode delivery queue full", slog.String("purpose", msg.Purpose))
		return ErrQueueFull
	}
}

// Send adapts Enqueue to the SendFunc shape.
func (d *Dispatcher) Send(ctx context.Context, email, code, purpose string) error {
	return d.Enqueue(ctx, Message{Email: email, Code: code, Purpose: purpose})
}

// Close drains queued mail and stops the workers.
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

func (d *Dispatcher) Sent() uint64 {
	if d == nil {
		return 0
	}
	return d.sent.Load()
}

// Failed counts messages whose send returned an error.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}

// Rejected counts messages refused because the queue was full.
func (d *Dispatcher) Rejected() uint64 {
	if d == nil {
		return 0
	}
	return d.rejected.Load()
}
