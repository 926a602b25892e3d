package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	got   []Message
	delay time.Duration
	err   error
}

func (r *recorder) send(ctx context.Context, email, code, purpose string) error {
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, Message{Email: email, Code: code, Purpose: purpose})
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func TestSyncModeSendsInlineAndReturnsError(t *testing.T) {
	rec := &recorder{err: errors.New("relay refused")}
	d := NewDispatcher(Config{}, rec.send, nil)
	defer d.Close()

	err := d.Send(context.Background(), "a@x.io", "123456", "login")
	if err == nil {
		t.Fatal("sync mode must surface the send error")
	}
	if rec.count() != 1 {
		t.Fatalf("expected 1 inline send, got %d", rec.count())
	}
	if d.Failed() != 1 {
		t.Fatalf("expected 1 failure, got %d", d.Failed())
	}
}

func TestAsyncModeReturnsBeforeSlowSend(t *testing.T) {
	rec := &recorder{delay: 200 * time.Millisecond}
	d := NewDispatcher(Config{Async: true, BufferSize: 8, Workers: 2}, rec.send, nil)

	start := time.Now()
	if err := d.Send(context.Background(), "a@x.io", "123456", "login"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("enqueue waited on the sender: %v", elapsed)
	}

	d.Close()
	if rec.count() != 1 || d.Sent() != 1 {
		t.Fatalf("Close must drain queued mail, got %d sent", rec.count())
	}
}

func TestAsyncModeRejectsWhenFull(t *testing.T) {
	block := make(chan struct{})
	send := func(ctx context.Context, _, _, _ string) error {
		<-block
		return nil
	}
	d := NewDispatcher(Config{Async: true, BufferSize: 1, Workers: 1}, send, nil)
	defer d.Close()
	defer close(block)

	// First message occupies the worker, second fills the buffer.
	_ = d.Send(context.Background(), "a@x.io", "1", "login")
	deadline := time.Now().Add(time.Second)
	for len(d.ch) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	_ = d.Send(context.Background(), "b@x.io", "2", "login")

	if err := d.Send(context.Background(), "c@x.io", "3", "login"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if d.Rejected() != 1 {
		t.Fatalf("expected 1 rejected, got %d", d.Rejected())
	}
}

func TestClosedDispatcher(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(Config{Async: true}, rec.send, nil)
	d.Close()
	d.Close()

	if err := d.Send(context.Background(), "a@x.io", "1", "login"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	var nilDispatcher *Dispatcher
	if err := nilDispatcher.Send(context.Background(), "a@x.io", "1", "login"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from nil dispatcher, got %v", err)
	}
}
