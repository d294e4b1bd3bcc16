// Package relay carries tokens from a generation session to a network
// writer through a bounded channel. The bound is the backpressure mechanism:
// when the consumer is slower than generation, sends block and generation
// throttles to the consumer's pace instead of buffering without limit.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync/atomic"

	"inferd/pkg/types"
)

// DefaultBuffer is the event-channel capacity when the caller does not
// configure one.
const DefaultBuffer = 100

// ErrTerminated is returned by Emit after the terminal event was sent.
var ErrTerminated = errors.New("relay: stream already terminated")

// Relay is the hand-off for exactly one generation session. The producer
// side (Emit, Done, Fail) must be driven from a single goroutine; Cancel and
// the consumer side are safe to use concurrently with it.
type Relay struct {
	ch       chan types.StreamEvent
	ctx      context.Context
	cancel   context.CancelFunc
	terminal atomic.Bool
}

// New builds a relay whose session context is derived from parent: parent
// cancellation (client disconnect, shutdown, timeout) cancels the session.
func New(parent context.Context, buffer int) *Relay {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ctx, cancel := context.WithCancel(parent)
	return &Relay{
		ch:     make(chan types.StreamEvent, buffer),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Context returns the session context. Generation runs under it and
// observes cancellation at the next step boundary.
func (r *Relay) Context() context.Context { return r.ctx }

// Cancel requests cooperative termination of the session. It is idempotent;
// it never interrupts a step in progress.
func (r *Relay) Cancel() { r.cancel() }

// Emit queues one token event, blocking while the channel is full. It
// returns the session context error once the session is cancelled.
func (r *Relay) Emit(token string) error {
	if r.terminal.Load() {
		return ErrTerminated
	}
	select {
	case r.ch <- types.StreamEvent{Token: token}:
		return nil
	case <-r.ctx.Done():
		return r.ctx.Err()
	}
}

// Done sends the normal-completion sentinel and closes the stream.
func (r *Relay) Done(content, finishReason string, usage types.Usage) {
	r.finish(types.StreamEvent{
		Done:         true,
		Content:      content,
		FinishReason: finishReason,
		Usage:        &usage,
	})
}

// Fail sends the terminal error event and closes the stream.
func (r *Relay) Fail(msg string, code int) {
	r.finish(types.StreamEvent{Error: msg, Code: code})
}

// finish delivers the terminal event at most once, then closes the channel
// so the consumer's range loop ends. A cancelled session still gets its
// terminal event whenever the channel has room; it is dropped only when the
// buffer is full and nobody is draining.
func (r *Relay) finish(ev types.StreamEvent) {
	if r.terminal.Swap(true) {
		return
	}
	select {
	case r.ch <- ev:
	default:
		select {
		case r.ch <- ev:
		case <-r.ctx.Done():
		}
	}
	close(r.ch)
	r.cancel()
}

// Events exposes the consumer side of the hand-off. The channel closes
// after the terminal event.
func (r *Relay) Events() <-chan types.StreamEvent { return r.ch }

// Stream writes every event to w as one NDJSON line, flushing after each
// when flush is set. A write failure cancels the session and returns the
// error; generation unblocks at its next step boundary.
func (r *Relay) Stream(w io.Writer, flush func()) error {
	enc := json.NewEncoder(w)
	for ev := range r.ch {
		if err := enc.Encode(ev); err != nil {
			r.Cancel()
			return err
		}
		if flush != nil {
			flush()
		}
	}
	return nil
}
