package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// busBuffer bounds the number of frames awaiting serialization. Publishers
// block briefly when the serializer falls behind rather than reordering.
const busBuffer = 256

// sinkTimeout bounds a single sink write so one stalled subscriber cannot
// wedge the serializer goroutine.
const sinkTimeout = 10 * time.Second

// Sink receives serialized frames in publication order. Implemented by the
// WebSocket connection manager and by test capture sinks.
type Sink interface {
	Send(ctx context.Context, frame []byte) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, frame []byte) error

// Send calls the function.
func (f SinkFunc) Send(ctx context.Context, frame []byte) error { return f(ctx, frame) }

// Bus is the single ordered outbound channel for one session. A dedicated
// serializer goroutine drains a buffered channel so the order observed by
// the subscriber equals the order of publication regardless of which
// pipeline goroutine published.
//
// The bus is terminal-aware: Close marks the stream finished and all later
// publishes are dropped, satisfying the "no events after session_complete
// or error(recoverable=false)" contract.
type Bus struct {
	sessionID string
	logger    *slog.Logger

	ch   chan []byte
	quit chan struct{}
	done chan struct{}

	// pending counts publishers between the closed check and their send,
	// so Close can wait them out before closing the channel.
	pending sync.WaitGroup

	mu     sync.Mutex
	sink   Sink
	closed bool
}

// NewBus creates the bus for a session and starts its serializer.
// logger may be nil; when set, every published frame is also logged as a
// line in the session log.
func NewBus(sessionID string, logger *slog.Logger) *Bus {
	b := &Bus{
		sessionID: sessionID,
		logger:    logger,
		ch:        make(chan []byte, busBuffer),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go b.run()
	return b
}

// Attach registers the single subscriber sink, replacing any previous one.
// Frames published while no sink is attached are dropped (reconnection is
// the client's responsibility; missed events are not replayed).
func (b *Bus) Attach(sink Sink) {
	b.mu.Lock()
	b.sink = sink
	b.mu.Unlock()
}

// Detach removes the subscriber if it is the currently attached one.
func (b *Bus) Detach(sink Sink) {
	b.mu.Lock()
	if b.sink == sink {
		b.sink = nil
	}
	b.mu.Unlock()
}

// Publish serializes the payload and queues it for ordered delivery.
// No-op after Close. Payloads that fail to marshal are logged and dropped.
func (b *Bus) Publish(payload any) {
	frame, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("Failed to marshal event payload",
			"session_id", b.sessionID, "error", err)
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.pending.Add(1)
	b.mu.Unlock()
	defer b.pending.Done()

	// The send must not happen under the mutex: the serializer takes it
	// once per frame to read the sink, so a publisher blocking on a full
	// buffer while holding the lock would wedge both sides. quit releases
	// publishers caught mid-send by Close; those frames are dropped.
	select {
	case b.ch <- frame:
	case <-b.quit:
	}
}

// Close marks the stream terminal and stops the serializer after draining
// queued frames. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	// No new publisher can pass the closed check now. Release any that are
	// blocked on a full buffer, wait for in-flight sends to settle, and
	// only then close the channel for the serializer to drain.
	close(b.quit)
	b.pending.Wait()
	close(b.ch)
	<-b.done
}

// Closed reports whether the bus has been closed.
func (b *Bus) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Bus) run() {
	defer close(b.done)
	for frame := range b.ch {
		if b.logger != nil {
			b.logger.Info("event", "payload", json.RawMessage(frame))
		}

		b.mu.Lock()
		sink := b.sink
		b.mu.Unlock()
		if sink == nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		if err := sink.Send(ctx, frame); err != nil {
			slog.Warn("Failed to deliver event to subscriber",
				"session_id", b.sessionID, "error", err)
		}
		cancel()
	}
}
