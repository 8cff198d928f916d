package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
)

// maxReconnectAttempts caps consecutive failed opens before the subscriber
// gives up. The counter resets on every successful open.
const maxReconnectAttempts = 10

// SubscriberConn is the minimal connection surface the subscriber needs.
// Satisfied by *websocket.Conn through wsConn; tests inject mock channels.
type SubscriberConn interface {
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// DialFunc opens one connection to the session channel.
type DialFunc func(ctx context.Context) (SubscriberConn, error)

// Subscriber is a reconnecting client for the session event channel. It
// redials with capped exponential backoff: base 1 s, factor 2, max 30 s,
// at most maxReconnectAttempts consecutive failures.
type Subscriber struct {
	dial    DialFunc
	onEvent func(frame []byte)

	// sleep is injectable for deterministic backoff tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSubscriber creates a Subscriber. onEvent receives each frame in order.
func NewSubscriber(dial DialFunc, onEvent func(frame []byte)) *Subscriber {
	return &Subscriber{
		dial:    dial,
		onEvent: onEvent,
		sleep:   sleepCtx,
	}
}

// DialURL returns a DialFunc for a ws:// or wss:// session channel URL.
func DialURL(url string) DialFunc {
	return func(ctx context.Context) (SubscriberConn, error) {
		conn, _, err := websocket.Dial(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return wsConn{conn}, nil
	}
}

// Run connects and reads until ctx is cancelled or the retry budget is
// exhausted. Returns nil on cancellation.
func (s *Subscriber) Run(ctx context.Context) error {
	bo := newReconnectBackoff()
	failures := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := s.dial(ctx)
		if err != nil {
			failures++
			if failures >= maxReconnectAttempts {
				slog.Warn("Giving up on session channel after repeated failures",
					"attempts", failures)
				return errors.New("events: reconnect attempts exhausted")
			}
			if err := s.sleep(ctx, bo.NextBackOff()); err != nil {
				return nil
			}
			continue
		}

		// Successful open resets the ladder.
		failures = 0
		bo.Reset()

		readErr := s.readLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}

		// A connection that closed immediately still counts against the
		// retry budget until a read succeeds.
		if readErr != nil {
			failures++
			if failures >= maxReconnectAttempts {
				slog.Warn("Giving up on session channel after repeated failures",
					"attempts", failures)
				return errors.New("events: reconnect attempts exhausted")
			}
		}
		if err := s.sleep(ctx, bo.NextBackOff()); err != nil {
			return nil
		}
	}
}

// readLoop delivers frames until the connection errors. Returns nil once at
// least one frame was read (the next disconnect starts a fresh ladder).
func (s *Subscriber) readLoop(ctx context.Context, conn SubscriberConn) error {
	gotFrame := false
	for {
		frame, err := conn.Read(ctx)
		if err != nil {
			if gotFrame {
				return nil
			}
			return err
		}
		gotFrame = true
		if s.onEvent != nil {
			s.onEvent(frame)
		}
	}
}

func newReconnectBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.MaxInterval = 30 * time.Second
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type wsConn struct{ c *websocket.Conn }

func (w wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "")
}
