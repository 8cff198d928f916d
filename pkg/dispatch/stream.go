package dispatch

import (
	"strings"
	"sync"
	"time"
)

// debouncer coalesces streamed text fragments and flushes them after a
// quiet interval, so the subscriber sees readable chunks instead of one
// event per token.
type debouncer struct {
	interval time.Duration
	flush    func(text string)

	mu      sync.Mutex
	pending strings.Builder
	timer   *time.Timer
	stopped bool
}

func newDebouncer(interval time.Duration, flush func(text string)) *debouncer {
	return &debouncer{interval: interval, flush: flush}
}

// add buffers a fragment and (re)arms the flush timer.
func (d *debouncer) add(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.pending.WriteString(text)
	if d.timer == nil {
		d.timer = time.AfterFunc(d.interval, d.fire)
	}
}

func (d *debouncer) fire() {
	d.mu.Lock()
	text := d.pending.String()
	d.pending.Reset()
	d.timer = nil
	stopped := d.stopped
	d.mu.Unlock()
	if text != "" && !stopped {
		d.flush(text)
	}
}

// stop flushes anything pending and disarms the timer. Idempotent.
func (d *debouncer) stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	text := d.pending.String()
	d.pending.Reset()
	d.mu.Unlock()
	if text != "" {
		d.flush(text)
	}
}
