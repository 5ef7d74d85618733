package bus

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/petal-labs/nodeschema/runtime"
)

// ThrottleConfig controls the behavior of ThrottledEmitter.
type ThrottleConfig struct {
	// CoalesceInterval is how often coalesced events are flushed.
	// Default: 100ms
	CoalesceInterval time.Duration

	// Kinds lists the coalesced event kinds. Default: value.changed.
	Kinds []runtime.EventKind
}

// ThrottledEmitter wraps an emitter and coalesces high-frequency events,
// such as the value.changed stream of a slider being dragged. Within each
// interval only the latest event per (kind, node, port, control) is kept;
// other kinds pass through immediately. Flushes preserve first-seen order.
type ThrottledEmitter struct {
	emit     runtime.EventEmitter
	interval time.Duration
	kinds    []runtime.EventKind

	mu      sync.Mutex
	pending map[string]runtime.Event
	order   []string
	closed  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewThrottledEmitter starts a ThrottledEmitter in front of emit. Close must
// be called to flush and stop it.
func NewThrottledEmitter(emit runtime.EventEmitter, cfg ThrottleConfig) *ThrottledEmitter {
	interval := cfg.CoalesceInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	kinds := slices.Clone(cfg.Kinds)
	if len(kinds) == 0 {
		kinds = []runtime.EventKind{runtime.EventValueChanged}
	}

	te := &ThrottledEmitter{
		emit:     emit,
		interval: interval,
		kinds:    kinds,
		pending:  make(map[string]runtime.Event),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go te.run()
	return te
}

// Emit forwards or buffers e. Coalesced kinds emitted after Close are dropped.
func (te *ThrottledEmitter) Emit(e runtime.Event) {
	if !slices.Contains(te.kinds, e.Kind) {
		te.emit(e)
		return
	}

	te.mu.Lock()
	defer te.mu.Unlock()
	if te.closed {
		return
	}
	key := coalesceKey(e)
	if _, ok := te.pending[key]; !ok {
		te.order = append(te.order, key)
	}
	te.pending[key] = e
}

// Close flushes pending events and stops the background ticker. It is safe
// to call Close multiple times.
func (te *ThrottledEmitter) Close() {
	te.mu.Lock()
	if te.closed {
		te.mu.Unlock()
		return
	}
	te.closed = true
	te.mu.Unlock()

	close(te.stopCh)
	<-te.doneCh
}

func (te *ThrottledEmitter) run() {
	defer close(te.doneCh)

	ticker := time.NewTicker(te.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			te.flush()
		case <-te.stopCh:
			te.flush()
			return
		}
	}
}

func (te *ThrottledEmitter) flush() {
	te.mu.Lock()
	if len(te.order) == 0 {
		te.mu.Unlock()
		return
	}
	pending, order := te.pending, te.order
	te.pending = make(map[string]runtime.Event)
	te.order = nil
	te.mu.Unlock()

	for _, key := range order {
		te.emit(pending[key])
	}
}

func coalesceKey(e runtime.Event) string {
	return fmt.Sprintf("%s\x00%s\x00%s\x00%v\x00%v", e.Kind, e.ConfigID, e.NodeID, e.Payload["port"], e.Payload["control"])
}
