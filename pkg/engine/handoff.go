package engine

import (
	"sync"
)

// checkpointHandoff coordinates which scanner is allowed to advance the
// shared checkpoint. The Past Scanner owns it exclusively until it has
// scanned through to the chain head; from that point on only the Live
// Scanner may advance it (§4.1/§4.2/§9) — otherwise a live block
// processed out of order could move the checkpoint past blocks the Past
// Scanner hasn't acknowledged yet.
type checkpointHandoff struct {
	mu       sync.Mutex
	pastDone bool
	signal   chan struct{}
	once     sync.Once
}

func newCheckpointHandoff() *checkpointHandoff {
	return &checkpointHandoff{signal: make(chan struct{})}
}

// signalPastDone is called by the Past Scanner when it has caught up to
// the chain head it observed at startup, or by Chain.Run up front in dev
// mode. Only the first call has an effect; later calls are no-ops.
func (h *checkpointHandoff) signalPastDone() {
	h.once.Do(func() {
		h.mu.Lock()
		h.pastDone = true
		h.mu.Unlock()
		close(h.signal)
	})
}

// pastDoneNow reports whether the Past Scanner has already finished,
// gating the Live Scanner's checkpoint writes.
func (h *checkpointHandoff) pastDoneNow() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pastDone
}
