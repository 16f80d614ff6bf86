package fabric

import "sync"

// wakeSignal is a one-shot binary wake primitive: it is armed once,
// released at most once, and waited on by at most one goroutine. This is
// the primitive attached to a transfer's position in a WaitQueue (S1) and
// to a component's "prepared" state (S3). A channel that is closed
// exactly once on release is the natural Go realization of the
// mutex/condition-variable binary-signal idiom this codebase otherwise
// uses for cross-goroutine hand-off.
type wakeSignal chan struct{}

func newWakeSignal() wakeSignal {
	return make(wakeSignal)
}

func (s wakeSignal) release() {
	close(s)
}

func (s wakeSignal) wait() {
	<-s
}

// handoff is a reusable counting semaphore guarding a single device slot,
// mirroring the unbounded java.util.concurrent.Semaphore the original
// solver relies on rather than a fixed-capacity channel. It starts with
// one permit so a slot's first ever occupant can claim it without
// blocking; every later occupant must acquire before Perform and every
// vacating occupant must release right after its own Prepare (S2). A
// cycle hand-off (§4.1.5) releases a slot's permit without a matching
// acquire ever being issued for that same rotation, so the permit count
// must be free to exceed one rather than block a second release.
type handoff struct {
	mu      sync.Mutex
	cond    *sync.Cond
	permits int
}

func newHandoff() *handoff {
	h := &handoff{permits: 1}
	h.cond = sync.NewCond(&h.mu)
	return h
}

func (h *handoff) acquire() {
	h.mu.Lock()
	for h.permits == 0 {
		h.cond.Wait()
	}
	h.permits--
	h.mu.Unlock()
}

func (h *handoff) release() {
	h.mu.Lock()
	h.permits++
	h.cond.Signal()
	h.mu.Unlock()
}
