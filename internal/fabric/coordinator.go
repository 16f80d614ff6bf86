package fabric

import (
	"sync"
	"time"
)

// Coordinator admits component transfers across a fixed set of
// capacity-bounded devices, blocking a caller only when neither an
// immediate slot nor a cycle of mutually-waiting transfers can make the
// request admissible right away.
//
// All bookkeeping fields are guarded by mu. Prepare and Perform are
// always invoked outside the lock, on the goroutine that called Execute
// for that particular transfer.
type Coordinator struct {
	mu         sync.Mutex
	devices    map[string]*deviceState
	components map[string]*componentState
	queues     map[string]*waitQueue
	recorder   Recorder
}

// Recorder receives coordinator events for observability. A nil
// Recorder (the default) disables all instrumentation.
type Recorder interface {
	ObserveOutcome(outcome string)
	SetQueueDepth(device string, depth int)
	ObserveQueueWait(device string, waited time.Duration)
}

// NewCoordinator builds a Coordinator over the given devices, each named
// by id and sized by its slot count, seeded with an initial placement of
// components onto devices. It fails if any device id is empty, any slot
// count is not positive, a placement names an unknown device, or a
// device's initial placement exceeds its capacity.
func NewCoordinator(devices map[string]int, placement map[string]string) (*Coordinator, error) {
	if len(devices) == 0 {
		return nil, &ConstructionError{Reason: "at least one device is required"}
	}

	c := &Coordinator{
		devices:    make(map[string]*deviceState, len(devices)),
		components: make(map[string]*componentState, len(placement)),
		queues:     make(map[string]*waitQueue, len(devices)),
	}

	for id, total := range devices {
		if id == "" {
			return nil, &ConstructionError{Reason: "device id must not be empty"}
		}
		if total <= 0 {
			return nil, &ConstructionError{Reason: "device slot count must be positive", Device: id}
		}
		c.devices[id] = newDeviceState(id, total)
		c.queues[id] = &waitQueue{}
	}

	for compID, devID := range placement {
		if compID == "" {
			return nil, &ConstructionError{Reason: "component id must not be empty"}
		}
		dev, ok := c.devices[devID]
		if !ok {
			return nil, &ConstructionError{Reason: "placed on a device that does not exist", Component: compID, Device: devID}
		}
		pos, ok := dev.initialReserve()
		if !ok {
			return nil, &ConstructionError{Reason: "initial placement exceeds device capacity", Device: devID}
		}
		dev.handoffAcquire(pos)
		c.components[compID] = newComponentState(devID, pos)
	}

	return c, nil
}

// SetRecorder attaches r as the coordinator's observability sink. It is
// not safe to call concurrently with Execute.
func (c *Coordinator) SetRecorder(r Recorder) {
	c.recorder = r
}

func (c *Coordinator) record(outcome string) {
	if c.recorder != nil {
		c.recorder.ObserveOutcome(outcome)
	}
}

func (c *Coordinator) reportQueueDepth(device string) {
	if c.recorder != nil {
		c.recorder.SetQueueDepth(device, len(*c.queues[device]))
	}
}

func (c *Coordinator) recordQueueWait(device string, waited time.Duration) {
	if c.recorder != nil {
		c.recorder.ObserveQueueWait(device, waited)
	}
}

// chainStep is one link of a wake-chain or a released cycle: the
// transfer, the componentState it owns, and (for every link but the one
// the caller drives inline) the wake signal that must be released once
// the coordinator's state has been fully updated.
type chainStep struct {
	transfer  Transfer
	component *componentState
	wake      wakeSignal
}

// Execute runs t to completion: validating it, admitting it (immediately,
// by joining a cycle, or by waiting in a queue), and driving its Prepare
// and Perform callbacks. It returns a *TransferError if t is rejected
// outright; it never returns an error once t has been admitted.
func (c *Coordinator) Execute(t Transfer) error {
	c.mu.Lock()

	k, err := c.validate(t)
	if err != nil {
		c.mu.Unlock()
		c.record("rejected")
		return err
	}

	componentID := t.ComponentID()
	dstDev, _ := t.DestinationDevice()
	srcDev, _ := t.SourceDevice()

	cs, exists := c.components[componentID]
	if !exists {
		cs = newComponentState(dstDev, unplaced)
		c.components[componentID] = cs
	}
	cs.inOperation = true
	cs.arm()

	if k == kindRemove {
		c.admitRemove(t, srcDev, cs)
		c.record("admitted_remove")
		return nil
	}

	if pos, ok := c.devices[dstDev].tryReserve(); ok {
		chain := c.walkChain(t, pos)
		c.releaseChain(chain[1:])
		c.reportQueueDepth(dstDev)
		c.mu.Unlock()
		c.record("admitted_immediate")
		c.runNonCycleHandoff(t, cs)
		return nil
	}

	if path := findCycle(c.queues, t); path != nil {
		steps := c.resolveCycle(path)
		c.releaseChain(steps[1:])
		c.mu.Unlock()
		c.record("admitted_cycle")
		c.runCycleHandoff(t, cs)
		return nil
	}

	w := newWakeSignal()
	c.queues[dstDev].enqueue(t, w)
	c.reportQueueDepth(dstDev)
	c.mu.Unlock()
	c.record("queued")

	queuedAt := time.Now()
	w.wait()
	c.recordQueueWait(dstDev, time.Since(queuedAt))
	if cs.cyclePredecessor != nil {
		c.runCycleHandoff(t, cs)
	} else {
		c.runNonCycleHandoff(t, cs)
	}
	return nil
}

// validate applies the admission checks of §4.1 in precedence order and
// classifies the transfer for the caller.
func (c *Coordinator) validate(t Transfer) (kind, error) {
	componentID := t.ComponentID()
	srcDev, hasSrc := t.SourceDevice()
	dstDev, hasDst := t.DestinationDevice()

	if !hasSrc && !hasDst {
		return 0, &TransferError{Tag: ErrTagIllegalTransferType, Component: componentID}
	}
	if hasSrc {
		if _, ok := c.devices[srcDev]; !ok {
			return 0, &TransferError{Tag: ErrTagDeviceDoesNotExist, Component: componentID, Device: srcDev}
		}
	}
	if hasDst {
		if _, ok := c.devices[dstDev]; !ok {
			return 0, &TransferError{Tag: ErrTagDeviceDoesNotExist, Component: componentID, Device: dstDev}
		}
	}

	cs, exists := c.components[componentID]

	if !hasSrc && exists {
		return 0, &TransferError{Tag: ErrTagComponentAlreadyExists, Component: componentID, Device: dstDev}
	}
	if hasSrc && (!exists || cs.currentDevice != srcDev) {
		return 0, &TransferError{Tag: ErrTagComponentDoesNotExist, Component: componentID, Device: srcDev}
	}
	if exists && hasDst && cs.currentDevice == dstDev {
		return 0, &TransferError{Tag: ErrTagComponentDoesNotNeedTransfer, Component: componentID, Device: dstDev}
	}
	if exists && cs.inOperation {
		return 0, &TransferError{Tag: ErrTagComponentIsBeingOperatedOn, Component: componentID}
	}

	return classify(hasSrc, hasDst), nil
}

// admitRemove implements §4.1.1: it frees the departing component's
// slot, and if a transfer is waiting for that device, dequeues it and
// runs a wake-chain from it before the caller's own Remove is driven.
func (c *Coordinator) admitRemove(t Transfer, srcDev string, cs *componentState) {
	p := cs.currentSlot
	c.devices[srcDev].markFree(p)

	var chain []chainStep
	if entry, ok := c.queues[srcDev].dequeueHead(); ok {
		chain = c.walkChain(entry.transfer, p)
		chain[0].wake = entry.wake
	}
	c.releaseChain(chain)
	c.reportQueueDepth(srcDev)
	c.mu.Unlock()

	t.Prepare()
	cs.markPrepared()
	c.devices[srcDev].handoffRelease(p)
	t.Perform()

	c.mu.Lock()
	delete(c.components, t.ComponentID())
	c.mu.Unlock()
}

// walkChain performs the wake-chain bookkeeping of §4.2, starting from t0
// which is about to occupy slot p0 on its destination device. It mutates
// device and component state for every transfer it touches, dequeuing
// successive links from their shared device's wait queue, and returns
// the full ordered chain. Element 0's wake signal is left unset; the
// caller knows whether it corresponds to an already-queued transfer.
func (c *Coordinator) walkChain(t0 Transfer, p0 int) []chainStep {
	chain := []chainStep{{transfer: t0, component: c.components[t0.ComponentID()]}}
	cur := t0
	slot := p0

	for {
		cs := c.components[cur.ComponentID()]
		dstDev, hasDst := cur.DestinationDevice()
		srcDev, hasSrc := cur.SourceDevice()

		cs.setPendingDest(dstDev, slot)
		if hasDst {
			c.devices[dstDev].markReserved(slot)
		}
		if hasSrc {
			c.devices[srcDev].markFree(cs.currentSlot)
		}
		if !hasSrc || srcDev == dstDev {
			return chain
		}

		nextSlot := cs.currentSlot
		entry, ok := c.queues[srcDev].dequeueHead()
		if !ok {
			return chain
		}
		c.reportQueueDepth(srcDev)
		chain = append(chain, chainStep{transfer: entry.transfer, component: c.components[entry.transfer.ComponentID()], wake: entry.wake})
		cur = entry.transfer
		slot = nextSlot
	}
}

// resolveCycle implements §4.6: it assigns every participant in path a
// pending destination slot equal to its predecessor's current slot,
// dequeues every participant but path[0] from its wait queue by
// identity, and wires each participant's cyclePredecessor so its
// hand-off knows whose prepared signal to wait on.
func (c *Coordinator) resolveCycle(path []Transfer) []chainStep {
	n := len(path)
	steps := make([]chainStep, n)
	for i, t := range path {
		steps[i] = chainStep{transfer: t, component: c.components[t.ComponentID()]}
	}

	closer := steps[n-1].component
	destPosition := closer.currentSlot
	for i := range steps {
		t := steps[i].transfer
		cs := steps[i].component
		dstDev, hasDst := t.DestinationDevice()
		srcDev, hasSrc := t.SourceDevice()

		cs.setPendingDest(dstDev, destPosition)
		if hasDst {
			c.devices[dstDev].markReserved(destPosition)
		}
		if hasSrc {
			c.devices[srcDev].markFree(cs.currentSlot)
			destPosition = cs.currentSlot
		}
	}

	for i := range steps {
		steps[i].component.cyclePredecessor = steps[(i-1+n)%n].component
	}

	for i := 1; i < n; i++ {
		dstDev, _ := steps[i].transfer.DestinationDevice()
		if wake, ok := c.queues[dstDev].removeByComponent(steps[i].transfer.ComponentID()); ok {
			steps[i].wake = wake
			c.reportQueueDepth(dstDev)
		}
	}

	return steps
}

func (c *Coordinator) releaseChain(chain []chainStep) {
	for _, step := range chain {
		if step.wake != nil {
			step.wake.release()
		}
	}
}

// runNonCycleHandoff implements the ordinary hand-off of §4.1.4.
func (c *Coordinator) runNonCycleHandoff(t Transfer, cs *componentState) {
	t.Prepare()
	cs.markPrepared()
	if srcDev, ok := t.SourceDevice(); ok {
		c.devices[srcDev].handoffRelease(cs.currentSlot)
	}
	dstDev, _ := t.DestinationDevice()
	c.devices[dstDev].handoffAcquire(cs.pendingDestSlot)
	t.Perform()
	c.finalize(cs)
}

// runCycleHandoff implements the cycle hand-off of §4.1.5: rather than
// acquiring its destination slot's hand-off, the transfer waits on its
// cycle predecessor's prepared signal, which stands in for that slot
// becoming logically available.
func (c *Coordinator) runCycleHandoff(t Transfer, cs *componentState) {
	t.Prepare()
	cs.markPrepared()

	pred := cs.cyclePredecessor
	cs.cyclePredecessor = nil
	pred.waitPrepared()

	if srcDev, ok := t.SourceDevice(); ok {
		c.devices[srcDev].handoffRelease(cs.currentSlot)
	}
	t.Perform()
	c.finalize(cs)
}

// finalize implements §4.4: commit the component's new location under
// the lock now that Perform has returned.
func (c *Coordinator) finalize(cs *componentState) {
	c.mu.Lock()
	cs.commit()
	c.mu.Unlock()
}
