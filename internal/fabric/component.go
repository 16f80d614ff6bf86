package fabric

// unplaced marks a ComponentState whose slot on its current device has
// not yet been assigned — true only for a freshly admitted Add between
// the moment it is admitted and the moment a destination slot is
// resolved for it.
const unplaced = -1

// componentState tracks one component's location plus whatever
// in-flight metadata its current transfer needs.
type componentState struct {
	currentDevice string
	currentSlot   int

	pendingDestDevice string
	pendingDestSlot   int

	inOperation bool
	prepared    wakeSignal

	// cyclePredecessor is non-nil only while this component is a
	// participant in a just-released cycle (§4.1.5): the transfer
	// vacating the slot this component is rotating into, whose prepared
	// signal this component's hand-off must wait on in place of the
	// ordinary destination hand-off acquire.
	cyclePredecessor *componentState
}

func newComponentState(device string, slot int) *componentState {
	return &componentState{
		currentDevice:   device,
		currentSlot:     slot,
		pendingDestSlot: unplaced,
	}
}

// arm creates a fresh prepared signal for the transfer this component is
// about to be admitted into. Prepared signals are single-use, so each
// transfer gets its own.
func (c *componentState) arm() {
	c.prepared = newWakeSignal()
}

func (c *componentState) markPrepared() {
	c.prepared.release()
}

func (c *componentState) waitPrepared() {
	c.prepared.wait()
}

func (c *componentState) setPendingDest(device string, slot int) {
	c.pendingDestDevice = device
	c.pendingDestSlot = slot
}

func (c *componentState) clearPendingDest() {
	c.pendingDestDevice = ""
	c.pendingDestSlot = unplaced
}

// commit moves the component onto its pending destination once Perform
// has returned, per the Finalize step.
func (c *componentState) commit() {
	c.inOperation = false
	c.currentDevice = c.pendingDestDevice
	c.currentSlot = c.pendingDestSlot
	c.clearPendingDest()
}
