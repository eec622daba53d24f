package engine

import "go.uber.org/atomic"

// DetectionGate admits at most one detection at a time. Frames that arrive while
// it is busy are dropped by the caller, never queued. The zero value is idle.
type DetectionGate struct {
	state atomic.Int32
}

func NewDetectionGate() *DetectionGate {
	g := &DetectionGate{}
	g.state.Store(IDLE)
	return g
}

// TryAcquire moves the gate from IDLE to BUSY and reports whether this call did it.
func (g *DetectionGate) TryAcquire() bool {
	return g.state.CompareAndSwap(IDLE, BUSY) || g.state.CompareAndSwap(0, BUSY)
}

func (g *DetectionGate) Release() {
	g.state.Store(IDLE)
}

func (g *DetectionGate) Busy() bool {
	return g.state.Load() == BUSY
}
