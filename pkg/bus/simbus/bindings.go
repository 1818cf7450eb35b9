package simbus

import (
	"time"
)

// Engine implements bus.SerialEngine by publishing directly onto the
// shared Backplane; there is no real FIFO to drain, so every call
// succeeds immediately.
type Engine struct {
	bp     *Backplane
	nodeID uint8
}

func (e *Engine) TransmitBeats(beats []uint16, timeoutMicros uint32) error {
	e.bp.broadcast(beats)
	return nil
}

func (e *Engine) AwaitDrain(timeoutMicros uint32) error { return nil }
func (e *Engine) Abort()                                {}
func (e *Engine) ReleaseLines()                         {}

// Carrier implements bus.CarrierSense against the shared Backplane's
// single busy-node flag.
type Carrier struct {
	bp     *Backplane
	nodeID uint8
}

func (c *Carrier) Idle() bool {
	c.bp.mu.Lock()
	defer c.bp.mu.Unlock()
	return c.bp.busyNode == -1
}

func (c *Carrier) AssertHigh() {
	c.bp.mu.Lock()
	defer c.bp.mu.Unlock()
	c.bp.busyNode = int(c.nodeID)
}

func (c *Carrier) Float() {
	c.bp.mu.Lock()
	defer c.bp.mu.Unlock()
	if c.bp.busyNode == int(c.nodeID) {
		c.bp.busyNode = -1
	}
}

func (c *Carrier) PulseLowDischarge(minMicros uint32) {
	// Nothing to discharge in software; the real controller-side
	// pull-down re-establishes idle once every node has floated.
}

// Ring implements bus.DMARing against one node's receive ring.
type Ring struct {
	r *ring
}

func (dr *Ring) Capacity() int { return len(dr.r.buf) }

func (dr *Ring) WriteIndex() int {
	dr.r.mu.Lock()
	defer dr.r.mu.Unlock()
	return dr.r.writeIdx % len(dr.r.buf)
}

func (dr *Ring) ReadAt(i int) uint16 {
	dr.r.mu.Lock()
	defer dr.r.mu.Unlock()
	return dr.r.buf[i]
}

func (dr *Ring) Rearm() error { return nil }

// Timer implements z1core.Timer with a real wall clock; tests that
// need determinism construct bus.Context with their own fake instead.
type Timer struct{}

func (Timer) NowMicros() uint64 { return uint64(time.Now().UnixMicro()) }
func (Timer) SleepMicros(d uint32) {
	time.Sleep(time.Duration(d) * time.Microsecond)
}
