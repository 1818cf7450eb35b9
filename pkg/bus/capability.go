// Package bus implements the source-synchronous frame layer described
// in spec.md section 4.1: CRC16-protected TX/RX over a shared 16-bit
// parallel backplane, auto-ACK, and auto-reply to PING and TOPOLOGY.
package bus

import "github.com/texelec/z1core"

// CarrierSense is the full read/write contract for the dedicated
// carrier-sense line: the current transmitter drives it, everyone else
// only reads it (z1core.CarrierProbe).
type CarrierSense interface {
	z1core.CarrierProbe
	AssertHigh()
	Float()
	// PulseLowDischarge actively pulls the line low for at least
	// minMicros before floating it, step (3) of the bus release order.
	PulseLowDischarge(minMicros uint32)
}

// SerialEngine models the programmable-IO shift engine driving the
// data and clock lines.
type SerialEngine interface {
	// TransmitBeats clocks out beats one at a time, failing with a
	// hard timeout if the FIFO cannot be kept fed or the shift engine
	// does not drain within timeoutMicros.
	TransmitBeats(beats []uint16, timeoutMicros uint32) error
	// AwaitDrain blocks until the last beat has left the shift
	// register, bounded by timeoutMicros.
	AwaitDrain(timeoutMicros uint32) error
	// Abort cancels any in-flight shift operation immediately.
	Abort()
	// ReleaseLines clears the data/clock outputs and returns them to
	// high-Z, steps (1)-(2) of the bus release order.
	ReleaseLines()
}

// DMARing models the hardware ring continuously filled by DMA from the
// receive shift register. Capacity must be a power of two so index
// arithmetic can mask instead of mod.
type DMARing interface {
	Capacity() int
	// WriteIndex is the producer position, read straight from the DMA
	// write-address register; it may race ahead of any software
	// bookkeeping.
	WriteIndex() int
	ReadAt(i int) uint16
	// Rearm restarts the DMA channel from a known-good state after a
	// full RX recovery.
	Rearm() error
}

// TopologyUpdater receives the payload of a validated TOPOLOGY control
// frame. pkg/topology.View implements this; pkg/bus never imports
// pkg/topology to avoid the cycle.
type TopologyUpdater interface {
	ApplyTopologyFrame(payload []uint16)
}
