package bus

import (
	"fmt"

	"github.com/texelec/z1core"
)

// SendFrame blocks until the wire transmission of one frame completes
// or a hard timeout fires. It drives carrier-sense high for the whole
// transmission and releases the bus in the order spec.md section 4.1
// requires: clear and float the data/clock lines, discharge
// carrier-sense low for a short pulse, then float carrier-sense.
func (c *Context) SendFrame(t z1core.FrameType, dest uint8, stream uint8, noAck bool, payload []uint16) error {
	if len(payload) == 0 || len(payload) > z1core.MaxPayloadWords {
		return z1core.ErrInvalidLength
	}

	c.mu.Lock()
	header := z1core.EncodeHeader(t, c.selfID, dest, noAck, stream)
	lengthBytes := uint16(len(payload) * 2)
	beats := make([]uint16, 0, 2+len(payload)+1)
	beats = append(beats, header, lengthBytes)
	beats = append(beats, payload...)
	crc := z1core.ComputeFrameCRC(beats)
	beats = append(beats, crc)
	c.mu.Unlock()

	start := c.timer.NowMicros()
	c.carrier.AssertHigh()
	err := c.engine.TransmitBeats(beats, txFifoFillTimeoutMicros)
	if err == nil {
		err = c.engine.AwaitDrain(txDrainTimeoutMicros)
	}
	elapsed := c.timer.NowMicros() - start
	c.releaseBus()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.stats.TxTimeouts++
		return fmt.Errorf("%w: %v", z1core.ErrTxTimeout, err)
	}
	c.stats.observeTxLatency(elapsed)
	c.stats.FramesSent++
	c.stats.BytesSent += uint64(len(beats)) * 2
	return nil
}

// releaseBus performs the four-step release sequence described in
// spec.md section 4.1: this ordering keeps a receiver from sampling
// stale data mid-release.
func (c *Context) releaseBus() {
	c.engine.ReleaseLines()                          // (1) clear, (2) float data/clock
	c.carrier.PulseLowDischarge(carrierDischargeMicros) // (3) discharge carrier-sense
	c.carrier.Float()                                // (4) release carrier-sense
}
