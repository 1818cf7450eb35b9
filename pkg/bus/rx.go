package bus

import (
	"github.com/texelec/z1core"
)

type rxState uint8

const (
	stateWaitHeader rxState = iota
	stateWaitLength
	stateWaitPayload
	stateWaitCRC
	stateDiscardWaitLength
	stateDiscardSkip
)

// TryReceiveFrame pumps the RX state machine over whatever beats the
// DMA ring has accumulated since the last call, returning the first
// completed frame (if any) within a budget of MaxBeatsPerCall beats.
// It never blocks.
func (c *Context) TryReceiveFrame() (z1core.Frame, bool) {
	c.mu.Lock()
	frame, ready := c.pumpLocked()
	c.mu.Unlock()

	if ready {
		c.applyAutomaticActions(frame)
	}
	return frame, ready
}

func (c *Context) pumpLocked() (z1core.Frame, bool) {
	writeIdx := c.ring.WriteIndex()
	cap := c.ring.Capacity()
	if writeIdx < 0 || writeIdx >= cap {
		c.recoverLocked()
		return z1core.Frame{}, false
	}

	processed := 0
	for processed < MaxBeatsPerCall && c.rxConsumer != writeIdx {
		beat := c.ring.ReadAt(c.rxConsumer)
		c.rxConsumer = (c.rxConsumer + 1) % cap
		processed++

		if frame, ready := c.stepBeat(beat); ready {
			return frame, true
		}
	}
	return z1core.Frame{}, false
}

func (c *Context) stepBeat(beat uint16) (z1core.Frame, bool) {
	switch c.state {
	case stateWaitHeader:
		typ, src, dest, noAck, stream := z1core.DecodeHeader(beat)
		addressed := dest == z1core.BroadcastID || dest == c.selfID
		if addressed && typ == z1core.FrameUnicast && src == c.selfID {
			// Unicast only: a node must not process its own echo.
			// Broadcast and CTRL frames addressed to self are
			// accepted even when self-originated.
			addressed = false
		}
		if !addressed {
			c.state = stateDiscardWaitLength
			return z1core.Frame{}, false
		}
		c.curType = typ
		c.curSrc = src
		c.curDest = dest
		c.curNoAck = noAck
		c.curStream = stream
		c.assembly = c.assembly[:0]
		c.assembly = append(c.assembly, beat)
		c.state = stateWaitLength

	case stateWaitLength:
		if beat > z1core.MaxLengthBytes {
			// Desynchronized: flush everything currently buffered and
			// restart clean rather than attempt to skip a length we
			// cannot trust.
			c.stats.RxDesyncs++
			c.flushRingLocked()
			c.state = stateWaitHeader
			return z1core.Frame{}, false
		}
		c.assembly = append(c.assembly, beat)
		if beat == 0 {
			c.payloadLen = 0
			c.state = stateWaitCRC
		} else {
			c.payloadLen = int((beat + 1) / 2)
			c.state = stateWaitPayload
		}

	case stateWaitPayload:
		c.assembly = append(c.assembly, beat)
		if len(c.assembly)-2 == c.payloadLen {
			c.state = stateWaitCRC
		}

	case stateWaitCRC:
		crc := z1core.ComputeFrameCRC(c.assembly)
		frame := z1core.Frame{
			Type:     c.curType,
			Src:      c.curSrc,
			Dest:     c.curDest,
			Stream:   c.curStream,
			NoAck:    c.curNoAck,
			Length:   c.assembly[1],
			Payload:  append([]uint16(nil), c.assembly[2:]...),
			CRCValid: crc == beat,
		}
		if !frame.CRCValid {
			c.stats.CRCErrors++
		} else {
			c.stats.FramesReceived++
		}
		c.state = stateWaitHeader
		return frame, true

	case stateDiscardWaitLength:
		if beat > z1core.MaxLengthBytes {
			c.stats.RxDesyncs++
			c.flushRingLocked()
			c.state = stateWaitHeader
			return z1core.Frame{}, false
		}
		// Skip the payload words plus the trailing CRC beat.
		c.skipRemaining = int((beat+1)/2) + 1
		if c.skipRemaining == 0 {
			c.state = stateWaitHeader
		} else {
			c.state = stateDiscardSkip
		}

	case stateDiscardSkip:
		c.skipRemaining--
		if c.skipRemaining <= 0 {
			c.state = stateWaitHeader
		}
	}
	return z1core.Frame{}, false
}

// flushRingLocked drops every beat currently buffered in the ring by
// snapping the software read pointer to the current DMA write
// position, discarding whatever was mid-flight.
func (c *Context) flushRingLocked() {
	c.rxConsumer = c.ring.WriteIndex()
	c.assembly = c.assembly[:0]
}

func (c *Context) recoverLocked() {
	now := c.timer.NowMicros()
	if c.haveRecovered && now-c.lastRecoveryMicros < uint64(rxRecoveryRateLimit.Microseconds()) {
		return
	}
	c.lastRecoveryMicros = now
	c.haveRecovered = true

	c.log.WithField("node", c.selfID).Warn("dma write pointer out of range, running full rx recovery")
	c.engine.Abort()
	_ = c.engine.AwaitDrain(txAbortTimeoutMicros)
	if err := c.ring.Rearm(); err != nil {
		c.log.WithError(err).Error("rx recovery: failed to rearm dma ring")
	}
	c.state = stateWaitHeader
	c.rxConsumer = 0
	c.assembly = c.assembly[:0]
	c.stats.DmaRecoveries++
}
