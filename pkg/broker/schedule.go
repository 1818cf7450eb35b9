package broker

import "github.com/texelec/z1core"

// Task runs one scheduling step. It honors the single-frame rule of
// spec.md section 4.2: at most one frame is transmitted per call, to
// keep the inter-core queues responsive. Spike priority is strict
// over commands; spikes older than five seconds are purged on
// dequeue without counting against the single-frame budget, since
// purging transmits nothing.
func (c *Context) Task() {
	c.mu.Lock()
	if c.burstLockoutUntil != 0 && c.nowMicros() < c.burstLockoutUntil {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.purgeStaleSpikes()

	if req, ok := c.spikes.peekFront(); ok {
		c.attempt(c.spikes, req)
		return
	}
	if req, ok := c.commands.peekFront(); ok {
		c.attempt(c.commands, req)
	}
}

// purgeStaleSpikes drops every spike at the head of the queue older
// than five seconds, bounded by the queue's own depth so a clock that
// never advances cannot spin forever.
func (c *Context) purgeStaleSpikes() {
	limit := c.spikes.capacity()
	for i := 0; i < limit; i++ {
		req, ok := c.spikes.peekFront()
		if !ok {
			return
		}
		if c.nowMicros()-req.QueuedAtMicros < uint64(c.staleSpikeAgeMicros) {
			return
		}
		c.spikes.popFront()
		c.mu.Lock()
		c.stats.SpikesDropped++
		c.mu.Unlock()
	}
}

// attempt drives one transmit attempt for the request at the head of
// q, following spec.md's five-step CSMA sequence.
func (c *Context) attempt(q *queue, req Request) {
	deadline := c.nowMicros() + carrierWaitCeilingMicros
	for !c.core.Idle() {
		if c.nowMicros() >= deadline {
			c.mu.Lock()
			c.stats.BusBusySamples++
			c.mu.Unlock()
			return
		}
	}

	slot := uint32(clamp(c.core.SelfID(), 0, maxNodeIDForBackoff)) * c.backoffSlotMicros
	c.timer.SleepMicros(slot)

	if !c.core.Idle() {
		c.mu.Lock()
		c.stats.BusBusySamples++
		c.mu.Unlock()
		return
	}
	c.mu.Lock()
	c.stats.BusIdleSamples++
	c.mu.Unlock()

	// Commands always carry an opcode in payload[0] and ride as CTRL
	// frames even when addressed to z1core.BroadcastID (the RX address
	// match in pkg/bus treats BroadcastID as "addressed to us"
	// regardless of frame type, so CTRL needs no separate broadcast
	// type). Spikes have no opcode and use UNICAST/BROADCAST instead.
	frameType := z1core.FrameUnicast
	switch {
	case !req.IsSpike:
		frameType = z1core.FrameCtrl
	case req.Dest == z1core.BroadcastID:
		frameType = z1core.FrameBroadcast
	}

	sendErr := c.core.SendFrame(frameType, req.Dest, req.Stream, req.NoAck, req.Payload)

	c.mu.Lock()
	c.burstCount++
	if c.burstCount >= c.burstLimit {
		c.burstCount = 0
		c.burstLockoutUntil = c.nowMicros() + uint64(c.burstLockoutMicros)
		c.stats.BurstLockouts++
	}
	c.mu.Unlock()

	if sendErr == nil {
		c.mu.Lock()
		c.stats.observeLatency(c.nowMicros() - req.QueuedAtMicros)
		if req.IsSpike {
			c.stats.SpikesSent++
		} else {
			c.stats.CommandsSent++
		}
		c.mu.Unlock()
		q.popFront()
		return
	}

	req.Retries++
	c.mu.Lock()
	c.stats.RetryHistogram[clampHistogramIndex(req.Retries)]++
	c.mu.Unlock()
	if req.Retries >= c.maxRetries {
		q.popFront()
		c.mu.Lock()
		if req.IsSpike {
			c.stats.SpikesDropped++
		} else {
			c.stats.CommandsDropped++
		}
		c.mu.Unlock()
		return
	}
	q.updateFront(req)
}

func clamp(v uint8, lo, hi int) int {
	n := int(v)
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// clampHistogramIndex keeps an out-of-range retry count (a Config with
// MaxRetries beyond retryHistogramBuckets) from indexing past the end
// of Stats.RetryHistogram.
func clampHistogramIndex(retries int) int {
	if retries >= retryHistogramBuckets {
		return retryHistogramBuckets - 1
	}
	return retries
}
