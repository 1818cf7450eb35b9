package bus

import "github.com/texelec/z1core"

// applyAutomaticActions implements spec.md section 4.1's "Automatic
// actions on valid frames": auto-ACK for unicast frames that want one,
// auto-reply to PING, and TOPOLOGY ingestion. It is always called
// outside the Context mutex (TryReceiveFrame releases the lock first)
// since it may itself call SendFrame.
func (c *Context) applyAutomaticActions(f z1core.Frame) {
	if !f.CRCValid {
		return
	}

	switch f.Type {
	case z1core.FrameUnicast:
		if !f.NoAck {
			ack := []uint16{uint16(z1core.BusOpcodeACK), uint16(f.Stream)}
			if err := c.SendFrame(z1core.FrameAck, f.Src, f.Stream, true, ack); err != nil {
				c.log.WithError(err).Debug("auto-ack send failed")
				return
			}
			c.mu.Lock()
			c.stats.AutoAcksSent++
			c.mu.Unlock()
		}

	case z1core.FrameCtrl:
		if len(f.Payload) == 0 {
			return
		}
		switch z1core.BusOpcode(f.Payload[0]) {
		case z1core.BusOpcodePing:
			if f.Src == c.selfID || len(f.Payload) < 6 {
				return
			}
			reply := append([]uint16{uint16(z1core.BusOpcodePingReply)}, f.Payload[1:6]...)
			if err := c.SendFrame(z1core.FrameCtrl, f.Src, f.Stream, true, reply); err != nil {
				c.log.WithError(err).Debug("ping reply send failed")
				return
			}
			c.mu.Lock()
			c.stats.PingRepliesSent++
			c.mu.Unlock()

		case z1core.BusOpcodeTopology:
			if c.topology != nil {
				c.topology.ApplyTopologyFrame(f.Payload[1:])
			}
		}
	}
}
