package broker

import (
	"testing"

	"github.com/texelec/z1core"
)

// fakeTimer auto-advances on every NowMicros() read so busy-wait loops
// in tests terminate deterministically without a real clock.
type fakeTimer struct {
	micros   uint64
	tickSize uint64
}

func (f *fakeTimer) NowMicros() uint64 {
	f.micros += f.tickSize
	return f.micros
}
func (f *fakeTimer) SleepMicros(d uint32) { f.micros += uint64(d) }

type fakeCore struct {
	selfID  uint8
	idle    bool
	sent    []sentFrame
	failNext int
}

type sentFrame struct {
	typ     z1core.FrameType
	dest    uint8
	stream  uint8
	noAck   bool
	payload []uint16
}

func (c *fakeCore) Idle() bool   { return c.idle }
func (c *fakeCore) SelfID() uint8 { return c.selfID }
func (c *fakeCore) SendFrame(t z1core.FrameType, dest uint8, stream uint8, noAck bool, payload []uint16) error {
	if c.failNext > 0 {
		c.failNext--
		return z1core.ErrTxTimeout
	}
	c.sent = append(c.sent, sentFrame{t, dest, stream, noAck, append([]uint16(nil), payload...)})
	return nil
}
func (c *fakeCore) TryReceiveFrame() (z1core.Frame, bool) { return z1core.Frame{}, false }

func TestSendSpikeThenTaskTransmitsUnicast(t *testing.T) {
	core := &fakeCore{selfID: 3, idle: true}
	timer := &fakeTimer{tickSize: 1}
	c := NewContext(core, timer, DefaultConfig())

	if !c.SendSpike([]uint16{0x42}, 5, 2) {
		t.Fatal("expected spike to enqueue")
	}
	c.Task()

	if len(core.sent) != 1 {
		t.Fatalf("expected one frame sent, got %d", len(core.sent))
	}
	f := core.sent[0]
	if f.typ != z1core.FrameUnicast || f.dest != 5 || !f.noAck {
		t.Fatalf("unexpected frame: %+v", f)
	}
	if c.Stats().SpikesSent != 1 {
		t.Fatalf("expected one spike sent, got %d", c.Stats().SpikesSent)
	}
	if c.QueueDepths().Spikes != 0 {
		t.Fatal("expected spike queue drained")
	}
}

func TestSendSpikeToBroadcastIDProducesBroadcastFrame(t *testing.T) {
	core := &fakeCore{selfID: 3, idle: true}
	c := NewContext(core, &fakeTimer{tickSize: 1}, DefaultConfig())

	c.SendSpike([]uint16{0x1}, z1core.BroadcastID, 4)
	c.Task()

	if core.sent[0].typ != z1core.FrameBroadcast {
		t.Fatalf("expected broadcast, got %v", core.sent[0].typ)
	}
}

func TestSendCommandProducesCtrlFrame(t *testing.T) {
	core := &fakeCore{selfID: 3, idle: true}
	c := NewContext(core, &fakeTimer{tickSize: 1}, DefaultConfig())

	c.SendCommand([]uint16{0x1}, 9, 0)
	c.Task()

	if core.sent[0].typ != z1core.FrameCtrl || core.sent[0].noAck {
		t.Fatalf("unexpected command frame: %+v", core.sent[0])
	}
	if c.Stats().CommandsSent != 1 {
		t.Fatalf("expected one command sent")
	}
}

func TestSendCommandToBroadcastIDStaysCtrlType(t *testing.T) {
	core := &fakeCore{selfID: 3, idle: true}
	c := NewContext(core, &fakeTimer{tickSize: 1}, DefaultConfig())

	c.SendCommand([]uint16{uint16(z1core.BusOpcodeTopology), 0, 0}, z1core.BroadcastID, 0)
	c.Task()

	if core.sent[0].typ != z1core.FrameCtrl {
		t.Fatalf("expected a broadcast-addressed command to stay CTRL type, got %v", core.sent[0].typ)
	}
	if core.sent[0].dest != z1core.BroadcastID {
		t.Fatalf("expected dest BroadcastID, got %d", core.sent[0].dest)
	}
}

func TestSpikePriorityOverCommand(t *testing.T) {
	core := &fakeCore{selfID: 3, idle: true}
	c := NewContext(core, &fakeTimer{tickSize: 1}, DefaultConfig())

	c.SendCommand([]uint16{0xC}, 9, 0)
	c.SendSpike([]uint16{0xD}, 9, 0)
	c.Task()

	if len(core.sent) != 1 || core.sent[0].payload[0] != 0xD {
		t.Fatalf("expected spike to win priority, got %+v", core.sent)
	}
	if c.QueueDepths().Commands != 1 {
		t.Fatal("expected command to remain queued")
	}
}

func TestSingleFrameRulePerTaskCall(t *testing.T) {
	core := &fakeCore{selfID: 3, idle: true}
	c := NewContext(core, &fakeTimer{tickSize: 1}, DefaultConfig())

	c.SendSpike([]uint16{1}, 9, 0)
	c.SendSpike([]uint16{2}, 9, 0)
	c.Task()

	if len(core.sent) != 1 {
		t.Fatalf("expected exactly one frame transmitted, got %d", len(core.sent))
	}
	if c.QueueDepths().Spikes != 1 {
		t.Fatal("expected one spike to remain for the next Task call")
	}
}

func TestBusBusyCeilingRecordsCollisionAndLeavesRequestQueued(t *testing.T) {
	core := &fakeCore{selfID: 3, idle: false}
	c := NewContext(core, &fakeTimer{tickSize: 100}, DefaultConfig())

	c.SendSpike([]uint16{1}, 9, 0)
	c.Task()

	if len(core.sent) != 0 {
		t.Fatal("expected no transmit while bus stays busy")
	}
	if c.Stats().BusBusySamples != 1 {
		t.Fatalf("expected one busy sample, got %d", c.Stats().BusBusySamples)
	}
	if c.QueueDepths().Spikes != 1 {
		t.Fatal("expected the spike to remain queued after a busy bus")
	}
}

func TestRetryExhaustionDropsRequest(t *testing.T) {
	core := &fakeCore{selfID: 3, idle: true, failNext: 3}
	c := NewContext(core, &fakeTimer{tickSize: 1}, DefaultConfig())

	c.SendCommand([]uint16{1}, 9, 0)
	c.Task()
	c.Task()
	c.Task()

	if c.QueueDepths().Commands != 0 {
		t.Fatal("expected command dropped after three failed retries")
	}
	if c.Stats().CommandsDropped != 1 {
		t.Fatalf("expected one command dropped, got %d", c.Stats().CommandsDropped)
	}
	if c.Stats().TotalRetries() != 3 {
		t.Fatalf("expected three failed attempts recorded across the histogram, got %d", c.Stats().TotalRetries())
	}
	hist := c.Stats().RetryHistogram
	if hist[1] != 1 || hist[2] != 1 || hist[3] != 1 {
		t.Fatalf("expected one attempt at each retry count 1..3, got %v", hist)
	}
}

func TestRetryLeavesRequestInPlaceUntilExhausted(t *testing.T) {
	core := &fakeCore{selfID: 3, idle: true, failNext: 1}
	c := NewContext(core, &fakeTimer{tickSize: 1}, DefaultConfig())

	c.SendCommand([]uint16{0xAA}, 9, 0)
	c.Task() // fails once, stays queued
	if c.QueueDepths().Commands != 1 {
		t.Fatal("expected command to remain queued after a single failure")
	}
	c.Task() // succeeds
	if c.QueueDepths().Commands != 0 {
		t.Fatal("expected command drained after succeeding")
	}
	if len(core.sent) != 1 || core.sent[0].payload[0] != 0xAA {
		t.Fatalf("unexpected final send: %+v", core.sent)
	}
}

func TestStaleSpikeDroppedBeforeTransmission(t *testing.T) {
	core := &fakeCore{selfID: 3, idle: true}
	timer := &fakeTimer{tickSize: 1}
	c := NewContext(core, timer, DefaultConfig())

	c.SendSpike([]uint16{1}, 9, 0)
	timer.micros += 6_000_000 // older than the 5 second staleness bound

	c.Task()

	if len(core.sent) != 0 {
		t.Fatal("expected the stale spike to be purged, not transmitted")
	}
	if c.Stats().SpikesDropped != 1 {
		t.Fatalf("expected one spike dropped for staleness, got %d", c.Stats().SpikesDropped)
	}
	if c.QueueDepths().Spikes != 0 {
		t.Fatal("expected spike queue empty after purge")
	}
}

func TestQueueFullReturnsFalse(t *testing.T) {
	core := &fakeCore{selfID: 3, idle: true}
	c := NewContext(core, &fakeTimer{tickSize: 1}, Config{SpikeDepth: 2, CommandDepth: 2})

	if !c.SendSpike([]uint16{1}, 9, 0) || !c.SendSpike([]uint16{2}, 9, 0) {
		t.Fatal("expected first two spikes to enqueue")
	}
	if c.SendSpike([]uint16{3}, 9, 0) {
		t.Fatal("expected third spike to be rejected once the queue is full")
	}
	if c.Stats().SpikesDropped != 1 {
		t.Fatalf("expected one spike dropped, got %d", c.Stats().SpikesDropped)
	}
}

func TestConfiguredMaxRetriesOverridesDefault(t *testing.T) {
	core := &fakeCore{selfID: 3, idle: true, failNext: 2}
	c := NewContext(core, &fakeTimer{tickSize: 1}, Config{
		SpikeDepth:   0,
		CommandDepth: 4,
		MaxRetries:   1,
	})

	c.SendCommand([]uint16{0xAA}, 9, 0)
	c.Task() // fails once, exhausted since MaxRetries is 1

	if c.QueueDepths().Commands != 0 {
		t.Fatal("expected the command dropped after a single configured retry")
	}
	if c.Stats().CommandsDropped != 1 {
		t.Fatalf("expected one command dropped, got %d", c.Stats().CommandsDropped)
	}
}

func TestBootloaderConfigHasNoSpikeQueue(t *testing.T) {
	core := &fakeCore{selfID: 16, idle: true}
	c := NewContext(core, &fakeTimer{tickSize: 1}, BootloaderConfig())

	if c.SendSpike([]uint16{1}, 9, 0) {
		t.Fatal("expected bootloader build to reject spikes outright")
	}
	if c.QueueDepths().CommandCapacity != 8 {
		t.Fatalf("expected 8 command slots, got %d", c.QueueDepths().CommandCapacity)
	}
}

func TestBurstLockoutSuppressesFurtherTransmission(t *testing.T) {
	core := &fakeCore{selfID: 0, idle: true} // node 0: zero backoff slot
	timer := &fakeTimer{tickSize: 1}
	c := NewContext(core, timer, DefaultConfig())

	for i := 0; i < defaultBurstLimit; i++ {
		c.SendSpike([]uint16{uint16(i)}, 9, 0)
		c.Task()
	}
	if c.Stats().BurstLockouts != 1 {
		t.Fatalf("expected burst lockout to arm after %d sends, got %d lockouts", defaultBurstLimit, c.Stats().BurstLockouts)
	}

	c.SendSpike([]uint16{99}, 9, 0)
	c.Task() // should be suppressed by the lockout window
	if len(core.sent) != defaultBurstLimit {
		t.Fatalf("expected no additional send during lockout, got %d total sent", len(core.sent))
	}

	timer.micros += defaultBurstLockoutMicros + 1
	c.Task()
	if len(core.sent) != defaultBurstLimit+1 {
		t.Fatalf("expected send to resume once the lockout window elapsed, got %d", len(core.sent))
	}
}
