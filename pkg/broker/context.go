// Package broker implements the CSMA arbitration layer of spec.md
// section 4.2: it multiplexes application send requests onto the bus
// with per-node priority backoff, retries transient collisions, ages
// stale spikes, and enforces transmit burst fairness. It is grounded
// on the teacher's bus_manager.go scheduling loop, generalized from
// CANopen's single best-effort send path to two prioritized queues.
package broker

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/texelec/z1core"
)

// Core is the bus-layer contract the broker drives. *pkg/bus.Context
// satisfies it without either package importing the other.
type Core interface {
	z1core.CarrierProbe
	SelfID() uint8
	SendFrame(t z1core.FrameType, dest uint8, stream uint8, noAck bool, payload []uint16) error
	TryReceiveFrame() (z1core.Frame, bool)
}

// Config sets queue depths and CSMA timing. DefaultConfig matches
// spec.md's application build; BootloaderConfig matches its
// bootloader build (spike queue depth zero, 8 command slots for OTA
// chunks only). The timing fields are threaded from pkg/z1config so a
// simulator or bench build can tune them without recompiling; a zero
// value falls back to the spec.md default for that field.
type Config struct {
	SpikeDepth   int
	CommandDepth int

	BackoffSlotMicros   uint32
	BurstLimit          int
	BurstLockoutMicros  uint32
	MaxRetries          int
	StaleSpikeAgeMicros uint32
}

func DefaultConfig() Config {
	return Config{
		SpikeDepth:          64,
		CommandDepth:        16,
		BackoffSlotMicros:   defaultBackoffSlotMicros,
		BurstLimit:          defaultBurstLimit,
		BurstLockoutMicros:  defaultBurstLockoutMicros,
		MaxRetries:          defaultMaxRetries,
		StaleSpikeAgeMicros: defaultStaleSpikeAgeMicros,
	}
}

func BootloaderConfig() Config {
	c := DefaultConfig()
	c.SpikeDepth = 0
	c.CommandDepth = 8
	return c
}

const (
	carrierWaitCeilingMicros = 500
	maxNodeIDForBackoff      = 16

	defaultBackoffSlotMicros   = 30
	defaultBurstLimit          = 10
	defaultBurstLockoutMicros  = 500
	defaultMaxRetries          = 3
	defaultStaleSpikeAgeMicros = 5_000_000

	// retryHistogramBuckets bounds Stats.RetryHistogram independent of
	// a build's configured MaxRetries; attempts beyond this land in
	// the last bucket instead of panicking.
	retryHistogramBuckets = 8
)

// Context is one broker instance, owned by the same core that owns
// the bus.Context it drives.
type Context struct {
	log   *logrus.Logger
	core  Core
	timer z1core.Timer

	spikes   *queue
	commands *queue

	backoffSlotMicros   uint32
	burstLimit          int
	burstLockoutMicros  uint32
	maxRetries          int
	staleSpikeAgeMicros uint32

	mu                sync.Mutex
	stats             Stats
	burstCount        int
	burstLockoutUntil uint64
}

// Option configures a Context at construction time.
type Option func(*Context)

func WithLogger(log *logrus.Logger) Option {
	return func(c *Context) { c.log = log }
}

func NewContext(core Core, timer z1core.Timer, cfg Config, opts ...Option) *Context {
	c := &Context{
		core:     core,
		timer:    timer,
		spikes:   newQueue(cfg.SpikeDepth),
		commands: newQueue(cfg.CommandDepth),
		log:      logrus.StandardLogger(),

		backoffSlotMicros:   cfg.BackoffSlotMicros,
		burstLimit:          cfg.BurstLimit,
		burstLockoutMicros:  cfg.BurstLockoutMicros,
		maxRetries:          cfg.MaxRetries,
		staleSpikeAgeMicros: cfg.StaleSpikeAgeMicros,
	}
	if c.backoffSlotMicros == 0 {
		c.backoffSlotMicros = defaultBackoffSlotMicros
	}
	if c.burstLimit == 0 {
		c.burstLimit = defaultBurstLimit
	}
	if c.burstLockoutMicros == 0 {
		c.burstLockoutMicros = defaultBurstLockoutMicros
	}
	if c.maxRetries == 0 {
		c.maxRetries = defaultMaxRetries
	}
	if c.staleSpikeAgeMicros == 0 {
		c.staleSpikeAgeMicros = defaultStaleSpikeAgeMicros
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendSpike enqueues a fire-and-forget frame. dest == z1core.BroadcastID
// produces a BROADCAST frame; any other destination produces a UNICAST
// frame with no_ack set, since spikes never expect an acknowledgement.
func (c *Context) SendSpike(payload []uint16, dest uint8, stream uint8) bool {
	req := Request{
		Payload:        append([]uint16(nil), payload...),
		Dest:           dest,
		Stream:         stream,
		NoAck:          true,
		IsSpike:        true,
		QueuedAtMicros: c.nowMicros(),
	}
	if !c.spikes.push(req) {
		c.mu.Lock()
		c.stats.SpikesDropped++
		c.mu.Unlock()
		return false
	}
	return true
}

// SendCommand enqueues a reliable CTRL frame; the application layer is
// responsible for interpreting any response.
func (c *Context) SendCommand(payload []uint16, dest uint8, stream uint8) bool {
	req := Request{
		Payload:        append([]uint16(nil), payload...),
		Dest:           dest,
		Stream:         stream,
		NoAck:          false,
		IsSpike:        false,
		QueuedAtMicros: c.nowMicros(),
	}
	if !c.commands.push(req) {
		c.mu.Lock()
		c.stats.CommandsDropped++
		c.mu.Unlock()
		return false
	}
	return true
}

// TryReceive is a thin wrapper delivering the next RX frame from the
// bus layer, per spec.md's public API.
func (c *Context) TryReceive() (z1core.Frame, bool) {
	return c.core.TryReceiveFrame()
}

// Stats returns a snapshot of broker counters.
func (c *Context) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// QueueDepths returns current occupancy of both queues.
func (c *Context) QueueDepths() QueueDepths {
	return QueueDepths{
		Spikes:          c.spikes.len(),
		SpikeCapacity:   c.spikes.capacity(),
		Commands:        c.commands.len(),
		CommandCapacity: c.commands.capacity(),
	}
}

func (c *Context) nowMicros() uint64 { return c.timer.NowMicros() }
