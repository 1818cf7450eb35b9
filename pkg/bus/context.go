package bus

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/texelec/z1core"
)

const (
	// MaxBeatsPerCall bounds how many beats TryReceiveFrame will pump
	// in one invocation. spec.md section 9 calls the 1000-beat bound
	// authoritative: implementations may lower it, never raise it.
	MaxBeatsPerCall = 1000

	rxRecoveryRateLimit = 100 * time.Millisecond

	txFifoFillTimeoutMicros  = 2000
	txDrainTimeoutMicros     = 2000
	txAbortTimeoutMicros     = 1000
	carrierDischargeMicros   = 1
)

// Context is the bus core's long-lived state: the RX state machine,
// TX sequencing, and the automatic-action hooks (auto-ACK, PING
// reply, TOPOLOGY ingestion). One Context is owned by one bus core;
// it is safe to call TryReceiveFrame and SendFrame from different
// goroutines (mirroring the two hardware threads of spec.md section 5)
// but neither call is reentrant-safe with itself.
type Context struct {
	log     *logrus.Logger
	selfID  uint8
	engine  SerialEngine
	carrier CarrierSense
	ring    DMARing
	timer   z1core.Timer

	mu         sync.Mutex
	state      rxState
	rxConsumer int
	assembly   []uint16
	curType    z1core.FrameType
	curSrc     uint8
	curDest    uint8
	curStream  uint8
	curNoAck   bool
	payloadLen int // expected payload words for the frame in flight
	skipRemaining int

	stats Stats

	lastRecoveryMicros uint64
	haveRecovered      bool

	topology TopologyUpdater
}

// Option configures a Context at construction time.
type Option func(*Context)

// WithLogger overrides the default standard logger.
func WithLogger(log *logrus.Logger) Option {
	return func(c *Context) { c.log = log }
}

// WithTopologyUpdater wires a TOPOLOGY frame sink; without one,
// TOPOLOGY control frames are simply delivered to the caller like any
// other frame and not otherwise acted on.
func WithTopologyUpdater(t TopologyUpdater) Option {
	return func(c *Context) { c.topology = t }
}

// NewContext builds a bus Context bound to one set of hardware
// capability bindings.
func NewContext(selfID uint8, engine SerialEngine, carrier CarrierSense, ring DMARing, timer z1core.Timer, opts ...Option) *Context {
	c := &Context{
		selfID:   selfID,
		engine:   engine,
		carrier:  carrier,
		ring:     ring,
		timer:    timer,
		log:      logrus.StandardLogger(),
		state:    stateWaitHeader,
		assembly: make([]uint16, 0, z1core.MaxBeats),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stats returns a snapshot of the bus layer's counters.
func (c *Context) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// SelfID returns the node id this context answers to.
func (c *Context) SelfID() uint8 { return c.selfID }

// Idle implements z1core.CarrierProbe for callers (the broker) that
// only need the read half of carrier sense.
func (c *Context) Idle() bool { return c.carrier.Idle() }
