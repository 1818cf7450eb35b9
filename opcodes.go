package z1core

// BusOpcode is payload[0] for the bus layer's own control frames: the
// handful of opcodes the bus-RX state machine itself acts on
// automatically (ACK, PING/PING_REPLY, TOPOLOGY), independent of
// whatever application-layer opcode registry rides on top in stream
// payloads.
type BusOpcode uint16

const (
	BusOpcodeACK       BusOpcode = 0x0001
	BusOpcodePing      BusOpcode = 0x0002
	BusOpcodePingReply BusOpcode = 0x0003
	BusOpcodeTopology  BusOpcode = 0x0004
)

// Stream is the 3-bit logical channel number used for priority routing
// and opcode namespacing.
type Stream uint8

const (
	StreamNodeMgmt   Stream = 0
	StreamMemory     Stream = 1
	StreamSNNConfig  Stream = 2
	StreamSNNControl Stream = 3
	StreamOTA        Stream = 4
)

// AppOpcode is payload[0] for an application-layer CTRL frame riding on
// one of the streams above. The bus layer never interprets these; they
// are dispatched by the broker's consumer (pkg/ota for the OTA
// opcodes; node management/memory/SNN opcodes are handled by the
// application core, out of scope here).
type AppOpcode uint16

const (
	// Node management, stream 0.
	OpPing        AppOpcode = 0x01
	OpReset       AppOpcode = 0x02
	OpReadStatus  AppOpcode = 0x03
	OpSetLED      AppOpcode = 0x04
	OpDiscover    AppOpcode = 0x05
	// OpBootNow short-circuits the bootloader's boot countdown (section
	// 4.5). spec.md names it without a numeric value; it is assigned
	// here adjacent to the rest of the node-management group.
	OpBootNow        AppOpcode = 0x06
	OpPong           AppOpcode = 0x81
	OpStatusResponse AppOpcode = 0x83
	OpDiscoverAck    AppOpcode = 0x85

	// Memory access, stream 1.
	OpReadMemory  AppOpcode = 0x10
	OpWriteMemory AppOpcode = 0x11
	OpMemoryData  AppOpcode = 0x90
	OpWriteAck    AppOpcode = 0x91

	// SNN configuration, stream 2.
	OpDeployTopology AppOpcode = 0x20
	OpSetWeights     AppOpcode = 0x21
	OpSetParams      AppOpcode = 0x22
	OpSetRouting     AppOpcode = 0x23
	OpClearNeurons   AppOpcode = 0x24
	OpConfigAck      AppOpcode = 0xA0
	OpConfigError    AppOpcode = 0xA1
	OpConfigStatus   AppOpcode = 0xA2

	// SNN runtime control, stream 3.
	OpStart        AppOpcode = 0x30
	OpStop         AppOpcode = 0x31
	OpGetStatus    AppOpcode = 0x32
	OpReadSpikeLog AppOpcode = 0x33
	OpResetStats   AppOpcode = 0x34
	OpControlAck   AppOpcode = 0xB0
	OpControlError AppOpcode = 0xB1

	// OTA, stream 4. spec.md leaves the numeric encoding of this group
	// as an implementation decision (it only names the opcodes); the
	// values below are assigned contiguously after the SNN control group:
	// requests 0x40..0x45, responses 0xC0..0xC4.
	OpUpdateModeEnter AppOpcode = 0x40
	OpUpdateStart     AppOpcode = 0x41
	OpUpdateDataChunk AppOpcode = 0x42
	OpUpdatePoll      AppOpcode = 0x43
	OpUpdateCommit    AppOpcode = 0x44
	OpUpdateModeExit  AppOpcode = 0x45

	OpUpdateReady      AppOpcode = 0xC0
	OpUpdateAckChunk   AppOpcode = 0xC1
	OpUpdateVerifyResp AppOpcode = 0xC2
	OpUpdateCommitResp AppOpcode = 0xC3
	OpUpdateError      AppOpcode = 0xC4
)

// UpdatePollMode distinguishes the sub-operations UPDATE_POLL can request.
type UpdatePollMode uint16

const (
	UpdatePollVerify UpdatePollMode = 1
)
