package bootloader

import "github.com/texelec/z1core"

// blinkHalfPeriodMicros toggles the red LED at 1 Hz, the user-visible
// failure indicator spec.md section 4.4 requires in safe mode.
const blinkHalfPeriodMicros = 500_000

// LED is the single red status indicator safe mode blinks.
type LED interface {
	SetRed(on bool)
}

// BrokerPump is the narrow broker capability safe mode drives each
// step; *pkg/broker.Context satisfies it.
type BrokerPump interface {
	Task()
}

// FrameHandler consumes one frame, reporting whether it recognized
// and acted on it. *pkg/ota.Handler satisfies it.
type FrameHandler interface {
	HandleFrame(f z1core.Frame) bool
}

// Sender replies to node-management requests (PING, READ_STATUS) that
// safe mode answers itself rather than handing to the OTA handler.
type Sender interface {
	SendCommand(payload []uint16, dest uint8, stream uint8) bool
}

// SafeMode is the bootloader runtime state entered on application
// validation failure or an OTA command arriving during the boot
// countdown. Per spec.md it serves only management + OTA opcodes.
type SafeMode struct {
	bus    FrameSource
	broker BrokerPump
	ota    FrameHandler
	sender Sender
	led    LED
	timer  z1core.Timer

	lastBlinkMicros uint64
	ledOn           bool
}

func NewSafeMode(bus FrameSource, broker BrokerPump, otaHandler FrameHandler, sender Sender, led LED, timer z1core.Timer) *SafeMode {
	return &SafeMode{bus: bus, broker: broker, ota: otaHandler, sender: sender, led: led, timer: timer}
}

// Step runs one iteration: service the broker, handle at most one RX
// frame, and blink the LED if its half-period has elapsed. The caller
// is responsible for invoking Step at >=100 Hz, the bus carrier-sense
// servicing rate spec.md requires.
func (s *SafeMode) Step() {
	s.broker.Task()

	if frame, ok := s.bus.TryReceiveFrame(); ok {
		if !s.ota.HandleFrame(frame) {
			s.handleNodeManagement(frame)
		}
	}

	now := s.timer.NowMicros()
	if now-s.lastBlinkMicros >= blinkHalfPeriodMicros {
		s.lastBlinkMicros = now
		s.ledOn = !s.ledOn
		s.led.SetRed(s.ledOn)
	}
}

func (s *SafeMode) handleNodeManagement(f z1core.Frame) {
	if f.Type != z1core.FrameCtrl || !f.CRCValid || len(f.Payload) == 0 {
		return
	}
	switch z1core.AppOpcode(f.Payload[0]) {
	case z1core.OpPing:
		s.sender.SendCommand([]uint16{uint16(z1core.OpPong)}, f.Src, uint8(z1core.StreamNodeMgmt))
	case z1core.OpReadStatus:
		s.sender.SendCommand([]uint16{uint16(z1core.OpStatusResponse), uint16(safeModeStatusCode)}, f.Src, uint8(z1core.StreamNodeMgmt))
	}
}

// safeModeStatusCode is the READ_STATUS payload value reported while
// in safe mode, distinguishing it from a running application.
const safeModeStatusCode = 0xFFFF
