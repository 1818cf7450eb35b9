package bootloader

import "github.com/texelec/z1core"

// BootOutcome is what the 5-second boot countdown decided.
type BootOutcome uint8

const (
	OutcomeJumpToApp BootOutcome = iota
	OutcomeSafeMode
)

// FrameSource is the narrow bus capability the countdown needs.
type FrameSource interface {
	TryReceiveFrame() (z1core.Frame, bool)
}

// CountdownMicros is the 5-second window spec.md section 4.5 names.
const CountdownMicros = 5_000_000

// RunBootSequence services bus frames for up to CountdownMicros,
// short-circuiting on BOOT_NOW (jump immediately) or any OTA opcode
// (enter safe mode); on expiry it returns OutcomeJumpToApp. timer is
// sampled on every loop iteration so the deadline advances with real
// elapsed time regardless of how many frames arrive.
func RunBootSequence(frames FrameSource, timer z1core.Timer) BootOutcome {
	deadline := timer.NowMicros() + CountdownMicros
	for timer.NowMicros() < deadline {
		frame, ok := frames.TryReceiveFrame()
		if !ok {
			continue
		}
		if frame.Type != z1core.FrameCtrl || !frame.CRCValid || len(frame.Payload) == 0 {
			continue
		}
		op := z1core.AppOpcode(frame.Payload[0])
		if op == z1core.OpBootNow {
			return OutcomeJumpToApp
		}
		if isOTAOpcode(op) {
			return OutcomeSafeMode
		}
	}
	return OutcomeJumpToApp
}

func isOTAOpcode(op z1core.AppOpcode) bool {
	switch op {
	case z1core.OpUpdateModeEnter, z1core.OpUpdateStart, z1core.OpUpdateDataChunk,
		z1core.OpUpdatePoll, z1core.OpUpdateCommit, z1core.OpUpdateModeExit:
		return true
	}
	return false
}
