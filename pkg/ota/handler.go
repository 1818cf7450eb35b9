package ota

import "github.com/texelec/z1core"

// Sender is the narrow broker capability the OTA handler needs to
// reply; *pkg/broker.Context satisfies it without either package
// importing the other.
type Sender interface {
	SendCommand(payload []uint16, dest uint8, stream uint8) bool
}

// Handler dispatches OTA control frames (stream z1core.StreamOTA) to a
// Session and replies over the broker, implementing the protocol
// table in spec.md section 4.4.
type Handler struct {
	session *Session
	sender  Sender
	reboot  func()
}

// NewHandler binds a Session to a broker Sender and a reboot hook
// (typically a watchdog trigger that preserves the node-ID scratch
// register, per spec.md section 4.5).
func NewHandler(session *Session, sender Sender, reboot func()) *Handler {
	return &Handler{session: session, sender: sender, reboot: reboot}
}

// HandleFrame processes one frame if it is an OTA control frame,
// returning true if it was consumed.
func (h *Handler) HandleFrame(f z1core.Frame) bool {
	if f.Type != z1core.FrameCtrl || !f.CRCValid || z1core.Stream(f.Stream) != z1core.StreamOTA {
		return false
	}
	if len(f.Payload) == 0 {
		return false
	}

	switch z1core.AppOpcode(f.Payload[0]) {
	case z1core.OpUpdateModeEnter:
		avail := h.session.EnterUpdateMode()
		lo, hi := encodeU32Pair(uint32(avail))
		h.reply(f.Src, []uint16{uint16(z1core.OpUpdateReady), lo, hi})

	case z1core.OpUpdateDataChunk:
		chunkNum, data, ok := decodeChunkPayload(f.Payload[1:])
		if !ok {
			return true
		}
		if err := h.session.AcceptChunk(chunkNum, data); err != nil {
			h.replyError(f.Src)
			return true
		}
		h.reply(f.Src, encodeU32Reply(uint16(z1core.OpUpdateAckChunk), chunkNum))

	case z1core.OpUpdatePoll:
		if len(f.Payload) < 2 {
			return true
		}
		if z1core.UpdatePollMode(f.Payload[1]) == z1core.UpdatePollVerify {
			h.reply(f.Src, encodeU32Reply(uint16(z1core.OpUpdateVerifyResp), h.session.StagedCRC32()))
		}

	case z1core.OpUpdateCommit:
		if err := h.session.Finalize(); err != nil {
			h.replyError(f.Src)
			return true
		}
		h.reply(f.Src, []uint16{uint16(z1core.OpUpdateCommitResp)})

	case z1core.OpUpdateModeExit:
		h.session.HandleExit(h.reboot)

	default:
		return false
	}
	return true
}

func (h *Handler) reply(dest uint8, payload []uint16) {
	h.sender.SendCommand(payload, dest, uint8(z1core.StreamOTA))
}

func (h *Handler) replyError(dest uint8) {
	h.reply(dest, []uint16{uint16(z1core.OpUpdateError), uint16(h.session.LastError())})
}
