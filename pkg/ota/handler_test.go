package ota

import (
	"testing"

	"github.com/texelec/z1core"
)

type recordingSender struct {
	sent []sentCmd
}

type sentCmd struct {
	payload []uint16
	dest    uint8
	stream  uint8
}

func (r *recordingSender) SendCommand(payload []uint16, dest uint8, stream uint8) bool {
	r.sent = append(r.sent, sentCmd{append([]uint16(nil), payload...), dest, stream})
	return true
}

func ctrlFrame(src uint8, payload []uint16) z1core.Frame {
	return z1core.Frame{
		Type:     z1core.FrameCtrl,
		Src:      src,
		Dest:     z1core.ControllerID,
		Stream:   uint8(z1core.StreamOTA),
		CRCValid: true,
		Payload:  payload,
	}
}

func TestHandlerUpdateModeEnterRepliesReady(t *testing.T) {
	flash := newFakeFlash()
	session := NewSession(flash, int(z1core.AppPartitionSize))
	sender := &recordingSender{}
	h := NewHandler(session, sender, func() {})

	if !h.HandleFrame(ctrlFrame(3, []uint16{uint16(z1core.OpUpdateModeEnter)})) {
		t.Fatal("expected frame to be handled")
	}
	if len(sender.sent) != 1 || z1core.AppOpcode(sender.sent[0].payload[0]) != z1core.OpUpdateReady {
		t.Fatalf("unexpected reply: %+v", sender.sent)
	}
	if session.State() != StateReceiving {
		t.Fatalf("expected RECEIVING, got %v", session.State())
	}
}

func TestHandlerChunkRoundTrip(t *testing.T) {
	flash := newFakeFlash()
	session := NewSession(flash, int(z1core.AppPartitionSize))
	sender := &recordingSender{}
	h := NewHandler(session, sender, func() {})

	h.HandleFrame(ctrlFrame(3, []uint16{uint16(z1core.OpUpdateModeEnter)}))

	chunkPayload := append([]uint16{uint16(z1core.OpUpdateDataChunk)}, encodeChunkPayload(0, []byte{1, 2, 3, 4, 5})...)
	if !h.HandleFrame(ctrlFrame(3, chunkPayload)) {
		t.Fatal("expected chunk frame handled")
	}

	last := sender.sent[len(sender.sent)-1]
	if z1core.AppOpcode(last.payload[0]) != z1core.OpUpdateAckChunk {
		t.Fatalf("expected ack-chunk reply, got %+v", last)
	}
	echoedChunk := decodeU32Pair(last.payload[1], last.payload[2])
	if echoedChunk != 0 {
		t.Fatalf("expected echoed chunk 0, got %d", echoedChunk)
	}
	if session.BytesReceived() != 5 {
		t.Fatalf("expected 5 bytes received, got %d", session.BytesReceived())
	}
}

func TestHandlerChunkSequenceErrorReplyEchoesErrorCode(t *testing.T) {
	flash := newFakeFlash()
	session := NewSession(flash, int(z1core.AppPartitionSize))
	sender := &recordingSender{}
	h := NewHandler(session, sender, func() {})

	h.HandleFrame(ctrlFrame(3, []uint16{uint16(z1core.OpUpdateModeEnter)}))
	badChunk := append([]uint16{uint16(z1core.OpUpdateDataChunk)}, encodeChunkPayload(5, []byte{1})...)
	h.HandleFrame(ctrlFrame(3, badChunk))

	last := sender.sent[len(sender.sent)-1]
	if z1core.AppOpcode(last.payload[0]) != z1core.OpUpdateError {
		t.Fatalf("expected error reply, got %+v", last)
	}
	if ErrorCode(last.payload[1]) != ErrorChunkSequence {
		t.Fatalf("expected chunk-sequence error code, got %d", last.payload[1])
	}
}

func TestHandlerPollVerifyReportsCRC32(t *testing.T) {
	flash := newFakeFlash()
	session := NewSession(flash, int(z1core.AppPartitionSize))
	sender := &recordingSender{}
	h := NewHandler(session, sender, func() {})

	h.HandleFrame(ctrlFrame(3, []uint16{uint16(z1core.OpUpdateModeEnter)}))
	chunkPayload := append([]uint16{uint16(z1core.OpUpdateDataChunk)}, encodeChunkPayload(0, []byte{1, 2, 3})...)
	h.HandleFrame(ctrlFrame(3, chunkPayload))

	poll := []uint16{uint16(z1core.OpUpdatePoll), uint16(z1core.UpdatePollVerify)}
	h.HandleFrame(ctrlFrame(3, poll))

	last := sender.sent[len(sender.sent)-1]
	if z1core.AppOpcode(last.payload[0]) != z1core.OpUpdateVerifyResp {
		t.Fatalf("expected verify response, got %+v", last)
	}
	got := decodeU32Pair(last.payload[1], last.payload[2])
	if got != session.StagedCRC32() {
		t.Fatalf("expected reported crc to match staged crc, got %x vs %x", got, session.StagedCRC32())
	}
}

func TestHandlerCommitSuccessTriggersRebootOnExit(t *testing.T) {
	flash := newFakeFlash()
	session := NewSession(flash, int(z1core.AppPartitionSize))
	sender := &recordingSender{}
	rebooted := false
	h := NewHandler(session, sender, func() { rebooted = true })

	h.HandleFrame(ctrlFrame(3, []uint16{uint16(z1core.OpUpdateModeEnter)}))

	image := buildImage(t, 512)
	chunkPayload := append([]uint16{uint16(z1core.OpUpdateDataChunk)}, encodeChunkPayload(0, image)...)
	h.HandleFrame(ctrlFrame(3, chunkPayload))

	h.HandleFrame(ctrlFrame(3, []uint16{uint16(z1core.OpUpdateCommit)}))
	last := sender.sent[len(sender.sent)-1]
	if z1core.AppOpcode(last.payload[0]) != z1core.OpUpdateCommitResp {
		t.Fatalf("expected commit response, got %+v", last)
	}

	h.HandleFrame(ctrlFrame(3, []uint16{uint16(z1core.OpUpdateModeExit)}))
	if !rebooted {
		t.Fatal("expected reboot after a successful commit and mode exit")
	}
}

func TestHandlerIgnoresNonOTAFrames(t *testing.T) {
	flash := newFakeFlash()
	session := NewSession(flash, int(z1core.AppPartitionSize))
	sender := &recordingSender{}
	h := NewHandler(session, sender, func() {})

	f := z1core.Frame{Type: z1core.FrameCtrl, Stream: uint8(z1core.StreamNodeMgmt), CRCValid: true, Payload: []uint16{1}}
	if h.HandleFrame(f) {
		t.Fatal("expected non-OTA-stream frame to be ignored")
	}
	if len(sender.sent) != 0 {
		t.Fatal("expected no reply for an ignored frame")
	}
}
