// Package ota implements the bootloader-resident update state machine
// of spec.md section 4.4: chunked reception into a RAM staging buffer,
// CRC32 verification, and flash program-and-verify. It is grounded on
// the teacher's pkg/sdo block-download server (sdo/server.go,
// sdo/download_block.go), which drives an analogous
// receive-into-buffer-then-commit state machine over CANopen SDO
// segments; the session states and error taxonomy here are z1core's
// own (spec.md section 4.4), not CANopen's abort codes.
package ota

import (
	"fmt"
	"hash/crc32"

	"github.com/texelec/z1core"
)

// SessionState is one of the six states spec.md section 4.4 names.
type SessionState uint8

const (
	StateIdle SessionState = iota
	StateReceiving
	StateValidating
	StateProgramming
	StateComplete
	StateError
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateReceiving:
		return "RECEIVING"
	case StateValidating:
		return "VALIDATING"
	case StateProgramming:
		return "PROGRAMMING"
	case StateComplete:
		return "COMPLETE"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ErrorCode is the small enumerated set spec.md section 4.4 requires.
type ErrorCode uint8

const (
	ErrorNone ErrorCode = iota
	ErrorInvalidMagic
	ErrorCRCMismatch
	ErrorInvalidSize
	ErrorFlashError
	ErrorChunkSequence
)

// minImageSize is header + 256 bytes of binary, spec.md's stated
// finalize-time minimum.
const minImageSize = z1core.AppHeaderSize + 256

// Session is the transient per-node OTA state spec.md's entity list
// calls out: a staging buffer, a byte count, the next expected chunk
// number, a session state, and the last error code.
type Session struct {
	flash   z1core.FlashDevice
	staging []byte

	state         SessionState
	lastError     ErrorCode
	bytesReceived int
	nextChunk     uint32
}

// NewSession allocates a staging buffer sized for the largest image
// this build supports (the application partition).
func NewSession(flash z1core.FlashDevice, stagingCapacity int) *Session {
	return &Session{
		flash:   flash,
		staging: make([]byte, stagingCapacity),
		state:   StateIdle,
	}
}

// EnterUpdateMode resets the session for a new transfer and reports
// the buffer space available, the value UPDATE_READY reports back.
func (s *Session) EnterUpdateMode() int {
	s.state = StateReceiving
	s.lastError = ErrorNone
	s.bytesReceived = 0
	s.nextChunk = 0
	return len(s.staging)
}

func (s *Session) State() SessionState   { return s.state }
func (s *Session) LastError() ErrorCode  { return s.lastError }
func (s *Session) BytesReceived() int    { return s.bytesReceived }

// AcceptChunk enforces spec.md's chunk reception rules: chunks must
// arrive in order with no gap, and must not overflow the staging
// buffer. On success it copies the chunk in and ACKs by returning nil;
// the caller echoes chunkNum back on the wire.
func (s *Session) AcceptChunk(chunkNum uint32, data []byte) error {
	if s.state != StateReceiving {
		return fmt.Errorf("ota: chunk received outside RECEIVING state (current: %s)", s.state)
	}
	if chunkNum != s.nextChunk {
		s.lastError = ErrorChunkSequence
		s.state = StateError
		return z1core.ErrChunkSequence
	}
	if s.bytesReceived+len(data) > len(s.staging) {
		s.lastError = ErrorInvalidSize
		s.state = StateError
		return z1core.ErrInvalidSize
	}
	copy(s.staging[s.bytesReceived:], data)
	s.bytesReceived += len(data)
	s.nextChunk++
	return nil
}

// StagedCRC32 returns the CRC32 (IEEE 802.3, the same polynomial
// spec.md names) over everything accepted so far, what UPDATE_POLL
// (VERIFY) reports back mid-transfer before the image is complete.
func (s *Session) StagedCRC32() uint32 {
	return crc32.ChecksumIEEE(s.staging[:s.bytesReceived])
}

// Finalize runs spec.md's finalize rules: size and magic checks,
// CRC32 verification against the header, then erase/program/verify.
// On success the session moves to COMPLETE; on any failure it moves
// to ERROR with LastError set to the specific cause.
func (s *Session) Finalize() error {
	s.state = StateValidating

	if s.bytesReceived < minImageSize {
		return s.fail(ErrorInvalidSize, z1core.ErrInvalidSize)
	}
	header, err := z1core.ParseAppHeader(s.staging[:s.bytesReceived])
	if err != nil {
		return s.fail(ErrorInvalidSize, z1core.ErrInvalidSize)
	}
	if header.Magic != z1core.AppMagic {
		return s.fail(ErrorInvalidMagic, z1core.ErrInvalidMagic)
	}
	if header.BinarySize == 0 || header.BinarySize > z1core.AppPartitionSize {
		return s.fail(ErrorInvalidSize, z1core.ErrInvalidSize)
	}
	if uint32(s.bytesReceived) < header.BinarySize+z1core.AppHeaderSize {
		return s.fail(ErrorInvalidSize, z1core.ErrInvalidSize)
	}

	binaryStart := z1core.AppHeaderSize
	binaryEnd := binaryStart + int(header.BinarySize)
	binary := s.staging[binaryStart:binaryEnd]
	if crc32.ChecksumIEEE(binary) != header.CRC32 {
		return s.fail(ErrorCRCMismatch, z1core.ErrCRCMismatch)
	}

	s.state = StateProgramming
	image := s.staging[:binaryEnd]
	if err := s.programAndVerify(image); err != nil {
		return s.fail(ErrorFlashError, fmt.Errorf("%w: %v", z1core.ErrFlashError, err))
	}

	s.state = StateComplete
	s.lastError = ErrorNone
	return nil
}

func (s *Session) fail(code ErrorCode, err error) error {
	s.lastError = code
	s.state = StateError
	return err
}

// programAndVerify erases the application partition, programs it
// page-by-page, then reads every byte back for comparison, per
// spec.md's finalize rules.
func (s *Session) programAndVerify(image []byte) error {
	if err := s.flash.ErasePartition(z1core.AppPartitionBase, z1core.AppPartitionSize); err != nil {
		return fmt.Errorf("erase: %w", err)
	}

	pageSize := s.flash.PageSize()
	for offset := 0; offset < len(image); offset += pageSize {
		end := offset + pageSize
		if end > len(image) {
			end = len(image)
		}
		page := image[offset:end]
		if len(page) < pageSize {
			padded := make([]byte, pageSize)
			copy(padded, page)
			page = padded
		}
		if err := s.flash.ProgramPage(z1core.AppPartitionBase+uint32(offset), page); err != nil {
			return fmt.Errorf("program page at offset %d: %w", offset, err)
		}
	}

	readback := make([]byte, len(image))
	if err := s.flash.ReadAt(z1core.AppPartitionBase, readback); err != nil {
		return fmt.Errorf("readback: %w", err)
	}
	for i := range image {
		if readback[i] != image[i] {
			return fmt.Errorf("readback mismatch at offset %d", i)
		}
	}
	return nil
}

// HandleExit implements spec.md's UPDATE_MODE_EXIT behavior: reboot
// only if the session reached COMPLETE; otherwise the session is
// simply abandoned and returns to IDLE.
func (s *Session) HandleExit(reboot func()) {
	if s.state == StateComplete {
		reboot()
	}
	s.state = StateIdle
}
