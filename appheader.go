package z1core

import (
	"encoding/binary"
	"fmt"
)

const (
	// AppMagic identifies a valid .z1app application image.
	AppMagic uint32 = 0x5A314150
	// AppHeaderSize is the fixed size, in bytes, of the header record.
	AppHeaderSize = 192
	// AppEntryOffset is the required offset of the vector table within
	// the application partition.
	AppEntryOffset uint32 = 0xC0

	// AppPartitionBase is the flash address the application partition starts at.
	AppPartitionBase uint32 = 0x00080000
	// AppPartitionSize is the maximum size of the application partition.
	AppPartitionSize uint32 = 7680 * 1024
)

// AppHeader is the fixed 192-byte record at the start of the
// application partition.
type AppHeader struct {
	Magic          uint32
	VersionMajor   uint32
	VersionMinor   uint32
	VersionPatch   uint32
	Flags          uint32
	BinarySize     uint32
	CRC32          uint32
	EntryOffset    uint32
	Name           [32]byte
	Description    [64]byte
	Reserved       [64]byte
}

// ParseAppHeader decodes a 192-byte little-endian record.
func ParseAppHeader(buf []byte) (AppHeader, error) {
	var h AppHeader
	if len(buf) < AppHeaderSize {
		return h, fmt.Errorf("z1core: app header needs %d bytes, got %d", AppHeaderSize, len(buf))
	}
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	h.VersionMajor = binary.LittleEndian.Uint32(buf[4:8])
	h.VersionMinor = binary.LittleEndian.Uint32(buf[8:12])
	h.VersionPatch = binary.LittleEndian.Uint32(buf[12:16])
	h.Flags = binary.LittleEndian.Uint32(buf[16:20])
	h.BinarySize = binary.LittleEndian.Uint32(buf[20:24])
	h.CRC32 = binary.LittleEndian.Uint32(buf[24:28])
	h.EntryOffset = binary.LittleEndian.Uint32(buf[28:32])
	copy(h.Name[:], buf[32:64])
	copy(h.Description[:], buf[64:128])
	copy(h.Reserved[:], buf[128:192])
	return h, nil
}

// Encode serializes the header back to its 192-byte little-endian form,
// used by tests and by the harness that builds synthetic .z1app images.
func (h AppHeader) Encode() []byte {
	buf := make([]byte, AppHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.VersionMajor)
	binary.LittleEndian.PutUint32(buf[8:12], h.VersionMinor)
	binary.LittleEndian.PutUint32(buf[12:16], h.VersionPatch)
	binary.LittleEndian.PutUint32(buf[16:20], h.Flags)
	binary.LittleEndian.PutUint32(buf[20:24], h.BinarySize)
	binary.LittleEndian.PutUint32(buf[24:28], h.CRC32)
	binary.LittleEndian.PutUint32(buf[28:32], h.EntryOffset)
	copy(buf[32:64], h.Name[:])
	copy(buf[64:128], h.Description[:])
	copy(buf[128:192], h.Reserved[:])
	return buf
}
