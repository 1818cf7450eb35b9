// Package bootloader implements spec.md section 4.5: application
// partition validation, node-ID persistence across soft resets, the
// boot countdown with its BOOT_NOW/OTA short-circuits, and the safe
// mode loop entered on validation failure. It is grounded on the
// teacher's cmd/canopen/main.go INIT/RUNNING/RESETING state machine,
// generalized from a CANopen node's NMT reset cycle to this bootloader's
// boot-then-handoff cycle.
package bootloader

import (
	"hash/crc32"
	"fmt"

	"github.com/texelec/z1core"
)

// ValidateApplication checks the four conditions spec.md section 4.5
// requires before jumping to the application: header magic, binary
// size bounds, the required entry offset, and a CRC32 match.
func ValidateApplication(header z1core.AppHeader, binary []byte) error {
	if header.Magic != z1core.AppMagic {
		return z1core.ErrInvalidMagic
	}
	if header.BinarySize == 0 || header.BinarySize > z1core.AppPartitionSize {
		return z1core.ErrInvalidSize
	}
	if header.EntryOffset != z1core.AppEntryOffset {
		return fmt.Errorf("bootloader: entry offset 0x%X, want 0x%X", header.EntryOffset, z1core.AppEntryOffset)
	}
	if uint32(len(binary)) < header.BinarySize {
		return z1core.ErrInvalidSize
	}
	if crc32.ChecksumIEEE(binary[:header.BinarySize]) != header.CRC32 {
		return z1core.ErrCRCMismatch
	}
	return nil
}
