package bootloader

// scratchMagic tags the persistent scratch register as holding a
// valid node id, per spec.md's "(magic<<8) | node_id" persistent
// layout.
const scratchMagic uint32 = 0x5A

// NodeIDSource reads the four GPIO strapping pins.
type NodeIDSource interface {
	ReadStrappingPins() (uint8, error)
}

// ScratchRegister abstracts the single CPU-resident register that
// survives a soft (watchdog) reset but not a cold boot.
type ScratchRegister interface {
	Read() (uint32, error)
	Write(v uint32) error
	Clear() error
}

// ResolveNodeID implements spec.md's node-ID persistence rule: a
// tagged scratch value wins (a soft reset carrying an
// application-assigned identity forward), consumed and cleared so a
// stale tag never survives past one reset; otherwise the strapping
// pins are read, the cold-boot discovery path.
func ResolveNodeID(strapping NodeIDSource, scratch ScratchRegister) (uint8, error) {
	if raw, err := scratch.Read(); err == nil {
		if magic := uint32(raw >> 8); magic == scratchMagic {
			nodeID := uint8(raw)
			_ = scratch.Clear()
			return nodeID, nil
		}
	}
	return strapping.ReadStrappingPins()
}

// PersistNodeID tags nodeID into the scratch register ahead of a soft
// reset (e.g. one triggered by the OTA engine's watchdog reboot) so
// ResolveNodeID recovers the same identity without re-reading the
// strapping pins.
func PersistNodeID(scratch ScratchRegister, nodeID uint8) error {
	return scratch.Write(scratchMagic<<8 | uint32(nodeID))
}
