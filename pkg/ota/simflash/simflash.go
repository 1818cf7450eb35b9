// Package simflash is an in-memory software binding of z1core.FlashDevice,
// used the way pkg/bus/simbus stands in for real silicon: a flat byte
// slice sized to the application partition, page-aligned program
// calls, and straightforward readback. It is not durable across
// process restarts, which is the one property real NOR flash has that
// this binding cannot simulate.
package simflash

import "fmt"

// Device is a software-backed flash partition.
type Device struct {
	base     uint32
	pageSize int
	data     []byte
}

// New allocates a Device covering [base, base+size).
func New(base uint32, size uint32, pageSize int) *Device {
	return &Device{base: base, pageSize: pageSize, data: make([]byte, size)}
}

func (d *Device) PageSize() int { return d.pageSize }

func (d *Device) ErasePartition(base, size uint32) error {
	if base != d.base || size > uint32(len(d.data)) {
		return fmt.Errorf("simflash: erase range [%#x, %#x) outside device", base, base+size)
	}
	for i := range d.data {
		d.data[i] = 0xFF
	}
	return nil
}

func (d *Device) ProgramPage(addr uint32, data []byte) error {
	off := int(addr - d.base)
	if off < 0 || off+len(data) > len(d.data) {
		return fmt.Errorf("simflash: program at %#x overflows device", addr)
	}
	copy(d.data[off:], data)
	return nil
}

func (d *Device) ReadAt(addr uint32, buf []byte) error {
	off := int(addr - d.base)
	if off < 0 || off+len(buf) > len(d.data) {
		return fmt.Errorf("simflash: read at %#x overflows device", addr)
	}
	copy(buf, d.data[off:])
	return nil
}
