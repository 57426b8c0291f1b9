package mmio

import (
	"encoding/binary"
	"fmt"

	"github.com/tinyrange/apic/internal/hv"
)

// DeviceBus adapts an emulated device to the Bus contract. Device errors
// correspond to bus faults on real hardware and panic.
type DeviceBus struct {
	dev hv.MemoryMappedIODevice
}

func NewDeviceBus(dev hv.MemoryMappedIODevice) *DeviceBus {
	return &DeviceBus{dev: dev}
}

func (b *DeviceBus) Read32(addr uint64) uint32 {
	checkAligned(addr)
	var buf [WordSize]byte
	if err := b.dev.ReadMMIO(addr, buf[:]); err != nil {
		panic(fmt.Errorf("mmio: device read at %#x: %w", addr, err))
	}
	return binary.LittleEndian.Uint32(buf[:])
}

func (b *DeviceBus) Write32(addr uint64, value uint32) {
	checkAligned(addr)
	var buf [WordSize]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	if err := b.dev.WriteMMIO(addr, buf[:]); err != nil {
		panic(fmt.Errorf("mmio: device write at %#x: %w", addr, err))
	}
}

var _ Bus = (*DeviceBus)(nil)
