package chipset

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/bits"
	"sync"

	"github.com/tinyrange/apic/internal/apic"
	"github.com/tinyrange/apic/internal/hv"
)

const (
	lapicVersion         = 0x10
	lapicMaxLVTEntry     = 5
	lapicExtendedLVTs    = apic.MaxExtendedLVT
	lapicRegisterStride  = 0x10
	lapicRegisterEntries = apic.RegisterSpaceSize / lapicRegisterStride
)

type lapicAccess uint8

const (
	lapicReadWrite lapicAccess = iota
	lapicReadOnly
	lapicWriteOnly
)

// lapicRegister describes how the device treats one register slot. Bits
// outside writable keep their current value on write.
type lapicRegister struct {
	access   lapicAccess
	writable uint32
	reset    uint32
}

var lapicRegisters = func() map[apic.Offset]lapicRegister {
	const lvtBits = 0x000107ff | 1<<13 | 1<<15
	regs := map[apic.Offset]lapicRegister{
		apic.OffsetID:      {access: lapicReadWrite, writable: 0xff000000},
		apic.OffsetVersion: {access: lapicReadOnly},
		apic.OffsetTaskPriority: {
			access: lapicReadWrite, writable: 0xff,
		},
		apic.OffsetArbitrationPriority: {access: lapicReadOnly},
		apic.OffsetProcessorPriority:   {access: lapicReadOnly},
		apic.OffsetEndOfInterrupt:      {access: lapicWriteOnly},
		apic.OffsetRemoteRead:          {access: lapicReadOnly},
		apic.OffsetLocalDestination:    {access: lapicReadWrite, writable: 0xff000000},
		apic.OffsetDestinationFormat: {
			access: lapicReadWrite, writable: 0xf0000000, reset: 0xffffffff,
		},
		apic.OffsetSpuriousInterruptVector: {
			access: lapicReadWrite, writable: 0x13ff, reset: 0xff,
		},
		apic.OffsetErrorStatus:      {access: lapicReadWrite},
		apic.OffsetInterruptCommand: {access: lapicReadWrite, writable: 0x000ccfff},
		apic.OffsetTimerLocalVectorTableEntry: {
			access: lapicReadWrite, writable: 0x000600ff | 1<<16, reset: 1 << 16,
		},
		apic.OffsetThermalLocalVectorTableEntry:            {access: lapicReadWrite, writable: lvtBits, reset: 1 << 16},
		apic.OffsetPerformanceCounterLocalVectorTableEntry: {access: lapicReadWrite, writable: lvtBits, reset: 1 << 16},
		apic.OffsetLocalInterrupt0VectorTableEntry:         {access: lapicReadWrite, writable: lvtBits, reset: 1 << 16},
		apic.OffsetLocalInterrupt1VectorTableEntry:         {access: lapicReadWrite, writable: lvtBits, reset: 1 << 16},
		apic.OffsetErrorVectorTableEntry:                   {access: lapicReadWrite, writable: lvtBits, reset: 1 << 16},
		apic.OffsetTimerInitialCount:                       {access: lapicReadWrite, writable: 0xffffffff},
		apic.OffsetTimerCurrentCount:                       {access: lapicReadOnly},
		apic.OffsetTimerDivideConfiguration:                {access: lapicReadWrite, writable: 0b1011},
		apic.OffsetExtendedApicFeature:                     {access: lapicReadOnly},
		apic.OffsetExtendedApicControl:                     {access: lapicReadWrite, writable: 0x7},
		apic.OffsetSpecificEndOfInterrupt:                  {access: lapicWriteOnly},
	}
	for n := apic.Offset(0); n < 8; n++ {
		regs[apic.OffsetInService+n*lapicRegisterStride] = lapicRegister{access: lapicReadOnly}
		regs[apic.OffsetTriggerMode+n*lapicRegisterStride] = lapicRegister{access: lapicReadOnly}
		regs[apic.OffsetInterruptRequest+n*lapicRegisterStride] = lapicRegister{access: lapicReadOnly}
		regs[apic.OffsetInterruptEnable+n*lapicRegisterStride] = lapicRegister{
			access: lapicReadWrite, writable: 0xffffffff, reset: 0xffffffff,
		}
	}
	for n := apic.Offset(0); n < lapicExtendedLVTs; n++ {
		regs[apic.OffsetExtendedInterruptLocalVectorTable+n*lapicRegisterStride] = lapicRegister{
			access: lapicReadWrite, writable: lvtBits, reset: 1 << 16,
		}
	}
	return regs
}()

// LocalAPIC emulates the register file of one local APIC. It models access
// restrictions, reset values and in-service bookkeeping for EOI; it does not
// run the timer or deliver interrupts.
type LocalAPIC struct {
	mu sync.Mutex

	base uint64
	regs [lapicRegisterEntries]uint32

	inService [8]uint32
	eois      uint64
	lastEOI   int
}

// NewLocalAPIC returns a local APIC at base with the given APIC ID.
func NewLocalAPIC(base uint64, id uint8) *LocalAPIC {
	l := &LocalAPIC{base: base, lastEOI: -1}
	for off, reg := range lapicRegisters {
		l.regs[off/lapicRegisterStride] = reg.reset
	}
	l.set(apic.OffsetID, uint32(id)<<24)
	l.set(apic.OffsetVersion, 1<<31|lapicMaxLVTEntry<<16|lapicVersion)
	l.set(apic.OffsetExtendedApicFeature, lapicExtendedLVTs<<16|0x7)
	return l
}

func (l *LocalAPIC) get(off apic.Offset) uint32 { return l.regs[off/lapicRegisterStride] }

func (l *LocalAPIC) set(off apic.Offset, v uint32) { l.regs[off/lapicRegisterStride] = v }

// Raise marks vector as in service, as if the CPU had accepted it.
func (l *LocalAPIC) Raise(vector uint8) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inService[vector/32] |= 1 << (vector % 32)
	l.syncInService()
}

// EOIs returns how many end-of-interrupt writes the device has seen and the
// vector retired by the last one, or -1 if none was in service.
func (l *LocalAPIC) EOIs() (count uint64, lastVector int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.eois, l.lastEOI
}

func (l *LocalAPIC) syncInService() {
	for n, w := range l.inService {
		l.set(apic.OffsetInService+apic.Offset(n)*lapicRegisterStride, w)
	}
}

func (l *LocalAPIC) retire(vector int) {
	l.eois++
	l.lastEOI = vector
	if vector >= 0 {
		l.inService[vector/32] &^= 1 << (vector % 32)
		l.syncInService()
	}
}

func (l *LocalAPIC) highestInService() int {
	for n := len(l.inService) - 1; n >= 0; n-- {
		if w := l.inService[n]; w != 0 {
			return n*32 + 31 - bits.LeadingZeros32(w)
		}
	}
	return -1
}

// MMIORegions implements hv.MemoryMappedIODevice.
func (l *LocalAPIC) MMIORegions() []hv.MMIORegion {
	return []hv.MMIORegion{{Address: l.base, Size: apic.RegisterSpaceSize}}
}

func (l *LocalAPIC) offset(addr uint64, size int) (apic.Offset, error) {
	if !(hv.MMIORegion{Address: l.base, Size: apic.RegisterSpaceSize}).Contains(addr, uint64(size)) {
		return 0, fmt.Errorf("lapic: access outside MMIO window: 0x%x", addr)
	}
	if size != 4 {
		return 0, fmt.Errorf("lapic: invalid access size %d at 0x%x", size, addr)
	}
	off := addr - l.base
	if off%lapicRegisterStride != 0 {
		return 0, fmt.Errorf("lapic: unaligned register access at offset 0x%x", off)
	}
	return apic.Offset(off), nil
}

// ReadMMIO implements hv.MemoryMappedIODevice. Reserved and write-only
// registers read as zero.
func (l *LocalAPIC) ReadMMIO(addr uint64, data []byte) error {
	off, err := l.offset(addr, len(data))
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var value uint32
	if reg, ok := lapicRegisters[off]; ok && reg.access != lapicWriteOnly {
		value = l.get(off)
	}
	binary.LittleEndian.PutUint32(data, value)
	return nil
}

// WriteMMIO implements hv.MemoryMappedIODevice.
func (l *LocalAPIC) WriteMMIO(addr uint64, data []byte) error {
	off, err := l.offset(addr, len(data))
	if err != nil {
		return err
	}
	value := binary.LittleEndian.Uint32(data)

	l.mu.Lock()
	defer l.mu.Unlock()

	reg, ok := lapicRegisters[off]
	switch {
	case !ok:
		slog.Debug("lapic: ignoring write to reserved register", "offset", fmt.Sprintf("%#x", uint64(off)))
	case off == apic.OffsetEndOfInterrupt:
		l.retire(l.highestInService())
	case off == apic.OffsetSpecificEndOfInterrupt:
		l.retire(int(uint8(value)))
	case reg.access == lapicReadOnly:
		slog.Debug("lapic: ignoring write to read-only register", "offset", fmt.Sprintf("%#x", uint64(off)))
	case off == apic.OffsetErrorStatus:
		// Writes latch accumulated errors; the model never raises any.
		l.set(off, 0)
	default:
		l.set(off, l.get(off)&^reg.writable|value&reg.writable)
		if off == apic.OffsetTimerInitialCount {
			l.set(apic.OffsetTimerCurrentCount, value)
		}
	}
	return nil
}

var _ hv.MemoryMappedIODevice = (*LocalAPIC)(nil)
