// Package apic gives typed access to the registers of a local APIC.
//
// Every register is a single aligned 32-bit word at a fixed offset from the
// controller base. Accessors return a fresh handle on each call whose type
// fixes both the register's value type and whether it may be read, written
// or both. Nothing here validates register contents.
package apic

import (
	"fmt"

	"github.com/tinyrange/apic/internal/mmio"
)

// DefaultBaseAddress is the architectural reset base of the local APIC.
const DefaultBaseAddress uint64 = 0xFEE00000

// RegisterSpaceSize covers the standard and AMD extended register space.
const RegisterSpaceSize uint64 = 0x1000

// Offset is a register's byte offset from the controller base.
type Offset uint64

const (
	OffsetID                                      Offset = 0x20
	OffsetVersion                                 Offset = 0x30
	OffsetTaskPriority                            Offset = 0x80
	OffsetArbitrationPriority                     Offset = 0x90
	OffsetProcessorPriority                       Offset = 0xa0
	OffsetEndOfInterrupt                          Offset = 0xb0
	OffsetRemoteRead                              Offset = 0xc0
	OffsetLocalDestination                        Offset = 0xd0
	OffsetDestinationFormat                       Offset = 0xe0
	OffsetSpuriousInterruptVector                 Offset = 0xf0
	OffsetInService                               Offset = 0x100
	OffsetTriggerMode                             Offset = 0x180
	OffsetInterruptRequest                        Offset = 0x200
	OffsetErrorStatus                             Offset = 0x280
	OffsetInterruptCommand                        Offset = 0x300
	OffsetTimerLocalVectorTableEntry              Offset = 0x320
	OffsetThermalLocalVectorTableEntry            Offset = 0x330
	OffsetPerformanceCounterLocalVectorTableEntry Offset = 0x340
	OffsetLocalInterrupt0VectorTableEntry         Offset = 0x350
	OffsetLocalInterrupt1VectorTableEntry         Offset = 0x360
	OffsetErrorVectorTableEntry                   Offset = 0x370
	OffsetTimerInitialCount                       Offset = 0x380
	OffsetTimerCurrentCount                       Offset = 0x390
	OffsetTimerDivideConfiguration                Offset = 0x3e0
	OffsetExtendedApicFeature                     Offset = 0x400
	OffsetExtendedApicControl                     Offset = 0x410
	OffsetSpecificEndOfInterrupt                  Offset = 0x420
	OffsetInterruptEnable                         Offset = 0x480
	OffsetExtendedInterruptLocalVectorTable       Offset = 0x500
)

// Banked registers (ISR, TMR, IRR, IER) are eight words 16 bytes apart.
const (
	bankWords  = 8
	bankStride = 0x10

	// MaxExtendedLVT is the number of extended interrupt LVT slots in the
	// register map.
	MaxExtendedLVT = 4
)

// Controller is a handle on one local APIC. It holds only the base address
// and the bus; register handles are derived on demand.
type Controller struct {
	bus  mmio.Bus
	base uint64
}

// New returns a Controller for the local APIC mapped at base on bus. The
// caller guarantees the mapping outlives the Controller.
func New(bus mmio.Bus, base uint64) *Controller {
	return &Controller{bus: bus, base: base}
}

func (c *Controller) Base() uint64 { return c.base }

func (c *Controller) addr(off Offset) uint64 { return c.base + uint64(off) }

func readOnly[T mmio.Word](c *Controller, off Offset) mmio.ReadOnly[T] {
	return mmio.NewReadOnly[T](c.bus, c.addr(off))
}

func writeOnly[T mmio.Word](c *Controller, off Offset) mmio.WriteOnly[T] {
	return mmio.NewWriteOnly[T](c.bus, c.addr(off))
}

func readWrite[T mmio.Word](c *Controller, off Offset) mmio.ReadWrite[T] {
	return mmio.NewReadWrite[T](c.bus, c.addr(off))
}

func bankOffset(base Offset, n int) Offset {
	if n < 0 || n >= bankWords {
		panic(fmt.Sprintf("apic: bank word %d out of range [0, %d)", n, bankWords))
	}
	return base + Offset(n*bankStride)
}

func (c *Controller) ID() mmio.ReadWrite[ID] {
	return readWrite[ID](c, OffsetID)
}

func (c *Controller) Version() mmio.ReadOnly[Version] {
	return readOnly[Version](c, OffsetVersion)
}

func (c *Controller) TaskPriority() mmio.ReadWrite[Priority] {
	return readWrite[Priority](c, OffsetTaskPriority)
}

func (c *Controller) ArbitrationPriority() mmio.ReadOnly[Priority] {
	return readOnly[Priority](c, OffsetArbitrationPriority)
}

func (c *Controller) ProcessorPriority() mmio.ReadOnly[Priority] {
	return readOnly[Priority](c, OffsetProcessorPriority)
}

func (c *Controller) EndOfInterrupt() mmio.WriteOnly[EndOfInterrupt] {
	return writeOnly[EndOfInterrupt](c, OffsetEndOfInterrupt)
}

// SignalEndOfInterrupt completes the highest-priority in-service interrupt.
func (c *Controller) SignalEndOfInterrupt() {
	c.EndOfInterrupt().Write(0)
}

func (c *Controller) RemoteRead() mmio.ReadOnly[uint32] {
	return readOnly[uint32](c, OffsetRemoteRead)
}

func (c *Controller) LocalDestination() mmio.ReadWrite[uint32] {
	return readWrite[uint32](c, OffsetLocalDestination)
}

func (c *Controller) DestinationFormat() mmio.ReadWrite[uint32] {
	return readWrite[uint32](c, OffsetDestinationFormat)
}

func (c *Controller) SpuriousInterruptVector() mmio.ReadWrite[SpuriousInterruptVector] {
	return readWrite[SpuriousInterruptVector](c, OffsetSpuriousInterruptVector)
}

// InServiceWord returns word n of the in-service register bank.
func (c *Controller) InServiceWord(n int) mmio.ReadOnly[uint32] {
	return readOnly[uint32](c, bankOffset(OffsetInService, n))
}

func (c *Controller) TriggerModeWord(n int) mmio.ReadOnly[uint32] {
	return readOnly[uint32](c, bankOffset(OffsetTriggerMode, n))
}

func (c *Controller) InterruptRequestWord(n int) mmio.ReadOnly[uint32] {
	return readOnly[uint32](c, bankOffset(OffsetInterruptRequest, n))
}

func (c *Controller) readBank(base Offset) VectorSet {
	var s VectorSet
	for n := range s {
		s[n] = readOnly[uint32](c, bankOffset(base, n)).Read()
	}
	return s
}

// InService reads all eight ISR words. The words are read one at a time and
// the result is not a consistent snapshot.
func (c *Controller) InService() VectorSet { return c.readBank(OffsetInService) }

func (c *Controller) TriggerModes() VectorSet { return c.readBank(OffsetTriggerMode) }

func (c *Controller) InterruptRequests() VectorSet { return c.readBank(OffsetInterruptRequest) }

func (c *Controller) ErrorStatus() mmio.ReadWrite[ErrorStatus] {
	return readWrite[ErrorStatus](c, OffsetErrorStatus)
}

// InterruptCommand returns the low word of the interrupt command register.
// Writing it sends the IPI.
func (c *Controller) InterruptCommand() mmio.ReadWrite[uint32] {
	return readWrite[uint32](c, OffsetInterruptCommand)
}

func (c *Controller) TimerLocalVectorTableEntry() mmio.ReadWrite[TimerLocalVectorTableEntry] {
	return readWrite[TimerLocalVectorTableEntry](c, OffsetTimerLocalVectorTableEntry)
}

func (c *Controller) ThermalLocalVectorTableEntry() mmio.ReadWrite[LocalVectorTableEntry] {
	return readWrite[LocalVectorTableEntry](c, OffsetThermalLocalVectorTableEntry)
}

func (c *Controller) PerformanceCounterLocalVectorTableEntry() mmio.ReadWrite[LocalVectorTableEntry] {
	return readWrite[LocalVectorTableEntry](c, OffsetPerformanceCounterLocalVectorTableEntry)
}

func (c *Controller) LocalInterrupt0VectorTableEntry() mmio.ReadWrite[LocalVectorTableEntry] {
	return readWrite[LocalVectorTableEntry](c, OffsetLocalInterrupt0VectorTableEntry)
}

func (c *Controller) LocalInterrupt1VectorTableEntry() mmio.ReadWrite[LocalVectorTableEntry] {
	return readWrite[LocalVectorTableEntry](c, OffsetLocalInterrupt1VectorTableEntry)
}

func (c *Controller) ErrorVectorTableEntry() mmio.ReadWrite[LocalVectorTableEntry] {
	return readWrite[LocalVectorTableEntry](c, OffsetErrorVectorTableEntry)
}

func (c *Controller) TimerInitialCount() mmio.ReadWrite[uint32] {
	return readWrite[uint32](c, OffsetTimerInitialCount)
}

func (c *Controller) TimerCurrentCount() mmio.ReadOnly[uint32] {
	return readOnly[uint32](c, OffsetTimerCurrentCount)
}

func (c *Controller) TimerDivideConfiguration() mmio.ReadWrite[TimerDivideConfiguration] {
	return readWrite[TimerDivideConfiguration](c, OffsetTimerDivideConfiguration)
}

func (c *Controller) ExtendedApicFeature() mmio.ReadWrite[ExtendedApicFeature] {
	return readWrite[ExtendedApicFeature](c, OffsetExtendedApicFeature)
}

func (c *Controller) ExtendedApicControl() mmio.ReadWrite[ExtendedApicControl] {
	return readWrite[ExtendedApicControl](c, OffsetExtendedApicControl)
}

func (c *Controller) SpecificEndOfInterrupt() mmio.WriteOnly[SpecificEndOfInterrupt] {
	return writeOnly[SpecificEndOfInterrupt](c, OffsetSpecificEndOfInterrupt)
}

// InterruptEnableWord returns word n of the AMD interrupt enable bank.
func (c *Controller) InterruptEnableWord(n int) mmio.ReadWrite[uint32] {
	return readWrite[uint32](c, bankOffset(OffsetInterruptEnable, n))
}

// ExtendedInterruptLocalVectorTableEntry returns extended LVT slot n. It
// panics if n >= MaxExtendedLVT.
func (c *Controller) ExtendedInterruptLocalVectorTableEntry(n int) mmio.ReadWrite[LocalVectorTableEntry] {
	if n < 0 || n >= MaxExtendedLVT {
		panic(fmt.Sprintf("apic: extended LVT %d out of range [0, %d)", n, MaxExtendedLVT))
	}
	return readWrite[LocalVectorTableEntry](c, OffsetExtendedInterruptLocalVectorTable+Offset(n*bankStride))
}
