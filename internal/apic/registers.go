package apic

import "fmt"

// ID is the local APIC ID register.
type ID uint32

func (r ID) APICID() uint8 { return uint8(r >> 24) }

func (r ID) WithAPICID(id uint8) ID {
	return r&0x00ffffff | ID(id)<<24
}

// Version is the local APIC version register.
type Version uint32

func (r Version) Version() uint8 { return uint8(r) }

// MaxLVTEntry is the index of the last local vector table entry.
func (r Version) MaxLVTEntry() uint8 { return uint8(r >> 16) }

func (r Version) LVTEntries() int { return int(r.MaxLVTEntry()) + 1 }

// ExtendedRegisterSpace reports whether the extended APIC registers at
// 0x400 and above are present.
func (r Version) ExtendedRegisterSpace() bool { return r>>31&1 == 1 }

// Priority is the layout shared by the task, arbitration and processor
// priority registers.
type Priority uint32

func (r Priority) Value() uint8    { return uint8(r) }
func (r Priority) Class() uint8    { return uint8(r>>4) & 0x0f }
func (r Priority) Subclass() uint8 { return uint8(r) & 0x0f }

func (r Priority) WithValue(v uint8) Priority {
	return r&^0xff | Priority(v)
}

// SpuriousInterruptVector is the spurious interrupt vector register.
type SpuriousInterruptVector uint32

const (
	svrEnableBit                  = 8
	svrFocusCheckingDisabledBit   = 9
	svrEOIBroadcastSuppressionBit = 12
)

func (r SpuriousInterruptVector) Vector() uint8 { return uint8(r) }

func (r SpuriousInterruptVector) WithVector(v uint8) SpuriousInterruptVector {
	return r&^0xff | SpuriousInterruptVector(v)
}

// Enabled reports the APIC software enable bit.
func (r SpuriousInterruptVector) Enabled() bool { return r>>svrEnableBit&1 == 1 }

func (r SpuriousInterruptVector) WithEnabled(on bool) SpuriousInterruptVector {
	return withBit(r, svrEnableBit, on)
}

func (r SpuriousInterruptVector) FocusCheckingDisabled() bool {
	return r>>svrFocusCheckingDisabledBit&1 == 1
}

func (r SpuriousInterruptVector) WithFocusCheckingDisabled(on bool) SpuriousInterruptVector {
	return withBit(r, svrFocusCheckingDisabledBit, on)
}

func (r SpuriousInterruptVector) EOIBroadcastSuppression() bool {
	return r>>svrEOIBroadcastSuppressionBit&1 == 1
}

func (r SpuriousInterruptVector) WithEOIBroadcastSuppression(on bool) SpuriousInterruptVector {
	return withBit(r, svrEOIBroadcastSuppressionBit, on)
}

type DeliveryMode uint8

const (
	DeliveryFixed  DeliveryMode = 0b000
	DeliverySMI    DeliveryMode = 0b010
	DeliveryNMI    DeliveryMode = 0b100
	DeliveryINIT   DeliveryMode = 0b101
	DeliveryExtINT DeliveryMode = 0b111
)

func (m DeliveryMode) String() string {
	switch m {
	case DeliveryFixed:
		return "fixed"
	case DeliverySMI:
		return "smi"
	case DeliveryNMI:
		return "nmi"
	case DeliveryINIT:
		return "init"
	case DeliveryExtINT:
		return "extint"
	default:
		return fmt.Sprintf("reserved(%#b)", uint8(m))
	}
}

const (
	lvtDeliveryModeShift  = 8
	lvtDeliveryStatusBit  = 12
	lvtPolarityBit        = 13
	lvtRemoteIRRBit       = 14
	lvtTriggerModeBit     = 15
	lvtMaskBit            = 16
	lvtTimerModeShift     = 17
	lvtDeliveryModeMask   = 0x7 << lvtDeliveryModeShift
	lvtTimerModeFieldMask = 0x3 << lvtTimerModeShift
)

// LocalVectorTableEntry is the layout of the thermal, performance counter,
// LINT0, LINT1, error and extended interrupt LVT registers. Not every field
// is implemented by every entry; unimplemented fields read as zero.
type LocalVectorTableEntry uint32

func (r LocalVectorTableEntry) Vector() uint8 { return uint8(r) }

func (r LocalVectorTableEntry) WithVector(v uint8) LocalVectorTableEntry {
	return r&^0xff | LocalVectorTableEntry(v)
}

func (r LocalVectorTableEntry) DeliveryMode() DeliveryMode {
	return DeliveryMode(r>>lvtDeliveryModeShift) & 0x7
}

func (r LocalVectorTableEntry) WithDeliveryMode(m DeliveryMode) LocalVectorTableEntry {
	return r&^lvtDeliveryModeMask | LocalVectorTableEntry(m&0x7)<<lvtDeliveryModeShift
}

// DeliveryPending reports the read-only delivery status bit.
func (r LocalVectorTableEntry) DeliveryPending() bool { return r>>lvtDeliveryStatusBit&1 == 1 }

func (r LocalVectorTableEntry) ActiveLow() bool { return r>>lvtPolarityBit&1 == 1 }

func (r LocalVectorTableEntry) WithActiveLow(on bool) LocalVectorTableEntry {
	return withBit(r, lvtPolarityBit, on)
}

func (r LocalVectorTableEntry) RemoteIRR() bool { return r>>lvtRemoteIRRBit&1 == 1 }

func (r LocalVectorTableEntry) LevelTriggered() bool { return r>>lvtTriggerModeBit&1 == 1 }

func (r LocalVectorTableEntry) WithLevelTriggered(on bool) LocalVectorTableEntry {
	return withBit(r, lvtTriggerModeBit, on)
}

func (r LocalVectorTableEntry) Masked() bool { return r>>lvtMaskBit&1 == 1 }

func (r LocalVectorTableEntry) WithMasked(on bool) LocalVectorTableEntry {
	return withBit(r, lvtMaskBit, on)
}

type TimerMode uint8

const (
	TimerOneShot     TimerMode = 0b00
	TimerPeriodic    TimerMode = 0b01
	TimerTSCDeadline TimerMode = 0b10
)

func (m TimerMode) String() string {
	switch m {
	case TimerOneShot:
		return "one-shot"
	case TimerPeriodic:
		return "periodic"
	case TimerTSCDeadline:
		return "tsc-deadline"
	default:
		return fmt.Sprintf("reserved(%#b)", uint8(m))
	}
}

// TimerLocalVectorTableEntry is the LVT timer register.
type TimerLocalVectorTableEntry uint32

func (r TimerLocalVectorTableEntry) Vector() uint8 { return uint8(r) }

func (r TimerLocalVectorTableEntry) WithVector(v uint8) TimerLocalVectorTableEntry {
	return r&^0xff | TimerLocalVectorTableEntry(v)
}

func (r TimerLocalVectorTableEntry) DeliveryPending() bool {
	return r>>lvtDeliveryStatusBit&1 == 1
}

func (r TimerLocalVectorTableEntry) Masked() bool { return r>>lvtMaskBit&1 == 1 }

func (r TimerLocalVectorTableEntry) WithMasked(on bool) TimerLocalVectorTableEntry {
	return withBit(r, lvtMaskBit, on)
}

func (r TimerLocalVectorTableEntry) Mode() TimerMode {
	return TimerMode(r>>lvtTimerModeShift) & 0x3
}

func (r TimerLocalVectorTableEntry) WithMode(m TimerMode) TimerLocalVectorTableEntry {
	return r&^lvtTimerModeFieldMask | TimerLocalVectorTableEntry(m&0x3)<<lvtTimerModeShift
}

// TimerDivideConfiguration encodes the timer clock divisor in bits 0, 1
// and 3.
type TimerDivideConfiguration uint32

// Divisor returns the divisor, one of 1, 2, 4, ... 128.
func (r TimerDivideConfiguration) Divisor() uint32 {
	v := uint32(r)&0b11 | uint32(r)>>1&0b100
	return 1 << ((v + 1) & 0x7)
}

// DivideBy returns the configuration for divisor n, which must be a power of
// two between 1 and 128.
func DivideBy(n uint32) (TimerDivideConfiguration, error) {
	if n == 0 || n > 128 || n&(n-1) != 0 {
		return 0, fmt.Errorf("apic: invalid timer divisor %d", n)
	}
	var log2 uint32
	for n > 1 {
		n >>= 1
		log2++
	}
	v := (log2 - 1) & 0x7
	return TimerDivideConfiguration(v&0b11 | (v&0b100)<<1), nil
}

// ExtendedApicFeature is the AMD extended APIC feature register.
type ExtendedApicFeature uint32

func (r ExtendedApicFeature) InterruptEnableRegisterCapable() bool { return r&1 == 1 }
func (r ExtendedApicFeature) SpecificEOICapable() bool             { return r>>1&1 == 1 }
func (r ExtendedApicFeature) ExtendedIDCapable() bool              { return r>>2&1 == 1 }

// ExtendedLVTCount returns the number of extended interrupt LVT registers.
func (r ExtendedApicFeature) ExtendedLVTCount() int { return int(uint8(r >> 16)) }

// ExtendedApicControl is the AMD extended APIC control register.
type ExtendedApicControl uint32

const (
	extCtlInterruptEnableBit = 0
	extCtlSpecificEOIBit     = 1
	extCtlExtendedIDBit      = 2
)

func (r ExtendedApicControl) InterruptEnableRegisters() bool {
	return r>>extCtlInterruptEnableBit&1 == 1
}

func (r ExtendedApicControl) WithInterruptEnableRegisters(on bool) ExtendedApicControl {
	return withBit(r, extCtlInterruptEnableBit, on)
}

func (r ExtendedApicControl) SpecificEOI() bool { return r>>extCtlSpecificEOIBit&1 == 1 }

func (r ExtendedApicControl) WithSpecificEOI(on bool) ExtendedApicControl {
	return withBit(r, extCtlSpecificEOIBit, on)
}

func (r ExtendedApicControl) ExtendedID() bool { return r>>extCtlExtendedIDBit&1 == 1 }

func (r ExtendedApicControl) WithExtendedID(on bool) ExtendedApicControl {
	return withBit(r, extCtlExtendedIDBit, on)
}

// ErrorStatus is the error status register. Write any value to latch the
// current errors before reading.
type ErrorStatus uint32

const (
	ErrorSendChecksum           ErrorStatus = 1 << 0
	ErrorReceiveChecksum        ErrorStatus = 1 << 1
	ErrorSendAccept             ErrorStatus = 1 << 2
	ErrorReceiveAccept          ErrorStatus = 1 << 3
	ErrorRedirectableIPI        ErrorStatus = 1 << 4
	ErrorSentIllegalVector      ErrorStatus = 1 << 5
	ErrorReceivedIllegalVector  ErrorStatus = 1 << 6
	ErrorIllegalRegisterAddress ErrorStatus = 1 << 7
)

func (r ErrorStatus) Has(flags ErrorStatus) bool { return r&flags == flags }

// EndOfInterrupt is the value type of the write-only EOI register.
type EndOfInterrupt uint32

// SpecificEndOfInterrupt names the vector being completed.
type SpecificEndOfInterrupt uint32

func SpecificEndOfInterruptFor(vector uint8) SpecificEndOfInterrupt {
	return SpecificEndOfInterrupt(vector)
}

func (r SpecificEndOfInterrupt) Vector() uint8 { return uint8(r) }

// VectorSet is a 256-bit vector bitmap as held by the ISR, TMR and IRR
// banks. Word n covers vectors 32n..32n+31.
type VectorSet [8]uint32

func (s VectorSet) Contains(vector uint8) bool {
	return s[vector/32]>>(vector%32)&1 == 1
}

// Vectors returns every vector in the set in ascending order.
func (s VectorSet) Vectors() []uint8 {
	var out []uint8
	for v := 0; v < 256; v++ {
		if s.Contains(uint8(v)) {
			out = append(out, uint8(v))
		}
	}
	return out
}

type word interface {
	~uint32
}

func withBit[T word](r T, n uint, on bool) T {
	if on {
		return r | 1<<n
	}
	return r &^ (1 << n)
}
