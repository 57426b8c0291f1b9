package ioapic

import "fmt"

// Version is the decoded IOAPICVER register.
type Version struct {
	Version uint8
	// MaxRedirectionEntry is the index of the last redirection table row,
	// one less than the number of rows.
	MaxRedirectionEntry uint8
}

func DecodeVersion(raw uint32) Version {
	return Version{
		Version:             uint8(raw),
		MaxRedirectionEntry: uint8(raw >> 16),
	}
}

func (v Version) Encode() uint32 {
	return uint32(v.Version) | uint32(v.MaxRedirectionEntry)<<16
}

// Entries returns the number of redirection table rows.
func (v Version) Entries() int {
	return int(v.MaxRedirectionEntry) + 1
}

// Arbitration is the decoded IOAPICARB register.
type Arbitration struct {
	ID uint8
}

func DecodeArbitration(raw uint32) Arbitration {
	return Arbitration{ID: uint8(raw>>24) & 0x0f}
}

func (a Arbitration) Encode() uint32 {
	return uint32(a.ID&0x0f) << 24
}

type DeliveryMode uint8

const (
	DeliveryFixed          DeliveryMode = 0b000
	DeliveryLowestPriority DeliveryMode = 0b001
	DeliverySMI            DeliveryMode = 0b010
	DeliveryNMI            DeliveryMode = 0b100
	DeliveryINIT           DeliveryMode = 0b101
	DeliveryExtINT         DeliveryMode = 0b111
)

func (m DeliveryMode) String() string {
	switch m {
	case DeliveryFixed:
		return "fixed"
	case DeliveryLowestPriority:
		return "lowest-priority"
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

type DestinationMode uint8

const (
	DestinationPhysical DestinationMode = 0
	DestinationLogical  DestinationMode = 1
)

func (m DestinationMode) String() string {
	if m == DestinationLogical {
		return "logical"
	}
	return "physical"
}

type Polarity uint8

const (
	ActiveHigh Polarity = 0
	ActiveLow  Polarity = 1
)

func (p Polarity) String() string {
	if p == ActiveLow {
		return "active-low"
	}
	return "active-high"
}

type TriggerMode uint8

const (
	TriggerEdge  TriggerMode = 0
	TriggerLevel TriggerMode = 1
)

func (m TriggerMode) String() string {
	if m == TriggerLevel {
		return "level"
	}
	return "edge"
}

// Low word bit positions.
const (
	vectorMask           = 0xff
	deliveryModeShift    = 8
	deliveryModeMask     = 0x7
	destinationModeBit   = 11
	deliveryStatusBit    = 12
	polarityBit          = 13
	remoteIRRBit         = 14
	triggerModeBit       = 15
	maskBit              = 16
	highDestinationShift = 24
)

// RedirectionTableEntry is one decoded 64-bit redirection table row.
//
// DeliveryPending (delivery status) and RemoteIRR are read-only on hardware;
// the router ignores them on write.
type RedirectionTableEntry struct {
	Vector          uint8
	DeliveryMode    DeliveryMode
	DestinationMode DestinationMode
	DeliveryPending bool
	Polarity        Polarity
	RemoteIRR       bool
	TriggerMode     TriggerMode
	Masked          bool
	Destination     uint8
}

func bit(raw uint32, n uint) bool { return raw>>n&1 == 1 }

func setBit(b bool, n uint) uint32 {
	if b {
		return 1 << n
	}
	return 0
}

// DecodeRedirectionTableEntry assembles a row from its low and high words.
// Reserved bits are ignored.
func DecodeRedirectionTableEntry(low, high uint32) RedirectionTableEntry {
	return RedirectionTableEntry{
		Vector:          uint8(low & vectorMask),
		DeliveryMode:    DeliveryMode(low >> deliveryModeShift & deliveryModeMask),
		DestinationMode: DestinationMode(low >> destinationModeBit & 1),
		DeliveryPending: bit(low, deliveryStatusBit),
		Polarity:        Polarity(low >> polarityBit & 1),
		RemoteIRR:       bit(low, remoteIRRBit),
		TriggerMode:     TriggerMode(low >> triggerModeBit & 1),
		Masked:          bit(low, maskBit),
		Destination:     uint8(high >> highDestinationShift),
	}
}

// Encode splits the row into its low and high words. Reserved bits are
// zero.
func (e RedirectionTableEntry) Encode() (low, high uint32) {
	low = uint32(e.Vector) |
		uint32(e.DeliveryMode&deliveryModeMask)<<deliveryModeShift |
		uint32(e.DestinationMode&1)<<destinationModeBit |
		setBit(e.DeliveryPending, deliveryStatusBit) |
		uint32(e.Polarity&1)<<polarityBit |
		setBit(e.RemoteIRR, remoteIRRBit) |
		uint32(e.TriggerMode&1)<<triggerModeBit |
		setBit(e.Masked, maskBit)
	high = uint32(e.Destination) << highDestinationShift
	return low, high
}

// DecodeRedirectionTableEntry64 decodes a row held as a single 64-bit value
// with the low word in bits [0:32).
func DecodeRedirectionTableEntry64(raw uint64) RedirectionTableEntry {
	return DecodeRedirectionTableEntry(uint32(raw), uint32(raw>>32))
}

func (e RedirectionTableEntry) Encode64() uint64 {
	low, high := e.Encode()
	return uint64(high)<<32 | uint64(low)
}

func (e RedirectionTableEntry) String() string {
	mask := ""
	if e.Masked {
		mask = " masked"
	}
	return fmt.Sprintf("vector=0x%02x %s %s dest=0x%02x %s %s%s",
		e.Vector, e.DeliveryMode, e.DestinationMode, e.Destination,
		e.Polarity, e.TriggerMode, mask)
}
