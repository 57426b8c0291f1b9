package chipset

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinyrange/apic/internal/hv"
	"github.com/tinyrange/apic/internal/ioapic"
)

const (
	// IOAPICBaseAddress is the legacy MMIO base for the first IO-APIC.
	IOAPICBaseAddress uint64 = 0xFEC00000

	ioapicVersion = 0x11
)

// Redirection bits that software is permitted to write. Delivery status and
// remote IRR are owned by the device.
const redirectionWriteMask uint64 = 0xFF000000_00000000 |
	0xFF | // vector
	(0x7 << 8) | // delivery mode
	(1 << 11) | // destination mode
	(1 << 13) | // polarity
	(1 << 15) | // trigger mode
	(1 << 16) // mask bit

// IOAPIC emulates an x86 IO-APIC behind its select/window register pair.
type IOAPIC struct {
	mu sync.Mutex

	base    uint64
	entries []irqRedirection
	index   ioapic.Index
	id      uint8

	routing IoApicRouting
	stats   ioapicStats
}

// IoApicRouting is notified when an unmasked line fires.
type IoApicRouting interface {
	Assert(line uint8, entry ioapic.RedirectionTableEntry)
}

// IoApicRoutingFunc adapts a simple function to IoApicRouting.
type IoApicRoutingFunc func(line uint8, entry ioapic.RedirectionTableEntry)

// Assert implements IoApicRouting.
func (f IoApicRoutingFunc) Assert(line uint8, entry ioapic.RedirectionTableEntry) {
	if f != nil {
		f(line, entry)
	}
}

type noopIoApicRouting struct{}

func (noopIoApicRouting) Assert(uint8, ioapic.RedirectionTableEntry) {}

// NewIOAPIC builds an IO-APIC at base exposing numEntries redirection slots.
func NewIOAPIC(base uint64, numEntries int) *IOAPIC {
	if numEntries <= 0 {
		numEntries = ioapic.RedirectionEntries
	}
	entries := make([]irqRedirection, numEntries)
	for i := range entries {
		entries[i] = newIRQRedirection()
	}
	return &IOAPIC{
		base:    base,
		entries: entries,
		routing: noopIoApicRouting{},
		stats: ioapicStats{
			perIRQ: make([]uint64, numEntries),
		},
	}
}

// SetRouting overrides the destination used when an interrupt fires.
func (i *IOAPIC) SetRouting(r IoApicRouting) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if r == nil {
		i.routing = noopIoApicRouting{}
	} else {
		i.routing = r
	}
}

// SetID sets the ID reported before software programs one.
func (i *IOAPIC) SetID(id uint8) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.id = id & 0x0f
}

// HandleEOI clears remote-IRR for any line that was targeting the supplied
// vector and re-evaluates pending level-triggered interrupts.
func (i *IOAPIC) HandleEOI(vector uint8) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for line := range i.entries {
		entry := &i.entries[line]
		if entry.decode().Vector == vector {
			entry.setRemoteIRR(false)
			entry.evaluate(i.routing, &i.stats, uint8(line), false)
		}
	}
}

// SetIRQ changes the level of a given IO-APIC input pin.
func (i *IOAPIC) SetIRQ(line uint32, high bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if line >= uint32(len(i.entries)) {
		return
	}
	entry := &i.entries[line]
	if high {
		entry.assert(i.routing, &i.stats, uint8(line))
	} else {
		entry.deassert()
	}
}

// Interrupts returns how many times line has been delivered.
func (i *IOAPIC) Interrupts(line int) uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	if line < 0 || line >= len(i.stats.perIRQ) {
		return 0
	}
	return i.stats.perIRQ[line]
}

// Delivered returns the total number of interrupts delivered on all lines.
func (i *IOAPIC) Delivered() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stats.interrupts
}

// MMIORegions implements hv.MemoryMappedIODevice.
func (i *IOAPIC) MMIORegions() []hv.MMIORegion {
	return []hv.MMIORegion{
		{Address: i.base, Size: ioapic.RegisterWindowSize},
	}
}

// ReadMMIO implements hv.MemoryMappedIODevice.
func (i *IOAPIC) ReadMMIO(addr uint64, data []byte) error {
	if !i.inRange(addr, uint64(len(data))) {
		return fmt.Errorf("ioapic: read outside MMIO window: 0x%x", addr)
	}

	offset := addr - i.base
	var value uint32

	i.mu.Lock()
	switch offset {
	case ioapic.SelectOffset:
		value = uint32(i.index)
	case ioapic.WindowOffset:
		value = i.readRegister(i.index)
	default:
		i.mu.Unlock()
		return fmt.Errorf("ioapic: invalid read offset 0x%x", offset)
	}
	i.mu.Unlock()

	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	copy(data, buf[:min(len(data), len(buf))])
	return nil
}

// WriteMMIO implements hv.MemoryMappedIODevice.
func (i *IOAPIC) WriteMMIO(addr uint64, data []byte) error {
	if !i.inRange(addr, uint64(len(data))) {
		return fmt.Errorf("ioapic: write outside MMIO window: 0x%x", addr)
	}
	offset := addr - i.base

	i.mu.Lock()
	defer i.mu.Unlock()

	switch offset {
	case ioapic.SelectOffset:
		if len(data) == 0 {
			return fmt.Errorf("ioapic: empty write to select register")
		}
		// Only the low byte of the selector is decoded.
		i.index = ioapic.Index(data[0])
	case ioapic.WindowOffset:
		if len(data) != 4 && len(data) != 8 {
			return fmt.Errorf("ioapic: invalid data register write size %d", len(data))
		}
		i.writeRegister(i.index, binary.LittleEndian.Uint32(data))
	default:
		return fmt.Errorf("ioapic: invalid write offset 0x%x", offset)
	}
	return nil
}

func (i *IOAPIC) readRegister(index ioapic.Index) uint32 {
	switch {
	case index == ioapic.IndexID:
		return uint32(i.id) << 24
	case index == ioapic.IndexVersion:
		return ioapic.Version{
			Version:             ioapicVersion,
			MaxRedirectionEntry: uint8(len(i.entries) - 1),
		}.Encode()
	case index == ioapic.IndexArbitration:
		return ioapic.Arbitration{ID: i.id}.Encode()
	case index >= ioapic.IndexRedirectionTableBase:
		return i.readRedirection(uint8(index - ioapic.IndexRedirectionTableBase))
	default:
		return 0
	}
}

func (i *IOAPIC) writeRegister(index ioapic.Index, value uint32) {
	switch {
	case index == ioapic.IndexID:
		i.id = uint8(value>>24) & 0x0f
	case index == ioapic.IndexVersion, index == ioapic.IndexArbitration:
		slog.Debug("ioapic: ignoring write to read-only register", "index", uint8(index), "value", value)
	case index >= ioapic.IndexRedirectionTableBase:
		i.writeRedirection(uint8(index-ioapic.IndexRedirectionTableBase), value)
	}
}

func (i *IOAPIC) readRedirection(index uint8) uint32 {
	entry := i.entryForIndex(index)
	if entry == nil {
		return 0
	}
	if index&1 == 1 {
		return uint32(entry.raw >> 32)
	}
	return uint32(entry.raw)
}

func (i *IOAPIC) writeRedirection(index uint8, value uint32) {
	entry := i.entryForIndex(index)
	if entry == nil {
		return
	}

	raw := entry.raw
	val := uint64(value)
	lowMask := redirectionWriteMask & 0xffffffff
	highMask := redirectionWriteMask & 0xffffffff00000000
	line := index / 2

	wasMasked := entry.decode().Masked

	if index&1 == 1 {
		raw &= ^highMask
		raw |= (val << 32) & highMask
	} else {
		raw &= ^lowMask
		raw |= val & lowMask
	}
	entry.raw = raw

	// Unmasking a line that is already high counts as a rising edge for
	// edge-triggered entries.
	forceEdge := wasMasked && !entry.decode().Masked && entry.lineLevel

	entry.evaluate(i.routing, &i.stats, line, forceEdge)
}

func (i *IOAPIC) entryForIndex(index uint8) *irqRedirection {
	n := int(index / 2)
	if n >= len(i.entries) {
		return nil
	}
	return &i.entries[n]
}

func (i *IOAPIC) inRange(addr uint64, size uint64) bool {
	return hv.MMIORegion{Address: i.base, Size: ioapic.RegisterWindowSize}.Contains(addr, size)
}

type irqRedirection struct {
	raw       uint64
	lineLevel bool
}

func newIRQRedirection() irqRedirection {
	return irqRedirection{
		raw: ioapic.RedirectionTableEntry{
			DestinationMode: ioapic.DestinationLogical,
			Masked:          true,
		}.Encode64(),
	}
}

func (r *irqRedirection) decode() ioapic.RedirectionTableEntry {
	return ioapic.DecodeRedirectionTableEntry64(r.raw)
}

func (r *irqRedirection) setRemoteIRR(on bool) {
	const remoteIRR = 1 << 14
	if on {
		r.raw |= remoteIRR
	} else {
		r.raw &^= remoteIRR
	}
}

func (r *irqRedirection) assert(router IoApicRouting, stats *ioapicStats, line uint8) {
	edge := !r.lineLevel
	r.lineLevel = true
	r.evaluate(router, stats, line, edge)
}

// deassert drops the line. Remote IRR stays set until the EOI for a level
// triggered entry arrives.
func (r *irqRedirection) deassert() {
	r.lineLevel = false
}

func (r *irqRedirection) evaluate(router IoApicRouting, stats *ioapicStats, line uint8, edge bool) {
	entry := r.decode()
	if entry.Masked {
		return
	}
	isLevel := levelCapable(entry)
	switch {
	case isLevel && (!r.lineLevel || entry.RemoteIRR):
		return
	case !isLevel && !edge:
		return
	}

	r.setRemoteIRR(isLevel)
	stats.interrupts++
	if int(line) < len(stats.perIRQ) {
		stats.perIRQ[line]++
	}

	router.Assert(line, r.decode())
}

func levelCapable(e ioapic.RedirectionTableEntry) bool {
	if e.TriggerMode != ioapic.TriggerLevel {
		return false
	}
	return e.DeliveryMode == ioapic.DeliveryFixed || e.DeliveryMode == ioapic.DeliveryLowestPriority
}

type ioapicStats struct {
	interrupts uint64
	perIRQ     []uint64
}

var _ hv.MemoryMappedIODevice = (*IOAPIC)(nil)
