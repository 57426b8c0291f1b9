// Package ioapic drives an I/O APIC through its select/window register pair.
//
// The router exposes two registers: a selector at offset 0x00 and a data
// window at offset 0x10. Every internal register is reached by writing its
// index to the selector and then accessing the window. Router performs the
// select and the window access as one call so no caller can touch the
// window without having just selected its target.
//
// A Router holds no lock. There is exactly one window per router, so two
// select/window sequences that overlap corrupt each other. Callers must
// serialise every use of a given Router, including use from interrupt
// handlers and other CPUs, for the whole duration of each method call.
package ioapic

import (
	"fmt"

	"github.com/tinyrange/apic/internal/mmio"
)

// Register offsets from the router base address.
const (
	SelectOffset uint64 = 0x00
	WindowOffset uint64 = 0x10

	// RegisterWindowSize is the span of MMIO claimed by one router.
	RegisterWindowSize uint64 = 0x20
)

// Index identifies an internal router register.
type Index uint8

const (
	IndexID                   Index = 0x00
	IndexVersion              Index = 0x01
	IndexArbitration          Index = 0x02
	IndexRedirectionTableBase Index = 0x10
)

// RedirectionEntries is the number of redirection table rows addressable
// through a Router.
const RedirectionEntries = 24

// RedirectionIndices returns the indices of the low and high words of row.
// It panics if row is out of range.
func RedirectionIndices(row uint8) (low, high Index) {
	checkRow(row)
	low = IndexRedirectionTableBase + Index(row)*2
	return low, low + 1
}

func checkRow(row uint8) {
	if row >= RedirectionEntries {
		panic(fmt.Sprintf("ioapic: redirection table row %d out of range [0, %d)", row, RedirectionEntries))
	}
}

// Selector is the value written to the select register. Only the low byte
// carries meaning; the rest is written as zero.
type Selector uint32

func NewSelector(index Index) Selector {
	return Selector(index)
}

func (s Selector) Index() Index {
	return Index(s & 0xff)
}

// Router is a handle on one I/O APIC.
type Router struct {
	base uint64
	sel  mmio.ReadWrite[Selector]
	win  mmio.ReadWrite[uint32]
}

// New returns a Router for the I/O APIC whose registers start at base. The
// caller guarantees base is mapped on bus for the lifetime of the Router.
func New(bus mmio.Bus, base uint64) *Router {
	return &Router{
		base: base,
		sel:  mmio.NewReadWrite[Selector](bus, base+SelectOffset),
		win:  mmio.NewReadWrite[uint32](bus, base+WindowOffset),
	}
}

func (r *Router) Base() uint64 { return r.base }

// ReadRegister selects index and reads the window.
func (r *Router) ReadRegister(index Index) uint32 {
	r.sel.Write(NewSelector(index))
	return r.win.Read()
}

// WriteRegister selects index and writes value through the window.
func (r *Router) WriteRegister(index Index, value uint32) {
	r.sel.Write(NewSelector(index))
	r.win.Write(value)
}

// ReadID returns the 4-bit I/O APIC ID.
func (r *Router) ReadID() uint8 {
	return uint8(r.ReadRegister(IndexID)>>24) & 0x0f
}

// WriteID programs the I/O APIC ID. Bits above the low four are dropped.
func (r *Router) WriteID(id uint8) {
	r.WriteRegister(IndexID, uint32(id&0x0f)<<24)
}

func (r *Router) ReadVersion() Version {
	return DecodeVersion(r.ReadRegister(IndexVersion))
}

func (r *Router) ReadArbitration() Arbitration {
	return DecodeArbitration(r.ReadRegister(IndexArbitration))
}

func (r *Router) WriteArbitration(value Arbitration) {
	r.WriteRegister(IndexArbitration, value.Encode())
}

// RedirectionEntries returns the row count reported by the version
// register, capped at RedirectionEntries.
func (r *Router) RedirectionEntries() int {
	n := r.ReadVersion().Entries()
	if n > RedirectionEntries {
		n = RedirectionEntries
	}
	return n
}

// ReadRedirectionTableEntry reads row, low word first. It panics without
// touching the hardware if row >= RedirectionEntries.
func (r *Router) ReadRedirectionTableEntry(row uint8) RedirectionTableEntry {
	lowIndex, highIndex := RedirectionIndices(row)
	low := r.ReadRegister(lowIndex)
	high := r.ReadRegister(highIndex)
	return DecodeRedirectionTableEntry(low, high)
}

// WriteRedirectionTableEntry writes row, low word first. It panics without
// touching the hardware if row >= RedirectionEntries.
//
// Between the two writes the row holds the new low word and the old
// destination. Mask the row first if that intermediate state must not be
// observed by the router.
func (r *Router) WriteRedirectionTableEntry(row uint8, value RedirectionTableEntry) {
	lowIndex, highIndex := RedirectionIndices(row)
	low, high := value.Encode()
	r.WriteRegister(lowIndex, low)
	r.WriteRegister(highIndex, high)
}

// UpdateRedirectionTableEntry reads row, applies f and writes the result
// back. The read and the write are separate sequences; the update is not
// atomic with respect to the hardware or other callers.
func (r *Router) UpdateRedirectionTableEntry(row uint8, f func(*RedirectionTableEntry)) {
	checkRow(row)
	entry := r.ReadRedirectionTableEntry(row)
	f(&entry)
	r.WriteRedirectionTableEntry(row, entry)
}

func (r *Router) Mask(row uint8) {
	r.UpdateRedirectionTableEntry(row, func(e *RedirectionTableEntry) { e.Masked = true })
}

func (r *Router) Unmask(row uint8) {
	r.UpdateRedirectionTableEntry(row, func(e *RedirectionTableEntry) { e.Masked = false })
}
