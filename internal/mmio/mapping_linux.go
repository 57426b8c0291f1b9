//go:build linux

package mmio

import (
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/tinyrange/apic/internal/hv"
)

// DefaultMemoryDevice is the character device exposing physical memory.
const DefaultMemoryDevice = "/dev/mem"

// Mapping is a shared, uncached view of a physical register window. Loads
// and stores use sync/atomic so the compiler can neither elide nor reorder
// them.
type Mapping struct {
	region hv.MMIORegion
	mem    []byte
	// offset of region.Address within mem, which starts on a page boundary.
	offset uint64
}

// Map opens path (normally /dev/mem) and maps the physical window described
// by region.
func Map(path string, region hv.MMIORegion) (*Mapping, error) {
	if region.Size == 0 {
		return nil, fmt.Errorf("mmio: cannot map zero-size region at %#x", region.Address)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("mmio: open %s: %w", path, err)
	}
	defer f.Close()

	pageSize := uint64(unix.Getpagesize())
	pageBase := region.Address &^ (pageSize - 1)
	offset := region.Address - pageBase
	length := (offset + region.Size + pageSize - 1) &^ (pageSize - 1)

	mem, err := unix.Mmap(
		int(f.Fd()),
		int64(pageBase),
		int(length),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED,
	)
	if err != nil {
		return nil, fmt.Errorf("mmio: mmap %#x+%#x from %s: %w", pageBase, length, path, err)
	}

	slog.Debug("mmio: mapped register window",
		"address", fmt.Sprintf("%#x", region.Address),
		"size", region.Size,
		"device", path,
	)

	return &Mapping{region: region, mem: mem, offset: offset}, nil
}

func (m *Mapping) Region() hv.MMIORegion { return m.region }

func (m *Mapping) word(addr uint64) *uint32 {
	checkAligned(addr)
	if m.mem == nil {
		panic("mmio: access through closed mapping")
	}
	if !m.region.Contains(addr, WordSize) {
		panic(fmt.Sprintf("mmio: address %#x outside mapped window %#x+%#x",
			addr, m.region.Address, m.region.Size))
	}
	return (*uint32)(unsafe.Pointer(&m.mem[m.offset+addr-m.region.Address]))
}

func (m *Mapping) Read32(addr uint64) uint32 {
	return atomic.LoadUint32(m.word(addr))
}

func (m *Mapping) Write32(addr uint64, value uint32) {
	atomic.StoreUint32(m.word(addr), value)
}

// Close unmaps the window. Register handles derived from the mapping must
// not be used afterwards.
func (m *Mapping) Close() error {
	if m.mem == nil {
		return nil
	}
	mem := m.mem
	m.mem = nil
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("mmio: munmap %#x: %w", m.region.Address, err)
	}
	return nil
}

var _ Bus = (*Mapping)(nil)
