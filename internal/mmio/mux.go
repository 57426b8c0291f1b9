package mmio

import (
	"fmt"
	"sort"

	"github.com/tinyrange/apic/internal/hv"
)

type window struct {
	region hv.MMIORegion
	bus    Bus
}

// Mux routes accesses to the Bus attached at the matching region. An access
// that falls outside every attached region is a programming error and
// panics.
type Mux struct {
	windows []window
}

func NewMux() *Mux {
	return &Mux{}
}

// Attach claims region for bus. Regions may not overlap.
func (m *Mux) Attach(region hv.MMIORegion, bus Bus) error {
	if region.Size == 0 {
		return fmt.Errorf("mmio: cannot attach zero-size region at %#x", region.Address)
	}
	for _, w := range m.windows {
		if region.Address < w.region.Address+w.region.Size && w.region.Address < region.Address+region.Size {
			return fmt.Errorf("mmio: region %#x+%#x overlaps %#x+%#x",
				region.Address, region.Size, w.region.Address, w.region.Size)
		}
	}
	m.windows = append(m.windows, window{region: region, bus: bus})
	sort.Slice(m.windows, func(i, j int) bool {
		return m.windows[i].region.Address < m.windows[j].region.Address
	})
	return nil
}

// AttachDevice attaches every region of dev through a DeviceBus.
func (m *Mux) AttachDevice(dev hv.MemoryMappedIODevice) error {
	bus := NewDeviceBus(dev)
	for _, region := range dev.MMIORegions() {
		if err := m.Attach(region, bus); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mux) lookup(addr uint64) Bus {
	i := sort.Search(len(m.windows), func(i int) bool {
		r := m.windows[i].region
		return r.Address+r.Size > addr
	})
	if i < len(m.windows) && m.windows[i].region.Contains(addr, WordSize) {
		return m.windows[i].bus
	}
	panic(fmt.Sprintf("mmio: access to unmapped address %#x", addr))
}

func (m *Mux) Read32(addr uint64) uint32 {
	return m.lookup(addr).Read32(addr)
}

func (m *Mux) Write32(addr uint64, value uint32) {
	m.lookup(addr).Write32(addr, value)
}

var _ Bus = (*Mux)(nil)
