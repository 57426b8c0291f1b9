package board

import (
	"errors"
	"fmt"
	"io"

	"github.com/tinyrange/apic/internal/apic"
	"github.com/tinyrange/apic/internal/devices/amd64/chipset"
	"github.com/tinyrange/apic/internal/ioapic"
	"github.com/tinyrange/apic/internal/mmio"
)

type Options struct {
	// Simulate backs the controllers with emulated devices instead of
	// physical memory.
	Simulate bool

	// MemoryDevice is the physical memory device to map. Defaults to
	// mmio.DefaultMemoryDevice.
	MemoryDevice string

	// OnAccess, if set, observes every register access.
	OnAccess func(mmio.Access)
}

// Machine holds handles on every controller of a board.
type Machine struct {
	Board Board
	Local *apic.Controller

	// Routers is indexed like Board.IOAPICs.
	Routers []*ioapic.Router

	// Emulated devices, set only when the machine is simulated.
	LocalDevice   *chipset.LocalAPIC
	IOAPICDevices []*chipset.IOAPIC

	closers []io.Closer
}

// Open attaches every controller of b to a bus and returns their handles.
func Open(b Board, opts Options) (*Machine, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	m := &Machine{Board: b}
	mux := mmio.NewMux()

	var err error
	if opts.Simulate {
		err = m.attachEmulated(mux)
	} else {
		err = m.attachMapped(mux, opts.MemoryDevice)
	}
	if err != nil {
		return nil, errors.Join(err, m.Close())
	}

	var bus mmio.Bus = mux
	if opts.OnAccess != nil {
		rec := mmio.NewRecorder(mux)
		rec.OnAccess = opts.OnAccess
		bus = rec
	}

	m.Local = apic.New(bus, b.LocalAPIC)
	for _, desc := range b.IOAPICs {
		m.Routers = append(m.Routers, ioapic.New(bus, desc.Base))
	}
	return m, nil
}

func (m *Machine) attachEmulated(mux *mmio.Mux) error {
	m.LocalDevice = chipset.NewLocalAPIC(m.Board.LocalAPIC, 0)
	if err := mux.AttachDevice(m.LocalDevice); err != nil {
		return err
	}
	for _, desc := range m.Board.IOAPICs {
		dev := chipset.NewIOAPIC(desc.Base, ioapic.RedirectionEntries)
		dev.SetID(desc.ID)
		if err := mux.AttachDevice(dev); err != nil {
			return fmt.Errorf("board: %s: %w", desc.Name, err)
		}
		m.IOAPICDevices = append(m.IOAPICDevices, dev)
	}
	return nil
}

func (m *Machine) attachMapped(mux *mmio.Mux, path string) error {
	if path == "" {
		path = mmio.DefaultMemoryDevice
	}
	for _, region := range m.Board.Regions() {
		mapping, err := mmio.Map(path, region)
		if err != nil {
			return err
		}
		m.closers = append(m.closers, mapping)
		if err := mux.Attach(region, mapping); err != nil {
			return err
		}
	}
	return nil
}

// Router returns the handle for the I/O APIC called name.
func (m *Machine) Router(name string) (*ioapic.Router, error) {
	for i, desc := range m.Board.IOAPICs {
		if desc.Name == name {
			return m.Routers[i], nil
		}
	}
	return nil, fmt.Errorf("board: no I/O APIC named %q", name)
}

// Close releases any physical mappings. Handles must not be used afterwards.
func (m *Machine) Close() error {
	var errs []error
	for _, c := range m.closers {
		errs = append(errs, c.Close())
	}
	m.closers = nil
	return errors.Join(errs...)
}
