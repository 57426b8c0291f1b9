// Package board describes where a machine's interrupt controllers live and
// opens them either on real hardware or on emulated devices.
package board

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/apic/internal/apic"
	"github.com/tinyrange/apic/internal/devices/amd64/chipset"
	"github.com/tinyrange/apic/internal/hv"
	"github.com/tinyrange/apic/internal/ioapic"
)

// IOAPIC describes one I/O APIC.
type IOAPIC struct {
	Name    string `yaml:"name"`
	Base    uint64 `yaml:"base"`
	GSIBase uint32 `yaml:"gsi_base"`
	// ID is the APIC ID the emulated device reports at reset.
	ID uint8 `yaml:"id"`
}

// Board is the controller layout of one machine.
type Board struct {
	LocalAPIC uint64   `yaml:"local_apic"`
	IOAPICs   []IOAPIC `yaml:"io_apics"`
}

// Default returns the PC layout: the local APIC at its reset base and one
// I/O APIC at the legacy address.
func Default() Board {
	return Board{
		LocalAPIC: apic.DefaultBaseAddress,
		IOAPICs: []IOAPIC{
			{Name: "ioapic0", Base: chipset.IOAPICBaseAddress},
		},
	}
}

// Parse decodes a YAML board description. Omitted fields take the values of
// Default.
func Parse(data []byte) (Board, error) {
	var b Board
	if err := yaml.Unmarshal(data, &b); err != nil {
		return Board{}, fmt.Errorf("board: parse: %w", err)
	}
	def := Default()
	if b.LocalAPIC == 0 {
		b.LocalAPIC = def.LocalAPIC
	}
	if len(b.IOAPICs) == 0 {
		b.IOAPICs = def.IOAPICs
	}
	for i := range b.IOAPICs {
		if b.IOAPICs[i].Name == "" {
			b.IOAPICs[i].Name = fmt.Sprintf("ioapic%d", i)
		}
	}
	if err := b.Validate(); err != nil {
		return Board{}, err
	}
	return b, nil
}

// Load reads and parses the board file at path.
func Load(path string) (Board, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Board{}, fmt.Errorf("board: %w", err)
	}
	return Parse(data)
}

// Validate checks that every base is non-zero, 16-byte aligned and that no
// two register windows overlap.
func (b Board) Validate() error {
	if b.LocalAPIC == 0 || b.LocalAPIC%0x10 != 0 {
		return fmt.Errorf("board: invalid local APIC base %#x", b.LocalAPIC)
	}
	names := make(map[string]bool)
	for _, desc := range b.IOAPICs {
		if desc.Base == 0 || desc.Base%0x10 != 0 {
			return fmt.Errorf("board: %s: invalid base %#x", desc.Name, desc.Base)
		}
		if names[desc.Name] {
			return fmt.Errorf("board: duplicate I/O APIC name %q", desc.Name)
		}
		names[desc.Name] = true
	}

	regions := b.Regions()
	for i := range regions {
		for j := i + 1; j < len(regions); j++ {
			a, c := regions[i], regions[j]
			if a.Address < c.Address+c.Size && c.Address < a.Address+a.Size {
				return fmt.Errorf("board: register windows %#x and %#x overlap", a.Address, c.Address)
			}
		}
	}
	return nil
}

// Regions returns the register windows of every controller, local APIC
// first.
func (b Board) Regions() []hv.MMIORegion {
	regions := []hv.MMIORegion{{Address: b.LocalAPIC, Size: apic.RegisterSpaceSize}}
	for _, desc := range b.IOAPICs {
		regions = append(regions, hv.MMIORegion{Address: desc.Base, Size: ioapic.RegisterWindowSize})
	}
	return regions
}
