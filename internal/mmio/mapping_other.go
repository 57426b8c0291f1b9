//go:build !linux

package mmio

import (
	"errors"

	"github.com/tinyrange/apic/internal/hv"
)

const DefaultMemoryDevice = ""

var ErrMappingUnsupported = errors.New("mmio: physical mappings are only supported on linux")

type Mapping struct{}

func Map(path string, region hv.MMIORegion) (*Mapping, error) {
	return nil, ErrMappingUnsupported
}

func (m *Mapping) Region() hv.MMIORegion { return hv.MMIORegion{} }

func (m *Mapping) Read32(addr uint64) uint32 { panic(ErrMappingUnsupported) }

func (m *Mapping) Write32(addr uint64, value uint32) { panic(ErrMappingUnsupported) }

func (m *Mapping) Close() error { return nil }

var _ Bus = (*Mapping)(nil)
