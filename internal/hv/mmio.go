package hv

// MMIORegion is a guest-physical window claimed by a device.
type MMIORegion struct {
	Address uint64
	Size    uint64
}

// Contains reports whether [addr, addr+size) lies entirely inside the region.
func (r MMIORegion) Contains(addr, size uint64) bool {
	if addr < r.Address {
		return false
	}
	return addr+size <= r.Address+r.Size
}

type MemoryMappedIODevice interface {
	MMIORegions() []MMIORegion

	ReadMMIO(addr uint64, data []byte) error
	WriteMMIO(addr uint64, data []byte) error
}
