package mmio

// Memory is a plain word store. Unwritten words read as zero. It has none of
// the side effects of real registers and is meant for tests and dry runs.
type Memory struct {
	words map[uint64]uint32
}

func NewMemory() *Memory {
	return &Memory{words: make(map[uint64]uint32)}
}

func (m *Memory) Read32(addr uint64) uint32 {
	checkAligned(addr)
	return m.words[addr]
}

func (m *Memory) Write32(addr uint64, value uint32) {
	checkAligned(addr)
	m.words[addr] = value
}

var _ Bus = (*Memory)(nil)
