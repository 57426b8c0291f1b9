// Package mmio provides word-granular access to memory-mapped register
// blocks.
//
// Every access goes through a Bus. A Bus must issue each load and store at
// the requested address, in program order, and must never cache, merge or
// drop one. Register handles are typed views over a single aligned word and
// carry their access capability in the type: a ReadOnly register has no
// Write method and a WriteOnly register has no Read method.
package mmio

import "fmt"

// WordSize is the width in bytes of every register access.
const WordSize = 4

// Bus performs single aligned 32-bit accesses at absolute addresses.
type Bus interface {
	Read32(addr uint64) uint32
	Write32(addr uint64, value uint32)
}

// Word is the set of value types that can be stored in a register.
type Word interface {
	~uint32
}

type Reader[T Word] interface {
	Read() T
}

type Writer[T Word] interface {
	Write(value T)
}

type ReadWriter[T Word] interface {
	Reader[T]
	Writer[T]
}

func checkAligned(addr uint64) {
	if addr%WordSize != 0 {
		panic(fmt.Sprintf("mmio: misaligned register address %#x", addr))
	}
}

// ReadOnly is a register that may only be loaded.
type ReadOnly[T Word] struct {
	bus  Bus
	addr uint64
}

func NewReadOnly[T Word](bus Bus, addr uint64) ReadOnly[T] {
	checkAligned(addr)
	return ReadOnly[T]{bus: bus, addr: addr}
}

func (r ReadOnly[T]) Address() uint64 { return r.addr }

func (r ReadOnly[T]) Read() T { return T(r.bus.Read32(r.addr)) }

// WriteOnly is a register that may only be stored. Loading one is undefined
// on the hardware this package targets.
type WriteOnly[T Word] struct {
	bus  Bus
	addr uint64
}

func NewWriteOnly[T Word](bus Bus, addr uint64) WriteOnly[T] {
	checkAligned(addr)
	return WriteOnly[T]{bus: bus, addr: addr}
}

func (r WriteOnly[T]) Address() uint64 { return r.addr }

func (r WriteOnly[T]) Write(value T) { r.bus.Write32(r.addr, uint32(value)) }

// ReadWrite is a register that may be loaded and stored.
type ReadWrite[T Word] struct {
	bus  Bus
	addr uint64
}

func NewReadWrite[T Word](bus Bus, addr uint64) ReadWrite[T] {
	checkAligned(addr)
	return ReadWrite[T]{bus: bus, addr: addr}
}

func (r ReadWrite[T]) Address() uint64 { return r.addr }

func (r ReadWrite[T]) Read() T { return T(r.bus.Read32(r.addr)) }

func (r ReadWrite[T]) Write(value T) { r.bus.Write32(r.addr, uint32(value)) }

// Update loads the register, applies f and stores the result. The sequence
// is two separate bus accesses and is not atomic.
func (r ReadWrite[T]) Update(f func(T) T) {
	r.Write(f(r.Read()))
}

var (
	_ Reader[uint32]     = ReadOnly[uint32]{}
	_ Writer[uint32]     = WriteOnly[uint32]{}
	_ ReadWriter[uint32] = ReadWrite[uint32]{}
)
