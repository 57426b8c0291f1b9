package mmio

import "fmt"

type Op uint8

const (
	OpRead Op = iota
	OpWrite
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	default:
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
}

// Access is one primitive bus operation.
type Access struct {
	Op    Op
	Addr  uint64
	Value uint32
}

func (a Access) String() string {
	return fmt.Sprintf("%s %#x = %#08x", a.Op, a.Addr, a.Value)
}

// Recorder forwards every access to Bus and records it in order.
type Recorder struct {
	Bus Bus

	// OnAccess, if set, is called after each access completes.
	OnAccess func(Access)

	log []Access
}

func NewRecorder(bus Bus) *Recorder {
	return &Recorder{Bus: bus}
}

func (r *Recorder) record(a Access) {
	r.log = append(r.log, a)
	if r.OnAccess != nil {
		r.OnAccess(a)
	}
}

func (r *Recorder) Read32(addr uint64) uint32 {
	v := r.Bus.Read32(addr)
	r.record(Access{Op: OpRead, Addr: addr, Value: v})
	return v
}

func (r *Recorder) Write32(addr uint64, value uint32) {
	r.Bus.Write32(addr, value)
	r.record(Access{Op: OpWrite, Addr: addr, Value: value})
}

// Accesses returns the recorded operations since the last Reset.
func (r *Recorder) Accesses() []Access {
	return append([]Access(nil), r.log...)
}

func (r *Recorder) Reset() {
	r.log = r.log[:0]
}

var _ Bus = (*Recorder)(nil)
