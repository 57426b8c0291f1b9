package ioapic

import (
	"fmt"
	"strings"
	"testing"

	"github.com/tinyrange/apic/internal/mmio"
)

const testBase uint64 = 0xfec00000

func newTestRouter() (*Router, *mmio.Memory, *mmio.Recorder) {
	mem := mmio.NewMemory()
	rec := mmio.NewRecorder(mem)
	return New(rec, testBase), mem, rec
}

func selectAccess(index Index) mmio.Access {
	return mmio.Access{Op: mmio.OpWrite, Addr: testBase + SelectOffset, Value: uint32(index)}
}

func expectAccesses(t *testing.T, got []mmio.Access, want []mmio.Access) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("issued %d accesses, want %d:\n%v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("access %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func mustPanic(t *testing.T, f func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic")
		}
		if msg := fmt.Sprint(r); !strings.Contains(msg, "out of range") {
			t.Fatalf("unexpected panic %q", msg)
		}
	}()
	f()
}

func TestSelector(t *testing.T) {
	s := NewSelector(IndexRedirectionTableBase + 5)
	if uint32(s) != 0x15 {
		t.Fatalf("selector = %#x, want 0x15", uint32(s))
	}
	if got := Selector(0xffffff02).Index(); got != IndexArbitration {
		t.Fatalf("index = %#x, want %#x", got, IndexArbitration)
	}
}

func TestRedirectionIndices(t *testing.T) {
	for row := uint8(0); row < RedirectionEntries; row++ {
		low, high := RedirectionIndices(row)
		if want := Index(0x10 + 2*int(row)); low != want || high != want+1 {
			t.Fatalf("row %d indices = (%#x, %#x), want (%#x, %#x)", row, low, high, want, want+1)
		}
	}
}

func TestReadRedirectionTableEntryAccessOrder(t *testing.T) {
	r, mem, rec := newTestRouter()
	mem.Write32(testBase+WindowOffset, 0x1234)

	r.ReadRedirectionTableEntry(5)

	window := testBase + WindowOffset
	expectAccesses(t, rec.Accesses(), []mmio.Access{
		selectAccess(0x1a),
		{Op: mmio.OpRead, Addr: window, Value: 0x1234},
		selectAccess(0x1b),
		{Op: mmio.OpRead, Addr: window, Value: 0x1234},
	})
}

func TestWriteRedirectionTableEntryAccessOrder(t *testing.T) {
	r, _, rec := newTestRouter()
	entry := RedirectionTableEntry{Vector: 0x31, Masked: true, Destination: 2}

	r.WriteRedirectionTableEntry(5, entry)

	low, high := entry.Encode()
	window := testBase + WindowOffset
	expectAccesses(t, rec.Accesses(), []mmio.Access{
		selectAccess(0x1a),
		{Op: mmio.OpWrite, Addr: window, Value: low},
		selectAccess(0x1b),
		{Op: mmio.OpWrite, Addr: window, Value: high},
	})
}

func TestSingleRegisterAccessOrder(t *testing.T) {
	window := testBase + WindowOffset
	tests := []struct {
		name string
		do   func(r *Router)
		want []mmio.Access
	}{
		{"id", func(r *Router) { r.ReadID() }, []mmio.Access{
			selectAccess(IndexID), {Op: mmio.OpRead, Addr: window},
		}},
		{"version", func(r *Router) { r.ReadVersion() }, []mmio.Access{
			selectAccess(IndexVersion), {Op: mmio.OpRead, Addr: window},
		}},
		{"read arbitration", func(r *Router) { r.ReadArbitration() }, []mmio.Access{
			selectAccess(IndexArbitration), {Op: mmio.OpRead, Addr: window},
		}},
		{"write arbitration", func(r *Router) { r.WriteArbitration(Arbitration{ID: 3}) }, []mmio.Access{
			selectAccess(IndexArbitration), {Op: mmio.OpWrite, Addr: window, Value: 0x03000000},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, rec := newTestRouter()
			tt.do(r)
			expectAccesses(t, rec.Accesses(), tt.want)
		})
	}
}

// memoryRouter is a two-word-per-row store: it latches the selector and
// serves the window from per-index storage, like the hardware does.
type memoryRouter struct {
	index Index
	regs  map[Index]uint32
}

func (m *memoryRouter) Read32(addr uint64) uint32 {
	switch addr - testBase {
	case SelectOffset:
		return uint32(m.index)
	case WindowOffset:
		return m.regs[m.index]
	}
	panic(fmt.Sprintf("unexpected read %#x", addr))
}

func (m *memoryRouter) Write32(addr uint64, value uint32) {
	switch addr - testBase {
	case SelectOffset:
		m.index = Selector(value).Index()
	case WindowOffset:
		m.regs[m.index] = value
	default:
		panic(fmt.Sprintf("unexpected write %#x", addr))
	}
}

func newMemoryRouter() *memoryRouter {
	return &memoryRouter{regs: make(map[Index]uint32)}
}

func TestRedirectionTableEntryWriteThenRead(t *testing.T) {
	store := newMemoryRouter()
	r := New(store, testBase)

	want := RedirectionTableEntry{
		Vector:          0x45,
		DeliveryMode:    DeliveryLowestPriority,
		DestinationMode: DestinationLogical,
		Polarity:        ActiveLow,
		TriggerMode:     TriggerLevel,
		Masked:          true,
		Destination:     0x0f,
	}
	r.WriteRedirectionTableEntry(5, want)

	if got := r.ReadRedirectionTableEntry(5); got != want {
		t.Fatalf("read back %+v, want %+v", got, want)
	}
	if store.regs[0x1a] == 0 || store.regs[0x1b] != 0x0f000000 {
		t.Fatalf("unexpected backing words low=%#x high=%#x", store.regs[0x1a], store.regs[0x1b])
	}
	if got := r.ReadRedirectionTableEntry(6); got != (RedirectionTableEntry{}) {
		t.Fatalf("neighbouring row modified: %+v", got)
	}
}

func TestUpdateRedirectionTableEntryMatchesReadWrite(t *testing.T) {
	initial := RedirectionTableEntry{Vector: 0x20, Masked: true, Destination: 1}
	mutate := func(e *RedirectionTableEntry) {
		e.Masked = false
		e.Vector++
		e.TriggerMode = TriggerLevel
	}

	updated := New(newMemoryRouter(), testBase)
	updated.WriteRedirectionTableEntry(3, initial)
	updated.UpdateRedirectionTableEntry(3, mutate)

	composed := New(newMemoryRouter(), testBase)
	composed.WriteRedirectionTableEntry(3, initial)
	e := composed.ReadRedirectionTableEntry(3)
	mutate(&e)
	composed.WriteRedirectionTableEntry(3, e)

	if got, want := updated.ReadRedirectionTableEntry(3), composed.ReadRedirectionTableEntry(3); got != want {
		t.Fatalf("update = %+v, read/modify/write = %+v", got, want)
	}
}

func TestUpdateRedirectionTableEntryAccessOrder(t *testing.T) {
	r, _, rec := newTestRouter()
	r.UpdateRedirectionTableEntry(0, func(e *RedirectionTableEntry) { e.Vector = 0x40 })

	got := rec.Accesses()
	if len(got) != 8 {
		t.Fatalf("update issued %d accesses, want 8", len(got))
	}
	ops := []mmio.Op{mmio.OpWrite, mmio.OpRead, mmio.OpWrite, mmio.OpRead, mmio.OpWrite, mmio.OpWrite, mmio.OpWrite, mmio.OpWrite}
	for i, op := range ops {
		if got[i].Op != op {
			t.Fatalf("access %d = %v, want %v", i, got[i], op)
		}
	}
}

func TestMaskUnmask(t *testing.T) {
	r := New(newMemoryRouter(), testBase)
	r.WriteRedirectionTableEntry(1, RedirectionTableEntry{Vector: 0x30, Destination: 4})

	r.Mask(1)
	if e := r.ReadRedirectionTableEntry(1); !e.Masked || e.Vector != 0x30 || e.Destination != 4 {
		t.Fatalf("after mask: %+v", e)
	}
	r.Unmask(1)
	if e := r.ReadRedirectionTableEntry(1); e.Masked {
		t.Fatalf("after unmask: %+v", e)
	}
}

func TestOutOfRangeRowIssuesNoAccess(t *testing.T) {
	ops := map[string]func(r *Router, row uint8){
		"read":  func(r *Router, row uint8) { r.ReadRedirectionTableEntry(row) },
		"write": func(r *Router, row uint8) { r.WriteRedirectionTableEntry(row, RedirectionTableEntry{}) },
		"update": func(r *Router, row uint8) {
			r.UpdateRedirectionTableEntry(row, func(*RedirectionTableEntry) {})
		},
		"mask": func(r *Router, row uint8) { r.Mask(row) },
	}

	for name, op := range ops {
		for _, row := range []uint8{24, 255} {
			t.Run(fmt.Sprintf("%s/%d", name, row), func(t *testing.T) {
				r, _, rec := newTestRouter()
				mustPanic(t, func() { op(r, row) })
				if n := len(rec.Accesses()); n != 0 {
					t.Fatalf("issued %d accesses before panicking", n)
				}
			})
		}
	}
}

func TestIDRegister(t *testing.T) {
	r := New(newMemoryRouter(), testBase)
	r.WriteID(0x1a)
	if got := r.ReadID(); got != 0x0a {
		t.Fatalf("id = %#x, want 0xa", got)
	}
}

func TestRedirectionEntriesFromVersion(t *testing.T) {
	store := newMemoryRouter()
	r := New(store, testBase)

	store.regs[IndexVersion] = Version{Version: 0x20, MaxRedirectionEntry: 23}.Encode()
	if got := r.RedirectionEntries(); got != 24 {
		t.Fatalf("entries = %d, want 24", got)
	}
	store.regs[IndexVersion] = 0x00810000
	if got := r.RedirectionEntries(); got != RedirectionEntries {
		t.Fatalf("entries = %d, want cap %d", got, RedirectionEntries)
	}
	store.regs[IndexVersion] = Version{MaxRedirectionEntry: 15}.Encode()
	if got := r.RedirectionEntries(); got != 16 {
		t.Fatalf("entries = %d, want 16", got)
	}
}
