package apic

import (
	"testing"

	"github.com/tinyrange/apic/internal/mmio"
)

type addressed interface {
	Address() uint64
}

func TestRegisterOffsets(t *testing.T) {
	c := New(mmio.NewMemory(), DefaultBaseAddress)

	tests := []struct {
		name string
		reg  addressed
		want Offset
	}{
		{"id", c.ID(), 0x20},
		{"version", c.Version(), 0x30},
		{"task priority", c.TaskPriority(), 0x80},
		{"arbitration priority", c.ArbitrationPriority(), 0x90},
		{"processor priority", c.ProcessorPriority(), 0xa0},
		{"eoi", c.EndOfInterrupt(), 0xb0},
		{"remote read", c.RemoteRead(), 0xc0},
		{"local destination", c.LocalDestination(), 0xd0},
		{"destination format", c.DestinationFormat(), 0xe0},
		{"spurious interrupt vector", c.SpuriousInterruptVector(), 0xf0},
		{"isr 0", c.InServiceWord(0), 0x100},
		{"isr 7", c.InServiceWord(7), 0x170},
		{"tmr 0", c.TriggerModeWord(0), 0x180},
		{"irr 3", c.InterruptRequestWord(3), 0x230},
		{"error status", c.ErrorStatus(), 0x280},
		{"interrupt command", c.InterruptCommand(), 0x300},
		{"timer lvt", c.TimerLocalVectorTableEntry(), 0x320},
		{"thermal lvt", c.ThermalLocalVectorTableEntry(), 0x330},
		{"perf lvt", c.PerformanceCounterLocalVectorTableEntry(), 0x340},
		{"lint0", c.LocalInterrupt0VectorTableEntry(), 0x350},
		{"lint1", c.LocalInterrupt1VectorTableEntry(), 0x360},
		{"error lvt", c.ErrorVectorTableEntry(), 0x370},
		{"timer initial count", c.TimerInitialCount(), 0x380},
		{"timer current count", c.TimerCurrentCount(), 0x390},
		{"timer divide", c.TimerDivideConfiguration(), 0x3e0},
		{"extended feature", c.ExtendedApicFeature(), 0x400},
		{"extended control", c.ExtendedApicControl(), 0x410},
		{"specific eoi", c.SpecificEndOfInterrupt(), 0x420},
		{"ier 1", c.InterruptEnableWord(1), 0x490},
		{"extended lvt 0", c.ExtendedInterruptLocalVectorTableEntry(0), 0x500},
		{"extended lvt 3", c.ExtendedInterruptLocalVectorTableEntry(3), 0x530},
	}

	for _, tt := range tests {
		if got, want := tt.reg.Address(), DefaultBaseAddress+uint64(tt.want); got != want {
			t.Errorf("%s address = %#x, want %#x", tt.name, got, want)
		}
	}
}

func TestRegisterCapabilities(t *testing.T) {
	c := New(mmio.NewMemory(), DefaultBaseAddress)

	if _, ok := any(c.Version()).(mmio.Writer[Version]); ok {
		t.Fatalf("version register must not be writable")
	}
	if _, ok := any(c.TimerCurrentCount()).(mmio.Writer[uint32]); ok {
		t.Fatalf("timer current count must not be writable")
	}
	if _, ok := any(c.EndOfInterrupt()).(mmio.Reader[EndOfInterrupt]); ok {
		t.Fatalf("eoi register must not be readable")
	}
	if _, ok := any(c.SpuriousInterruptVector()).(mmio.ReadWriter[SpuriousInterruptVector]); !ok {
		t.Fatalf("spurious interrupt vector must be read-write")
	}
}

func TestAccessorsAreSingleWordAccesses(t *testing.T) {
	rec := mmio.NewRecorder(mmio.NewMemory())
	c := New(rec, DefaultBaseAddress)

	c.SpuriousInterruptVector().Update(func(v SpuriousInterruptVector) SpuriousInterruptVector {
		return v.WithVector(0xff).WithEnabled(true)
	})
	c.SignalEndOfInterrupt()

	want := []mmio.Access{
		{Op: mmio.OpRead, Addr: DefaultBaseAddress + 0xf0},
		{Op: mmio.OpWrite, Addr: DefaultBaseAddress + 0xf0, Value: 0x1ff},
		{Op: mmio.OpWrite, Addr: DefaultBaseAddress + 0xb0, Value: 0},
	}
	got := rec.Accesses()
	if len(got) != len(want) {
		t.Fatalf("issued %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("access %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestBankReads(t *testing.T) {
	mem := mmio.NewMemory()
	c := New(mem, DefaultBaseAddress)
	mem.Write32(DefaultBaseAddress+0x100+0x10, 1<<2)  // vector 34
	mem.Write32(DefaultBaseAddress+0x100+0x70, 1<<31) // vector 255

	isr := c.InService()
	if !isr.Contains(34) || !isr.Contains(255) || isr.Contains(33) {
		t.Fatalf("unexpected in-service set %v", isr.Vectors())
	}
	if got := isr.Vectors(); len(got) != 2 || got[0] != 34 || got[1] != 255 {
		t.Fatalf("vectors = %v, want [34 255]", got)
	}
	if got := c.InterruptRequests().Vectors(); len(got) != 0 {
		t.Fatalf("irr = %v, want empty", got)
	}
}

func TestBankIndexOutOfRangePanics(t *testing.T) {
	c := New(mmio.NewMemory(), DefaultBaseAddress)
	for name, f := range map[string]func(){
		"isr":          func() { c.InServiceWord(8) },
		"irr":          func() { c.InterruptRequestWord(-1) },
		"extended lvt": func() { c.ExtendedInterruptLocalVectorTableEntry(MaxExtendedLVT) },
	} {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic")
				}
			}()
			f()
		})
	}
}
