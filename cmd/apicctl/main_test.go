package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func simulated() options {
	return options{simulate: true}
}

func TestDumpSimulated(t *testing.T) {
	var out bytes.Buffer
	if err := run(simulated(), []string{"dump"}, &out, false); err != nil {
		t.Fatalf("dump: %v", err)
	}

	text := out.String()
	for _, want := range []string{
		"local apic @ 0xfee00000",
		"spurious vector:",
		"ioapic0 @ 0xfec00000 id=0 version=0x11 entries=24",
		"23  vector=0x00 fixed logical dest=0x00 active-high edge masked\n",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("dump output missing %q:\n%s", want, text)
		}
	}
	if n := strings.Count(text, " masked\n"); n != 24 {
		t.Fatalf("masked rows = %d, want 24:\n%s", n, text)
	}
}

func TestRouteSimulated(t *testing.T) {
	opts := simulated()
	opts.level = true
	opts.activeLow = true

	var out bytes.Buffer
	if err := run(opts, []string{"route", "9", "0x39", "1"}, &out, false); err != nil {
		t.Fatalf("route: %v", err)
	}
	got := out.String()
	want := " 9  vector=0x39 fixed physical dest=0x01 active-low level\n"
	if !strings.HasSuffix(got, want) {
		t.Fatalf("route output = %q, want suffix %q", got, want)
	}
}

func TestMaskSimulated(t *testing.T) {
	var out bytes.Buffer
	if err := run(simulated(), []string{"unmask", "3"}, &out, false); err != nil {
		t.Fatalf("unmask: %v", err)
	}
	if strings.Contains(out.String(), "masked") {
		t.Fatalf("row still masked: %q", out.String())
	}

	out.Reset()
	if err := run(simulated(), []string{"mask", "3"}, &out, false); err != nil {
		t.Fatalf("mask: %v", err)
	}
	if !strings.Contains(out.String(), "masked") {
		t.Fatalf("row not masked: %q", out.String())
	}
}

func TestEOISimulated(t *testing.T) {
	if err := run(simulated(), []string{"eoi"}, &bytes.Buffer{}, false); err != nil {
		t.Fatalf("eoi: %v", err)
	}
}

func TestRunRejectsBadArguments(t *testing.T) {
	// A memory device that cannot be opened proves argument errors are
	// reported before any controller is touched.
	opts := options{memory: filepath.Join(t.TempDir(), "missing")}

	tests := []struct {
		args []string
		want string
	}{
		{nil, "usage"},
		{[]string{"dump", "extra"}, "usage"},
		{[]string{"mask"}, "usage"},
		{[]string{"mask", "24"}, "out of range"},
		{[]string{"unmask", "300"}, "invalid row"},
		{[]string{"route", "1", "0x100", "0"}, "invalid vector"},
		{[]string{"route", "1", "0x30", "x"}, "invalid destination"},
		{[]string{"frob"}, "unknown command"},
	}
	for _, tt := range tests {
		err := run(opts, tt.args, &bytes.Buffer{}, false)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("run(%q) = %v, want %q", tt.args, err, tt.want)
		}
		if tt.want == "usage" && !errors.Is(err, errUsage) {
			t.Fatalf("run(%q) = %v, want errUsage", tt.args, err)
		}
	}
}

func TestUnknownRouter(t *testing.T) {
	opts := simulated()
	opts.router = "nope"
	if err := run(opts, []string{"mask", "1"}, &bytes.Buffer{}, false); err == nil {
		t.Fatalf("expected error for unknown I/O APIC")
	}
}
