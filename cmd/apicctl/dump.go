package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/tinyrange/apic/internal/apic"
	"github.com/tinyrange/apic/internal/board"
	"github.com/tinyrange/apic/internal/ioapic"
)

func pad(s string, width int) string {
	if n := ansi.StringWidth(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

func heading(s string, styled bool) string {
	if !styled {
		return s
	}
	return ansi.Style{}.Bold().Styled(s)
}

type field struct {
	name  string
	value string
}

func (f field) write(w io.Writer) error {
	_, err := fmt.Fprintf(w, "  %s %s\n", pad(f.name+":", 28), f.value)
	return err
}

func writeLocal(w io.Writer, c *apic.Controller, styled bool) error {
	if _, err := fmt.Fprintln(w, heading(fmt.Sprintf("local apic @ %#x", c.Base()), styled)); err != nil {
		return err
	}

	version := c.Version().Read()
	svr := c.SpuriousInterruptVector().Read()
	timer := c.TimerLocalVectorTableEntry().Read()

	fields := []field{
		{"id", fmt.Sprintf("%d", c.ID().Read().APICID())},
		{"version", fmt.Sprintf("%#x (%d lvt entries)", version.Version(), version.LVTEntries())},
		{"task priority", fmt.Sprintf("%#x", c.TaskPriority().Read().Value())},
		{"spurious vector", fmt.Sprintf("%#x enabled=%t", svr.Vector(), svr.Enabled())},
		{"timer", fmt.Sprintf("vector=%#x mode=%s masked=%t", timer.Vector(), timer.Mode(), timer.Masked())},
		{"timer divisor", fmt.Sprintf("%d", c.TimerDivideConfiguration().Read().Divisor())},
		{"timer initial count", fmt.Sprintf("%d", c.TimerInitialCount().Read())},
		{"timer current count", fmt.Sprintf("%d", c.TimerCurrentCount().Read())},
		{"error status", fmt.Sprintf("%#x", uint32(c.ErrorStatus().Read()))},
	}
	if version.ExtendedRegisterSpace() {
		feature := c.ExtendedApicFeature().Read()
		fields = append(fields, field{"extended lvt count", fmt.Sprintf("%d", feature.ExtendedLVTCount())})
	}

	for _, f := range fields {
		if err := f.write(w); err != nil {
			return err
		}
	}
	return nil
}

func writeRow(w io.Writer, row uint8, e ioapic.RedirectionTableEntry, styled bool) error {
	line := fmt.Sprintf("  %s %s", pad(fmt.Sprintf("%2d", row), 3), e)
	if styled && e.Masked {
		line = ansi.Style{}.Faint().Styled(line)
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

func writeRouter(w io.Writer, name string, r *ioapic.Router, styled bool) error {
	version := r.ReadVersion()
	title := fmt.Sprintf("%s @ %#x id=%d version=%#x entries=%d",
		name, r.Base(), r.ReadID(), version.Version, version.Entries())
	if _, err := fmt.Fprintln(w, heading(title, styled)); err != nil {
		return err
	}
	entries := r.RedirectionEntries()
	for row := 0; row < entries; row++ {
		if err := writeRow(w, uint8(row), r.ReadRedirectionTableEntry(uint8(row)), styled); err != nil {
			return err
		}
	}
	return nil
}

func writeDump(w io.Writer, m *board.Machine, styled bool) error {
	if err := writeLocal(w, m.Local, styled); err != nil {
		return err
	}
	for i, r := range m.Routers {
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
		if err := writeRouter(w, m.Board.IOAPICs[i].Name, r, styled); err != nil {
			return err
		}
	}
	return nil
}
