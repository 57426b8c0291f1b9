package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"golang.org/x/term"

	"github.com/tinyrange/apic/internal/board"
	"github.com/tinyrange/apic/internal/ioapic"
	"github.com/tinyrange/apic/internal/mmio"
)

type options struct {
	boardPath string
	simulate  bool
	memory    string
	router    string
	trace     bool
	verbose   bool

	level     bool
	activeLow bool
	logical   bool
}

var errUsage = errors.New("usage")

func parseUint8(s string, what string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", what, s, err)
	}
	return uint8(v), nil
}

func parseRow(s string) (uint8, error) {
	row, err := parseUint8(s, "row")
	if err != nil {
		return 0, err
	}
	if row >= ioapic.RedirectionEntries {
		return 0, fmt.Errorf("row %d out of range [0, %d)", row, ioapic.RedirectionEntries)
	}
	return row, nil
}

func openMachine(opts options) (*board.Machine, error) {
	b := board.Default()
	if opts.boardPath != "" {
		var err error
		b, err = board.Load(opts.boardPath)
		if err != nil {
			return nil, err
		}
	}

	machineOpts := board.Options{
		Simulate:     opts.simulate,
		MemoryDevice: opts.memory,
	}
	if opts.trace {
		machineOpts.OnAccess = func(a mmio.Access) {
			slog.Info("mmio", "op", a.Op.String(), "addr", fmt.Sprintf("%#x", a.Addr), "value", fmt.Sprintf("%#08x", a.Value))
		}
	}
	return board.Open(b, machineOpts)
}

func run(opts options, args []string, stdout io.Writer, styled bool) error {
	if len(args) == 0 {
		return errUsage
	}

	// Row arguments are checked before the controllers are touched.
	var row uint8
	var route ioapic.RedirectionTableEntry
	switch args[0] {
	case "dump", "eoi":
		if len(args) != 1 {
			return errUsage
		}
	case "mask", "unmask":
		if len(args) != 2 {
			return errUsage
		}
		var err error
		if row, err = parseRow(args[1]); err != nil {
			return err
		}
	case "route":
		if len(args) != 4 {
			return errUsage
		}
		var err error
		if row, err = parseRow(args[1]); err != nil {
			return err
		}
		if route.Vector, err = parseUint8(args[2], "vector"); err != nil {
			return err
		}
		if route.Destination, err = parseUint8(args[3], "destination"); err != nil {
			return err
		}
		if opts.level {
			route.TriggerMode = ioapic.TriggerLevel
		}
		if opts.activeLow {
			route.Polarity = ioapic.ActiveLow
		}
		if opts.logical {
			route.DestinationMode = ioapic.DestinationLogical
		}
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}

	m, err := openMachine(opts)
	if err != nil {
		return err
	}
	defer m.Close()

	if args[0] == "dump" {
		return writeDump(stdout, m, styled)
	}
	if args[0] == "eoi" {
		m.Local.SignalEndOfInterrupt()
		slog.Info("signalled end of interrupt", "apic", fmt.Sprintf("%#x", m.Local.Base()))
		return nil
	}

	name := opts.router
	if name == "" {
		name = m.Board.IOAPICs[0].Name
	}
	r, err := m.Router(name)
	if err != nil {
		return err
	}

	switch args[0] {
	case "mask":
		r.Mask(row)
	case "unmask":
		r.Unmask(row)
	case "route":
		// Program masked, then unmask, so the router never sees the new
		// low word paired with the old destination.
		masked := route
		masked.Masked = true
		r.WriteRedirectionTableEntry(row, masked)
		r.Unmask(row)
	}
	slog.Debug("updated redirection entry", "ioapic", name, "row", row)
	return writeRow(stdout, row, r.ReadRedirectionTableEntry(row), styled)
}

func main() {
	var opts options
	flag.StringVar(&opts.boardPath, "board", "", "YAML board description (default: PC layout)")
	flag.BoolVar(&opts.simulate, "simulate", false, "use emulated controllers instead of physical memory")
	flag.StringVar(&opts.memory, "mem", mmio.DefaultMemoryDevice, "physical memory device")
	flag.StringVar(&opts.router, "ioapic", "", "I/O APIC to operate on (default: first on the board)")
	flag.BoolVar(&opts.trace, "trace", false, "log every register access")
	flag.BoolVar(&opts.verbose, "v", false, "enable debug logging")
	flag.BoolVar(&opts.level, "level", false, "route: level triggered")
	flag.BoolVar(&opts.activeLow, "active-low", false, "route: active-low polarity")
	flag.BoolVar(&opts.logical, "logical", false, "route: logical destination mode")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `apicctl - inspect and program APIC interrupt controllers

USAGE:
  apicctl [flags] <command> [args]

COMMANDS:
  dump                        Print local APIC registers and every redirection entry
  mask ROW                    Mask redirection entry ROW
  unmask ROW                  Unmask redirection entry ROW
  route ROW VECTOR DEST       Route ROW to VECTOR on APIC DEST (fixed delivery)
  eoi                         Signal end of interrupt on the local APIC

FLAGS:
`)
		flag.PrintDefaults()
	}
	flag.Parse()

	if opts.verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	styled := term.IsTerminal(int(os.Stdout.Fd()))
	if err := run(opts, flag.Args(), os.Stdout, styled); err != nil {
		if errors.Is(err, errUsage) {
			flag.Usage()
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "apicctl: %v\n", err)
		os.Exit(1)
	}
}
