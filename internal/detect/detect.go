package detect

import (
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bigbag/hpm-flasher/internal/chip"
	"github.com/bigbag/hpm-flasher/internal/probe"
	"github.com/bigbag/hpm-flasher/internal/serial"
)

// USB IDs of debug probes serving GDB on a CDC-ACM port.
var knownProbes = []struct {
	VID, PID string
	Name     string
}{
	{"1d50", "6018", "Black Magic Probe"},
}

const (
	DefaultScan    = "swd_scan"
	DefaultTarget  = 1
	DefaultTimeout = 2 * time.Second
)

// Probe represents a debug probe found on a serial port.
type Probe struct {
	Port   string
	Name   string
	Serial string
}

// Options control how a probe is opened and the target attached.
type Options struct {
	BaudRate int
	Scan     string
	Target   int
	Timeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.BaudRate == 0 {
		o.BaudRate = serial.DefaultBaudRate
	}
	if o.Scan == "" {
		o.Scan = DefaultScan
	}
	if o.Target == 0 {
		o.Target = DefaultTarget
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// Result represents an identified HPMicro target.
type Result struct {
	Port     string
	Magic    uint32
	ChipName string
}

// ListProbes returns the debug probes attached over USB.
func ListProbes() ([]Probe, error) {
	ports, err := serial.ListUSBPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}
	return MatchProbes(ports), nil
}

// MatchProbes picks the GDB port of every known probe in ports. A probe
// exposes several CDC ports; the GDB server is on the lowest-named one.
func MatchProbes(ports []serial.USBPort) []Probe {
	sorted := append([]serial.USBPort(nil), ports...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	seen := make(map[string]bool)
	var probes []Probe
	for _, p := range sorted {
		name, ok := probeName(p)
		if !ok {
			continue
		}
		key := p.VID + ":" + p.PID + ":" + p.SerialNumber
		if p.SerialNumber != "" && seen[key] {
			continue
		}
		seen[key] = true
		probes = append(probes, Probe{Port: p.Name, Name: name, Serial: p.SerialNumber})
	}
	return probes
}

func probeName(p serial.USBPort) (string, bool) {
	for _, k := range knownProbes {
		if p.VID == k.VID && p.PID == k.PID {
			return k.Name, true
		}
	}
	return "", false
}

// DetectProbe returns the first debug probe found.
func DetectProbe() (*Probe, error) {
	probes, err := ListProbes()
	if err != nil {
		return nil, err
	}
	if len(probes) == 0 {
		return nil, fmt.Errorf("no debug probe found")
	}
	if len(probes) > 1 {
		log.Warnf("%d probes found, using %s", len(probes), probes[0].Port)
	}
	return &probes[0], nil
}

// Open opens the probe on portName, scans for targets and attaches to the
// selected one. The caller closes the returned port.
func Open(portName string, opts Options) (*serial.Port, *probe.Client, error) {
	opts = opts.withDefaults()

	port, err := serial.Open(portName, opts.BaudRate)
	if err != nil {
		return nil, nil, err
	}

	client := probe.New(port, opts.Timeout)
	if err := attach(client, opts); err != nil {
		port.Close()
		return nil, nil, err
	}
	return port, client, nil
}

func attach(client *probe.Client, opts Options) error {
	if err := client.Connect(); err != nil {
		return fmt.Errorf("failed to connect to probe: %w", err)
	}
	if _, err := client.Scan(opts.Scan); err != nil {
		return err
	}
	if err := client.Attach(opts.Target); err != nil {
		return fmt.Errorf("failed to attach: %w", err)
	}
	return nil
}

// Identify attaches to the target behind portName and reports its silicon.
func Identify(portName string, opts Options) (*Result, error) {
	port, client, err := Open(portName, opts)
	if err != nil {
		return nil, err
	}
	defer port.Close()
	defer client.Detach()

	id, err := chip.Identify(client)
	if err != nil {
		return nil, fmt.Errorf("failed to identify chip: %w", err)
	}

	return &Result{
		Port:     portName,
		Magic:    id.Magic,
		ChipName: id.Name,
	}, nil
}
