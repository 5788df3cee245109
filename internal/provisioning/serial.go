package provisioning

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.bug.st/serial"
)

// Discoverer enumerates serial device paths.
type Discoverer interface {
	Ports() ([]string, error)
}

// Port is an open serial line. Read returns 0, nil when nothing arrived
// within the read timeout.
type Port interface {
	Read(p []byte) (int, error)
	Close() error
}

// SerialOpener opens a serial line in raw 8N1 mode.
type SerialOpener interface {
	Open(path string, baud int, readTimeout time.Duration) (Port, error)
}

// SystemSerial discovers and opens ports on the host.
type SystemSerial struct{}

var (
	_ Discoverer   = SystemSerial{}
	_ SerialOpener = SystemSerial{}
)

// Ports lists the serial ports known to the OS.
func (SystemSerial) Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %w", err)
	}
	return ports, nil
}

// Open opens path at baud with the given read timeout.
func (SystemSerial) Open(path string, baud int, readTimeout time.Duration) (Port, error) {
	p, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	if err := p.SetReadTimeout(readTimeout); err != nil {
		p.Close() //nolint:errcheck // best effort on error path
		return nil, fmt.Errorf("setting read timeout on %s: %w", path, err)
	}
	return p, nil
}

// matchPorts keeps the ports whose base name starts with one of prefixes,
// sorted so the choice is stable across scans.
func matchPorts(ports, prefixes []string) []string {
	var out []string
	for _, p := range ports {
		base := filepath.Base(p)
		for _, prefix := range prefixes {
			if strings.HasPrefix(base, prefix) {
				out = append(out, p)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}
