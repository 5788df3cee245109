package provisioning

import (
	"context"
	"fmt"

	"github.com/ClinShaiju/RiceHolisticGarden/internal/device"
)

// lineBufferSize matches the node's serial line buffer; a line that
// reaches it without a terminator is discarded.
const lineBufferSize = 256

// idleTicksPerNotice spaces the "waiting" status to about once a second
// at the default poll interval.
const idleTicksPerNotice = 10

const waitingText = "Waiting for serial registration..."

// awaitRegistration reads port until a complete line contains a hardware
// identity, the timeout elapses, or a read fails.
func (m *Manager) awaitRegistration(ctx context.Context, path string, status func(string)) (string, error) {
	port, err := m.opener.Open(path, m.cfg.BaudRate, m.cfg.PollInterval)
	if err != nil {
		return "", err
	}
	defer port.Close()

	deadline := m.now().Add(m.cfg.RegistrationTimeout)
	chunk := make([]byte, 64)
	line := make([]byte, 0, lineBufferSize)
	ticks := 0

	for m.now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, err := port.Read(chunk)
		ticks++
		if err != nil {
			status(fmt.Sprintf("Serial read error: %s", err))
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
		if n == 0 {
			if ticks%idleTicksPerNotice == 0 {
				status(waitingText)
			}
			continue
		}

		for _, c := range chunk[:n] {
			if c == '\n' || c == '\r' {
				if id, ok := device.FindIdentity(string(line)); ok {
					return id, nil
				}
				line = line[:0]
				continue
			}
			line = append(line, c)
			if len(line) >= lineBufferSize-1 {
				line = line[:0]
			}
		}
	}
	return "", ErrRegistrationTimeout
}
