package telemetry

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

// packetTimeLayout matches "%Y-%m-%d %H:%M:%S" in local time.
const packetTimeLayout = "2006-01-02 15:04:05"

// packetLog appends one line per received datagram. A nil *packetLog
// discards everything.
type packetLog struct {
	mu   sync.Mutex
	file *os.File
}

func openPacketLog(path string) (*packetLog, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644) //nolint:gosec // diagnostic log, path from config
	if err != nil {
		return nil, fmt.Errorf("opening packet log: %w", err)
	}
	return &packetLog{file: f}, nil
}

func (l *packetLog) write(at time.Time, from *net.UDPAddr, payload string) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	_, err := fmt.Fprintf(l.file, "%s %s %s\n", at.Local().Format(packetTimeLayout), formatSource(from), payload)
	return err
}

func (l *packetLog) close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// formatSource renders ip:port without IPv6 brackets, as the log has
// always shown it.
func formatSource(a *net.UDPAddr) string {
	if a == nil {
		return "?:0"
	}
	ip := a.IP
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	return fmt.Sprintf("%s:%d", ip, a.Port)
}
