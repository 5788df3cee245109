package telemetry

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ClinShaiju/RiceHolisticGarden/internal/device"
	"github.com/ClinShaiju/RiceHolisticGarden/internal/infrastructure/config"
	"github.com/ClinShaiju/RiceHolisticGarden/internal/infrastructure/metrics"
)

// maxDatagramSize bounds one received payload. Anything longer is cut
// by the kernel; live status can never exceed it.
const maxDatagramSize = device.MaxLiveStatusLen

// Commands understood by the node firmware.
const (
	commandActivate   = "D0 1"
	commandDeactivate = "D0 0"
)

// Reading is one voltage sample reported by a node.
type Reading struct {
	Identity   string    `json:"identity"`
	Volts      float64   `json:"volts"`
	Address    string    `json:"address"`
	ReceivedAt time.Time `json:"received_at"`
}

// ReadingsHandler consumes readings. Every call carries exactly one
// reading; it runs on the receive goroutine and must not block for long.
type ReadingsHandler func([]Reading)

// AttributionHandler observes every datagram that was attached to a
// device record.
type AttributionHandler func(device.Attribution)

// Logger defines the logging interface for the server.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// listener is one bound socket and the goroutine reading it.
type listener struct {
	conn    *net.UDPConn
	log     *packetLog
	running atomic.Bool
	done    chan struct{}
}

// Server is the UDP telemetry endpoint.
type Server struct {
	cfg      config.TelemetryConfig
	registry *device.Registry
	metrics  *metrics.Metrics
	now      func() time.Time

	mu           sync.Mutex
	cur          *listener
	logger       Logger
	onReadings   ReadingsHandler
	onAttributed AttributionHandler
}

// NewServer creates a stopped server backed by registry. m may be nil.
func NewServer(cfg config.TelemetryConfig, registry *device.Registry, m *metrics.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		metrics:  m,
		now:      time.Now,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the server.
func (s *Server) SetLogger(logger Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetReadingsHandler sets the consumer of parsed readings.
func (s *Server) SetReadingsHandler(h ReadingsHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReadings = h
}

// SetAttributionHandler sets the observer of attributed datagrams.
func (s *Server) SetAttributionHandler(h AttributionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAttributed = h
}

// Start binds the UDP socket and starts the receive loop. Calling Start
// on a running server does nothing. After the loop has ended on a
// receive error, Start binds again.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur != nil {
		if s.cur.running.Load() {
			return nil
		}
		// The previous loop ended on its own; let it release the socket.
		<-s.cur.done
	}

	bind := net.JoinHostPort(s.cfg.BindAddress, strconv.Itoa(s.cfg.Port))
	addr, err := net.ResolveUDPAddr("udp", bind)
	if err != nil {
		return fmt.Errorf("%w: resolving %s: %w", ErrBind, bind, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBind, bind, err)
	}

	plog, err := openPacketLog(s.cfg.PacketLogPath)
	if err != nil {
		// The packet log is diagnostic only.
		s.logger.Warn("packet log unavailable", "path", s.cfg.PacketLogPath, "error", err)
		s.metrics.PacketLogError()
	}

	l := &listener{conn: conn, log: plog, done: make(chan struct{})}
	l.running.Store(true)
	s.cur = l

	go s.receiveLoop(l, s.logger)

	s.logger.Info("telemetry server listening", "address", conn.LocalAddr().String())
	return nil
}

// Stop ends the receive loop and waits for it to exit. It is safe to call
// on a stopped server.
func (s *Server) Stop() {
	s.mu.Lock()
	l := s.cur
	s.cur = nil
	logger := s.logger
	s.mu.Unlock()

	if l == nil {
		return
	}
	if l.running.CompareAndSwap(true, false) {
		wake(l.conn)
	}
	<-l.done

	logger.Info("telemetry server stopped")
}

// Running reports whether the receive loop is active.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil && s.cur.running.Load()
}

// Addr returns the bound address, or nil when stopped.
func (s *Server) Addr() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil || !s.cur.running.Load() {
		return nil
	}
	a, _ := s.cur.conn.LocalAddr().(*net.UDPAddr)
	return a
}

// wake unblocks a pending read on conn: a one-byte loopback datagram,
// and an expired deadline in case the socket is not bound on loopback.
func wake(conn *net.UDPConn) {
	if a, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		if c, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: a.Port}); err == nil {
			c.Write([]byte{0}) //nolint:errcheck // best effort wake-up
			c.Close()          //nolint:errcheck // best effort wake-up
		}
	}
	conn.SetReadDeadline(time.Now()) //nolint:errcheck // conn may already be closed
}

func (s *Server) receiveLoop(l *listener, logger Logger) {
	defer close(l.done)
	defer func() {
		l.running.Store(false)
		l.conn.Close() //nolint:errcheck // shutting down
		if err := l.log.close(); err != nil {
			logger.Warn("closing packet log", "error", err)
		}
	}()

	buf := make([]byte, maxDatagramSize)
	for {
		n, src, err := l.conn.ReadFromUDP(buf)
		if !l.running.Load() {
			return
		}
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			s.metrics.ReceiveError()
			logger.Error("telemetry receive failed", "error", err)
			return
		}
		s.handleDatagram(l, buf[:n], src)
	}
}

func (s *Server) handleDatagram(l *listener, data []byte, src *net.UDPAddr) {
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	payload := string(data)
	now := s.now()

	s.mu.Lock()
	logger, onReadings, onAttributed := s.logger, s.onReadings, s.onAttributed
	s.mu.Unlock()

	if err := l.log.write(now, src, payload); err != nil {
		s.metrics.PacketLogError()
		logger.Debug("packet log write failed", "error", err)
	}

	att := s.registry.Attribute(payload, src)
	s.metrics.DatagramReceived(att.Attributed())
	if att.Attributed() && onAttributed != nil {
		onAttributed(att)
	}

	if identity, volts, ok := device.ParseReading(payload); ok {
		r := Reading{
			Identity:   identity,
			Volts:      volts,
			Address:    formatSource(src),
			ReceivedAt: now,
		}
		if onReadings != nil {
			onReadings([]Reading{r})
		}
		s.metrics.ReadingForwarded()
		if !s.registry.ObserveReading(identity, src) {
			logger.Debug("reading from unregistered device, registry full", "identity", r.Identity)
		}
	}

	s.metrics.SetRegistrySize(s.registry.Len())
}

// SendCommand sends "D0 1" (activate) or "D0 0" to the device's last
// known address.
func (s *Server) SendCommand(identity string, activate bool) error {
	cmd := commandDeactivate
	if activate {
		cmd = commandActivate
	}
	err := s.send(identity, cmd)
	s.metrics.CommandSent("output", err)
	return err
}

// SendText sends an arbitrary payload to the device's last known address.
func (s *Server) SendText(identity, text string) error {
	err := s.send(identity, text)
	s.metrics.CommandSent("text", err)
	return err
}

// send resolves the device before touching the network, so an unknown
// identity never causes a send.
func (s *Server) send(identity, payload string) error {
	addr, err := s.registry.Address(identity)
	if err != nil {
		return err
	}

	s.mu.Lock()
	l := s.cur
	logger := s.logger
	s.mu.Unlock()
	if l == nil || !l.running.Load() {
		return ErrNotRunning
	}

	n, err := l.conn.WriteToUDP([]byte(payload), addr)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrNotRunning
		}
		return fmt.Errorf("sending to %s: %w", identity, err)
	}
	if n != len(payload) {
		return fmt.Errorf("%w: %d of %d bytes to %s", ErrSendIncomplete, n, len(payload), identity)
	}

	logger.Debug("sent to device", "identity", identity, "address", addr.String(), "payload", payload)
	return nil
}

// Logs returns up to max bytes of the device's debug log, oldest first.
func (s *Server) Logs(identity string, max int) (string, error) {
	return s.registry.Logs(identity, max)
}

// LiveStatus returns the device's most recent raw message.
func (s *Server) LiveStatus(identity string) (string, error) {
	return s.registry.LiveStatus(identity)
}

// OutputState returns the device's last reported output state, or
// OutputUnknown if the device is not registered.
func (s *Server) OutputState(identity string) device.OutputState {
	return s.registry.OutputState(identity)
}
