package device

import (
	"net"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
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

// Registry is the bounded, process-lifetime table of sensor nodes.
//
// All public methods are thread-safe.
type Registry struct {
	mu       sync.Mutex
	records  []*Record // insertion order, used for IP fallback
	index    map[string]*Record
	capacity int
	now      func() time.Time
	logger   Logger
}

// NewRegistry creates an empty registry holding up to Capacity records.
func NewRegistry() *Registry {
	return newRegistry(Capacity)
}

func newRegistry(capacity int) *Registry {
	return &Registry{
		index:    make(map[string]*Record, capacity),
		capacity: capacity,
		now:      time.Now,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Attribute attaches one inbound line from addr to a record.
//
// On success the record's address is replaced by addr, the line is
// appended to its debug log and becomes its live status, and a state
// report or command acknowledgement in the line updates its output state.
// An empty line is never attributed.
func (r *Registry) Attribute(line string, addr *net.UDPAddr) Attribution {
	token := FirstToken(line)
	if token == "" {
		return Attribution{}
	}

	r.mu.Lock()
	att, dropped := r.attributeLocked(token, line, addr)
	logger := r.logger
	r.mu.Unlock()

	switch {
	case att.Created:
		logger.Info("device registered", "identity", att.Identity, "from", att.Address)
	case dropped:
		logger.Debug("device registry full, identity dropped", "identity", CanonicalIdentity(token), "capacity", r.capacity)
	}
	if !att.Attributed() {
		logger.Debug("datagram not attributed", "token", token, "from", addrString(addr))
	}
	return att
}

func (r *Registry) attributeLocked(token, line string, addr *net.UDPAddr) (att Attribution, dropped bool) {
	var rec *Record
	if IsIdentityToken(token) {
		rec, att.Created = r.findOrCreateLocked(CanonicalIdentity(token))
		dropped = rec == nil
	}
	if rec == nil {
		rec = r.findByIPLocked(addr)
		att.ByAddress = rec != nil
	}
	if rec == nil {
		return Attribution{}, dropped
	}

	rec.addr = cloneAddr(addr)
	rec.lastSeen = r.now()
	rec.log.Append(truncate(line, MaxLogLineLen))
	rec.status = truncate(line, MaxLiveStatusLen)

	if state, ok := ParseOutputState(line); ok {
		rec.output = state
		att.OutputChanged = true
		att.Output = state
	}

	att.Identity = rec.identity
	att.Address = addrString(rec.addr)
	return att, dropped
}

// ObserveReading finds or creates the record for a reading's identity and
// stores addr as its network address. It reports false when the registry
// is full and the identity is unknown.
func (r *Registry) ObserveReading(identity string, addr *net.UDPAddr) bool {
	key := CanonicalIdentity(identity)

	r.mu.Lock()
	rec, created := r.findOrCreateLocked(key)
	if rec != nil {
		rec.addr = cloneAddr(addr)
		rec.lastSeen = r.now()
	}
	logger := r.logger
	r.mu.Unlock()

	if created {
		logger.Info("device registered", "identity", key, "from", addrString(addr))
	}
	return rec != nil
}

// Address returns a copy of the last network address seen for identity.
func (r *Registry) Address(identity string) (*net.UDPAddr, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.index[CanonicalIdentity(identity)]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	if rec.addr == nil {
		return nil, ErrNoAddress
	}
	return cloneAddr(rec.addr), nil
}

// Logs returns the debug log of identity, oldest to newest, newline-joined
// and cut to at most max bytes (max <= 0 for no limit).
func (r *Registry) Logs(identity string, max int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.index[CanonicalIdentity(identity)]
	if !ok {
		return "", ErrDeviceNotFound
	}
	return rec.log.Join(max), nil
}

// LiveStatus returns the most recent raw line attributed to identity.
func (r *Registry) LiveStatus(identity string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.index[CanonicalIdentity(identity)]
	if !ok {
		return "", ErrDeviceNotFound
	}
	return rec.status, nil
}

// OutputState returns the last known output state, or OutputUnknown if the
// identity is not registered.
func (r *Registry) OutputState(identity string) OutputState {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.index[CanonicalIdentity(identity)]
	if !ok {
		return OutputUnknown
	}
	return rec.output
}

// Get returns a snapshot of one record.
func (r *Registry) Get(identity string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.index[CanonicalIdentity(identity)]
	if !ok {
		return Snapshot{}, ErrDeviceNotFound
	}
	return rec.snapshot(), nil
}

// List returns snapshots of every record in the order they were first seen.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Snapshot, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.snapshot())
	}
	return out
}

// findOrCreateLocked returns the record for key, creating it if there is
// room. It returns nil when the registry is full and key is unknown.
func (r *Registry) findOrCreateLocked(key string) (*Record, bool) {
	if rec, ok := r.index[key]; ok {
		return rec, false
	}
	if len(r.records) >= r.capacity {
		return nil, false
	}

	rec := newRecord(key, r.now())
	r.records = append(r.records, rec)
	r.index[key] = rec
	return rec, true
}

// findByIPLocked returns the first record whose last address has the same
// IP as addr. Ports are ignored.
func (r *Registry) findByIPLocked(addr *net.UDPAddr) *Record {
	if addr == nil {
		return nil
	}
	for _, rec := range r.records {
		if rec.addr != nil && rec.addr.IP.Equal(addr.IP) {
			return rec
		}
	}
	return nil
}

func addrString(a *net.UDPAddr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
