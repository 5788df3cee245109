package device

import (
	"net"
	"time"
)

// Registry limits.
const (
	// Capacity is the maximum number of records the registry holds.
	Capacity = 32

	// LogCapacity is the number of debug lines kept per record.
	LogCapacity = 64

	// MaxLogLineLen bounds each stored debug line, in bytes.
	MaxLogLineLen = 127

	// MaxLiveStatusLen bounds the live status text, in bytes.
	MaxLiveStatusLen = 8191
)

// OutputState is the last reported state of a node's control output.
type OutputState string

// Output states.
const (
	OutputUnknown OutputState = "UNKNOWN"
	OutputHigh    OutputState = "HIGH"
	OutputLow     OutputState = "LOW"
)

// Record is the registry's view of one sensor node.
// Records are only touched under the registry lock.
type Record struct {
	identity  string
	addr      *net.UDPAddr
	log       *ring
	status    string
	output    OutputState
	firstSeen time.Time
	lastSeen  time.Time
}

func newRecord(identity string, now time.Time) *Record {
	return &Record{
		identity:  identity,
		log:       newRing(LogCapacity),
		output:    OutputUnknown,
		firstSeen: now,
		lastSeen:  now,
	}
}

// Snapshot is a copy of a record safe to hand outside the registry.
type Snapshot struct {
	Identity   string      `json:"identity"`
	Address    string      `json:"address,omitempty"`
	Output     OutputState `json:"output_state"`
	LiveStatus string      `json:"live_status"`
	LogLines   int         `json:"log_lines"`
	FirstSeen  time.Time   `json:"first_seen"`
	LastSeen   time.Time   `json:"last_seen"`
}

func (r *Record) snapshot() Snapshot {
	s := Snapshot{
		Identity:   r.identity,
		Output:     r.output,
		LiveStatus: r.status,
		LogLines:   r.log.Len(),
		FirstSeen:  r.firstSeen,
		LastSeen:   r.lastSeen,
	}
	if r.addr != nil {
		s.Address = r.addr.String()
	}
	return s
}

// Attribution describes what the registry did with one inbound line.
type Attribution struct {
	// Identity of the record the line was attributed to; empty if dropped.
	Identity string

	// Address is the source address now stored on the record.
	Address string

	// Created is set when the line created a new record.
	Created bool

	// ByAddress is set when the record was found by source IP.
	ByAddress bool

	// OutputChanged is set when the line carried a state report or command
	// acknowledgement; Output holds the new state.
	OutputChanged bool
	Output        OutputState
}

// Attributed reports whether the line was attached to any record.
func (a Attribution) Attributed() bool {
	return a.Identity != ""
}

func cloneAddr(a *net.UDPAddr) *net.UDPAddr {
	if a == nil {
		return nil
	}
	c := *a
	c.IP = append(net.IP(nil), a.IP...)
	return &c
}
