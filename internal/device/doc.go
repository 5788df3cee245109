// Package device holds the in-memory registry of sensor nodes seen by the
// telemetry server.
//
// Each node is keyed by its hardware identity (six colon-separated hex
// groups, stored lowercase) and carries its last network address, a rolling
// debug log, its most recent status text and the last reported state of its
// control output.
//
// # Attribution
//
// Inbound datagrams are attributed to a record by the first
// whitespace-delimited token of the payload:
//
//   - A token containing a colon is treated as an identity. The record is
//     found or created; when the registry is full and the identity is
//     unknown, the datagram falls back to matching by source IP.
//   - Any other token is matched by source IP only (ports are ignored since
//     nodes send from ephemeral ports). No record is created.
//
// The registry never evicts. Once Capacity records exist, unknown
// identities are dropped.
//
// The line parsers in parse.go are pure functions so the matching rules
// can be tested without sockets.
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use. A single mutex guards
// every record; no I/O happens while it is held.
package device
