// Package telemetry receives sensor datagrams over UDP and sends commands
// back to individual nodes.
//
// Every datagram is treated as text up to its first NUL byte. It is
// appended to the packet log, attributed to a device record (see package
// device), and, when it has the shape "<identity> <volts>" or
// "<identity>,<volts>" with volts in [0, 5], forwarded immediately as a
// single reading.
//
// Malformed input never stops the receive loop. Stop is the only way to
// end it deliberately; it wakes the blocked read with a loopback datagram.
//
// Example:
//
//	srv := telemetry.NewServer(cfg.Telemetry, registry, m)
//	srv.SetReadingsHandler(func(rs []telemetry.Reading) { ... })
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Stop()
//
//	err := srv.SendCommand("a4:cf:12:00:00:01", true) // sends "D0 1"
package telemetry
