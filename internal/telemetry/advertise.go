package telemetry

import (
	"fmt"

	"github.com/enbility/zeroconf/v3"
)

// mDNS service identity for the telemetry endpoint.
const (
	ServiceType = "_garden-telemetry._udp"
	Domain      = "local."
)

// Advertisement is a running mDNS registration.
type Advertisement struct {
	server *zeroconf.Server
}

// Advertise announces the telemetry endpoint on all interfaces so nodes
// can locate the server without a hard-coded address.
func Advertise(instance string, port int, siteID, version string) (*Advertisement, error) {
	server, err := zeroconf.Register(instance, ServiceType, Domain, port, advertTXT(siteID, version), nil)
	if err != nil {
		return nil, fmt.Errorf("registering %s: %w", ServiceType, err)
	}
	return &Advertisement{server: server}, nil
}

// Shutdown withdraws the advertisement. Safe on nil.
func (a *Advertisement) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
}

func advertTXT(siteID, version string) []string {
	txt := []string{"proto=text", "cmd=D0"}
	if siteID != "" {
		txt = append(txt, "site="+siteID)
	}
	if version != "" {
		txt = append(txt, "version="+version)
	}
	return txt
}
