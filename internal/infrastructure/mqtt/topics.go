package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every garden topic.
const TopicPrefix = "garden"

// Topics provides builders for garden MQTT topics, all scoped by site:
//
//	garden/{site}/reading/{identity}          moisture readings (not retained)
//	garden/{site}/device/{identity}/state     output state (retained)
//	garden/{site}/device/{identity}/command   inbound text commands
//	garden/{site}/provisioning/status         provisioning status lines
//	garden/{site}/provisioning/outcome        provisioning outcomes
//	garden/{site}/system/status               core online/offline (retained, LWT)
type Topics struct{}

// Reading returns the topic for a device's moisture readings.
func (Topics) Reading(site, identity string) string {
	return fmt.Sprintf("%s/%s/reading/%s", TopicPrefix, site, identity)
}

// DeviceState returns the retained output-state topic for a device.
func (Topics) DeviceState(site, identity string) string {
	return fmt.Sprintf("%s/%s/device/%s/state", TopicPrefix, site, identity)
}

// DeviceCommand returns the inbound command topic for a device.
func (Topics) DeviceCommand(site, identity string) string {
	return fmt.Sprintf("%s/%s/device/%s/command", TopicPrefix, site, identity)
}

// AllDeviceCommands matches every device's command topic.
func (Topics) AllDeviceCommands(site string) string {
	return fmt.Sprintf("%s/%s/device/+/command", TopicPrefix, site)
}

// ParseDeviceCommand extracts the identity from a device command topic.
func (Topics) ParseDeviceCommand(site, topic string) (string, bool) {
	prefix := fmt.Sprintf("%s/%s/device/", TopicPrefix, site)
	rest, ok := strings.CutPrefix(topic, prefix)
	if !ok {
		return "", false
	}
	identity, ok := strings.CutSuffix(rest, "/command")
	if !ok || identity == "" || strings.Contains(identity, "/") {
		return "", false
	}
	return identity, true
}

// ProvisioningStatus returns the topic carrying provisioning status lines.
func (Topics) ProvisioningStatus(site string) string {
	return fmt.Sprintf("%s/%s/provisioning/status", TopicPrefix, site)
}

// ProvisioningOutcome returns the topic carrying provisioning outcomes.
func (Topics) ProvisioningOutcome(site string) string {
	return fmt.Sprintf("%s/%s/provisioning/outcome", TopicPrefix, site)
}

// SystemStatus returns the retained core status topic.
func (Topics) SystemStatus(site string) string {
	return fmt.Sprintf("%s/%s/system/status", TopicPrefix, site)
}
