package mqtt

import "fmt"

// Topic prefixes for the Minerwatch MQTT namespace.
//
// All miner topics use the flat scheme: minerwatch/{category}/{miner_name}
const (
	// TopicPrefix is the base for all Minerwatch topics.
	TopicPrefix = "minerwatch"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "minerwatch/system"
)

// Topics provides builders for Minerwatch MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	telemetryTopic := topics.MinerTelemetry("avalon-01")
//	// Returns: "minerwatch/telemetry/avalon-01"
type Topics struct{}

// MinerTelemetry returns the topic for a miner's summary snapshot.
// Published retained so dashboards see the last reading immediately.
//
// Example: minerwatch/telemetry/avalon-01
func (Topics) MinerTelemetry(miner string) string {
	return fmt.Sprintf("%s/telemetry/%s", TopicPrefix, miner)
}

// MinerAvailability returns the topic for a miner's reachability state.
// Payload is "online" or "offline", published retained.
//
// Example: minerwatch/availability/avalon-01
func (Topics) MinerAvailability(miner string) string {
	return fmt.Sprintf("%s/availability/%s", TopicPrefix, miner)
}

// MinerDevices returns the topic for per-board device detail
// (hashboards, temperatures, fans). BOSminer rigs only.
//
// Example: minerwatch/devices/antminer-02
func (Topics) MinerDevices(miner string) string {
	return fmt.Sprintf("%s/devices/%s", TopicPrefix, miner)
}

// MinerCommand returns the topic for sending a command to one miner.
// Payload is the command name (currently just "poll"). Not retained.
//
// Example: minerwatch/command/avalon-01
func (Topics) MinerCommand(miner string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, miner)
}

// AllCommands returns a pattern matching every miner's command topic.
// The poller subscribes to this for on-demand polls.
//
// Pattern: minerwatch/command/+
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/+", TopicPrefix)
}

// SystemStatus returns the service status topic. Carries the LWT.
//
// Example: minerwatch/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllTelemetry returns a pattern matching every miner's telemetry.
//
// Pattern: minerwatch/telemetry/+
func (Topics) AllTelemetry() string {
	return fmt.Sprintf("%s/telemetry/+", TopicPrefix)
}

// AllAvailability returns a pattern matching every miner's availability.
//
// Pattern: minerwatch/availability/+
func (Topics) AllAvailability() string {
	return fmt.Sprintf("%s/availability/+", TopicPrefix)
}

// AllTopics returns a pattern matching all Minerwatch topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: minerwatch/#
func (Topics) AllTopics() string {
	return "minerwatch/#"
}
