package mqtt

import "strings"

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "relay"

// Topics provides builders for relay MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{Prefix: "relay"}
//	topics.Event("paired")
//	// Returns: "relay/events/paired"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	p := strings.Trim(t.Prefix, "/")
	if p == "" {
		return DefaultTopicPrefix
	}
	return p
}

// Availability returns the retained topic carrying the current set of
// unpaired connections.
//
// Example: relay/availability
func (t Topics) Availability() string {
	return t.prefix() + "/availability"
}

// Event returns the topic for one pairing lifecycle event kind.
//
// Example: relay/events/unpaired
func (t Topics) Event(kind string) string {
	return t.prefix() + "/events/" + kind
}

// SystemStatus returns the retained online/offline status topic, also used
// as the Last Will topic.
//
// Example: relay/system/status
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}
