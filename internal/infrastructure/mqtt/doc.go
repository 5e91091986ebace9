// Package mqtt provides MQTT client connectivity for the pairing relay.
//
// The client is publish-only. It manages:
//   - Connection to an MQTT broker with auto-reconnect after loss
//   - Message publishing with QoS guarantees
//   - Last Will and Testament (LWT) for offline detection
//
// # Topics
//
// All topics live under a configurable prefix (default "relay"):
//
//	relay/availability     retained, current unpaired set
//	relay/events/{kind}    pairing lifecycle events
//	relay/system/status    retained online/offline status, also the LWT
//
// The broker is an optional mirror for external observers. Pairing and relay
// traffic never depend on it.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := client.Topics().Event("paired")
//	client.Publish(topic, payload, client.QoS(), false)
package mqtt
