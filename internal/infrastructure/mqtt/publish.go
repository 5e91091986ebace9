package mqtt

import (
	"fmt"
)

// maxPayloadSize caps a single mirror message. Availability snapshots are
// the largest payload and grow with the number of unpaired connections.
const maxPayloadSize = 1 << 20

// checkPublish rejects a message before it reaches paho.
func checkPublish(topic string, payload []byte, qos byte) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return fmt.Errorf("%w: got %d", ErrInvalidQoS, qos)
	case len(payload) > maxPayloadSize:
		return fmt.Errorf("%w: %d byte payload on %s exceeds %d", ErrPublishFailed, len(payload), topic, maxPayloadSize)
	}
	return nil
}

// Publish sends one mirror message and waits for the broker to accept it.
// Availability snapshots go out retained so late subscribers see the
// current unpaired set; lifecycle events do not.
//
//	err := client.Publish(client.Topics().Event("paired"), payload, client.QoS(), false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkPublish(topic, payload, qos); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %s not acknowledged within %v", ErrPublishFailed, topic, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}
