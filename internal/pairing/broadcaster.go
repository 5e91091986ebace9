package pairing

import "sync"

// Broadcaster fans availability snapshots out to subscribed controllers.
//
// The subscriber list is explicit: the Engine subscribes a connection when a
// controller registers and unsubscribes it when that connection closes.
//
// Lock ordering: the subscriber list is snapshotted under the broadcaster
// lock, which is released before any Peer.Send.
type Broadcaster struct {
	subscribers map[string]Peer
	mu          sync.RWMutex
	logger      Logger
}

// PublishResult reports the outcome of one fan-out.
type PublishResult struct {
	Delivered int
	Failed    int
}

// NewBroadcaster creates a broadcaster with no subscribers.
func NewBroadcaster(logger Logger) *Broadcaster {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Broadcaster{
		subscribers: make(map[string]Peer),
		logger:      logger,
	}
}

// Subscribe adds a peer to the availability topic.
func (b *Broadcaster) Subscribe(id string, peer Peer) {
	b.mu.Lock()
	b.subscribers[id] = peer
	b.mu.Unlock()
}

// Unsubscribe removes a peer. Removing an absent id is a no-op.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	delete(b.subscribers, id)
	b.mu.Unlock()
}

// IsSubscribed reports whether id currently receives availability updates.
func (b *Broadcaster) IsSubscribed(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.subscribers[id]
	return ok
}

// SubscriberCount returns the number of subscribed peers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Publish sends one availability message carrying entries to every
// subscriber. A failed delivery is logged and counted; it never stops
// delivery to the remaining subscribers.
func (b *Broadcaster) Publish(entries []AvailabilityEntry) PublishResult {
	if entries == nil {
		entries = []AvailabilityEntry{}
	}

	data, err := Encode(KindAvailability, entries)
	if err != nil {
		b.logger.Error("failed to encode availability", "error", err)
		return PublishResult{}
	}

	b.mu.RLock()
	targets := make(map[string]Peer, len(b.subscribers))
	for id, peer := range b.subscribers {
		targets[id] = peer
	}
	b.mu.RUnlock()

	var result PublishResult
	for id, peer := range targets {
		if sendErr := peer.Send(data); sendErr != nil {
			result.Failed++
			b.logger.Warn("availability delivery failed", "connection_id", id, "error", sendErr)
			continue
		}
		result.Delivered++
	}

	if result.Delivered+result.Failed > 0 {
		b.logger.Debug("availability published",
			"available", len(entries),
			"delivered", result.Delivered,
			"failed", result.Failed,
		)
	}
	return result
}
