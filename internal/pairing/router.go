package pairing

import "encoding/json"

// Router forwards opaque payloads between paired connections.
//
// It never inspects payload contents. Partner links are resolved through the
// Registry on every message, so a partner that has disappeared is detected
// here rather than through a dangling handle.
type Router struct {
	registry *Registry
}

// NewRouter creates a router over the given registry.
func NewRouter(registry *Registry) *Router {
	return &Router{registry: registry}
}

// resolve returns the live partner of sender.
//
// Returns ErrNotPaired if sender has no partner, and ErrPartnerGone if the
// partner id no longer resolves or no longer points back at sender.
func (r *Router) resolve(sender Connection) (Connection, error) {
	if !sender.Paired() {
		return Connection{}, ErrNotPaired
	}
	partner, ok := r.registry.Lookup(sender.Partner)
	if !ok || partner.Partner != sender.ID {
		return Connection{}, ErrPartnerGone
	}
	return partner, nil
}

// forward delivers payload to partner verbatim inside a relay message.
func (r *Router) forward(partner Connection, payload json.RawMessage) error {
	return partner.peer.Send(encodeRelay(payload))
}
