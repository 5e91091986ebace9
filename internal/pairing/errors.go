package pairing

import "errors"

// Domain errors for the pairing package.
//
// These errors can be checked using errors.Is() and map one-to-one onto the
// reason strings sent to peers (see Reason):
//
//	if errors.Is(err, pairing.ErrTargetPaired) {
//	    // another controller got there first
//	}
var (
	// ErrInvalidRole is returned when a connect parameter is not a known role.
	ErrInvalidRole = errors.New("pairing: invalid role")

	// ErrNilPeer is returned when registering a connection without a transport.
	ErrNilPeer = errors.New("pairing: peer is required")

	// ErrInvalidID is returned when registering a connection without an id.
	ErrInvalidID = errors.New("pairing: connection id is required")

	// ErrDuplicateID is returned when registering an id that is already live.
	ErrDuplicateID = errors.New("pairing: duplicate connection id")

	// ErrConnectionNotFound is returned when an operation names an unknown connection.
	ErrConnectionNotFound = errors.New("pairing: connection not found")

	// ErrNotController is returned when a device attempts to request pairing.
	ErrNotController = errors.New("pairing: requester is not a controller")

	// ErrAlreadyPaired is returned when a paired controller requests pairing again.
	ErrAlreadyPaired = errors.New("pairing: requester already paired")

	// ErrInvalidTarget is returned when a pair request does not carry a target id string.
	ErrInvalidTarget = errors.New("pairing: invalid target")

	// ErrTargetNotFound is returned when the pair target is not connected.
	ErrTargetNotFound = errors.New("pairing: target not found")

	// ErrTargetNotDevice is returned when the pair target is not a device.
	ErrTargetNotDevice = errors.New("pairing: target is not a device")

	// ErrTargetPaired is returned when the pair target already has a partner.
	ErrTargetPaired = errors.New("pairing: target already paired")

	// ErrNotPaired is returned when unpair or relay is requested without a partner.
	ErrNotPaired = errors.New("pairing: not paired")

	// ErrPartnerGone is returned when the recorded partner no longer resolves.
	ErrPartnerGone = errors.New("pairing: partner gone")

	// ErrMalformedMessage is returned when an inbound frame is not a JSON object.
	ErrMalformedMessage = errors.New("pairing: malformed message")

	// ErrMissingType is returned when an inbound envelope has no type.
	ErrMissingType = errors.New("pairing: missing message type")

	// ErrUnknownType is returned when an inbound envelope type is not handled.
	ErrUnknownType = errors.New("pairing: unknown message type")

	// ErrSendQueueFull is returned by a Peer whose outbound queue is full.
	ErrSendQueueFull = errors.New("pairing: send queue full")

	// ErrPeerClosed is returned by a Peer whose transport has closed.
	ErrPeerClosed = errors.New("pairing: peer closed")
)

// Reason strings carried in pairError, unpaired and error messages.
const (
	ReasonNotController    = "notController"
	ReasonAlreadyPaired    = "alreadyPaired"
	ReasonInvalidTarget    = "invalidTarget"
	ReasonTargetNotFound   = "targetNotFound"
	ReasonTargetNotDevice  = "targetNotDevice"
	ReasonTargetPaired     = "targetPaired"
	ReasonNotPaired        = "notPaired"
	ReasonPartnerGone      = "partnerGone"
	ReasonMalformedMessage = "malformedMessage"
	ReasonMissingType      = "missingType"
	ReasonUnknownType      = "unknownType"
	ReasonInternal         = "internalError"

	// Unpair causes.
	ReasonUnpairRequested     = "unpairRequested"
	ReasonPartnerDisconnected = "partnerDisconnected"
)

// reasons maps each peer-visible error to its wire reason.
var reasons = []struct {
	err    error
	reason string
}{
	{ErrNotController, ReasonNotController},
	{ErrAlreadyPaired, ReasonAlreadyPaired},
	{ErrInvalidTarget, ReasonInvalidTarget},
	{ErrTargetNotFound, ReasonTargetNotFound},
	{ErrTargetNotDevice, ReasonTargetNotDevice},
	{ErrTargetPaired, ReasonTargetPaired},
	{ErrNotPaired, ReasonNotPaired},
	{ErrPartnerGone, ReasonPartnerGone},
	{ErrMalformedMessage, ReasonMalformedMessage},
	{ErrMissingType, ReasonMissingType},
	{ErrUnknownType, ReasonUnknownType},
}

// Reason returns the wire reason string for err.
// Errors that are not peer-visible map to ReasonInternal.
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ReasonInternal
}
