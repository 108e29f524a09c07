// Package signal defines the signaling wire contract and the transport
// adapter that routes named events to subscribers.
package signal

import "lessoncall/internal/domain"

// Inbound event names (server → client). Connect and Disconnect are
// transport-level and carry no application payload.
const (
	EventIncomingCall = "incomingCall"
	EventCallAccepted = "callAccepted"
	EventCallEnded    = "callEnded"
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
)

// Outbound event names (client → server).
const (
	EmitAcceptCall = "acceptCall"
	EmitRejectCall = "rejectCall"
	EmitEndCall    = "endCall"
)

// InboundEvents lists every event the call machine subscribes to.
var InboundEvents = []string{
	EventIncomingCall,
	EventCallAccepted,
	EventCallEnded,
	EventConnect,
	EventDisconnect,
}

// Event is the closed set of inbound signaling events.
type Event interface {
	isEvent()
	Name() string
}

type IncomingCall struct {
	ConversationID string          `json:"conversationId"`
	CallerID       string          `json:"callerId"`
	CallerRole     domain.Role     `json:"callerRole"`
	Type           domain.CallType `json:"type"`
}

type CallAccepted struct {
	ConversationID string          `json:"conversationId"`
	ParticipantID  string          `json:"participantId"`
	Type           domain.CallType `json:"type"`
}

type CallEnded struct{}

type Connect struct{}

type Disconnect struct{}

func (IncomingCall) isEvent() {}
func (CallAccepted) isEvent() {}
func (CallEnded) isEvent()    {}
func (Connect) isEvent()      {}
func (Disconnect) isEvent()   {}

func (IncomingCall) Name() string { return EventIncomingCall }
func (CallAccepted) Name() string { return EventCallAccepted }
func (CallEnded) Name() string    { return EventCallEnded }
func (Connect) Name() string      { return EventConnect }
func (Disconnect) Name() string   { return EventDisconnect }

// Offer converts the event into the pending offer it describes.
func (e IncomingCall) Offer() domain.CallOffer {
	return domain.CallOffer{
		ConversationID: e.ConversationID,
		CallerID:       e.CallerID,
		CallerRole:     e.CallerRole,
		Type:           e.Type,
	}
}

// Session converts the confirmation into the session it establishes.
// The conversation doubles as the media room.
func (e CallAccepted) Session() domain.CallSession {
	return domain.CallSession{
		RoomID:        e.ConversationID,
		ParticipantID: e.ParticipantID,
		Type:          e.Type,
	}
}

// AcceptCallPayload is emitted when the callee accepts a pending offer.
type AcceptCallPayload struct {
	ConversationID string          `json:"conversationId"`
	CallerID       string          `json:"callerId"`
	Type           domain.CallType `json:"type"`
}

// RejectCallPayload is emitted on explicit reject, busy, or ring timeout.
type RejectCallPayload struct {
	CallerID string `json:"callerId"`
}

// EndCallPayload is emitted when the local user hangs up.
type EndCallPayload struct {
	ParticipantID string `json:"participantId"`
}
