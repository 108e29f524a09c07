package domain

// CallType is the media kind requested for a call.
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// Valid reports whether t is one of the known call types.
func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// Role identifies the platform role of a participant.
type Role string

const (
	RoleLearner    Role = "learner"
	RoleInstructor Role = "instructor"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleLearner || r == RoleInstructor
}

// CallState models the signaling lifecycle.
type CallState string

const (
	CallStateIdle    CallState = "idle"
	CallStateRinging CallState = "ringing"
	CallStateActive  CallState = "active"
)

// CallStateReason provides a structured reason for state notifications.
type CallStateReason string

const (
	CallReasonConnected       CallStateReason = "connected"
	CallReasonDisconnected    CallStateReason = "disconnected"
	CallReasonOutgoingStarted CallStateReason = "outgoing_started"
	CallReasonIncomingOffer   CallStateReason = "incoming_offer"
	CallReasonAcceptSent      CallStateReason = "accept_sent"
	CallReasonOfferRejected   CallStateReason = "offer_rejected"
	CallReasonRingTimeout     CallStateReason = "ring_timeout"
	CallReasonCallConfirmed   CallStateReason = "call_confirmed"
	CallReasonEndedLocally    CallStateReason = "ended_locally"
	CallReasonEndedRemotely   CallStateReason = "ended_remotely"
	CallReasonMediaJoined     CallStateReason = "media_joined"
	CallReasonJoinFailed      CallStateReason = "join_failed"
	CallReasonErrorDismissed  CallStateReason = "error_dismissed"
)

// ErrorCode identifies user-visible call errors.
type ErrorCode string

const (
	ErrorCodeStartup              ErrorCode = "startup_failed"
	ErrorCodeCredentialFetch      ErrorCode = "credential_fetch_failed"
	ErrorCodeEngineJoin           ErrorCode = "engine_join_failed"
	ErrorCodeTransportUnavailable ErrorCode = "transport_unavailable"
	ErrorCodeCommand              ErrorCode = "command_failed"
)

// CallOffer is an incoming invitation that has not been confirmed yet.
type CallOffer struct {
	ConversationID string   `json:"conversationId"`
	CallerID       string   `json:"callerId"`
	CallerRole     Role     `json:"callerRole"`
	Type           CallType `json:"type"`
}

// CallSession is a call between exactly two participants, joined or joining.
type CallSession struct {
	RoomID        string   `json:"roomId"`
	ParticipantID string   `json:"participantId"`
	Type          CallType `json:"type"`
}

// JoinCredential is the short-lived room-scoped token from the credential endpoint.
type JoinCredential struct {
	RoomID    string
	RoomToken string
}

// LocalIdentity describes the signed-in user.
type LocalIdentity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
}

// CallError is a terminal, dismissible error surfaced to the UI.
type CallError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Snapshot is the read-only view of call state handed to the UI.
type Snapshot struct {
	State       CallState    `json:"state"`
	Offer       *CallOffer   `json:"offer"`
	Session     *CallSession `json:"session"`
	Connected   bool         `json:"connected"`
	MediaJoined bool         `json:"mediaJoined"`
	Error       *CallError   `json:"error,omitempty"`
}

// JoinConfig is what the media engine needs to admit the local participant.
type JoinConfig struct {
	AppID       uint32
	RoomID      string
	Token       string
	UserID      string
	DisplayName string
	Type        CallType

	CameraOn            bool
	MicrophoneOn        bool
	MaxPeers            int
	ShowTextChat        bool
	ShowParticipantList bool
}
