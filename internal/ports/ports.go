package ports

import (
	"context"
	"encoding/json"

	"lessoncall/internal/domain"
)

// Connection is the bidirectional event channel supplied by a connection
// provider. Frames arrive on a single goroutine in the order they were read.
type Connection interface {
	// SetReceiver installs the callback for inbound frames. Transport-level
	// "connect" and "disconnect" events are delivered through it as well.
	SetReceiver(fn func(event string, data json.RawMessage))
	Send(event string, data []byte) error
	Connected() bool
}

// SignalTransport subscribes to and emits named signaling events.
type SignalTransport interface {
	On(event string, handler func(payload json.RawMessage)) (unsubscribe func())
	Emit(event string, payload any) error
	Connected() bool
}

// CredentialSource fetches the room-scoped join credential.
type CredentialSource interface {
	FetchJoinCredential(ctx context.Context, roomID string) (domain.JoinCredential, error)
}

// MediaHandle is a joined media engine instance. Dispose releases camera,
// microphone and the engine instance; it must be safe to call more than once.
type MediaHandle interface {
	Dispose() error
}

// MediaEngine admits the local participant into a media room.
type MediaEngine interface {
	Join(ctx context.Context, cfg domain.JoinConfig) (MediaHandle, error)
}

// IdentityProvider returns the signed-in user.
type IdentityProvider interface {
	LocalIdentity() domain.LocalIdentity
}

// StateObserver receives every facade snapshot change.
type StateObserver interface {
	CallStateChanged(snapshot domain.Snapshot, reason domain.CallStateReason)
}
