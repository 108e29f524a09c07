package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lessoncall/internal/domain"
	"lessoncall/internal/ports"
)

type emitted struct {
	event string
	data  string
}

type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	emitErr   error
	handlers  map[string][]func(json.RawMessage)
	sent      []emitted
}

func newFakeTransport(connected bool) *fakeTransport {
	return &fakeTransport{connected: connected, handlers: make(map[string][]func(json.RawMessage))}
}

func (f *fakeTransport) On(event string, handler func(json.RawMessage)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = append(f.handlers[event], handler)
	idx := len(f.handlers[event]) - 1
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.handlers[event][idx] = nil
	}
}

func (f *fakeTransport) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, emitted{event: event, data: string(data)})
	return nil
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) deliver(event, payload string) {
	f.mu.Lock()
	handlers := make([]func(json.RawMessage), 0, len(f.handlers[event]))
	for _, h := range f.handlers[event] {
		if h != nil {
			handlers = append(handlers, h)
		}
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(json.RawMessage(payload))
	}
}

func (f *fakeTransport) snapshotSent() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]emitted, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeCredentials struct {
	mu      sync.Mutex
	token   string
	err     error
	gate    chan struct{}
	started chan string
	calls   int
}

func (f *fakeCredentials) FetchJoinCredential(_ context.Context, roomID string) (domain.JoinCredential, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	f.mu.Unlock()

	if f.started != nil {
		f.started <- roomID
	}
	if gate != nil {
		<-gate
	}
	if f.err != nil {
		return domain.JoinCredential{}, f.err
	}
	return domain.JoinCredential{RoomID: roomID, RoomToken: f.token}, nil
}

func (f *fakeCredentials) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeHandle struct {
	disposeCalls atomic.Int32
}

func (h *fakeHandle) Dispose() error {
	h.disposeCalls.Add(1)
	return nil
}

type fakeEngine struct {
	mu      sync.Mutex
	err     error
	gate    chan struct{}
	started chan domain.JoinConfig
	configs []domain.JoinConfig
	ctxs    []context.Context
	handles []*fakeHandle
}

func (f *fakeEngine) Join(ctx context.Context, cfg domain.JoinConfig) (ports.MediaHandle, error) {
	f.mu.Lock()
	f.configs = append(f.configs, cfg)
	f.ctxs = append(f.ctxs, ctx)
	gate := f.gate
	f.mu.Unlock()

	if f.started != nil {
		f.started <- cfg
	}
	if gate != nil {
		<-gate
	}
	if f.err != nil {
		return nil, f.err
	}
	handle := &fakeHandle{}
	f.mu.Lock()
	f.handles = append(f.handles, handle)
	f.mu.Unlock()
	return handle, nil
}

func (f *fakeEngine) snapshotConfigs() []domain.JoinConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.JoinConfig, len(f.configs))
	copy(out, f.configs)
	return out
}

func (f *fakeEngine) snapshotContexts() []context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]context.Context, len(f.ctxs))
	copy(out, f.ctxs)
	return out
}

func (f *fakeEngine) snapshotHandles() []*fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*fakeHandle, len(f.handles))
	copy(out, f.handles)
	return out
}

type fakeIdentity struct {
	identity domain.LocalIdentity
}

func (f fakeIdentity) LocalIdentity() domain.LocalIdentity {
	return f.identity
}

type stateChange struct {
	snapshot domain.Snapshot
	reason   domain.CallStateReason
}

type fakeObserver struct {
	mu         sync.Mutex
	changes    []stateChange
	violations []domain.Snapshot
	notify     chan struct{}
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{notify: make(chan struct{}, 64)}
}

func (f *fakeObserver) CallStateChanged(snapshot domain.Snapshot, reason domain.CallStateReason) {
	f.mu.Lock()
	f.changes = append(f.changes, stateChange{snapshot: snapshot, reason: reason})
	if snapshot.Offer != nil && snapshot.Session != nil {
		f.violations = append(f.violations, snapshot)
	}
	f.mu.Unlock()
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

func (f *fakeObserver) snapshotChanges() []stateChange {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stateChange, len(f.changes))
	copy(out, f.changes)
	return out
}

func (f *fakeObserver) has(reason domain.CallStateReason) bool {
	for _, change := range f.snapshotChanges() {
		if change.reason == reason {
			return true
		}
	}
	return false
}

func (f *fakeObserver) waitFor(t *testing.T, reason domain.CallStateReason) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !f.has(reason) {
		select {
		case <-f.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %s", reason)
		}
	}
}

type harness struct {
	transport   *fakeTransport
	credentials *fakeCredentials
	engine      *fakeEngine
	coordinator *JoinCoordinator
	machine     *Machine
	facade      *Facade
	observer    *fakeObserver
}

func newHarness(t *testing.T, cfg MachineConfig) *harness {
	t.Helper()
	h := &harness{
		transport:   newFakeTransport(true),
		credentials: &fakeCredentials{token: "rt"},
		engine:      &fakeEngine{},
		observer:    newFakeObserver(),
	}
	h.coordinator = NewJoinCoordinator(h.credentials, h.engine, fakeIdentity{identity: domain.LocalIdentity{
		UserID:      "me",
		DisplayName: "Me Myself",
		Role:        domain.RoleInstructor,
	}}, 99)
	h.machine = NewMachine(h.transport, h.coordinator, cfg)
	h.machine.Attach()
	h.facade = NewFacade(h.machine)
	h.facade.Subscribe(h.observer)
	t.Cleanup(func() {
		h.machine.Detach()
		h.coordinator.Wait()
	})
	return h
}

const (
	offerC1    = `{"conversationId":"c1","callerId":"u1","callerRole":"instructor","type":"audio"}`
	acceptedC1 = `{"conversationId":"c1","participantId":"u1","type":"audio"}`
)

var errBoom = errors.New("boom")
