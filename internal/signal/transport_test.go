package signal

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

func TestTransportRoutesByEventName(t *testing.T) {
	t.Parallel()

	conn := &fakeConnection{connected: true}
	tr := NewTransport(conn)

	var got []string
	tr.On(EventIncomingCall, func(p json.RawMessage) { got = append(got, "a:"+string(p)) })
	tr.On(EventIncomingCall, func(p json.RawMessage) { got = append(got, "b:"+string(p)) })
	tr.On(EventCallEnded, func(json.RawMessage) { got = append(got, "ended") })

	conn.deliver(EventIncomingCall, `{"x":1}`)
	conn.deliver(EventCallEnded, `{}`)
	conn.deliver("unrelated", `{}`)

	want := []string{`a:{"x":1}`, `b:{"x":1}`, "ended"}
	if len(got) != len(want) {
		t.Fatalf("unexpected deliveries: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delivery %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestTransportUnsubscribeIsIdempotent(t *testing.T) {
	t.Parallel()

	conn := &fakeConnection{connected: true}
	tr := NewTransport(conn)

	calls := 0
	off := tr.On(EventCallEnded, func(json.RawMessage) { calls++ })
	keep := 0
	tr.On(EventCallEnded, func(json.RawMessage) { keep++ })

	off()
	off()
	conn.deliver(EventCallEnded, `{}`)

	if calls != 0 {
		t.Fatalf("expected unsubscribed handler to be skipped")
	}
	if keep != 1 {
		t.Fatalf("expected remaining handler to fire once, got %d", keep)
	}
}

func TestTransportEmitEncodesPayload(t *testing.T) {
	t.Parallel()

	conn := &fakeConnection{connected: true}
	tr := NewTransport(conn)

	if err := tr.Emit(EmitRejectCall, RejectCallPayload{CallerID: "u1"}); err != nil {
		t.Fatalf("emit failed: %v", err)
	}
	sent := conn.snapshot()
	if len(sent) != 1 || sent[0].event != EmitRejectCall || sent[0].data != `{"callerId":"u1"}` {
		t.Fatalf("unexpected frames: %+v", sent)
	}
}

func TestTransportEmitWhenDisconnected(t *testing.T) {
	t.Parallel()

	conn := &fakeConnection{}
	tr := NewTransport(conn)

	if err := tr.Emit(EmitEndCall, EndCallPayload{ParticipantID: "u1"}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if len(conn.snapshot()) != 0 {
		t.Fatalf("expected nothing sent")
	}
}

func TestTransportEmitSendFailure(t *testing.T) {
	t.Parallel()

	conn := &fakeConnection{connected: true, sendErr: errors.New("broken pipe")}
	tr := NewTransport(conn)

	err := tr.Emit(EmitEndCall, EndCallPayload{ParticipantID: "u1"})
	if err == nil || !errors.Is(err, conn.sendErr) {
		t.Fatalf("expected wrapped send error, got %v", err)
	}
}

type sentFrame struct {
	event string
	data  string
}

type fakeConnection struct {
	mu        sync.Mutex
	receiver  func(string, json.RawMessage)
	connected bool
	sendErr   error
	sent      []sentFrame
}

func (f *fakeConnection) SetReceiver(fn func(string, json.RawMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiver = fn
}

func (f *fakeConnection) Send(event string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentFrame{event: event, data: string(data)})
	return nil
}

func (f *fakeConnection) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeConnection) deliver(event, data string) {
	f.mu.Lock()
	fn := f.receiver
	f.mu.Unlock()
	fn(event, json.RawMessage(data))
}

func (f *fakeConnection) snapshot() []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentFrame, len(f.sent))
	copy(out, f.sent)
	return out
}
