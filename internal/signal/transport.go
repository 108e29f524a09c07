package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"lessoncall/internal/ports"
)

var ErrNotConnected = errors.New("signaling transport is not connected")

type subscription struct {
	id      uint64
	handler func(json.RawMessage)
}

// Transport adapts a ports.Connection to name-based subscribe and emit.
type Transport struct {
	conn ports.Connection

	mu     sync.RWMutex
	nextID uint64
	subs   map[string][]subscription
}

func NewTransport(conn ports.Connection) *Transport {
	t := &Transport{
		conn: conn,
		subs: make(map[string][]subscription),
	}
	conn.SetReceiver(t.dispatch)
	return t
}

// On registers handler for event. The returned func removes it and is safe
// to call more than once.
func (t *Transport) On(event string, handler func(json.RawMessage)) func() {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.subs[event] = append(t.subs[event], subscription{id: id, handler: handler})
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			current := t.subs[event]
			for i, sub := range current {
				if sub.id == id {
					t.subs[event] = append(current[:i:i], current[i+1:]...)
					break
				}
			}
			if len(t.subs[event]) == 0 {
				delete(t.subs, event)
			}
		})
	}
}

// Emit encodes payload and sends it as event.
func (t *Transport) Emit(event string, payload any) error {
	if !t.conn.Connected() {
		return ErrNotConnected
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	if err := t.conn.Send(event, data); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	log.Debug().Str("module", "signal").Str("event", event).Msg("emitted")
	return nil
}

func (t *Transport) Connected() bool {
	return t.conn.Connected()
}

func (t *Transport) dispatch(event string, data json.RawMessage) {
	t.mu.RLock()
	handlers := make([]func(json.RawMessage), 0, len(t.subs[event]))
	for _, sub := range t.subs[event] {
		handlers = append(handlers, sub.handler)
	}
	t.mu.RUnlock()

	if len(handlers) == 0 {
		log.Debug().Str("module", "signal").Str("event", event).Msg("no subscribers")
		return
	}
	for _, h := range handlers {
		h(data)
	}
}
