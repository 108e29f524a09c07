package usecase

import (
	"sync"

	"lessoncall/internal/domain"
	"lessoncall/internal/ports"
)

type subscriber struct {
	id       uint64
	observer ports.StateObserver
}

// Facade is the read and command surface handed to the UI layer.
type Facade struct {
	machine *Machine

	mu     sync.Mutex
	nextID uint64
	subs   []subscriber
	last   domain.Snapshot
}

func NewFacade(machine *Machine) *Facade {
	f := &Facade{machine: machine}
	f.last = machine.Observe(f)
	return f
}

// Subscribe registers observer for every subsequent state change. The
// returned func removes it.
func (f *Facade) Subscribe(observer ports.StateObserver) func() {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.subs = append(f.subs, subscriber{id: id, observer: observer})
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, sub := range f.subs {
			if sub.id == id {
				f.subs = append(f.subs[:i:i], f.subs[i+1:]...)
				return
			}
		}
	}
}

// Snapshot returns the last published state.
func (f *Facade) Snapshot() domain.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// CallStateChanged fans a machine update out to all subscribers before
// returning.
func (f *Facade) CallStateChanged(snapshot domain.Snapshot, reason domain.CallStateReason) {
	f.mu.Lock()
	f.last = snapshot
	subs := make([]subscriber, len(f.subs))
	copy(subs, f.subs)
	f.mu.Unlock()

	for _, sub := range subs {
		sub.observer.CallStateChanged(snapshot, reason)
	}
}

func (f *Facade) StartCall(roomID, participantID string, callType domain.CallType) error {
	return f.machine.StartCall(roomID, participantID, callType)
}

func (f *Facade) AcceptCall() error {
	return f.machine.AcceptCall()
}

func (f *Facade) RejectCall() error {
	return f.machine.RejectCall()
}

func (f *Facade) EndCall() error {
	return f.machine.EndCall()
}

func (f *Facade) DismissError() {
	f.machine.DismissError()
}
