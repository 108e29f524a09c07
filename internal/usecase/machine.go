package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog/log"

	"lessoncall/internal/domain"
	"lessoncall/internal/ports"
	"lessoncall/internal/signal"
)

var (
	ErrNoPendingOffer       = errors.New("no pending call offer")
	ErrNoActiveSession      = errors.New("no active call session")
	ErrCallInProgress       = errors.New("a call is already in progress")
	ErrTransportUnavailable = errors.New("signaling transport is not connected")
	ErrInvalidCall          = errors.New("invalid call parameters")
)

// fsm events for state-changing edges. Guards that keep the current state
// are handled before the fsm is consulted.
const (
	evStart       = "start"
	evOffer       = "offer"
	evDecline     = "decline"
	evRingTimeout = "ring_timeout"
	evConfirm     = "confirm"
	evHangup      = "hangup"
	evRemoteEnd   = "remote_end"
	evJoinFailed  = "join_failed"
	evDisconnect  = "disconnect"
)

func newCallFSM() *fsm.FSM {
	idle := string(domain.CallStateIdle)
	ringing := string(domain.CallStateRinging)
	active := string(domain.CallStateActive)

	return fsm.NewFSM(
		idle,
		fsm.Events{
			{Name: evStart, Src: []string{idle}, Dst: active},
			{Name: evOffer, Src: []string{idle}, Dst: ringing},
			{Name: evDecline, Src: []string{ringing}, Dst: idle},
			{Name: evRingTimeout, Src: []string{ringing}, Dst: idle},
			{Name: evConfirm, Src: []string{idle, ringing}, Dst: active},
			{Name: evHangup, Src: []string{active}, Dst: idle},
			{Name: evRemoteEnd, Src: []string{ringing, active}, Dst: idle},
			{Name: evJoinFailed, Src: []string{active}, Dst: idle},
			{Name: evDisconnect, Src: []string{ringing, active}, Dst: idle},
		}, nil,
	)
}

// Joiner acquires media for an active session and releases it on teardown.
// Join must not block; the result is reported through report exactly once
// unless the attempt is torn down first.
type Joiner interface {
	Join(key string, session domain.CallSession, report func(key string, err error))
	Teardown(key string)
}

// MachineConfig controls optional call behavior.
type MachineConfig struct {
	// RingTimeout auto-rejects an unanswered offer. Zero disables it.
	RingTimeout time.Duration
}

// Machine is the single owner of call state. Every transition, including its
// emits, teardown and observer notification, runs under one mutex, so
// observers must not call back into the machine synchronously.
type Machine struct {
	transport ports.SignalTransport
	joiner    Joiner
	cfg       MachineConfig

	mu          sync.Mutex
	fsm         *fsm.FSM
	offer       *domain.CallOffer
	session     *domain.CallSession
	key         string
	connected   bool
	mediaJoined bool
	callErr     *domain.CallError
	ringTimer   *time.Timer
	observer    ports.StateObserver
	unsubscribe []func()
}

func NewMachine(transport ports.SignalTransport, joiner Joiner, cfg MachineConfig) *Machine {
	if cfg.RingTimeout < 0 {
		cfg.RingTimeout = 0
	}
	return &Machine{
		transport: transport,
		joiner:    joiner,
		cfg:       cfg,
		fsm:       newCallFSM(),
	}
}

// Observe installs the single state observer and returns the snapshot it
// should start from.
func (m *Machine) Observe(observer ports.StateObserver) domain.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = observer
	return m.snapshotLocked()
}

// Attach subscribes to every inbound signaling event and publishes the
// initial connectivity. Calling it twice is a no-op.
func (m *Machine) Attach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.unsubscribe) > 0 {
		return
	}

	m.connected = m.transport.Connected()
	for _, name := range signal.InboundEvents {
		event := name
		off := m.transport.On(event, func(raw json.RawMessage) {
			m.receive(event, raw)
		})
		m.unsubscribe = append(m.unsubscribe, off)
	}
	log.Info().Str("module", "usecase.machine").Bool("connected", m.connected).Msg("attached to signaling")
	if m.connected {
		m.notify(domain.CallReasonConnected)
	}
}

// Detach drops the signaling subscriptions and ends any call as if the
// connection had dropped.
func (m *Machine) Detach() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, off := range m.unsubscribe {
		off()
	}
	m.unsubscribe = nil
	m.onDisconnect()
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() domain.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// StartCall begins an outgoing call. The session is created optimistically
// and media join starts immediately.
func (m *Machine) StartCall(roomID, participantID string, callType domain.CallType) error {
	roomID = strings.TrimSpace(roomID)
	participantID = strings.TrimSpace(participantID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return ErrTransportUnavailable
	}
	if roomID == "" || participantID == "" || !callType.Valid() {
		return ErrInvalidCall
	}
	if !m.fsm.Can(evStart) {
		return ErrCallInProgress
	}

	m.beginSession(domain.CallSession{RoomID: roomID, ParticipantID: participantID, Type: callType})
	m.fire(evStart)
	m.notify(domain.CallReasonOutgoingStarted)
	m.joiner.Join(m.key, *m.session, m.joinReported)
	return nil
}

// AcceptCall tells the caller the pending offer is accepted. The machine
// stays Ringing until the server confirms with callAccepted.
func (m *Machine) AcceptCall() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return ErrTransportUnavailable
	}
	if m.offer == nil {
		return ErrNoPendingOffer
	}

	offer := *m.offer
	err := m.transport.Emit(signal.EmitAcceptCall, signal.AcceptCallPayload{
		ConversationID: offer.ConversationID,
		CallerID:       offer.CallerID,
		Type:           offer.Type,
	})
	if err != nil {
		return err
	}
	m.stopRingTimer()
	m.notify(domain.CallReasonAcceptSent)
	return nil
}

// RejectCall declines the pending offer.
func (m *Machine) RejectCall() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return ErrTransportUnavailable
	}
	if m.offer == nil || !m.fsm.Can(evDecline) {
		return ErrNoPendingOffer
	}

	if err := m.transport.Emit(signal.EmitRejectCall, signal.RejectCallPayload{CallerID: m.offer.CallerID}); err != nil {
		return err
	}
	m.clearOffer()
	m.fire(evDecline)
	m.notify(domain.CallReasonOfferRejected)
	return nil
}

// EndCall hangs up the active session. Media is released even if the
// remote could not be told.
func (m *Machine) EndCall() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return ErrTransportUnavailable
	}
	if m.session == nil || !m.fsm.Can(evHangup) {
		return ErrNoActiveSession
	}

	if err := m.transport.Emit(signal.EmitEndCall, signal.EndCallPayload{ParticipantID: m.session.ParticipantID}); err != nil {
		log.Warn().Err(err).Str("module", "usecase.machine").Msg("failed to notify remote of hangup")
	}
	m.endSession()
	m.fire(evHangup)
	m.notify(domain.CallReasonEndedLocally)
	return nil
}

// DismissError clears the last surfaced error.
func (m *Machine) DismissError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.callErr == nil {
		return
	}
	m.callErr = nil
	m.notify(domain.CallReasonErrorDismissed)
}

func (m *Machine) receive(name string, raw json.RawMessage) {
	event, err := signal.Decode(name, raw)
	if err != nil {
		log.Warn().Err(err).Str("module", "usecase.machine").Str("event", name).Msg("dropping undecodable event")
		return
	}
	m.handle(event)
}

func (m *Machine) handle(event signal.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch e := event.(type) {
	case signal.IncomingCall:
		m.onIncomingCall(e.Offer())
	case signal.CallAccepted:
		m.onCallAccepted(e.Session())
	case signal.CallEnded:
		m.onCallEnded()
	case signal.Connect:
		m.onConnect()
	case signal.Disconnect:
		m.onDisconnect()
	default:
		m.staleEvent(event.Name())
	}
}

func (m *Machine) onIncomingCall(offer domain.CallOffer) {
	switch m.state() {
	case domain.CallStateIdle:
		m.offer = &offer
		m.key = uuid.NewString()
		m.callErr = nil
		m.fire(evOffer)
		m.armRingTimer(m.key)
		m.notify(domain.CallReasonIncomingOffer)
	case domain.CallStateRinging:
		if m.offer != nil && m.offer.ConversationID == offer.ConversationID && m.offer.CallerID == offer.CallerID {
			m.staleEvent(signal.EventIncomingCall)
			return
		}
		m.rejectBusy(offer)
	case domain.CallStateActive:
		m.rejectBusy(offer)
	default:
		m.staleEvent(signal.EventIncomingCall)
	}
}

func (m *Machine) rejectBusy(offer domain.CallOffer) {
	err := m.transport.Emit(signal.EmitRejectCall, signal.RejectCallPayload{CallerID: offer.CallerID})
	logger := log.Warn().Str("module", "usecase.machine").Str("caller_id", offer.CallerID).Str("conversation_id", offer.ConversationID)
	if err != nil {
		logger.Err(err).Msg("busy auto-reject failed")
		return
	}
	logger.Msg("busy, auto-rejected incoming call")
}

func (m *Machine) onCallAccepted(session domain.CallSession) {
	if !m.fsm.Can(evConfirm) {
		m.staleEvent(signal.EventCallAccepted)
		return
	}
	m.stopRingTimer()
	m.offer = nil
	m.beginSession(session)
	m.fire(evConfirm)
	m.notify(domain.CallReasonCallConfirmed)
	m.joiner.Join(m.key, *m.session, m.joinReported)
}

func (m *Machine) onCallEnded() {
	if !m.fsm.Can(evRemoteEnd) {
		m.staleEvent(signal.EventCallEnded)
		return
	}
	if m.session != nil {
		m.endSession()
	} else {
		m.clearOffer()
	}
	m.fire(evRemoteEnd)
	m.notify(domain.CallReasonEndedRemotely)
}

func (m *Machine) onConnect() {
	if m.connected {
		return
	}
	m.connected = true
	m.notify(domain.CallReasonConnected)
}

func (m *Machine) onDisconnect() {
	changed := m.connected
	m.connected = false

	if m.session != nil {
		m.endSession()
		changed = true
	} else if m.offer != nil {
		m.clearOffer()
		changed = true
	}
	if m.fsm.Can(evDisconnect) {
		m.fire(evDisconnect)
	}
	if changed {
		m.notify(domain.CallReasonDisconnected)
	}
}

// joinReported receives the outcome of a media join from the joiner's
// goroutine.
func (m *Machine) joinReported(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil || m.key != key {
		log.Debug().Str("module", "usecase.machine").Str("key", key).Msg("ignoring join result for a finished session")
		return
	}

	if err == nil {
		m.mediaJoined = true
		m.notify(domain.CallReasonMediaJoined)
		return
	}

	callErr := &domain.CallError{Code: domain.ErrorCodeEngineJoin, Message: err.Error()}
	var joinErr *JoinError
	if errors.As(err, &joinErr) {
		callErr.Code = joinErr.Code
	}
	log.Error().Err(err).Str("module", "usecase.machine").Str("code", string(callErr.Code)).Str("room_id", m.session.RoomID).Msg("media join failed")

	if m.connected {
		if emitErr := m.transport.Emit(signal.EmitEndCall, signal.EndCallPayload{ParticipantID: m.session.ParticipantID}); emitErr != nil {
			log.Warn().Err(emitErr).Str("module", "usecase.machine").Msg("failed to notify remote of aborted join")
		}
	}
	m.endSession()
	m.fire(evJoinFailed)
	m.callErr = callErr
	m.notify(domain.CallReasonJoinFailed)
}

func (m *Machine) ringTimedOut(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.offer == nil || m.key != key || !m.fsm.Can(evRingTimeout) {
		return
	}
	if m.connected {
		if err := m.transport.Emit(signal.EmitRejectCall, signal.RejectCallPayload{CallerID: m.offer.CallerID}); err != nil {
			log.Warn().Err(err).Str("module", "usecase.machine").Msg("failed to reject unanswered call")
		}
	}
	log.Info().Str("module", "usecase.machine").Str("caller_id", m.offer.CallerID).Dur("after", m.cfg.RingTimeout).Msg("incoming call timed out")
	m.clearOffer()
	m.fire(evRingTimeout)
	m.notify(domain.CallReasonRingTimeout)
}

func (m *Machine) beginSession(session domain.CallSession) {
	m.session = &session
	m.key = uuid.NewString()
	m.mediaJoined = false
	m.callErr = nil
}

func (m *Machine) endSession() {
	key := m.key
	m.session = nil
	m.mediaJoined = false
	m.key = ""
	m.joiner.Teardown(key)
}

func (m *Machine) clearOffer() {
	m.stopRingTimer()
	m.offer = nil
	m.key = ""
}

func (m *Machine) armRingTimer(key string) {
	m.stopRingTimer()
	if m.cfg.RingTimeout <= 0 {
		return
	}
	m.ringTimer = time.AfterFunc(m.cfg.RingTimeout, func() {
		m.ringTimedOut(key)
	})
}

func (m *Machine) stopRingTimer() {
	if m.ringTimer != nil {
		m.ringTimer.Stop()
		m.ringTimer = nil
	}
}

func (m *Machine) state() domain.CallState {
	return domain.CallState(m.fsm.Current())
}

// fire applies an edge the caller has already guarded.
func (m *Machine) fire(event string) {
	if err := m.fsm.Event(context.Background(), event); err != nil {
		log.Error().Err(err).Str("module", "usecase.machine").Str("event", event).Str("state", m.fsm.Current()).Msg("illegal transition")
	}
}

func (m *Machine) staleEvent(name string) {
	log.Debug().Str("module", "usecase.machine").Str("event", name).Str("state", m.fsm.Current()).Msg("stale event ignored")
}

func (m *Machine) notify(reason domain.CallStateReason) {
	if m.observer == nil {
		return
	}
	m.observer.CallStateChanged(m.snapshotLocked(), reason)
}

func (m *Machine) snapshotLocked() domain.Snapshot {
	snapshot := domain.Snapshot{
		State:       m.state(),
		Connected:   m.connected,
		MediaJoined: m.mediaJoined,
	}
	if m.offer != nil {
		offer := *m.offer
		snapshot.Offer = &offer
	}
	if m.session != nil {
		session := *m.session
		snapshot.Session = &session
	}
	if m.callErr != nil {
		callErr := *m.callErr
		snapshot.Error = &callErr
	}
	return snapshot
}
