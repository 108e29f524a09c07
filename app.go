package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"lessoncall/internal/bootstrap"
	"lessoncall/internal/config"
	"lessoncall/internal/domain"
	"lessoncall/internal/usecase"
)

const (
	eventState = "lessoncall:state"
	eventError = "lessoncall:error"
)

type stateEvent struct {
	Snapshot domain.Snapshot `json:"snapshot"`
	Reason   string          `json:"reason"`
	Message  string          `json:"message"`
}

// App is the Wails application root.
type App struct {
	ctx context.Context

	facade   *usecase.Facade
	services bootstrap.Services
	cfg      config.Config
	bootErr  error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(ctx, a)
	if err != nil {
		a.bootErr = err
		a.CallError(domain.ErrorCodeStartup, err.Error())
		return
	}

	applyLogLevel(services.Config.LogLevel)
	a.services = services
	a.cfg = services.Config
	a.facade = services.Facade
}

func (a *App) shutdown(_ context.Context) {
	a.services.Close()
}

// StartCall places an outgoing call to participantID in roomID.
func (a *App) StartCall(roomID, participantID, callType string) (domain.Snapshot, error) {
	if err := a.requireReady(); err != nil {
		return domain.Snapshot{}, err
	}
	kind := domain.CallType(strings.ToLower(strings.TrimSpace(callType)))
	return a.command(a.facade.StartCall(roomID, participantID, kind))
}

// AcceptCall accepts the pending incoming call.
func (a *App) AcceptCall() (domain.Snapshot, error) {
	if err := a.requireReady(); err != nil {
		return domain.Snapshot{}, err
	}
	return a.command(a.facade.AcceptCall())
}

// RejectCall declines the pending incoming call.
func (a *App) RejectCall() (domain.Snapshot, error) {
	if err := a.requireReady(); err != nil {
		return domain.Snapshot{}, err
	}
	return a.command(a.facade.RejectCall())
}

// EndCall hangs up the active call.
func (a *App) EndCall() (domain.Snapshot, error) {
	if err := a.requireReady(); err != nil {
		return domain.Snapshot{}, err
	}
	return a.command(a.facade.EndCall())
}

// DismissError clears the error banner.
func (a *App) DismissError() domain.Snapshot {
	if a.facade == nil {
		return domain.Snapshot{State: domain.CallStateIdle}
	}
	a.facade.DismissError()
	return a.facade.Snapshot()
}

// GetSnapshot returns the current call state.
func (a *App) GetSnapshot() domain.Snapshot {
	if a.facade == nil {
		snapshot := domain.Snapshot{State: domain.CallStateIdle}
		if a.bootErr != nil {
			snapshot.Error = &domain.CallError{Code: domain.ErrorCodeStartup, Message: a.bootErr.Error()}
		}
		return snapshot
	}
	return a.facade.Snapshot()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"signalURL":      a.cfg.Signal.URL,
		"credentialsURL": a.cfg.Credentials.BaseURL,
		"mediaEndpoint":  a.cfg.Media.Endpoint,
		"userId":         a.cfg.Identity.UserID,
		"displayName":    a.cfg.Identity.DisplayName,
		"role":           string(a.cfg.Identity.Role),
		"ringTimeout":    a.cfg.Call.RingTimeout.String(),
	}
}

// command treats guard misses as no-ops and surfaces every other error.
func (a *App) command(err error) (domain.Snapshot, error) {
	switch {
	case err == nil:
	case errors.Is(err, usecase.ErrNoPendingOffer),
		errors.Is(err, usecase.ErrNoActiveSession),
		errors.Is(err, usecase.ErrCallInProgress):
	case errors.Is(err, usecase.ErrTransportUnavailable):
		a.CallError(domain.ErrorCodeTransportUnavailable, err.Error())
	default:
		a.CallError(domain.ErrorCodeCommand, err.Error())
		return a.facade.Snapshot(), err
	}
	return a.facade.Snapshot(), nil
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.facade == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// CallStateChanged forwards call state to the frontend.
func (a *App) CallStateChanged(snapshot domain.Snapshot, reason domain.CallStateReason) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventState, stateEvent{
		Snapshot: snapshot,
		Reason:   string(reason),
		Message:  reasonMessage(reason),
	})
	if reason == domain.CallReasonJoinFailed && snapshot.Error != nil {
		a.CallError(snapshot.Error.Code, snapshot.Error.Message)
	}
}

// CallError emits a user-visible error to the UI.
func (a *App) CallError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func reasonMessage(reason domain.CallStateReason) string {
	switch reason {
	case domain.CallReasonConnected:
		return "Connected"
	case domain.CallReasonDisconnected:
		return "Connection lost"
	case domain.CallReasonOutgoingStarted:
		return "Calling..."
	case domain.CallReasonIncomingOffer:
		return "Incoming call"
	case domain.CallReasonAcceptSent:
		return "Connecting..."
	case domain.CallReasonOfferRejected:
		return "Call declined"
	case domain.CallReasonRingTimeout:
		return "Missed call"
	case domain.CallReasonCallConfirmed:
		return "Call accepted"
	case domain.CallReasonEndedLocally:
		return "Call ended"
	case domain.CallReasonEndedRemotely:
		return "Call ended by the other participant"
	case domain.CallReasonMediaJoined:
		return "In call"
	case domain.CallReasonJoinFailed:
		return "Could not join the call"
	case domain.CallReasonErrorDismissed:
		return ""
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeCredentialFetch:
		return "Could not get call credentials"
	case domain.ErrorCodeEngineJoin:
		return "Could not start call media"
	case domain.ErrorCodeTransportUnavailable:
		return "Not connected"
	case domain.ErrorCodeCommand:
		return "Call action failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
