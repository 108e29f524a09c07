package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"lessoncall/internal/domain"
	"lessoncall/internal/jointoken"
	"lessoncall/internal/ports"
)

var (
	ErrMissingIdentity = errors.New("local user identity is not configured")
	errStaleJoin       = errors.New("session ended before join completed")
)

// JoinError tags a failed join with the code surfaced to the UI.
type JoinError struct {
	Code domain.ErrorCode
	Err  error
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *JoinError) Unwrap() error {
	return e.Err
}

// JoinCoordinator owns the media engine for at most one session at a time.
type JoinCoordinator struct {
	credentials ports.CredentialSource
	engine      ports.MediaEngine
	identity    ports.IdentityProvider
	appID       uint32

	mu      sync.Mutex
	current *joinAttempt
	wg      sync.WaitGroup
}

type joinAttempt struct {
	key    string
	cancel context.CancelFunc
	handle ports.MediaHandle
}

func NewJoinCoordinator(
	credentials ports.CredentialSource,
	engine ports.MediaEngine,
	identity ports.IdentityProvider,
	appID uint32,
) *JoinCoordinator {
	return &JoinCoordinator{
		credentials: credentials,
		engine:      engine,
		identity:    identity,
		appID:       appID,
	}
}

// Join starts acquiring media for session in the background. A previous
// attempt, if any, is released first.
func (c *JoinCoordinator) Join(key string, session domain.CallSession, report func(key string, err error)) {
	ctx, cancel := context.WithCancel(context.Background())
	attempt := &joinAttempt{key: key, cancel: cancel}

	c.mu.Lock()
	previous := c.current
	c.current = attempt
	var previousHandle ports.MediaHandle
	if previous != nil {
		previousHandle = previous.handle
	}
	c.mu.Unlock()

	if previous != nil {
		release(previous, previousHandle)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx, attempt, session, report)
	}()
}

// Teardown releases the media for key. It is synchronous and safe to call
// for a key that already ended.
func (c *JoinCoordinator) Teardown(key string) {
	c.mu.Lock()
	attempt := c.current
	if attempt == nil || attempt.key != key {
		c.mu.Unlock()
		return
	}
	c.current = nil
	handle := attempt.handle
	c.mu.Unlock()

	release(attempt, handle)
}

// Wait blocks until every background join has returned.
func (c *JoinCoordinator) Wait() {
	c.wg.Wait()
}

func (c *JoinCoordinator) run(ctx context.Context, attempt *joinAttempt, session domain.CallSession, report func(string, error)) {
	handle, err := c.join(ctx, attempt, session)

	c.mu.Lock()
	stale := c.current != attempt
	if !stale {
		if err == nil {
			attempt.handle = handle
		} else {
			c.current = nil
		}
	}
	c.mu.Unlock()
	if !stale && err != nil {
		attempt.cancel()
	}

	if stale || errors.Is(err, errStaleJoin) {
		if handle != nil {
			_ = handle.Dispose()
		}
		log.Debug().Str("module", "usecase.join").Str("room_id", session.RoomID).Msg("discarding stale join")
		return
	}
	if err == nil {
		log.Info().Str("module", "usecase.join").Str("room_id", session.RoomID).Str("type", string(session.Type)).Msg("media joined")
	}
	report(attempt.key, err)
}

func (c *JoinCoordinator) join(ctx context.Context, attempt *joinAttempt, session domain.CallSession) (ports.MediaHandle, error) {
	identity := c.identity.LocalIdentity()
	if session.RoomID == "" || identity.UserID == "" {
		return nil, &JoinError{Code: domain.ErrorCodeCredentialFetch, Err: ErrMissingIdentity}
	}

	credential, err := c.credentials.FetchJoinCredential(ctx, session.RoomID)
	if !c.isCurrent(attempt) || ctx.Err() != nil {
		return nil, errStaleJoin
	}
	if err != nil {
		return nil, &JoinError{Code: domain.ErrorCodeCredentialFetch, Err: err}
	}

	cfg := EngineConfigFor(identity.Role, session.Type)
	cfg.AppID = c.appID
	cfg.RoomID = session.RoomID
	cfg.UserID = identity.UserID
	cfg.DisplayName = identity.DisplayName
	cfg.Token = jointoken.Derive(c.appID, credential.RoomToken, session.RoomID, identity.UserID, identity.DisplayName)

	handle, err := c.engine.Join(ctx, cfg)
	if err != nil {
		if !c.isCurrent(attempt) {
			return nil, errStaleJoin
		}
		return nil, &JoinError{Code: domain.ErrorCodeEngineJoin, Err: err}
	}
	return &onceHandle{inner: handle}, nil
}

func (c *JoinCoordinator) isCurrent(attempt *joinAttempt) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current == attempt
}

func release(attempt *joinAttempt, handle ports.MediaHandle) {
	attempt.cancel()
	if handle == nil {
		return
	}
	if err := handle.Dispose(); err != nil {
		log.Warn().Err(err).Str("module", "usecase.join").Msg("media dispose failed")
	}
}

// onceHandle makes Dispose idempotent.
type onceHandle struct {
	inner ports.MediaHandle
	once  sync.Once
	err   error
}

func (h *onceHandle) Dispose() error {
	h.once.Do(func() {
		h.err = h.inner.Dispose()
	})
	return h.err
}
