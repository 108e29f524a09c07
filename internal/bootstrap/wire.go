package bootstrap

import (
	"context"

	"lessoncall/internal/config"
	"lessoncall/internal/domain"
	"lessoncall/internal/ports"
	"lessoncall/internal/providers/pion"
	"lessoncall/internal/providers/videotoken"
	"lessoncall/internal/signal"
	"lessoncall/internal/transport/ws"
	"lessoncall/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Facade *usecase.Facade
	Config config.Config

	shutdown func()
}

// Close disconnects signaling and releases any live call media.
func (s Services) Close() {
	if s.shutdown != nil {
		s.shutdown()
	}
}

// StaticIdentity serves the configured local user.
type StaticIdentity domain.LocalIdentity

func (s StaticIdentity) LocalIdentity() domain.LocalIdentity {
	return domain.LocalIdentity(s)
}

// Build loads configuration and wires all backend dependencies.
func Build(ctx context.Context, observer ports.StateObserver) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	return Assemble(ctx, cfg, observer), nil
}

// Assemble wires the runtime graph for cfg and starts the signaling
// connection. observer, if non-nil, receives every state change including the
// initial one.
func Assemble(ctx context.Context, cfg config.Config, observer ports.StateObserver) Services {
	client := ws.NewClient(ws.Config{
		URL:              cfg.Signal.URL,
		AuthToken:        cfg.Signal.AuthToken,
		HandshakeTimeout: cfg.Signal.HandshakeTimeout,
		ReconnectMin:     cfg.Signal.ReconnectMin,
		ReconnectMax:     cfg.Signal.ReconnectMax,
		PingPeriod:       cfg.Signal.PingPeriod,
	})
	transport := signal.NewTransport(client)

	coordinator := usecase.NewJoinCoordinator(
		videotoken.NewClient(videotoken.Config{
			BaseURL:   cfg.Credentials.BaseURL,
			AuthToken: cfg.Credentials.AuthToken,
			Timeout:   cfg.Credentials.Timeout,
		}),
		pion.NewEngine(pion.Config{
			Endpoint:   cfg.Media.Endpoint,
			ICEServers: cfg.Media.ICEServers,
		}),
		StaticIdentity{
			UserID:      cfg.Identity.UserID,
			DisplayName: cfg.Identity.DisplayName,
			Role:        cfg.Identity.Role,
		},
		cfg.Media.AppID,
	)

	machine := usecase.NewMachine(transport, coordinator, usecase.MachineConfig{
		RingTimeout: cfg.Call.RingTimeout,
	})
	facade := usecase.NewFacade(machine)
	if observer != nil {
		facade.Subscribe(observer)
	}
	machine.Attach()
	client.Run(ctx)

	return Services{
		Facade: facade,
		Config: cfg,
		shutdown: func() {
			_ = client.Close()
			machine.Detach()
			coordinator.Wait()
		},
	}
}
