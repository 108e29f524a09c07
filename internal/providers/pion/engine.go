// Package pion implements the media engine on a pion WebRTC peer connection
// published to a WHIP-style room endpoint.
package pion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"lessoncall/internal/domain"
	"lessoncall/internal/ports"
)

var (
	ErrNoEndpoint   = errors.New("media endpoint is not configured")
	ErrPeerCap      = errors.New("media engine only supports two-party rooms")
	ErrMissingToken = errors.New("join token is empty")
)

// Config controls where and how peer connections are published.
type Config struct {
	Endpoint    string
	ICEServers  []string
	HTTPTimeout time.Duration
}

// Engine implements ports.MediaEngine.
type Engine struct {
	cfg  Config
	http *http.Client
}

func NewEngine(cfg Config) *Engine {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	cfg.Endpoint = strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	return &Engine{cfg: cfg, http: &http.Client{Timeout: cfg.HTTPTimeout}}
}

// Join negotiates a peer connection for cfg.RoomID and returns once the
// remote answer is applied.
func (e *Engine) Join(ctx context.Context, cfg domain.JoinConfig) (ports.MediaHandle, error) {
	if e.cfg.Endpoint == "" {
		return nil, ErrNoEndpoint
	}
	if cfg.MaxPeers != 2 {
		return nil, ErrPeerCap
	}
	if cfg.Token == "" {
		return nil, ErrMissingToken
	}

	pc, err := newPeerConnection(e.cfg.ICEServers)
	if err != nil {
		return nil, err
	}

	handle, err := e.negotiate(ctx, pc, cfg)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	log.Info().Str("module", "providers.pion").Str("room_id", cfg.RoomID).
		Bool("camera", cfg.CameraOn).Bool("microphone", cfg.MicrophoneOn).Msg("peer connection established")
	return handle, nil
}

func (e *Engine) negotiate(ctx context.Context, pc *webrtc.PeerConnection, cfg domain.JoinConfig) (*session, error) {
	audio, video := mediaDirections(cfg)
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{Direction: audio}); err != nil {
		return nil, fmt.Errorf("failed to add audio transceiver: %w", err)
	}
	if video != webrtc.RTPTransceiverDirectionUnknown {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{Direction: video}); err != nil {
			return nil, fmt.Errorf("failed to add video transceiver: %w", err)
		}
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug().Str("module", "providers.pion").Str("room_id", cfg.RoomID).Str("state", state.String()).Msg("peer connection state")
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	answer, location, err := e.publish(ctx, cfg, pc.LocalDescription().SDP)
	if err != nil {
		return nil, err
	}

	s := &session{pc: pc, location: location, token: cfg.Token, http: e.http}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		s.deleteResource()
		return nil, fmt.Errorf("failed to apply remote answer: %w", err)
	}
	return s, nil
}

// publish posts the local offer and returns the answer and resource URL.
func (e *Engine) publish(ctx context.Context, cfg domain.JoinConfig, offer string) (string, string, error) {
	endpoint := e.cfg.Endpoint + "/" + url.PathEscape(cfg.RoomID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(offer))
	if err != nil {
		return "", "", fmt.Errorf("failed to build publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set("Authorization", "Bearer "+cfg.Token)

	resp, err := e.http.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("failed to publish offer: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", "", fmt.Errorf("failed to read answer: %w", err)
	}
	if resp.StatusCode != http.StatusCreated {
		return "", "", fmt.Errorf("media endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	location, err := resolveLocation(endpoint, resp.Header.Get("Location"))
	if err != nil {
		return "", "", err
	}
	return string(body), location, nil
}

func resolveLocation(endpoint, location string) (string, error) {
	if location == "" {
		return "", nil
	}
	base, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid media endpoint: %w", err)
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("invalid resource location %q: %w", location, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// mediaDirections maps the device flags onto transceiver directions. Video is
// Unknown for audio calls, meaning no video transceiver.
func mediaDirections(cfg domain.JoinConfig) (audio, video webrtc.RTPTransceiverDirection) {
	audio = webrtc.RTPTransceiverDirectionRecvonly
	if cfg.MicrophoneOn {
		audio = webrtc.RTPTransceiverDirectionSendrecv
	}
	if cfg.Type != domain.CallTypeVideo {
		return audio, webrtc.RTPTransceiverDirectionUnknown
	}
	video = webrtc.RTPTransceiverDirectionRecvonly
	if cfg.CameraOn {
		video = webrtc.RTPTransceiverDirectionSendrecv
	}
	return audio, video
}

func newPeerConnection(servers []string) (*webrtc.PeerConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)

	var iceServers []webrtc.ICEServer
	if len(servers) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: servers}}
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return pc, nil
}

// session is the live media for one room.
type session struct {
	pc       *webrtc.PeerConnection
	location string
	token    string
	http     *http.Client

	once sync.Once
	err  error
}

// Dispose closes the peer connection, releasing its tracks, and deletes the
// remote resource. Later calls return the first result.
func (s *session) Dispose() error {
	s.once.Do(func() {
		closeErr := s.pc.Close()
		s.err = errors.Join(closeErr, s.deleteResource())
	})
	return s.err
}

func (s *session) deleteResource() error {
	if s.location == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.location, nil)
	if err != nil {
		return fmt.Errorf("failed to build delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete media resource: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("media endpoint returned %d on delete", resp.StatusCode)
	}
	return nil
}
