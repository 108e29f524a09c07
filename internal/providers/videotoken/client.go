// Package videotoken fetches room-scoped join credentials from the platform API.
package videotoken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lessoncall/internal/domain"
)

var ErrEmptyToken = errors.New("token endpoint returned an empty token")

// Config controls the token endpoint client.
type Config struct {
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
}

// Client implements ports.CredentialSource against GET /video/token.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (c *Client) FetchJoinCredential(ctx context.Context, roomID string) (domain.JoinCredential, error) {
	endpoint, err := buildTokenURL(c.cfg.BaseURL, roomID)
	if err != nil {
		return domain.JoinCredential{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.JoinCredential{}, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.JoinCredential{}, fmt.Errorf("failed to request join token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.JoinCredential{}, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload); err != nil {
		return domain.JoinCredential{}, fmt.Errorf("failed to decode token response: %w", err)
	}
	if strings.TrimSpace(payload.Token) == "" {
		return domain.JoinCredential{}, ErrEmptyToken
	}
	return domain.JoinCredential{RoomID: roomID, RoomToken: payload.Token}, nil
}

func buildTokenURL(base, roomID string) (string, error) {
	if base == "" {
		return "", errors.New("credentials base URL is not configured")
	}
	tokenURL, err := url.Parse(base + "/video/token")
	if err != nil {
		return "", fmt.Errorf("invalid credentials base URL: %w", err)
	}
	query := tokenURL.Query()
	query.Set("roomId", roomID)
	tokenURL.RawQuery = query.Encode()
	return tokenURL.String(), nil
}
