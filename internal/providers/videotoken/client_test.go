package videotoken

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func newTokenServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/api/video/token", handler)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server
}

func TestNewClientDefaults(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{BaseURL: " http://localhost:8080/api/ "})
	if c.cfg.BaseURL != "http://localhost:8080/api" {
		t.Fatalf("unexpected base url: %q", c.cfg.BaseURL)
	}
	if c.http.Timeout != 10*time.Second {
		t.Fatalf("unexpected timeout: %s", c.http.Timeout)
	}
}

func TestFetchJoinCredential(t *testing.T) {
	t.Parallel()

	var gotRoom, gotAuth string
	server := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotRoom = r.URL.Query().Get("roomId")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"room-token-1"}`))
	})

	c := NewClient(Config{BaseURL: server.URL + "/api", AuthToken: "session"})
	cred, err := c.FetchJoinCredential(context.Background(), "room 1/a")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if cred.RoomToken != "room-token-1" || cred.RoomID != "room 1/a" {
		t.Fatalf("unexpected credential: %+v", cred)
	}
	if gotRoom != "room 1/a" {
		t.Fatalf("unexpected room query: %q", gotRoom)
	}
	if gotAuth != "Bearer session" {
		t.Fatalf("unexpected auth header: %q", gotAuth)
	}
}

func TestFetchJoinCredentialFailures(t *testing.T) {
	t.Parallel()

	cases := map[string]http.HandlerFunc{
		"unauthorized": func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "no session", http.StatusUnauthorized)
		},
		"empty token": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"token":""}`))
		},
		"malformed": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`<html>`))
		},
	}
	for name, handler := range cases {
		server := newTokenServer(t, handler)
		c := NewClient(Config{BaseURL: server.URL + "/api"})
		_, err := c.FetchJoinCredential(context.Background(), "r1")
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if name == "empty token" && !errors.Is(err, ErrEmptyToken) {
			t.Fatalf("expected ErrEmptyToken, got %v", err)
		}
		if name == "unauthorized" && !strings.Contains(err.Error(), "401") {
			t.Fatalf("expected status in error, got %v", err)
		}
	}
}

func TestFetchJoinCredentialRespectsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(Config{BaseURL: server.URL + "/api"})
	if _, err := c.FetchJoinCredential(ctx, "r1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestBuildTokenURLRequiresBase(t *testing.T) {
	t.Parallel()

	if _, err := buildTokenURL("", "r1"); err == nil {
		t.Fatalf("expected missing base url error")
	}
	got, err := buildTokenURL("https://api.example.com", "r&1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "https://api.example.com/video/token?roomId=r%261" {
		t.Fatalf("unexpected url: %s", got)
	}
}
