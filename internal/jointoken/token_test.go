package jointoken

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
)

func TestDeriveIsDeterministic(t *testing.T) {
	t.Parallel()

	a := Derive(42, "rt-1", "room1", "userA", "Ada Lovelace")
	b := Derive(42, "rt-1", "room1", "userA", "Ada Lovelace")
	if a != b {
		t.Fatalf("expected identical tokens, got %q and %q", a, b)
	}
	if c := Derive(43, "rt-1", "room1", "userA", "Ada Lovelace"); c == a {
		t.Fatalf("expected app id to change the token")
	}
}

func TestDeriveLayout(t *testing.T) {
	t.Parallel()

	token := Derive(7, "rt-1", "room1", "userA", "Ada Lovelace & co")
	roomToken, encoded, ok := strings.Cut(token, Separator)
	if !ok || roomToken != "rt-1" {
		t.Fatalf("unexpected token prefix: %q", token)
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	want := `{"userID":"userA","roomID":"room1","userName":"Ada%20Lovelace%20%26%20co","appID":7}`
	if string(raw) != want {
		t.Fatalf("unexpected claims:\n got %s\nwant %s", raw, want)
	}

	var got claims
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got.AppID != 7 || got.RoomID != "room1" {
		t.Fatalf("unexpected claims: %+v", got)
	}
}

func TestDeriveEmptyDisplayName(t *testing.T) {
	t.Parallel()

	token := Derive(0, "", "r", "u", "")
	if !strings.HasPrefix(token, Separator) {
		t.Fatalf("expected empty room token prefix, got %q", token)
	}
}
