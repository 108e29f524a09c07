// Package jointoken derives the media engine's kit token from a room credential.
package jointoken

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"
)

// Separator joins the room token and the encoded identity.
const Separator = "#"

type claims struct {
	UserID   string `json:"userID"`
	RoomID   string `json:"roomID"`
	UserName string `json:"userName"`
	AppID    uint32 `json:"appID"`
}

// Derive builds the kit token for one participant in one room. It is a pure
// function of its inputs.
func Derive(appID uint32, roomToken, roomID, userID, displayName string) string {
	payload, _ := json.Marshal(claims{
		UserID:   userID,
		RoomID:   roomID,
		UserName: escapeName(displayName),
		AppID:    appID,
	})
	return roomToken + Separator + base64.StdEncoding.EncodeToString(payload)
}

func escapeName(name string) string {
	return strings.ReplaceAll(url.QueryEscape(name), "+", "%20")
}
