package relay

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/astromechza/viewsync/pkg/medium"
)

const (
	opSet    = "set"
	opGet    = "get"
	opDelete = "delete"
	opKeys   = "keys"
	opResult = "result"
	opChange = "change"
)

// frame is the single message shape exchanged over a relay websocket. Requests
// carry an ID which the matching result echoes; change frames are pushed by the
// server unprompted.
type frame struct {
	ID     string         `json:"id,omitempty"`
	Op     string         `json:"op"`
	Key    string         `json:"key,omitempty"`
	Value  string         `json:"value,omitempty"`
	Found  bool           `json:"found,omitempty"`
	Keys   []string       `json:"keys,omitempty"`
	Error  string         `json:"error,omitempty"`
	Change *medium.Change `json:"change,omitempty"`
}

func readFrame(conn *websocket.Conn) (frame, error) {
	mt, p, err := conn.ReadMessage()
	if err != nil {
		return frame{}, fmt.Errorf("failed to read message: %w", err)
	}
	if mt != websocket.TextMessage {
		return frame{}, fmt.Errorf("unexpected message type %d", mt)
	}
	var f frame
	if err := json.Unmarshal(p, &f); err != nil {
		return frame{}, fmt.Errorf("failed to decode frame: %w", err)
	}
	return f, nil
}

func encodeFrame(f frame) ([]byte, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return raw, nil
}
