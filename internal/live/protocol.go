// Package live carries metric updates from the backend to dashboards over a
// websocket. Frames are JSON envelopes {"event": ..., "data": ...}.
package live

import (
	"encoding/json"
	"fmt"
)

const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
	EventUpdate     = "metrics:update"
	EventPing       = "ping"
	EventPong       = "pong"
	EventPongAck    = "pong:ack"
)

type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ConnectPayload struct {
	SessionID string `json:"sessionId"`
}

type DisconnectPayload struct {
	Reason string `json:"reason"`
}

// ProbePayload is shared by ping, pong and pong:ack.
type ProbePayload struct {
	Seq uint64 `json:"seq"`
}

func encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	out, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", event, err)
	}
	return out, nil
}

func decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing event name")
	}
	return env, nil
}
