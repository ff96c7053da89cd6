package roomdto

import "encoding/json"

// Frame types sent by the server.
const (
	FrameGameState = "game-state"
	FrameBetting   = "betting-status"
	FrameError     = "error"
)

// Frame is one websocket message in either direction. Client frames carry
// an event kind as Type and an EventPayload.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewFrame marshals payload into a frame of the given type.
func NewFrame(typ string, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Type: typ}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: typ, Payload: b}, nil
}

// EventPayload is the body of a client event frame. Which fields matter
// depends on the frame type.
type EventPayload struct {
	PlayerID  string `json:"playerId" validate:"omitempty,max=64"`
	Wallet    string `json:"wallet" validate:"omitempty,eth_addr"`
	From      string `json:"from,omitempty" validate:"omitempty,len=2"`
	To        string `json:"to,omitempty" validate:"omitempty,len=2"`
	Promotion string `json:"promotion,omitempty" validate:"omitempty,oneof=q r b n"`
	Message   string `json:"message,omitempty" validate:"max=2000"`
	Accepted  bool   `json:"accepted,omitempty"`
	Seconds   int    `json:"seconds,omitempty" validate:"gte=0,lte=10800"`
}
