package server

import "encoding/json"

// ClientMessage is the envelope for every client-to-server event. AckID is
// optional; events that support acknowledgments echo it back in an "ack"
// message.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	AckID   string          `json:"ackId,omitempty"`
}

// ServerMessage is the envelope for every server-to-client event.
type ServerMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}
