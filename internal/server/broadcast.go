package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/coder/websocket"
)

// Broadcaster is the fan-out boundary between orchestration and transport.
// Delivery is at-most-once with no buffering or replay: a client that
// subscribes after a mutation must reconstruct state through the snapshot
// endpoints, never from missed events.
type Broadcaster interface {
	// ToRoom delivers an event to every current member of a room.
	ToRoom(roomID, event string, payload interface{})
	// ToAll delivers an event to every live connection.
	ToAll(event string, payload interface{})
	// ToConnection delivers an event to a single connection.
	ToConnection(connID, event string, payload interface{})
}

// wsBroadcaster fans out over live websocket connections. It holds no state
// of its own; membership comes from the room manager, sockets from the
// connection manager.
type wsBroadcaster struct {
	connections *ConnectionManager
	rooms       *RoomManager
}

func NewBroadcaster(cm *ConnectionManager, rm *RoomManager) Broadcaster {
	return &wsBroadcaster{connections: cm, rooms: rm}
}

func (b *wsBroadcaster) ToRoom(roomID, event string, payload interface{}) {
	for _, memberID := range b.rooms.MemberIDs(roomID) {
		b.ToConnection(memberID, event, payload)
	}
}

func (b *wsBroadcaster) ToAll(event string, payload interface{}) {
	for _, connID := range b.connections.ConnectionIDs() {
		b.ToConnection(connID, event, payload)
	}
}

func (b *wsBroadcaster) ToConnection(connID, event string, payload interface{}) {
	conn := b.connections.Get(connID)
	if conn == nil {
		return
	}
	// Background context: broadcasts never inherit a request's lifetime.
	if err := sendMessage(conn, context.Background(), ServerMessage{Type: event, Payload: payload}); err != nil {
		log.Printf("failed to deliver %s to %s: %v", event, connID, err)
	}
}

func sendMessage(socket *websocket.Conn, ctx context.Context, msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	return socket.Write(ctx, websocket.MessageText, data)
}
