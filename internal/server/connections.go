package server

import (
	"sync"

	"github.com/coder/websocket"
)

const defaultUsername = "anonymous"

// ConnectionManager tracks live websocket connections, the display name each
// one identified with, and which rooms it has joined (so a dropped
// connection can be cleaned out of all of them).
type ConnectionManager struct {
	mu        sync.RWMutex
	conns     map[string]*websocket.Conn
	usernames map[string]string
	rooms     map[string]map[string]bool // connectionID -> set of roomIDs
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		conns:     make(map[string]*websocket.Conn),
		usernames: make(map[string]string),
		rooms:     make(map[string]map[string]bool),
	}
}

func (cm *ConnectionManager) Add(id string, conn *websocket.Conn) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.conns[id] = conn
}

// Remove drops a connection and returns the rooms it was still in.
func (cm *ConnectionManager) Remove(id string) []string {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	roomIDs := make([]string, 0, len(cm.rooms[id]))
	for roomID := range cm.rooms[id] {
		roomIDs = append(roomIDs, roomID)
	}

	delete(cm.conns, id)
	delete(cm.usernames, id)
	delete(cm.rooms, id)
	return roomIDs
}

func (cm *ConnectionManager) Get(id string) *websocket.Conn {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.conns[id]
}

// ConnectionIDs snapshots all live connection ids, for global broadcasts.
func (cm *ConnectionManager) ConnectionIDs() []string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	ids := make([]string, 0, len(cm.conns))
	for id := range cm.conns {
		ids = append(ids, id)
	}
	return ids
}

func (cm *ConnectionManager) SetUsername(id, username string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.usernames[id] = username
}

func (cm *ConnectionManager) Username(id string) string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if name, ok := cm.usernames[id]; ok && name != "" {
		return name
	}
	return defaultUsername
}

func (cm *ConnectionManager) TrackRoom(id, roomID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	set, ok := cm.rooms[id]
	if !ok {
		set = make(map[string]bool)
		cm.rooms[id] = set
	}
	set[roomID] = true
}

func (cm *ConnectionManager) UntrackRoom(id, roomID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.rooms[id], roomID)
}
