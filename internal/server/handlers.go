package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log"
	"strings"

	"github.com/coder/websocket"
)

const (
	maxUsernameLen = 50
	maxChatLen     = 1000
)

// cleanText trims, caps and HTML-escapes user-supplied text. The cap counts
// runes, not bytes, so multi-byte names are never cut mid-character.
func cleanText(text string, maxRunes int) string {
	text = strings.TrimSpace(text)
	if runes := []rune(text); len(runes) > maxRunes {
		text = string(runes[:maxRunes])
	}
	return html.EscapeString(text)
}

func (s *Server) systemMessage(roomID, text string) {
	s.broadcaster.ToRoom(roomID, "system-message", SystemMessageBroadcast{
		RoomID: roomID,
		Text:   text,
		Time:   nowMillis(),
	})
}

func (s *Server) broadcastRoomMembers(roomID string) {
	s.broadcaster.ToRoom(roomID, "room-members", RoomMembersBroadcast{
		RoomID:  roomID,
		Members: s.rooms.Members(roomID),
		Owner:   s.rooms.Owner(roomID),
	})
}

func (s *Server) broadcastVoiceMembers(roomID string) {
	s.broadcaster.ToRoom(roomID, "voice-members", VoiceMembersBroadcast{
		RoomID:  roomID,
		Members: s.rooms.VoiceMembers(roomID),
	})
}

func (s *Server) broadcastRoomList() {
	s.broadcaster.ToAll("room-list", s.rooms.RoomList())
}

func (s *Server) sendAck(socket *websocket.Conn, ctx context.Context, ackID string, err error) {
	if ackID == "" {
		return
	}
	ack := AckResponse{AckID: ackID, Ok: err == nil}
	if err != nil {
		ack.Error = err.Error()
	}
	if sendErr := sendMessage(socket, ctx, ServerMessage{Type: "ack", Payload: ack}); sendErr != nil {
		log.Printf("failed to send ack: %v", sendErr)
	}
}

func (s *Server) handleIdentify(connectionID string, payload json.RawMessage) {
	var req IdentifyRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return
	}
	username := cleanText(req.Username, maxUsernameLen)
	if username == "" {
		return
	}
	s.connections.SetUsername(connectionID, username)
}

func (s *Server) handleJoinRoom(connectionID string, payload json.RawMessage) {
	var req JoinRoomRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.RoomID == "" {
		return
	}

	username := s.connections.Username(connectionID)
	result := s.rooms.Join(req.RoomID, connectionID, username)
	s.connections.TrackRoom(connectionID, req.RoomID)

	if result.OwnerAssigned {
		s.systemMessage(req.RoomID, fmt.Sprintf("%s is the room owner", username))
	}
	s.systemMessage(req.RoomID, fmt.Sprintf("%s joined the room", username))
	s.broadcastRoomMembers(req.RoomID)
	s.broadcastRoomList()
}

// removeFromRoom is the shared tail of leave, kick and disconnect: broadcast
// the departure, keep the voice roster in sync, and refresh the room list.
func (s *Server) removeFromRoom(roomID string, result LeaveResult, reason string) {
	if !result.Left {
		return
	}

	s.systemMessage(roomID, fmt.Sprintf("%s %s", result.Username, reason))
	if result.OwnerChanged {
		s.systemMessage(roomID, fmt.Sprintf("%s is the new room owner", result.NewOwnerName))
	}
	if !result.RoomDeleted {
		s.broadcastRoomMembers(roomID)
		s.broadcastVoiceMembers(roomID)
	}
	s.broadcastRoomList()
}

func (s *Server) handleLeaveRoom(connectionID string, payload json.RawMessage) {
	var req LeaveRoomRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.RoomID == "" {
		return
	}

	result := s.rooms.Leave(req.RoomID, connectionID)
	s.connections.UntrackRoom(connectionID, req.RoomID)
	s.removeFromRoom(req.RoomID, result, "left the room")
}

func (s *Server) handleChatMessage(connectionID string, payload json.RawMessage) {
	var req ChatMessageRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.RoomID == "" {
		return
	}
	if !s.rooms.IsMember(req.RoomID, connectionID) {
		return
	}

	text := cleanText(req.Text, maxChatLen)
	if text == "" {
		return
	}

	s.broadcaster.ToRoom(req.RoomID, "chat-message", ChatMessageBroadcast{
		From:   s.connections.Username(connectionID),
		FromID: connectionID,
		Text:   text,
		Time:   nowMillis(),
		Type:   "chat",
	})
}

func (s *Server) handleGetRoomList(connectionID string) {
	s.broadcaster.ToConnection(connectionID, "room-list", s.rooms.RoomList())
}

func (s *Server) handleKickMember(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req KickMemberRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.RoomID == "" || req.Target == "" {
		return
	}

	result, err := s.rooms.Kick(req.RoomID, connectionID, req.Target)
	if err != nil {
		if sendErr := sendMessage(socket, ctx, ServerMessage{
			Type:    "kick-error",
			Payload: KickErrorNotification{RoomID: req.RoomID, Message: err.Error()},
		}); sendErr != nil {
			log.Printf("failed to send kick-error: %v", sendErr)
		}
		return
	}

	s.connections.UntrackRoom(req.Target, req.RoomID)
	// The removed member gets told directly; they are no longer a room
	// member and will miss the room broadcast.
	s.broadcaster.ToConnection(req.Target, "kicked", KickedNotification{
		RoomID: req.RoomID,
		Reason: "removed by the room owner",
	})
	s.removeFromRoom(req.RoomID, result, "was removed by the room owner")
}

func (s *Server) handleVoiceJoin(connectionID string, payload json.RawMessage) {
	var req VoiceRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.RoomID == "" {
		return
	}
	if s.rooms.VoiceJoin(req.RoomID, connectionID) {
		s.broadcastVoiceMembers(req.RoomID)
	}
}

func (s *Server) handleVoiceLeave(connectionID string, payload json.RawMessage) {
	var req VoiceRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.RoomID == "" {
		return
	}
	if s.rooms.VoiceLeave(req.RoomID, connectionID) {
		s.broadcastVoiceMembers(req.RoomID)
	}
}

// handleRTCSignal relays offers, answers and ICE candidates between peers.
// Pure pass-through: the server stamps the sender and never inspects the
// payload.
func (s *Server) handleRTCSignal(connectionID, event string, payload json.RawMessage) {
	var signal RTCSignal
	if err := json.Unmarshal(payload, &signal); err != nil {
		return
	}
	if signal.RoomID == "" || signal.ToID == "" || !s.rooms.RoomExists(signal.RoomID) {
		return
	}

	signal.FromID = connectionID
	toID := signal.ToID
	signal.ToID = ""
	s.broadcaster.ToConnection(toID, event, signal)
}

func (s *Server) handlePhaseChange(connectionID string, payload json.RawMessage) {
	var req PhaseChangeRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return
	}
	if err := s.ApplyPhaseChange(connectionID, req); err != nil {
		log.Printf("phase-change from %s rejected: %v", connectionID, err)
	}
}

func (s *Server) handleSubmit(socket *websocket.Conn, ctx context.Context, connectionID string, msg ClientMessage) {
	var req SubmitRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		s.sendAck(socket, ctx, msg.AckID, errMissingFields)
		return
	}
	s.sendAck(socket, ctx, msg.AckID, s.HandleSubmit(connectionID, req))
}

func (s *Server) handleSelectTopic(socket *websocket.Conn, ctx context.Context, connectionID string, msg ClientMessage) {
	var req SelectTopicRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		s.sendAck(socket, ctx, msg.AckID, errMissingFields)
		return
	}
	s.sendAck(socket, ctx, msg.AckID, s.HandleSelectTopic(connectionID, req))
}

func (s *Server) handleVote(connectionID string, payload json.RawMessage) {
	var req VoteRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return
	}
	if err := s.HandleVote(connectionID, req); err != nil {
		log.Printf("vote from %s rejected: %v", connectionID, err)
	}
}

func (s *Server) handleDrawEvents(connectionID string, payload json.RawMessage) {
	if !s.strokeLimiter.Allow(connectionID) {
		return
	}
	var req DrawEventsRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return
	}
	if err := s.HandleDrawEvents(connectionID, req); err != nil {
		log.Printf("draw-events from %s rejected: %v", connectionID, err)
	}
}

// handleDisconnect cleans a dropped connection out of every room it was in,
// with the same side effects as an explicit leave.
func (s *Server) handleDisconnect(connectionID string) {
	username := s.connections.Username(connectionID)
	roomIDs := s.connections.Remove(connectionID)
	s.strokeLimiter.RemoveConnection(connectionID)
	s.chatLimiter.RemoveConnection(connectionID)

	for _, roomID := range roomIDs {
		result := s.rooms.Leave(roomID, connectionID)
		if !result.Left {
			continue
		}
		s.systemMessage(roomID, fmt.Sprintf("%s disconnected", username))
		if result.OwnerChanged {
			s.systemMessage(roomID, fmt.Sprintf("%s is the new room owner", result.NewOwnerName))
		}
		if !result.RoomDeleted {
			s.broadcastRoomMembers(roomID)
			s.broadcastVoiceMembers(roomID)
		}
	}
	if len(roomIDs) > 0 {
		s.broadcastRoomList()
	}
}
