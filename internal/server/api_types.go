package server

import "encoding/json"

// ============================================================================
// IDENTITY & ROOM MEMBERSHIP
// ============================================================================

type IdentifyRequest struct {
	Username string `json:"username"`
}

type JoinRoomRequest struct {
	RoomID string `json:"roomId"`
}

type LeaveRoomRequest struct {
	RoomID string `json:"roomId"`
}

type KickMemberRequest struct {
	RoomID string `json:"roomId"`
	Target string `json:"target"`
}

type MemberInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type RoomMembersBroadcast struct {
	RoomID  string       `json:"roomId"`
	Members []MemberInfo `json:"members"`
	Owner   string       `json:"owner,omitempty"`
}

type RoomSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"`
	Owner string `json:"owner,omitempty"`
}

type KickedNotification struct {
	RoomID string `json:"roomId"`
	Reason string `json:"reason"`
}

type KickErrorNotification struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

// ============================================================================
// CHAT & SYSTEM MESSAGES
// ============================================================================

type ChatMessageRequest struct {
	RoomID string `json:"roomId"`
	Text   string `json:"text"`
}

type ChatMessageBroadcast struct {
	From   string `json:"from"`
	FromID string `json:"fromId"`
	Text   string `json:"text"`
	Time   int64  `json:"time"`
	Type   string `json:"type"`
}

type SystemMessageBroadcast struct {
	RoomID string `json:"roomId"`
	Text   string `json:"text"`
	Time   int64  `json:"time"`
}

// ============================================================================
// VOICE & WEBRTC SIGNALING
// ============================================================================

type VoiceRequest struct {
	RoomID string `json:"roomId"`
}

type VoiceMembersBroadcast struct {
	RoomID  string   `json:"roomId"`
	Members []string `json:"members"`
}

// RTCSignal carries an offer, answer or ICE candidate. The server relays it
// to ToID untouched apart from stamping FromID.
type RTCSignal struct {
	RoomID    string          `json:"roomId"`
	ToID      string          `json:"toId,omitempty"`
	FromID    string          `json:"fromId,omitempty"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// ============================================================================
// TELEPHONE GAME
// ============================================================================

type PhaseChangeRequest struct {
	RoomID       string   `json:"roomId"`
	Phase        string   `json:"phase"`
	Deadline     *int64   `json:"deadline,omitempty"` // unix millis, advisory
	AssigneeID   string   `json:"assigneeId,omitempty"`
	ChainID      string   `json:"chainId,omitempty"`
	StepIndex    *int     `json:"stepIndex,omitempty"`
	PlayersOrder []string `json:"playersOrder,omitempty"`
	MultiChain   *bool    `json:"multiChain,omitempty"`
}

type PhaseBroadcast struct {
	Phase            string                 `json:"phase"`
	Deadline         *int64                 `json:"deadline"`
	StepIndex        int                    `json:"stepIndex"`
	At               int64                  `json:"at"`
	MultiChain       bool                   `json:"multiChain"`
	PlayersOrder     []string               `json:"playersOrder,omitempty"`
	ChainAssignments map[string]*ChainState `json:"chainAssignments,omitempty"`
	AssigneeID       string                 `json:"assigneeId,omitempty"`
	ChainID          string                 `json:"chainId,omitempty"`
}

type SubmitRequest struct {
	RoomID    string          `json:"roomId"`
	ChainID   string          `json:"chainId"`
	StepIndex *int            `json:"stepIndex"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
}

type SubmitBroadcast struct {
	ChainID    string `json:"chainId"`
	StepIndex  int    `json:"stepIndex"`
	Type       string `json:"type"`
	From       string `json:"from"`
	MultiChain bool   `json:"multiChain"`

	// Running aggregation, multi-chain mode only.
	SubmissionCount *int  `json:"submissionCount,omitempty"`
	TotalPlayers    *int  `json:"totalPlayers,omitempty"`
	AllSubmitted    *bool `json:"allSubmitted,omitempty"`
}

type SelectTopicRequest struct {
	RoomID  string `json:"roomId"`
	ChainID string `json:"chainId,omitempty"`
	Topic   string `json:"topic"`
}

type VoteRequest struct {
	RoomID  string `json:"roomId"`
	ChainID string `json:"chainId"`
	Pass    bool   `json:"pass"`
}

type VoteBroadcast struct {
	RoomID       string          `json:"roomId"`
	ChainID      string          `json:"chainId"`
	VoterID      string          `json:"voterId"`
	Pass         bool            `json:"pass"`
	YesCount     int             `json:"yesCount"`
	NoCount      int             `json:"noCount"`
	TotalPlayers int             `json:"totalPlayers"`
	Votes        map[string]bool `json:"votes"`
}

type DrawEventsRequest struct {
	RoomID    string            `json:"roomId"`
	ChainID   string            `json:"chainId"`
	StepIndex *int              `json:"stepIndex"`
	Events    []json.RawMessage `json:"events"`
}

// AckResponse answers a client message that carried an ackId.
type AckResponse struct {
	AckID string `json:"ackId,omitempty"`
	Ok    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
