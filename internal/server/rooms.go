package server

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// Member is one participant of a room. Members are kept in join order; that
// order drives ownership transfer and is fixed into playersOrder when a game
// starts.
type Member struct {
	ID       string
	Username string
	JoinedAt time.Time
}

// Room is the unit of state ownership. All of a room's data, including its
// telephone session, lives behind the room's own mutex; rooms never share
// locks with each other.
type Room struct {
	mu sync.Mutex

	ID        string
	Name      string
	CreatedAt time.Time

	members []Member
	owner   string
	voice   map[string]bool
	// closed marks a room that has been removed from the registry. A Join
	// racing the removal must not admit members into the orphan.
	closed bool

	telephone *TelephoneState
}

// RoomManager is the injectable room registry: rooms are created on first
// join and destroyed when the last member leaves. The manager's lock guards
// only the map; room state is guarded per room.
type RoomManager struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewRoomManager() *RoomManager {
	return &RoomManager{
		rooms: make(map[string]*Room),
	}
}

func (rm *RoomManager) get(roomID string) (*Room, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	room, ok := rm.rooms[roomID]
	return room, ok
}

type JoinResult struct {
	Created       bool   // room came into existence with this join
	OwnerAssigned bool   // this member became owner
	Owner         string // current owner after the join
}

// Join registers a member, creating the room if needed. The first member to
// join while the room has no owner becomes owner. If the looked-up room is
// unregistered before the member lands in it, Join starts over rather than
// populate an orphan.
func (rm *RoomManager) Join(roomID, memberID, username string) JoinResult {
	for {
		rm.mu.Lock()
		room, ok := rm.rooms[roomID]
		created := false
		if !ok {
			room = &Room{
				ID:        roomID,
				Name:      roomID,
				CreatedAt: time.Now(),
				voice:     make(map[string]bool),
			}
			rm.rooms[roomID] = room
			created = true
		}
		rm.mu.Unlock()

		result, ok := room.admit(memberID, username)
		if !ok {
			continue
		}
		result.Created = created
		return result
	}
}

// admit appends the member under the room lock. Reports false when the room
// was closed between the registry lookup and the lock.
func (room *Room) admit(memberID, username string) (JoinResult, bool) {
	room.mu.Lock()
	defer room.mu.Unlock()

	if room.closed {
		return JoinResult{}, false
	}

	var result JoinResult
	if room.findMember(memberID) == -1 {
		room.members = append(room.members, Member{
			ID:       memberID,
			Username: username,
			JoinedAt: time.Now(),
		})
	}
	if room.owner == "" {
		room.owner = memberID
		result.OwnerAssigned = true
	}
	result.Owner = room.owner
	return result, true
}

type LeaveResult struct {
	Left         bool // member was actually present
	Username     string
	OwnerChanged bool
	NewOwnerID   string
	NewOwnerName string
	RoomDeleted  bool
	WasInVoice   bool
}

// Leave removes a member. A departing owner hands ownership to the earliest
// remaining joiner; an emptied room is deleted together with its telephone
// state.
func (rm *RoomManager) Leave(roomID, memberID string) LeaveResult {
	room, ok := rm.get(roomID)
	if !ok {
		return LeaveResult{}
	}

	room.mu.Lock()
	result := room.removeMemberLocked(memberID)
	empty := len(room.members) == 0
	room.mu.Unlock()

	if result.Left && empty {
		result.RoomDeleted = rm.deleteIfEmpty(roomID)
	}
	return result
}

// removeMemberLocked takes a member out of the member list and voice set and
// reassigns ownership if needed. Caller holds room.mu.
func (room *Room) removeMemberLocked(memberID string) LeaveResult {
	idx := room.findMember(memberID)
	if idx == -1 {
		return LeaveResult{}
	}

	result := LeaveResult{
		Left:       true,
		Username:   room.members[idx].Username,
		WasInVoice: room.voice[memberID],
	}
	room.members = append(room.members[:idx], room.members[idx+1:]...)
	delete(room.voice, memberID)

	if room.owner == memberID {
		room.owner = ""
		// Members are stored in join order, so the head of the list
		// is the earliest-joined remaining member.
		if len(room.members) > 0 {
			room.owner = room.members[0].ID
			result.OwnerChanged = true
			result.NewOwnerID = room.owner
			result.NewOwnerName = room.members[0].Username
		}
	}
	return result
}

// deleteIfEmpty unregisters the room if it is still empty, marking it closed
// under the room lock so a racing Join cannot land in the orphan. Reports
// whether the room was removed.
func (rm *RoomManager) deleteIfEmpty(roomID string) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	room, ok := rm.rooms[roomID]
	if !ok {
		return false
	}
	room.mu.Lock()
	empty := len(room.members) == 0
	if empty {
		room.closed = true
	}
	room.mu.Unlock()
	if empty {
		delete(rm.rooms, roomID)
	}
	return empty
}

var (
	errNotOwner        = errors.New("NOT_OWNER: only the room owner can kick members")
	errCannotKickOwner = errors.New("CANNOT_KICK_OWNER: the room owner cannot be kicked")
	errTargetNotFound  = errors.New("TARGET_NOT_FOUND: target is not a member of this room")
)

// Kick force-removes a member on behalf of the room owner.
func (rm *RoomManager) Kick(roomID, requesterID, targetID string) (LeaveResult, error) {
	room, ok := rm.get(roomID)
	if !ok {
		return LeaveResult{}, errTargetNotFound
	}

	room.mu.Lock()
	if room.owner != requesterID {
		room.mu.Unlock()
		return LeaveResult{}, errNotOwner
	}
	if targetID == room.owner {
		room.mu.Unlock()
		return LeaveResult{}, errCannotKickOwner
	}
	if room.findMember(targetID) == -1 {
		room.mu.Unlock()
		return LeaveResult{}, errTargetNotFound
	}

	result := room.removeMemberLocked(targetID)
	empty := len(room.members) == 0
	room.mu.Unlock()

	if empty {
		result.RoomDeleted = rm.deleteIfEmpty(roomID)
	}
	return result, nil
}

// VoiceJoin adds a member to the room's voice roster. Only current members
// may join voice.
func (rm *RoomManager) VoiceJoin(roomID, memberID string) bool {
	room, ok := rm.get(roomID)
	if !ok {
		return false
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if room.findMember(memberID) == -1 {
		return false
	}
	room.voice[memberID] = true
	return true
}

func (rm *RoomManager) VoiceLeave(roomID, memberID string) bool {
	room, ok := rm.get(roomID)
	if !ok {
		return false
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	delete(room.voice, memberID)
	return true
}

func (room *Room) findMember(memberID string) int {
	for i, m := range room.members {
		if m.ID == memberID {
			return i
		}
	}
	return -1
}

// IsMember reports whether memberID currently belongs to the room.
func (rm *RoomManager) IsMember(roomID, memberID string) bool {
	room, ok := rm.get(roomID)
	if !ok {
		return false
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	return room.findMember(memberID) != -1
}

// MemberUsername returns the display name recorded at join time.
func (rm *RoomManager) MemberUsername(roomID, memberID string) string {
	room, ok := rm.get(roomID)
	if !ok {
		return ""
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if idx := room.findMember(memberID); idx != -1 {
		return room.members[idx].Username
	}
	return ""
}

// Members returns the room's member list in join order.
func (rm *RoomManager) Members(roomID string) []MemberInfo {
	room, ok := rm.get(roomID)
	if !ok {
		return []MemberInfo{}
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	members := make([]MemberInfo, 0, len(room.members))
	for _, m := range room.members {
		members = append(members, MemberInfo{ID: m.ID, Name: m.Username})
	}
	return members
}

// MemberIDs returns the ids of all current members; the broadcast gateway
// fans out over this.
func (rm *RoomManager) MemberIDs(roomID string) []string {
	room, ok := rm.get(roomID)
	if !ok {
		return nil
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	ids := make([]string, 0, len(room.members))
	for _, m := range room.members {
		ids = append(ids, m.ID)
	}
	return ids
}

func (rm *RoomManager) Owner(roomID string) string {
	room, ok := rm.get(roomID)
	if !ok {
		return ""
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	return room.owner
}

func (rm *RoomManager) VoiceMembers(roomID string) []string {
	room, ok := rm.get(roomID)
	if !ok {
		return []string{}
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	members := make([]string, 0, len(room.voice))
	for id := range room.voice {
		members = append(members, id)
	}
	sort.Strings(members)
	return members
}

// RoomList summarizes every live room for the global room-list broadcast,
// ordered by creation time.
func (rm *RoomManager) RoomList() []RoomSummary {
	rm.mu.RLock()
	rooms := make([]*Room, 0, len(rm.rooms))
	for _, room := range rm.rooms {
		rooms = append(rooms, room)
	}
	rm.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})

	list := make([]RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		room.mu.Lock()
		list = append(list, RoomSummary{
			ID:    room.ID,
			Name:  room.Name,
			Count: len(room.members),
			Owner: room.owner,
		})
		room.mu.Unlock()
	}
	return list
}

// RoomExists reports whether the registry currently holds the room.
func (rm *RoomManager) RoomExists(roomID string) bool {
	_, ok := rm.get(roomID)
	return ok
}
