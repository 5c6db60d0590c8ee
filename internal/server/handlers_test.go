package server

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestCleanText(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("hello", cleanText("  hello  ", 50))
	assert.Equal("abc", cleanText("abcdef", 3))
	assert.Equal("&lt;script&gt;", cleanText("<script>", 50))
	assert.Equal("", cleanText("   ", 50))
}

func TestCleanTextKeepsMultiByteRunesIntact(t *testing.T) {
	assert := assert.New(t)

	// The cap counts characters, so CJK names never come back as broken
	// byte sequences.
	assert.Equal("日本語", cleanText("日本語の名前", 3))

	long := strings.Repeat("日本語の名前テスト一二三四五六七八九十", 3)
	out := cleanText(long, maxUsernameLen)
	assert.True(utf8.ValidString(out))
	assert.Equal(maxUsernameLen, utf8.RuneCountInString(out))

	assert.Equal("héllo", cleanText("héllo wörld", 5))
}

func TestIdentifySetsUsername(t *testing.T) {
	assert := assert.New(t)
	s, _ := newTestServer(t)

	s.handleIdentify("c1", json.RawMessage(`{"username":"  Alice <b>  "}`))
	assert.Equal("Alice &lt;b&gt;", s.connections.Username("c1"))

	// Blank names are ignored; the previous name stays.
	s.handleIdentify("c1", json.RawMessage(`{"username":"   "}`))
	assert.Equal("Alice &lt;b&gt;", s.connections.Username("c1"))
}

func TestJoinRoomBroadcasts(t *testing.T) {
	assert := assert.New(t)
	s, rec := newTestServer(t)

	s.connections.SetUsername("c1", "Alice")
	s.handleJoinRoom("c1", json.RawMessage(`{"roomId":"room1"}`))

	assert.True(s.rooms.IsMember("room1", "c1"))

	// Owner announcement, join announcement, member roster, room list.
	system := rec.ofType("system-message")
	assert.Len(system, 2)
	assert.Contains(system[0].Payload.(SystemMessageBroadcast).Text, "room owner")
	assert.Contains(system[1].Payload.(SystemMessageBroadcast).Text, "joined the room")

	members, found := rec.last("room-members")
	assert.True(found)
	assert.Equal("c1", members.Payload.(RoomMembersBroadcast).Owner)
	assert.Equal(1, rec.count("room-list"))
}

func TestLeaveRoomAnnouncesNewOwner(t *testing.T) {
	assert := assert.New(t)
	s, rec := newTestServer(t)

	s.connections.SetUsername("c1", "Alice")
	s.connections.SetUsername("c2", "Bob")
	s.handleJoinRoom("c1", json.RawMessage(`{"roomId":"room1"}`))
	s.handleJoinRoom("c2", json.RawMessage(`{"roomId":"room1"}`))

	s.handleLeaveRoom("c1", json.RawMessage(`{"roomId":"room1"}`))

	assert.False(s.rooms.IsMember("room1", "c1"))
	assert.Equal("c2", s.rooms.Owner("room1"))

	var texts []string
	for _, ev := range rec.ofType("system-message") {
		texts = append(texts, ev.Payload.(SystemMessageBroadcast).Text)
	}
	assert.Contains(texts, "Alice left the room")
	assert.Contains(texts, "Bob is the new room owner")
}

func TestChatMessageRequiresMembership(t *testing.T) {
	assert := assert.New(t)
	s, rec := newTestServer(t)

	s.connections.SetUsername("c1", "Alice")
	s.handleJoinRoom("c1", json.RawMessage(`{"roomId":"room1"}`))

	s.handleChatMessage("outsider", json.RawMessage(`{"roomId":"room1","text":"hi"}`))
	assert.Zero(rec.count("chat-message"))

	s.handleChatMessage("c1", json.RawMessage(`{"roomId":"room1","text":" hello <b> "}`))
	ev, found := rec.last("chat-message")
	assert.True(found)
	chat := ev.Payload.(ChatMessageBroadcast)
	assert.Equal("Alice", chat.From)
	assert.Equal("c1", chat.FromID)
	assert.Equal("hello &lt;b&gt;", chat.Text)
	assert.Equal("chat", chat.Type)
}

func TestKickNotifiesTarget(t *testing.T) {
	assert := assert.New(t)
	s, rec := newTestServer(t)

	s.connections.SetUsername("c1", "Alice")
	s.connections.SetUsername("c2", "Bob")
	s.handleJoinRoom("c1", json.RawMessage(`{"roomId":"room1"}`))
	s.handleJoinRoom("c2", json.RawMessage(`{"roomId":"room1"}`))

	s.handleKickMember(nil, t.Context(), "c1", json.RawMessage(`{"roomId":"room1","target":"c2"}`))

	assert.False(s.rooms.IsMember("room1", "c2"))

	kicked, found := rec.last("kicked")
	assert.True(found)
	assert.Equal("conn", kicked.Scope)
	assert.Equal("c2", kicked.Target)
	assert.Equal("room1", kicked.Payload.(KickedNotification).RoomID)
}

func TestRTCSignalRelay(t *testing.T) {
	assert := assert.New(t)
	s, rec := newTestServer(t)

	s.handleJoinRoom("c1", json.RawMessage(`{"roomId":"room1"}`))
	s.handleJoinRoom("c2", json.RawMessage(`{"roomId":"room1"}`))

	s.handleRTCSignal("c1", "rtc-offer", json.RawMessage(`{"roomId":"room1","toId":"c2","sdp":{"type":"offer"}}`))

	ev, found := rec.last("rtc-offer")
	assert.True(found)
	assert.Equal("conn", ev.Scope)
	assert.Equal("c2", ev.Target)
	signal := ev.Payload.(RTCSignal)
	assert.Equal("c1", signal.FromID)
	assert.Empty(signal.ToID)

	// Signals into unknown rooms are dropped.
	before := rec.count("rtc-offer")
	s.handleRTCSignal("c1", "rtc-offer", json.RawMessage(`{"roomId":"nope","toId":"c2"}`))
	assert.Equal(before, rec.count("rtc-offer"))
}

func TestDisconnectLeavesAllRooms(t *testing.T) {
	assert := assert.New(t)
	s, rec := newTestServer(t)

	s.connections.SetUsername("c1", "Alice")
	s.connections.SetUsername("c2", "Bob")
	s.handleJoinRoom("c1", json.RawMessage(`{"roomId":"room1"}`))
	s.handleJoinRoom("c1", json.RawMessage(`{"roomId":"room2"}`))
	s.handleJoinRoom("c2", json.RawMessage(`{"roomId":"room1"}`))

	s.handleDisconnect("c1")

	assert.False(s.rooms.IsMember("room1", "c1"))
	assert.False(s.rooms.RoomExists("room2"))
	assert.Equal("c2", s.rooms.Owner("room1"))

	var texts []string
	for _, ev := range rec.ofType("system-message") {
		texts = append(texts, ev.Payload.(SystemMessageBroadcast).Text)
	}
	assert.Contains(texts, "Alice disconnected")
}

func TestVoiceJoinLeaveBroadcasts(t *testing.T) {
	assert := assert.New(t)
	s, rec := newTestServer(t)

	s.handleJoinRoom("c1", json.RawMessage(`{"roomId":"room1"}`))

	s.handleVoiceJoin("c1", json.RawMessage(`{"roomId":"room1"}`))
	ev, found := rec.last("voice-members")
	assert.True(found)
	assert.Equal([]string{"c1"}, ev.Payload.(VoiceMembersBroadcast).Members)

	s.handleVoiceLeave("c1", json.RawMessage(`{"roomId":"room1"}`))
	ev, _ = rec.last("voice-members")
	assert.Empty(ev.Payload.(VoiceMembersBroadcast).Members)
}
