package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"udig-server/internal/artifact"
)

func (s *Server) RegisterRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.bannerHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("/websocket", s.websocketHandler)

	// Stored artifacts are served directly; snapshot endpoints below hand
	// out URLs into this tree.
	mux.Handle("GET /uploads/", http.StripPrefix("/uploads/",
		http.FileServer(http.Dir(s.artifacts.Root()))))

	mux.HandleFunc("GET /api/rooms", s.roomsHandler)
	mux.HandleFunc("GET /api/room/{roomId}", s.roomHandler)
	mux.HandleFunc("GET /api/telephone/chains/{roomId}", s.chainsHandler)
	mux.HandleFunc("GET /api/telephone/chain/{roomId}/{chainId}", s.chainHandler)
	mux.HandleFunc("GET /api/telephone/step/{roomId}/{chainId}/{stepIndex}", s.stepHandler)
	mux.HandleFunc("GET /api/telephone/events/{roomId}/{chainId}/{stepIndex}", s.eventsHandler)
	mux.HandleFunc("POST /api/telephone/upload", s.uploadHandler)

	return s.corsMiddleware(mux)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes one response in the uniform {ok, ...} envelope.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}

type errorResponse struct {
	Ok    bool   `json:"ok"`
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorResponse{Ok: false, Error: code})
}

func (s *Server) bannerHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "You Draw I Guess API Server"})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func pathID(r *http.Request, name string) (string, bool) {
	id := r.PathValue(name)
	if artifact.ValidateID(id) != nil {
		return "", false
	}
	return id, true
}

func (s *Server) roomsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Ok    bool          `json:"ok"`
		Rooms []RoomSummary `json:"rooms"`
	}{true, s.rooms.RoomList()})
}

func (s *Server) roomHandler(w http.ResponseWriter, r *http.Request) {
	roomID, ok := pathID(r, "roomId")
	if !ok {
		writeError(w, http.StatusBadRequest, "MISSING_FIELDS")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Ok           bool         `json:"ok"`
		RoomID       string       `json:"roomId"`
		Members      []MemberInfo `json:"members"`
		Owner        string       `json:"owner,omitempty"`
		VoiceMembers []string     `json:"voiceMembers"`
	}{true, roomID, s.rooms.Members(roomID), s.rooms.Owner(roomID), s.rooms.VoiceMembers(roomID)})
}

func (s *Server) chainsHandler(w http.ResponseWriter, r *http.Request) {
	roomID, ok := pathID(r, "roomId")
	if !ok {
		writeError(w, http.StatusBadRequest, "MISSING_FIELDS")
		return
	}

	chains, err := s.artifacts.ListChains(roomID)
	if err != nil {
		log.Printf("list chains failed for room %s: %v", roomID, err)
		writeError(w, http.StatusInternalServerError, "STORAGE_ERROR")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Ok     bool                    `json:"ok"`
		RoomID string                  `json:"roomId"`
		Chains []artifact.ChainSummary `json:"chains"`
	}{true, roomID, chains})
}

func (s *Server) chainHandler(w http.ResponseWriter, r *http.Request) {
	roomID, okRoom := pathID(r, "roomId")
	chainID, okChain := pathID(r, "chainId")
	if !okRoom || !okChain {
		writeError(w, http.StatusBadRequest, "MISSING_FIELDS")
		return
	}

	steps, answer, err := s.artifacts.ChainSteps(roomID, chainID)
	if err != nil {
		log.Printf("chain steps failed for room %s chain %s: %v", roomID, chainID, err)
		writeError(w, http.StatusInternalServerError, "STORAGE_ERROR")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Ok      bool                   `json:"ok"`
		RoomID  string                 `json:"roomId"`
		ChainID string                 `json:"chainId"`
		Steps   []artifact.StepSummary `json:"steps"`
		Answer  string                 `json:"answer,omitempty"`
	}{true, roomID, chainID, steps, answer})
}

func stepPath(r *http.Request) (roomID, chainID string, stepIndex int, ok bool) {
	roomID, okRoom := pathID(r, "roomId")
	chainID, okChain := pathID(r, "chainId")
	stepIndex, err := strconv.Atoi(r.PathValue("stepIndex"))
	return roomID, chainID, stepIndex, okRoom && okChain && err == nil && stepIndex >= 0
}

func (s *Server) stepHandler(w http.ResponseWriter, r *http.Request) {
	roomID, chainID, stepIndex, ok := stepPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "MISSING_FIELDS")
		return
	}

	detail, err := s.artifacts.StepDetail(roomID, chainID, stepIndex)
	if err != nil {
		log.Printf("step detail failed: %v", err)
		writeError(w, http.StatusInternalServerError, "STORAGE_ERROR")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Ok      bool   `json:"ok"`
		RoomID  string `json:"roomId"`
		ChainID string `json:"chainId"`
		artifact.StepDetail
	}{true, roomID, chainID, detail})
}

func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	roomID, chainID, stepIndex, ok := stepPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "MISSING_FIELDS")
		return
	}

	events, err := s.artifacts.StrokeEvents(roomID, chainID, stepIndex)
	if err != nil {
		log.Printf("stroke events read failed: %v", err)
		writeError(w, http.StatusInternalServerError, "STORAGE_ERROR")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Ok     bool              `json:"ok"`
		Events []json.RawMessage `json:"events"`
	}{true, events})
}

// uploadHandler accepts a finished drawing for a (room, chain, step) triple.
// The blob is stored in the client's encoding together with its metadata.
func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "MISSING_FIELDS")
		return
	}

	roomID := r.FormValue("roomId")
	chainID := r.FormValue("chainId")
	stepIndex, stepErr := strconv.Atoi(r.FormValue("stepIndex"))
	if artifact.ValidateID(roomID) != nil || artifact.ValidateID(chainID) != nil || stepErr != nil || stepIndex < 0 {
		writeError(w, http.StatusBadRequest, "MISSING_FIELDS")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "NO_FILE")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "NO_FILE")
		return
	}

	var format string
	switch http.DetectContentType(data) {
	case "image/png":
		format = "png"
	case "image/webp":
		format = "webp"
	case "image/jpeg":
		format = "jpeg"
	default:
		writeError(w, http.StatusBadRequest, "INVALID_FILE_TYPE")
		return
	}

	meta := artifact.ImageMeta{
		Format:     format,
		UploadedAt: nowMillis(),
		RoomID:     roomID,
		ChainID:    chainID,
		StepIndex:  stepIndex,
		PlayerID:   r.FormValue("playerId"),
	}
	// Dimensions are informational; webp is stored without probing since
	// the stdlib cannot decode it.
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		meta.Width = cfg.Width
		meta.Height = cfg.Height
	}

	url, err := s.artifacts.SaveImage(roomID, chainID, stepIndex, format, data, meta)
	if err != nil {
		log.Printf("image save failed for room %s chain %s step %d: %v", roomID, chainID, stepIndex, err)
		writeError(w, http.StatusInternalServerError, "STORAGE_ERROR")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Ok  bool   `json:"ok"`
		URL string `json:"url"`
		artifact.ImageMeta
	}{true, url, meta})
}

func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		http.Error(w, "Failed to open websocket", http.StatusInternalServerError)
		return
	}
	defer socket.Close(websocket.StatusGoingAway, "Server closing")

	ctx := r.Context()

	connectionID := uuid.New().String()
	log.Printf("New connection: %s", connectionID)
	s.connections.Add(connectionID, socket)
	defer func() {
		log.Printf("Connection closed: %s", connectionID)
		s.handleDisconnect(connectionID)
	}()

	for {
		msgType, data, err := socket.Read(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Printf("Connection %s read error: %v", connectionID, err)
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Invalid JSON from %s: %v", connectionID, err)
			continue
		}

		s.dispatch(socket, ctx, connectionID, msg)
	}
}

// dispatch routes one inbound client event. Every handler runs to
// completion before the next read, so a single connection's events are
// processed in order.
func (s *Server) dispatch(socket *websocket.Conn, ctx context.Context, connectionID string, msg ClientMessage) {
	switch msg.Type {
	case "identify":
		s.handleIdentify(connectionID, msg.Payload)

	case "join-room":
		s.handleJoinRoom(connectionID, msg.Payload)

	case "leave-room":
		s.handleLeaveRoom(connectionID, msg.Payload)

	case "chat-message":
		if s.chatLimiter.Allow(connectionID) {
			s.handleChatMessage(connectionID, msg.Payload)
		}

	case "get-room-list":
		s.handleGetRoomList(connectionID)

	case "kick-member":
		s.handleKickMember(socket, ctx, connectionID, msg.Payload)

	case "voice-join":
		s.handleVoiceJoin(connectionID, msg.Payload)

	case "voice-leave":
		s.handleVoiceLeave(connectionID, msg.Payload)

	case "rtc-offer", "rtc-answer", "rtc-candidate":
		s.handleRTCSignal(connectionID, msg.Type, msg.Payload)

	case "telephone/phase-change":
		s.handlePhaseChange(connectionID, msg.Payload)

	case "telephone/submit":
		s.handleSubmit(socket, ctx, connectionID, msg)

	case "telephone/select-topic":
		s.handleSelectTopic(socket, ctx, connectionID, msg)

	case "telephone/vote":
		s.handleVote(connectionID, msg.Payload)

	case "telephone/draw-events":
		s.handleDrawEvents(connectionID, msg.Payload)

	default:
		log.Printf("Unknown message type '%s' from %s", msg.Type, connectionID)
	}
}
