package server

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"udig-server/internal/artifact"
	"udig-server/internal/telephone"
)

// ChainState tracks one chain: the player whose topic seeded it and the
// player currently responsible for its next contribution. A chain never
// moves once created; only its assignee changes.
type ChainState struct {
	OwnerID    string `json:"ownerId,omitempty"`
	AssigneeID string `json:"assigneeId,omitempty"`
}

// TelephoneState is the per-room game session. It is created lazily on the
// first game-related event and guarded by the room's mutex.
type TelephoneState struct {
	Phase        telephone.Phase
	StepIndex    int
	Deadline     *int64 // unix millis, advisory only; never enforced
	PlayersOrder []string
	MultiChain   bool
	Chains       map[string]*ChainState

	// submissionKey -> set of member ids that submitted for that key.
	Submissions     map[string]map[string]bool
	TopicSelections map[string]bool
	// chainID -> voterID -> pass. Last vote wins; no outcome is ever
	// resolved from the tally.
	Votes map[string]map[string]bool
}

func newTelephoneState() *TelephoneState {
	return &TelephoneState{
		Phase:           telephone.PhaseIdle,
		Chains:          make(map[string]*ChainState),
		Submissions:     make(map[string]map[string]bool),
		TopicSelections: make(map[string]bool),
		Votes:           make(map[string]map[string]bool),
	}
}

func (room *Room) ensureTelephoneLocked() *TelephoneState {
	if room.telephone == nil {
		room.telephone = newTelephoneState()
	}
	return room.telephone
}

var (
	errMissingFields = errors.New("MISSING_FIELDS: required fields are missing")
	errNotAMember    = errors.New("NOT_A_MEMBER: sender is not a member of this room")
	errInvalidState  = errors.New("INVALID_STATE: no active game state for this action")
)

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func deadlineIn(d time.Duration) *int64 {
	at := time.Now().Add(d).UnixMilli()
	return &at
}

// copyAssignments snapshots the chain map so broadcasts marshal stable data
// after the room lock is released.
func copyAssignments(chains map[string]*ChainState) map[string]*ChainState {
	out := make(map[string]*ChainState, len(chains))
	for id, chain := range chains {
		c := *chain
		out[id] = &c
	}
	return out
}

// ApplyPhaseChange performs a manual phase transition. The caller supplies
// the next phase, advisory deadline and rotation extras; the machine trusts
// them and does not validate the transition graph. Multi-chain broadcasts
// always recompute assignees with the ring-offset rule.
func (s *Server) ApplyPhaseChange(senderID string, req PhaseChangeRequest) error {
	if req.RoomID == "" || req.Phase == "" {
		return errMissingFields
	}
	room, ok := s.rooms.get(req.RoomID)
	if !ok {
		return errNotAMember
	}

	room.mu.Lock()
	if room.findMember(senderID) == -1 {
		room.mu.Unlock()
		return errNotAMember
	}

	ts := room.ensureTelephoneLocked()
	ts.Phase = telephone.Phase(req.Phase)
	ts.Deadline = req.Deadline
	if req.StepIndex != nil {
		ts.StepIndex = *req.StepIndex
	}
	if req.PlayersOrder != nil {
		ts.PlayersOrder = append([]string(nil), req.PlayersOrder...)
	}
	if req.MultiChain != nil {
		ts.MultiChain = *req.MultiChain
	}

	out := PhaseBroadcast{
		Phase:      req.Phase,
		Deadline:   ts.Deadline,
		StepIndex:  ts.StepIndex,
		At:         nowMillis(),
		MultiChain: ts.MultiChain,
	}
	if len(ts.PlayersOrder) > 0 {
		out.PlayersOrder = append([]string(nil), ts.PlayersOrder...)
	}

	if ts.MultiChain && ts.Phase != telephone.PhaseIdle && len(ts.PlayersOrder) > 0 {
		// One chain per player; assignment follows the ring-offset
		// strategy on every explicit multi-chain broadcast.
		assignments := telephone.RingOffsetAssignments(ts.PlayersOrder, ts.StepIndex)
		for _, ownerID := range ts.PlayersOrder {
			chainID := telephone.ChainID(ownerID)
			chain, ok := ts.Chains[chainID]
			if !ok {
				chain = &ChainState{OwnerID: ownerID}
				ts.Chains[chainID] = chain
			}
			chain.AssigneeID = assignments[chainID]
		}
		out.ChainAssignments = copyAssignments(ts.Chains)
	} else if !ts.MultiChain && req.AssigneeID != "" {
		chainID := req.ChainID
		if chainID == "" {
			chainID = "default"
		}
		chain, ok := ts.Chains[chainID]
		if !ok {
			chain = &ChainState{}
			ts.Chains[chainID] = chain
		}
		chain.AssigneeID = req.AssigneeID
		out.AssigneeID = req.AssigneeID
		out.ChainID = req.ChainID
	}

	// An explicit reset to idle tears the session down; the next game
	// event starts from scratch.
	if ts.Phase == telephone.PhaseIdle {
		room.telephone = nil
	}
	room.mu.Unlock()

	s.broadcaster.ToRoom(req.RoomID, "telephone/phase", out)
	return nil
}

// HandleSubmit records a draw or describe submission, persists it
// best-effort, broadcasts the running aggregation and schedules automatic
// advancement once every player has submitted for the current step.
func (s *Server) HandleSubmit(senderID string, req SubmitRequest) error {
	if req.RoomID == "" || req.ChainID == "" || req.StepIndex == nil {
		return errMissingFields
	}
	if err := artifact.ValidateID(req.RoomID); err != nil {
		return err
	}
	if err := artifact.ValidateID(req.ChainID); err != nil {
		return err
	}

	room, ok := s.rooms.get(req.RoomID)
	if !ok {
		return errNotAMember
	}

	room.mu.Lock()
	idx := room.findMember(senderID)
	if idx == -1 {
		room.mu.Unlock()
		return errNotAMember
	}
	username := room.members[idx].Username

	ts := room.telephone
	if ts == nil {
		room.mu.Unlock()
		return errInvalidState
	}

	subType := req.Type
	if subType == "" {
		subType = telephone.TypeDraw
	}
	stepIndex := *req.StepIndex

	// In multi-chain mode the submission lands on the chain the sender is
	// currently assigned to, regardless of what the client named.
	targetChainID := req.ChainID
	if ts.MultiChain {
		assigned := ""
		for chainID, chain := range ts.Chains {
			if chain.AssigneeID == senderID {
				assigned = chainID
				break
			}
		}
		if assigned != "" {
			targetChainID = assigned
		} else if targetChainID == "" {
			targetChainID = telephone.ChainID(senderID)
		}
	}

	out := SubmitBroadcast{
		ChainID:    targetChainID,
		StepIndex:  stepIndex,
		Type:       subType,
		From:       senderID,
		MultiChain: ts.MultiChain,
	}

	scheduleAdvance := false
	fromPhase := ts.Phase
	if ts.MultiChain {
		key := telephone.SubmissionKey(stepIndex, subType)
		set, ok := ts.Submissions[key]
		if !ok {
			set = make(map[string]bool)
			ts.Submissions[key] = set
		}
		added := !set[senderID]
		set[senderID] = true

		count := len(set)
		total := len(ts.PlayersOrder)
		allSubmitted := total > 0 && count >= total
		out.SubmissionCount = &count
		out.TotalPlayers = &total
		out.AllSubmitted = &allSubmitted

		// Only the submission that completes the set schedules the
		// advancement; resubmissions and late stragglers do not.
		scheduleAdvance = added && allSubmitted
	}
	room.mu.Unlock()

	// Fire-and-forget persistence: the in-memory record and the broadcast
	// never wait on storage.
	sub := artifact.Submission{
		Type:     subType,
		Data:     req.Data,
		From:     senderID,
		Username: username,
		At:       nowMillis(),
	}
	go func() {
		if err := s.artifacts.WriteSubmission(req.RoomID, targetChainID, stepIndex, sub); err != nil {
			log.Printf("submission write failed for room %s chain %s step %d: %v",
				req.RoomID, targetChainID, stepIndex, err)
		}
	}()

	s.broadcaster.ToRoom(req.RoomID, "telephone/submit-broadcast", out)

	if scheduleAdvance {
		fromStep := stepIndex
		time.AfterFunc(s.cfg.AdvanceDelay, func() {
			s.autoAdvance(req.RoomID, room, fromPhase, fromStep, subType)
		})
	}
	return nil
}

// autoAdvance is the deferred callback behind submission-driven phase
// changes. It re-validates at execution time that the room is still in the
// captured phase/step; anything else (manual override, reset, a racing
// duplicate) makes it a no-op rather than a double advancement.
func (s *Server) autoAdvance(roomID string, room *Room, fromPhase telephone.Phase, fromStep int, subType string) {
	// The room may have been emptied and recreated during the delay; a
	// stale pointer must not mutate the replacement's session.
	if current, ok := s.rooms.get(roomID); !ok || current != room {
		return
	}

	room.mu.Lock()
	ts := room.telephone
	if ts == nil || ts.Phase != fromPhase || ts.StepIndex != fromStep {
		room.mu.Unlock()
		return
	}

	n := len(ts.PlayersOrder)
	switch fromPhase {
	case telephone.PhaseDrawing:
		// Same step; the successor of each owner describes the drawing.
		ts.Phase = telephone.PhaseDescribing
		ts.Deadline = deadlineIn(s.cfg.DescribeDuration)
		applyAssignments(ts, telephone.HandOffDescribeAssignments(ts.PlayersOrder))

	case telephone.PhaseDescribing:
		nextStep := fromStep + 1
		if nextStep < telephone.MaxRounds(n) {
			ts.Phase = telephone.PhaseDrawing
			ts.StepIndex = nextStep
			ts.Deadline = deadlineIn(s.cfg.DrawDuration)
			applyAssignments(ts, telephone.HandOffNextDrawAssignments(ts.PlayersOrder, nextStep))
		} else {
			ts.Phase = telephone.PhaseResult
			ts.Deadline = nil
		}

	default:
		room.mu.Unlock()
		return
	}

	delete(ts.Submissions, telephone.SubmissionKey(fromStep, subType))

	out := s.phaseBroadcastLocked(ts)
	room.mu.Unlock()

	log.Printf("room %s auto-advanced %s/step %d -> %s/step %d",
		roomID, fromPhase, fromStep, out.Phase, out.StepIndex)
	s.broadcaster.ToRoom(roomID, "telephone/phase", out)
}

func applyAssignments(ts *TelephoneState, assignments map[string]string) {
	for chainID, assigneeID := range assignments {
		if chain, ok := ts.Chains[chainID]; ok {
			chain.AssigneeID = assigneeID
		}
	}
}

func (s *Server) phaseBroadcastLocked(ts *TelephoneState) PhaseBroadcast {
	return PhaseBroadcast{
		Phase:            string(ts.Phase),
		Deadline:         ts.Deadline,
		StepIndex:        ts.StepIndex,
		At:               nowMillis(),
		MultiChain:       ts.MultiChain,
		PlayersOrder:     append([]string(nil), ts.PlayersOrder...),
		ChainAssignments: copyAssignments(ts.Chains),
	}
}

// HandleSelectTopic registers a player's topic choice. The choice set is
// idempotent per member; once every player has chosen, the session advances
// to drawing after a short delay.
func (s *Server) HandleSelectTopic(senderID string, req SelectTopicRequest) error {
	if req.RoomID == "" || req.Topic == "" {
		return errMissingFields
	}
	if err := artifact.ValidateID(req.RoomID); err != nil {
		return err
	}

	room, ok := s.rooms.get(req.RoomID)
	if !ok {
		return errNotAMember
	}

	room.mu.Lock()
	idx := room.findMember(senderID)
	if idx == -1 {
		room.mu.Unlock()
		return errNotAMember
	}
	username := room.members[idx].Username

	ts := room.telephone
	if ts == nil || ts.Phase != telephone.PhaseTopicSelection {
		room.mu.Unlock()
		return errInvalidState
	}

	writeAnswer := false
	scheduleAdvance := false
	targetChainID := "main"

	if ts.MultiChain {
		targetChainID = req.ChainID
		if targetChainID == "" {
			targetChainID = telephone.ChainID(senderID)
		}
		chain, ok := ts.Chains[targetChainID]
		if !ok || chain.OwnerID != senderID {
			room.mu.Unlock()
			return errInvalidState
		}

		if !ts.TopicSelections[senderID] {
			ts.TopicSelections[senderID] = true
			writeAnswer = true
			// Only the selection that completes the set triggers
			// the transition.
			scheduleAdvance = len(ts.TopicSelections) >= len(ts.PlayersOrder) && len(ts.PlayersOrder) > 0
		}
	} else {
		writeAnswer = true
	}
	room.mu.Unlock()

	if writeAnswer {
		answer := artifact.TopicAnswer{
			Answer:   req.Topic,
			From:     senderID,
			Username: username,
			At:       nowMillis(),
		}
		go func() {
			if err := s.artifacts.WriteTopicAnswer(req.RoomID, targetChainID, answer); err != nil {
				log.Printf("topic answer write failed for room %s chain %s: %v",
					req.RoomID, targetChainID, err)
			}
		}()
	}

	if scheduleAdvance {
		time.AfterFunc(s.cfg.TopicAdvanceDelay, func() {
			s.advanceFromTopicSelection(req.RoomID, room)
		})
	}
	return nil
}

// advanceFromTopicSelection moves topic-selection to the first drawing step.
// Like autoAdvance it no-ops if the phase moved on during the delay.
func (s *Server) advanceFromTopicSelection(roomID string, room *Room) {
	if current, ok := s.rooms.get(roomID); !ok || current != room {
		return
	}

	room.mu.Lock()
	ts := room.telephone
	if ts == nil || ts.Phase != telephone.PhaseTopicSelection {
		room.mu.Unlock()
		return
	}

	ts.Phase = telephone.PhaseDrawing
	ts.StepIndex = 0
	ts.Deadline = deadlineIn(s.cfg.DrawDuration)
	// Step 0: every player draws their own topic.
	applyAssignments(ts, telephone.RingOffsetAssignments(ts.PlayersOrder, 0))

	out := s.phaseBroadcastLocked(ts)
	room.mu.Unlock()

	log.Printf("room %s: all topics selected, starting drawing", roomID)
	s.broadcaster.ToRoom(roomID, "telephone/phase", out)
}

// HandleVote records a pass/fail vote on a chain's result. One vote per
// voter per chain, overwritten on change; the full tally is broadcast every
// time and never resolved into an outcome.
func (s *Server) HandleVote(senderID string, req VoteRequest) error {
	if req.RoomID == "" || req.ChainID == "" {
		return errMissingFields
	}

	room, ok := s.rooms.get(req.RoomID)
	if !ok {
		return errNotAMember
	}

	room.mu.Lock()
	if room.findMember(senderID) == -1 {
		room.mu.Unlock()
		return errNotAMember
	}
	ts := room.telephone
	if ts == nil {
		room.mu.Unlock()
		return errInvalidState
	}

	votes, ok := ts.Votes[req.ChainID]
	if !ok {
		votes = make(map[string]bool)
		ts.Votes[req.ChainID] = votes
	}
	votes[senderID] = req.Pass

	yes, no := 0, 0
	tally := make(map[string]bool, len(votes))
	for voter, pass := range votes {
		tally[voter] = pass
		if pass {
			yes++
		} else {
			no++
		}
	}
	total := len(ts.PlayersOrder)
	room.mu.Unlock()

	s.broadcaster.ToRoom(req.RoomID, "telephone/vote-broadcast", VoteBroadcast{
		RoomID:       req.RoomID,
		ChainID:      req.ChainID,
		VoterID:      senderID,
		Pass:         req.Pass,
		YesCount:     yes,
		NoCount:      no,
		TotalPlayers: total,
		Votes:        tally,
	})
	return nil
}

// HandleDrawEvents appends a batch of stroke events to the step's log,
// stamped with the server time and sender. No acknowledgment, no broadcast.
func (s *Server) HandleDrawEvents(senderID string, req DrawEventsRequest) error {
	if req.RoomID == "" || req.ChainID == "" || req.StepIndex == nil || req.Events == nil {
		return errMissingFields
	}
	if err := artifact.ValidateID(req.RoomID); err != nil {
		return err
	}
	if err := artifact.ValidateID(req.ChainID); err != nil {
		return err
	}
	if !s.rooms.IsMember(req.RoomID, senderID) {
		return errNotAMember
	}

	now := nowMillis()
	stamped := make([]json.RawMessage, 0, len(req.Events))
	for _, ev := range req.Events {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(ev, &fields); err != nil {
			continue // non-object events are dropped
		}
		fields["t"], _ = json.Marshal(now)
		fields["from"], _ = json.Marshal(senderID)
		enriched, err := json.Marshal(fields)
		if err != nil {
			continue
		}
		stamped = append(stamped, enriched)
	}
	if len(stamped) == 0 {
		return nil
	}

	stepIndex := *req.StepIndex
	go func() {
		if err := s.artifacts.AppendStrokeEvents(req.RoomID, req.ChainID, stepIndex, stamped); err != nil {
			log.Printf("stroke append failed for room %s chain %s step %d: %v",
				req.RoomID, req.ChainID, stepIndex, err)
		}
	}()
	return nil
}
