package telephone

import "fmt"

// Phase is the telephone session lifecycle stage for a room.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseTopicSelection Phase = "topic-selection"
	PhaseDrawing        Phase = "drawing"
	PhaseDescribing     Phase = "describing"
	PhaseResult         Phase = "result"
)

// Submission types as they appear on the wire and in artifact file names.
const (
	TypeDraw = "draw"
	TypeDesc = "desc"
)

// ChainID returns the chain identifier owned by a player in multi-chain mode.
func ChainID(ownerID string) string {
	return "chain_" + ownerID
}

// SubmissionKey identifies one aggregation bucket: all submissions of one
// type for one step share a key.
func SubmissionKey(stepIndex int, submissionType string) string {
	return fmt.Sprintf("step%d_%s", stepIndex, submissionType)
}

// MaxRounds is the total number of draw+describe rounds for a multi-chain
// session with n players. Stepping past it lands in the result phase.
func MaxRounds(n int) int {
	if n < 0 {
		return 0
	}
	return n / 2
}

// RingOffsetAssignments computes chain assignees for an explicit multi-chain
// phase broadcast: the chain owned by playersOrder[i] is assigned to
// playersOrder[(i+stepIndex) mod n].
//
// The returned map is chainID -> assigneeID.
func RingOffsetAssignments(playersOrder []string, stepIndex int) map[string]string {
	n := len(playersOrder)
	assignments := make(map[string]string, n)
	if n == 0 {
		return assignments
	}

	for i, ownerID := range playersOrder {
		assignee := playersOrder[((i+stepIndex)%n+n)%n]
		assignments[ChainID(ownerID)] = assignee
	}
	return assignments
}

// HandOffDescribeAssignments computes chain assignees for the automatic
// drawing -> describing transition: the immediate successor of each chain's
// owner describes that chain's fresh drawing.
func HandOffDescribeAssignments(playersOrder []string) map[string]string {
	n := len(playersOrder)
	assignments := make(map[string]string, n)
	if n == 0 {
		return assignments
	}

	for i, ownerID := range playersOrder {
		assignments[ChainID(ownerID)] = playersOrder[(i+1)%n]
	}
	return assignments
}

// HandOffNextDrawAssignments computes chain assignees for the automatic
// describing -> drawing transition into round stepIndex: the player at
// position i draws on the chain owned by playersOrder[(i+stepIndex) mod n].
//
// This is deliberately not the same rule as RingOffsetAssignments (the
// assignment direction is inverted); both strategies are kept separate
// because they are triggered by different paths and produce different
// chain/player pairings for the same step.
func HandOffNextDrawAssignments(playersOrder []string, stepIndex int) map[string]string {
	n := len(playersOrder)
	assignments := make(map[string]string, n)
	if n == 0 {
		return assignments
	}

	for i, drawerID := range playersOrder {
		ownerID := playersOrder[((i+stepIndex)%n+n)%n]
		assignments[ChainID(ownerID)] = drawerID
	}
	return assignments
}
