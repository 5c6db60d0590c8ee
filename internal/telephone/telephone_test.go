package telephone

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

var fourPlayers = []string{"alice", "bob", "carol", "dave"}

func TestChainID(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("chain_alice", ChainID("alice"))
}

func TestSubmissionKey(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("step0_draw", SubmissionKey(0, TypeDraw))
	assert.Equal("step3_desc", SubmissionKey(3, TypeDesc))
}

func TestMaxRounds(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(0, MaxRounds(0))
	assert.Equal(0, MaxRounds(1))
	assert.Equal(1, MaxRounds(2))
	assert.Equal(1, MaxRounds(3))
	assert.Equal(2, MaxRounds(4))
	assert.Equal(3, MaxRounds(6))
	assert.Equal(0, MaxRounds(-2))
}

func TestRingOffsetAssignments_StepZero(t *testing.T) {
	assert := assert.New(t)

	// At step 0 every player seeds their own chain.
	assignments := RingOffsetAssignments(fourPlayers, 0)

	assert.Len(assignments, 4)
	for _, p := range fourPlayers {
		assert.Equal(p, assignments[ChainID(p)])
	}
}

func TestRingOffsetAssignments_StepOne(t *testing.T) {
	assert := assert.New(t)

	assignments := RingOffsetAssignments(fourPlayers, 1)

	assert.Equal("bob", assignments["chain_alice"])
	assert.Equal("carol", assignments["chain_bob"])
	assert.Equal("dave", assignments["chain_carol"])
	assert.Equal("alice", assignments["chain_dave"])
}

func TestRingOffsetAssignments_WrapsAround(t *testing.T) {
	assert := assert.New(t)

	// Offset equal to the player count maps back to the owners.
	assignments := RingOffsetAssignments(fourPlayers, 4)
	for _, p := range fourPlayers {
		assert.Equal(p, assignments[ChainID(p)])
	}
}

func TestRingOffsetAssignments_Permutation(t *testing.T) {
	// Every chain must get a distinct assignee at every step, and for
	// steps that are not multiples of N nobody works their own chain.
	for n := 2; n <= 7; n++ {
		order := make([]string, n)
		for i := range order {
			order[i] = fmt.Sprintf("p%d", i)
		}

		for step := 0; step < 3*n; step++ {
			assignments := RingOffsetAssignments(order, step)
			assert.Len(t, assignments, n, "n=%d step=%d", n, step)

			seen := make(map[string]bool)
			for _, assignee := range assignments {
				assert.False(t, seen[assignee], "duplicate assignee n=%d step=%d", n, step)
				seen[assignee] = true
			}

			if step%n != 0 {
				for _, owner := range order {
					assert.NotEqual(t, owner, assignments[ChainID(owner)],
						"owner assigned to own chain n=%d step=%d", n, step)
				}
			}
		}
	}
}

func TestHandOffDescribeAssignments(t *testing.T) {
	assert := assert.New(t)

	assignments := HandOffDescribeAssignments(fourPlayers)

	// The immediate successor describes each owner's drawing.
	assert.Equal("bob", assignments["chain_alice"])
	assert.Equal("carol", assignments["chain_bob"])
	assert.Equal("dave", assignments["chain_carol"])
	assert.Equal("alice", assignments["chain_dave"])
}

func TestHandOffDescribeAssignments_NeverOwnChain(t *testing.T) {
	for n := 2; n <= 7; n++ {
		order := make([]string, n)
		for i := range order {
			order[i] = fmt.Sprintf("p%d", i)
		}

		assignments := HandOffDescribeAssignments(order)
		seen := make(map[string]bool)
		for _, owner := range order {
			assignee := assignments[ChainID(owner)]
			assert.NotEqual(t, owner, assignee, "n=%d", n)
			assert.False(t, seen[assignee], "duplicate assignee n=%d", n)
			seen[assignee] = true
		}
	}
}

func TestHandOffNextDrawAssignments(t *testing.T) {
	assert := assert.New(t)

	// Round 1 with four players: drawer i works on the chain owned by
	// playersOrder[i+1].
	assignments := HandOffNextDrawAssignments(fourPlayers, 1)

	assert.Equal("alice", assignments["chain_bob"])
	assert.Equal("bob", assignments["chain_carol"])
	assert.Equal("carol", assignments["chain_dave"])
	assert.Equal("dave", assignments["chain_alice"])
}

func TestHandOffNextDrawAssignments_DiffersFromRingOffset(t *testing.T) {
	assert := assert.New(t)

	// The two strategies assign in opposite directions around the ring;
	// they must not be collapsed into one.
	ring := RingOffsetAssignments(fourPlayers, 1)
	handOff := HandOffNextDrawAssignments(fourPlayers, 1)

	assert.NotEqual(ring, handOff)
}

func TestHandOffNextDrawAssignments_Permutation(t *testing.T) {
	for n := 2; n <= 7; n++ {
		order := make([]string, n)
		for i := range order {
			order[i] = fmt.Sprintf("p%d", i)
		}

		for step := 1; step < n; step++ {
			assignments := HandOffNextDrawAssignments(order, step)
			assert.Len(t, assignments, n)

			seen := make(map[string]bool)
			for _, owner := range order {
				assignee := assignments[ChainID(owner)]
				assert.NotEqual(t, owner, assignee, "n=%d step=%d", n, step)
				assert.False(t, seen[assignee], "duplicate assignee n=%d step=%d", n, step)
				seen[assignee] = true
			}
		}
	}
}

func TestAssignments_EmptyOrder(t *testing.T) {
	assert := assert.New(t)

	assert.Empty(RingOffsetAssignments(nil, 2))
	assert.Empty(HandOffDescribeAssignments(nil))
	assert.Empty(HandOffNextDrawAssignments(nil, 1))
}

func TestAssignments_SinglePlayer(t *testing.T) {
	assert := assert.New(t)

	// Degenerate but must not panic or loop; the lone player keeps their
	// own chain.
	solo := []string{"alice"}
	assert.Equal("alice", RingOffsetAssignments(solo, 5)["chain_alice"])
	assert.Equal("alice", HandOffDescribeAssignments(solo)["chain_alice"])
}
