package slotplan

import (
	"testing"

	"github.com/couchbase/stellar-slotmap/common/topology"
	"github.com/stretchr/testify/require"
)

func TestComputeAssignmentSingleNode(t *testing.T) {
	assignment, err := ComputeAssignment(1)
	require.NoError(t, err)
	require.Len(t, assignment, topology.SlotCount)

	for slot, a := range assignment {
		require.Equal(t, 0, a.NodeIndex, "slot %d", slot)
		require.False(t, a.Migrating)
	}
}

func TestComputeAssignmentFiveNodes(t *testing.T) {
	assignment, err := ComputeAssignment(5)
	require.NoError(t, err)

	expectOwner := func(slot, owner int) {
		require.Equal(t, owner, assignment[slot].NodeIndex, "slot %d", slot)
	}

	expectOwner(0, 0)
	expectOwner(3275, 0)
	expectOwner(3276, 1)
	expectOwner(6551, 1)
	expectOwner(6552, 2)
	expectOwner(9827, 2)
	expectOwner(9828, 3)
	expectOwner(13103, 3)
	expectOwner(13104, 4)
	expectOwner(16379, 4)

	// the leftover slots go to the last node rather than being spread out
	for slot := 16380; slot < topology.SlotCount; slot++ {
		expectOwner(slot, 4)
	}

	require.Equal(t, []Range{
		{NodeIndex: 0, Start: 0, End: 3275},
		{NodeIndex: 1, Start: 3276, End: 6551},
		{NodeIndex: 2, Start: 6552, End: 9827},
		{NodeIndex: 3, Start: 9828, End: 13103},
		{NodeIndex: 4, Start: 13104, End: 16383},
	}, Ranges(assignment))
}

func TestComputeAssignmentIsPartition(t *testing.T) {
	for nodeCount := 1; nodeCount <= topology.SlotCount; nodeCount++ {
		assignment, err := ComputeAssignment(nodeCount)
		if err != nil {
			t.Fatalf("node count %d: %s", nodeCount, err)
		}
		if len(assignment) != topology.SlotCount {
			t.Fatalf("node count %d: expected %d slots, got %d", nodeCount, topology.SlotCount, len(assignment))
		}

		baseShare := topology.SlotCount / nodeCount
		owned := make([]int, nodeCount)
		prevOwner := 0
		for slot, a := range assignment {
			if a.NodeIndex < 0 || a.NodeIndex >= nodeCount {
				t.Fatalf("node count %d: slot %d has invalid owner %d", nodeCount, slot, a.NodeIndex)
			}
			if a.NodeIndex < prevOwner {
				t.Fatalf("node count %d: slot %d breaks contiguity", nodeCount, slot)
			}
			prevOwner = a.NodeIndex
			owned[a.NodeIndex]++
		}

		for idx, count := range owned {
			expected := baseShare
			if idx == nodeCount-1 {
				expected = topology.SlotCount - baseShare*(nodeCount-1)
			}
			if count != expected {
				t.Fatalf("node count %d: node %d owns %d slots, expected %d", nodeCount, idx, count, expected)
			}
		}
	}
}

func TestComputeAssignmentInvalid(t *testing.T) {
	_, err := ComputeAssignment(0)
	require.ErrorIs(t, err, ErrInvalidNodeCount)

	_, err = ComputeAssignment(topology.SlotCount + 1)
	require.ErrorIs(t, err, ErrInvalidNodeCount)
}

func TestRangesMigrating(t *testing.T) {
	assignment := []topology.SlotAssignment{
		{NodeIndex: 0},
		{NodeIndex: 0, Migrating: true},
		{NodeIndex: 0, Migrating: true},
		{NodeIndex: 1},
	}

	ranges := Ranges(assignment)
	require.Equal(t, []Range{
		{NodeIndex: 0, Start: 0, End: 0},
		{NodeIndex: 0, Start: 1, End: 2, Migrating: true},
		{NodeIndex: 1, Start: 3, End: 3},
	}, ranges)
	require.Equal(t, 2, ranges[1].Len())
}
