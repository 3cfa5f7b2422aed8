/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package slotplan

import (
	"github.com/couchbase/stellar-slotmap/common/topology"
	"github.com/pkg/errors"
)

var ErrInvalidNodeCount = errors.New("invalid node count")

// ComputeAssignment splits the slot space into equal contiguous blocks, one
// per node index.  When the slot count does not divide evenly, every leftover
// slot belongs to the last node.  The proxies compute the same layout when
// the slot map is unavailable, so this must not be rebalanced.
func ComputeAssignment(nodeCount int) ([]topology.SlotAssignment, error) {
	if nodeCount < 1 || nodeCount > topology.SlotCount {
		return nil, errors.Wrapf(ErrInvalidNodeCount, "%d", nodeCount)
	}

	baseShare := topology.SlotCount / nodeCount
	coveredMax := baseShare * nodeCount

	assignment := make([]topology.SlotAssignment, topology.SlotCount)
	for slot := 0; slot < coveredMax; slot++ {
		assignment[slot] = topology.SlotAssignment{
			NodeIndex: slot / baseShare,
		}
	}
	for slot := coveredMax; slot < topology.SlotCount; slot++ {
		assignment[slot] = topology.SlotAssignment{
			NodeIndex: nodeCount - 1,
		}
	}

	return assignment, nil
}

type Range struct {
	NodeIndex int
	Start     int
	End       int
	Migrating bool
}

func (r Range) Len() int {
	return r.End - r.Start + 1
}

// Ranges collapses a slot mapping into runs of consecutive slots which share
// an owner and migration state.  Start and End are inclusive.
func Ranges(assignment []topology.SlotAssignment) []Range {
	var ranges []Range
	for slot, a := range assignment {
		if len(ranges) > 0 {
			last := &ranges[len(ranges)-1]
			if last.NodeIndex == a.NodeIndex && last.Migrating == a.Migrating && last.End == slot-1 {
				last.End = slot
				continue
			}
		}

		ranges = append(ranges, Range{
			NodeIndex: a.NodeIndex,
			Start:     slot,
			End:       slot,
			Migrating: a.Migrating,
		})
	}
	return ranges
}
