package coordinator

import (
	"context"

	"github.com/couchbase/stellar-slotmap/common/topology"
)

// ListNodes returns every registered group in index order.
func (c *Coordinator) ListNodes(ctx context.Context) ([]*topology.NodeGroup, error) {
	_, groups, err := c.registry.NextIndex(ctx)
	if err != nil {
		return nil, err
	}

	return groups, nil
}
