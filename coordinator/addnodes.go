package coordinator

import (
	"context"

	"github.com/couchbase/stellar-slotmap/common/coordtree"
	"github.com/couchbase/stellar-slotmap/common/nodeconfig"
	"github.com/couchbase/stellar-slotmap/common/topology"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func (c *Coordinator) AddNodesFromFile(ctx context.Context, path string) ([]*topology.NodeGroup, error) {
	groups, err := nodeconfig.Load(path)
	if err != nil {
		return nil, err
	}

	err = c.AddNodes(ctx, groups)
	if err != nil {
		return nil, err
	}

	return groups, nil
}

// AddNodes appends groups to an initialized cluster.  Either every group is
// registered or none are.  The slot map is left alone; newly added groups
// own no slots until a rebalance moves some to them.
func (c *Coordinator) AddNodes(ctx context.Context, groups []*topology.NodeGroup) error {
	return c.instrument(ctx, "add-nodes", func(ctx context.Context) error {
		if len(groups) == 0 {
			return errors.Wrap(ErrConfigParse, "no node groups specified")
		}
		if len(groups) > coordtree.MaxBatchEntries {
			return errors.Wrapf(ErrTooManyGroups, "%d groups, at most %d per request",
				len(groups), coordtree.MaxBatchEntries)
		}

		return c.withRegistryLock(ctx, func(ctx context.Context) error {
			next, existing, err := c.registry.NextIndex(ctx)
			if err != nil {
				return err
			}

			trace.SpanFromContext(ctx).SetAttributes(
				attribute.Int("groups", len(groups)),
				attribute.Int("start_index", next))

			err = c.registry.Validate(ctx, groups, existing)
			if err != nil {
				return err
			}

			err = c.registry.Commit(ctx, groups, next)
			if err != nil {
				return err
			}

			c.metrics.NodesRegistered.Add(ctx, int64(len(groups)))
			return nil
		})
	})
}
