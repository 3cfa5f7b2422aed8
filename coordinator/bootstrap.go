package coordinator

import (
	"context"

	"github.com/couchbase/stellar-slotmap/common/coordtree"
	"github.com/couchbase/stellar-slotmap/common/nodeconfig"
	"github.com/couchbase/stellar-slotmap/common/slotplan"
	"github.com/couchbase/stellar-slotmap/common/topology"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// rootPayload is the data stored on the /nodes and /slot_map roots.
var rootPayload = []byte("1")

func (c *Coordinator) BootstrapFromFile(ctx context.Context, path string) ([]*topology.NodeGroup, error) {
	groups, err := nodeconfig.Load(path)
	if err != nil {
		return nil, err
	}

	err = c.Bootstrap(ctx, groups)
	if err != nil {
		return nil, err
	}

	return groups, nil
}

// Bootstrap wipes any existing topology and registers groups from index 0,
// spreading every slot across them.  All groups are validated and their
// stores prepared before the existing topology is touched.
func (c *Coordinator) Bootstrap(ctx context.Context, groups []*topology.NodeGroup) error {
	return c.instrument(ctx, "bootstrap", func(ctx context.Context) error {
		if len(groups) == 0 {
			return errors.Wrap(ErrConfigParse, "no node groups specified")
		}

		assignment, err := slotplan.ComputeAssignment(len(groups))
		if err != nil {
			return err
		}

		trace.SpanFromContext(ctx).SetAttributes(attribute.Int("groups", len(groups)))

		return c.withRegistryLock(ctx, func(ctx context.Context) error {
			err := c.registry.Validate(ctx, groups, nil)
			if err != nil {
				return err
			}

			for _, group := range groups {
				err := c.registry.prepareStore(ctx, group)
				if err != nil {
					return err
				}
			}

			err = c.resetRoots(ctx)
			if err != nil {
				return err
			}

			for i, group := range groups {
				group.Index = i

				data, err := topology.EncodeNodeGroup(group)
				if err != nil {
					return errors.Wrap(err, "failed to encode node group")
				}

				err = c.tree.Create(ctx, topology.NodePath(i), data)
				if err != nil {
					return errors.Wrapf(err, "failed to register node group %d", i)
				}

				c.metrics.NodesRegistered.Add(ctx, 1)
				c.logger.Info("registered node group",
					zap.Int("index", i),
					zap.Stringer("master", group.Master()),
					zap.Stringer("slave", group.Slave()))
			}

			return c.writeSlotMap(ctx, assignment)
		})
	})
}

func (c *Coordinator) resetRoots(ctx context.Context) error {
	for _, root := range []string{topology.NodesRoot, topology.SlotMapRoot} {
		err := c.tree.CreateOrReplace(ctx, root, rootPayload)
		if err != nil {
			return errors.Wrapf(err, "failed to reset %s", root)
		}
	}

	c.logger.Warn("reset existing topology",
		zap.String("nodes", topology.NodesRoot),
		zap.String("slots", topology.SlotMapRoot))

	return nil
}

// writeSlotMap creates every /slot_map/{slot} record, in batches sized to fit
// a single tree transaction.
func (c *Coordinator) writeSlotMap(ctx context.Context, assignment []topology.SlotAssignment) error {
	batch := make([]coordtree.Entry, 0, coordtree.MaxBatchEntries)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}

		err := c.tree.CreateBatch(ctx, batch)
		if err != nil {
			return errors.Wrap(err, "failed to write slot map")
		}

		c.metrics.SlotsWritten.Add(ctx, int64(len(batch)))
		batch = batch[:0]
		return nil
	}

	for slot, a := range assignment {
		data, err := topology.EncodeSlotAssignment(a)
		if err != nil {
			return errors.Wrap(err, "failed to encode slot assignment")
		}

		batch = append(batch, coordtree.Entry{
			Path: topology.SlotPath(slot),
			Data: data,
		})

		if len(batch) == coordtree.MaxBatchEntries {
			err := flush()
			if err != nil {
				return err
			}
		}
	}

	err := flush()
	if err != nil {
		return err
	}

	for _, r := range slotplan.Ranges(assignment) {
		c.logger.Info("assigned slots",
			zap.Int("node", r.NodeIndex),
			zap.Int("start", r.Start),
			zap.Int("end", r.End))
	}

	return nil
}
