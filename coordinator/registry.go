package coordinator

import (
	"context"
	"strconv"
	"time"

	"github.com/couchbase/stellar-slotmap/common/coordtree"
	"github.com/couchbase/stellar-slotmap/common/topology"
	"github.com/couchbase/stellar-slotmap/utils/netutils"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ProbeFunc checks that something is accepting connections on endpoint.
type ProbeFunc func(ctx context.Context, endpoint topology.Endpoint, timeout time.Duration) error

func tcpProbe(ctx context.Context, endpoint topology.Endpoint, timeout time.Duration) error {
	return netutils.CheckReachable(ctx, endpoint.String(), timeout)
}

type registryOptions struct {
	Logger       *zap.Logger
	Tree         coordtree.Tree
	Store        StoreClient
	Probe        ProbeFunc
	ProbeTimeout time.Duration
}

// Registry owns the /nodes subtree.  Callers are expected to hold the
// registry lock between NextIndex and Commit.
type Registry struct {
	logger       *zap.Logger
	tree         coordtree.Tree
	store        StoreClient
	probe        ProbeFunc
	probeTimeout time.Duration
}

func newRegistry(opts *registryOptions) *Registry {
	probe := opts.Probe
	if probe == nil {
		probe = tcpProbe
	}

	probeTimeout := opts.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = netutils.DefaultProbeTimeout
	}

	return &Registry{
		logger:       opts.Logger,
		tree:         opts.Tree,
		store:        opts.Store,
		probe:        probe,
		probeTimeout: probeTimeout,
	}
}

// NextIndex reads every registered group and returns the index the next
// group will receive along with the existing groups in index order.
func (r *Registry) NextIndex(ctx context.Context) (int, []*topology.NodeGroup, error) {
	names, err := r.tree.Children(ctx, topology.NodesRoot)
	if err != nil {
		if errors.Is(err, coordtree.ErrNoNode) {
			return 0, nil, errors.Wrap(ErrNotInitialized, "no node registry found")
		}
		return 0, nil, errors.Wrap(err, "failed to list node groups")
	}

	next := 0
	groups := make([]*topology.NodeGroup, 0, len(names))
	for _, name := range names {
		index, err := strconv.Atoi(name)
		if err != nil || index < 0 {
			return 0, nil, &coordtree.CoordinationError{
				Op:    "list-nodes",
				Path:  topology.NodesRoot + "/" + name,
				Err:   topology.ErrMalformedRecord,
				Cause: errors.Errorf("non-numeric node index %q", name),
			}
		}

		data, err := r.tree.Get(ctx, topology.NodePath(index))
		if err != nil {
			return 0, nil, errors.Wrapf(err, "failed to read node group %d", index)
		}

		group, err := topology.DecodeNodeGroup(index, data)
		if err != nil {
			return 0, nil, err
		}

		groups = append(groups, group)
		if index+1 > next {
			next = index + 1
		}
	}

	return next, groups, nil
}

// Validate checks every candidate before anything is written.  Duplicates
// are checked for the whole batch first so that a bad config file fails fast
// without probing any endpoints.
func (r *Registry) Validate(ctx context.Context, candidates, existing []*topology.NodeGroup) error {
	known := make(map[topology.Endpoint]*topology.NodeGroup)
	for _, group := range existing {
		for _, endpoint := range group.Endpoints() {
			known[endpoint] = group
		}
	}

	for _, candidate := range candidates {
		for _, endpoint := range candidate.Endpoints() {
			if other, ok := known[endpoint]; ok {
				return errors.Wrapf(ErrDuplicateNode, "%s is already used by %s", endpoint, other)
			}
		}
		for _, endpoint := range candidate.Endpoints() {
			known[endpoint] = candidate
		}
	}

	for _, candidate := range candidates {
		for _, endpoint := range candidate.Endpoints() {
			err := r.probe(ctx, endpoint, r.probeTimeout)
			if err != nil {
				r.logger.Debug("endpoint probe failed",
					zap.Stringer("endpoint", endpoint),
					zap.Error(err))
				return errors.Wrapf(ErrUnreachable, "%s: %s", endpoint, err)
			}
		}
	}

	return nil
}

// prepareStore readies the storage side of a group.  This is not undone if a
// later step fails, repeating it restarts replication from the same master.
func (r *Registry) prepareStore(ctx context.Context, group *topology.NodeGroup) error {
	if r.store == nil {
		return errors.Wrap(ErrStoreUnavailable, "no store client configured")
	}

	err := r.store.MarkReadyForAllShards(ctx, group.Master())
	if err != nil {
		return errors.Wrapf(err, "failed to mark %s ready", group.Master())
	}

	err = r.store.ConfigureReplication(ctx, group.Slave(), group.Master())
	if err != nil {
		return errors.Wrapf(err, "failed to configure replication for %s", group)
	}

	return nil
}

// Commit prepares the store for every candidate and then registers them all
// in a single batch starting at startIndex.  The candidates are assigned
// their indexes as part of this.
func (r *Registry) Commit(ctx context.Context, candidates []*topology.NodeGroup, startIndex int) error {
	if len(candidates) > coordtree.MaxBatchEntries {
		return errors.Wrapf(ErrTooManyGroups, "%d groups, at most %d per request",
			len(candidates), coordtree.MaxBatchEntries)
	}

	for _, candidate := range candidates {
		err := r.prepareStore(ctx, candidate)
		if err != nil {
			return err
		}
	}

	entries := make([]coordtree.Entry, 0, len(candidates))
	for i, candidate := range candidates {
		data, err := topology.EncodeNodeGroup(candidate)
		if err != nil {
			return errors.Wrap(err, "failed to encode node group")
		}

		entries = append(entries, coordtree.Entry{
			Path: topology.NodePath(startIndex + i),
			Data: data,
		})
	}

	err := r.tree.CreateBatch(ctx, entries)
	if err != nil {
		return errors.Wrap(err, "failed to register node groups")
	}

	for i, candidate := range candidates {
		candidate.Index = startIndex + i
		r.logger.Info("registered node group",
			zap.Int("index", candidate.Index),
			zap.Stringer("master", candidate.Master()),
			zap.Stringer("slave", candidate.Slave()))
	}

	return nil
}
