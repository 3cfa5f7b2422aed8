package coordinator

import (
	"context"
	"time"

	"github.com/couchbase/stellar-slotmap/common/topology"
	"github.com/couchbase/stellar-slotmap/contrib/ssdbclient"
	"go.uber.org/zap"
)

// StoreClient is the subset of storage node administration the coordinator
// relies on.
type StoreClient interface {
	// ConfigureReplication makes slave replicate from master, replacing any
	// replication the slave is already running.
	ConfigureReplication(ctx context.Context, slave, master topology.Endpoint) error

	// MarkReadyForAllShards sets every bit of the node's local slot bitmap.
	// This is independent of the cluster wide slot map.
	MarkReadyForAllShards(ctx context.Context, endpoint topology.Endpoint) error
}

type SsdbStoreOptions struct {
	Logger      *zap.Logger
	DialTimeout time.Duration
	OpTimeout   time.Duration
}

// SsdbStore administers storage nodes over the ssdb protocol, opening a new
// connection for each call.
type SsdbStore struct {
	logger      *zap.Logger
	dialTimeout time.Duration
	opTimeout   time.Duration
}

var _ StoreClient = (*SsdbStore)(nil)

func NewSsdbStore(opts SsdbStoreOptions) *SsdbStore {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SsdbStore{
		logger:      logger,
		dialTimeout: opts.DialTimeout,
		opTimeout:   opts.OpTimeout,
	}
}

func (s *SsdbStore) dial(ctx context.Context, endpoint topology.Endpoint) (*ssdbclient.Client, error) {
	return ssdbclient.Dial(ctx, ssdbclient.ClientOptions{
		Address:     endpoint.String(),
		DialTimeout: s.dialTimeout,
		OpTimeout:   s.opTimeout,
	})
}

func (s *SsdbStore) ConfigureReplication(ctx context.Context, slave, master topology.Endpoint) error {
	c, err := s.dial(ctx, slave)
	if err != nil {
		return &StoreError{Op: "connect", Endpoint: slave, Err: err}
	}
	defer c.Close()

	// a running slave refuses change_master_to
	err = c.StopSlave(ctx)
	if err != nil && !ssdbclient.IsSlaveNotRunning(err) {
		return &StoreError{Op: "stop_slave", Endpoint: slave, Err: err}
	}

	err = c.ChangeMasterTo(ctx, master.Host, master.Port, 0, "")
	if err != nil {
		return &StoreError{Op: "change_master_to", Endpoint: slave, Err: err}
	}

	err = c.StartSlave(ctx)
	if err != nil {
		return &StoreError{Op: "start_slave", Endpoint: slave, Err: err}
	}

	s.logger.Debug("configured replication",
		zap.Stringer("slave", slave),
		zap.Stringer("master", master))

	return nil
}

func (s *SsdbStore) MarkReadyForAllShards(ctx context.Context, endpoint topology.Endpoint) error {
	c, err := s.dial(ctx, endpoint)
	if err != nil {
		return &StoreError{Op: "connect", Endpoint: endpoint, Err: err}
	}
	defer c.Close()

	err = c.SetAllSlots(ctx)
	if err != nil {
		return &StoreError{Op: "set_slot", Endpoint: endpoint, Err: err}
	}

	s.logger.Debug("marked all slots ready", zap.Stringer("endpoint", endpoint))

	return nil
}
