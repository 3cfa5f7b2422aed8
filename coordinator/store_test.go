package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/couchbase/stellar-slotmap/common/coordtree"
	"github.com/couchbase/stellar-slotmap/common/topology"
	"github.com/couchbase/stellar-slotmap/testutils"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fakeSsdbEndpoint(s *testutils.FakeSsdb) topology.Endpoint {
	return topology.Endpoint{Host: s.Host(), Port: s.Port()}
}

type ssdbPair struct {
	master *testutils.FakeSsdb
	slave  *testutils.FakeSsdb
}

func startSsdbGroups(t *testing.T, count int) ([]ssdbPair, []*topology.NodeGroup) {
	pairs := make([]ssdbPair, 0, count)
	groups := make([]*topology.NodeGroup, 0, count)
	for i := 0; i < count; i++ {
		pair := ssdbPair{
			master: testutils.StartFakeSsdb(t),
			slave:  testutils.StartFakeSsdb(t),
		}
		pairs = append(pairs, pair)
		groups = append(groups, &topology.NodeGroup{
			MasterIP:   pair.master.Host(),
			MasterPort: pair.master.Port(),
			SlaveIP:    pair.slave.Host(),
			SlavePort:  pair.slave.Port(),
		})
	}
	return pairs, groups
}

func TestSsdbStoreReconfiguresRunningSlave(t *testing.T) {
	ctx := context.Background()
	store := NewSsdbStore(SsdbStoreOptions{Logger: zaptest.NewLogger(t)})

	master := testutils.StartFakeSsdb(t)
	otherMaster := testutils.StartFakeSsdb(t)
	slave := testutils.StartFakeSsdb(t)

	require.NoError(t, store.ConfigureReplication(ctx, fakeSsdbEndpoint(slave), fakeSsdbEndpoint(master)))
	require.True(t, slave.Replicating())
	require.Equal(t, master.Addr(), slave.Master())

	require.NoError(t, store.ConfigureReplication(ctx, fakeSsdbEndpoint(slave), fakeSsdbEndpoint(otherMaster)))
	require.True(t, slave.Replicating())
	require.Equal(t, otherMaster.Addr(), slave.Master())

	require.Equal(t, []string{
		"stop_slave", "change_master_to", "start_slave",
		"stop_slave", "change_master_to", "start_slave",
	}, slave.Commands())
}

func TestSsdbStoreMarkReady(t *testing.T) {
	ctx := context.Background()
	store := NewSsdbStore(SsdbStoreOptions{Logger: zaptest.NewLogger(t)})

	node := testutils.StartFakeSsdb(t)
	require.NoError(t, store.MarkReadyForAllShards(ctx, fakeSsdbEndpoint(node)))
	require.Equal(t, topology.SlotCount, node.SlotCount())
}

func TestBootstrapTwiceAgainstLiveStores(t *testing.T) {
	ctx := context.Background()
	tree := coordtree.NewInProcTree()
	store := NewSsdbStore(SsdbStoreOptions{Logger: zaptest.NewLogger(t)})
	prober := &fakeProber{unreachable: make(map[topology.Endpoint]bool)}

	coord, err := NewCoordinator(&Config{
		Logger:      zaptest.NewLogger(t),
		Tree:        tree,
		Store:       store,
		Probe:       prober.Probe,
		LockTimeout: 500 * time.Millisecond,
	})
	require.NoError(t, err)

	pairs, groups := startSsdbGroups(t, 2)
	require.NoError(t, coord.Bootstrap(ctx, groups))
	require.NoError(t, coord.Bootstrap(ctx, groups))

	requireNodeIndexes(t, tree, "0", "1")

	slots, err := tree.Children(ctx, topology.SlotMapRoot)
	require.NoError(t, err)
	require.Len(t, slots, topology.SlotCount)

	for _, pair := range pairs {
		require.Equal(t, topology.SlotCount, pair.master.SlotCount())
		require.True(t, pair.slave.Replicating())
		require.Equal(t, pair.master.Addr(), pair.slave.Master())
	}

	// a slave left replicating by an earlier failed add is taken over
	extraPairs, extra := startSsdbGroups(t, 1)
	require.NoError(t, store.ConfigureReplication(ctx, extra[0].Slave(), fakeSsdbEndpoint(pairs[0].master)))

	require.NoError(t, coord.AddNodes(ctx, extra))
	requireNodeIndexes(t, tree, "0", "1", "2")
	require.Equal(t, extraPairs[0].master.Addr(), extraPairs[0].slave.Master())
}
