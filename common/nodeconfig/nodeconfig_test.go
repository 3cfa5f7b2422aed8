package nodeconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/couchbase/stellar-slotmap/common/topology"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	groups, err := Parse([]byte(`{
		"node_groups": [
			{"ip": "10.0.0.1", "port": 8888, "slave_ip": "10.0.0.2", "slave_port": 8888},
			{"ip": "ssdb-3.local", "port": 8889, "slave_ip": "ssdb-4.local", "slave_port": 8889}
		]
	}`))
	require.NoError(t, err)
	require.Equal(t, []*topology.NodeGroup{
		{MasterIP: "10.0.0.1", MasterPort: 8888, SlaveIP: "10.0.0.2", SlavePort: 8888},
		{MasterIP: "ssdb-3.local", MasterPort: 8889, SlaveIP: "ssdb-4.local", SlavePort: 8889},
	}, groups)
}

func TestParseLegacyKey(t *testing.T) {
	groups, err := Parse([]byte(`{"ssdb_group": [{"ip": "10.0.0.1", "port": 8888, "slave_ip": "10.0.0.1", "slave_port": 8889}]}`))
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, 8889, groups[0].SlavePort)
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"NotJSON":       `{`,
		"NoGroups":      `{}`,
		"EmptyGroups":   `{"node_groups": []}`,
		"MissingIP":     `{"node_groups": [{"port": 1, "slave_ip": "a", "slave_port": 2}]}`,
		"MissingPort":   `{"node_groups": [{"ip": "a", "slave_ip": "b", "slave_port": 2}]}`,
		"MissingSlave":  `{"node_groups": [{"ip": "a", "port": 1, "slave_port": 2}]}`,
		"BadPort":       `{"node_groups": [{"ip": "a", "port": 70000, "slave_ip": "b", "slave_port": 2}]}`,
		"BadHost":       `{"node_groups": [{"ip": "a b", "port": 1, "slave_ip": "b", "slave_port": 2}]}`,
		"SlaveIsMaster": `{"node_groups": [{"ip": "a", "port": 1, "slave_ip": "a", "slave_port": 1}]}`,
		"WrongType":     `{"node_groups": [{"ip": "a", "port": "1", "slave_ip": "b", "slave_port": 2}]}`,
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.ErrorIs(t, err, ErrConfigParse)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.json")

	_, err := Load(path)
	require.ErrorIs(t, err, ErrConfigParse)

	err = os.WriteFile(path, []byte(`{"node_groups": [{"ip": "127.0.0.1", "port": 8888, "slave_ip": "127.0.0.1", "slave_port": 8889}]}`), 0644)
	require.NoError(t, err)

	groups, err := Load(path)
	require.NoError(t, err)
	require.Len(t, groups, 1)
}
