package topology

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNodeGroupRoundTrip(t *testing.T) {
	g := &NodeGroup{
		Index:      3,
		MasterIP:   "10.0.0.1",
		MasterPort: 8888,
		SlaveIP:    "10.0.0.2",
		SlavePort:  8889,
	}

	data, err := EncodeNodeGroup(g)
	require.NoError(t, err)
	require.JSONEq(t, `{"status":0,"ip":"10.0.0.1","port":8888,"slave_ip":"10.0.0.2","slave_port":8889}`, string(data))

	out, err := DecodeNodeGroup(3, data)
	require.NoError(t, err)
	require.Equal(t, g, out)
}

func TestDecodeNodeGroupMissingFields(t *testing.T) {
	_, err := DecodeNodeGroup(0, []byte(`{"ip":"10.0.0.1","port":8888,"slave_ip":"10.0.0.2"}`))
	require.ErrorIs(t, err, ErrMalformedRecord)
	require.ErrorContains(t, err, "slave_port")

	_, err = DecodeNodeGroup(0, []byte(`not json`))
	require.ErrorIs(t, err, ErrMalformedRecord)

	g, err := DecodeNodeGroup(1, []byte(`{"ip":"a","port":1,"slave_ip":"b","slave_port":2}`))
	require.NoError(t, err)
	require.Equal(t, 0, g.Status)
	require.Equal(t, "a:1", g.Master().String())
}

func TestDecodeSlotAssignment(t *testing.T) {
	a, err := DecodeSlotAssignment(7, []byte(`{"node_index":2,"migrating":false}`))
	require.NoError(t, err)
	require.Equal(t, SlotAssignment{NodeIndex: 2}, a)

	t.Run("LegacyStringFlag", func(t *testing.T) {
		a, err := DecodeSlotAssignment(7, []byte(`{"node_index":2, "migrating":"false"}`))
		require.NoError(t, err)
		require.False(t, a.Migrating)

		a, err = DecodeSlotAssignment(7, []byte(`{"node_index":2, "migrating":"true"}`))
		require.NoError(t, err)
		require.True(t, a.Migrating)
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := DecodeSlotAssignment(7, []byte(`{"migrating":false}`))
		require.ErrorIs(t, err, ErrMalformedRecord)

		_, err = DecodeSlotAssignment(7, []byte(`{"node_index":1}`))
		require.ErrorIs(t, err, ErrMalformedRecord)

		_, err = DecodeSlotAssignment(7, []byte(`{"node_index":1,"migrating":"maybe"}`))
		require.ErrorIs(t, err, ErrMalformedRecord)
	})
}

func TestSlotLine(t *testing.T) {
	line, err := EncodeSlotLine(42, SlotAssignment{NodeIndex: 1})
	require.NoError(t, err)
	require.Equal(t, `{"migrating":false,"node_index":1,"num":42}`, string(line))

	slot, a, err := DecodeSlotLine(append(line, '\n'))
	require.NoError(t, err)
	require.Equal(t, 42, slot)
	require.Equal(t, SlotAssignment{NodeIndex: 1}, a)

	_, err = EncodeSlotLine(SlotCount, SlotAssignment{})
	require.ErrorIs(t, err, ErrInvalidSlot)

	_, _, err = DecodeSlotLine([]byte(`{"node_index":1,"migrating":false}`))
	require.ErrorIs(t, err, ErrMalformedRecord)
}

func TestPaths(t *testing.T) {
	require.Equal(t, "/nodes/12", NodePath(12))
	require.Equal(t, "/slot_map/16383", SlotPath(16383))
	require.Equal(t, "/twemproxy/proxy1:22121", ProxyPath(Endpoint{Host: "proxy1", Port: 22121}))
	require.Equal(t, "/twemproxy/[::1]:22121", ProxyPath(Endpoint{Host: "::1", Port: 22121}))
}
