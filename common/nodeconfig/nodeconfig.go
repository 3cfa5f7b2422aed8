package nodeconfig

import (
	"encoding/json"
	"net"
	"os"

	"github.com/couchbase/stellar-slotmap/common/topology"
	"github.com/pkg/errors"
)

var ErrConfigParse = errors.New("invalid node group configuration")

type jsonNodeGroup struct {
	IP        *string `json:"ip"`
	Port      *int    `json:"port"`
	SlaveIP   *string `json:"slave_ip"`
	SlavePort *int    `json:"slave_port"`
}

type jsonConfig struct {
	NodeGroups []jsonNodeGroup `json:"node_groups"`

	// ssdb_group is the key used by the original cluster tooling.
	LegacyGroups []jsonNodeGroup `json:"ssdb_group"`
}

// Load reads and validates a node group configuration file.
func Load(path string) ([]*topology.NodeGroup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(ErrConfigParse, "failed to read %s: %s", path, err)
	}

	return Parse(data)
}

// Parse decodes a node group configuration document.  The returned groups
// have no index, indexes are assigned when they are registered.
func Parse(data []byte) ([]*topology.NodeGroup, error) {
	var config jsonConfig
	err := json.Unmarshal(data, &config)
	if err != nil {
		return nil, errors.Wrapf(ErrConfigParse, "%s", err)
	}

	entries := config.NodeGroups
	if entries == nil {
		entries = config.LegacyGroups
	}
	if len(entries) == 0 {
		return nil, errors.Wrap(ErrConfigParse, "no node_groups specified")
	}

	groups := make([]*topology.NodeGroup, 0, len(entries))
	for i, entry := range entries {
		group, err := parseGroup(entry)
		if err != nil {
			return nil, errors.Wrapf(err, "node group %d", i)
		}
		groups = append(groups, group)
	}

	return groups, nil
}

func parseGroup(entry jsonNodeGroup) (*topology.NodeGroup, error) {
	switch {
	case entry.IP == nil || *entry.IP == "":
		return nil, errors.Wrap(ErrConfigParse, "missing ip")
	case entry.Port == nil:
		return nil, errors.Wrap(ErrConfigParse, "missing port")
	case entry.SlaveIP == nil || *entry.SlaveIP == "":
		return nil, errors.Wrap(ErrConfigParse, "missing slave_ip")
	case entry.SlavePort == nil:
		return nil, errors.Wrap(ErrConfigParse, "missing slave_port")
	}

	for _, port := range []int{*entry.Port, *entry.SlavePort} {
		if port <= 0 || port > 65535 {
			return nil, errors.Wrapf(ErrConfigParse, "invalid port %d", port)
		}
	}

	for _, host := range []string{*entry.IP, *entry.SlaveIP} {
		if net.ParseIP(host) == nil && !isHostname(host) {
			return nil, errors.Wrapf(ErrConfigParse, "invalid address %q", host)
		}
	}

	if *entry.IP == *entry.SlaveIP && *entry.Port == *entry.SlavePort {
		return nil, errors.Wrap(ErrConfigParse, "slave endpoint is the same as the master")
	}

	return &topology.NodeGroup{
		MasterIP:   *entry.IP,
		MasterPort: *entry.Port,
		SlaveIP:    *entry.SlaveIP,
		SlavePort:  *entry.SlavePort,
	}, nil
}

func isHostname(host string) bool {
	if len(host) > 253 {
		return false
	}
	for _, c := range host {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '.':
		default:
			return false
		}
	}
	return true
}
