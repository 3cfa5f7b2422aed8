/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package topology

import (
	"fmt"
	"net"
	"strconv"
)

// SlotCount is the fixed size of the slot space shared by the proxies and the
// storage nodes.
const SlotCount = 16384

const (
	NodesRoot   = "/nodes"
	SlotMapRoot = "/slot_map"
	ProxiesRoot = "/twemproxy"
)

type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// NodeGroup is a master/slave pair of storage processes.  A group is
// identified by its master endpoint; Index is allocated by the registry and
// is never part of the persisted payload.
type NodeGroup struct {
	Index      int
	MasterIP   string
	MasterPort int
	SlaveIP    string
	SlavePort  int
	Status     int
}

func (g *NodeGroup) Master() Endpoint {
	return Endpoint{Host: g.MasterIP, Port: g.MasterPort}
}

func (g *NodeGroup) Slave() Endpoint {
	return Endpoint{Host: g.SlaveIP, Port: g.SlavePort}
}

// Endpoints returns the master endpoint followed by the slave endpoint.
func (g *NodeGroup) Endpoints() []Endpoint {
	return []Endpoint{g.Master(), g.Slave()}
}

func (g *NodeGroup) String() string {
	return fmt.Sprintf("%s(slave %s)", g.Master(), g.Slave())
}

// SlotAssignment is the owner of a single slot.
type SlotAssignment struct {
	NodeIndex int
	Migrating bool
}

func NodePath(index int) string {
	return NodesRoot + "/" + strconv.Itoa(index)
}

func SlotPath(slot int) string {
	return SlotMapRoot + "/" + strconv.Itoa(slot)
}

// ProxyPath names a proxy by its host:port, with IPv6 hosts bracketed.
func ProxyPath(endpoint Endpoint) string {
	return ProxiesRoot + "/" + endpoint.String()
}
