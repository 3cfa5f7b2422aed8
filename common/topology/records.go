package topology

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
)

type jsonNodeGroup struct {
	Status    *int    `json:"status"`
	IP        *string `json:"ip"`
	Port      *int    `json:"port"`
	SlaveIP   *string `json:"slave_ip"`
	SlavePort *int    `json:"slave_port"`
}

type jsonSlotAssignment struct {
	NodeIndex *int            `json:"node_index"`
	Migrating json.RawMessage `json:"migrating"`
}

// jsonSlotLine is the shape of one line of the published slot map snapshot.
// Field order is alphabetical so the output matches a sorted-key encoder.
type jsonSlotLine struct {
	Migrating bool `json:"migrating"`
	NodeIndex int  `json:"node_index"`
	Num       int  `json:"num"`
}

func EncodeNodeGroup(g *NodeGroup) ([]byte, error) {
	return json.Marshal(struct {
		Status    int    `json:"status"`
		IP        string `json:"ip"`
		Port      int    `json:"port"`
		SlaveIP   string `json:"slave_ip"`
		SlavePort int    `json:"slave_port"`
	}{
		Status:    g.Status,
		IP:        g.MasterIP,
		Port:      g.MasterPort,
		SlaveIP:   g.SlaveIP,
		SlavePort: g.SlavePort,
	})
}

// DecodeNodeGroup strictly decodes a /nodes/{index} payload.  The status
// field is optional for compatibility with hand-written entries, all
// endpoint fields are required.
func DecodeNodeGroup(index int, data []byte) (*NodeGroup, error) {
	var raw jsonNodeGroup
	err := json.Unmarshal(data, &raw)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedRecord, "node %d: %s", index, err)
	}

	switch {
	case raw.IP == nil:
		return nil, errors.Wrapf(ErrMalformedRecord, "node %d: missing ip", index)
	case raw.Port == nil:
		return nil, errors.Wrapf(ErrMalformedRecord, "node %d: missing port", index)
	case raw.SlaveIP == nil:
		return nil, errors.Wrapf(ErrMalformedRecord, "node %d: missing slave_ip", index)
	case raw.SlavePort == nil:
		return nil, errors.Wrapf(ErrMalformedRecord, "node %d: missing slave_port", index)
	}

	g := &NodeGroup{
		Index:      index,
		MasterIP:   *raw.IP,
		MasterPort: *raw.Port,
		SlaveIP:    *raw.SlaveIP,
		SlavePort:  *raw.SlavePort,
	}
	if raw.Status != nil {
		g.Status = *raw.Status
	}

	return g, nil
}

func EncodeSlotAssignment(a SlotAssignment) ([]byte, error) {
	return json.Marshal(struct {
		NodeIndex int  `json:"node_index"`
		Migrating bool `json:"migrating"`
	}{
		NodeIndex: a.NodeIndex,
		Migrating: a.Migrating,
	})
}

// DecodeSlotAssignment strictly decodes a /slot_map/{slot} payload.  Older
// tooling wrote the migrating flag as the string "false", both forms are
// accepted.
func DecodeSlotAssignment(slot int, data []byte) (SlotAssignment, error) {
	var raw jsonSlotAssignment
	err := json.Unmarshal(data, &raw)
	if err != nil {
		return SlotAssignment{}, errors.Wrapf(ErrMalformedRecord, "slot %d: %s", slot, err)
	}

	return raw.toAssignment(slot)
}

func (raw *jsonSlotAssignment) toAssignment(slot int) (SlotAssignment, error) {
	if raw.NodeIndex == nil {
		return SlotAssignment{}, errors.Wrapf(ErrMalformedRecord, "slot %d: missing node_index", slot)
	}

	migrating, err := parseLooseBool(raw.Migrating)
	if err != nil {
		return SlotAssignment{}, errors.Wrapf(ErrMalformedRecord, "slot %d: %s", slot, err)
	}

	return SlotAssignment{
		NodeIndex: *raw.NodeIndex,
		Migrating: migrating,
	}, nil
}

func parseLooseBool(data json.RawMessage) (bool, error) {
	if len(data) == 0 || string(data) == "null" {
		return false, errors.New("missing migrating")
	}

	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		return b, nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return false, errors.Errorf("invalid migrating value %s", data)
	}

	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, errors.Errorf("invalid migrating value %q", s)
	}

	return b, nil
}

// EncodeSlotLine produces a single snapshot line (without the newline).
func EncodeSlotLine(slot int, a SlotAssignment) ([]byte, error) {
	if slot < 0 || slot >= SlotCount {
		return nil, errors.Wrapf(ErrInvalidSlot, "slot %d", slot)
	}

	return json.Marshal(jsonSlotLine{
		Migrating: a.Migrating,
		NodeIndex: a.NodeIndex,
		Num:       slot,
	})
}

// DecodeSlotLine parses a snapshot line back into its slot and assignment.
func DecodeSlotLine(line []byte) (int, SlotAssignment, error) {
	var raw struct {
		Num *int `json:"num"`
		jsonSlotAssignment
	}
	err := json.Unmarshal(bytes.TrimSpace(line), &raw)
	if err != nil {
		return 0, SlotAssignment{}, errors.Wrapf(ErrMalformedRecord, "snapshot line: %s", err)
	}

	if raw.Num == nil {
		return 0, SlotAssignment{}, errors.Wrap(ErrMalformedRecord, "snapshot line: missing num")
	}
	if *raw.Num < 0 || *raw.Num >= SlotCount {
		return 0, SlotAssignment{}, errors.Wrapf(ErrInvalidSlot, "snapshot line: slot %d", *raw.Num)
	}

	a, err := raw.toAssignment(*raw.Num)
	if err != nil {
		return 0, SlotAssignment{}, err
	}

	return *raw.Num, a, nil
}
