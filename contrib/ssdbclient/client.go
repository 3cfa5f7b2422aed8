/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package ssdbclient

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

const (
	StatusOK       = "ok"
	StatusNotFound = "not_found"
)

const msgSlaveNotRunning = "slave thread is not running"

// SlotCount is the number of slots a storage node tracks in its local slot
// bitmap.
const SlotCount = 16384

// ServerError is a non-ok status returned by the server.
type ServerError struct {
	Command string
	Status  string
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ssdb %s failed: %s", e.Command, e.Status)
	}
	return fmt.Sprintf("ssdb %s failed: %s: %s", e.Command, e.Status, e.Message)
}

type ClientOptions struct {
	Address     string
	DialTimeout time.Duration
	OpTimeout   time.Duration

	// PipelineDepth controls how many requests are in flight at once for bulk
	// operations such as SetAllSlots.
	PipelineDepth int
}

// Client is a single connection to a storage node.  It is not safe for
// concurrent use.
type Client struct {
	conn          net.Conn
	rd            *bufio.Reader
	wr            *bufio.Writer
	opTimeout     time.Duration
	pipelineDepth int
}

func Dial(ctx context.Context, opts ClientOptions) (*Client, error) {
	dialTimeout := opts.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 5 * time.Second
	}

	opTimeout := opts.OpTimeout
	if opTimeout == 0 {
		opTimeout = 10 * time.Second
	}

	pipelineDepth := opts.PipelineDepth
	if pipelineDepth <= 0 {
		pipelineDepth = 256
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", opts.Address)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", opts.Address)
	}

	return &Client{
		conn:          conn,
		rd:            bufio.NewReader(conn),
		wr:            bufio.NewWriter(conn),
		opTimeout:     opTimeout,
		pipelineDepth: pipelineDepth,
	}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) setDeadline(ctx context.Context) error {
	deadline := time.Now().Add(c.opTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	return c.conn.SetDeadline(deadline)
}

func checkStatus(cmd string, resp []string) error {
	if len(resp) == 0 {
		return errors.Wrapf(ErrProtocol, "empty response to %s", cmd)
	}

	if resp[0] == StatusOK {
		return nil
	}

	serverErr := &ServerError{
		Command: cmd,
		Status:  resp[0],
	}
	if len(resp) > 1 {
		serverErr.Message = resp[1]
	}
	return serverErr
}

// Do sends a single command and waits for its response.
func (c *Client) Do(ctx context.Context, args ...string) ([]string, error) {
	resps, err := c.pipeline(ctx, [][]string{args})
	if err != nil {
		return nil, err
	}
	return resps[0], nil
}

func (c *Client) pipeline(ctx context.Context, reqs [][]string) ([][]string, error) {
	err := c.setDeadline(ctx)
	if err != nil {
		return nil, err
	}

	for _, req := range reqs {
		err := WritePacket(c.wr, req)
		if err != nil {
			return nil, errors.Wrap(err, "failed to write request")
		}
	}

	err = c.wr.Flush()
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}

	resps := make([][]string, 0, len(reqs))
	for range reqs {
		resp, err := ReadPacket(c.rd)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read response")
		}
		resps = append(resps, resp)
	}

	return resps, nil
}

func (c *Client) exec(ctx context.Context, args ...string) error {
	resp, err := c.Do(ctx, args...)
	if err != nil {
		return err
	}
	return checkStatus(args[0], resp)
}

func (c *Client) Ping(ctx context.Context) error {
	return c.exec(ctx, "ping")
}

// SetSlot marks a slot as served by this node in its local slot bitmap.
func (c *Client) SetSlot(ctx context.Context, slot int) error {
	if slot < 0 || slot >= SlotCount {
		return errors.Errorf("slot %d out of range", slot)
	}
	return c.exec(ctx, "set_slot", strconv.Itoa(slot))
}

// SetAllSlots marks every slot as served by this node.  Requests are
// pipelined to avoid a round trip per slot.
func (c *Client) SetAllSlots(ctx context.Context) error {
	for start := 0; start < SlotCount; start += c.pipelineDepth {
		end := start + c.pipelineDepth
		if end > SlotCount {
			end = SlotCount
		}

		reqs := make([][]string, 0, end-start)
		for slot := start; slot < end; slot++ {
			reqs = append(reqs, []string{"set_slot", strconv.Itoa(slot)})
		}

		resps, err := c.pipeline(ctx, reqs)
		if err != nil {
			return err
		}

		for i, resp := range resps {
			err := checkStatus("set_slot", resp)
			if err != nil {
				return errors.Wrapf(err, "slot %d", start+i)
			}
		}
	}

	return nil
}

// ChangeMasterTo points replication at a new master.  Replication must be
// stopped for this to succeed.
func (c *Client) ChangeMasterTo(ctx context.Context, ip string, port int, lastSeq uint64, lastKey string) error {
	return c.exec(ctx, "change_master_to",
		ip,
		strconv.Itoa(port),
		strconv.FormatUint(lastSeq, 10),
		lastKey)
}

func (c *Client) StartSlave(ctx context.Context) error {
	return c.exec(ctx, "start_slave")
}

func (c *Client) StopSlave(ctx context.Context) error {
	return c.exec(ctx, "stop_slave")
}

// IsSlaveNotRunning reports whether err is the server refusing stop_slave
// because replication was never started.
func IsSlaveNotRunning(err error) bool {
	var serverErr *ServerError
	return errors.As(err, &serverErr) && serverErr.Message == msgSlaveNotRunning
}
