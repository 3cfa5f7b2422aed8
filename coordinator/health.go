package coordinator

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/couchbase/stellar-slotmap/common/topology"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// UnknownMemInfo is reported for any process whose memory usage could not
// be determined.
const UnknownMemInfo = "unknown"

// NodeMemInfo is the memory usage of both halves of a node group.
type NodeMemInfo struct {
	IP           string `json:"ip"`
	Port         int    `json:"port"`
	MemInfo      string `json:"mem_info"`
	SlaveIP      string `json:"slave_ip"`
	SlavePort    int    `json:"slave_port"`
	SlaveMemInfo string `json:"slave_mem_info"`
}

type memInfoResponse struct {
	MemInfo string `json:"mem_info"`
}

func (c *Coordinator) memInfoURL(endpoint topology.Endpoint) string {
	u := url.URL{
		Scheme:   "http",
		Host:     net.JoinHostPort(endpoint.Host, strconv.Itoa(c.agentPort)),
		Path:     "/store/mem_info",
		RawQuery: url.Values{"port": []string{strconv.Itoa(endpoint.Port)}}.Encode(),
	}
	return u.String()
}

func (c *Coordinator) fetchMemInfo(ctx context.Context, endpoint topology.Endpoint) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.memInfoURL(endpoint), nil)
	if err != nil {
		return "", backoff.Permanent(err)
	}

	resp, err := c.healthClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		err := errors.Errorf("agent returned status %d", resp.StatusCode)
		if resp.StatusCode < 500 {
			return "", backoff.Permanent(err)
		}
		return "", err
	}

	var parsed memInfoResponse
	err = json.Unmarshal(body, &parsed)
	if err != nil {
		return "", backoff.Permanent(errors.Wrap(err, "invalid agent response"))
	}

	if parsed.MemInfo == "" {
		return UnknownMemInfo, nil
	}
	return parsed.MemInfo, nil
}

// memInfo never fails, an unreachable agent reports as unknown.
func (c *Coordinator) memInfo(ctx context.Context, endpoint topology.Endpoint) string {
	bo := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(100*time.Millisecond),
				backoff.WithMaxInterval(1*time.Second)),
			uint64(c.healthMaxAttempts-1)),
		ctx)

	info, err := backoff.RetryWithData(func() (string, error) {
		return c.fetchMemInfo(ctx, endpoint)
	}, bo)
	if err != nil {
		c.logger.Warn("failed to fetch memory info",
			zap.Stringer("endpoint", endpoint),
			zap.Error(err))
		return UnknownMemInfo
	}

	return info
}

// QueryHealth reports the memory usage of every registered group using the
// agent running beside each storage process.
func (c *Coordinator) QueryHealth(ctx context.Context) ([]NodeMemInfo, error) {
	var infos []NodeMemInfo

	err := c.instrument(ctx, "health", func(ctx context.Context) error {
		groups, err := c.ListNodes(ctx)
		if err != nil {
			return err
		}

		infos = make([]NodeMemInfo, 0, len(groups))
		for _, group := range groups {
			infos = append(infos, NodeMemInfo{
				IP:           group.MasterIP,
				Port:         group.MasterPort,
				MemInfo:      c.memInfo(ctx, group.Master()),
				SlaveIP:      group.SlaveIP,
				SlavePort:    group.SlavePort,
				SlaveMemInfo: c.memInfo(ctx, group.Slave()),
			})
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return infos, nil
}
