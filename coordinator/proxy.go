package coordinator

import (
	"context"
	"net"
	"strconv"
	"strings"

	"github.com/couchbase/stellar-slotmap/common/coordtree"
	"github.com/couchbase/stellar-slotmap/common/topology"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// RegisterProxy records a proxy endpoint under /twemproxy.  It returns false
// if the proxy was already registered.
func (c *Coordinator) RegisterProxy(ctx context.Context, host string, port int) (bool, error) {
	created := false

	err := c.instrument(ctx, "register-proxy", func(ctx context.Context) error {
		if host == "" || strings.ContainsAny(host, "/[]") ||
			(strings.Contains(host, ":") && net.ParseIP(host) == nil) {
			return errors.Wrapf(ErrConfigParse, "invalid proxy host %q", host)
		}
		if port <= 0 || port > 65535 {
			return errors.Wrapf(ErrConfigParse, "invalid proxy port %d", port)
		}

		err := c.tree.Create(ctx, topology.ProxiesRoot, nil)
		if err != nil && !errors.Is(err, coordtree.ErrNodeExists) {
			return errors.Wrap(err, "failed to create proxy root")
		}

		err = c.tree.Create(ctx, topology.ProxyPath(topology.Endpoint{Host: host, Port: port}), nil)
		if err != nil {
			if errors.Is(err, coordtree.ErrNodeExists) {
				c.logger.Info("proxy already registered",
					zap.String("host", host),
					zap.Int("port", port))
				return nil
			}
			return errors.Wrap(err, "failed to register proxy")
		}

		created = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return created, nil
}

// ListProxies returns every registered proxy endpoint.
func (c *Coordinator) ListProxies(ctx context.Context) ([]topology.Endpoint, error) {
	names, err := c.tree.Children(ctx, topology.ProxiesRoot)
	if err != nil {
		if errors.Is(err, coordtree.ErrNoNode) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to list proxies")
	}

	proxies := make([]topology.Endpoint, 0, len(names))
	for _, name := range names {
		host, portStr, err := net.SplitHostPort(name)
		if err != nil {
			return nil, errors.Wrapf(topology.ErrMalformedRecord, "proxy %q: %s", name, err)
		}

		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, errors.Wrapf(topology.ErrMalformedRecord, "proxy %q: invalid port", name)
		}

		proxies = append(proxies, topology.Endpoint{Host: host, Port: port})
	}

	return proxies, nil
}
