package netutils

import (
	"context"
	"net"
	"time"
)

// DefaultProbeTimeout bounds a single reachability probe.
const DefaultProbeTimeout = 1 * time.Second

// CheckReachable opens and immediately closes a TCP connection to addr.
func CheckReachable(ctx context.Context, addr string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}

	_ = conn.Close()
	return nil
}
