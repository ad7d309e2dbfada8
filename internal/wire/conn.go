package wire

import (
	"context"
	"net"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ListenConfig returns a net.ListenConfig that sets SO_REUSEADDR and, for
// IPv6 listeners, IPV6_V6ONLY, per spec §4.1 "Socket configuration".
func ListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var opErr error
			err := c.Control(func(fd uintptr) {
				opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				if opErr == nil && network == "tcp6" {
					opErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1)
				}
			})
			if err != nil {
				return err
			}
			return opErr
		},
	}
}

// ConfigureConn applies TCP_NODELAY and the caller's per-RPC timeout as
// send/recv deadlines (spec §4.1); SIGPIPE is ignored process-wide by
// init() below rather than per-connection.
func ConfigureConn(c net.Conn, timeout time.Duration) error {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tc.SetNoDelay(true); err != nil {
		return errors.Wrap(err, "wire: set TCP_NODELAY")
	}
	if timeout > 0 {
		deadline := time.Now().Add(timeout)
		if err := tc.SetDeadline(deadline); err != nil {
			return errors.Wrap(err, "wire: set deadline")
		}
	}
	return nil
}

func init() {
	// SIGPIPE globally ignored (spec §4.1): writes to a peer that has
	// reset the connection surface as an EPIPE error return instead of
	// terminating the process.
	signalIgnorePipe()
}

// DialWithRetry connects to addr, retrying across every address
// net.DefaultResolver returns for addr's host until timeout elapses
// (spec §4.1 "connect retries across all getaddrinfo results";
// supplemented from original_source/benchmarks/common/tcp_client_server.cc).
func DialWithRetry(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	d := net.Dialer{}
	for {
		dctx, cancel := context.WithDeadline(ctx, deadline)
		conn, err := d.DialContext(dctx, "tcp", addr)
		cancel()
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if time.Now().After(deadline) {
			return nil, errors.Wrapf(lastErr, "wire: dial %s timed out", addr)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}
