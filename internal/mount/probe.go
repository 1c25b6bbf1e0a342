package mount

import (
	"context"
	"net"
	"time"
)

// Probe answers whether a file server is currently reachable. It is used
// to classify external unmounts: a reachable server means the user chose
// to eject, an unreachable one means the network dropped.
type Probe interface {
	IsReachable(ctx context.Context, host string) bool
}

// sharePorts are the common file-sharing service ports, tried in order.
var sharePorts = []string{"445", "548", "2049", "80"}

// TCPProbe checks reachability with short TCP dials against the common
// file-sharing ports. Timeout bounds the whole probe, not each dial, so
// a black-holing host costs at most one timeout regardless of how many
// ports are tried.
type TCPProbe struct {
	Timeout time.Duration
	Ports   []string
}

// NewTCPProbe returns a probe bounded by the given timeout. A zero
// timeout defaults to one second.
func NewTCPProbe(timeout time.Duration) *TCPProbe {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &TCPProbe{Timeout: timeout}
}

// IsReachable implements Probe.
func (p *TCPProbe) IsReachable(ctx context.Context, host string) bool {
	if host == "" {
		return false
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ports := p.Ports
	if len(ports) == 0 {
		ports = sharePorts
	}
	var dialer net.Dialer
	for _, port := range ports {
		conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
		if err == nil {
			conn.Close()
			return true
		}
		if ctx.Err() != nil {
			return false
		}
	}
	return false
}
