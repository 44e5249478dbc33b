// Package network implements the INetworkSender variants of spec.md
// §4.6: ScreamSender and RTPSender, both UDP datagram senders with a
// common construct/send/stop lifecycle.
package network

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/netham45/screamrouter-sub013/internal/stats"
)

// Sender is the common INetworkSender contract of spec.md §4.6.
type Sender interface {
	// Send transmits one mixed chunk. sampleCount is frames per
	// channel; rtpTimestamp is the sink's sample-clock-derived
	// timestamp for this chunk; marker is set on the first chunk after
	// silence or a format change.
	Send(chunk []int32, sampleCount int, rtpTimestamp uint32, marker bool) error
	Stop()
}

// udpTransport is the shared dial/send/close plumbing both sender
// variants build on.
type udpTransport struct {
	conn    *net.UDPConn
	sent    stats.Counter
	errors  stats.Counter
}

func dialUDP(outputIP string, outputPort int) (*net.UDPConn, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(outputIP), Port: outputPort}
	if addr.IP == nil {
		return nil, fmt.Errorf("network: invalid output address %q", outputIP)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("network: dial %s:%d: %w", outputIP, outputPort, err)
	}
	// Probe/raise the socket send buffer via the raw fd, grounded on
	// spec.md §2's non-goal note that throughput, not socket tuning
	// robustness, is in scope: best-effort only, errors are not fatal.
	if raw, err := conn.SyscallConn(); err == nil {
		_ = raw.Control(func(fd uintptr) {
			_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, 1<<20)
		})
	}
	return conn, nil
}

func (t *udpTransport) writeDatagram(b []byte) error {
	if _, err := t.conn.Write(b); err != nil {
		t.errors.Inc()
		return fmt.Errorf("network: send: %w", err)
	}
	t.sent.Inc()
	return nil
}

func (t *udpTransport) close() {
	if t.conn != nil {
		_ = t.conn.Close()
	}
}

// Sent returns the number of datagrams successfully written.
func (t *udpTransport) Sent() uint64 { return t.sent.Snapshot() }

// Errors returns the number of failed writes.
func (t *udpTransport) Errors() uint64 { return t.errors.Snapshot() }
