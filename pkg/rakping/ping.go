// Package rakping implements the standalone unconnected ping used to
// query a RakNet server's MOTD and round-trip time without running the
// full connection handshake.
package rakping

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/shadowmesh/raknet/shared/protocol"
)

// Result is one server's response to a Ping.
type Result struct {
	GUID uint64
	MOTD string
	RTT  time.Duration
}

// ErrTimeout is returned when no UnconnectedPong arrives within timeout.
var ErrTimeout = errors.New("rakping: timed out waiting for pong")

// Ping sends a single UnconnectedPing to addr and waits up to timeout
// for the matching UnconnectedPong.
func Ping(addr string, timeout time.Duration) (Result, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return Result{}, fmt.Errorf("rakping: resolve addr: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return Result{}, fmt.Errorf("rakping: dial: %w", err)
	}
	defer conn.Close()

	sent := time.Now()
	ping := protocol.UnconnectedPing{Time: sent.UnixMilli()}
	if _, err := conn.Write(protocol.Encode(&ping)); err != nil {
		return Result{}, fmt.Errorf("rakping: send: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Result{}, fmt.Errorf("rakping: set deadline: %w", err)
	}

	buf := make([]byte, 2048)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return Result{}, ErrTimeout
			}
			return Result{}, fmt.Errorf("rakping: read: %w", err)
		}
		if n == 0 || buf[0] != protocol.IDUnconnectedPong {
			continue
		}
		var pong protocol.UnconnectedPong
		if err := protocol.Decode(buf[:n], &pong); err != nil {
			continue
		}
		return Result{GUID: pong.GUID, MOTD: pong.MOTD, RTT: time.Since(sent)}, nil
	}
}
