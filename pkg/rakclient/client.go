// Package rakclient is the embedder-facing client half of the
// transport: it owns the UDP socket, runs the connection handshake,
// and exposes the resulting session as a channel of events plus a
// packet-send method, the same shape client/daemon's ConnectionManager
// gave callers in the reference daemon.
package rakclient

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/shadowmesh/raknet/internal/raknet/handshake"
	"github.com/shadowmesh/raknet/internal/raknet/session"
	"github.com/shadowmesh/raknet/pkg/logging"
	"github.com/shadowmesh/raknet/shared/protocol"
)

// State is the client's connection lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// FailReason explains a ConnectionFailed event.
type FailReason int

const (
	FailTimeout FailReason = iota
	FailAlreadyConnected
	FailDifferentVersion
)

// EventType discriminates Event.
type EventType int

const (
	EventConnected EventType = iota
	EventConnectionFailed
	EventPacket
	EventDisconnected
)

// Event is delivered on Client.Events() for every state transition and
// every inbound application packet.
type Event struct {
	Type   EventType
	Data   []byte
	Reason FailReason
}

// Client is a single outbound RakNet connection.
type Client struct {
	conn *net.UDPConn
	guid uint64
	log  *logging.Logger

	mu       sync.RWMutex
	state    State
	remote   *net.UDPAddr
	session  *session.Session
	mediator *handshake.Mediator

	events chan Event
	cancel context.CancelFunc
}

// New binds a UDP socket on localAddr (empty for any port) and returns
// a Client ready to Connect.
func New(guid uint64, localAddr string, log *logging.Logger) (*Client, error) {
	laddr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("rakclient: resolve local addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("rakclient: listen: %w", err)
	}
	c := &Client{
		conn:   conn,
		guid:   guid,
		log:    log,
		events: make(chan Event, 64),
	}
	go c.readLoop()
	return c, nil
}

// Events returns the channel of connection lifecycle and packet events.
func (c *Client) Events() <-chan Event { return c.events }

// State reports the current connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SendTo implements session.Sender and handshake.Sender.
func (c *Client) SendTo(b []byte, addr *net.UDPAddr) error {
	_, err := c.conn.WriteToUDP(b, addr)
	return err
}

// Connect starts a handshake against addr. Connect is non-blocking; the
// outcome arrives as an EventConnected/EventConnectionFailed on Events().
func (c *Client) Connect(addr string) error {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("rakclient: resolve remote addr: %w", err)
	}

	c.mu.Lock()
	c.remote = raddr
	c.state = StateConnecting
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	mediator := handshake.New(c, raddr, c.guid, c.log)
	c.mu.Lock()
	c.mediator = mediator
	c.mu.Unlock()

	go c.runHandshake(ctx, mediator, raddr)
	return nil
}

func (c *Client) runHandshake(ctx context.Context, mediator *handshake.Mediator, raddr *net.UDPAddr) {
	result := mediator.Run(ctx)

	c.mu.Lock()
	c.mediator = nil
	c.mu.Unlock()

	switch result.Outcome {
	case handshake.OutcomeSuccess:
		c.onHandshakeSuccess(result.MTU, raddr)
	case handshake.OutcomeAlreadyConnected:
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.emit(Event{Type: EventConnectionFailed, Reason: FailAlreadyConnected})
	case handshake.OutcomeDifferentVersion:
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.emit(Event{Type: EventConnectionFailed, Reason: FailDifferentVersion})
	default:
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.emit(Event{Type: EventConnectionFailed, Reason: FailTimeout})
	}
}

func (c *Client) onHandshakeSuccess(mtu uint16, raddr *net.UDPAddr) {
	sess := session.New(raddr, mtu, c, c.log.WithPeer(raddr, c.guid))
	sess.OnEnd = func() {
		c.mu.Lock()
		c.state = StateDisconnected
		c.session = nil
		c.mu.Unlock()
		c.emit(Event{Type: EventDisconnected})
	}

	waitAccept := make(chan protocol.ConnectionRequestAccepted, 1)
	sess.OnPacket = func(data []byte) {
		if len(data) > 0 && data[0] == protocol.IDConnectionRequestAccepted {
			var accepted protocol.ConnectionRequestAccepted
			if err := protocol.Decode(data, &accepted); err == nil {
				select {
				case waitAccept <- accepted:
				default:
				}
				return
			}
		}
		c.emit(Event{Type: EventPacket, Data: data})
	}

	request := protocol.ConnectionRequest{GUID: c.guid, Time: time.Now().UnixMilli()}
	sess.SendSystemPacket(&request, protocol.Reliable)

	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()

	go c.tickLoop(sess)

	select {
	case accepted := <-waitAccept:
		incoming := protocol.NewIncomingConnection{
			ServerAddress:     raddr,
			RequestTimestamp:  accepted.RequestTimestamp,
			AcceptedTimestamp: accepted.RequestTimestamp,
		}
		sess.SendSystemPacket(&incoming, protocol.ReliableOrdered)
		sess.ForceFlush()
		c.mu.Lock()
		c.state = StateConnected
		c.mu.Unlock()
		c.emit(Event{Type: EventConnected})
	case <-time.After(protocol.SecondaryAcceptTimeout):
		sess.Disconnect()
		c.emit(Event{Type: EventConnectionFailed, Reason: FailTimeout})
	}
}

func (c *Client) tickLoop(sess *session.Session) {
	ticker := time.NewTicker(protocol.SessionTick)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.RLock()
		active := c.session == sess
		c.mu.RUnlock()
		if !active {
			return
		}
		sess.Update()
	}
}

func (c *Client) readLoop() {
	buf := make([]byte, 65536)
	for {
		n, addr, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		c.mu.RLock()
		remote := c.remote
		mediator := c.mediator
		sess := c.session
		c.mu.RUnlock()

		if remote == nil || !addr.IP.Equal(remote.IP) || addr.Port != remote.Port {
			continue
		}
		payload := append([]byte{}, buf[:n]...)
		switch {
		case mediator != nil:
			mediator.HandleDatagram(payload)
		case sess != nil:
			sess.HandleDatagram(payload)
		}
	}
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Warn("client event channel full, dropping event")
	}
}

// Packet queues application data for reliable-ordered delivery,
// fragmenting it if necessary.
func (c *Client) Packet(data []byte) {
	c.mu.RLock()
	sess := c.session
	c.mu.RUnlock()
	if sess != nil {
		sess.SendTo(data)
	}
}

// Disconnect gracefully tears down the active session, if any.
func (c *Client) Disconnect() {
	c.mu.RLock()
	sess := c.session
	c.mu.RUnlock()
	if sess != nil {
		sess.Disconnect()
	}
}

// Close releases the underlying UDP socket.
func (c *Client) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	return c.conn.Close()
}
