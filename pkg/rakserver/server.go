// Package rakserver is the embedder-facing server half of the
// transport: unconnected ping/pong, connection admission (MTU
// negotiation, GUID deduplication), and a per-peer session once a
// client completes the handshake.
package rakserver

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/shadowmesh/raknet/internal/raknet/session"
	"github.com/shadowmesh/raknet/pkg/logging"
	"github.com/shadowmesh/raknet/shared/protocol"
)

// GUIDRegistry tracks which client GUIDs currently hold a connection,
// so a second OpenConnectionRequest2 for the same GUID gets
// AlreadyConnected instead of a second session. The in-process map
// implementation is always available; Server additionally accepts a
// pluggable backend (e.g. Redis) for deployments running more than one
// server process behind a load balancer.
type GUIDRegistry interface {
	TryAdmit(guid uint64) (admitted bool, err error)
	Release(guid uint64)
}

// localRegistry is the default in-process GUIDRegistry.
type localRegistry struct {
	mu   sync.Mutex
	seen map[uint64]bool
}

func newLocalRegistry() *localRegistry {
	return &localRegistry{seen: make(map[uint64]bool)}
}

func (r *localRegistry) TryAdmit(guid uint64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen[guid] {
		return false, nil
	}
	r.seen[guid] = true
	return true, nil
}

func (r *localRegistry) Release(guid uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.seen, guid)
}

// AuditSink records connect/disconnect events outside the hot path
// (e.g. to Postgres). A nil sink is a legal no-op.
type AuditSink interface {
	RecordConnected(addr *net.UDPAddr, guid uint64)
	RecordDisconnected(addr *net.UDPAddr, guid uint64)
}

// EventType discriminates ServerEvent.
type EventType int

const (
	EventConnected EventType = iota
	EventPacket
	EventDisconnected
)

// ServerEvent is delivered on Server.Events() for every admitted peer,
// every packet it sends, and its eventual disconnection.
type ServerEvent struct {
	Type EventType
	Peer *Peer
	Data []byte
	GUID uint64
}

// Peer is a handle to one connected client, usable to send data back
// or force a disconnect.
type Peer struct {
	Addr *net.UDPAddr
	GUID uint64

	session *session.Session
}

// Send queues data for reliable-ordered delivery to this peer.
func (p *Peer) Send(data []byte) { p.session.SendTo(data) }

// Disconnect gracefully ends this peer's session.
func (p *Peer) Disconnect() { p.session.Disconnect() }

type pendingConn struct {
	sess      *session.Session
	guid      uint64
	addr      *net.UDPAddr
	firstSeen *time.Timer
}

// Server accepts RakNet connections on a single UDP socket.
type Server struct {
	conn *net.UDPConn
	guid uint64
	log  *logging.Logger

	mu       sync.RWMutex
	motd     string
	conns    map[string]*session.Session
	pending  map[string]*pendingConn
	peers    map[string]*Peer

	registry GUIDRegistry
	audit    AuditSink

	events chan ServerEvent
}

// Options configures optional Server behavior.
type Options struct {
	Registry GUIDRegistry
	Audit    AuditSink
}

// Listen binds addr and returns a Server ready to Serve.
func Listen(addr string, guid uint64, motd string, log *logging.Logger, opts Options) (*Server, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("rakserver: resolve addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("rakserver: listen: %w", err)
	}
	registry := opts.Registry
	if registry == nil {
		registry = newLocalRegistry()
	}
	return &Server{
		conn:     conn,
		guid:     guid,
		log:      log,
		motd:     motd,
		conns:    make(map[string]*session.Session),
		pending:  make(map[string]*pendingConn),
		peers:    make(map[string]*Peer),
		registry: registry,
		audit:    opts.Audit,
		events:   make(chan ServerEvent, 256),
	}, nil
}

// Events returns the channel of connection/packet/disconnection events.
func (s *Server) Events() <-chan ServerEvent { return s.events }

// LocalAddr returns the address the server's UDP socket is bound to,
// useful when Listen was given a ":0" port to pick one automatically.
func (s *Server) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// SetMOTD updates the string returned in UnconnectedPong.
func (s *Server) SetMOTD(motd string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.motd = motd
}

// SendTo implements session.Sender.
func (s *Server) SendTo(b []byte, addr *net.UDPAddr) error {
	_, err := s.conn.WriteToUDP(b, addr)
	return err
}

// Serve runs the accept loop until the socket is closed. It blocks the
// calling goroutine.
func (s *Server) Serve() error {
	buf := make([]byte, 65536)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}
		payload := append([]byte{}, buf[:n]...)
		s.handleDatagram(payload, addr)
	}
}

func (s *Server) handleDatagram(buf []byte, addr *net.UDPAddr) {
	key := addr.String()

	s.mu.RLock()
	sess, connected := s.conns[key]
	pend, pending := s.pending[key]
	s.mu.RUnlock()

	if connected {
		sess.HandleDatagram(buf)
		return
	}
	if pending {
		s.handlePendingDatagram(pend, buf, key)
		return
	}
	if len(buf) == 0 {
		return
	}
	switch buf[0] {
	case protocol.IDUnconnectedPing:
		s.handleUnconnectedPing(buf, addr)
	case protocol.IDOpenConnectionRequest1:
		s.handleRequest1(buf, addr)
	case protocol.IDOpenConnectionRequest2:
		s.handleRequest2(buf, addr, key)
	}
}

func (s *Server) handleUnconnectedPing(buf []byte, addr *net.UDPAddr) {
	var ping protocol.UnconnectedPing
	if err := protocol.Decode(buf, &ping); err != nil {
		s.log.Debug("drop malformed unconnected ping", logging.Fields{"err": err.Error()})
		return
	}
	s.mu.RLock()
	motd := s.motd
	s.mu.RUnlock()
	pong := protocol.UnconnectedPong{Time: ping.Time, GUID: s.guid, MOTD: motd}
	if err := s.SendTo(protocol.Encode(&pong), addr); err != nil {
		s.log.Warn("send unconnected pong failed", logging.Fields{"err": err.Error()})
	}
}

func (s *Server) handleRequest1(buf []byte, addr *net.UDPAddr) {
	var req protocol.OpenConnectionRequest1
	if err := protocol.Decode(buf, &req); err != nil {
		s.log.Debug("drop malformed request1", logging.Fields{"err": err.Error()})
		return
	}
	if req.ProtocolVersion != protocol.RaknetProtocolVersion {
		incompat := protocol.IncompatibleProtocolVersion{
			ServerProtocol: protocol.RaknetProtocolVersion,
			ServerGUID:     s.guid,
		}
		s.SendTo(protocol.Encode(&incompat), addr)
		return
	}
	reply := protocol.OpenConnectionReply1{GUID: s.guid, UseSecurity: false, MTUSize: req.MTUSize}
	s.SendTo(protocol.Encode(&reply), addr)
}

func (s *Server) handleRequest2(buf []byte, addr *net.UDPAddr, key string) {
	var req protocol.OpenConnectionRequest2
	if err := protocol.Decode(buf, &req); err != nil {
		s.log.Debug("drop malformed request2", logging.Fields{"err": err.Error()})
		return
	}

	admitted, err := s.registry.TryAdmit(req.GUID)
	if err != nil {
		s.log.Warn("guid registry check failed", logging.Fields{"err": err.Error()})
		return
	}
	if !admitted {
		already := protocol.AlreadyConnected{GUID: req.GUID}
		s.SendTo(protocol.Encode(&already), addr)
		return
	}

	reply := protocol.OpenConnectionReply2{GUID: s.guid, ClientAddress: addr, MTU: req.MTU, EncryptionEnabled: false}
	s.SendTo(protocol.Encode(&reply), addr)

	sess := session.New(addr, req.MTU, s, s.log.WithPeer(addr, req.GUID))
	pend := &pendingConn{sess: sess, guid: req.GUID, addr: addr}
	pend.firstSeen = time.AfterFunc(protocol.SecondaryAcceptTimeout, func() {
		s.abandonPending(key, pend)
	})

	s.mu.Lock()
	s.pending[key] = pend
	s.mu.Unlock()

	go s.tickLoop(key, sess)
}

func (s *Server) handlePendingDatagram(pend *pendingConn, buf []byte, key string) {
	if len(buf) == 0 {
		return
	}
	switch buf[0] & (protocol.FlagDatagram) {
	case protocol.FlagDatagram:
		s.handlePendingFrameSet(pend, buf, key)
	default:
		pend.sess.HandleDatagram(buf)
	}
}

func (s *Server) handlePendingFrameSet(pend *pendingConn, buf []byte, key string) {
	var delivered []byte
	pend.sess.OnPacket = func(data []byte) { delivered = data }
	pend.sess.HandleDatagram(buf)
	if delivered == nil || len(delivered) == 0 {
		return
	}

	switch delivered[0] {
	case protocol.IDConnectionRequest:
		var req protocol.ConnectionRequest
		if err := protocol.Decode(delivered, &req); err != nil {
			return
		}
		accept := protocol.ConnectionRequestAccepted{
			ClientAddress:     pend.addr,
			RequestTimestamp:  req.Time,
			AcceptedTimestamp: time.Now().UnixMilli(),
		}
		pend.sess.SendSystemPacket(&accept, protocol.ReliableOrdered)
	case protocol.IDNewIncomingConnection:
		pend.firstSeen.Stop()
		s.promote(key, pend)
	}
}

func (s *Server) promote(key string, pend *pendingConn) {
	peer := &Peer{Addr: pend.addr, GUID: pend.guid, session: pend.sess}

	s.mu.Lock()
	delete(s.pending, key)
	s.conns[key] = pend.sess
	s.peers[key] = peer
	s.mu.Unlock()

	pend.sess.OnPacket = func(data []byte) {
		s.emit(ServerEvent{Type: EventPacket, Peer: peer, Data: data, GUID: peer.GUID})
	}
	pend.sess.OnEnd = func() { s.onSessionEnd(key, peer) }

	if s.audit != nil {
		s.audit.RecordConnected(peer.Addr, peer.GUID)
	}
	s.emit(ServerEvent{Type: EventConnected, Peer: peer, GUID: peer.GUID})
}

func (s *Server) abandonPending(key string, pend *pendingConn) {
	s.mu.Lock()
	_, stillPending := s.pending[key]
	delete(s.pending, key)
	s.mu.Unlock()
	if stillPending {
		pend.sess.Disconnect()
		s.registry.Release(pend.guid)
	}
}

func (s *Server) onSessionEnd(key string, peer *Peer) {
	s.mu.Lock()
	delete(s.conns, key)
	delete(s.peers, key)
	s.mu.Unlock()
	s.registry.Release(peer.GUID)
	if s.audit != nil {
		s.audit.RecordDisconnected(peer.Addr, peer.GUID)
	}
	s.emit(ServerEvent{Type: EventDisconnected, Peer: peer, GUID: peer.GUID})
}

func (s *Server) tickLoop(key string, sess *session.Session) {
	ticker := time.NewTicker(protocol.SessionTick)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.RLock()
		_, pending := s.pending[key]
		_, connected := s.conns[key]
		s.mu.RUnlock()
		if !pending && !connected {
			return
		}
		sess.Update()
	}
}

func (s *Server) emit(ev ServerEvent) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn("server event channel full, dropping event")
	}
}

// Close releases the underlying UDP socket.
func (s *Server) Close() error {
	return s.conn.Close()
}
