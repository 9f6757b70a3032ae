// Package session implements the per-peer connection state machine:
// frame delivery, acknowledgement, fragmentation, and the fixed-interval
// tick that drives retransmission, ping, and idle timeout. The same
// Session type backs both the client's one connection and each of the
// server's per-peer connections.
package session

import (
	"net"
	"sync"
	"time"

	"github.com/shadowmesh/raknet/internal/raknet/ackqueue"
	"github.com/shadowmesh/raknet/internal/raknet/outqueue"
	"github.com/shadowmesh/raknet/internal/raknet/reassembly"
	"github.com/shadowmesh/raknet/pkg/logging"
	"github.com/shadowmesh/raknet/shared/protocol"
)

// Sender is how a session puts bytes on the wire. Both the client and
// server own the actual UDP socket; a Session never does.
type Sender interface {
	SendTo(b []byte, addr *net.UDPAddr) error
}

// Session is the reliable-UDP connection state machine for one peer.
// It is driven by two inputs: HandleDatagram for inbound traffic and
// Update on a fixed tick; both must be called from the same goroutine,
// matching the single-threaded-per-actor shape the reference
// implementation relies on.
type Session struct {
	log  *logging.Logger
	send Sender
	addr *net.UDPAddr
	mtu  uint16

	ack       *ackqueue.Queue
	out       *outqueue.Queue
	received  *reassembly.ReceivedQueue
	split     *reassembly.SplitQueue

	messageIndex uint32
	orderIndex   uint32
	splitID      uint16

	lastPing    time.Time
	lastReceive time.Time

	mu           sync.Mutex
	disconnected bool

	// OnPacket is invoked for every application-level frame released in
	// order (or immediately, for frames outside a sequenced channel).
	// It must not block.
	OnPacket func(data []byte)
	// OnEnd is invoked exactly once, when the session transitions to
	// disconnected either locally or on receipt of Disconnected.
	OnEnd func()
}

// New constructs a Session that will address its peer at addr over mtu
// bytes and push traffic through send.
func New(addr *net.UDPAddr, mtu uint16, send Sender, log *logging.Logger) *Session {
	now := time.Now()
	return &Session{
		log:         log,
		send:        send,
		addr:        addr,
		mtu:         mtu,
		ack:         ackqueue.New(),
		out:         outqueue.New(mtu),
		received:    reassembly.NewReceivedQueue(),
		split:       reassembly.NewSplitQueue(),
		lastPing:    now,
		lastReceive: now,
	}
}

// Update runs one tick: flush outbound FrameSets, flush pending ACK/NACK,
// check idle timeout, and send a keepalive ping on cadence. Callers are
// expected to invoke this roughly every protocol.SessionTick.
func (s *Session) Update() {
	s.mu.Lock()
	done := s.disconnected
	s.mu.Unlock()
	if done {
		return
	}

	s.flushQueue()
	s.flushAck()

	if time.Since(s.lastReceive) > protocol.IdleTimeout {
		s.Disconnect()
		return
	}
	if time.Since(s.lastPing) > protocol.PingInterval {
		s.lastPing = time.Now()
		s.sendPing()
	}
}

// ForceFlush immediately drains the outbound batch without waiting for
// the next tick, used right after the handshake hands a session its
// first queued frames.
func (s *Session) ForceFlush() {
	s.flushQueue()
}

func (s *Session) flushQueue() {
	for _, set := range s.out.Packets() {
		if err := s.send.SendTo(set.Encode(), s.addr); err != nil {
			s.log.Warn("send frameset failed", logging.Fields{"err": err.Error()})
		}
	}
}

func (s *Session) flushAck() {
	acks, nacks := s.ack.Flush()
	for _, r := range acks {
		ack := protocol.NewAck(r.Low, r.High)
		if err := s.send.SendTo(protocol.Encode(&ack), s.addr); err != nil {
			s.log.Warn("send ack failed", logging.Fields{"err": err.Error()})
		}
	}
	for _, miss := range nacks {
		nack := protocol.NewNack(miss, miss)
		if err := s.send.SendTo(protocol.Encode(&nack), s.addr); err != nil {
			s.log.Warn("send nack failed", logging.Fields{"err": err.Error()})
		}
	}
}

func (s *Session) sendPing() {
	ping := protocol.ConnectedPing{ClientTimestamp: nowMillis()}
	frame := protocol.NewFrame(protocol.Unreliable, protocol.Encode(&ping))
	s.out.AddFrame(frame)
}

// HandleDatagram dispatches one inbound UDP payload by its leading flag
// byte. Malformed datagrams are logged and dropped, never fatal.
func (s *Session) HandleDatagram(buf []byte) {
	if len(buf) == 0 {
		return
	}
	header := buf[0]
	switch {
	case header&protocol.FlagAck != 0:
		s.handleAck(buf)
	case header&protocol.FlagNack != 0:
		s.handleNack(buf)
	case header&protocol.FlagDatagram != 0:
		s.handleFrameSet(buf)
	}
}

func (s *Session) handleAck(buf []byte) {
	var ack protocol.Ack
	if err := protocol.Decode(buf, &ack); err != nil {
		s.log.Debug("drop malformed ack", logging.Fields{"err": err.Error()})
		return
	}
	for _, seq := range ack.All() {
		s.out.Received(seq)
	}
}

func (s *Session) handleNack(buf []byte) {
	var nack protocol.Nack
	if err := protocol.Decode(buf, &nack); err != nil {
		s.log.Debug("drop malformed nack", logging.Fields{"err": err.Error()})
		return
	}
	for _, seq := range nack.All() {
		s.out.Resend(seq)
	}
}

func (s *Session) handleFrameSet(buf []byte) {
	set, err := protocol.DecodeFrameSet(buf)
	if err != nil {
		s.log.Debug("drop malformed frameset", logging.Fields{"err": err.Error()})
		return
	}
	s.ack.Add(set.SequenceNumber)
	for _, frame := range set.Frames {
		s.receiveFrame(frame)
	}
}

func (s *Session) receiveFrame(frame protocol.Frame) {
	if frame.Split {
		s.split.Add(frame)
		for _, whole := range s.split.Drain() {
			s.receiveFrame(whole)
		}
		return
	}
	if !frame.Reliability.SequencedOrOrdered() {
		s.deliver(frame)
		return
	}
	for _, f := range s.received.Add(frame) {
		s.deliver(f)
	}
}

// deliver handles frames addressed to the session itself (pings,
// disconnect) and forwards everything else to the embedder.
func (s *Session) deliver(frame protocol.Frame) {
	s.lastReceive = time.Now()
	if len(frame.Data) == 0 {
		return
	}
	switch frame.Data[0] {
	case protocol.IDConnectedPing:
		var ping protocol.ConnectedPing
		if err := protocol.Decode(frame.Data, &ping); err == nil {
			s.handleConnectedPing(ping)
		}
		return
	case protocol.IDConnectedPong:
		return
	case protocol.IDDisconnected:
		s.end()
		return
	}
	if s.OnPacket != nil {
		s.OnPacket(frame.Data)
	}
}

func (s *Session) handleConnectedPing(ping protocol.ConnectedPing) {
	pong := protocol.ConnectedPong{ClientTimestamp: ping.ClientTimestamp, ServerTimestamp: nowMillis()}
	frame := protocol.NewFrame(protocol.Unreliable, protocol.Encode(&pong))
	s.out.AddFrame(frame)
}

// SendSystemPacket encodes packet, wraps it in a frame of the given
// reliability allocating whichever indices that reliability needs, and
// enqueues it.
func (s *Session) SendSystemPacket(p protocol.Packet, reliability protocol.Reliability) {
	frame := protocol.NewFrame(reliability, protocol.Encode(p))
	if reliability.Reliable() {
		frame.MessageIndex = s.messageIndex
		s.messageIndex++
	}
	if reliability.SequencedOrOrdered() {
		frame.OrderIndex = s.orderIndex
		s.orderIndex++
	}
	s.out.AddFrame(frame)
}

// SendTo queues application data for delivery, fragmenting it across
// multiple ReliableOrdered frames when it would not fit a single frame
// inside the session's MTU budget.
//
// Fragmentation allocates a fresh MessageIndex per fragment but only a
// single OrderIndex for the whole message: the reassembled frame the
// receive path hands to the embedder carries that one OrderIndex, so
// splitting the allocation the same way a non-fragmented send does
// would desynchronize the two sides' order-index bookkeeping.
func (s *Session) SendTo(data []byte) {
	threshold := int(s.mtu) - 14 - 32
	if len(data) < threshold {
		frame := protocol.NewFrame(protocol.ReliableOrdered, data)
		frame.MessageIndex = s.messageIndex
		frame.OrderIndex = s.orderIndex
		s.messageIndex++
		s.orderIndex++
		s.out.AddFrame(frame)
		return
	}

	max := int(s.mtu) - 24 - 32 - 5
	splitLen := len(data) / max
	if len(data)%max != 0 {
		splitLen++
	}
	for i := 0; i < splitLen; i++ {
		end := (i + 1) * max
		if i == splitLen-1 {
			end = len(data)
		}
		frame := protocol.NewFrame(protocol.ReliableOrdered, data[i*max:end])
		frame.Split = true
		frame.MessageIndex = s.messageIndex
		frame.OrderIndex = s.orderIndex
		frame.SplitCount = uint32(splitLen)
		frame.SplitID = s.splitID
		frame.SplitIndex = uint32(i)
		s.out.AddFrame(frame)
		s.messageIndex++
	}
	s.splitID++
	s.orderIndex++
}

// Disconnect queues a graceful Disconnected frame, force-flushes it,
// then ends the session.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.disconnected {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	var d protocol.Disconnected
	frame := protocol.NewFrame(protocol.ReliableOrdered, protocol.Encode(&d))
	frame.MessageIndex = s.messageIndex
	frame.OrderIndex = s.orderIndex
	s.messageIndex++
	s.orderIndex++
	s.out.AddFrame(frame)
	s.flushQueue()
	s.end()
}

func (s *Session) end() {
	s.mu.Lock()
	if s.disconnected {
		s.mu.Unlock()
		return
	}
	s.disconnected = true
	s.mu.Unlock()
	if s.OnEnd != nil {
		s.OnEnd()
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
