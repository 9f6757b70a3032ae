// Package handshake drives the client side of connection establishment
// up to the point a Session can exist: the OpenConnectionRequest1/
// Reply1/Request2/Reply2 MTU negotiation. The ConnectionRequest/
// ConnectionRequestAccepted/NewIncomingConnection exchange that follows
// runs over that Session and is not handled here.
package handshake

import (
	"context"
	"net"
	"time"

	"github.com/shadowmesh/raknet/pkg/logging"
	"github.com/shadowmesh/raknet/shared/protocol"
)

// Sender mirrors session.Sender so the mediator can share a socket
// owner with the session it eventually hands off to.
type Sender interface {
	SendTo(b []byte, addr *net.UDPAddr) error
}

// Outcome enumerates how a handshake attempt concluded.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTimeout
	OutcomeAlreadyConnected
	OutcomeDifferentVersion
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeAlreadyConnected:
		return "already_connected"
	case OutcomeDifferentVersion:
		return "different_version"
	default:
		return "unknown"
	}
}

// Result is what Mediator.Run reports when the handshake concludes.
type Result struct {
	Outcome Outcome
	MTU     uint16
}

// Mediator runs the client-side MTU-discovery and connection-request
// exchange for one connection attempt. It is used once and discarded;
// a fresh Mediator is created per Connect call.
type Mediator struct {
	send Sender
	addr *net.UDPAddr
	guid uint64
	log  *logging.Logger

	inbound chan []byte
}

// New returns a Mediator ready to Run against addr.
func New(send Sender, addr *net.UDPAddr, guid uint64, log *logging.Logger) *Mediator {
	return &Mediator{
		send:    send,
		addr:    addr,
		guid:    guid,
		log:     log.WithPeer(addr, guid),
		inbound: make(chan []byte, 16),
	}
}

// HandleDatagram feeds one inbound UDP payload from addr to the
// mediator. The caller (client connection manager) is responsible for
// routing only datagrams from the expected remote here.
func (m *Mediator) HandleDatagram(buf []byte) {
	select {
	case m.inbound <- buf:
	default:
		m.log.Warn("mediator inbound channel full, dropping datagram")
	}
}

// Run drives the handshake to completion or timeout and returns its
// Result. It blocks the calling goroutine until then; context
// cancellation is reported as OutcomeTimeout.
func (m *Mediator) Run(ctx context.Context) Result {
	overall := time.NewTimer(protocol.HandshakeTimeout)
	defer overall.Stop()

	attempt := 0
	mtu, ok := protocol.MTUForAttempt(attempt)
	if !ok {
		return Result{Outcome: OutcomeTimeout}
	}
	m.sendRequest1(mtu)
	retry := time.NewTimer(protocol.Request1RetryInterval)
	defer retry.Stop()

	phase := phaseRequest1
	var negotiatedMTU uint16
	var request2MTU uint16

	for {
		select {
		case <-ctx.Done():
			return Result{Outcome: OutcomeTimeout}
		case <-overall.C:
			return Result{Outcome: OutcomeTimeout}
		case <-retry.C:
			switch phase {
			case phaseRequest1:
				attempt++
				mtu, ok = protocol.MTUForAttempt(attempt)
				if !ok {
					return Result{Outcome: OutcomeTimeout}
				}
				m.sendRequest1(mtu)
			case phaseRequest2:
				m.sendRequest2(request2MTU)
			}
			retry.Reset(protocol.Request1RetryInterval)
		case buf := <-m.inbound:
			if len(buf) == 0 {
				continue
			}
			switch buf[0] {
			case protocol.IDOpenConnectionReply1:
				if phase != phaseRequest1 {
					continue
				}
				var reply protocol.OpenConnectionReply1
				if err := protocol.Decode(buf, &reply); err != nil {
					m.log.Debug("drop malformed reply1", logging.Fields{"err": err.Error()})
					continue
				}
				phase = phaseRequest2
				request2MTU = reply.MTUSize
				m.sendRequest2(request2MTU)
				retry.Reset(protocol.Request1RetryInterval)
			case protocol.IDOpenConnectionReply2:
				if phase != phaseRequest2 {
					continue
				}
				var reply protocol.OpenConnectionReply2
				if err := protocol.Decode(buf, &reply); err != nil {
					m.log.Debug("drop malformed reply2", logging.Fields{"err": err.Error()})
					continue
				}
				negotiatedMTU = reply.MTU + 96
				return Result{Outcome: OutcomeSuccess, MTU: negotiatedMTU}
			case protocol.IDAlreadyConnected:
				return Result{Outcome: OutcomeAlreadyConnected}
			case protocol.IDIncompatibleProtocolVersion:
				return Result{Outcome: OutcomeDifferentVersion}
			}
		}
	}
}

type phase int

const (
	phaseRequest1 phase = iota
	phaseRequest2
)

func (m *Mediator) sendRequest1(mtu uint16) {
	req := protocol.OpenConnectionRequest1{ProtocolVersion: protocol.RaknetProtocolVersion, MTUSize: mtu}
	if err := m.send.SendTo(protocol.Encode(&req), m.addr); err != nil {
		m.log.Warn("send request1 failed", logging.Fields{"err": err.Error()})
	}
}

func (m *Mediator) sendRequest2(mtu uint16) {
	req := protocol.OpenConnectionRequest2{ServerAddress: m.addr, MTU: mtu, GUID: m.guid}
	if err := m.send.SendTo(protocol.Encode(&req), m.addr); err != nil {
		m.log.Warn("send request2 failed", logging.Fields{"err": err.Error()})
	}
}
