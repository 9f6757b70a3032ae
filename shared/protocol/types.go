package protocol

import "time"

// RaknetProtocolVersion is the protocol version advertised in
// OpenConnectionRequest1 and checked by the server accept path.
const RaknetProtocolVersion byte = 11

// Packet IDs, one per wire packet type understood by the core.
const (
	IDConnectedPing              byte = 0x00
	IDUnconnectedPing            byte = 0x01
	IDConnectedPong              byte = 0x03
	IDOpenConnectionRequest1     byte = 0x05
	IDOpenConnectionReply1       byte = 0x06
	IDOpenConnectionRequest2     byte = 0x07
	IDOpenConnectionReply2       byte = 0x08
	IDConnectionRequest          byte = 0x09
	IDConnectionRequestAccepted  byte = 0x10
	IDAlreadyConnected           byte = 0x12
	IDNewIncomingConnection      byte = 0x13
	IDDisconnected               byte = 0x15
	IDIncompatibleProtocolVersion byte = 0x19
	IDUnconnectedPong            byte = 0x1c
	IDNack                       byte = 0xa0
	IDAck                        byte = 0xc0
)

// Top-level datagram classification bits, tested against the first byte
// of every inbound UDP payload once a session exists.
const (
	FlagDatagram byte = 0x80
	FlagAck      byte = 0x40
	FlagNack     byte = 0x20
)

// FrameSet header bits, OR'd with FlagDatagram.
const (
	FlagNeedsBAndAS    byte = 0x04
	FlagContinuousSend byte = 0x08
)

// SplitFlag marks a Frame as one fragment of a larger message.
const SplitFlag byte = 0x10

// Magic is the 16-byte offline-message token every unconnected packet
// carries so stray traffic on the port can be told apart from RakNet peers.
var Magic = [16]byte{
	0x00, 0xff, 0xff, 0x00, 0xfe, 0xfe, 0xfe, 0xfe, 0xfd, 0xfd, 0xfd, 0xfd, 0x12, 0x34, 0x56, 0x78,
}

// Session timing, held fixed rather than negotiated (no congestion control).
const (
	SessionTick          = 10 * time.Millisecond
	RetransmitTimeout     = 1000 * time.Millisecond
	PingInterval         = 3 * time.Second
	IdleTimeout          = 10 * time.Second
	Request1RetryInterval = 510 * time.Millisecond
	HandshakeTimeout      = 10 * time.Second
	SecondaryAcceptTimeout = 5 * time.Second
)

// MTU ladder tried by the client mediator during OpenConnectionRequest1,
// indexed by attempt count (see MTUForAttempt). Attempt counts of 13 or
// more give up.
var MTUSizes = []uint16{1496, 1204, 584}

// MTUForAttempt returns the MTU size to offer for the given 0-based
// OpenConnectionRequest1 attempt, and false once the ladder is exhausted.
func MTUForAttempt(attempt int) (uint16, bool) {
	switch {
	case attempt < 4:
		return MTUSizes[0], true
	case attempt < 8:
		return MTUSizes[1], true
	case attempt < 13:
		return MTUSizes[2], true
	default:
		return 0, false
	}
}
