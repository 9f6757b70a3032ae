package protocol

import "net"

// ConnectedPing is an in-session keepalive; Unreliable, no ack expected
// beyond the ConnectedPong it provokes.
type ConnectedPing struct {
	ClientTimestamp int64
}

func (p *ConnectedPing) PacketID() byte { return IDConnectedPing }
func (p *ConnectedPing) Write(w *Writer) {
	w.WriteI64BE(p.ClientTimestamp)
}
func (p *ConnectedPing) Read(r *Reader) (err error) {
	p.ClientTimestamp, err = r.ReadI64BE()
	return err
}

// ConnectedPong answers a ConnectedPing, echoing the client's timestamp
// and attaching the server's own.
type ConnectedPong struct {
	ClientTimestamp int64
	ServerTimestamp int64
}

func (p *ConnectedPong) PacketID() byte { return IDConnectedPong }
func (p *ConnectedPong) Write(w *Writer) {
	w.WriteI64BE(p.ClientTimestamp)
	w.WriteI64BE(p.ServerTimestamp)
}
func (p *ConnectedPong) Read(r *Reader) error {
	var err error
	if p.ClientTimestamp, err = r.ReadI64BE(); err != nil {
		return err
	}
	p.ServerTimestamp, err = r.ReadI64BE()
	return err
}

// UnconnectedPing probes a server outside any session, asking for an
// UnconnectedPong carrying its MOTD.
type UnconnectedPing struct {
	Time int64
	GUID uint64
}

func (p *UnconnectedPing) PacketID() byte { return IDUnconnectedPing }
func (p *UnconnectedPing) Write(w *Writer) {
	w.WriteI64BE(p.Time)
	w.WriteMagic()
	w.WriteU64BE(p.GUID)
}
func (p *UnconnectedPing) Read(r *Reader) error {
	var err error
	if p.Time, err = r.ReadI64BE(); err != nil {
		return err
	}
	if _, err = r.ReadMagic(); err != nil {
		return err
	}
	p.GUID, err = r.ReadU64BE()
	return err
}

// UnconnectedPong is the reply to UnconnectedPing.
type UnconnectedPong struct {
	Time int64
	GUID uint64
	MOTD string
}

func (p *UnconnectedPong) PacketID() byte { return IDUnconnectedPong }
func (p *UnconnectedPong) Write(w *Writer) {
	w.WriteI64BE(p.Time)
	w.WriteU64BE(p.GUID)
	w.WriteMagic()
	w.WriteString(p.MOTD)
}
func (p *UnconnectedPong) Read(r *Reader) error {
	var err error
	if p.Time, err = r.ReadI64BE(); err != nil {
		return err
	}
	if p.GUID, err = r.ReadU64BE(); err != nil {
		return err
	}
	if _, err = r.ReadMagic(); err != nil {
		return err
	}
	p.MOTD, err = r.ReadString()
	return err
}

// OpenConnectionRequest1 opens the handshake. MTUSize is not carried as
// a plain integer on the wire: the request pads itself out with zero
// bytes until the whole datagram (ID byte included) is MTUSize - 32
// bytes long, and the receiver recovers MTUSize as that datagram
// length + 32 (see spec Open Question on this arithmetic, preserved
// exactly).
type OpenConnectionRequest1 struct {
	ProtocolVersion byte
	MTUSize         uint16
}

func (p *OpenConnectionRequest1) PacketID() byte { return IDOpenConnectionRequest1 }
func (p *OpenConnectionRequest1) Write(w *Writer) {
	w.WriteMagic()
	w.WriteU8(p.ProtocolVersion)
	pad := int(p.MTUSize) - (w.Len() + 32)
	if pad > 0 {
		w.WriteBytes(make([]byte, pad))
	}
}
func (p *OpenConnectionRequest1) Read(r *Reader) error {
	if _, err := r.ReadMagic(); err != nil {
		return err
	}
	var err error
	if p.ProtocolVersion, err = r.ReadU8(); err != nil {
		return err
	}
	// r starts after the ID byte, so add it back to get the datagram length.
	p.MTUSize = uint16(1 + r.Pos() + r.Remaining() + 32)
	return nil
}

// OpenConnectionReply1 tells the client the server's GUID and the MTU
// it is willing to use, echoed from OpenConnectionRequest1.
type OpenConnectionReply1 struct {
	GUID        uint64
	UseSecurity bool
	MTUSize     uint16
}

func (p *OpenConnectionReply1) PacketID() byte { return IDOpenConnectionReply1 }
func (p *OpenConnectionReply1) Write(w *Writer) {
	w.WriteMagic()
	w.WriteU64BE(p.GUID)
	var sec byte
	if p.UseSecurity {
		sec = 1
	}
	w.WriteU8(sec)
	w.WriteU16BE(p.MTUSize)
}
func (p *OpenConnectionReply1) Read(r *Reader) error {
	if _, err := r.ReadMagic(); err != nil {
		return err
	}
	var err error
	if p.GUID, err = r.ReadU64BE(); err != nil {
		return err
	}
	sec, err := r.ReadU8()
	if err != nil {
		return err
	}
	p.UseSecurity = sec != 0
	p.MTUSize, err = r.ReadU16BE()
	return err
}

// OpenConnectionRequest2 carries the address the client believes the
// server is listening on, the negotiated MTU, and the client's GUID.
type OpenConnectionRequest2 struct {
	ServerAddress *net.UDPAddr
	MTU           uint16
	GUID          uint64
}

func (p *OpenConnectionRequest2) PacketID() byte { return IDOpenConnectionRequest2 }
func (p *OpenConnectionRequest2) Write(w *Writer) {
	w.WriteMagic()
	w.WriteAddress(p.ServerAddress)
	w.WriteU16BE(p.MTU)
	w.WriteU64BE(p.GUID)
}
func (p *OpenConnectionRequest2) Read(r *Reader) error {
	if _, err := r.ReadMagic(); err != nil {
		return err
	}
	var err error
	if p.ServerAddress, err = r.ReadAddress(); err != nil {
		return err
	}
	if p.MTU, err = r.ReadU16BE(); err != nil {
		return err
	}
	p.GUID, err = r.ReadU64BE()
	return err
}

// OpenConnectionReply2 confirms the session's negotiated MTU and the
// address the server observed the client sending from.
type OpenConnectionReply2 struct {
	GUID               uint64
	ClientAddress      *net.UDPAddr
	MTU                uint16
	EncryptionEnabled  bool
}

func (p *OpenConnectionReply2) PacketID() byte { return IDOpenConnectionReply2 }
func (p *OpenConnectionReply2) Write(w *Writer) {
	w.WriteMagic()
	w.WriteU64BE(p.GUID)
	w.WriteAddress(p.ClientAddress)
	w.WriteU16BE(p.MTU)
	var enc byte
	if p.EncryptionEnabled {
		enc = 1
	}
	w.WriteU8(enc)
}
func (p *OpenConnectionReply2) Read(r *Reader) error {
	if _, err := r.ReadMagic(); err != nil {
		return err
	}
	var err error
	if p.GUID, err = r.ReadU64BE(); err != nil {
		return err
	}
	if p.ClientAddress, err = r.ReadAddress(); err != nil {
		return err
	}
	if p.MTU, err = r.ReadU16BE(); err != nil {
		return err
	}
	enc, err := r.ReadU8()
	if err != nil {
		return err
	}
	p.EncryptionEnabled = enc != 0
	return nil
}

// ConnectionRequest is the first in-session packet a client sends,
// carried Reliable.
type ConnectionRequest struct {
	GUID        uint64
	Time        int64
	UseSecurity bool
}

func (p *ConnectionRequest) PacketID() byte { return IDConnectionRequest }
func (p *ConnectionRequest) Write(w *Writer) {
	w.WriteU64BE(p.GUID)
	w.WriteI64BE(p.Time)
	var sec byte
	if p.UseSecurity {
		sec = 1
	}
	w.WriteU8(sec)
}
func (p *ConnectionRequest) Read(r *Reader) error {
	var err error
	if p.GUID, err = r.ReadU64BE(); err != nil {
		return err
	}
	if p.Time, err = r.ReadI64BE(); err != nil {
		return err
	}
	sec, err := r.ReadU8()
	if err != nil {
		return err
	}
	p.UseSecurity = sec != 0
	return nil
}

// ConnectionRequestAccepted is the server's answer to ConnectionRequest.
// The ten reserved bytes carry no information; they are preserved as
// 0x06 filler to match what real peers send and expect to skip over.
type ConnectionRequestAccepted struct {
	ClientAddress     *net.UDPAddr
	SystemIndex       uint16
	RequestTimestamp  int64
	AcceptedTimestamp int64
}

func (p *ConnectionRequestAccepted) PacketID() byte { return IDConnectionRequestAccepted }
func (p *ConnectionRequestAccepted) Write(w *Writer) {
	w.WriteAddress(p.ClientAddress)
	w.WriteU16BE(p.SystemIndex)
	w.WriteBytes(bytesOf(10, 0x06))
	w.WriteI64BE(p.RequestTimestamp)
	w.WriteI64BE(p.AcceptedTimestamp)
}
func (p *ConnectionRequestAccepted) Read(r *Reader) error {
	var err error
	if p.ClientAddress, err = r.ReadAddress(); err != nil {
		return err
	}
	if p.SystemIndex, err = r.ReadU16BE(); err != nil {
		return err
	}
	r.Skip(10)
	if p.RequestTimestamp, err = r.ReadI64BE(); err != nil {
		return err
	}
	p.AcceptedTimestamp, err = r.ReadI64BE()
	return err
}

// NewIncomingConnection closes the handshake loop: the client confirms
// it saw ConnectionRequestAccepted and echoes the server address it
// connected to.
type NewIncomingConnection struct {
	ServerAddress     *net.UDPAddr
	RequestTimestamp  int64
	AcceptedTimestamp int64
}

func (p *NewIncomingConnection) PacketID() byte { return IDNewIncomingConnection }
func (p *NewIncomingConnection) Write(w *Writer) {
	w.WriteAddress(p.ServerAddress)
	w.WriteBytes(bytesOf(10, 0x06))
	w.WriteI64BE(p.RequestTimestamp)
	w.WriteI64BE(p.AcceptedTimestamp)
}
func (p *NewIncomingConnection) Read(r *Reader) error {
	var err error
	if p.ServerAddress, err = r.ReadAddress(); err != nil {
		return err
	}
	r.Skip(10)
	if p.RequestTimestamp, err = r.ReadI64BE(); err != nil {
		return err
	}
	p.AcceptedTimestamp, err = r.ReadI64BE()
	return err
}

// Disconnected carries no payload; receiving one ends the session.
type Disconnected struct{}

func (p *Disconnected) PacketID() byte      { return IDDisconnected }
func (p *Disconnected) Write(w *Writer)     {}
func (p *Disconnected) Read(r *Reader) error { return nil }

// IncompatibleProtocolVersion is sent instead of OpenConnectionReply1
// when the client's requested protocol version does not match.
type IncompatibleProtocolVersion struct {
	ServerProtocol byte
	ServerGUID     uint64
}

func (p *IncompatibleProtocolVersion) PacketID() byte { return IDIncompatibleProtocolVersion }
func (p *IncompatibleProtocolVersion) Write(w *Writer) {
	w.WriteU8(p.ServerProtocol)
	w.WriteMagic()
	w.WriteU64BE(p.ServerGUID)
}
func (p *IncompatibleProtocolVersion) Read(r *Reader) error {
	var err error
	if p.ServerProtocol, err = r.ReadU8(); err != nil {
		return err
	}
	if _, err = r.ReadMagic(); err != nil {
		return err
	}
	p.ServerGUID, err = r.ReadU64BE()
	return err
}

// AlreadyConnected is sent when a second OpenConnectionRequest2 arrives
// for a GUID the server already admitted.
type AlreadyConnected struct {
	GUID uint64
}

func (p *AlreadyConnected) PacketID() byte { return IDAlreadyConnected }
func (p *AlreadyConnected) Write(w *Writer) {
	w.WriteMagic()
	w.WriteU64BE(p.GUID)
}
func (p *AlreadyConnected) Read(r *Reader) error {
	if _, err := r.ReadMagic(); err != nil {
		return err
	}
	var err error
	p.GUID, err = r.ReadU64BE()
	return err
}

// Ack acknowledges one contiguous run of received FrameSet sequence
// numbers. The record count is always 1: the ACK queue coalesces into
// single ranges before sending rather than packing multiple records
// into one packet.
type Ack struct {
	Low, High uint32
}

func NewAck(low, high uint32) Ack { return Ack{Low: low, High: high} }

func (p *Ack) PacketID() byte { return IDAck }
func (p *Ack) Write(w *Writer) {
	w.WriteU16BE(1)
	equal := p.Low == p.High
	if equal {
		w.WriteU8(1)
	} else {
		w.WriteU8(0)
	}
	w.WriteU24LE(p.Low)
	if !equal {
		w.WriteU24LE(p.High)
	}
}
func (p *Ack) Read(r *Reader) error {
	if _, err := r.ReadU16BE(); err != nil {
		return err
	}
	eq, err := r.ReadU8()
	if err != nil {
		return err
	}
	if p.Low, err = r.ReadU24LE(); err != nil {
		return err
	}
	if eq != 0 {
		p.High = p.Low
		return nil
	}
	p.High, err = r.ReadU24LE()
	return err
}

// All returns every sequence number this Ack covers.
func (p Ack) All() []uint32 {
	out := make([]uint32, 0, p.High-p.Low+1)
	for s := p.Low; s <= p.High; s++ {
		out = append(out, s)
	}
	return out
}

// Nack has the identical wire shape to Ack but requests retransmission
// instead of acknowledging receipt.
type Nack struct {
	Low, High uint32
}

func NewNack(low, high uint32) Nack { return Nack{Low: low, High: high} }

func (p *Nack) PacketID() byte { return IDNack }
func (p *Nack) Write(w *Writer) {
	w.WriteU16BE(1)
	equal := p.Low == p.High
	if equal {
		w.WriteU8(1)
	} else {
		w.WriteU8(0)
	}
	w.WriteU24LE(p.Low)
	if !equal {
		w.WriteU24LE(p.High)
	}
}
func (p *Nack) Read(r *Reader) error {
	if _, err := r.ReadU16BE(); err != nil {
		return err
	}
	eq, err := r.ReadU8()
	if err != nil {
		return err
	}
	if p.Low, err = r.ReadU24LE(); err != nil {
		return err
	}
	if eq != 0 {
		p.High = p.Low
		return nil
	}
	p.High, err = r.ReadU24LE()
	return err
}

func (p Nack) All() []uint32 {
	out := make([]uint32, 0, p.High-p.Low+1)
	for s := p.Low; s <= p.High; s++ {
		out = append(out, s)
	}
	return out
}

func bytesOf(n int, v byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = v
	}
	return b
}
