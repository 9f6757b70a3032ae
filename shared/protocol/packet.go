package protocol

// Packet is implemented by every wire message type. ID identifies the
// packet on the wire; Read/Write (de)serialize everything after the ID
// byte, which Encode/Decode handle separately.
type Packet interface {
	PacketID() byte
	Read(r *Reader) error
	Write(w *Writer)
}

// Encode prefixes the packet's ID byte and writes its body.
func Encode(p Packet) []byte {
	w := NewWriter()
	w.WriteU8(p.PacketID())
	p.Write(w)
	return w.Bytes()
}

// Decode reads a packet body from buf[1:], assuming buf[0] already
// identified the type to the caller.
func Decode(buf []byte, p Packet) error {
	r := NewReader(buf[1:])
	return p.Read(r)
}
