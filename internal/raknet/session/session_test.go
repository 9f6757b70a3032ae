package session

import (
	"net"
	"sync"
	"testing"

	"github.com/shadowmesh/raknet/pkg/logging"
	"github.com/shadowmesh/raknet/shared/protocol"
)

// recordingSender captures every datagram a Session sends, looping none
// of it back automatically; tests wire the loopback themselves when two
// sessions need to talk to each other.
type recordingSender struct {
	mu  sync.Mutex
	out [][]byte
}

func (s *recordingSender) SendTo(b []byte, _ *net.UDPAddr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(b))
	copy(cp, b)
	s.out = append(s.out, cp)
	return nil
}

func (s *recordingSender) take() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.out
	s.out = nil
	return out
}

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	log, err := logging.NewLogger("session-test", logging.WARN, "")
	if err != nil {
		t.Fatalf("logging.NewLogger() error = %v", err)
	}
	return log
}

func newTestSession(t *testing.T) (*Session, *recordingSender) {
	t.Helper()
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 19132}
	send := &recordingSender{}
	return New(addr, 1400, send, testLogger(t)), send
}

func TestHandleConnectedPingRepliesWithPong(t *testing.T) {
	s, send := newTestSession(t)

	ping := protocol.ConnectedPing{ClientTimestamp: 42}
	set := protocol.FrameSet{
		Header:         protocol.FlagDatagram,
		SequenceNumber: 0,
		Frames:         []protocol.Frame{protocol.NewFrame(protocol.Unreliable, protocol.Encode(&ping))},
	}
	s.HandleDatagram(set.Encode())
	s.ForceFlush()

	out := send.take()
	var sawPong bool
	for _, b := range out {
		if len(b) == 0 || b[0]&protocol.FlagDatagram == 0 {
			continue
		}
		fs, err := protocol.DecodeFrameSet(b)
		if err != nil {
			t.Fatalf("DecodeFrameSet() error = %v", err)
		}
		for _, f := range fs.Frames {
			if len(f.Data) > 0 && f.Data[0] == protocol.IDConnectedPong {
				var pong protocol.ConnectedPong
				if err := protocol.Decode(f.Data, &pong); err != nil {
					t.Fatalf("Decode(pong) error = %v", err)
				}
				if pong.ClientTimestamp != 42 {
					t.Errorf("pong ClientTimestamp = %d, want 42", pong.ClientTimestamp)
				}
				sawPong = true
			}
		}
	}
	if !sawPong {
		t.Fatal("session never replied with a ConnectedPong")
	}
}

func TestHandleFrameSetAcksAndDeliversApplicationData(t *testing.T) {
	s, send := newTestSession(t)

	var delivered [][]byte
	s.OnPacket = func(b []byte) {
		delivered = append(delivered, append([]byte(nil), b...))
	}

	set := protocol.FrameSet{
		Header:         protocol.FlagDatagram,
		SequenceNumber: 7,
		Frames:         []protocol.Frame{protocol.NewFrame(protocol.Unreliable, []byte("hello"))},
	}
	s.HandleDatagram(set.Encode())

	if len(delivered) != 1 || string(delivered[0]) != "hello" {
		t.Fatalf("delivered = %v, want [\"hello\"]", delivered)
	}

	s.flushAck()
	acked := send.take()
	if len(acked) != 1 {
		t.Fatalf("flushAck sent %d datagrams, want 1 Ack", len(acked))
	}
	var ack protocol.Ack
	if err := protocol.Decode(acked[0], &ack); err != nil {
		t.Fatalf("Decode(ack) error = %v", err)
	}
	seqs := ack.All()
	if len(seqs) != 1 || seqs[0] != 7 {
		t.Fatalf("acked sequences = %v, want [7]", seqs)
	}
}

func TestReliableOrderedFramesDeliverInOrder(t *testing.T) {
	s, _ := newTestSession(t)

	var delivered []string
	s.OnPacket = func(b []byte) { delivered = append(delivered, string(b)) }

	mk := func(seq uint32, orderIdx uint32, data string) protocol.FrameSet {
		f := protocol.NewFrame(protocol.ReliableOrdered, []byte(data))
		f.MessageIndex = orderIdx
		f.OrderIndex = orderIdx
		return protocol.FrameSet{Header: protocol.FlagDatagram, SequenceNumber: seq, Frames: []protocol.Frame{f}}
	}

	s.HandleDatagram(mk(0, 1, "second").Encode())
	s.HandleDatagram(mk(1, 0, "first").Encode())

	if len(delivered) != 2 || delivered[0] != "first" || delivered[1] != "second" {
		t.Fatalf("delivered = %v, want [first second]", delivered)
	}
}

func TestSendToFragmentsLargePayloadAndReassemblesOnReceipt(t *testing.T) {
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 19132}
	sendA := &recordingSender{}
	a := New(addr, 200, sendA, testLogger(t))

	payload := make([]byte, 900)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	// Lead with an application packet ID: a leading 0x00 would be taken
	// for a ConnectedPing and answered by the session instead of delivered.
	payload[0] = 0xfe
	a.SendTo(payload)

	sets := a.out.Packets()
	if len(sets) == 0 {
		t.Fatal("no FrameSets produced for a fragmented send")
	}

	sendB := &recordingSender{}
	b := New(addr, 200, sendB, testLogger(t))
	var delivered []byte
	b.OnPacket = func(d []byte) { delivered = append(delivered, d...) }

	for _, set := range sets {
		b.HandleDatagram(set.Encode())
	}

	if len(delivered) != len(payload) {
		t.Fatalf("reassembled length = %d, want %d", len(delivered), len(payload))
	}
	for i := range payload {
		if delivered[i] != payload[i] {
			t.Fatalf("reassembled[%d] = %d, want %d", i, delivered[i], payload[i])
		}
	}
}

func TestHandleAckRemovesSetFromOutqueue(t *testing.T) {
	s, send := newTestSession(t)
	s.SendSystemPacket(&protocol.Disconnected{}, protocol.ReliableOrdered)
	sets := s.out.Packets()
	if len(sets) != 1 {
		t.Fatalf("Packets() = %d sets, want 1", len(sets))
	}
	seq := sets[0].SequenceNumber

	ack := protocol.NewAck(seq, seq)
	s.HandleDatagram(protocol.Encode(&ack))
	send.take()

	// A resend attempt after the ack must produce nothing further.
	s.out.Resend(seq)
	if got := s.out.Packets(); len(got) != 0 {
		t.Errorf("Packets() after ack+resend = %d, want 0", len(got))
	}
}

func TestDisconnectEndsSessionAndFiresOnEnd(t *testing.T) {
	s, send := newTestSession(t)
	var ended bool
	s.OnEnd = func() { ended = true }

	s.Disconnect()

	if !ended {
		t.Fatal("OnEnd was not invoked after Disconnect")
	}
	out := send.take()
	if len(out) == 0 {
		t.Fatal("Disconnect did not flush a Disconnected frame before ending")
	}

	// A second Disconnect must be a no-op, not a double OnEnd fire.
	ended = false
	s.Disconnect()
	if ended {
		t.Error("OnEnd fired again on a second Disconnect call")
	}
}

func TestReceivingDisconnectedEndsSession(t *testing.T) {
	s, _ := newTestSession(t)
	var ended bool
	s.OnEnd = func() { ended = true }

	var d protocol.Disconnected
	set := protocol.FrameSet{
		Header:         protocol.FlagDatagram,
		SequenceNumber: 0,
		Frames:         []protocol.Frame{protocol.NewFrame(protocol.ReliableOrdered, protocol.Encode(&d))},
	}
	s.HandleDatagram(set.Encode())

	if !ended {
		t.Fatal("receiving a Disconnected frame should end the session")
	}
}
