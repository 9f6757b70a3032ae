package protocol

import (
	"bytes"
	"testing"
)

func TestFrameRoundTripByReliability(t *testing.T) {
	tests := []struct {
		name        string
		reliability Reliability
	}{
		{"Unreliable", Unreliable},
		{"UnreliableSequenced", UnreliableSequenced},
		{"Reliable", Reliable},
		{"ReliableOrdered", ReliableOrdered},
		{"ReliableSequenced", ReliableSequenced},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := Frame{
				Reliability:   tt.reliability,
				MessageIndex:  1,
				SequenceIndex: 2,
				OrderIndex:    3,
				Data:          []byte("payload data"),
			}

			w := NewWriter()
			frame.Encode(w)
			if w.Len() != frame.Length() {
				t.Fatalf("Length() = %d, encoded = %d", frame.Length(), w.Len())
			}

			r := NewReader(w.Bytes())
			decoded, err := DecodeFrame(r)
			if err != nil {
				t.Fatalf("DecodeFrame() error = %v", err)
			}

			if decoded.Reliability != frame.Reliability {
				t.Errorf("Reliability = %v, want %v", decoded.Reliability, frame.Reliability)
			}
			if tt.reliability.Reliable() && decoded.MessageIndex != frame.MessageIndex {
				t.Errorf("MessageIndex = %d, want %d", decoded.MessageIndex, frame.MessageIndex)
			}
			if tt.reliability.Sequenced() && decoded.SequenceIndex != frame.SequenceIndex {
				t.Errorf("SequenceIndex = %d, want %d", decoded.SequenceIndex, frame.SequenceIndex)
			}
			if tt.reliability.SequencedOrOrdered() && decoded.OrderIndex != frame.OrderIndex {
				t.Errorf("OrderIndex = %d, want %d", decoded.OrderIndex, frame.OrderIndex)
			}
			if !bytes.Equal(decoded.Data, frame.Data) {
				t.Errorf("Data = %q, want %q", decoded.Data, frame.Data)
			}
		})
	}
}

func TestFrameRoundTripWithSplit(t *testing.T) {
	frame := Frame{
		Reliability: ReliableOrdered,
		MessageIndex: 7,
		OrderIndex:   1,
		Split:        true,
		SplitCount:   4,
		SplitID:      99,
		SplitIndex:   2,
		Data:         []byte("fragment payload"),
	}

	w := NewWriter()
	frame.Encode(w)

	r := NewReader(w.Bytes())
	decoded, err := DecodeFrame(r)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}

	if !decoded.Split {
		t.Fatal("decoded.Split = false, want true")
	}
	if decoded.SplitCount != frame.SplitCount || decoded.SplitID != frame.SplitID || decoded.SplitIndex != frame.SplitIndex {
		t.Errorf("split fields = %+v, want SplitCount=%d SplitID=%d SplitIndex=%d",
			decoded, frame.SplitCount, frame.SplitID, frame.SplitIndex)
	}
	if !bytes.Equal(decoded.Data, frame.Data) {
		t.Errorf("Data = %q, want %q", decoded.Data, frame.Data)
	}
}

func TestFrameBitLengthEncoding(t *testing.T) {
	frame := NewFrame(Unreliable, []byte("12345678"))
	w := NewWriter()
	frame.Encode(w)

	// header byte + 2-byte bit-length field precede the payload.
	bitLen := uint16(w.Bytes()[1])<<8 | uint16(w.Bytes()[2])
	if int(bitLen) != len(frame.Data)*8 {
		t.Errorf("encoded bit-length = %d, want %d", bitLen, len(frame.Data)*8)
	}
}

func TestDecodeFrameUnknownReliabilityErrors(t *testing.T) {
	// Reliability occupies bits 5-7; 0x7 (111) is not a defined class.
	buf := []byte{0x7 << 5, 0x00, 0x00}
	_, err := DecodeFrame(NewReader(buf))
	if err == nil {
		t.Fatal("DecodeFrame() with unknown reliability should error")
	}
}
