package reassembly

import (
	"testing"

	"github.com/shadowmesh/raknet/shared/protocol"
)

func frameWithOrder(idx uint32, data string) protocol.Frame {
	return protocol.Frame{Reliability: protocol.ReliableOrdered, OrderIndex: idx, Data: []byte(data)}
}

func TestReceivedQueueReleasesInOrder(t *testing.T) {
	q := NewReceivedQueue()

	if out := q.Add(frameWithOrder(0, "a")); len(out) != 1 || string(out[0].Data) != "a" {
		t.Fatalf("Add(0) = %+v, want immediate release of frame 0", out)
	}
	if out := q.Add(frameWithOrder(1, "b")); len(out) != 1 || string(out[0].Data) != "b" {
		t.Fatalf("Add(1) = %+v, want immediate release of frame 1", out)
	}
}

func TestReceivedQueueBuffersAheadOfGap(t *testing.T) {
	q := NewReceivedQueue()

	if out := q.Add(frameWithOrder(2, "c")); len(out) != 0 {
		t.Fatalf("Add(2) before 0/1 arrived = %+v, want nothing released", out)
	}
	if out := q.Add(frameWithOrder(1, "b")); len(out) != 0 {
		t.Fatalf("Add(1) with 0 still missing = %+v, want nothing released", out)
	}

	out := q.Add(frameWithOrder(0, "a"))
	if len(out) != 3 {
		t.Fatalf("Add(0) releasing the buffered run = %+v, want 3 frames", out)
	}
	for i, want := range []string{"a", "b", "c"} {
		if string(out[i].Data) != want {
			t.Errorf("released[%d] = %q, want %q", i, out[i].Data, want)
		}
	}
}

func TestReceivedQueueStopsAtNextGap(t *testing.T) {
	q := NewReceivedQueue()
	q.Add(frameWithOrder(0, "a"))
	q.Add(frameWithOrder(3, "d")) // out of order, leaves a gap at 1,2

	out := q.Add(frameWithOrder(1, "b"))
	if len(out) != 1 || string(out[0].Data) != "b" {
		t.Fatalf("Add(1) = %+v, want only frame 1 released (2 still missing)", out)
	}
}
