package reassembly

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/shadowmesh/raknet/shared/protocol"
)

func fragment(splitID uint16, splitIndex, splitCount uint32, data string) protocol.Frame {
	return protocol.Frame{
		Reliability: protocol.ReliableOrdered,
		OrderIndex:  7,
		Split:       true,
		SplitID:     splitID,
		SplitIndex:  splitIndex,
		SplitCount:  splitCount,
		Data:        []byte(data),
	}
}

func TestSplitQueueReassemblesInIndexOrder(t *testing.T) {
	q := NewSplitQueue()
	q.Add(fragment(1, 0, 3, "foo"))
	q.Add(fragment(1, 1, 3, "bar"))
	q.Add(fragment(1, 2, 3, "baz"))

	out := q.Drain()
	if len(out) != 1 {
		t.Fatalf("Drain() = %d frames, want 1 reassembled frame", len(out))
	}
	if got, want := string(out[0].Data), "foobarbaz"; got != want {
		t.Errorf("reassembled data = %q, want %q", got, want)
	}
	if out[0].OrderIndex != 7 {
		t.Errorf("OrderIndex = %d, want 7", out[0].OrderIndex)
	}
}

func TestSplitQueueReassemblesAnyArrivalPermutation(t *testing.T) {
	const n = 8
	parts := make([]string, n)
	for i := range parts {
		parts[i] = string(rune('a' + i))
	}
	want := ""
	for _, p := range parts {
		want += p
	}

	order := rand.Perm(n)
	q := NewSplitQueue()
	for _, idx := range order {
		q.Add(fragment(5, uint32(idx), n, parts[idx]))
	}

	out := q.Drain()
	if len(out) != 1 {
		t.Fatalf("Drain() = %d frames, want 1", len(out))
	}
	if got := string(out[0].Data); got != want {
		t.Errorf("reassembled data = %q, want %q", got, want)
	}
}

func TestSplitQueueIncompleteBucketNotDrained(t *testing.T) {
	q := NewSplitQueue()
	q.Add(fragment(2, 0, 2, "only-one"))

	if out := q.Drain(); len(out) != 0 {
		t.Fatalf("Drain() = %d frames, want 0 (bucket incomplete)", len(out))
	}
}

func TestSplitQueueDropsOutOfRangeIndex(t *testing.T) {
	q := NewSplitQueue()
	q.Add(fragment(3, 0, 2, "a"))
	q.Add(fragment(3, 5, 2, "out-of-range")) // SplitIndex >= SplitCount, dropped
	q.Add(fragment(3, 1, 2, "b"))

	out := q.Drain()
	if len(out) != 1 {
		t.Fatalf("Drain() = %d frames, want 1", len(out))
	}
	if got, want := string(out[0].Data), "ab"; got != want {
		t.Errorf("reassembled data = %q, want %q (out-of-range fragment must be ignored)", got, want)
	}
}

func TestSplitQueueDrainRemovesCompletedBuckets(t *testing.T) {
	q := NewSplitQueue()
	q.Add(fragment(4, 0, 1, "x"))
	first := q.Drain()
	if len(first) != 1 {
		t.Fatalf("first Drain() = %d, want 1", len(first))
	}
	if second := q.Drain(); len(second) != 0 {
		t.Fatalf("second Drain() = %d, want 0 (bucket already removed)", len(second))
	}
	if !bytes.Equal(first[0].Data, []byte("x")) {
		t.Errorf("data = %q, want %q", first[0].Data, "x")
	}
}
