package reassembly

import "github.com/shadowmesh/raknet/shared/protocol"

// splitBucket collects the fragments of one split message, keyed by
// SplitIndex, until every index in [0, SplitCount) has arrived.
type splitBucket struct {
	splitCount  uint32
	orderIndex  uint32
	reliability protocol.Reliability
	parts       map[uint32]protocol.Frame
}

func (b *splitBucket) full() bool {
	return uint32(len(b.parts)) == b.splitCount
}

// reassemble concatenates fragment payloads in index order into a
// single Frame carrying the bucket's shared OrderIndex and reliability.
func (b *splitBucket) reassemble() protocol.Frame {
	data := make([]byte, 0)
	for i := uint32(0); i < b.splitCount; i++ {
		data = append(data, b.parts[i].Data...)
	}
	return protocol.Frame{
		Reliability: b.reliability,
		OrderIndex:  b.orderIndex,
		Data:        data,
	}
}

// SplitQueue reassembles fragmented messages, keyed by SplitID.
type SplitQueue struct {
	pool map[uint16]*splitBucket
}

func NewSplitQueue() *SplitQueue {
	return &SplitQueue{pool: make(map[uint16]*splitBucket)}
}

// Add inserts one fragment. The fragment is dropped silently if its
// SplitIndex falls outside [0, SplitCount) — a malformed or adversarial
// peer, not something worth tearing the session down over.
func (q *SplitQueue) Add(frame protocol.Frame) {
	bucket, ok := q.pool[frame.SplitID]
	if !ok {
		bucket = &splitBucket{
			splitCount:  frame.SplitCount,
			orderIndex:  frame.OrderIndex,
			reliability: frame.Reliability,
			parts:       make(map[uint32]protocol.Frame),
		}
		q.pool[frame.SplitID] = bucket
	}
	if frame.SplitIndex < bucket.splitCount {
		bucket.parts[frame.SplitIndex] = frame
	}
}

// Drain returns the reassembled Frame for every bucket that has become
// full since the last Drain, removing them from the pool.
func (q *SplitQueue) Drain() []protocol.Frame {
	var out []protocol.Frame
	for id, bucket := range q.pool {
		if bucket.full() {
			out = append(out, bucket.reassemble())
			delete(q.pool, id)
		}
	}
	return out
}
