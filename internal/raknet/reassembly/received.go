// Package reassembly buffers frames that must be delivered to the
// embedder in order (received.go) and reassembles fragmented messages
// back into a single frame (split.go).
package reassembly

import "github.com/shadowmesh/raknet/shared/protocol"

// ReceivedQueue holds sequenced/ordered frames that arrived ahead of
// the frame the embedder is waiting for. A frame is released as soon as
// its OrderIndex matches the next expected index; releasing one frame
// may make the next buffered frame releasable too.
type ReceivedQueue struct {
	expected uint32
	pending  map[uint32]protocol.Frame
}

func NewReceivedQueue() *ReceivedQueue {
	return &ReceivedQueue{pending: make(map[uint32]protocol.Frame)}
}

// Add buffers frame and returns every frame now releasable in order,
// including frame itself if it was already next.
func (q *ReceivedQueue) Add(frame protocol.Frame) []protocol.Frame {
	q.pending[frame.OrderIndex] = frame

	var out []protocol.Frame
	for {
		next, ok := q.pending[q.expected]
		if !ok {
			break
		}
		out = append(out, next)
		delete(q.pending, q.expected)
		q.expected++
	}
	return out
}
