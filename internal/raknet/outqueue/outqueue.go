// Package outqueue batches outbound frames into FrameSets, hands them
// to the session on demand, and resends anything that goes unacked past
// a fixed timeout or gets explicitly NACKed.
package outqueue

import (
	"time"

	"github.com/shadowmesh/raknet/shared/protocol"
)

type sendState struct {
	sentAt  time.Time
	ticked  bool
}

// Queue is the per-session outbound sliding window. It is not
// goroutine-safe; callers serialize access through the session's single
// update loop, the same way the reference session does.
type Queue struct {
	mtu uint16

	sets  map[uint32]protocol.FrameSet
	state map[uint32]sendState

	max     uint32
	sendMin uint32

	resend []uint32

	pendingSize  int
	pendingFrames []protocol.Frame
}

func New(mtu uint16) *Queue {
	return &Queue{
		mtu:   mtu,
		sets:  make(map[uint32]protocol.FrameSet),
		state: make(map[uint32]sendState),
	}
}

// AddFrame appends a frame to the batch being assembled for the next
// tick, unless it (or the batch so far) would overflow the MTU, or the
// frame is itself a split fragment — split fragments always go out
// alone in their own FrameSet so the reassembly queue on the far end
// sees one fragment per datagram. In that case the pending batch is
// sealed first, so it keeps a lower sequence number than the frame.
func (q *Queue) AddFrame(frame protocol.Frame) {
	if q.pendingSize+frame.Length() < int(q.mtu)-42 && !frame.Split {
		q.pendingSize += frame.Length()
		q.pendingFrames = append(q.pendingFrames, frame)
		return
	}

	if len(q.pendingFrames) > 0 {
		q.addSet(protocol.FrameSet{
			Header:         byte(protocol.FlagDatagram | protocol.FlagNeedsBAndAS),
			SequenceNumber: q.max,
			Frames:         q.pendingFrames,
		})
		q.pendingFrames = nil
		q.pendingSize = 0
	}

	header := byte(protocol.FlagDatagram | protocol.FlagNeedsBAndAS)
	if frame.Split {
		header |= protocol.FlagContinuousSend
	}
	q.addSet(protocol.FrameSet{
		Header:         header,
		SequenceNumber: q.max,
		Frames:         []protocol.Frame{frame},
	})
}

func (q *Queue) addSet(set protocol.FrameSet) {
	if set.SequenceNumber != q.max {
		return
	}
	q.max++
	q.state[set.SequenceNumber] = sendState{sentAt: time.Now()}
	q.sets[set.SequenceNumber] = set
}

// Received removes a FrameSet the peer has ACKed; it needs no further
// tracking.
func (q *Queue) Received(sequence uint32) {
	delete(q.sets, sequence)
	delete(q.state, sequence)
}

// tick flushes the pending frame batch into a new FrameSet and marks
// anything that has sat unacked past the retransmit timeout for resend.
func (q *Queue) tick() {
	if len(q.pendingFrames) > 0 {
		q.addSet(protocol.FrameSet{
			Header:         byte(protocol.FlagDatagram | protocol.FlagNeedsBAndAS),
			SequenceNumber: q.max,
			Frames:         q.pendingFrames,
		})
		q.pendingFrames = nil
		q.pendingSize = 0
	}

	now := time.Now()
	for seq, st := range q.state {
		if st.ticked && now.Sub(st.sentAt) > protocol.RetransmitTimeout {
			q.resend = append(q.resend, seq)
		}
	}
}

// readd renumbers every timed-out FrameSet to the current sequence
// number tip and resends it, matching how the reference queue treats a
// retransmit identically to brand-new traffic.
func (q *Queue) readd() {
	for _, seq := range q.resend {
		q.reseq(seq)
	}
	q.resend = nil
}

func (q *Queue) reseq(seq uint32) {
	set, ok := q.sets[seq]
	if !ok {
		return
	}
	set.SequenceNumber = q.max
	q.sets[q.max] = set
	delete(q.sets, seq)
	delete(q.state, seq)
	q.state[q.max] = sendState{sentAt: time.Now()}
	q.max++
}

// Resend immediately renumbers and resends the FrameSet at sequence, in
// response to an explicit NACK rather than waiting for the retransmit
// timer.
func (q *Queue) Resend(sequence uint32) {
	if _, ok := q.state[sequence]; ok {
		q.reseq(sequence)
	}
}

// Packets ticks the queue, folds in anything due for resend, and
// returns every FrameSet now ready to be put on the wire, starting the
// retransmit timer on each.
func (q *Queue) Packets() []protocol.FrameSet {
	q.tick()
	q.readd()

	out := make([]protocol.FrameSet, 0, q.max-q.sendMin)
	for i := q.sendMin; i < q.max; i++ {
		set, ok := q.sets[i]
		if !ok {
			continue
		}
		out = append(out, set)
		st := q.state[i]
		st.ticked = true
		q.state[i] = st
	}
	q.sendMin = q.max
	return out
}
