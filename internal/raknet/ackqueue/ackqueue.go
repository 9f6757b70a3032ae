// Package ackqueue tracks which inbound FrameSet sequence numbers a
// session has seen, coalescing them into the minimum number of ACK
// ranges, plus the individual missing sequence numbers to NACK, that a
// session needs to flush each tick.
package ackqueue

// Queue accumulates received sequence numbers in the window between
// lowest (the next sequence number to report) and highest (one past
// the greatest sequence number seen), so a single Flush can partition
// that window into ACK runs and NACK out the gaps.
type Queue struct {
	started bool
	pinned  bool

	lowest   uint32
	highest  uint32
	received map[uint32]bool
}

func New() *Queue {
	return &Queue{received: make(map[uint32]bool)}
}

// Add records that sequence has been received. Once a window has been
// flushed, a sequence below the new lowest is a stale duplicate (the
// sender never reuses a sequence number on retransmit, per §4.6) and
// is dropped rather than reopening an already-reported range.
func (q *Queue) Add(sequence uint32) {
	if !q.started {
		q.started = true
		q.lowest = sequence
		q.highest = sequence + 1
		q.received[sequence] = true
		return
	}
	if q.received[sequence] {
		return
	}
	if sequence < q.lowest {
		if q.pinned {
			return
		}
		q.lowest = sequence
	}
	q.received[sequence] = true
	if sequence+1 > q.highest {
		q.highest = sequence + 1
	}
}

// Range is one ACK-able [Low, High] span.
type Range struct {
	Low, High uint32
}

// Flush scans [lowest, highest), the window of sequence numbers seen
// since the last Flush, partitioning it into ACK ranges and NACKed
// gaps. The scanned window is then cleared: lowest advances to
// highest, so a number that never arrived is NACKed exactly once, not
// forever, matching spec.md §4.4 ("lowest ← highest; the scanned set
// is cleared").
func (q *Queue) Flush() (acks []Range, nacks []uint32) {
	if q.lowest == q.highest {
		return nil, nil
	}

	var runStart uint32
	inRun := false
	for seq := q.lowest; seq != q.highest; seq++ {
		if q.received[seq] {
			if !inRun {
				runStart = seq
				inRun = true
			}
		} else {
			if inRun {
				acks = append(acks, Range{Low: runStart, High: seq - 1})
				inRun = false
			}
			nacks = append(nacks, seq)
		}
		delete(q.received, seq)
	}
	if inRun {
		acks = append(acks, Range{Low: runStart, High: q.highest - 1})
	}

	q.lowest = q.highest
	q.pinned = true
	return acks, nacks
}
