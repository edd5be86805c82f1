// Package heap implements the per-multicast-conduit minimum of peer ACK
// watermarks (spec.md §3 "Multicast outgoing conduit (MOC)", §4.2
// "Acknowledge up to seq"). zeno.c calls this a binheap keyed by peer index;
// here it is a small indexed binary min-heap so update/delete-by-peer stay
// O(log n) instead of a linear rescan on every ACK.
package heap

// entry pairs a peer index with its most recently observed ACK watermark.
type entry struct {
	peerIdx int
	seq     uint32
}

// MinSeqHeap tracks, for one multicast conduit, the minimum ACK sequence
// across all peers that must acknowledge it. A peer absent from the heap
// has not yet ACKed anything on this conduit.
type MinSeqHeap struct {
	e   []entry
	pos []int // peerIdx -> index into e, or -1 if absent
}

// New allocates a heap capable of tracking up to maxPeers distinct peer
// indices (0..maxPeers-1).
func New(maxPeers int) *MinSeqHeap {
	pos := make([]int, maxPeers)
	for i := range pos {
		pos[i] = -1
	}
	return &MinSeqHeap{pos: pos}
}

// IsEmpty reports whether no peer currently has a tracked watermark.
func (h *MinSeqHeap) IsEmpty() bool { return len(h.e) == 0 }

// Min returns the current minimum watermark; callers must check IsEmpty
// first.
func (h *MinSeqHeap) Min() uint32 { return h.e[0].seq }

// UpdateSeq records that peerIdx has now ACKed up through seq (inserting
// the peer if it was absent), and returns the resulting heap minimum.
func (h *MinSeqHeap) UpdateSeq(peerIdx int, seq uint32) uint32 {
	if i := h.pos[peerIdx]; i >= 0 {
		old := h.e[i].seq
		h.e[i].seq = seq
		if seq < old {
			h.siftUp(i)
		} else if seq > old {
			h.siftDown(i)
		}
	} else {
		h.e = append(h.e, entry{peerIdx: peerIdx, seq: seq})
		i := len(h.e) - 1
		h.pos[peerIdx] = i
		h.siftUp(i)
	}
	return h.Min()
}

// Delete removes peerIdx's watermark (on peer reset/timeout), reporting
// whether it had one.
func (h *MinSeqHeap) Delete(peerIdx int) bool {
	i := h.pos[peerIdx]
	if i < 0 {
		return false
	}
	last := len(h.e) - 1
	h.swap(i, last)
	h.e = h.e[:last]
	h.pos[peerIdx] = -1
	if i < len(h.e) {
		h.siftDown(i)
		h.siftUp(i)
	}
	return true
}

func (h *MinSeqHeap) swap(i, j int) {
	h.e[i], h.e[j] = h.e[j], h.e[i]
	h.pos[h.e[i].peerIdx] = i
	h.pos[h.e[j].peerIdx] = j
}

func (h *MinSeqHeap) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if h.e[parent].seq <= h.e[i].seq {
			break
		}
		h.swap(parent, i)
		i = parent
	}
}

func (h *MinSeqHeap) siftDown(i int) {
	n := len(h.e)
	for {
		l, r := 2*i+1, 2*i+2
		smallest := i
		if l < n && h.e[l].seq < h.e[smallest].seq {
			smallest = l
		}
		if r < n && h.e[r].seq < h.e[smallest].seq {
			smallest = r
		}
		if smallest == i {
			return
		}
		h.swap(i, smallest)
		i = smallest
	}
}
