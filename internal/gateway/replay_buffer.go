package gateway

import "sync"

// replayEntry is one broadcast envelope plus the fields clients filter on.
type replayEntry struct {
	Seq      int64
	Symbol   string
	Username string
	Data     []byte
}

// ReplayBuffer keeps the most recent signal envelopes so a reconnecting
// client can catch up from its last seen seq. Seqs must be pushed in
// strictly increasing order; gaps are allowed.
type ReplayBuffer struct {
	mu      sync.RWMutex
	entries []replayEntry
	head    int // index of the oldest entry
	size    int
}

func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{entries: make([]replayEntry, capacity)}
}

// Push stores a copy of e, evicting the oldest entry when full.
func (rb *ReplayBuffer) Push(e replayEntry) {
	e.Data = append([]byte(nil), e.Data...)

	rb.mu.Lock()
	defer rb.mu.Unlock()
	n := len(rb.entries)
	if rb.size < n {
		rb.entries[(rb.head+rb.size)%n] = e
		rb.size++
		return
	}
	rb.entries[rb.head] = e
	rb.head = (rb.head + 1) % n
}

// After returns entries with Seq > seq that keep accepts (nil keeps all),
// oldest first.
func (rb *ReplayBuffer) After(seq int64, keep func(replayEntry) bool) []replayEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	start := rb.search(seq)
	var out []replayEntry
	for i := start; i < rb.size; i++ {
		e := rb.at(i)
		if keep == nil || keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// Oldest returns the smallest seq still held, or 0 when empty. A client whose
// last seq is below Oldest()-1 has missed envelopes that can't be replayed.
func (rb *ReplayBuffer) Oldest() int64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.size == 0 {
		return 0
	}
	return rb.at(0).Seq
}

func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

func (rb *ReplayBuffer) at(i int) replayEntry {
	return rb.entries[(rb.head+i)%len(rb.entries)]
}

// search returns the logical index of the first entry with Seq > seq.
func (rb *ReplayBuffer) search(seq int64) int {
	lo, hi := 0, rb.size
	for lo < hi {
		mid := (lo + hi) / 2
		if rb.at(mid).Seq <= seq {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
