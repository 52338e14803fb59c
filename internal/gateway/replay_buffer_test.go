package gateway

import "testing"

func push(rb *ReplayBuffer, from, to int64) {
	for i := from; i <= to; i++ {
		sym := "BTCUSDT"
		if i%2 == 0 {
			sym = "ETHUSDT"
		}
		rb.Push(replayEntry{Seq: i, Symbol: sym, Data: []byte("msg")})
	}
}

func seqs(es []replayEntry) []int64 {
	out := make([]int64, len(es))
	for i, e := range es {
		out[i] = e.Seq
	}
	return out
}

func TestReplayBuffer_After(t *testing.T) {
	rb := NewReplayBuffer(100)
	push(rb, 1, 6)

	got := seqs(rb.After(4, nil))
	if len(got) != 2 || got[0] != 5 || got[1] != 6 {
		t.Fatalf("After(4) = %v, want [5 6]", got)
	}
	if n := len(rb.After(6, nil)); n != 0 {
		t.Errorf("After(newest) returned %d entries", n)
	}
	if n := len(rb.After(0, nil)); n != 6 {
		t.Errorf("After(0) returned %d entries, want 6", n)
	}
}

func TestReplayBuffer_Filter(t *testing.T) {
	rb := NewReplayBuffer(10)
	push(rb, 1, 6)

	got := seqs(rb.After(1, func(e replayEntry) bool { return e.Symbol == "ETHUSDT" }))
	if len(got) != 3 || got[0] != 2 || got[2] != 6 {
		t.Fatalf("filtered = %v, want [2 4 6]", got)
	}
}

func TestReplayBuffer_Wraparound(t *testing.T) {
	rb := NewReplayBuffer(5)
	push(rb, 1, 8)

	if rb.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", rb.Len())
	}
	if rb.Oldest() != 4 {
		t.Errorf("Oldest() = %d, want 4", rb.Oldest())
	}
	got := seqs(rb.After(0, nil))
	if len(got) != 5 || got[0] != 4 || got[4] != 8 {
		t.Fatalf("After(0) = %v, want 4..8", got)
	}
	got = seqs(rb.After(6, nil))
	if len(got) != 2 || got[0] != 7 {
		t.Fatalf("After(6) = %v, want [7 8]", got)
	}
}

func TestReplayBuffer_Gaps(t *testing.T) {
	rb := NewReplayBuffer(4)
	for _, s := range []int64{3, 7, 9, 15} {
		rb.Push(replayEntry{Seq: s})
	}
	got := seqs(rb.After(8, nil))
	if len(got) != 2 || got[0] != 9 || got[1] != 15 {
		t.Fatalf("After(8) = %v, want [9 15]", got)
	}
}

func TestReplayBuffer_CopiesData(t *testing.T) {
	rb := NewReplayBuffer(2)
	data := []byte("abc")
	rb.Push(replayEntry{Seq: 1, Data: data})
	data[0] = 'x'
	if got := string(rb.After(0, nil)[0].Data); got != "abc" {
		t.Errorf("buffer aliased caller slice: %q", got)
	}
}

func TestReplayBuffer_Empty(t *testing.T) {
	rb := NewReplayBuffer(10)
	if got := rb.After(0, nil); len(got) != 0 {
		t.Fatalf("empty buffer returned %d entries", len(got))
	}
	if rb.Oldest() != 0 {
		t.Errorf("Oldest() on empty = %d", rb.Oldest())
	}
}
