package livesignal

import (
	"time"

	"cci-trader/internal/model"
)

// Phase tags the variant held by a PollState.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseFetching
	PhaseEvaluated
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseFetching:
		return "fetching"
	case PhaseEvaluated:
		return "evaluated"
	case PhaseFailed:
		return "failed"
	}
	return "unknown"
}

// PollState is the per-config poll state. Which fields are meaningful
// depends on Phase:
//
//	idle       nothing
//	fetching   Started
//	evaluated  Started, Finished, Candles, Signal (nil when nothing fired)
//	failed     Started, Finished, Err
type PollState struct {
	Phase    Phase
	Started  time.Time
	Finished time.Time
	Candles  int
	Signal   *model.MarketSignal
	Err      error
}

func idle() PollState { return PollState{Phase: PhaseIdle} }

func fetching(started time.Time) PollState {
	return PollState{Phase: PhaseFetching, Started: started}
}

func evaluated(started, finished time.Time, candles int, sig *model.MarketSignal) PollState {
	return PollState{Phase: PhaseEvaluated, Started: started, Finished: finished, Candles: candles, Signal: sig}
}

func failed(started, finished time.Time, err error) PollState {
	return PollState{Phase: PhaseFailed, Started: started, Finished: finished, Err: err}
}
