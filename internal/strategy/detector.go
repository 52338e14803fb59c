package strategy

import (
	"fmt"
	"time"

	"cci-trader/internal/model"
)

// DetectorState is the state of a single-direction breakout detector.
type DetectorState int

const (
	StateIdle DetectorState = iota
	StateBreached
)

func (s DetectorState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateBreached:
		return "BREACHED"
	default:
		return fmt.Sprintf("DetectorState(%d)", int(s))
	}
}

// Signal is an entry signal emitted when CCI recovers past the entry
// threshold after a breakout.
type Signal struct {
	Direction  model.Direction
	Timestamp  time.Time // candle that fired
	CCI        float64
	BreachTime time.Time // first candle of the breach
	Extreme    float64   // most extreme CCI seen while breached
	Reason     string
}

// Detector is the IDLE/BREACHED state machine for one direction.
//
// LONG:  IDLE → BREACHED when CCI <= -breakout; BREACHED → fire when CCI >= -entry.
// SHORT: IDLE → BREACHED when CCI >= +breakout; BREACHED → fire when CCI <= +entry.
//
// BREACHED has no timeout; it lasts until recovery.
type Detector struct {
	dir      model.Direction
	entry    float64
	breakout float64

	state      DetectorState
	breachTime time.Time
	extreme    float64
}

// NewDetector creates an idle detector. Thresholds are positive magnitudes.
func NewDetector(dir model.Direction, entry, breakout float64) *Detector {
	return &Detector{dir: dir, entry: entry, breakout: breakout}
}

func (d *Detector) Direction() model.Direction { return d.dir }
func (d *Detector) State() DetectorState       { return d.state }

// Reset returns the detector to IDLE.
func (d *Detector) Reset() {
	d.state = StateIdle
	d.breachTime = time.Time{}
	d.extreme = 0
}

// Step advances the detector by one sample and returns a signal when the
// sample completes a breakout → recovery transition. Samples that are not
// ready are ignored.
func (d *Detector) Step(s model.IndicatorSample) *Signal {
	if !s.Ready {
		return nil
	}
	v := s.Value

	switch d.state {
	case StateIdle:
		if d.breached(v) {
			d.state = StateBreached
			d.breachTime = s.Timestamp
			d.extreme = v
		}
		return nil

	case StateBreached:
		if d.recovered(v) {
			sig := &Signal{
				Direction:  d.dir,
				Timestamp:  s.Timestamp,
				CCI:        v,
				BreachTime: d.breachTime,
				Extreme:    d.extreme,
				Reason:     d.reason(v),
			}
			d.Reset()
			return sig
		}
		if d.moreExtreme(v) {
			d.extreme = v
		}
	}
	return nil
}

func (d *Detector) breached(v float64) bool {
	if d.dir == model.Short {
		return v >= d.breakout
	}
	return v <= -d.breakout
}

func (d *Detector) recovered(v float64) bool {
	if d.dir == model.Short {
		return v <= d.entry
	}
	return v >= -d.entry
}

func (d *Detector) moreExtreme(v float64) bool {
	if d.dir == model.Short {
		return v > d.extreme
	}
	return v < d.extreme
}

func (d *Detector) reason(v float64) string {
	if d.dir == model.Short {
		return fmt.Sprintf("CCI fell back to %.2f (<= %.2f) after breaking above %.2f (peak %.2f)",
			v, d.entry, d.breakout, d.extreme)
	}
	return fmt.Sprintf("CCI recovered to %.2f (>= %.2f) after breaking below %.2f (low %.2f)",
		v, -d.entry, -d.breakout, d.extreme)
}

// DetectorPair runs a LONG and a SHORT detector over the same CCI series.
type DetectorPair struct {
	Long  *Detector
	Short *Detector
}

// NewDetectorPair creates both detectors from the settings thresholds.
func NewDetectorPair(s Settings) *DetectorPair {
	return &DetectorPair{
		Long:  NewDetector(model.Long, s.EntryThreshold, s.BreakoutThreshold),
		Short: NewDetector(model.Short, s.EntryThreshold, s.BreakoutThreshold),
	}
}

// Step advances both detectors. Either result may be nil.
func (p *DetectorPair) Step(s model.IndicatorSample) (long, short *Signal) {
	return p.Long.Step(s), p.Short.Step(s)
}

// Reset returns both detectors to IDLE.
func (p *DetectorPair) Reset() {
	p.Long.Reset()
	p.Short.Reset()
}

// Pick chooses one signal when both directions fire on the same candle: the
// one whose breach started most recently wins. Either argument may be nil.
func Pick(long, short *Signal) *Signal {
	switch {
	case long == nil:
		return short
	case short == nil:
		return long
	case short.BreachTime.After(long.BreachTime):
		return short
	default:
		return long
	}
}
