package sim

import (
	"fmt"
	"math"
)

// LightState is a signal light color. LightNone is the zero value carried by snapshot
// objects that are not traffic lights.
type LightState int

const (
	LightNone LightState = iota
	LightGreen
	LightYellow
	LightRed
)

func (s LightState) String() string {
	switch s {
	case LightNone:
		return "none"
	case LightGreen:
		return "green"
	case LightYellow:
		return "yellow"
	case LightRed:
		return "red"
	}
	return "unknown"
}

// SignalSpec describes a fixed-cycle signal light controlling a stop line on one lane.
type SignalSpec struct {
	ID     int
	Lane   LaneKey
	StopS  float64
	Green  float64
	Yellow float64
	Red    float64
	Offset float64
}

// SignalLight cycles green → yellow → red.
type SignalLight struct {
	Base
	lane   LaneKey
	stopS  float64
	green  float64
	yellow float64
	red    float64
	offset float64
	light  LightState
}

// NewSignalLight builds a signal light located at its stop line.
func NewSignalLight(spec SignalSpec, oracle MapOracle) (*SignalLight, error) {
	if spec.Green < 0 || spec.Yellow < 0 || spec.Red < 0 || spec.Green+spec.Yellow+spec.Red <= 0 {
		return nil, fmt.Errorf("signal %d: cycle durations must be non-negative with a positive sum", spec.ID)
	}
	s := &SignalLight{
		lane:   spec.Lane,
		stopS:  spec.StopS,
		green:  spec.Green,
		yellow: spec.Yellow,
		red:    spec.Red,
		offset: spec.Offset,
	}
	s.init(KindSignalLight, spec.ID, 0, 0)
	loc, err := LaneLocation(oracle, spec.Lane, spec.StopS, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("signal %d: %w", spec.ID, err)
	}
	s.place(loc, 0)
	s.light = s.stateAt(0)
	return s, nil
}

func (s *SignalLight) stateAt(t float64) LightState {
	cycle := s.green + s.yellow + s.red
	phase := math.Mod(t+s.offset, cycle)
	if phase < 0 {
		phase += cycle
	}
	switch {
	case phase < s.green:
		return LightGreen
	case phase < s.green+s.yellow:
		return LightYellow
	}
	return LightRed
}

func (s *SignalLight) Update(fc *FrameContext) error {
	s.light = s.stateAt(fc.Time)
	return nil
}

func (s *SignalLight) Light() LightState       { return s.light }
func (s *SignalLight) ControlledLane() LaneKey { return s.lane }
func (s *SignalLight) StopS() float64          { return s.stopS }
