package sim

import "github.com/paulmach/orb"

// DynamicsState is the solver-facing longitudinal state of one vehicle.
type DynamicsState struct {
	Position orb.Point
	Heading  float64
	Speed    float64
	Accel    float64
}

// DynamicsInput is the behavior command for one solver step.
type DynamicsInput struct {
	Accel   float64 // requested longitudinal acceleration (m/s^2)
	Heading float64 // heading to hold during the step (lane direction)
	Dt      float64 // step length (s)
}

// DynamicsLimits bounds what the solver may produce.
type DynamicsLimits struct {
	MaxSpeed float64 // m/s
	MaxAccel float64 // m/s^2, positive
	MaxBrake float64 // m/s^2, positive magnitude
}

// DefaultDynamicsLimits are used when a vehicle spec leaves its limits zero.
var DefaultDynamicsLimits = DynamicsLimits{MaxSpeed: 40, MaxAccel: 3, MaxBrake: 8}

// DynamicsSolver advances one vehicle by one step. It is opaque to the pipeline and is
// invoked once per vehicle per frame from worker goroutines; implementations must not
// share mutable state across calls.
type DynamicsSolver interface {
	Step(state DynamicsState, in DynamicsInput, limits DynamicsLimits) DynamicsState
}

// NewDynamicsSolverFunc is set by sim/dynamics's init() to break the import cycle
// between sim/ (interface owner) and sim/dynamics/ (implementation).
// Production callers import sim/dynamics; tests in package sim use
// dynamics_import_test.go for the blank import.
var NewDynamicsSolverFunc func() DynamicsSolver

// NewDynamicsSolver returns the registered solver. Panics if no implementation was
// registered.
func NewDynamicsSolver() DynamicsSolver {
	if NewDynamicsSolverFunc == nil {
		panic("NewDynamicsSolverFunc not registered: import sim/dynamics to register it " +
			"(add: import _ \"github.com/inference-sim/traffic-sim/sim/dynamics\")")
	}
	return NewDynamicsSolverFunc()
}
