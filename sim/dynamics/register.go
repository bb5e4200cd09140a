// register.go wires the point-mass solver into the sim package's registration variable
// (NewDynamicsSolverFunc). This init() runs when any package imports sim/dynamics,
// breaking the import cycle between sim/ (interface owner) and sim/dynamics/
// (implementation). Production code imports sim/dynamics directly; test code in package
// sim uses dynamics_import_test.go for the blank import.
package dynamics

import "github.com/inference-sim/traffic-sim/sim"

func init() {
	sim.NewDynamicsSolverFunc = func() sim.DynamicsSolver { return PointMass{} }
}
