package sim_test

// Blank import registers the point-mass solver for the tests in this directory.
import _ "github.com/inference-sim/traffic-sim/sim/dynamics"
