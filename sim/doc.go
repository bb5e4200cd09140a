// Package sim provides the per-frame simulation core of the traffic simulator.
//
// # Reading Guide
//
// Start with these files to understand the kernel:
//   - entity.go: the capability set every traffic element implements and its lifecycle
//   - store.go: typed per-kind collections, lookup, compaction and the flattened view
//   - orchestrator.go: Initialize and the fixed per-frame Update pipeline
//   - phases.go: the individual pipeline phases, shared by the primary layer and the overlay
//
// # Architecture
//
// The sim package owns the interfaces and the entity types; collaborators live in
// sub-packages:
//   - sim/dynamics/: longitudinal dynamics solver (registered via init())
//   - sim/hdmap/: a straight multi-lane road implementing MapOracle
//   - sim/scene/: YAML scene files implementing SceneSource and DynamicScene
//   - sim/sketch/: scenario predicates, keyframes and the dominant-tag vote
//   - sim/trace/: pure-data audit and frame records
//
// Sub-packages register their implementations via init() functions that set
// package-level factory variables (NewDynamicsSolverFunc).
//
// # Key Interfaces
//   - Entity: Update/PreUpdate/PostUpdate, CheckStart/CheckEnd, Kill/IsAlive, Location, Kinetics
//   - MapOracle: nearest lane / lane link queries, lane directions and lengths
//   - DynamicsSolver: advances one vehicle's longitudinal state per frame
//   - SceneSource / DynamicScene: entity specs at start and per-frame deltas
//   - SketchEvaluator: optional per-frame scenario evaluation hook
package sim
