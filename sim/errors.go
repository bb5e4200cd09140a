package sim

import "errors"

var (
	// ErrNotAlive is returned by Update on an orchestrator whose initialization failed.
	ErrNotAlive = errors.New("orchestrator is not alive")
	// ErrNilScene is returned by Initialize when no scene source was supplied.
	ErrNilScene = errors.New("scene source is nil")
	// ErrSceneLoad is returned when the scene source fails to load its objects.
	ErrSceneLoad = errors.New("scene load failed")
	// ErrSceneGenerate wraps entity construction failures that abort initialization.
	ErrSceneGenerate = errors.New("scene generation failed")
	// ErrStoreInit wraps element store invariant violations found at initialization.
	ErrStoreInit = errors.New("element store initialization failed")
	// ErrDuplicateEgo reports a second ego for the same (group, role).
	ErrDuplicateEgo = errors.New("duplicate ego for group and role")
	// ErrNoEgo is returned by operations that require an ego.
	ErrNoEgo = errors.New("no ego registered")
	// ErrOffMap is returned when a point resolves to neither a lane nor a lane link.
	ErrOffMap = errors.New("point is off the map")
)
