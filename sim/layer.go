package sim

import "fmt"

// Layer is one (Store, Assembler) pair driven through the frame pipeline. The live world
// is a layer; a shadow overlay is another, run by the same phases.
type Layer struct {
	name      string
	source    SceneSource
	store     *Store
	assembler *Assembler
	events    *EventDispatcher
	kinetics  KineticsMap
	snapshot  WorldSnapshot
}

func newLayer(name string, source SceneSource) *Layer {
	return &Layer{
		name:     name,
		source:   source,
		store:    NewStore(),
		events:   NewEventDispatcher(),
		kinetics: make(KineticsMap),
	}
}

func (l *Layer) Name() string             { return l.name }
func (l *Layer) Store() *Store            { return l.store }
func (l *Layer) Assembler() *Assembler    { return l.assembler }
func (l *Layer) Events() *EventDispatcher { return l.events }

// Snapshot is the unfiltered world of the last completed frame.
func (l *Layer) Snapshot() WorldSnapshot { return l.snapshot }

// initialize generates the scene (egos first) and then initializes the store.
func (l *Layer) initialize(oracle MapOracle, cfg *RunConfig) error {
	if l.source == nil {
		return ErrNilScene
	}
	l.assembler = NewAssembler(l.source, oracle, cfg.HistoryLength)
	if err := l.assembler.Generate(l.store); err != nil {
		return fmt.Errorf("%s layer: %w", l.name, err)
	}
	if err := l.store.Initialize(); err != nil {
		return fmt.Errorf("%s layer: %w: %w", l.name, ErrStoreInit, err)
	}
	return nil
}
