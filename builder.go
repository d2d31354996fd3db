package rigid

import (
	"github.com/gekko3d/rigid/arena"
	"github.com/gekko3d/rigid/articulation"
	"github.com/gekko3d/rigid/broadphase"
	"github.com/gekko3d/rigid/ccd"
	"github.com/gekko3d/rigid/narrowphase"
	"github.com/gekko3d/rigid/solver"
	"github.com/gekko3d/rigid/store"
	"github.com/google/uuid"
)

// WorldBuilder collects the configuration and collaborators of a world.
type WorldBuilder struct {
	cfg        Config
	log        Logger
	diag       Diagnostics
	backend    broadphase.Backend
	id         uuid.UUID
	generators []ForceGenerator
}

func NewWorldBuilder() *WorldBuilder {
	return &WorldBuilder{cfg: DefaultConfig()}
}

func (b *WorldBuilder) WithConfig(cfg Config) *WorldBuilder {
	b.cfg = cfg

	return b
}

func (b *WorldBuilder) WithLogger(l Logger) *WorldBuilder {
	b.log = l

	return b
}

// WithDiagnostics installs the sink for recovered runtime faults.
func (b *WorldBuilder) WithDiagnostics(d Diagnostics) *WorldBuilder {
	b.diag = d

	return b
}

// WithBackend replaces the broad phase named in the config.
func (b *WorldBuilder) WithBackend(backend broadphase.Backend) *WorldBuilder {
	b.backend = backend

	return b
}

// WithID fixes the world id, so two runs produce identical snapshots.
func (b *WorldBuilder) WithID(id uuid.UUID) *WorldBuilder {
	b.id = id

	return b
}

func (b *WorldBuilder) WithForceGenerator(generators ...ForceGenerator) *WorldBuilder {
	b.generators = append(b.generators, generators...)

	return b
}

func (b *WorldBuilder) Build() (*World, error) {
	cfg := b.cfg
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	w := &World{
		id:          b.id,
		cfg:         cfg,
		log:         b.log,
		diag:        b.diag,
		store:       store.New(),
		joints:      arena.New[solver.Joint](),
		multibodies: arena.New[articulation.Multibody](),
		forces:      arena.New[ForceGenerator](),
		backend:     b.backend,
		cache:       narrowphase.NewCache(cfg.PersistenceThreshold),
		solver:      solver.New(cfg.solverParams()),
		ccd:         cfg.detector(),
		sleep:       cfg.sleep(),
		gravity:     cfg.Gravity,
		sweeps:      make(map[int]ccd.Motion),
	}
	if w.id == uuid.Nil {
		w.id = uuid.New()
	}
	if w.log == nil {
		w.log = NewDefaultLogger("rigid", cfg.Debug)
	}
	if w.diag == nil {
		w.diag = nopDiagnostics{}
	}
	if w.backend == nil {
		backend, err := broadphase.Select(cfg.Broadphase, broadphase.Options{CellSize: cfg.CellSize, Workers: cfg.Workers})
		if err != nil {
			return nil, err
		}
		w.backend = backend
	}
	for _, g := range b.generators {
		w.AddForceGenerator(g)
	}

	w.log.Infof("broadphase backend selected: %s", w.backend.Name())
	return w, nil
}
