package selection

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Engine holds the current configuration graph and answers pool selection
// queries against it. Matching reads a published snapshot and never blocks;
// mutations are serialized and published atomically.
type Engine struct {
	mu      sync.Mutex
	current atomic.Pointer[graph]

	logger  *zap.Logger
	metrics *Metrics
}

// NewEngine creates an engine with an empty configuration. metrics may be nil.
func NewEngine(logger *zap.Logger, metrics *Metrics) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{logger: logger, metrics: metrics}
	g := newGraph()
	g.index()
	e.current.Store(g)
	return e
}

// Update runs fn against a copy of the current graph and publishes the
// result if fn succeeds. On error the current graph is left untouched.
func (e *Engine) Update(fn func(tx *Tx) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.current.Load()
	tx := newTx(cur.clone())
	if err := fn(tx); err != nil {
		return err
	}
	e.publish(cur, tx)
	return nil
}

// Replace builds a new graph from scratch and swaps it in. Runtime pool
// state (active flag, reported mode, HSM instances) survives for pools that
// exist in both graphs.
func (e *Engine) Replace(fn func(tx *Tx) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.current.Load()
	next := newGraph()
	next.generation = cur.generation
	tx := newTx(next)
	if err := fn(tx); err != nil {
		return err
	}
	for name, old := range cur.pools {
		if _, ok := tx.g.pools[name]; !ok {
			continue
		}
		p := own(tx, tx.g.pools, name)
		p.active = old.active
		p.mode = old.mode
		p.hsm = old.hsm
	}
	e.publish(cur, tx)
	return nil
}

func (e *Engine) publish(prev *graph, tx *Tx) {
	g := tx.g
	g.generation = prev.generation + 1
	g.index()
	e.current.Store(g)

	if e.metrics != nil {
		for _, verb := range tx.verbs {
			e.metrics.GraphMutations.WithLabelValues(verb).Inc()
		}
		e.metrics.GraphGeneration.Set(float64(g.generation))
	}
	e.logger.Debug("Published configuration",
		zap.Uint64("generation", g.generation),
		zap.Int("mutations", len(tx.verbs)))
}

// Generation increases by one with every published change
func (e *Engine) Generation() uint64 {
	return e.current.Load().generation
}

// Snapshot returns a read-only view of the current graph
func (e *Engine) Snapshot() *Snapshot {
	return &Snapshot{g: e.current.Load()}
}

// Snapshot is an immutable view of one configuration generation
type Snapshot struct {
	g *graph
}

// Generation increases with every committed transaction
func (s *Snapshot) Generation() uint64 { return s.g.generation }
// AllPoolsActive reports whether pool heartbeats are ignored
func (s *Snapshot) AllPoolsActive() bool { return s.g.allPoolsActive }

// Unit looks a unit up by name. Net units also resolve by any equivalent notation.
func (s *Snapshot) Unit(name string) (*Unit, bool) { return s.g.lookupUnit(name) }

// UnitGroup looks a unit group up by name
func (s *Snapshot) UnitGroup(name string) (*UnitGroup, bool) {
	ug, ok := s.g.ugroups[name]
	return ug, ok
}

// Pool looks a pool up by name
func (s *Snapshot) Pool(name string) (*Pool, bool) {
	p, ok := s.g.pools[name]
	return p, ok
}

// PoolGroup looks a pool group up by name
func (s *Snapshot) PoolGroup(name string) (*PoolGroup, bool) {
	pg, ok := s.g.pgroups[name]
	return pg, ok
}

// Link looks a link up by name
func (s *Snapshot) Link(name string) (*Link, bool) {
	l, ok := s.g.links[name]
	return l, ok
}

// LinkGroup looks a link group up by name
func (s *Snapshot) LinkGroup(name string) (*LinkGroup, bool) {
	lg, ok := s.g.linkGroups[name]
	return lg, ok
}

// Units returns all units sorted by kind, then name
func (s *Snapshot) Units() []*Unit {
	units := sortedValues(s.g.units, (*Unit).Name)
	slices.SortStableFunc(units, func(a, b *Unit) int { return int(a.kind) - int(b.kind) })
	return units
}

// UnitGroups returns all unit groups sorted by name
func (s *Snapshot) UnitGroups() []*UnitGroup { return sortedValues(s.g.ugroups, (*UnitGroup).Name) }

// Pools returns all pools sorted by name
func (s *Snapshot) Pools() []*Pool { return sortedValues(s.g.pools, (*Pool).Name) }

// PoolGroups returns all pool groups sorted by name
func (s *Snapshot) PoolGroups() []*PoolGroup { return sortedValues(s.g.pgroups, (*PoolGroup).Name) }

// Links returns all links sorted by name
func (s *Snapshot) Links() []*Link { return sortedValues(s.g.links, (*Link).Name) }

// LinkGroups returns all link groups sorted by name
func (s *Snapshot) LinkGroups() []*LinkGroup { return sortedValues(s.g.linkGroups, (*LinkGroup).Name) }

func sortedValues[T any](m map[string]*T, name func(*T) string) []*T {
	out := make([]*T, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b *T) int { return strings.Compare(name(a), name(b)) })
	return out
}

// CreateUnit runs Tx.CreateUnit in its own transaction
func (e *Engine) CreateUnit(kind UnitKind, name string) error {
	return e.Update(func(tx *Tx) error { return tx.CreateUnit(kind, name) })
}

// RemoveUnit runs Tx.RemoveUnit in its own transaction
func (e *Engine) RemoveUnit(name string) error {
	return e.Update(func(tx *Tx) error { return tx.RemoveUnit(name) })
}

// CreateUnitGroup runs Tx.CreateUnitGroup in its own transaction
func (e *Engine) CreateUnitGroup(name string) error {
	return e.Update(func(tx *Tx) error { return tx.CreateUnitGroup(name) })
}

// RemoveUnitGroup runs Tx.RemoveUnitGroup in its own transaction
func (e *Engine) RemoveUnitGroup(name string) error {
	return e.Update(func(tx *Tx) error { return tx.RemoveUnitGroup(name) })
}

// AddToUnitGroup runs Tx.AddToUnitGroup in its own transaction
func (e *Engine) AddToUnitGroup(group, unit string) error {
	return e.Update(func(tx *Tx) error { return tx.AddToUnitGroup(group, unit) })
}

// RemoveFromUnitGroup runs Tx.RemoveFromUnitGroup in its own transaction
func (e *Engine) RemoveFromUnitGroup(group, unit string) error {
	return e.Update(func(tx *Tx) error { return tx.RemoveFromUnitGroup(group, unit) })
}

// CreatePool runs Tx.CreatePool in its own transaction
func (e *Engine) CreatePool(name string, opts PoolOptions) error {
	return e.Update(func(tx *Tx) error { return tx.CreatePool(name, opts) })
}

// RemovePool runs Tx.RemovePool in its own transaction
func (e *Engine) RemovePool(name string) error {
	return e.Update(func(tx *Tx) error { return tx.RemovePool(name) })
}

// SetPool runs Tx.SetPool in its own transaction
func (e *Engine) SetPool(glob, setting string) (n int, err error) {
	err = e.Update(func(tx *Tx) error {
		n, err = tx.SetPool(glob, setting)
		return err
	})
	return n, err
}

// SetPoolEnabled runs Tx.SetPoolEnabled in its own transaction
func (e *Engine) SetPoolEnabled(glob string, enabled bool) (n int, err error) {
	err = e.Update(func(tx *Tx) error {
		n, err = tx.SetPoolEnabled(glob, enabled)
		return err
	})
	return n, err
}

// SetPoolActive runs Tx.SetPoolActive in its own transaction
func (e *Engine) SetPoolActive(glob string, active bool) (n int, err error) {
	err = e.Update(func(tx *Tx) error {
		n, err = tx.SetPoolActive(glob, active)
		return err
	})
	return n, err
}

// SetPoolMode runs Tx.SetPoolMode in its own transaction
func (e *Engine) SetPoolMode(name string, mode PoolMode) error {
	return e.Update(func(tx *Tx) error { return tx.SetPoolMode(name, mode) })
}

// SetPoolHsmInstances runs Tx.SetPoolHsmInstances in its own transaction
func (e *Engine) SetPoolHsmInstances(name string, instances []string) error {
	return e.Update(func(tx *Tx) error { return tx.SetPoolHsmInstances(name, instances) })
}

// CreatePoolGroup runs Tx.CreatePoolGroup in its own transaction
func (e *Engine) CreatePoolGroup(name string) error {
	return e.Update(func(tx *Tx) error { return tx.CreatePoolGroup(name) })
}

// RemovePoolGroup runs Tx.RemovePoolGroup in its own transaction
func (e *Engine) RemovePoolGroup(name string) error {
	return e.Update(func(tx *Tx) error { return tx.RemovePoolGroup(name) })
}

// AddToPoolGroup runs Tx.AddToPoolGroup in its own transaction
func (e *Engine) AddToPoolGroup(group, pool string) error {
	return e.Update(func(tx *Tx) error { return tx.AddToPoolGroup(group, pool) })
}

// RemoveFromPoolGroup runs Tx.RemoveFromPoolGroup in its own transaction
func (e *Engine) RemoveFromPoolGroup(group, pool string) error {
	return e.Update(func(tx *Tx) error { return tx.RemoveFromPoolGroup(group, pool) })
}

// CreateLink runs Tx.CreateLink in its own transaction
func (e *Engine) CreateLink(name string, ugroups ...string) error {
	return e.Update(func(tx *Tx) error { return tx.CreateLink(name, ugroups...) })
}

// RemoveLink runs Tx.RemoveLink in its own transaction
func (e *Engine) RemoveLink(name string) error {
	return e.Update(func(tx *Tx) error { return tx.RemoveLink(name) })
}

// AddToLink runs Tx.AddToLink in its own transaction
func (e *Engine) AddToLink(link, group string) error {
	return e.Update(func(tx *Tx) error { return tx.AddToLink(link, group) })
}

// RemoveFromLink runs Tx.RemoveFromLink in its own transaction
func (e *Engine) RemoveFromLink(link, group string) error {
	return e.Update(func(tx *Tx) error { return tx.RemoveFromLink(link, group) })
}

// AddLinkTarget runs Tx.AddLinkTarget in its own transaction
func (e *Engine) AddLinkTarget(link, target string) error {
	return e.Update(func(tx *Tx) error { return tx.AddLinkTarget(link, target) })
}

// Unlink runs Tx.Unlink in its own transaction
func (e *Engine) Unlink(link, target string) error {
	return e.Update(func(tx *Tx) error { return tx.Unlink(link, target) })
}

// SetLink runs Tx.SetLink in its own transaction
func (e *Engine) SetLink(name string, s LinkSettings) error {
	return e.Update(func(tx *Tx) error { return tx.SetLink(name, s) })
}

// CreateLinkGroup runs Tx.CreateLinkGroup in its own transaction
func (e *Engine) CreateLinkGroup(name string) error {
	return e.Update(func(tx *Tx) error { return tx.CreateLinkGroup(name) })
}

// RemoveLinkGroup runs Tx.RemoveLinkGroup in its own transaction
func (e *Engine) RemoveLinkGroup(name string) error {
	return e.Update(func(tx *Tx) error { return tx.RemoveLinkGroup(name) })
}

// AddToLinkGroup runs Tx.AddToLinkGroup in its own transaction
func (e *Engine) AddToLinkGroup(group, link string) error {
	return e.Update(func(tx *Tx) error { return tx.AddToLinkGroup(group, link) })
}

// RemoveFromLinkGroup runs Tx.RemoveFromLinkGroup in its own transaction
func (e *Engine) RemoveFromLinkGroup(group, link string) error {
	return e.Update(func(tx *Tx) error { return tx.RemoveFromLinkGroup(group, link) })
}

// SetLinkGroup runs Tx.SetLinkGroup in its own transaction
func (e *Engine) SetLinkGroup(name, flag string, allowed bool) error {
	return e.Update(func(tx *Tx) error { return tx.SetLinkGroup(name, flag, allowed) })
}

// SetAllPoolsActive runs Tx.SetAllPoolsActive in its own transaction
func (e *Engine) SetAllPoolsActive(on bool) {
	_ = e.Update(func(tx *Tx) error {
		tx.SetAllPoolsActive(on)
		return nil
	})
}

// Clear runs Tx.Clear in its own transaction
func (e *Engine) Clear() {
	_ = e.Update(func(tx *Tx) error {
		tx.Clear()
		return nil
	})
}
