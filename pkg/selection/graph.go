package selection

import (
	"maps"
	"net/netip"
	"slices"
	"strings"

	"poolselect/pkg/subnet"
)

// graph is one immutable version of the configuration. A published graph is
// never written again; Tx works on a clone.
type graph struct {
	generation     uint64
	allPoolsActive bool

	units      map[string]*Unit
	ugroups    map[string]*UnitGroup
	pools      map[string]*Pool
	pgroups    map[string]*PoolGroup
	links      map[string]*Link
	linkGroups map[string]*LinkGroup

	// rebuilt by index before publishing
	storeUnits     []*Unit
	universalStore *Unit
	net4           []*Unit
	net6           []*Unit
}

func newGraph() *graph {
	return &graph{
		units:      make(map[string]*Unit),
		ugroups:    make(map[string]*UnitGroup),
		pools:      make(map[string]*Pool),
		pgroups:    make(map[string]*PoolGroup),
		links:      make(map[string]*Link),
		linkGroups: make(map[string]*LinkGroup),
	}
}

func (g *graph) clone() *graph {
	return &graph{
		generation:     g.generation,
		allPoolsActive: g.allPoolsActive,
		units:          maps.Clone(g.units),
		ugroups:        maps.Clone(g.ugroups),
		pools:          maps.Clone(g.pools),
		pgroups:        maps.Clone(g.pgroups),
		links:          maps.Clone(g.links),
		linkGroups:     maps.Clone(g.linkGroups),
	}
}

// index prepares the lookup tables used by the matcher
func (g *graph) index() {
	g.storeUnits = g.storeUnits[:0]
	g.universalStore = nil
	g.net4 = g.net4[:0]
	g.net6 = g.net6[:0]

	for _, u := range g.units {
		switch u.kind {
		case UnitStore:
			if u.store.isUniversal() {
				g.universalStore = u
			} else {
				g.storeUnits = append(g.storeUnits, u)
			}
		case UnitNet:
			if u.net.Is4() {
				g.net4 = append(g.net4, u)
			} else {
				g.net6 = append(g.net6, u)
			}
		}
	}

	slices.SortFunc(g.storeUnits, byUnitName)
	mostSpecificFirst := func(a, b *Unit) int {
		if d := b.net.Bits() - a.net.Bits(); d != 0 {
			return d
		}
		return byUnitName(a, b)
	}
	slices.SortFunc(g.net4, mostSpecificFirst)
	slices.SortFunc(g.net6, mostSpecificFirst)
}

func byUnitName(a, b *Unit) int {
	return strings.Compare(a.name, b.name)
}

// lookupUnit finds a unit by name. Net units may also be named by any
// equivalent pattern, e.g. a dotted mask.
func (g *graph) lookupUnit(name string) (*Unit, bool) {
	if u, ok := g.units[name]; ok {
		return u, true
	}
	if strings.ContainsAny(name, ".:") {
		if sn, err := subnet.Parse(name); err == nil {
			u, ok := g.units[sn.String()]
			if ok && u.kind == UnitNet {
				return u, true
			}
		}
	}
	return nil, false
}

// netUnit returns the most specific net unit containing addr
func (g *graph) netUnit(addr netip.Addr) *Unit {
	candidates := g.net6
	if addr.Is4() {
		candidates = g.net4
	}
	for _, u := range candidates {
		if u.net.Contains(addr) {
			return u
		}
	}
	return nil
}

func (g *graph) unitOfKind(name string, kind UnitKind) *Unit {
	if u, ok := g.units[name]; ok && u.kind == kind {
		return u
	}
	return nil
}

// protocolUnit resolves name/version, then name/*, */version and */*
func (g *graph) protocolUnit(p protocolKey) *Unit {
	for _, candidate := range [...]string{
		p.name + "/" + p.version,
		p.name + "/*",
		"*/" + p.version,
		"*/*",
	} {
		if u := g.unitOfKind(candidate, UnitProtocol); u != nil {
			return u
		}
	}
	return nil
}

func (g *graph) dcacheUnit(name string) *Unit {
	if u := g.unitOfKind(name, UnitDCache); u != nil {
		return u
	}
	return g.unitOfKind("*", UnitDCache)
}

// appendStoreUnits adds every store unit matching key, or the universal
// unit when nothing else matches.
func (g *graph) appendStoreUnits(dst []*Unit, key storeKey) []*Unit {
	n := len(dst)
	for _, u := range g.storeUnits {
		if u.store.matches(key) {
			dst = append(dst, u)
		}
	}
	if len(dst) == n && g.universalStore != nil {
		dst = append(dst, g.universalStore)
	}
	return dst
}
