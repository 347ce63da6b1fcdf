package selection

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"poolselect/pkg/subnet"
	"poolselect/pkg/types"
)

// NoLinkGroup restricts a request to links outside every link group
const NoLinkGroup = "none"

// StorageInfo is the file-related part of a request
type StorageInfo struct {
	// StoreUnit is the storage class key, e.g. "h1:u1@osm"
	StoreUnit string
	// DCacheUnit is the cache class of the file, if any
	DCacheUnit string
	// HSM is the file's HSM instance. Defaults to the instance part of
	// StoreUnit.
	HSM             string
	RetentionPolicy types.RetentionPolicy
	AccessLatency   types.AccessLatency
}

// Request describes one pool selection query
type Request struct {
	Operation     types.Operation
	ClientAddress string
	// Protocol is name/major-version, e.g. "DCap/3"
	Protocol  string
	Storage   StorageInfo
	LinkGroup string
	// Exclude, if set, removes pools from the result
	Exclude func(pool string) bool
}

// PreferenceLevel is a set of pools reachable with the same preference
type PreferenceLevel struct {
	Preference int      `json:"preference"`
	Tag        string   `json:"tag,omitempty"`
	Pools      []string `json:"pools"`
}

// Match returns the pools eligible for req, grouped by descending
// preference. An empty result with a nil error means no link applies.
func (e *Engine) Match(req Request) ([]PreferenceLevel, error) {
	start := time.Now()
	levels, err := e.Snapshot().Match(req)
	if e.metrics != nil {
		e.metrics.observeMatch(req.Operation, levels, err, time.Since(start))
	}
	if err != nil {
		e.logger.Debug("Match rejected", zap.Stringer("operation", req.Operation), zap.Error(err))
	}
	return levels, err
}

// Match evaluates req against this snapshot
func (s *Snapshot) Match(req Request) ([]PreferenceLevel, error) {
	if req.Operation < types.OperationRead || req.Operation > types.OperationAny {
		return nil, badInput("operation", req.Operation.String(), nil)
	}
	if err := s.checkLinkGroup(req.LinkGroup); err != nil {
		return nil, err
	}

	var buf [8]*Unit
	units := buf[:0]
	hsm := req.Storage.HSM

	if req.Storage.StoreUnit != "" {
		key, err := parseStoreKey(req.Storage.StoreUnit)
		if err != nil {
			return nil, badInput("store unit", req.Storage.StoreUnit, err)
		}
		units = s.g.appendStoreUnits(units, key)
		if hsm == "" {
			hsm = key.hsm
		}
	} else if s.g.universalStore != nil {
		units = append(units, s.g.universalStore)
	}

	if req.ClientAddress != "" {
		addr, err := subnet.ParseAddr(req.ClientAddress)
		if err != nil {
			return nil, badInput("client address", req.ClientAddress, err)
		}
		if u := s.g.netUnit(addr); u != nil {
			units = append(units, u)
		}
	}

	if req.Protocol != "" {
		p, err := parseProtocol(req.Protocol)
		if err != nil {
			return nil, badInput("protocol", req.Protocol, err)
		}
		if u := s.g.protocolUnit(p); u != nil {
			units = append(units, u)
		}
	}

	if req.Storage.DCacheUnit != "" {
		if u := s.g.dcacheUnit(req.Storage.DCacheUnit); u != nil {
			units = append(units, u)
		}
	}

	return s.selectPools(req, hsm, units), nil
}

// MatchUnits evaluates an operation against an explicit list of unit
// names instead of request facets.
func (s *Snapshot) MatchUnits(op types.Operation, linkGroup string, unitNames ...string) ([]PreferenceLevel, error) {
	if err := s.checkLinkGroup(linkGroup); err != nil {
		return nil, err
	}
	units := make([]*Unit, 0, len(unitNames))
	hsm := ""
	for _, name := range unitNames {
		u, ok := s.g.lookupUnit(name)
		if !ok {
			return nil, notFound("unit", name)
		}
		if u.kind == UnitStore && hsm == "" && u.store.hsm != "*" {
			hsm = u.store.hsm
		}
		units = append(units, u)
	}
	return s.selectPools(Request{Operation: op, LinkGroup: linkGroup}, hsm, units), nil
}

// NetMatch returns the most specific net unit containing address
func (s *Snapshot) NetMatch(address string) (*Unit, error) {
	addr, err := subnet.ParseAddr(address)
	if err != nil {
		return nil, badInput("client address", address, err)
	}
	u := s.g.netUnit(addr)
	if u == nil {
		return nil, notFound("net unit", address)
	}
	return u, nil
}

func (s *Snapshot) checkLinkGroup(name string) error {
	if name == "" || name == NoLinkGroup {
		return nil
	}
	if _, ok := s.g.linkGroups[name]; !ok {
		return badInput("link group", name, fmt.Errorf("no such link group"))
	}
	return nil
}

type activeLink struct {
	link *Link
	pref int
}

func (s *Snapshot) selectPools(req Request, hsm string, units []*Unit) []PreferenceLevel {
	g := s.g
	op := req.Operation

	var satBuf [16]string
	satisfied := satBuf[:0]
	for _, u := range units {
		for _, name := range u.groups {
			if !slices.Contains(satisfied, name) {
				satisfied = append(satisfied, name)
			}
		}
	}

	var candBuf [16]string
	candidates := candBuf[:0]
	for _, name := range satisfied {
		for _, lname := range g.ugroups[name].links {
			if !slices.Contains(candidates, lname) {
				candidates = append(candidates, lname)
			}
		}
	}

	var active []activeLink
	for _, lname := range candidates {
		l := g.links[lname]
		if !linkSatisfied(l, satisfied) {
			continue
		}
		pref := l.prefs.For(op)
		if pref < 1 {
			continue
		}
		if !s.linkGroupAdmits(l, req) {
			continue
		}
		active = append(active, activeLink{link: l, pref: pref})
	}
	if len(active) == 0 {
		return nil
	}

	slices.SortFunc(active, func(a, b activeLink) int {
		if a.pref != b.pref {
			return b.pref - a.pref
		}
		return strings.Compare(a.link.name, b.link.name)
	})

	var levels []PreferenceLevel
	seen := make(map[string]struct{})
	var cur *PreferenceLevel
	flush := func() {
		if cur != nil && len(cur.Pools) > 0 {
			levels = append(levels, *cur)
		}
	}

	visit := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		p := g.pools[name]
		if !p.canServe(op, g.allPoolsActive) {
			return
		}
		if op == types.OperationCache && !p.hsm.has(hsm) {
			return
		}
		if req.Exclude != nil && req.Exclude(name) {
			return
		}
		cur.Pools = append(cur.Pools, name)
	}

	for _, al := range active {
		if cur == nil || cur.Preference != al.pref {
			flush()
			cur = &PreferenceLevel{Preference: al.pref}
		}
		if cur.Tag == "" {
			cur.Tag = al.link.tag
		}
		for _, name := range al.link.pools {
			visit(name)
		}
		for _, gname := range al.link.pgroups {
			for _, name := range g.pgroups[gname].pools {
				visit(name)
			}
		}
	}
	flush()
	return levels
}

func linkSatisfied(l *Link, satisfied []string) bool {
	if len(l.ugroups) == 0 {
		return false
	}
	for _, name := range l.ugroups {
		if !slices.Contains(satisfied, name) {
			return false
		}
	}
	return true
}

// linkGroupAdmits applies the request's link group selector and the link
// group's storage policy.
func (s *Snapshot) linkGroupAdmits(l *Link, req Request) bool {
	switch req.LinkGroup {
	case "":
		if l.linkGroup != "" && req.Operation != types.OperationRead {
			return false
		}
	case NoLinkGroup:
		if l.linkGroup != "" {
			return false
		}
	default:
		if l.linkGroup != req.LinkGroup {
			return false
		}
	}
	if l.linkGroup == "" {
		return true
	}
	lg := s.g.linkGroups[l.linkGroup]
	return lg.policy.allows(req.Storage.RetentionPolicy, req.Storage.AccessLatency)
}
