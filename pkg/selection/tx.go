package selection

import (
	"fmt"
	"path"
	"slices"
	"strings"
)

// Tx is a batch of mutations applied to a private copy of the graph. Nothing
// is visible to matchers until the whole batch succeeds.
type Tx struct {
	g     *graph
	owned map[any]struct{}
	verbs []string
}

func newTx(g *graph) *Tx {
	return &Tx{g: g, owned: make(map[any]struct{})}
}

// own returns a private copy of the entity stored under name, copying it on
// first write within this transaction.
func own[T any](tx *Tx, m map[string]*T, name string) *T {
	cur := m[name]
	if _, ok := tx.owned[cur]; ok {
		return cur
	}
	c := *cur
	m[name] = &c
	tx.owned[&c] = struct{}{}
	return &c
}

func add[T any](tx *Tx, m map[string]*T, name string, v *T) {
	m[name] = v
	tx.owned[v] = struct{}{}
}

func (tx *Tx) record(verb string) {
	tx.verbs = append(tx.verbs, verb)
}

// CreateUnit adds a unit of the given kind
func (tx *Tx) CreateUnit(kind UnitKind, name string) error {
	u, err := newUnit(kind, name)
	if err != nil {
		return err
	}
	if _, ok := tx.g.units[u.name]; ok {
		return alreadyExists("unit", u.name)
	}
	add(tx, tx.g.units, u.name, u)
	tx.record("create_unit")
	return nil
}

// RemoveUnit fails while a unit group holds the unit
func (tx *Tx) RemoveUnit(name string) error {
	u, ok := tx.g.lookupUnit(name)
	if !ok {
		return notFound("unit", name)
	}
	if len(u.groups) > 0 {
		return inUse("unit", name, "member of unit group "+strings.Join(u.groups.list(), ", "))
	}
	delete(tx.g.units, u.name)
	tx.record("remove_unit")
	return nil
}

// CreateUnitGroup adds an empty unit group
func (tx *Tx) CreateUnitGroup(name string) error {
	if name == "" {
		return badInput("unit group name", name, nil)
	}
	if _, ok := tx.g.ugroups[name]; ok {
		return alreadyExists("unit group", name)
	}
	add(tx, tx.g.ugroups, name, &UnitGroup{name: name})
	tx.record("create_ugroup")
	return nil
}

// RemoveUnitGroup fails while the group has members or links use it
func (tx *Tx) RemoveUnitGroup(name string) error {
	ug, ok := tx.g.ugroups[name]
	if !ok {
		return notFound("unit group", name)
	}
	if len(ug.units) > 0 {
		return inUse("unit group", name, "not empty")
	}
	if len(ug.links) > 0 {
		return inUse("unit group", name, fmt.Sprintf("used by links %v", []string(ug.links)))
	}
	delete(tx.g.ugroups, name)
	tx.record("remove_ugroup")
	return nil
}

// AddToUnitGroup adds a unit to a group. All units of a group share one
// kind.
func (tx *Tx) AddToUnitGroup(group, unit string) error {
	ug, ok := tx.g.ugroups[group]
	if !ok {
		return notFound("unit group", group)
	}
	u, ok := tx.g.lookupUnit(unit)
	if !ok {
		return notFound("unit", unit)
	}
	if ug.units.has(u.name) {
		return &ReferenceError{Kind: "unit", Name: u.name, Err: ErrAlreadyExists, Detail: "already in unit group " + group}
	}
	if len(ug.units) > 0 {
		if first := tx.g.units[ug.units[0]]; first.kind != u.kind {
			return &ReferenceError{Kind: "unit", Name: u.name, Err: ErrKindMismatch,
				Detail: fmt.Sprintf("unit group %s holds %s units, not %s", group, first.kind, u.kind)}
		}
	}

	ugc := own(tx, tx.g.ugroups, group)
	ugc.units = ugc.units.with(u.name)
	uc := own(tx, tx.g.units, u.name)
	uc.groups = uc.groups.with(group)
	tx.record("addto_ugroup")
	return nil
}

// RemoveFromUnitGroup takes unit out of group. Net units resolve by any notation.
func (tx *Tx) RemoveFromUnitGroup(group, unit string) error {
	ug, ok := tx.g.ugroups[group]
	if !ok {
		return notFound("unit group", group)
	}
	u, ok := tx.g.lookupUnit(unit)
	if !ok {
		return notFound("unit", unit)
	}
	if !ug.units.has(u.name) {
		return &ReferenceError{Kind: "unit", Name: u.name, Err: ErrNotFound, Detail: "not in unit group " + group}
	}

	ugc := own(tx, tx.g.ugroups, group)
	ugc.units = ugc.units.without(u.name)
	uc := own(tx, tx.g.units, u.name)
	uc.groups = uc.groups.without(group)
	tx.record("removefrom_ugroup")
	return nil
}

// PoolOptions are the flags accepted when creating a pool
type PoolOptions struct {
	NoPing   bool
	Disabled bool
}

// CreatePool adds a pool that belongs to no group
func (tx *Tx) CreatePool(name string, opts PoolOptions) error {
	if name == "" {
		return badInput("pool name", name, nil)
	}
	if _, ok := tx.g.pools[name]; ok {
		return alreadyExists("pool", name)
	}
	if _, ok := tx.g.pgroups[name]; ok {
		return alreadyExists("pool group", name)
	}
	add(tx, tx.g.pools, name, &Pool{
		name:    name,
		enabled: !opts.Disabled,
		ping:    !opts.NoPing,
	})
	tx.record("create_pool")
	return nil
}

// RemovePool fails while a pool group or link still references the pool
func (tx *Tx) RemovePool(name string) error {
	p, ok := tx.g.pools[name]
	if !ok {
		return notFound("pool", name)
	}
	if len(p.groups) > 0 {
		return inUse("pool", name, fmt.Sprintf("member of pool groups %v", []string(p.groups)))
	}
	if len(p.links) > 0 {
		return inUse("pool", name, fmt.Sprintf("target of links %v", []string(p.links)))
	}
	delete(tx.g.pools, name)
	tx.record("remove_pool")
	return nil
}

// matchPools returns the names of pools matching a glob, sorted
func (tx *Tx) matchPools(glob string) ([]string, error) {
	if _, ok := tx.g.pools[glob]; ok {
		return []string{glob}, nil
	}
	if _, err := path.Match(glob, ""); err != nil {
		return nil, badInput("pool pattern", glob, err)
	}
	var names []string
	for name := range tx.g.pools {
		if ok, _ := path.Match(glob, name); ok {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, notFound("pool", glob)
	}
	slices.Sort(names)
	return names, nil
}

func (tx *Tx) updatePools(glob, verb string, fn func(p *Pool)) (int, error) {
	names, err := tx.matchPools(glob)
	if err != nil {
		return 0, err
	}
	for _, name := range names {
		fn(own(tx, tx.g.pools, name))
	}
	tx.record(verb)
	return len(names), nil
}

// SetPool applies one of enabled, disabled, ping, noping, rdonly or
// notrdonly to every pool matching glob.
func (tx *Tx) SetPool(glob, setting string) (int, error) {
	var fn func(p *Pool)
	switch setting {
	case "enabled":
		fn = func(p *Pool) { p.enabled = true }
	case "disabled":
		fn = func(p *Pool) { p.enabled = false }
	case "ping":
		fn = func(p *Pool) { p.ping = true }
	case "noping":
		fn = func(p *Pool) { p.ping = false }
	case "rdonly":
		fn = func(p *Pool) { p.readOnly = true }
	case "notrdonly":
		fn = func(p *Pool) { p.readOnly = false }
	default:
		return 0, badInput("pool setting", setting, nil)
	}
	return tx.updatePools(glob, "set_pool", fn)
}

// SetPoolEnabled switches every pool matching glob and returns how many matched
func (tx *Tx) SetPoolEnabled(glob string, enabled bool) (int, error) {
	return tx.updatePools(glob, "set_pool", func(p *Pool) { p.enabled = enabled })
}

// SetPoolActive records the last known up/down state of matching pools
func (tx *Tx) SetPoolActive(glob string, active bool) (int, error) {
	return tx.updatePools(glob, "set_active", func(p *Pool) { p.active = active })
}

// SetPoolMode stores the per-operation disable bits a pool reported
func (tx *Tx) SetPoolMode(name string, mode PoolMode) error {
	if _, ok := tx.g.pools[name]; !ok {
		return notFound("pool", name)
	}
	own(tx, tx.g.pools, name).mode = mode
	tx.record("set_pool_mode")
	return nil
}

// SetPoolHsmInstances replaces the HSM instances a pool can stage from
func (tx *Tx) SetPoolHsmInstances(name string, instances []string) error {
	if _, ok := tx.g.pools[name]; !ok {
		return notFound("pool", name)
	}
	own(tx, tx.g.pools, name).hsm = newNameSet(instances...)
	tx.record("set_pool_hsm")
	return nil
}

// CreatePoolGroup adds an empty pool group
func (tx *Tx) CreatePoolGroup(name string) error {
	if name == "" {
		return badInput("pool group name", name, nil)
	}
	if _, ok := tx.g.pgroups[name]; ok {
		return alreadyExists("pool group", name)
	}
	if _, ok := tx.g.pools[name]; ok {
		return alreadyExists("pool", name)
	}
	add(tx, tx.g.pgroups, name, &PoolGroup{name: name})
	tx.record("create_pgroup")
	return nil
}

// RemovePoolGroup fails while the group has members or links use it
func (tx *Tx) RemovePoolGroup(name string) error {
	pg, ok := tx.g.pgroups[name]
	if !ok {
		return notFound("pool group", name)
	}
	if len(pg.pools) > 0 {
		return inUse("pool group", name, "not empty")
	}
	if len(pg.links) > 0 {
		return inUse("pool group", name, "target of link "+strings.Join(pg.links.list(), ", "))
	}
	delete(tx.g.pgroups, name)
	tx.record("remove_pgroup")
	return nil
}

// AddToPoolGroup puts pool into group
func (tx *Tx) AddToPoolGroup(group, pool string) error {
	pg, ok := tx.g.pgroups[group]
	if !ok {
		return notFound("pool group", group)
	}
	if _, ok := tx.g.pools[pool]; !ok {
		return notFound("pool", pool)
	}
	if pg.pools.has(pool) {
		return &ReferenceError{Kind: "pool", Name: pool, Err: ErrAlreadyExists, Detail: "already in pool group " + group}
	}

	pgc := own(tx, tx.g.pgroups, group)
	pgc.pools = pgc.pools.with(pool)
	p := own(tx, tx.g.pools, pool)
	p.groups = p.groups.with(group)
	tx.record("addto_pgroup")
	return nil
}

// RemoveFromPoolGroup takes pool out of group
func (tx *Tx) RemoveFromPoolGroup(group, pool string) error {
	pg, ok := tx.g.pgroups[group]
	if !ok {
		return notFound("pool group", group)
	}
	if !pg.pools.has(pool) {
		return &ReferenceError{Kind: "pool", Name: pool, Err: ErrNotFound, Detail: "not in pool group " + group}
	}

	pgc := own(tx, tx.g.pgroups, group)
	pgc.pools = pgc.pools.without(pool)
	p := own(tx, tx.g.pools, pool)
	p.groups = p.groups.without(group)
	tx.record("removefrom_pgroup")
	return nil
}

// CreateLink adds a link requiring all of the given unit groups
func (tx *Tx) CreateLink(name string, ugroups ...string) error {
	if name == "" {
		return badInput("link name", name, nil)
	}
	if _, ok := tx.g.links[name]; ok {
		return alreadyExists("link", name)
	}
	for _, gname := range ugroups {
		if _, ok := tx.g.ugroups[gname]; !ok {
			return notFound("unit group", gname)
		}
	}

	add(tx, tx.g.links, name, &Link{name: name, prefs: defaultPreferences()})
	for _, gname := range ugroups {
		tx.attachUnitGroup(name, gname)
	}
	tx.record("create_link")
	return nil
}

func (tx *Tx) attachUnitGroup(link, group string) {
	l := own(tx, tx.g.links, link)
	l.ugroups = l.ugroups.with(group)
	ug := own(tx, tx.g.ugroups, group)
	ug.links = ug.links.with(link)
}

// RemoveLink deletes a link and every reference to it
func (tx *Tx) RemoveLink(name string) error {
	l, ok := tx.g.links[name]
	if !ok {
		return notFound("link", name)
	}
	for _, gname := range l.ugroups {
		ug := own(tx, tx.g.ugroups, gname)
		ug.links = ug.links.without(name)
	}
	for _, pname := range l.pools {
		p := own(tx, tx.g.pools, pname)
		p.links = p.links.without(name)
	}
	for _, gname := range l.pgroups {
		pg := own(tx, tx.g.pgroups, gname)
		pg.links = pg.links.without(name)
	}
	if l.linkGroup != "" {
		lg := own(tx, tx.g.linkGroups, l.linkGroup)
		lg.links = lg.links.without(name)
	}
	delete(tx.g.links, name)
	tx.record("remove_link")
	return nil
}

// AddToLink attaches a unit group to an existing link
func (tx *Tx) AddToLink(link, group string) error {
	l, ok := tx.g.links[link]
	if !ok {
		return notFound("link", link)
	}
	if _, ok := tx.g.ugroups[group]; !ok {
		return notFound("unit group", group)
	}
	if l.ugroups.has(group) {
		return &ReferenceError{Kind: "unit group", Name: group, Err: ErrAlreadyExists, Detail: "already on link " + link}
	}
	tx.attachUnitGroup(link, group)
	tx.record("addto_link")
	return nil
}

// RemoveFromLink drops a unit group requirement from link
func (tx *Tx) RemoveFromLink(link, group string) error {
	l, ok := tx.g.links[link]
	if !ok {
		return notFound("link", link)
	}
	if !l.ugroups.has(group) {
		return &ReferenceError{Kind: "unit group", Name: group, Err: ErrNotFound, Detail: "not on link " + link}
	}
	lc := own(tx, tx.g.links, link)
	lc.ugroups = lc.ugroups.without(group)
	ug := own(tx, tx.g.ugroups, group)
	ug.links = ug.links.without(link)
	tx.record("removefrom_link")
	return nil
}

// AddLinkTarget points a link at a pool or pool group
func (tx *Tx) AddLinkTarget(link, target string) error {
	l, ok := tx.g.links[link]
	if !ok {
		return notFound("link", link)
	}
	if _, ok := tx.g.pools[target]; ok {
		if l.pools.has(target) {
			return &ReferenceError{Kind: "pool", Name: target, Err: ErrAlreadyExists, Detail: "already on link " + link}
		}
		lc := own(tx, tx.g.links, link)
		lc.pools = lc.pools.with(target)
		p := own(tx, tx.g.pools, target)
		p.links = p.links.with(link)
	} else if _, ok := tx.g.pgroups[target]; ok {
		if l.pgroups.has(target) {
			return &ReferenceError{Kind: "pool group", Name: target, Err: ErrAlreadyExists, Detail: "already on link " + link}
		}
		lc := own(tx, tx.g.links, link)
		lc.pgroups = lc.pgroups.with(target)
		pg := own(tx, tx.g.pgroups, target)
		pg.links = pg.links.with(link)
	} else {
		return notFound("pool or pool group", target)
	}
	tx.record("add_link")
	return nil
}

// Unlink removes a pool or pool group from a link
func (tx *Tx) Unlink(link, target string) error {
	l, ok := tx.g.links[link]
	if !ok {
		return notFound("link", link)
	}
	switch {
	case l.pools.has(target):
		lc := own(tx, tx.g.links, link)
		lc.pools = lc.pools.without(target)
		p := own(tx, tx.g.pools, target)
		p.links = p.links.without(link)
	case l.pgroups.has(target):
		lc := own(tx, tx.g.links, link)
		lc.pgroups = lc.pgroups.without(target)
		pg := own(tx, tx.g.pgroups, target)
		pg.links = pg.links.without(link)
	default:
		return &ReferenceError{Kind: "pool or pool group", Name: target, Err: ErrNotFound, Detail: "not on link " + link}
	}
	tx.record("unlink")
	return nil
}

// LinkSettings changes the fields that are set and leaves the rest alone
type LinkSettings struct {
	Read  *int
	Write *int
	Cache *int
	P2P   *int
	Tag   *string
}

// SetLink changes the preferences and tag named in s. Nil fields are left alone.
func (tx *Tx) SetLink(name string, s LinkSettings) error {
	if _, ok := tx.g.links[name]; !ok {
		return notFound("link", name)
	}
	if s.Tag != nil && strings.ContainsAny(*s.Tag, " \t\n") {
		return badInput("link tag", *s.Tag, nil)
	}
	l := own(tx, tx.g.links, name)
	if s.Read != nil {
		l.prefs.Read = normalizePreference(*s.Read)
	}
	if s.Write != nil {
		l.prefs.Write = normalizePreference(*s.Write)
	}
	if s.Cache != nil {
		l.prefs.Cache = normalizePreference(*s.Cache)
	}
	if s.P2P != nil {
		l.prefs.P2P = normalizePreference(*s.P2P)
	}
	if s.Tag != nil {
		l.tag = *s.Tag
		if l.tag == NoTag {
			l.tag = ""
		}
	}
	tx.record("set_link")
	return nil
}

func normalizePreference(v int) int {
	if v < 0 {
		return Unset
	}
	return v
}

// CreateLinkGroup adds an empty link group with a policy that allows
// nothing.
func (tx *Tx) CreateLinkGroup(name string) error {
	if name == "" {
		return badInput("link group name", name, nil)
	}
	if _, ok := tx.g.linkGroups[name]; ok {
		return alreadyExists("link group", name)
	}
	add(tx, tx.g.linkGroups, name, &LinkGroup{name: name})
	tx.record("create_linkgroup")
	return nil
}

// RemoveLinkGroup deletes a link group, leaving its links ungrouped
func (tx *Tx) RemoveLinkGroup(name string) error {
	lg, ok := tx.g.linkGroups[name]
	if !ok {
		return notFound("link group", name)
	}
	for _, lname := range lg.links {
		own(tx, tx.g.links, lname).linkGroup = ""
	}
	delete(tx.g.linkGroups, name)
	tx.record("remove_linkgroup")
	return nil
}

// AddToLinkGroup fails if the link already belongs to a link group
func (tx *Tx) AddToLinkGroup(group, link string) error {
	if _, ok := tx.g.linkGroups[group]; !ok {
		return notFound("link group", group)
	}
	l, ok := tx.g.links[link]
	if !ok {
		return notFound("link", link)
	}
	if l.linkGroup != "" {
		return inUse("link", link, "already in link group "+l.linkGroup)
	}
	lg := own(tx, tx.g.linkGroups, group)
	lg.links = lg.links.with(link)
	own(tx, tx.g.links, link).linkGroup = group
	tx.record("addto_linkgroup")
	return nil
}

// RemoveFromLinkGroup detaches link from group
func (tx *Tx) RemoveFromLinkGroup(group, link string) error {
	lg, ok := tx.g.linkGroups[group]
	if !ok {
		return notFound("link group", group)
	}
	if !lg.links.has(link) {
		return &ReferenceError{Kind: "link", Name: link, Err: ErrNotFound, Detail: "not in link group " + group}
	}
	lgc := own(tx, tx.g.linkGroups, group)
	lgc.links = lgc.links.without(link)
	own(tx, tx.g.links, link).linkGroup = ""
	tx.record("removefrom_linkgroup")
	return nil
}

// Link group policy flag names as used on the command line
const (
	FlagCustodial = "custodialAllowed"
	FlagOutput    = "outputAllowed"
	FlagReplica   = "replicaAllowed"
	FlagOnline    = "onlineAllowed"
	FlagNearline  = "nearlineAllowed"
)

// SetLinkGroup sets one policy flag of a link group
func (tx *Tx) SetLinkGroup(name, flag string, allowed bool) error {
	if _, ok := tx.g.linkGroups[name]; !ok {
		return notFound("link group", name)
	}
	policy := tx.g.linkGroups[name].policy
	switch flag {
	case FlagCustodial:
		policy.Custodial = allowed
	case FlagOutput:
		policy.Output = allowed
	case FlagReplica:
		policy.Replica = allowed
	case FlagOnline:
		policy.Online = allowed
	case FlagNearline:
		policy.SetNearline(allowed)
	default:
		return badInput("link group flag", flag, nil)
	}
	own(tx, tx.g.linkGroups, name).policy = policy
	tx.record("set_linkgroup")
	return nil
}

// SetAllPoolsActive makes the matcher ignore the pools' active flags
func (tx *Tx) SetAllPoolsActive(on bool) {
	tx.g.allPoolsActive = on
	tx.record("set_allpoolsactive")
}

// Clear drops the whole configuration
func (tx *Tx) Clear() {
	gen := tx.g.generation
	tx.g = newGraph()
	tx.g.generation = gen
	tx.owned = make(map[any]struct{})
	tx.record("clear")
}
