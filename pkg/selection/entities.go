package selection

import (
	"fmt"
	"strings"

	"poolselect/pkg/types"
)

// UnitGroup is a named OR-set of units
type UnitGroup struct {
	name  string
	units nameSet
	links nameSet
}

// Name returns the group name
func (g *UnitGroup) Name() string { return g.name }
// Units returns the member unit names in sorted order
func (g *UnitGroup) Units() []string { return g.units.list() }
// Links returns the links that require this group
func (g *UnitGroup) Links() []string { return g.links.list() }

// PoolMode holds the per-operation disable bits reported for a pool
type PoolMode uint32

const ModeEnabled PoolMode = 0

const (
	ModeDisabled PoolMode = 1 << iota
	ModeDisabledFetch
	ModeDisabledStore
	ModeDisabledStage
	ModeDisabledP2PClient
	ModeDisabledP2PServer
)

// ModeReadOnly disables everything that writes data into the pool
const ModeReadOnly = ModeDisabledStore | ModeDisabledStage | ModeDisabledP2PClient

var modeNames = []struct {
	bit  PoolMode
	name string
}{
	{ModeDisabled, "disabled"},
	{ModeDisabledFetch, "fetch"},
	{ModeDisabledStore, "store"},
	{ModeDisabledStage, "stage"},
	{ModeDisabledP2PClient, "p2p-client"},
	{ModeDisabledP2PServer, "p2p-server"},
}

// String renders the disabled bits as a comma separated list, or "enabled"
func (m PoolMode) String() string {
	if m == ModeEnabled {
		return "enabled"
	}
	s := ""
	for _, mn := range modeNames {
		if m&mn.bit != 0 {
			if s != "" {
				s += ","
			}
			s += mn.name
		}
	}
	return s
}

// ParsePoolMode is the inverse of PoolMode.String
func ParsePoolMode(s string) (PoolMode, error) {
	if s == "" || s == "enabled" {
		return ModeEnabled, nil
	}
	var m PoolMode
	for _, part := range strings.Split(s, ",") {
		found := false
		for _, mn := range modeNames {
			if mn.name == part {
				m |= mn.bit
				found = true
				break
			}
		}
		if !found {
			return 0, badInput("pool mode", s, fmt.Errorf("unknown flag %q", part))
		}
	}
	return m, nil
}

// Pool is a storage endpoint that links route requests to
type Pool struct {
	name     string
	enabled  bool
	readOnly bool
	ping     bool
	active   bool
	mode     PoolMode
	hsm      nameSet
	groups   nameSet
	links    nameSet
}

// Name returns the pool name
func (p *Pool) Name() string { return p.name }
// Enabled reports whether the pool is enabled for selection
func (p *Pool) Enabled() bool { return p.enabled }
// ReadOnly reports whether the pool refuses writes, staging and p2p destinations
func (p *Pool) ReadOnly() bool { return p.readOnly }
// Ping reports whether the pool heartbeat decides its activity
func (p *Pool) Ping() bool { return p.ping }
// Mode returns the disable bits last reported for the pool
func (p *Pool) Mode() PoolMode { return p.mode }
// HsmInstances returns the tape systems the pool is connected to
func (p *Pool) HsmInstances() []string { return p.hsm.list() }
// Groups returns the pool groups holding the pool
func (p *Pool) Groups() []string { return p.groups.list() }
// Links returns the links that target the pool directly
func (p *Pool) Links() []string { return p.links.list() }

// Active reports whether the pool counts as up. Pools that are not pinged
// are always up.
func (p *Pool) Active() bool {
	return !p.ping || p.active
}

func (p *Pool) canServe(op types.Operation, allActive bool) bool {
	if !p.enabled || p.mode&ModeDisabled != 0 {
		return false
	}
	if !allActive && !p.Active() {
		return false
	}
	switch op {
	case types.OperationRead:
		return p.mode&ModeDisabledFetch == 0
	case types.OperationWrite:
		return !p.readOnly && p.mode&ModeDisabledStore == 0
	case types.OperationCache:
		return !p.readOnly && p.mode&ModeDisabledStage == 0
	case types.OperationP2P:
		return !p.readOnly && p.mode&ModeDisabledP2PClient == 0
	}
	return true
}

// PoolGroup is a named set of pools
type PoolGroup struct {
	name  string
	pools nameSet
	links nameSet
}

// Name returns the group name
func (g *PoolGroup) Name() string { return g.name }
// Pools returns the member pool names in sorted order
func (g *PoolGroup) Pools() []string { return g.pools.list() }
// Links returns the links that target this group
func (g *PoolGroup) Links() []string { return g.links.list() }

// Unset marks a preference that does not take part in matching
const Unset = -1

// Preferences are the per-operation attraction values of a link
type Preferences struct {
	Read  int
	Write int
	Cache int
	P2P   int
}

func defaultPreferences() Preferences {
	return Preferences{Read: Unset, Write: Unset, Cache: Unset, P2P: Unset}
}

// For returns the preference used for op. P2P falls back to the read
// preference when unset, ANY takes the largest of the four.
func (p Preferences) For(op types.Operation) int {
	switch op {
	case types.OperationRead:
		return p.Read
	case types.OperationWrite:
		return p.Write
	case types.OperationCache:
		return p.Cache
	case types.OperationP2P:
		if p.P2P < 0 {
			return p.Read
		}
		return p.P2P
	case types.OperationAny:
		return max(p.Read, p.Write, p.Cache, p.P2P)
	}
	return Unset
}

// Link routes requests matching all of its unit groups to its pools
type Link struct {
	name      string
	ugroups   nameSet
	pools     nameSet
	pgroups   nameSet
	prefs     Preferences
	tag       string
	linkGroup string
}

// Name returns the link name
func (l *Link) Name() string { return l.name }
// UnitGroups returns the unit groups a request must satisfy
func (l *Link) UnitGroups() []string { return l.ugroups.list() }
// Pools returns the pools targeted directly
func (l *Link) Pools() []string { return l.pools.list() }
// PoolGroups returns the pool groups targeted
func (l *Link) PoolGroups() []string { return l.pgroups.list() }
// Preferences returns the per-operation preferences
func (l *Link) Preferences() Preferences { return l.prefs }
// Tag returns the section tag, empty when unset
func (l *Link) Tag() string { return l.tag }
// LinkGroup returns the owning link group, empty when none
func (l *Link) LinkGroup() string { return l.linkGroup }

// LinkGroupPolicy lists the file qualities a link group accepts
type LinkGroupPolicy struct {
	Custodial   bool
	Output      bool
	Replica     bool
	Online      bool
	nearline    bool
	nearlineSet bool
}

// Nearline is allowed on custodial or output link groups unless it was set
// explicitly.
func (p LinkGroupPolicy) Nearline() bool {
	if p.nearlineSet {
		return p.nearline
	}
	return p.Custodial || p.Output
}

// SetNearline overrides the derived nearline flag
func (p *LinkGroupPolicy) SetNearline(allowed bool) {
	p.nearline, p.nearlineSet = allowed, true
}

// NearlineExplicit reports whether SetNearline was called
func (p LinkGroupPolicy) NearlineExplicit() bool {
	return p.nearlineSet
}

func (p LinkGroupPolicy) allows(rp types.RetentionPolicy, al types.AccessLatency) bool {
	switch rp {
	case types.RetentionCustodial:
		if !p.Custodial {
			return false
		}
	case types.RetentionOutput:
		if !p.Output {
			return false
		}
	case types.RetentionReplica:
		if !p.Replica {
			return false
		}
	}
	switch al {
	case types.LatencyOnline:
		return p.Online
	case types.LatencyNearline:
		return p.Nearline()
	}
	return true
}

// LinkGroup bundles links under a common storage policy
type LinkGroup struct {
	name   string
	links  nameSet
	policy LinkGroupPolicy
}

// Name returns the link group name
func (g *LinkGroup) Name() string { return g.name }
// Links returns the member links in sorted order
func (g *LinkGroup) Links() []string { return g.links.list() }
// Policy returns the accepted file qualities
func (g *LinkGroup) Policy() LinkGroupPolicy { return g.policy }
