package selection

import (
	"errors"
	"fmt"
	"strings"

	"poolselect/pkg/subnet"
)

// UnitKind is the request facet a unit matches against
type UnitKind int

const (
	UnitStore UnitKind = iota
	UnitNet
	UnitProtocol
	UnitDCache
)

// String returns the command line spelling of the kind
func (k UnitKind) String() string {
	switch k {
	case UnitStore:
		return "store"
	case UnitNet:
		return "net"
	case UnitProtocol:
		return "protocol"
	case UnitDCache:
		return "dcache"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseUnitKind accepts the kind name with or without a leading dash
func ParseUnitKind(s string) (UnitKind, error) {
	switch strings.TrimPrefix(strings.ToLower(s), "-") {
	case "store":
		return UnitStore, nil
	case "net":
		return UnitNet, nil
	case "protocol":
		return UnitProtocol, nil
	case "dcache":
		return UnitDCache, nil
	}
	return 0, badInput("unit kind", s, nil)
}

// Unit is a named pattern over one request facet
type Unit struct {
	name   string
	kind   UnitKind
	store  storeKey
	net    subnet.Subnet
	proto  protocolKey
	groups nameSet
}

// Name returns the canonical unit name
func (u *Unit) Name() string { return u.name }
// Kind returns the request facet the unit matches
func (u *Unit) Kind() UnitKind { return u.kind }
// Groups returns the unit groups holding the unit
func (u *Unit) Groups() []string { return u.groups.list() }
// Subnet returns the parsed network of a net unit, the zero Subnet otherwise
func (u *Unit) Subnet() subnet.Subnet { return u.net }

// newUnit parses name according to kind. Net units are renamed to the
// canonical addr/len form.
func newUnit(kind UnitKind, name string) (*Unit, error) {
	u := &Unit{name: name, kind: kind}
	switch kind {
	case UnitStore:
		key, err := parseStoreKey(name)
		if err != nil {
			return nil, badInput("store unit", name, err)
		}
		u.store = key
	case UnitNet:
		sn, err := subnet.Parse(name)
		if err != nil {
			return nil, badInput("net unit", name, err)
		}
		u.net = sn
		u.name = sn.String()
	case UnitProtocol:
		key, err := parseProtocol(name)
		if err != nil {
			return nil, badInput("protocol unit", name, err)
		}
		u.proto = key
	case UnitDCache:
		if name == "" || strings.ContainsAny(name, " \t") {
			return nil, badInput("dcache unit", name, nil)
		}
	default:
		return nil, badInput("unit kind", kind.String(), nil)
	}
	return u, nil
}

// storeKey is a storage class key or pattern of the form
// [group:]class@instance.
type storeKey struct {
	group    string
	class    string
	hsm      string
	hasGroup bool
}

var errStoreSyntax = errors.New("expected <class>@<instance>")

func parseStoreKey(s string) (storeKey, error) {
	i := strings.LastIndexByte(s, '@')
	if i <= 0 || i == len(s)-1 {
		return storeKey{}, errStoreSyntax
	}
	key := storeKey{hsm: s[i+1:]}
	class := s[:i]
	if g, c, ok := strings.Cut(class, ":"); ok {
		key.group, key.class, key.hasGroup = g, c, true
	} else {
		key.class = class
	}
	return key, nil
}

func (p storeKey) isUniversal() bool {
	return p.hsm == "*" && !p.hasGroup && p.class == "*"
}

func (p storeKey) matches(k storeKey) bool {
	if !wildEq(p.hsm, k.hsm) {
		return false
	}
	if !p.hasGroup {
		return p.class == "*" || (!k.hasGroup && p.class == k.class)
	}
	return k.hasGroup && wildEq(p.group, k.group) && wildEq(p.class, k.class)
}

func wildEq(pattern, value string) bool {
	return pattern == "*" || pattern == value
}

type protocolKey struct {
	name    string
	version string
}

var errProtocolSyntax = errors.New("expected <name>/<version>")

func parseProtocol(s string) (protocolKey, error) {
	name, version, ok := strings.Cut(s, "/")
	if !ok || name == "" || version == "" || strings.Contains(version, "/") {
		return protocolKey{}, errProtocolSyntax
	}
	return protocolKey{name: name, version: version}, nil
}
