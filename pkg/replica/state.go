package replica

import (
	"cmp"
	"slices"
	"strings"
	"time"
)

// Flags holds the boolean facets of a replica. Stickiness is derived from
// the sticky records and is not part of the bit set.
type Flags uint16

const (
	FlagPrecious Flags = 1 << iota
	FlagCached
	FlagFromClient
	FlagFromStore
	FlagToClient
	FlagToStore
	FlagError
	FlagRemoved
)

const (
	flagsReceiving = FlagFromClient | FlagFromStore
	flagsBusy      = flagsReceiving | FlagToClient | FlagToStore

	// flags written to the control record
	flagsPersistent = FlagPrecious | FlagCached | flagsReceiving
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagPrecious, "precious"},
	{FlagCached, "cached"},
	{FlagFromClient, "from-client"},
	{FlagFromStore, "from-store"},
	{FlagToClient, "to-client"},
	{FlagToStore, "to-store"},
	{FlagError, "error"},
	{FlagRemoved, "removed"},
}

// Has reports whether any of the given flags is set
func (f Flags) Has(mask Flags) bool {
	return f&mask != 0
}

// Names lists the set flags in a fixed order
func (f Flags) Names() []string {
	var names []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			names = append(names, fn.name)
		}
	}
	return names
}

func (f Flags) String() string {
	if f == 0 {
		return "new"
	}
	return strings.Join(f.Names(), ",")
}

// NeverExpires is the expiry of a sticky record that lasts until cleared
const NeverExpires int64 = -1

// DefaultStickyOwner owns sticky records that were written without an owner
const DefaultStickyOwner = "system"

// StickyRecord pins a replica on behalf of an owner until Expire
// (milliseconds since the epoch) or forever when Expire is NeverExpires.
type StickyRecord struct {
	Owner  string `json:"owner"`
	Expire int64  `json:"expire"`
}

// ValidAt reports whether the record still pins the replica at now
func (r StickyRecord) ValidAt(now time.Time) bool {
	return r.Expire == NeverExpires || r.Expire > now.UnixMilli()
}

func compareSticky(a, b StickyRecord) int {
	if c := cmp.Compare(a.Owner, b.Owner); c != 0 {
		return c
	}
	return cmp.Compare(a.Expire, b.Expire)
}

// state is the value guarded by an entry lock. Transitions work on a copy
// and the copy replaces the original only after it has been persisted.
type state struct {
	flags  Flags
	sticky []StickyRecord // sorted, no duplicates
}

func (s state) clone() state {
	return state{flags: s.flags, sticky: slices.Clone(s.sticky)}
}

// addSticky inserts r and reports whether the record set changed
func (s *state) addSticky(r StickyRecord) bool {
	i, found := slices.BinarySearchFunc(s.sticky, r, compareSticky)
	if found {
		return false
	}
	s.sticky = slices.Insert(s.sticky, i, r)
	return true
}

func (s *state) removeSticky(r StickyRecord) bool {
	i, found := slices.BinarySearchFunc(s.sticky, r, compareSticky)
	if !found {
		return false
	}
	s.sticky = slices.Delete(s.sticky, i, i+1)
	return true
}

func (s *state) expireSticky(now time.Time) bool {
	n := len(s.sticky)
	s.sticky = slices.DeleteFunc(s.sticky, func(r StickyRecord) bool {
		return !r.ValidAt(now)
	})
	return len(s.sticky) != n
}

func (s state) stickyAt(now time.Time) bool {
	return slices.ContainsFunc(s.sticky, func(r StickyRecord) bool {
		return r.ValidAt(now)
	})
}

// samePersistent reports whether both states encode to the same control record
func (s state) samePersistent(o state) bool {
	return s.flags&flagsPersistent == o.flags&flagsPersistent && slices.Equal(s.sticky, o.sticky)
}
