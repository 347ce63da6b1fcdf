package replica

import (
	"fmt"
	"strings"
	"time"
)

// Op names a replica state transition
type Op uint8

const (
	OpSetSticky Op = iota
	OpCleanSticky
	OpExpireSticky
	OpSetPrecious
	OpSetCached
	OpSetFromClient
	OpSetFromStore
	OpSetToClient
	OpCleanToClient
	OpSetToStore
	OpCleanToStore
	OpSetError
	OpCleanBad
	OpSetRemoved
)

var opNames = [...]string{
	OpSetSticky:     "setSticky",
	OpCleanSticky:   "cleanSticky",
	OpExpireSticky:  "expireSticky",
	OpSetPrecious:   "setPrecious",
	OpSetCached:     "setCached",
	OpSetFromClient: "setFromClient",
	OpSetFromStore:  "setFromStore",
	OpSetToClient:   "setToClient",
	OpCleanToClient: "cleanToClient",
	OpSetToStore:    "setToStore",
	OpCleanToStore:  "cleanToStore",
	OpSetError:      "setError",
	OpCleanBad:      "cleanBad",
	OpSetRemoved:    "setRemoved",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Transition is a single requested state change.
//
// Owner and Expire describe the sticky record for OpSetSticky and
// OpCleanSticky. Force lets OpSetPrecious pass an ERROR state. Now is the
// reference time for OpExpireSticky; the zero value means the entry clock.
type Transition struct {
	Op     Op
	Owner  string
	Expire int64
	Force  bool
	Now    time.Time
}

// rule is one row of the legality table. A transition is rejected when any
// forbidden flag is set, or when require is non-zero and none of its flags
// is set. persist marks transitions whose result is written to the store.
type rule struct {
	forbid  Flags
	require Flags
	persist bool
	apply   func(s *state, t Transition)
}

var rules = map[Op]rule{
	OpSetSticky: {
		forbid:  FlagError | FlagRemoved,
		persist: true,
		apply: func(s *state, t Transition) {
			s.addSticky(StickyRecord{Owner: t.Owner, Expire: t.Expire})
		},
	},
	OpCleanSticky: {
		forbid:  FlagRemoved,
		persist: true,
		apply: func(s *state, t Transition) {
			s.removeSticky(StickyRecord{Owner: t.Owner, Expire: t.Expire})
		},
	},
	OpExpireSticky: {
		forbid:  FlagRemoved,
		persist: true,
		apply: func(s *state, t Transition) {
			s.expireSticky(t.Now)
		},
	},
	OpSetPrecious: {
		forbid:  FlagError | FlagRemoved,
		persist: true,
		apply: func(s *state, _ Transition) {
			s.flags = s.flags&^(FlagCached|flagsReceiving) | FlagPrecious
		},
	},
	OpSetCached: {
		forbid:  FlagError | FlagRemoved,
		persist: true,
		apply: func(s *state, _ Transition) {
			s.flags = s.flags&^(FlagPrecious|flagsReceiving) | FlagCached
		},
	},
	OpSetFromClient: {
		forbid:  FlagError | FlagRemoved | FlagPrecious | FlagCached | flagsReceiving,
		persist: true,
		apply:   setFlags(FlagFromClient),
	},
	OpSetFromStore: {
		forbid:  FlagError | FlagRemoved | FlagPrecious | FlagCached | flagsReceiving,
		persist: true,
		apply:   setFlags(FlagFromStore),
	},
	OpSetToClient: {
		forbid:  FlagError | FlagRemoved,
		require: FlagPrecious | FlagCached,
		apply:   setFlags(FlagToClient),
	},
	OpCleanToClient: {apply: clearFlags(FlagToClient)},
	OpSetToStore: {
		forbid:  FlagError | FlagRemoved,
		require: FlagPrecious,
		apply:   setFlags(FlagToStore),
	},
	OpCleanToStore: {apply: clearFlags(FlagToStore)},
	OpSetError: {
		forbid: FlagRemoved,
		apply:  setFlags(FlagError),
	},
	OpCleanBad:   {apply: clearFlags(FlagError)},
	OpSetRemoved: {apply: setFlags(FlagRemoved)},
}

func setFlags(f Flags) func(*state, Transition) {
	return func(s *state, _ Transition) { s.flags |= f }
}

func clearFlags(f Flags) func(*state, Transition) {
	return func(s *state, _ Transition) { s.flags &^= f }
}

// check returns a non-empty reason when t may not be applied to flags
func (r rule) check(flags Flags, t Transition) string {
	forbid := r.forbid
	if t.Op == OpSetPrecious && t.Force {
		forbid &^= FlagError
	}
	if blocked := flags & forbid; blocked != 0 {
		return fmt.Sprintf("not allowed while %s", blocked)
	}
	if r.require != 0 && !flags.Has(r.require) {
		return fmt.Sprintf("requires one of %s", r.require)
	}
	if t.Op == OpSetSticky || t.Op == OpCleanSticky {
		if t.Owner == "" || strings.ContainsAny(t.Owner, ": \t\r\n") {
			return fmt.Sprintf("invalid sticky owner %q", t.Owner)
		}
		if t.Expire < NeverExpires {
			return fmt.Sprintf("invalid sticky expiry %d", t.Expire)
		}
	}
	return ""
}
