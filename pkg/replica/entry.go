package replica

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"poolselect/pkg/types"
)

// Entry is the state of one replica on a pool. All changes go through
// Apply, which holds the entry write lock across the store write so the
// in-memory state never runs ahead of the persisted record.
type Entry struct {
	id types.PnfsID

	mu sync.RWMutex
	st state

	store   StateStore
	metrics *Metrics
	now     func() time.Time
}

// NewEntry creates an empty entry persisted to store. A nil store keeps
// the entry in memory only.
func NewEntry(id types.PnfsID, store StateStore) *Entry {
	return newEntry(id, state{}, store, nil, time.Now)
}

func newEntry(id types.PnfsID, st state, store StateStore, metrics *Metrics, now func() time.Time) *Entry {
	return &Entry{id: id, st: st, store: store, metrics: metrics, now: now}
}

// ID returns the replica PNFS ID
func (e *Entry) ID() types.PnfsID { return e.id }

// Apply performs t or returns a *TransitionError leaving the entry
// unchanged. If the new state has to be persisted and the store fails, the
// entry also stays unchanged and a *PersistenceError is returned.
func (e *Entry) Apply(t Transition) error {
	r, ok := rules[t.Op]
	if !ok {
		return &TransitionError{ID: e.id, Op: t.Op, Reason: "unknown transition"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if reason := r.check(e.st.flags, t); reason != "" {
		e.metrics.observeTransition(t.Op, resultIllegal)
		return &TransitionError{ID: e.id, Op: t.Op, Flags: e.st.flags, Reason: reason}
	}
	if t.Op == OpExpireSticky && t.Now.IsZero() {
		t.Now = e.now()
	}

	next := e.st.clone()
	r.apply(&next, t)

	if r.persist && e.store != nil && !next.samePersistent(e.st) {
		if err := e.store.Store(e.id, Encode(next.flags, next.sticky)); err != nil {
			e.metrics.observePersistFailure()
			e.metrics.observeTransition(t.Op, resultPersistError)
			return &PersistenceError{ID: e.id, Op: "store", Err: err}
		}
	}
	e.st = next
	e.metrics.observeTransition(t.Op, resultOK)
	return nil
}

// SetSticky adds or refreshes the sticky record of owner. NeverExpires
// keeps it forever.
func (e *Entry) SetSticky(owner string, expire int64) error {
	return e.Apply(Transition{Op: OpSetSticky, Owner: owner, Expire: expire})
}

// CleanSticky removes the sticky record of owner
func (e *Entry) CleanSticky(owner string, expire int64) error {
	return e.Apply(Transition{Op: OpCleanSticky, Owner: owner, Expire: expire})
}

// ExpireSticky drops sticky records that expired at or before now
func (e *Entry) ExpireSticky(now time.Time) error {
	return e.Apply(Transition{Op: OpExpireSticky, Now: now})
}

// SetPrecious marks the replica as not yet on tape
func (e *Entry) SetPrecious(force bool) error {
	return e.Apply(Transition{Op: OpSetPrecious, Force: force})
}

// SetCached and the helpers that follow apply the transition of the same
// name.
func (e *Entry) SetCached() error     { return e.Apply(Transition{Op: OpSetCached}) }
func (e *Entry) SetFromClient() error { return e.Apply(Transition{Op: OpSetFromClient}) }
func (e *Entry) SetFromStore() error  { return e.Apply(Transition{Op: OpSetFromStore}) }
func (e *Entry) SetToClient() error   { return e.Apply(Transition{Op: OpSetToClient}) }
func (e *Entry) CleanToClient() error { return e.Apply(Transition{Op: OpCleanToClient}) }
func (e *Entry) SetToStore() error    { return e.Apply(Transition{Op: OpSetToStore}) }
func (e *Entry) CleanToStore() error  { return e.Apply(Transition{Op: OpCleanToStore}) }
func (e *Entry) SetError() error      { return e.Apply(Transition{Op: OpSetError}) }
func (e *Entry) CleanBad() error      { return e.Apply(Transition{Op: OpCleanBad}) }
func (e *Entry) SetRemoved() error    { return e.Apply(Transition{Op: OpSetRemoved}) }

// Flags returns a copy of the current flags
func (e *Entry) Flags() Flags {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.st.flags
}

func (e *Entry) has(f Flags) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.st.flags.Has(f)
}

// IsPrecious reports the PRECIOUS flag. The predicates that follow each
// report the flag they are named after.
func (e *Entry) IsPrecious() bool            { return e.has(FlagPrecious) }
func (e *Entry) IsCached() bool              { return e.has(FlagCached) }
func (e *Entry) IsReceivingFromClient() bool { return e.has(FlagFromClient) }
func (e *Entry) IsReceivingFromStore() bool  { return e.has(FlagFromStore) }
func (e *Entry) IsSendingToClient() bool     { return e.has(FlagToClient) }
func (e *Entry) IsSendingToStore() bool      { return e.has(FlagToStore) }
func (e *Entry) IsError() bool               { return e.has(FlagError) }
func (e *Entry) IsRemoved() bool             { return e.has(FlagRemoved) }

// IsBusy reports a transfer in either direction
func (e *Entry) IsBusy() bool { return e.has(flagsBusy) }

// IsSticky reports whether at least one sticky record is still valid
func (e *Entry) IsSticky() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.st.stickyAt(e.now())
}

// IsReady reports a complete replica that can be served
func (e *Entry) IsReady() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	f := e.st.flags
	return f.Has(FlagPrecious|FlagCached) && !f.Has(FlagError|FlagRemoved)
}

// CanRemove reports whether the replica may be evicted
func (e *Entry) CanRemove() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.removable()
}

func (e *Entry) removable() bool {
	return !e.st.flags.Has(FlagPrecious|FlagError|flagsBusy) && !e.st.stickyAt(e.now())
}

// remove deletes the stored record and marks the entry REMOVED under one
// write lock. Unless force is set the entry must be removable. A failed
// delete leaves the entry as it was.
func (e *Entry) remove(force bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !force && !e.removable() {
		e.metrics.observeTransition(OpSetRemoved, resultIllegal)
		return &TransitionError{ID: e.id, Op: OpSetRemoved, Flags: e.st.flags, Reason: "replica is in use"}
	}
	if e.store != nil {
		if err := e.store.Remove(e.id); err != nil {
			e.metrics.observePersistFailure()
			e.metrics.observeTransition(OpSetRemoved, resultPersistError)
			return &PersistenceError{ID: e.id, Op: "remove", Err: err}
		}
	}
	e.st.flags |= FlagRemoved
	e.metrics.observeTransition(OpSetRemoved, resultOK)
	return nil
}

// StickyRecords returns a copy of the sticky records ordered by owner and expiry
func (e *Entry) StickyRecords() []StickyRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.st.sticky)
}

// Info is a point-in-time view of an entry
type Info struct {
	ID        types.PnfsID   `json:"pnfsid"`
	State     string         `json:"state"`
	Flags     []string       `json:"flags"`
	Sticky    []StickyRecord `json:"sticky,omitempty"`
	Busy      bool           `json:"busy"`
	CanRemove bool           `json:"can_remove"`
}

// Info captures the entry under one read lock
func (e *Entry) Info() Info {
	e.mu.RLock()
	defer e.mu.RUnlock()
	f := e.st.flags
	sticky := e.st.stickyAt(e.now())
	names := f.Names()
	if sticky {
		names = append(names, "sticky")
	}
	return Info{
		ID:        e.id,
		State:     fmt.Sprintf("<%s>", f),
		Flags:     names,
		Sticky:    slices.Clone(e.st.sticky),
		Busy:      f.Has(flagsBusy),
		CanRemove: !f.Has(FlagPrecious|FlagError|flagsBusy) && !sticky,
	}
}

func (e *Entry) String() string {
	return fmt.Sprintf("%s <%s>", e.id, e.Flags())
}

// repair clears ERROR and rewrites the control record from the in-memory
// state, dropping whatever could not be decoded. Contradicting flags are
// left in ERROR.
func (e *Entry) repair() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	flags := e.st.flags &^ FlagError
	if !consistent(flags) {
		e.metrics.observeTransition(OpCleanBad, resultIllegal)
		return &TransitionError{ID: e.id, Op: OpCleanBad, Flags: e.st.flags, Reason: "contradicting flags"}
	}
	if e.store != nil {
		if err := e.store.Store(e.id, Encode(flags, e.st.sticky)); err != nil {
			e.metrics.observePersistFailure()
			e.metrics.observeTransition(OpCleanBad, resultPersistError)
			return &PersistenceError{ID: e.id, Op: "store", Err: err}
		}
	}
	e.st.flags = flags
	e.metrics.observeTransition(OpCleanBad, resultOK)
	return nil
}
