package replica

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"poolselect/pkg/types"
)

// DefaultLoadConcurrency bounds parallel record reads during Load
const DefaultLoadConcurrency = 8

// Options configures a Repository. All fields are optional.
type Options struct {
	Logger  *zap.Logger
	Metrics *Metrics
	Clock   func() time.Time
}

// Repository holds the replica entries of one pool
type Repository struct {
	store   StateStore
	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time

	mu      sync.RWMutex
	entries map[types.PnfsID]*Entry
}

// NewRepository creates an empty repository backed by store
func NewRepository(store StateStore, opts Options) *Repository {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Repository{
		store:   store,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Clock,
		entries: make(map[types.PnfsID]*Entry),
	}
}

// Load reads every stored record. Records that cannot be read or contain
// unknown tokens are registered in ERROR; an unsupported or malformed
// version header aborts the load.
func (r *Repository) Load(ctx context.Context, concurrency int) error {
	if concurrency <= 0 {
		concurrency = DefaultLoadConcurrency
	}
	ids, err := r.store.List()
	if err != nil {
		return &PersistenceError{Op: "list", Err: err}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			entry, err := r.loadEntry(id)
			if err != nil {
				return err
			}
			r.mu.Lock()
			r.entries[id] = entry
			r.mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	r.mu.RLock()
	n := len(r.entries)
	r.mu.RUnlock()
	r.metrics.setEntries(n)
	r.logger.Info("Loaded replica repository", zap.Int("entries", n))
	return nil
}

func (r *Repository) loadEntry(id types.PnfsID) (*Entry, error) {
	data, err := r.store.Load(id)
	if err != nil {
		r.logger.Warn("Failed to read control record",
			zap.String("pnfsid", string(id)),
			zap.Error(err))
		r.metrics.observePersistFailure()
		return newEntry(id, state{flags: FlagError}, r.store, r.metrics, r.now), nil
	}

	d, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", id, err)
	}
	if len(d.Invalid) > 0 {
		r.logger.Warn("Control record has invalid lines",
			zap.String("pnfsid", string(id)),
			zap.Strings("lines", d.Invalid))
	} else if d.Flags.Has(FlagError) {
		r.logger.Warn("Control record has inconsistent flags",
			zap.String("pnfsid", string(id)),
			zap.Stringer("flags", d.Flags))
	}
	return newEntry(id, state{flags: d.Flags, sticky: d.Sticky}, r.store, r.metrics, r.now), nil
}

// Create registers a new, empty replica and writes its control record
func (r *Repository) Create(id types.PnfsID) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; ok {
		return nil, fmt.Errorf("%s: %w", id, ErrAlreadyExists)
	}
	if err := r.store.Store(id, Encode(0, nil)); err != nil {
		r.metrics.observePersistFailure()
		return nil, &PersistenceError{ID: id, Op: "create", Err: err}
	}
	entry := newEntry(id, state{}, r.store, r.metrics, r.now)
	r.entries[id] = entry
	r.metrics.setEntries(len(r.entries))

	r.logger.Debug("Created replica", zap.String("pnfsid", string(id)))
	return entry, nil
}

// Get returns the entry of id
func (r *Repository) Get(id types.PnfsID) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return entry, nil
}

// Remove marks the replica REMOVED, deletes its record and forgets it.
// Without force the replica must be removable (see Entry.CanRemove).
func (r *Repository) Remove(id types.PnfsID, force bool) error {
	entry, err := r.Get(id)
	if err != nil {
		return err
	}
	if err := entry.remove(force); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.entries, id)
	r.metrics.setEntries(len(r.entries))
	r.mu.Unlock()

	r.logger.Debug("Removed replica", zap.String("pnfsid", string(id)), zap.Bool("force", force))
	return nil
}

// ClearError takes id out of ERROR and rewrites its control record, so
// lines that failed to decode are gone on the next load
func (r *Repository) ClearError(id types.PnfsID) error {
	entry, err := r.Get(id)
	if err != nil {
		return err
	}
	if err := entry.repair(); err != nil {
		return err
	}
	r.logger.Info("Cleared replica error",
		zap.String("pnfsid", string(id)),
		zap.Stringer("flags", entry.Flags()))
	return nil
}

// List returns the ids of all entries in order
func (r *Repository) List() []types.PnfsID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.entries))
}

// ExpireSticky drops expired sticky records from every entry and returns
// how many entries were updated. Entries that fail to persist are logged
// and skipped.
func (r *Repository) ExpireSticky() int {
	now := r.now()
	var changed int
	for _, id := range r.List() {
		entry, err := r.Get(id)
		if err != nil {
			continue
		}
		before := len(entry.StickyRecords())
		err = entry.ExpireSticky(now)
		if errors.Is(err, ErrIllegalTransition) {
			continue
		}
		if err != nil {
			r.logger.Warn("Failed to expire sticky records",
				zap.String("pnfsid", string(id)),
				zap.Error(err))
			continue
		}
		if len(entry.StickyRecords()) != before {
			changed++
		}
	}
	return changed
}

// Stats counts entries per facet
type Stats struct {
	Total    int `json:"total"`
	Precious int `json:"precious"`
	Cached   int `json:"cached"`
	Sticky   int `json:"sticky"`
	Busy     int `json:"busy"`
	Error    int `json:"error"`
	Removed  int `json:"removed"`
}

// Stats counts the entries per flag
func (r *Repository) Stats() Stats {
	r.mu.RLock()
	entries := slices.Collect(maps.Values(r.entries))
	r.mu.RUnlock()

	s := Stats{Total: len(entries)}
	for _, e := range entries {
		f := e.Flags()
		if f.Has(FlagPrecious) {
			s.Precious++
		}
		if f.Has(FlagCached) {
			s.Cached++
		}
		if e.IsSticky() {
			s.Sticky++
		}
		if f.Has(flagsBusy) {
			s.Busy++
		}
		if f.Has(FlagError) {
			s.Error++
		}
		if f.Has(FlagRemoved) {
			s.Removed++
		}
	}
	return s
}

// Close closes the underlying store
func (r *Repository) Close() error {
	return r.store.Close()
}
