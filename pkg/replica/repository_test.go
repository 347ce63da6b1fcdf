package replica

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"poolselect/pkg/types"
)

// failingLoadStore fails reads of one id
type failingLoadStore struct {
	*memStore
	bad types.PnfsID
}

func (s *failingLoadStore) Load(id types.PnfsID) ([]byte, error) {
	if id == s.bad {
		return nil, errors.New("input/output error")
	}
	return s.memStore.Load(id)
}

func newTestRepository(t *testing.T, store StateStore) *Repository {
	return NewRepository(store, Options{Logger: zaptest.NewLogger(t)})
}

func TestRepositoryLoad(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Store(testID, []byte("# version 3.0\nprecious\nsticky:alice:-1\n")))
			require.NoError(t, store.Store(otherID, []byte("# version 3.0\ncached\nbogus\n")))
			require.NoError(t, store.Store(legacyID, []byte("receiving.cient\n")))

			repo := newTestRepository(t, store)
			require.NoError(t, repo.Load(context.Background(), 2))
			assert.Equal(t, []types.PnfsID{testID, legacyID, otherID}, repo.List())

			e, err := repo.Get(testID)
			require.NoError(t, err)
			assert.True(t, e.IsPrecious())
			assert.True(t, e.IsSticky())

			bad, err := repo.Get(otherID)
			require.NoError(t, err)
			assert.True(t, bad.IsError())
			assert.True(t, bad.IsCached())
			require.ErrorIs(t, bad.SetToClient(), ErrIllegalTransition)

			legacy, err := repo.Get(legacyID)
			require.NoError(t, err)
			assert.True(t, legacy.IsReceivingFromClient())
		})
	}
}

func TestRepositoryLoadRejectsUnsupportedVersion(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Store(testID, []byte("# version 4.0\nprecious\n")))

	repo := newTestRepository(t, store)
	err := repo.Load(context.Background(), 0)
	require.ErrorIs(t, err, ErrUnsupportedVersion)
	assert.Contains(t, err.Error(), string(testID))
}

func TestRepositoryLoadMarksUnreadableEntries(t *testing.T) {
	store := &failingLoadStore{memStore: newMemStore(), bad: otherID}
	require.NoError(t, store.Store(testID, Encode(FlagCached, nil)))
	require.NoError(t, store.Store(otherID, Encode(FlagCached, nil)))

	repo := newTestRepository(t, store)
	require.NoError(t, repo.Load(context.Background(), 4))

	e, err := repo.Get(otherID)
	require.NoError(t, err)
	assert.True(t, e.IsError())
	assert.False(t, e.CanRemove())

	// the entry is visible but inert until cleaned
	require.ErrorIs(t, e.SetCached(), ErrIllegalTransition)
	require.NoError(t, e.CleanBad())
	require.NoError(t, e.SetCached())
}

func TestRepositoryLoadHonoursCancellation(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Store(testID, Encode(FlagCached, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	repo := newTestRepository(t, store)
	require.ErrorIs(t, repo.Load(ctx, 1), context.Canceled)
}

func TestRepositoryCreateGetRemove(t *testing.T) {
	store := newMemStore()
	repo := newTestRepository(t, store)

	e, err := repo.Create(testID)
	require.NoError(t, err)
	assert.Equal(t, "# version 3.0\n", string(store.records[testID]))

	_, err = repo.Create(testID)
	require.ErrorIs(t, err, ErrAlreadyExists)

	_, err = repo.Get(otherID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, repo.Remove(otherID, false), ErrNotFound)

	require.NoError(t, e.SetFromClient())
	require.NoError(t, e.SetPrecious(false))
	require.ErrorIs(t, repo.Remove(testID, false), ErrIllegalTransition)
	assert.False(t, e.IsRemoved())

	require.NoError(t, e.SetCached())
	require.NoError(t, repo.Remove(testID, false))
	assert.True(t, e.IsRemoved())
	assert.NotContains(t, store.records, testID)
	assert.Empty(t, repo.List())
}

func TestRepositoryForceRemove(t *testing.T) {
	store := newMemStore()
	repo := newTestRepository(t, store)

	e, err := repo.Create(testID)
	require.NoError(t, err)
	require.NoError(t, e.SetPrecious(false))
	require.NoError(t, e.SetSticky("alice", NeverExpires))

	require.NoError(t, repo.Remove(testID, true))
	assert.Empty(t, repo.List())
}

func TestRepositoryRemovePersistenceFailure(t *testing.T) {
	store := newMemStore()
	repo := newTestRepository(t, store)
	_, err := repo.Create(testID)
	require.NoError(t, err)

	store.fail = errors.New("read-only file system")
	err = repo.Remove(testID, false)
	require.ErrorIs(t, err, ErrPersistence)

	// still listed and untouched so an operator can retry
	e, err := repo.Get(testID)
	require.NoError(t, err)
	assert.False(t, e.IsRemoved())
	assert.Contains(t, store.records, testID)

	store.mu.Lock()
	store.fail = nil
	store.mu.Unlock()
	require.NoError(t, e.SetFromClient())
	require.NoError(t, e.SetCached())
	require.NoError(t, repo.Remove(testID, false))
	assert.True(t, e.IsRemoved())
	assert.NotContains(t, store.records, testID)
}

func TestRepositoryRemoveRejectsEntryInUse(t *testing.T) {
	store := newMemStore()
	repo := newTestRepository(t, store)
	e, err := repo.Create(testID)
	require.NoError(t, err)
	require.NoError(t, e.SetCached())
	require.True(t, e.CanRemove())

	// a transfer starts before the removal gets the entry
	require.NoError(t, e.SetToClient())
	require.ErrorIs(t, repo.Remove(testID, false), ErrIllegalTransition)
	assert.False(t, e.IsRemoved())
	assert.True(t, e.IsBusy())
	assert.Contains(t, store.records, testID)

	require.NoError(t, e.CleanToClient())
	require.NoError(t, e.SetSticky("alice", NeverExpires))
	require.ErrorIs(t, repo.Remove(testID, false), ErrIllegalTransition)
	assert.Contains(t, store.records, testID)
}

func TestRepositoryRemoveRacesTransfer(t *testing.T) {
	for i := 0; i < 200; i++ {
		store := newMemStore()
		repo := newTestRepository(t, store)
		e, err := repo.Create(testID)
		require.NoError(t, err)
		require.NoError(t, e.SetCached())

		var wg sync.WaitGroup
		var removeErr, sendErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			removeErr = repo.Remove(testID, false)
		}()
		go func() {
			defer wg.Done()
			sendErr = e.SetToClient()
		}()
		wg.Wait()

		if removeErr == nil {
			require.ErrorIs(t, sendErr, ErrIllegalTransition, "transfer started on a removed replica")
			assert.False(t, e.IsBusy())
			assert.NotContains(t, store.records, testID)
		} else {
			require.ErrorIs(t, removeErr, ErrIllegalTransition)
			require.NoError(t, sendErr)
			assert.False(t, e.IsRemoved())
			assert.Contains(t, store.records, testID)
		}
	}
}

func TestRepositoryCreatePersistenceFailure(t *testing.T) {
	store := newMemStore()
	store.fail = errors.New("no space left on device")
	repo := newTestRepository(t, store)

	_, err := repo.Create(testID)
	require.ErrorIs(t, err, ErrPersistence)
	assert.Empty(t, repo.List())
}

func TestRepositoryExpireSticky(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	store := newMemStore()
	repo := NewRepository(store, Options{
		Logger: zaptest.NewLogger(t),
		Clock:  func() time.Time { return now },
	})

	a, err := repo.Create(testID)
	require.NoError(t, err)
	require.NoError(t, a.SetCached())
	require.NoError(t, a.SetSticky("pin", now.Add(time.Minute).UnixMilli()))

	b, err := repo.Create(otherID)
	require.NoError(t, err)
	require.NoError(t, b.SetCached())
	require.NoError(t, b.SetSticky("pin", now.Add(-time.Minute).UnixMilli()))

	removed, err := repo.Create(legacyID)
	require.NoError(t, err)
	require.NoError(t, removed.SetRemoved())

	assert.True(t, a.IsSticky())
	assert.False(t, b.IsSticky())

	assert.Equal(t, 1, repo.ExpireSticky())
	assert.Len(t, a.StickyRecords(), 1)
	assert.Empty(t, b.StickyRecords())
	assert.Equal(t, 0, repo.ExpireSticky())
}

func TestRepositoryStats(t *testing.T) {
	repo := newTestRepository(t, newMemStore())

	ids := []types.PnfsID{
		"000000000000000000000001",
		"000000000000000000000002",
		"000000000000000000000003",
		"000000000000000000000004",
	}
	entries := make([]*Entry, len(ids))
	for i, id := range ids {
		e, err := repo.Create(id)
		require.NoError(t, err)
		entries[i] = e
	}
	require.NoError(t, entries[0].SetPrecious(false))
	require.NoError(t, entries[1].SetCached())
	require.NoError(t, entries[1].SetSticky("alice", NeverExpires))
	require.NoError(t, entries[1].SetToClient())
	require.NoError(t, entries[2].SetFromStore())
	require.NoError(t, entries[3].SetError())

	assert.Equal(t, Stats{
		Total:    4,
		Precious: 1,
		Cached:   1,
		Sticky:   1,
		Busy:     2,
		Error:    1,
	}, repo.Stats())
}

func TestRepositoryMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	store := newMemStore()
	repo := NewRepository(store, Options{Logger: zaptest.NewLogger(t), Metrics: metrics})

	e, err := repo.Create(testID)
	require.NoError(t, err)
	require.NoError(t, e.SetCached())
	require.Error(t, e.SetToStore())

	store.fail = errors.New("disk full")
	require.Error(t, e.SetPrecious(false))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Transitions.WithLabelValues("setCached", resultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Transitions.WithLabelValues("setToStore", resultIllegal)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Transitions.WithLabelValues("setPrecious", resultPersistError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PersistFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Entries))
}

func TestRepositoryClearError(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Store(testID, []byte("# version 3.0\ncached\nbogus\nsticky:alice:-1\n")))
	require.NoError(t, store.Store(otherID, []byte("# version 3.0\nprecious\ncached\n")))

	repo := newTestRepository(t, store)
	require.NoError(t, repo.Load(context.Background(), 1))

	require.NoError(t, repo.ClearError(testID))
	e, err := repo.Get(testID)
	require.NoError(t, err)
	assert.False(t, e.IsError())
	assert.True(t, e.IsCached())

	data, err := store.Load(testID)
	require.NoError(t, err)
	assert.Equal(t, Encode(FlagCached, []StickyRecord{{Owner: "alice", Expire: NeverExpires}}), data)

	require.ErrorIs(t, repo.ClearError(otherID), ErrIllegalTransition)
	other, err := repo.Get(otherID)
	require.NoError(t, err)
	assert.True(t, other.IsError())

	require.ErrorIs(t, repo.ClearError(legacyID), ErrNotFound)
}
