package replica

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"poolselect/pkg/types"
)

const (
	otherID  = types.PnfsID("000100000000000000001060")
	legacyID = types.PnfsID("0000F00DF00DF00DF00DF00D")
)

func testStores(t *testing.T) map[string]StateStore {
	t.Helper()

	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	bs, err := OpenBadgerStore(BadgerOptions{InMemory: true, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { bs.Close() })

	return map[string]StateStore{"file": fs, "badger": bs}
}

func TestStateStores(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Load(testID)
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.Store(testID, Encode(FlagCached, nil)))
			require.NoError(t, store.Store(otherID, Encode(FlagPrecious, nil)))
			require.NoError(t, store.Store(testID, Encode(FlagPrecious, nil)))

			data, err := store.Load(testID)
			require.NoError(t, err)
			assert.Equal(t, "# version 3.0\nprecious\n", string(data))

			ids, err := store.List()
			require.NoError(t, err)
			assert.ElementsMatch(t, []types.PnfsID{testID, otherID}, ids)

			require.NoError(t, store.Remove(testID))
			require.NoError(t, store.Remove(testID))
			_, err = store.Load(testID)
			require.ErrorIs(t, err, ErrNotFound)

			ids, err = store.List()
			require.NoError(t, err)
			assert.Equal(t, []types.PnfsID{otherID}, ids)
		})
	}
}

func TestFileStoreLayout(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Store(testID, Encode(FlagCached, []StickyRecord{{Owner: "system", Expire: NeverExpires}})))

	data, err := os.ReadFile(filepath.Join(dir, "control", string(testID)))
	require.NoError(t, err)
	assert.Equal(t, "# version 3.0\ncached\nsticky:system:-1\n", string(data))

	// stray files are not replicas
	require.NoError(t, os.WriteFile(filepath.Join(dir, "control", ".tmp-file"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "control", "README"), nil, 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "control", string(otherID)), 0755))

	ids, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []types.PnfsID{testID}, ids)

	entries, err := os.ReadDir(filepath.Join(dir, "control"))
	require.NoError(t, err)
	assert.Len(t, entries, 4, "no temporary files left behind")
}

func TestBadgerStoreOnDisk(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenBadgerStore(BadgerOptions{Path: dir, SyncWrites: true, ValueLogFileSize: 16 << 20})
	require.NoError(t, err)
	require.NoError(t, store.Store(testID, Encode(FlagPrecious, nil)))
	require.NoError(t, store.Close())

	store, err = OpenBadgerStore(BadgerOptions{Path: dir})
	require.NoError(t, err)
	defer store.Close()

	data, err := store.Load(testID)
	require.NoError(t, err)
	assert.Equal(t, Encode(FlagPrecious, nil), data)

	_, err = OpenBadgerStore(BadgerOptions{})
	assert.Error(t, err)
}
