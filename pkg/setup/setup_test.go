package setup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"poolselect/pkg/command"
	"poolselect/pkg/selection"
)

const baseSetup = `psu create unit -store *@*
psu create ugroup any
psu addto ugroup any *@*
psu create pool p1
psu create link L any
psu set link L -readpref=10
psu add link L p1
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poolmanager.conf")
	writeFile(t, path, baseSetup)

	e := selection.NewEngine(zaptest.NewLogger(t), nil)
	n, err := Load(path, e)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, ok := e.Snapshot().Pool("p1")
	assert.True(t, ok)
}

func TestLoadReplacesAndKeepsRuntimeState(t *testing.T) {
	e := selection.NewEngine(zaptest.NewLogger(t), nil)
	_, err := LoadReader(strings.NewReader(baseSetup+"psu create pool p2\n"), e)
	require.NoError(t, err)

	_, err = e.SetPoolActive("p1", true)
	require.NoError(t, err)

	_, err = LoadReader(strings.NewReader(baseSetup), e)
	require.NoError(t, err)

	snap := e.Snapshot()
	_, ok := snap.Pool("p2")
	assert.False(t, ok, "pools missing from the new setup are dropped")
	p1, ok := snap.Pool("p1")
	require.True(t, ok)
	assert.True(t, p1.Active())
}

func TestLoadFailureKeepsConfiguration(t *testing.T) {
	e := selection.NewEngine(zaptest.NewLogger(t), nil)
	_, err := LoadReader(strings.NewReader(baseSetup), e)
	require.NoError(t, err)
	gen := e.Generation()

	_, err = LoadReader(strings.NewReader("psu create pool p9\npsu add link nowhere p9\n"), e)
	require.ErrorIs(t, err, selection.ErrConfigurationReference)

	_, err = LoadReader(strings.NewReader("psu create pool\n"), e)
	require.ErrorIs(t, err, command.ErrSyntax)

	_, err = Load(filepath.Join(t.TempDir(), "missing.conf"), e)
	require.Error(t, err)

	assert.Equal(t, gen, e.Generation())
	_, ok := e.Snapshot().Pool("p1")
	assert.True(t, ok)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	e := selection.NewEngine(zaptest.NewLogger(t), nil)
	_, err := LoadReader(strings.NewReader(baseSetup), e)
	require.NoError(t, err)

	path := filepath.Join(dir, "saved.conf")
	require.NoError(t, Save(path, e))

	reloaded := selection.NewEngine(zaptest.NewLogger(t), nil)
	_, err = Load(path, reloaded)
	require.NoError(t, err)
	assert.Equal(t, e.DumpSetup(), reloaded.DumpSetup())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "poolmanager.conf")
	writeFile(t, path, baseSetup)

	e := selection.NewEngine(zaptest.NewLogger(t), nil)
	_, err := Load(path, e)
	require.NoError(t, err)

	var mu sync.Mutex
	var results []error
	w, err := NewWatcher(path, e, zaptest.NewLogger(t), WatcherOptions{
		Debounce: 50 * time.Millisecond,
		OnReload: func(_ int, err error) {
			mu.Lock()
			results = append(results, err)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	reloads := func() []error {
		mu.Lock()
		defer mu.Unlock()
		return append([]error(nil), results...)
	}

	// unrelated files in the same directory are ignored
	writeFile(t, filepath.Join(dir, "other.conf"), "garbage")

	writeFile(t, path, baseSetup+"psu create pool p2\n")
	require.Eventually(t, func() bool {
		_, ok := e.Snapshot().Pool("p2")
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	// a broken file keeps the previous graph
	writeFile(t, path, "psu create pool\n")
	require.Eventually(t, func() bool {
		r := reloads()
		return len(r) > 0 && r[len(r)-1] != nil
	}, 5*time.Second, 10*time.Millisecond)
	_, ok := e.Snapshot().Pool("p2")
	assert.True(t, ok)

	for _, err := range reloads() {
		if err != nil {
			assert.ErrorIs(t, err, command.ErrSyntax)
		}
	}
}

func TestLoadAppliesOverrides(t *testing.T) {
	on := true
	script := baseSetup + "psu set allpoolsactive off\n"

	e := selection.NewEngine(zaptest.NewLogger(t), nil)
	_, err := LoadReader(strings.NewReader(script), e)
	require.NoError(t, err)
	assert.False(t, e.Snapshot().AllPoolsActive())
	gen := e.Generation()

	_, err = Overrides{AllPoolsActive: &on}.LoadReader(strings.NewReader(script), e)
	require.NoError(t, err)
	snap := e.Snapshot()
	assert.True(t, snap.AllPoolsActive())
	assert.Equal(t, gen+1, snap.Generation(), "script and overrides publish together")

	_, err = Overrides{AllPoolsActive: &on}.LoadReader(strings.NewReader("psu create pool\n"), e)
	require.ErrorIs(t, err, command.ErrSyntax)
	assert.Equal(t, gen+1, e.Generation())
}

func TestWatcherAppliesOverrides(t *testing.T) {
	on := true
	overrides := Overrides{AllPoolsActive: &on}
	dir := t.TempDir()
	path := filepath.Join(dir, "poolmanager.conf")
	writeFile(t, path, baseSetup+"psu set allpoolsactive off\n")

	e := selection.NewEngine(zaptest.NewLogger(t), nil)
	_, err := overrides.Load(path, e)
	require.NoError(t, err)
	require.True(t, e.Snapshot().AllPoolsActive())

	w, err := NewWatcher(path, e, zaptest.NewLogger(t), WatcherOptions{
		Debounce:  50 * time.Millisecond,
		Overrides: overrides,
	})
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	writeFile(t, path, baseSetup+"psu create pool p2\npsu set allpoolsactive off\n")
	var snap *selection.Snapshot
	require.Eventually(t, func() bool {
		snap = e.Snapshot()
		_, ok := snap.Pool("p2")
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, snap.AllPoolsActive(), "the reloaded graph carries the override")
}
