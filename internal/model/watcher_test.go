package model

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWatcher_ReloadsExternalWrite verifies that replacing the weight file from outside the
// model swaps the live weights.
func TestWatcher_ReloadsExternalWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.txt")
	store := NewFileWeightStore(path)
	m := NewLinearModel(store, nil)

	w, err := NewWatcher(m, store, nil)
	require.NoError(t, err)
	reloaded := make(chan Weights, 4)
	w.reloaded = func(ws Weights) { reloaded <- ws }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	want := Weights{0.5, 0.1, 0.1, 0.1, 0.1, 0.05}
	require.NoError(t, NewFileWeightStore(path).Save(context.Background(), want))

	select {
	case got := <-reloaded:
		assert.Equal(t, want, got)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload weights")
	}
	assert.Equal(t, want, m.Snapshot())
}

// TestWatcher_IgnoresOtherFilesAndGarbage verifies that unrelated files and unparseable
// contents leave the live weights alone.
func TestWatcher_IgnoresOtherFilesAndGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weights.txt")
	store := NewFileWeightStore(path)
	m := NewLinearModel(store, nil)

	w, err := NewWatcher(m, store, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("1,1,1,1,1,1"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("not weights"), 0o644))
	time.Sleep(200 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, DefaultWeights, m.Snapshot())
}

func TestNewWatcher_MissingDir(t *testing.T) {
	store := NewFileWeightStore(filepath.Join(t.TempDir(), "missing", "weights.txt"))
	_, err := NewWatcher(NewLinearModel(store, nil), store, nil)
	assert.Error(t, err)
}
