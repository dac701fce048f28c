package model

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/kjstillabower/hazard-risk-service/internal/observability"
)

// Watcher reloads the model when the weight file is replaced by another process.
// Writes made by this process reload to identical values and are skipped.
type Watcher struct {
	model   *LinearModel
	store   *FileWeightStore
	watcher *fsnotify.Watcher
	logger  *zap.Logger
	// reloaded, when set, is called after every successful swap. Used by tests.
	reloaded func(Weights)
}

// NewWatcher watches the directory holding store's file. The directory is watched rather than
// the file because saves replace the file by rename.
func NewWatcher(m *LinearModel, store *FileWeightStore, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("weights watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(store.Path())); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("weights watcher: watch %s: %w", filepath.Dir(store.Path()), err)
	}
	return &Watcher{model: m, store: store, watcher: fw, logger: logger}, nil
}

// Run processes file events until ctx is done, then closes the underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	target := filepath.Clean(w.store.Path())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.reload(ctx)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("weights watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	weights, err := w.store.Load(ctx)
	if err != nil {
		// A rename away or a half-written file from another writer; the next event retries.
		w.logger.Debug("weights reload skipped", zap.Error(err))
		return
	}
	if !w.model.Replace(weights) {
		return
	}
	observability.WeightReloadsTotal.Inc()
	w.logger.Info("weights reloaded from file", zap.String("weights", weights.String()))
	if w.reloaded != nil {
		w.reloaded(weights)
	}
}
