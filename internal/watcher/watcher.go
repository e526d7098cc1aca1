// Package watcher imports chain files from a directory whenever they change.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/chainfile"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/graph"
)

// ChainSaver stores imported chains, creating or replacing them by id
type ChainSaver interface {
	SaveChain(c *domain.Chain) error
}

// Watcher monitors a directory for chain files
type Watcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	store    ChainSaver
	log      *zap.SugaredLogger
	debounce time.Duration

	// OnImport, if set, is called after each batch with the imported chain ids
	OnImport func(ids []string)

	pending map[string]struct{}
	timer   *time.Timer
	mu      sync.Mutex
}

// New creates a watcher for dir
func New(dir string, store ChainSaver, log *zap.SugaredLogger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Watcher{
		watcher:  fw,
		dir:      dir,
		store:    store,
		log:      log,
		debounce: 500 * time.Millisecond,
		pending:  make(map[string]struct{}),
	}, nil
}

// SetDebounce sets how long changes are batched before importing
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}

// ImportAll imports every chain file currently in the directory
func (w *Watcher) ImportAll() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && chainfile.IsChainFile(e.Name()) {
			files = append(files, filepath.Join(w.dir, e.Name()))
		}
	}
	return w.importFiles(files), nil
}

// Run imports the existing files, then watches for changes until ctx is done
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return err
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}
	defer w.watcher.Close()

	if _, err := w.ImportAll(); err != nil {
		return err
	}
	w.log.Infow("watching chain directory", "dir", w.dir)

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warnw("watch error", "dir", w.dir, "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !chainfile.IsChainFile(event.Name) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[event.Name] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	files := make([]string, 0, len(w.pending))
	for f := range w.pending {
		files = append(files, f)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	sort.Strings(files)
	w.importFiles(files)
}

// importFiles loads, validates and stores each file. Invalid files are
// logged and skipped.
func (w *Watcher) importFiles(files []string) []string {
	var ids []string
	for _, path := range files {
		c, err := chainfile.Load(path)
		if err != nil {
			w.log.Warnw("skipping unreadable chain file", "file", path, "error", err)
			continue
		}
		if err := graph.Validate(c); err != nil {
			w.log.Warnw("skipping invalid chain file", "file", path, "error", err)
			continue
		}
		if err := w.store.SaveChain(c); err != nil {
			w.log.Errorw("failed to import chain", "file", path, "chain_id", c.ID, "error", err)
			continue
		}
		w.log.Infow("imported chain", "file", path, "chain_id", c.ID, "name", c.Name)
		ids = append(ids, c.ID)
	}
	if len(ids) > 0 && w.OnImport != nil {
		w.OnImport(ids)
	}
	return ids
}
