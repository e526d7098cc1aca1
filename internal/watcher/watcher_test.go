package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/chainfile"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/chaintest"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
)

type memorySaver struct {
	mu     sync.Mutex
	chains map[string]*domain.Chain
}

func (m *memorySaver) SaveChain(c *domain.Chain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chains == nil {
		m.chains = map[string]*domain.Chain{}
	}
	m.chains[c.ID] = c
	return nil
}

func (m *memorySaver) get(id string) (*domain.Chain, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chains[id]
	return c, ok
}

func writeChain(t *testing.T, path, name string) {
	t.Helper()
	c := chaintest.Linear("")
	c.Name = name
	if err := chainfile.Save(path, c); err != nil {
		t.Fatal(err)
	}
}

func TestImportAll_SkipsInvalidFiles(t *testing.T) {
	dir := t.TempDir()
	writeChain(t, filepath.Join(dir, "good.yaml"), "Good")
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{"name":"broken","nodes":[]}`), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.md"), []byte("# not a chain"), 0644); err != nil {
		t.Fatal(err)
	}

	saver := &memorySaver{}
	w, err := New(dir, saver, nil)
	if err != nil {
		t.Fatal(err)
	}
	ids, err := w.ImportAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "good" {
		t.Errorf("imported = %v", ids)
	}
	if _, ok := saver.get("broken"); ok {
		t.Error("chain without start/end should not be imported")
	}
}

func TestRun_ImportsChangedFiles(t *testing.T) {
	dir := t.TempDir()
	saver := &memorySaver{}
	w, err := New(dir, saver, nil)
	if err != nil {
		t.Fatal(err)
	}
	w.SetDebounce(20 * time.Millisecond)

	imported := make(chan []string, 4)
	w.OnImport = func(ids []string) { imported <- ids }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)
	writeChain(t, filepath.Join(dir, "nightly.yaml"), "Nightly")

	select {
	case ids := <-imported:
		if len(ids) != 1 || ids[0] != "nightly" {
			t.Errorf("imported = %v", ids)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("change was not imported")
	}
	if c, ok := saver.get("nightly"); !ok || c.Name != "Nightly" {
		t.Errorf("stored chain = %+v", c)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
}
