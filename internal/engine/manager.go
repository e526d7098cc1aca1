package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/graph"
)

// RunStore persists finished and in-flight runs
type RunStore interface {
	SaveRun(run *domain.Run) error
	GetRun(id string) (*domain.Run, error)
	RecordChainRun(chainID string, status domain.RunStatus, at time.Time) error
}

// storeOp is a write executed by the store writer goroutine
type storeOp struct {
	kind string // "saveRun", "recordChainRun" or "evict"
	run  *domain.Run
}

type activeRun struct {
	run    *domain.Run // latest snapshot
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager starts runs in the background, tracks the ones in flight and
// persists their progress through a single writer goroutine. With a store,
// a finished run is dropped from memory once its final record is written.
type Manager struct {
	engine *Engine
	chains ChainResolver
	store  RunStore
	log    *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.RWMutex
	active      map[string]*activeRun
	subscribers []Observer
	closed      bool

	writeChan chan storeOp
	writeDone chan struct{}
}

// NewManager wires a Manager to the engine. The manager becomes the
// engine's observer; use Subscribe to receive events as well.
func NewManager(e *Engine, chains ChainResolver, store RunStore, log *zap.SugaredLogger) *Manager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		engine:    e,
		chains:    chains,
		store:     store,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		active:    make(map[string]*activeRun),
		writeChan: make(chan storeOp, 256),
		writeDone: make(chan struct{}),
	}
	if e.observer != nil {
		m.subscribers = append(m.subscribers, e.observer)
	}
	e.observer = m
	if e.chains == nil {
		e.chains = chains
	}
	go m.storeWriter()
	return m
}

// storeWriter applies store operations sequentially so concurrent runs
// never contend on the database
func (m *Manager) storeWriter() {
	for op := range m.writeChan {
		m.apply(op)
	}
	close(m.writeDone)
}

func (m *Manager) apply(op storeOp) {
	if m.store == nil {
		return
	}
	switch op.kind {
	case "evict":
		m.Forget(op.run.ID)
	case "saveRun":
		if err := m.store.SaveRun(op.run); err != nil {
			m.log.Errorw("failed to save run", "run_id", op.run.ID, "error", err)
		}
	case "recordChainRun":
		at := time.Now()
		if op.run.CompletedAt != nil {
			at = *op.run.CompletedAt
		}
		if err := m.store.RecordChainRun(op.run.ChainID, op.run.Status, at); err != nil {
			m.log.Errorw("failed to update chain bookkeeping", "chain_id", op.run.ChainID, "error", err)
		}
	}
}

// queue blocks while the writer is behind; writes of one run must stay in order
func (m *Manager) queue(op storeOp) {
	m.writeChan <- op
}

// Subscribe registers an observer for run events
func (m *Manager) Subscribe(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, o)
}

func (m *Manager) observers() []Observer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Observer(nil), m.subscribers...)
}

func (m *Manager) update(run *domain.Run) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.active[run.ID]; ok {
		a.run = run
	}
}

// RunStarted implements Observer
func (m *Manager) RunStarted(run *domain.Run) {
	m.update(run)
	m.queue(storeOp{kind: "saveRun", run: run})
	for _, o := range m.observers() {
		o.RunStarted(run)
	}
}

// NodeFinished implements Observer
func (m *Manager) NodeFinished(run *domain.Run, result domain.ChainNodeResult) {
	m.update(run)
	for _, o := range m.observers() {
		o.NodeFinished(run, result)
	}
}

// RunFinished implements Observer
func (m *Manager) RunFinished(run *domain.Run) {
	m.update(run)
	m.queue(storeOp{kind: "saveRun", run: run})
	m.queue(storeOp{kind: "recordChainRun", run: run})
	for _, o := range m.observers() {
		o.RunFinished(run)
	}
}

// Start validates the chain and launches a run in the background. The
// returned Run is a pending snapshot; use Get or Wait to follow it.
func (m *Manager) Start(chainID string, variables map[string]string) (*domain.Run, error) {
	chain, err := m.resolve(chainID)
	if err != nil {
		return nil, err
	}
	if err := graph.Validate(chain); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(m.ctx)
	a := &activeRun{
		run: &domain.Run{
			ID:          id,
			ChainID:     chain.ID,
			ChainName:   chain.Name,
			Status:      domain.RunPending,
			NodeResults: []domain.ChainNodeResult{},
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.active[id] = a
	pending := a.run.Clone()
	m.wg.Add(1)
	m.mu.Unlock()

	go m.execute(ctx, a, chain, variables)

	return pending, nil
}

// execute is the body of a started run. It owns one wg slot.
func (m *Manager) execute(ctx context.Context, a *activeRun, chain *domain.Chain, variables map[string]string) {
	defer m.wg.Done()
	defer close(a.done)
	defer a.cancel()

	id := a.run.ID
	run, err := m.engine.Execute(ctx, chain, RunOptions{RunID: id, Variables: variables})
	m.mu.Lock()
	var failed *domain.Run
	if run != nil {
		a.run = run.Clone()
	} else if err != nil {
		// validation raced a concurrent edit; the chain was checked in Start
		now := time.Now()
		a.run.Status = domain.RunFailed
		a.run.Error = err.Error()
		a.run.CompletedAt = &now
		failed = a.run.Clone()
	}
	m.mu.Unlock()

	if failed != nil {
		m.RunFinished(failed)
	}
	m.queue(storeOp{kind: "evict", run: &domain.Run{ID: id}})
}

// Run executes a chain and waits for the terminal run
func (m *Manager) Run(ctx context.Context, chainID string, variables map[string]string) (*domain.Run, error) {
	run, err := m.Start(chainID, variables)
	if err != nil {
		return nil, err
	}
	return m.Wait(ctx, run.ID)
}

// Wait blocks until the run finishes or ctx is done. Runs no longer held
// in memory are read back from the store.
func (m *Manager) Wait(ctx context.Context, runID string) (*domain.Run, error) {
	m.mu.RLock()
	a, ok := m.active[runID]
	m.mu.RUnlock()
	if !ok {
		return m.stored(runID)
	}

	select {
	case <-a.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return a.run.Clone(), nil
}

func (m *Manager) stored(runID string) (*domain.Run, error) {
	if m.store == nil {
		return nil, ErrRunNotFound
	}
	run, err := m.store.GetRun(runID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRunNotFound, err)
	}
	return run, nil
}

// Get returns the latest snapshot of a run this manager still holds
func (m *Manager) Get(runID string) (*domain.Run, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.active[runID]
	if !ok {
		return nil, false
	}
	return a.run.Clone(), true
}

// Active returns snapshots of runs that have not finished, oldest first
func (m *Manager) Active() []*domain.Run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Run
	for _, a := range m.active {
		if !a.run.Status.Terminal() {
			out = append(out, a.run.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return startedBefore(out[i], out[j])
	})
	return out
}

func startedBefore(a, b *domain.Run) bool {
	if a.StartedAt == nil || b.StartedAt == nil {
		return a.StartedAt != nil
	}
	return a.StartedAt.Before(*b.StartedAt)
}

// Cancel stops a run at its next node boundary
func (m *Manager) Cancel(runID string) error {
	m.mu.RLock()
	a, ok := m.active[runID]
	m.mu.RUnlock()
	if !ok {
		return ErrRunNotFound
	}
	a.cancel()
	return nil
}

// Held returns how many runs, finished or not, the manager keeps in memory
func (m *Manager) Held() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Forget drops a finished run from memory
func (m *Manager) Forget(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.active[runID]; ok && a.run.Status.Terminal() {
		delete(m.active, runID)
	}
}

// Close cancels in-flight runs, waits for them to record their outcome and
// flushes pending store writes
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	close(m.writeChan)
	<-m.writeDone
}

func (m *Manager) resolve(chainID string) (*domain.Chain, error) {
	if m.chains == nil {
		return nil, ErrChainNotFound
	}
	chain, err := m.chains.GetChain(chainID)
	if err != nil {
		if errors.Is(err, ErrChainNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load chain %s: %w", chainID, err)
	}
	return chain, nil
}
