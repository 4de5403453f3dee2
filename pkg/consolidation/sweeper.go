package consolidation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/engramlabs/engram-go/pkg/graph"
	"github.com/engramlabs/engram-go/pkg/index"
	"github.com/engramlabs/engram-go/pkg/storage"
)

// DefaultSweepInterval is used when the caller does not set one.
const DefaultSweepInterval = time.Hour

// Sweeper runs periodic maintenance in the background: a consolidation
// pass, knowledge graph upkeep, and a vector index rebuild.
//
// A sweep failure is logged and the loop keeps going; maintenance is
// retried on the next tick.
type Sweeper struct {
	engine   *Engine
	store    storage.RecordStore
	graph    *graph.Graph
	index    *index.Index
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper. The graph and index may be nil; their
// maintenance steps are then skipped.
func NewSweeper(engine *Engine, store storage.RecordStore, g *graph.Graph, ix *index.Index, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		engine:   engine,
		store:    store,
		graph:    g,
		index:    ix,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the background loop. Calling Start on a running
// sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(ctx)
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one maintenance pass immediately.
func (s *Sweeper) Sweep(ctx context.Context) {
	start := time.Now()

	if _, err := s.engine.Consolidate(ctx); err != nil {
		s.logger.Error("consolidation sweep failed", zap.Error(err))
	}

	if s.graph != nil {
		if err := s.graph.DiscoverRelations(ctx); err != nil {
			s.logger.Error("relation discovery failed", zap.Error(err))
		}
		if penalized, err := s.graph.ScanContradictions(ctx); err != nil {
			s.logger.Error("contradiction scan failed", zap.Error(err))
		} else if penalized > 0 {
			s.logger.Info("contradictions penalized", zap.Int("count", penalized))
		}
	}

	if s.index != nil {
		records, err := s.store.QueryRecords(ctx, nil)
		if err != nil {
			s.logger.Error("index rebuild skipped, store unavailable", zap.Error(err))
		} else if err := s.index.Rebuild(ctx, records); err != nil {
			s.logger.Error("index rebuild failed", zap.Error(err))
		}
	}

	s.logger.Debug("sweep complete", zap.Duration("took", time.Since(start)))
}
