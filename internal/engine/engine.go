// Package engine is the matching engine proper: one pairWorker goroutine
// per trading pair, each owning a single internal/book.Book and serving
// admission, matching, cancellation, and snapshot requests strictly
// serially. Cross-pair concurrency comes from running one worker per
// pair; intra-pair linearizability comes from never touching a pair's
// book from more than one goroutine. Each worker is supervised by its
// own gopkg.in/tomb.v2, so an ErrInternal invariant violation on one
// pair halts only that pair's worker — per spec.md §7, every other
// pair keeps running untouched.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"huginn/internal/common"
	"huginn/internal/huginnerr"
	"huginn/internal/ledger"
	"huginn/internal/publish"
	"huginn/internal/settlement"
	"huginn/internal/storage"
)

// MatchAlgorithm selects how liquidity at a single price level is
// allocated among resting orders, per spec.md §4.5.
type MatchAlgorithm int

const (
	FIFO MatchAlgorithm = iota
	ProRata
)

// Config controls engine-wide, non-per-pair behavior. The fee rate
// lives on the settlement.Coordinator, not here — the engine never
// computes fees itself.
type Config struct {
	SupportedPairs []common.Pair
	Algorithm      MatchAlgorithm
	SnapshotDepth  int
}

// Engine is the top-level matching engine: one pairWorker per supported
// pair, a shared ledger, a shared durable store, and a shared event hub.
type Engine struct {
	cfg     Config
	ledger  *ledger.Ledger
	store   *storage.Store
	hub     *publish.Hub
	settler *settlement.Coordinator
	log     zerolog.Logger

	workers map[common.Pair]*pairWorker
	seq     atomic.Uint64

	mu sync.RWMutex // guards order index, not workers (workers map is fixed at New)
	// orderIndex maps every admitted orderID to its owning pair for O(1)
	// dispatch on cancel. Entries survive terminal transitions: a cancel
	// of a filled/cancelled/rejected order must still reach its pair
	// worker and come back NotCancellable, not NotFound — only an id the
	// engine has never admitted is NotFound.
	orderIndex map[string]common.Pair
}

// New constructs an Engine with one pairWorker per configured pair but
// does not start them; call Run to begin serving requests.
func New(cfg Config, l *ledger.Ledger, store *storage.Store, hub *publish.Hub, settler *settlement.Coordinator, logger zerolog.Logger) *Engine {
	e := &Engine{
		cfg:        cfg,
		ledger:     l,
		store:      store,
		hub:        hub,
		settler:    settler,
		log:        logger.With().Str("component", "engine").Logger(),
		workers:    make(map[common.Pair]*pairWorker),
		orderIndex: make(map[string]common.Pair),
	}
	for _, pair := range cfg.SupportedPairs {
		e.workers[pair] = newPairWorker(e, pair)
	}
	return e
}

// Run starts every pair worker under its own tomb and blocks until ctx
// is cancelled, then waits for every worker to drain. A worker that
// halts on an ErrInternal invariant violation stops only itself; Run
// keeps the remaining pairs' workers running and returns nil once ctx
// is cancelled, regardless of how many pairs halted along the way.
func (e *Engine) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for pair, w := range e.workers {
		worker := w
		p := pair
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.log.Info().Str("pair", p.String()).Msg("pair worker starting")
			if err := worker.run(ctx); err != nil {
				e.log.Error().Err(err).Str("pair", p.String()).Msg("pair worker halted")
			} else {
				e.log.Info().Str("pair", p.String()).Msg("pair worker stopped")
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return nil
}

func (e *Engine) workerFor(pair common.Pair) (*pairWorker, error) {
	w, ok := e.workers[pair]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported pair %s", huginnerr.ErrInvalidRequest, pair)
	}
	return w, nil
}

func (e *Engine) nextSeq() uint64 {
	return e.seq.Add(1)
}

func (e *Engine) trackOrder(orderID string, pair common.Pair) {
	e.mu.Lock()
	e.orderIndex[orderID] = pair
	e.mu.Unlock()
}

func (e *Engine) pairOf(orderID string) (common.Pair, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.orderIndex[orderID]
	return p, ok
}

// snapshotDepth returns the configured default book snapshot depth, or a
// sane fallback (spec.md §6).
func (e *Engine) snapshotDepth() int {
	if e.cfg.SnapshotDepth > 0 {
		return e.cfg.SnapshotDepth
	}
	return 20
}
