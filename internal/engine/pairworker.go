package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	tomb "gopkg.in/tomb.v2"

	"huginn/internal/book"
	"huginn/internal/common"
	"huginn/internal/huginnerr"
)

// op is a request dispatched onto a pairWorker's channel. Every mutation
// and every read that must be linearized with mutations (snapshots,
// cancellations) goes through this channel, so a single pair's book is
// only ever touched by its own goroutine.
type op struct {
	kind opKind
	do   func()
}

type opKind int

const (
	opAdmit opKind = iota
	opCancel
	opSnapshot
)

// pairWorker owns one trading pair's book and serializes every operation
// against it: matching always runs inline on this worker's own
// goroutine, reached only through its channel, never on a caller's. Each
// worker is supervised by its own tomb.Tomb, so an ErrInternal invariant
// violation on this pair kills only this worker — other pairs' tombs are
// untouched, per spec.md §7's "other pairs continue".
type pairWorker struct {
	engine *Engine
	pair   common.Pair
	book   *book.Book
	ops    chan op
	tomb   tomb.Tomb

	// resting holds the full durable-shaped Order for every order
	// currently on this pair's book, keyed by OrderID. The book package
	// itself only ever stores {order_id, remaining} (spec.md §9), so this
	// map is where matching and cancellation recover an order's status,
	// fee accrual, and locked amount.
	resting map[string]*common.Order

	// halted is set once this pair's worker hits an ErrInternal invariant
	// violation mid-match. A halted pair refuses every further operation
	// (admission, cancellation, snapshot) until the service is restarted;
	// other pairs are unaffected.
	halted   atomic.Bool
	haltedCh chan struct{}
	haltErr  error
}

func newPairWorker(e *Engine, pair common.Pair) *pairWorker {
	return &pairWorker{
		engine:   e,
		pair:     pair,
		book:     book.New(),
		ops:      make(chan op, 256),
		resting:  make(map[string]*common.Order),
		haltedCh: make(chan struct{}),
	}
}

// run starts this worker's own tomb and blocks until it dies — either
// because parent is cancelled (a clean shutdown) or because the worker
// halted on an invariant violation (an error return).
func (w *pairWorker) run(parent context.Context) error {
	w.tomb.Go(func() error {
		return w.loop(w.tomb.Context(parent))
	})
	return w.tomb.Wait()
}

func (w *pairWorker) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case o := <-w.ops:
			o.do()
			if w.halted.Load() {
				return fmt.Errorf("%w: pair %s halted, refusing further operations", huginnerr.ErrInternal, w.pair)
			}
		}
	}
}

// halt marks this worker's pair as permanently refusing further
// operations, per spec.md §7: "Internal halts the pair's worker until
// resolved". Idempotent — only the first call takes effect.
func (w *pairWorker) halt(err error) {
	if w.halted.CompareAndSwap(false, true) {
		w.haltErr = err
		close(w.haltedCh)
	}
}

func (w *pairWorker) isHalted() bool {
	return w.halted.Load()
}

// submit enqueues fn to run on this pair's worker goroutine and blocks
// until it has run, giving the caller a synchronous request/response
// call over an asynchronous, linearized worker. A halted pair rejects
// every submission with ErrInternal rather than enqueuing onto a worker
// that has already stopped reading its ops channel.
func (w *pairWorker) submit(ctx context.Context, kind opKind, fn func()) error {
	select {
	case <-w.haltedCh:
		return fmt.Errorf("%w: pair %s is halted", huginnerr.ErrInternal, w.pair)
	default:
	}

	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}
	select {
	case w.ops <- op{kind: kind, do: wrapped}:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.haltedCh:
		return fmt.Errorf("%w: pair %s is halted", huginnerr.ErrInternal, w.pair)
	}

	// fn's own op may be the one that triggers the halt (e.g. an
	// admission whose matching walk hits ErrInternal) — in that case
	// haltedCh closes before wrapped's deferred close(done) does, but
	// fn already ran to completion and its result is valid. Give done
	// priority so this call observes its own outcome rather than racing
	// against the halt it just caused.
	select {
	case <-done:
		return nil
	default:
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.haltedCh:
		return fmt.Errorf("%w: pair %s is halted", huginnerr.ErrInternal, w.pair)
	}
}
