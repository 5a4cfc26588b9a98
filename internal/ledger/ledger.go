// Package ledger implements the per-user, per-asset balance ledger:
// credit, debit, lock, unlock, and settle_locked, each atomic per row.
// Rows are protected individually rather than behind one global mutex so
// fills on different pairs can touch the same user's balances
// concurrently.
package ledger

import (
	"fmt"
	"sync"

	"huginn/internal/huginnerr"
	"huginn/internal/money"
)

// Key identifies a balance row.
type Key struct {
	UserID string
	Asset  string
}

// BalanceRow is a single (user_id, asset) balance. The three invariants
// (total >= 0, locked >= 0, available = total-locked >= 0) must hold
// after every mutation performed through Ledger; BalanceRow itself never
// mutates its own fields outside that guard.
type BalanceRow struct {
	mu     sync.Mutex
	UserID string
	Asset  string
	Total  money.Decimal
	Locked money.Decimal
}

// Available returns total - locked.
func (r *BalanceRow) Available() money.Decimal {
	avail, err := r.Total.Sub(r.Locked)
	if err != nil {
		// total < locked is the one invariant violation that must never
		// happen; surface zero rather than panicking mid-read.
		return money.Zero()
	}
	return avail
}

// Snapshot is a point-in-time, lock-free copy of a row for read paths
// (balance queries, tests) that don't need the row's mutex held.
type Snapshot struct {
	UserID    string
	Asset     string
	Total     money.Decimal
	Locked    money.Decimal
	Available money.Decimal
}

// Ledger owns every balance row in the system.
type Ledger struct {
	mu   sync.RWMutex // protects the rows map itself, not row contents
	rows map[Key]*BalanceRow
}

// New creates an empty ledger. Balance rows are created lazily on first
// touch and never destroyed.
func New() *Ledger {
	return &Ledger{rows: make(map[Key]*BalanceRow)}
}

func (l *Ledger) getOrCreate(userID, asset string) *BalanceRow {
	key := Key{UserID: userID, Asset: asset}

	l.mu.RLock()
	row, ok := l.rows[key]
	l.mu.RUnlock()
	if ok {
		return row
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if row, ok := l.rows[key]; ok {
		return row
	}
	row = &BalanceRow{UserID: userID, Asset: asset, Total: money.Zero(), Locked: money.Zero()}
	l.rows[key] = row
	return row
}

// Snapshot returns a lock-free copy of the row, creating it lazily if it
// doesn't yet exist (a balance of zero is a valid answer for an
// untouched asset).
func (l *Ledger) Snapshot(userID, asset string) Snapshot {
	row := l.getOrCreate(userID, asset)
	row.mu.Lock()
	defer row.mu.Unlock()
	return Snapshot{
		UserID:    row.UserID,
		Asset:     row.Asset,
		Total:     row.Total,
		Locked:    row.Locked,
		Available: row.Available(),
	}
}

// Credit increases total, e.g. on deposit or a maker/taker proceeds
// credit during settlement.
func (l *Ledger) Credit(userID, asset string, amount money.Decimal) error {
	row := l.getOrCreate(userID, asset)
	row.mu.Lock()
	defer row.mu.Unlock()

	total, err := row.Total.Add(amount)
	if err != nil {
		return err
	}
	row.Total = total
	return nil
}

// Debit decreases total directly, requiring total >= amount. Settlement
// uses it to take back credits when a fill rolls back.
func (l *Ledger) Debit(userID, asset string, amount money.Decimal) error {
	row := l.getOrCreate(userID, asset)
	row.mu.Lock()
	defer row.mu.Unlock()

	if row.Total.LessThan(amount) {
		return fmt.Errorf("%w: debit %s %s, have %s total", huginnerr.ErrInsufficientBalance, amount, asset, row.Total)
	}
	total, err := row.Total.Sub(amount)
	if err != nil {
		return err
	}
	row.Total = total
	return nil
}

// Lock moves amount from available into locked, requiring available >=
// amount. Called at order admission.
func (l *Ledger) Lock(userID, asset string, amount money.Decimal) error {
	row := l.getOrCreate(userID, asset)
	row.mu.Lock()
	defer row.mu.Unlock()

	if row.Available().LessThan(amount) {
		return fmt.Errorf("%w: lock %s %s, have %s available", huginnerr.ErrInsufficientBalance, amount, asset, row.Available())
	}
	locked, err := row.Locked.Add(amount)
	if err != nil {
		return err
	}
	row.Locked = locked
	return nil
}

// Unlock releases amount from locked back to available, requiring locked
// >= amount. Called on cancellation (remaining locked amount) and by the
// engine when an order reaches a terminal state with part of its lock
// unspent, e.g. after fills at a better-than-limit price.
func (l *Ledger) Unlock(userID, asset string, amount money.Decimal) error {
	row := l.getOrCreate(userID, asset)
	row.mu.Lock()
	defer row.mu.Unlock()

	if row.Locked.LessThan(amount) {
		return fmt.Errorf("%w: unlock %s %s, have %s locked", huginnerr.ErrInsufficientBalance, amount, asset, row.Locked)
	}
	locked, err := row.Locked.Sub(amount)
	if err != nil {
		return err
	}
	row.Locked = locked
	return nil
}

// SettleLocked atomically removes amount from both locked and total —
// the step a fill takes to consume the encumbered funds it is spending.
func (l *Ledger) SettleLocked(userID, asset string, amount money.Decimal) error {
	row := l.getOrCreate(userID, asset)
	row.mu.Lock()
	defer row.mu.Unlock()

	if row.Locked.LessThan(amount) {
		return fmt.Errorf("%w: settle %s %s, have %s locked", huginnerr.ErrInsufficientBalance, amount, asset, row.Locked)
	}
	if row.Total.LessThan(amount) {
		return fmt.Errorf("%w: settle %s %s, have %s total", huginnerr.ErrInsufficientBalance, amount, asset, row.Total)
	}
	locked, err := row.Locked.Sub(amount)
	if err != nil {
		return err
	}
	total, err := row.Total.Sub(amount)
	if err != nil {
		return err
	}
	row.Locked = locked
	row.Total = total
	return nil
}

// SettleBuyWithShortfall atomically consumes lockPortion from both locked
// and total, and additionally debits shortfall from available (unlocked)
// funds, in one critical section. This is the buy-side settlement step: a
// buy's admission-time lock only covers quantity*limit_price, never the
// fee, so settling a fill almost always needs a small top-up debit from
// available balance alongside the locked-fund release. Doing both under
// one row lock avoids the check-then-mutate race that two separate Ledger
// calls would expose, since rows are shared across
// concurrently-progressing pairs. The shortfall must be covered by
// available funds specifically — drawing it from total alone could spend
// quote locked against some other order.
func (l *Ledger) SettleBuyWithShortfall(userID, asset string, lockPortion, shortfall money.Decimal) error {
	row := l.getOrCreate(userID, asset)
	row.mu.Lock()
	defer row.mu.Unlock()

	total, err := lockPortion.Add(shortfall)
	if err != nil {
		return err
	}
	if row.Locked.LessThan(lockPortion) {
		return fmt.Errorf("%w: settle %s %s, have %s locked", huginnerr.ErrInsufficientBalance, lockPortion, asset, row.Locked)
	}
	if row.Available().LessThan(shortfall) {
		return fmt.Errorf("%w: settle shortfall %s %s, have %s available", huginnerr.ErrInsufficientBalance, shortfall, asset, row.Available())
	}
	newLocked, err := row.Locked.Sub(lockPortion)
	if err != nil {
		return err
	}
	newTotal, err := row.Total.Sub(total)
	if err != nil {
		return err
	}
	row.Locked = newLocked
	row.Total = newTotal
	return nil
}

// FeeAccountUserID is the dedicated system account fees accrue to,
// rather than being destroyed, so total balances across all accounts
// are exactly conserved including fees.
const FeeAccountUserID = "system:fees"
