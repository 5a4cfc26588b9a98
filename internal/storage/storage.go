// Package storage is the durable store for orders, trades, and balances:
// gorm over either SQLite (the zero-config default) or Postgres,
// dispatched on the DSN's scheme, with AutoMigrate run once at startup.
// Durable order records are the source of truth for status and fee
// accrual — the in-memory book only ever holds {order_id, remaining}.
package storage

import (
	"context"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"huginn/internal/common"
	"huginn/internal/money"
)

// OrderRecord is the gorm model backing common.Order.
type OrderRecord struct {
	OrderID          string `gorm:"primaryKey"`
	UserID           string `gorm:"index"`
	PairBase         string `gorm:"index:idx_pair"`
	PairQuote        string `gorm:"index:idx_pair"`
	Side             int
	Type             int
	LimitPrice       money.Decimal `gorm:"type:varchar(40)"`
	QuoteBudget      money.Decimal `gorm:"type:varchar(40)"`
	OriginalQuantity money.Decimal `gorm:"type:varchar(40)"`
	FilledQuantity   money.Decimal `gorm:"type:varchar(40)"`
	AccruedFee       money.Decimal `gorm:"type:varchar(40)"`
	LockedRemaining  money.Decimal `gorm:"type:varchar(40)"`
	Status           int
	Seq              uint64
	CreatedAt        time.Time
	FilledAt         *time.Time
	CancelledAt      *time.Time
}

func (OrderRecord) TableName() string { return "orders" }

// TradeRecord is the gorm model backing common.Trade, append-only and
// indexed by (pair, executed_at) for time-range queries.
type TradeRecord struct {
	TradeID      string `gorm:"primaryKey"`
	PairBase     string `gorm:"index:idx_trade_pair_time"`
	PairQuote    string `gorm:"index:idx_trade_pair_time"`
	MakerOrderID string `gorm:"index"`
	TakerOrderID string `gorm:"index"`
	Price        money.Decimal `gorm:"type:varchar(40)"`
	Quantity     money.Decimal `gorm:"type:varchar(40)"`
	MakerFee     money.Decimal `gorm:"type:varchar(40)"`
	TakerFee     money.Decimal `gorm:"type:varchar(40)"`
	ExecutedAt   time.Time     `gorm:"index:idx_trade_pair_time"`
}

func (TradeRecord) TableName() string { return "trades" }

// BalanceRecord mirrors one ledger row for durability/auditing.
type BalanceRecord struct {
	UserID string        `gorm:"primaryKey"`
	Asset  string        `gorm:"primaryKey"`
	Total  money.Decimal `gorm:"type:varchar(40)"`
	Locked money.Decimal `gorm:"type:varchar(40)"`
}

func (BalanceRecord) TableName() string { return "balances" }

// Store wraps a gorm.DB connection.
type Store struct {
	db *gorm.DB
}

// Open connects to dsn, dispatching on its scheme exactly the way
// polybot's internal/database/database.go does: a postgres://
// connection string selects the Postgres driver, anything else is
// treated as a SQLite file path.
func Open(dsn string) (*Store, error) {
	var db *gorm.DB
	var err error

	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), gormCfg)
	} else {
		db, err = gorm.Open(sqlite.Open(dsn), gormCfg)
	}
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&OrderRecord{}, &TradeRecord{}, &BalanceRecord{}); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// WithinTx runs fn inside a single database transaction, the durable
// half of a fill's atomic commit — the in-memory ledger mutations are
// the other half, performed under the ledger row locks before this is
// called.
func (s *Store) WithinTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

func toRecord(o *common.Order) *OrderRecord {
	return &OrderRecord{
		OrderID:          o.OrderID,
		UserID:           o.UserID,
		PairBase:         o.Pair.Base,
		PairQuote:        o.Pair.Quote,
		Side:             int(o.Side),
		Type:             int(o.Type),
		LimitPrice:       o.LimitPrice,
		QuoteBudget:      o.QuoteBudget,
		OriginalQuantity: o.OriginalQuantity,
		FilledQuantity:   o.FilledQuantity,
		AccruedFee:       o.AccruedFee,
		LockedRemaining:  o.LockedRemaining,
		Status:           int(o.Status),
		Seq:              o.Seq,
		CreatedAt:        o.CreatedAt,
		FilledAt:         o.FilledAt,
		CancelledAt:      o.CancelledAt,
	}
}

func fromRecord(r *OrderRecord) *common.Order {
	return &common.Order{
		OrderID:          r.OrderID,
		UserID:           r.UserID,
		Pair:             common.Pair{Base: r.PairBase, Quote: r.PairQuote},
		Side:             common.Side(r.Side),
		Type:             common.OrderType(r.Type),
		LimitPrice:       r.LimitPrice,
		QuoteBudget:      r.QuoteBudget,
		OriginalQuantity: r.OriginalQuantity,
		FilledQuantity:   r.FilledQuantity,
		AccruedFee:       r.AccruedFee,
		LockedRemaining:  r.LockedRemaining,
		Status:           common.OrderStatus(r.Status),
		Seq:              r.Seq,
		CreatedAt:        r.CreatedAt,
		FilledAt:         r.FilledAt,
		CancelledAt:      r.CancelledAt,
		FeeAsset:         r.PairQuote,
	}
}

// SaveOrder upserts an order's current state. Called outside a
// transaction for admission, and inside one (via SaveOrderTx) as part of
// a fill.
func (s *Store) SaveOrder(ctx context.Context, o *common.Order) error {
	return s.db.WithContext(ctx).Save(toRecord(o)).Error
}

// SaveOrderTx is SaveOrder scoped to an in-flight transaction.
func SaveOrderTx(tx *gorm.DB, o *common.Order) error {
	return tx.Save(toRecord(o)).Error
}

// SaveTradeTx persists a new trade record within a transaction. Trades
// are append-only; this is always a Create, never an update.
func SaveTradeTx(tx *gorm.DB, t *common.Trade) error {
	rec := &TradeRecord{
		TradeID:      t.TradeID,
		PairBase:     t.Pair.Base,
		PairQuote:    t.Pair.Quote,
		MakerOrderID: t.MakerOrder.OrderID,
		TakerOrderID: t.TakerOrder.OrderID,
		Price:        t.Price,
		Quantity:     t.Quantity,
		MakerFee:     t.MakerFee,
		TakerFee:     t.TakerFee,
		ExecutedAt:   t.ExecutedAt,
	}
	return tx.Create(rec).Error
}

// GetOrder fetches an order by ID.
func (s *Store) GetOrder(ctx context.Context, orderID string) (*common.Order, error) {
	var rec OrderRecord
	if err := s.db.WithContext(ctx).First(&rec, "order_id = ?", orderID).Error; err != nil {
		return nil, err
	}
	return fromRecord(&rec), nil
}

// OrderFilter narrows ListOrders by user, status, and/or pair.
type OrderFilter struct {
	UserID string
	Status *common.OrderStatus
	Pair   *common.Pair
	Limit  int
}

// ListOrders returns orders for a user matching filter, newest first.
func (s *Store) ListOrders(ctx context.Context, f OrderFilter) ([]*common.Order, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", f.UserID)
	if f.Status != nil {
		q = q.Where("status = ?", int(*f.Status))
	}
	if f.Pair != nil {
		q = q.Where("pair_base = ? AND pair_quote = ?", f.Pair.Base, f.Pair.Quote)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	var recs []OrderRecord
	if err := q.Order("seq DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*common.Order, len(recs))
	for i := range recs {
		out[i] = fromRecord(&recs[i])
	}
	return out, nil
}

// ListRecentTrades returns the most recent trades for a pair.
func (s *Store) ListRecentTrades(ctx context.Context, pair common.Pair, limit int) ([]*common.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []TradeRecord
	err := s.db.WithContext(ctx).
		Where("pair_base = ? AND pair_quote = ?", pair.Base, pair.Quote).
		Order("executed_at DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]*common.Trade, len(recs))
	for i, r := range recs {
		out[i] = &common.Trade{
			TradeID:    r.TradeID,
			Pair:       pair,
			MakerOrder: &common.Order{OrderID: r.MakerOrderID},
			TakerOrder: &common.Order{OrderID: r.TakerOrderID},
			Price:      r.Price,
			Quantity:   r.Quantity,
			MakerFee:   r.MakerFee,
			TakerFee:   r.TakerFee,
			ExecutedAt: r.ExecutedAt,
		}
	}
	return out, nil
}

// SaveBalanceTx upserts a balance row snapshot within a transaction, the
// durable mirror of an in-memory ledger row.
func SaveBalanceTx(tx *gorm.DB, userID, asset string, total, locked money.Decimal) error {
	rec := &BalanceRecord{UserID: userID, Asset: asset, Total: total, Locked: locked}
	return tx.Save(rec).Error
}
