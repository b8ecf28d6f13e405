package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeengine/src/database"
	"tradeengine/src/model"
)

// TradeRepository handles read/write operations for trades and their fill
// rollup events. Every mutation is a targeted field-level update keyed by
// trade id; concurrent mergers never overwrite whole rows.
type TradeRepository struct {
	db *gorm.DB
}

// NewTradeRepository creates a new repository instance using the main read/write database.
func NewTradeRepository() *TradeRepository {
	logger.WithField("component", "TradeRepository").
		Info("Creating new TradeRepository with MainDB")

	return &TradeRepository{
		db: database.MainDB,
	}
}

// NewTradeRepositoryReadOnly creates a repository bound to the read-only
// replica, used by batch scans that never write.
func NewTradeRepositoryReadOnly() *TradeRepository {
	return &TradeRepository{db: database.ReadOnlyDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *TradeRepository) WithDB(db *gorm.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Create inserts a new trade into the database.
// The given trade will be updated with the generated ID and timestamps.
func (r *TradeRepository) Create(ctx context.Context, trade *model.Trade) error {
	logger.WithFields(map[string]interface{}{
		"repo":   "TradeRepository",
		"op":     "Create",
		"symbol": trade.Symbol,
		"side":   trade.Side,
		"qty":    trade.Quantity,
	}).Debug("Creating new trade")

	if err := r.db.WithContext(ctx).Create(trade).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TradeRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to create trade")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":     "TradeRepository",
		"op":       "Create",
		"trade_id": trade.ID,
	}).Info("Trade created successfully")

	return nil
}

// FindByID fetches a single trade by its primary ID.
// Returns (nil, nil) if the trade is not found.
func (r *TradeRepository) FindByID(ctx context.Context, id uint) (*model.Trade, error) {
	logger.WithFields(map[string]interface{}{
		"repo": "TradeRepository",
		"op":   "FindByID",
		"id":   id,
	}).Debug("Fetching trade by ID")

	var trade model.Trade
	err := r.db.WithContext(ctx).First(&trade, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo": "TradeRepository",
				"op":   "FindByID",
				"id":   id,
			}).Info("Trade not found")
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "TradeRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch trade by ID")
		return nil, err
	}

	return &trade, nil
}

// FindByIDAndUser fetches a trade by ID, scoped to the owning user.
// Returns (nil, nil) if the trade does not exist or belongs to someone else.
func (r *TradeRepository) FindByIDAndUser(ctx context.Context, id, userID uint) (*model.Trade, error) {
	logger.WithFields(map[string]interface{}{
		"repo":    "TradeRepository",
		"op":      "FindByIDAndUser",
		"id":      id,
		"user_id": userID,
	}).Debug("Fetching trade by ID and user")

	var trade model.Trade
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&trade).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo":    "TradeRepository",
				"op":      "FindByIDAndUser",
				"id":      id,
				"user_id": userID,
			}).Info("Trade not found for user")
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":    "TradeRepository",
			"op":      "FindByIDAndUser",
			"id":      id,
			"user_id": userID,
		}).WithError(err).Error("Failed to fetch trade by ID and user")
		return nil, err
	}

	return &trade, nil
}

// TradeSearchOptions filters Search results.
type TradeSearchOptions struct {
	UserID        uint
	AgentID       *uint
	Status        *string
	Symbol        *string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Limit         int
	Offset        int
}

// Search returns a user's trades ordered from newest to oldest.
func (r *TradeRepository) Search(ctx context.Context, options TradeSearchOptions) ([]model.Trade, error) {
	logger.WithFields(map[string]interface{}{
		"repo":    "TradeRepository",
		"op":      "Search",
		"user_id": options.UserID,
	}).Debug("Searching trades")

	query := r.db.WithContext(ctx).
		Where("user_id = ?", options.UserID)

	if options.AgentID != nil {
		query = query.Where("agent_id = ?", *options.AgentID)
	}
	if options.Status != nil {
		query = query.Where("status = ?", *options.Status)
	}
	if options.Symbol != nil {
		query = query.Where("symbol = ?", *options.Symbol)
	}
	if options.CreatedAfter != nil {
		query = query.Where("created_at >= ?", *options.CreatedAfter)
	}
	if options.CreatedBefore != nil {
		query = query.Where("created_at <= ?", *options.CreatedBefore)
	}

	query = query.Order("created_at DESC, id DESC")

	if options.Limit > 0 {
		query = query.Limit(options.Limit)
	}
	if options.Offset > 0 {
		query = query.Offset(options.Offset)
	}

	var trades []model.Trade
	if err := query.Find(&trades).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "TradeRepository",
			"op":      "Search",
			"user_id": options.UserID,
		}).WithError(err).Error("Failed to search trades")
		return nil, err
	}

	return trades, nil
}

// ApplyUpdates performs a targeted field-level update of one trade and,
// when the merge produced new fill progress, appends the rollup event and
// trims the rollup log to its cap inside the same transaction.
func (r *TradeRepository) ApplyUpdates(
	ctx context.Context,
	tradeID uint,
	updates map[string]interface{},
	fillEvent *model.TradeFillEvent,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":       "TradeRepository",
		"op":         "ApplyUpdates",
		"trade_id":   tradeID,
		"fields":     len(updates),
		"fill_event": fillEvent != nil,
	}).Debug("Applying trade updates")

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(updates) > 0 {
			if err := tx.
				Model(&model.Trade{}).
				Where("id = ?", tradeID).
				Updates(updates).Error; err != nil {
				logger.WithError(err).Error("Failed to update trade inside transaction")
				return err
			}
		}

		if fillEvent != nil {
			fillEvent.TradeID = tradeID
			if err := tx.Create(fillEvent).Error; err != nil {
				logger.WithError(err).Error("Failed to create fill event inside transaction")
				return err
			}

			// Keep only the most recent entries of the rollup log.
			if err := tx.
				Where("trade_id = ? AND id NOT IN (?)",
					tradeID,
					tx.Session(&gorm.Session{NewDB: true}).
						Model(&model.TradeFillEvent{}).
						Select("id").
						Where("trade_id = ?", tradeID).
						Order("id DESC").
						Limit(model.MaxFillEventsPerTrade),
				).
				Delete(&model.TradeFillEvent{}).Error; err != nil {
				logger.WithError(err).Error("Failed to trim fill events inside transaction")
				return err
			}
		}

		return nil
	})
}

// PendingTradeRef identifies one trade awaiting reconciliation.
type PendingTradeRef struct {
	ID           uint `json:"id"`
	UserID       uint `json:"user_id"`
	ConnectionID uint `json:"connection_id"`
}

// FindPendingForReconciliation lists live trades whose in-flight order is
// still in a non-terminal broker state, oldest first.
func (r *TradeRepository) FindPendingForReconciliation(ctx context.Context, maxItems int) ([]PendingTradeRef, error) {
	if maxItems <= 0 {
		maxItems = 50
	}

	logger.WithFields(map[string]interface{}{
		"repo":      "TradeRepository",
		"op":        "FindPendingForReconciliation",
		"max_items": maxItems,
	}).Debug("Fetching trades pending reconciliation")

	var refs []PendingTradeRef
	err := r.db.WithContext(ctx).
		Model(&model.Trade{}).
		Select("id", "user_id", "connection_id").
		Where("order_status IN ? AND paper = ?",
			[]string{model.OrderStatusPlaced, model.OrderStatusPartiallyFilled}, false).
		Order("updated_at ASC").
		Limit(maxItems).
		Find(&refs).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TradeRepository",
			"op":   "FindPendingForReconciliation",
		}).WithError(err).Error("Failed to fetch pending trades")
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "TradeRepository",
		"op":          "FindPendingForReconciliation",
		"rows_return": len(refs),
	}).Info("Pending trades fetched")

	return refs, nil
}

// FindPendingForUser lists a user's trades pending reconciliation,
// optionally scoped to one broker connection.
func (r *TradeRepository) FindPendingForUser(ctx context.Context, userID uint, connectionID uint, maxItems int) ([]model.Trade, error) {
	if maxItems <= 0 {
		maxItems = 50
	}

	query := r.db.WithContext(ctx).
		Where("user_id = ? AND order_status IN ? AND paper = ?",
			userID,
			[]string{model.OrderStatusPlaced, model.OrderStatusPartiallyFilled}, false)

	if connectionID > 0 {
		query = query.Where("connection_id = ?", connectionID)
	}

	var trades []model.Trade
	err := query.
		Order("updated_at ASC").
		Limit(maxItems).
		Find(&trades).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "TradeRepository",
			"op":      "FindPendingForUser",
			"user_id": userID,
		}).WithError(err).Error("Failed to fetch pending trades for user")
		return nil, err
	}

	return trades, nil
}

// CountOpenTradesForAgent counts a user's open trades for one agent,
// used by the pre-trade risk gate.
func (r *TradeRepository) CountOpenTradesForAgent(ctx context.Context, userID, agentID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Trade{}).
		Where("user_id = ? AND agent_id = ? AND status = ?", userID, agentID, model.TradeStatusOpen).
		Count(&count).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "TradeRepository",
			"op":       "CountOpenTradesForAgent",
			"user_id":  userID,
			"agent_id": agentID,
		}).WithError(err).Error("Failed to count open trades")
		return 0, err
	}

	return count, nil
}

// SumRealizedPnLSince sums a user's realized P&L over trades closed at or
// after the given instant. Paper trades are excluded.
func (r *TradeRepository) SumRealizedPnLSince(ctx context.Context, userID uint, since time.Time) (float64, error) {
	var total float64
	err := r.db.WithContext(ctx).
		Model(&model.Trade{}).
		Select("COALESCE(SUM(realized_pnl), 0)").
		Where("user_id = ? AND status = ? AND paper = ? AND exit_time >= ?",
			userID, model.TradeStatusClosed, false, since).
		Scan(&total).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "TradeRepository",
			"op":      "SumRealizedPnLSince",
			"user_id": userID,
		}).WithError(err).Error("Failed to sum realized PnL")
		return 0, err
	}

	return total, nil
}

// FindOpenExecutedTrades lists open trades holding a live position, used for
// unrealized P&L refresh and the protective-exit sweep. A terminal order
// status on an open trade means a failed exit leg, so the position is still
// live and stays in the set.
func (r *TradeRepository) FindOpenExecutedTrades(ctx context.Context, maxItems int) ([]model.Trade, error) {
	if maxItems <= 0 {
		maxItems = 100
	}

	var trades []model.Trade
	err := r.db.WithContext(ctx).
		Where("status = ? AND order_status IN ? AND paper = ?",
			model.TradeStatusOpen,
			[]string{model.OrderStatusExecuted, model.OrderStatusRejected, model.OrderStatusCancelled, model.OrderStatusFailed},
			false).
		Order("updated_at ASC").
		Limit(maxItems).
		Find(&trades).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TradeRepository",
			"op":   "FindOpenExecutedTrades",
		}).WithError(err).Error("Failed to fetch open executed trades")
		return nil, err
	}

	return trades, nil
}

// FindFillEventsByTradeID returns the rollup log for one trade, oldest first.
func (r *TradeRepository) FindFillEventsByTradeID(ctx context.Context, tradeID uint) ([]model.TradeFillEvent, error) {
	var events []model.TradeFillEvent
	err := r.db.WithContext(ctx).
		Where("trade_id = ?", tradeID).
		Order("id ASC").
		Find(&events).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "TradeRepository",
			"op":       "FindFillEventsByTradeID",
			"trade_id": tradeID,
		}).WithError(err).Error("Failed to fetch fill events")
		return nil, err
	}

	return events, nil
}
