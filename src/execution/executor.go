package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"tradeengine/src/connectors"
	"tradeengine/src/model"
	"tradeengine/src/repository"
	"tradeengine/src/risk"
)

var (
	// ErrRiskBlocked is returned when the risk gate vetoes a submission.
	// The decision reason is attached via fmt wrapping.
	ErrRiskBlocked = errors.New("trade blocked by risk controls")

	ErrTradeNotFound   = errors.New("trade not found")
	ErrTradeNotOpen    = errors.New("trade is not open")
	ErrEntryNotDone    = errors.New("entry order has not executed yet")
	ErrExitInFlight    = errors.New("exit order already submitted")
	ErrInvalidRequest  = errors.New("invalid trade request")
	ErrPaperPriceReqd  = errors.New("paper trades need a reference price")
	ErrNoInFlightOrder = errors.New("no in-flight order to cancel")
)

// TradeStore is the slice of the trade repository the executor and the
// background loops need.
type TradeStore interface {
	Create(ctx context.Context, trade *model.Trade) error
	FindByID(ctx context.Context, id uint) (*model.Trade, error)
	FindByIDAndUser(ctx context.Context, id, userID uint) (*model.Trade, error)
	ApplyUpdates(ctx context.Context, tradeID uint, updates map[string]interface{}, fillEvent *model.TradeFillEvent) error
	CountOpenTradesForAgent(ctx context.Context, userID, agentID uint) (int64, error)
}

// JobStore is the slice of the submission queue the executor and worker use.
type JobStore interface {
	Enqueue(ctx context.Context, job *model.SubmissionJob) error
	DequeueNext(ctx context.Context) (*model.SubmissionJob, error)
	MarkCompleted(ctx context.Context, jobID uint) error
	MarkFailed(ctx context.Context, job *model.SubmissionJob, cause error) error
	HasOpenJobForTrade(ctx context.Context, tradeID uint, leg string) (bool, error)
	RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// RiskGate is the veto hook every non-paper submission passes through.
type RiskGate interface {
	EvaluateTradeRisk(ctx context.Context, userID uint, input risk.TradeRiskInput) (*risk.Decision, error)
}

// TradeNotifier pushes trade state changes to connected clients. A nil
// notifier is valid and means no realtime delivery.
type TradeNotifier interface {
	PublishTradeUpdate(userID uint, trade *model.Trade)
}

// TradeRequest is one trade intent as accepted by the API.
type TradeRequest struct {
	UserID       uint `json:"-"`
	AgentID      uint `json:"agent_id"`
	ConnectionID uint `json:"connection_id"`

	Symbol     string   `json:"symbol"`
	Side       string   `json:"side"`
	Quantity   float64  `json:"quantity"`
	OrderKind  string   `json:"order_kind"`
	Price      *float64 `json:"price,omitempty"`
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	TakeProfit *float64 `json:"take_profit,omitempty"`

	Exchange string `json:"exchange,omitempty"`
	Product  string `json:"product,omitempty"`

	// ReferencePrice is the mark used for notional checks and as the entry
	// price estimate for market orders.
	ReferencePrice *float64 `json:"reference_price,omitempty"`
}

// CloseRequest asks for the exit leg of an open trade to be submitted.
type CloseRequest struct {
	ExitPrice *float64 `json:"exit_price,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// Executor owns the write path of the trade lifecycle: validation, risk
// gating, trade row creation and the durable enqueue of broker submissions.
// Placements go through the submission worker; the only direct broker call
// is the cancel request.
type Executor struct {
	trades   TradeStore
	jobs     JobStore
	gate     RiskGate
	notifier TradeNotifier
	provider BrokerProvider
	config   Config
}

func NewExecutor(trades TradeStore, jobs JobStore, gate RiskGate, notifier TradeNotifier) *Executor {
	return &Executor{
		trades:   trades,
		jobs:     jobs,
		gate:     gate,
		notifier: notifier,
		config:   GetConfig(),
	}
}

// WithBrokerProvider enables CancelTrade, the only executor path that talks
// to the broker directly.
func (e *Executor) WithBrokerProvider(provider BrokerProvider) *Executor {
	e.provider = provider
	return e
}

func (e *Executor) validate(req *TradeRequest) error {
	if req.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidRequest)
	}
	if req.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidRequest)
	}
	if req.Side != model.TradeSideBuy && req.Side != model.TradeSideSell {
		return fmt.Errorf("%w: side must be %s or %s", ErrInvalidRequest, model.TradeSideBuy, model.TradeSideSell)
	}

	if req.OrderKind == "" {
		req.OrderKind = model.OrderKindMarket
	}
	switch req.OrderKind {
	case model.OrderKindMarket, model.OrderKindLimit, model.OrderKindStop, model.OrderKindStopMarket:
	default:
		return fmt.Errorf("%w: unknown order kind %q", ErrInvalidRequest, req.OrderKind)
	}

	if req.OrderKind != model.OrderKindMarket && (req.Price == nil || *req.Price <= 0) {
		return fmt.Errorf("%w: %s orders need a positive price", ErrInvalidRequest, req.OrderKind)
	}

	return nil
}

// referencePrice resolves the price used for notionals and entry estimates:
// explicit limit price first, then the caller-provided mark.
func (e *Executor) referencePrice(req *TradeRequest) float64 {
	if req.Price != nil && *req.Price > 0 {
		return *req.Price
	}
	if req.ReferencePrice != nil && *req.ReferencePrice > 0 {
		return *req.ReferencePrice
	}
	return 0
}

// ExecuteTrade validates the request, runs it through the risk gate and,
// when allowed, persists the trade and enqueues the entry-leg submission.
func (e *Executor) ExecuteTrade(ctx context.Context, req TradeRequest) (*model.Trade, error) {
	if err := e.validate(&req); err != nil {
		return nil, err
	}

	price := e.referencePrice(&req)

	openCount, err := e.trades.CountOpenTradesForAgent(ctx, req.UserID, req.AgentID)
	if err != nil {
		return nil, err
	}

	decision, err := e.gate.EvaluateTradeRisk(ctx, req.UserID, risk.TradeRiskInput{
		AgentID:            req.AgentID,
		Symbol:             req.Symbol,
		NotionalValue:      req.Quantity * price,
		OpenTradesForAgent: int(openCount),
	})
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		logger.WithFields(map[string]interface{}{
			"user_id": req.UserID,
			"symbol":  req.Symbol,
			"reason":  decision.Reason,
		}).Warn("trade blocked by risk gate")
		return nil, fmt.Errorf("%w: %s", ErrRiskBlocked, decision.Reason)
	}

	trade := &model.Trade{
		UserID:         req.UserID,
		AgentID:        req.AgentID,
		ConnectionID:   req.ConnectionID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Quantity:       req.Quantity,
		OrderKind:      req.OrderKind,
		RequestedPrice: price,
		StopLoss:       req.StopLoss,
		TakeProfit:     req.TakeProfit,
		EntryPrice:     price,
		Status:         model.TradeStatusOpen,
		OrderStatus:    model.OrderStatusPending,
	}

	if err := e.trades.Create(ctx, trade); err != nil {
		return nil, err
	}

	if err := e.enqueueLeg(ctx, trade, model.TradeLegEntry, req.Side, req.Price, &req); err != nil {
		return nil, err
	}

	e.notify(trade)
	return trade, nil
}

// ExecutePaperTrade persists a simulated trade filled instantly at the
// reference price. Paper trades never touch the queue or the broker, but
// they still pass through the risk gate.
func (e *Executor) ExecutePaperTrade(ctx context.Context, req TradeRequest) (*model.Trade, error) {
	if err := e.validate(&req); err != nil {
		return nil, err
	}

	price := e.referencePrice(&req)
	if price <= 0 {
		return nil, ErrPaperPriceReqd
	}

	openCount, err := e.trades.CountOpenTradesForAgent(ctx, req.UserID, req.AgentID)
	if err != nil {
		return nil, err
	}
	decision, err := e.gate.EvaluateTradeRisk(ctx, req.UserID, risk.TradeRiskInput{
		AgentID:            req.AgentID,
		Symbol:             req.Symbol,
		NotionalValue:      req.Quantity * price,
		OpenTradesForAgent: int(openCount),
	})
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, fmt.Errorf("%w: %s", ErrRiskBlocked, decision.Reason)
	}

	now := time.Now()
	trade := &model.Trade{
		UserID:              req.UserID,
		AgentID:             req.AgentID,
		ConnectionID:        req.ConnectionID,
		Symbol:              req.Symbol,
		Side:                req.Side,
		Quantity:            req.Quantity,
		OrderKind:           req.OrderKind,
		RequestedPrice:      price,
		StopLoss:            req.StopLoss,
		TakeProfit:          req.TakeProfit,
		EntryPrice:          price,
		EntryExecutedPrice:  &price,
		EntryTime:           &now,
		EntryFilledQuantity: req.Quantity,
		Status:              model.TradeStatusOpen,
		OrderStatus:         model.OrderStatusExecuted,
		Paper:               true,
	}

	if err := e.trades.Create(ctx, trade); err != nil {
		return nil, err
	}

	e.notify(trade)
	return trade, nil
}

// CloseTrade submits the exit leg of an open trade. For paper trades the
// close settles immediately at the provided price.
func (e *Executor) CloseTrade(ctx context.Context, userID, tradeID uint, req CloseRequest) (*model.Trade, error) {
	trade, err := e.trades.FindByIDAndUser(ctx, tradeID, userID)
	if err != nil {
		return nil, err
	}
	if trade == nil {
		return nil, ErrTradeNotFound
	}
	if trade.Status != model.TradeStatusOpen {
		return nil, ErrTradeNotOpen
	}

	retryExit := false
	if trade.ExitOrderID != "" || trade.ExitReason != "" {
		retryable, err := e.exitRetryable(ctx, trade)
		if err != nil {
			return nil, err
		}
		if !retryable {
			return nil, ErrExitInFlight
		}
		retryExit = true
	}

	if trade.Paper {
		return e.closePaperTrade(ctx, trade, req)
	}

	if !retryExit && trade.OrderStatus != model.OrderStatusExecuted {
		return nil, ErrEntryNotDone
	}

	reason := req.Reason
	if reason == "" {
		reason = "manual close"
	}

	// The order-processing status tracks the exit leg from here on.
	updates := map[string]interface{}{
		"order_status": model.OrderStatusPending,
		"exit_reason":  reason,
	}
	if retryExit {
		// A fresh exit attempt starts from a clean leg; the failed order's
		// rollup rows remain for audit.
		updates["exit_order_id"] = ""
		updates["exit_filled_quantity"] = float64(0)
		updates["exit_pending_quantity"] = float64(0)
		updates["exit_status_message"] = ""
		updates["exit_last_sync_at"] = nil
		if req.ExitPrice == nil {
			updates["exit_price"] = nil
		}
	}
	exitKind := model.OrderKindMarket
	if req.ExitPrice != nil && *req.ExitPrice > 0 {
		updates["exit_price"] = *req.ExitPrice
		exitKind = model.OrderKindLimit
	}
	if err := e.trades.ApplyUpdates(ctx, trade.ID, updates, nil); err != nil {
		return nil, err
	}
	trade.OrderStatus = model.OrderStatusPending
	trade.ExitReason = reason
	trade.ExitPrice = req.ExitPrice
	if retryExit {
		trade.ExitOrderID = ""
		trade.ExitFilledQuantity = 0
		trade.ExitPendingQuantity = 0
		trade.ExitStatusMessage = ""
		trade.ExitLastSyncAt = nil
	}

	exitReq := TradeRequest{
		UserID:       trade.UserID,
		ConnectionID: trade.ConnectionID,
		Symbol:       trade.Symbol,
		Quantity:     trade.Quantity,
		OrderKind:    exitKind,
	}
	if err := e.enqueueLeg(ctx, trade, model.TradeLegExit, oppositeSide(trade.Side), req.ExitPrice, &exitReq); err != nil {
		return nil, err
	}

	e.notify(trade)
	return trade, nil
}

// exitRetryable reports whether a previously marked exit leg allows a new
// close attempt: the prior exit order ended in a terminal failure, or the
// exit was marked but its submission job never made it into the queue. The
// trade stays open in both cases.
func (e *Executor) exitRetryable(ctx context.Context, trade *model.Trade) (bool, error) {
	switch trade.OrderStatus {
	case model.OrderStatusRejected, model.OrderStatusCancelled, model.OrderStatusFailed:
		return true, nil
	case model.OrderStatusPending:
		open, err := e.jobs.HasOpenJobForTrade(ctx, trade.ID, model.TradeLegExit)
		if err != nil {
			return false, err
		}
		return !open, nil
	}
	return false, nil
}

// CancelTrade asks the broker to cancel the in-flight order of the active
// leg. The local state is not touched here: the broker confirms the
// cancellation on its side and the next sync observes the terminal status
// and applies the usual terminal rules.
func (e *Executor) CancelTrade(ctx context.Context, userID, tradeID uint) (*model.Trade, error) {
	if e.provider == nil {
		return nil, fmt.Errorf("broker provider not configured")
	}

	trade, err := e.trades.FindByIDAndUser(ctx, tradeID, userID)
	if err != nil {
		return nil, err
	}
	if trade == nil {
		return nil, ErrTradeNotFound
	}
	if trade.Status != model.TradeStatusOpen {
		return nil, ErrTradeNotOpen
	}
	if trade.Paper {
		return nil, ErrNoInFlightOrder
	}

	leg := trade.ActiveLeg()
	orderID := legOrderID(trade, leg)
	if orderID == "" {
		return nil, ErrNoInFlightOrder
	}
	switch trade.OrderStatus {
	case model.OrderStatusPlaced, model.OrderStatusPartiallyFilled:
	default:
		return nil, ErrNoInFlightOrder
	}

	broker, token, err := e.provider.BrokerFor(ctx, trade.ConnectionID)
	if err != nil {
		return nil, err
	}
	if err := broker.CancelOrder(ctx, token, orderID); err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"module":   "trade_executor",
		"trade_id": trade.ID,
		"leg":      leg,
		"order_id": orderID,
	}).Info("cancel requested at broker")

	return trade, nil
}

func (e *Executor) closePaperTrade(ctx context.Context, trade *model.Trade, req CloseRequest) (*model.Trade, error) {
	if req.ExitPrice == nil || *req.ExitPrice <= 0 {
		return nil, ErrPaperPriceReqd
	}

	now := time.Now()
	entryPrice := trade.EntryPrice
	if trade.EntryExecutedPrice != nil {
		entryPrice = *trade.EntryExecutedPrice
	}
	realized := ComputeRealizedPnL(trade.Side, entryPrice, *req.ExitPrice, trade.Quantity)

	reason := req.Reason
	if reason == "" {
		reason = "manual close"
	}

	updates := map[string]interface{}{
		"status":               model.TradeStatusClosed,
		"order_status":         model.OrderStatusExecuted,
		"exit_price":           *req.ExitPrice,
		"exit_executed_price":  *req.ExitPrice,
		"exit_time":            now,
		"exit_reason":          reason,
		"exit_filled_quantity": trade.Quantity,
		"realized_pnl":         realized,
		"net_pnl":              realized - trade.Fees,
		"unrealized_pnl":       float64(0),
	}
	if err := e.trades.ApplyUpdates(ctx, trade.ID, updates, nil); err != nil {
		return nil, err
	}

	trade.Status = model.TradeStatusClosed
	trade.OrderStatus = model.OrderStatusExecuted
	trade.ExitExecutedPrice = req.ExitPrice
	trade.ExitTime = &now
	trade.ExitReason = reason
	trade.RealizedPnL = realized
	trade.NetPnL = realized - trade.Fees

	e.notify(trade)
	return trade, nil
}

// enqueueLeg serializes the order parameters and writes one submission job.
func (e *Executor) enqueueLeg(ctx context.Context, trade *model.Trade, leg, side string, price *float64, req *TradeRequest) error {
	exchange := req.Exchange
	if exchange == "" {
		exchange = e.config.DefaultExchange
	}
	product := req.Product
	if product == "" {
		product = e.config.DefaultProduct
	}

	params := connectors.OrderParams{
		Symbol:    trade.Symbol,
		Exchange:  exchange,
		Side:      side,
		Quantity:  trade.Quantity,
		OrderKind: req.OrderKind,
		Price:     price,
		Product:   product,
		Validity:  e.config.DefaultValidity,
		ClientTag: uuid.NewString()[:8],
	}

	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("serialize submission payload: %w", err)
	}

	job := &model.SubmissionJob{
		TradeID:      trade.ID,
		UserID:       trade.UserID,
		ConnectionID: trade.ConnectionID,
		Leg:          leg,
		Payload:      string(payload),
	}
	if err := e.jobs.Enqueue(ctx, job); err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"trade_id": trade.ID,
		"leg":      leg,
		"symbol":   trade.Symbol,
		"side":     side,
		"qty":      trade.Quantity,
	}).Info("submission job enqueued")

	return nil
}

func (e *Executor) notify(trade *model.Trade) {
	if e.notifier != nil {
		e.notifier.PublishTradeUpdate(trade.UserID, trade)
	}
}

func oppositeSide(side string) string {
	if side == model.TradeSideBuy {
		return model.TradeSideSell
	}
	return model.TradeSideBuy
}

var (
	_ TradeStore = (*repository.TradeRepository)(nil)
	_ JobStore   = (*repository.JobRepository)(nil)
)
