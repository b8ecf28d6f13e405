package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"tradeengine/src/auth"
	"tradeengine/src/execution"
	"tradeengine/src/model"
	"tradeengine/src/repository"
)

type tradeExecutor interface {
	ExecuteTrade(ctx context.Context, req execution.TradeRequest) (*model.Trade, error)
	ExecutePaperTrade(ctx context.Context, req execution.TradeRequest) (*model.Trade, error)
	CloseTrade(ctx context.Context, userID, tradeID uint, req execution.CloseRequest) (*model.Trade, error)
	CancelTrade(ctx context.Context, userID, tradeID uint) (*model.Trade, error)
}

type tradeSearcher interface {
	Search(ctx context.Context, options repository.TradeSearchOptions) ([]model.Trade, error)
	FindByIDAndUser(ctx context.Context, id, userID uint) (*model.Trade, error)
	FindFillEventsByTradeID(ctx context.Context, tradeID uint) ([]model.TradeFillEvent, error)
}

type reconcileRunner interface {
	ReconcileForUser(ctx context.Context, userID, connectionID uint) (*execution.Summary, error)
	ReconcileFromOrdersSnapshot(ctx context.Context, userID, connectionID uint) (*execution.Summary, error)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithError(err).Error("failed to encode response")
	}
}

// writeExecutionError maps the executor's sentinel errors onto HTTP codes.
func writeExecutionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, execution.ErrInvalidRequest), errors.Is(err, execution.ErrPaperPriceReqd):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, execution.ErrRiskBlocked):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, execution.ErrTradeNotFound):
		http.Error(w, "Trade not found", http.StatusNotFound)
	case errors.Is(err, execution.ErrTradeNotOpen),
		errors.Is(err, execution.ErrEntryNotDone),
		errors.Is(err, execution.ErrExitInFlight),
		errors.Is(err, execution.ErrNoInFlightOrder):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		logger.WithError(err).Error("trade operation failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// ExecuteTradeHandler accepts a trade intent, runs it through the risk gate
// and enqueues the entry-leg submission.
func ExecuteTradeHandler(executor tradeExecutor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var req execution.TradeRequest
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			logger.WithError(err).Warn("invalid trade payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}
		req.UserID = user.ID

		trade, err := executor.ExecuteTrade(r.Context(), req)
		if err != nil {
			writeExecutionError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, trade)
	}
}

// ExecutePaperTradeHandler accepts a simulated trade that fills instantly.
func ExecutePaperTradeHandler(executor tradeExecutor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var req execution.TradeRequest
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			logger.WithError(err).Warn("invalid paper trade payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}
		req.UserID = user.ID

		trade, err := executor.ExecutePaperTrade(r.Context(), req)
		if err != nil {
			writeExecutionError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, trade)
	}
}

// CloseTradeHandler submits the exit leg of an open trade.
func CloseTradeHandler(executor tradeExecutor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid trade id", http.StatusBadRequest)
			return
		}

		var req execution.CloseRequest
		if r.Body != nil && r.ContentLength != 0 {
			decoder := json.NewDecoder(r.Body)
			decoder.DisallowUnknownFields()
			if err := decoder.Decode(&req); err != nil {
				logger.WithError(err).Warn("invalid close payload")
				http.Error(w, "Invalid payload", http.StatusBadRequest)
				return
			}
		}

		trade, err := executor.CloseTrade(r.Context(), user.ID, uint(id), req)
		if err != nil {
			writeExecutionError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, trade)
	}
}

// CancelTradeHandler asks the broker to cancel the in-flight order of a
// trade. The response reflects the state before the broker confirms; the
// sweeper applies the terminal state once the broker reports it.
func CancelTradeHandler(executor tradeExecutor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid trade id", http.StatusBadRequest)
			return
		}

		trade, err := executor.CancelTrade(r.Context(), user.ID, uint(id))
		if err != nil {
			writeExecutionError(w, err)
			return
		}

		writeJSON(w, http.StatusAccepted, trade)
	}
}

// SearchTradesHandler lists the authenticated user's trades with pagination
// and filters (agentId, status, symbol, createdFrom, createdTo).
func SearchTradesHandler(repo tradeSearcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var agentID *uint
		if agentParam := r.URL.Query().Get("agentId"); agentParam != "" {
			id, err := strconv.ParseUint(agentParam, 10, 64)
			if err != nil {
				http.Error(w, "invalid agentId", http.StatusBadRequest)
				return
			}
			agent := uint(id)
			agentID = &agent
		}

		var status *string
		if statusParam := r.URL.Query().Get("status"); statusParam != "" {
			switch statusParam {
			case model.TradeStatusOpen, model.TradeStatusClosed, model.TradeStatusCancelled:
				status = &statusParam
			default:
				http.Error(w, "invalid status", http.StatusBadRequest)
				return
			}
		}

		var symbol *string
		if symbolParam := r.URL.Query().Get("symbol"); symbolParam != "" {
			symbol = &symbolParam
		}

		var createdFrom, createdTo *time.Time
		if createdFromParam := r.URL.Query().Get("createdFrom"); createdFromParam != "" {
			parsed, err := time.Parse(time.RFC3339, createdFromParam)
			if err != nil {
				http.Error(w, "invalid createdFrom", http.StatusBadRequest)
				return
			}
			createdFrom = &parsed
		}
		if createdToParam := r.URL.Query().Get("createdTo"); createdToParam != "" {
			parsed, err := time.Parse(time.RFC3339, createdToParam)
			if err != nil {
				http.Error(w, "invalid createdTo", http.StatusBadRequest)
				return
			}
			createdTo = &parsed
		}

		page := 1
		if pageParam := r.URL.Query().Get("page"); pageParam != "" {
			parsedPage, err := strconv.Atoi(pageParam)
			if err != nil || parsedPage <= 0 {
				http.Error(w, "invalid page", http.StatusBadRequest)
				return
			}
			page = parsedPage
		}

		pageSize := 20
		if sizeParam := r.URL.Query().Get("pageSize"); sizeParam != "" {
			parsedSize, err := strconv.Atoi(sizeParam)
			if err != nil || parsedSize <= 0 {
				http.Error(w, "invalid pageSize", http.StatusBadRequest)
				return
			}
			pageSize = parsedSize
		}

		trades, err := repo.Search(r.Context(), repository.TradeSearchOptions{
			UserID:        user.ID,
			AgentID:       agentID,
			Status:        status,
			Symbol:        symbol,
			CreatedAfter:  createdFrom,
			CreatedBefore: createdTo,
			Limit:         pageSize,
			Offset:        (page - 1) * pageSize,
		})
		if err != nil {
			logger.WithError(err).Error("failed to search trades")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, trades)
	}
}

// GetTradeHandler returns one trade with its fill rollup log.
func GetTradeHandler(repo tradeSearcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid trade id", http.StatusBadRequest)
			return
		}

		trade, err := repo.FindByIDAndUser(r.Context(), uint(id), user.ID)
		if err != nil {
			logger.WithError(err).Error("failed to fetch trade")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if trade == nil {
			http.Error(w, "Trade not found", http.StatusNotFound)
			return
		}

		events, err := repo.FindFillEventsByTradeID(r.Context(), trade.ID)
		if err != nil {
			logger.WithError(err).Error("failed to fetch fill events")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		trade.FillEvents = events

		writeJSON(w, http.StatusOK, trade)
	}
}

// ReconcileTradesHandler triggers an on-demand reconciliation of the user's
// live trades. A connectionId query parameter narrows the scope.
func ReconcileTradesHandler(runner reconcileRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		connectionID, ok := parseConnectionID(w, r, false)
		if !ok {
			return
		}

		summary, err := runner.ReconcileForUser(r.Context(), user.ID, connectionID)
		if err != nil {
			logger.WithError(err).Error("manual reconciliation failed")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, summary)
	}
}

// ReconcileSnapshotHandler reconciles against the broker's full order list
// in a single call. connectionId is required, the list is per session.
func ReconcileSnapshotHandler(runner reconcileRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		connectionID, ok := parseConnectionID(w, r, true)
		if !ok {
			return
		}

		summary, err := runner.ReconcileFromOrdersSnapshot(r.Context(), user.ID, connectionID)
		if err != nil {
			logger.WithError(err).Error("snapshot reconciliation failed")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, summary)
	}
}

func parseConnectionID(w http.ResponseWriter, r *http.Request, required bool) (uint, bool) {
	param := r.URL.Query().Get("connectionId")
	if param == "" {
		if required {
			http.Error(w, "connectionId is required", http.StatusBadRequest)
			return 0, false
		}
		return 0, true
	}
	id, err := strconv.ParseUint(param, 10, 64)
	if err != nil {
		http.Error(w, "invalid connectionId", http.StatusBadRequest)
		return 0, false
	}
	return uint(id), true
}

// DefaultSearchTradesHandler wires the handler to the production repository
// implementation.
func DefaultSearchTradesHandler() http.HandlerFunc {
	return SearchTradesHandler(repository.NewTradeRepositoryReadOnly())
}

// DefaultGetTradeHandler wires the handler to the production repository
// implementation.
func DefaultGetTradeHandler() http.HandlerFunc {
	return GetTradeHandler(repository.NewTradeRepositoryReadOnly())
}
