package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	logger "github.com/sirupsen/logrus"

	"tradeengine/src/auth"
	"tradeengine/src/model"
	"tradeengine/src/repository"
	"tradeengine/src/risk"
)

type riskStore interface {
	GetOrCreateProfile(ctx context.Context, userID uint) (*model.RiskProfile, error)
	UpdateProfile(ctx context.Context, userID uint, updates map[string]interface{}) error
	SetKillSwitch(ctx context.Context, userID uint, enabled bool, reason string) error
	FindAlertsByUser(ctx context.Context, userID uint, limit int) ([]model.RiskAlert, error)
}

// GetRiskProfileHandler returns the user's risk profile, creating the
// default one on first access.
func GetRiskProfileHandler(repo riskStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		profile, err := repo.GetOrCreateProfile(r.Context(), user.ID)
		if err != nil {
			logger.WithError(err).Error("failed to load risk profile")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, profile)
	}
}

// riskProfilePayload carries the editable guardrails. Pointer fields so a
// partial update only touches what the caller sent.
type riskProfilePayload struct {
	MaxPositionValuePerTrade *float64 `json:"max_position_value_per_trade,omitempty"`
	MaxDailyLoss             *float64 `json:"max_daily_loss,omitempty"`
	MaxDailyProfit           *float64 `json:"max_daily_profit,omitempty"`
	MaxOpenTradesPerAgent    *int     `json:"max_open_trades_per_agent,omitempty"`
}

// UpdateRiskProfileHandler applies a partial update to the user's
// guardrails. Limits must not be negative; zero disables a limit.
func UpdateRiskProfileHandler(repo riskStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var payload riskProfilePayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			logger.WithError(err).Warn("invalid risk profile payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		updates := map[string]interface{}{}
		if payload.MaxPositionValuePerTrade != nil {
			if *payload.MaxPositionValuePerTrade < 0 {
				http.Error(w, "max_position_value_per_trade must not be negative", http.StatusBadRequest)
				return
			}
			updates["max_position_value_per_trade"] = *payload.MaxPositionValuePerTrade
		}
		if payload.MaxDailyLoss != nil {
			if *payload.MaxDailyLoss < 0 {
				http.Error(w, "max_daily_loss must not be negative", http.StatusBadRequest)
				return
			}
			updates["max_daily_loss"] = *payload.MaxDailyLoss
		}
		if payload.MaxDailyProfit != nil {
			if *payload.MaxDailyProfit < 0 {
				http.Error(w, "max_daily_profit must not be negative", http.StatusBadRequest)
				return
			}
			updates["max_daily_profit"] = *payload.MaxDailyProfit
		}
		if payload.MaxOpenTradesPerAgent != nil {
			if *payload.MaxOpenTradesPerAgent < 0 {
				http.Error(w, "max_open_trades_per_agent must not be negative", http.StatusBadRequest)
				return
			}
			updates["max_open_trades_per_agent"] = *payload.MaxOpenTradesPerAgent
		}

		if len(updates) == 0 {
			http.Error(w, "No fields to update", http.StatusBadRequest)
			return
		}

		if err := repo.UpdateProfile(r.Context(), user.ID, updates); err != nil {
			logger.WithError(err).Error("failed to update risk profile")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		profile, err := repo.GetOrCreateProfile(r.Context(), user.ID)
		if err != nil {
			logger.WithError(err).Error("failed to reload risk profile")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, profile)
	}
}

type killSwitchPayload struct {
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason,omitempty"`
}

// SetKillSwitchHandler engages or releases the user's kill switch.
func SetKillSwitchHandler(repo riskStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var payload killSwitchPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			logger.WithError(err).Warn("invalid kill switch payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		reason := payload.Reason
		if payload.Enabled && reason == "" {
			reason = risk.DefaultKillSwitchReason
		}
		if !payload.Enabled {
			reason = ""
		}

		if err := repo.SetKillSwitch(r.Context(), user.ID, payload.Enabled, reason); err != nil {
			logger.WithError(err).Error("failed to set kill switch")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"kill_switch_enabled": payload.Enabled,
			"reason":              reason,
		})
	}
}

// ListRiskAlertsHandler returns the user's newest risk alerts.
func ListRiskAlertsHandler(repo riskStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		limit := 50
		if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
			parsed, err := strconv.Atoi(limitParam)
			if err != nil || parsed <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = parsed
		}

		alerts, err := repo.FindAlertsByUser(r.Context(), user.ID, limit)
		if err != nil {
			logger.WithError(err).Error("failed to list risk alerts")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, alerts)
	}
}

// DefaultRiskHandlers wires the risk endpoints to the production repository.
func DefaultRiskHandlers() (get, update, killSwitch, alerts http.HandlerFunc) {
	repo := repository.NewRiskRepository()
	return GetRiskProfileHandler(repo), UpdateRiskProfileHandler(repo), SetKillSwitchHandler(repo), ListRiskAlertsHandler(repo)
}
