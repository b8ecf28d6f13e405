package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradeengine/src/model"
)

// DefaultKillSwitchReason is used when the kill switch is engaged without a
// stored reason.
const DefaultKillSwitchReason = "Kill switch is enabled"

// ProfileStore loads (or lazily creates) risk profiles.
type ProfileStore interface {
	GetOrCreateProfile(ctx context.Context, userID uint) (*model.RiskProfile, error)
}

// AlertStore persists immutable risk alerts.
type AlertStore interface {
	CreateAlert(ctx context.Context, alert *model.RiskAlert) error
}

// TradeRiskInput describes one proposed trade for pre-trade evaluation.
type TradeRiskInput struct {
	AgentID            uint
	Symbol             string
	NotionalValue      float64
	OpenTradesForAgent int
}

// Decision is the outcome of a risk evaluation. A blocked decision is a
// normal return value, not an error: the caller must treat it as
// "do not execute".
type Decision struct {
	Allowed bool               `json:"allowed"`
	Reason  string             `json:"reason,omitempty"`
	Profile *model.RiskProfile `json:"profile"`
}

// Gate evaluates proposed trades and daily P&L against a user's risk
// profile. Every blocking decision persists exactly one alert before
// returning; allowed decisions persist nothing.
type Gate struct {
	profiles ProfileStore
	alerts   AlertStore
	log      *logger.Entry
}

func NewGate(profiles ProfileStore, alerts AlertStore) *Gate {
	return &Gate{
		profiles: profiles,
		alerts:   alerts,
		log:      logger.WithField("component", "risk_gate"),
	}
}

// EvaluateTradeRisk runs the pre-trade checks. The kill switch always
// dominates; the remaining checks are independent and the first violated
// one short-circuits. A limit of zero disables its check.
func (g *Gate) EvaluateTradeRisk(ctx context.Context, userID uint, input TradeRiskInput) (*Decision, error) {
	profile, err := g.profiles.GetOrCreateProfile(ctx, userID)
	if err != nil {
		// Fail closed: without a profile no trade may pass.
		return nil, fmt.Errorf("failed to load risk profile: %w", err)
	}

	if profile.KillSwitchEnabled {
		reason := profile.KillSwitchReason
		if reason == "" {
			reason = DefaultKillSwitchReason
		}

		g.emitAlert(ctx, userID, model.RiskAlertKillSwitch, reason, map[string]interface{}{
			"agent_id": input.AgentID,
			"symbol":   input.Symbol,
		})

		return &Decision{Allowed: false, Reason: reason, Profile: profile}, nil
	}

	maxNotional := decimal.NewFromFloat(profile.MaxPositionValuePerTrade)
	notional := decimal.NewFromFloat(input.NotionalValue)
	if maxNotional.IsPositive() && notional.GreaterThan(maxNotional) {
		reason := fmt.Sprintf("Trade notional %s exceeds per-trade limit %s",
			notional.StringFixed(2), maxNotional.StringFixed(2))

		g.emitAlert(ctx, userID, model.RiskAlertMaxPositionValue, reason, map[string]interface{}{
			"agent_id":       input.AgentID,
			"symbol":         input.Symbol,
			"notional_value": input.NotionalValue,
			"limit":          profile.MaxPositionValuePerTrade,
		})

		return &Decision{Allowed: false, Reason: reason, Profile: profile}, nil
	}

	if profile.MaxOpenTradesPerAgent > 0 && input.OpenTradesForAgent >= profile.MaxOpenTradesPerAgent {
		reason := fmt.Sprintf("Agent already has %d open trades (limit %d)",
			input.OpenTradesForAgent, profile.MaxOpenTradesPerAgent)

		g.emitAlert(ctx, userID, model.RiskAlertMaxOpenTrades, reason, map[string]interface{}{
			"agent_id":    input.AgentID,
			"symbol":      input.Symbol,
			"open_trades": input.OpenTradesForAgent,
			"limit":       profile.MaxOpenTradesPerAgent,
		})

		return &Decision{Allowed: false, Reason: reason, Profile: profile}, nil
	}

	return &Decision{Allowed: true, Profile: profile}, nil
}

// EvaluateDailyPnL checks the day's realized P&L against the loss and
// profit guardrails. Independent of the per-trade checks; used both
// synchronously before live trade decisions and by the kill-switch monitor.
func (g *Gate) EvaluateDailyPnL(ctx context.Context, userID uint, todayPnL float64) (*Decision, error) {
	profile, err := g.profiles.GetOrCreateProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load risk profile: %w", err)
	}

	pnl := decimal.NewFromFloat(todayPnL)

	maxLoss := decimal.NewFromFloat(profile.MaxDailyLoss)
	if maxLoss.IsPositive() && pnl.LessThanOrEqual(maxLoss.Neg()) {
		reason := fmt.Sprintf("Daily loss limit breached: P&L %s <= -%s",
			pnl.StringFixed(2), maxLoss.StringFixed(2))

		g.emitAlert(ctx, userID, model.RiskAlertDailyLossBreach, reason, map[string]interface{}{
			"today_pnl":      todayPnL,
			"max_daily_loss": profile.MaxDailyLoss,
		})

		return &Decision{Allowed: false, Reason: reason, Profile: profile}, nil
	}

	maxProfit := decimal.NewFromFloat(profile.MaxDailyProfit)
	if maxProfit.IsPositive() && pnl.GreaterThanOrEqual(maxProfit) {
		reason := fmt.Sprintf("Daily profit target reached: P&L %s >= %s",
			pnl.StringFixed(2), maxProfit.StringFixed(2))

		g.emitAlert(ctx, userID, model.RiskAlertDailyProfitReached, reason, map[string]interface{}{
			"today_pnl":        todayPnL,
			"max_daily_profit": profile.MaxDailyProfit,
		})

		return &Decision{Allowed: false, Reason: reason, Profile: profile}, nil
	}

	return &Decision{Allowed: true, Profile: profile}, nil
}

// emitAlert persists the audit record for a blocking decision. An audit
// write failure never flips a block back to allowed; it is logged and the
// decision stands.
func (g *Gate) emitAlert(ctx context.Context, userID uint, alertType, message string, metadata map[string]interface{}) {
	alert := &model.RiskAlert{
		UserID:    userID,
		AlertType: alertType,
		Message:   message,
		CreatedAt: time.Now(),
	}

	if metadata != nil {
		if b, err := json.Marshal(metadata); err == nil {
			alert.Metadata = string(b)
		}
	}

	if err := g.alerts.CreateAlert(ctx, alert); err != nil {
		g.log.WithError(err).WithFields(map[string]interface{}{
			"user_id":    userID,
			"alert_type": alertType,
		}).Error("failed to persist risk alert")
	}
}
