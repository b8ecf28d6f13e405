package monitor

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"

	"tradeengine/src/audit"
	"tradeengine/src/model"
	"tradeengine/src/repository"
	"tradeengine/src/risk"
)

// ProfileSource is the slice of the risk repository the monitor needs.
type ProfileSource interface {
	FindActiveProfiles(ctx context.Context, maxItems int) ([]model.RiskProfile, error)
	SetKillSwitch(ctx context.Context, userID uint, enabled bool, reason string) error
}

// PnLSource sums a user's realized P&L since a point in time.
type PnLSource interface {
	SumRealizedPnLSince(ctx context.Context, userID uint, since time.Time) (float64, error)
}

// DailyGate evaluates the daily P&L guardrails.
type DailyGate interface {
	EvaluateDailyPnL(ctx context.Context, userID uint, todayPnL float64) (*risk.Decision, error)
}

// KillSwitchMonitor periodically checks every user with daily guardrails
// configured and engages their kill switch when today's realized P&L crosses
// the loss limit or the profit target. Only users whose kill switch is not
// already on are scanned; the switch never disengages automatically.
type KillSwitchMonitor struct {
	profiles   ProfileSource
	pnl        PnLSource
	gate       DailyGate
	exceptions *repository.ExceptionRepository
	config     Config

	// now is swapped out in tests.
	now func() time.Time
}

func NewKillSwitchMonitor(
	profiles ProfileSource,
	pnl PnLSource,
	gate DailyGate,
	exceptions *repository.ExceptionRepository,
) *KillSwitchMonitor {
	return &KillSwitchMonitor{
		profiles:   profiles,
		pnl:        pnl,
		gate:       gate,
		exceptions: exceptions,
		config:     GetConfig(),
		now:        time.Now,
	}
}

// Run sweeps at the configured period until the context is cancelled.
func (m *KillSwitchMonitor) Run(ctx context.Context) {
	logger.WithFields(map[string]interface{}{
		"module": "killswitch_monitor",
		"period": m.config.Period.String(),
		"batch":  m.config.BatchSize,
	}).Info("kill switch monitor started")

	ticker := time.NewTicker(m.config.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("kill switch monitor stopped")
			return
		case <-ticker.C:
			engaged, err := m.Sweep(ctx)
			if err != nil {
				logger.WithError(err).Error("kill switch sweep failed")
				continue
			}
			if engaged > 0 {
				logger.WithFields(map[string]interface{}{
					"module":  "killswitch_monitor",
					"engaged": engaged,
				}).Warn("kill switches engaged")
			}
		}
	}
}

// Sweep runs one pass over the active risk profiles. One user failing never
// stops the others from being checked.
func (m *KillSwitchMonitor) Sweep(ctx context.Context) (int, error) {
	profiles, err := m.profiles.FindActiveProfiles(ctx, m.config.BatchSize)
	if err != nil {
		return 0, err
	}

	since := m.startOfDay()
	engaged := 0

	for i := range profiles {
		profile := &profiles[i]
		if profile.MaxDailyLoss <= 0 && profile.MaxDailyProfit <= 0 {
			continue
		}
		if ctx.Err() != nil {
			return engaged, ctx.Err()
		}

		if m.checkUser(ctx, profile.UserID, since) {
			engaged++
		}
	}

	return engaged, nil
}

func (m *KillSwitchMonitor) checkUser(ctx context.Context, userID uint, since time.Time) bool {
	todayPnL, err := m.pnl.SumRealizedPnLSince(ctx, userID, since)
	if err != nil {
		m.capture(ctx, userID, "SumRealizedPnLSince", err)
		return false
	}

	decision, err := m.gate.EvaluateDailyPnL(ctx, userID, todayPnL)
	if err != nil {
		m.capture(ctx, userID, "EvaluateDailyPnL", err)
		return false
	}
	if decision.Allowed {
		return false
	}

	if err := m.profiles.SetKillSwitch(ctx, userID, true, decision.Reason); err != nil {
		m.capture(ctx, userID, "SetKillSwitch", err)
		return false
	}

	logger.WithFields(map[string]interface{}{
		"module":    "killswitch_monitor",
		"user_id":   userID,
		"today_pnl": todayPnL,
		"reason":    decision.Reason,
	}).Warn("kill switch engaged for user")

	return true
}

func (m *KillSwitchMonitor) startOfDay() time.Time {
	now := m.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

func (m *KillSwitchMonitor) capture(ctx context.Context, userID uint, method string, err error) {
	logger.WithError(err).WithField("user_id", userID).Error("kill switch check failed for user")
	audit.Capture(ctx, m.exceptions, "trade_engine", "killswitch_monitor", method, "error", err,
		map[string]interface{}{"user_id": userID})
}

var (
	_ ProfileSource = (*repository.RiskRepository)(nil)
	_ PnLSource     = (*repository.TradeRepository)(nil)
	_ DailyGate     = (*risk.Gate)(nil)
)
