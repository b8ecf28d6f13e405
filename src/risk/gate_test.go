package risk

import (
	"context"
	"strings"
	"testing"

	"tradeengine/src/model"
)

type stubProfileStore struct {
	profile *model.RiskProfile
	err     error
}

func (s *stubProfileStore) GetOrCreateProfile(_ context.Context, userID uint) (*model.RiskProfile, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.profile == nil {
		return &model.RiskProfile{UserID: userID}, nil
	}
	return s.profile, nil
}

type stubAlertStore struct {
	alerts []model.RiskAlert
	err    error
}

func (s *stubAlertStore) CreateAlert(_ context.Context, alert *model.RiskAlert) error {
	if s.err != nil {
		return s.err
	}
	s.alerts = append(s.alerts, *alert)
	return nil
}

func TestEvaluateTradeRisk_KillSwitchDominates(t *testing.T) {
	profiles := &stubProfileStore{profile: &model.RiskProfile{
		UserID:                   1,
		KillSwitchEnabled:        true,
		MaxPositionValuePerTrade: 1000000,
		MaxOpenTradesPerAgent:    100,
	}}
	alerts := &stubAlertStore{}
	gate := NewGate(profiles, alerts)

	decision, err := gate.EvaluateTradeRisk(context.Background(), 1, TradeRiskInput{
		AgentID:            7,
		Symbol:             "INFY",
		NotionalValue:      1, // far below every other limit
		OpenTradesForAgent: 0,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if decision.Allowed {
		t.Fatal("kill switch must block regardless of other limits")
	}
	if decision.Reason != DefaultKillSwitchReason {
		t.Fatalf("expected default kill switch reason, got %q", decision.Reason)
	}
	if len(alerts.alerts) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(alerts.alerts))
	}
	if alerts.alerts[0].AlertType != model.RiskAlertKillSwitch {
		t.Fatalf("unexpected alert type: %s", alerts.alerts[0].AlertType)
	}
}

func TestEvaluateTradeRisk_KillSwitchStoredReason(t *testing.T) {
	profiles := &stubProfileStore{profile: &model.RiskProfile{
		UserID:            1,
		KillSwitchEnabled: true,
		KillSwitchReason:  "Daily loss limit breached: P&L -1200.00 <= -1000.00",
	}}
	alerts := &stubAlertStore{}
	gate := NewGate(profiles, alerts)

	decision, err := gate.EvaluateTradeRisk(context.Background(), 1, TradeRiskInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if decision.Allowed || decision.Reason != profiles.profile.KillSwitchReason {
		t.Fatalf("expected stored kill switch reason, got %+v", decision)
	}
}

func TestEvaluateTradeRisk_NotionalBreach(t *testing.T) {
	profiles := &stubProfileStore{profile: &model.RiskProfile{
		UserID:                   1,
		MaxPositionValuePerTrade: 5000,
	}}
	alerts := &stubAlertStore{}
	gate := NewGate(profiles, alerts)

	decision, err := gate.EvaluateTradeRisk(context.Background(), 1, TradeRiskInput{
		Symbol:        "TCS",
		NotionalValue: 5001,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if decision.Allowed {
		t.Fatal("expected notional breach to block")
	}
	if len(alerts.alerts) != 1 || alerts.alerts[0].AlertType != model.RiskAlertMaxPositionValue {
		t.Fatalf("expected one notional breach alert, got %+v", alerts.alerts)
	}

	// Exactly at the limit is allowed.
	alerts.alerts = nil
	decision, err = gate.EvaluateTradeRisk(context.Background(), 1, TradeRiskInput{NotionalValue: 5000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("notional at the limit must pass, got %+v", decision)
	}
	if len(alerts.alerts) != 0 {
		t.Fatal("allowed decision must not persist alerts")
	}
}

func TestEvaluateTradeRisk_OpenTradesBreach(t *testing.T) {
	profiles := &stubProfileStore{profile: &model.RiskProfile{
		UserID:                1,
		MaxOpenTradesPerAgent: 3,
	}}
	alerts := &stubAlertStore{}
	gate := NewGate(profiles, alerts)

	decision, err := gate.EvaluateTradeRisk(context.Background(), 1, TradeRiskInput{
		AgentID:            2,
		OpenTradesForAgent: 3,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if decision.Allowed {
		t.Fatal("expected open-trades breach to block")
	}
	if len(alerts.alerts) != 1 || alerts.alerts[0].AlertType != model.RiskAlertMaxOpenTrades {
		t.Fatalf("expected one open-trades alert, got %+v", alerts.alerts)
	}
}

func TestEvaluateTradeRisk_ZeroLimitsDisabled(t *testing.T) {
	profiles := &stubProfileStore{} // lazily created zero-value profile
	alerts := &stubAlertStore{}
	gate := NewGate(profiles, alerts)

	decision, err := gate.EvaluateTradeRisk(context.Background(), 1, TradeRiskInput{
		NotionalValue:      1e9,
		OpenTradesForAgent: 1000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !decision.Allowed {
		t.Fatalf("zero limits must disable all checks, got %+v", decision)
	}
	if len(alerts.alerts) != 0 {
		t.Fatal("allowed decision must not persist alerts")
	}
}

func TestEvaluateDailyPnL(t *testing.T) {
	tests := []struct {
		name        string
		profile     model.RiskProfile
		todayPnL    float64
		wantAllowed bool
		wantType    string
		wantInMsg   string
	}{
		{
			name:        "loss breach",
			profile:     model.RiskProfile{MaxDailyLoss: 1000},
			todayPnL:    -1200,
			wantAllowed: false,
			wantType:    model.RiskAlertDailyLossBreach,
			wantInMsg:   "Daily loss limit breached",
		},
		{
			name:        "loss within limit",
			profile:     model.RiskProfile{MaxDailyLoss: 1000},
			todayPnL:    -900,
			wantAllowed: true,
		},
		{
			name:        "profit cap reached",
			profile:     model.RiskProfile{MaxDailyProfit: 5000},
			todayPnL:    5400,
			wantAllowed: false,
			wantType:    model.RiskAlertDailyProfitReached,
			wantInMsg:   "Daily profit target reached",
		},
		{
			name:        "both limits set, pnl inside",
			profile:     model.RiskProfile{MaxDailyLoss: 1000, MaxDailyProfit: 5000},
			todayPnL:    250,
			wantAllowed: true,
		},
		{
			name:        "loss exactly at limit blocks",
			profile:     model.RiskProfile{MaxDailyLoss: 1000},
			todayPnL:    -1000,
			wantAllowed: false,
			wantType:    model.RiskAlertDailyLossBreach,
		},
		{
			name:        "limits disabled",
			profile:     model.RiskProfile{},
			todayPnL:    -1e9,
			wantAllowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := tt.profile
			profile.UserID = 1
			profiles := &stubProfileStore{profile: &profile}
			alerts := &stubAlertStore{}
			gate := NewGate(profiles, alerts)

			decision, err := gate.EvaluateDailyPnL(context.Background(), 1, tt.todayPnL)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if decision.Allowed != tt.wantAllowed {
				t.Fatalf("allowed mismatch. got=%v want=%v (%+v)", decision.Allowed, tt.wantAllowed, decision)
			}

			if tt.wantAllowed {
				if len(alerts.alerts) != 0 {
					t.Fatalf("allowed decision must not persist alerts, got %+v", alerts.alerts)
				}
				return
			}

			if len(alerts.alerts) != 1 {
				t.Fatalf("expected exactly one alert, got %d", len(alerts.alerts))
			}
			if tt.wantType != "" && alerts.alerts[0].AlertType != tt.wantType {
				t.Fatalf("unexpected alert type: %s", alerts.alerts[0].AlertType)
			}
			if tt.wantInMsg != "" && !strings.Contains(decision.Reason, tt.wantInMsg) {
				t.Fatalf("reason %q does not reference %q", decision.Reason, tt.wantInMsg)
			}
		})
	}
}
