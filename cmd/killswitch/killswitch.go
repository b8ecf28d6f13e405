package killswitch

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"tradeengine/src/database"
	"tradeengine/src/monitor"
	"tradeengine/src/repository"
	"tradeengine/src/risk"

	"github.com/sirupsen/logrus"
)

// Monitor runs a single kill switch sweep over all users with daily
// guardrails configured and exits.
type Monitor struct{}

func (m *Monitor) Start() error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)

	defer stop()

	// Initialize main (read/write) database
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to main database")
		return err
	}

	trades := repository.NewTradeRepository()
	riskRepo := repository.NewRiskRepository()
	exceptions := repository.NewExceptionRepository()
	gate := risk.NewGate(riskRepo, riskRepo)

	sweep := monitor.NewKillSwitchMonitor(riskRepo, trades, gate, exceptions)

	engaged, err := sweep.Sweep(ctx)
	if err != nil {
		logrus.WithError(err).Error("Kill switch sweep failed")
		return err
	}

	logrus.WithField("engaged", engaged).Info("Kill switch sweep finished")

	return nil
}
