package sweeper

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"tradeengine/src/database"
	"tradeengine/src/execution"
	"tradeengine/src/realtime"
	"tradeengine/src/repository"

	"github.com/sirupsen/logrus"
)

// Sweeper runs a single reconciliation pass over every trade with an order
// still in flight and exits. Meant for cron-style invocation next to (or
// instead of) the in-process sweep loop.
type Sweeper struct{}

func (s *Sweeper) Start() error {
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

	// Initialize read-only database
	if err := database.InitReadOnlyDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to read-only database")
		return err
	}

	trades := repository.NewTradeRepository()
	provider := execution.NewConnectorProvider(repository.NewConnectionRepository())
	exceptions := repository.NewExceptionRepository()

	reconciler := execution.NewReconciler(trades, trades, provider, realtime.NewHub(), exceptions)

	summary, err := reconciler.ReconcilePending(ctx)
	if err != nil {
		logrus.WithError(err).Error("Reconciliation pass failed")
		return err
	}

	logrus.WithFields(map[string]interface{}{
		"processed":  summary.Processed,
		"executed":   summary.Executed,
		"rejected":   summary.Rejected,
		"cancelled":  summary.Cancelled,
		"still_open": summary.StillOpen,
		"failed":     summary.Failed,
	}).Info("Reconciliation pass finished")

	return nil
}
