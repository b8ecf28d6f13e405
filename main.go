package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"

	"tradeengine/src/database"
	"tradeengine/src/execution"
	"tradeengine/src/marketdata"
	"tradeengine/src/monitor"
	"tradeengine/src/realtime"
	"tradeengine/src/repository"
	"tradeengine/src/risk"
	"tradeengine/src/server"
)

var APP_NAME = os.Getenv("APP_NAME")

func SetupLogger() {
	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))

	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		level = logger.DebugLevel
	}

	logger.SetLevel(level)
	logger.SetFormatter(&logger.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	SetupLogger()
	defer handlePanic()

	// Initialize main (read/write) database
	if err := database.InitMainDB(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	// Initialize read-only database
	if err := database.InitReadOnlyDB(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	trades := repository.NewTradeRepository()
	jobs := repository.NewJobRepository()
	riskRepo := repository.NewRiskRepository()
	connections := repository.NewConnectionRepository()
	exceptions := repository.NewExceptionRepository()
	users := repository.NewUserRepository()

	gate := risk.NewGate(riskRepo, riskRepo)
	provider := execution.NewConnectorProvider(connections)
	hub := realtime.NewHub()

	executor := execution.NewExecutor(trades, jobs, gate, hub).WithBrokerProvider(provider)
	worker := execution.NewSubmissionWorker(trades, jobs, provider, hub, exceptions)
	reconciler := execution.NewReconciler(trades, trades, provider, hub, exceptions)
	killSwitch := monitor.NewKillSwitchMonitor(riskRepo, trades, gate, exceptions)
	prices := marketdata.NewExchangeSource()
	refresher := marketdata.NewUnrealizedRefresher(trades, prices, hub)
	protective := monitor.NewProtectiveExitMonitor(trades, prices, executor, exceptions)

	// Background loops stop when the server begins shutting down.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	executionConfig := execution.GetConfig()
	if executionConfig.WorkerEnabled {
		go worker.Run(ctx)
	}
	if executionConfig.ReconcilerEnabled {
		go reconciler.RunSweep(ctx)
	}
	monitorConfig := monitor.GetConfig()
	if monitorConfig.Enabled {
		go killSwitch.Run(ctx)
	}
	if monitorConfig.ProtectiveEnabled {
		go protective.Run(ctx)
	}
	if marketdata.GetConfig().RefreshEnabled {
		go refresher.Run(ctx)
	}

	server.StartServer(&server.Dependencies{
		Executor:   executor,
		Reconciler: reconciler,
		Trades:     trades,
		Risk:       riskRepo,
		Users:      users,
		Hub:        hub,
	})
}

func handlePanic() {
	if r := recover(); r != nil {
		logger.WithError(fmt.Errorf("%+v", r)).Error(fmt.Sprintf("Application %s panic", APP_NAME))
	}
	//nolint
	time.Sleep(time.Second * 5)
}
