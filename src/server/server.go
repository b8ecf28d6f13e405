package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	logger "github.com/sirupsen/logrus"

	"tradeengine/src/auth"
	"tradeengine/src/execution"
	"tradeengine/src/handler"
	"tradeengine/src/realtime"
	"tradeengine/src/repository"
)

// Dependencies carries the wired components the HTTP surface exposes.
type Dependencies struct {
	Executor   *execution.Executor
	Reconciler *execution.Reconciler
	Trades     *repository.TradeRepository
	Risk       *repository.RiskRepository
	Users      auth.UserSource
	Hub        *realtime.Hub
}

// NewRouter builds the full route table. Split out of StartServer so tests
// can mount it without binding a port.
func NewRouter(deps *Dependencies) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("/healthcheck write error")
		}
	})

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(deps.Users))

		r.Route("/trades", func(r chi.Router) {
			r.Post("/", handler.ExecuteTradeHandler(deps.Executor))
			r.Post("/paper", handler.ExecutePaperTradeHandler(deps.Executor))
			r.Get("/", handler.SearchTradesHandler(deps.Trades))
			r.Get("/{id}", handler.GetTradeHandler(deps.Trades))
			r.Post("/{id}/close", handler.CloseTradeHandler(deps.Executor))
			r.Post("/{id}/cancel", handler.CancelTradeHandler(deps.Executor))
			r.Post("/reconcile", handler.ReconcileTradesHandler(deps.Reconciler))
			r.Post("/reconcile/snapshot", handler.ReconcileSnapshotHandler(deps.Reconciler))
		})

		r.Route("/risk", func(r chi.Router) {
			r.Get("/profile", handler.GetRiskProfileHandler(deps.Risk))
			r.Put("/profile", handler.UpdateRiskProfileHandler(deps.Risk))
			r.Post("/killswitch", handler.SetKillSwitchHandler(deps.Risk))
			r.Get("/alerts", handler.ListRiskAlertsHandler(deps.Risk))
		})

		if deps.Hub != nil {
			r.Get("/ws", deps.Hub.HandleWS)
		}
	})

	return r
}

// StartServer serves the API until SIGINT/SIGTERM, then shuts down
// gracefully.
func StartServer(deps *Dependencies) {
	config := GetConfig()

	addr := ":" + config.Port
	srv := &http.Server{
		Addr:    addr,
		Handler: NewRouter(deps),
	}

	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	// Shutdown on SIGINT or SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}
