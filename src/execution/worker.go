package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"

	"tradeengine/src/audit"
	"tradeengine/src/connectors"
	"tradeengine/src/model"
	"tradeengine/src/repository"
)

const serviceName = "trade_engine"

// SubmissionWorker drains the durable submission queue one job at a time:
// place the order on the broker, persist the broker order id, take one
// immediate status snapshot and merge it. Jobs that fail are retried with
// backoff by the queue; once attempts are exhausted the trade itself is
// marked failed.
type SubmissionWorker struct {
	trades     TradeStore
	jobs       JobStore
	provider   BrokerProvider
	notifier   TradeNotifier
	exceptions *repository.ExceptionRepository
	config     Config
}

func NewSubmissionWorker(
	trades TradeStore,
	jobs JobStore,
	provider BrokerProvider,
	notifier TradeNotifier,
	exceptions *repository.ExceptionRepository,
) *SubmissionWorker {
	return &SubmissionWorker{
		trades:     trades,
		jobs:       jobs,
		provider:   provider,
		notifier:   notifier,
		exceptions: exceptions,
		config:     GetConfig(),
	}
}

// Run polls the queue until the context is cancelled. When a job was
// processed the next poll happens immediately, so a backlog drains at full
// speed and the interval only paces the idle case.
func (w *SubmissionWorker) Run(ctx context.Context) {
	logger.WithFields(map[string]interface{}{
		"module":        "submission_worker",
		"poll_interval": w.config.WorkerPollInterval.String(),
	}).Info("submission worker started")

	ticker := time.NewTicker(w.config.WorkerPollInterval)
	defer ticker.Stop()

	for {
		processed, err := w.ProcessNext(ctx)
		if err != nil {
			logger.WithError(err).Error("submission worker iteration failed")
		}
		if processed && ctx.Err() == nil {
			continue
		}

		select {
		case <-ctx.Done():
			logger.Info("submission worker stopped")
			return
		case <-ticker.C:
			w.requeueStale(ctx)
		}
	}
}

// requeueStale returns jobs abandoned mid-flight by a dead worker to the
// queue. Only runs on idle ticks so a backlog drains first.
func (w *SubmissionWorker) requeueStale(ctx context.Context) {
	count, err := w.jobs.RequeueStale(ctx, w.config.StaleJobTimeout)
	if err != nil {
		logger.WithError(err).Error("stale job requeue failed")
		return
	}
	if count > 0 {
		logger.WithFields(map[string]interface{}{
			"module": "submission_worker",
			"count":  count,
		}).Warn("requeued stale running jobs")
	}
}

// ProcessNext takes one job off the queue and runs it to completion.
// Returns false when the queue was empty.
func (w *SubmissionWorker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := w.jobs.DequeueNext(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	log := logger.WithFields(map[string]interface{}{
		"module":   "submission_worker",
		"job_id":   job.ID,
		"trade_id": job.TradeID,
		"leg":      job.Leg,
		"attempt":  job.Attempts,
	})

	if err := w.processJob(ctx, job, log); err != nil {
		log.WithError(err).Error("submission attempt failed")

		if markErr := w.jobs.MarkFailed(ctx, job, err); markErr != nil {
			log.WithError(markErr).Error("failed to record job failure")
		}

		if job.Attempts >= job.MaxAttempts {
			w.failTrade(ctx, job, err, log)
		}
		return true, nil
	}

	if err := w.jobs.MarkCompleted(ctx, job.ID); err != nil {
		log.WithError(err).Error("failed to mark job completed")
	}
	return true, nil
}

func (w *SubmissionWorker) processJob(ctx context.Context, job *model.SubmissionJob, log *logger.Entry) error {
	trade, err := w.trades.FindByID(ctx, job.TradeID)
	if err != nil {
		return err
	}
	if trade == nil {
		log.Warn("job references a missing trade, dropping")
		return nil
	}

	// A terminal trade no longer accepts submissions for this leg. This
	// covers jobs replayed after a crash.
	if trade.Status == model.TradeStatusCancelled ||
		(trade.Status == model.TradeStatusClosed && job.Leg == model.TradeLegExit) {
		log.Warn("trade already terminal, dropping job")
		return nil
	}

	broker, token, err := w.provider.BrokerFor(ctx, job.ConnectionID)
	if err != nil {
		return err
	}

	orderID := legOrderID(trade, job.Leg)
	if orderID == "" {
		var params connectors.OrderParams
		if err := json.Unmarshal([]byte(job.Payload), &params); err != nil {
			return fmt.Errorf("decode submission payload: %w", err)
		}

		orderID, err = broker.PlaceOrder(ctx, token, params)
		if err != nil {
			return err
		}

		updates := map[string]interface{}{
			"order_status": model.OrderStatusPlaced,
		}
		if job.Leg == model.TradeLegExit {
			updates["exit_order_id"] = orderID
			trade.ExitOrderID = orderID
		} else {
			updates["entry_order_id"] = orderID
			trade.EntryOrderID = orderID
		}
		trade.OrderStatus = model.OrderStatusPlaced

		if err := w.trades.ApplyUpdates(ctx, trade.ID, updates, nil); err != nil {
			// The order is live on the broker but the id failed to
			// persist: the sweeper will pick it up from the bulk
			// snapshot. Surface the error so the job retries.
			return fmt.Errorf("persist broker order id %s: %w", orderID, err)
		}

		log.WithField("order_id", orderID).Info("order submitted to broker")
	} else {
		log.WithField("order_id", orderID).Info("order already placed, resuming status sync")
	}

	// One immediate snapshot; the reconciler carries the long tail.
	snap, err := broker.GetLatestOrderState(ctx, token, orderID)
	if err != nil {
		log.WithError(err).Warn("post-submission status fetch failed, leaving to reconciler")
		return nil
	}
	if snap == nil {
		return nil
	}

	outcome := ApplyOrderSnapshot(trade, job.Leg, snap, time.Now())
	if !outcome.Changed() {
		return nil
	}
	if err := w.trades.ApplyUpdates(ctx, trade.ID, outcome.Updates, outcome.FillEvent); err != nil {
		return err
	}

	if w.notifier != nil {
		w.notifier.PublishTradeUpdate(trade.UserID, trade)
	}
	return nil
}

// failTrade marks the trade's in-flight order failed after the queue gave
// up on the job. An entry-leg failure cancels the trade; an exit-leg failure
// leaves it open for manual intervention.
func (w *SubmissionWorker) failTrade(ctx context.Context, job *model.SubmissionJob, cause error, log *logger.Entry) {
	trade, err := w.trades.FindByID(ctx, job.TradeID)
	if err != nil || trade == nil {
		return
	}
	if model.IsOrderTerminal(trade.OrderStatus) {
		return
	}

	updates := map[string]interface{}{
		"order_status": model.OrderStatusFailed,
	}
	prefix := legColumnPrefix(job.Leg)
	updates[prefix+"_status_message"] = fmt.Sprintf("submission failed after %d attempts: %s", job.Attempts, cause)
	if job.Leg == model.TradeLegEntry {
		updates["status"] = model.TradeStatusCancelled
	}

	if err := w.trades.ApplyUpdates(ctx, trade.ID, updates, nil); err != nil {
		log.WithError(err).Error("failed to mark trade failed")
		return
	}

	audit.Capture(ctx, w.exceptions, serviceName, "submission_worker", "processJob", "error", cause,
		map[string]interface{}{
			"trade_id": job.TradeID,
			"job_id":   job.ID,
			"leg":      job.Leg,
		})

	trade.OrderStatus = model.OrderStatusFailed
	if job.Leg == model.TradeLegEntry {
		trade.Status = model.TradeStatusCancelled
	}
	if w.notifier != nil {
		w.notifier.PublishTradeUpdate(trade.UserID, trade)
	}
}
