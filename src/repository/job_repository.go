package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradeengine/src/database"
	"tradeengine/src/model"
)

// JobRepository implements the durable submission queue on top of the main
// database. Dequeue takes a row lock with SKIP LOCKED so concurrent workers
// never pick the same job.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new repository instance using the main read/write database.
func NewJobRepository() *JobRepository {
	logger.WithField("component", "JobRepository").
		Info("Creating new JobRepository with MainDB")

	return &JobRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *JobRepository) WithDB(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Enqueue appends a submission job to the queue.
func (r *JobRepository) Enqueue(ctx context.Context, job *model.SubmissionJob) error {
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 5
	}
	if job.RunAt.IsZero() {
		job.RunAt = time.Now()
	}

	logger.WithFields(map[string]interface{}{
		"repo":     "JobRepository",
		"op":       "Enqueue",
		"trade_id": job.TradeID,
		"leg":      job.Leg,
	}).Debug("Enqueueing submission job")

	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "JobRepository",
			"op":       "Enqueue",
			"trade_id": job.TradeID,
		}).WithError(err).Error("Failed to enqueue submission job")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":   "JobRepository",
		"op":     "Enqueue",
		"job_id": job.ID,
	}).Info("Submission job enqueued")

	return nil
}

// DequeueNext claims the oldest runnable job and marks it running.
// Returns (nil, nil) when the queue is empty.
func (r *JobRepository) DequeueNext(ctx context.Context) (*model.SubmissionJob, error) {
	var job model.SubmissionJob

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND run_at <= ?", model.JobStatusPending, time.Now()).
			Order("run_at ASC, id ASC").
			First(&job).Error
		if err != nil {
			return err
		}

		job.Status = model.JobStatusRunning
		job.Attempts++

		return tx.
			Model(&model.SubmissionJob{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":   model.JobStatusRunning,
				"attempts": job.Attempts,
			}).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "JobRepository",
			"op":   "DequeueNext",
		}).WithError(err).Error("Failed to dequeue submission job")
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":     "JobRepository",
		"op":       "DequeueNext",
		"job_id":   job.ID,
		"trade_id": job.TradeID,
		"attempt":  job.Attempts,
	}).Info("Submission job dequeued")

	return &job, nil
}

// HasOpenJobForTrade reports whether a pending or running job exists for the
// given trade leg. The executor uses it to tell a wedged exit apart from one
// that is still on its way through the queue.
func (r *JobRepository) HasOpenJobForTrade(ctx context.Context, tradeID uint, leg string) (bool, error) {
	var count int64

	err := r.db.WithContext(ctx).
		Model(&model.SubmissionJob{}).
		Where("trade_id = ? AND leg = ? AND status IN ?", tradeID, leg,
			[]string{model.JobStatusPending, model.JobStatusRunning}).
		Count(&count).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "JobRepository",
			"op":       "HasOpenJobForTrade",
			"trade_id": tradeID,
			"leg":      leg,
		}).WithError(err).Error("Failed to count open submission jobs")
		return false, err
	}

	return count > 0, nil
}

// RequeueStale returns jobs stuck in running back to pending. A job only
// stays running for the duration of one broker call, so anything older than
// olderThan belonged to a worker that died mid-flight.
func (r *JobRepository) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&model.SubmissionJob{}).
		Where("status = ? AND updated_at < ?", model.JobStatusRunning, time.Now().Add(-olderThan)).
		Updates(map[string]interface{}{
			"status": model.JobStatusPending,
			"run_at": time.Now(),
		})
	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "JobRepository",
			"op":   "RequeueStale",
		}).WithError(res.Error).Error("Failed to requeue stale submission jobs")
		return 0, res.Error
	}

	if res.RowsAffected > 0 {
		logger.WithFields(map[string]interface{}{
			"repo":  "JobRepository",
			"op":    "RequeueStale",
			"count": res.RowsAffected,
		}).Warn("Requeued stale running submission jobs")
	}

	return res.RowsAffected, nil
}

// MarkCompleted finalises a successfully processed job.
func (r *JobRepository) MarkCompleted(ctx context.Context, jobID uint) error {
	err := r.db.WithContext(ctx).
		Model(&model.SubmissionJob{}).
		Where("id = ?", jobID).
		Update("status", model.JobStatusCompleted).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "JobRepository",
			"op":     "MarkCompleted",
			"job_id": jobID,
		}).WithError(err).Error("Failed to mark job completed")
		return err
	}

	return nil
}

// MarkFailed records a processing failure. The job is rescheduled with
// exponential backoff until its attempts are exhausted, then parked as
// failed for the reconciliation sweeper to pick up the trade.
func (r *JobRepository) MarkFailed(ctx context.Context, job *model.SubmissionJob, cause error) error {
	updates := map[string]interface{}{
		"last_error": cause.Error(),
	}

	if job.Attempts >= job.MaxAttempts {
		updates["status"] = model.JobStatusFailed
	} else {
		backoff := time.Duration(job.Attempts) * 30 * time.Second
		updates["status"] = model.JobStatusPending
		updates["run_at"] = time.Now().Add(backoff)
	}

	logger.WithFields(map[string]interface{}{
		"repo":     "JobRepository",
		"op":       "MarkFailed",
		"job_id":   job.ID,
		"attempts": job.Attempts,
		"terminal": job.Attempts >= job.MaxAttempts,
	}).Warn("Marking submission job failed")

	err := r.db.WithContext(ctx).
		Model(&model.SubmissionJob{}).
		Where("id = ?", job.ID).
		Updates(updates).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "JobRepository",
			"op":     "MarkFailed",
			"job_id": job.ID,
		}).WithError(err).Error("Failed to mark job failed")
		return err
	}

	return nil
}
