package model

import "time"

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// SubmissionJob is one row of the durable submission queue. The trade
// executor enqueues a job per leg; the submission worker dequeues one job at
// a time with a row lock and retries failed jobs with backoff until
// MaxAttempts is exhausted.
type SubmissionJob struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	TradeID      uint   `gorm:"index;not null" json:"trade_id"`
	UserID       uint   `gorm:"index;not null" json:"user_id"`
	ConnectionID uint   `gorm:"index;not null" json:"connection_id"`
	Leg          string `gorm:"size:10;not null" json:"leg"`

	// Submission parameters (symbol, side, quantity, order kind, price,
	// broker routing parameters, client tag), serialized JSON.
	Payload string `gorm:"type:jsonb" json:"payload"`

	Status      string `gorm:"size:20;not null;default:pending;index" json:"status"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `gorm:"default:5" json:"max_attempts"`
	LastError   string `gorm:"size:500" json:"last_error,omitempty"`

	RunAt     time.Time `gorm:"index" json:"run_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SubmissionJob) TableName() string {
	return "submission_jobs"
}
