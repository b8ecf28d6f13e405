package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"tradeengine/src/model"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestJobRepositoryHasOpenJobForTrade(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := &JobRepository{db: mockDB}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "submission_jobs" WHERE trade_id = $1 AND leg = $2 AND status IN ($3,$4)`)).
		WithArgs(uint(5), model.TradeLegExit, model.JobStatusPending, model.JobStatusRunning).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	open, err := repo.HasOpenJobForTrade(context.Background(), 5, model.TradeLegExit)
	if err != nil {
		t.Fatalf("unexpected error checking open jobs: %v", err)
	}

	if !open {
		t.Fatal("expected an open job to be reported")
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "submission_jobs" WHERE trade_id = $1 AND leg = $2 AND status IN ($3,$4)`)).
		WithArgs(uint(6), model.TradeLegExit, model.JobStatusPending, model.JobStatusRunning).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	open, err = repo.HasOpenJobForTrade(context.Background(), 6, model.TradeLegExit)
	if err != nil {
		t.Fatalf("unexpected error checking open jobs: %v", err)
	}

	if open {
		t.Fatal("expected no open job for a trade with none queued")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestJobRepositoryRequeueStale(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := &JobRepository{db: mockDB}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "submission_jobs" SET "run_at"=$1,"status"=$2,"updated_at"=$3 WHERE status = $4 AND updated_at < $5`)).
		WithArgs(sqlmock.AnyArg(), model.JobStatusPending, sqlmock.AnyArg(), model.JobStatusRunning, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	count, err := repo.RequeueStale(context.Background(), 2*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error requeueing stale jobs: %v", err)
	}

	if count != 2 {
		t.Fatalf("expected 2 requeued jobs, got %d", count)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}
