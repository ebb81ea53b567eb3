package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/coopbooks/coopbooks/internal/fiscalyear"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeFiscalClose schedules a fiscal year close.
	TaskTypeFiscalClose = "fiscal:close"
)

// FiscalClosePayload describes the fiscal year whose creation closes the
// prior one. The run token makes reruns of a partially-applied close safe.
type FiscalClosePayload struct {
	Year               int       `json:"year"`
	EndMonth           int       `json:"end_month"`
	Period             int       `json:"period"`
	ExcludedAccountIDs []int64   `json:"excluded_account_ids,omitempty"`
	RunToken           uuid.UUID `json:"run_token"`
}

// ClosingService describes the behaviour required to close a fiscal year.
type ClosingService interface {
	Close(ctx context.Context, in fiscalyear.CloseInput) (fiscalyear.CloseResult, error)
}

// FiscalCloseJob coordinates the close workflow.
type FiscalCloseJob struct {
	Service ClosingService
	Logger  *slog.Logger
}

// NewFiscalCloseJob constructs the job handler.
func NewFiscalCloseJob(service ClosingService, logger *slog.Logger) *FiscalCloseJob {
	return &FiscalCloseJob{Service: service, Logger: logger}
}

// NewFiscalCloseTask creates an Asynq task carrying the close payload. The
// run token is generated here so every retry of the same task resumes the
// same run.
func NewFiscalCloseTask(payload FiscalClosePayload) (*asynq.Task, error) {
	if payload.RunToken == uuid.Nil {
		payload.RunToken = uuid.New()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeFiscalClose, body, asynq.Queue(QueueDefault)), nil
}

// Handle executes a fiscal close. Validation failures skip retry, since
// re-running them can never succeed; transient failures retry and resume
// against the already-archived months.
func (j *FiscalCloseJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("fiscal close: dependencies not configured")
	}
	var payload FiscalClosePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	in := fiscalyear.CloseInput{
		Year:               payload.Year,
		EndMonth:           time.Month(payload.EndMonth),
		Period:             payload.Period,
		ExcludedAccountIDs: payload.ExcludedAccountIDs,
		RunToken:           payload.RunToken,
	}
	result, err := j.Service.Close(ctx, in)
	if err != nil {
		if errors.Is(err, fiscalyear.ErrInvalidFiscalYearBoundary) || errors.Is(err, fiscalyear.ErrMissingEquityAccounts) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	if j.Logger != nil {
		j.Logger.Info("fiscal year closed",
			slog.Int("year", result.FiscalYear.Year),
			slog.Int("end_month", int(result.FiscalYear.EndMonth)),
			slog.String("run_token", result.RunToken.String()),
			slog.Int("archived_snapshots", result.ArchivedSnapshots),
			slog.Int("purged_entries", result.PurgedEntries))
	}
	return nil
}
