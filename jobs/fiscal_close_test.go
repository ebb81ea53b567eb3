package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/coopbooks/coopbooks/internal/fiscalyear"
)

type fakeClosingService struct {
	got fiscalyear.CloseInput
	err error
}

func (f *fakeClosingService) Close(ctx context.Context, in fiscalyear.CloseInput) (fiscalyear.CloseResult, error) {
	f.got = in
	if f.err != nil {
		return fiscalyear.CloseResult{}, f.err
	}
	return fiscalyear.CloseResult{
		FiscalYear: fiscalyear.FiscalYear{Year: in.Year, EndMonth: in.EndMonth, Period: in.Period},
		RunToken:   in.RunToken,
	}, nil
}

func TestNewFiscalCloseTaskGeneratesRunToken(t *testing.T) {
	task, err := NewFiscalCloseTask(FiscalClosePayload{Year: 2013, EndMonth: 12, Period: 12})
	require.NoError(t, err)
	require.Equal(t, TaskTypeFiscalClose, task.Type())

	var payload FiscalClosePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.NotEqual(t, uuid.Nil, payload.RunToken)
}

func TestHandlePassesPayloadThrough(t *testing.T) {
	svc := &fakeClosingService{}
	job := NewFiscalCloseJob(svc, nil)
	token := uuid.New()
	task, err := NewFiscalCloseTask(FiscalClosePayload{
		Year: 2013, EndMonth: 12, Period: 12,
		ExcludedAccountIDs: []int64{7}, RunToken: token,
	})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 2013, svc.got.Year)
	require.Equal(t, time.December, svc.got.EndMonth)
	require.Equal(t, []int64{7}, svc.got.ExcludedAccountIDs)
	// Retries must resume the run the task was created with.
	require.Equal(t, token, svc.got.RunToken)
}

func TestHandleSkipsRetryOnBoundaryErrors(t *testing.T) {
	svc := &fakeClosingService{err: fiscalyear.ErrInvalidFiscalYearBoundary}
	job := NewFiscalCloseJob(svc, nil)
	task, err := NewFiscalCloseTask(FiscalClosePayload{Year: 2013, EndMonth: 12, Period: 12})
	require.NoError(t, err)

	handleErr := job.Handle(context.Background(), task)
	require.ErrorIs(t, handleErr, asynq.SkipRetry)
}

func TestHandleRetriesTransientErrors(t *testing.T) {
	transient := errors.New("connection reset")
	svc := &fakeClosingService{err: transient}
	job := NewFiscalCloseJob(svc, nil)
	task, err := NewFiscalCloseTask(FiscalClosePayload{Year: 2013, EndMonth: 12, Period: 12})
	require.NoError(t, err)

	handleErr := job.Handle(context.Background(), task)
	require.ErrorIs(t, handleErr, transient)
	require.NotErrorIs(t, handleErr, asynq.SkipRetry)
}

func TestHandleSkipsRetryOnMalformedPayload(t *testing.T) {
	job := NewFiscalCloseJob(&fakeClosingService{}, nil)
	task := asynq.NewTask(TaskTypeFiscalClose, []byte("{not json"))
	require.ErrorIs(t, job.Handle(context.Background(), task), asynq.SkipRetry)
}
