package fiscalyear

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coopbooks/coopbooks/internal/chart"
)

// FiscalYear marks the boundary of a closed accounting period. Period is
// the length in months, 12 or 13.
type FiscalYear struct {
	ID        int64
	Year      int
	EndMonth  time.Month
	Period    int
	CreatedAt time.Time
}

// EndDate returns the last day of the fiscal year.
func (fy FiscalYear) EndDate() time.Time {
	first := time.Date(fy.Year, fy.EndMonth, 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, 1, -1)
}

// StartDate returns the first day of the fiscal year.
func (fy FiscalYear) StartDate() time.Time {
	return time.Date(fy.Year, fy.EndMonth, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1-fy.Period, 0)
}

// HistoricalAccount is an immutable monthly snapshot of an account taken by
// a fiscal-year close. Amount is in credit/debit convention: an end-of-month
// balance for asset, liability and equity accounts and a net monthly change
// for the earnings types. Unique per (name, month).
type HistoricalAccount struct {
	ID       int64
	Name     string
	Number   string
	Type     chart.AccountType
	Amount   decimal.Decimal
	Month    time.Time
	RunToken uuid.UUID
}

// CloseInput describes the new fiscal year whose creation closes the prior
// one. ExcludedAccountIDs protect entries touching those accounts from the
// purge while unreconciled. A zero RunToken gets generated at Close.
type CloseInput struct {
	Year               int
	EndMonth           time.Month
	Period             int
	ExcludedAccountIDs []int64
	RunToken           uuid.UUID
}

// Validate checks the shape of the input; boundary rules against the prior
// fiscal year are enforced inside Close.
func (in CloseInput) Validate() error {
	if in.Year < 1 {
		return errors.New("fiscalyear: year required")
	}
	if in.EndMonth < time.January || in.EndMonth > time.December {
		return errors.New("fiscalyear: end month out of range")
	}
	if in.Period != 12 && in.Period != 13 {
		return errors.New("fiscalyear: period must be 12 or 13 months")
	}
	return nil
}

// CloseResult reports what a close run did.
type CloseResult struct {
	FiscalYear        FiscalYear
	RunToken          uuid.UUID
	ArchivedSnapshots int
	PurgedEntries     int
	TransferEntryID   int64
}

var (
	// ErrInvalidFiscalYearBoundary indicates a new fiscal year that does
	// not follow the prior one cleanly.
	ErrInvalidFiscalYearBoundary = errors.New("fiscalyear: invalid fiscal year boundary")
	// ErrMissingEquityAccounts indicates a chart without the Current Year
	// Earnings or Retained Earnings accounts a close depends on.
	ErrMissingEquityAccounts = errors.New("fiscalyear: current year earnings and retained earnings accounts required")
)

// InvalidBoundaryError carries the reason a boundary was rejected.
type InvalidBoundaryError struct {
	Reason string
}

func (e *InvalidBoundaryError) Error() string {
	return fmt.Sprintf("fiscalyear: invalid fiscal year boundary: %s", e.Reason)
}

// Unwrap lets errors.Is match the sentinel.
func (e *InvalidBoundaryError) Unwrap() error {
	return ErrInvalidFiscalYearBoundary
}

// monthStart truncates a date to the first day of its month.
func monthStart(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// monthEnd returns the last day of the month containing date.
func monthEnd(date time.Time) time.Time {
	return monthStart(date).AddDate(0, 1, -1)
}
