package reconcile

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coopbooks/coopbooks/internal/chart"
	"github.com/coopbooks/coopbooks/internal/ledger"
)

// Statement carries the external bank statement a reconciliation works
// against. Balance arrives in value convention, the way banks print it.
type Statement struct {
	AccountID int64
	Date      time.Time
	Balance   decimal.Decimal
}

// Validate checks the statement fields.
func (s Statement) Validate() error {
	if s.AccountID == 0 {
		return errors.New("reconcile: account required")
	}
	if s.Date.IsZero() {
		return errors.New("reconcile: statement date required")
	}
	return nil
}

// Proposal lists the transactions eligible for a statement along with the
// amounts a matching selection has to reach.
type Proposal struct {
	Account           chart.Account
	ReconciledBalance decimal.Decimal
	Target            decimal.Decimal
	Candidates        []ledger.Transaction
}

var (
	// ErrNotBankAccount indicates reconciliation against a non-bank account.
	ErrNotBankAccount = errors.New("reconcile: account is not a bank account")
	// ErrStaleStatementDate indicates a statement dated before the
	// account's last reconciliation.
	ErrStaleStatementDate = errors.New("reconcile: statement date precedes last reconciliation")
	// ErrOutOfBalance indicates a selection that does not reach the
	// statement balance.
	ErrOutOfBalance = errors.New("reconcile: selection does not match statement balance")
	// ErrNotCandidate indicates a selected transaction outside the
	// reconciliation window or already reconciled.
	ErrNotCandidate = errors.New("reconcile: transaction is not a reconciliation candidate")
)

// OutOfBalanceError carries the selected sum, the required target and the
// full candidate set so the caller can re-present the statement without a
// second Propose round trip.
type OutOfBalanceError struct {
	Selected   decimal.Decimal
	Target     decimal.Decimal
	Candidates []ledger.Transaction
}

func (e *OutOfBalanceError) Error() string {
	return fmt.Sprintf("reconcile: selected transactions net to %s, want %s",
		e.Selected.StringFixed(2), e.Target.StringFixed(2))
}

// Unwrap lets errors.Is match the sentinel.
func (e *OutOfBalanceError) Unwrap() error {
	return ErrOutOfBalance
}
