package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coopbooks/coopbooks/internal/chart"
)

// EntryKind tags the variant of the entry owning a transaction.
type EntryKind string

const (
	EntryJournal       EntryKind = "journal"
	EntryTransfer      EntryKind = "transfer"
	EntryBankSpending  EntryKind = "bank_spending"
	EntryBankReceiving EntryKind = "bank_receiving"
)

// Valid reports whether k is a known entry kind.
func (k EntryKind) Valid() bool {
	switch k {
	case EntryJournal, EntryTransfer, EntryBankSpending, EntryBankReceiving:
		return true
	default:
		return false
	}
}

// EntryRef identifies the entry a transaction belongs to.
type EntryRef struct {
	Kind EntryKind
	ID   int64
}

// Transaction itemizes a single account balance change. A positive delta is
// a credit, a negative delta is a debit.
type Transaction struct {
	ID         int64
	AccountID  int64
	Entry      EntryRef
	Main       bool
	Detail     string
	Delta      decimal.Decimal
	Date       time.Time
	Reconciled bool
}

var (
	// ErrTransactionNotFound indicates a missing transaction.
	ErrTransactionNotFound = errors.New("ledger: transaction not found")
	// ErrReconciledTransactionLocked indicates a mutation on a reconciled
	// transaction whose flag has not been cleared first.
	ErrReconciledTransactionLocked = errors.New("ledger: reconciled transaction is locked")
)

// BalanceWriter is the slice of a transactional store the balance primitives
// need. Account rows are locked per account so concurrent read-modify-write
// of balances serializes.
type BalanceWriter interface {
	GetAccountForUpdate(ctx context.Context, id int64) (chart.Account, error)
	AddToBalance(ctx context.Context, accountID int64, delta decimal.Decimal) error
}

// Apply atomically adds delta to the target account's stored balance. The
// Current Year Earnings account has no stored balance of its own, so applying
// against it is a no-op.
func Apply(ctx context.Context, w BalanceWriter, accountID int64, delta decimal.Decimal) error {
	account, err := w.GetAccountForUpdate(ctx, accountID)
	if err != nil {
		return err
	}
	if account.Name == chart.CurrentYearEarnings {
		return nil
	}
	return w.AddToBalance(ctx, accountID, delta)
}

// Reverse subtracts delta from the target account's stored balance, leaving
// the account exactly as if the transaction never existed.
func Reverse(ctx context.Context, w BalanceWriter, accountID int64, delta decimal.Decimal) error {
	return Apply(ctx, w, accountID, delta.Neg())
}

// Reassign moves a transaction's effect from one (account, delta) pair to
// another as reverse-then-apply. Callers run it inside their transaction
// boundary so a crash between the halves is never observable.
func Reassign(ctx context.Context, w BalanceWriter, oldAccountID int64, oldDelta decimal.Decimal, newAccountID int64, newDelta decimal.Decimal) error {
	if oldAccountID == newAccountID && oldDelta.Equal(newDelta) {
		return nil
	}
	if err := Reverse(ctx, w, oldAccountID, oldDelta); err != nil {
		return err
	}
	return Apply(ctx, w, newAccountID, newDelta)
}

// Totals aggregates a transaction set into debit, credit and net amounts.
type Totals struct {
	Debits  decimal.Decimal
	Credits decimal.Decimal
	Net     decimal.Decimal
}

// SumTotals splits deltas into debit and credit sums with their net change.
func SumTotals(transactions []Transaction) Totals {
	totals := Totals{Debits: decimal.Zero, Credits: decimal.Zero, Net: decimal.Zero}
	for _, t := range transactions {
		if t.Delta.IsNegative() {
			totals.Debits = totals.Debits.Add(t.Delta)
		} else {
			totals.Credits = totals.Credits.Add(t.Delta)
		}
	}
	totals.Net = totals.Credits.Add(totals.Debits)
	return totals
}

// MonthRange returns the first and last day of the month containing date.
func MonthRange(date time.Time) (time.Time, time.Time) {
	first := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return first, last
}
