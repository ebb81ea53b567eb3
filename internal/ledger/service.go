package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coopbooks/coopbooks/internal/chart"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the ledger operations available within a transaction.
type TxRepository interface {
	BalanceWriter
	GetAccount(ctx context.Context, id int64) (chart.Account, error)
	GetTransaction(ctx context.Context, id int64) (Transaction, error)
	UpdateTransaction(ctx context.Context, t Transaction) error
	ListTransactions(ctx context.Context, accountID int64, from, to time.Time) ([]Transaction, error)
	SumDeltas(ctx context.Context, accountID int64) (decimal.Decimal, error)
	SumDeltasAfter(ctx context.Context, accountID int64, date time.Time) (decimal.Decimal, error)
	SumDeltasBetween(ctx context.Context, accountID int64, from, to time.Time) (decimal.Decimal, error)
	SumEarningsThrough(ctx context.Context, date time.Time) (decimal.Decimal, error)
	SumEarningsBetween(ctx context.Context, from, to time.Time) (decimal.Decimal, error)
	SumBalancesByTypes(ctx context.Context, types []chart.AccountType) (decimal.Decimal, error)
}

// Service answers balance queries. All amounts leave the service in value
// convention; storage stays credit/debit throughout.
type Service struct {
	repo  RepositoryPort
	cache *Cache
}

// NewService constructs the balance query service. cache may be nil, in
// which case every lookup computes directly.
func NewService(repo RepositoryPort, cache *Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

// CurrentBalance returns the account's present value balance. The Current
// Year Earnings account is derived from the earnings-type accounts.
func (s *Service) CurrentBalance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	balance := decimal.Zero
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		account, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		stored := account.Balance
		if account.Name == chart.CurrentYearEarnings {
			stored, err = tx.SumBalancesByTypes(ctx, chart.EarningsTypes())
			if err != nil {
				return err
			}
		}
		balance = chart.ValueBalance(account.Type, stored)
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// BalanceAsOf returns the account's value balance at the end of date.
func (s *Service) BalanceAsOf(ctx context.Context, accountID int64, date time.Time) (decimal.Decimal, error) {
	key, err := s.cache.BuildKey(ctx, keyBalanceAsOf(accountID, date)...)
	if err != nil {
		return decimal.Zero, err
	}
	return s.cache.FetchAmount(ctx, key, func(ctx context.Context) (decimal.Decimal, error) {
		balance := decimal.Zero
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			account, err := tx.GetAccount(ctx, accountID)
			if err != nil {
				return err
			}
			stored, err := balanceAsOfCreditDebit(ctx, tx, account, date)
			if err != nil {
				return err
			}
			balance = chart.ValueBalance(account.Type, stored)
			return nil
		})
		return balance, err
	})
}

// ChangeForMonth returns the account's net value-balance change during the
// month containing date.
func (s *Service) ChangeForMonth(ctx context.Context, accountID int64, date time.Time) (decimal.Decimal, error) {
	key, err := s.cache.BuildKey(ctx, keyMonthChange(accountID, date)...)
	if err != nil {
		return decimal.Zero, err
	}
	return s.cache.FetchAmount(ctx, key, func(ctx context.Context) (decimal.Decimal, error) {
		change := decimal.Zero
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			account, err := tx.GetAccount(ctx, accountID)
			if err != nil {
				return err
			}
			first, last := MonthRange(date)
			var net decimal.Decimal
			if account.Name == chart.CurrentYearEarnings {
				net, err = tx.SumEarningsBetween(ctx, first, last)
			} else {
				net, err = tx.SumDeltasBetween(ctx, accountID, first, last)
			}
			if err != nil {
				return err
			}
			change = chart.ValueBalance(account.Type, net)
			return nil
		})
		return change, err
	})
}

// StatementLine pairs a transaction with the account's value balance after
// it was posted.
type StatementLine struct {
	Transaction    Transaction
	RunningBalance decimal.Decimal
}

// Statement lists an account's transactions in a date range with running
// post-transaction value balances.
func (s *Service) Statement(ctx context.Context, accountID int64, from, to time.Time) ([]StatementLine, error) {
	var lines []StatementLine
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		account, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		transactions, err := tx.ListTransactions(ctx, accountID, from, to)
		if err != nil {
			return err
		}
		running, err := balanceAsOfCreditDebit(ctx, tx, account, from.AddDate(0, 0, -1))
		if err != nil {
			return err
		}
		lines = make([]StatementLine, 0, len(transactions))
		for _, t := range transactions {
			running = running.Add(t.Delta)
			lines = append(lines, StatementLine{
				Transaction:    t,
				RunningBalance: chart.ValueBalance(account.Type, running),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lines, nil
}

// TotalsForRange aggregates an account's debits, credits and net change over
// a date range, in credit/debit convention.
func (s *Service) TotalsForRange(ctx context.Context, accountID int64, from, to time.Time) (Totals, error) {
	var totals Totals
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		transactions, err := tx.ListTransactions(ctx, accountID, from, to)
		if err != nil {
			return err
		}
		totals = SumTotals(transactions)
		return nil
	})
	if err != nil {
		return Totals{}, err
	}
	return totals, nil
}

// ClearReconciled unlocks a reconciled transaction so a later edit can move
// or reprice it.
func (s *Service) ClearReconciled(ctx context.Context, transactionID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		transaction, err := tx.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if !transaction.Reconciled {
			return nil
		}
		transaction.Reconciled = false
		return tx.UpdateTransaction(ctx, transaction)
	})
}

// CheckBalanceInvariant reports whether an account's stored balance agrees
// with the sum of its transactions. Advisory, used by tests and tooling.
func (s *Service) CheckBalanceInvariant(ctx context.Context, accountID int64) (bool, decimal.Decimal, decimal.Decimal, error) {
	var stored, summed decimal.Decimal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		account, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		stored = account.Balance
		summed, err = tx.SumDeltas(ctx, accountID)
		return err
	})
	if err != nil {
		return false, decimal.Zero, decimal.Zero, err
	}
	return stored.Equal(summed), stored, summed, nil
}

// InvalidateBalances bumps the cache version after balance mutations commit.
func (s *Service) InvalidateBalances(ctx context.Context) error {
	return s.cache.Bump(ctx)
}

// balanceAsOfCreditDebit computes the stored-convention balance at the end
// of date. The stored balance may include archived history that predates the
// oldest surviving transaction, so it is derived by peeling newer deltas off
// the current balance rather than summing from zero.
func balanceAsOfCreditDebit(ctx context.Context, tx TxRepository, account chart.Account, date time.Time) (decimal.Decimal, error) {
	if account.Name == chart.CurrentYearEarnings {
		return tx.SumEarningsThrough(ctx, date)
	}
	newer, err := tx.SumDeltasAfter(ctx, account.ID, date)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance.Sub(newer), nil
}
