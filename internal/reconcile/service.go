package reconcile

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coopbooks/coopbooks/internal/chart"
	"github.com/coopbooks/coopbooks/internal/ledger"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the reconciliation operations available within a
// transaction.
type TxRepository interface {
	GetAccount(ctx context.Context, id int64) (chart.Account, error)
	GetTransaction(ctx context.Context, id int64) (ledger.Transaction, error)
	UpdateTransaction(ctx context.Context, t ledger.Transaction) error
	ListUnreconciled(ctx context.Context, accountID int64, after *time.Time, through time.Time) ([]ledger.Transaction, error)
	UpdateAccountReconciliation(ctx context.Context, accountID int64, balance decimal.Decimal, asOf time.Time) error
}

// Service matches bank statements against unreconciled transactions.
// Reconciliation never changes balances; it only marks transactions and
// advances the account's reconciliation watermark.
type Service struct {
	repo RepositoryPort
}

// NewService constructs the reconciliation service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Propose returns the candidate transactions for a statement: the account's
// unreconciled transactions dated after the last reconciliation and no
// later than the statement date.
func (s *Service) Propose(ctx context.Context, stmt Statement) (Proposal, error) {
	if err := stmt.Validate(); err != nil {
		return Proposal{}, err
	}
	var proposal Proposal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		account, target, err := statementTarget(ctx, tx, stmt)
		if err != nil {
			return err
		}
		candidates, err := tx.ListUnreconciled(ctx, account.ID, account.LastReconciled, stmt.Date)
		if err != nil {
			return err
		}
		proposal = Proposal{
			Account:           account,
			ReconciledBalance: account.ReconciledBalance,
			Target:            target,
			Candidates:        candidates,
		}
		return nil
	})
	if err != nil {
		return Proposal{}, err
	}
	return proposal, nil
}

// Commit marks the selected transactions reconciled once their sum reaches
// the statement balance, then advances the account's reconciliation
// watermark. An empty selection is legal when the statement balance already
// equals the reconciled balance, which makes re-committing a statement a
// no-op.
func (s *Service) Commit(ctx context.Context, stmt Statement, transactionIDs []int64) error {
	if err := stmt.Validate(); err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		account, target, err := statementTarget(ctx, tx, stmt)
		if err != nil {
			return err
		}
		selected := decimal.Zero
		transactions := make([]ledger.Transaction, 0, len(transactionIDs))
		for _, id := range transactionIDs {
			t, err := tx.GetTransaction(ctx, id)
			if err != nil {
				return err
			}
			if err := checkCandidate(account, stmt, t); err != nil {
				return err
			}
			selected = selected.Add(t.Delta)
			transactions = append(transactions, t)
		}
		if !selected.Equal(target) {
			candidates, listErr := tx.ListUnreconciled(ctx, account.ID, account.LastReconciled, stmt.Date)
			if listErr != nil {
				return listErr
			}
			return &OutOfBalanceError{Selected: selected, Target: target, Candidates: candidates}
		}
		for _, t := range transactions {
			t.Reconciled = true
			if err := tx.UpdateTransaction(ctx, t); err != nil {
				return err
			}
		}
		balance := chart.ValueBalance(account.Type, stmt.Balance)
		return tx.UpdateAccountReconciliation(ctx, account.ID, balance, stmt.Date)
	})
}

// statementTarget loads the account, rejects stale statements and computes
// the credit/debit sum the selection must reach. The statement balance is
// flipped from value convention into the stored convention first.
func statementTarget(ctx context.Context, tx TxRepository, stmt Statement) (chart.Account, decimal.Decimal, error) {
	account, err := tx.GetAccount(ctx, stmt.AccountID)
	if err != nil {
		return chart.Account{}, decimal.Zero, err
	}
	if !account.Bank {
		return chart.Account{}, decimal.Zero, ErrNotBankAccount
	}
	if account.LastReconciled != nil && stmt.Date.Before(*account.LastReconciled) {
		return chart.Account{}, decimal.Zero, ErrStaleStatementDate
	}
	target := chart.ValueBalance(account.Type, stmt.Balance).Sub(account.ReconciledBalance)
	return account, target, nil
}

func checkCandidate(account chart.Account, stmt Statement, t ledger.Transaction) error {
	if t.AccountID != account.ID || t.Reconciled || t.Date.After(stmt.Date) {
		return ErrNotCandidate
	}
	if account.LastReconciled != nil && !t.Date.After(*account.LastReconciled) {
		return ErrNotCandidate
	}
	return nil
}
