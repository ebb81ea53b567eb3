package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/coopbooks/coopbooks/internal/chart"
	"github.com/coopbooks/coopbooks/internal/platform/db"
)

// Repository persists transactions and account balances.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs a Repository using the provided pool.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// WithTx executes fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(ctx, NewTxStore(tx))
	})
}

// TxStore implements the transactional store primitives over pgx. It is
// exported so the entry, reconciliation and fiscal-year repositories can
// embed it instead of repeating the transaction SQL.
type TxStore struct {
	tx pgx.Tx
}

// NewTxStore wraps an open pgx transaction.
func NewTxStore(tx pgx.Tx) *TxStore {
	return &TxStore{tx: tx}
}

// Tx exposes the underlying pgx transaction for embedding repositories.
func (s *TxStore) Tx() pgx.Tx {
	return s.tx
}

const transactionColumns = `id, account_id, entry_kind, entry_id, main, detail, delta, date, reconciled`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.AccountID, &t.Entry.Kind, &t.Entry.ID, &t.Main, &t.Detail, &t.Delta, &t.Date, &t.Reconciled)
	return t, err
}

// GetAccountForUpdate locks the account row for a balance mutation.
func (s *TxStore) GetAccountForUpdate(ctx context.Context, id int64) (chart.Account, error) {
	var a chart.Account
	err := s.tx.QueryRow(ctx,
		`SELECT id, name, type, parent_id, balance, reconciled_balance, last_reconciled, bank
		 FROM accounts WHERE id = $1 FOR UPDATE`, id).
		Scan(&a.ID, &a.Name, &a.Type, &a.ParentID, &a.Balance, &a.ReconciledBalance, &a.LastReconciled, &a.Bank)
	if errors.Is(err, pgx.ErrNoRows) {
		return chart.Account{}, chart.ErrAccountNotFound
	}
	return a, err
}

// AddToBalance adjusts the stored balance in place.
func (s *TxStore) AddToBalance(ctx context.Context, accountID int64, delta decimal.Decimal) error {
	_, err := s.tx.Exec(ctx, `UPDATE accounts SET balance = balance + $2, updated_at = now() WHERE id = $1`, accountID, delta)
	return err
}

// GetAccount fetches an account without locking.
func (s *TxStore) GetAccount(ctx context.Context, id int64) (chart.Account, error) {
	var a chart.Account
	err := s.tx.QueryRow(ctx,
		`SELECT id, name, type, parent_id, balance, reconciled_balance, last_reconciled, bank, full_number
		 FROM accounts WHERE id = $1`, id).
		Scan(&a.ID, &a.Name, &a.Type, &a.ParentID, &a.Balance, &a.ReconciledBalance, &a.LastReconciled, &a.Bank, &a.FullNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return chart.Account{}, chart.ErrAccountNotFound
	}
	return a, err
}

// GetAccountByName fetches an account by its unique name.
func (s *TxStore) GetAccountByName(ctx context.Context, name string) (chart.Account, error) {
	var a chart.Account
	err := s.tx.QueryRow(ctx,
		`SELECT id, name, type, parent_id, balance, reconciled_balance, last_reconciled, bank, full_number
		 FROM accounts WHERE name = $1`, name).
		Scan(&a.ID, &a.Name, &a.Type, &a.ParentID, &a.Balance, &a.ReconciledBalance, &a.LastReconciled, &a.Bank, &a.FullNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return chart.Account{}, chart.ErrAccountNotFound
	}
	return a, err
}

// GetTransaction fetches a transaction by id.
func (s *TxStore) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	t, err := scanTransaction(s.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrTransactionNotFound
	}
	return t, err
}

// InsertTransaction stores a new transaction row.
func (s *TxStore) InsertTransaction(ctx context.Context, t Transaction) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx,
		`INSERT INTO transactions (account_id, entry_kind, entry_id, main, detail, delta, date, reconciled)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		t.AccountID, t.Entry.Kind, t.Entry.ID, t.Main, t.Detail, t.Delta, t.Date, t.Reconciled).Scan(&id)
	return id, err
}

// UpdateTransaction rewrites a transaction row.
func (s *TxStore) UpdateTransaction(ctx context.Context, t Transaction) error {
	_, err := s.tx.Exec(ctx,
		`UPDATE transactions SET account_id = $2, entry_kind = $3, entry_id = $4, main = $5, detail = $6, delta = $7, date = $8, reconciled = $9
		 WHERE id = $1`,
		t.ID, t.AccountID, t.Entry.Kind, t.Entry.ID, t.Main, t.Detail, t.Delta, t.Date, t.Reconciled)
	return err
}

// DeleteTransaction removes a transaction row.
func (s *TxStore) DeleteTransaction(ctx context.Context, id int64) error {
	_, err := s.tx.Exec(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	return err
}

// ListTransactions returns an account's transactions in a date range in
// posting order.
func (s *TxStore) ListTransactions(ctx context.Context, accountID int64, from, to time.Time) ([]Transaction, error) {
	rows, err := s.tx.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE account_id = $1 AND date >= $2 AND date <= $3 ORDER BY date, id`,
		accountID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// ListEntryTransactions returns every transaction owned by an entry, the
// main transaction first.
func (s *TxStore) ListEntryTransactions(ctx context.Context, kind EntryKind, entryID int64) ([]Transaction, error) {
	rows, err := s.tx.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE entry_kind = $1 AND entry_id = $2 ORDER BY main DESC, id`,
		kind, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func collectTransactions(rows pgx.Rows) ([]Transaction, error) {
	var transactions []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

func (s *TxStore) sumRow(ctx context.Context, query string, args ...any) (decimal.Decimal, error) {
	var sum decimal.Decimal
	if err := s.tx.QueryRow(ctx, query, args...).Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	return sum, nil
}

// SumDeltas totals every transaction currently pointing at the account.
func (s *TxStore) SumDeltas(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	return s.sumRow(ctx, `SELECT COALESCE(SUM(delta), 0) FROM transactions WHERE account_id = $1`, accountID)
}

// SumDeltasAfter totals the account's transactions dated strictly after date.
func (s *TxStore) SumDeltasAfter(ctx context.Context, accountID int64, date time.Time) (decimal.Decimal, error) {
	return s.sumRow(ctx, `SELECT COALESCE(SUM(delta), 0) FROM transactions WHERE account_id = $1 AND date > $2`, accountID, date)
}

// SumDeltasBetween totals the account's transactions within [from, to].
func (s *TxStore) SumDeltasBetween(ctx context.Context, accountID int64, from, to time.Time) (decimal.Decimal, error) {
	return s.sumRow(ctx, `SELECT COALESCE(SUM(delta), 0) FROM transactions WHERE account_id = $1 AND date >= $2 AND date <= $3`, accountID, from, to)
}

// SumEarningsThrough totals transactions across all earnings-type accounts
// dated on or before date.
func (s *TxStore) SumEarningsThrough(ctx context.Context, date time.Time) (decimal.Decimal, error) {
	return s.sumRow(ctx,
		`SELECT COALESCE(SUM(t.delta), 0) FROM transactions t
		 JOIN accounts a ON a.id = t.account_id
		 WHERE a.type BETWEEN 4 AND 8 AND t.date <= $1`, date)
}

// SumEarningsBetween totals earnings-type transactions within [from, to].
func (s *TxStore) SumEarningsBetween(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	return s.sumRow(ctx,
		`SELECT COALESCE(SUM(t.delta), 0) FROM transactions t
		 JOIN accounts a ON a.id = t.account_id
		 WHERE a.type BETWEEN 4 AND 8 AND t.date >= $1 AND t.date <= $2`, from, to)
}

// SumBalancesByTypes totals the stored balances of accounts of the given
// types.
func (s *TxStore) SumBalancesByTypes(ctx context.Context, types []chart.AccountType) (decimal.Decimal, error) {
	codes := make([]int16, 0, len(types))
	for _, t := range types {
		codes = append(codes, int16(t))
	}
	return s.sumRow(ctx, `SELECT COALESCE(SUM(balance), 0) FROM accounts WHERE type = ANY($1)`, codes)
}
