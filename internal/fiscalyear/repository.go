package fiscalyear

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/coopbooks/coopbooks/internal/chart"
	"github.com/coopbooks/coopbooks/internal/ledger"
	"github.com/coopbooks/coopbooks/internal/platform/db"
)

// Repository persists fiscal years and snapshots on top of the shared
// transaction store.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs a Repository using the provided pool.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// WithTx executes fn inside a repeatable-read transaction. A close holds
// this transaction for its full duration.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{TxStore: ledger.NewTxStore(tx)})
	})
}

type txRepository struct {
	*ledger.TxStore
}

// ListAccounts returns every account in the chart.
func (r *txRepository) ListAccounts(ctx context.Context) ([]chart.Account, error) {
	rows, err := r.Tx().Query(ctx,
		`SELECT id, name, type, parent_id, balance, reconciled_balance, last_reconciled, bank, full_number
		 FROM accounts ORDER BY full_number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []chart.Account
	for rows.Next() {
		var a chart.Account
		if err := rows.Scan(&a.ID, &a.Name, &a.Type, &a.ParentID, &a.Balance, &a.ReconciledBalance, &a.LastReconciled, &a.Bank, &a.FullNumber); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// SetBalance overwrites an account's stored balance during the rebuild.
func (r *txRepository) SetBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error {
	_, err := r.Tx().Exec(ctx, `UPDATE accounts SET balance = $2, updated_at = now() WHERE id = $1`, accountID, balance)
	return err
}

// ListFiscalYears returns recorded fiscal years, newest first.
func (r *txRepository) ListFiscalYears(ctx context.Context) ([]FiscalYear, error) {
	rows, err := r.Tx().Query(ctx,
		`SELECT id, year, end_month, period, created_at FROM fiscal_years ORDER BY year DESC, end_month DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var years []FiscalYear
	for rows.Next() {
		var fy FiscalYear
		if err := rows.Scan(&fy.ID, &fy.Year, &fy.EndMonth, &fy.Period, &fy.CreatedAt); err != nil {
			return nil, err
		}
		years = append(years, fy)
	}
	return years, rows.Err()
}

// InsertFiscalYear records a fiscal year boundary.
func (r *txRepository) InsertFiscalYear(ctx context.Context, fy FiscalYear) (int64, error) {
	var id int64
	err := r.Tx().QueryRow(ctx,
		`INSERT INTO fiscal_years (year, end_month, period, created_at) VALUES ($1, $2, $3, now()) RETURNING id`,
		fy.Year, fy.EndMonth, fy.Period).Scan(&id)
	return id, err
}

// InsertSnapshot stores an immutable monthly snapshot.
func (r *txRepository) InsertSnapshot(ctx context.Context, h HistoricalAccount) (int64, error) {
	var id int64
	err := r.Tx().QueryRow(ctx,
		`INSERT INTO historical_accounts (name, number, type, amount, month, run_token, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now()) RETURNING id`,
		h.Name, h.Number, h.Type, h.Amount, h.Month, h.RunToken).Scan(&id)
	return id, err
}

// CountSnapshots reports how many snapshots exist for a month.
func (r *txRepository) CountSnapshots(ctx context.Context, month time.Time) (int64, error) {
	var n int64
	err := r.Tx().QueryRow(ctx, `SELECT COUNT(*) FROM historical_accounts WHERE month = $1`, month).Scan(&n)
	return n, err
}

// SnapshotAmount looks up an account's snapshot for a month by name.
func (r *txRepository) SnapshotAmount(ctx context.Context, name string, month time.Time) (decimal.Decimal, bool, error) {
	var amount decimal.Decimal
	err := r.Tx().QueryRow(ctx,
		`SELECT amount FROM historical_accounts WHERE name = $1 AND month = $2`, name, month).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return amount, true, nil
}

// CountTransactionsBetween counts transactions of any account within
// [from, to].
func (r *txRepository) CountTransactionsBetween(ctx context.Context, from, to time.Time) (int64, error) {
	var n int64
	err := r.Tx().QueryRow(ctx,
		`SELECT COUNT(*) FROM transactions WHERE date >= $1 AND date <= $2`, from, to).Scan(&n)
	return n, err
}

// ListEntriesThrough returns references to every entry dated on or before
// date.
func (r *txRepository) ListEntriesThrough(ctx context.Context, date time.Time) ([]ledger.EntryRef, error) {
	rows, err := r.Tx().Query(ctx, `SELECT kind, id FROM entries WHERE date <= $1 ORDER BY id`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var refs []ledger.EntryRef
	for rows.Next() {
		var ref ledger.EntryRef
		if err := rows.Scan(&ref.Kind, &ref.ID); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// InsertJournalEntry stores the retained-earnings transfer entry.
func (r *txRepository) InsertJournalEntry(ctx context.Context, date time.Time, memo string) (int64, error) {
	var id int64
	err := r.Tx().QueryRow(ctx,
		`INSERT INTO entries (kind, date, memo, comments, created_at, updated_at) VALUES ($1, $2, $3, '', now(), now()) RETURNING id`,
		ledger.EntryJournal, date, memo).Scan(&id)
	return id, err
}

// DeleteEntry removes an entry row during the purge.
func (r *txRepository) DeleteEntry(ctx context.Context, kind ledger.EntryKind, id int64) error {
	_, err := r.Tx().Exec(ctx, `DELETE FROM entries WHERE kind = $1 AND id = $2`, kind, id)
	return err
}
