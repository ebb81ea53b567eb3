package reconcile

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/coopbooks/coopbooks/internal/ledger"
	"github.com/coopbooks/coopbooks/internal/platform/db"
)

// Repository persists reconciliation state on top of the shared transaction
// store.
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
		return fn(ctx, &txRepository{TxStore: ledger.NewTxStore(tx)})
	})
}

type txRepository struct {
	*ledger.TxStore
}

// ListUnreconciled returns the account's unreconciled transactions within
// the reconciliation window (after, through].
func (r *txRepository) ListUnreconciled(ctx context.Context, accountID int64, after *time.Time, through time.Time) ([]ledger.Transaction, error) {
	var lower time.Time
	if after != nil {
		lower = *after
	}
	rows, err := r.Tx().Query(ctx,
		`SELECT id, account_id, entry_kind, entry_id, main, detail, delta, date, reconciled
		 FROM transactions
		 WHERE account_id = $1 AND NOT reconciled AND date > $2 AND date <= $3
		 ORDER BY date, id`,
		accountID, lower, through)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var transactions []ledger.Transaction
	for rows.Next() {
		var t ledger.Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Entry.Kind, &t.Entry.ID, &t.Main, &t.Detail, &t.Delta, &t.Date, &t.Reconciled); err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

// UpdateAccountReconciliation advances the account's reconciliation
// watermark and stored reconciled balance.
func (r *txRepository) UpdateAccountReconciliation(ctx context.Context, accountID int64, balance decimal.Decimal, asOf time.Time) error {
	tag, err := r.Tx().Exec(ctx,
		`UPDATE accounts SET reconciled_balance = $2, last_reconciled = $3, updated_at = now() WHERE id = $1`,
		accountID, balance, asOf)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
