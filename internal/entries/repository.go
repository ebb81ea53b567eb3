package entries

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/coopbooks/coopbooks/internal/ledger"
	"github.com/coopbooks/coopbooks/internal/platform/db"
)

// Repository persists entries on top of the shared transaction store.
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

const entryColumns = `id, kind, date, memo, comments, bank_account_id, amount, check_number, ach_payment, payee, payor, void, main_transaction_id, created_at, updated_at`

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e             Entry
		bankAccountID *int64
		amount        *decimal.Decimal
		checkNumber   *string
		achPayment    *bool
		payee         *string
		payor         *string
		void          *bool
		mainID        *int64
	)
	err := row.Scan(&e.ID, &e.Kind, &e.Date, &e.Memo, &e.Comments,
		&bankAccountID, &amount, &checkNumber, &achPayment, &payee, &payor, &void, &mainID,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return Entry{}, err
	}
	if bankAccountID != nil {
		e.Bank = &BankDetails{
			AccountID:   *bankAccountID,
			CheckNumber: deref(checkNumber),
			Payee:       deref(payee),
			Payor:       deref(payor),
		}
		if amount != nil {
			e.Bank.Amount = *amount
		}
		if achPayment != nil {
			e.Bank.ACHPayment = *achPayment
		}
		if void != nil {
			e.Bank.Void = *void
		}
		if mainID != nil {
			e.Bank.MainTransactionID = *mainID
		}
	}
	return e, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// GetEntry fetches an entry by kind and id.
func (r *txRepository) GetEntry(ctx context.Context, kind ledger.EntryKind, id int64) (Entry, error) {
	e, err := scanEntry(r.Tx().QueryRow(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE kind = $1 AND id = $2`, kind, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrEntryNotFound
	}
	return e, err
}

// InsertEntry stores a new entry row.
func (r *txRepository) InsertEntry(ctx context.Context, e Entry) (int64, error) {
	now := time.Now().UTC()
	var id int64
	err := r.Tx().QueryRow(ctx,
		`INSERT INTO entries (kind, date, memo, comments, bank_account_id, amount, check_number, ach_payment, payee, payor, void, main_transaction_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13) RETURNING id`,
		e.Kind, e.Date, e.Memo, e.Comments,
		bankArg(e, func(b *BankDetails) any { return b.AccountID }),
		bankArg(e, func(b *BankDetails) any { return b.Amount }),
		bankArg(e, func(b *BankDetails) any { return b.CheckNumber }),
		bankArg(e, func(b *BankDetails) any { return b.ACHPayment }),
		bankArg(e, func(b *BankDetails) any { return b.Payee }),
		bankArg(e, func(b *BankDetails) any { return b.Payor }),
		bankArg(e, func(b *BankDetails) any { return b.Void }),
		bankMainArg(e),
		now).Scan(&id)
	return id, err
}

// UpdateEntry rewrites an entry row.
func (r *txRepository) UpdateEntry(ctx context.Context, e Entry) error {
	_, err := r.Tx().Exec(ctx,
		`UPDATE entries SET date = $3, memo = $4, comments = $5, bank_account_id = $6, amount = $7, check_number = $8, ach_payment = $9, payee = $10, payor = $11, void = $12, main_transaction_id = $13, updated_at = now()
		 WHERE kind = $1 AND id = $2`,
		e.Kind, e.ID, e.Date, e.Memo, e.Comments,
		bankArg(e, func(b *BankDetails) any { return b.AccountID }),
		bankArg(e, func(b *BankDetails) any { return b.Amount }),
		bankArg(e, func(b *BankDetails) any { return b.CheckNumber }),
		bankArg(e, func(b *BankDetails) any { return b.ACHPayment }),
		bankArg(e, func(b *BankDetails) any { return b.Payee }),
		bankArg(e, func(b *BankDetails) any { return b.Payor }),
		bankArg(e, func(b *BankDetails) any { return b.Void }),
		bankMainArg(e))
	return err
}

// DeleteEntry removes an entry row.
func (r *txRepository) DeleteEntry(ctx context.Context, kind ledger.EntryKind, id int64) error {
	_, err := r.Tx().Exec(ctx, `DELETE FROM entries WHERE kind = $1 AND id = $2`, kind, id)
	return err
}

func bankArg(e Entry, pick func(*BankDetails) any) any {
	if e.Bank == nil {
		return nil
	}
	return pick(e.Bank)
}

// bankMainArg keeps the main transaction reference null until the row exists.
func bankMainArg(e Entry) any {
	if e.Bank == nil || e.Bank.MainTransactionID == 0 {
		return nil
	}
	return e.Bank.MainTransactionID
}
